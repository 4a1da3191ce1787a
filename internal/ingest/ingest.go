package ingest

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"time"

	"facesignal/internal/config"
	"facesignal/internal/logging"
	"facesignal/internal/model"
	"facesignal/internal/normalize"
)

// Pipeline carries decoded frames from every transport into the engine
// queue. Sends never block; a full queue drops the frame.
type Pipeline struct {
	cfg    *config.Manager
	out    chan<- model.FrameEvent
	logger *slog.Logger
	onDrop func()
}

func NewPipeline(cfg *config.Manager, out chan<- model.FrameEvent, logger *slog.Logger, onDrop func()) *Pipeline {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Pipeline{cfg: cfg, out: out, logger: logger, onDrop: onDrop}
}

// StartAll launches every enabled transport.
func StartAll(ctx context.Context, p *Pipeline) {
	StartREST(ctx, p)
	StartTCPStream(ctx, p)
	StartUDP(ctx, p)
	StartFileTail(ctx, p)
	StartKafka(ctx, p)
}

// Line parses, normalizes and forwards one line. It reports whether a frame
// was queued.
func (p *Pipeline) Line(ctx context.Context, parser *Parser, line, source string) bool {
	fields, err := parser.ParseLine(line)
	if err != nil {
		p.logger.Debug("unparseable frame", "source", source, "err", err)
		return false
	}
	if fields == nil {
		return false
	}
	return p.Fields(ctx, fields, source) == nil
}

func (p *Pipeline) Fields(ctx context.Context, fields *normalize.FrameFields, source string) error {
	ev, err := normalize.Normalize(*fields, p.cfg.Get())
	if err != nil {
		p.logger.Warn("normalize error", "source", source, "err", err)
		return err
	}
	ev.Source = source
	if !SendNonBlocking(ctx, p.out, ev, p.logger) && ctx.Err() == nil && p.onDrop != nil {
		p.onDrop()
	}
	return nil
}

// consume reads newline-delimited frames until EOF or cancellation.
func (p *Pipeline) consume(ctx context.Context, r io.Reader, source string) {
	parser := NewParser()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 8192), 1024*1024)
	for scanner.Scan() {
		p.Line(ctx, parser, scanner.Text(), source)
		select {
		case <-ctx.Done():
			return
		default:
		}
	}
	if err := scanner.Err(); err != nil {
		p.logger.Warn("stream scanner error", "source", source, "err", err)
	}
}

func SendNonBlocking(ctx context.Context, out chan<- model.FrameEvent, ev model.FrameEvent, logger *slog.Logger) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	default:
		if logger != nil {
			logger.Warn("frame channel full, dropping frame", "session_id", ev.SessionID, "timestamp", ev.Timestamp)
		}
		return false
	}
}

func BackoffSleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = 200 * time.Millisecond
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
