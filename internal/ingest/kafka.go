package ingest

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
)

// StartKafka consumes frames from a topic. The message key names the session
// when the payload does not.
func StartKafka(ctx context.Context, p *Pipeline) {
	current := p.cfg.Get().Ingest.Kafka
	if !current.Enabled {
		p.logger.Info("kafka ingest disabled")
		return
	}
	p.logger.Info("kafka ingest enabled", "brokers", current.Brokers, "topic", current.Topic, "group_id", current.GroupID)
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  current.Brokers,
		Topic:    current.Topic,
		GroupID:  current.GroupID,
		MinBytes: 1e3,
		MaxBytes: 10e6,
	})
	go func() {
		defer reader.Close()
		parser := NewParser()
		for {
			m, err := reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				p.logger.Warn("kafka read error", "err", err)
				if !BackoffSleep(ctx, 500*time.Millisecond) {
					return
				}
				continue
			}
			p.message(ctx, parser, m)
		}
	}()
}

func (p *Pipeline) message(ctx context.Context, parser *Parser, m kafka.Message) bool {
	fields, err := parser.ParseLine(string(m.Value))
	if err != nil || fields == nil {
		p.logger.Debug("kafka message skipped", "partition", m.Partition, "offset", m.Offset, "err", err)
		return false
	}
	if fields.SessionID == "" && len(m.Key) > 0 {
		fields.SessionID = string(m.Key)
	}
	return p.Fields(ctx, fields, "kafka") == nil
}
