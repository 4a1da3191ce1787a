package ingest

import (
	"bufio"
	"context"
	"io"
	"os"
	"time"
)

// StartFileTail follows each configured file like tail -F. Truncation
// reopens the file from the start.
func StartFileTail(ctx context.Context, p *Pipeline) {
	current := p.cfg.Get().Ingest.FileTail
	if !current.Enabled {
		p.logger.Info("file tail ingest disabled")
		return
	}
	for _, path := range current.Files {
		p.logger.Info("file tail ingest enabled", "path", path, "start_at_end", current.StartAtEnd)
		go tailFile(ctx, path, current.StartAtEnd, p)
	}
}

func tailFile(ctx context.Context, path string, startAtEnd bool, p *Pipeline) {
	parser := NewParser()
	var file *os.File
	var offset int64
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if file == nil {
			f, err := os.Open(path)
			if err != nil {
				p.logger.Warn("tail open failed", "path", path, "err", err)
				if !BackoffSleep(ctx, 500*time.Millisecond) {
					return
				}
				continue
			}
			file = f
			offset = 0
			if startAtEnd {
				if pos, err := file.Seek(0, io.SeekEnd); err == nil {
					offset = pos
				}
				// only the first open skips history; a truncated file is read whole
				startAtEnd = false
			}
		}

		reader := bufio.NewReader(file)
		var partial string
		for {
			chunk, err := reader.ReadString('\n')
			partial += chunk
			if err != nil {
				if err == io.EOF {
					if !BackoffSleep(ctx, 200*time.Millisecond) {
						_ = file.Close()
						return
					}
					info, statErr := os.Stat(path)
					if statErr == nil && info.Size() < offset {
						p.logger.Info("tail file truncated, reopening", "path", path)
						_ = file.Close()
						file = nil
						break
					}
					continue
				}
				p.logger.Warn("tail read error", "path", path, "err", err)
				_ = file.Close()
				file = nil
				break
			}
			offset += int64(len(partial))
			line := partial
			partial = ""
			p.Line(ctx, parser, line, "file_tail")
		}
	}
}
