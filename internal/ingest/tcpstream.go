package ingest

import (
	"context"
	"errors"
	"net"
)

// StartTCPStream accepts JSON-lines (or CSV / key=value) frame streams, one
// parser per connection.
func StartTCPStream(ctx context.Context, p *Pipeline) {
	current := p.cfg.Get().Ingest.TCPStream
	if !current.Enabled {
		p.logger.Info("tcp stream ingest disabled")
		return
	}
	p.logger.Info("tcp stream ingest enabled", "addr", current.Addr)
	ln, err := net.Listen("tcp", current.Addr)
	if err != nil {
		p.logger.Error("tcp stream listen error", "err", err)
		return
	}
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				if errors.Is(err, net.ErrClosed) {
					return
				}
				p.logger.Warn("tcp stream accept error", "err", err)
				continue
			}
			go func() {
				defer conn.Close()
				p.consume(ctx, conn, "tcp_stream")
			}()
		}
	}()
}
