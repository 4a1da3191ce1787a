package ingest

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"
)

// StartUDP listens for frame datagrams. A datagram may hold several
// newline-separated frames.
func StartUDP(ctx context.Context, p *Pipeline) {
	current := p.cfg.Get().Ingest.UDP
	if !current.Enabled {
		p.logger.Info("udp ingest disabled")
		return
	}
	p.logger.Info("udp ingest enabled", "addr", current.Addr)
	go listenUDP(ctx, current.Addr, p)
}

func listenUDP(ctx context.Context, addr string, p *Pipeline) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		p.logger.Error("udp resolve error", "err", err)
		return
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		p.logger.Error("udp listen error", "err", err)
		return
	}
	defer conn.Close()
	parsers := newPeerParsers(maxUDPPeers)
	buf := make([]byte, 65535)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		_ = conn.SetReadDeadline(time.Now().Add(1 * time.Second))
		n, peer, err := conn.ReadFromUDP(buf)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			p.logger.Warn("udp read error", "err", err)
			continue
		}
		p.datagram(ctx, parsers.get(peer.String()), buf[:n])
	}
}

func (p *Pipeline) datagram(ctx context.Context, parser *Parser, data []byte) int {
	queued := 0
	for _, line := range strings.Split(string(data), "\n") {
		if p.Line(ctx, parser, line, "udp") {
			queued++
		}
	}
	return queued
}

const maxUDPPeers = 1024

// peerParsers keeps one parser per sender so a CSV header from one peer
// never applies to another. When the table is full it starts over.
type peerParsers struct {
	limit int
	m     map[string]*Parser
}

func newPeerParsers(limit int) *peerParsers {
	return &peerParsers{limit: limit, m: make(map[string]*Parser)}
}

func (pp *peerParsers) get(addr string) *Parser {
	if parser, ok := pp.m[addr]; ok {
		return parser
	}
	if len(pp.m) >= pp.limit {
		pp.m = make(map[string]*Parser)
	}
	parser := NewParser()
	pp.m[addr] = parser
	return parser
}
