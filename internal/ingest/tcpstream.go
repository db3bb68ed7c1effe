package ingest

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"

	"edgesentry/internal/config"
	"edgesentry/internal/model"
)

// StartTCPStream accepts long-lived connections carrying a stream of JSON
// event payloads. Newline-delimited and concatenated objects both work, and
// a payload may be an array of events.
func StartTCPStream(ctx context.Context, cfg *config.Manager, out chan<- model.PerceptionEvent, logger *slog.Logger) {
	current := cfg.Get().Ingest.TCPStream
	if !current.Enabled {
		if logger != nil {
			logger.Info("tcp stream ingest disabled")
		}
		return
	}
	if logger != nil {
		logger.Info("tcp stream ingest enabled", "addr", current.Addr)
	}
	ln, err := net.Listen("tcp", current.Addr)
	if err != nil {
		if logger != nil {
			logger.Error("tcp stream listen error", "err", err)
		}
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
				if logger != nil {
					logger.Warn("tcp stream accept error", "err", err)
				}
				continue
			}
			go handleTCPStreamConn(ctx, conn, cfg, out, logger)
		}
	}()
}

func handleTCPStreamConn(ctx context.Context, conn net.Conn, cfg *config.Manager, out chan<- model.PerceptionEvent, logger *slog.Logger) {
	defer conn.Close()
	dec := json.NewDecoder(bufio.NewReaderSize(conn, 8192))
	for {
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			if err != io.EOF && ctx.Err() == nil && logger != nil {
				logger.Warn("tcp stream decode error", "remote", conn.RemoteAddr().String(), "err", err)
			}
			return
		}
		events, failed, err := DecodeEvents(raw, cfg.Get(), "tcp_stream")
		if err != nil {
			if logger != nil {
				logger.Warn("tcp stream payload rejected", "err", err)
			}
			continue
		}
		if failed > 0 && logger != nil {
			logger.Warn("tcp stream events failed normalization", "failed", failed)
		}
		for _, ev := range events {
			SendNonBlocking(ctx, out, ev, logger)
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}
