package ingest

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"net"
	"strings"
	"time"

	"edgesentry/internal/config"
	"edgesentry/internal/model"
)

func StartSyslog(ctx context.Context, cfg *config.Manager, parser *Parser, out chan<- model.PerceptionEvent, logger *slog.Logger) {
	current := cfg.Get().Ingest.Syslog
	if !current.Enabled {
		if logger != nil {
			logger.Info("syslog ingest disabled")
		}
		return
	}
	if logger != nil {
		logger.Info("syslog ingest enabled", "udp_addr", current.UDPAddr, "tcp_addr", current.TCPAddr)
	}
	if current.UDPAddr != "" {
		go listenUDP(ctx, current.UDPAddr, cfg, parser, out, logger)
	}
	if current.TCPAddr != "" {
		go listenTCP(ctx, current.TCPAddr, cfg, parser, out, logger)
	}
}

func listenUDP(ctx context.Context, addr string, cfg *config.Manager, parser *Parser, out chan<- model.PerceptionEvent, logger *slog.Logger) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		if logger != nil {
			logger.Error("syslog udp resolve error", "err", err)
		}
		return
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		if logger != nil {
			logger.Error("syslog udp listen error", "err", err)
		}
		return
	}
	defer conn.Close()
	buf := make([]byte, 8192)
	for {
		select {
		case <-ctx.Done():
			return
		default:
			conn.SetReadDeadline(time.Now().Add(1 * time.Second))
			n, _, err := conn.ReadFromUDP(buf)
			if err != nil {
				if ne, ok := err.(net.Error); ok && ne.Timeout() {
					continue
				}
				if logger != nil {
					logger.Warn("syslog udp read error", "err", err)
				}
				continue
			}
			for _, line := range strings.Split(string(buf[:n]), "\n") {
				processLine(ctx, cfg, parser, out, logger, line)
			}
		}
	}
}

func listenTCP(ctx context.Context, addr string, cfg *config.Manager, parser *Parser, out chan<- model.PerceptionEvent, logger *slog.Logger) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		if logger != nil {
			logger.Error("syslog tcp listen error", "err", err)
		}
		return
	}
	defer ln.Close()
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			if logger != nil {
				logger.Warn("syslog tcp accept error", "err", err)
			}
			continue
		}
		go handleTCPConn(ctx, conn, cfg, parser, out, logger)
	}
}

func handleTCPConn(ctx context.Context, conn net.Conn, cfg *config.Manager, parser *Parser, out chan<- model.PerceptionEvent, logger *slog.Logger) {
	defer conn.Close()
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 8192), 1024*1024)
	for scanner.Scan() {
		processLine(ctx, cfg, parser, out, logger, scanner.Text())
		select {
		case <-ctx.Done():
			return
		default:
		}
	}
	if err := scanner.Err(); err != nil && logger != nil {
		logger.Warn("syslog tcp scanner error", "err", err)
	}
}

func processLine(ctx context.Context, cfg *config.Manager, parser *Parser, out chan<- model.PerceptionEvent, logger *slog.Logger, line string) {
	emitLine(ctx, cfg, parser, out, logger, stripSyslogFrame(line), "syslog")
}

// stripSyslogFrame drops the <PRI> prefix and, when a JSON payload is
// embedded after an RFC3164 header, cuts the line down to the payload.
func stripSyslogFrame(line string) string {
	line = strings.TrimSpace(line)
	if strings.HasPrefix(line, "<") {
		if end := strings.IndexByte(line, '>'); end > 1 && end <= 4 && allDigits(line[1:end]) {
			line = line[end+1:]
		}
	}
	if i := strings.IndexByte(line, '{'); i > 0 {
		return line[i:]
	}
	return line
}

func allDigits(s string) bool {
	for _, ch := range s {
		if ch < '0' || ch > '9' {
			return false
		}
	}
	return len(s) > 0
}
