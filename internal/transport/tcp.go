package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"
)

const (
	DefaultTCPPort    = 20000
	tcpPollInterval   = 300 * time.Millisecond
	tcpConnectTimeout = 6 * time.Second
)

// TCPTransport carries the byte stream over a TCP socket, e.g. a ser2net bridge
// or an emulated board's UART.
type TCPTransport struct {
	host string
	port int

	mu   sync.Mutex
	conn net.Conn
}

func NewTCPTransport(host string, port int) *TCPTransport {
	if port == 0 {
		port = DefaultTCPPort
	}

	return &TCPTransport{host: host, port: port}
}

func (t *TCPTransport) Name() string {
	return "tcp"
}

func (t *TCPTransport) StatusTarget() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.targetLocked()
}

func (t *TCPTransport) targetLocked() string {
	if t.host == "" {
		return ""
	}

	return net.JoinHostPort(t.host, strconv.Itoa(t.port))
}

func (t *TCPTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	target := t.targetLocked()
	logger := transportLogger("tcp", "target", target)

	if t.conn != nil {
		logger.Debug("connect skipped: already connected")

		return nil
	}
	if t.host == "" {
		logger.Warn("connect failed: host is empty")

		return errors.New("tcp host is empty")
	}

	dialer := net.Dialer{Timeout: tcpConnectTimeout}
	logger.Info("connecting")
	conn, err := dialer.DialContext(ctx, "tcp", target)
	if err != nil {
		logger.Warn("connect failed", "error", err)

		return fmt.Errorf("dial tcp: %w", err)
	}
	t.conn = conn
	logger.Info("connected", "remote", conn.RemoteAddr().String())

	return nil
}

func (t *TCPTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	logger := transportLogger("tcp", "target", t.targetLocked())
	if t.conn == nil {
		logger.Debug("close skipped: not connected")

		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	if err != nil {
		logger.Warn("close failed", "error", err)

		return err
	}
	logger.Info("closed")

	return nil
}

// Read polls with short deadlines so ctx cancellation is noticed without one.
func (t *TCPTransport) Read(ctx context.Context, buf []byte) (int, error) {
	conn, err := t.currentConn()
	if err != nil {
		return 0, err
	}
	for {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		deadline := time.Now().Add(tcpPollInterval)
		if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
			deadline = d
		}
		_ = conn.SetReadDeadline(deadline)

		n, err := conn.Read(buf)
		if n > 0 {
			return n, nil
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			continue
		}
		if err != nil {
			return 0, err
		}
	}
}

func (t *TCPTransport) Write(ctx context.Context, p []byte) error {
	conn, err := t.currentConn()
	if err != nil {
		return err
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(deadline)
	} else {
		_ = conn.SetWriteDeadline(time.Time{})
	}
	if err := writeFull(ctx, conn, p); err != nil {
		transportLogger("tcp").Warn("write failed", "len", len(p), "error", err)

		return fmt.Errorf("write tcp: %w", err)
	}

	return nil
}

func (t *TCPTransport) currentConn() (net.Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return nil, ErrNotConnected
	}

	return t.conn, nil
}
