package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.bug.st/serial"
)

const defaultSerialReadTimeout = 300 * time.Millisecond

// SerialTransport carries the byte stream over a UART via go.bug.st/serial.
type SerialTransport struct {
	portName string
	baudRate int

	mu   sync.Mutex
	port serial.Port
}

func NewSerialTransport(portName string, baudRate int) *SerialTransport {
	return &SerialTransport{
		portName: portName,
		baudRate: baudRate,
	}
}

func (t *SerialTransport) Name() string {
	return "serial"
}

func (t *SerialTransport) StatusTarget() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.portName == "" {
		return ""
	}

	return fmt.Sprintf("%s@%d", t.portName, t.baudRate)
}

func (t *SerialTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	logger := transportLogger("serial", "port", t.portName, "baud", t.baudRate)
	if t.port != nil {
		logger.Debug("connect skipped: already connected")
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if t.portName == "" {
		return errors.New("serial port is empty")
	}
	if t.baudRate <= 0 {
		return fmt.Errorf("invalid serial baud rate: %d", t.baudRate)
	}

	port, err := serial.Open(t.portName, &serial.Mode{
		BaudRate: t.baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		logger.Warn("connect failed", "error", err)
		return fmt.Errorf("open serial port %q: %w", t.portName, err)
	}
	if err := port.SetReadTimeout(defaultSerialReadTimeout); err != nil {
		_ = port.Close()
		return fmt.Errorf("set serial read timeout: %w", err)
	}
	t.port = port
	logger.Info("connected")

	return nil
}

func (t *SerialTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.port == nil {
		return nil
	}
	err := t.port.Close()
	t.port = nil
	if err != nil {
		transportLogger("serial", "port", t.portName).Warn("close failed", "error", err)
		return err
	}
	transportLogger("serial", "port", t.portName).Info("closed")

	return nil
}

// Read polls the port with a short read timeout so ctx cancellation is noticed.
func (t *SerialTransport) Read(ctx context.Context, buf []byte) (int, error) {
	port, err := t.currentPort()
	if err != nil {
		return 0, err
	}

	return readSome(ctx, port, buf)
}

func (t *SerialTransport) Write(ctx context.Context, p []byte) error {
	port, err := t.currentPort()
	if err != nil {
		return err
	}
	if err := writeFull(ctx, port, p); err != nil {
		return fmt.Errorf("write serial: %w", err)
	}

	return nil
}

func (t *SerialTransport) currentPort() (serial.Port, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.port == nil {
		return nil, ErrNotConnected
	}
	return t.port, nil
}

// readSome treats zero-length reads as poll timeouts.
func readSome(ctx context.Context, r io.Reader, buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}
	for {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		n, err := r.Read(buf)
		if n > 0 {
			return n, nil
		}
		if err != nil {
			return 0, err
		}
	}
}

func writeFull(ctx context.Context, w io.Writer, buf []byte) error {
	written := 0
	for written < len(buf) {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := w.Write(buf[written:])
		if err != nil {
			return err
		}
		if n == 0 {
			continue
		}
		written += n
	}
	return nil
}
