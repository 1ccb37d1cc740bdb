package slipmux

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"
)

// AppendEscaped appends payload to dst with End and Esc replaced by their escape pairs.
func AppendEscaped(dst, payload []byte) []byte {
	for _, b := range payload {
		switch b {
		case End:
			dst = append(dst, Esc, EscEnd)
		case Esc:
			dst = append(dst, Esc, EscEsc)
		default:
			dst = append(dst, b)
		}
	}

	return dst
}

// AppendFrame appends one complete wire frame: marker (if any), escaped payload, End.
// An Ip payload must pass CheckPacketStart to be decodable by a peer.
func AppendFrame(dst []byte, t FrameType, payload []byte) []byte {
	if marker, ok := t.Marker(); ok {
		dst = append(dst, marker)
	}
	dst = AppendEscaped(dst, payload)

	return append(dst, End)
}

// CheckPacketStart reports whether payload can open an unmarked Ip frame. The first
// byte is read literally while the peer is idle, so it must not be a marker, End or Esc.
func CheckPacketStart(payload []byte) error {
	if len(payload) == 0 {
		return ErrEmptyPacket
	}
	switch payload[0] {
	case End, Esc, MarkerDiagnostic, MarkerConfiguration:
		return fmt.Errorf("%w: 0x%02X", ErrAmbiguousPacket, payload[0])
	}

	return nil
}

// EncodedLen returns the exact size AppendFrame adds for payload.
func EncodedLen(t FrameType, payload []byte) int {
	n := len(payload) + 1
	if _, ok := t.Marker(); ok {
		n++
	}
	for _, b := range payload {
		if b == End || b == Esc {
			n++
		}
	}

	return n
}

// Sink is a blocking byte transmitter.
type Sink interface {
	Write(ctx context.Context, p []byte) error
}

type writerSink struct {
	w io.Writer
}

// WriterSink adapts an io.Writer to Sink. The context is checked between partial writes.
func WriterSink(w io.Writer) Sink {
	return writerSink{w: w}
}

func (s writerSink) Write(ctx context.Context, p []byte) error {
	written := 0
	for written < len(p) {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := s.w.Write(p[written:])
		if err != nil {
			return err
		}
		written += n
	}

	return nil
}

// FrameWriter serializes whole frames onto one Sink. The lock spans a complete
// frame, so frames from concurrent producers never interleave on the wire.
type FrameWriter struct {
	sink Sink

	mu  sync.Mutex
	buf []byte
}

func NewFrameWriter(sink Sink) *FrameWriter {
	return &FrameWriter{sink: sink}
}

// WriteFrame encodes payload as a frame of type t and transmits it.
func (w *FrameWriter) WriteFrame(ctx context.Context, t FrameType, payload []byte) error {
	if !t.Valid() {
		return fmt.Errorf("write frame: invalid frame type %d", uint8(t))
	}
	if t == FrameIP {
		if err := CheckPacketStart(payload); err != nil {
			return fmt.Errorf("write frame: %w", err)
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf = AppendFrame(w.buf[:0], t, payload)
	if err := w.sink.Write(ctx, w.buf); err != nil {
		return fmt.Errorf("write %s frame: %w", t, err)
	}

	return nil
}

// WriteEnd transmits a lone End. Peers treat it as a no-op while idle and as a
// frame boundary otherwise.
func (w *FrameWriter) WriteEnd(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.sink.Write(ctx, []byte{End}); err != nil {
		return fmt.Errorf("write end: %w", err)
	}

	return nil
}

// DiagnosticWriter is an io.Writer that sends each Write as one diagnostic frame.
type DiagnosticWriter struct {
	frames  *FrameWriter
	timeout time.Duration
}

// NewDiagnosticWriter returns a writer over frames. A zero timeout blocks until the
// frame is written.
func NewDiagnosticWriter(frames *FrameWriter, timeout time.Duration) *DiagnosticWriter {
	return &DiagnosticWriter{frames: frames, timeout: timeout}
}

func (w *DiagnosticWriter) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	ctx := context.Background()
	if w.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}
	if err := w.frames.WriteFrame(ctx, FrameDiagnostic, p); err != nil {
		return 0, err
	}

	return len(p), nil
}
