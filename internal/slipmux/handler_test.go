package slipmux

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"
)

type byteSink struct {
	data  []byte
	limit int
}

func (s *byteSink) Put(b byte) bool {
	if s.limit > 0 && len(s.data) >= s.limit {
		return false
	}
	s.data = append(s.data, b)

	return true
}

type frameErrorLog struct {
	types []FrameType
	errs  []error
}

func (l *frameErrorLog) record(t FrameType, err error) {
	l.types = append(l.types, t)
	l.errs = append(l.errs, err)
}

func receiveNow(t *testing.T, q *Queue) *Frame {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	f, err := q.Receive(ctx)
	if err != nil {
		t.Fatalf("receive %v frame: %v", q.Type(), err)
	}

	return f
}

func expectEmpty(t *testing.T, q *Queue) {
	t.Helper()
	select {
	case f := <-q.Ready():
		t.Fatalf("expected no %v frame, got %x (err %v)", q.Type(), f.Payload(), f.Err)
	default:
	}
}

func TestHandlerRoutesFramesByType(t *testing.T) {
	diag := &byteSink{}
	h := NewHandler(HandlerOptions{Diagnostic: diag})
	d := NewDecoder(h)

	var wire []byte
	wire = AppendFrame(wire, FrameDiagnostic, []byte("log line\n"))
	wire = AppendFrame(wire, FrameConfiguration, []byte{0x01, End, 0x02})
	wire = AppendFrame(wire, FrameIP, []byte{0x60, Esc, 0x00})
	_, _ = d.Write(wire)

	if string(diag.data) != "log line\n" {
		t.Fatalf("diagnostic mismatch: %q", diag.data)
	}
	cfg := receiveNow(t, h.Configuration())
	if !bytes.Equal(cfg.Payload(), []byte{0x01, End, 0x02}) {
		t.Fatalf("configuration payload mismatch: %x", cfg.Payload())
	}
	cfg.Release()
	pkt := receiveNow(t, h.Packets())
	if pkt.Type != FrameIP {
		t.Fatalf("expected ip frame, got %v", pkt.Type)
	}
	if !bytes.Equal(pkt.Payload(), []byte{0x60, Esc, 0x00}) {
		t.Fatalf("packet payload mismatch: %x", pkt.Payload())
	}
	pkt.Release()
}

func TestHandlerOverflowNeverExceedsCapacity(t *testing.T) {
	errs := &frameErrorLog{}
	h := NewHandler(HandlerOptions{ConfigurationBufferSize: 4, DeliverMalformed: true, OnFrameError: errs.record})
	d := NewDecoder(h)

	_, _ = d.Write(AppendFrame(nil, FrameConfiguration, []byte{1, 2, 3, 4, 5, 6, End, Esc}))

	f := receiveNow(t, h.Configuration())
	if !errors.Is(f.Err, ErrBufferOverflow) {
		t.Fatalf("expected overflow error, got %v", f.Err)
	}
	if !bytes.Equal(f.Payload(), []byte{1, 2, 3, 4}) {
		t.Fatalf("expected payload capped at capacity, got %x", f.Payload())
	}
	f.Release()
	if len(errs.errs) != 1 || errs.types[0] != FrameConfiguration {
		t.Fatalf("expected one configuration error report, got %v", errs.errs)
	}

	_, _ = d.Write(AppendFrame(nil, FrameConfiguration, []byte{9}))
	next := receiveNow(t, h.Configuration())
	if next.Err != nil || !bytes.Equal(next.Payload(), []byte{9}) {
		t.Fatalf("expected clean follow-up frame, got %x (err %v)", next.Payload(), next.Err)
	}
	next.Release()
}

func TestHandlerDropsMalformedFramesByDefault(t *testing.T) {
	errs := &frameErrorLog{}
	h := NewHandler(HandlerOptions{OnFrameError: errs.record})
	d := NewDecoder(h)

	_, _ = d.Write([]byte{MarkerConfiguration, 0x01, Esc, 0x02, End})
	_, _ = d.Write([]byte{0x45, Esc, 0x00, End})

	expectEmpty(t, h.Configuration())
	expectEmpty(t, h.Packets())
	if len(errs.errs) != 2 {
		t.Fatalf("expected two error reports, got %d", len(errs.errs))
	}
	for _, err := range errs.errs {
		if !errors.Is(err, ErrUnexpectedEscape) {
			t.Fatalf("expected unexpected escape error, got %v", err)
		}
	}
	if h.Configuration().Free() != 1 || h.Packets().Free() != 1 {
		t.Fatalf("expected dropped frames to return their buffers")
	}
}

func TestHandlerRefusesFrameUntilConsumerReleases(t *testing.T) {
	errs := &frameErrorLog{}
	h := NewHandler(HandlerOptions{QueueDepth: 1, OnFrameError: errs.record})
	d := NewDecoder(h)

	_, _ = d.Write(AppendFrame(nil, FrameConfiguration, []byte("first")))
	_, _ = d.Write(AppendFrame(nil, FrameConfiguration, []byte("second")))

	first := receiveNow(t, h.Configuration())
	if string(first.Payload()) != "first" {
		t.Fatalf("unread frame was overwritten: %q", first.Payload())
	}
	if len(errs.errs) != 1 || !errors.Is(errs.errs[0], ErrReceiverBusy) {
		t.Fatalf("expected busy error for second frame, got %v", errs.errs)
	}
	expectEmpty(t, h.Configuration())
	first.Release()

	_, _ = d.Write(AppendFrame(nil, FrameConfiguration, []byte("third")))
	third := receiveNow(t, h.Configuration())
	if string(third.Payload()) != "third" {
		t.Fatalf("unexpected payload after release: %q", third.Payload())
	}
	third.Release()
}

func TestHandlerQueueDepthBuffersFrames(t *testing.T) {
	h := NewHandler(HandlerOptions{QueueDepth: 3})
	d := NewDecoder(h)

	for _, p := range []string{"`a", "`b", "`c"} {
		_, _ = d.Write(AppendFrame(nil, FrameIP, []byte(p)))
	}

	for _, want := range []string{"`a", "`b", "`c"} {
		f := receiveNow(t, h.Packets())
		if string(f.Payload()) != want {
			t.Fatalf("expected %q, got %q", want, f.Payload())
		}
		f.Release()
	}
}

func TestHandlerDiagnosticKeepsBytesOnError(t *testing.T) {
	diag := &byteSink{limit: 3}
	errs := &frameErrorLog{}
	h := NewHandler(HandlerOptions{Diagnostic: diag, OnFrameError: errs.record})
	d := NewDecoder(h)

	_, _ = d.Write([]byte{MarkerDiagnostic, 'a', Esc, 'b', 'c', 'd', End})

	if string(diag.data) != "abc" {
		t.Fatalf("expected best-effort diagnostic bytes, got %q", diag.data)
	}
	if len(errs.errs) != 1 {
		t.Fatalf("expected one error report, got %d", len(errs.errs))
	}
	if !errors.Is(errs.errs[0], ErrUnexpectedEscape) || !errors.Is(errs.errs[0], ErrBufferOverflow) {
		t.Fatalf("expected escape and overflow errors, got %v", errs.errs[0])
	}
}

func TestHandlerProtocolViolationsPanic(t *testing.T) {
	tests := []struct {
		name string
		fn   func(h *Handler)
	}{
		{name: "nested begin", fn: func(h *Handler) { h.BeginFrame(FrameIP); h.BeginFrame(FrameDiagnostic) }},
		{name: "byte without frame", fn: func(h *Handler) { h.PutByte(0x01) }},
		{name: "end without frame", fn: func(h *Handler) { h.EndFrame(nil) }},
	}

	for _, tc := range tests {
		func() {
			defer func() {
				r := recover()
				if _, ok := r.(*ProtocolViolation); !ok {
					t.Fatalf("%s: expected protocol violation panic, got %v", tc.name, r)
				}
			}()
			tc.fn(NewHandler(HandlerOptions{}))
		}()
	}
}

func TestFrameReleaseTwiceIsHarmless(t *testing.T) {
	h := NewHandler(HandlerOptions{})
	d := NewDecoder(h)
	_, _ = d.Write(AppendFrame(nil, FrameConfiguration, []byte{1}))

	f := receiveNow(t, h.Configuration())
	f.Release()
	f.Release()

	if h.Configuration().Free() != 1 {
		t.Fatalf("expected exactly one free buffer, got %d", h.Configuration().Free())
	}
}

func TestErrorKind(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{err: nil, want: ""},
		{err: ErrUnexpectedEscape, want: "unexpected_escape"},
		{err: errors.Join(ErrBufferOverflow, ErrFrameAborted), want: "overflow"},
		{err: ErrReceiverBusy, want: "busy"},
		{err: ErrFrameAborted, want: "aborted"},
		{err: ErrBadFCS, want: "fcs"},
		{err: errors.New("x"), want: "other"},
	}

	for _, tc := range tests {
		if got := ErrorKind(tc.err); got != tc.want {
			t.Fatalf("ErrorKind(%v): got %q want %q", tc.err, got, tc.want)
		}
	}
}
