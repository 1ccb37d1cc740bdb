package slipmux

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestAppendFrameWireFormat(t *testing.T) {
	tests := []struct {
		name    string
		typ     FrameType
		payload []byte
		want    []byte
	}{
		{name: "diagnostic", typ: FrameDiagnostic, payload: []byte("ok"), want: []byte{0x0A, 'o', 'k', 0xC0}},
		{name: "configuration", typ: FrameConfiguration, payload: []byte{0x01, 0x02}, want: []byte{0xA9, 0x01, 0x02, 0xC0}},
		{name: "ip", typ: FrameIP, payload: []byte{0x60, 0x00}, want: []byte{0x60, 0x00, 0xC0}},
		{name: "escapes", typ: FrameConfiguration, payload: []byte{0xC0, 0xDB, 0x01}, want: []byte{0xA9, 0xDB, 0xDC, 0xDB, 0xDD, 0x01, 0xC0}},
		{name: "escape then end", typ: FrameDiagnostic, payload: []byte{0xDB, 0xC0}, want: []byte{0x0A, 0xDB, 0xDD, 0xDB, 0xDC, 0xC0}},
	}

	for _, tc := range tests {
		got := AppendFrame(nil, tc.typ, tc.payload)
		if !bytes.Equal(got, tc.want) {
			t.Fatalf("%s: got %x want %x", tc.name, got, tc.want)
		}
		if n := EncodedLen(tc.typ, tc.payload); n != len(tc.want) {
			t.Fatalf("%s: encoded len %d, want %d", tc.name, n, len(tc.want))
		}
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	payloads := [][]byte{
		{},
		[]byte("hello"),
		{End},
		{Esc},
		{Esc, End},
		{End, Esc, End, Esc},
		{Esc, EscEnd, Esc, EscEsc},
		bytes.Repeat([]byte{End, 0x00, Esc}, 50),
	}
	all := make([]byte, 256)
	for i := range all {
		all[i] = byte(i)
	}
	payloads = append(payloads, all)

	for _, typ := range []FrameType{FrameDiagnostic, FrameConfiguration, FrameIP} {
		for _, p := range payloads {
			if typ == FrameIP {
				p = append([]byte{0x60}, p...)
			}
			h, d := decodeAll(t, AppendFrame(nil, typ, p))
			if len(h.frames) != 1 {
				t.Fatalf("%v %x: expected one frame, got %d", typ, p, len(h.frames))
			}
			got := h.frames[0]
			if got.typ != typ {
				t.Fatalf("%v %x: got type %v", typ, p, got.typ)
			}
			if !bytes.Equal(got.payload, p) {
				t.Fatalf("%v: payload mismatch: got %x want %x", typ, got.payload, p)
			}
			if got.err != nil {
				t.Fatalf("%v %x: unexpected error %v", typ, p, got.err)
			}
			if d.State() != StateIdle {
				t.Fatalf("%v %x: decoder not idle", typ, p)
			}
		}
	}
}

func TestCheckPacketStart(t *testing.T) {
	for _, b := range []byte{End, Esc, MarkerDiagnostic, MarkerConfiguration} {
		if err := CheckPacketStart([]byte{b, 0x00}); !errors.Is(err, ErrAmbiguousPacket) {
			t.Fatalf("0x%02X: expected ambiguous packet error, got %v", b, err)
		}
	}
	if err := CheckPacketStart(nil); !errors.Is(err, ErrEmptyPacket) {
		t.Fatalf("expected empty packet error, got %v", err)
	}
	if err := CheckPacketStart([]byte{0x45}); err != nil {
		t.Fatalf("expected ipv4 start to pass, got %v", err)
	}
}

type chunkSink struct {
	mu     sync.Mutex
	chunks [][]byte
}

// Write stores each block in two halves so interleaving between frames would be visible.
func (s *chunkSink) Write(_ context.Context, p []byte) error {
	half := len(p) / 2
	s.add(p[:half])
	time.Sleep(time.Microsecond)
	s.add(p[half:])

	return nil
}

func (s *chunkSink) add(p []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks = append(s.chunks, append([]byte(nil), p...))
}

func (s *chunkSink) bytes() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []byte
	for _, c := range s.chunks {
		out = append(out, c...)
	}

	return out
}

func TestFrameWriterDoesNotInterleaveFrames(t *testing.T) {
	sink := &chunkSink{}
	w := NewFrameWriter(sink)

	const producers = 8
	const perProducer = 25
	var wg sync.WaitGroup
	for i := range producers {
		wg.Add(1)
		go func(id byte) {
			defer wg.Done()
			payload := bytes.Repeat([]byte{id, End, Esc}, 10)
			for range perProducer {
				if err := w.WriteFrame(context.Background(), FrameConfiguration, payload); err != nil {
					t.Errorf("write frame: %v", err)
					return
				}
			}
		}(byte(i + 1))
	}
	wg.Wait()

	h, _ := decodeAll(t, sink.bytes())
	if len(h.frames) != producers*perProducer {
		t.Fatalf("expected %d frames, got %d", producers*perProducer, len(h.frames))
	}
	for _, f := range h.frames {
		if f.err != nil {
			t.Fatalf("frame error: %v", f.err)
		}
		want := bytes.Repeat([]byte{f.payload[0], End, Esc}, 10)
		if !bytes.Equal(f.payload, want) {
			t.Fatalf("interleaved frame: %x", f.payload)
		}
	}
}

func TestFrameWriterRejectsAmbiguousPacket(t *testing.T) {
	var buf bytes.Buffer
	w := NewFrameWriter(WriterSink(&buf))

	err := w.WriteFrame(context.Background(), FrameIP, []byte{MarkerConfiguration, 0x01})
	if !errors.Is(err, ErrAmbiguousPacket) {
		t.Fatalf("expected ambiguous packet error, got %v", err)
	}
	if buf.Len() != 0 {
		t.Fatalf("expected nothing written, got %x", buf.Bytes())
	}
}

func TestDiagnosticWriterFramesEachWrite(t *testing.T) {
	var buf bytes.Buffer
	w := NewDiagnosticWriter(NewFrameWriter(WriterSink(&buf)), time.Second)

	if _, err := w.Write([]byte("one\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := w.Write([]byte("two\n")); err != nil {
		t.Fatalf("write: %v", err)
	}

	want := []byte{0x0A, 'o', 'n', 'e', '\n', 0xC0, 0x0A, 't', 'w', 'o', '\n', 0xC0}
	if !bytes.Equal(buf.Bytes(), want) {
		t.Fatalf("got %x want %x", buf.Bytes(), want)
	}
}

func TestFrameWriterWriteEnd(t *testing.T) {
	var buf bytes.Buffer
	w := NewFrameWriter(WriterSink(&buf))

	if err := w.WriteEnd(context.Background()); err != nil {
		t.Fatalf("write end: %v", err)
	}
	if !bytes.Equal(buf.Bytes(), []byte{End}) {
		t.Fatalf("got %x", buf.Bytes())
	}
}
