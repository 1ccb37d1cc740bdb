// Package console turns the diagnostic byte stream into text.
package console

import (
	"bufio"
	"context"
	"io"
	"strings"
	"sync/atomic"
)

const DefaultPipeSize = 1024

// Pipe is a bounded byte channel fed from the decoding goroutine. Put never blocks:
// bytes arriving while the pipe is full are dropped and counted.
type Pipe struct {
	ch      chan byte
	dropped atomic.Uint64
}

func NewPipe(size int) *Pipe {
	if size <= 0 {
		size = DefaultPipeSize
	}

	return &Pipe{ch: make(chan byte, size)}
}

func (p *Pipe) Put(b byte) bool {
	select {
	case p.ch <- b:
		return true
	default:
		p.dropped.Add(1)
		return false
	}
}

// Dropped returns the number of bytes lost to a full pipe.
func (p *Pipe) Dropped() uint64 {
	return p.dropped.Load()
}

// ReadByteContext blocks for the next byte or until ctx is done.
func (p *Pipe) ReadByteContext(ctx context.Context) (byte, error) {
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case b := <-p.ch:
		return b, nil
	}
}

// Reader returns an io.Reader over the pipe that ends with io.EOF once ctx is done.
func (p *Pipe) Reader(ctx context.Context) io.Reader {
	return &pipeReader{ctx: ctx, pipe: p}
}

type pipeReader struct {
	ctx  context.Context
	pipe *Pipe
}

// Read blocks for at least one byte, then drains whatever is already buffered.
func (r *pipeReader) Read(buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}
	b, err := r.pipe.ReadByteContext(r.ctx)
	if err != nil {
		return 0, io.EOF
	}
	buf[0] = b
	n := 1
	for n < len(buf) {
		select {
		case b := <-r.pipe.ch:
			buf[n] = b
			n++
		default:
			return n, nil
		}
	}

	return n, nil
}

// Lines scans the pipe into lines with trailing CR/LF removed and calls fn for each
// until ctx is done. A partial line pending at shutdown is flushed to fn.
func (p *Pipe) Lines(ctx context.Context, maxLine int, fn func(line string)) {
	if maxLine <= 0 {
		maxLine = DefaultPipeSize
	}
	sc := bufio.NewScanner(p.Reader(ctx))
	sc.Buffer(make([]byte, 0, 256), maxLine)
	sc.Split(scanLinesOrFull(maxLine))
	for sc.Scan() {
		fn(strings.TrimRight(sc.Text(), "\r"))
	}
}

// scanLinesOrFull splits on '\n' but emits an over-long line in maxLine chunks
// rather than failing the scanner.
func scanLinesOrFull(maxLine int) bufio.SplitFunc {
	return func(data []byte, atEOF bool) (int, []byte, error) {
		advance, token, err := bufio.ScanLines(data, atEOF)
		if len(token) > maxLine || (token == nil && advance == 0 && len(data) >= maxLine) {
			return maxLine, data[:maxLine], nil
		}

		return advance, token, err
	}
}
