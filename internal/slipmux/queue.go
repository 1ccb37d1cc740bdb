package slipmux

import "context"

// Frame is a completed Configuration or Ip frame handed from the decoder side to a
// consumer. The consumer owns it until Release.
type Frame struct {
	Type FrameType
	// Err is nil unless the handler was configured to deliver malformed frames.
	Err error

	buf   *Buffer
	queue *Queue
}

// Payload returns the decoded bytes. It is only valid until Release.
func (f *Frame) Payload() []byte {
	if f.buf == nil {
		return nil
	}

	return f.buf.Bytes()
}

// Release hands the frame's buffer back for the next incoming frame.
func (f *Frame) Release() {
	if f.queue == nil {
		return
	}
	q := f.queue
	f.queue = nil
	q.put(f)
}

// Queue is a fixed-depth handoff between the decoding goroutine and one consumer.
// Every buffer is either free, being filled, ready or held by the consumer, so a
// frame can never be decoded into a buffer the consumer has not released.
type Queue struct {
	typ   FrameType
	free  chan *Frame
	ready chan *Frame
}

func newQueue(t FrameType, depth, size int) *Queue {
	if depth <= 0 {
		depth = DefaultQueueDepth
	}
	q := &Queue{
		typ:   t,
		free:  make(chan *Frame, depth),
		ready: make(chan *Frame, depth),
	}
	for range depth {
		q.free <- &Frame{Type: t, buf: NewBuffer(size)}
	}

	return q
}

func (q *Queue) Type() FrameType {
	return q.typ
}

// Ready delivers completed frames. Each received frame must be released.
func (q *Queue) Ready() <-chan *Frame {
	return q.ready
}

// Receive blocks until a frame is ready or ctx is done.
func (q *Queue) Receive(ctx context.Context) (*Frame, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case f := <-q.ready:
		return f, nil
	}
}

// Free reports how many buffers can accept a new frame right now.
func (q *Queue) Free() int {
	return len(q.free)
}

func (q *Queue) take() (*Frame, bool) {
	select {
	case f := <-q.free:
		f.buf.Reset()
		f.Err = nil
		return f, true
	default:
		return nil, false
	}
}

// publish cannot block: at most cap(ready) frames exist.
func (q *Queue) publish(f *Frame) {
	f.queue = q
	q.ready <- f
}

func (q *Queue) put(f *Frame) {
	f.Err = nil
	f.buf.Reset()
	q.free <- f
}
