package slipmux

// Buffer is a fixed-capacity byte buffer that tracks its own write offset and
// refuses writes past capacity instead of growing.
type Buffer struct {
	data     []byte
	n        int
	overflow bool
}

func NewBuffer(capacity int) *Buffer {
	if capacity < 0 {
		capacity = 0
	}

	return &Buffer{data: make([]byte, capacity)}
}

// Append stores b and reports whether it fit. A refused byte marks the buffer overflowed.
func (b *Buffer) Append(c byte) bool {
	if b.n >= len(b.data) {
		b.overflow = true
		return false
	}
	b.data[b.n] = c
	b.n++

	return true
}

// Bytes returns the stored bytes. The slice aliases the buffer until the next Reset.
func (b *Buffer) Bytes() []byte {
	return b.data[:b.n]
}

func (b *Buffer) Len() int {
	return b.n
}

func (b *Buffer) Cap() int {
	return len(b.data)
}

func (b *Buffer) Overflowed() bool {
	return b.overflow
}

func (b *Buffer) Reset() {
	b.n = 0
	b.overflow = false
}
