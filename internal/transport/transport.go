package transport

import (
	"context"
	"errors"
)

var ErrNotConnected = errors.New("transport is not connected")

// Transport is a reconnectable byte stream carrying slipmux frames.
type Transport interface {
	Name() string
	Connect(ctx context.Context) error
	Close() error
	// Read blocks until at least one byte is available, ctx is done or the stream fails.
	Read(ctx context.Context, buf []byte) (int, error)
	// Write transmits all of p or fails.
	Write(ctx context.Context, p []byte) error
}

type StatusTargetResolver interface {
	StatusTarget() string
}
