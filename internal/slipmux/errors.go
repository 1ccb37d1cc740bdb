package slipmux

import (
	"errors"
	"fmt"
)

var (
	// ErrUnexpectedEscape marks a frame where Esc was followed by neither EscEnd nor EscEsc.
	ErrUnexpectedEscape = errors.New("unexpected byte after escape")

	// ErrBufferOverflow marks a frame longer than its destination buffer.
	ErrBufferOverflow = errors.New("frame exceeds buffer capacity")

	// ErrReceiverBusy marks a frame refused because every buffer of its type was still held by a consumer.
	ErrReceiverBusy = errors.New("no free receive buffer")

	// ErrFrameAborted marks a frame cut short by Decoder.Abort.
	ErrFrameAborted = errors.New("frame aborted")

	ErrEmptyPacket     = errors.New("empty ip payload")
	ErrAmbiguousPacket = errors.New("ip payload starts with a reserved byte")
	ErrShortFCS        = errors.New("configuration frame shorter than fcs")
	ErrBadFCS          = errors.New("configuration frame fcs mismatch")
)

// ProtocolViolation is the panic value raised when FrameHandler events arrive out of order.
// It can only result from a decoder defect, never from wire input.
type ProtocolViolation struct {
	Op    string
	State string
}

func (v *ProtocolViolation) Error() string {
	return fmt.Sprintf("slipmux: handler protocol violation: %s while %s", v.Op, v.State)
}

// ErrorKind returns a short label for the first wire-level error kind found in err.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnexpectedEscape):
		return "unexpected_escape"
	case errors.Is(err, ErrBufferOverflow):
		return "overflow"
	case errors.Is(err, ErrReceiverBusy):
		return "busy"
	case errors.Is(err, ErrFrameAborted):
		return "aborted"
	case errors.Is(err, ErrShortFCS), errors.Is(err, ErrBadFCS):
		return "fcs"
	default:
		return "other"
	}
}

func joinErr(current, next error) error {
	if current == nil {
		return next
	}
	if next == nil {
		return current
	}

	return errors.Join(current, next)
}
