package slipmux

import "fmt"

// FrameType identifies the traffic class carried by a frame.
type FrameType uint8

const (
	FrameDiagnostic FrameType = iota
	FrameConfiguration
	FrameIP
)

func (t FrameType) String() string {
	switch t {
	case FrameDiagnostic:
		return "diagnostic"
	case FrameConfiguration:
		return "configuration"
	case FrameIP:
		return "ip"
	default:
		return fmt.Sprintf("frame_type(%d)", uint8(t))
	}
}

// Marker returns the byte that opens a frame of type t. Ip frames have none.
func (t FrameType) Marker() (byte, bool) {
	switch t {
	case FrameDiagnostic:
		return MarkerDiagnostic, true
	case FrameConfiguration:
		return MarkerConfiguration, true
	default:
		return 0, false
	}
}

func (t FrameType) Valid() bool {
	return t <= FrameIP
}

// FrameTypeForStart reports the frame type a byte opens when received while idle.
// ok is false for a bare End.
func FrameTypeForStart(b byte) (t FrameType, ok bool) {
	switch b {
	case End:
		return 0, false
	case MarkerDiagnostic:
		return FrameDiagnostic, true
	case MarkerConfiguration:
		return FrameConfiguration, true
	default:
		return FrameIP, true
	}
}
