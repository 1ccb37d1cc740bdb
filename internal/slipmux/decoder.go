package slipmux

// FrameHandler receives decoder events. Per frame the decoder calls BeginFrame once,
// PutByte zero or more times and EndFrame once, in that order.
type FrameHandler interface {
	BeginFrame(t FrameType)
	PutByte(b byte)
	// EndFrame closes the open frame. err is nil for a clean frame and otherwise
	// wraps one or more of the wire-level error kinds.
	EndFrame(err error)
}

// State is the decoder's position in the byte stream.
type State uint8

const (
	StateIdle State = iota
	StateDiagnostic
	StateDiagnosticEscaped
	StateConfiguration
	StateConfigurationEscaped
	StatePacket
	StatePacketEscaped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDiagnostic:
		return "diagnostic"
	case StateDiagnosticEscaped:
		return "diagnostic_escaped"
	case StateConfiguration:
		return "configuration"
	case StateConfigurationEscaped:
		return "configuration_escaped"
	case StatePacket:
		return "packet"
	case StatePacketEscaped:
		return "packet_escaped"
	default:
		return "unknown"
	}
}

// Decoder turns an escaped byte stream into FrameHandler events.
// It never allocates and is not safe for concurrent use; feed it from one goroutine.
type Decoder struct {
	handler   FrameHandler
	state     State
	badEscape bool
}

func NewDecoder(h FrameHandler) *Decoder {
	return &Decoder{handler: h}
}

func (d *Decoder) State() State {
	return d.state
}

// Decode consumes one byte.
func (d *Decoder) Decode(b byte) {
	switch d.state {
	case StateIdle:
		t, ok := FrameTypeForStart(b)
		if !ok {
			return
		}
		d.badEscape = false
		d.state = payloadState(t)
		d.handler.BeginFrame(t)
		if t == FrameIP {
			d.handler.PutByte(b)
		}
	case StateDiagnostic, StateConfiguration, StatePacket:
		switch b {
		case Esc:
			d.state++
		case End:
			d.finish(nil)
		default:
			d.handler.PutByte(b)
		}
	case StateDiagnosticEscaped, StateConfigurationEscaped, StatePacketEscaped:
		d.state--
		switch b {
		case EscEnd:
			d.handler.PutByte(End)
		case EscEsc:
			d.handler.PutByte(Esc)
		default:
			d.badEscape = true
			d.handler.PutByte(b)
		}
	}
}

// Write feeds p to Decode byte by byte. It never fails.
func (d *Decoder) Write(p []byte) (int, error) {
	for _, b := range p {
		d.Decode(b)
	}

	return len(p), nil
}

// Abort closes an open frame with ErrFrameAborted and returns to idle.
// It is a no-op while idle.
func (d *Decoder) Abort() {
	if d.state == StateIdle {
		return
	}
	d.finish(ErrFrameAborted)
}

func (d *Decoder) finish(err error) {
	if d.badEscape {
		err = joinErr(err, ErrUnexpectedEscape)
	}
	d.state = StateIdle
	d.badEscape = false
	d.handler.EndFrame(err)
}

func payloadState(t FrameType) State {
	switch t {
	case FrameDiagnostic:
		return StateDiagnostic
	case FrameConfiguration:
		return StateConfiguration
	default:
		return StatePacket
	}
}
