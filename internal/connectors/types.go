package connectors

import "time"

// ConnectionState describes the link lifecycle state.
type ConnectionState string

const (
	ConnectionStateDisconnected ConnectionState = "disconnected"
	ConnectionStateConnecting   ConnectionState = "connecting"
	ConnectionStateConnected    ConnectionState = "connected"
	ConnectionStateReconnecting ConnectionState = "reconnecting"
)

// Direction tells whether a frame was received from or sent to the peer.
type Direction string

const (
	DirectionIn  Direction = "in"
	DirectionOut Direction = "out"
)

// ConnStatus is a bus event snapshot of current link status.
type ConnStatus struct {
	State         ConnectionState
	Err           string
	TransportName string
	Target        string
	Timestamp     time.Time
}

// RawFrame carries one frame's payload for debug views and capture.
type RawFrame struct {
	Direction Direction
	Type      string
	Payload   []byte
	Hex       string
	Len       int
	Err       string
	At        time.Time
}

// DiagnosticLine is one line of text received in diagnostic frames.
type DiagnosticLine struct {
	Text string
	At   time.Time
}

// ConfigurationMessage is a received configuration frame with the FCS removed.
type ConfigurationMessage struct {
	Payload  []byte
	FCSValid bool
	Err      string
	At       time.Time
}

// PacketMessage is a received IP frame.
type PacketMessage struct {
	Payload []byte
	Summary string
	Err     string
	At      time.Time
}

// FrameDropped reports a received frame discarded because of a wire-level error.
type FrameDropped struct {
	Type string
	Kind string
	Err  string
	At   time.Time
}
