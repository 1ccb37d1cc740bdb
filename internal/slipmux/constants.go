// Package slipmux implements slipmux framing: diagnostic text, configuration messages
// and IP packets multiplexed over one serial byte stream with SLIP escaping.
package slipmux

// Wire bytes shared with SLIP (RFC 1055).
const (
	End    byte = 0xC0
	Esc    byte = 0xDB
	EscEnd byte = 0xDC
	EscEsc byte = 0xDD
)

// Frame markers. Ip frames carry no marker.
const (
	MarkerDiagnostic    byte = 0x0A
	MarkerConfiguration byte = 0xA9
)

const (
	DefaultConfigurationBufferSize = 512
	DefaultPacketBufferSize        = 2048
	DefaultQueueDepth              = 1
)
