// Package packet summarises IP frames received over the link.
package packet

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

var (
	ErrEmpty = errors.New("empty packet")
	ErrNotIP = errors.New("not an ip packet")
)

// Summary is a one-line view of an IP packet.
type Summary struct {
	Version  int
	Src      string
	Dst      string
	Protocol string
	SrcPort  int
	DstPort  int
	Length   int
}

func (s Summary) String() string {
	src, dst := s.Src, s.Dst
	if s.SrcPort != 0 || s.DstPort != 0 {
		src = joinPort(s.Version, s.Src, s.SrcPort)
		dst = joinPort(s.Version, s.Dst, s.DstPort)
	}

	return fmt.Sprintf("ipv%d %s %s -> %s len=%d", s.Version, s.Protocol, src, dst, s.Length)
}

func joinPort(version int, host string, port int) string {
	if version == 6 {
		return "[" + host + "]:" + strconv.Itoa(port)
	}

	return host + ":" + strconv.Itoa(port)
}

// Describe decodes the network and transport headers of payload. The version nibble
// selects IPv4 or IPv6; anything else is ErrNotIP.
func Describe(payload []byte) (Summary, error) {
	if len(payload) == 0 {
		return Summary{}, ErrEmpty
	}

	var first gopacket.LayerType
	switch payload[0] >> 4 {
	case 4:
		first = layers.LayerTypeIPv4
	case 6:
		first = layers.LayerTypeIPv6
	default:
		return Summary{}, fmt.Errorf("%w: version nibble %d", ErrNotIP, payload[0]>>4)
	}

	pkt := gopacket.NewPacket(payload, first, gopacket.DecodeOptions{Lazy: true, NoCopy: true})
	s := Summary{Length: len(payload)}
	switch ip := pkt.NetworkLayer().(type) {
	case *layers.IPv4:
		s.Version = 4
		s.Src = ip.SrcIP.String()
		s.Dst = ip.DstIP.String()
		s.Protocol = ip.Protocol.String()
	case *layers.IPv6:
		s.Version = 6
		s.Src = ip.SrcIP.String()
		s.Dst = ip.DstIP.String()
		s.Protocol = ip.NextHeader.String()
	default:
		if errLayer := pkt.ErrorLayer(); errLayer != nil {
			return Summary{}, fmt.Errorf("decode %s: %w", first, errLayer.Error())
		}
		return Summary{}, fmt.Errorf("decode %s: no network layer", first)
	}

	switch tl := pkt.TransportLayer().(type) {
	case *layers.UDP:
		s.SrcPort = int(tl.SrcPort)
		s.DstPort = int(tl.DstPort)
	case *layers.TCP:
		s.SrcPort = int(tl.SrcPort)
		s.DstPort = int(tl.DstPort)
	}

	return s, nil
}
