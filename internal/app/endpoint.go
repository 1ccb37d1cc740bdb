package app

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/skobkin/slipmux/internal/config"
	"github.com/skobkin/slipmux/internal/connectors"
	"github.com/skobkin/slipmux/internal/transport"
)

// Endpoint is the peer the link connects to, derived from the connection section.
type Endpoint struct {
	cfg config.ConnectionConfig
}

func NewEndpoint(cfg config.ConnectionConfig) Endpoint {
	return Endpoint{cfg: cfg}
}

func (e Endpoint) TransportName() string {
	switch e.cfg.Connector {
	case config.ConnectorTCP:
		return "tcp"
	case config.ConnectorSerial:
		return "serial"
	}
	if name := strings.TrimSpace(string(e.cfg.Connector)); name != "" {
		return name
	}

	return "unknown"
}

// Target matches what the opened transport reports once connected, so capture
// sessions and status events name the peer the same way.
func (e Endpoint) Target() string {
	switch e.cfg.Connector {
	case config.ConnectorTCP:
		host := strings.TrimSpace(e.cfg.Host)
		if host == "" {
			return ""
		}
		return net.JoinHostPort(host, strconv.Itoa(e.cfg.Port))
	case config.ConnectorSerial:
		port := strings.TrimSpace(e.cfg.SerialPort)
		if port == "" {
			return ""
		}
		return fmt.Sprintf("%s@%d", port, e.cfg.SerialBaud)
	default:
		return ""
	}
}

func (e Endpoint) String() string {
	if target := e.Target(); target != "" {
		return e.TransportName() + " " + target
	}

	return e.TransportName()
}

// Open builds an unconnected transport; the link dials it.
func (e Endpoint) Open() (transport.Transport, error) {
	switch e.cfg.Connector {
	case config.ConnectorTCP:
		return transport.NewTCPTransport(strings.TrimSpace(e.cfg.Host), e.cfg.Port), nil
	case config.ConnectorSerial:
		return transport.NewSerialTransport(strings.TrimSpace(e.cfg.SerialPort), e.cfg.SerialBaud), nil
	default:
		return nil, fmt.Errorf("unknown connector: %q", e.cfg.Connector)
	}
}

// PendingStatus is reported until the link publishes its first status.
func (e Endpoint) PendingStatus() connectors.ConnStatus {
	return connectors.ConnStatus{
		State:         connectors.ConnectionStateDisconnected,
		TransportName: e.TransportName(),
		Target:        e.Target(),
	}
}
