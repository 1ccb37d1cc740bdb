package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ConnectorType identifies which transport backend should be used.
type ConnectorType string

const (
	ConnectorSerial   ConnectorType = "serial"
	ConnectorTCP      ConnectorType = "tcp"
	DefaultSerialBaud               = 115200
	DefaultTCPPort                  = 20000

	DefaultConfigurationBufferSize = 512
	DefaultPacketBufferSize        = 2048
	DefaultQueueDepth              = 1
	DefaultDiagnosticBufferSize    = 1024
	maxQueueDepth                  = 64
)

// LoggingConfig defines runtime logging behavior.
type LoggingConfig struct {
	Level     string `json:"level"`
	LogToFile bool   `json:"log_to_file"`
	Format    string `json:"format"`
}

// ConnectionConfig contains connector-specific connection parameters.
type ConnectionConfig struct {
	Connector  ConnectorType `json:"connector"`
	SerialPort string        `json:"serial_port"`
	SerialBaud int           `json:"serial_baud"`
	Host       string        `json:"host"`
	Port       int           `json:"port"`
}

// LinkConfig sizes the receive side of the slipmux link.
type LinkConfig struct {
	ConfigurationBufferSize int  `json:"configuration_buffer_size"`
	PacketBufferSize        int  `json:"packet_buffer_size"`
	QueueDepth              int  `json:"queue_depth"`
	DiagnosticBufferSize    int  `json:"diagnostic_buffer_size"`
	DeliverMalformed        bool `json:"deliver_malformed"`
	VerifyFCS               bool `json:"verify_fcs"`
}

// CaptureConfig controls recording of frames into the capture database.
type CaptureConfig struct {
	Enabled bool `json:"enabled"`
}

// MetricsConfig controls the Prometheus endpoint. An empty address disables it.
type MetricsConfig struct {
	ListenAddr string `json:"listen_addr"`
}

// AppConfig is the root persisted application configuration.
type AppConfig struct {
	Connection ConnectionConfig `json:"connection"`
	Link       LinkConfig       `json:"link"`
	Logging    LoggingConfig    `json:"logging"`
	Capture    CaptureConfig    `json:"capture"`
	Metrics    MetricsConfig    `json:"metrics"`
}

func Default() AppConfig {
	return AppConfig{
		Connection: ConnectionConfig{
			Connector:  ConnectorSerial,
			SerialPort: "",
			SerialBaud: DefaultSerialBaud,
			Host:       "",
			Port:       DefaultTCPPort,
		},
		Link: LinkConfig{
			ConfigurationBufferSize: DefaultConfigurationBufferSize,
			PacketBufferSize:        DefaultPacketBufferSize,
			QueueDepth:              DefaultQueueDepth,
			DiagnosticBufferSize:    DefaultDiagnosticBufferSize,
			DeliverMalformed:        false,
			VerifyFCS:               true,
		},
		Logging: LoggingConfig{
			Level:     "info",
			LogToFile: false,
			Format:    "text",
		},
		Capture: CaptureConfig{
			Enabled: false,
		},
		Metrics: MetricsConfig{
			ListenAddr: "",
		},
	}
}

func Load(path string) (AppConfig, error) {
	cfg := Default()
	cleanPath := filepath.Clean(path)
	// #nosec G304 -- path is resolved by app runtime and points to user config dir.
	raw, err := os.ReadFile(cleanPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}

		return AppConfig{}, fmt.Errorf("read config: %w", err)
	}

	if err := json.Unmarshal(raw, &cfg); err != nil {
		return AppConfig{}, fmt.Errorf("decode config json: %w", err)
	}

	cfg.FillMissingDefaults()

	return cfg, nil
}

func (c *AppConfig) FillMissingDefaults() {
	if c.Connection.Connector == "" {
		c.Connection.Connector = ConnectorSerial
	}
	if c.Connection.SerialBaud <= 0 {
		c.Connection.SerialBaud = DefaultSerialBaud
	}
	if c.Connection.Port <= 0 {
		c.Connection.Port = DefaultTCPPort
	}
	if c.Link.ConfigurationBufferSize <= 0 {
		c.Link.ConfigurationBufferSize = DefaultConfigurationBufferSize
	}
	if c.Link.PacketBufferSize <= 0 {
		c.Link.PacketBufferSize = DefaultPacketBufferSize
	}
	if c.Link.QueueDepth <= 0 {
		c.Link.QueueDepth = DefaultQueueDepth
	}
	if c.Link.QueueDepth > maxQueueDepth {
		c.Link.QueueDepth = maxQueueDepth
	}
	if c.Link.DiagnosticBufferSize <= 0 {
		c.Link.DiagnosticBufferSize = DefaultDiagnosticBufferSize
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	c.Logging.Format = normalizeLogFormat(c.Logging.Format)
}

func normalizeLogFormat(format string) string {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "json":
		return "json"
	default:
		return "text"
	}
}

func (c AppConfig) Validate() error {
	switch c.Connection.Connector {
	case ConnectorSerial:
		if strings.TrimSpace(c.Connection.SerialPort) == "" {
			return errors.New("serial port is required")
		}
		if c.Connection.SerialBaud <= 0 {
			return errors.New("serial baud must be positive")
		}
	case ConnectorTCP:
		if strings.TrimSpace(c.Connection.Host) == "" {
			return errors.New("tcp host is required")
		}
		if c.Connection.Port <= 0 || c.Connection.Port > 65535 {
			return fmt.Errorf("tcp port out of range: %d", c.Connection.Port)
		}
	default:
		return fmt.Errorf("unknown connector: %s", c.Connection.Connector)
	}
	if c.Link.ConfigurationBufferSize <= 2 {
		return errors.New("configuration buffer must hold more than the fcs")
	}
	if c.Link.PacketBufferSize <= 0 {
		return errors.New("packet buffer size must be positive")
	}

	return nil
}

func Save(path string, cfg AppConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	raw, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, raw, 0o600); err != nil {
		return fmt.Errorf("write temp config: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename temp config: %w", err)
	}

	return nil
}
