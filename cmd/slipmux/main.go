package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/skobkin/slipmux/internal/app"
	"github.com/skobkin/slipmux/internal/bus"
	"github.com/skobkin/slipmux/internal/config"
	"github.com/skobkin/slipmux/internal/connectors"
)

const (
	maxHexPreviewLen      = 64
	metricsShutdownWait   = 2 * time.Second
	metricsHeaderTimeout  = 5 * time.Second
	maxForwardedLineBytes = 4096
)

type cliFlags struct {
	connector    string
	serialPort   string
	baud         int
	host         string
	tcpPort      int
	capture      bool
	clearCapture bool
	metricsAddr  string
	logLevel     string
	logFormat    string
	logFile      bool
	saveConfig   bool
	listenFor    time.Duration
	stdin        bool
	version      bool

	query captureQuery
}

func main() {
	if err := run(); err != nil {
		slog.Error("run slipmux", "error", err)
		os.Exit(1)
	}
}

func run() error {
	var f cliFlags
	fs := flag.CommandLine
	fs.StringVar(&f.connector, "connector", "", "connector type: serial or tcp")
	fs.StringVar(&f.serialPort, "port", "", "serial port, e.g. /dev/ttyACM0")
	fs.IntVar(&f.baud, "baud", 0, "serial baud rate")
	fs.StringVar(&f.host, "host", "", "tcp host of a serial bridge or emulator")
	fs.IntVar(&f.tcpPort, "tcp-port", 0, "tcp port")
	fs.BoolVar(&f.capture, "capture", false, "record frames into the capture database")
	fs.BoolVar(&f.clearCapture, "capture-clear", false, "delete previously captured sessions on start")
	fs.StringVar(&f.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9100")
	fs.StringVar(&f.logLevel, "log-level", "", "log level: debug, info, warn or error")
	fs.StringVar(&f.logFormat, "log-format", "", "log format: text or json")
	fs.BoolVar(&f.logFile, "log-file", false, "also write logs to the log file in the config dir")
	fs.BoolVar(&f.saveConfig, "save-config", false, "store the effective settings in the config file")
	fs.BoolVar(&f.query.listSessions, "capture-sessions", false, "list recent capture sessions and exit")
	fs.StringVar(&f.query.dumpSession, "capture-dump", "", "print the frames of a capture session and exit")
	fs.IntVar(&f.query.limit, "capture-limit", defaultCaptureLimit, "maximum sessions or frames printed")
	fs.DurationVar(&f.listenFor, "listen-for", 0, "listen duration, e.g. 30s; 0 runs until interrupt")
	fs.BoolVar(&f.stdin, "stdin", true, "send stdin lines to the peer as diagnostic frames")
	fs.BoolVar(&f.version, "version", false, "print version and exit")
	flag.Parse()

	if f.version {
		fmt.Println(app.VersionLine())
		return nil
	}

	set := make(map[string]bool)
	fs.Visit(func(fl *flag.Flag) { set[fl.Name] = true })

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if f.query.active() {
		paths, err := app.ResolvePaths()
		if err != nil {
			return err
		}
		return runCaptureQuery(ctx, paths.DBFile, os.Stdout, f.query)
	}

	rt, err := app.Initialize(ctx, app.Options{
		Override:     func(cfg *config.AppConfig) { f.apply(cfg, set) },
		SaveConfig:   f.saveConfig,
		ClearCapture: f.clearCapture,
		LogOutput:    os.Stderr,
	})
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	logger := rt.LogManager.Logger("cli")
	defer func() {
		logShutdown(logger, rt.CurrentConnStatus(), rt.Link.DroppedDiagnosticBytes())
		if closeErr := rt.Close(); closeErr != nil {
			slog.Warn("close runtime", "error", closeErr)
		}
	}()

	cfg := rt.Config
	logger.Info("link starting", "endpoint", rt.Endpoint.String())
	if cfg.Capture.Enabled {
		logger.Info("capturing frames", "session", rt.Session.ID, "db", rt.Paths.DBFile)
	}
	if cfg.Metrics.ListenAddr != "" {
		startMetricsServer(ctx, logger, cfg.Metrics.ListenAddr)
	}

	watch(ctx, rt.Bus, logger, os.Stdout)
	if f.stdin {
		go func() {
			if err := forwardLines(ctx, os.Stdin, rt.Link.Diagnostic()); err != nil {
				logger.Warn("stdin forwarding stopped", "error", err)
			}
		}()
	}

	if f.listenFor > 0 {
		logger.Info("listen mode", "duration", f.listenFor)
		select {
		case <-ctx.Done():
		case <-time.After(f.listenFor):
		}
		return nil
	}

	logger.Info("listening until interrupt")
	<-ctx.Done()

	return nil
}

// apply copies explicitly set flags over the stored configuration.
func (f cliFlags) apply(cfg *config.AppConfig, set map[string]bool) {
	if set["connector"] {
		cfg.Connection.Connector = config.ConnectorType(strings.ToLower(strings.TrimSpace(f.connector)))
	}
	if set["port"] {
		cfg.Connection.SerialPort = strings.TrimSpace(f.serialPort)
	}
	if set["baud"] {
		cfg.Connection.SerialBaud = f.baud
	}
	if set["host"] {
		cfg.Connection.Host = strings.TrimSpace(f.host)
		if !set["connector"] {
			cfg.Connection.Connector = config.ConnectorTCP
		}
	}
	if set["tcp-port"] {
		cfg.Connection.Port = f.tcpPort
	}
	if set["capture"] {
		cfg.Capture.Enabled = f.capture
	}
	if set["metrics-addr"] {
		cfg.Metrics.ListenAddr = strings.TrimSpace(f.metricsAddr)
	}
	if set["log-level"] {
		cfg.Logging.Level = f.logLevel
	}
	if set["log-format"] {
		cfg.Logging.Format = f.logFormat
	}
	if set["log-file"] {
		cfg.Logging.LogToFile = f.logFile
	}
}

// logShutdown reports the last link status so an interrupted session ends with
// where the link stood.
func logShutdown(logger *slog.Logger, status connectors.ConnStatus, droppedDiagnostic uint64) {
	attrs := []any{"state", status.State, "transport", status.TransportName, "target", status.Target}
	if status.Err != "" {
		attrs = append(attrs, "last_error", status.Err)
	}
	if droppedDiagnostic > 0 {
		attrs = append(attrs, "dropped_diagnostic_bytes", droppedDiagnostic)
	}
	logger.Info("link stopped", attrs...)
}

func startMetricsServer(ctx context.Context, logger *slog.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: metricsHeaderTimeout,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), metricsShutdownWait)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	go func() {
		logger.Info("serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "addr", addr, "error", err)
		}
	}()
}

// forwardLines writes every line read from r to w, newline included, until r ends
// or ctx is done.
func forwardLines(ctx context.Context, r io.Reader, w io.Writer) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 256), maxForwardedLineBytes)
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return nil
		}
		line := sc.Text()
		if line == "" {
			continue
		}
		if _, err := io.WriteString(w, line+"\n"); err != nil {
			return fmt.Errorf("send diagnostic line: %w", err)
		}
	}

	return sc.Err()
}

func watch(ctx context.Context, b bus.MessageBus, logger *slog.Logger, out io.Writer) {
	topics := []string{
		connectors.TopicConnStatus,
		connectors.TopicDiagnosticLine,
		connectors.TopicConfigurationMessage,
		connectors.TopicPacketMessage,
		connectors.TopicFrameDropped,
		connectors.TopicRawFrameOut,
	}
	sub := b.Subscribe(topics...)

	go func() {
		defer b.Unsubscribe(sub, topics...)
		for {
			select {
			case <-ctx.Done():
				return
			case raw, ok := <-sub:
				if !ok {
					return
				}
				handleEvent(logger, out, raw)
			}
		}
	}()
}

func handleEvent(logger *slog.Logger, out io.Writer, raw any) {
	switch ev := raw.(type) {
	case connectors.ConnStatus:
		logger.Info("conn", "state", ev.State, "transport", ev.TransportName, "target", ev.Target, "error", ev.Err)
	case connectors.DiagnosticLine:
		_, _ = fmt.Fprintln(out, ev.Text)
	case connectors.ConfigurationMessage:
		logger.Info("configuration", "len", len(ev.Payload), "fcs_valid", ev.FCSValid, "hex", previewHex(fmt.Sprintf("%X", ev.Payload)), "error", ev.Err)
	case connectors.PacketMessage:
		logger.Info("packet", "len", len(ev.Payload), "summary", ev.Summary, "error", ev.Err)
	case connectors.FrameDropped:
		logger.Warn("frame dropped", "type", ev.Type, "kind", ev.Kind, "error", ev.Err)
	case connectors.RawFrame:
		logger.Debug("raw-out", "type", ev.Type, "len", ev.Len, "hex", previewHex(ev.Hex))
	}
}

func previewHex(hex string) string {
	hex = strings.TrimSpace(hex)
	if len(hex) <= maxHexPreviewLen {
		return hex
	}
	return hex[:maxHexPreviewLen] + "..."
}
