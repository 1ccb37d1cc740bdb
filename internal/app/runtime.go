package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/skobkin/slipmux/internal/bus"
	"github.com/skobkin/slipmux/internal/capture"
	"github.com/skobkin/slipmux/internal/config"
	"github.com/skobkin/slipmux/internal/connectors"
	"github.com/skobkin/slipmux/internal/link"
	"github.com/skobkin/slipmux/internal/logging"
	"github.com/skobkin/slipmux/internal/metrics"
	"github.com/skobkin/slipmux/internal/transport"
)

// Options adjusts runtime start-up. Override runs after the config file is loaded,
// so command line flags win over stored settings. SaveConfig writes the result back.
type Options struct {
	Override     func(cfg *config.AppConfig)
	SaveConfig   bool
	ClearCapture bool
	// LogOutput receives console logs; nil means stderr.
	LogOutput io.Writer
}

type Runtime struct {
	Ctx    context.Context
	cancel context.CancelFunc

	Paths  Paths
	Config config.AppConfig

	LogManager *logging.Manager
	Bus        *bus.PubSubBus

	DB          *sql.DB
	SessionRepo *capture.SessionRepo
	FrameRepo   *capture.FrameRepo
	WriterQueue *capture.WriterQueue
	Session     capture.Session

	Endpoint  Endpoint
	Transport transport.Transport
	Link      *link.Service

	connStatusMu sync.RWMutex
	connStatus   connectors.ConnStatus
}

func Initialize(parent context.Context, opts Options) (*Runtime, error) {
	paths, err := ResolvePaths()
	if err != nil {
		return nil, err
	}

	return InitializeWithPaths(parent, paths, opts)
}

func InitializeWithPaths(parent context.Context, paths Paths, opts Options) (*Runtime, error) {
	cfg, err := config.Load(paths.ConfigFile)
	if err != nil {
		return nil, err
	}
	if opts.Override != nil {
		opts.Override(&cfg)
	}
	cfg.FillMissingDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if opts.SaveConfig {
		if err := config.Save(paths.ConfigFile, cfg); err != nil {
			return nil, err
		}
	}

	ctx, cancel := context.WithCancel(parent)
	endpoint := NewEndpoint(cfg.Connection)
	rt := &Runtime{
		Ctx:        ctx,
		cancel:     cancel,
		Paths:      paths,
		Config:     cfg,
		Endpoint:   endpoint,
		connStatus: endpoint.PendingStatus(),
	}

	logMgr := logging.NewManager(opts.LogOutput)
	if err := logMgr.Configure(cfg.Logging, paths.LogFile); err != nil {
		_ = logMgr.Close()
		cancel()
		return nil, fmt.Errorf("configure logging: %w", err)
	}
	rt.LogManager = logMgr
	build := CurrentBuild()
	slog.Info("starting slipmux runtime", "version", build.Version, "revision", build.Revision, "build_date", build.Date, "endpoint", endpoint.String())

	if cfg.Metrics.ListenAddr != "" {
		metrics.RegisterMetrics()
	}

	b := bus.New(logMgr.Logger("bus"))
	rt.Bus = b
	connSub := b.Subscribe(connectors.TopicConnStatus)
	go rt.captureConnStatus(ctx, connSub)

	tr, err := endpoint.Open()
	if err != nil {
		_ = rt.Close()
		return nil, fmt.Errorf("initialize transport: %w", err)
	}
	rt.Transport = tr

	if cfg.Capture.Enabled {
		if err := rt.startCapture(ctx, opts.ClearCapture); err != nil {
			_ = rt.Close()
			return nil, err
		}
	}

	rt.Link = link.NewService(logMgr.Logger("link"), b, tr, LinkOptions(cfg.Link))
	rt.Link.Start(ctx)

	return rt, nil
}

// LinkOptions maps the persisted link section onto service options.
func LinkOptions(cfg config.LinkConfig) link.Options {
	return link.Options{
		ConfigurationBufferSize: cfg.ConfigurationBufferSize,
		PacketBufferSize:        cfg.PacketBufferSize,
		QueueDepth:              cfg.QueueDepth,
		DiagnosticBufferSize:    cfg.DiagnosticBufferSize,
		DeliverMalformed:        cfg.DeliverMalformed,
		VerifyFCS:               cfg.VerifyFCS,
	}
}

func (r *Runtime) startCapture(ctx context.Context, clear bool) error {
	db, err := capture.Open(ctx, r.Paths.DBFile)
	if err != nil {
		return err
	}
	r.DB = db
	if clear {
		if err := capture.ClearCapture(ctx, db); err != nil {
			return err
		}
		slog.Info("capture database cleared")
	}

	r.SessionRepo = capture.NewSessionRepo(db)
	r.FrameRepo = capture.NewFrameRepo(db)
	session, err := r.SessionRepo.Begin(ctx, r.Endpoint.TransportName(), r.Endpoint.Target(), time.Now())
	if err != nil {
		return err
	}
	r.Session = session

	writerQueue := capture.NewWriterQueue(r.LogManager.Logger("capture"), CaptureQueueSize)
	writerQueue.Start(ctx)
	r.WriterQueue = writerQueue
	capture.StartSync(ctx, r.Bus, writerQueue, r.FrameRepo, session.ID)
	slog.Info("capture session started", "session", session.ID, "db", r.Paths.DBFile)

	return nil
}

func (r *Runtime) captureConnStatus(ctx context.Context, sub bus.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-sub:
			if !ok {
				return
			}
			status, ok := raw.(connectors.ConnStatus)
			if !ok {
				continue
			}
			r.setConnStatus(status)
		}
	}
}

func (r *Runtime) setConnStatus(status connectors.ConnStatus) {
	r.connStatusMu.Lock()
	r.connStatus = status
	r.connStatusMu.Unlock()
}

// CurrentConnStatus is the last status the link published, or the endpoint's
// pending status before the first one.
func (r *Runtime) CurrentConnStatus() connectors.ConnStatus {
	r.connStatusMu.RLock()
	defer r.connStatusMu.RUnlock()

	return r.connStatus
}

func (r *Runtime) Close() error {
	if r.WriterQueue != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := r.WriterQueue.Flush(ctx); err != nil {
			slog.Warn("flush capture queue", "error", err)
		}
		cancel()
	}
	if r.cancel != nil {
		r.cancel()
	}
	if r.Bus != nil {
		r.Bus.Close()
	}
	if r.Transport != nil {
		_ = r.Transport.Close()
	}
	if r.DB != nil {
		if r.SessionRepo != nil && r.Session.ID != "" {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			if err := r.SessionRepo.End(ctx, r.Session.ID, time.Now()); err != nil {
				slog.Warn("end capture session", "session", r.Session.ID, "error", err)
			}
			cancel()
		}
		_ = r.DB.Close()
	}
	if r.LogManager != nil {
		_ = r.LogManager.Close()
	}
	return nil
}
