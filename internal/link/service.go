// Package link runs a slipmux link over a reconnecting transport. Received frames
// are decoded on one goroutine, handed off per type and published on the bus;
// outgoing frames are serialized through a single outbox.
package link

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/skobkin/slipmux/internal/bus"
	"github.com/skobkin/slipmux/internal/connectors"
	"github.com/skobkin/slipmux/internal/console"
	"github.com/skobkin/slipmux/internal/metrics"
	"github.com/skobkin/slipmux/internal/packet"
	"github.com/skobkin/slipmux/internal/slipmux"
	"github.com/skobkin/slipmux/internal/transport"
)

const (
	readChunkSize         = 512
	outboxSize            = 128
	frameErrorBacklog     = 64
	minBackoff            = time.Second
	maxBackoff            = 15 * time.Second
	flushTimeout          = 6 * time.Second
	sendTimeout           = 8 * time.Second
	diagnosticSendTimeout = 5 * time.Second
)

// Options sizes the receive side of the link.
type Options struct {
	ConfigurationBufferSize int
	PacketBufferSize        int
	QueueDepth              int
	DiagnosticBufferSize    int
	DeliverMalformed        bool
	VerifyFCS               bool
}

// ErrStopped is returned for frames sent after the link's run context ended.
var ErrStopped = errors.New("link stopped")

type sendRequest struct {
	typ     slipmux.FrameType
	payload []byte
	result  chan error
}

type frameError struct {
	typ slipmux.FrameType
	err error
	at  time.Time
}

type Service struct {
	logger    *slog.Logger
	transport transport.Transport
	bus       bus.MessageBus
	opts      Options

	diag    *console.Pipe
	handler *slipmux.Handler
	decoder *slipmux.Decoder
	frames  *slipmux.FrameWriter

	sendMu      sync.RWMutex
	stopped     bool
	done        chan struct{}
	outbox      chan sendRequest
	frameErrors chan frameError
}

func NewService(logger *slog.Logger, b bus.MessageBus, tr transport.Transport, opts Options) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		logger:      logger,
		transport:   tr,
		bus:         b,
		opts:        opts,
		diag:        console.NewPipe(opts.DiagnosticBufferSize),
		done:        make(chan struct{}),
		outbox:      make(chan sendRequest, outboxSize),
		frameErrors: make(chan frameError, frameErrorBacklog),
	}
	s.handler = slipmux.NewHandler(slipmux.HandlerOptions{
		ConfigurationBufferSize: opts.ConfigurationBufferSize,
		PacketBufferSize:        opts.PacketBufferSize,
		QueueDepth:              opts.QueueDepth,
		DeliverMalformed:        opts.DeliverMalformed,
		Diagnostic:              diagnosticSink{pipe: s.diag},
		OnFrameError:            s.onFrameError,
	})
	s.decoder = slipmux.NewDecoder(s.handler)
	s.frames = slipmux.NewFrameWriter(transportSink{tr: tr})

	return s
}

func (s *Service) Start(ctx context.Context) {
	go s.runOutbox(ctx)
	go s.runFrameErrors(ctx)
	go s.runConfiguration(ctx)
	go s.runPackets(ctx)
	go s.runDiagnostic(ctx)
	go s.runConnector(ctx)
}

// Send queues one frame for transmission. The returned channel yields the write
// result and is then closed.
func (s *Service) Send(t slipmux.FrameType, payload []byte) <-chan error {
	resCh := make(chan error, 1)
	if !t.Valid() {
		resCh <- fmt.Errorf("invalid frame type %d", uint8(t))
		close(resCh)
		return resCh
	}
	if t == slipmux.FrameIP {
		if err := slipmux.CheckPacketStart(payload); err != nil {
			resCh <- err
			close(resCh)
			return resCh
		}
	}

	req := sendRequest{typ: t, payload: append([]byte(nil), payload...), result: resCh}
	s.sendMu.RLock()
	defer s.sendMu.RUnlock()
	if s.stopped {
		resCh <- ErrStopped
		close(resCh)
		return resCh
	}
	select {
	case s.outbox <- req:
	case <-s.done:
		resCh <- ErrStopped
		close(resCh)
	}

	return resCh
}

// SendConfiguration queues payload as a configuration frame with its FCS appended.
func (s *Service) SendConfiguration(payload []byte) <-chan error {
	framed := make([]byte, 0, len(payload)+2)
	framed = append(framed, payload...)

	return s.Send(slipmux.FrameConfiguration, slipmux.AppendFCS(framed))
}

// Diagnostic returns a writer that sends each Write as one diagnostic frame. Writes
// go straight to the frame writer and do not wait behind the outbox.
func (s *Service) Diagnostic() io.Writer {
	return slipmux.NewDiagnosticWriter(s.frames, diagnosticSendTimeout)
}

// DroppedDiagnosticBytes reports diagnostic bytes lost because no reader kept up.
func (s *Service) DroppedDiagnosticBytes() uint64 {
	return s.diag.Dropped()
}

func (s *Service) runConnector(ctx context.Context) {
	backoff := minBackoff
	for {
		if err := ctx.Err(); err != nil {
			return
		}

		s.publishConnStatus(connectors.ConnectionStateConnecting, nil)
		if err := s.transport.Connect(ctx); err != nil {
			s.publishConnStatus(connectors.ConnectionStateReconnecting, err)
			s.logger.Error("transport connect failed", "error", err)
			metrics.RecordReconnect()
			if !sleepWithContext(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff)
			continue
		}

		backoff = minBackoff
		if err := s.flushPeer(ctx); err != nil {
			s.logger.Warn("flush peer decoder failed", "error", err)
		}
		s.publishConnStatus(connectors.ConnectionStateConnected, nil)

		err := s.runReader(ctx)
		s.decoder.Abort()
		_ = s.transport.Close()
		if ctx.Err() != nil {
			s.publishConnStatus(connectors.ConnectionStateDisconnected, nil)
			return
		}
		s.logger.Warn("transport read failed", "error", err)
		s.publishConnStatus(connectors.ConnectionStateReconnecting, err)
		metrics.RecordReconnect()

		if !sleepWithContext(ctx, backoff) {
			return
		}
		backoff = nextBackoff(backoff)
	}
}

// flushPeer sends a lone End so a frame the peer saw half of before a reconnect is
// terminated instead of swallowing our first frame.
func (s *Service) flushPeer(ctx context.Context) error {
	writeCtx, cancel := context.WithTimeout(ctx, flushTimeout)
	defer cancel()

	return s.frames.WriteEnd(writeCtx)
}

// runReader is the only goroutine that touches the decoder and handler.
func (s *Service) runReader(ctx context.Context) error {
	buf := make([]byte, readChunkSize)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, err := s.transport.Read(ctx, buf)
		if n > 0 {
			metrics.RecordBytesReceived(n)
			_, _ = s.decoder.Write(buf[:n])
		}
		if err != nil {
			return err
		}
	}
}

// onFrameError runs on the reader goroutine and must not block.
func (s *Service) onFrameError(t slipmux.FrameType, err error) {
	select {
	case s.frameErrors <- frameError{typ: t, err: err, at: time.Now()}:
	default:
		metrics.RecordFrameError(t.String(), slipmux.ErrorKind(err))
	}
}

func (s *Service) runFrameErrors(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case fe := <-s.frameErrors:
			kind := slipmux.ErrorKind(fe.err)
			metrics.RecordFrameError(fe.typ.String(), kind)
			s.logger.Warn("received frame with error", "type", fe.typ.String(), "kind", kind, "error", fe.err)
			if !s.dropped(fe) {
				continue
			}
			s.bus.Publish(connectors.TopicFrameDropped, connectors.FrameDropped{
				Type: fe.typ.String(),
				Kind: kind,
				Err:  fe.err.Error(),
				At:   fe.at,
			})
		}
	}
}

// dropped reports whether a frame error meant the consumer never saw the frame.
// Diagnostic bytes are streamed as they arrive, so those frames are never dropped.
func (s *Service) dropped(fe frameError) bool {
	if fe.typ == slipmux.FrameDiagnostic {
		return false
	}
	if errors.Is(fe.err, slipmux.ErrReceiverBusy) {
		return true
	}

	return !s.opts.DeliverMalformed
}

func (s *Service) runConfiguration(ctx context.Context) {
	q := s.handler.Configuration()
	for {
		f, err := q.Receive(ctx)
		if err != nil {
			return
		}
		payload := append([]byte(nil), f.Payload()...)
		frameErr := f.Err
		f.Release()

		now := time.Now()
		metrics.RecordFrameReceived(slipmux.FrameConfiguration.String())
		s.publishRawFrame(connectors.DirectionIn, slipmux.FrameConfiguration, payload, frameErr, now)

		msg := connectors.ConfigurationMessage{Payload: payload, At: now}
		if s.opts.VerifyFCS {
			body, fcsErr := slipmux.CheckFCS(payload)
			if fcsErr != nil {
				metrics.RecordFrameError(slipmux.FrameConfiguration.String(), slipmux.ErrorKind(fcsErr))
				s.logger.Warn("configuration frame failed fcs check", "len", len(payload), "error", fcsErr)
				frameErr = errors.Join(frameErr, fcsErr)
			} else {
				msg.Payload = body
				msg.FCSValid = true
			}
		}
		if frameErr != nil {
			msg.Err = frameErr.Error()
		}
		s.bus.Publish(connectors.TopicConfigurationMessage, msg)
	}
}

func (s *Service) runPackets(ctx context.Context) {
	q := s.handler.Packets()
	for {
		f, err := q.Receive(ctx)
		if err != nil {
			return
		}
		payload := append([]byte(nil), f.Payload()...)
		frameErr := f.Err
		f.Release()

		now := time.Now()
		metrics.RecordFrameReceived(slipmux.FrameIP.String())
		s.publishRawFrame(connectors.DirectionIn, slipmux.FrameIP, payload, frameErr, now)

		msg := connectors.PacketMessage{Payload: payload, At: now}
		summary, descErr := packet.Describe(payload)
		if descErr != nil {
			s.logger.Debug("packet not decodable", "len", len(payload), "error", descErr)
			frameErr = errors.Join(frameErr, descErr)
		} else {
			msg.Summary = summary.String()
		}
		if frameErr != nil {
			msg.Err = frameErr.Error()
		}
		s.bus.Publish(connectors.TopicPacketMessage, msg)
	}
}

func (s *Service) runDiagnostic(ctx context.Context) {
	s.diag.Lines(ctx, s.opts.DiagnosticBufferSize, func(line string) {
		s.logger.Debug("diagnostic", "line", line)
		s.bus.Publish(connectors.TopicDiagnosticLine, connectors.DiagnosticLine{Text: line, At: time.Now()})
	})
}

func (s *Service) runOutbox(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			s.stopOutbox()
			return
		case req := <-s.outbox:
			req.result <- s.handleSend(ctx, req)
			close(req.result)
		}
	}
}

// stopOutbox fails every queued request and refuses later ones. Closing done first
// releases senders blocked on a full outbox so the write lock can be taken.
func (s *Service) stopOutbox() {
	close(s.done)
	s.sendMu.Lock()
	s.stopped = true
	s.sendMu.Unlock()

	for {
		select {
		case req := <-s.outbox:
			req.result <- ErrStopped
			close(req.result)
		default:
			return
		}
	}
}

func (s *Service) handleSend(ctx context.Context, req sendRequest) error {
	writeCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	err := s.frames.WriteFrame(writeCtx, req.typ, req.payload)
	cancel()
	if err != nil {
		return fmt.Errorf("send outgoing frame: %w", err)
	}

	metrics.RecordFrameSent(req.typ.String())
	s.publishRawFrame(connectors.DirectionOut, req.typ, req.payload, nil, time.Now())
	return nil
}

func (s *Service) publishRawFrame(dir connectors.Direction, t slipmux.FrameType, payload []byte, err error, at time.Time) {
	raw := connectors.RawFrame{
		Direction: dir,
		Type:      t.String(),
		Payload:   payload,
		Hex:       strings.ToUpper(hex.EncodeToString(payload)),
		Len:       len(payload),
		At:        at,
	}
	if err != nil {
		raw.Err = err.Error()
	}
	topic := connectors.TopicRawFrameIn
	if dir == connectors.DirectionOut {
		topic = connectors.TopicRawFrameOut
	}
	s.bus.Publish(topic, raw)
}

func (s *Service) publishConnStatus(state connectors.ConnectionState, err error) {
	status := connectors.ConnStatus{
		State:         state,
		TransportName: s.transport.Name(),
		Timestamp:     time.Now(),
	}
	if resolver, ok := s.transport.(transport.StatusTargetResolver); ok {
		status.Target = resolver.StatusTarget()
	}
	if err != nil {
		status.Err = err.Error()
	}
	s.bus.Publish(connectors.TopicConnStatus, status)
}

// diagnosticSink counts bytes the pipe had to discard.
type diagnosticSink struct {
	pipe *console.Pipe
}

func (d diagnosticSink) Put(b byte) bool {
	if d.pipe.Put(b) {
		return true
	}
	metrics.RecordDiagnosticDropped()

	return false
}

type transportSink struct {
	tr transport.Transport
}

func (s transportSink) Write(ctx context.Context, p []byte) error {
	return s.tr.Write(ctx, p)
}

func nextBackoff(d time.Duration) time.Duration {
	if d < maxBackoff {
		d *= 2
	}
	if d > maxBackoff {
		d = maxBackoff
	}

	return d
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
