package slipmux

// DiagnosticSink accepts diagnostic text one byte at a time. Put must not block and
// reports false when the byte was dropped.
type DiagnosticSink interface {
	Put(b byte) bool
}

// FrameErrorFunc observes frames that ended with a wire-level error.
type FrameErrorFunc func(t FrameType, err error)

type HandlerOptions struct {
	ConfigurationBufferSize int
	PacketBufferSize        int
	// QueueDepth is the number of buffers per frame type. 1 gives a single
	// ready/drained slot.
	QueueDepth int
	// DeliverMalformed hands frames with errors to the consumer with Frame.Err set
	// instead of discarding them.
	DeliverMalformed bool
	Diagnostic       DiagnosticSink
	OnFrameError     FrameErrorFunc
}

// Handler is the default FrameHandler. Diagnostic bytes stream into a DiagnosticSink,
// Configuration and Ip frames are assembled into bounded buffers and handed off
// through per-type queues. Its per-byte path takes no locks and does not allocate.
type Handler struct {
	diag             DiagnosticSink
	configuration    *Queue
	packets          *Queue
	deliverMalformed bool
	onError          FrameErrorFunc

	open     bool
	typ      FrameType
	cur      *Frame
	diagLost bool
	refused  bool
}

func NewHandler(opts HandlerOptions) *Handler {
	if opts.ConfigurationBufferSize <= 0 {
		opts.ConfigurationBufferSize = DefaultConfigurationBufferSize
	}
	if opts.PacketBufferSize <= 0 {
		opts.PacketBufferSize = DefaultPacketBufferSize
	}

	return &Handler{
		diag:             opts.Diagnostic,
		configuration:    newQueue(FrameConfiguration, opts.QueueDepth, opts.ConfigurationBufferSize),
		packets:          newQueue(FrameIP, opts.QueueDepth, opts.PacketBufferSize),
		deliverMalformed: opts.DeliverMalformed,
		onError:          opts.OnFrameError,
	}
}

func (h *Handler) Configuration() *Queue {
	return h.configuration
}

func (h *Handler) Packets() *Queue {
	return h.packets
}

func (h *Handler) BeginFrame(t FrameType) {
	if h.open {
		panic(&ProtocolViolation{Op: "begin " + t.String(), State: h.typ.String() + " frame open"})
	}
	h.open = true
	h.typ = t
	h.cur = nil
	h.diagLost = false
	h.refused = false

	q := h.queueFor(t)
	if q == nil {
		return
	}
	f, ok := q.take()
	if !ok {
		h.refused = true
		return
	}
	h.cur = f
}

func (h *Handler) PutByte(b byte) {
	if !h.open {
		panic(&ProtocolViolation{Op: "put byte", State: "no frame open"})
	}
	if h.typ == FrameDiagnostic {
		if h.diag == nil || !h.diag.Put(b) {
			h.diagLost = true
		}
		return
	}
	if h.cur != nil {
		h.cur.buf.Append(b)
	}
}

func (h *Handler) EndFrame(err error) {
	if !h.open {
		panic(&ProtocolViolation{Op: "end frame", State: "no frame open"})
	}
	h.open = false
	t := h.typ

	if t == FrameDiagnostic {
		if h.diagLost {
			err = joinErr(err, ErrBufferOverflow)
		}
		h.report(t, err)
		return
	}

	q := h.queueFor(t)
	if h.refused {
		h.report(t, joinErr(err, ErrReceiverBusy))
		return
	}
	f := h.cur
	h.cur = nil
	if f.buf.Overflowed() {
		err = joinErr(err, ErrBufferOverflow)
	}
	if err != nil {
		h.report(t, err)
		if !h.deliverMalformed {
			q.put(f)
			return
		}
	}
	f.Err = err
	q.publish(f)
}

func (h *Handler) report(t FrameType, err error) {
	if err == nil || h.onError == nil {
		return
	}
	h.onError(t, err)
}

func (h *Handler) queueFor(t FrameType) *Queue {
	switch t {
	case FrameConfiguration:
		return h.configuration
	case FrameIP:
		return h.packets
	default:
		return nil
	}
}
