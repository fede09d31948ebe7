package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/MrWong99/parley/internal/capture"
	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/internal/playback"
	"github.com/MrWong99/parley/internal/protocol"
	"github.com/MrWong99/parley/internal/transport"
	"github.com/MrWong99/parley/internal/turn"
	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/types"
)

// eventKind tags an entry of the call's event queue.
type eventKind int

const (
	evMessage eventKind = iota + 1
	evFrame
	evSettle
	evFailure
	evClosed
)

// event is one unit of work for the event loop.
type event struct {
	kind    eventKind
	data    []byte
	samples []float32
	turnID  string
	err     error
}

// call is the state of one connect attempt. Fields below the loop marker are
// owned by the event loop once it runs; before that, by Connect.
type call struct {
	id   string
	ctrl *Controller
	log  *slog.Logger

	// ctx lives as long as the call and carries every outbound send.
	ctx    context.Context
	cancel context.CancelFunc

	events chan event
	stopc  chan error
	ready  chan struct{}
	done   chan struct{}

	mu    sync.Mutex
	abort context.CancelFunc

	// ── loop-owned ──
	machine  *turn.Machine
	device   audio.Device
	mic      audio.Microphone
	conn     transport.Conn
	player   *playback.Scheduler
	pipeline *capture.Pipeline
	settle   clockwork.Timer
	live     bool
	cause    error
}

// newCall prepares a call. Its logger is derived from ctx so that records
// carry the trace of the connect span.
func newCall(ctx context.Context, c *Controller) *call {
	id := newCallID()
	log := observe.Logger(ctx).With("call_id", id)
	callCtx, cancel := context.WithCancel(context.Background())
	cl := &call{
		id:     id,
		ctrl:   c,
		log:    log,
		ctx:    callCtx,
		cancel: cancel,
		events: make(chan event, c.cfg.EventBuffer),
		stopc:  make(chan error, 1),
		ready:  make(chan struct{}),
		done:   make(chan struct{}),
	}
	cl.machine = turn.New(turn.Config{
		Cooldown:    c.cfg.Cooldown,
		SettleDelay: c.cfg.SettleDelay,
		Clock:       c.clock,
	}, effects{cl})
	return cl
}

// setAbort records the function that interrupts a pending Connect.
func (cl *call) setAbort(f context.CancelFunc) {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	cl.abort = f
}

// stop asks the call to end with cause (nil for a requested disconnect) and
// waits until it has been torn down. Only the first cause is kept.
func (cl *call) stop(cause error) {
	cl.mu.Lock()
	abort := cl.abort
	cl.mu.Unlock()
	if abort != nil {
		abort()
	}
	select {
	case cl.stopc <- cause:
	default:
	}
	<-cl.done
}

// ── Event sources ─────────────────────────────────────────────────────────────

// post queues ev, blocking until there is room or the call has ended.
func (cl *call) post(ev event) {
	select {
	case cl.events <- ev:
	case <-cl.done:
	}
}

func (cl *call) onMessage(data []byte) {
	cl.post(event{kind: evMessage, data: data})
}

func (cl *call) onError(err error) {
	cl.post(event{kind: evFailure, err: err})
}

func (cl *call) onClose() {
	cl.post(event{kind: evClosed})
}

// onFrame runs on the device's capture goroutine and must not block. The
// frame is copied because the device reuses its buffer.
func (cl *call) onFrame(samples []float32) {
	cp := make([]float32, len(samples))
	copy(cp, samples)
	select {
	case cl.events <- event{kind: evFrame, samples: cp}:
	default:
		cl.ctrl.metrics.RecordCaptureFrame(cl.ctx, "dropped")
	}
}

// ── Event loop ────────────────────────────────────────────────────────────────

// run serialises every event of the call until it fails or is stopped.
func (cl *call) run() {
	defer close(cl.done)
	for {
		select {
		case cause := <-cl.stopc:
			cl.teardown(cause)
			return
		case ev := <-cl.events:
			if err := cl.handle(ev); err != nil {
				cl.teardown(err)
				return
			}
		}
	}
}

// handle processes one event. A non-nil return ends the call with that error.
func (cl *call) handle(ev event) error {
	switch ev.kind {
	case evMessage:
		return cl.handleMessage(ev.data)
	case evFrame:
		if err := cl.pipeline.Push(cl.ctx, ev.samples); err != nil {
			// The channel reports its own failure through the handlers.
			cl.log.Warn("capture frame not sent", "err", err)
		}
	case evSettle:
		cl.settle = nil
		cl.machine.Settled(ev.turnID)
	case evFailure:
		if types.KindOf(ev.err) == 0 {
			return types.TransportError("session: channel", ev.err)
		}
		return ev.err
	case evClosed:
		return types.TransportError("session: channel", errors.New("closed by remote"))
	}
	return nil
}

func (cl *call) handleMessage(data []byte) error {
	evt, err := protocol.Parse(data)
	if err != nil {
		return types.ProtocolError("session: inbound", err)
	}

	m := cl.machine
	switch evt.Type {
	case protocol.TypeSessionUpdated:
		if m.State() == types.StatusConnecting {
			m.Connected()
			cl.live = true
			cl.ctrl.metrics.ActiveSessions.Add(cl.ctx, 1)
			close(cl.ready)
		}

	case protocol.TypeInputTranscriptComplete:
		m.UserTranscript(evt.Transcript)

	case protocol.TypeResponseCreated:
		id := evt.TurnID()
		if id == "" || id == m.CurrentTurn() || !m.State().Live() {
			return nil
		}
		accepted := m.TurnStarted(id)
		cl.ctrl.metrics.RecordTurn(cl.ctx, accepted)
		if accepted {
			cl.log.Debug("turn accepted", "turn_id", id)
		} else {
			cl.log.Debug("turn cancelled", "turn_id", id, "current", m.CurrentTurn())
		}

	case protocol.TypeResponseTranscriptDelta:
		m.AssistantTranscript(evt.TurnID(), evt.Delta)

	case protocol.TypeResponseAudioDelta:
		if !m.AudioChunk(evt.TurnID(), evt.Delta) {
			cl.ctrl.metrics.RecordPlaybackChunk(cl.ctx, "stale")
		}

	case protocol.TypeResponseDone:
		m.TurnCompleted(evt.TurnID())

	case protocol.TypeError:
		return types.ProtocolError("session: remote", errors.New(evt.ErrorMessage()))

	default:
		cl.log.Debug("ignoring event", "type", evt.Type)
	}
	return nil
}

// ── Teardown ──────────────────────────────────────────────────────────────────

// teardown releases every resource of the call and settles the status at
// disconnected. A non-nil cause is reported and passes through error first.
func (cl *call) teardown(cause error) {
	c := cl.ctrl
	if cl.settle != nil {
		cl.settle.Stop()
		cl.settle = nil
	}

	if cause != nil {
		c.metrics.RecordError(cl.ctx, types.KindOf(cause).String())
		cl.log.Error("session failed", "err", cause)
		if cl.live {
			c.listener.OnError(cause)
		}
		cl.machine.Fail()
	}

	if err := cl.release(); err != nil {
		cl.log.Warn("teardown incomplete", "err", err)
	}
	if cl.live {
		c.metrics.ActiveSessions.Add(cl.ctx, -1)
	}
	cl.cause = cause
	cl.cancel()

	// Publish disconnected and free the slot together so that a Connect
	// observing the status never finds the slot taken.
	c.mu.Lock()
	cl.machine.Disconnected()
	if c.call == cl {
		c.call = nil
	}
	c.mu.Unlock()
	cl.log.Info("session ended")
}

// release closes the microphone, the channel and the device independently
// and joins their errors.
func (cl *call) release() error {
	var errs []error
	if cl.mic != nil {
		if err := cl.mic.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if cl.conn != nil {
		if err := cl.conn.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if cl.device != nil {
		if err := cl.device.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ── Turn effects ──────────────────────────────────────────────────────────────

// effects carries out the side effects requested by the turn machine. It
// runs on the event loop.
type effects struct{ cl *call }

var _ turn.Effects = effects{}

func (e effects) send(msg any) {
	if err := e.cl.Send(e.cl.ctx, msg); err != nil {
		e.cl.log.Warn("send failed", "err", err)
	}
}

func (e effects) CancelTurn(id string) { e.send(protocol.NewResponseCancel(id)) }

func (e effects) ClearInput() { e.send(protocol.NewInputAudioClear()) }

func (e effects) ResetPlayback() {
	cl := e.cl
	if tail := cl.player.NextPlayTime() - cl.device.Output().Position(); tail > 0 || cl.pipeline.Buffered() > 0 {
		cl.log.Debug("dropping previous turn audio",
			"playback_samples", tail,
			"capture_samples", cl.pipeline.Buffered())
	}
	cl.player.Reset()
	cl.pipeline.Reset()
}

func (e effects) PlayChunk(payload string) {
	cl := e.cl
	m := cl.ctrl.metrics
	res, err := cl.player.Enqueue(payload)
	if err != nil {
		cl.log.Warn("audio chunk dropped", "turn_id", cl.machine.CurrentTurn(), "err", err)
		m.RecordPlaybackChunk(cl.ctx, "invalid")
		return
	}
	m.RecordPlaybackChunk(cl.ctx, "scheduled")
	if res.Underrun {
		m.RecordUnderrun(cl.ctx)
	}
}

func (e effects) Transcript(f types.TranscriptFragment) {
	e.cl.ctrl.listener.OnTranscript(f)
}

func (e effects) StatusChanged(s types.Status) {
	e.cl.ctrl.status.Store(int32(s))
	e.cl.log.Debug("status changed", "status", s.String())
	e.cl.ctrl.listener.OnStatus(s)
}

func (e effects) ArmSettle(id string, delay time.Duration) {
	cl := e.cl
	if cl.settle != nil {
		cl.settle.Stop()
	}
	cl.settle = cl.ctrl.clock.AfterFunc(delay, func() {
		cl.post(event{kind: evSettle, turnID: id})
	})
}
