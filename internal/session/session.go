// Package session composes the transport, the capture pipeline, the playback
// scheduler and the turn machine into one realtime voice session.
//
// A [Controller] runs at most one call at a time. [Controller.Connect]
// acquires the audio device, mints a credential, opens the channel and waits
// for the remote side to acknowledge the session configuration. From then on
// a single event-loop goroutine per call serialises everything that touches
// session state: inbound messages, microphone frames, settle timers and
// channel failures. Any failure tears the call down completely; a later
// Connect always starts from fresh resources.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/parley/internal/capture"
	"github.com/MrWong99/parley/internal/credentials"
	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/internal/playback"
	"github.com/MrWong99/parley/internal/protocol"
	"github.com/MrWong99/parley/internal/transport"
	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/types"
)

// ErrActive is wrapped into the connect error returned when a call is already
// in progress.
var ErrActive = errors.New("session: already active")

// errAborted is the cause of a connect interrupted by Disconnect.
var errAborted = errors.New("session: connect aborted")

// defaultEventBuffer is the capacity of a call's event queue.
const defaultEventBuffer = 64

// Issuer mints the credential for one connection attempt.
type Issuer interface {
	Issue(ctx context.Context, req credentials.Request) (transport.Credential, error)
}

// Config describes the remote session and the local audio set-up.
type Config struct {
	// Endpoint is the realtime URL, including the model query parameter.
	Endpoint string

	// Model, Voice and Instructions are passed to the credential backend.
	Model        string
	Voice        string
	Instructions string

	// Session is sent as the initial session.update.
	Session protocol.SessionConfig

	// SampleRate is the wire rate in both directions.
	// Default: [audio.DefaultSampleRate].
	SampleRate int

	// DeviceRate is the rate the audio device is opened at. Default: SampleRate.
	DeviceRate int

	// FrameSize is the number of samples per transmitted frame.
	// Default: [audio.DefaultFrameSize].
	FrameSize int

	// Cooldown and SettleDelay tune the turn machine; see [turn.Config].
	Cooldown    time.Duration
	SettleDelay time.Duration

	// EventBuffer is the capacity of the per-call event queue. Microphone
	// frames arriving while it is full are dropped. Default: 64.
	EventBuffer int
}

// Option configures a [Controller].
type Option func(*Controller)

// WithOpener sets the audio device opener. Required.
func WithOpener(o audio.Opener) Option {
	return func(c *Controller) { c.opener = o }
}

// WithDialer sets the channel dialer. Default: [transport.NewWebSocketDialer].
func WithDialer(d transport.Dialer) Option {
	return func(c *Controller) { c.dialer = d }
}

// WithIssuer sets the credential issuer. Required.
func WithIssuer(i Issuer) Option {
	return func(c *Controller) { c.issuer = i }
}

// WithClock sets the time source of the turn machine and settle timers.
func WithClock(clk clockwork.Clock) Option {
	return func(c *Controller) { c.clock = clk }
}

// WithMetrics sets the metric instruments. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithListener sets the notification sink.
func WithListener(l Listener) Option {
	return func(c *Controller) { c.listener = l }
}

// Controller manages the lifecycle of voice calls. It is safe for concurrent
// use.
type Controller struct {
	cfg      Config
	opener   audio.Opener
	dialer   transport.Dialer
	issuer   Issuer
	clock    clockwork.Clock
	metrics  *observe.Metrics
	listener Listener

	status atomic.Int32

	mu   sync.Mutex
	call *call
}

// New returns a Controller. An [audio.Opener] and an [Issuer] are required.
func New(cfg Config, opts ...Option) (*Controller, error) {
	c := &Controller{cfg: cfg}
	for _, o := range opts {
		o(c)
	}
	if c.opener == nil {
		return nil, errors.New("session: audio opener is required")
	}
	if c.issuer == nil {
		return nil, errors.New("session: credential issuer is required")
	}
	if cfg.Endpoint == "" {
		return nil, errors.New("session: endpoint is required")
	}
	if c.dialer == nil {
		c.dialer = transport.NewWebSocketDialer()
	}
	if c.clock == nil {
		c.clock = clockwork.NewRealClock()
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	if c.listener == nil {
		c.listener = ListenerFuncs{}
	}
	if c.cfg.SampleRate <= 0 {
		c.cfg.SampleRate = audio.DefaultSampleRate
	}
	if c.cfg.DeviceRate <= 0 {
		c.cfg.DeviceRate = c.cfg.SampleRate
	}
	if c.cfg.FrameSize <= 0 {
		c.cfg.FrameSize = audio.DefaultFrameSize
	}
	if c.cfg.EventBuffer <= 0 {
		c.cfg.EventBuffer = defaultEventBuffer
	}
	return c, nil
}

// Status returns the current status.
func (c *Controller) Status() types.Status {
	return types.Status(c.status.Load())
}

// Connect starts a call for identity and blocks until the remote side has
// acknowledged the session, a step fails, or ctx is done. Device acquisition
// happens synchronously inside this call.
//
// On failure every acquired resource is released, the status passes through
// error and settles at disconnected, and a [types.Error] is returned: a
// device error when the audio device or microphone cannot be acquired, a
// connect error otherwise (including when a call is already active).
func (c *Controller) Connect(ctx context.Context, identity string) (err error) {
	ctx, span := observe.StartSpan(ctx, "session.connect",
		trace.WithAttributes(attribute.String("identity", identity)),
	)
	cl, ok := c.reserve(ctx)
	if !ok {
		err = types.ConnectError("session: connect", ErrActive)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.End()
		return err
	}
	span.SetAttributes(attribute.String("call_id", cl.id))

	start := c.clock.Now()
	defer func() {
		c.metrics.RecordConnect(ctx, c.clock.Since(start), err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	connectCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	cl.setAbort(cancel)

	cl.machine.Connecting()
	cl.log.Info("session connecting", "identity", identity, "endpoint", c.cfg.Endpoint)

	if err := cl.setup(connectCtx, identity); err != nil {
		if connectCtx.Err() != nil && ctx.Err() == nil {
			err = types.ConnectError("session: connect", errAborted)
		}
		cl.teardown(err)
		close(cl.done)
		return err
	}

	go cl.run()
	cl.conn.Listen(transport.Handlers{
		OnMessage: cl.onMessage,
		OnError:   cl.onError,
		OnClose:   cl.onClose,
	})

	if err := cl.conn.Send(connectCtx, protocol.NewSessionUpdate(c.cfg.Session)); err != nil {
		err = types.ConnectError("session: configure", err)
		cl.stop(err)
		return err
	}

	select {
	case <-cl.ready:
		cl.log.Info("session connected",
			"elapsed", c.clock.Since(start),
			"frame_size", cl.pipeline.FrameSize())
		return nil
	case <-cl.done:
		cause := cl.cause
		if cause == nil {
			cause = errAborted
		}
		return types.ConnectError("session: handshake", cause)
	case <-connectCtx.Done():
		cause := context.Cause(connectCtx)
		if ctx.Err() == nil {
			cause = errAborted
		}
		err := types.ConnectError("session: handshake", cause)
		cl.stop(err)
		return err
	}
}

// Disconnect ends the current call, if any, and waits until its resources
// are released. It never fails and may be called any number of times.
func (c *Controller) Disconnect() {
	c.mu.Lock()
	cl := c.call
	c.mu.Unlock()
	if cl == nil {
		return
	}
	cl.stop(nil)
}

// reserve claims the single call slot.
func (c *Controller) reserve(ctx context.Context) (*call, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.call != nil {
		return nil, false
	}
	cl := newCall(ctx, c)
	c.call = cl
	return cl, true
}

// ── Call setup ────────────────────────────────────────────────────────────────

// setup acquires the device, starts the microphone, mints a credential and
// dials, in that order. Resources are recorded on cl as they are acquired so
// that teardown can release whatever was obtained.
func (cl *call) setup(ctx context.Context, identity string) error {
	c := cl.ctrl

	dev, err := c.opener.Open(ctx, audio.Mono(c.cfg.DeviceRate))
	if err != nil {
		return types.DeviceError("session: open device", err)
	}
	cl.device = dev

	player, err := playback.New(dev.Output(), c.cfg.SampleRate)
	if err != nil {
		return types.DeviceError("session: playback", err)
	}
	cl.player = player

	pipe, err := capture.New(capture.Config{
		DeviceRate:  c.cfg.DeviceRate,
		SessionRate: c.cfg.SampleRate,
		FrameSize:   c.cfg.FrameSize,
		Sender:      cl,
		Gate:        cl.machine.CaptureOpen,
		Level:       c.listener.OnAudioLevel,
		Observe: func(o capture.Outcome) {
			c.metrics.RecordCaptureFrame(cl.ctx, string(o))
		},
	})
	if err != nil {
		return types.DeviceError("session: capture", err)
	}
	cl.pipeline = pipe

	mic, err := dev.OpenMicrophone(cl.onFrame)
	if err != nil {
		return types.DeviceError("session: open microphone", err)
	}
	cl.mic = mic

	if err := ctx.Err(); err != nil {
		return types.ConnectError("session: connect", err)
	}

	cred, err := c.issuer.Issue(ctx, credentials.Request{
		Identity:     identity,
		Model:        c.cfg.Model,
		Voice:        c.cfg.Voice,
		Instructions: c.cfg.Instructions,
	})
	if err != nil {
		if types.KindOf(err) == 0 {
			err = types.ConnectError("session: credentials", err)
		}
		return err
	}

	conn, err := c.dialer.Dial(ctx, c.cfg.Endpoint, cred)
	if err != nil {
		if types.KindOf(err) == 0 {
			err = types.ConnectError("session: dial", err)
		}
		return err
	}
	cl.conn = conn
	return nil
}

// Send implements [capture.Sender] on top of the call's channel.
func (cl *call) Send(ctx context.Context, msg any) error {
	if cl.conn == nil {
		return nil
	}
	return cl.conn.Send(ctx, msg)
}

// Open implements [capture.Sender].
func (cl *call) Open() bool {
	return cl.conn != nil && cl.conn.Open()
}

var _ capture.Sender = (*call)(nil)

// newCallID returns a fresh call identifier for logs and spans.
func newCallID() string {
	return fmt.Sprintf("call_%s", uuid.NewString())
}
