// Package turn implements the turn-taking state machine of a voice session.
//
// The [Machine] decides which remote turn (response) is current, whether
// captured audio may be transmitted, and which inbound audio and transcript
// fragments are let through. It performs no I/O itself: every side effect is
// requested through [Effects], and time comes from an injected clock. A
// Machine is not safe for concurrent use; the session drives it from a single
// event loop.
package turn

import (
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/MrWong99/parley/pkg/types"
)

const (
	// DefaultCooldown is the minimum time between two accepted turn starts.
	DefaultCooldown = 1200 * time.Millisecond

	// DefaultSettleDelay is how long a completed turn stays current before
	// the session returns to connected and capture resumes.
	DefaultSettleDelay = 250 * time.Millisecond
)

// Effects receives the side effects requested by a [Machine]. Methods are
// called synchronously from the Machine's caller and must not call back into
// the Machine.
type Effects interface {
	// CancelTurn asks the remote side to abandon turn id.
	CancelTurn(id string)

	// ClearInput asks the remote side to drop buffered user audio.
	ClearInput()

	// ResetPlayback moves the playback cursor to the current audio time.
	ResetPlayback()

	// PlayChunk schedules one audio chunk of the current turn.
	PlayChunk(payload string)

	// Transcript publishes a transcript fragment.
	Transcript(f types.TranscriptFragment)

	// StatusChanged publishes a status transition.
	StatusChanged(s types.Status)

	// ArmSettle must call [Machine.Settled] with id once delay has passed.
	ArmSettle(id string, delay time.Duration)
}

// Config holds the tuning knobs of a [Machine].
type Config struct {
	// Cooldown is the debounce window between accepted turn starts.
	// Default: [DefaultCooldown]. A negative value disables the window.
	Cooldown time.Duration

	// SettleDelay is the grace period after turn completion.
	// Default: [DefaultSettleDelay]. A negative value means no delay.
	SettleDelay time.Duration

	// Clock is the time source. Default: the real clock.
	Clock clockwork.Clock
}

// Machine is the turn-taking state machine.
type Machine struct {
	cooldown    time.Duration
	settleDelay time.Duration
	clock       clockwork.Clock
	fx          Effects

	state        types.Status
	current      string
	settling     bool
	lastAccepted time.Time
	accepted     bool
}

// New returns a Machine in [types.StatusDisconnected].
func New(cfg Config, fx Effects) *Machine {
	if cfg.Cooldown == 0 {
		cfg.Cooldown = DefaultCooldown
	}
	if cfg.SettleDelay == 0 {
		cfg.SettleDelay = DefaultSettleDelay
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return &Machine{
		cooldown:    max(cfg.Cooldown, 0),
		settleDelay: max(cfg.SettleDelay, 0),
		clock:       cfg.Clock,
		fx:          fx,
		state:       types.StatusDisconnected,
	}
}

// State returns the current status.
func (m *Machine) State() types.Status { return m.state }

// CurrentTurn returns the id of the current turn, or "" if there is none.
func (m *Machine) CurrentTurn() string { return m.current }

// CaptureOpen reports whether captured audio may be transmitted: the session
// is connected and no remote turn is current.
func (m *Machine) CaptureOpen() bool { return m.state == types.StatusConnected }

// Connecting enters [types.StatusConnecting] from disconnected.
func (m *Machine) Connecting() {
	if m.state != types.StatusDisconnected {
		return
	}
	m.setState(types.StatusConnecting)
}

// Connected enters [types.StatusConnected] once the remote side acknowledged
// the session. It has no effect outside [types.StatusConnecting].
func (m *Machine) Connected() {
	if m.state != types.StatusConnecting {
		return
	}
	m.setState(types.StatusConnected)
}

// TurnStarted applies the acceptance policy to a new remote turn and reports
// whether it became current. A turn is accepted only when none is current and
// the cooldown since the last accepted start has elapsed; otherwise it is
// cancelled and nothing else changes. A repeated start for the current turn
// is ignored.
func (m *Machine) TurnStarted(id string) bool {
	if !m.state.Live() || id == "" || id == m.current {
		return false
	}

	now := m.clock.Now()
	if m.current != "" || (m.accepted && now.Sub(m.lastAccepted) < m.cooldown) {
		m.fx.CancelTurn(id)
		return false
	}

	m.current = id
	m.settling = false
	m.lastAccepted = now
	m.accepted = true
	m.setState(types.StatusSpeaking)
	m.fx.ResetPlayback()
	return true
}

// AssistantTranscript publishes delta if it belongs to the current turn.
func (m *Machine) AssistantTranscript(id, delta string) bool {
	if m.current == "" || id != m.current || delta == "" {
		return false
	}
	m.fx.Transcript(types.TranscriptFragment{
		Role:      types.RoleAssistant,
		Text:      delta,
		TurnID:    id,
		Timestamp: m.clock.Now(),
	})
	return true
}

// UserTranscript publishes a recognised user utterance.
func (m *Machine) UserTranscript(text string) {
	if !m.state.Live() || text == "" {
		return
	}
	m.fx.Transcript(types.TranscriptFragment{
		Role:      types.RoleUser,
		Text:      text,
		Timestamp: m.clock.Now(),
	})
}

// AudioChunk forwards payload to playback if it belongs to the current turn
// and reports whether it did. Chunks of any other turn are dropped.
func (m *Machine) AudioChunk(id, payload string) bool {
	if m.current == "" || id != m.current {
		return false
	}
	m.fx.PlayChunk(payload)
	return true
}

// TurnCompleted handles the completion of turn id. For the current turn it
// clears the remote input buffer immediately and arms the settle timer;
// completions of any other turn are ignored.
func (m *Machine) TurnCompleted(id string) bool {
	if m.current == "" || id != m.current || m.settling {
		return false
	}
	m.settling = true
	m.fx.ClearInput()
	m.fx.ArmSettle(id, m.settleDelay)
	return true
}

// Settled ends turn id after its settle delay and returns to connected. It
// has no effect if id is no longer current.
func (m *Machine) Settled(id string) {
	if !m.settling || id != m.current {
		return
	}
	m.current = ""
	m.settling = false
	if m.state == types.StatusSpeaking {
		m.setState(types.StatusConnected)
	}
}

// Fail enters [types.StatusError] and forgets the current turn.
func (m *Machine) Fail() {
	m.clearTurn()
	m.setState(types.StatusError)
}

// Disconnected enters [types.StatusDisconnected] and forgets the current turn.
// The cooldown history is kept for the life of the Machine.
func (m *Machine) Disconnected() {
	m.clearTurn()
	m.setState(types.StatusDisconnected)
}

func (m *Machine) clearTurn() {
	m.current = ""
	m.settling = false
}

func (m *Machine) setState(s types.Status) {
	if m.state == s {
		return
	}
	m.state = s
	m.fx.StatusChanged(s)
}
