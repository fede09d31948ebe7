package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/parley/internal/session"
	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/types"
)

// meterInterval throttles the debug level meter.
const meterInterval = 500 * time.Millisecond

// console prints session notifications to a terminal. It stands in for a
// graphical front end: statuses and user utterances get a line each,
// assistant deltas are streamed onto one line per turn.
type console struct {
	w      io.Writer
	failed chan error

	mu        sync.Mutex
	turn      string // assistant turn currently being streamed
	lastMeter time.Time
	now       func() time.Time
}

var _ session.Listener = (*console)(nil)

func newConsole(w io.Writer) *console {
	return &console{
		w:      w,
		failed: make(chan error, 1),
		now:    time.Now,
	}
}

func (c *console) OnStatus(s types.Status) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.endLine()
	fmt.Fprintf(c.w, "[%s]\n", s)
}

func (c *console) OnTranscript(f types.TranscriptFragment) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch f.Role {
	case types.RoleUser:
		c.endLine()
		fmt.Fprintf(c.w, "you: %s\n", strings.TrimSpace(f.Text))
	case types.RoleAssistant:
		if f.TurnID != c.turn {
			c.endLine()
			c.turn = f.TurnID
			fmt.Fprint(c.w, "assistant: ")
		}
		fmt.Fprint(c.w, f.Text)
	}
}

// OnAudioLevel logs a coarse meter of the microphone at debug level.
func (c *console) OnAudioLevel(samples []float32) {
	c.mu.Lock()
	now := c.now()
	if now.Sub(c.lastMeter) < meterInterval {
		c.mu.Unlock()
		return
	}
	c.lastMeter = now
	c.mu.Unlock()

	peak := audio.Peak(samples)
	slog.Debug("mic level", "peak", peak, "meter", meter(peak, 20))
}

// OnError reports a failure of a live session and hands it to the main
// goroutine. Only the first failure is kept.
func (c *console) OnError(err error) {
	c.mu.Lock()
	c.endLine()
	fmt.Fprintf(c.w, "error: %v\n", err)
	c.mu.Unlock()

	select {
	case c.failed <- err:
	default:
	}
}

// endLine terminates a streamed assistant line.
func (c *console) endLine() {
	if c.turn != "" {
		fmt.Fprintln(c.w)
		c.turn = ""
	}
}

// meter renders peak in [0, 1] as a bar of width cells.
func meter(peak float32, width int) string {
	n := int(min(max(peak, 0), 1)*float32(width) + 0.5)
	return strings.Repeat("#", n) + strings.Repeat(".", width-n)
}
