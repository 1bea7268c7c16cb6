// Package indicator shows the broker state on a status LED.
package indicator

import (
	"context"
	"log/slog"
	"time"

	"github.com/wachiwi/picam/pkg/broker"
)

// BlinkInterval is the toggle period while the camera is recovering.
const BlinkInterval = 250 * time.Millisecond

// Line is a single GPIO output.
type Line interface {
	SetValue(value int) error
	Close() error
}

// StateSource reports the broker state. *broker.Broker implements it.
type StateSource interface {
	State() broker.State
}

// LED drives a status LED: on while running, blinking while degraded and
// off otherwise.
type LED struct {
	line Line
	on   bool
}

// New wraps line.
func New(line Line) *LED {
	return &LED{line: line}
}

// Follow updates the LED from src every BlinkInterval until ctx is done.
// The LED is switched off and the line closed on return.
func (l *LED) Follow(ctx context.Context, src StateSource) {
	ticker := time.NewTicker(BlinkInterval)
	defer ticker.Stop()
	defer func() {
		l.set(false)
		if err := l.line.Close(); err != nil {
			slog.Warn("Failed to close status LED line", "error", err)
		}
	}()

	for {
		l.update(src.State())
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (l *LED) update(s broker.State) {
	switch s {
	case broker.StateRunning:
		l.set(true)
	case broker.StateDegraded:
		l.set(!l.on)
	default:
		l.set(false)
	}
}

func (l *LED) set(on bool) {
	if l.on == on {
		return
	}
	v := 0
	if on {
		v = 1
	}
	if err := l.line.SetValue(v); err != nil {
		slog.Warn("Failed to set status LED", "error", err)
		return
	}
	l.on = on
}
