// Package snapshot serves one-shot captures and optionally keeps them on disk.
package snapshot

import (
	"context"
	"fmt"
	"time"

	"github.com/wachiwi/picam/pkg/frame"
)

// Policy selects where a snapshot comes from.
type Policy string

const (
	// PolicyLatest reuses the broker's latest frame while it is fresh enough.
	PolicyLatest Policy = "latest"
	// PolicyDedicated always acquires a new frame.
	PolicyDedicated Policy = "dedicated"
)

// ParsePolicy parses a policy name.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(s); p {
	case PolicyLatest, PolicyDedicated:
		return p, nil
	default:
		return "", fmt.Errorf("unknown snapshot policy %q", s)
	}
}

// Source produces snapshot frames. *broker.Broker implements it.
type Source interface {
	Snapshot(ctx context.Context, maxAge time.Duration) (*frame.Frame, error)
}

// Config holds snapshot configuration
type Config struct {
	Policy    Policy
	Freshness time.Duration // max age of a reused frame with PolicyLatest
	Timeout   time.Duration // bound for a single capture, zero for none
}

// Handler services capture requests.
type Handler struct {
	src Source
	cfg Config
}

// NewHandler creates a handler. An empty policy means PolicyLatest.
func NewHandler(src Source, cfg Config) *Handler {
	if cfg.Policy == "" {
		cfg.Policy = PolicyLatest
	}
	if cfg.Policy == PolicyLatest && cfg.Freshness <= 0 {
		cfg.Freshness = 500 * time.Millisecond
	}
	return &Handler{src: src, cfg: cfg}
}

// Capture returns one complete frame. Errors from the camera, the encoder
// and the broker are returned unchanged so callers can classify them.
func (h *Handler) Capture(ctx context.Context) (*frame.Frame, error) {
	if h.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.cfg.Timeout)
		defer cancel()
	}

	var maxAge time.Duration
	if h.cfg.Policy == PolicyLatest {
		maxAge = h.cfg.Freshness
	}
	return h.src.Snapshot(ctx, maxAge)
}

// Policy returns the configured policy.
func (h *Handler) Policy() Policy {
	return h.cfg.Policy
}
