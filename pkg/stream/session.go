// Package stream pushes broker frames to one live viewer.
package stream

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/wachiwi/picam/pkg/broker"
	"github.com/wachiwi/picam/pkg/frame"
)

// State is the lifecycle state of a Session.
type State string

const (
	StateCreated    State = "created"
	StateSubscribed State = "subscribed"
	StateStreaming  State = "streaming"
	StateClosed     State = "closed"
)

// Transport writes frames to a viewer.
type Transport interface {
	WriteFrame(f *frame.Frame) error
}

// peerCloser is implemented by transports that notice a disconnect on their
// own, before the next write fails.
type peerCloser interface {
	Closed() <-chan struct{}
}

// Subscriber hands out frame subscriptions. *broker.Broker implements it.
type Subscriber interface {
	Subscribe() (*broker.Subscription, error)
}

// Session streams frames from a subscription to one transport.
type Session struct {
	src Subscriber
	tr  Transport

	mu     sync.Mutex
	state  State
	id     string
	frames uint64
}

// NewSession creates a session that has not subscribed yet.
func NewSession(src Subscriber, tr Transport) *Session {
	return &Session{src: src, tr: tr, state: StateCreated}
}

// Run subscribes and writes frames until the viewer goes away, ctx is
// cancelled or the broker ends the subscription. The subscription is always
// removed before Run returns.
//
// A viewer disconnect or cancellation returns nil; a broker shutdown or
// termination returns the broker error.
func (s *Session) Run(ctx context.Context) error {
	sub, err := s.src.Subscribe()
	if err != nil {
		s.setState(StateClosed)
		return err
	}
	defer s.setState(StateClosed)
	defer sub.Close()

	s.mu.Lock()
	s.id = sub.ID()
	s.mu.Unlock()
	s.setState(StateSubscribed)

	if pc, ok := s.tr.(peerCloser); ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithCancel(ctx)
		defer cancel()
		go func() {
			select {
			case <-pc.Closed():
				cancel()
			case <-ctx.Done():
			}
		}()
	}

	s.setState(StateStreaming)
	log := slog.With("subscriber", sub.ID())
	log.Info("Viewer connected", "baseline", sub.Baseline())

	for {
		f, err := sub.Next(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, broker.ErrUnsubscribed) {
				log.Info("Viewer disconnected", "frames", s.Frames(), "dropped", sub.Dropped())
				return nil
			}
			log.Info("Stream ended by broker", "error", err, "frames", s.Frames())
			return err
		}

		if err := s.tr.WriteFrame(f); err != nil {
			log.Info("Viewer disconnected", "error", err, "frames", s.Frames(), "dropped", sub.Dropped())
			return nil
		}

		s.mu.Lock()
		s.frames++
		s.mu.Unlock()
	}
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// State returns the current session state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ID returns the subscriber id once subscribed.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// Frames returns the number of frames written so far.
func (s *Session) Frames() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}
