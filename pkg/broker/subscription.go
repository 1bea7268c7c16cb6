package broker

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/wachiwi/picam/pkg/frame"
)

// Subscription is the registration of one live viewer.
//
// Frames are delivered through a bounded buffer. When the viewer falls
// behind, the oldest buffered frame is replaced by the newest one, so a slow
// viewer sees gaps in the sequence but never stalls the broker or other viewers.
type Subscription struct {
	id       string
	baseline uint64
	broker   *Broker

	mu     sync.Mutex
	frames chan *frame.Frame
	done   chan struct{}
	err    error

	lastSeq atomic.Uint64
	dropped atomic.Uint64
}

func newSubscription(b *Broker, id string, baseline uint64, depth int) *Subscription {
	return &Subscription{
		id:       id,
		baseline: baseline,
		broker:   b,
		frames:   make(chan *frame.Frame, depth),
		done:     make(chan struct{}),
	}
}

// ID returns the unique subscriber id.
func (s *Subscription) ID() string { return s.id }

// Baseline is the latest sequence number at registration time. Only frames
// with a larger sequence number are delivered.
func (s *Subscription) Baseline() uint64 { return s.baseline }

// Dropped returns how many frames were replaced because the buffer was full.
func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

// LastSeq returns the sequence number of the last frame returned by Next.
func (s *Subscription) LastSeq() uint64 { return s.lastSeq.Load() }

// Alive reports whether the subscription still receives frames.
func (s *Subscription) Alive() bool {
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

// Done is closed when the subscription ends.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Err returns why the subscription ended, or nil while it is alive.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Next blocks until a new frame is available. Frames already buffered are
// still returned after the subscription ended; after that Next returns the
// reason it ended (ErrBrokerTerminated, ErrBrokerClosed or ErrUnsubscribed).
func (s *Subscription) Next(ctx context.Context) (*frame.Frame, error) {
	select {
	case f := <-s.frames:
		s.lastSeq.Store(f.Seq)
		return f, nil
	case <-s.done:
		select {
		case f := <-s.frames:
			s.lastSeq.Store(f.Seq)
			return f, nil
		default:
			return nil, s.Err()
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close removes the subscription from the broker.
func (s *Subscription) Close() {
	s.broker.Unsubscribe(s.id)
}

// offer queues f, replacing the oldest buffered frame when full. It reports
// whether a frame was dropped. Only the broker's publisher calls it.
func (s *Subscription) offer(f *frame.Frame) (dropped bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil || f.Seq <= s.baseline {
		return false
	}
	select {
	case s.frames <- f:
		return false
	default:
	}

	select {
	case <-s.frames:
		dropped = true
		s.dropped.Add(1)
	default:
	}
	select {
	case s.frames <- f:
	default:
	}
	return dropped
}

func (s *Subscription) close(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return
	}
	s.err = err
	close(s.done)
}
