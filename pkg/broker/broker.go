// Package broker runs the capture loop and fans frames out to subscribers.
package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"

	"github.com/wachiwi/picam/pkg/camera"
	"github.com/wachiwi/picam/pkg/frame"
)

// State is the lifecycle state of the broker.
type State string

const (
	StateStarting   State = "starting"
	StateRunning    State = "running"
	StateDegraded   State = "degraded"
	StateTerminated State = "terminated"
	StateStopped    State = "stopped"
)

// Source is the exclusive camera access the broker captures from.
// *camera.Resource implements it.
type Source interface {
	Start(ctx context.Context) error
	AcquireFrame(ctx context.Context) (camera.RawFrame, error)
	Restart(ctx context.Context) error
}

// Encoder turns raw frames into JPEG frames.
type Encoder interface {
	Encode(raw camera.RawFrame) (*frame.Frame, error)
}

// Config holds broker configuration
type Config struct {
	// FPS caps the capture loop. Zero captures as fast as the device delivers.
	FPS int
	// BufferDepth is the per-subscriber frame buffer.
	BufferDepth int
	// RetryLimit is the number of restart attempts after a device failure.
	// A negative value gives up on the first failure.
	RetryLimit           int
	RetryInitialInterval time.Duration
	RetryMaxInterval     time.Duration
}

func (c Config) withDefaults() Config {
	if c.BufferDepth <= 0 {
		c.BufferDepth = 1
	}
	if c.RetryLimit == 0 {
		c.RetryLimit = 3
	}
	if c.RetryInitialInterval <= 0 {
		c.RetryInitialInterval = 500 * time.Millisecond
	}
	if c.RetryMaxInterval <= 0 {
		c.RetryMaxInterval = 5 * time.Second
	}
	return c
}

// SubscriberStats describes one registration.
type SubscriberStats struct {
	ID       string `json:"id"`
	Baseline uint64 `json:"baseline"`
	LastSeq  uint64 `json:"last_seq"`
	Dropped  uint64 `json:"dropped"`
}

// Stats is a point-in-time view of the broker.
type Stats struct {
	State        State             `json:"state"`
	Seq          uint64            `json:"seq"`
	Published    uint64            `json:"published"`
	Dropped      uint64            `json:"dropped"`
	EncodeErrors uint64            `json:"encode_errors"`
	DeviceErrors uint64            `json:"device_errors"`
	Restarts     uint64            `json:"restarts"`
	LastError    string            `json:"last_error,omitempty"`
	Subscribers  []SubscriberStats `json:"subscribers"`
}

// Broker owns the capture loop. It acquires frames from the camera, encodes
// them, numbers them and pushes them to every subscriber.
type Broker struct {
	src Source
	enc Encoder
	cfg Config

	// pubMu serializes sequence assignment and fan-out so frames reach every
	// subscriber in sequence order, whether they come from the loop or Snapshot.
	pubMu  sync.Mutex
	seq    uint64
	latest atomic.Pointer[frame.Frame]

	subsMu sync.RWMutex
	subs   map[string]*Subscription
	endErr error // set once the broker is terminated or stopped

	stateMu   sync.RWMutex
	state     State
	lastError error

	lifeMu  sync.Mutex // guards started, stopped and cancel
	started bool
	stopped bool
	cancel  context.CancelFunc
	done    chan struct{}

	published    atomic.Uint64
	dropped      atomic.Uint64
	encodeErrors atomic.Uint64
	deviceErrors atomic.Uint64
	restarts     atomic.Uint64
}

// New creates a broker reading from src. Call Start to begin capturing.
func New(src Source, enc Encoder, cfg Config) *Broker {
	return &Broker{
		src:   src,
		enc:   enc,
		cfg:   cfg.withDefaults(),
		subs:  make(map[string]*Subscription),
		state: StateStarting,
		done:  make(chan struct{}),
	}
}

// Start starts the camera and the capture loop. The loop runs until Stop is
// called, ctx is cancelled or the camera cannot be recovered.
func (b *Broker) Start(ctx context.Context) error {
	b.lifeMu.Lock()
	defer b.lifeMu.Unlock()

	if err := b.endError(); err != nil {
		return err
	}
	if b.started {
		return errors.New("broker already started")
	}
	b.started = true

	if err := b.src.Start(ctx); err != nil {
		return err
	}
	loopCtx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	go b.run(loopCtx)
	return nil
}

// Stop ends the capture loop and every subscription with ErrBrokerClosed.
// It waits for the loop to exit and is safe to call more than once.
func (b *Broker) Stop() {
	b.lifeMu.Lock()
	if !b.stopped {
		b.stopped = true
		if b.cancel == nil {
			// No capture loop, either never started or the camera failed to start
			b.finish(StateStopped, ErrBrokerClosed)
			close(b.done)
		} else {
			b.cancel()
		}
	}
	b.lifeMu.Unlock()
	<-b.done
}

// Done is closed when the capture loop has exited.
func (b *Broker) Done() <-chan struct{} { return b.done }

func (b *Broker) run(ctx context.Context) {
	defer close(b.done)
	slog.Info("Capture loop started", "fps", b.cfg.FPS, "buffer_depth", b.cfg.BufferDepth, "retry_limit", b.cfg.RetryLimit)

	var tick <-chan time.Time
	if b.cfg.FPS > 0 {
		ticker := time.NewTicker(time.Second / time.Duration(b.cfg.FPS))
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		raw, err := b.src.AcquireFrame(ctx)
		switch {
		case ctx.Err() != nil:
			b.finish(StateStopped, ErrBrokerClosed)
			return
		case errors.Is(err, camera.ErrStopped):
			slog.Warn("Camera was stopped underneath the capture loop")
			b.finish(StateStopped, ErrBrokerClosed)
			return
		case err != nil:
			b.deviceFailed(ctx, err)
			if !b.recover(ctx, err) {
				return
			}
		default:
			b.encodeAndPublish(ctx, raw)
			b.setState(StateRunning, nil)
		}

		if tick != nil {
			select {
			case <-tick:
			case <-ctx.Done():
			}
		}
	}
}

// recover runs one retry cycle after a device failure. Each attempt restarts
// the device and captures a frame. It returns false when the loop must exit.
func (b *Broker) recover(ctx context.Context, cause error) bool {
	b.setState(StateDegraded, cause)
	slog.Warn("Camera failed, restarting", "error", cause, "retry_limit", b.cfg.RetryLimit)

	if b.cfg.RetryLimit < 0 {
		b.terminate(cause)
		return false
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = b.cfg.RetryInitialInterval
	eb.MaxInterval = b.cfg.RetryMaxInterval

	attempt := 0
	raw, err := backoff.Retry(ctx, func() (camera.RawFrame, error) {
		attempt++
		if err := b.src.Restart(ctx); err != nil {
			if errors.Is(err, camera.ErrStopped) {
				return camera.RawFrame{}, backoff.Permanent(err)
			}
			return camera.RawFrame{}, err
		}
		b.restarts.Add(1)
		cameraRestarts.Add(ctx, 1)

		raw, err := b.src.AcquireFrame(ctx)
		if err != nil {
			if errors.Is(err, camera.ErrStopped) {
				return camera.RawFrame{}, backoff.Permanent(err)
			}
			return camera.RawFrame{}, err
		}
		return raw, nil
	},
		backoff.WithBackOff(eb),
		backoff.WithMaxTries(uint(b.cfg.RetryLimit)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			b.deviceFailed(ctx, err)
			slog.Warn("Camera restart attempt failed", "attempt", attempt, "error", err, "next_in", next)
		}),
	)

	switch {
	case ctx.Err() != nil:
		b.finish(StateStopped, ErrBrokerClosed)
		return false
	case errors.Is(err, camera.ErrStopped):
		b.finish(StateStopped, ErrBrokerClosed)
		return false
	case err != nil:
		b.deviceFailed(ctx, err)
		b.terminate(err)
		return false
	}

	slog.Info("Camera recovered", "attempts", attempt)
	b.encodeAndPublish(ctx, raw)
	b.setState(StateRunning, nil)
	return true
}

func (b *Broker) deviceFailed(ctx context.Context, err error) {
	b.deviceErrors.Add(1)
	deviceErrors.Add(ctx, 1)
	b.stateMu.Lock()
	b.lastError = err
	b.stateMu.Unlock()
}

func (b *Broker) terminate(cause error) {
	slog.Error("Camera could not be recovered, broker terminated", "error", cause)
	b.finish(StateTerminated, fmt.Errorf("%w: %w", ErrBrokerTerminated, cause))
}

// encodeAndPublish skips frames that fail to encode.
func (b *Broker) encodeAndPublish(ctx context.Context, raw camera.RawFrame) *frame.Frame {
	f, err := b.enc.Encode(raw)
	if err != nil {
		b.encodeErrors.Add(1)
		encodeErrors.Add(ctx, 1)
		slog.Warn("Skipping frame that failed to encode", "error", err)
		return nil
	}
	b.publish(ctx, f)
	return f
}

// publish numbers f and hands it to every current subscriber.
func (b *Broker) publish(ctx context.Context, f *frame.Frame) {
	b.pubMu.Lock()
	defer b.pubMu.Unlock()

	b.seq++
	f.Seq = b.seq
	b.latest.Store(f)

	b.subsMu.RLock()
	subs := make([]*Subscription, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.subsMu.RUnlock()

	var dropped int64
	for _, s := range subs {
		if s.offer(f) {
			dropped++
		}
	}

	b.published.Add(1)
	framesPublished.Add(ctx, 1)
	if dropped > 0 {
		b.dropped.Add(uint64(dropped))
		framesDropped.Add(ctx, dropped)
	}
}

// finish moves the broker to a final state and ends every subscription with err.
func (b *Broker) finish(state State, err error) {
	b.subsMu.Lock()
	if b.endErr != nil {
		b.subsMu.Unlock()
		return
	}
	b.endErr = err
	subs := b.subs
	b.subs = make(map[string]*Subscription)
	b.subsMu.Unlock()

	b.setState(state, nil)
	for _, s := range subs {
		s.close(err)
	}
	if len(subs) > 0 {
		activeSubscribers.Add(context.Background(), -int64(len(subs)))
	}
	slog.Info("Broker finished", "state", state, "subscribers", len(subs))
}

// Subscribe registers a new viewer. The subscription receives every frame
// published after this call, subject to its drop-oldest buffer.
func (b *Broker) Subscribe() (*Subscription, error) {
	b.pubMu.Lock()
	defer b.pubMu.Unlock()

	b.subsMu.Lock()
	defer b.subsMu.Unlock()

	if b.endErr != nil {
		return nil, b.endErr
	}
	s := newSubscription(b, uuid.NewString(), b.seq, b.cfg.BufferDepth)
	b.subs[s.id] = s
	activeSubscribers.Add(context.Background(), 1)
	slog.Debug("Subscriber registered", "subscriber", s.id, "baseline", s.baseline)
	return s, nil
}

// Unsubscribe removes the subscription with id. Unknown ids are ignored.
func (b *Broker) Unsubscribe(id string) {
	b.subsMu.Lock()
	s, ok := b.subs[id]
	delete(b.subs, id)
	b.subsMu.Unlock()

	if !ok {
		return
	}
	s.close(ErrUnsubscribed)
	activeSubscribers.Add(context.Background(), -1)
	slog.Debug("Subscriber removed", "subscriber", id, "last_seq", s.LastSeq(), "dropped", s.Dropped())
}

// SubscriberCount returns the number of registered subscriptions.
func (b *Broker) SubscriberCount() int {
	b.subsMu.RLock()
	defer b.subsMu.RUnlock()
	return len(b.subs)
}

// Latest returns the most recently published frame, or nil.
func (b *Broker) Latest() *frame.Frame {
	return b.latest.Load()
}

// Snapshot returns a frame for a one-shot capture. The latest published frame
// is used if it is younger than maxAge; otherwise a new frame is acquired
// through the camera's exclusive access, published to subscribers and
// returned. A maxAge of zero always acquires a new frame.
func (b *Broker) Snapshot(ctx context.Context, maxAge time.Duration) (*frame.Frame, error) {
	if err := b.endError(); err != nil {
		return nil, err
	}
	if maxAge > 0 {
		if f := b.latest.Load(); f != nil && f.Age() <= maxAge {
			return f, nil
		}
	}
	if b.State() == StateDegraded {
		return nil, ErrDegraded
	}

	raw, err := b.src.AcquireFrame(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if endErr := b.endError(); endErr != nil {
			return nil, endErr
		}
		b.deviceFailed(ctx, err)
		return nil, err
	}

	f, err := b.enc.Encode(raw)
	if err != nil {
		b.encodeErrors.Add(1)
		encodeErrors.Add(ctx, 1)
		return nil, err
	}
	b.publish(ctx, f)
	return f, nil
}

func (b *Broker) endError() error {
	b.subsMu.RLock()
	defer b.subsMu.RUnlock()
	return b.endErr
}

func (b *Broker) setState(s State, cause error) {
	b.stateMu.Lock()
	defer b.stateMu.Unlock()

	// Final states are never left.
	if b.state == StateTerminated || b.state == StateStopped {
		return
	}
	if b.state != s {
		slog.Info("Broker state changed", "from", b.state, "to", s)
	}
	b.state = s
	if cause != nil {
		b.lastError = cause
	}
}

// State returns the current broker state.
func (b *Broker) State() State {
	b.stateMu.RLock()
	defer b.stateMu.RUnlock()
	return b.state
}

// Stats returns counters and per-subscriber details.
func (b *Broker) Stats() Stats {
	b.pubMu.Lock()
	seq := b.seq
	b.pubMu.Unlock()

	b.subsMu.RLock()
	subs := make([]SubscriberStats, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, SubscriberStats{
			ID:       s.id,
			Baseline: s.baseline,
			LastSeq:  s.LastSeq(),
			Dropped:  s.Dropped(),
		})
	}
	b.subsMu.RUnlock()

	b.stateMu.RLock()
	st := Stats{
		State:        b.state,
		Seq:          seq,
		Published:    b.published.Load(),
		Dropped:      b.dropped.Load(),
		EncodeErrors: b.encodeErrors.Load(),
		DeviceErrors: b.deviceErrors.Load(),
		Restarts:     b.restarts.Load(),
		Subscribers:  subs,
	}
	if b.lastError != nil {
		st.LastError = b.lastError.Error()
	}
	b.stateMu.RUnlock()
	return st
}
