package camera

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// PixelFormat describes the layout of RawFrame.Data.
type PixelFormat string

const (
	FormatJPEG PixelFormat = "jpeg" // already compressed, e.g. MJPEG devices
	FormatRGBA PixelFormat = "rgba" // 4 bytes per pixel
	FormatYUYV PixelFormat = "yuyv" // packed 4:2:2, 2 bytes per pixel
)

// RawFrame is one frame as delivered by a capture device, before encoding.
type RawFrame struct {
	Data       []byte
	Format     PixelFormat
	Width      int
	Height     int
	CapturedAt time.Time
}

// Device is a physical (or simulated) capture device.
//
// ReadFrame blocks until a full frame is available and must return early
// when ctx is done.
type Device interface {
	Open(ctx context.Context) error
	ReadFrame(ctx context.Context) (RawFrame, error)
	Close() error
}

// Config holds camera configuration
type Config struct {
	Driver string // auto, placeholder, native or v4l2
	Device string // device path for v4l2, input index on macOS
	Width  int
	Height int
	FPS    int

	// AcquireTimeout bounds a single AcquireFrame call. Zero leaves it to the driver.
	AcquireTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Width == 0 {
		c.Width = 640
	}
	if c.Height == 0 {
		c.Height = 480
	}
	if c.FPS == 0 {
		c.FPS = 30
	}
	return c
}

// State is the lifecycle state of a Resource.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateStarted       State = "started"
	StateCapturing     State = "capturing"
	StateStopped       State = "stopped"
)

// Stats is a snapshot of the resource counters.
type Stats struct {
	State        State  `json:"state"`
	Acquisitions uint64 `json:"acquisitions"`
	Failures     uint64 `json:"failures"`
	Restarts     uint64 `json:"restarts"`
	InFlight     int32  `json:"in_flight"`
	MaxInFlight  int32  `json:"max_in_flight"`
}

// Resource owns the single capture device of the process.
//
// At most one AcquireFrame call touches the device at a time. Callers are
// served in arrival order, so a busy capture loop cannot starve a snapshot
// request that queued behind it.
type Resource struct {
	dev     Device
	timeout time.Duration
	lock    fifoLock

	mu         sync.Mutex
	state      State
	stopCtx    context.Context
	stopCancel context.CancelFunc

	acquisitions atomic.Uint64
	failures     atomic.Uint64
	restarts     atomic.Uint64
	inFlight     atomic.Int32
	maxInFlight  atomic.Int32
}

// NewResource wraps dev. acquireTimeout is the optional watchdog for a single
// acquisition; zero disables it.
func NewResource(dev Device, acquireTimeout time.Duration) *Resource {
	return &Resource{
		dev:     dev,
		timeout: acquireTimeout,
		state:   StateUninitialized,
	}
}

// Start opens the device. Starting an already started resource is a no-op.
func (r *Resource) Start(ctx context.Context) error {
	if err := r.lock.Lock(ctx); err != nil {
		return err
	}
	defer r.lock.Unlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == StateStarted || r.state == StateCapturing {
		return nil
	}
	if err := r.dev.Open(ctx); err != nil {
		return &DeviceError{Op: "open", Err: err}
	}
	r.stopCtx, r.stopCancel = context.WithCancel(context.Background())
	r.state = StateStarted
	slog.Info("camera started")
	return nil
}

// AcquireFrame blocks until it is the caller's turn and the device delivered a
// full frame. Device failures, a stop during the call and watchdog expiry are
// reported as *DeviceError; cancellation of ctx is returned as ctx.Err().
func (r *Resource) AcquireFrame(ctx context.Context) (RawFrame, error) {
	if err := r.lock.Lock(ctx); err != nil {
		return RawFrame{}, err
	}
	defer r.lock.Unlock()

	r.mu.Lock()
	if r.state != StateStarted {
		r.mu.Unlock()
		r.failures.Add(1)
		return RawFrame{}, &DeviceError{Op: "acquire", Err: ErrStopped}
	}
	r.state = StateCapturing
	stopCtx := r.stopCtx
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		if r.state == StateCapturing {
			r.state = StateStarted
		}
		r.mu.Unlock()
	}()

	n := r.inFlight.Add(1)
	defer r.inFlight.Add(-1)
	for {
		m := r.maxInFlight.Load()
		if n <= m || r.maxInFlight.CompareAndSwap(m, n) {
			break
		}
	}

	readCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if r.timeout > 0 {
		readCtx, cancel = context.WithTimeout(readCtx, r.timeout)
		defer cancel()
	}
	stopRead := context.AfterFunc(stopCtx, cancel)
	defer stopRead()

	raw, err := r.dev.ReadFrame(readCtx)
	if err != nil {
		switch {
		case stopCtx.Err() != nil:
			err = &DeviceError{Op: "acquire", Err: ErrStopped}
		case ctx.Err() != nil:
			return RawFrame{}, ctx.Err()
		case readCtx.Err() == context.DeadlineExceeded:
			err = &DeviceError{Op: "acquire", Err: ErrWatchdog}
		default:
			err = &DeviceError{Op: "acquire", Err: err}
		}
		r.failures.Add(1)
		return RawFrame{}, err
	}
	if raw.CapturedAt.IsZero() {
		raw.CapturedAt = time.Now()
	}
	r.acquisitions.Add(1)
	return raw, nil
}

// Restart closes and reopens the device with exclusive access.
func (r *Resource) Restart(ctx context.Context) error {
	if err := r.lock.Lock(ctx); err != nil {
		return err
	}
	defer r.lock.Unlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != StateStarted {
		return &DeviceError{Op: "restart", Err: ErrStopped}
	}
	if err := r.dev.Close(); err != nil {
		slog.Warn("Closing camera device before restart failed", "error", err)
	}
	r.restarts.Add(1)
	if err := r.dev.Open(ctx); err != nil {
		return &DeviceError{Op: "restart", Err: err}
	}
	slog.Info("camera restarted")
	return nil
}

// Stop aborts any in-flight acquisition and releases the device. It is safe
// to call more than once.
func (r *Resource) Stop() error {
	r.mu.Lock()
	if r.state == StateStopped || r.state == StateUninitialized {
		r.mu.Unlock()
		return nil
	}
	r.state = StateStopped
	r.stopCancel()
	r.mu.Unlock()

	_ = r.lock.Lock(context.Background())
	defer r.lock.Unlock()

	if err := r.dev.Close(); err != nil {
		return &DeviceError{Op: "stop", Err: err}
	}
	slog.Info("camera stopped")
	return nil
}

// State returns the current lifecycle state.
func (r *Resource) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Stats returns the acquisition counters.
func (r *Resource) Stats() Stats {
	return Stats{
		State:        r.State(),
		Acquisitions: r.acquisitions.Load(),
		Failures:     r.failures.Load(),
		Restarts:     r.restarts.Load(),
		InFlight:     r.inFlight.Load(),
		MaxInFlight:  r.maxInFlight.Load(),
	}
}
