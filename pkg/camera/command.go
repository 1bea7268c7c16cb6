package camera

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"time"
)

// CommandDevice runs a capture program that writes an MJPEG stream to stdout
// (rpicam-vid, libcamera-vid, ffmpeg) and serves the frames it produces.
//
// The process is kept running between reads so the camera hardware is not
// restarted for every frame. Only the newest frame is kept.
type CommandDevice struct {
	name   string
	args   []string
	width  int
	height int

	mu     sync.Mutex
	cancel context.CancelFunc
	frames chan RawFrame
	exited chan struct{}
	err    error // set before exited is closed
}

// NewCommandDevice creates a device for the program name with args.
func NewCommandDevice(name string, args []string, width, height int) *CommandDevice {
	return &CommandDevice{
		name:   name,
		args:   args,
		width:  width,
		height: height,
	}
}

// Open starts the capture process.
func (d *CommandDevice) Open(_ context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cancel != nil {
		return nil
	}

	// The process outlives the caller's context; Close ends it.
	procCtx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(procCtx, d.name, d.args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("failed to get stdout pipe: %w", err)
	}

	stderr := &boundedBuffer{limit: 4096}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("failed to start %s: %w", d.name, err)
	}

	frames := make(chan RawFrame, 1)
	exited := make(chan struct{})
	d.cancel = cancel
	d.frames = frames
	d.exited = exited

	slog.Info("Started camera streaming process", "command", d.name, "width", d.width, "height", d.height)

	go func() {
		splitter := &jpegSplitter{emit: func(img []byte) {
			offerLatest(frames, RawFrame{
				Data:       img,
				Format:     FormatJPEG,
				Width:      d.width,
				Height:     d.height,
				CapturedAt: time.Now(),
			})
		}}
		_, copyErr := io.Copy(splitter, stdout)
		waitErr := cmd.Wait()

		switch {
		case waitErr != nil:
			slog.Warn("Camera streaming process exited", "command", d.name, "error", waitErr, "stderr", stderr.String())
			d.setErr(fmt.Errorf("%s exited: %w", d.name, waitErr))
		case copyErr != nil:
			d.setErr(fmt.Errorf("reading %s output: %w", d.name, copyErr))
		default:
			slog.Info("Camera streaming process exited cleanly", "command", d.name)
			d.setErr(fmt.Errorf("%s exited", d.name))
		}
		close(exited)
	}()

	return nil
}

func (d *CommandDevice) setErr(err error) {
	d.mu.Lock()
	d.err = err
	d.mu.Unlock()
}

// ReadFrame waits for the next complete JPEG from the process.
func (d *CommandDevice) ReadFrame(ctx context.Context) (RawFrame, error) {
	d.mu.Lock()
	frames, exited := d.frames, d.exited
	d.mu.Unlock()

	if frames == nil {
		return RawFrame{}, errors.New("device is not open")
	}

	select {
	case f := <-frames:
		return f, nil
	case <-exited:
		d.mu.Lock()
		defer d.mu.Unlock()
		return RawFrame{}, d.err
	case <-ctx.Done():
		return RawFrame{}, ctx.Err()
	}
}

// Close terminates the process and waits for it to exit.
func (d *CommandDevice) Close() error {
	d.mu.Lock()
	cancel, exited := d.cancel, d.exited
	d.cancel, d.frames, d.exited = nil, nil, nil
	d.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-exited
	return nil
}

// offerLatest puts f into a buffered channel, replacing whatever is queued.
// It must only be called from the single producer of ch.
func offerLatest(ch chan RawFrame, f RawFrame) {
	select {
	case ch <- f:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- f:
	default:
	}
}

// boundedBuffer keeps the first limit bytes written to it.
type boundedBuffer struct {
	mu    sync.Mutex
	buf   bytes.Buffer
	limit int
}

func (b *boundedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if room := b.limit - b.buf.Len(); room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *boundedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
