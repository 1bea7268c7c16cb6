//go:build linux

package camera

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/blackjack/webcam"
)

const (
	fourccMJPG = webcam.PixelFormat('M' | 'J'<<8 | 'P'<<16 | 'G'<<24)
	fourccYUYV = webcam.PixelFormat('Y' | 'U'<<8 | 'Y'<<16 | 'V'<<24)
)

// V4L2Device reads frames from a Video4Linux device such as a USB webcam.
// MJPEG is preferred when the device offers it, YUYV otherwise.
type V4L2Device struct {
	path   string
	width  uint32
	height uint32

	mu     sync.Mutex
	cam    *webcam.Webcam
	format PixelFormat
}

func newV4L2Device(cfg Config) (Device, error) {
	path := cfg.Device
	if path == "" {
		path = "/dev/video0"
	}
	return &V4L2Device{path: path, width: uint32(cfg.Width), height: uint32(cfg.Height)}, nil
}

func (d *V4L2Device) Open(_ context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cam != nil {
		return nil
	}

	cam, err := webcam.Open(d.path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", d.path, err)
	}

	supported := cam.GetSupportedFormats()
	var pf webcam.PixelFormat
	switch {
	case supported[fourccMJPG] != "":
		pf, d.format = fourccMJPG, FormatJPEG
	case supported[fourccYUYV] != "":
		pf, d.format = fourccYUYV, FormatYUYV
	default:
		cam.Close()
		return fmt.Errorf("%s supports neither MJPG nor YUYV", d.path)
	}

	_, w, h, err := cam.SetImageFormat(pf, d.width, d.height)
	if err != nil {
		cam.Close()
		return fmt.Errorf("failed to set image format: %w", err)
	}
	if w != d.width || h != d.height {
		slog.Warn("Camera picked a different resolution", "requested_width", d.width, "requested_height", d.height, "width", w, "height", h)
		d.width, d.height = w, h
	}

	if err := cam.SetBufferCount(4); err != nil {
		slog.Warn("Failed to set V4L2 buffer count", "error", err)
	}
	if err := cam.StartStreaming(); err != nil {
		cam.Close()
		return fmt.Errorf("failed to start streaming: %w", err)
	}

	d.cam = cam
	slog.Info("Opened V4L2 camera", "device", d.path, "format", d.format, "width", d.width, "height", d.height)
	return nil
}

// ReadFrame polls the device in one second steps so ctx is honoured.
func (d *V4L2Device) ReadFrame(ctx context.Context) (RawFrame, error) {
	d.mu.Lock()
	cam, format, w, h := d.cam, d.format, d.width, d.height
	d.mu.Unlock()

	if cam == nil {
		return RawFrame{}, fmt.Errorf("device is not open")
	}

	for {
		if err := ctx.Err(); err != nil {
			return RawFrame{}, err
		}

		err := cam.WaitForFrame(1)
		switch err.(type) {
		case nil:
		case *webcam.Timeout:
			continue
		default:
			return RawFrame{}, err
		}

		data, err := cam.ReadFrame()
		if err != nil {
			return RawFrame{}, err
		}
		if len(data) == 0 {
			continue
		}

		// The buffer is the driver's mmap'd memory and gets reused.
		buf := make([]byte, len(data))
		copy(buf, data)
		return RawFrame{
			Data:       buf,
			Format:     format,
			Width:      int(w),
			Height:     int(h),
			CapturedAt: time.Now(),
		}, nil
	}
}

func (d *V4L2Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cam == nil {
		return nil
	}
	if err := d.cam.StopStreaming(); err != nil {
		slog.Warn("Failed to stop V4L2 streaming", "error", err)
	}
	err := d.cam.Close()
	d.cam = nil
	return err
}
