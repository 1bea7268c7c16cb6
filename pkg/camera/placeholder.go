package camera

import (
	"context"
	"image"
	"image/color"
	"sync"
	"time"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// PlaceholderDevice generates a moving test pattern with the capture time
// drawn into it. It stands in for the camera during development and on
// machines without one.
type PlaceholderDevice struct {
	width    int
	height   int
	interval time.Duration

	mu   sync.Mutex
	open bool
	next time.Time
}

// NewPlaceholderDevice returns a test pattern device producing fps frames per second.
func NewPlaceholderDevice(width, height, fps int) *PlaceholderDevice {
	if fps <= 0 {
		fps = 30
	}
	return &PlaceholderDevice{
		width:    width,
		height:   height,
		interval: time.Second / time.Duration(fps),
	}
}

func (d *PlaceholderDevice) Open(_ context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.open = true
	d.next = time.Now()
	return nil
}

// ReadFrame waits for the next frame slot and renders an RGBA frame.
func (d *PlaceholderDevice) ReadFrame(ctx context.Context) (RawFrame, error) {
	d.mu.Lock()
	if !d.open {
		d.mu.Unlock()
		return RawFrame{}, ErrStopped
	}
	wait := time.Until(d.next)
	d.next = d.next.Add(d.interval)
	if behind := time.Since(d.next); behind > d.interval {
		// Skip missed slots instead of bursting to catch up.
		d.next = time.Now().Add(d.interval)
	}
	d.mu.Unlock()

	if wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return RawFrame{}, ctx.Err()
		case <-timer.C:
		}
	}

	now := time.Now()
	return RawFrame{
		Data:       d.render(now),
		Format:     FormatRGBA,
		Width:      d.width,
		Height:     d.height,
		CapturedAt: now,
	}, nil
}

func (d *PlaceholderDevice) render(now time.Time) []byte {
	img := image.NewRGBA(image.Rect(0, 0, d.width, d.height))

	shade := byte(now.UnixMilli() / 40 % 256)
	for y := 0; y < d.height; y++ {
		for x := 0; x < d.width; x++ {
			offset := y*img.Stride + x*4
			img.Pix[offset] = shade
			img.Pix[offset+1] = byte((x * 255) / d.width)
			img.Pix[offset+2] = byte((y * 255) / d.height)
			img.Pix[offset+3] = 255
		}
	}

	drawer := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(color.White),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(10, 20),
	}
	drawer.DrawString(now.Format("2006-01-02 15:04:05.000"))

	return img.Pix
}

func (d *PlaceholderDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.open = false
	return nil
}
