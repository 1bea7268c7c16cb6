// Package cameratest provides a scriptable camera.Device for tests.
package cameratest

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"sync"
	"time"

	"github.com/wachiwi/picam/pkg/camera"
)

var (
	// ErrInjected is returned by reads and opens that a test asked to fail.
	ErrInjected = errors.New("injected device failure")

	// ErrNotOpen is returned by ReadFrame on a closed device.
	ErrNotOpen = errors.New("device is not open")
)

// Device is a fake capture device.
//
// When Feed is set, every ReadFrame waits for the next frame sent by the
// test. Otherwise a JPEG frame is produced every Interval.
// Fields must be set before the device is opened.
type Device struct {
	Feed     chan camera.RawFrame
	Interval time.Duration
	Width    int
	Height   int

	// ReadErr is consulted before each read with the 1-based read number.
	ReadErr func(read int) error
	// OpenErr is consulted on each Open with the 1-based open number.
	OpenErr func(open int) error

	mu        sync.Mutex
	open      bool
	opens     int
	closes    int
	reads     int
	active    int
	maxActive int
	jpegOnce  sync.Once
	jpegData  []byte
}

// New returns a device that produces frames every interval.
func New(interval time.Duration) *Device {
	return &Device{Interval: interval, Width: 16, Height: 16}
}

// NewFed returns a device whose frames are sent by the test on Feed.
func NewFed() *Device {
	return &Device{Feed: make(chan camera.RawFrame), Width: 16, Height: 16}
}

// FailFrom returns a ReadErr hook failing every read from n on.
func FailFrom(n int) func(int) error {
	return func(read int) error {
		if read >= n {
			return ErrInjected
		}
		return nil
	}
}

// FailAt returns a ReadErr hook failing only the listed reads.
func FailAt(reads ...int) func(int) error {
	return func(read int) error {
		for _, r := range reads {
			if r == read {
				return ErrInjected
			}
		}
		return nil
	}
}

func (d *Device) Open(_ context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.opens++
	if d.OpenErr != nil {
		if err := d.OpenErr(d.opens); err != nil {
			return err
		}
	}
	d.open = true
	return nil
}

func (d *Device) ReadFrame(ctx context.Context) (camera.RawFrame, error) {
	d.mu.Lock()
	if !d.open {
		d.mu.Unlock()
		return camera.RawFrame{}, ErrNotOpen
	}
	d.reads++
	read := d.reads
	d.active++
	if d.active > d.maxActive {
		d.maxActive = d.active
	}
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		d.active--
		d.mu.Unlock()
	}()

	if d.ReadErr != nil {
		if err := d.ReadErr(read); err != nil {
			return camera.RawFrame{}, err
		}
	}

	if d.Feed != nil {
		select {
		case f := <-d.Feed:
			if f.CapturedAt.IsZero() {
				f.CapturedAt = time.Now()
			}
			return f, nil
		case <-ctx.Done():
			return camera.RawFrame{}, ctx.Err()
		}
	}

	timer := time.NewTimer(d.Interval)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
		return camera.RawFrame{}, ctx.Err()
	}
	return d.Frame(), nil
}

func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closes++
	d.open = false
	return nil
}

// Frame returns a valid JPEG raw frame of the device's size.
func (d *Device) Frame() camera.RawFrame {
	d.jpegOnce.Do(func() {
		d.jpegData = JPEG(d.Width, d.Height)
	})
	return camera.RawFrame{
		Data:       d.jpegData,
		Format:     camera.FormatJPEG,
		Width:      d.Width,
		Height:     d.Height,
		CapturedAt: time.Now(),
	}
}

// Opens returns how often Open was called.
func (d *Device) Opens() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opens
}

// Closes returns how often Close was called.
func (d *Device) Closes() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closes
}

// Reads returns how often ReadFrame was entered.
func (d *Device) Reads() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.reads
}

// MaxConcurrentReads returns the highest number of overlapping ReadFrame calls.
func (d *Device) MaxConcurrentReads() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.maxActive
}

// JPEG encodes a small gray image.
func JPEG(width, height int) []byte {
	img := image.NewGray(image.Rect(0, 0, width, height))
	for i := range img.Pix {
		img.Pix[i] = 128
	}
	img.Set(0, 0, color.White)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		panic(err)
	}
	return buf.Bytes()
}
