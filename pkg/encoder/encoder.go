// Package encoder turns raw camera frames into JPEG images.
package encoder

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"

	"github.com/wachiwi/picam/pkg/camera"
	"github.com/wachiwi/picam/pkg/frame"
)

// DefaultQuality is the JPEG quality used when none is configured.
const DefaultQuality = 80

var (
	errEmpty     = errors.New("empty frame")
	errNotJPEG   = errors.New("missing JPEG start or end marker")
	errBadFormat = errors.New("unsupported pixel format")
)

// EncodeError reports a raw frame that could not be turned into a JPEG.
type EncodeError struct {
	Format camera.PixelFormat
	Err    error
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("encode %s frame: %v", e.Format, e.Err)
}

func (e *EncodeError) Unwrap() error {
	return e.Err
}

// Encoder is stateless and safe for concurrent use.
type Encoder struct {
	Quality int
}

// New returns an encoder with the given quality, falling back to DefaultQuality.
func New(quality int) *Encoder {
	if quality < 1 || quality > 100 {
		quality = DefaultQuality
	}
	return &Encoder{Quality: quality}
}

// Encode converts raw into a Frame. The returned frame has no sequence number;
// the broker assigns it when publishing.
func (e *Encoder) Encode(raw camera.RawFrame) (*frame.Frame, error) {
	if len(raw.Data) == 0 {
		return nil, &EncodeError{Format: raw.Format, Err: errEmpty}
	}

	var (
		data []byte
		err  error
	)
	switch raw.Format {
	case camera.FormatJPEG:
		data, err = passthrough(raw)
	case camera.FormatRGBA:
		data, err = e.encodeRGBA(raw)
	case camera.FormatYUYV:
		data, err = e.encodeYUYV(raw)
	default:
		err = errBadFormat
	}
	if err != nil {
		return nil, &EncodeError{Format: raw.Format, Err: err}
	}

	width, height := raw.Width, raw.Height
	if width == 0 || height == 0 {
		if cfg, err := jpeg.DecodeConfig(bytes.NewReader(data)); err == nil {
			width, height = cfg.Width, cfg.Height
		}
	}

	return &frame.Frame{
		Data:       data,
		Width:      width,
		Height:     height,
		CapturedAt: raw.CapturedAt,
	}, nil
}

// passthrough checks that raw holds one complete JPEG and returns it as is.
func passthrough(raw camera.RawFrame) ([]byte, error) {
	d := raw.Data
	if len(d) < 4 || d[0] != 0xFF || d[1] != 0xD8 || d[len(d)-2] != 0xFF || d[len(d)-1] != 0xD9 {
		return nil, errNotJPEG
	}
	if _, err := jpeg.DecodeConfig(bytes.NewReader(d)); err != nil {
		return nil, err
	}
	return d, nil
}

func (e *Encoder) encodeRGBA(raw camera.RawFrame) ([]byte, error) {
	if err := checkSize(raw, 4); err != nil {
		return nil, err
	}
	img := &image.RGBA{
		Pix:    raw.Data,
		Stride: raw.Width * 4,
		Rect:   image.Rect(0, 0, raw.Width, raw.Height),
	}
	return e.encode(img)
}

// encodeYUYV unpacks Y0 U Y1 V macro pixels into a 4:2:2 YCbCr image.
func (e *Encoder) encodeYUYV(raw camera.RawFrame) ([]byte, error) {
	if raw.Width%2 != 0 {
		return nil, fmt.Errorf("odd width %d for YUYV", raw.Width)
	}
	if err := checkSize(raw, 2); err != nil {
		return nil, err
	}

	img := image.NewYCbCr(image.Rect(0, 0, raw.Width, raw.Height), image.YCbCrSubsampleRatio422)
	for y := 0; y < raw.Height; y++ {
		row := raw.Data[y*raw.Width*2 : (y+1)*raw.Width*2]
		for x := 0; x < raw.Width; x += 2 {
			p := row[x*2 : x*2+4]
			img.Y[y*img.YStride+x] = p[0]
			img.Y[y*img.YStride+x+1] = p[2]
			c := y*img.CStride + x/2
			img.Cb[c] = p[1]
			img.Cr[c] = p[3]
		}
	}
	return e.encode(img)
}

func (e *Encoder) encode(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: e.Quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func checkSize(raw camera.RawFrame, bytesPerPixel int) error {
	if raw.Width <= 0 || raw.Height <= 0 {
		return fmt.Errorf("invalid size %dx%d", raw.Width, raw.Height)
	}
	if want := raw.Width * raw.Height * bytesPerPixel; len(raw.Data) != want {
		return fmt.Errorf("got %d bytes for %dx%d, want %d", len(raw.Data), raw.Width, raw.Height, want)
	}
	return nil
}
