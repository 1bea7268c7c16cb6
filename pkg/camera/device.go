package camera

import (
	"fmt"
	"log/slog"
)

// Driver names accepted in Config.Driver.
const (
	DriverAuto        = "auto"
	DriverPlaceholder = "placeholder"
	DriverNative      = "native" // rpicam-vid on the Pi, ffmpeg on macOS
	DriverV4L2        = "v4l2"
)

// NewDevice builds the capture device selected by cfg.Driver.
//
// With DriverAuto the platform camera is tried first and the test pattern
// is used when it is not available.
func NewDevice(cfg Config) (Device, error) {
	cfg = cfg.withDefaults()

	switch cfg.Driver {
	case "", DriverAuto:
		dev, err := platformDevice(cfg)
		if err != nil {
			slog.Warn("Camera not available, using placeholder frames", "error", err)
			return NewPlaceholderDevice(cfg.Width, cfg.Height, cfg.FPS), nil
		}
		return dev, nil
	case DriverNative:
		return platformDevice(cfg)
	case DriverV4L2:
		return newV4L2Device(cfg)
	case DriverPlaceholder:
		return NewPlaceholderDevice(cfg.Width, cfg.Height, cfg.FPS), nil
	default:
		return nil, fmt.Errorf("unknown camera driver %q", cfg.Driver)
	}
}
