//go:build darwin

package camera

import (
	"fmt"
	"os/exec"
)

// platformDevice captures from a macOS webcam through ffmpeg's AVFoundation
// input so the server can be developed without a Pi.
func platformDevice(cfg Config) (Device, error) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return nil, fmt.Errorf("ffmpeg not found: %w", err)
	}

	input := cfg.Device
	if input == "" {
		input = "0" // default camera
	}

	// Most Mac cameras only accept 30 fps, so the rate is not configurable here.
	args := []string{
		"-f", "avfoundation",
		"-framerate", "30",
		"-video_size", fmt.Sprintf("%dx%d", cfg.Width, cfg.Height),
		"-i", input,
		"-f", "mjpeg",
		"-q:v", "5",
		"-hide_banner",
		"-loglevel", "error",
		"-",
	}
	return NewCommandDevice("ffmpeg", args, cfg.Width, cfg.Height), nil
}
