//go:build linux

package indicator

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"
	"github.com/warthog618/go-gpiocdev/device/rpi"
)

// OpenLine requests pin (e.g. "GPIO17" or "J8p11") on chip as an output
// that starts low.
func OpenLine(chip, pin string) (Line, error) {
	offset, err := rpi.Pin(pin)
	if err != nil {
		return nil, fmt.Errorf("invalid status LED pin %q: %w", pin, err)
	}

	line, err := gpiocdev.RequestLine(chip, offset,
		gpiocdev.AsOutput(0),
		gpiocdev.WithConsumer("picam-status"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to request status LED line: %w", err)
	}
	return line, nil
}
