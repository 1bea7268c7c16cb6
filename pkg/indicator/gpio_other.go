//go:build !linux

package indicator

import "log/slog"

// OpenLine returns a line that only logs, there is no GPIO off linux.
func OpenLine(chip, pin string) (Line, error) {
	slog.Info("GPIO not available, status LED is simulated", "chip", chip, "pin", pin)
	return mockLine{}, nil
}

type mockLine struct{}

func (mockLine) SetValue(value int) error {
	slog.Debug("[MOCK] Status LED", "value", value)
	return nil
}

func (mockLine) Close() error { return nil }
