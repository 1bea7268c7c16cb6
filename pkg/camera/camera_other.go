//go:build !darwin && !(linux && arm64)

package camera

import "fmt"

// platformDevice is a stub for platforms without a known camera stack.
func platformDevice(_ Config) (Device, error) {
	return nil, fmt.Errorf("raspberry pi camera not available on this platform")
}
