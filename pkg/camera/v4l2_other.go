//go:build !linux

package camera

import "fmt"

func newV4L2Device(_ Config) (Device, error) {
	return nil, fmt.Errorf("v4l2 capture is only available on linux")
}
