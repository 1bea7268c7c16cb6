package camera

import "errors"

var (
	// ErrStopped is wrapped when the resource is not started or was stopped mid-call.
	ErrStopped = errors.New("camera is not started")

	// ErrWatchdog is wrapped when an acquisition exceeded the configured timeout.
	ErrWatchdog = errors.New("camera acquisition timed out")
)

// DeviceError reports a failure of the capture device.
type DeviceError struct {
	Op  string // open, acquire, restart or stop
	Err error
}

func (e *DeviceError) Error() string {
	return "camera " + e.Op + ": " + e.Err.Error()
}

func (e *DeviceError) Unwrap() error {
	return e.Err
}

// IsDeviceError reports whether err is or wraps a *DeviceError.
func IsDeviceError(err error) bool {
	var de *DeviceError
	return errors.As(err, &de)
}
