package broker

import "errors"

var (
	// ErrBrokerTerminated is returned once the capture loop gave up after
	// exhausting its retries. The device error that caused it is wrapped too.
	ErrBrokerTerminated = errors.New("broker terminated")

	// ErrBrokerClosed is returned after the broker was stopped.
	ErrBrokerClosed = errors.New("broker closed")

	// ErrUnsubscribed is returned by Next after the subscription was removed.
	ErrUnsubscribed = errors.New("subscription removed")

	// ErrDegraded is returned by Snapshot while the camera is being restarted.
	ErrDegraded = errors.New("camera is recovering")
)
