package frame

import "time"

// Frame is one encoded JPEG image published by the broker.
//
// A Frame is shared read-only between every subscriber that receives it.
// Nobody may modify Data after the frame has been published.
type Frame struct {
	Seq        uint64
	Data       []byte
	Width      int
	Height     int
	CapturedAt time.Time
}

// Age returns how long ago the frame was captured.
func (f *Frame) Age() time.Duration {
	return time.Since(f.CapturedAt)
}
