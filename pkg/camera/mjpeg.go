package camera

import (
	"bytes"
	"log/slog"
)

// maxFrameSize caps the buffer while waiting for an end-of-image marker.
const maxFrameSize = 10 * 1024 * 1024

// JPEG markers
var (
	soi = []byte{0xFF, 0xD8}
	eoi = []byte{0xFF, 0xD9}
)

// jpegSplitter cuts a stream of concatenated JPEG images, as written by
// rpicam-vid or ffmpeg in MJPEG mode, into single images. It is an io.Writer
// so the child process output can be io.Copy'd into it.
type jpegSplitter struct {
	buf      []byte
	searched int // bytes of buf already scanned for EOI, 0 while looking for SOI
	emit     func([]byte)
}

func (s *jpegSplitter) Write(p []byte) (int, error) {
	s.buf = append(s.buf, p...)
	s.scan()
	return len(p), nil
}

func (s *jpegSplitter) scan() {
	for {
		if s.searched == 0 {
			i := bytes.Index(s.buf, soi)
			if i < 0 {
				// Keep a trailing 0xFF, it may be the first half of a marker.
				if n := len(s.buf); n > 0 && s.buf[n-1] == 0xFF {
					s.buf = append(s.buf[:0], 0xFF)
				} else {
					s.buf = s.buf[:0]
				}
				return
			}
			s.buf = append(s.buf[:0], s.buf[i:]...)
			s.searched = len(soi)
		}

		from := s.searched - 1
		j := bytes.Index(s.buf[from:], eoi)
		if j < 0 {
			s.searched = len(s.buf)
			if len(s.buf) > maxFrameSize {
				slog.Warn("Frame buffer overflow, resetting", "size", len(s.buf))
				s.buf = s.buf[:0]
				s.searched = 0
			}
			return
		}

		end := from + j + len(eoi)
		img := make([]byte, end)
		copy(img, s.buf[:end])
		s.emit(img)

		// Anything after EOI is the start of the next image.
		s.buf = append(s.buf[:0], s.buf[end:]...)
		s.searched = 0
	}
}
