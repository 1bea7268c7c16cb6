package stream

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"

	"github.com/wachiwi/picam/pkg/frame"
)

// Boundary separates the parts of an MJPEG response.
const Boundary = "frame"

// ContentType is the content type of an MJPEG response.
const ContentType = "multipart/x-mixed-replace; boundary=" + Boundary

// MultipartTransport writes frames as an MJPEG multipart/x-mixed-replace body.
type MultipartTransport struct {
	mw      *multipart.Writer
	flusher http.Flusher
}

// NewMultipartTransport sets the streaming headers on w. Nothing is written
// to the body until the first frame.
func NewMultipartTransport(w http.ResponseWriter) (*MultipartTransport, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, errors.New("streaming not supported")
	}

	h := w.Header()
	h.Set("Content-Type", ContentType)
	h.Set("Cache-Control", "no-cache, no-store, must-revalidate")
	h.Set("Pragma", "no-cache")
	h.Set("Expires", "0")
	h.Set("Connection", "close")

	return newMultipartTransport(w, flusher), nil
}

func newMultipartTransport(w io.Writer, flusher http.Flusher) *MultipartTransport {
	mw := multipart.NewWriter(w)
	// Boundary is a valid token, SetBoundary cannot fail.
	_ = mw.SetBoundary(Boundary)
	return &MultipartTransport{mw: mw, flusher: flusher}
}

// WriteFrame writes one part with the frame's JPEG bytes and flushes it.
func (t *MultipartTransport) WriteFrame(f *frame.Frame) error {
	part, err := t.mw.CreatePart(textproto.MIMEHeader{
		"Content-Type":   {"image/jpeg"},
		"Content-Length": {strconv.Itoa(len(f.Data))},
	})
	if err != nil {
		return err
	}
	if _, err := part.Write(f.Data); err != nil {
		return err
	}
	t.flusher.Flush()
	return nil
}
