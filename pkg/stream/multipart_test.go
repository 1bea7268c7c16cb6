package stream

import (
	"context"
	"image/jpeg"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/mattn/go-mjpeg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wachiwi/picam/pkg/broker"
	"github.com/wachiwi/picam/pkg/camera/cameratest"
	"github.com/wachiwi/picam/pkg/frame"
)

func TestMultipartTransportWritesParts(t *testing.T) {
	rec := httptest.NewRecorder()
	tr, err := NewMultipartTransport(rec)
	require.NoError(t, err)

	frames := [][]byte{cameratest.JPEG(4, 4), cameratest.JPEG(8, 8)}
	for i, data := range frames {
		require.NoError(t, tr.WriteFrame(&frame.Frame{Seq: uint64(i + 1), Data: data}))
	}
	assert.True(t, rec.Flushed)

	mediaType, params, err := mime.ParseMediaType(rec.Header().Get("Content-Type"))
	require.NoError(t, err)
	assert.Equal(t, "multipart/x-mixed-replace", mediaType)
	assert.Equal(t, Boundary, params["boundary"])

	// The live stream never ends; write the closing boundary so the last
	// part can be read to EOF.
	require.NoError(t, tr.mw.Close())

	mr := multipart.NewReader(rec.Body, Boundary)
	for _, want := range frames {
		part, err := mr.NextPart()
		require.NoError(t, err)
		assert.Equal(t, "image/jpeg", part.Header.Get("Content-Type"))
		assert.Equal(t, strconv.Itoa(len(want)), part.Header.Get("Content-Length"))

		got, err := io.ReadAll(part)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err = mr.NextPart()
	assert.ErrorIs(t, err, io.EOF)
}

func TestMultipartStreamWithMJPEGClient(t *testing.T) {
	b := startBroker(t, cameratest.New(2*time.Millisecond), broker.Config{})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tr, err := NewMultipartTransport(w)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		_ = NewSession(b, tr).Run(r.Context())
	}))
	defer srv.Close()
	defer b.Stop()

	dec, err := mjpeg.NewDecoderFromURL(srv.URL)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		img, err := dec.Decode()
		require.NoError(t, err)
		assert.Equal(t, 16, img.Bounds().Dx())
		assert.Equal(t, 16, img.Bounds().Dy())
	}
}

func TestMultipartFramesDecode(t *testing.T) {
	rec := httptest.NewRecorder()
	tr, err := NewMultipartTransport(rec)
	require.NoError(t, err)

	dev := cameratest.New(time.Millisecond)
	b := startBroker(t, dev, broker.Config{})

	ctx, cancel := context.WithCancel(context.Background())
	s := NewSession(b, &countingTransport{Transport: tr, n: 2, done: cancel})
	require.NoError(t, s.Run(ctx))

	mr := multipart.NewReader(rec.Body, Boundary)
	for i := 0; i < 2; i++ {
		part, err := mr.NextPart()
		require.NoError(t, err)
		_, err = jpeg.Decode(part)
		assert.NoError(t, err)
	}
}

// countingTransport cancels the session after n frames.
type countingTransport struct {
	Transport
	n    int
	done context.CancelFunc
}

func (c *countingTransport) WriteFrame(f *frame.Frame) error {
	if c.n == 0 {
		return nil
	}
	if err := c.Transport.WriteFrame(f); err != nil {
		return err
	}
	c.n--
	if c.n == 0 {
		c.done()
	}
	return nil
}
