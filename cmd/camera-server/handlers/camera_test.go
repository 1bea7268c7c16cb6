package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image/jpeg"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"testing/fstest"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mattn/go-mjpeg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wachiwi/picam/pkg/broker"
	"github.com/wachiwi/picam/pkg/camera"
	"github.com/wachiwi/picam/pkg/camera/cameratest"
	"github.com/wachiwi/picam/pkg/encoder"
	"github.com/wachiwi/picam/pkg/snapshot"
)

type testServer struct {
	URL    string
	Broker *broker.Broker
}

func newTestServer(t *testing.T, dev camera.Device, bcfg broker.Config, scfg snapshot.Config) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	res := camera.NewResource(dev, 0)
	b := broker.New(res, encoder.New(0), bcfg)
	require.NoError(t, b.Start(context.Background()))

	saver := snapshot.NewSaver(t.TempDir(), 0)
	pages := fstest.MapFS{
		"templates/index.html": {Data: []byte("<html><title>{{ .title }}</title></html>")},
	}

	r := gin.New()
	Register(r,
		&CameraHandler{
			Broker:         b,
			Camera:         res,
			Snapshots:      snapshot.NewHandler(b, scfg),
			Saver:          saver,
			WSWriteTimeout: time.Second,
		},
		&SnapshotHandler{Saver: saver},
		&PageHandler{TemplateFS: pages, Title: "Test Camera"},
	)
	srv := httptest.NewServer(r)

	t.Cleanup(func() {
		b.Stop()
		srv.Close()
		_ = res.Stop()
	})
	return &testServer{URL: srv.URL, Broker: b}
}

func get(t *testing.T, url string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, body
}

func TestCapture(t *testing.T) {
	ts := newTestServer(t, cameratest.New(time.Millisecond), broker.Config{}, snapshot.Config{Policy: snapshot.PolicyDedicated})

	resp, body := get(t, ts.URL+"/capture")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/jpeg", resp.Header.Get("Content-Type"))

	seq, err := strconv.ParseUint(resp.Header.Get("X-Frame-Seq"), 10, 64)
	require.NoError(t, err)
	assert.Positive(t, seq)
	_, err = time.Parse(time.RFC3339Nano, resp.Header.Get("X-Captured-At"))
	assert.NoError(t, err)

	_, err = jpeg.Decode(bytes.NewReader(body))
	assert.NoError(t, err)
}

func TestCaptureSave(t *testing.T) {
	ts := newTestServer(t, cameratest.New(time.Millisecond), broker.Config{}, snapshot.Config{})

	resp, body := get(t, ts.URL+"/capture?save=1")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	name := resp.Header.Get("X-Snapshot-Name")
	require.NotEmpty(t, name)

	resp, list := get(t, ts.URL+"/api/snapshots")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var records []snapshot.Record
	require.NoError(t, json.Unmarshal(list, &records))
	require.Len(t, records, 1)
	assert.Equal(t, name, records[0].Name)

	resp, saved := get(t, ts.URL+"/snapshots/"+name)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, body, saved)
}

func TestVideoStream(t *testing.T) {
	ts := newTestServer(t, cameratest.New(2*time.Millisecond), broker.Config{}, snapshot.Config{Policy: snapshot.PolicyDedicated})

	dec, err := mjpeg.NewDecoderFromURL(ts.URL + "/video")
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		img, err := dec.Decode()
		require.NoError(t, err)
		assert.Equal(t, 16, img.Bounds().Dx())
	}

	// A capture while streaming is at least as new as anything streamed.
	latest := ts.Broker.Latest().Seq
	resp, _ := get(t, ts.URL+"/capture")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	seq, err := strconv.ParseUint(resp.Header.Get("X-Frame-Seq"), 10, 64)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, seq, latest)
}

func TestVideoDisconnectUnsubscribes(t *testing.T) {
	ts := newTestServer(t, cameratest.New(2*time.Millisecond), broker.Config{}, snapshot.Config{})

	resp, err := http.Get(ts.URL + "/stream")
	require.NoError(t, err)
	assert.Equal(t, "multipart/x-mixed-replace; boundary=frame", resp.Header.Get("Content-Type"))

	buf := make([]byte, 512)
	_, err = io.ReadAtLeast(resp.Body, buf, len(buf))
	require.NoError(t, err)
	assert.Equal(t, 1, ts.Broker.SubscriberCount())

	require.NoError(t, resp.Body.Close())
	assert.Eventually(t, func() bool { return ts.Broker.SubscriberCount() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestTerminatedBroker(t *testing.T) {
	dev := cameratest.New(time.Millisecond)
	dev.ReadErr = cameratest.FailFrom(3)
	ts := newTestServer(t, dev, broker.Config{RetryLimit: -1}, snapshot.Config{Policy: snapshot.PolicyDedicated})

	select {
	case <-ts.Broker.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("broker did not terminate")
	}

	for _, path := range []string{"/capture", "/video", "/health"} {
		t.Run(path, func(t *testing.T) {
			resp, _ := get(t, ts.URL+path)
			assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
		})
	}

	resp, body := get(t, ts.URL+"/api/status")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var status struct {
		Broker broker.Stats `json:"broker"`
	}
	require.NoError(t, json.Unmarshal(body, &status))
	assert.Equal(t, broker.StateTerminated, status.Broker.State)
	assert.NotEmpty(t, status.Broker.LastError)
}

func TestHealthAndStatus(t *testing.T) {
	ts := newTestServer(t, cameratest.New(time.Millisecond), broker.Config{}, snapshot.Config{})
	require.Eventually(t, func() bool { return ts.Broker.State() == broker.StateRunning }, time.Second, time.Millisecond)

	resp, body := get(t, ts.URL+"/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "running")

	resp, body = get(t, ts.URL+"/api/status")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var status map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(body, &status))
	assert.Contains(t, status, "broker")
	assert.Contains(t, status, "camera")
	assert.Equal(t, `"latest"`, string(status["snapshot_policy"]))
}

func TestIndex(t *testing.T) {
	ts := newTestServer(t, cameratest.New(time.Millisecond), broker.Config{}, snapshot.Config{})

	resp, body := get(t, ts.URL+"/")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "Test Camera")
}

func TestCaptureStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{fmt.Errorf("%w: %w", broker.ErrBrokerTerminated, &camera.DeviceError{Op: "acquire", Err: errors.New("gone")}), http.StatusServiceUnavailable},
		{broker.ErrBrokerClosed, http.StatusServiceUnavailable},
		{broker.ErrDegraded, http.StatusServiceUnavailable},
		{&camera.DeviceError{Op: "acquire", Err: camera.ErrWatchdog}, http.StatusServiceUnavailable},
		{&encoder.EncodeError{Format: camera.FormatJPEG, Err: errors.New("bad")}, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, captureStatus(tt.err))
		})
	}
}
