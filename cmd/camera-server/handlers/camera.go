package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	"github.com/wachiwi/picam/pkg/broker"
	"github.com/wachiwi/picam/pkg/camera"
	"github.com/wachiwi/picam/pkg/snapshot"
	"github.com/wachiwi/picam/pkg/stream"
)

var (
	captureCounter metric.Int64Counter
	tracer         = otel.Tracer("github.com/wachiwi/picam/cmd/camera-server")
)

func init() {
	var err error
	meter := otel.Meter("github.com/wachiwi/picam/cmd/camera-server")
	captureCounter, err = meter.Int64Counter("camera.captures",
		metric.WithDescription("Snapshot requests by result"),
		metric.WithUnit("{requests}"),
	)
	if err != nil {
		slog.Error("Failed to create capture metrics", "error", err)
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type CameraHandler struct {
	Broker    *broker.Broker
	Camera    *camera.Resource
	Snapshots *snapshot.Handler
	Saver     *snapshot.Saver // nil disables ?save=1

	WSWriteTimeout time.Duration
}

// available reports whether new viewers can be served.
func (h *CameraHandler) available() bool {
	switch h.Broker.State() {
	case broker.StateTerminated, broker.StateStopped:
		return false
	}
	return true
}

// Stream serves the live MJPEG stream.
func (h *CameraHandler) Stream(c *gin.Context) {
	if !h.available() {
		c.String(http.StatusServiceUnavailable, "Camera not available")
		return
	}

	tr, err := stream.NewMultipartTransport(c.Writer)
	if err != nil {
		c.String(http.StatusInternalServerError, "Streaming not supported")
		return
	}

	s := stream.NewSession(h.Broker, tr)
	if err := s.Run(c.Request.Context()); err != nil && s.Frames() == 0 && !c.Writer.Written() {
		c.Header("Content-Type", "text/plain; charset=utf-8")
		c.String(http.StatusServiceUnavailable, "Camera not available")
	}
}

// WebSocket streams frames as binary websocket messages.
func (h *CameraHandler) WebSocket(c *gin.Context) {
	if !h.available() {
		c.String(http.StatusServiceUnavailable, "Camera not available")
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Warn("WebSocket upgrade failed", "error", err)
		return
	}
	tr := stream.NewWebSocketTransport(conn, h.WSWriteTimeout)
	defer tr.Close()

	if err := stream.NewSession(h.Broker, tr).Run(c.Request.Context()); err != nil {
		slog.Info("WebSocket stream ended", "error", err)
	}
}

// Capture returns a single JPEG. With ?save=1 the image is also stored in
// the snapshot directory.
func (h *CameraHandler) Capture(c *gin.Context) {
	ctx, span := tracer.Start(c.Request.Context(), "capture")
	defer span.End()
	span.SetAttributes(attribute.String("snapshot.policy", string(h.Snapshots.Policy())))

	f, err := h.Snapshots.Capture(ctx)
	if err != nil {
		status := captureStatus(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		captureCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("result", "error")))
		slog.Warn("Capture failed", "error", err, "status", status)
		c.String(status, "Capture failed: %v", err)
		return
	}
	span.SetAttributes(attribute.Int64("frame.seq", int64(f.Seq)))

	if save, _ := strconv.ParseBool(c.Query("save")); save && h.Saver != nil {
		name, err := h.Saver.Save(f)
		if err != nil {
			slog.Error("Failed to save capture", "error", err)
		} else {
			c.Header("X-Snapshot-Name", name)
		}
	}

	captureCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("result", "ok")))
	c.Header("Cache-Control", "no-cache, no-store, must-revalidate")
	c.Header("X-Frame-Seq", strconv.FormatUint(f.Seq, 10))
	c.Header("X-Captured-At", f.CapturedAt.UTC().Format(time.RFC3339Nano))
	c.Data(http.StatusOK, "image/jpeg", f.Data)
}

// captureStatus maps capture errors to HTTP status codes.
func captureStatus(err error) int {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, broker.ErrBrokerTerminated),
		errors.Is(err, broker.ErrBrokerClosed),
		errors.Is(err, broker.ErrDegraded),
		camera.IsDeviceError(err):
		return http.StatusServiceUnavailable
	default:
		// Encode errors and anything unexpected
		return http.StatusInternalServerError
	}
}

// Status reports broker and camera counters.
func (h *CameraHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"broker":          h.Broker.Stats(),
		"camera":          h.Camera.Stats(),
		"snapshot_policy": h.Snapshots.Policy(),
	})
}

// Health is healthy until the broker gave up on the camera or was stopped.
func (h *CameraHandler) Health(c *gin.Context) {
	state := h.Broker.State()
	status := http.StatusOK
	if !h.available() {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"state": state})
}
