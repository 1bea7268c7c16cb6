package broker

import (
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

var (
	framesPublished   metric.Int64Counter
	framesDropped     metric.Int64Counter
	encodeErrors      metric.Int64Counter
	deviceErrors      metric.Int64Counter
	cameraRestarts    metric.Int64Counter
	activeSubscribers metric.Int64UpDownCounter
)

func init() {
	meter := otel.Meter("github.com/wachiwi/picam/pkg/broker")

	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	var err error
	framesPublished, err = meter.Int64Counter("camera.frames.published",
		metric.WithDescription("Frames published to subscribers"),
		metric.WithUnit("{frames}"),
	)
	add(err)
	framesDropped, err = meter.Int64Counter("camera.frames.dropped",
		metric.WithDescription("Frames replaced in a full subscriber buffer"),
		metric.WithUnit("{frames}"),
	)
	add(err)
	encodeErrors, err = meter.Int64Counter("camera.encode.errors",
		metric.WithDescription("Raw frames that could not be encoded"),
		metric.WithUnit("{frames}"),
	)
	add(err)
	deviceErrors, err = meter.Int64Counter("camera.device.errors",
		metric.WithDescription("Failed camera acquisitions"),
		metric.WithUnit("{errors}"),
	)
	add(err)
	cameraRestarts, err = meter.Int64Counter("camera.restarts",
		metric.WithDescription("Camera device restarts during recovery"),
		metric.WithUnit("{restarts}"),
	)
	add(err)
	activeSubscribers, err = meter.Int64UpDownCounter("camera.subscribers",
		metric.WithDescription("Currently registered stream subscribers"),
		metric.WithUnit("{subscribers}"),
	)
	add(err)

	for _, err := range errs {
		slog.Error("Failed to create broker metrics", "error", err)
	}
}
