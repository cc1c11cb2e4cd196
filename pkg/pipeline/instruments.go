package pipeline

import (
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/wachiwi/framecast/pkg/pipeline"

var (
	meter  = otel.Meter(instrumentationName)
	tracer = otel.Tracer(instrumentationName)

	capturesCounter  metric.Int64Counter
	captureDuration  metric.Float64Histogram
	encodedBytes     metric.Int64Histogram
	motionScoreGauge metric.Float64Gauge
	motionEvents     metric.Int64Counter
	memoryInUse      metric.Int64ObservableGauge
	memoryFailures   metric.Int64ObservableCounter
	sourceFrames     metric.Int64ObservableCounter
)

func init() {
	var err error
	capturesCounter, err = meter.Int64Counter("framecast.captures",
		metric.WithDescription("Captures by result"),
		metric.WithUnit("{captures}"),
	)
	if err != nil {
		slog.Error("Failed to create capture metrics", "error", err)
	}
	captureDuration, err = meter.Float64Histogram("framecast.capture.duration",
		metric.WithDescription("Time to acquire and encode one frame"),
		metric.WithUnit("s"),
	)
	if err != nil {
		slog.Error("Failed to create capture metrics", "error", err)
	}
	encodedBytes, err = meter.Int64Histogram("framecast.capture.size",
		metric.WithDescription("Size of encoded images"),
		metric.WithUnit("By"),
	)
	if err != nil {
		slog.Error("Failed to create capture metrics", "error", err)
	}
	motionScoreGauge, err = meter.Float64Gauge("framecast.motion.score",
		metric.WithDescription("Last motion score between 0 and 100"),
	)
	if err != nil {
		slog.Error("Failed to create motion metrics", "error", err)
	}
	motionEvents, err = meter.Int64Counter("framecast.motion.events",
		metric.WithDescription("Captures scoring at or above the motion threshold"),
		metric.WithUnit("{events}"),
	)
	if err != nil {
		slog.Error("Failed to create motion metrics", "error", err)
	}
	memoryInUse, err = meter.Int64ObservableGauge("framecast.memory.in_use",
		metric.WithDescription("Bytes allocated per memory tier"),
		metric.WithUnit("By"),
	)
	if err != nil {
		slog.Error("Failed to create memory metrics", "error", err)
	}
	memoryFailures, err = meter.Int64ObservableCounter("framecast.memory.failures",
		metric.WithDescription("Allocation requests that no pool could satisfy"),
		metric.WithUnit("{allocations}"),
	)
	if err != nil {
		slog.Error("Failed to create memory metrics", "error", err)
	}
	sourceFrames, err = meter.Int64ObservableCounter("framecast.source.frames",
		metric.WithDescription("Sensor frames by event: captured, dropped (overwritten before delivery) or failed"),
		metric.WithUnit("{frames}"),
	)
	if err != nil {
		slog.Error("Failed to create source metrics", "error", err)
	}
}
