package server

import (
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

var (
	meter = otel.Meter("github.com/wachiwi/framecast/pkg/server")

	streamSessions metric.Int64UpDownCounter
	streamParts    metric.Int64Counter
	sessionsEnded  metric.Int64Counter
)

func init() {
	var err error
	streamSessions, err = meter.Int64UpDownCounter("framecast.stream.sessions",
		metric.WithDescription("Active stream sessions"),
		metric.WithUnit("{sessions}"),
	)
	if err != nil {
		slog.Error("Failed to create stream metrics", "error", err)
	}
	streamParts, err = meter.Int64Counter("framecast.stream.parts",
		metric.WithDescription("Images written to stream clients"),
		metric.WithUnit("{parts}"),
	)
	if err != nil {
		slog.Error("Failed to create stream metrics", "error", err)
	}
	sessionsEnded, err = meter.Int64Counter("framecast.stream.ended",
		metric.WithDescription("Stream sessions ended, by cause"),
		metric.WithUnit("{sessions}"),
	)
	if err != nil {
		slog.Error("Failed to create stream metrics", "error", err)
	}
}
