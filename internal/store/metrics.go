package store

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/mapcal/mapcal/internal/store"

// Metrics holds store instruments.
type Metrics struct {
	saves     metric.Int64Counter
	merges    metric.Int64Counter
	revisions metric.Int64Counter
}

// NewMetrics creates store instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)

	saves, err := meter.Int64Counter(
		"mapcal.store.saves",
		metric.WithDescription("Number of calendar saves received"),
		metric.WithUnit("{save}"),
	)
	if err != nil {
		return nil, err
	}

	merges, err := meter.Int64Counter(
		"mapcal.store.merges",
		metric.WithDescription("Number of saves reconciled with the three-way merge"),
		metric.WithUnit("{merge}"),
	)
	if err != nil {
		return nil, err
	}

	revisions, err := meter.Int64Counter(
		"mapcal.store.revisions",
		metric.WithDescription("Number of accepted revisions"),
		metric.WithUnit("{revision}"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{saves: saves, merges: merges, revisions: revisions}, nil
}

func (m *Metrics) recordSave(ctx context.Context, merged, changed bool) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.Bool("merged", merged),
		attribute.Bool("changed", changed),
	)
	m.saves.Add(ctx, 1, attrs)
	if merged {
		m.merges.Add(ctx, 1)
	}
	if changed {
		m.revisions.Add(ctx, 1)
	}
}
