package scraper

import (
	"context"
	"time"

	"github.com/use-agent/powerwatch/navigator"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Cycle outcomes recorded on powerwatch.scrape.cycles.
const (
	outcomeFresh = "fresh"
	outcomeStale = "stale"
	outcomeEmpty = "empty"
)

type metrics struct {
	cycles   metric.Int64Counter
	rebuilds metric.Int64Counter
	duration metric.Float64Histogram
	tiers    metric.Int64Counter
}

func newMetrics() *metrics {
	meter := otel.Meter("github.com/use-agent/powerwatch/scraper")
	m := &metrics{}
	m.cycles, _ = meter.Int64Counter("powerwatch.scrape.cycles",
		metric.WithDescription("Scrape calls by outcome"),
		metric.WithUnit("{cycle}"))
	m.rebuilds, _ = meter.Int64Counter("powerwatch.session.rebuilds",
		metric.WithDescription("Browser sessions torn down and rebuilt after a session-fatal error"),
		metric.WithUnit("{rebuild}"))
	m.duration, _ = meter.Float64Histogram("powerwatch.scrape.duration",
		metric.WithDescription("Wall time of a scrape call including its retry"),
		metric.WithUnit("s"))
	m.tiers, _ = meter.Int64Counter("powerwatch.navigation.tier",
		metric.WithDescription("Navigation tier that reached the target view"),
		metric.WithUnit("{navigation}"))
	return m
}

func (m *metrics) cycle(ctx context.Context, outcome string, elapsed time.Duration) {
	if m.cycles != nil {
		m.cycles.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	}
	if m.duration != nil {
		m.duration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(attribute.String("outcome", outcome)))
	}
}

func (m *metrics) rebuild(ctx context.Context, code string) {
	if m.rebuilds != nil {
		m.rebuilds.Add(ctx, 1, metric.WithAttributes(attribute.String("code", code)))
	}
}

func (m *metrics) tier(ctx context.Context, t navigator.Tier) {
	if m.tiers != nil {
		m.tiers.Add(ctx, 1, metric.WithAttributes(attribute.String("tier", t.String())))
	}
}
