package metrics

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/Goshimadev/HeroesMarketplace/internal/marketplace"
)

type Metrics struct {
	HTTPRequests metric.Int64Counter
	HTTPDuration metric.Float64Histogram

	Events        metric.Int64Counter
	EscrowedValue metric.Float64UpDownCounter
	WSConnections metric.Int64UpDownCounter
}

func Setup(serviceName string) (*Metrics, http.Handler, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, nil, err
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	meter := provider.Meter(serviceName)

	m := &Metrics{}

	m.HTTPRequests, err = meter.Int64Counter(
		"hrs_http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.HTTPDuration, err = meter.Float64Histogram(
		"hrs_http_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.Events, err = meter.Int64Counter(
		"hrs_marketplace_events_total",
		metric.WithDescription("Marketplace events by type"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.EscrowedValue, err = meter.Float64UpDownCounter(
		"hrs_escrowed_value",
		metric.WithDescription("Value currently held in auction escrow"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.WSConnections, err = meter.Int64UpDownCounter(
		"hrs_websocket_connections",
		metric.WithDescription("Number of active WebSocket subscribers"),
	)
	if err != nil {
		return nil, nil, err
	}

	handler := promhttp.Handler()
	return m, handler, nil
}

func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, path string, status int, duration time.Duration) {
	labels := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("path", path),
		attribute.Int("status", status),
	)

	m.HTTPRequests.Add(ctx, 1, labels)
	m.HTTPDuration.Record(ctx, duration.Seconds(), labels)
}

// RecordEvent counts an emitted marketplace event.
func (m *Metrics) RecordEvent(ctx context.Context, ev marketplace.Event) {
	m.Events.Add(ctx, 1, metric.WithAttributes(attribute.String("type", string(ev.Type))))
}

func (m *Metrics) AddEscrowedValue(ctx context.Context, delta float64) {
	m.EscrowedValue.Add(ctx, delta)
}

func (m *Metrics) IncrementConnections(ctx context.Context) {
	m.WSConnections.Add(ctx, 1)
}

func (m *Metrics) DecrementConnections(ctx context.Context) {
	m.WSConnections.Add(ctx, -1)
}

// Sink adapts Metrics to the marketplace event sink. It follows the bid
// stream to keep the escrowed-value gauge current: a bid replaces the
// asset's escrowed amount, resolution releases it.
func (m *Metrics) Sink() marketplace.Sink {
	var mu sync.Mutex
	escrowed := make(map[uint64]float64)

	return marketplace.SinkFunc(func(ctx context.Context, ev marketplace.Event) {
		m.RecordEvent(ctx, ev)

		switch ev.Type {
		case marketplace.EventBid:
			amount, err := strconv.ParseFloat(ev.Amount, 64)
			if err != nil {
				return
			}
			mu.Lock()
			prev := escrowed[ev.AssetID]
			escrowed[ev.AssetID] = amount
			mu.Unlock()
			m.AddEscrowedValue(ctx, amount-prev)

		case marketplace.EventAuctionFinished, marketplace.EventAuctionCanceled:
			mu.Lock()
			prev := escrowed[ev.AssetID]
			delete(escrowed, ev.AssetID)
			mu.Unlock()
			if prev != 0 {
				m.AddEscrowedValue(ctx, -prev)
			}
		}
	})
}
