package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
)

// Metrics counts ingest outcomes. Outcome labels match the HTTP statuses the
// endpoint reports: created, duplicate, unsupported_version, malformed,
// forbidden, error.
type Metrics struct {
	Ingests       *prometheus.CounterVec
	FragsIngested prometheus.Counter

	registry *prometheus.Registry
}

func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		Ingests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "warlog_ingests_total",
			Help: "Log payload ingestion attempts by outcome.",
		}, []string{"outcome"}),
		FragsIngested: factory.NewCounter(prometheus.CounterOpts{
			Name: "warlog_frags_ingested_total",
			Help: "Frag records persisted across all ingested payloads.",
		}),
		registry: registry,
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

var Module = fx.Provide(New)
