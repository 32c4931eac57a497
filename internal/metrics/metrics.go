// Package metrics exposes Prometheus collectors for the campaign pipeline.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ashureev/campaign-center/internal/domain"
)

const namespace = "campaign"

// Metrics holds every collector on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	campaigns           *prometheus.CounterVec
	stageDuration       *prometheus.HistogramVec
	publishOutcomes     *prometheus.CounterVec
	credentialRefreshes *prometheus.CounterVec
	events              *prometheus.CounterVec
	evictions           *prometheus.CounterVec
	httpRequests        *prometheus.CounterVec
}

// New creates and registers the collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		campaigns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Campaign runs by terminal status.",
		}, []string{"status"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Stage execution time.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"stage", "result"}),
		publishOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_attempts_total",
			Help:      "Publish client outcomes.",
		}, []string{"outcome"}),
		credentialRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "credential_refreshes_total",
			Help:      "Access token refresh attempts.",
		}, []string{"result"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Progress events published to the bus.",
		}, []string{"agent", "status"}),
		evictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscriber_evictions_total",
			Help:      "Observers dropped by the event bus.",
		}, []string{"reason"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"route", "code"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.campaigns,
		m.stageDuration,
		m.publishOutcomes,
		m.credentialRefreshes,
		m.events,
		m.evictions,
		m.httpRequests,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// StageFinished records one stage run.
func (m *Metrics) StageFinished(stage domain.AgentName, failed bool, elapsed time.Duration) {
	result := "ok"
	if failed {
		result = "failed"
	}
	m.stageDuration.WithLabelValues(string(stage), result).Observe(elapsed.Seconds())
}

// CampaignFinished counts a terminal campaign.
func (m *Metrics) CampaignFinished(status domain.CampaignStatus) {
	m.campaigns.WithLabelValues(string(status)).Inc()
}

// PublishOutcome counts a publish client outcome.
func (m *Metrics) PublishOutcome(outcome string) {
	m.publishOutcomes.WithLabelValues(outcome).Inc()
}

// CredentialRefresh counts a token refresh.
func (m *Metrics) CredentialRefresh(success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	m.credentialRefreshes.WithLabelValues(result).Inc()
}

// HandleEvent counts an event. It lets Metrics act as an event bus sink.
func (m *Metrics) HandleEvent(_ context.Context, ev domain.AgentEvent) {
	m.events.WithLabelValues(string(ev.Agent), string(ev.Status)).Inc()
}

// SubscriberEvicted counts an observer dropped by the bus.
func (m *Metrics) SubscriberEvicted(reason string) {
	m.evictions.WithLabelValues(reason).Inc()
}

// HTTPRequest counts one served request.
func (m *Metrics) HTTPRequest(route string, code int) {
	m.httpRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
}

// WatchBus exports live bus registry sizes.
func (m *Metrics) WatchBus(stats func() (campaigns, subscribers int)) {
	m.registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "observed_campaigns",
			Help:      "Campaigns with at least one live observer.",
		}, func() float64 {
			c, _ := stats()
			return float64(c)
		}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "observers",
			Help:      "Live observer connections.",
		}, func() float64 {
			_, s := stats()
			return float64(s)
		}),
	)
}

// WatchCounter exports a monotonically increasing count owned by another
// component. name is prefixed with the package namespace.
func (m *Metrics) WatchCounter(name, help string, value func() int64) {
	m.registry.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, func() float64 {
		return float64(value())
	}))
}
