// Package metrics counts throttled transport activity in a private
// Prometheus registry. The CLI does not expose an HTTP endpoint; the
// gathered samples are rendered into the debug report instead.
package metrics

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"

	"github.com/gandiwan/CDP-Quip-Runbooker/internal/domain/model"
	"github.com/gandiwan/CDP-Quip-Runbooker/internal/domain/port/driven"
)

const namespace = "cdp_runbooker"

// Compile-time interface satisfaction check.
var _ driven.TransportObserver = (*Observer)(nil)

// Observer implements driven.TransportObserver with Prometheus collectors.
type Observer struct {
	registry *prometheus.Registry

	sends       *prometheus.CounterVec
	responses   *prometheus.CounterVec
	outcomes    *prometheus.CounterVec
	waits       *prometheus.CounterVec
	waitSeconds *prometheus.CounterVec
	remaining   prometheus.Gauge
}

// NewObserver creates an Observer with its own registry.
func NewObserver() *Observer {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Observer{
		registry: reg,

		// sends counts requests put on the wire.
		// Labels: endpoint (route label, e.g. "users.lookup").
		sends: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_sent_total",
			Help:      "Total number of Quip API requests sent, including retries.",
		}, []string{"endpoint"}),

		responses: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "responses_total",
			Help:      "Total number of Quip API responses by status code; 0 means no response.",
		}, []string{"endpoint", "status"}),

		outcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "call_outcomes_total",
			Help:      "Total number of completed logical calls by outcome.",
		}, []string{"endpoint", "outcome"}),

		// waits counts suspensions.
		// Labels: reason ("quota", "retry_after", "backoff").
		waits: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "waits_total",
			Help:      "Total number of times the transport suspended before sending.",
		}, []string{"reason"}),

		waitSeconds: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "wait_seconds_total",
			Help:      "Total time spent suspended, by reason.",
		}, []string{"reason"}),

		remaining: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "quota_remaining",
			Help:      "Last known remaining request quota; -1 while unknown.",
		}),
	}
}

// Observe updates the collectors for ev.
func (o *Observer) Observe(ev model.TransportEvent) {
	switch ev.Kind {
	case model.EventSend:
		o.sends.WithLabelValues(ev.Endpoint).Inc()
	case model.EventResponse:
		o.responses.WithLabelValues(ev.Endpoint, strconv.Itoa(ev.Status)).Inc()
		o.remaining.Set(float64(ev.Remaining))
	case model.EventWait:
		o.waits.WithLabelValues(string(ev.Reason)).Inc()
		o.waitSeconds.WithLabelValues(string(ev.Reason)).Add(ev.Wait.Seconds())
	case model.EventOutcome:
		o.outcomes.WithLabelValues(ev.Endpoint, ev.Outcome).Inc()
	}
}

// Registry exposes the private registry, e.g. for testutil assertions.
func (o *Observer) Registry() *prometheus.Registry {
	return o.registry
}

// Sample is one gathered metric value.
type Sample struct {
	Name   string
	Labels string
	Value  float64
}

// Samples gathers every counter and gauge into a flat, sorted list.
func (o *Observer) Samples() ([]Sample, error) {
	families, err := o.registry.Gather()
	if err != nil {
		return nil, fmt.Errorf("gather metrics: %w", err)
	}

	var out []Sample
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			out = append(out, Sample{
				Name:   mf.GetName(),
				Labels: formatLabels(m.GetLabel()),
				Value:  metricValue(mf.GetType(), m),
			})
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].Labels < out[j].Labels
	})
	return out, nil
}

func metricValue(t dto.MetricType, m *dto.Metric) float64 {
	switch t {
	case dto.MetricType_COUNTER:
		return m.GetCounter().GetValue()
	case dto.MetricType_GAUGE:
		return m.GetGauge().GetValue()
	default:
		return 0
	}
}

func formatLabels(pairs []*dto.LabelPair) string {
	parts := make([]string, 0, len(pairs))
	for _, p := range pairs {
		parts = append(parts, p.GetName()+"="+p.GetValue())
	}
	return strings.Join(parts, ",")
}
