// Package metrics exposes prometheus collectors for scans, rule evaluations
// and breaker decisions. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "complyio"

// Metrics holds the collectors.
type Metrics struct {
	registry *prometheus.Registry

	ruleEvaluations   *prometheus.CounterVec
	ruleErrors        *prometheus.CounterVec
	projectScans      *prometheus.CounterVec
	scanDuration      *prometheus.HistogramVec
	breakerDecisions  *prometheus.CounterVec
	retries           *prometheus.CounterVec
	registrationsSeen prometheus.Gauge
}

// New creates and registers the collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ruleEvaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rule_evaluations_total",
			Help:      "Rule evaluations by rule and determined compliance.",
		}, []string{"rule", "compliant"}),
		ruleErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rule_errors_total",
			Help:      "Rule evaluations that failed.",
		}, []string{"rule"}),
		projectScans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "project_scans_total",
			Help:      "Project scans by organization and outcome.",
		}, []string{"organization", "outcome"}),
		scanDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "project_scan_duration_seconds",
			Help:      "Duration of project scans.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}, []string{"organization"}),
		breakerDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "breaker_decisions_total",
			Help:      "Pipeline breaker decisions by status and pipeline type.",
		}, []string{"status", "pipeline_type"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "activity_retries_total",
			Help:      "Retried activity attempts.",
		}, []string{"activity"}),
		registrationsSeen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "imported_registrations",
			Help:      "Registrations seen by the last CMDB import.",
		}),
	}

	m.registry.MustRegister(
		m.ruleEvaluations,
		m.ruleErrors,
		m.projectScans,
		m.scanDuration,
		m.breakerDecisions,
		m.retries,
		m.registrationsSeen,
		prometheus.NewGoCollector(),
	)
	return m
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) RuleEvaluated(rule string, determinedCompliant bool) {
	if m == nil {
		return
	}
	m.ruleEvaluations.WithLabelValues(rule, strconv.FormatBool(determinedCompliant)).Inc()
}

func (m *Metrics) RuleFailed(rule string) {
	if m == nil {
		return
	}
	m.ruleErrors.WithLabelValues(rule).Inc()
}

func (m *Metrics) ProjectScanned(organization string, err error, took time.Duration) {
	if m == nil {
		return
	}
	outcome := "succeeded"
	if err != nil {
		outcome = "failed"
	}
	m.projectScans.WithLabelValues(organization, outcome).Inc()
	m.scanDuration.WithLabelValues(organization).Observe(took.Seconds())
}

func (m *Metrics) BreakerDecision(status, pipelineType string) {
	if m == nil {
		return
	}
	m.breakerDecisions.WithLabelValues(status, pipelineType).Inc()
}

func (m *Metrics) Retried(activity string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(activity).Inc()
}

func (m *Metrics) RegistrationsImported(n int) {
	if m == nil {
		return
	}
	m.registrationsSeen.Set(float64(n))
}
