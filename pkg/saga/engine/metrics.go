// Copyright © 2025 jackelyj <dreamerlyj@gmail.com>
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.
//

package engine

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsCollector receives engine events. Implementations can forward them
// to Prometheus or any other monitoring system.
type MetricsCollector interface {
	RecordSagaStarted(sagaName string)
	RecordSagaCompleted(sagaName string)
	RecordSagaCompensated(sagaName string)
	RecordCompensationFailed(sagaName string)
	RecordSagaCancelled(sagaName string)
	RecordStepTimeout(sagaName, stepName string)
	RecordStepDuration(sagaName, stepName string, d time.Duration)
	RecordDuplicateOutcome(sagaName, stepName string)
	RecordCommandPublished(channel string)
	RecordCommandRedispatched(channel string)
}

// NoopMetrics discards every engine event. It is the default collector.
type NoopMetrics struct{}

func (NoopMetrics) RecordSagaStarted(string)              {}
func (NoopMetrics) RecordSagaCompleted(string)            {}
func (NoopMetrics) RecordSagaCompensated(string)          {}
func (NoopMetrics) RecordCompensationFailed(string)       {}
func (NoopMetrics) RecordSagaCancelled(string)            {}
func (NoopMetrics) RecordStepTimeout(string, string)      {}

func (NoopMetrics) RecordStepDuration(string, string, time.Duration) {}
func (NoopMetrics) RecordDuplicateOutcome(string, string) {}
func (NoopMetrics) RecordCommandPublished(string)         {}
func (NoopMetrics) RecordCommandRedispatched(string)      {}

// PrometheusMetrics exports engine counters through a Prometheus registerer.
type PrometheusMetrics struct {
	sagasStarted        *prometheus.CounterVec
	sagasCompleted      *prometheus.CounterVec
	sagasCompensated    *prometheus.CounterVec
	compensationsFailed *prometheus.CounterVec
	sagasCancelled      *prometheus.CounterVec
	stepTimeouts        *prometheus.CounterVec
	duplicateOutcomes   *prometheus.CounterVec
	commandsPublished   *prometheus.CounterVec
	commandsRedispatch  *prometheus.CounterVec
	stepDuration        *prometheus.HistogramVec
}

// NewPrometheusMetrics creates and registers the engine's metric vectors.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	m := &PrometheusMetrics{
		sagasStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sagaflow", Name: "sagas_started_total",
			Help: "Number of saga instances started.",
		}, []string{"saga"}),
		sagasCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sagaflow", Name: "sagas_completed_total",
			Help: "Number of saga instances that finished every step.",
		}, []string{"saga"}),
		sagasCompensated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sagaflow", Name: "sagas_compensated_total",
			Help: "Number of saga instances fully unwound after a failure.",
		}, []string{"saga"}),
		compensationsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sagaflow", Name: "compensations_failed_total",
			Help: "Number of saga instances parked for manual intervention.",
		}, []string{"saga"}),
		sagasCancelled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sagaflow", Name: "sagas_cancelled_total",
			Help: "Number of saga instances cancelled before completion.",
		}, []string{"saga"}),
		stepTimeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sagaflow", Name: "step_timeouts_total",
			Help: "Number of step outcomes synthesized by the timeout scanner.",
		}, []string{"saga", "step"}),
		duplicateOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sagaflow", Name: "duplicate_outcomes_total",
			Help: "Number of redelivered or late step outcomes absorbed.",
		}, []string{"saga", "step"}),
		commandsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sagaflow", Name: "commands_published_total",
			Help: "Number of commands dispatched to collaborators.",
		}, []string{"channel"}),
		commandsRedispatch: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sagaflow", Name: "commands_redispatched_total",
			Help: "Number of commands re-published by the recovery sweep.",
		}, []string{"channel"}),
		stepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "sagaflow", Name: "step_duration_seconds",
			Help:    "Time from a step's STARTED record to its recorded outcome.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
		}, []string{"saga", "step"}),
	}
	reg.MustRegister(
		m.sagasStarted, m.sagasCompleted, m.sagasCompensated,
		m.compensationsFailed, m.sagasCancelled, m.stepTimeouts,
		m.duplicateOutcomes, m.commandsPublished, m.commandsRedispatch,
		m.stepDuration,
	)
	return m
}

func (m *PrometheusMetrics) RecordSagaStarted(sagaName string) {
	m.sagasStarted.WithLabelValues(sagaName).Inc()
}

func (m *PrometheusMetrics) RecordSagaCompleted(sagaName string) {
	m.sagasCompleted.WithLabelValues(sagaName).Inc()
}

func (m *PrometheusMetrics) RecordSagaCompensated(sagaName string) {
	m.sagasCompensated.WithLabelValues(sagaName).Inc()
}

func (m *PrometheusMetrics) RecordCompensationFailed(sagaName string) {
	m.compensationsFailed.WithLabelValues(sagaName).Inc()
}

func (m *PrometheusMetrics) RecordSagaCancelled(sagaName string) {
	m.sagasCancelled.WithLabelValues(sagaName).Inc()
}

func (m *PrometheusMetrics) RecordStepTimeout(sagaName, stepName string) {
	m.stepTimeouts.WithLabelValues(sagaName, stepName).Inc()
}

func (m *PrometheusMetrics) RecordStepDuration(sagaName, stepName string, d time.Duration) {
	m.stepDuration.WithLabelValues(sagaName, stepName).Observe(d.Seconds())
}

func (m *PrometheusMetrics) RecordDuplicateOutcome(sagaName, stepName string) {
	m.duplicateOutcomes.WithLabelValues(sagaName, stepName).Inc()
}

func (m *PrometheusMetrics) RecordCommandPublished(channel string) {
	m.commandsPublished.WithLabelValues(channel).Inc()
}

func (m *PrometheusMetrics) RecordCommandRedispatched(channel string) {
	m.commandsRedispatch.WithLabelValues(channel).Inc()
}
