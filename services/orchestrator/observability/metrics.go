// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for the chat pipeline.
//
// # Description
//
// Metrics cover the quota-gated request flow end to end:
//   - Request counters by transport and outcome
//   - Debit decisions and points debited per model
//   - Refunds issued after upstream failures, and refunds that failed
//   - Upstream completion latency
//   - Persistence faults by stage
//   - In-flight request gauge
//
// # Integration
//
// Metrics are exposed via the /metrics endpoint.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
// Every Record method is a no-op on a nil *ChatMetrics.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metric Definitions
// =============================================================================

const metricsNamespace = "aleutian"

const chatSubsystem = "chat"

// ChatMetrics holds all Prometheus metrics for the chat pipeline.
//
// # Fields
//
//   - RequestsTotal: requests by transport (http, websocket) and outcome
//   - DebitsTotal: CheckAndDebit decisions by result
//   - PointsDebitedTotal: points removed from balances, by model
//   - RefundsTotal: refunds after upstream failure, by status
//   - UpstreamDurationSeconds: completion latency by model and status
//   - PersistenceFaultsTotal: history writes that failed, by stage
//   - ActiveRequests: requests currently inside the pipeline
type ChatMetrics struct {
	RequestsTotal           *prometheus.CounterVec
	DebitsTotal             *prometheus.CounterVec
	PointsDebitedTotal      *prometheus.CounterVec
	RefundsTotal            *prometheus.CounterVec
	UpstreamDurationSeconds *prometheus.HistogramVec
	PersistenceFaultsTotal  *prometheus.CounterVec
	ActiveRequests          *prometheus.GaugeVec
}

// NewChatMetrics creates the chat metrics and registers them with reg.
//
// # Inputs
//
//   - reg: Target registry. prometheus.DefaultRegisterer in production, a
//     fresh prometheus.NewRegistry() in tests.
//
// # Limitations
//
//   - Panics if called twice against the same registry (duplicate registration).
func NewChatMetrics(reg prometheus.Registerer) *ChatMetrics {
	factory := promauto.With(reg)
	return &ChatMetrics{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: chatSubsystem,
				Name:      "requests_total",
				Help:      "Total chat requests by transport and outcome",
			},
			[]string{"transport", "outcome"},
		),

		DebitsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: chatSubsystem,
				Name:      "debits_total",
				Help:      "Quota decisions by result",
			},
			[]string{"result"},
		),

		PointsDebitedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: chatSubsystem,
				Name:      "points_debited_total",
				Help:      "Points debited from user balances by model",
			},
			[]string{"model"},
		),

		RefundsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: chatSubsystem,
				Name:      "refunds_total",
				Help:      "Refunds issued after a failed completion by status",
			},
			[]string{"status"},
		),

		UpstreamDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: chatSubsystem,
				Name:      "upstream_duration_seconds",
				Help:      "Completion API latency in seconds",
				Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60},
			},
			[]string{"model", "status"},
		),

		PersistenceFaultsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: chatSubsystem,
				Name:      "persistence_faults_total",
				Help:      "Conversation history writes that failed by stage",
			},
			[]string{"stage"},
		),

		ActiveRequests: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: chatSubsystem,
				Name:      "active_requests",
				Help:      "Chat requests currently in the pipeline",
			},
			[]string{"transport"},
		),
	}
}

// =============================================================================
// Label Values
// =============================================================================

// Transport labels the surface a request arrived on.
type Transport string

const (
	TransportHTTP      Transport = "http"
	TransportWebSocket Transport = "websocket"
)

// Outcome labels the terminal state of a chat request.
type Outcome string

const (
	OutcomeSuccess       Outcome = "success"
	OutcomeValidation    Outcome = "validation"
	OutcomeUnauthorized  Outcome = "unauthenticated"
	OutcomeInsufficient  Outcome = "insufficient_balance"
	OutcomeNotFound      Outcome = "conversation_not_found"
	OutcomeDuplicate     Outcome = "duplicate"
	OutcomeUpstreamError Outcome = "upstream_error"
	OutcomeInternalError Outcome = "internal"
)

// DebitResult labels a CheckAndDebit decision.
type DebitResult string

const (
	DebitCharged    DebitResult = "charged"
	DebitFree       DebitResult = "free"
	DebitPrivileged DebitResult = "privileged"
	DebitDenied     DebitResult = "denied"
)

// =============================================================================
// Helper Methods
// =============================================================================

func (m *ChatMetrics) RecordRequest(transport Transport, outcome Outcome) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(string(transport), string(outcome)).Inc()
}

// RecordDebit records a quota decision. points is only added for charged
// decisions.
func (m *ChatMetrics) RecordDebit(result DebitResult, model string, points int) {
	if m == nil {
		return
	}
	m.DebitsTotal.WithLabelValues(string(result)).Inc()
	if result == DebitCharged && points > 0 {
		m.PointsDebitedTotal.WithLabelValues(model).Add(float64(points))
	}
}

func (m *ChatMetrics) RecordRefund(success bool) {
	if m == nil {
		return
	}
	status := "success"
	if !success {
		status = "failed"
	}
	m.RefundsTotal.WithLabelValues(status).Inc()
}

func (m *ChatMetrics) RecordPersistenceFault(stage string) {
	if m == nil {
		return
	}
	m.PersistenceFaultsTotal.WithLabelValues(stage).Inc()
}

// ObserveUpstream records one completion call. It satisfies
// llm.UpstreamObserver.
func (m *ChatMetrics) ObserveUpstream(model, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.UpstreamDurationSeconds.WithLabelValues(model, status).Observe(elapsed.Seconds())
}

func (m *ChatMetrics) RequestStarted(transport Transport) {
	if m == nil {
		return
	}
	m.ActiveRequests.WithLabelValues(string(transport)).Inc()
}

func (m *ChatMetrics) RequestEnded(transport Transport) {
	if m == nil {
		return
	}
	m.ActiveRequests.WithLabelValues(string(transport)).Dec()
}
