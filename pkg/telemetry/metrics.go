// Copyright 2021 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package telemetry holds the Prometheus metrics shared across the
// reconcile operator, watch controller, and admission validator
// binaries, plus the /healthz, /readyz, /metrics HTTP surface common
// to all three.
package telemetry

import "github.com/prometheus/client_golang/prometheus"

// Registry is the single registry every metric below, and every
// cmd/ binary's Go runtime collectors, register against.
var Registry = prometheus.NewRegistry()

var (
	// ClusterHealthScore is the watch controller's cluster-wide
	// aggregate score, the mean across every watched, non-system
	// namespace with at least one tracked pod.
	ClusterHealthScore = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "governance_cluster_health_score",
		Help: "Current cluster-wide health score, 0-100.",
	})

	// NamespaceHealthScore is the watch controller's last-computed
	// score per namespace, in [0, 100].
	NamespaceHealthScore = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "governance_namespace_health_score",
		Help: "Current health score for a namespace, 0-100.",
	}, []string{"namespace"})

	// PodEventsTotal counts every watch event the maintainer applied,
	// labeled by operation (add/update/delete).
	PodEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "governance_pod_events_total",
		Help: "Count of pod watch events applied, by operation.",
	}, []string{"op"})

	// PodsTracked is the number of pods currently held in the watch
	// controller's aggregate cache.
	PodsTracked = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "governance_pods_tracked",
		Help: "Number of pods currently tracked by the watch controller.",
	})

	// ReconcileTotal counts every reconcile cycle, successful or not.
	ReconcileTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "governance_reconcile_total",
		Help: "Count of reconcile cycles run.",
	})

	// ReconcileErrorsTotal counts reconcile cycles that failed.
	ReconcileErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "governance_reconcile_errors_total",
		Help: "Count of reconcile cycles that failed.",
	})

	// ReconcileDuration tracks how long one Policy reconcile cycle
	// takes.
	ReconcileDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "governance_reconcile_duration_seconds",
		Help:    "Duration of a single Policy reconcile cycle.",
		Buckets: prometheus.DefBuckets,
	})

	// PolicyViolationsTotal is the violation count the last evaluation
	// cycle found for a namespace under a policy.
	PolicyViolationsTotal = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "governance_policy_violations_total",
		Help: "Violation count from the last evaluation, by namespace and policy.",
	}, []string{"namespace", "policy"})

	// PolicyHealthScore is the last-computed score for a namespace
	// under a policy, in [0, 100].
	PolicyHealthScore = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "governance_policy_health_score",
		Help: "Current health score for a namespace under a policy, 0-100.",
	}, []string{"namespace", "policy"})

	// EnforcementApplied counts enforcement patches successfully
	// applied, by namespace and policy.
	EnforcementApplied = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "governance_enforcement_applied_total",
		Help: "Count of enforcement patches successfully applied, by namespace and policy.",
	}, []string{"namespace", "policy"})

	// EnforcementFailed counts enforcement patches attempted but
	// rejected, by namespace and policy.
	EnforcementFailed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "governance_enforcement_failed_total",
		Help: "Count of enforcement patches attempted but rejected, by namespace and policy.",
	}, []string{"namespace", "policy"})

	// EnforcementMode reports a namespace's effective enforcement mode
	// under a policy: 0 for audit, 1 for enforce.
	EnforcementMode = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "governance_enforcement_mode",
		Help: "Effective enforcement mode for a namespace under a policy: 0=audit, 1=enforce.",
	}, []string{"namespace", "policy"})

	// ViolationsBySeverity is the last evaluation's violation count
	// for a namespace, broken down by severity.
	ViolationsBySeverity = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "governance_violations_by_severity",
		Help: "Violation count from the last evaluation, by namespace and severity.",
	}, []string{"namespace", "severity"})

	// AuditResultsTotal counts AuditResult records written, by
	// namespace and policy.
	AuditResultsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "governance_audit_results_total",
		Help: "Count of AuditResult records written, by namespace and policy.",
	}, []string{"namespace", "policy"})

	// WebhookRequestsTotal counts every admission review the
	// validator handled, labeled by operation and whether it was
	// allowed.
	WebhookRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "governance_webhook_requests_total",
		Help: "Count of admission reviews handled, by operation and allowed.",
	}, []string{"operation", "allowed"})

	// WebhookDenialsTotal counts denials specifically, labeled by
	// namespace and the violation type that triggered the deny.
	WebhookDenialsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "governance_webhook_denials_total",
		Help: "Count of admission denials, by namespace and violation type.",
	}, []string{"namespace", "violation"})

	// WebhookRequestDurationSeconds tracks how long a single admission
	// review takes to evaluate.
	WebhookRequestDurationSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "governance_webhook_request_duration_seconds",
		Help:    "Duration of a single admission review evaluation.",
		Buckets: prometheus.DefBuckets,
	})

	// LeaderStatus is 1 when the watch controller process holds the
	// watch lease, 0 otherwise. Not part of the stable metric
	// contract; kept as an internal operability signal.
	LeaderStatus = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "governance_watch_leader",
		Help: "1 if this process currently holds the watch controller lease.",
	})
)

func init() {
	Registry.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		ClusterHealthScore,
		NamespaceHealthScore,
		PodEventsTotal,
		PodsTracked,
		ReconcileTotal,
		ReconcileErrorsTotal,
		ReconcileDuration,
		PolicyViolationsTotal,
		PolicyHealthScore,
		EnforcementApplied,
		EnforcementFailed,
		EnforcementMode,
		ViolationsBySeverity,
		AuditResultsTotal,
		WebhookRequestsTotal,
		WebhookDenialsTotal,
		WebhookRequestDurationSeconds,
		LeaderStatus,
	)
}
