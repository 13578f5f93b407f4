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

// Package reconciler implements the reconcile operator: the
// controller-runtime Reconciler that evaluates every namespace a
// Policy selects, records an AuditResult, patches Policy.status, and
// optionally hands patchable violations to the enforcement planner.
package reconciler

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/pkg/errors"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/reconcile"

	governancev1alpha1 "github.com/ash-governance/workload-governor/pkg/apis/governance/v1alpha1"
	"github.com/ash-governance/workload-governor/pkg/enforcement"
	"github.com/ash-governance/workload-governor/pkg/governance"
	"github.com/ash-governance/workload-governor/pkg/telemetry"
)

const (
	// Finalizer is added to every Policy so its AuditResults can be
	// garbage collected before the Policy itself is removed.
	Finalizer = "governance.ash.dev/finalizer"

	// DefaultRequeueAfter is how often a Policy is re-evaluated absent
	// any triggering watch event.
	DefaultRequeueAfter = 30 * time.Second

	// DefaultAuditResultRetention is how many AuditResults are kept
	// per Policy before the oldest are garbage collected.
	DefaultAuditResultRetention = 10

	// fastRequeue and slowRequeue are the retry backoffs for
	// transient/upstream errors and config/permanent errors
	// respectively.
	fastRequeue = 60 * time.Second
	slowRequeue = 15 * time.Minute
)

// WorkloadLister enumerates the workloads a Policy's namespace
// selector resolves to. Production wiring backs this with a
// client.Client list of pods translated into governance.Workload;
// tests supply a fake.
type WorkloadLister interface {
	ListWorkloads(ctx context.Context, namespaceSelector *metav1.LabelSelector) ([]governance.Workload, error)
}

// ParentPatcher applies an enforcement patch to a resolved parent
// workload. Production wiring resolves parent.Kind to a typed
// client.Object (Deployment/StatefulSet/DaemonSet) and issues a
// client.RawPatch(types.StrategicMergePatchType, data); tests supply a
// recording stub.
type ParentPatcher func(ctx context.Context, parent enforcement.ParentRef, data []byte) error

// Reconciler reconciles a Policy object.
type Reconciler struct {
	client.Client
	Logger        log.Logger
	Workloads     WorkloadLister
	Now           func() time.Time
	Retention     int
	Operator      string // stamped onto enforcement patch annotations
	ParentPatcher ParentPatcher

	// OnFirstSuccess, if set, is invoked once after the first
	// error-free Reconcile call returns. Production wiring uses this
	// to flip /readyz ready only once the controller has actually
	// produced a result, rather than merely finished its cache sync.
	OnFirstSuccess func()
	firstSuccess   sync.Once
}

// New builds a Reconciler with the default retention and requeue
// behavior.
func New(c client.Client, logger log.Logger, workloads WorkloadLister, operatorName string) *Reconciler {
	return &Reconciler{
		Client:    c,
		Logger:    logger,
		Workloads: workloads,
		Now:       time.Now,
		Retention: DefaultAuditResultRetention,
		Operator:  operatorName,
	}
}

// Reconcile implements reconcile.Reconciler.
func (r *Reconciler) Reconcile(ctx context.Context, req reconcile.Request) (reconcile.Result, error) {
	start := r.Now()
	logger := log.With(r.Logger, "policy", req.Name)

	var policy governancev1alpha1.Policy
	if err := r.Get(ctx, req.NamespacedName, &policy); err != nil {
		if apierrors.IsNotFound(err) {
			return reconcile.Result{}, nil
		}
		return reconcile.Result{}, errors.Wrap(err, "get policy")
	}

	if !policy.DeletionTimestamp.IsZero() {
		return r.reconcileDeletion(ctx, &policy, logger)
	}

	if !hasFinalizer(&policy) {
		policy.Finalizers = append(policy.Finalizers, Finalizer)
		if err := r.Update(ctx, &policy); err != nil {
			return reconcile.Result{}, errors.Wrap(err, "add finalizer")
		}
	}

	result, err := r.evaluateAndRecord(ctx, &policy, logger)
	telemetry.ReconcileTotal.Inc()
	telemetry.ReconcileDuration.Observe(r.Now().Sub(start).Seconds())
	if err != nil {
		class := governance.ClassOf(err)
		telemetry.ReconcileErrorsTotal.Inc()
		level.Error(logger).Log("msg", "reconcile failed", "class", class, "err", err)
		return reconcile.Result{RequeueAfter: backoffFor(class)}, nil
	}
	if r.OnFirstSuccess != nil {
		r.firstSuccess.Do(r.OnFirstSuccess)
	}
	return result, nil
}

func backoffFor(class governance.Class) time.Duration {
	switch class {
	case governance.ClassConfig, governance.ClassPermanent:
		return slowRequeue
	default:
		return fastRequeue
	}
}

func hasFinalizer(p *governancev1alpha1.Policy) bool {
	for _, f := range p.Finalizers {
		if f == Finalizer {
			return true
		}
	}
	return false
}

func removeFinalizer(p *governancev1alpha1.Policy) {
	out := p.Finalizers[:0]
	for _, f := range p.Finalizers {
		if f != Finalizer {
			out = append(out, f)
		}
	}
	p.Finalizers = out
}

func (r *Reconciler) reconcileDeletion(ctx context.Context, policy *governancev1alpha1.Policy, logger log.Logger) (reconcile.Result, error) {
	if !hasFinalizer(policy) {
		return reconcile.Result{}, nil
	}
	if err := r.gcAuditResults(ctx, policy.Name, 0); err != nil {
		return reconcile.Result{}, errors.Wrap(err, "gc audit results during deletion")
	}
	removeFinalizer(policy)
	if err := r.Update(ctx, policy); err != nil {
		return reconcile.Result{}, errors.Wrap(err, "remove finalizer")
	}
	level.Info(logger).Log("msg", "policy deleted, audit results reclaimed")
	return reconcile.Result{}, nil
}

// evaluateAndRecord lists the policy's selected workloads, evaluates
// them, writes an AuditResult, patches status, and (in enforce mode)
// hands patchable violations to the enforcement planner.
func (r *Reconciler) evaluateAndRecord(ctx context.Context, policy *governancev1alpha1.Policy, logger log.Logger) (reconcile.Result, error) {
	cfg := policy.Spec.ToConfig()
	now := r.Now()

	workloads, err := r.Workloads.ListWorkloads(ctx, policy.Spec.NamespaceSelector)
	if err != nil {
		return reconcile.Result{}, governance.Wrapf(err, governance.ClassUpstream, "list workloads")
	}

	var (
		allViolations []governance.Violation
		minScore      = uint(100)
		plans         = map[string]enforcement.Plan{}
		nsAggregates  = map[string]governance.Aggregate{}
		nsViolations  = map[string][]governance.Violation{}
	)

	for _, w := range workloads {
		vs := governance.Evaluate(w, cfg, now.Unix())
		allViolations = append(allViolations, vs...)
		nsAggregates[w.Namespace] = governance.AddAggregate(nsAggregates[w.Namespace], vs)
		nsViolations[w.Namespace] = append(nsViolations[w.Namespace], vs...)

		agg := governance.AddAggregate(governance.Aggregate{}, vs)
		if s := governance.Score(agg); s < minScore {
			minScore = s
		}

		if cfg.EnforcementMode == governance.EnforcementEnforce {
			if enforcement.Bypassed(w.Namespace, nil) {
				continue
			}
			parent := enforcement.ResolveParent(w.Namespace, w.Name, w.OwnerRefs)
			patchable := enforcement.PatchableViolations(vs)
			if len(patchable) == 0 {
				continue
			}
			plan := plans[parent.Key()]
			if plan.Parent.Name == "" {
				plan = enforcement.Plan{Parent: parent, Containers: map[string]enforcement.ContainerPatch{}}
			}
			merged := enforcement.BuildPlans(parent, patchable)
			for name, cp := range merged.Containers {
				plan.Containers[name] = cp
			}
			plans[parent.Key()] = plan
		}
	}
	if len(workloads) == 0 {
		minScore = 100
	}

	modeValue := float64(0)
	if cfg.EnforcementMode == governance.EnforcementEnforce {
		modeValue = 1
	}
	severityCounts := map[string]map[governance.Severity]int32{}
	for ns, agg := range nsAggregates {
		telemetry.PolicyHealthScore.WithLabelValues(ns, policy.Name).Set(float64(governance.Score(agg)))
		telemetry.EnforcementMode.WithLabelValues(ns, policy.Name).Set(modeValue)
	}
	for ns, vs := range nsViolations {
		telemetry.PolicyViolationsTotal.WithLabelValues(ns, policy.Name).Set(float64(len(vs)))
		counts := severityCounts[ns]
		if counts == nil {
			counts = map[governance.Severity]int32{}
			severityCounts[ns] = counts
		}
		for _, v := range vs {
			counts[v.Severity]++
		}
	}
	for ns, counts := range severityCounts {
		for sev, c := range counts {
			telemetry.ViolationsBySeverity.WithLabelValues(ns, string(sev)).Set(float64(c))
		}
	}

	probe := enforcement.DefaultProbe{Port: cfg.DefaultProbe.Port, InitialDelaySeconds: cfg.DefaultProbe.InitialDelaySeconds, PeriodSeconds: cfg.DefaultProbe.PeriodSeconds}
	resources := enforcement.DefaultResources{
		CPURequest:    cfg.DefaultResources.CPURequest,
		MemoryRequest: cfg.DefaultResources.MemoryRequest,
		CPULimit:      cfg.DefaultResources.CPULimit,
		MemoryLimit:   cfg.DefaultResources.MemoryLimit,
	}
	applied, failed, remediated := r.applyPlans(ctx, plans, probe, resources, policy.Name, logger)

	if err := r.writeAuditResult(ctx, policy, now, minScore, len(workloads), allViolations); err != nil {
		return reconcile.Result{}, errors.Wrap(err, "write audit result")
	}
	for ns := range nsAggregates {
		telemetry.AuditResultsTotal.WithLabelValues(ns, policy.Name).Inc()
	}
	if err := r.gcAuditResults(ctx, policy.Name, r.retention()); err != nil {
		level.Warn(logger).Log("msg", "audit result garbage collection failed", "err", err)
	}

	if err := r.patchStatus(ctx, policy, now, minScore, allViolations, applied, failed, remediated); err != nil {
		return reconcile.Result{}, errors.Wrap(err, "patch status")
	}

	return reconcile.Result{RequeueAfter: DefaultRequeueAfter}, nil
}

func (r *Reconciler) retention() int {
	if r.Retention <= 0 {
		return DefaultAuditResultRetention
	}
	return r.Retention
}

// applyPlans patches every parent in plans. Parents already carrying
// enforcement.PatchedByAnnotation are not skipped; the merge patches
// are additive and safe to reapply on every reconcile cycle.
func (r *Reconciler) applyPlans(ctx context.Context, plans map[string]enforcement.Plan, probe enforcement.DefaultProbe, resources enforcement.DefaultResources, policyName string, logger log.Logger) (applied, failed int32, remediated []string) {
	keys := make([]string, 0, len(plans))
	for k := range plans {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		plan := plans[k]
		data, err := enforcement.BuildMergePatch(plan, probe, resources, r.Operator)
		if err != nil {
			failed++
			telemetry.EnforcementFailed.WithLabelValues(plan.Parent.Namespace, policyName).Inc()
			level.Error(logger).Log("msg", "build patch failed", "parent", k, "err", err)
			continue
		}
		if err := r.patchParent(ctx, plan.Parent, data); err != nil {
			failed++
			telemetry.EnforcementFailed.WithLabelValues(plan.Parent.Namespace, policyName).Inc()
			level.Error(logger).Log("msg", "apply patch failed", "parent", k, "err", err)
			continue
		}
		applied++
		telemetry.EnforcementApplied.WithLabelValues(plan.Parent.Namespace, policyName).Inc()
		remediated = append(remediated, plan.Parent.Namespace+"/"+plan.Parent.Name)
	}
	return applied, failed, remediated
}

func (r *Reconciler) patchParent(ctx context.Context, parent enforcement.ParentRef, data []byte) error {
	if r.ParentPatcher != nil {
		return r.ParentPatcher(ctx, parent, data)
	}
	return nil
}
