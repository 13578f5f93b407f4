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

package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/oklog/run"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/informers"
	"k8s.io/client-go/kubernetes"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/tools/cache"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/client-go/tools/leaderelection"
	"k8s.io/client-go/tools/leaderelection/resourcelock"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/ash-governance/workload-governor/internal/loggingutil"
	"github.com/ash-governance/workload-governor/internal/podmodel"
	"github.com/ash-governance/workload-governor/internal/watch"
	governancev1alpha1 "github.com/ash-governance/workload-governor/pkg/apis/governance/v1alpha1"
	"github.com/ash-governance/workload-governor/pkg/governance"
	"github.com/ash-governance/workload-governor/pkg/telemetry"
)

const shutdownGrace = 30 * time.Second

func main() {
	var kubeconfig *string
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		kubeconfig = flag.String("kubeconfig", filepath.Join(home, ".kube", "config"), "(optional) absolute path to the kubeconfig file")
	} else {
		kubeconfig = flag.String("kubeconfig", "", "absolute path to the kubeconfig file")
	}
	var (
		apiserverURL  = flag.String("apiserver", "", "URL to the Kubernetes API server.")
		logLevel      = flag.String("log-level", loggingutil.LogLevelInfo, "Log level: debug, info, warn, error.")
		metricsAddr   = flag.String("metrics-addr", ":8080", "Address to serve /healthz, /readyz, /metrics on.")
		leaseName     = flag.String("lease-name", "workload-governor-watch", "Name of the Lease used for leader election.")
		leaseNS       = flag.String("lease-namespace", "governance-system", "Namespace of the Lease used for leader election.")
		identity      = flag.String("identity", "", "Holder identity recorded on the Lease. Defaults to the pod hostname.")
	)
	flag.Parse()

	logger, err := loggingutil.New(*logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "creating logger failed: %s\n", err)
		os.Exit(2)
	}

	cfg, err := clientcmd.BuildConfigFromFlags(*apiserverURL, *kubeconfig)
	if err != nil {
		level.Error(logger).Log("msg", "building kubeconfig failed", "err", err)
		os.Exit(1)
	}
	clientset, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		level.Error(logger).Log("msg", "building clientset failed", "err", err)
		os.Exit(1)
	}

	scheme := runtime.NewScheme()
	if err := clientgoscheme.AddToScheme(scheme); err != nil {
		level.Error(logger).Log("msg", "registering client-go scheme failed", "err", err)
		os.Exit(1)
	}
	if err := governancev1alpha1.AddToScheme(scheme); err != nil {
		level.Error(logger).Log("msg", "registering governance scheme failed", "err", err)
		os.Exit(1)
	}
	reader, err := client.New(cfg, client.Options{Scheme: scheme})
	if err != nil {
		level.Error(logger).Log("msg", "building API client failed", "err", err)
		os.Exit(1)
	}

	holder := *identity
	if holder == "" {
		holder, _ = os.Hostname()
	}
	lock := &resourcelock.LeaseLock{
		LeaseMeta: metav1.ObjectMeta{Name: *leaseName, Namespace: *leaseNS},
		Client:    clientset.CoordinationV1(),
		LockConfig: resourcelock.ResourceLockConfig{
			Identity: holder,
		},
	}

	maintainer := watch.NewMaintainer(logger)
	policies := &policyIndex{}
	var leading atomic.Bool

	rootCtx, cancelRoot := context.WithCancel(context.Background())
	leCfg := watch.LeaderElectionConfig(lock,
		func(ctx context.Context) {
			leading.Store(true)
			level.Info(logger).Log("msg", "acquired watch controller lease")
			if err := relist(ctx, reader, maintainer, policies); err != nil {
				level.Error(logger).Log("msg", "initial relist failed", "err", err)
			}
			go pollForRelist(ctx, reader, maintainer, policies, logger)
			startPodInformer(ctx, clientset, policies, maintainer, logger)
			maintainer.Run(ctx)
		},
		func() {
			leading.Store(false)
			level.Info(logger).Log("msg", "lost watch controller lease")
		},
	)

	var g run.Group
	{
		term := make(chan os.Signal, 1)
		cancelCh := make(chan struct{})
		signal.Notify(term, os.Interrupt, syscall.SIGTERM)
		g.Add(func() error {
			select {
			case <-term:
				level.Info(logger).Log("msg", "received SIGTERM, exiting gracefully")
			case <-cancelCh:
			}
			return nil
		}, func(err error) {
			close(cancelCh)
		})
	}
	{
		server := &http.Server{Addr: *metricsAddr, Handler: telemetry.NewMux(leading.Load)}
		g.Add(func() error {
			return server.ListenAndServe()
		}, func(err error) {
			ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
			defer cancel()
			server.Shutdown(ctx)
		})
	}
	{
		g.Add(func() error {
			elector, err := leaderelection.NewLeaderElector(leCfg)
			if err != nil {
				return err
			}
			elector.Run(rootCtx)
			return nil
		}, func(err error) {
			cancelRoot()
		})
	}

	if err := g.Run(); err != nil {
		level.Error(logger).Log("msg", "exit with error", "err", err)
		os.Exit(1)
	}
}

// relistPollInterval bounds how long a dropped event (NeedsRelist) or
// a namespace/policy selector change can go unnoticed. Relisting
// unconditionally on every tick, rather than only when NeedsRelist is
// set, keeps policyIndex fresh for the pod informer's event handlers
// as well as recovering from dropped watch events.
const relistPollInterval = 30 * time.Second

// policyIndex is the watch controller's namespace -> governing Policy
// map, rebuilt by every relist and consulted synchronously by the pod
// informer's event handlers so a live Add/Update/Delete never needs
// its own API call to resolve which Policy applies.
type policyIndex struct {
	mtx  sync.Mutex
	byNS map[string]*governance.Policy
}

func (pi *policyIndex) set(m map[string]*governance.Policy) {
	pi.mtx.Lock()
	defer pi.mtx.Unlock()
	pi.byNS = m
}

func (pi *policyIndex) get(ns string) (*governance.Policy, bool) {
	pi.mtx.Lock()
	defer pi.mtx.Unlock()
	p, ok := pi.byNS[ns]
	return p, ok
}

// pollForRelist performs a full relist on every tick, resynchronizing
// the aggregate cache and policyIndex. This also recovers from any
// dropped watch event the maintainer flagged via NeedsRelist, so no
// separate gate on that flag is needed.
func pollForRelist(ctx context.Context, reader client.Reader, maintainer *watch.Maintainer, policies *policyIndex, logger log.Logger) {
	ticker := time.NewTicker(relistPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := relist(ctx, reader, maintainer, policies); err != nil {
				level.Error(logger).Log("msg", "periodic relist failed", "err", err)
			}
		}
	}
}

// relist resolves every namespace's governing Policy, evaluates every
// pod in the cluster against it, and replaces the maintainer's
// aggregate cache and the policyIndex wholesale. It is used once on
// acquiring the lease and on every pollForRelist tick, since
// incremental watch events alone can drift from reality after a
// missed delete, a dropped connection, or a changed namespace
// selector.
func relist(ctx context.Context, reader client.Reader, maintainer *watch.Maintainer, policies *policyIndex) error {
	var policyList governancev1alpha1.PolicyList
	if err := reader.List(ctx, &policyList); err != nil {
		return err
	}
	type selected struct {
		selector labels.Selector
		policy   *governance.Policy
	}
	selectors := make([]selected, 0, len(policyList.Items))
	for i := range policyList.Items {
		sel := labels.Everything()
		if ps := policyList.Items[i].Spec.NamespaceSelector; ps != nil {
			var err error
			if sel, err = metav1.LabelSelectorAsSelector(ps); err != nil {
				continue
			}
		}
		selectors = append(selectors, selected{selector: sel, policy: policyList.Items[i].Spec.ToConfig()})
	}

	var namespaces corev1.NamespaceList
	if err := reader.List(ctx, &namespaces); err != nil {
		return err
	}
	policyForNamespace := make(map[string]*governance.Policy, len(namespaces.Items))
	for _, ns := range namespaces.Items {
		set := labels.Set(ns.Labels)
		for _, s := range selectors {
			if s.selector.Matches(set) {
				policyForNamespace[ns.Name] = s.policy
				break
			}
		}
	}
	policies.set(policyForNamespace)

	var pods corev1.PodList
	if err := reader.List(ctx, &pods); err != nil {
		return err
	}
	now := time.Now().Unix()
	aggregates := make(map[string]governance.Aggregate, len(namespaces.Items))
	for _, p := range pods.Items {
		policy, ok := policyForNamespace[p.Namespace]
		if !ok {
			continue
		}
		vs := governance.Evaluate(podmodel.ToWorkload(p), policy, now)
		aggregates[p.Namespace] = governance.AddAggregate(aggregates[p.Namespace], vs)
	}
	maintainer.ResetAfterRelist(aggregates)
	return nil
}

// podInformerResync is the full-resync period for the pod informer's
// local cache, independent of relistPollInterval's policyIndex/
// aggregate resynchronization.
const podInformerResync = 10 * time.Minute

// startPodInformer watches every pod in the cluster and forwards
// Add/Update/Delete events to the maintainer, consulting policies for
// the governing Policy without any further API call. It returns once
// the informer's cache has synced; the informer itself keeps running
// in the background until ctx is done.
func startPodInformer(ctx context.Context, clientset kubernetes.Interface, policies *policyIndex, maintainer *watch.Maintainer, logger log.Logger) {
	factory := informers.NewSharedInformerFactory(clientset, podInformerResync)
	podInformer := factory.Core().V1().Pods().Informer()

	toEvent := func(kind watch.EventKind, obj interface{}) (watch.Event, bool) {
		pod, ok := obj.(*corev1.Pod)
		if !ok {
			if tomb, ok := obj.(cache.DeletedFinalStateUnknown); ok {
				pod, ok = tomb.Obj.(*corev1.Pod)
				if !ok {
					return watch.Event{}, false
				}
			} else {
				return watch.Event{}, false
			}
		}
		policy, ok := policies.get(pod.Namespace)
		if !ok {
			return watch.Event{}, false
		}
		return watch.Event{Kind: kind, UID: string(pod.UID), Workload: podmodel.ToWorkload(*pod), Policy: policy}, true
	}

	if _, err := podInformer.AddEventHandler(cache.ResourceEventHandlerFuncs{
		AddFunc: func(obj interface{}) {
			if ev, ok := toEvent(watch.EventAdd, obj); ok {
				maintainer.Send(ev)
			}
		},
		UpdateFunc: func(_, newObj interface{}) {
			if ev, ok := toEvent(watch.EventUpdate, newObj); ok {
				maintainer.Send(ev)
			}
		},
		DeleteFunc: func(obj interface{}) {
			if ev, ok := toEvent(watch.EventDelete, obj); ok {
				maintainer.Send(ev)
			}
		},
	}); err != nil {
		level.Error(logger).Log("msg", "registering pod informer event handler failed", "err", err)
		return
	}

	go podInformer.Run(ctx.Done())
	if !cache.WaitForCacheSync(ctx.Done(), podInformer.HasSynced) {
		level.Error(logger).Log("msg", "pod informer cache sync failed")
	}
}
