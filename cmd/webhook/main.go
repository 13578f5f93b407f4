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
	"crypto/tls"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/go-kit/kit/log/level"
	"github.com/oklog/run"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/kubernetes"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	ctrl "sigs.k8s.io/controller-runtime"
	metricsserver "sigs.k8s.io/controller-runtime/pkg/metrics/server"

	"github.com/ash-governance/workload-governor/internal/certbootstrap"
	"github.com/ash-governance/workload-governor/internal/loggingutil"
	"github.com/ash-governance/workload-governor/internal/webhook"
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
		logLevel            = flag.String("log-level", loggingutil.LogLevelInfo, "Log level: debug, info, warn, error.")
		metricsAddr         = flag.String("metrics-addr", ":8080", "Address to serve /healthz, /readyz, /metrics on.")
		webhookAddr         = flag.String("webhook-addr", ":8443", "Address the TLS admission webhook server listens on.")
		tlsCertFile         = flag.String("tls-cert-file", "/etc/workload-governor/tls/tls.crt", "Path to the webhook serving certificate.")
		tlsKeyFile          = flag.String("tls-key-file", "/etc/workload-governor/tls/tls.key", "Path to the webhook serving key.")
		bootstrapCSR        = flag.Bool("bootstrap-csr", false, "Provision the serving certificate via a kube-apiserver CertificateSigningRequest instead of loading it from disk.")
		webhookFQDN         = flag.String("webhook-fqdn", "", "Service FQDN the bootstrapped certificate is issued for. Required when --bootstrap-csr is set.")
		minBlockingSeverity = flag.String("min-blocking-severity", string(governance.SeverityHigh), "Lowest violation severity that denies admission.")
	)
	flag.Parse()

	logger, err := loggingutil.New(*logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "creating logger failed: %s\n", err)
		os.Exit(2)
	}

	if *kubeconfig != "" {
		if err := os.Setenv("KUBECONFIG", *kubeconfig); err != nil {
			level.Warn(logger).Log("msg", "setting KUBECONFIG env failed", "err", err)
		}
	}
	cfg, err := ctrl.GetConfig()
	if err != nil {
		level.Error(logger).Log("msg", "building kubeconfig failed", "err", err)
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

	mgr, err := ctrl.NewManager(cfg, ctrl.Options{
		Scheme:                 scheme,
		Metrics:                metricsserver.Options{BindAddress: "0"},
		HealthProbeBindAddress: "0",
	})
	if err != nil {
		level.Error(logger).Log("msg", "creating manager failed", "err", err)
		os.Exit(1)
	}

	var cert tls.Certificate
	if *bootstrapCSR {
		if *webhookFQDN == "" {
			level.Error(logger).Log("msg", "--webhook-fqdn is required with --bootstrap-csr")
			os.Exit(2)
		}
		clientset, err := kubernetes.NewForConfig(cfg)
		if err != nil {
			level.Error(logger).Log("msg", "building clientset failed", "err", err)
			os.Exit(1)
		}
		bootstrapCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		cert, err = certbootstrap.BootstrapCSR(bootstrapCtx, clientset, *webhookFQDN, *tlsCertFile, *tlsKeyFile)
		cancel()
		if err != nil {
			level.Error(logger).Log("msg", "bootstrapping TLS certificate via CSR failed", "err", err)
			os.Exit(1)
		}
	} else {
		cert, err = certbootstrap.LoadStatic(*tlsCertFile, *tlsKeyFile)
		if err != nil {
			level.Error(logger).Log("msg", "loading TLS certificate failed", "err", err)
			os.Exit(1)
		}
	}

	validator := webhook.NewValidator(webhook.NewManagerPolicyLookup(mgr.GetClient()), governance.Severity(*minBlockingSeverity))
	handler := webhook.NewHandler(logger, validator, webhook.DecodePod)
	mux := http.NewServeMux()
	mux.Handle(webhook.PodValidationPath, handler)

	var ready atomic.Bool

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
		server := &http.Server{Addr: *metricsAddr, Handler: telemetry.NewMux(ready.Load)}
		g.Add(func() error {
			return server.ListenAndServe()
		}, func(err error) {
			ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
			defer cancel()
			server.Shutdown(ctx)
		})
	}
	{
		server := &http.Server{
			Addr:      *webhookAddr,
			Handler:   mux,
			TLSConfig: &tls.Config{Certificates: []tls.Certificate{cert}},
		}
		g.Add(func() error {
			return server.ListenAndServeTLS("", "")
		}, func(err error) {
			ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
			defer cancel()
			server.Shutdown(ctx)
		})
	}
	{
		ctx, cancel := context.WithCancel(context.Background())
		g.Add(func() error {
			go func() {
				if mgr.GetCache().WaitForCacheSync(ctx) {
					ready.Store(true)
				}
			}()
			return mgr.Start(ctx)
		}, func(err error) {
			cancel()
		})
	}

	if err := g.Run(); err != nil {
		level.Error(logger).Log("msg", "exit with error", "err", err)
		os.Exit(1)
	}
}
