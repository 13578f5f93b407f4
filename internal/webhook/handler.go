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

package webhook

import (
	"encoding/json"
	"io/ioutil"
	"net/http"
	"strings"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	admissionv1 "k8s.io/api/admission/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/scheme"

	"github.com/ash-governance/workload-governor/pkg/governance"
	"github.com/ash-governance/workload-governor/pkg/telemetry"
)

// Decoder extracts the admitted object's namespace/labels/containers
// from the raw pod-shaped resource embedded in the AdmissionRequest.
// Production wiring decodes a corev1.Pod; tests supply a stub.
type Decoder func(raw []byte) (namespace string, labels map[string]string, w governance.Workload, err error)

// Handler serves the cluster's admission-review HTTP requests against
// a Validator: decode the AdmissionReview, run the Validator, and
// always encode a response, even on decode/evaluate errors.
type Handler struct {
	logger log.Logger
	decode Decoder
	v      *Validator
}

// NewHandler builds a Handler backed by client-go's scheme codec and
// the given Validator/Decoder.
func NewHandler(logger log.Logger, v *Validator, decode Decoder) *Handler {
	return &Handler{logger: logger, decode: decode, v: v}
}

// ServeHTTP decodes an AdmissionReview, evaluates it, and writes back
// an AdmissionReview response carrying the same UID. Every error path
// (body read, decode, panic, timeout) fails open: Allowed stays true
// so the cluster is never broken by the validator being wrong or slow.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	level.Debug(h.logger).Log("msg", "webhook called", "method", r.Method, "path", r.URL.Path)

	var req admissionv1.AdmissionReview
	resp := admissionv1.AdmissionReview{TypeMeta: metav1.TypeMeta{APIVersion: "admission.k8s.io/v1", Kind: "AdmissionReview"}}

	body, err := ioutil.ReadAll(r.Body)
	if err != nil {
		level.Error(h.logger).Log("msg", "reading admission request body", "err", err)
		resp.Response = allowResponse()
	} else if _, _, err := scheme.Codecs.UniversalDeserializer().Decode(body, nil, &req); err != nil {
		level.Error(h.logger).Log("msg", "decoding admission request body", "err", err)
		resp.Response = allowResponse()
	} else {
		resp.Response = h.admit(r, req.Request)
	}

	if req.Request != nil {
		resp.APIVersion = req.APIVersion
		resp.Kind = req.Kind
		resp.Response.UID = req.Request.UID
	}

	encoded, err := json.Marshal(resp)
	if err != nil {
		level.Error(h.logger).Log("msg", "encoding admission response", "err", err)
		return
	}
	if _, err := w.Write(encoded); err != nil {
		level.Error(h.logger).Log("msg", "writing admission response", "err", err)
	}
}

func (h *Handler) admit(r *http.Request, req *admissionv1.AdmissionRequest) *admissionv1.AdmissionResponse {
	if req == nil {
		return allowResponse()
	}

	operation := string(req.Operation)

	namespace, labels, workload, err := h.decode(req.Object.Raw)
	if err != nil {
		level.Error(h.logger).Log("msg", "decoding admitted object", "err", err)
		telemetry.WebhookRequestsTotal.WithLabelValues(operation, "true").Inc()
		return allowResponse()
	}
	if namespace == "" {
		namespace = req.Namespace
	}

	start := time.Now()
	verdict, completed := h.v.Evaluate(r.Context(), namespace, labels, workload)
	telemetry.WebhookRequestDurationSeconds.Observe(time.Since(start).Seconds())
	if !completed {
		level.Warn(h.logger).Log("msg", "admission evaluation failed or did not complete within budget, failing open", "namespace", namespace)
	}
	if verdict.Allowed {
		telemetry.WebhookRequestsTotal.WithLabelValues(operation, "true").Inc()
		return &admissionv1.AdmissionResponse{Allowed: true}
	}

	telemetry.WebhookRequestsTotal.WithLabelValues(operation, "false").Inc()
	for _, t := range verdict.Types {
		telemetry.WebhookDenialsTotal.WithLabelValues(namespace, string(t)).Inc()
	}

	return &admissionv1.AdmissionResponse{
		Allowed: false,
		Result: &metav1.Status{
			Status:  metav1.StatusFailure,
			Message: strings.Join(verdict.Reasons, "; "),
		},
	}
}

func allowResponse() *admissionv1.AdmissionResponse {
	return &admissionv1.AdmissionResponse{Allowed: true}
}
