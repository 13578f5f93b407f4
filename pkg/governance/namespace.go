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

package governance

import "strings"

// protectedNamespaces are exempt from enforcement (but not from
// auditing) regardless of name pattern.
var protectedNamespaces = map[string]bool{
	"cert-manager": true,
	"istio-system": true,
	"monitoring":   true,
	"argocd":       true,
}

// IsSystemNamespace reports whether ns is a cluster-system or otherwise
// protected namespace that the enforcement planner must never mutate.
// This covers the three well-known kube-* namespaces, any namespace
// prefixed "kube-", any namespace suffixed "-system", and an explicit
// allow-list of common platform add-ons.
func IsSystemNamespace(ns string) bool {
	switch ns {
	case "kube-system", "kube-public", "kube-node-lease":
		return true
	}
	if strings.HasPrefix(ns, "kube-") {
		return true
	}
	if strings.HasSuffix(ns, "-system") {
		return true
	}
	return protectedNamespaces[ns]
}
