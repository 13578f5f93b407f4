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

package certbootstrap

import (
	"context"
	"crypto/tls"
	"io/ioutil"

	"github.com/pkg/errors"
	"k8s.io/client-go/kubernetes"
)

// LoadStatic reads a pre-mounted cert/key pair from disk. This is the
// default path: reload requires a process restart.
func LoadStatic(certFile, keyFile string) (tls.Certificate, error) {
	pair, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return tls.Certificate{}, errors.Wrap(err, "loading webhook serving certificate")
	}
	return pair, nil
}

// BootstrapCSR provisions a fresh serving certificate through the
// kube-apiserver CSR API and writes it to certFile/keyFile, then loads
// it the same way LoadStatic would. Used only when the webhook binary
// is started with --bootstrap-csr.
func BootstrapCSR(ctx context.Context, client kubernetes.Interface, fqdn, certFile, keyFile string) (tls.Certificate, error) {
	certPEM, keyPEM, err := CreateSignedKeyPair(ctx, client, fqdn)
	if err != nil {
		return tls.Certificate{}, errors.Wrap(err, "bootstrapping webhook serving certificate via CSR")
	}
	if err := ioutil.WriteFile(certFile, certPEM, 0o600); err != nil {
		return tls.Certificate{}, errors.Wrap(err, "writing bootstrapped certificate")
	}
	if err := ioutil.WriteFile(keyFile, keyPEM, 0o600); err != nil {
		return tls.Certificate{}, errors.Wrap(err, "writing bootstrapped key")
	}
	return LoadStatic(certFile, keyFile)
}
