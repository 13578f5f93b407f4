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

// Package certbootstrap provisions the admission webhook's TLS
// serving certificate through the kube-apiserver CSR API, for
// clusters that run the validator with --bootstrap-csr instead of a
// pre-mounted cert/key pair. Rotation is not handled here: a new
// certificate requires a managed restart.
package certbootstrap

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"

	certsv1 "k8s.io/api/certificates/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/util/cert"
	"k8s.io/client-go/util/certificate/csr"
	"k8s.io/client-go/util/keyutil"
)

// signerName requests a certificate suitable for an in-cluster
// service's TLS serving endpoint, as opposed to the kubelet serving
// signer used for node client certificates.
const signerName = "kubernetes.io/kube-apiserver-client"

var usages = []certsv1.KeyUsage{
	certsv1.UsageDigitalSignature,
	certsv1.UsageKeyEncipherment,
	certsv1.UsageServerAuth,
}

// provisionCSR generates an RSA key pair and submits a CSR for fqdn
// (the webhook Service's cluster-internal DNS name), returning the
// CSR's name and the PEM-encoded private key.
func provisionCSR(client kubernetes.Interface, fqdn string) (string, []byte, error) {
	template := &x509.CertificateRequest{
		Subject:  pkix.Name{CommonName: fqdn},
		DNSNames: []string{fqdn},
	}

	keyPair, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return "", nil, err
	}
	csrBytes, err := cert.MakeCSRFromTemplate(keyPair, template)
	if err != nil {
		return "", nil, err
	}
	name, _, err := csr.RequestCertificate(client, csrBytes, fqdn, signerName, nil, usages, keyPair)
	if err != nil {
		return name, nil, err
	}

	var keyBuffer bytes.Buffer
	if err := pem.Encode(&keyBuffer, &pem.Block{
		Type:  keyutil.RSAPrivateKeyBlockType,
		Bytes: x509.MarshalPKCS1PrivateKey(keyPair),
	}); err != nil {
		return name, nil, err
	}
	return name, keyBuffer.Bytes(), nil
}

// deleteOldCSR removes any leftover CSR from a previous bootstrap
// attempt under the same name.
func deleteOldCSR(ctx context.Context, client kubernetes.Interface, name string) error {
	err := client.CertificatesV1().CertificateSigningRequests().Delete(ctx, name, metav1.DeleteOptions{})
	if err != nil && !apierrors.IsNotFound(err) {
		return err
	}
	return nil
}

// approveCSR approves the named CSR and waits for the signer to issue
// the certificate.
func approveCSR(ctx context.Context, client kubernetes.Interface, name string) ([]byte, error) {
	api := client.CertificatesV1().CertificateSigningRequests()

	req, err := api.Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return nil, err
	}
	req.Status.Conditions = append(req.Status.Conditions, certsv1.CertificateSigningRequestCondition{
		Type:   certsv1.CertificateApproved,
		Status: "True",
	})
	req, err = api.UpdateApproval(ctx, name, req, metav1.UpdateOptions{})
	if err != nil {
		return nil, err
	}

	return csr.WaitForCertificate(ctx, client, req.Name, req.UID)
}

// CreateSignedKeyPair provisions and returns a kube-apiserver-signed
// certificate and PEM-encoded private key for fqdn, deleting any
// stale CSR of the same name first.
func CreateSignedKeyPair(ctx context.Context, client kubernetes.Interface, fqdn string) ([]byte, []byte, error) {
	if err := deleteOldCSR(ctx, client, fqdn); err != nil {
		return nil, nil, err
	}
	name, key, err := provisionCSR(client, fqdn)
	if err != nil {
		return nil, nil, err
	}
	certPEM, err := approveCSR(ctx, client, name)
	if err != nil {
		return nil, key, err
	}
	return certPEM, key, nil
}
