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

import (
	"errors"

	pkgerrors "github.com/pkg/errors"
)

// Class discriminates the handling an error receives at a component's
// top-level loop: which metric it increments, whether it is retried,
// and at what backoff.
type Class string

const (
	// ClassTransient covers errors expected to clear on their own
	// (API server hiccups, conflict errors on patch) and retried at
	// the fast backoff.
	ClassTransient Class = "transient"
	// ClassConfig covers a malformed Policy or flag and is retried at
	// the slow backoff, since retrying sooner cannot help.
	ClassConfig Class = "config"
	// ClassPermanent covers errors that will never succeed without
	// operator intervention (RBAC denial, missing CRD).
	ClassPermanent Class = "permanent"
	// ClassUpstream covers failures calling out to the Kubernetes API
	// that are not simple conflicts (timeouts, 5xx).
	ClassUpstream Class = "upstream"
	// ClassInternal covers bugs: assertion failures, nil derefs caught
	// by a recover(), anything that should page a human.
	ClassInternal Class = "internal"
	// ClassWebhookDeny is reserved for the admission validator's own
	// deny responses, which are not errors but are classified the
	// same way for metric purposes.
	ClassWebhookDeny Class = "webhook_deny"
)

// Classified wraps an error with the Class a component's control loop
// should handle it as. It implements error and unwraps to the
// underlying cause via errors.Unwrap.
type Classified struct {
	class Class
	cause error
}

// Classify wraps err with class. Classify(nil, ...) returns nil so
// callers can write `return governance.Classify(err, ...)` unconditionally.
func Classify(err error, class Class) error {
	if err == nil {
		return nil
	}
	return &Classified{class: class, cause: err}
}

// Wrapf wraps err with class and an additional message using
// github.com/pkg/errors' Wrap.
func Wrapf(err error, class Class, msg string) error {
	if err == nil {
		return nil
	}
	return &Classified{class: class, cause: pkgerrors.Wrap(err, msg)}
}

func (c *Classified) Error() string {
	return c.cause.Error()
}

func (c *Classified) Unwrap() error {
	return c.cause
}

// ClassOf extracts the Class an error was tagged with. Errors that
// were never classified (including nil) are reported as ClassInternal,
// erring toward the loudest handling path rather than silently
// swallowing an unclassified failure.
func ClassOf(err error) Class {
	var classified *Classified
	if errors.As(err, &classified) {
		return classified.class
	}
	return ClassInternal
}
