/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package reconcile distinguishes the two error classes of the
// reconciliation engine: permanent errors (validation failures, missing
// references) set status=Failed and are never retried, while everything
// else is transient and propagates to the workqueue for backoff.
package reconcile

import (
	"errors"
	"fmt"
)

// PermanentError marks a reconcile failure that retrying cannot fix.
type PermanentError struct {
	Reason string
}

func (e *PermanentError) Error() string {
	return e.Reason
}

// Permanentf builds a PermanentError from a format string.
func Permanentf(format string, args ...any) error {
	return &PermanentError{Reason: fmt.Sprintf(format, args...)}
}

// IsPermanent reports whether err is (or wraps) a PermanentError.
func IsPermanent(err error) bool {
	var p *PermanentError
	return errors.As(err, &p)
}
