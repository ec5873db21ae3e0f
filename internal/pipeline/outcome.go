// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package pipeline

import (
	"errors"
	"fmt"
	"time"
)

// Outcome tells an inbound transport what to do with a delivered event.
type Outcome struct {
	Redeliver bool
	After     time.Duration
}

// Ack acknowledges the event; it will not be delivered again.
func Ack() Outcome {
	return Outcome{}
}

// RedeliverAfter asks the transport to deliver the event again after d.
func RedeliverAfter(d time.Duration) Outcome {
	return Outcome{Redeliver: true, After: d}
}

func (o Outcome) String() string {
	if !o.Redeliver {
		return "ack"
	}
	return fmt.Sprintf("redeliver-after(%s)", o.After)
}

// RetryableError marks a failure that will likely succeed if the same
// event is delivered again later.
type RetryableError struct {
	Err   error
	After time.Duration
}

func (e *RetryableError) Error() string {
	return fmt.Sprintf("retryable after %s: %v", e.After, e.Err)
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// Retryable wraps err so callers redeliver after d.
func Retryable(err error, after time.Duration) error {
	return &RetryableError{Err: err, After: after}
}

// AsRetryable reports whether err (or anything it wraps) is retryable.
func AsRetryable(err error) (*RetryableError, bool) {
	var re *RetryableError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}

// ErrPermanent marks failures that must be surfaced rather than retried.
var ErrPermanent = errors.New("permanent failure")
