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

// Package budget models the bounded invocation of a worker: a wall-clock
// ceiling, a memory ceiling and an ephemeral-storage ceiling.
package budget

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Limits are the per-worker invocation ceilings.
type Limits struct {
	Timeout          time.Duration `mapstructure:"timeout"`
	MemoryMB         int64         `mapstructure:"memory_mb"`
	EphemeralStorage int64         `mapstructure:"ephemeral_storage"`
	// Reserve is how much wall-clock time must remain for a worker to
	// persist its progress before the ceiling is hit.
	Reserve time.Duration `mapstructure:"reserve"`
}

const (
	GiB = int64(1024 * 1024 * 1024)
	MiB = int64(1024 * 1024)
)

// PDFLimits give the PDF processor 14 minutes and 1 GB memory. The
// ceiling stays under the 15 minute backlog visibility timeout so a claimed
// continuation is never re-exposed while its invocation is still running.
func PDFLimits() Limits {
	return Limits{
		Timeout:          14 * time.Minute,
		MemoryMB:         1024,
		EphemeralStorage: 512 * MiB,
		Reserve:          2 * time.Minute,
	}
}

// OfficeLimits mirror the office converter: 5 minutes, 1 GB memory.
func OfficeLimits() Limits {
	return Limits{
		Timeout:          5 * time.Minute,
		MemoryMB:         1024,
		EphemeralStorage: 512 * MiB,
	}
}

// VideoLimits apply to both the video and transcript completion workers.
func VideoLimits() Limits {
	return Limits{
		Timeout:          15 * time.Minute,
		MemoryMB:         10240,
		EphemeralStorage: 10 * GiB,
	}
}

var ErrInvalidLimits = errors.New("invalid invocation limits")

// Validate checks the limits are usable.
func (l Limits) Validate() error {
	if l.Timeout <= 0 {
		return fmt.Errorf("%w: timeout must be positive", ErrInvalidLimits)
	}
	if l.Reserve < 0 || l.Reserve >= l.Timeout {
		return fmt.Errorf("%w: reserve %s must be within timeout %s", ErrInvalidLimits, l.Reserve, l.Timeout)
	}
	if l.MemoryMB < 0 || l.EphemeralStorage < 0 {
		return fmt.Errorf("%w: ceilings cannot be negative", ErrInvalidLimits)
	}
	return nil
}

// Clock returns the current time. Tests substitute a fake.
type Clock func() time.Time

// ErrStorageExceeded is returned when a charge would exceed the
// ephemeral-storage ceiling.
var ErrStorageExceeded = errors.New("ephemeral storage ceiling exceeded")

// Tracker follows the consumption of one invocation.
type Tracker struct {
	limits   Limits
	now      Clock
	deadline time.Time

	mu      sync.Mutex
	storage int64
}

// Start begins tracking an invocation at the current time.
func Start(limits Limits, now Clock) *Tracker {
	if now == nil {
		now = time.Now
	}
	return &Tracker{
		limits:   limits,
		now:      now,
		deadline: now().Add(limits.Timeout),
	}
}

// Limits returns the limits being tracked.
func (t *Tracker) Limits() Limits {
	return t.limits
}

// Deadline is the hard wall-clock ceiling.
func (t *Tracker) Deadline() time.Time {
	return t.deadline
}

// Remaining is the time left before the ceiling.
func (t *Tracker) Remaining() time.Duration {
	return t.deadline.Sub(t.now())
}

// Charge records ephemeral storage usage. A zero ceiling means unlimited.
func (t *Tracker) Charge(bytes int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.limits.EphemeralStorage > 0 && t.storage+bytes > t.limits.EphemeralStorage {
		return fmt.Errorf("%w: %d + %d > %d", ErrStorageExceeded, t.storage, bytes, t.limits.EphemeralStorage)
	}
	t.storage += bytes
	return nil
}

// Release returns previously charged storage.
func (t *Tracker) Release(bytes int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.storage -= bytes
	if t.storage < 0 {
		t.storage = 0
	}
}

// StorageUsed is the currently charged ephemeral storage.
func (t *Tracker) StorageUsed() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.storage
}

// ShouldYield reports whether the invocation must stop taking new work and
// persist what it has, because it is inside its reserve window.
func (t *Tracker) ShouldYield() bool {
	return t.Remaining() <= t.limits.Reserve
}

// Context derives a context bounded by the time remaining on the tracker.
func (t *Tracker) Context(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, t.Remaining())
}
