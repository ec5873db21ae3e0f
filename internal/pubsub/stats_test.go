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

package pubsub

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStatsAggregator_Accumulates(t *testing.T) {
	sa := NewStatsAggregator(time.Minute)
	sa.RecordProcessed("sqs", 3)
	sa.RecordProcessed("sqs", 2)
	sa.RecordRedelivered("sqs", 1)
	sa.RecordSkipped("http", 4)

	sa.mu.Lock()
	assert.Equal(t, int64(5), sa.stats["sqs"].processed)
	assert.Equal(t, int64(1), sa.stats["sqs"].redelivered)
	assert.Equal(t, int64(4), sa.stats["http"].skipped)
	sa.mu.Unlock()

	sa.reportStats()

	sa.mu.Lock()
	assert.Empty(t, sa.stats, "reporting resets the counters")
	sa.mu.Unlock()
}

func TestStatsAggregator_NilSafe(t *testing.T) {
	var sa *StatsAggregator
	assert.NotPanics(t, func() {
		sa.RecordProcessed("sqs", 1)
		sa.RecordSkipped("sqs", 1)
		sa.RecordRedelivered("sqs", 1)
	})
}

func TestStatsAggregator_StartStop(t *testing.T) {
	sa := NewStatsAggregator(5 * time.Millisecond)
	sa.Start(context.Background())
	sa.RecordProcessed("azure", 1)
	time.Sleep(20 * time.Millisecond)
	sa.Stop()

	sa.mu.Lock()
	defer sa.mu.Unlock()
	assert.Empty(t, sa.stats)
}
