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
	"log/slog"
	"sort"
	"sync"
	"time"
)

// StatsAggregator collects and periodically reports pubsub processing statistics
type StatsAggregator struct {
	mu       sync.Mutex
	stats    map[string]*sourceStats
	interval time.Duration
	done     chan struct{}
	wg       sync.WaitGroup
}

type sourceStats struct {
	processed   int64
	redelivered int64
	skipped     int64
}

// NewStatsAggregator creates a new stats aggregator with the specified reporting interval
func NewStatsAggregator(interval time.Duration) *StatsAggregator {
	return &StatsAggregator{
		stats:    make(map[string]*sourceStats),
		interval: interval,
		done:     make(chan struct{}),
	}
}

// Start begins periodic reporting
func (sa *StatsAggregator) Start(ctx context.Context) {
	sa.wg.Add(1)
	go func() {
		defer sa.wg.Done()
		ticker := time.NewTicker(sa.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				sa.reportStats()
				return
			case <-sa.done:
				sa.reportStats()
				return
			case <-ticker.C:
				sa.reportStats()
			}
		}
	}()
}

// Stop stops the aggregator and reports final stats
func (sa *StatsAggregator) Stop() {
	close(sa.done)
	sa.wg.Wait()
}

func (sa *StatsAggregator) entry(source string) *sourceStats {
	if sa.stats[source] == nil {
		sa.stats[source] = &sourceStats{}
	}
	return sa.stats[source]
}

// RecordProcessed records events delivered and acknowledged.
func (sa *StatsAggregator) RecordProcessed(source string, count int) {
	if sa == nil {
		return
	}
	sa.mu.Lock()
	defer sa.mu.Unlock()
	sa.entry(source).processed += int64(count)
}

// RecordRedelivered records events handed back to the source.
func (sa *StatsAggregator) RecordRedelivered(source string, count int) {
	if sa == nil {
		return
	}
	sa.mu.Lock()
	defer sa.mu.Unlock()
	sa.entry(source).redelivered += int64(count)
}

// RecordSkipped records duplicates and unparseable messages.
func (sa *StatsAggregator) RecordSkipped(source string, count int) {
	if sa == nil {
		return
	}
	sa.mu.Lock()
	defer sa.mu.Unlock()
	sa.entry(source).skipped += int64(count)
}

// reportStats reports and resets statistics
func (sa *StatsAggregator) reportStats() {
	sa.mu.Lock()
	defer sa.mu.Unlock()

	if len(sa.stats) == 0 {
		return
	}

	sources := make([]string, 0, len(sa.stats))
	for source := range sa.stats {
		sources = append(sources, source)
	}
	sort.Strings(sources)

	var totalProcessed, totalRedelivered, totalSkipped int64
	details := make([]any, 0, len(sources))
	for _, source := range sources {
		s := sa.stats[source]
		totalProcessed += s.processed
		totalRedelivered += s.redelivered
		totalSkipped += s.skipped
		details = append(details,
			slog.Group(source,
				slog.Int64("processed", s.processed),
				slog.Int64("redelivered", s.redelivered),
				slog.Int64("skipped", s.skipped),
			))
	}

	if totalProcessed > 0 || totalRedelivered > 0 || totalSkipped > 0 {
		attrs := []any{
			slog.Int64("total_processed", totalProcessed),
			slog.Int64("total_redelivered", totalRedelivered),
			slog.Int64("total_skipped", totalSkipped),
		}
		attrs = append(attrs, details...)
		slog.Info("Pubsub processing stats", attrs...)
	}

	sa.stats = make(map[string]*sourceStats)
}
