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

//go:build integration

package backlog

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/rawetl/internal/backlog/migrations"
)

func TestPGLedgerIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test")
	}
	url := os.Getenv("RAWETL_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("RAWETL_TEST_DATABASE_URL is not set")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, url)
	require.NoError(t, err)
	defer pool.Close()

	require.NoError(t, migrations.RunMigrationsUp(ctx, pool))
	_, err = pool.Exec(ctx, "DELETE FROM backlog_jobs")
	require.NoError(t, err)

	ledger := NewPGLedger(pool)
	start := time.Now().UTC().Truncate(time.Second)

	done := testJob("done", 1, 2)
	done.EnqueuedAt = start
	lost := testJob("lost", 3, 4)
	lost.EnqueuedAt = start

	require.NoError(t, ledger.Record(ctx, done))
	require.NoError(t, ledger.Record(ctx, lost))
	require.NoError(t, ledger.Record(ctx, lost))
	require.NoError(t, ledger.Complete(ctx, "done", start.Add(time.Minute)))

	swept, err := Sweep(ctx, ledger, time.Hour, start.Add(2*time.Hour))
	require.NoError(t, err)
	require.Len(t, swept, 1)
	assert.Equal(t, "lost", swept[0].JobID)

	failed, err := ledger.Failed(ctx)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, lost.Pages, failed[0].Job.Pages)
}
