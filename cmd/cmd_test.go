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

package cmd

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/cardinalhq/rawetl/internal/backlog"
	"github.com/cardinalhq/rawetl/internal/router"
)

func TestRenderRoutes(t *testing.T) {
	out := renderRoutes(router.DefaultTable())
	assert.Contains(t, out, "Handler")
	assert.NotContains(t, out, "HANDLER")
	assert.Contains(t, out, "*.pdf")
	assert.Contains(t, out, "*.pptx")
	assert.Contains(t, out, "ObjectCreated:Put")
	assert.Contains(t, out, "ObjectCreated:*")
}

func TestRenderFailed(t *testing.T) {
	out := renderFailed([]backlog.FailedJob{{
		Job: backlog.Job{
			JobID:      "0abc",
			DocumentID: "raw/manual.pdf",
			Pages:      backlog.PageRange{First: 14, Last: 50},
			Chain:      1,
		},
		FailedAt: time.Date(2025, 3, 5, 9, 0, 0, 0, time.UTC),
		Reason:   "not completed within retention of 96h0m0s",
	}})
	assert.Contains(t, out, "raw/manual.pdf")
	assert.Contains(t, out, "2025-03-05T09:00:00Z")
	assert.Len(t, strings.Split(out, "\n"), 5, "top, header, separator, row, bottom")
}

func TestSubcommandsRegistered(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"pubsub", "backlog", "routes", "local"} {
		assert.True(t, names[want], want)
	}
}
