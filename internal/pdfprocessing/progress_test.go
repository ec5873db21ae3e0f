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

package pdfprocessing

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/rawetl/internal/backlog"
	"github.com/cardinalhq/rawetl/internal/objstore"
	"github.com/cardinalhq/rawetl/internal/pipeline"
)

func infos(keys ...string) []objstore.ObjectInfo {
	out := make([]objstore.ObjectInfo, 0, len(keys))
	for _, k := range keys {
		out = append(out, objstore.ObjectInfo{Key: k})
	}
	return out
}

func ranges(parts []progressPart) []backlog.PageRange {
	out := make([]backlog.PageRange, 0, len(parts))
	for _, p := range parts {
		out = append(out, p.pages)
	}
	return out
}

func TestProgressKey(t *testing.T) {
	id := DocumentID(pipeline.AreaRaw, "docs/report.pdf")
	assert.Equal(t, "raw/docs/report.pdf", id)
	assert.Equal(t, "_progress/raw/docs/report.pdf/000014-000026.txt",
		progressKey(DefaultProgressPrefix, id, backlog.PageRange{First: 14, Last: 26}))
}

func TestChainParts(t *testing.T) {
	p := "_progress/raw/a.pdf/"
	tests := []struct {
		name  string
		keys  []string
		pages int
		want  []backlog.PageRange
		gap   int
	}{
		{
			name:  "single",
			keys:  []string{p + "000001-000010.txt"},
			pages: 10,
			want:  []backlog.PageRange{{First: 1, Last: 10}},
		},
		{
			name:  "chain",
			keys:  []string{p + "000011-000020.txt", p + "000001-000010.txt", p + "000021-000025.txt"},
			pages: 25,
			want:  []backlog.PageRange{{First: 1, Last: 10}, {First: 11, Last: 20}, {First: 21, Last: 25}},
		},
		{
			name:  "overlapping duplicates",
			keys:  []string{p + "000001-000005.txt", p + "000001-000007.txt", p + "000006-000010.txt", p + "000008-000010.txt"},
			pages: 10,
			want:  []backlog.PageRange{{First: 1, Last: 7}, {First: 8, Last: 10}},
		},
		{
			name:  "longest part is a dead end",
			keys:  []string{p + "000001-000005.txt", p + "000001-000007.txt", p + "000006-000010.txt"},
			pages: 10,
			want:  []backlog.PageRange{{First: 1, Last: 5}, {First: 6, Last: 10}},
		},
		{
			name:  "gap",
			keys:  []string{p + "000001-000005.txt", p + "000007-000010.txt"},
			pages: 10,
			gap:   6,
		},
		{
			name:  "ignores junk",
			keys:  []string{p + "notes.txt", p + "000001-000003.txt"},
			pages: 3,
			want:  []backlog.PageRange{{First: 1, Last: 3}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chain, err := chainParts("raw/a.pdf", parseProgressParts(infos(tt.keys...)), tt.pages)
			if tt.gap > 0 {
				var gap *GapError
				require.True(t, errors.As(err, &gap))
				assert.Equal(t, tt.gap, gap.Page)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, ranges(chain))
		})
	}
}
