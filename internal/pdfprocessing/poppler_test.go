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
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const pdfinfoOutput = `Title:           Quarterly Report
Producer:        LibreOffice 7.6
Tagged:          no
Pages:           42
Encrypted:       no
Page size:       612 x 792 pts (letter)
`

func TestPoppler(t *testing.T) {
	var calls [][]string
	p := NewPoppler(func(_ context.Context, name string, args ...string) ([]byte, error) {
		calls = append(calls, append([]string{name}, args...))
		if name == "pdfinfo" {
			return []byte(pdfinfoOutput), nil
		}
		return []byte("Revenue  $40M\n\f"), nil
	})

	n, err := p.PageCount(context.Background(), "/tmp/report.pdf")
	require.NoError(t, err)
	assert.Equal(t, 42, n)

	text, err := p.TranscribePage(context.Background(), PageRequest{Path: "/tmp/report.pdf", Page: 7})
	require.NoError(t, err)
	assert.Equal(t, "Revenue  $40M", text)
	assert.Equal(t, []string{"pdftotext", "-layout", "-enc", "UTF-8", "-f", "7", "-l", "7", "/tmp/report.pdf", "-"}, calls[1])
}

func TestParsePdfInfoPages_Missing(t *testing.T) {
	_, err := parsePdfInfoPages([]byte("Title: x\n"))
	assert.Error(t, err)
	_, err = parsePdfInfoPages([]byte("Pages: many\n"))
	assert.Error(t, err)
}
