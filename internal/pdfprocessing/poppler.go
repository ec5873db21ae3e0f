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
	"bufio"
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/cardinalhq/rawetl/internal/toolexec"
)

// Poppler counts and extracts pages with the poppler-utils command-line
// tools.
type Poppler struct {
	PdfInfoBinary   string
	PdfToTextBinary string
	run             toolexec.Runner
}

var (
	_ PageCounter     = (*Poppler)(nil)
	_ PageTranscriber = (*Poppler)(nil)
)

func NewPoppler(runner toolexec.Runner) *Poppler {
	return &Poppler{
		PdfInfoBinary:   "pdfinfo",
		PdfToTextBinary: "pdftotext",
		run:             toolexec.OrDefault(runner),
	}
}

func (p *Poppler) PageCount(ctx context.Context, path string) (int, error) {
	out, err := p.run(ctx, p.PdfInfoBinary, path)
	if err != nil {
		return 0, fmt.Errorf("pdfinfo: %w", err)
	}
	return parsePdfInfoPages(out)
}

func parsePdfInfoPages(out []byte) (int, error) {
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		name, value, ok := strings.Cut(scanner.Text(), ":")
		if !ok || strings.TrimSpace(name) != "Pages" {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return 0, fmt.Errorf("pdfinfo: bad page count %q: %w", value, err)
		}
		return n, nil
	}
	return 0, fmt.Errorf("pdfinfo: no page count in output")
}

func (p *Poppler) TranscribePage(ctx context.Context, req PageRequest) (string, error) {
	page := strconv.Itoa(req.Page)
	out, err := p.run(ctx, p.PdfToTextBinary, "-layout", "-enc", "UTF-8", "-f", page, "-l", page, req.Path, "-")
	if err != nil {
		return "", fmt.Errorf("pdftotext page %d: %w", req.Page, err)
	}
	return strings.TrimRight(strings.ReplaceAll(string(out), "\f", ""), "\n"), nil
}
