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

package officeconv

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cardinalhq/rawetl/internal/toolexec"
)

// Converter renders a local office or HTML document to PDF in outDir and
// returns the path of the PDF.
type Converter interface {
	ConvertToPDF(ctx context.Context, srcPath, outDir string) (string, error)
}

// LibreOffice converts documents with a headless soffice.
type LibreOffice struct {
	Binary string
	run    toolexec.Runner
}

var _ Converter = (*LibreOffice)(nil)

func NewLibreOffice(runner toolexec.Runner) *LibreOffice {
	return &LibreOffice{Binary: "soffice", run: toolexec.OrDefault(runner)}
}

func (l *LibreOffice) ConvertToPDF(ctx context.Context, srcPath, outDir string) (string, error) {
	// A private profile dir lets several conversions run side by side.
	profile := filepath.Join(outDir, ".lo-profile")
	args := []string{
		"-env:UserInstallation=file://" + filepath.ToSlash(profile),
		"--headless",
		"--norestore",
		"--convert-to", "pdf",
		"--outdir", outDir,
		srcPath,
	}
	if _, err := l.run(ctx, l.Binary, args...); err != nil {
		return "", fmt.Errorf("soffice convert %s: %w", filepath.Base(srcPath), err)
	}

	base := filepath.Base(srcPath)
	pdfPath := filepath.Join(outDir, strings.TrimSuffix(base, filepath.Ext(base))+".pdf")
	if _, err := os.Stat(pdfPath); err != nil {
		return "", fmt.Errorf("soffice produced no PDF for %s: %w", base, err)
	}
	return pdfPath, nil
}
