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

package localbus

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/cardinalhq/rawetl/internal/objstore"
	"github.com/cardinalhq/rawetl/internal/pdfprocessing"
	"github.com/cardinalhq/rawetl/internal/videoprocessing"
)

var pagesPattern = regexp.MustCompile(`pages=(\d+)`)

// fakePDF reads its page count from a "pages=N" marker in the file and
// advances the bus clock by perPage for every page it transcribes.
type fakePDF struct {
	clock   *Clock
	perPage time.Duration
}

func (f fakePDF) PageCount(_ context.Context, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	m := pagesPattern.FindSubmatch(data)
	if m == nil {
		return 0, fmt.Errorf("%s: not a pdf", filepath.Base(path))
	}
	return strconv.Atoi(string(m[1]))
}

func (f fakePDF) TranscribePage(_ context.Context, req pdfprocessing.PageRequest) (string, error) {
	f.clock.Advance(f.perPage)
	return fmt.Sprintf("text of page %d", req.Page), nil
}

// fakeOffice renders every document as a three page PDF.
type fakeOffice struct{}

func (fakeOffice) ConvertToPDF(_ context.Context, srcPath, outDir string) (string, error) {
	base := strings.TrimSuffix(filepath.Base(srcPath), filepath.Ext(srcPath))
	out := filepath.Join(outDir, base+".pdf")
	return out, os.WriteFile(out, []byte("%PDF-1.7 pages=3"), 0o644)
}

// fakeFFmpeg writes a silent track and four frames.
type fakeFFmpeg struct{}

func (fakeFFmpeg) ExtractAudio(_ context.Context, _, dest string) error {
	return os.WriteFile(dest, []byte("RIFF"), 0o644)
}

func (fakeFFmpeg) ExtractFrames(_ context.Context, _, outDir string, interval time.Duration) ([]videoprocessing.ExtractedFrame, error) {
	var out []videoprocessing.ExtractedFrame
	for i := 1; i <= 4; i++ {
		p := filepath.Join(outDir, fmt.Sprintf("frame-%06d.jpg", i))
		if err := os.WriteFile(p, []byte("jpeg"), 0o644); err != nil {
			return nil, err
		}
		out = append(out, videoprocessing.ExtractedFrame{Path: p, Timestamp: time.Duration(i-1) * interval})
	}
	return out, nil
}

// storeEngine plays the external transcription engine: it writes a
// whisper transcript where the request says to.
type storeEngine struct {
	store *objstore.MemoryStore
}

func (e storeEngine) Submit(ctx context.Context, req videoprocessing.TranscriptionRequest) error {
	body := `{"segments":[{"start":0,"end":1.5,"text":"hello"},{"start":1.5,"end":4,"text":"and welcome"}]}`
	return e.store.Put(ctx, req.OutputBucket, req.OutputKey, strings.NewReader(body))
}
