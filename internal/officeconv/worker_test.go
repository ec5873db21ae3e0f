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
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/rawetl/internal/objstore"
	"github.com/cardinalhq/rawetl/internal/pipeline"
)

type fakeConverter struct {
	err error
}

func (f fakeConverter) ConvertToPDF(_ context.Context, srcPath, outDir string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	data, err := os.ReadFile(srcPath)
	if err != nil {
		return "", err
	}
	out := filepath.Join(outDir, strings.TrimSuffix(filepath.Base(srcPath), filepath.Ext(srcPath))+".pdf")
	return out, os.WriteFile(out, append([]byte("%PDF from "), data...), 0o644)
}

var testAreas = pipeline.Areas{
	pipeline.AreaRaw:     "raw",
	pipeline.AreaInterim: "interim",
	pipeline.AreaFrames:  "frames",
	pipeline.AreaAudio:   "audio",
	pipeline.AreaOutput:  "output",
}

func TestInterimKey(t *testing.T) {
	assert.Equal(t, "deck.pptx.pdf", InterimKey("deck.pptx"))
	assert.Equal(t, "team/q3/budget.xlsx.pdf", InterimKey("team/q3/budget.xlsx"))
	assert.Equal(t, "page.html.pdf", InterimKey("page.html"))
	assert.NotEqual(t, InterimKey("deck.pptx"), InterimKey("deck.docx"))
}

func TestWorker_Converts(t *testing.T) {
	ctx := context.Background()
	store := objstore.NewMemoryStore()
	require.NoError(t, store.Put(ctx, "raw", "slides/deck.pptx", strings.NewReader("pptx bytes")))

	cfg := DefaultConfig()
	cfg.WorkDir = t.TempDir()
	w := NewWorker(store, testAreas, fakeConverter{}, cfg)

	require.NoError(t, w.Handle(ctx, pipeline.WorkItem{Area: pipeline.AreaRaw, Bucket: "raw", Key: "slides/deck.pptx", Type: pipeline.TypePPTX}))

	assert.Equal(t, []string{"slides/deck.pptx.pdf"}, store.Keys("interim"))
	data, err := objstore.ReadAll(ctx, store, "interim", "slides/deck.pptx.pdf")
	require.NoError(t, err)
	assert.Equal(t, "%PDF from pptx bytes", string(data))
	assert.Empty(t, store.Keys("output"), "conversion writes only to the interim area")
}

func TestWorker_Errors(t *testing.T) {
	ctx := context.Background()
	store := objstore.NewMemoryStore()
	require.NoError(t, store.Put(ctx, "raw", "bad.docx", strings.NewReader("?")))
	cfg := DefaultConfig()
	cfg.WorkDir = t.TempDir()

	w := NewWorker(store, testAreas, fakeConverter{err: errors.New("soffice crashed")}, cfg)
	err := w.Handle(ctx, pipeline.WorkItem{Area: pipeline.AreaRaw, Bucket: "raw", Key: "bad.docx"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "soffice crashed")

	err = w.Handle(ctx, pipeline.WorkItem{Area: pipeline.AreaRaw, Bucket: "raw", Key: "missing.docx"})
	assert.True(t, errors.Is(err, pipeline.ErrPermanent))
	assert.Empty(t, store.Keys("interim"))
}

func TestLibreOffice(t *testing.T) {
	out := t.TempDir()
	var got []string
	lo := NewLibreOffice(func(_ context.Context, name string, args ...string) ([]byte, error) {
		got = append([]string{name}, args...)
		return nil, os.WriteFile(filepath.Join(out, "deck.pdf"), []byte("%PDF"), 0o644)
	})

	path, err := lo.ConvertToPDF(context.Background(), "/work/src/deck.pptx", out)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(out, "deck.pdf"), path)
	assert.Equal(t, "soffice", got[0])
	assert.Contains(t, got, "--headless")
	assert.Equal(t, "/work/src/deck.pptx", got[len(got)-1])

	lo = NewLibreOffice(func(context.Context, string, ...string) ([]byte, error) { return nil, nil })
	_, err = lo.ConvertToPDF(context.Background(), "/work/src/other.docx", out)
	assert.Error(t, err)
}
