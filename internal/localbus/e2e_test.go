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
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/rawetl/internal/objstore"
	"github.com/cardinalhq/rawetl/internal/transcription"
)

func newTestPipeline(t *testing.T, perPage time.Duration) *Pipeline {
	t.Helper()
	clock := NewFixedClock(time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC))

	cfg := DefaultConfig()
	work := t.TempDir()
	cfg.PDF.WorkDir = work
	cfg.Office.WorkDir = work
	cfg.Video.WorkDir = work

	pdf := fakePDF{clock: clock, perPage: perPage}
	tools := Tools{
		PageCounter: pdf,
		Transcriber: pdf,
		Converter:   fakeOffice{},
		Audio:       fakeFFmpeg{},
		Frames:      fakeFFmpeg{},
	}
	p, err := NewPipeline(cfg, tools, clock)
	require.NoError(t, err)
	t.Cleanup(p.Close)
	return p
}

func expectedText(pages int) string {
	var sb strings.Builder
	for i := 1; i <= pages; i++ {
		fmt.Fprintf(&sb, "Page %d\ntext of page %d\n\n", i, i)
	}
	return sb.String()
}

func readString(t *testing.T, store *objstore.MemoryStore, bucket, key string) string {
	t.Helper()
	data, err := objstore.ReadAll(context.Background(), store, bucket, key)
	require.NoError(t, err)
	return string(data)
}

func TestPipeline_SmallPDF(t *testing.T) {
	ctx := context.Background()
	p := newTestPipeline(t, time.Second)

	require.NoError(t, p.Store.Put(ctx, "raw", "report.pdf", strings.NewReader("%PDF-1.7 pages=3")))
	require.NoError(t, p.Bus.Drain(ctx))

	assert.Equal(t, []string{"report.pdf.txt"}, p.Store.Keys("output"))
	assert.Equal(t, expectedText(3), readString(t, p.Store, "output", "report.pdf.txt"))
	assert.Zero(t, p.Queue.Len())
}

func TestPipeline_LargePDFContinuesThroughBacklog(t *testing.T) {
	ctx := context.Background()
	p := newTestPipeline(t, time.Minute)
	start := p.Clock.Now()

	require.NoError(t, p.Store.Put(ctx, "raw", "manual.pdf", strings.NewReader("%PDF-1.7 pages=50")))
	require.NoError(t, p.Bus.Drain(ctx))

	assert.Equal(t, []string{"manual.pdf.txt"}, p.Store.Keys("output"), "progress parts are removed")
	assert.Equal(t, expectedText(50), readString(t, p.Store, "output", "manual.pdf.txt"))
	assert.Zero(t, p.Queue.Len())
	assert.Empty(t, p.Queue.Expired())

	// 50 minutes of transcription plus four one-minute delivery delays.
	assert.Equal(t, 54*time.Minute, p.Clock.Now().Sub(start))
}

func TestPipeline_OfficeDocumentReentersAsPDF(t *testing.T) {
	ctx := context.Background()
	p := newTestPipeline(t, time.Second)

	require.NoError(t, p.Store.Put(ctx, "raw", "decks/q3.pptx", strings.NewReader("pptx")))
	require.NoError(t, p.Bus.Drain(ctx))

	assert.Equal(t, []string{"decks/q3.pptx.pdf"}, p.Store.Keys("interim"))
	assert.Equal(t, []string{"converted/decks/q3.pptx.pdf.txt"}, p.Store.Keys("output"))
	assert.Equal(t, expectedText(3), readString(t, p.Store, "output", "converted/decks/q3.pptx.pdf.txt"))
}

func TestPipeline_SameNameOfficeDocumentsKeepSeparateOutputs(t *testing.T) {
	ctx := context.Background()
	p := newTestPipeline(t, time.Second)

	require.NoError(t, p.Store.Put(ctx, "raw", "decks/q3.pptx", strings.NewReader("pptx")))
	require.NoError(t, p.Store.Put(ctx, "raw", "decks/q3.docx", strings.NewReader("docx")))
	require.NoError(t, p.Bus.Drain(ctx))

	assert.ElementsMatch(t, []string{"decks/q3.docx.pdf", "decks/q3.pptx.pdf"}, p.Store.Keys("interim"))
	assert.ElementsMatch(t, []string{"converted/decks/q3.docx.pdf.txt", "converted/decks/q3.pptx.pdf.txt"}, p.Store.Keys("output"))
}

func TestPipeline_VideoToAlignedOutput(t *testing.T) {
	ctx := context.Background()
	clock := NewFixedClock(time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC))
	cfg := DefaultConfig()
	cfg.Video.WorkDir = t.TempDir()

	engine := &storeEngine{}
	p, err := NewPipeline(cfg, Tools{Audio: fakeFFmpeg{}, Frames: fakeFFmpeg{}, Submitter: engine}, clock)
	require.NoError(t, err)
	t.Cleanup(p.Close)
	engine.store = p.Store

	require.NoError(t, p.Store.Put(ctx, "raw", "clip.mp4", strings.NewReader("mp4")))
	require.NoError(t, p.Bus.Drain(ctx))

	assert.Equal(t, []string{"clip.json", "clip.wav"}, p.Store.Keys("audio"))
	assert.Contains(t, p.Store.Keys("frames"), "clip/manifest.json")

	var out transcription.Output
	require.NoError(t, objstore.ReadJSON(ctx, p.Store, "output", "clip.json", &out))
	assert.Equal(t, "clip", out.VideoID)
	assert.Equal(t, 4, out.FrameCount)
	require.Len(t, out.Segments, 2)
	assert.Equal(t, "hello", out.Segments[0].Text)
	assert.Len(t, out.Segments[0].Frames, 2)
	assert.Len(t, out.Segments[1].Frames, 2)
	assert.Equal(t, 1, p.Store.PutCount("output", "clip.json"))
}

func TestPipeline_TranscriptBeforeFramesIsRedelivered(t *testing.T) {
	ctx := context.Background()
	p := newTestPipeline(t, time.Second)

	// Both land before anything runs; whichever worker wins, the
	// transcript is aligned exactly once.
	require.NoError(t, p.Store.Put(ctx, "audio", "clip.json", strings.NewReader(`{"segments":[{"start":0,"end":10,"text":"all of it"}]}`)))
	require.NoError(t, p.Store.Put(ctx, "raw", "clip.mp4", strings.NewReader("mp4")))
	require.NoError(t, p.Bus.Drain(ctx))

	var out transcription.Output
	require.NoError(t, objstore.ReadJSON(ctx, p.Store, "output", "clip.json", &out))
	require.Len(t, out.Segments, 1)
	assert.Len(t, out.Segments[0].Frames, 4)
	assert.Equal(t, 1, p.Store.PutCount("output", "clip.json"))
}

func TestPipeline_TranscriptWithoutVideoGivesUp(t *testing.T) {
	ctx := context.Background()
	p := newTestPipeline(t, time.Second)
	start := p.Clock.Now()

	require.NoError(t, p.Store.Put(ctx, "audio", "orphan.json", strings.NewReader(`{"segments":[]}`)))
	require.NoError(t, p.Bus.Drain(ctx))

	assert.Empty(t, p.Store.Keys("output"))
	assert.Equal(t, 10, p.Bus.Delivered())
	// 30s, 1m, 2m, 4m and then five capped 5m waits.
	assert.Equal(t, 32*time.Minute+30*time.Second, p.Clock.Now().Sub(start))
}

func TestPipeline_UnmatchedObjectsIgnored(t *testing.T) {
	ctx := context.Background()
	p := newTestPipeline(t, time.Second)

	require.NoError(t, p.Store.Put(ctx, "raw", "notes.txt", strings.NewReader("hi")))
	require.NoError(t, p.Store.Put(ctx, "raw", "REPORT.PDF", strings.NewReader("%PDF pages=1")))
	require.NoError(t, p.Bus.Drain(ctx))

	assert.Empty(t, p.Store.Keys("output"))
	assert.Equal(t, 2, p.Bus.Delivered())
}
