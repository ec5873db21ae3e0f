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
	"fmt"

	"github.com/cardinalhq/rawetl/internal/backlog"
	"github.com/cardinalhq/rawetl/internal/objstore"
	"github.com/cardinalhq/rawetl/internal/officeconv"
	"github.com/cardinalhq/rawetl/internal/pdfprocessing"
	"github.com/cardinalhq/rawetl/internal/pipeline"
	"github.com/cardinalhq/rawetl/internal/router"
	"github.com/cardinalhq/rawetl/internal/transcription"
	"github.com/cardinalhq/rawetl/internal/videoprocessing"
)

// Tools are the external collaborators the workers delegate to.
type Tools struct {
	PageCounter pdfprocessing.PageCounter
	Transcriber pdfprocessing.PageTranscriber
	Converter   officeconv.Converter
	Audio       videoprocessing.AudioExtractor
	Frames      videoprocessing.FrameExtractor
	Labeler     videoprocessing.Labeler
	Submitter   videoprocessing.Submitter
}

// Config assembles a local pipeline.
type Config struct {
	Areas      pipeline.Areas
	Table      *router.Table
	Backlog    backlog.Policy
	PDF        pdfprocessing.Config
	Office     officeconv.Config
	Video      videoprocessing.Config
	Transcript transcription.Config
	PoolSize   int
}

func DefaultConfig() Config {
	return Config{
		Areas: pipeline.Areas{
			pipeline.AreaRaw:     "raw",
			pipeline.AreaInterim: "interim",
			pipeline.AreaFrames:  "frames",
			pipeline.AreaAudio:   "audio",
			pipeline.AreaOutput:  "output",
		},
		Table:      router.DefaultTable(),
		Backlog:    backlog.DefaultPolicy(),
		PDF:        pdfprocessing.DefaultConfig(),
		Office:     officeconv.DefaultConfig(),
		Video:      videoprocessing.DefaultConfig(),
		Transcript: transcription.DefaultConfig(),
		PoolSize:   4,
	}
}

// Pipeline is a fully wired in-process pipeline.
type Pipeline struct {
	Store  *objstore.MemoryStore
	Queue  *backlog.MemoryQueue
	Router *router.Router
	Bus    *Bus
	Clock  *Clock
}

// NewPipeline wires the router, the four workers and the backlog onto an
// in-memory store. The PDF budget and the backlog share the bus clock so
// skipped delays count against neither.
func NewPipeline(cfg Config, tools Tools, clock *Clock) (*Pipeline, error) {
	if err := cfg.Areas.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Backlog.Validate(cfg.PDF.Limits.Timeout); err != nil {
		return nil, err
	}
	if tools.Submitter == nil {
		tools.Submitter = transcription.LogSubmitter{}
	}

	store := objstore.NewMemoryStore()
	queue := backlog.NewMemoryQueue(cfg.Backlog, backlog.WithClock(clock.Now))

	pdf := pdfprocessing.NewWorker(store, cfg.Areas, queue, tools.PageCounter, tools.Transcriber, cfg.PDF,
		pdfprocessing.WithClock(clock.Now))
	var videoOpts []videoprocessing.Option
	if tools.Labeler != nil {
		videoOpts = append(videoOpts, videoprocessing.WithLabeler(tools.Labeler))
	}

	handlers := map[pipeline.HandlerID]pipeline.Handler{
		pipeline.HandlerPDF:        pdf,
		pipeline.HandlerOffice:     officeconv.NewWorker(store, cfg.Areas, tools.Converter, cfg.Office),
		pipeline.HandlerVideo:      videoprocessing.NewWorker(store, cfg.Areas, tools.Audio, tools.Frames, tools.Submitter, cfg.Video, videoOpts...),
		pipeline.HandlerTranscript: transcription.NewWorker(store, cfg.Areas, cfg.Transcript),
	}
	r, err := router.New(cfg.Table, cfg.Areas, handlers)
	if err != nil {
		return nil, fmt.Errorf("building router: %w", err)
	}

	bus, err := New(r, clock, cfg.PoolSize, WithBacklog(queue, pdf))
	if err != nil {
		return nil, err
	}
	bus.Attach(store)

	return &Pipeline{Store: store, Queue: queue, Router: r, Bus: bus, Clock: clock}, nil
}

// Close releases the worker pool.
func (p *Pipeline) Close() {
	p.Bus.Release()
}
