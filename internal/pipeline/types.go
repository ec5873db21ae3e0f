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

// Package pipeline holds the types shared by every stage of the ingestion
// pipeline: storage areas, object events, work items and delivery outcomes.
package pipeline

import (
	"context"
	"path"
	"strings"
	"time"
)

// Area is a logical storage area. Each area maps to one bucket.
type Area string

const (
	AreaRaw     Area = "raw"
	AreaInterim Area = "interim"
	AreaFrames  Area = "frames"
	AreaAudio   Area = "audio"
	AreaOutput  Area = "output"
)

// AllAreas lists the areas every deployment must configure.
var AllAreas = []Area{AreaRaw, AreaInterim, AreaFrames, AreaAudio, AreaOutput}

// HandlerID names a worker the router can dispatch to.
type HandlerID string

const (
	HandlerPDF        HandlerID = "pdf"
	HandlerOffice     HandlerID = "office"
	HandlerVideo      HandlerID = "video"
	HandlerTranscript HandlerID = "transcript"
)

// ObjectType is the classification of an object by its suffix.
type ObjectType string

const (
	TypeUnknown    ObjectType = ""
	TypePDF        ObjectType = "pdf"
	TypePPT        ObjectType = "ppt"
	TypePPTX       ObjectType = "pptx"
	TypeDOCX       ObjectType = "docx"
	TypeXLS        ObjectType = "xls"
	TypeXLSX       ObjectType = "xlsx"
	TypeExcel      ObjectType = "excel"
	TypeHTML       ObjectType = "html"
	TypeMP4        ObjectType = "mp4"
	TypeTranscript ObjectType = "transcript-json"
)

var suffixTypes = map[string]ObjectType{
	".pdf":   TypePDF,
	".ppt":   TypePPT,
	".pptx":  TypePPTX,
	".docx":  TypeDOCX,
	".xls":   TypeXLS,
	".xlsx":  TypeXLSX,
	".excel": TypeExcel,
	".html":  TypeHTML,
	".mp4":   TypeMP4,
	".json":  TypeTranscript,
}

// ClassifySuffix maps a literal suffix (".pdf") to its object type.
// Matching is case-sensitive.
func ClassifySuffix(suffix string) ObjectType {
	return suffixTypes[suffix]
}

// ClassifyKey classifies an object key by its final extension.
func ClassifyKey(key string) ObjectType {
	return ClassifySuffix(path.Ext(key))
}

// EventObjectCreated is the prefix shared by all creation event names.
const EventObjectCreated = "ObjectCreated:"

// EventObjectCreatedPut is the event name of a single-part upload.
const EventObjectCreatedPut = "ObjectCreated:Put"

// ObjectEvent is an object-arrival notification from any source.
type ObjectEvent struct {
	Bucket    string
	Key       string
	EventName string
	Size      int64
	// Version distinguishes two writes of the same key (S3 sequencer,
	// GCS generation, Azure eTag). Empty when the source has none.
	Version string
	// Attempt is the delivery attempt, starting at 1.
	Attempt  int
	QueuedAt time.Time
}

// WorkItem is a routed unit of work. It is never mutated after creation;
// continuation work is a new WorkItem or a backlog job.
type WorkItem struct {
	Area    Area
	Bucket  string
	Key     string
	Type    ObjectType
	Size    int64
	Attempt int
}

// BaseName returns the key without directory or extension.
func BaseName(key string) string {
	b := path.Base(key)
	return strings.TrimSuffix(b, path.Ext(b))
}

// TrimExt returns the key without its final extension, keeping directories.
func TrimExt(key string) string {
	return strings.TrimSuffix(key, path.Ext(key))
}

// Handler processes one work item. Returning a RetryableError asks the
// caller to redeliver the triggering event.
type Handler interface {
	Handle(ctx context.Context, item WorkItem) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, item WorkItem) error

func (f HandlerFunc) Handle(ctx context.Context, item WorkItem) error {
	return f(ctx, item)
}

// Deliverer accepts object events from an inbound transport.
type Deliverer interface {
	Deliver(ctx context.Context, evt ObjectEvent) Outcome
}

// DelivererFunc adapts a function to Deliverer.
type DelivererFunc func(ctx context.Context, evt ObjectEvent) Outcome

func (f DelivererFunc) Deliver(ctx context.Context, evt ObjectEvent) Outcome {
	return f(ctx, evt)
}
