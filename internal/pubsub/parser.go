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

package pubsub

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cardinalhq/rawetl/internal/pipeline"
)

// EventParser defines the interface for parsing different types of storage events
type EventParser interface {
	Parse(raw []byte) ([]pipeline.ObjectEvent, error)
	GetEventType() string
}

// S3EventParser handles AWS S3 events
type S3EventParser struct{}

func (p *S3EventParser) GetEventType() string {
	return "S3"
}

func (p *S3EventParser) Parse(raw []byte) ([]pipeline.ObjectEvent, error) {
	var evt struct {
		Records []struct {
			EventName string    `json:"eventName"`
			EventTime time.Time `json:"eventTime"`
			S3        struct {
				Bucket struct {
					Name string `json:"name"`
				} `json:"bucket"`
				Object struct {
					Key       string `json:"key"`
					Size      int64  `json:"size"`
					Sequencer string `json:"sequencer"`
				} `json:"object"`
			} `json:"s3"`
		} `json:"Records"`
	}

	if err := json.Unmarshal(raw, &evt); err != nil {
		return nil, fmt.Errorf("failed to parse S3 event: %w", err)
	}

	out := make([]pipeline.ObjectEvent, 0, len(evt.Records))
	for _, rec := range evt.Records {
		// Keys arrive form-encoded: spaces as '+', everything else %XX.
		key, err := url.QueryUnescape(rec.S3.Object.Key)
		if err != nil {
			slog.Error("Failed to parse S3 record", slog.Any("error", fmt.Errorf("failed to unescape key: %w", err)))
			continue
		}
		if key == "" || strings.HasSuffix(key, "/") {
			continue
		}
		out = append(out, pipeline.ObjectEvent{
			Bucket:    rec.S3.Bucket.Name,
			Key:       key,
			EventName: strings.TrimPrefix(rec.EventName, "s3:"),
			Size:      rec.S3.Object.Size,
			Version:   rec.S3.Object.Sequencer,
			QueuedAt:  rec.EventTime,
		})
	}
	return out, nil
}

// GCPStorageEventParser handles GCP Cloud Storage notifications. The event
// type travels in the Pub/Sub message attributes, not the body.
type GCPStorageEventParser struct {
	EventType string
}

func (p *GCPStorageEventParser) GetEventType() string {
	return "GCP"
}

// gcsEventNames maps Cloud Storage notification types onto the S3 names
// routes are written against.
var gcsEventNames = map[string]string{
	"OBJECT_FINALIZE":        "ObjectCreated:Put",
	"OBJECT_DELETE":          "ObjectRemoved:Delete",
	"OBJECT_ARCHIVE":         "ObjectRemoved:Archive",
	"OBJECT_METADATA_UPDATE": "ObjectMetadataUpdate",
}

func (p *GCPStorageEventParser) Parse(raw []byte) ([]pipeline.ObjectEvent, error) {
	var evt struct {
		Kind       string    `json:"kind"`
		Name       string    `json:"name"`
		Bucket     string    `json:"bucket"`
		ID         string    `json:"id"`
		Size       string    `json:"size"`
		Generation string    `json:"generation"`
		Updated    time.Time `json:"updated"`
	}

	if err := json.Unmarshal(raw, &evt); err != nil {
		return nil, fmt.Errorf("failed to parse GCP storage event: %w", err)
	}

	if evt.Kind != "storage#object" {
		return nil, fmt.Errorf("unexpected GCP event kind: %s", evt.Kind)
	}

	bucketName := evt.Bucket
	if bucketName == "" {
		idParts := strings.Split(evt.ID, "/")
		if len(idParts) < 2 {
			return nil, fmt.Errorf("invalid GCP storage event ID format: %s", evt.ID)
		}
		bucketName = idParts[0]
	}
	if evt.Name == "" || strings.HasSuffix(evt.Name, "/") {
		return []pipeline.ObjectEvent{}, nil
	}

	eventName := "ObjectCreated:Put"
	if p.EventType != "" {
		name, ok := gcsEventNames[p.EventType]
		if !ok {
			name = p.EventType
		}
		eventName = name
	}

	size, _ := strconv.ParseInt(evt.Size, 10, 64)
	return []pipeline.ObjectEvent{{
		Bucket:    bucketName,
		Key:       evt.Name,
		EventName: eventName,
		Size:      size,
		Version:   evt.Generation,
		QueuedAt:  evt.Updated,
	}}, nil
}

// AzureEventGridParser handles Event Grid blob events, either a single
// event or the array Event Grid delivers.
type AzureEventGridParser struct{}

func (p *AzureEventGridParser) GetEventType() string {
	return "Azure"
}

type azureBlobEvent struct {
	EventType string    `json:"eventType"`
	Subject   string    `json:"subject"`
	EventTime time.Time `json:"eventTime"`
	Data      struct {
		API           string `json:"api"`
		ETag          string `json:"eTag"`
		ContentLength int64  `json:"contentLength"`
	} `json:"data"`
}

func (p *AzureEventGridParser) Parse(raw []byte) ([]pipeline.ObjectEvent, error) {
	var events []azureBlobEvent
	trimmed := strings.TrimSpace(string(raw))
	if strings.HasPrefix(trimmed, "[") {
		if err := json.Unmarshal(raw, &events); err != nil {
			return nil, fmt.Errorf("failed to parse Azure event grid batch: %w", err)
		}
	} else {
		var single azureBlobEvent
		if err := json.Unmarshal(raw, &single); err != nil {
			return nil, fmt.Errorf("failed to parse Azure event grid event: %w", err)
		}
		events = []azureBlobEvent{single}
	}

	out := make([]pipeline.ObjectEvent, 0, len(events))
	for _, e := range events {
		container, blob, ok := parseBlobSubject(e.Subject)
		if !ok {
			slog.Warn("Skipping Azure event with unexpected subject", slog.String("subject", e.Subject))
			continue
		}
		out = append(out, pipeline.ObjectEvent{
			Bucket:    container,
			Key:       blob,
			EventName: azureEventName(e.EventType, e.Data.API),
			Size:      e.Data.ContentLength,
			Version:   e.Data.ETag,
			QueuedAt:  e.EventTime,
		})
	}
	return out, nil
}

// parseBlobSubject splits /blobServices/default/containers/<c>/blobs/<path>.
func parseBlobSubject(subject string) (string, string, bool) {
	const marker = "/containers/"
	i := strings.Index(subject, marker)
	if i < 0 {
		return "", "", false
	}
	rest := subject[i+len(marker):]
	container, blob, ok := strings.Cut(rest, "/blobs/")
	if !ok || container == "" || blob == "" {
		return "", "", false
	}
	return container, blob, true
}

func azureEventName(eventType, api string) string {
	switch eventType {
	case "Microsoft.Storage.BlobCreated":
		if api == "CopyBlob" {
			return "ObjectCreated:Copy"
		}
		return "ObjectCreated:Put"
	case "Microsoft.Storage.BlobDeleted":
		return "ObjectRemoved:Delete"
	default:
		return eventType
	}
}

type EventParserFactory struct{}

func (f *EventParserFactory) NewParser(raw []byte) (EventParser, error) {
	trimmed := strings.TrimSpace(string(raw))
	if strings.HasPrefix(trimmed, "[") {
		return &AzureEventGridParser{}, nil
	}

	var probe struct {
		Kind      string            `json:"kind"`
		Records   []json.RawMessage `json:"Records"`
		Event     string            `json:"Event"`
		EventType string            `json:"eventType"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, fmt.Errorf("unable to determine event type from content: %w", err)
	}
	switch {
	case probe.Kind == "storage#object":
		return &GCPStorageEventParser{}, nil
	case len(probe.Records) > 0:
		return &S3EventParser{}, nil
	case probe.Event == "s3:TestEvent":
		return &S3EventParser{}, nil
	case strings.HasPrefix(probe.EventType, "Microsoft.Storage."):
		return &AzureEventGridParser{}, nil
	}
	return nil, fmt.Errorf("unable to determine event type from content")
}

// ParseEvents detects the notification format and parses it.
func ParseEvents(raw []byte) ([]pipeline.ObjectEvent, error) {
	factory := &EventParserFactory{}
	parser, err := factory.NewParser(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to create parser: %w", err)
	}

	events, err := parser.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s event: %w", parser.GetEventType(), err)
	}

	return events, nil
}
