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

// Package backlog holds deferred continuation work for partially processed
// documents: the job model, at-least-once queues with visibility timeout,
// retention and delivery delay, and accounting for jobs that expire.
package backlog

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cardinalhq/rawetl/internal/idgen"
	"github.com/cardinalhq/rawetl/internal/pipeline"
)

// PageRange is an inclusive, 1-based range of pages.
type PageRange struct {
	First int `json:"first"`
	Last  int `json:"last"`
}

func (r PageRange) Len() int {
	if r.Last < r.First {
		return 0
	}
	return r.Last - r.First + 1
}

func (r PageRange) Validate() error {
	if r.First < 1 || r.Last < r.First {
		return fmt.Errorf("invalid page range %d-%d", r.First, r.Last)
	}
	return nil
}

func (r PageRange) String() string {
	return fmt.Sprintf("%d-%d", r.First, r.Last)
}

// Job is a request to continue processing a document at a page range.
type Job struct {
	JobID        string        `json:"job_id"`
	DocumentID   string        `json:"document_id"`
	SourceArea   pipeline.Area `json:"source_area"`
	SourceBucket string        `json:"source_bucket"`
	SourceKey    string        `json:"source_key"`
	OutputKey    string        `json:"output_key"`
	Pages        PageRange     `json:"pages"`
	// PreviousText is the text of the page before Pages.First, handed to
	// the transcriber so tables split across pages stay coherent.
	PreviousText string `json:"previous_text,omitempty"`
	// Chain counts the invocations along this document's chain so far.
	Chain      int       `json:"chain"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

var ErrInvalidJob = errors.New("invalid backlog job")

// NewJobID returns a fresh job identifier. Later jobs sort after earlier ones.
func NewJobID() string {
	return idgen.NextBase32ID()
}

func (j Job) Validate() error {
	if j.JobID == "" {
		return fmt.Errorf("%w: missing job id", ErrInvalidJob)
	}
	if j.DocumentID == "" || j.SourceBucket == "" || j.SourceKey == "" || j.OutputKey == "" {
		return fmt.Errorf("%w: job %s is missing its document reference", ErrInvalidJob, j.JobID)
	}
	if err := j.Pages.Validate(); err != nil {
		return fmt.Errorf("%w: job %s: %w", ErrInvalidJob, j.JobID, err)
	}
	return nil
}

// Marshal encodes the job as a queue message body.
func (j Job) Marshal() ([]byte, error) {
	return json.Marshal(j)
}

// UnmarshalJob decodes and validates a queue message body.
func UnmarshalJob(data []byte) (Job, error) {
	var j Job
	if err := json.Unmarshal(data, &j); err != nil {
		return Job{}, fmt.Errorf("%w: %w", ErrInvalidJob, err)
	}
	if err := j.Validate(); err != nil {
		return Job{}, err
	}
	return j, nil
}
