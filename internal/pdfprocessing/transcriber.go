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
)

// PageRequest asks for the text of one page.
type PageRequest struct {
	DocumentID string
	Path       string
	Page       int
	// PreviousText is the text of the preceding page, if any. Transcribers
	// that understand layout use it to continue tables across pages.
	PreviousText string
}

// PageCounter reports how many pages a local PDF has.
type PageCounter interface {
	PageCount(ctx context.Context, path string) (int, error)
}

// PageTranscriber turns one page into markdown text.
type PageTranscriber interface {
	TranscribePage(ctx context.Context, req PageRequest) (string, error)
}
