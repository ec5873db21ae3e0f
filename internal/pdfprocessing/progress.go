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
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/cardinalhq/rawetl/internal/backlog"
	"github.com/cardinalhq/rawetl/internal/objstore"
	"github.com/cardinalhq/rawetl/internal/pipeline"
)

// DefaultProgressPrefix is where partial results live in the output area
// until a document is assembled.
const DefaultProgressPrefix = "_progress/"

// DocumentID identifies a source document across its continuation chain.
// The area is part of it so a PDF in the raw area and a converted PDF in
// the interim area with the same key never share progress.
func DocumentID(area pipeline.Area, key string) string {
	return string(area) + "/" + key
}

// FormatPage renders one transcribed page as it appears in the output.
func FormatPage(page int, text string) string {
	return fmt.Sprintf("Page %d\n%s\n\n", page, text)
}

func progressDir(prefix, documentID string) string {
	return prefix + documentID + "/"
}

func progressKey(prefix, documentID string, r backlog.PageRange) string {
	return fmt.Sprintf("%s%06d-%06d.txt", progressDir(prefix, documentID), r.First, r.Last)
}

type progressPart struct {
	key   string
	pages backlog.PageRange
}

func parseProgressParts(infos []objstore.ObjectInfo) []progressPart {
	parts := make([]progressPart, 0, len(infos))
	for _, info := range infos {
		var r backlog.PageRange
		if _, err := fmt.Sscanf(path.Base(info.Key), "%d-%d.txt", &r.First, &r.Last); err != nil {
			continue
		}
		if r.Validate() != nil {
			continue
		}
		parts = append(parts, progressPart{key: info.Key, pages: r})
	}
	sort.Slice(parts, func(i, j int) bool {
		if parts[i].pages.First != parts[j].pages.First {
			return parts[i].pages.First < parts[j].pages.First
		}
		return parts[i].pages.Last > parts[j].pages.Last
	})
	return parts
}

// GapError reports that the persisted parts do not cover a document.
type GapError struct {
	DocumentID string
	Page       int
	PageCount  int
}

func (e *GapError) Error() string {
	return fmt.Sprintf("progress for %s does not cover pages 1-%d: missing page %d", e.DocumentID, e.PageCount, e.Page)
}

// chainParts picks parts that cover pages 1..pageCount back to back.
// Duplicate deliveries can leave overlapping parts; those not on the
// chosen chain are ignored.
func chainParts(documentID string, parts []progressPart, pageCount int) ([]progressPart, error) {
	byFirst := make(map[int][]progressPart)
	for _, p := range parts {
		if p.pages.Last <= pageCount {
			byFirst[p.pages.First] = append(byFirst[p.pages.First], p)
		}
	}

	dead := make(map[int]bool)
	furthest := 1
	var walk func(next int) []progressPart
	walk = func(next int) []progressPart {
		if next > furthest {
			furthest = next
		}
		if next == pageCount+1 {
			return []progressPart{}
		}
		if dead[next] {
			return nil
		}
		// Longest part first.
		for _, p := range byFirst[next] {
			if rest := walk(p.pages.Last + 1); rest != nil {
				return append([]progressPart{p}, rest...)
			}
		}
		dead[next] = true
		return nil
	}

	chain := walk(1)
	if chain == nil {
		return nil, &GapError{DocumentID: documentID, Page: furthest, PageCount: pageCount}
	}
	return chain, nil
}

func assembleText(sections []string) string {
	var sb strings.Builder
	for _, s := range sections {
		sb.WriteString(s)
	}
	return sb.String()
}
