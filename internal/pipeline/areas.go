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

package pipeline

import (
	"fmt"
	"sort"
)

// Areas maps each logical area to the bucket backing it.
type Areas map[Area]string

// Bucket returns the bucket for an area, or an error if it is not configured.
func (a Areas) Bucket(area Area) (string, error) {
	b, ok := a[area]
	if !ok || b == "" {
		return "", fmt.Errorf("storage area %q has no bucket configured", area)
	}
	return b, nil
}

// MustBucket is Bucket for areas already validated at startup.
func (a Areas) MustBucket(area Area) string {
	b, err := a.Bucket(area)
	if err != nil {
		panic(err)
	}
	return b
}

// AreaOf finds the area a bucket belongs to.
func (a Areas) AreaOf(bucket string) (Area, bool) {
	for area, b := range a {
		if b == bucket {
			return area, true
		}
	}
	return "", false
}

// Validate requires every known area to be configured and each bucket to
// back exactly one area, so AreaOf is unambiguous.
func (a Areas) Validate() error {
	seen := make(map[string]Area, len(a))
	for _, area := range AllAreas {
		b, err := a.Bucket(area)
		if err != nil {
			return err
		}
		if other, dup := seen[b]; dup {
			return fmt.Errorf("bucket %q is used by both %q and %q", b, other, area)
		}
		seen[b] = area
	}
	return nil
}

// Names returns the configured areas in sorted order.
func (a Areas) Names() []Area {
	out := make([]Area, 0, len(a))
	for area := range a {
		out = append(out, area)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
