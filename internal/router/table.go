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

package router

import (
	"fmt"
	"os"
	"sort"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"

	"github.com/cardinalhq/rawetl/internal/pipeline"
)

// Route binds objects created in one area with a given suffix to a handler.
type Route struct {
	Area    pipeline.Area      `yaml:"area"`
	Suffix  string             `yaml:"suffix"`
	Event   string             `yaml:"event,omitempty"`
	Handler pipeline.HandlerID `yaml:"handler"`
}

// EventPrefix is the event-name prefix the route accepts. An empty Event
// accepts every creation event.
func (r Route) EventPrefix() string {
	if r.Event == "" {
		return pipeline.EventObjectCreated
	}
	return r.Event
}

// EventPattern is EventPrefix for display, with a trailing wildcard when the
// route accepts every creation event.
func (r Route) EventPattern() string {
	if r.Event == "" {
		return pipeline.EventObjectCreated + "*"
	}
	return r.Event
}

func (r Route) String() string {
	return fmt.Sprintf("%s:*%s [%s] -> %s", r.Area, r.Suffix, r.EventPattern(), r.Handler)
}

// Table is an immutable, validated routing table.
type Table struct {
	routes []Route
}

var officeSuffixes = []string{".ppt", ".pptx", ".docx", ".xlsx", ".xls", ".html", ".excel"}

// DefaultRoutes is the routing of the ingestion stack.
func DefaultRoutes() []Route {
	routes := []Route{
		{Area: pipeline.AreaRaw, Suffix: ".pdf", Handler: pipeline.HandlerPDF},
		{Area: pipeline.AreaRaw, Suffix: ".mp4", Handler: pipeline.HandlerVideo},
	}
	for _, s := range officeSuffixes {
		routes = append(routes, Route{Area: pipeline.AreaRaw, Suffix: s, Handler: pipeline.HandlerOffice})
	}
	routes = append(routes,
		Route{Area: pipeline.AreaInterim, Suffix: ".pdf", Handler: pipeline.HandlerPDF},
		Route{Area: pipeline.AreaAudio, Suffix: ".json", Event: pipeline.EventObjectCreatedPut, Handler: pipeline.HandlerTranscript},
	)
	return routes
}

// DefaultTable returns the validated default routing table.
func DefaultTable() *Table {
	t, err := NewTable(DefaultRoutes())
	if err != nil {
		panic(err)
	}
	return t
}

type tableFile struct {
	Routes []Route `yaml:"routes"`
}

// LoadTable reads a routing table from a YAML file of the form
//
//	routes:
//	  - area: raw
//	    suffix: .pdf
//	    handler: pdf
func LoadTable(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading route file: %w", err)
	}
	var f tableFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing route file %s: %w", path, err)
	}
	return NewTable(f.Routes)
}

var knownHandlers = mapset.NewSet(
	pipeline.HandlerPDF,
	pipeline.HandlerOffice,
	pipeline.HandlerVideo,
	pipeline.HandlerTranscript,
)

// NewTable validates routes and builds a table. All problems are reported
// together.
func NewTable(routes []Route) (*Table, error) {
	var errs *multierror.Error
	if len(routes) == 0 {
		errs = multierror.Append(errs, fmt.Errorf("routing table is empty"))
	}

	knownAreas := mapset.NewSet(pipeline.AllAreas...)
	type slot struct {
		area   pipeline.Area
		suffix string
		event  string
	}
	claimed := make(map[slot]pipeline.HandlerID, len(routes))

	for i, r := range routes {
		if !knownAreas.Contains(r.Area) {
			errs = multierror.Append(errs, fmt.Errorf("route %d: unknown area %q", i, r.Area))
		}
		if !strings.HasPrefix(r.Suffix, ".") || len(r.Suffix) < 2 {
			errs = multierror.Append(errs, fmt.Errorf("route %d: suffix %q must start with a dot", i, r.Suffix))
		}
		if !strings.HasPrefix(r.EventPrefix(), pipeline.EventObjectCreated) {
			errs = multierror.Append(errs, fmt.Errorf("route %d: event %q is not an object creation event", i, r.Event))
		}
		if !knownHandlers.Contains(r.Handler) {
			errs = multierror.Append(errs, fmt.Errorf("route %d: unknown handler %q", i, r.Handler))
		}
		// The interim area exists only to re-enter the PDF path.
		if r.Area == pipeline.AreaInterim && r.Handler != pipeline.HandlerPDF {
			errs = multierror.Append(errs, fmt.Errorf("route %d: interim area may only route to %q, not %q", i, pipeline.HandlerPDF, r.Handler))
		}
		if r.Area == pipeline.AreaOutput {
			errs = multierror.Append(errs, fmt.Errorf("route %d: output area is terminal", i))
		}

		s := slot{area: r.Area, suffix: r.Suffix, event: r.EventPrefix()}
		if prev, ok := claimed[s]; ok && prev != r.Handler {
			errs = multierror.Append(errs, fmt.Errorf("route %d: %s:*%s already routed to %q, cannot also route to %q", i, r.Area, r.Suffix, prev, r.Handler))
			continue
		}
		claimed[s] = r.Handler
	}
	if err := errs.ErrorOrNil(); err != nil {
		return nil, err
	}

	sorted := append([]Route(nil), routes...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Area != sorted[j].Area {
			return sorted[i].Area < sorted[j].Area
		}
		return sorted[i].Suffix < sorted[j].Suffix
	})
	return &Table{routes: sorted}, nil
}

// Routes returns a copy of the table's routes ordered by area then suffix.
func (t *Table) Routes() []Route {
	return append([]Route(nil), t.routes...)
}

// Handlers returns the set of handlers the table dispatches to.
func (t *Table) Handlers() mapset.Set[pipeline.HandlerID] {
	out := mapset.NewThreadUnsafeSet[pipeline.HandlerID]()
	for _, r := range t.routes {
		out.Add(r.Handler)
	}
	return out
}

// Match finds the route for an object created in area. Suffix matching is
// case-sensitive; the longest matching suffix wins, then the most specific
// event prefix.
func (t *Table) Match(area pipeline.Area, key, eventName string) (Route, bool) {
	var best Route
	found := false
	for _, r := range t.routes {
		if r.Area != area || !strings.HasSuffix(key, r.Suffix) || !strings.HasPrefix(eventName, r.EventPrefix()) {
			continue
		}
		if !found ||
			len(r.Suffix) > len(best.Suffix) ||
			(len(r.Suffix) == len(best.Suffix) && len(r.EventPrefix()) > len(best.EventPrefix())) {
			best = r
			found = true
		}
	}
	return best, found
}
