package exception

import (
	"strings"

	"gni.dev/jsdbg/internal/dbg"
)

// Exception filter ids advertised to clients.
const (
	FilterAll      = "all"
	FilterUncaught = "uncaught"
)

type FilterOption struct {
	FilterID  string `json:"filterId"`
	Condition string `json:"condition,omitempty"`
}

// FilterRequest mirrors the arguments of a setExceptionBreakpoints request.
type FilterRequest struct {
	Filters       []string       `json:"filters"`
	FilterOptions []FilterOption `json:"filterOptions,omitempty"`
}

type filterEntry struct {
	id        string
	condition string
}

// plan is the uncompiled form of a pause configuration. An empty source
// means the bucket carries no condition.
type plan struct {
	mode     dbg.PauseMode
	caught   string
	uncaught string
}

func mergeFilters(req FilterRequest) []filterEntry {
	entries := make([]filterEntry, 0, len(req.Filters)+len(req.FilterOptions))
	for _, id := range req.Filters {
		entries = append(entries, filterEntry{id: strings.TrimSpace(id)})
	}
	for _, o := range req.FilterOptions {
		entries = append(entries, filterEntry{
			id:        strings.TrimSpace(o.FilterID),
			condition: strings.TrimSpace(o.Condition),
		})
	}
	return entries
}

// planFilters derives the pause mode and the condition source of each bucket.
// With shared set, a non-empty bucket is given every condition of the request
// instead of only its own.
func planFilters(req FilterRequest, shared bool) plan {
	var (
		p                     plan
		caught, uncaught, all []string
	)
	for _, e := range mergeFilters(req) {
		if e.condition != "" {
			all = append(all, e.condition)
		}
		switch e.id {
		case FilterAll:
			p.mode = dbg.PauseAll
			if e.condition != "" {
				caught = append(caught, e.condition)
			}
		case FilterUncaught:
			if p.mode == dbg.PauseNone {
				p.mode = dbg.PauseUncaught
			}
			if e.condition != "" {
				uncaught = append(uncaught, e.condition)
			}
		}
	}
	if p.mode == dbg.PauseNone {
		return p
	}
	if shared {
		if len(caught) > 0 {
			caught = all
		}
		if len(uncaught) > 0 {
			uncaught = all
		}
	}
	p.caught = joinConditions(caught)
	p.uncaught = joinConditions(uncaught)
	return p
}

func joinConditions(conds []string) string {
	if len(conds) == 0 {
		return ""
	}
	return "!!(" + strings.Join(conds, ") || !!(") + ")"
}
