// Package ranking orders records with fractional ranks. A new position takes the
// midpoint of its neighbours; when the gap closes below Epsilon the scope is
// renumbered to evenly spaced integers first.
package ranking

import (
	"fmt"
	"math"
	"sort"

	dErrors "pmhub/pkg/domain-errors"
)

// Epsilon is the smallest gap Between will split.
const Epsilon = 1e-6

// Between returns a rank strictly between before and after. A nil bound is an
// open end. ok is false when the gap is too narrow to split, either below
// Epsilon or too small for float64 to represent a value strictly inside it.
func Between(before, after *float64) (rank float64, ok bool) {
	switch {
	case before == nil && after == nil:
		return 1, true
	case before == nil:
		return step(*after, math.Inf(-1))
	case after == nil:
		return step(*before, math.Inf(1))
	}
	if NeedsRenumber(*before, *after) {
		return 0, false
	}
	mid := *before + (*after-*before)/2
	if !(mid > *before && mid < *after) {
		return 0, false
	}
	return mid, true
}

// step moves one unit from r towards dir, or to the next representable float
// when r is too large for a unit step to change it.
func step(r, dir float64) (float64, bool) {
	next := r + 1
	if dir < 0 {
		next = r - 1
	}
	if next == r {
		next = math.Nextafter(r, dir)
	}
	if math.IsInf(next, 0) || math.IsNaN(next) {
		return 0, false
	}
	return next, true
}

// NeedsRenumber reports whether the gap between two ranks is exhausted.
func NeedsRenumber(before, after float64) bool {
	if after-before < Epsilon {
		return true
	}
	mid := before + (after-before)/2
	return !(mid > before && mid < after)
}

// Renumber returns n evenly spaced ranks 1, 2, ..., n.
func Renumber(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = float64(i + 1)
	}
	return out
}

// Item is one ranked member of a scope. A nil Rank sorts last.
type Item struct {
	ID   string
	Rank *float64
}

// Order sorts items by rank, then id.
func Order(items []Item) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i].Rank, items[j].Rank
		switch {
		case a == nil && b == nil:
			return items[i].ID < items[j].ID
		case a == nil:
			return false
		case b == nil:
			return true
		case *a != *b:
			return *a < *b
		}
		return items[i].ID < items[j].ID
	})
}

// Placement is the outcome of Plan.
type Placement struct {
	Rank float64
	// Renumbered holds the new rank of every other item rewritten first, in
	// scope order.
	Renumbered []Item
}

// Plan places id immediately after beforeID or immediately before afterID (or
// between both). With neither, id goes to the end of the scope. items is the
// scope's current membership; id itself is ignored if present.
func Plan(items []Item, id, beforeID, afterID string) (*Placement, error) {
	scope := make([]Item, 0, len(items))
	for _, it := range items {
		if it.ID != id {
			scope = append(scope, it)
		}
	}
	Order(scope)

	lo, hi, err := neighbours(scope, beforeID, afterID)
	if err != nil {
		return nil, err
	}

	var loRank, hiRank *float64
	if lo >= 0 {
		loRank = scope[lo].Rank
	}
	if hi < len(scope) {
		hiRank = scope[hi].Rank
	}
	unranked := (lo >= 0 && loRank == nil) || (hi < len(scope) && hiRank == nil)
	if !unranked {
		if rank, ok := Between(loRank, hiRank); ok {
			return &Placement{Rank: rank}, nil
		}
	}

	fresh := Renumber(len(scope))
	p := &Placement{}
	for i, it := range scope {
		r := fresh[i]
		if it.Rank == nil || *it.Rank != r {
			p.Renumbered = append(p.Renumbered, Item{ID: it.ID, Rank: &r})
		}
	}
	loRank, hiRank = nil, nil
	if lo >= 0 {
		loRank = &fresh[lo]
	}
	if hi < len(scope) {
		hiRank = &fresh[hi]
	}
	rank, ok := Between(loRank, hiRank)
	if !ok {
		return nil, fmt.Errorf("renumbered gap still below epsilon")
	}
	p.Rank = rank
	return p, nil
}

// neighbours resolves the scope indexes bounding the new position. lo is -1
// at the start of the scope; hi is len(scope) at the end.
func neighbours(scope []Item, beforeID, afterID string) (lo, hi int, err error) {
	index := func(field, id string) (int, error) {
		for i, it := range scope {
			if it.ID == id {
				return i, nil
			}
		}
		return 0, dErrors.Validation(field, fmt.Sprintf("'%s' is not in the same ranking scope", id))
	}
	switch {
	case beforeID != "" && afterID != "":
		if lo, err = index("before_id", beforeID); err != nil {
			return 0, 0, err
		}
		if hi, err = index("after_id", afterID); err != nil {
			return 0, 0, err
		}
		if hi != lo+1 {
			return 0, 0, dErrors.Validation("after_id", fmt.Sprintf("'%s' does not directly follow '%s'", afterID, beforeID))
		}
		return lo, hi, nil
	case beforeID != "":
		if lo, err = index("before_id", beforeID); err != nil {
			return 0, 0, err
		}
		return lo, lo + 1, nil
	case afterID != "":
		if hi, err = index("after_id", afterID); err != nil {
			return 0, 0, err
		}
		return hi - 1, hi, nil
	}
	return len(scope) - 1, len(scope), nil
}
