package history

import "sort"

// PruneResult reports what Prune did to one entity's history.
type PruneResult struct {
	// Evicted is the number of points that fell before the boundary.
	Evicted int
	// Synthesized is true when a boundary point replaced the evicted points.
	Synthesized bool
}

// Prune evicts every point with LastUpdated before boundary. If anything was
// evicted, the most recent evicted point is carried forward as a boundary
// point stamped exactly at boundary, so a chart of the window has no gap at
// its left edge. A history with nothing expired is returned unchanged.
//
// The input must be ascending by LastUpdated; it is not validated.
func Prune(h EntityHistory, boundary float64) (EntityHistory, PruneResult) {
	cut := sort.Search(len(h), func(i int) bool {
		return h[i].LastUpdated >= boundary
	})
	if cut == 0 {
		return h, PruneResult{}
	}

	last := h[cut-1]
	out := make(EntityHistory, 0, len(h)-cut+1)
	out = append(out, boundaryPoint(last, boundary))
	out = append(out, h[cut:]...)
	return out, PruneResult{Evicted: cut, Synthesized: true}
}

// boundaryPoint carries p's value forward to the window start. The change
// instant lies outside the window, so LastChanged is dropped.
func boundaryPoint(p StatePoint, boundary float64) StatePoint {
	return StatePoint{
		State:       p.State,
		Attributes:  p.Attributes,
		LastUpdated: boundary,
	}
}
