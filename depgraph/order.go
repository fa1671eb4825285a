package depgraph

import "sort"

// GetBuildOrder computes a topological ordering over the union of all six
// dependency kinds using Kahn's algorithm, grounded on the teacher's
// pkg/deps.go GetBuildOrder. It is consumed only as a priority hint: the
// scheduler still gates each stage transition through Check(), so a
// mis-ordered hint costs parallelism, never correctness.
//
// Ties are broken by fan-out (handlers with more dependants first, so
// high-fanout ports unblock the most downstream work early) then by origin
// for determinism.
func GetBuildOrder(handlers []*Handler) []*Handler {
	inDegree := make(map[*Handler]int, len(handlers))
	for _, h := range handlers {
		n := 0
		for k := Build; k < numKinds; k++ {
			n += len(h.edgesByKindList[k])
		}
		inDegree[h] = n
	}

	ready := make([]*Handler, 0)
	for _, h := range handlers {
		if inDegree[h] == 0 {
			ready = append(ready, h)
		}
	}
	sortByPriority(ready)

	result := make([]*Handler, 0, len(handlers))
	for len(ready) > 0 {
		h := ready[0]
		ready = ready[1:]
		result = append(result, h)

		var newlyReady []*Handler
		for _, d := range h.dependants {
			inDegree[d.holder]--
			if inDegree[d.holder] == 0 {
				newlyReady = append(newlyReady, d.holder)
			}
		}
		sortByPriority(newlyReady)
		ready = append(ready, newlyReady...)
	}

	return result
}

func sortByPriority(hs []*Handler) {
	sort.Slice(hs, func(i, j int) bool {
		if len(hs[i].dependants) != len(hs[j].dependants) {
			return len(hs[i].dependants) > len(hs[j].dependants)
		}
		return hs[i].owner.Origin() < hs[j].owner.Origin()
	})
}

// TopoOrderStrict is GetBuildOrder but returns *CycleError when the graph
// isn't fully orderable.
func TopoOrderStrict(handlers []*Handler) ([]*Handler, error) {
	order := GetBuildOrder(handlers)
	if len(order) != len(handlers) {
		return order, &CycleError{Total: len(handlers), Ordered: len(order)}
	}
	return order, nil
}
