package roomlog

import (
	"container/heap"
	"sort"

	"p2pspace/pkg/models"
)

// TopoSort orders events Kahn-style: an event becomes ready once all of
// its locally-present parents are emitted, and the ready set is drained
// in (ts ascending, event_id ascending) order. Parents the local peer
// has never seen do not block readiness. Cycles cannot occur with
// honest signers; if they appear anyway the remainder is appended by
// the same tie-break, treated as local corruption rather than a
// protocol error.
func TopoSort(events []models.Event) []models.Event {
	byID := make(map[string]models.Event, len(events))
	for _, ev := range events {
		byID[ev.EventID] = ev
	}

	indegree := make(map[string]int, len(byID))
	children := make(map[string][]string, len(byID))
	for id, ev := range byID {
		for _, p := range ev.Prev {
			if _, present := byID[p]; !present {
				continue
			}
			indegree[id]++
			children[p] = append(children[p], id)
		}
	}

	ready := &eventHeap{}
	heap.Init(ready)
	for id, ev := range byID {
		if indegree[id] == 0 {
			heap.Push(ready, ev)
		}
	}

	out := make([]models.Event, 0, len(byID))
	emitted := make(map[string]struct{}, len(byID))
	for ready.Len() > 0 {
		ev := heap.Pop(ready).(models.Event)
		out = append(out, ev)
		emitted[ev.EventID] = struct{}{}
		for _, child := range children[ev.EventID] {
			indegree[child]--
			if indegree[child] == 0 {
				heap.Push(ready, byID[child])
			}
		}
	}

	if len(out) < len(byID) {
		rest := make([]models.Event, 0, len(byID)-len(out))
		for id, ev := range byID {
			if _, ok := emitted[id]; !ok {
				rest = append(rest, ev)
			}
		}
		sort.Slice(rest, func(i, j int) bool { return eventLess(rest[i], rest[j]) })
		out = append(out, rest...)
	}
	return out
}

func eventLess(a, b models.Event) bool {
	if a.TS != b.TS {
		return a.TS < b.TS
	}
	return a.EventID < b.EventID
}

type eventHeap []models.Event

func (h eventHeap) Len() int           { return len(h) }
func (h eventHeap) Less(i, j int) bool { return eventLess(h[i], h[j]) }
func (h eventHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *eventHeap) Push(x any)        { *h = append(*h, x.(models.Event)) }
func (h *eventHeap) Pop() any {
	old := *h
	n := len(old)
	ev := old[n-1]
	*h = old[:n-1]
	return ev
}
