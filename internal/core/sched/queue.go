package sched

import "container/heap"

// timerHeap is a binary heap of pending timers with a pluggable order. The
// scheduler keeps two: one keyed by (due, seq) and one by (dueFrame, seq).
type timerHeap struct {
	items []*timer
	less  func(a, b *timer) bool
}

var _ heap.Interface = (*timerHeap)(nil)

func byDue(a, b *timer) bool {
	if a.due != b.due {
		return a.due < b.due
	}
	return a.seq < b.seq
}

func byFrame(a, b *timer) bool {
	if a.dueFrame != b.dueFrame {
		return a.dueFrame < b.dueFrame
	}
	return a.seq < b.seq
}

func (h *timerHeap) Len() int           { return len(h.items) }
func (h *timerHeap) Less(i, j int) bool { return h.less(h.items[i], h.items[j]) }

func (h *timerHeap) Swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
	h.items[i].index = i
	h.items[j].index = j
}

func (h *timerHeap) Push(x any) {
	t := x.(*timer)
	t.index = len(h.items)
	t.heap = h
	h.items = append(h.items, t)
}

func (h *timerHeap) Pop() any {
	old := h.items
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	h.items = old[:n-1]
	t.index = -1
	t.heap = nil
	return t
}

func (h *timerHeap) peek() *timer {
	if len(h.items) == 0 {
		return nil
	}
	return h.items[0]
}
