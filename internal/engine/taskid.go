package engine

import "strconv"

// TaskAllocator produces idempotency keys for deferred-job scheduling.
//
// One allocator belongs to one transaction-processing attempt. Replaying the
// attempt from scratch (with a fresh allocator) replays the identical call
// sequence and therefore the identical keys, which lets the scheduler
// overwrite a pending job instead of duplicating it. Task labels must not
// contain regenerated timestamps or per-attempt sequence ids.
//
// Not safe for concurrent use: single-threaded execution per transaction is
// a documented precondition.
type TaskAllocator struct {
	counters map[string]int
}

// NewTaskAllocator constructs an allocator with all counters at zero.
func NewTaskAllocator() *TaskAllocator {
	return &TaskAllocator{counters: make(map[string]int)}
}

// NextTaskID returns the next key for a label: `label + " idx " + n`,
// starting at 0 for the first call with that label.
func (a *TaskAllocator) NextTaskID(label string) string {
	idx := a.counters[label]
	a.counters[label] = idx + 1
	return label + " idx " + strconv.Itoa(idx)
}
