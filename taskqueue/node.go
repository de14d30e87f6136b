// Package taskqueue implements the ordered, doubly-linked
// task list that backs a single tenant's queue: O(1)
// add/delete/move/get by task ID, under a single mutex per
// queue.
package taskqueue

// Task is the payload a caller supplies to Add or Update.
// Duration and DoneDate are opaque to the queue; it never
// interprets them beyond storing and returning them.
type Task struct {
	ID       uint32
	Duration float64
	DoneDate float64
}

// none is the slot index used in place of a pointer for
// "no such node." Slot 0 is never allocated to a real
// task, so it doubles as the sentinel.
const none = 0

// node is one element of the doubly-linked chain. Nodes
// are stored in a slab (Queue.slots) and referenced by
// index rather than by pointer, so that deleting a task
// never requires garbage collecting a cycle and recycled
// slots can be reused without reshuffling neighbors.
type node struct {
	task       Task
	prev, next uint32 // slot indices, or none
	inUse      bool
}
