package taskqueue

import (
	"sync"

	"github.com/byster-one/queued/qerr"
)

var (
	notFound = qerr.NotFoundf
	conflict = qerr.Conflictf
)

// Queue is a per-tenant, doubly-linked, ID-indexed task
// list. All exported methods are safe for concurrent use;
// they serialize on a single mutex (no exported method calls
// back into another locking method of the same Queue, so a
// plain sync.Mutex suffices in place of a reentrant lock).
type Queue struct {
	mu sync.Mutex

	slots []node            // slots[0] is the unused sentinel
	free  []uint32          // recycled slot indices
	index map[uint32]uint32 // task ID -> slot index

	first, last uint32 // slot indices, or none
}

// New returns an empty queue.
func New() *Queue {
	return &Queue{
		slots: make([]node, 1), // slot 0 reserved as "none"
		index: make(map[uint32]uint32),
	}
}

// alloc returns a fresh or recycled slot index holding t,
// with prev/next left zeroed (none). Caller must hold mu.
func (q *Queue) alloc(t Task) uint32 {
	if n := len(q.free); n > 0 {
		i := q.free[n-1]
		q.free = q.free[:n-1]
		q.slots[i] = node{task: t, inUse: true}
		return i
	}
	q.slots = append(q.slots, node{task: t, inUse: true})
	return uint32(len(q.slots) - 1)
}

func (q *Queue) release(i uint32) {
	q.slots[i] = node{}
	q.free = append(q.free, i)
}

// Add inserts task into the queue. If prevID is non-nil,
// the task is spliced in immediately after the task with
// that ID; otherwise it is appended after the current
// tail. Add fails with qerr.Conflict if task.ID already
// exists, or qerr.NotFound if prevID does not.
func (q *Queue) Add(task Task, prevID *uint32) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.index[task.ID]; ok {
		return conflict("task %d already exists", task.ID)
	}
	var prevSlot uint32 = none
	if prevID != nil {
		s, ok := q.index[*prevID]
		if !ok {
			return notFound("task %d not found", *prevID)
		}
		prevSlot = s
	}

	slot := q.alloc(task)
	q.index[task.ID] = slot

	if q.first == none {
		// empty queue: new node is both head and tail
		q.first, q.last = slot, slot
		return nil
	}
	if prevSlot == none {
		// append after current tail
		q.linkAfter(q.last, slot)
		q.last = slot
		return nil
	}
	q.linkAfter(prevSlot, slot)
	if prevSlot == q.last {
		q.last = slot
	}
	return nil
}

// linkAfter splices newSlot immediately after afterSlot,
// fixing all four sibling links. Caller must hold mu and
// guarantee afterSlot is a valid, linked node.
func (q *Queue) linkAfter(afterSlot, newSlot uint32) {
	nextSlot := q.slots[afterSlot].next
	q.slots[afterSlot].next = newSlot
	q.slots[newSlot].prev = afterSlot
	q.slots[newSlot].next = nextSlot
	if nextSlot != none {
		q.slots[nextSlot].prev = newSlot
	}
}

// Get returns the task for id and whether it was found.
func (q *Queue) Get(id uint32) (Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	s, ok := q.index[id]
	if !ok {
		return Task{}, false
	}
	return q.slots[s].task, true
}

// Neighbors returns the IDs of the predecessor and
// successor of id (0 if there is none on that side), and
// whether id was found at all.
func (q *Queue) Neighbors(id uint32) (prevID, nextID uint32, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	s, found := q.index[id]
	if !found {
		return 0, 0, false
	}
	n := q.slots[s]
	if n.prev != none {
		prevID = q.slots[n.prev].task.ID
	}
	if n.next != none {
		nextID = q.slots[n.next].task.ID
	}
	return prevID, nextID, true
}

// Exists reports whether id is present in the queue.
func (q *Queue) Exists(id uint32) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.index[id]
	return ok
}

// unlink removes slot from the chain without touching the
// index. Caller must hold mu and guarantee slot is linked.
func (q *Queue) unlink(slot uint32) {
	n := q.slots[slot]
	if n.prev != none {
		q.slots[n.prev].next = n.next
	} else {
		q.first = n.next
	}
	if n.next != none {
		q.slots[n.next].prev = n.prev
	} else {
		q.last = n.prev
	}
	q.slots[slot].prev = none
	q.slots[slot].next = none
}

// Delete removes the task with the given id, returning the
// ID of the task that followed it (0 if it was the tail or
// the queue is now empty) and whether id was found.
func (q *Queue) Delete(id uint32) (nextID uint32, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	slot, found := q.index[id]
	if !found {
		return 0, false
	}
	nextSlot := q.slots[slot].next
	q.unlink(slot)
	delete(q.index, id)
	q.release(slot)
	if nextSlot != none {
		nextID = q.slots[nextSlot].task.ID
	}
	return nextID, true
}

// Update overwrites the Duration and DoneDate of the task
// with task.ID, leaving its position unchanged. It fails
// with qerr.NotFound if task.ID does not exist.
func (q *Queue) Update(task Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	slot, ok := q.index[task.ID]
	if !ok {
		return notFound("task %d not found", task.ID)
	}
	q.slots[slot].task.Duration = task.Duration
	q.slots[slot].task.DoneDate = task.DoneDate
	return nil
}

// Move relocates the task with id to immediately after the
// task with prevID (or to the front, if prevID is nil). It
// fails with qerr.NotFound if id or prevID (when given) does
// not exist, and ignores a no-op move to the same position.
func (q *Queue) Move(id uint32, prevID *uint32) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	slot, ok := q.index[id]
	if !ok {
		return notFound("task %d not found", id)
	}
	var prevSlot uint32 = none
	if prevID != nil {
		s, ok := q.index[*prevID]
		if !ok {
			return notFound("task %d not found", *prevID)
		}
		if s == slot {
			return notFound("task %d cannot be moved after itself", id)
		}
		prevSlot = s
	}

	q.unlink(slot)

	if q.first == none {
		q.first, q.last = slot, slot
		return nil
	}
	if prevSlot == none {
		// insert as new head
		q.slots[slot].next = q.first
		q.slots[q.first].prev = slot
		q.first = slot
		return nil
	}
	q.linkAfter(prevSlot, slot)
	if prevSlot == q.last {
		q.last = slot
	}
	return nil
}

// Tasks returns, in order, the tasks starting at fromID
// (or the head, if fromID is nil) through and including
// toID (or the tail, if toID is nil). If fromID is
// positioned after toID in the chain, Tasks returns an
// empty, non-error result. Tasks materializes the result
// into a slice rather than streaming it out while holding
// the lock; task lists are small enough that this is never
// the bottleneck.
func (q *Queue) Tasks(fromID, toID *uint32) ([]Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	startSlot := q.first
	if fromID != nil {
		s, ok := q.index[*fromID]
		if !ok {
			return nil, notFound("task %d not found", *fromID)
		}
		startSlot = s
	}
	var endSlot uint32 = none
	if toID != nil {
		s, ok := q.index[*toID]
		if !ok {
			return nil, notFound("task %d not found", *toID)
		}
		endSlot = s
	}

	var out []Task
	for s := startSlot; s != none; s = q.slots[s].next {
		out = append(out, q.slots[s].task)
		if toID != nil && s == endSlot {
			return out, nil
		}
	}
	if toID != nil {
		// ran off the end without ever reaching toID:
		// fromID was positioned after toID in the chain
		return nil, nil
	}
	return out, nil
}

// First returns the ID of the head task, or 0 if the queue
// is empty.
func (q *Queue) First() uint32 {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.first == none {
		return 0
	}
	return q.slots[q.first].task.ID
}

// Latest returns the ID of the tail task, or 0 if the
// queue is empty.
func (q *Queue) Latest() uint32 {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.last == none {
		return 0
	}
	return q.slots[q.last].task.ID
}

// Len reports the number of tasks currently in the queue.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.index)
}
