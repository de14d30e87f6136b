// Package persist implements the per-tenant write-ahead log,
// compacted snapshot, and offset pointer: every queue
// mutation is appended to a log file before it is
// acknowledged, and a background writer folds the log into a
// snapshot independently, so that a crash between the two can
// always be reconciled on restart by replaying the log tail.
package persist

import "github.com/byster-one/queued/taskqueue"

// Action names the kind of mutation a Record describes.
type Action string

const (
	ActionAdd    Action = "add"
	ActionDelete Action = "delete"
	ActionUpdate Action = "update"
	ActionMove   Action = "move"
)

// Record is one self-contained, independently decodable
// log entry. Which fields are meaningful depends on
// Action:
//
//   - add:    Task (full payload), Prev (predecessor, nil == append)
//   - delete: TaskID
//   - update: Task (full payload, overwrites Duration/DoneDate)
//   - move:   TaskID, Prev (new predecessor, nil == move to front)
type Record struct {
	Action Action         `json:"action"`
	Task   taskqueue.Task `json:"task,omitempty"`
	TaskID uint32         `json:"task_id,omitempty"`
	Prev   *uint32        `json:"prev,omitempty"`
}

// apply replays op against list and returns the updated
// list. apply is pure and deterministic: given the same
// list and op it always produces the same result, which is
// what lets the background writer and crash recovery share
// a single implementation.
func apply(list []taskqueue.Task, op Record) []taskqueue.Task {
	switch op.Action {
	case ActionAdd:
		return insertAfter(list, op.Task, op.Prev)
	case ActionDelete:
		return removeByID(list, op.TaskID)
	case ActionUpdate:
		for i := range list {
			if list[i].ID == op.Task.ID {
				list[i].Duration = op.Task.Duration
				list[i].DoneDate = op.Task.DoneDate
				break
			}
		}
		return list
	case ActionMove:
		moved, rest, ok := extractByID(list, op.TaskID)
		if !ok {
			// the task named by a move record is no
			// longer present (concurrently deleted
			// before this record was replayed); there
			// is nothing to re-place, so the record is
			// a silent no-op
			return list
		}
		if op.Prev == nil {
			// nil Prev on a move means "move to front"
			return append([]taskqueue.Task{moved}, rest...)
		}
		return insertAfter(rest, moved, op.Prev)
	default:
		return list
	}
}

// insertAfter is the replay-side placement rule: append when
// prev is nil, splice in after the first match for *prev, or
// append if *prev is not present at all. Unlike Queue.Add,
// which rejects a missing predecessor, it tolerates one (the
// predecessor may have been concurrently deleted between
// when the client's request was accepted and when this
// record reaches the writer).
func insertAfter(list []taskqueue.Task, t taskqueue.Task, prev *uint32) []taskqueue.Task {
	if prev == nil {
		return append(list, t)
	}
	for i := range list {
		if list[i].ID == *prev {
			out := make([]taskqueue.Task, 0, len(list)+1)
			out = append(out, list[:i+1]...)
			out = append(out, t)
			out = append(out, list[i+1:]...)
			return out
		}
	}
	return append(list, t)
}

func removeByID(list []taskqueue.Task, id uint32) []taskqueue.Task {
	for i := range list {
		if list[i].ID == id {
			return append(list[:i:i], list[i+1:]...)
		}
	}
	return list
}

func extractByID(list []taskqueue.Task, id uint32) (t taskqueue.Task, rest []taskqueue.Task, ok bool) {
	for i := range list {
		if list[i].ID == id {
			t = list[i]
			rest = append(list[:i:i], list[i+1:]...)
			return t, rest, true
		}
	}
	return taskqueue.Task{}, list, false
}
