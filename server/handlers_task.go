package server

import (
	"github.com/byster-one/queued/persist"
	"github.com/byster-one/queued/qerr"
	"github.com/byster-one/queued/taskqueue"
	"github.com/byster-one/queued/wire"
)

// errPrevInvalid and errTaskNotFound carry the exact wire
// contract wording for a bad prev/from/to reference and a
// missing task respectively, independent of whatever message
// the underlying taskqueue.Queue call itself returned.
var (
	errPrevInvalid  = qerr.InvalidReferencef("'prev_task_id' is invalid. May be the task not in the queue.")
	errTaskNotFound = qerr.NotFoundf("Task not found.")
)

// resolveQueue reads the employer_id common to every task
// handler and resolves it to a live queue, writing the
// failure reply itself (and returning ok=false) if the
// session isn't authenticated yet or the tenant has no
// queue. Callers that get ok=false must return the error
// resolveQueue returns, which may be nil (a normal failure
// reply already flushed) or non-nil (a transport error).
func resolveQueue(s *session, respOpcode wire.Opcode) (q *taskqueue.Queue, employer uint32, ok bool, err error) {
	employer, rerr := s.r.ReadUint32()
	if rerr != nil {
		return nil, 0, false, rerr
	}
	s.w.WriteOpcode(respOpcode)
	if !s.authenticated {
		return nil, employer, false, failReply(s, notAuthenticatedMsg)
	}
	q, gerr := s.srv.registry.Get(employer)
	if gerr != nil {
		return nil, employer, false, failReply(s, errMessage(gerr))
	}
	return q, employer, true, nil
}

func handleTaskGet(s *session) error {
	q, _, ok, err := resolveQueue(s, wire.SMSGTask)
	if !ok {
		return err
	}
	taskID, err := s.r.ReadUint32()
	if err != nil {
		return err
	}

	task, found := q.Get(taskID)
	if !found {
		return failReply(s, errTaskNotFound.Msg)
	}
	prevID, nextID, _ := q.Neighbors(taskID)
	s.w.WriteBool(true)
	s.w.WriteUint32(prevID)
	s.w.WriteUint32(nextID)
	s.w.WriteFloat64(task.Duration)
	s.w.WriteFloat64(task.DoneDate)
	return s.w.Flush()
}

func handleTaskAdd(s *session) error {
	q, employer, ok, err := resolveQueue(s, wire.SMSGTaskAdd)
	if !ok {
		return err
	}
	taskID, err := s.r.ReadUint32()
	if err != nil {
		return err
	}
	duration, err := s.r.ReadFloat64()
	if err != nil {
		return err
	}
	doneDate, err := s.r.ReadFloat64()
	if err != nil {
		return err
	}
	prevTaskID, err := s.r.ReadUint32()
	if err != nil {
		return err
	}

	var prevPtr *uint32
	if prevTaskID != 0 {
		if !q.Exists(prevTaskID) {
			return failReply(s, errPrevInvalid.Msg)
		}
		prevPtr = &prevTaskID
	}

	task := taskqueue.Task{ID: taskID, Duration: duration, DoneDate: doneDate}
	if err := q.Add(task, prevPtr); err != nil {
		return failReply(s, errMessage(err))
	}
	_ = s.srv.registry.Log(employer, persist.Record{Action: persist.ActionAdd, Task: task, Prev: prevPtr})

	s.w.WriteBool(true)
	return s.w.Flush()
}

func handleTaskDelete(s *session) error {
	q, employer, ok, err := resolveQueue(s, wire.SMSGTaskDelete)
	if !ok {
		return err
	}
	taskID, err := s.r.ReadUint32()
	if err != nil {
		return err
	}

	nextID, found := q.Delete(taskID)
	if !found {
		return failReply(s, errTaskNotFound.Msg)
	}
	_ = s.srv.registry.Log(employer, persist.Record{Action: persist.ActionDelete, TaskID: taskID})

	s.w.WriteBool(true)
	s.w.WriteUint32(nextID)
	return s.w.Flush()
}

func handleTaskUpdate(s *session) error {
	q, employer, ok, err := resolveQueue(s, wire.SMSGTaskUpdate)
	if !ok {
		return err
	}
	taskID, err := s.r.ReadUint32()
	if err != nil {
		return err
	}
	duration, err := s.r.ReadFloat64()
	if err != nil {
		return err
	}
	doneDate, err := s.r.ReadFloat64()
	if err != nil {
		return err
	}

	task := taskqueue.Task{ID: taskID, Duration: duration, DoneDate: doneDate}
	if err := q.Update(task); err != nil {
		return failReply(s, errTaskNotFound.Msg)
	}
	_ = s.srv.registry.Log(employer, persist.Record{Action: persist.ActionUpdate, Task: task})

	s.w.WriteBool(true)
	return s.w.Flush()
}

func handleTaskList(s *session) error {
	q, _, ok, err := resolveQueue(s, wire.SMSGTaskList)
	if !ok {
		return err
	}
	fromID, err := s.r.ReadUint32()
	if err != nil {
		return err
	}
	toID, err := s.r.ReadUint32()
	if err != nil {
		return err
	}

	var fromPtr, toPtr *uint32
	if fromID != 0 {
		if !q.Exists(fromID) {
			return failReply(s, errPrevInvalid.Msg)
		}
		fromPtr = &fromID
	}
	if toID != 0 {
		if !q.Exists(toID) {
			return failReply(s, errPrevInvalid.Msg)
		}
		toPtr = &toID
	}

	tasks, err := q.Tasks(fromPtr, toPtr)
	if err != nil {
		return failReply(s, errMessage(err))
	}

	s.w.WriteBool(true)
	for _, t := range tasks {
		s.w.WriteUint32(t.ID)
		s.w.WriteFloat64(t.Duration)
		s.w.WriteFloat64(t.DoneDate)
	}
	s.w.WriteInt32(0)
	return s.w.Flush()
}

func handleTaskMove(s *session) error {
	q, employer, ok, err := resolveQueue(s, wire.SMSGTaskMove)
	if !ok {
		return err
	}
	taskID, err := s.r.ReadUint32()
	if err != nil {
		return err
	}
	prevTaskID, err := s.r.ReadUint32()
	if err != nil {
		return err
	}

	if !q.Exists(taskID) {
		return failReply(s, errTaskNotFound.Msg)
	}
	var prevPtr *uint32
	if prevTaskID != 0 {
		if prevTaskID == taskID || !q.Exists(prevTaskID) {
			return failReply(s, errPrevInvalid.Msg)
		}
		prevPtr = &prevTaskID
	}

	if err := q.Move(taskID, prevPtr); err != nil {
		return failReply(s, errMessage(err))
	}
	_ = s.srv.registry.Log(employer, persist.Record{Action: persist.ActionMove, TaskID: taskID, Prev: prevPtr})

	s.w.WriteBool(true)
	return s.w.Flush()
}

func handleTaskFirst(s *session) error {
	q, _, ok, err := resolveQueue(s, wire.SMSGTaskFirst)
	if !ok {
		return err
	}
	s.w.WriteBool(true)
	s.w.WriteUint32(q.First())
	return s.w.Flush()
}

func handleTaskLatest(s *session) error {
	q, _, ok, err := resolveQueue(s, wire.SMSGTaskLatest)
	if !ok {
		return err
	}
	s.w.WriteBool(true)
	s.w.WriteUint32(q.Latest())
	return s.w.Flush()
}
