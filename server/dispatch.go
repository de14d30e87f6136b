package server

import "github.com/byster-one/queued/wire"

// handlerFunc processes one fully-framed request already
// past its opcode on s's reader, and writes the paired
// response opcode and payload before returning. A non-nil
// error means a transport or protocol failure occurred
// while talking to the peer; the session is closed and the
// error is logged, not replied to.
type handlerFunc func(s *session) error

// newDispatchTable builds the static opcode -> handler
// registry once at startup, asserting there are no duplicate
// registrations.
func newDispatchTable() map[wire.Opcode]handlerFunc {
	t := make(map[wire.Opcode]handlerFunc)
	register := func(op wire.Opcode, h handlerFunc) {
		if _, dup := t[op]; dup {
			panic("server: duplicate handler registration for " + op.String())
		}
		t[op] = h
	}

	register(wire.CMSGAuthRequest, handleAuth)
	register(wire.CMSGQueueCreateRequest, handleQueueCreate)
	register(wire.CMSGQueueDeleteRequest, handleQueueDelete)
	register(wire.CMSGTaskGet, handleTaskGet)
	register(wire.CMSGTaskAdd, handleTaskAdd)
	register(wire.CMSGTaskDelete, handleTaskDelete)
	register(wire.CMSGTaskUpdate, handleTaskUpdate)
	register(wire.CMSGTaskList, handleTaskList)
	register(wire.CMSGTaskMove, handleTaskMove)
	register(wire.CMSGTaskFirst, handleTaskFirst)
	register(wire.CMSGTaskLatest, handleTaskLatest)

	return t
}
