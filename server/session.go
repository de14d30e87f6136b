package server

import (
	"net"

	"github.com/byster-one/queued/wire"
)

// session holds the per-connection state for one client.
// A session is driven by exactly one goroutine for its
// entire lifetime, so it carries no mutex of its own:
// concurrency comes from running many sessions at once, not
// from serializing within one.
type session struct {
	remote net.Addr
	conn   net.Conn
	r      *wire.Reader
	w      *wire.Writer

	authenticated bool

	// closeAfterReply is set by a handler that must close
	// the session once its reply is flushed: auth failure,
	// and queue create/delete failures, both of which the
	// design treats as terminal for the connection even
	// though the reply itself carries a normal error
	// payload.
	closeAfterReply bool

	srv *Server
}

func newSession(srv *Server, conn net.Conn) *session {
	return &session{
		remote: conn.RemoteAddr(),
		conn:   conn,
		r:      wire.NewReader(conn),
		w:      wire.NewWriter(conn),
		srv:    srv,
	}
}

// serve runs the session's request loop until the peer
// disconnects, sends an opcode with no registered handler,
// or a transport-level error occurs. It always closes the
// connection before returning.
func (s *session) serve() {
	defer s.conn.Close()
	defer s.srv.untrack(s)

	for {
		op, err := s.r.ReadOpcode()
		if err != nil {
			s.logDisconnect(op, err)
			return
		}
		h, ok := s.srv.handler(op)
		if !ok {
			s.srv.logf("session %s: unknown opcode %s, closing", s.remote, op)
			return
		}
		if err := h(s); err != nil {
			s.srv.logf("session %s: %s: %v", s.remote, op, err)
			return
		}
		if s.closeAfterReply {
			return
		}
	}
}

func (s *session) logDisconnect(op wire.Opcode, err error) {
	if err == wire.ErrDisconnected {
		return
	}
	s.srv.logf("session %s: %v", s.remote, err)
}
