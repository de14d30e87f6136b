package server

import "github.com/byster-one/queued/wire"

// handleAuth is the single bootstrap exchange a session
// must complete before any other handler accepts it. A
// mismatched password is answered with a normal response
// (opcode already paired, bool false) and then the session
// is closed, matching the NEW --auth_fail--> CLOSED
// transition.
func handleAuth(s *session) error {
	password, err := s.r.ReadString()
	if err != nil {
		return err
	}

	s.w.WriteOpcode(wire.SMSGAuthResponse)
	if s.srv.auth.Check(password) {
		s.w.WriteBool(true)
		s.authenticated = true
	} else {
		s.w.WriteBool(false)
		s.closeAfterReply = true
	}
	return s.w.Flush()
}
