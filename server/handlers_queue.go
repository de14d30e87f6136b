package server

import "github.com/byster-one/queued/wire"

// failReply writes the failure half of a response that has
// already had its opcode written: bool false followed by
// the error message, then flushes. The opcode is written
// unconditionally before any validation in every handler
// below, so the client always receives the paired response
// opcode regardless of how the request fails.
func failReply(s *session, msg string) error {
	s.w.WriteBool(false)
	s.w.WriteString(msg)
	return s.w.Flush()
}

const notAuthenticatedMsg = "Not authenticated."

// handleQueueCreate creates a new, empty queue for the
// requested tenant, seeded from any persisted state found
// for it. Unlike task handlers, any failure here, including
// an unauthenticated attempt, closes the session once the
// failure reply is flushed.
func handleQueueCreate(s *session) error {
	employer, err := s.r.ReadUint32()
	if err != nil {
		return err
	}

	s.w.WriteOpcode(wire.SMSGQueueCreateResponse)
	if !s.authenticated {
		s.closeAfterReply = true
		return failReply(s, notAuthenticatedMsg)
	}

	if _, err := s.srv.registry.Create(employer); err != nil {
		s.closeAfterReply = true
		return failReply(s, errMessage(err))
	}
	s.w.WriteBool(true)
	return s.w.Flush()
}

// handleQueueDelete removes the tenant's in-memory queue
// and clears its persisted files.
func handleQueueDelete(s *session) error {
	employer, err := s.r.ReadUint32()
	if err != nil {
		return err
	}

	s.w.WriteOpcode(wire.SMSGQueueDeleteResponse)
	if !s.authenticated {
		s.closeAfterReply = true
		return failReply(s, notAuthenticatedMsg)
	}

	if err := s.srv.registry.Delete(employer); err != nil {
		s.closeAfterReply = true
		return failReply(s, errMessage(err))
	}
	s.w.WriteBool(true)
	return s.w.Flush()
}
