package server

import "github.com/byster-one/queued/qerr"

// errMessage extracts the client-visible message for err.
// A *qerr.Error contributes its own Msg verbatim, matching
// the wire contract's fixed error strings ("Task not
// found.", "No queue for employer_id <id>", ...); any other
// error is reported via its generic Error() text.
func errMessage(err error) string {
	if qe, ok := err.(*qerr.Error); ok {
		return qe.Msg
	}
	return err.Error()
}
