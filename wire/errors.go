package wire

import "errors"

// ErrDisconnected is returned by Reader methods when the
// peer closed the connection cleanly while a read was in
// progress.
var ErrDisconnected = errors.New("wire: peer disconnected")

// ProtocolError indicates the peer sent a value that
// cannot possibly be valid (a negative or absurdly large
// string length, for example). It is always fatal to the
// session that produced it.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string { return "wire: protocol error: " + e.Reason }

// MaxStringLen bounds the length of any string read off
// the wire; anything larger is almost certainly a
// desynchronized stream rather than a legitimate message.
const MaxStringLen = 16 << 20 // 16 MiB

// TransportError wraps a socket-level error (anything
// that isn't a clean peer disconnect) encountered while
// reading or writing a frame.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string { return "wire: " + e.Op + ": " + e.Err.Error() }
func (e *TransportError) Unwrap() error { return e.Err }
