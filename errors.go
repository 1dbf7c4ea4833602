package nntpclient

import (
	"errors"
	"fmt"

	"github.com/skjaere/go-nntp-client/yenc"
)

// ProtocolError indicates an unexpected status code or a malformed status
// line — the server said something the client doesn't know how to
// interpret. Non-retriable: the connection's state is not in question, the
// exchange just didn't match expectations.
type ProtocolError struct {
	Message string
}

func (e *ProtocolError) Error() string {
	return "nntp: protocol error: " + e.Message
}

func newProtocolError(format string, args ...any) *ProtocolError {
	return &ProtocolError{Message: fmt.Sprintf(format, args...)}
}

// AuthenticationFailed is returned when an AUTHINFO USER/PASS exchange is
// rejected by the server.
type AuthenticationFailed struct {
	Code    int
	Message string
}

func (e *AuthenticationFailed) Error() string {
	return fmt.Sprintf("nntp: authentication failed: %d %s", e.Code, e.Message)
}

// ConnectionError wraps a socket-level failure: a closed connection, a
// write error, or a welcome line that never arrived. Retriable — the pool
// treats this class specially, scheduling a reconnect and retrying once on
// a different (or freshly reconnected) connection.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("nntp: connection error during %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

func newConnectionError(op string, err error) *ConnectionError {
	return &ConnectionError{Op: op, Err: err}
}

// IsConnectionError reports whether err is, or wraps, a ConnectionError —
// the only error class the pool retries automatically.
func IsConnectionError(err error) bool {
	var ce *ConnectionError
	return errors.As(err, &ce)
}

// ArticleNotFound is returned by Article/Head/Body when the server
// responds 430 or 423. Stat conveys the same information as data instead
// of an error (see Stat).
type ArticleNotFound struct {
	Code    int
	Message string
}

func (e *ArticleNotFound) Error() string {
	return fmt.Sprintf("nntp: article not found: %d %s", e.Code, e.Message)
}

// YencMalformed wraps a malformed yEnc control line: a missing "=ybegin",
// a missing mandatory field, or an unexpected line before the preamble.
type YencMalformed struct {
	Err error
}

func (e *YencMalformed) Error() string {
	return "nntp: " + e.Err.Error()
}

func (e *YencMalformed) Unwrap() error {
	return e.Err
}

// CrcMismatch is returned when a yEnc trailer's asserted CRC32 does not
// match the CRC32 computed over the decoded bytes.
type CrcMismatch struct {
	Expected uint32
	Actual   uint32
}

func (e *CrcMismatch) Error() string {
	return fmt.Sprintf("nntp: yenc crc mismatch: expected %08x, got %08x", e.Expected, e.Actual)
}

// PoolErrClosed is returned to any waiter whose acquisition fails because the
// pool has been closed.
var PoolErrClosed = errors.New("nntp: pool closed")

// ErrConnectionClosed is the underlying cause wrapped by ConnectionError
// when a read hits EOF.
var ErrConnectionClosed = errors.New("nntp: connection closed")

// translateYencError maps the yenc package's own error types onto this
// package's taxonomy, so callers never need to import yenc directly to
// handle CRC or malformed-preamble failures.
func translateYencError(err error) error {
	if err == nil {
		return nil
	}
	var crcErr *yenc.CrcMismatchError
	if errors.As(err, &crcErr) {
		return &CrcMismatch{Expected: crcErr.Expected, Actual: crcErr.Actual}
	}
	var malformed *yenc.MalformedError
	if errors.As(err, &malformed) {
		return &YencMalformed{Err: malformed}
	}
	return newConnectionError("yenc body read", err)
}
