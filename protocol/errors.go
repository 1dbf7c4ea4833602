package protocol

import "errors"

// ErrMalformedResponse is returned when a status line does not start with a
// three-digit decimal code.
var ErrMalformedResponse = errors.New("nntp: malformed response line")
