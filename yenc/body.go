package yenc

import (
	"bytes"
	"hash/crc32"
	"io"
	"log/slog"
	"strings"

	"github.com/skjaere/go-nntp-client/internal"
)

// Socket is the minimal surface the body pipeline needs from a connection:
// text-line reads for the control-line preamble, a raw (non-UTF-8-decoding)
// line read for the one byte-exact peek spec §4.5 step 2 requires, and a
// raw chunk read for the bulk of the binary body.
type Socket interface {
	ReadLine() (string, error)
	ReadRawLine() ([]byte, error)
	ReadRaw(buf []byte) (int, error)
}

// Lock represents ownership of a connection's command lock, transferred to
// the body pipeline by commandRaw (spec §4.4/§4.5). Exactly one of Release
// or ReleaseAndReconnect is called, exactly once, regardless of how the
// decode ends.
type Lock interface {
	Release()
	ReleaseAndReconnect()
}

// ReadHeaders runs the control-line preamble (spec §4.5 steps 1-3) and
// returns the parsed Headers without reading any body bytes. Because the
// body bytes are left unread, the lock is always handed back via
// ReleaseAndReconnect — the socket is not in a clean state for reuse.
func ReadHeaders(sock Socket, lock Lock) (Headers, error) {
	h, _, err := scanPreamble(sock)
	lock.ReleaseAndReconnect()
	return h, err
}

// DecodeBody runs the full preamble-then-body sequence: it parses the
// control-line preamble, then returns the Headers together with an
// io.ReadCloser the caller drains at its own pace. The lock is released
// (cleanly, or with a reconnect scheduled) when the returned reader reaches
// EOF, errors, or is closed early — never before, and never more than once.
func DecodeBody(sock Socket, lock Lock) (Headers, io.ReadCloser, error) {
	h, firstChunk, err := scanPreamble(sock)
	if err != nil {
		lock.ReleaseAndReconnect()
		return Headers{}, nil, err
	}

	r := &bodyReader{
		sock:    sock,
		lock:    lock,
		state:   NewDecoderState(),
		pending: firstChunk,
		crc:     0,
		scratch: make([]byte, 0, 128*1024),
	}
	return h, r, nil
}

// scanPreamble implements spec §4.5 steps 1-3, returning the parsed Headers
// and the first chunk of encoded body data (the raw line read while
// peeking for "=ypart ", with its CRLF restored, when no part header was
// present — empty when it was).
func scanPreamble(sock Socket) (Headers, []byte, error) {
	var beginLine string
	for {
		line, err := sock.ReadLine()
		if err != nil {
			return Headers{}, nil, err
		}
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "=ybegin ") {
			return Headers{}, nil, &MalformedError{Message: "expected =ybegin, got: " + line}
		}
		beginLine = line
		break
	}

	raw, err := sock.ReadRawLine()
	if err != nil {
		return Headers{}, nil, err
	}

	var firstChunk []byte
	var partLine string
	if strings.HasPrefix(string(raw), "=ypart ") {
		partLine = string(raw)
	} else {
		firstChunk = append(append([]byte{}, raw...), '\r', '\n')
	}

	h, err := ParseBegin(beginLine)
	if err != nil {
		return Headers{}, nil, err
	}
	if partLine != "" {
		if err := ParsePart(partLine, &h); err != nil {
			return Headers{}, nil, err
		}
	}

	return h, firstChunk, nil
}

// bodyReader drives the incremental decoder against the socket's raw byte
// channel and implements io.ReadCloser for the caller.
type bodyReader struct {
	sock Socket
	lock Lock

	state   DecoderState
	pending []byte // unconsumed input bytes, carried across ReadRaw calls
	scratch []byte // decode-output scratch buffer, reused across calls

	crc uint32

	outBuf []byte // decoded bytes not yet delivered to the caller
	done   bool
	err    error // terminal error, returned on every subsequent Read
}

func (r *bodyReader) Read(p []byte) (int, error) {
	for len(r.outBuf) == 0 {
		if r.err != nil {
			return 0, r.err
		}
		if r.done {
			return 0, io.EOF
		}
		if err := r.step(); err != nil {
			r.fail(err)
			return 0, err
		}
	}

	n := copy(p, r.outBuf)
	r.outBuf = r.outBuf[n:]
	return n, nil
}

// step performs one decode iteration: pull more raw bytes if needed, run
// the incremental decoder, fold output into the CRC, and handle any end
// marker it reports.
func (r *bodyReader) step() error {
	chunk := r.pending
	var pooled []byte
	if len(chunk) == 0 {
		pooled = internal.GetChunk()
		n, err := r.sock.ReadRaw(pooled)
		if err != nil {
			internal.PutChunk(pooled)
			return err
		}
		chunk = pooled[:n]
	}

	data, consumed, newState, marker := DecodeIncremental(chunk, r.state, r.scratch[:0])
	r.state = newState
	r.crc = crc32.Update(r.crc, crc32.IEEETable, data)
	r.outBuf = append(r.outBuf, data...)

	remainder := append([]byte{}, chunk[consumed:]...)
	if pooled != nil {
		internal.PutChunk(pooled)
	}

	switch marker {
	case EndNone:
		r.pending = remainder
		return nil
	case EndArticle:
		r.pending = nil
		r.done = true
		r.lock.Release()
		return nil
	case EndControl:
		return r.finishWithTrailer(remainder)
	}
	return nil
}

// finishWithTrailer parses the "=yend" control line out of remainder
// (reading further text lines from the socket if the line was split across
// a read boundary), checks its CRC if present, and drains the socket
// through the NNTP article terminator.
func (r *bodyReader) finishWithTrailer(remainder []byte) error {
	line, rest, err := takeLine(remainder, r.sock)
	if err != nil {
		return err
	}
	trailer, err := ParseEnd(line)
	if err != nil {
		return err
	}

	if want, ok := trailerCRC(trailer); ok {
		if want != r.crc {
			slog.Error("yenc: crc mismatch", "expected", want, "actual", r.crc)
			return &CrcMismatchError{Expected: want, Actual: r.crc}
		}
	}

	// The CRLF that ended the "=yend" line was consumed by takeLine; it is
	// also the leading CRLF of the "\r\n.\r\n" terminator, so feed it back.
	if err := drainTerminator(r.sock, append([]byte("\r\n"), rest...)); err != nil {
		return err
	}

	r.done = true
	r.lock.Release()
	return nil
}

// trailerCRC picks pcrc32 over crc32 when both are present, per spec §4.5.
func trailerCRC(t Trailer) (uint32, bool) {
	if t.PCRC32 != nil {
		return *t.PCRC32, true
	}
	if t.CRC32 != nil {
		return *t.CRC32, true
	}
	return 0, false
}

// takeLine returns the first CRLF-terminated line in buf (without its
// CRLF) and whatever followed it. If buf has no full line yet, it reads
// one via sock.ReadLine as a fallback for the rare case where a read
// boundary split the control line.
func takeLine(buf []byte, sock Socket) (line string, rest []byte, err error) {
	if idx := bytes.Index(buf, []byte("\r\n")); idx >= 0 {
		return string(buf[:idx]), buf[idx+2:], nil
	}
	l, err := sock.ReadLine()
	if err != nil {
		return "", nil, err
	}
	return string(buf) + l, nil, nil
}

// drainTerminator consumes bytes from already (leftover from the trailer
// line) and then the socket until the literal sequence "\r\n.\r\n" has been
// observed, per spec §4.5's note that the NNTP terminator may lag the yEnc
// trailer.
func drainTerminator(sock Socket, already []byte) error {
	const want = "\r\n.\r\n"
	matched := 0
	// already may not start at a CRLF boundary; scan it byte by byte same
	// as freshly read bytes.
	buf := make([]byte, 4096)
	feed := func(b byte) bool {
		if b == want[matched] {
			matched++
		} else if b == want[0] {
			matched = 1
		} else {
			matched = 0
		}
		return matched == len(want)
	}
	for _, b := range already {
		if feed(b) {
			return nil
		}
	}
	for {
		n, err := sock.ReadRaw(buf)
		if err != nil {
			return err
		}
		for _, b := range buf[:n] {
			if feed(b) {
				return nil
			}
		}
	}
}

func (r *bodyReader) fail(err error) {
	r.err = err
	r.lock.ReleaseAndReconnect()
}

// Close abandons the decode early: any bytes not yet delivered are
// discarded, and the connection is scheduled for reconnect (spec §4.5
// socket hand-off contract, case (b)).
func (r *bodyReader) Close() error {
	if r.done || r.err != nil {
		return nil
	}
	r.err = io.ErrClosedPipe
	r.outBuf = nil
	r.lock.ReleaseAndReconnect()
	return nil
}
