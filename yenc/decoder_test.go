package yenc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// encodeLine yEnc-encodes plain into a single control-line-free data line,
// escaping bytes that would otherwise collide with NUL, LF, CR or '='.
func encodeLine(plain []byte) []byte {
	var out []byte
	for _, b := range plain {
		enc := byte(b + 42)
		if enc == 0x00 || enc == 0x0A || enc == 0x0D || enc == 0x3D {
			out = append(out, '=', byte(enc+64))
		} else {
			out = append(out, enc)
		}
	}
	return out
}

func TestDecodeIncrementalPlainLine(t *testing.T) {
	plain := []byte("hello")
	chunk := append(encodeLine(plain), '\r', '\n', '.', '\r', '\n')

	data, consumed, _, marker := DecodeIncremental(chunk, NewDecoderState(), nil)
	require.Equal(t, plain, data)
	require.Equal(t, len(chunk), consumed)
	require.Equal(t, EndArticle, marker)
}

func TestDecodeIncrementalEscapedByte(t *testing.T) {
	// 0x00 needs 42 added -> 0x2A ('*'), not a collision, so force a
	// collision by picking a source byte that lands on '=' (0x3D) after
	// the +42 shift: 0x3D - 42 = 0x13.
	src := byte(0x3D - 42)
	chunk := append(encodeLine([]byte{src}), '\r', '\n', '.', '\r', '\n')

	data, _, _, marker := DecodeIncremental(chunk, NewDecoderState(), nil)
	require.Equal(t, []byte{src}, data)
	require.Equal(t, EndArticle, marker)
}

func TestDecodeIncrementalControlLineStopsBeforeIt(t *testing.T) {
	plain := []byte("ab")
	chunk := append(encodeLine(plain), '\r', '\n')
	chunk = append(chunk, []byte("=yend size=2 crc32=deadbeef\r\n")...)

	data, consumed, _, marker := DecodeIncremental(chunk, NewDecoderState(), nil)
	require.Equal(t, plain, data)
	require.Equal(t, EndControl, marker)
	require.Equal(t, []byte("=yend size=2 crc32=deadbeef\r\n"), chunk[consumed:])
}

func TestDecodeIncrementalSplitAcrossCalls(t *testing.T) {
	plain := []byte("hello world")
	full := append(encodeLine(plain), '\r', '\n', '.', '\r', '\n')

	state := NewDecoderState()
	var got []byte
	i := 0
	for i < len(full) {
		end := i + 3
		if end > len(full) {
			end = len(full)
		}
		data, consumed, newState, marker := DecodeIncremental(full[i:end], state, nil)
		got = append(got, data...)
		state = newState
		i += consumed
		if marker == EndArticle {
			break
		}
		if consumed == 0 {
			// need more bytes before progress can be made
			i = end
		}
	}
	require.Equal(t, plain, got)
}

func TestDecodeIncrementalNeedsMoreDataForPrefix(t *testing.T) {
	// "=y" at a line start could be the start of "=yend "; with no further
	// bytes the decoder must wait rather than guess.
	chunk := []byte("=y")
	_, consumed, _, marker := DecodeIncremental(chunk, NewDecoderState(), nil)
	require.Equal(t, 0, consumed)
	require.Equal(t, EndNone, marker)
}

func TestDecodeIncrementalDotAtLineStartIsData(t *testing.T) {
	// A line starting with "." but longer than the terminator is decoded
	// as data, not mistaken for the terminator.
	plain := []byte("x")
	line := encodeLine(plain)
	// craft a line whose first encoded byte happens to be '.' (0x2E):
	// plain byte p encodes to p+42; choose p so the first char is '.'.
	// Simpler: prepend a literal raw encoded '.' isn't guaranteed, so
	// instead verify the decoder doesn't stop on a "." followed by
	// non-CRLF bytes regardless of where it came from.
	chunk := append([]byte{'.'}, append(line, '\r', '\n', '.', '\r', '\n')...)
	data, consumed, _, marker := DecodeIncremental(chunk, NewDecoderState(), nil)
	require.Equal(t, EndArticle, marker)
	require.Equal(t, len(chunk), consumed)
	require.Equal(t, append([]byte{'.' - 42}, plain...), data)
}
