// Package internal holds support code shared by the yenc and nntpclient
// packages that has no business being part of either's public surface.
package internal

import "sync"

// bodyChunkSize is the fixed read size the yEnc body pipeline uses against
// a connection's raw byte channel.
const bodyChunkSize = 128 * 1024

var chunkPool = sync.Pool{
	New: func() any {
		buf := make([]byte, bodyChunkSize)
		return &buf
	},
}

// GetChunk returns a pooled 128 KiB buffer for reading a raw body chunk.
func GetChunk() []byte {
	return *(chunkPool.Get().(*[]byte))
}

// PutChunk returns buf to the pool. buf must have been obtained from
// GetChunk and not be retained by the caller afterward.
func PutChunk(buf []byte) {
	if cap(buf) != bodyChunkSize {
		return
	}
	buf = buf[:bodyChunkSize]
	chunkPool.Put(&buf)
}
