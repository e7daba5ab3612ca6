package wire

import (
	"compress/zlib"
	"io"
)

// newDeflateWriter builds the write side of the compression pipeline: one
// continuous zlib stream that Flush()es (Z_SYNC_FLUSH) at each packet
// boundary rather than starting a fresh stream per packet, matching
// Firebird's wire compression. dst receives compressed, still-unencrypted
// bytes — the caller is responsible for placing this inside the
// encryption layer so compression stays the inner stage of the pipeline.
func newDeflateWriter(dst io.Writer) *zlib.Writer {
	return zlib.NewWriter(dst)
}
