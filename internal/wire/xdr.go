package wire

import "encoding/binary"

// PutInt32 appends a big-endian signed 32-bit integer to dst.
func PutInt32(dst []byte, v int32) []byte {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], uint32(v))
	return append(dst, buf[:]...)
}

// PutUint32 appends a big-endian unsigned 32-bit integer to dst.
func PutUint32(dst []byte, v uint32) []byte {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], v)
	return append(dst, buf[:]...)
}

// PutInt64 appends a big-endian signed 64-bit integer to dst.
func PutInt64(dst []byte, v int64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(v))
	return append(dst, buf[:]...)
}

// padLen returns the number of zero bytes needed to round n up to a
// multiple of 4, matching XDR's opaque/string padding rule.
func padLen(n int) int {
	if r := n % 4; r != 0 {
		return 4 - r
	}
	return 0
}

// PutOpaque appends a length-prefixed, zero-padded-to-4-bytes blob, the
// wire representation Firebird uses for both raw byte buffers and UTF-8
// strings.
func PutOpaque(dst []byte, data []byte) []byte {
	dst = PutUint32(dst, uint32(len(data)))
	dst = append(dst, data...)
	return append(dst, make([]byte, padLen(len(data)))...)
}

// PutString is PutOpaque over a string's bytes.
func PutString(dst []byte, s string) []byte {
	return PutOpaque(dst, []byte(s))
}

// Int32At reads a big-endian signed 32-bit integer at the start of b.
func Int32At(b []byte) int32 {
	return int32(binary.BigEndian.Uint32(b))
}

// Uint32At reads a big-endian unsigned 32-bit integer at the start of b.
func Uint32At(b []byte) uint32 {
	return binary.BigEndian.Uint32(b)
}

// Int64At reads a big-endian signed 64-bit integer at the start of b.
func Int64At(b []byte) int64 {
	return int64(binary.BigEndian.Uint64(b))
}

// PaddedLen returns n rounded up to the next multiple of 4 — the number of
// wire bytes an n-byte opaque/string payload occupies after its 4-byte
// length prefix.
func PaddedLen(n int) int {
	return n + padLen(n)
}
