package protocol

import "github.com/lirix-data/firebirdsql/internal/wire"

// BlobSegment is one chunk of a BLOB's segmented byte stream, as carried by
// op_get_segment/op_put_segment.
type BlobSegment []byte

// EncodeOpenBlob builds the op_open_blob payload: transaction handle and
// blob id.
func EncodeOpenBlob(transHandle int32, id BlobID) []byte {
	var buf []byte
	buf = wire.PutInt32(buf, int32(wire.OpOpenBlob))
	buf = wire.PutInt32(buf, transHandle)
	buf = wire.PutUint32(buf, id[0])
	buf = wire.PutUint32(buf, id[1])
	return buf
}

// EncodeGetSegment builds an op_get_segment request asking for up to
// maxLength bytes of the next segment.
func EncodeGetSegment(blobHandle int32, maxLength int32) []byte {
	var buf []byte
	buf = wire.PutInt32(buf, int32(wire.OpGetSegment))
	buf = wire.PutInt32(buf, blobHandle)
	buf = wire.PutInt32(buf, maxLength)
	buf = wire.PutInt32(buf, 0) // reserved segment-control block, unused for stream blobs
	return buf
}

// EncodeCreateBlob builds an op_create_blob2 request that allocates a new
// BLOB under the given transaction.
func EncodeCreateBlob(transHandle int32) []byte {
	var buf []byte
	buf = wire.PutInt32(buf, int32(wire.OpCreateBlob2))
	buf = wire.PutInt32(buf, 0) // blob subtype/bpb, none for a plain stream blob
	buf = wire.PutInt32(buf, transHandle)
	buf = wire.PutUint32(buf, 0) // blob id placeholder, server-assigned
	buf = wire.PutUint32(buf, 0)
	return buf
}

// EncodePutSegment builds an op_put_segment request writing one segment.
func EncodePutSegment(blobHandle int32, data []byte) []byte {
	var buf []byte
	buf = wire.PutInt32(buf, int32(wire.OpPutSegment))
	buf = wire.PutInt32(buf, blobHandle)
	buf = wire.PutInt32(buf, int32(len(data)))
	buf = wire.PutOpaque(buf, data)
	return buf
}

// EncodeCloseBlob builds an op_close_blob request.
func EncodeCloseBlob(blobHandle int32) []byte {
	var buf []byte
	buf = wire.PutInt32(buf, int32(wire.OpCloseBlob))
	buf = wire.PutInt32(buf, blobHandle)
	return buf
}
