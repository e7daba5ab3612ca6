package firebirdsql

import (
	"context"

	"github.com/lirix-data/firebirdsql/internal/fberr"
	"github.com/lirix-data/firebirdsql/internal/protocol"
	"github.com/lirix-data/firebirdsql/internal/wire"
)

// Blob is an open handle to a BLOB's segmented byte stream, obtained from
// a Transaction to read or write the bytes behind a BlobID column value.
type Blob struct {
	conn   *Connection
	trans  *Transaction
	handle int32
	id     protocol.BlobID
	closed bool
}

// BlobID identifies a BLOB column's value on the wire; the actual bytes
// are fetched or written through a Blob opened against this id.
type BlobID = protocol.BlobID

// OpenBlob opens an existing BLOB for reading.
func (t *Transaction) OpenBlob(ctx context.Context, id BlobID) (*Blob, error) {
	buf := protocol.EncodeOpenBlob(t.handle, id)
	if err := t.conn.ch.Write(buf); err != nil {
		return nil, t.conn.poison(err)
	}
	if err := t.conn.ch.Flush(); err != nil {
		return nil, t.conn.poison(err)
	}
	handle, _, err := t.conn.readResponse()
	if err != nil {
		return nil, t.conn.poison(fberr.Wrap(fberr.Statement, err, "opening blob"))
	}
	return &Blob{conn: t.conn, trans: t, handle: handle, id: id}, nil
}

// CreateBlob allocates a new BLOB for writing. Its id is taken from the
// server's create response; it goes into a row image once the BLOB has
// been written and closed.
func (t *Transaction) CreateBlob(ctx context.Context) (*Blob, error) {
	buf := protocol.EncodeCreateBlob(t.handle)
	if err := t.conn.ch.Write(buf); err != nil {
		return nil, t.conn.poison(err)
	}
	if err := t.conn.ch.Flush(); err != nil {
		return nil, t.conn.poison(err)
	}
	handle, data, err := t.conn.readResponse()
	if err != nil {
		return nil, t.conn.poison(fberr.Wrap(fberr.Statement, err, "creating blob"))
	}
	var id BlobID
	if len(data) >= 8 {
		id = BlobID{wire.Uint32At(data), wire.Uint32At(data[4:])}
	}
	return &Blob{conn: t.conn, trans: t, handle: handle, id: id}, nil
}

// ReadAll streams every segment of the BLOB and returns the concatenated
// bytes.
func (b *Blob) ReadAll(ctx context.Context) ([]byte, error) {
	var out []byte
	for {
		segment, eof, err := b.readSegment()
		if err != nil {
			return nil, err
		}
		out = append(out, segment...)
		if eof {
			return out, nil
		}
	}
}

func (b *Blob) readSegment() (data []byte, eof bool, err error) {
	const maxSegment = 32 * 1024
	buf := protocol.EncodeGetSegment(b.handle, maxSegment)
	if err := b.conn.ch.Write(buf); err != nil {
		return nil, false, b.conn.poison(err)
	}
	if err := b.conn.ch.Flush(); err != nil {
		return nil, false, b.conn.poison(err)
	}

	opBytes, err := b.conn.ch.Read(4)
	if err != nil {
		return nil, false, b.conn.poison(err)
	}
	if wire.Op(wire.Int32At(opBytes)) != wire.OpResponse {
		return nil, false, fberr.New(fberr.Protocol, "expected op_response for get_segment")
	}

	statusBytes, err := b.conn.ch.Read(4)
	if err != nil {
		return nil, false, b.conn.poison(err)
	}
	status := wire.Int32At(statusBytes)

	if _, err := b.conn.ch.Read(8); err != nil {
		return nil, false, b.conn.poison(err)
	}

	lenBytes, err := b.conn.ch.Read(4)
	if err != nil {
		return nil, false, b.conn.poison(err)
	}
	n := int(wire.Uint32At(lenBytes))
	var payload []byte
	if n > 0 {
		payload, err = b.conn.ch.Read(wire.PaddedLen(n))
		if err != nil {
			return nil, false, b.conn.poison(err)
		}
		payload = payload[:n]
	}

	return payload, status == wire.FetchNoMore, nil
}

// Write streams data as a single segment. Call repeatedly for large
// payloads; Firebird does not require any particular segment size.
func (b *Blob) Write(ctx context.Context, data []byte) error {
	buf := protocol.EncodePutSegment(b.handle, data)
	if err := b.conn.ch.Write(buf); err != nil {
		return b.conn.poison(err)
	}
	if err := b.conn.ch.Flush(); err != nil {
		return b.conn.poison(err)
	}
	_, _, err := b.conn.readResponse()
	if err != nil {
		return b.conn.poison(fberr.Wrap(fberr.Statement, err, "writing blob segment"))
	}
	return nil
}

// ID returns the BLOB's wire identifier, for insertion into a row image
// once writing is complete.
func (b *Blob) ID() BlobID { return b.id }

// Close closes the BLOB handle.
func (b *Blob) Close(ctx context.Context) error {
	if b.closed {
		return nil
	}
	buf := protocol.EncodeCloseBlob(b.handle)
	if err := b.conn.ch.Write(buf); err != nil {
		return b.conn.poison(err)
	}
	if err := b.conn.ch.Flush(); err != nil {
		return b.conn.poison(err)
	}
	_, _, err := b.conn.readResponse()
	b.closed = true
	if err != nil {
		return b.conn.poison(err)
	}
	return nil
}
