package protocol

import (
	"fmt"
	"math"

	"github.com/lirix-data/firebirdsql/internal/fberr"
	"github.com/lirix-data/firebirdsql/internal/wire"
)

// SQL type codes as carried in an XSQLVAR's sqltype field. These are the
// values Firebird's ibase.h defines; the low bit of sqltype flags
// nullability on older protocol versions. The codec masks that bit off
// (SQLType &^ 1) and relies on the explicit null indicator this client
// always reads/writes.
const (
	SQLText      = 452
	SQLVarying   = 448
	SQLShort     = 500
	SQLLong      = 496
	SQLFloat     = 482
	SQLDouble    = 480
	SQLTimestamp = 510
	SQLBlob      = 520
	SQLTypeTime  = 560
	SQLTypeDate  = 570
	SQLInt64     = 580
	SQLBoolean   = 32764
	SQLNull      = 32766
)

// ColumnDesc describes one XSQLVAR: the shape of a single input or output
// column, as produced by the server's describe response after prepare.
type ColumnDesc struct {
	SQLType   int16
	SubType   int16
	Scale     int16
	Length    int16
	Nullable  bool
	Name      string
	Relation  string
	Alias     string
}

// RowDescriptor is the ordered column shape of a parameter list or result
// row — field count equals len(RowDescriptor).
type RowDescriptor []ColumnDesc

// EncodeRow packs values into an XSQLDA row image: a 4-byte null indicator
// per column followed by the column's transmission-form value, in
// descriptor order. len(values) must equal len(desc); a value that cannot
// be coerced to its slot's declared type fails with a TypeMismatch error.
func EncodeRow(desc RowDescriptor, values []any) ([]byte, error) {
	if len(values) != len(desc) {
		return nil, fberr.New(fberr.TypeMismatch, "parameter count %d does not match input shape %d", len(values), len(desc))
	}

	var buf []byte
	for i, col := range desc {
		v := values[i]
		if v == nil {
			if !col.Nullable {
				return nil, fberr.New(fberr.TypeMismatch, "column %q is not nullable", col.Name)
			}
			buf = wire.PutInt32(buf, -1)
			buf = append(buf, zeroPayload(col)...)
			continue
		}

		buf = wire.PutInt32(buf, 0)
		payload, err := encodeValue(col, v)
		if err != nil {
			return nil, err
		}
		buf = append(buf, payload...)
	}
	return buf, nil
}

func zeroPayload(col ColumnDesc) []byte {
	switch col.SQLType &^ 1 {
	case SQLText, SQLVarying:
		return wire.PutOpaque(nil, nil)
	case SQLShort, SQLLong, SQLTypeDate, SQLTypeTime, SQLFloat, SQLBoolean:
		return make([]byte, 4)
	case SQLInt64, SQLDouble, SQLTimestamp:
		return make([]byte, 8)
	case SQLBlob:
		return make([]byte, 8)
	default:
		return make([]byte, 4)
	}
}

func encodeValue(col ColumnDesc, v any) ([]byte, error) {
	switch col.SQLType &^ 1 {
	case SQLText, SQLVarying:
		s, ok := v.(string)
		if !ok {
			return nil, fberr.New(fberr.TypeMismatch, "column %q expects string, got %T", col.Name, v)
		}
		return wire.PutOpaque(nil, []byte(s)), nil

	case SQLShort, SQLLong:
		if col.Scale != 0 {
			n, err := scaledTransmission(col, v)
			if err != nil {
				return nil, err
			}
			return wire.PutInt32(nil, int32(n)), nil
		}
		n, ok := asInt64(v)
		if !ok {
			return nil, fberr.New(fberr.TypeMismatch, "column %q expects integer, got %T", col.Name, v)
		}
		return wire.PutInt32(nil, int32(n)), nil

	case SQLInt64:
		if col.Scale != 0 {
			n, err := scaledTransmission(col, v)
			if err != nil {
				return nil, err
			}
			return wire.PutInt64(nil, n), nil
		}
		n, ok := asInt64(v)
		if !ok {
			return nil, fberr.New(fberr.TypeMismatch, "column %q expects integer, got %T", col.Name, v)
		}
		return wire.PutInt64(nil, n), nil

	case SQLFloat:
		f, ok := asFloat64(v)
		if !ok {
			return nil, fberr.New(fberr.TypeMismatch, "column %q expects float, got %T", col.Name, v)
		}
		return wire.PutUint32(nil, math.Float32bits(float32(f))), nil

	case SQLDouble:
		f, ok := asFloat64(v)
		if !ok {
			return nil, fberr.New(fberr.TypeMismatch, "column %q expects float, got %T", col.Name, v)
		}
		var buf [8]byte
		bits := math.Float64bits(f)
		buf[0], buf[1], buf[2], buf[3] = byte(bits>>56), byte(bits>>48), byte(bits>>40), byte(bits>>32)
		buf[4], buf[5], buf[6], buf[7] = byte(bits>>24), byte(bits>>16), byte(bits>>8), byte(bits)
		return buf[:], nil

	case SQLBoolean:
		b, ok := v.(bool)
		if !ok {
			return nil, fberr.New(fberr.TypeMismatch, "column %q expects bool, got %T", col.Name, v)
		}
		out := make([]byte, 4)
		if b {
			out[0] = 1
		}
		return out, nil

	case SQLTypeDate:
		days, ok := v.(int32)
		if !ok {
			return nil, fberr.New(fberr.TypeMismatch, "column %q expects encoded date (int32 days), got %T", col.Name, v)
		}
		return wire.PutInt32(nil, days), nil

	case SQLTypeTime:
		ticks, ok := v.(int32)
		if !ok {
			return nil, fberr.New(fberr.TypeMismatch, "column %q expects encoded time (int32 ticks), got %T", col.Name, v)
		}
		return wire.PutInt32(nil, ticks), nil

	case SQLTimestamp:
		ts, ok := v.([2]int32)
		if !ok {
			return nil, fberr.New(fberr.TypeMismatch, "column %q expects encoded timestamp ([2]int32{date,time}), got %T", col.Name, v)
		}
		buf := wire.PutInt32(nil, ts[0])
		return wire.PutInt32(buf, ts[1]), nil

	case SQLBlob:
		id, ok := v.(BlobID)
		if !ok {
			return nil, fberr.New(fberr.TypeMismatch, "column %q expects a BlobID, got %T", col.Name, v)
		}
		buf := wire.PutUint32(nil, id[0])
		return wire.PutUint32(buf, id[1]), nil

	default:
		return nil, fberr.New(fberr.TypeMismatch, "column %q has unsupported SQL type %d", col.Name, col.SQLType)
	}
}

// scaledTransmission coerces v to the unscaled integer a NUMERIC/DECIMAL
// column transmits: a Decimal is rescaled to the column's scale, a plain
// integer is taken as a whole-number value and scaled up.
func scaledTransmission(col ColumnDesc, v any) (int64, error) {
	switch d := v.(type) {
	case Decimal:
		n, err := d.Rescale(col.Scale)
		if err != nil {
			return 0, fberr.Wrap(fberr.TypeMismatch, err, "column %q", col.Name)
		}
		return n, nil
	default:
		n, ok := asInt64(v)
		if !ok {
			return 0, fberr.New(fberr.TypeMismatch, "column %q expects a Decimal or integer, got %T", col.Name, v)
		}
		scaled, err := Decimal{Unscaled: n}.Rescale(col.Scale)
		if err != nil {
			return 0, fberr.Wrap(fberr.TypeMismatch, err, "column %q", col.Name)
		}
		return scaled, nil
	}
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	default:
		return 0, false
	}
}

func asFloat64(v any) (float64, bool) {
	switch f := v.(type) {
	case float32:
		return float64(f), true
	case float64:
		return f, true
	default:
		return 0, false
	}
}

// BlobID is the 8-byte handle the server returns for BLOB columns; the
// actual bytes are fetched separately via op_open_blob/op_get_segment.
type BlobID [2]uint32

// DecodeRow reads one XSQLDA row image off buf and returns the decoded
// values in descriptor order plus the number of bytes consumed.
func DecodeRow(desc RowDescriptor, buf []byte) ([]any, int, error) {
	values := make([]any, len(desc))
	pos := 0
	for i, col := range desc {
		if pos+4 > len(buf) {
			return nil, 0, fmt.Errorf("protocol: truncated row image at column %q", col.Name)
		}
		null := wire.Int32At(buf[pos:]) != 0
		pos += 4

		if null {
			values[i] = nil
			pos += len(zeroPayload(col))
			continue
		}

		v, n, err := decodeValue(col, buf[pos:])
		if err != nil {
			return nil, 0, err
		}
		values[i] = v
		pos += n
	}
	return values, pos, nil
}

func decodeValue(col ColumnDesc, buf []byte) (any, int, error) {
	need := func(n int) error {
		if len(buf) < n {
			return fmt.Errorf("protocol: truncated value for column %q", col.Name)
		}
		return nil
	}

	switch col.SQLType &^ 1 {
	case SQLText, SQLVarying:
		if err := need(4); err != nil {
			return nil, 0, err
		}
		n := int(wire.Uint32At(buf))
		total := 4 + wire.PaddedLen(n)
		if total > len(buf) {
			return nil, 0, fmt.Errorf("protocol: truncated string for column %q", col.Name)
		}
		return string(buf[4 : 4+n]), total, nil

	case SQLShort, SQLLong:
		if err := need(4); err != nil {
			return nil, 0, err
		}
		if col.Scale != 0 {
			return Decimal{Unscaled: int64(wire.Int32At(buf)), Scale: col.Scale}, 4, nil
		}
		return wire.Int32At(buf), 4, nil

	case SQLInt64:
		if err := need(8); err != nil {
			return nil, 0, err
		}
		if col.Scale != 0 {
			return Decimal{Unscaled: wire.Int64At(buf), Scale: col.Scale}, 8, nil
		}
		return wire.Int64At(buf), 8, nil

	case SQLFloat:
		if err := need(4); err != nil {
			return nil, 0, err
		}
		return math.Float32frombits(wire.Uint32At(buf)), 4, nil

	case SQLDouble:
		if err := need(8); err != nil {
			return nil, 0, err
		}
		bits := uint64(wire.Uint32At(buf))<<32 | uint64(wire.Uint32At(buf[4:]))
		return math.Float64frombits(bits), 8, nil

	case SQLBoolean:
		if err := need(4); err != nil {
			return nil, 0, err
		}
		return buf[0] != 0, 4, nil

	case SQLTypeDate:
		if err := need(4); err != nil {
			return nil, 0, err
		}
		return wire.Int32At(buf), 4, nil

	case SQLTypeTime:
		if err := need(4); err != nil {
			return nil, 0, err
		}
		return wire.Int32At(buf), 4, nil

	case SQLTimestamp:
		if err := need(8); err != nil {
			return nil, 0, err
		}
		return [2]int32{wire.Int32At(buf), wire.Int32At(buf[4:])}, 8, nil

	case SQLBlob:
		if err := need(8); err != nil {
			return nil, 0, err
		}
		return BlobID{wire.Uint32At(buf), wire.Uint32At(buf[4:])}, 8, nil

	default:
		return nil, 0, fmt.Errorf("protocol: unsupported SQL type %d for column %q", col.SQLType, col.Name)
	}
}
