package protocol

import (
	"errors"
	"math"
	"testing"

	"github.com/lirix-data/firebirdsql/internal/fberr"
)

func sampleShape() RowDescriptor {
	return RowDescriptor{
		{SQLType: SQLShort, Length: 2, Name: "SMALL"},
		{SQLType: SQLLong, Length: 4, Name: "INT"},
		{SQLType: SQLInt64, Length: 8, Name: "BIG"},
		{SQLType: SQLFloat, Length: 4, Name: "F"},
		{SQLType: SQLDouble, Length: 8, Name: "D"},
		{SQLType: SQLVarying, Length: 255, Name: "MSG", Nullable: true},
		{SQLType: SQLBoolean, Length: 1, Name: "FLAG"},
		{SQLType: SQLTypeDate, Length: 4, Name: "DAY"},
		{SQLType: SQLTypeTime, Length: 4, Name: "TICK"},
		{SQLType: SQLTimestamp, Length: 8, Name: "TS"},
		{SQLType: SQLBlob, Length: 8, Name: "PAYLOAD", Nullable: true},
		{SQLType: SQLInt64, Scale: -4, Length: 8, Name: "AMOUNT"},
	}
}

func TestRowImageRoundTrip(t *testing.T) {
	shape := sampleShape()
	row := []any{
		int16(100), int32(50000), int64(9999999999),
		float32(3.14), 2.71828,
		"Variable",
		true,
		int32(8780),        // days since epoch
		int32(522000000),   // 14:30:00 in 1/10000s ticks
		[2]int32{8780, 522000000},
		BlobID{7, 42},
		Decimal{Unscaled: 12345679, Scale: -4},
	}

	image, err := EncodeRow(shape, row)
	if err != nil {
		t.Fatal(err)
	}
	values, consumed, err := DecodeRow(shape, image)
	if err != nil {
		t.Fatal(err)
	}
	if consumed != len(image) {
		t.Fatalf("decoded %d of %d image bytes", consumed, len(image))
	}

	if values[0].(int32) != 100 || values[1].(int32) != 50000 {
		t.Errorf("integers: %v %v", values[0], values[1])
	}
	if values[2].(int64) != 9999999999 {
		t.Errorf("bigint: %v", values[2])
	}
	if math.Abs(float64(values[3].(float32))-3.14) > 1e-4 {
		t.Errorf("float: %v", values[3])
	}
	if math.Abs(values[4].(float64)-2.71828) > 1e-9 {
		t.Errorf("double: %v", values[4])
	}
	if values[5].(string) != "Variable" {
		t.Errorf("varchar: %v", values[5])
	}
	if values[6].(bool) != true {
		t.Errorf("bool: %v", values[6])
	}
	if values[7].(int32) != 8780 || values[8].(int32) != 522000000 {
		t.Errorf("date/time: %v %v", values[7], values[8])
	}
	if ts := values[9].([2]int32); ts != [2]int32{8780, 522000000} {
		t.Errorf("timestamp: %v", ts)
	}
	if id := values[10].(BlobID); id != (BlobID{7, 42}) {
		t.Errorf("blob id: %v", id)
	}
	if d := values[11].(Decimal); d != (Decimal{Unscaled: 12345679, Scale: -4}) {
		t.Errorf("decimal: %v", d)
	}
}

func TestEncodeRowNulls(t *testing.T) {
	shape := RowDescriptor{
		{SQLType: SQLLong, Length: 4, Name: "ID"},
		{SQLType: SQLVarying, Length: 20, Name: "MSG", Nullable: true},
	}
	image, err := EncodeRow(shape, []any{int32(1), nil})
	if err != nil {
		t.Fatal(err)
	}
	values, _, err := DecodeRow(shape, image)
	if err != nil {
		t.Fatal(err)
	}
	if values[1] != nil {
		t.Fatalf("expected nil, got %v", values[1])
	}

	// A nil for a NOT NULL column is a binding error, not a wire problem.
	if _, err := EncodeRow(shape, []any{nil, "x"}); !isTypeMismatch(err) {
		t.Fatalf("expected TypeMismatch, got %v", err)
	}
}

func TestEncodeRowArity(t *testing.T) {
	shape := RowDescriptor{{SQLType: SQLLong, Length: 4, Name: "ID"}}
	if _, err := EncodeRow(shape, nil); !isTypeMismatch(err) {
		t.Fatalf("missing parameter: %v", err)
	}
	if _, err := EncodeRow(shape, []any{int32(1), int32(2)}); !isTypeMismatch(err) {
		t.Fatalf("extra parameter: %v", err)
	}
}

func TestEncodeRowCoercion(t *testing.T) {
	shape := RowDescriptor{{SQLType: SQLLong, Length: 4, Name: "ID"}}

	// Plain ints coerce into integer slots.
	if _, err := EncodeRow(shape, []any{7}); err != nil {
		t.Fatalf("int should coerce: %v", err)
	}
	// Strings do not.
	if _, err := EncodeRow(shape, []any{"7"}); !isTypeMismatch(err) {
		t.Fatalf("expected TypeMismatch for string into INTEGER, got %v", err)
	}
}

func TestDecodeRowTruncated(t *testing.T) {
	shape := RowDescriptor{{SQLType: SQLInt64, Length: 8, Name: "BIG"}}
	image, err := EncodeRow(shape, []any{int64(1)})
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := DecodeRow(shape, image[:3]); err == nil {
		t.Fatal("expected an error for a truncated image")
	}
}

func isTypeMismatch(err error) bool {
	var fe *fberr.Error
	return errors.As(err, &fe) && fe.Kind == fberr.TypeMismatch
}
