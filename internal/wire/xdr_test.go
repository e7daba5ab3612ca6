package wire

import (
	"bytes"
	"testing"
)

func TestPutOpaquePadding(t *testing.T) {
	cases := []struct {
		data     []byte
		wireLen  int // bytes after the 4-byte length prefix
	}{
		{nil, 0},
		{[]byte{1}, 4},
		{[]byte{1, 2, 3}, 4},
		{[]byte{1, 2, 3, 4}, 4},
		{[]byte{1, 2, 3, 4, 5}, 8},
	}
	for _, tc := range cases {
		buf := PutOpaque(nil, tc.data)
		if len(buf) != 4+tc.wireLen {
			t.Errorf("PutOpaque(%d bytes): wire length %d, want %d", len(tc.data), len(buf)-4, tc.wireLen)
		}
		if got := int(Uint32At(buf)); got != len(tc.data) {
			t.Errorf("PutOpaque(%d bytes): length prefix %d", len(tc.data), got)
		}
		if PaddedLen(len(tc.data)) != tc.wireLen {
			t.Errorf("PaddedLen(%d) = %d, want %d", len(tc.data), PaddedLen(len(tc.data)), tc.wireLen)
		}
		for _, pad := range buf[4+len(tc.data):] {
			if pad != 0 {
				t.Errorf("PutOpaque(%d bytes): nonzero padding", len(tc.data))
			}
		}
	}
}

func TestIntRoundTrips(t *testing.T) {
	for _, v := range []int32{0, 1, -1, 1<<31 - 1, -1 << 31, 3050} {
		if got := Int32At(PutInt32(nil, v)); got != v {
			t.Errorf("int32 %d round-tripped to %d", v, got)
		}
	}
	for _, v := range []int64{0, -1, 9999999999, 1<<63 - 1} {
		if got := Int64At(PutInt64(nil, v)); got != v {
			t.Errorf("int64 %d round-tripped to %d", v, got)
		}
	}
	// The wire is big-endian: most significant byte first.
	if buf := PutUint32(nil, 0x01020304); !bytes.Equal(buf, []byte{1, 2, 3, 4}) {
		t.Errorf("PutUint32 not big-endian: % x", buf)
	}
}

func TestPutStringAppends(t *testing.T) {
	buf := PutInt32(nil, 7)
	buf = PutString(buf, "demo.fdb")
	if int(Int32At(buf)) != 7 {
		t.Fatal("PutString clobbered earlier bytes")
	}
	if got := string(buf[8 : 8+8]); got != "demo.fdb" {
		t.Fatalf("payload %q", got)
	}
}
