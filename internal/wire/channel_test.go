package wire

import (
	"bytes"
	"math/rand"
	"net"
	"testing"
)

func pipePair(t *testing.T) (*Channel, *Channel) {
	t.Helper()
	a, b := net.Pipe()
	t.Cleanup(func() {
		a.Close()
		b.Close()
	})
	return newChannel(a), newChannel(b)
}

func testPayloads() [][]byte {
	rng := rand.New(rand.NewSource(42))
	sizes := []int{1, 3, 4, 17, 1024, 70 * 1024}
	payloads := make([][]byte, 0, len(sizes))
	for _, n := range sizes {
		buf := make([]byte, n)
		rng.Read(buf)
		payloads = append(payloads, buf)
	}
	return payloads
}

func TestChannelRoundTrip(t *testing.T) {
	cases := []struct {
		name  string
		setup func(t *testing.T, sender, receiver *Channel)
	}{
		{"plain", func(t *testing.T, _, _ *Channel) {}},
		{"arc4", func(t *testing.T, sender, receiver *Channel) {
			key := []byte("0123456789abcdef")
			if err := sender.SetCryptKey("Arc4", key, nil); err != nil {
				t.Fatal(err)
			}
			if err := receiver.SetCryptKey("Arc4", key, nil); err != nil {
				t.Fatal(err)
			}
		}},
		{"chacha", func(t *testing.T, sender, receiver *Channel) {
			key := []byte("session-key-material")
			nonce := []byte{1, 2, 3, 4, 5, 6, 7, 8}
			if err := sender.SetCryptKey("ChaCha", key, nonce); err != nil {
				t.Fatal(err)
			}
			if err := receiver.SetCryptKey("ChaCha", key, nonce); err != nil {
				t.Fatal(err)
			}
		}},
		{"compressed", func(t *testing.T, sender, receiver *Channel) {
			sender.EnableCompression()
			receiver.EnableCompression()
		}},
		{"chacha_compressed", func(t *testing.T, sender, receiver *Channel) {
			key := []byte("session-key-material")
			nonce := []byte{1, 2, 3, 4, 5, 6, 7, 8}
			if err := sender.SetCryptKey("ChaCha64", key, nonce); err != nil {
				t.Fatal(err)
			}
			if err := receiver.SetCryptKey("ChaCha64", key, nonce); err != nil {
				t.Fatal(err)
			}
			sender.EnableCompression()
			receiver.EnableCompression()
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sender, receiver := pipePair(t)
			tc.setup(t, sender, receiver)

			payloads := testPayloads()
			errCh := make(chan error, 1)
			go func() {
				for _, p := range payloads {
					if err := sender.Write(p); err != nil {
						errCh <- err
						return
					}
					if err := sender.Flush(); err != nil {
						errCh <- err
						return
					}
				}
				errCh <- nil
			}()

			for i, want := range payloads {
				got, err := receiver.Read(len(want))
				if err != nil {
					t.Fatalf("payload %d: read: %v", i, err)
				}
				if !bytes.Equal(got, want) {
					t.Fatalf("payload %d: %d bytes corrupted in transit", i, len(want))
				}
			}
			if err := <-errCh; err != nil {
				t.Fatalf("write side: %v", err)
			}
		})
	}
}

// A compressed channel must keep one deflate stream per direction across
// packets: each flush is a sync point, not a stream reset, so reads that
// split and merge packet boundaries still decode.
func TestChannelCompressionStreamContinuity(t *testing.T) {
	sender, receiver := pipePair(t)
	sender.EnableCompression()
	receiver.EnableCompression()

	go func() {
		for i := 0; i < 50; i++ {
			msg := bytes.Repeat([]byte{byte(i)}, 100)
			if sender.Write(msg) != nil {
				return
			}
			if sender.Flush() != nil {
				return
			}
		}
	}()

	// Read the 5000 bytes in chunk sizes that never line up with the
	// 100-byte packets the sender flushed.
	var got []byte
	for len(got) < 5000 {
		n := 333
		if rem := 5000 - len(got); rem < n {
			n = rem
		}
		chunk, err := receiver.Read(n)
		if err != nil {
			t.Fatalf("read at offset %d: %v", len(got), err)
		}
		got = append(got, chunk...)
	}
	for i := 0; i < 50; i++ {
		if got[i*100] != byte(i) || got[i*100+99] != byte(i) {
			t.Fatalf("packet %d corrupted", i)
		}
	}
}

func TestChannelReadEOF(t *testing.T) {
	a, b := net.Pipe()
	ch := newChannel(a)

	go func() {
		b.Write([]byte{1, 2})
		b.Close()
	}()

	if _, err := ch.Read(4); err == nil {
		t.Fatal("expected an error reading past a closed peer")
	}
}

func TestSetCryptKeyUnknownPlugin(t *testing.T) {
	ch, _ := pipePair(t)
	if err := ch.SetCryptKey("Rot13", []byte("k"), nil); err == nil {
		t.Fatal("expected an error for an unsupported plugin")
	}
}
