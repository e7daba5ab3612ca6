package auth

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"math/big"
	"testing"
)

// Play the server's half of SRP-6a and check both sides land on the same
// session key — the property wire-crypt keying depends on.
func TestSRPSessionKeyAgreement(t *testing.T) {
	for _, plugin := range []string{"Srp", "Srp256"} {
		t.Run(plugin, func(t *testing.T) {
			const user, password = "SYSDBA", "masterkey"

			client, err := NewClient(plugin)
			if err != nil {
				t.Fatal(err)
			}

			salt := make([]byte, 32)
			if _, err := rand.Read(salt); err != nil {
				t.Fatal(err)
			}

			// Server side: verifier v = g^x, ephemeral B = k*v + g^b.
			server := &Client{kind: client.kind}
			x := server.derivePrivateKey(user, password, salt)
			v := new(big.Int).Exp(srpG, x, srpN)
			b, err := rand.Int(rand.Reader, srpN)
			if err != nil {
				t.Fatal(err)
			}
			B := new(big.Int).Mul(srpK, v)
			B.Add(B, new(big.Int).Exp(srpG, b, srpN))
			B.Mod(B, srpN)

			if err := client.ComputeProof(user, password, salt, B.Bytes()); err != nil {
				t.Fatal(err)
			}

			// Server derives its copy: S = (A * v^u)^b mod N.
			A, ok := new(big.Int).SetString(client.PublicKey(), 16)
			if !ok {
				t.Fatal("client public key is not hex")
			}
			u := server.scramble(A, B)
			S := new(big.Int).Exp(v, u, srpN)
			S.Mul(S, A)
			S.Mod(S, srpN)
			S.Exp(S, b, srpN)

			h := newHash(client.kind)
			h.Write(padBytes(S))
			serverKey := h.Sum(nil)

			if !bytes.Equal(client.SessionKey(), serverKey) {
				t.Fatal("client and server derived different session keys")
			}
			if len(client.Proof()) == 0 {
				t.Fatal("client proof is empty")
			}
		})
	}
}

func TestSRPRejectsZeroB(t *testing.T) {
	client, err := NewClient("Srp256")
	if err != nil {
		t.Fatal(err)
	}
	if err := client.ComputeProof("SYSDBA", "masterkey", []byte{1, 2}, srpN.Bytes()); err == nil {
		t.Fatal("B ≡ 0 mod N must be rejected")
	}
}

func TestPublicKeyFixedWidth(t *testing.T) {
	want := (srpN.BitLen() + 7) / 8 * 2
	for i := 0; i < 5; i++ {
		client, err := NewClient("Srp")
		if err != nil {
			t.Fatal(err)
		}
		if got := len(client.PublicKey()); got != want {
			t.Fatalf("public key hex width %d, want %d", got, want)
		}
	}
}

func TestNewClientUnknownPlugin(t *testing.T) {
	if _, err := NewClient("Win_Sspi"); err == nil {
		t.Fatal("expected an error for a non-SRP plugin")
	}
}

func TestSplitSaltAndB(t *testing.T) {
	salt := []byte{0xde, 0xad, 0xbe, 0xef}
	serverB := []byte{0x01, 0x02, 0xff}
	bHex := hex.EncodeToString(serverB)

	var data []byte
	data = binary.LittleEndian.AppendUint16(data, uint16(len(salt)))
	data = append(data, salt...)
	data = binary.LittleEndian.AppendUint16(data, uint16(len(bHex)))
	data = append(data, bHex...)

	gotSalt, gotB, err := splitSaltAndB(data)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(gotSalt, salt) {
		t.Errorf("salt: % x", gotSalt)
	}
	if !bytes.Equal(gotB, serverB) {
		t.Errorf("B: % x", gotB)
	}

	for _, bad := range [][]byte{nil, {5, 0, 1, 2}, data[:len(data)-2]} {
		if _, _, err := splitSaltAndB(bad); err == nil {
			t.Errorf("expected an error for % x", bad)
		}
	}
}
