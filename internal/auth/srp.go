// Package auth drives the Firebird connection handshake: protocol
// negotiation, SRP zero-knowledge password proof (and the legacy plaintext
// fallback), and wire-crypt key installation.
package auth

import (
	"crypto/rand"
	"crypto/sha1"
	"crypto/sha256"
	"fmt"
	"hash"
	"math/big"
	"strings"
)

// Firebird's SRP group: a 1024-bit safe prime and generator, fixed by the
// server-side Srp/Srp256 plugins. Every client speaking either plugin uses
// this exact group — there is no negotiation.
var (
	srpN, _ = new(big.Int).SetString(
		"E67D2E994B2F900C3F41F08F5BB2627ED0D49EE1FE767A52EFCD565CD6E76881"+
			"2C3E1E9CE8F0A8BEA6CB13CD29DDEBF7A96D4A93B55D488DF099A15C89DCB064"+
			"0738EB2CBDD9A8F7BAB561AB1B0DC1C6CDABF303264A08D1BCA932D1F1EE428B"+
			"619D970F342ABA9A65793B8B2F041AE5364350C16F735F56ECBCA87BD57B29E7", 16)
	srpG = big.NewInt(2)
	srpK = big.NewInt(3)
)

// HashKind selects the digest the Srp/Srp256 plugin uses throughout the
// handshake, including session key derivation.
type HashKind int

const (
	HashSHA1 HashKind = iota
	HashSHA256
)

func newHash(kind HashKind) hash.Hash {
	if kind == HashSHA256 {
		return sha256.New()
	}
	return sha1.New()
}

// Client runs one side of an SRP exchange for a single authentication
// attempt. It is single-use — build a fresh Client per connection attempt.
type Client struct {
	kind HashKind
	a    *big.Int // client private ephemeral
	pubA *big.Int // client public ephemeral, A = g^a mod N

	sessionKey []byte
	proof      []byte
}

// NewClient generates the client's ephemeral keypair. plugin must be "Srp"
// (SHA-1) or "Srp256" (SHA-256).
func NewClient(plugin string) (*Client, error) {
	var kind HashKind
	switch plugin {
	case "Srp":
		kind = HashSHA1
	case "Srp256":
		kind = HashSHA256
	default:
		return nil, fmt.Errorf("auth: unsupported SRP plugin %q", plugin)
	}

	a, err := rand.Int(rand.Reader, srpN)
	if err != nil {
		return nil, fmt.Errorf("auth: generating SRP ephemeral: %w", err)
	}
	if a.Sign() == 0 {
		a = big.NewInt(1)
	}
	pubA := new(big.Int).Exp(srpG, a, srpN)

	return &Client{kind: kind, a: a, pubA: pubA}, nil
}

// PublicKey returns A = g^a mod N, hex-encoded to the wire's fixed width —
// the value sent to the server as CNCT_specific_data.
func (c *Client) PublicKey() string {
	return padHex(c.pubA)
}

// ComputeProof derives the session key and client proof from the server's
// challenge (salt and public ephemeral B) and the account's credentials.
// It must be called exactly once per Client.
func (c *Client) ComputeProof(user, password string, salt, serverPubB []byte) error {
	B := new(big.Int).SetBytes(serverPubB)
	if new(big.Int).Mod(B, srpN).Sign() == 0 {
		return fmt.Errorf("auth: server public ephemeral B is a multiple of N")
	}

	u := c.scramble(c.pubA, B)
	x := c.derivePrivateKey(user, password, salt)

	// S = (B - k*g^x)^(a + u*x) mod N
	gx := new(big.Int).Exp(srpG, x, srpN)
	kgx := new(big.Int).Mul(srpK, gx)
	base := new(big.Int).Sub(B, kgx)
	base.Mod(base, srpN)

	exp := new(big.Int).Mul(u, x)
	exp.Add(exp, c.a)

	S := new(big.Int).Exp(base, exp, srpN)

	h := newHash(c.kind)
	h.Write(padBytes(S))
	c.sessionKey = h.Sum(nil)

	h = newHash(c.kind)
	h.Write(padBytes(c.pubA))
	h.Write(B.Bytes())
	h.Write(c.sessionKey)
	c.proof = h.Sum(nil)

	return nil
}

// scramble computes u = H(A || B), Firebird's simplified SRP scrambler:
// A is left-padded to the group width, B is hashed as its minimal
// big-endian bytes.
func (c *Client) scramble(A, B *big.Int) *big.Int {
	h := newHash(c.kind)
	h.Write(padBytes(A))
	h.Write(B.Bytes())
	return new(big.Int).SetBytes(h.Sum(nil))
}

// derivePrivateKey computes x = H(salt || H(upper(user) + ":" + password)),
// Firebird's salted-password derivation for both SRP plugins.
func (c *Client) derivePrivateKey(user, password string, salt []byte) *big.Int {
	inner := newHash(c.kind)
	inner.Write([]byte(strings.ToUpper(user)))
	inner.Write([]byte(":"))
	inner.Write([]byte(password))
	innerSum := inner.Sum(nil)

	outer := newHash(c.kind)
	outer.Write(salt)
	outer.Write(innerSum)
	return new(big.Int).SetBytes(outer.Sum(nil))
}

// SessionKey returns the derived session key, the seed for wire-crypt key
// material when the negotiated plugin uses SRP-derived encryption.
func (c *Client) SessionKey() []byte { return c.sessionKey }

// Proof returns the client's zero-knowledge proof M, sent back to the
// server in op_cont_auth to complete authentication.
func (c *Client) Proof() []byte { return c.proof }

func padBytes(n *big.Int) []byte {
	b := n.Bytes()
	width := (srpN.BitLen() + 7) / 8
	if len(b) >= width {
		return b
	}
	out := make([]byte, width)
	copy(out[width-len(b):], b)
	return out
}

func padHex(n *big.Int) string {
	return fmt.Sprintf("%0*x", (srpN.BitLen()+7)/8*2, n)
}
