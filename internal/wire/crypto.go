package wire

import (
	"crypto/rc4"
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/chacha20"
)

// Translator is a length-preserving, order-sensitive byte-stream cipher.
// Each call to Translate must be fed bytes in transmission order — the
// translators carry internal stream state across calls, exactly like the
// keystream state a TLS record cipher carries between records.
type Translator interface {
	Translate(dst, src []byte) []byte
}

// arc4Translator wraps crypto/rc4.Cipher. Firebird's legacy "Arc4" wire-crypt
// plugin seeds one independent instance per direction with the same key.
type arc4Translator struct {
	cipher *rc4.Cipher
}

// NewARC4Translator builds a Translator for the legacy "Arc4" wire-crypt
// plugin. Firebird never derives the ARC4 key any further — it is used as
// given.
func NewARC4Translator(key []byte) (Translator, error) {
	c, err := rc4.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return &arc4Translator{cipher: c}, nil
}

func (t *arc4Translator) Translate(dst, src []byte) []byte {
	dst = growTo(dst, len(src))
	t.cipher.XORKeyStream(dst, src)
	return dst
}

// chachaTranslator wraps golang.org/x/crypto/chacha20 for Firebird's
// "ChaCha" and "ChaCha64" wire-crypt plugins: a 20-round stream cipher
// keyed with SHA-256(raw key material) and an 8- or 12-byte nonce.
type chachaTranslator struct {
	cipher *chacha20.Cipher
}

// NewChaChaTranslator builds a Translator for the "ChaCha"/"ChaCha64"
// wire-crypt plugins. A short (8-byte) nonce is zero-extended to
// chacha20.NonceSize, matching how the legacy "ChaCha" plugin (pre-dating
// RFC 8439's 12-byte nonce) is accommodated by Firebird's own client.
func NewChaChaTranslator(rawKey, nonce []byte) (Translator, error) {
	sum := sha256.Sum256(rawKey)

	n := make([]byte, chacha20.NonceSize)
	copy(n, nonce)

	c, err := chacha20.NewUnauthenticatedCipher(sum[:], n)
	if err != nil {
		return nil, err
	}
	return &chachaTranslator{cipher: c}, nil
}

func (t *chachaTranslator) Translate(dst, src []byte) []byte {
	dst = growTo(dst, len(src))
	t.cipher.XORKeyStream(dst, src)
	return dst
}

func growTo(dst []byte, n int) []byte {
	if cap(dst) < n {
		return make([]byte, n)
	}
	return dst[:n]
}

// decryptReader decrypts bytes read from r in place. Stateless itself — all
// keystream state lives in trans — so a fresh decryptReader may be built
// per Read() call without losing synchronization.
type decryptReader struct {
	r     io.Reader
	trans Translator
	buf   []byte
}

func (d *decryptReader) Read(p []byte) (int, error) {
	if len(d.buf) < len(p) {
		d.buf = make([]byte, len(p))
	}
	n, err := d.r.Read(d.buf[:len(p)])
	if n > 0 {
		copy(p, d.trans.Translate(nil, d.buf[:n]))
	}
	return n, err
}

// encryptWriter encrypts bytes before forwarding them to w, preserving
// write order so the translator's stream state stays in sync with the peer.
type encryptWriter struct {
	w     io.Writer
	trans Translator
}

func (e *encryptWriter) Write(p []byte) (int, error) {
	enc := e.trans.Translate(nil, p)
	n, err := e.w.Write(enc)
	if n > len(p) {
		n = len(p)
	}
	return n, err
}
