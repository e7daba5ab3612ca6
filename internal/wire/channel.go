package wire

import (
	"bufio"
	"compress/zlib"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/lirix-data/firebirdsql/internal/fberr"
)

const (
	readBufSize  = 32 * 1024
	writeBufSize = 32 * 1024
)

// Channel is a single TCP connection to a Firebird server, carrying the
// optional encryption and compression layers the wire protocol negotiates
// mid-handshake. It is not safe for concurrent use — Firebird's protocol is
// strictly request/response, one statement pipeline at a time per
// connection, and callers serialize access the same way the connection
// pool does.
type Channel struct {
	conn    net.Conn
	br      *bufio.Reader
	bw      *bufio.Writer
	timeout time.Duration // per-operation socket deadline; 0 means none

	readTrans  Translator
	writeTrans Translator

	compressed bool
	zr         io.Reader
	zw         *zlib.Writer
}

// Dial opens a TCP connection to addr (host:port) with Nagle's algorithm
// disabled, matching the original client's low-latency framing: Firebird's
// protocol is request/response and batches its own writes, so TCP_NODELAY
// avoids an extra round-trip of coalescing delay. A non-zero timeout
// bounds the dial and every subsequent single wire operation.
func Dial(ctx context.Context, addr string, timeout time.Duration) (*Channel, error) {
	d := net.Dialer{
		Timeout:   timeout,
		KeepAlive: 30 * time.Second,
	}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fberr.Wrap(fberr.Network, err, "connecting to %s", addr)
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
	ch := newChannel(conn)
	ch.timeout = timeout
	return ch, nil
}

func newChannel(conn net.Conn) *Channel {
	return &Channel{
		conn: conn,
		br:   bufio.NewReaderSize(conn, readBufSize),
		bw:   bufio.NewWriterSize(conn, writeBufSize),
	}
}

// SetDeadline forwards to the underlying connection; used to bound a single
// blocking wire operation.
func (c *Channel) SetDeadline(t time.Time) error {
	return c.conn.SetDeadline(t)
}

// WaitReadable blocks up to timeout for at least one inbound byte, without
// consuming it. A false return with nil error means the timeout elapsed
// quietly — the event alerter uses this to poll for op_event at 1-second
// granularity while still noticing its stop flag between polls. Peeking the
// raw buffered reader keeps the decrypt and decompress stages untouched, so
// their stream state cannot desynchronize on a timed-out poll.
func (c *Channel) WaitReadable(timeout time.Duration) (bool, error) {
	if c.br.Buffered() > 0 {
		return true, nil
	}
	if err := c.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return false, fberr.Wrap(fberr.Network, err, "arming poll deadline")
	}
	_, err := c.br.Peek(1)
	_ = c.conn.SetReadDeadline(time.Time{})
	if err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return false, nil
		}
		return false, c.wrapReadErr(err, 1)
	}
	return true, nil
}

// Read blocks until exactly n bytes have passed through the inbound
// pipeline (decrypt, then decompress) and returns them, or fails with a
// Network error — including when the peer closes the socket before n bytes
// arrive.
func (c *Channel) Read(n int) ([]byte, error) {
	if c.timeout > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(c.timeout))
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(c.inboundReader(), buf); err != nil {
		return nil, c.wrapReadErr(err, n)
	}
	return buf, nil
}

func (c *Channel) inboundReader() io.Reader {
	if c.compressed {
		if c.zr == nil {
			c.zr = c.newZlibReader()
		}
		return c.zr
	}
	return c.rawInboundReader()
}

func (c *Channel) rawInboundReader() io.Reader {
	if c.readTrans != nil {
		return &decryptReader{r: c.br, trans: c.readTrans}
	}
	return c.br
}

// newZlibReader is called lazily so enabling compression never blocks on
// the peer's still-unsent zlib header.
func (c *Channel) newZlibReader() io.Reader {
	return &lazyZlibReader{src: c.rawInboundReader()}
}

func (c *Channel) wrapReadErr(err error, n int) error {
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return fberr.Wrap(fberr.Network, err, "connection closed while reading %d bytes", n)
	}
	return fberr.Wrap(fberr.Network, err, "reading from wire")
}

// Write pushes buf through the outbound pipeline (compress, then encrypt)
// and into the buffered writer. It does not flush — callers batch a
// request's frames and call Flush once the request is complete.
func (c *Channel) Write(buf []byte) error {
	var err error
	if c.compressed {
		if c.zw == nil {
			c.zw = newDeflateWriter(c.outboundWriter())
		}
		if _, err = c.zw.Write(buf); err == nil {
			err = c.zw.Flush() // Z_SYNC_FLUSH: byte-align without resetting the stream
		}
	} else {
		_, err = c.outboundWriter().Write(buf)
	}
	if err != nil {
		return fberr.Wrap(fberr.Network, err, "writing to wire")
	}
	return nil
}

func (c *Channel) outboundWriter() io.Writer {
	if c.writeTrans != nil {
		return &encryptWriter{w: c.bw, trans: c.writeTrans}
	}
	return c.bw
}

// Flush drains the buffered writer to the kernel socket buffer.
func (c *Channel) Flush() error {
	if c.timeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.timeout))
	}
	if err := c.bw.Flush(); err != nil {
		return fberr.Wrap(fberr.Network, err, "flushing wire buffer")
	}
	return nil
}

// SetCryptKey installs wire-crypt on both directions of the channel. It
// must be called on both peers "simultaneously" — immediately after the
// op_crypt acknowledgement, before either side sends another frame — since
// every byte from that point on is translated. plugin selects the cipher
// family; nonce is only meaningful (and only non-empty) for the ChaCha
// family.
func (c *Channel) SetCryptKey(plugin string, key, nonce []byte) error {
	var trans Translator
	var err error
	switch plugin {
	case "Arc4":
		trans, err = NewARC4Translator(key)
	case "ChaCha", "ChaCha64":
		trans, err = NewChaChaTranslator(key, nonce)
	default:
		return fberr.New(fberr.Protocol, "unsupported wire-crypt plugin %q", plugin)
	}
	if err != nil {
		return fberr.Wrap(fberr.Protocol, err, "installing %s wire-crypt", plugin)
	}

	// Each direction gets its own instance: the keystream position for
	// what this process sends must never be perturbed by what it
	// receives, or the two peers' streams fall out of sync.
	var trans2 Translator
	switch plugin {
	case "Arc4":
		trans2, _ = NewARC4Translator(key)
	default:
		trans2, _ = NewChaChaTranslator(key, nonce)
	}

	c.readTrans = trans
	c.writeTrans = trans2
	return nil
}

// EnableCompression switches the pipeline to compressed mode. After this
// call every frame this channel sends or expects to receive is a
// zlib/deflate stream with Z_SYNC_FLUSH boundaries at each packet; frames
// already exchanged during the handshake are not. Must be called after
// SetCryptKey, if wire-crypt is used at all — Firebird never re-keys mid
// connection, so compression is switched on last, as the inner stage:
// outgoing data is compressed before it is encrypted.
func (c *Channel) EnableCompression() {
	c.compressed = true
}

// Close closes the underlying TCP connection.
func (c *Channel) Close() error {
	return c.conn.Close()
}

// lazyZlibReader defers creating the real zlib.Reader until the first Read
// call, so EnableCompression never blocks waiting for the peer's header.
type lazyZlibReader struct {
	src io.Reader
	zr  io.Reader
}

func (l *lazyZlibReader) Read(p []byte) (int, error) {
	if l.zr == nil {
		zr, err := zlib.NewReader(l.src)
		if err != nil {
			return 0, fmt.Errorf("wire: zlib header: %w", err)
		}
		l.zr = zr
	}
	return l.zr.Read(p)
}
