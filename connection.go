// Package firebirdsql is a client for the Firebird SQL database that
// speaks its native TCP wire protocol directly, without linking the
// vendor's client library.
package firebirdsql

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/lirix-data/firebirdsql/internal/auth"
	"github.com/lirix-data/firebirdsql/internal/fberr"
	"github.com/lirix-data/firebirdsql/internal/protocol"
	"github.com/lirix-data/firebirdsql/internal/wire"
)

// Connection is a single attachment to a Firebird database. It owns one
// wire channel and is not safe for concurrent use — the protocol is
// strictly request/response, so callers (directly, or via the connection
// pool's guard) serialize access to a Connection themselves.
type Connection struct {
	ch   *wire.Channel
	opts *ConnectOptions

	dbHandle      int32
	protocolVer   int32
	authPlugin    string
	autoCommitTID int32

	mu       sync.Mutex
	poisoned error
}

// Connect opens a TCP connection, negotiates the wire protocol, encryption
// and authentication, and attaches to the named database.
func Connect(ctx context.Context, dsn string) (*Connection, error) {
	opts, err := ParseURL(dsn)
	if err != nil {
		return nil, err
	}
	return ConnectWithOptions(ctx, opts)
}

// CreateDatabase creates the database named by the URL's path (op_create
// instead of op_attach) and returns a connection attached to it. pageSize
// of 0 leaves the server default.
func CreateDatabase(ctx context.Context, dsn string, pageSize int32) (*Connection, error) {
	opts, err := ParseURL(dsn)
	if err != nil {
		return nil, err
	}
	return connect(ctx, opts, wire.OpCreate, pageSize)
}

// ConnectWithOptions is Connect for callers that already built a
// ConnectOptions (e.g. from the pool, which fills in pooled-connection
// defaults once and reuses them).
func ConnectWithOptions(ctx context.Context, opts *ConnectOptions) (*Connection, error) {
	return connect(ctx, opts, wire.OpAttach, 0)
}

func connect(ctx context.Context, opts *ConnectOptions, op wire.Op, pageSize int32) (*Connection, error) {
	ch, err := wire.Dial(ctx, opts.Addr(), time.Duration(opts.Timeout)*time.Second)
	if err != nil {
		return nil, err
	}

	hsResult, err := auth.Run(ctx, ch, auth.Options{
		User:           opts.User,
		Password:       opts.Password,
		AuthPluginName: opts.AuthPluginName,
		WireCrypt:      opts.WireCrypt,
		WireCryptSet:   opts.WireCryptSet,
	})
	if err != nil {
		_ = ch.Close()
		return nil, err
	}

	if opts.Compress {
		ch.EnableCompression()
	}

	c := &Connection{
		ch:          ch,
		opts:        opts,
		protocolVer: hsResult.ProtocolVersion,
		authPlugin:  hsResult.AuthPlugin,
	}

	if err := c.attach(op, pageSize); err != nil {
		_ = ch.Close()
		return nil, err
	}

	slog.Debug("firebirdsql: connected",
		"host", opts.Host, "database", opts.Database,
		"protocol_version", hsResult.ProtocolVersion,
		"auth_plugin", hsResult.AuthPlugin,
		"wire_crypt", hsResult.CryptInstalled)

	return c, nil
}

func (c *Connection) attach(op wire.Op, pageSize int32) error {
	dpb := protocol.NewDPBBuilder().
		UserName(c.opts.User).
		Password(c.opts.Password).
		Role(c.opts.Role).
		Charset(c.opts.Charset).
		Timezone(c.opts.Timezone).
		Dialect(3)
	if op == wire.OpCreate && pageSize > 0 {
		dpb.PageSize(pageSize)
	}

	var buf []byte
	buf = wire.PutInt32(buf, int32(op))
	buf = wire.PutInt32(buf, 0) // p_atch_database: reserved database object id slot
	buf = wire.PutString(buf, c.opts.Database)
	buf = wire.PutOpaque(buf, dpb.Bytes())
	if err := c.ch.Write(buf); err != nil {
		return err
	}
	if err := c.ch.Flush(); err != nil {
		return err
	}

	handle, _, err := c.readResponse()
	if err != nil {
		if fe, ok := err.(*fberr.Error); ok {
			return fe // keep the server's own error kind (bad role, missing file, ...)
		}
		return fberr.Wrap(fberr.Network, err, "attaching to database %q", c.opts.Database)
	}
	c.dbHandle = handle
	return nil
}

// readResponse reads an op_response frame, returning the object handle and
// opaque data block, or the decoded server error.
func (c *Connection) readResponse() (int32, []byte, error) {
	opBytes, err := c.ch.Read(4)
	if err != nil {
		return 0, nil, err
	}
	op := wire.Op(wire.Int32At(opBytes))
	if op != wire.OpResponse {
		return 0, nil, fberr.New(fberr.Protocol, "expected op_response, got op %d", op)
	}

	handleBytes, err := c.ch.Read(4)
	if err != nil {
		return 0, nil, err
	}
	handle := wire.Int32At(handleBytes)

	if _, err := c.ch.Read(8); err != nil { // p_resp_blob_id
		return 0, nil, err
	}

	dataLenBytes, err := c.ch.Read(4)
	if err != nil {
		return 0, nil, err
	}
	dataLen := int(wire.Uint32At(dataLenBytes))
	var data []byte
	if dataLen > 0 {
		data, err = c.ch.Read(wire.PaddedLen(dataLen))
		if err != nil {
			return 0, nil, err
		}
		data = data[:dataLen]
	}

	sqlCodeBytes, err := c.ch.Read(4)
	if err != nil {
		return 0, nil, err
	}
	sqlCode := wire.Int32At(sqlCodeBytes)
	if sqlCode == 0 {
		return handle, data, nil
	}

	gdsCodeBytes, err := c.ch.Read(4)
	if err != nil {
		return 0, nil, err
	}
	msgLenBytes, err := c.ch.Read(4)
	if err != nil {
		return 0, nil, err
	}
	msgLen := int(wire.Uint32At(msgLenBytes))
	msgBytes, err := c.ch.Read(wire.PaddedLen(msgLen))
	if err != nil {
		return 0, nil, err
	}

	return handle, data, fberr.FromStatus([]fberr.StatusItem{{
		SQLCode: sqlCode,
		GDSCode: wire.Int32At(gdsCodeBytes),
		Message: string(msgBytes[:msgLen]),
	}}, "")
}

// poison marks the connection unusable after a fatal network error, so
// later calls fail fast instead of retrying against a dead socket.
func (c *Connection) poison(err error) error {
	if err == nil {
		return nil
	}
	if fe, ok := err.(*fberr.Error); ok && fe.Kind == fberr.Network {
		c.mu.Lock()
		if c.poisoned == nil {
			c.poisoned = err
		}
		c.mu.Unlock()
	}
	return err
}

func (c *Connection) checkPoisoned() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.poisoned
}

// ProtocolVersion returns the negotiated wire protocol version.
func (c *Connection) ProtocolVersion() int32 { return c.protocolVer }

// AuthPlugin returns the authentication plugin the server accepted.
func (c *Connection) AuthPlugin() string { return c.authPlugin }

// ensureAutoCommit lazily starts the connection's auto-commit transaction,
// shared by every statement prepared directly on the Connection. Its work
// is committed with op_commit_retaining after each execute that leaves
// nothing to fetch (statements without output columns, and
// ExecuteReturning), so the handle stays valid for the connection's
// lifetime.
func (c *Connection) ensureAutoCommit(ctx context.Context) (int32, error) {
	if c.autoCommitTID != 0 {
		return c.autoCommitTID, nil
	}
	trans, err := c.Begin(ctx, DefaultTransactionOptions())
	if err != nil {
		return 0, err
	}
	c.autoCommitTID = trans.handle
	return c.autoCommitTID, nil
}

// commitRetaining commits the transaction's work while keeping the handle
// and its cursors alive.
func (c *Connection) commitRetaining(handle int32) error {
	var buf []byte
	buf = wire.PutInt32(buf, int32(wire.OpCommitRetaining))
	buf = wire.PutInt32(buf, handle)
	if err := c.ch.Write(buf); err != nil {
		return c.poison(err)
	}
	if err := c.ch.Flush(); err != nil {
		return c.poison(err)
	}
	_, _, err := c.readResponse()
	if err != nil {
		return c.poison(err)
	}
	return nil
}

// Close detaches from the database and closes the underlying socket.
func (c *Connection) Close() error {
	var buf []byte
	buf = wire.PutInt32(buf, int32(wire.OpDetach))
	buf = wire.PutInt32(buf, c.dbHandle)
	if err := c.ch.Write(buf); err == nil {
		_ = c.ch.Flush()
		_, _, _ = c.readResponse()
	}
	return c.ch.Close()
}

// Ping issues a minimal round-trip (SELECT 1 FROM RDB$DATABASE) to
// validate the connection is still live — used by the pool's
// validate-on-acquire option.
func (c *Connection) Ping(ctx context.Context) error {
	if err := c.checkPoisoned(); err != nil {
		return err
	}
	trans, err := c.Begin(ctx, SnapshotOptions())
	if err != nil {
		return err
	}
	defer trans.Drop(ctx)

	stmt, err := trans.Prepare(ctx, "SELECT 1 FROM RDB$DATABASE")
	if err != nil {
		return err
	}
	defer stmt.Close(ctx)

	rows, err := stmt.Execute(ctx, nil)
	if err != nil {
		return err
	}
	_, err = rows.Next(ctx)
	return err
}
