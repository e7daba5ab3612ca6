package firebirdsql

import (
	"context"

	"github.com/lirix-data/firebirdsql/internal/fberr"
	"github.com/lirix-data/firebirdsql/internal/protocol"
	"github.com/lirix-data/firebirdsql/internal/wire"
)

// statementState is the lifecycle a Statement moves through.
type statementState int

const (
	stateUnprepared statementState = iota
	statePrepared
	stateExecuted
	stateFetching
	stateExhausted
	stateClosed
)

// Statement is a prepared SQL statement, scoped strictly inside its owning
// Connection's (and, if bound to one, Transaction's) lifetime.
type Statement struct {
	conn       *Connection
	trans      *Transaction
	autoCommit bool

	handle int32
	state  statementState

	inputDesc  protocol.RowDescriptor
	outputDesc protocol.RowDescriptor

	rowCount int64

	pending    [][]any // rows already received from the last fetch response, not yet consumed
	fetchedAll bool
}

// Prepare prepares sql against the connection's implicit auto-commit
// transaction.
func (c *Connection) Prepare(ctx context.Context, sql string) (*Statement, error) {
	return c.prepare(ctx, sql, nil, true)
}

func (c *Connection) prepare(ctx context.Context, sql string, trans *Transaction, autoCommit bool) (*Statement, error) {
	if err := c.checkPoisoned(); err != nil {
		return nil, err
	}
	if trans == nil {
		if _, err := c.ensureAutoCommit(ctx); err != nil {
			return nil, err
		}
	}

	var buf []byte
	buf = wire.PutInt32(buf, int32(wire.OpAllocateStatement))
	buf = wire.PutInt32(buf, c.dbHandle)
	if err := c.ch.Write(buf); err != nil {
		return nil, c.poison(err)
	}
	if err := c.ch.Flush(); err != nil {
		return nil, c.poison(err)
	}
	handle, _, err := c.readResponse()
	if err != nil {
		return nil, c.poison(err)
	}

	stmt := &Statement{conn: c, trans: trans, autoCommit: autoCommit, handle: handle, state: stateUnprepared}

	transHandle := stmt.transHandle()

	buf = nil
	buf = wire.PutInt32(buf, int32(wire.OpPrepareStatement))
	buf = wire.PutInt32(buf, transHandle)
	buf = wire.PutInt32(buf, stmt.handle)
	buf = wire.PutInt32(buf, 3) // SQL dialect
	buf = wire.PutString(buf, sql)
	buf = wire.PutOpaque(buf, protocol.DescribeRequest())
	buf = wire.PutInt32(buf, 4096) // max info response size
	if err := c.ch.Write(buf); err != nil {
		return nil, c.poison(err)
	}
	if err := c.ch.Flush(); err != nil {
		return nil, c.poison(err)
	}
	_, infoBuf, err := c.readResponse()
	if err != nil {
		return nil, c.poison(err)
	}
	items, err := protocol.ParseInfoBlock(infoBuf)
	if err != nil {
		return nil, fberr.Wrap(fberr.Statement, err, "parsing describe response for %q", sql)
	}
	outputDesc, err := protocol.DecodeDescribe(items)
	if err != nil {
		return nil, fberr.Wrap(fberr.Statement, err, "decoding output row shape for %q", sql)
	}
	stmt.outputDesc = outputDesc

	inputDesc, err := stmt.describeInput(ctx)
	if err != nil {
		return nil, err
	}
	stmt.inputDesc = inputDesc

	stmt.state = statePrepared
	return stmt, nil
}

func (s *Statement) transHandle() int32 {
	if s.trans != nil {
		return s.trans.handle
	}
	return s.conn.autoCommitTID
}

func (s *Statement) describeInput(ctx context.Context) (protocol.RowDescriptor, error) {
	var buf []byte
	buf = wire.PutInt32(buf, int32(wire.OpInfoSQL))
	buf = wire.PutInt32(buf, s.handle)
	buf = wire.PutInt32(buf, 0)
	buf = wire.PutOpaque(buf, protocol.DescribeInputRequest())
	buf = wire.PutInt32(buf, 4096)
	if err := s.conn.ch.Write(buf); err != nil {
		return nil, s.conn.poison(err)
	}
	if err := s.conn.ch.Flush(); err != nil {
		return nil, s.conn.poison(err)
	}
	_, infoBuf, err := s.conn.readResponse()
	if err != nil {
		return nil, s.conn.poison(err)
	}
	items, err := protocol.ParseInfoBlock(infoBuf)
	if err != nil {
		return nil, fberr.Wrap(fberr.Statement, err, "parsing input describe response")
	}
	desc, err := protocol.DecodeDescribe(items)
	if err != nil {
		return nil, fberr.Wrap(fberr.Statement, err, "decoding input row shape")
	}
	return desc, nil
}

// ColumnDesc describes one column of a statement's input or output shape.
type ColumnDesc = protocol.ColumnDesc

// Decimal is a NUMERIC/DECIMAL value: an unscaled integer plus the
// column's scale. The row codec produces and accepts these for any scaled
// column, so callers never have to apply ColumnDesc.Scale themselves.
type Decimal = protocol.Decimal

// RowDescriptor is the ordered column shape of a parameter list or result
// row.
type RowDescriptor = protocol.RowDescriptor

// Rows iterates fetched rows one at a time.
type Rows struct {
	stmt *Statement
}

// Execute binds params to the statement's input shape and executes it,
// returning a Rows cursor for SELECT statements (or an empty one for DML).
func (s *Statement) Execute(ctx context.Context, params []any) (*Rows, error) {
	if s.state == stateClosed {
		return nil, fberr.New(fberr.Internal, "statement is closed")
	}
	if len(params) != len(s.inputDesc) {
		return nil, fberr.New(fberr.TypeMismatch, "execute expects %d parameters, got %d", len(s.inputDesc), len(params))
	}

	var paramImage []byte
	if len(params) > 0 {
		img, err := protocol.EncodeRow(s.inputDesc, params)
		if err != nil {
			return nil, err
		}
		paramImage = img
	}

	var buf []byte
	buf = wire.PutInt32(buf, int32(wire.OpExecute))
	buf = wire.PutInt32(buf, s.transHandle())
	buf = wire.PutInt32(buf, s.handle)
	buf = wire.PutInt32(buf, 3) // dialect
	buf = wire.PutOpaque(buf, paramImage)
	buf = wire.PutInt32(buf, 0) // message number
	buf = wire.PutInt32(buf, int32(len(params)))

	if err := s.conn.ch.Write(buf); err != nil {
		return nil, s.conn.poison(err)
	}
	if err := s.conn.ch.Flush(); err != nil {
		return nil, s.conn.poison(err)
	}
	if _, _, err := s.conn.readResponse(); err != nil {
		return nil, s.conn.poison(fberr.Wrap(fberr.Statement, err, "executing statement"))
	}

	s.state = stateExecuted
	s.pending = nil
	s.fetchedAll = len(s.outputDesc) == 0 // DML has nothing to fetch

	// Auto-commit statements commit-retaining immediately; DML becomes
	// durable without tearing down the shared transaction handle.
	if s.autoCommit && s.fetchedAll {
		if err := s.conn.commitRetaining(s.transHandle()); err != nil {
			return nil, err
		}
	}
	return &Rows{stmt: s}, nil
}

// ExecuteReturning executes a statement that produces exactly one row
// without opening a cursor — INSERT/UPDATE/DELETE ... RETURNING and
// EXECUTE PROCEDURE. The server answers op_execute2 with an op_sql_response
// carrying the singleton row, followed by the usual op_response.
func (s *Statement) ExecuteReturning(ctx context.Context, params []any) ([]any, error) {
	if s.state == stateClosed {
		return nil, fberr.New(fberr.Internal, "statement is closed")
	}
	if len(params) != len(s.inputDesc) {
		return nil, fberr.New(fberr.TypeMismatch, "execute expects %d parameters, got %d", len(s.inputDesc), len(params))
	}

	var paramImage []byte
	if len(params) > 0 {
		img, err := protocol.EncodeRow(s.inputDesc, params)
		if err != nil {
			return nil, err
		}
		paramImage = img
	}

	var buf []byte
	buf = wire.PutInt32(buf, int32(wire.OpExecute2))
	buf = wire.PutInt32(buf, s.transHandle())
	buf = wire.PutInt32(buf, s.handle)
	buf = wire.PutInt32(buf, 3) // dialect
	buf = wire.PutOpaque(buf, paramImage)
	buf = wire.PutInt32(buf, 0) // message number
	buf = wire.PutInt32(buf, int32(len(params)))
	buf = wire.PutOpaque(buf, nil) // output blr, implied by the described shape
	buf = wire.PutInt32(buf, 0)    // output message number

	if err := s.conn.ch.Write(buf); err != nil {
		return nil, s.conn.poison(err)
	}
	if err := s.conn.ch.Flush(); err != nil {
		return nil, s.conn.poison(err)
	}

	opBytes, err := s.conn.ch.Read(4)
	if err != nil {
		return nil, s.conn.poison(err)
	}
	if wire.Op(wire.Int32At(opBytes)) != wire.OpSQLResponse {
		return nil, fberr.New(fberr.Protocol, "expected op_sql_response")
	}
	countBytes, err := s.conn.ch.Read(4)
	if err != nil {
		return nil, s.conn.poison(err)
	}
	var row []any
	if wire.Int32At(countBytes) > 0 {
		rowLenBytes, err := s.conn.ch.Read(4)
		if err != nil {
			return nil, s.conn.poison(err)
		}
		rowLen := int(wire.Uint32At(rowLenBytes))
		rowBuf, err := s.conn.ch.Read(wire.PaddedLen(rowLen))
		if err != nil {
			return nil, s.conn.poison(err)
		}
		row, _, err = protocol.DecodeRow(s.outputDesc, rowBuf[:rowLen])
		if err != nil {
			return nil, fberr.Wrap(fberr.Statement, err, "decoding returned row")
		}
	}

	if _, _, err := s.conn.readResponse(); err != nil {
		return nil, s.conn.poison(fberr.Wrap(fberr.Statement, err, "executing statement"))
	}

	s.state = stateExecuted
	s.pending = nil
	s.fetchedAll = true
	if row != nil {
		s.rowCount++
	}
	if s.autoCommit {
		if err := s.conn.commitRetaining(s.transHandle()); err != nil {
			return nil, err
		}
	}
	return row, nil
}

// Next advances the cursor and returns the next row, or (nil, nil) once
// the cursor is exhausted. After exhaustion, no further op_fetch frames
// are sent — repeated calls are free.
func (r *Rows) Next(ctx context.Context) ([]any, error) {
	s := r.stmt
	if len(s.pending) > 0 {
		row := s.pending[0]
		s.pending = s.pending[1:]
		s.rowCount++
		return row, nil
	}
	if s.fetchedAll {
		s.state = stateExhausted
		return nil, nil
	}

	s.state = stateFetching
	rows, done, err := s.fetchBatch(ctx)
	if err != nil {
		return nil, err
	}
	s.fetchedAll = done
	if len(rows) == 0 {
		s.state = stateExhausted
		return nil, nil
	}
	s.pending = rows[1:]
	s.rowCount++
	return rows[0], nil
}

// fetchBatch sends one op_fetch and decodes however many rows the server
// returned before signalling end-of-cursor.
func (s *Statement) fetchBatch(ctx context.Context) ([][]any, bool, error) {
	var buf []byte
	buf = wire.PutInt32(buf, int32(wire.OpFetch))
	buf = wire.PutInt32(buf, s.handle)
	buf = wire.PutOpaque(buf, nil) // message blr, unused beyond the XSQLDA this client already knows
	buf = wire.PutInt32(buf, 0)
	buf = wire.PutInt32(buf, 1) // one message per fetch request

	if err := s.conn.ch.Write(buf); err != nil {
		return nil, false, s.conn.poison(err)
	}
	if err := s.conn.ch.Flush(); err != nil {
		return nil, false, s.conn.poison(err)
	}

	opBytes, err := s.conn.ch.Read(4)
	if err != nil {
		return nil, false, s.conn.poison(err)
	}
	if wire.Op(wire.Int32At(opBytes)) != wire.OpFetchResponse {
		return nil, false, fberr.New(fberr.Protocol, "expected op_fetch_response")
	}

	statusBytes, err := s.conn.ch.Read(4)
	if err != nil {
		return nil, false, s.conn.poison(err)
	}
	status := wire.Int32At(statusBytes)

	countBytes, err := s.conn.ch.Read(4)
	if err != nil {
		return nil, false, s.conn.poison(err)
	}
	count := int(wire.Int32At(countBytes))

	var rows [][]any
	for i := 0; i < count; i++ {
		rowLenBytes, err := s.conn.ch.Read(4)
		if err != nil {
			return nil, false, s.conn.poison(err)
		}
		rowLen := int(wire.Uint32At(rowLenBytes))
		rowBuf, err := s.conn.ch.Read(wire.PaddedLen(rowLen))
		if err != nil {
			return nil, false, s.conn.poison(err)
		}
		values, _, err := protocol.DecodeRow(s.outputDesc, rowBuf[:rowLen])
		if err != nil {
			return nil, false, fberr.Wrap(fberr.Statement, err, "decoding fetched row")
		}
		rows = append(rows, values)
	}

	return rows, status == wire.FetchNoMore, nil
}

// Close releases the statement with DSQL_drop: the handle is gone and the
// statement cannot be re-executed.
func (s *Statement) Close(ctx context.Context) error {
	return s.close(wire.DSQLDrop)
}

// CloseCursor closes the open cursor without releasing the statement
// handle, allowing a subsequent Execute to reuse it.
func (s *Statement) CloseCursor(ctx context.Context) error {
	return s.close(wire.DSQLClose)
}

func (s *Statement) close(mode int32) error {
	if s.state == stateClosed {
		return nil
	}
	var buf []byte
	buf = wire.PutInt32(buf, int32(wire.OpFreeStatement))
	buf = wire.PutInt32(buf, s.handle)
	buf = wire.PutInt32(buf, mode)
	if err := s.conn.ch.Write(buf); err != nil {
		return s.conn.poison(err)
	}
	if err := s.conn.ch.Flush(); err != nil {
		return s.conn.poison(err)
	}
	_, _, err := s.conn.readResponse()
	if mode == wire.DSQLDrop {
		s.state = stateClosed
	}
	if err != nil {
		return s.conn.poison(err)
	}
	return nil
}

// RowCount returns the number of rows fetched through this statement's
// cursor, plus one for a row returned by ExecuteReturning. Rows affected
// by DML run through Execute are not counted.
func (s *Statement) RowCount() int64 { return s.rowCount }

// OutputShape returns the described result row shape.
func (s *Statement) OutputShape() RowDescriptor { return s.outputDesc }

// InputShape returns the described parameter row shape.
func (s *Statement) InputShape() RowDescriptor { return s.inputDesc }
