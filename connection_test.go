package firebirdsql

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lirix-data/firebirdsql/internal/fbtest"
	"github.com/lirix-data/firebirdsql/internal/fberr"
	"github.com/lirix-data/firebirdsql/internal/protocol"
)

func startServer(t *testing.T) *fbtest.Server {
	t.Helper()
	srv, err := fbtest.Start()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(srv.Stop)
	return srv
}

func TestConnectAndQuery(t *testing.T) {
	srv := startServer(t)
	ctx := context.Background()

	conn, err := Connect(ctx, srv.URL())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	trans, err := conn.Begin(ctx, DefaultTransactionOptions())
	if err != nil {
		t.Fatal(err)
	}
	defer trans.Drop(ctx)

	stmt, err := trans.Prepare(ctx, "SELECT 1 FROM RDB$DATABASE")
	if err != nil {
		t.Fatal(err)
	}
	defer stmt.Close(ctx)

	if got := len(stmt.OutputShape()); got != 1 {
		t.Fatalf("output shape has %d columns", got)
	}
	if stmt.OutputShape()[0].SQLType != protocol.SQLLong {
		t.Fatalf("column type %d", stmt.OutputShape()[0].SQLType)
	}

	rows, err := stmt.Execute(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	row, err := rows.Next(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(row) != 1 || row[0].(int32) != 1 {
		t.Fatalf("row: %v", row)
	}

	// Exhausted cursor: every further Next stays (nil, nil).
	for i := 0; i < 3; i++ {
		row, err := rows.Next(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if row != nil {
			t.Fatalf("row after exhaustion: %v", row)
		}
	}

	if stmt.RowCount() != 1 {
		t.Fatalf("row count %d", stmt.RowCount())
	}
}

func TestStatementMultiRowFetch(t *testing.T) {
	srv := startServer(t)
	shape := protocol.RowDescriptor{
		{SQLType: protocol.SQLLong, Length: 4, Name: "ID"},
		{SQLType: protocol.SQLVarying, Length: 255, Name: "MESSAGE", Nullable: true},
	}
	srv.SetResult("SELECT id, message FROM logs", fbtest.Result{
		Shape: shape,
		Rows: [][]any{
			{int32(1), "Log 1"},
			{int32(2), "Log 2"},
			{int32(3), nil},
		},
	})

	ctx := context.Background()
	conn, err := Connect(ctx, srv.URL())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	stmt, err := conn.Prepare(ctx, "SELECT id, message FROM logs")
	if err != nil {
		t.Fatal(err)
	}
	defer stmt.Close(ctx)

	rows, err := stmt.Execute(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}

	var got []any
	for {
		row, err := rows.Next(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if row == nil {
			break
		}
		got = append(got, row[1])
	}
	if len(got) != 3 {
		t.Fatalf("fetched %d rows", len(got))
	}
	if got[0] != "Log 1" || got[1] != "Log 2" || got[2] != nil {
		t.Fatalf("rows: %v", got)
	}
}

func TestStatementParameterArity(t *testing.T) {
	srv := startServer(t)
	srv.SetResult("INSERT INTO logs (id, message) VALUES (?, ?)", fbtest.Result{
		Input: protocol.RowDescriptor{
			{SQLType: protocol.SQLLong, Length: 4, Name: "ID"},
			{SQLType: protocol.SQLVarying, Length: 255, Name: "MESSAGE", Nullable: true},
		},
	})

	ctx := context.Background()
	conn, err := Connect(ctx, srv.URL())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	stmt, err := conn.Prepare(ctx, "INSERT INTO logs (id, message) VALUES (?, ?)")
	if err != nil {
		t.Fatal(err)
	}
	defer stmt.Close(ctx)

	if got := len(stmt.InputShape()); got != 2 {
		t.Fatalf("input shape has %d columns", got)
	}

	assertMismatch := func(params []any) {
		t.Helper()
		_, err := stmt.Execute(ctx, params)
		var fe *Error
		if !errors.As(err, &fe) || fe.Kind != KindTypeMismatch {
			t.Fatalf("expected TypeMismatch, got %v", err)
		}
	}
	assertMismatch(nil)                             // too few
	assertMismatch([]any{int32(1)})                 // too few
	assertMismatch([]any{int32(1), "x", "y"})       // too many
	assertMismatch([]any{"one", "x"})               // string into INTEGER

	if _, err := stmt.Execute(ctx, []any{int32(1), "Log 1"}); err != nil {
		t.Fatalf("well-formed execute: %v", err)
	}
}

func TestExecuteReturning(t *testing.T) {
	srv := startServer(t)
	srv.SetResult("INSERT INTO logs (message) VALUES (?) RETURNING id", fbtest.Result{
		Shape: protocol.RowDescriptor{{SQLType: protocol.SQLLong, Length: 4, Name: "ID"}},
		Input: protocol.RowDescriptor{{SQLType: protocol.SQLVarying, Length: 255, Name: "MESSAGE", Nullable: true}},
		Rows:  [][]any{{int32(7)}},
	})

	ctx := context.Background()
	conn, err := Connect(ctx, srv.URL())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	stmt, err := conn.Prepare(ctx, "INSERT INTO logs (message) VALUES (?) RETURNING id")
	if err != nil {
		t.Fatal(err)
	}
	defer stmt.Close(ctx)

	row, err := stmt.ExecuteReturning(ctx, []any{"hello"})
	if err != nil {
		t.Fatal(err)
	}
	if len(row) != 1 || row[0].(int32) != 7 {
		t.Fatalf("returned row: %v", row)
	}
}

func TestPrepareUnknownSQLSurfacesServerError(t *testing.T) {
	srv := startServer(t)
	ctx := context.Background()

	conn, err := Connect(ctx, srv.URL())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	_, err = conn.Prepare(ctx, "SELECT nonsense")
	if err == nil {
		t.Fatal("expected a server error")
	}
	var fe *fberr.Error
	if !errors.As(err, &fe) {
		t.Fatalf("not a library error: %v", err)
	}
}

func TestTransactionLifecycle(t *testing.T) {
	srv := startServer(t)
	ctx := context.Background()

	conn, err := Connect(ctx, srv.URL())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	// Commit finishes the transaction; Drop after it is a no-op and a
	// second explicit Rollback is an error.
	trans, err := conn.Begin(ctx, SnapshotOptions())
	if err != nil {
		t.Fatal(err)
	}
	if err := trans.Commit(ctx); err != nil {
		t.Fatal(err)
	}
	if err := trans.Drop(ctx); err != nil {
		t.Fatalf("Drop after Commit: %v", err)
	}
	if err := trans.Rollback(ctx); err == nil {
		t.Fatal("Rollback after Commit must fail")
	}

	// Drop on an unfinished transaction rolls back exactly once.
	trans, err = conn.Begin(ctx, SerializableOptions())
	if err != nil {
		t.Fatal(err)
	}
	if err := trans.Drop(ctx); err != nil {
		t.Fatal(err)
	}
	if err := trans.Drop(ctx); err != nil {
		t.Fatalf("second Drop must be a no-op: %v", err)
	}
}

func TestPing(t *testing.T) {
	srv := startServer(t)
	ctx := context.Background()

	conn, err := Connect(ctx, srv.URL())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	if err := conn.Ping(ctx); err != nil {
		t.Fatal(err)
	}
}

func TestEventQueueAndWait(t *testing.T) {
	srv := startServer(t)
	ctx := context.Background()

	conn, err := Connect(ctx, srv.URL())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	epb, err := protocol.NewEPBBuilder([]string{"a", "b"})
	if err != nil {
		t.Fatal(err)
	}
	id, err := conn.QueueEvents(epb.Build(), 1)
	if err != nil {
		t.Fatal(err)
	}

	// Nothing posted yet: the poll times out quietly.
	ev, err := conn.WaitForEvent(50 * time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	if ev != nil {
		t.Fatalf("unexpected event: %+v", ev)
	}

	srv.PostEvent("a")
	deadline := time.Now().Add(2 * time.Second)
	for ev == nil && time.Now().Before(deadline) {
		ev, err = conn.WaitForEvent(100 * time.Millisecond)
		if err != nil {
			t.Fatal(err)
		}
	}
	if ev == nil {
		t.Fatal("no event within 2s")
	}
	if ev.ID != id {
		t.Fatalf("event id %d, want %d", ev.ID, id)
	}
	counts, err := protocol.ParseEPBCounts(ev.ResultEPB)
	if err != nil {
		t.Fatal(err)
	}
	if counts["a"] != 1 || counts["b"] != 0 {
		t.Fatalf("counts: %v", counts)
	}

	if err := conn.CancelEvents(id); err != nil {
		t.Fatal(err)
	}
}
