// Package fbtest runs an in-process stand-in for a Firebird server, good
// enough for exercising the client's connection, statement, pool, and
// event paths over real TCP sockets without a database installation. It
// accepts the Legacy_Auth handshake, answers every request with canned
// results, and can post events on demand.
package fbtest

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/lirix-data/firebirdsql/internal/protocol"
	"github.com/lirix-data/firebirdsql/internal/wire"
)

// Result is the canned answer for one SQL text: the described output and
// input shapes plus the rows every execution yields.
type Result struct {
	Shape protocol.RowDescriptor
	Input protocol.RowDescriptor
	Rows  [][]any
}

// Server is one listening stub instance.
type Server struct {
	ln net.Listener

	mu      sync.Mutex
	results map[string]Result
	counts  map[string]uint32
	conns   map[*srvConn]struct{}

	wg sync.WaitGroup
}

// Start listens on an ephemeral localhost port and begins accepting
// connections. Stop must be called to release it.
func Start() (*Server, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	s := &Server{
		ln:      ln,
		results: make(map[string]Result),
		counts:  make(map[string]uint32),
		conns:   make(map[*srvConn]struct{}),
	}
	// The validation probe every test client may issue.
	s.results["SELECT 1 FROM RDB$DATABASE"] = Result{
		Shape: protocol.RowDescriptor{{SQLType: protocol.SQLLong, Length: 4, Name: "CONSTANT"}},
		Rows:  [][]any{{int32(1)}},
	}

	s.wg.Add(1)
	go s.acceptLoop()
	return s, nil
}

// URL returns a connection string pointing at this stub. Legacy_Auth keeps
// the handshake to a single accept round-trip.
func (s *Server) URL() string {
	return fmt.Sprintf("firebird://sysdba:masterkey@%s/test.fdb?auth_plugin_name=Legacy_Auth", s.ln.Addr())
}

// SetResult registers the canned result for an exact SQL text.
func (s *Server) SetResult(sql string, r Result) {
	s.mu.Lock()
	s.results[sql] = r
	s.mu.Unlock()
}

// PostEvent increments an event counter, notifying every connection with a
// pending event request — the server-side half of POST_EVENT.
func (s *Server) PostEvent(name string) {
	s.mu.Lock()
	s.counts[name]++
	conns := make([]*srvConn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.notify()
	}
}

// Stop closes the listener and every live connection.
func (s *Server) Stop() {
	_ = s.ln.Close()
	s.mu.Lock()
	for c := range s.conns {
		_ = c.conn.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		c := &srvConn{srv: s, conn: conn, r: bufio.NewReader(conn), stmts: make(map[int32]*stmtState)}
		s.mu.Lock()
		s.conns[c] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			_ = c.serve()
			s.mu.Lock()
			delete(s.conns, c)
			s.mu.Unlock()
			_ = conn.Close()
		}()
	}
}

type stmtState struct {
	result    Result
	remaining [][]any
}

// eventReq is one queued op_que_events awaiting a count change.
type eventReq struct {
	id    int32
	names []string
	seen  map[string]uint32
}

type srvConn struct {
	srv  *Server
	conn net.Conn
	r    *bufio.Reader

	wmu sync.Mutex // serializes response frames against async op_event frames

	nextHandle int32
	stmts      map[int32]*stmtState

	emu     sync.Mutex
	pending *eventReq
}

func (c *srvConn) serve() error {
	for {
		op, err := c.readInt32()
		if err != nil {
			return err
		}
		if err := c.handle(wire.Op(op)); err != nil {
			return err
		}
	}
}

func (c *srvConn) handle(op wire.Op) error {
	switch op {
	case wire.OpConnect:
		return c.handleConnect()

	case wire.OpAttach, wire.OpCreate:
		if _, err := c.readInt32(); err != nil {
			return err
		}
		if _, err := c.readOpaque(); err != nil { // database path
			return err
		}
		if _, err := c.readOpaque(); err != nil { // DPB
			return err
		}
		return c.writeResponse(1, nil)

	case wire.OpDetach, wire.OpCommit, wire.OpRollback, wire.OpCommitRetaining:
		if _, err := c.readInt32(); err != nil {
			return err
		}
		return c.writeResponse(0, nil)

	case wire.OpTransaction:
		if _, err := c.readInt32(); err != nil {
			return err
		}
		if _, err := c.readOpaque(); err != nil { // TPB
			return err
		}
		c.nextHandle++
		return c.writeResponse(c.nextHandle, nil)

	case wire.OpAllocateStatement:
		if _, err := c.readInt32(); err != nil {
			return err
		}
		c.nextHandle++
		c.stmts[c.nextHandle] = &stmtState{}
		return c.writeResponse(c.nextHandle, nil)

	case wire.OpPrepareStatement:
		return c.handlePrepare()

	case wire.OpInfoSQL:
		return c.handleInfoSQL()

	case wire.OpExecute:
		return c.handleExecute(false)

	case wire.OpExecute2:
		return c.handleExecute(true)

	case wire.OpFetch:
		return c.handleFetch()

	case wire.OpFreeStatement:
		if _, err := c.readInt32(); err != nil {
			return err
		}
		if _, err := c.readInt32(); err != nil {
			return err
		}
		return c.writeResponse(0, nil)

	case wire.OpQueueEvents:
		return c.handleQueueEvents()

	case wire.OpCancelEvents:
		if _, err := c.readInt32(); err != nil {
			return err
		}
		if _, err := c.readInt32(); err != nil {
			return err
		}
		c.emu.Lock()
		c.pending = nil
		c.emu.Unlock()
		return c.writeResponse(0, nil)

	default:
		return fmt.Errorf("fbtest: unhandled op %d", op)
	}
}

func (c *srvConn) handleConnect() error {
	for i := 0; i < 3; i++ { // operation, connect version, architecture
		if _, err := c.readInt32(); err != nil {
			return err
		}
	}
	if _, err := c.readOpaque(); err != nil { // database path placeholder
		return err
	}
	if _, err := c.readOpaque(); err != nil { // user identification block
		return err
	}
	count, err := c.readInt32()
	if err != nil {
		return err
	}
	var best int32
	for i := int32(0); i < count; i++ {
		version, err := c.readInt32()
		if err != nil {
			return err
		}
		if version > best {
			best = version
		}
		for j := 0; j < 4; j++ {
			if _, err := c.readInt32(); err != nil {
				return err
			}
		}
	}

	var buf []byte
	buf = wire.PutInt32(buf, int32(wire.OpAccept))
	buf = wire.PutInt32(buf, best)
	buf = wire.PutInt32(buf, wire.ArchGeneric)
	buf = wire.PutInt32(buf, wire.PTypeBatchSend)
	return c.write(buf)
}

func (c *srvConn) handlePrepare() error {
	if _, err := c.readInt32(); err != nil { // transaction
		return err
	}
	stmt, err := c.readInt32()
	if err != nil {
		return err
	}
	if _, err := c.readInt32(); err != nil { // dialect
		return err
	}
	sqlBytes, err := c.readOpaque()
	if err != nil {
		return err
	}
	if _, err := c.readOpaque(); err != nil { // info request
		return err
	}
	if _, err := c.readInt32(); err != nil { // max response size
		return err
	}

	c.srv.mu.Lock()
	res, ok := c.srv.results[string(sqlBytes)]
	c.srv.mu.Unlock()
	if !ok {
		return c.writeError(-104, 335544569, "Dynamic SQL Error")
	}
	if st := c.stmts[stmt]; st != nil {
		st.result = res
	}
	return c.writeResponse(stmt, describeInfo(res.Shape))
}

func (c *srvConn) handleInfoSQL() error {
	stmt, err := c.readInt32()
	if err != nil {
		return err
	}
	if _, err := c.readInt32(); err != nil {
		return err
	}
	req, err := c.readOpaque()
	if err != nil {
		return err
	}
	if _, err := c.readInt32(); err != nil {
		return err
	}

	var desc protocol.RowDescriptor
	if len(req) > 0 && req[0] == 18 { // describe input parameters
		if st := c.stmts[stmt]; st != nil {
			desc = st.result.Input
		}
	}
	return c.writeResponse(0, describeInfo(desc))
}

func (c *srvConn) handleExecute(returning bool) error {
	if _, err := c.readInt32(); err != nil { // transaction
		return err
	}
	stmt, err := c.readInt32()
	if err != nil {
		return err
	}
	if _, err := c.readInt32(); err != nil { // dialect
		return err
	}
	if _, err := c.readOpaque(); err != nil { // parameter image
		return err
	}
	if _, err := c.readInt32(); err != nil { // message number
		return err
	}
	if _, err := c.readInt32(); err != nil { // parameter count
		return err
	}
	if returning {
		if _, err := c.readOpaque(); err != nil { // output blr
			return err
		}
		if _, err := c.readInt32(); err != nil { // output message number
			return err
		}
	}

	st := c.stmts[stmt]
	if st == nil {
		return c.writeError(-104, 335544569, "invalid statement handle")
	}
	st.remaining = append([][]any(nil), st.result.Rows...)

	if returning {
		var buf []byte
		buf = wire.PutInt32(buf, int32(wire.OpSQLResponse))
		if len(st.remaining) > 0 {
			image, err := protocol.EncodeRow(st.result.Shape, st.remaining[0])
			if err != nil {
				return err
			}
			buf = wire.PutInt32(buf, 1)
			buf = wire.PutOpaque(buf, image)
			st.remaining = nil
		} else {
			buf = wire.PutInt32(buf, 0)
		}
		if err := c.write(buf); err != nil {
			return err
		}
	}
	return c.writeResponse(0, nil)
}

func (c *srvConn) handleFetch() error {
	stmt, err := c.readInt32()
	if err != nil {
		return err
	}
	if _, err := c.readOpaque(); err != nil { // blr
		return err
	}
	if _, err := c.readInt32(); err != nil {
		return err
	}
	if _, err := c.readInt32(); err != nil {
		return err
	}

	st := c.stmts[stmt]
	var buf []byte
	buf = wire.PutInt32(buf, int32(wire.OpFetchResponse))
	if st == nil || len(st.remaining) == 0 {
		buf = wire.PutInt32(buf, wire.FetchNoMore)
		buf = wire.PutInt32(buf, 0)
		return c.write(buf)
	}

	buf = wire.PutInt32(buf, wire.FetchOK)
	buf = wire.PutInt32(buf, int32(len(st.remaining)))
	for _, row := range st.remaining {
		image, err := protocol.EncodeRow(st.result.Shape, row)
		if err != nil {
			return err
		}
		buf = wire.PutOpaque(buf, image)
	}
	st.remaining = nil
	return c.write(buf)
}

func (c *srvConn) handleQueueEvents() error {
	if _, err := c.readInt32(); err != nil { // database handle
		return err
	}
	epb, err := c.readOpaque()
	if err != nil {
		return err
	}
	for i := 0; i < 2; i++ { // ast address + argument
		if _, err := c.readInt32(); err != nil {
			return err
		}
	}
	id, err := c.readInt32()
	if err != nil {
		return err
	}

	names, seen, err := parseEPB(epb)
	if err != nil {
		return err
	}
	c.emu.Lock()
	c.pending = &eventReq{id: id, names: names, seen: seen}
	c.emu.Unlock()

	if err := c.writeResponse(id, nil); err != nil {
		return err
	}
	// Counts may already be ahead of what the client has seen.
	c.notify()
	return nil
}

// notify sends an op_event frame if a pending request's counts are behind
// the server's.
func (c *srvConn) notify() {
	c.emu.Lock()
	req := c.pending
	c.emu.Unlock()
	if req == nil {
		return
	}

	c.srv.mu.Lock()
	changed := false
	counts := make(map[string]uint32, len(req.names))
	for _, name := range req.names {
		counts[name] = c.srv.counts[name]
		if counts[name] > req.seen[name] {
			changed = true
		}
	}
	c.srv.mu.Unlock()
	if !changed {
		return
	}

	c.emu.Lock()
	if c.pending != req {
		c.emu.Unlock()
		return
	}
	c.pending = nil
	c.emu.Unlock()

	epb := []byte{1}
	for _, name := range req.names {
		epb = append(epb, byte(len(name)))
		epb = append(epb, name...)
		var cb [4]byte
		binary.LittleEndian.PutUint32(cb[:], counts[name])
		epb = append(epb, cb[:]...)
	}

	var buf []byte
	buf = wire.PutInt32(buf, int32(wire.OpEvent))
	buf = wire.PutInt32(buf, 1) // database handle
	buf = wire.PutOpaque(buf, epb)
	buf = wire.PutInt32(buf, 0) // ast info
	buf = wire.PutInt32(buf, 0)
	buf = wire.PutInt32(buf, req.id)
	_ = c.write(buf)
}

func parseEPB(buf []byte) ([]string, map[string]uint32, error) {
	if len(buf) == 0 || buf[0] != 1 {
		return nil, nil, fmt.Errorf("fbtest: bad EPB version")
	}
	var names []string
	counts := make(map[string]uint32)
	pos := 1
	for pos < len(buf) {
		n := int(buf[pos])
		pos++
		if pos+n+4 > len(buf) {
			return nil, nil, fmt.Errorf("fbtest: truncated EPB")
		}
		name := string(buf[pos : pos+n])
		pos += n
		names = append(names, name)
		counts[name] = binary.LittleEndian.Uint32(buf[pos : pos+4])
		pos += 4
	}
	return names, counts, nil
}

// describeInfo encodes a row shape the way the client's describe decoder
// expects: per-column [tag][len LE16][data] items, each column closed with
// a describe-end item, the whole block closed with isc_info_end.
func describeInfo(desc protocol.RowDescriptor) []byte {
	var buf []byte
	for _, col := range desc {
		buf = appendInfoInt(buf, 5, int32(col.SQLType)) // isc_info_sql_type
		buf = appendInfoInt(buf, 7, int32(col.SubType))
		buf = appendInfoInt(buf, 6, int32(col.Scale))
		buf = appendInfoInt(buf, 8, int32(col.Length))
		nullable := int32(0)
		if col.Nullable {
			nullable = 1
		}
		buf = appendInfoInt(buf, 13, nullable)
		buf = appendInfoStr(buf, 9, col.Name)
		buf = appendInfoStr(buf, 10, col.Relation)
		buf = appendInfoStr(buf, 12, col.Alias)
		buf = append(buf, 14, 0, 0) // describe-end, zero length
	}
	return append(buf, 1) // isc_info_end
}

func appendInfoInt(buf []byte, tag byte, v int32) []byte {
	buf = append(buf, tag, 4, 0)
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(v))
	return append(buf, b[:]...)
}

func appendInfoStr(buf []byte, tag byte, s string) []byte {
	buf = append(buf, tag, byte(len(s)), byte(len(s)>>8))
	return append(buf, s...)
}

func (c *srvConn) readInt32() (int32, error) {
	var b [4]byte
	if _, err := io.ReadFull(c.r, b[:]); err != nil {
		return 0, err
	}
	return int32(binary.BigEndian.Uint32(b[:])), nil
}

func (c *srvConn) readOpaque() ([]byte, error) {
	n, err := c.readInt32()
	if err != nil {
		return nil, err
	}
	if n <= 0 {
		return nil, nil
	}
	buf := make([]byte, wire.PaddedLen(int(n)))
	if _, err := io.ReadFull(c.r, buf); err != nil {
		return nil, err
	}
	return buf[:n], nil
}

func (c *srvConn) write(buf []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_, err := c.conn.Write(buf)
	return err
}

func (c *srvConn) writeResponse(handle int32, data []byte) error {
	var buf []byte
	buf = wire.PutInt32(buf, int32(wire.OpResponse))
	buf = wire.PutInt32(buf, handle)
	buf = append(buf, make([]byte, 8)...) // blob id
	buf = wire.PutOpaque(buf, data)
	buf = wire.PutInt32(buf, 0) // success status
	return c.write(buf)
}

func (c *srvConn) writeError(sqlCode, gdsCode int32, msg string) error {
	var buf []byte
	buf = wire.PutInt32(buf, int32(wire.OpResponse))
	buf = wire.PutInt32(buf, 0)
	buf = append(buf, make([]byte, 8)...)
	buf = wire.PutOpaque(buf, nil)
	buf = wire.PutInt32(buf, sqlCode)
	buf = wire.PutInt32(buf, gdsCode)
	buf = wire.PutString(buf, msg)
	return c.write(buf)
}
