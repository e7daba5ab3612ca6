package firebirdsql

import (
	"time"

	"github.com/lirix-data/firebirdsql/internal/fberr"
	"github.com/lirix-data/firebirdsql/internal/wire"
)

// Event is one op_event notification: the id returned by QueueEvents and
// the result Event Parameter Block carrying per-event counts.
type Event struct {
	ID        int32
	ResultEPB []byte
}

// QueueEvents registers interest in the events named by epb (an Event
// Parameter Block) and returns the server-assigned request id, used later
// to cancel. The notification itself arrives asynchronously as an op_event
// frame; see WaitForEvent.
func (c *Connection) QueueEvents(epb []byte, localID int32) (int32, error) {
	if err := c.checkPoisoned(); err != nil {
		return 0, err
	}

	var buf []byte
	buf = wire.PutInt32(buf, int32(wire.OpQueueEvents))
	buf = wire.PutInt32(buf, c.dbHandle)
	buf = wire.PutOpaque(buf, epb)
	buf = wire.PutInt32(buf, 0) // ast routine address, meaningless over the wire
	buf = wire.PutInt32(buf, 0) // ast argument
	buf = wire.PutInt32(buf, localID)
	if err := c.ch.Write(buf); err != nil {
		return 0, c.poison(err)
	}
	if err := c.ch.Flush(); err != nil {
		return 0, c.poison(err)
	}

	id, _, err := c.readResponse()
	if err != nil {
		return 0, c.poison(fberr.Wrap(fberr.Server, err, "queueing events"))
	}
	return id, nil
}

// WaitForEvent blocks up to timeout for an op_event frame on this
// connection. It returns (nil, nil) when the timeout elapses without a
// frame — the caller polls in a loop so it can observe a stop flag between
// waits. The connection must be dedicated to event delivery: no other
// request may be in flight while waiting.
func (c *Connection) WaitForEvent(timeout time.Duration) (*Event, error) {
	if err := c.checkPoisoned(); err != nil {
		return nil, err
	}

	ready, err := c.ch.WaitReadable(timeout)
	if err != nil {
		return nil, c.poison(err)
	}
	if !ready {
		return nil, nil
	}

	opBytes, err := c.ch.Read(4)
	if err != nil {
		return nil, c.poison(err)
	}
	op := wire.Op(wire.Int32At(opBytes))
	if op == wire.OpDummy {
		return nil, nil
	}
	if op != wire.OpEvent {
		return nil, fberr.New(fberr.Protocol, "expected op_event, got op %d", op)
	}

	if _, err := c.ch.Read(4); err != nil { // database handle
		return nil, c.poison(err)
	}
	epbLenBytes, err := c.ch.Read(4)
	if err != nil {
		return nil, c.poison(err)
	}
	epbLen := int(wire.Uint32At(epbLenBytes))
	var epb []byte
	if epbLen > 0 {
		raw, err := c.ch.Read(wire.PaddedLen(epbLen))
		if err != nil {
			return nil, c.poison(err)
		}
		epb = raw[:epbLen]
	}
	if _, err := c.ch.Read(8); err != nil { // ast info, unused by the wire transport
		return nil, c.poison(err)
	}
	idBytes, err := c.ch.Read(4)
	if err != nil {
		return nil, c.poison(err)
	}

	return &Event{ID: wire.Int32At(idBytes), ResultEPB: epb}, nil
}

// CancelEvents revokes a pending event request by the id QueueEvents
// returned.
func (c *Connection) CancelEvents(id int32) error {
	if err := c.checkPoisoned(); err != nil {
		return err
	}

	var buf []byte
	buf = wire.PutInt32(buf, int32(wire.OpCancelEvents))
	buf = wire.PutInt32(buf, c.dbHandle)
	buf = wire.PutInt32(buf, id)
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
