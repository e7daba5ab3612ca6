package protocol

import (
	"encoding/binary"
	"fmt"
)

// MaxEvents is the largest number of distinct events a single alerter may
// register, mirroring the server-side limit on an Event Parameter Block.
const MaxEvents = 15

const epbVersion1 = 1

// EPBBuilder assembles an Event Parameter Block: a version byte followed by
// one [len][name][count] entry per registered event. Counts are
// little-endian 32-bit integers — unlike every other integer on this wire
// protocol, which is big-endian. This is a preserved historical oddity, not
// a bug.
type EPBBuilder struct {
	names []string
}

// NewEPBBuilder validates the event name list against MaxEvents.
func NewEPBBuilder(names []string) (*EPBBuilder, error) {
	if len(names) == 0 {
		return nil, fmt.Errorf("protocol: at least one event name required")
	}
	if len(names) > MaxEvents {
		return nil, fmt.Errorf("protocol: %d events exceeds the %d-event limit", len(names), MaxEvents)
	}
	return &EPBBuilder{names: append([]string(nil), names...)}, nil
}

// Build returns the wire EPB with every event's count seeded at zero — the
// initial registration buffer sent with op_queue_events.
func (b *EPBBuilder) Build() []byte {
	return b.BuildWithCounts(make(map[string]uint32))
}

// BuildWithCounts returns the wire EPB carrying the given per-event counts,
// used when re-queueing after a delivery so the server only reports further
// increments.
func (b *EPBBuilder) BuildWithCounts(counts map[string]uint32) []byte {
	buf := []byte{epbVersion1}
	for _, name := range b.names {
		buf = append(buf, byte(len(name)))
		buf = append(buf, name...)
		var countBytes [4]byte
		binary.LittleEndian.PutUint32(countBytes[:], counts[name])
		buf = append(buf, countBytes[:]...)
	}
	return buf
}

// Names returns the registered event names in their fixed order.
func (b *EPBBuilder) Names() []string { return b.names }

// ParseEPBCounts decodes an EPB (registration or result buffer) into a
// name -> count map.
func ParseEPBCounts(buf []byte) (map[string]uint32, error) {
	if len(buf) == 0 || buf[0] != epbVersion1 {
		return nil, fmt.Errorf("protocol: unsupported EPB version")
	}
	counts := make(map[string]uint32)
	pos := 1
	for pos < len(buf) {
		nameLen := int(buf[pos])
		pos++
		if pos+nameLen+4 > len(buf) {
			return nil, fmt.Errorf("protocol: truncated EPB entry")
		}
		name := string(buf[pos : pos+nameLen])
		pos += nameLen
		counts[name] = binary.LittleEndian.Uint32(buf[pos : pos+4])
		pos += 4
	}
	return counts, nil
}

// DiffEventCounts compares a previous and current EPB decode, returning the
// events whose count strictly increased along with the positive delta.
// Matches alerter.rs's parse_event_counts: only events with new > old fire.
func DiffEventCounts(prev, cur map[string]uint32) map[string]uint32 {
	deltas := make(map[string]uint32)
	for name, curCount := range cur {
		if curCount > prev[name] {
			deltas[name] = curCount - prev[name]
		}
	}
	return deltas
}
