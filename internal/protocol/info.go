package protocol

import "fmt"

// isc_info_end terminates every info-response buffer.
const infoEnd = 1

// InfoItem is one decoded [tag][len][data] entry from an info-response
// buffer (the format op_info_database, op_info_transaction, op_info_sql
// and op_info_blob all share).
type InfoItem struct {
	Tag  byte
	Data []byte
}

// ParseInfoBlock decodes a self-describing info-response buffer into its
// tagged items, stopping at isc_info_end or truncated input.
func ParseInfoBlock(buf []byte) ([]InfoItem, error) {
	var items []InfoItem
	pos := 0
	for pos < len(buf) {
		tag := buf[pos]
		pos++
		if tag == infoEnd {
			return items, nil
		}
		if pos+2 > len(buf) {
			return nil, fmt.Errorf("protocol: truncated info block after tag %d", tag)
		}
		n := int(buf[pos]) | int(buf[pos+1])<<8 // info-block lengths are little-endian
		pos += 2
		if pos+n > len(buf) {
			return nil, fmt.Errorf("protocol: info item tag %d declares %d bytes past buffer end", tag, n)
		}
		items = append(items, InfoItem{Tag: tag, Data: buf[pos : pos+n]})
		pos += n
	}
	return items, fmt.Errorf("protocol: info block missing isc_info_end terminator")
}

// Int32 decodes a little-endian integer info item, the shape Firebird uses
// for numeric info responses regardless of their declared width.
func (i InfoItem) Int32() int32 {
	var v int32
	for shift, b := range i.Data {
		v |= int32(b) << (8 * shift)
	}
	return v
}
