package protocol

import "fmt"

// isc_info_sql_* tags relevant to describing a prepared statement's input
// or output row shape.
const (
	infoSQLSelect        = 4
	infoSQLDescribeVars  = 18
	infoSQLSQLDAVersion1 = 2
	infoSQLType          = 5
	infoSQLSubType        = 7
	infoSQLScale          = 6
	infoSQLLength         = 8
	infoSQLField          = 9
	infoSQLRelation       = 10
	infoSQLAlias          = 12
	infoSQLNullInd        = 13
	infoSQLDescribeEnd    = 14
	infoSQLStmtType       = 21
)

// DescribeRequest builds the op_info_sql request buffer asking the server
// to describe a statement's output row shape (DescribeInputRequest covers
// the input shape).
func DescribeRequest() []byte {
	return []byte{infoSQLSelect, infoSQLDescribeVars, infoEnd}
}

// DescribeInputRequest builds the op_info_sql request buffer asking the
// server to describe a statement's input (parameter) row shape.
func DescribeInputRequest() []byte {
	return []byte{infoSQLDescribeVars, infoEnd}
}

// StatementTypeRequest asks for the statement's DSQL type (SELECT, INSERT,
// EXECUTE PROCEDURE, ...), used to decide whether op_execute or op_execute2
// applies.
func StatementTypeRequest() []byte {
	return []byte{infoSQLStmtType, infoEnd}
}

// DecodeDescribe parses a describe-vars info response into a
// RowDescriptor. The response is a flat sequence of per-column items
// (type, subtype, scale, length, null indicator, field, relation, alias),
// each column terminated by infoSQLDescribeEnd.
func DecodeDescribe(items []InfoItem) (RowDescriptor, error) {
	var desc RowDescriptor
	var cur ColumnDesc
	haveAny := false

	for _, item := range items {
		switch item.Tag {
		case infoSQLType:
			cur.SQLType = int16(item.Int32())
			haveAny = true
		case infoSQLSubType:
			cur.SubType = int16(item.Int32())
		case infoSQLScale:
			cur.Scale = int16(item.Int32())
		case infoSQLLength:
			cur.Length = int16(item.Int32())
		case infoSQLNullInd:
			cur.Nullable = item.Int32() != 0
		case infoSQLField:
			cur.Name = string(item.Data)
		case infoSQLRelation:
			cur.Relation = string(item.Data)
		case infoSQLAlias:
			cur.Alias = string(item.Data)
		case infoSQLDescribeEnd:
			if haveAny {
				desc = append(desc, cur)
				cur = ColumnDesc{}
				haveAny = false
			}
		default:
			return nil, fmt.Errorf("protocol: unexpected describe item tag %d", item.Tag)
		}
	}
	if haveAny {
		desc = append(desc, cur)
	}
	return desc, nil
}
