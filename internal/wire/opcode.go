package wire

// Op is a Firebird wire protocol operation code. All operation codes are
// transmitted as a big-endian 4-byte integer and precede every request and
// response frame.
type Op int32

// Operation codes from the Firebird protocol reference (protocol.h in the
// Firebird source tree). Only the subset this client drives is named.
const (
	OpConnect           Op = 1
	OpExit              Op = 2
	OpAccept            Op = 3
	OpReject            Op = 4
	OpDisconnect        Op = 6
	OpResponse          Op = 9
	OpAttach            Op = 19
	OpCreate            Op = 20
	OpDetach            Op = 21
	OpTransaction       Op = 29
	OpCommit            Op = 30
	OpRollback          Op = 31
	OpOpenBlob          Op = 35
	OpGetSegment        Op = 36
	OpPutSegment        Op = 37
	OpCloseBlob         Op = 39
	OpInfoDatabase      Op = 40
	OpInfoTransaction   Op = 42
	OpInfoBlob          Op = 43
	OpQueueEvents       Op = 48
	OpCancelEvents      Op = 49
	OpCommitRetaining   Op = 50
	OpEvent             Op = 52
	OpConnectRequest    Op = 53
	OpCreateBlob2       Op = 57
	OpAllocateStatement Op = 62
	OpExecute           Op = 63
	OpExecImmediate     Op = 64
	OpFetch             Op = 65
	OpFetchResponse     Op = 66
	OpFreeStatement     Op = 67
	OpPrepareStatement  Op = 68
	OpInfoSQL           Op = 70
	OpDummy             Op = 71
	OpExecute2          Op = 76
	OpSQLResponse       Op = 78
	OpRollbackRetaining Op = 86
	OpCancel            Op = 91
	OpContAuth          Op = 92
	OpPing              Op = 93
	OpAcceptData        Op = 94
	OpCrypt             Op = 96
	OpCryptKeyCallback  Op = 97
	OpCondAccept        Op = 98
)

// Statement handling flags for OpFreeStatement.
const (
	DSQLClose     = 1
	DSQLDrop      = 2
	DSQLUnprepare = 4
)

// Fetch status values returned in an op_fetch_response: 0 means a row
// follows, 100 means end of cursor. Neither is an error — server errors
// arrive as an op_response with a status vector instead.
const (
	FetchOK     = 0
	FetchNoMore = 100
)

// Architecture / connect-block constants for op_connect.
const (
	ConnectVersion3 int32 = 3
	ArchGeneric     int32 = 1
	PTypeBatchSend  int32 = 3
	PTypeRPC        int32 = 2
)
