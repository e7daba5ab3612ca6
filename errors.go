package firebirdsql

import "github.com/lirix-data/firebirdsql/internal/fberr"

// Error is the library's error type: a Kind plus an optional server status
// vector and wrapped cause. Use errors.As to recover one from a returned
// error.
type Error = fberr.Error

// Kind classifies what went wrong, independent of the message text.
type Kind = fberr.Kind

// Error kinds. See Kind's String method for descriptions.
const (
	KindNetwork      = fberr.Network
	KindProtocol     = fberr.Protocol
	KindAuthFailed   = fberr.AuthFailed
	KindServer       = fberr.Server
	KindStatement    = fberr.Statement
	KindTypeMismatch = fberr.TypeMismatch
	KindPool         = fberr.Pool
	KindInternal     = fberr.Internal
)
