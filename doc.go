// Package firebirdsql speaks Firebird's native wire protocol directly: no
// vendor client library, no cgo. Open a Connection with Connect, run SQL
// through Statement, group statements with Transaction, and reuse
// connections through the pool and event packages for long-lived
// applications.
//
// Everything below Connection — wire framing, crypto, compression, the
// handshake, and the XSQLDA/DPB/TPB/EPB wire formats — lives under
// internal/ and is not part of the public API surface.
package firebirdsql
