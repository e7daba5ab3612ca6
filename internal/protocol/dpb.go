// Package protocol implements the Firebird wire protocol's structured
// parameter blocks (DPB, TPB, EPB), info-request/info-response decoding,
// and the XSQLDA row-descriptor/row-image format.
package protocol

// Database Parameter Block tags (isc_dpb_*).
const (
	dpbVersion1      = 1
	dpbUser          = 28
	dpbPassword      = 29
	dpbSQLRole       = 60
	dpbLCCType       = 48 // lc_ctype: client character set
	dpbSQLDialect    = 63
	dpbSetDBCharset  = 68
	dpbUTF8Filename  = 0
	dpbTrustedAuth   = 111
	dpbNumBuffers    = 5
	dpbPageSize      = 4
	dpbSessionTZ     = 91
)

// DPBBuilder accumulates a Database Parameter Block, the tagged byte buffer
// op_attach/op_create send describing how to open (or create) a database.
type DPBBuilder struct {
	buf []byte
}

// NewDPBBuilder starts a DPB with the version-1 marker byte all Firebird
// parameter blocks begin with.
func NewDPBBuilder() *DPBBuilder {
	return &DPBBuilder{buf: []byte{dpbVersion1}}
}

func (b *DPBBuilder) putString(tag byte, v string) *DPBBuilder {
	if v == "" {
		return b
	}
	b.buf = append(b.buf, tag, byte(len(v)))
	b.buf = append(b.buf, v...)
	return b
}

func (b *DPBBuilder) putByte(tag byte, v byte) *DPBBuilder {
	b.buf = append(b.buf, tag, 1, v)
	return b
}

// UserName sets the login name (isc_dpb_user_name).
func (b *DPBBuilder) UserName(name string) *DPBBuilder { return b.putString(dpbUser, name) }

// Password sets the plaintext password for Legacy_Auth; ignored by the
// server when SRP authentication already established the session.
func (b *DPBBuilder) Password(pw string) *DPBBuilder { return b.putString(dpbPassword, pw) }

// Role sets the SQL role to assume after attaching.
func (b *DPBBuilder) Role(role string) *DPBBuilder { return b.putString(dpbSQLRole, role) }

// Charset sets the client character set (isc_dpb_lc_ctype).
func (b *DPBBuilder) Charset(charset string) *DPBBuilder { return b.putString(dpbLCCType, charset) }

// Timezone sets the session time zone (isc_dpb_session_time_zone, FB4+);
// servers that predate it ignore the clumplet.
func (b *DPBBuilder) Timezone(tz string) *DPBBuilder { return b.putString(dpbSessionTZ, tz) }

// PageSize sets the page size for database creation; ignored by op_attach.
func (b *DPBBuilder) PageSize(bytes int32) *DPBBuilder {
	b.buf = append(b.buf, dpbPageSize, 4)
	b.buf = append(b.buf, int32LE(bytes)...)
	return b
}

// Dialect sets the SQL dialect the connection should speak (3 for modern
// databases).
func (b *DPBBuilder) Dialect(dialect int32) *DPBBuilder {
	b.buf = append(b.buf, dpbSQLDialect, 4)
	b.buf = append(b.buf, int32LE(dialect)...)
	return b
}

// Bytes returns the accumulated DPB.
func (b *DPBBuilder) Bytes() []byte { return b.buf }

// int32LE encodes a DPB numeric value: Firebird's isc_dpb/isc_tpb integer
// clumplets are little-endian, unlike the big-endian wire operations that
// carry them — the same historical inconsistency the EPB count field has.
func int32LE(v int32) []byte {
	u := uint32(v)
	return []byte{byte(u), byte(u >> 8), byte(u >> 16), byte(u >> 24)}
}
