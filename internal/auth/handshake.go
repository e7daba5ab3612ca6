package auth

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"log/slog"

	"github.com/lirix-data/firebirdsql/internal/fberr"
	"github.com/lirix-data/firebirdsql/internal/wire"
)

// Protocol version range this client offers, oldest first. The server picks
// the highest version it also supports.
var offeredVersions = []int32{10, 11, 12, 13, 15, 16}

// cnct clumplet tags for the user identification block sent with op_connect.
const (
	cnctLogin        = 1
	cnctPluginName   = 9
	cnctPluginList   = 10
	cnctSpecificData = 11
	cnctClientCrypt  = 12
)

// pluginOrder is tried in this order unless the caller names one explicitly.
var pluginOrder = []string{"Srp256", "Srp", "Legacy_Auth"}

// Options carries the caller's negotiated handshake preferences, sourced
// from the connection URL.
type Options struct {
	User           string
	Password       string
	AuthPluginName string // empty means try pluginOrder
	WireCrypt      bool   // explicit false always wins, per the connection URL's wire_crypt=false override
	WireCryptSet   bool   // whether WireCrypt was explicitly present in the URL
}

// Result is what the connection layer needs to finish attaching: the
// negotiated protocol version and whether wire-crypt ended up installed.
type Result struct {
	ProtocolVersion int32
	AuthPlugin      string
	CryptInstalled  bool
}

// Run drives steps 1-5 of the handshake over ch: op_connect, the
// accept/cont_auth exchange, and — if negotiated and not vetoed by
// opts.WireCrypt — wire-crypt installation. It does not send op_attach;
// that belongs to the connection layer, which needs the negotiated plugin
// name to build the Database Parameter Block.
func Run(ctx context.Context, ch *wire.Channel, opts Options) (*Result, error) {
	plugins := pluginOrder
	if opts.AuthPluginName != "" {
		plugins = []string{opts.AuthPluginName}
	}

	client, err := clientFor(plugins[0])
	if err != nil {
		return nil, err
	}

	if err := sendConnect(ch, opts.User, plugins, client); err != nil {
		return nil, err
	}
	if err := ch.Flush(); err != nil {
		return nil, err
	}

	res, accepted, err := readAcceptance(ch)
	if err != nil {
		return nil, err
	}

	if !accepted.authenticated && isSRPPlugin(accepted.pluginName) {
		// The server picked a different SRP variant than we guessed; redo
		// op_connect advertising only that plugin so its challenge lines
		// up with a freshly generated keypair of the right hash kind.
		if client == nil || hashKindFor(accepted.pluginName) != client.kind {
			client, err = NewClient(accepted.pluginName)
			if err != nil {
				return nil, fberr.Wrap(fberr.AuthFailed, err, "generating SRP client for server-selected plugin")
			}
			if err := sendConnect(ch, opts.User, []string{accepted.pluginName}, client); err != nil {
				return nil, err
			}
			if err := ch.Flush(); err != nil {
				return nil, err
			}
			res, accepted, err = readAcceptance(ch)
			if err != nil {
				return nil, err
			}
		}

		if err := continueSRP(ch, client, opts.User, opts.Password, accepted.authData); err != nil {
			return nil, err
		}
		accepted.authenticated = true
	}

	if !accepted.authenticated {
		return nil, fberr.New(fberr.AuthFailed, "server offered unsupported plugin %q", accepted.pluginName)
	}
	res.AuthPlugin = accepted.pluginName

	wantCrypt := opts.WireCrypt
	if !opts.WireCryptSet {
		wantCrypt = true // default: attempt crypt whenever the plugin offers it
	}
	if wantCrypt && client != nil && client.SessionKey() != nil {
		if err := installCrypt(ch, client); err != nil {
			return nil, err
		}
		res.CryptInstalled = true
	}

	slog.Debug("firebird handshake complete",
		"protocol_version", res.ProtocolVersion,
		"auth_plugin", res.AuthPlugin,
		"wire_crypt", res.CryptInstalled)

	return res, nil
}

func clientFor(plugin string) (*Client, error) {
	if !isSRPPlugin(plugin) {
		return nil, nil
	}
	client, err := NewClient(plugin)
	if err != nil {
		return nil, fberr.Wrap(fberr.AuthFailed, err, "generating SRP client keypair")
	}
	return client, nil
}

func isSRPPlugin(name string) bool {
	return name == "Srp256" || name == "Srp"
}

func hashKindFor(plugin string) HashKind {
	if plugin == "Srp256" {
		return HashSHA256
	}
	return HashSHA1
}

func sendConnect(ch *wire.Channel, user string, plugins []string, client *Client) error {
	var uid []byte
	uid = appendClumplet(uid, cnctLogin, []byte(user))
	uid = appendClumplet(uid, cnctPluginName, []byte(plugins[0]))
	uid = appendClumplet(uid, cnctPluginList, []byte(joinPlugins(plugins)))
	if client != nil {
		uid = appendClumplet(uid, cnctSpecificData, []byte(client.PublicKey()))
	}
	uid = appendClumplet(uid, cnctClientCrypt, []byte{1, 0, 0, 0})

	var buf []byte
	buf = wire.PutInt32(buf, int32(wire.OpConnect))
	buf = wire.PutInt32(buf, int32(wire.OpAttach))
	buf = wire.PutInt32(buf, wire.ConnectVersion3)
	buf = wire.PutInt32(buf, wire.ArchGeneric)
	buf = wire.PutString(buf, "") // p_cnct_file: filled in by op_attach, not here
	buf = wire.PutOpaque(buf, uid)
	buf = wire.PutInt32(buf, int32(len(offeredVersions)))
	for _, v := range offeredVersions {
		buf = wire.PutInt32(buf, v)
		buf = wire.PutInt32(buf, wire.ArchGeneric)
		buf = wire.PutInt32(buf, wire.PTypeBatchSend)
		buf = wire.PutInt32(buf, wire.PTypeRPC)
		buf = wire.PutInt32(buf, 0)
	}

	return ch.Write(buf)
}

func joinPlugins(plugins []string) string {
	out := plugins[0]
	for _, p := range plugins[1:] {
		out += "," + p
	}
	return out
}

// acceptance holds the fields this client needs out of
// op_accept/op_accept_data/op_cond_accept.
type acceptance struct {
	pluginName    string
	authenticated bool
	authData      []byte
}

// readAcceptance reads the server's reply to op_connect, decoding
// primitives one at a time off the channel rather than guessing a buffer
// size — op_accept and op_accept_data/op_cond_accept share a 3-int32
// prefix (protocol version, architecture, connection type), after which
// the data variants carry the auth challenge.
func readAcceptance(ch *wire.Channel) (*Result, acceptance, error) {
	op, err := readOp(ch)
	if err != nil {
		return nil, acceptance{}, err
	}

	switch op {
	case wire.OpAccept:
		version, err := readInt32(ch)
		if err != nil {
			return nil, acceptance{}, err
		}
		if _, err := ch.Read(8); err != nil { // architecture, connection type
			return nil, acceptance{}, err
		}
		return &Result{ProtocolVersion: version}, acceptance{pluginName: "Legacy_Auth", authenticated: true}, nil

	case wire.OpAcceptData, wire.OpCondAccept:
		version, err := readInt32(ch)
		if err != nil {
			return nil, acceptance{}, err
		}
		if _, err := ch.Read(8); err != nil {
			return nil, acceptance{}, err
		}
		authData, err := readOpaque(ch)
		if err != nil {
			return nil, acceptance{}, err
		}
		pluginNameBytes, err := readOpaque(ch)
		if err != nil {
			return nil, acceptance{}, err
		}
		authenticatedFlag, err := readInt32(ch)
		if err != nil {
			return nil, acceptance{}, err
		}
		if _, err := readOpaque(ch); err != nil { // plugin list the server also accepts, unused here
			return nil, acceptance{}, err
		}
		return &Result{ProtocolVersion: version}, acceptance{
			pluginName:    string(pluginNameBytes),
			authenticated: authenticatedFlag != 0,
			authData:      authData,
		}, nil

	case wire.OpResponse:
		statusErr, rerr := readResponseError(ch)
		if rerr != nil {
			return nil, acceptance{}, rerr
		}
		if statusErr == nil {
			statusErr = fberr.New(fberr.AuthFailed, "server rejected connection")
		}
		return nil, acceptance{}, fberr.Wrap(fberr.AuthFailed, statusErr, "connection rejected")

	default:
		return nil, acceptance{}, fberr.New(fberr.Protocol, "unexpected op %d during handshake", op)
	}
}

// continueSRP completes the proof exchange: derive the session key and
// client proof from the server's salt+B, then send op_cont_auth.
func continueSRP(ch *wire.Channel, client *Client, user, password string, authData []byte) error {
	salt, serverB, err := splitSaltAndB(authData)
	if err != nil {
		return fberr.Wrap(fberr.AuthFailed, err, "parsing SRP challenge")
	}
	if err := client.ComputeProof(user, password, salt, serverB); err != nil {
		return fberr.Wrap(fberr.AuthFailed, err, "computing SRP proof")
	}

	var buf []byte
	buf = wire.PutInt32(buf, int32(wire.OpContAuth))
	buf = wire.PutOpaque(buf, client.Proof())
	buf = wire.PutString(buf, "") // plugin name: server already knows which one it offered
	buf = wire.PutString(buf, "")
	buf = wire.PutOpaque(buf, nil)
	if err := ch.Write(buf); err != nil {
		return err
	}
	if err := ch.Flush(); err != nil {
		return err
	}

	op, err := readOp(ch)
	if err != nil {
		return err
	}
	if op == wire.OpResponse {
		statusErr, err := readResponseError(ch)
		if err != nil {
			return err
		}
		if statusErr != nil {
			return fberr.Wrap(fberr.AuthFailed, statusErr, "SRP proof rejected")
		}
	}
	return nil
}

// splitSaltAndB unpacks the accept-data auth-data blob Firebird's SRP
// plugins send: a little-endian u16 length followed by the raw salt, then a
// second u16 length followed by the server's public ephemeral B as hex text.
// The two little-endian lengths inside an otherwise big-endian protocol are
// the parameter-block convention leaking through, same as DPB integers.
func splitSaltAndB(authData []byte) (salt, serverB []byte, err error) {
	if len(authData) < 2 {
		return nil, nil, fmt.Errorf("auth: SRP challenge too short")
	}
	saltLen := int(binary.LittleEndian.Uint16(authData))
	rest := authData[2:]
	if saltLen > len(rest) {
		return nil, nil, fmt.Errorf("auth: SRP challenge salt length %d exceeds payload", saltLen)
	}
	salt = rest[:saltLen]
	rest = rest[saltLen:]

	if len(rest) < 2 {
		return nil, nil, fmt.Errorf("auth: SRP challenge missing server key")
	}
	keyLen := int(binary.LittleEndian.Uint16(rest))
	rest = rest[2:]
	if keyLen > len(rest) {
		return nil, nil, fmt.Errorf("auth: SRP challenge key length %d exceeds payload", keyLen)
	}
	serverB, err = hex.DecodeString(string(rest[:keyLen]))
	if err != nil {
		return nil, nil, fmt.Errorf("auth: decoding server public key: %w", err)
	}
	return salt, serverB, nil
}

// installCrypt sends op_crypt naming the negotiated cipher family, then
// installs translators on both channel directions. Firebird derives the
// ChaCha/ARC4 key from the raw SRP session key; SetCryptKey applies the
// SHA-256 step for ChaCha itself.
func installCrypt(ch *wire.Channel, client *Client) error {
	plugin := "ChaCha"
	key := client.SessionKey()

	var buf []byte
	buf = wire.PutInt32(buf, int32(wire.OpCrypt))
	buf = wire.PutString(buf, plugin)
	buf = wire.PutString(buf, plugin)
	if err := ch.Write(buf); err != nil {
		return err
	}
	if err := ch.Flush(); err != nil {
		return err
	}

	op, err := readOp(ch)
	if err != nil {
		return err
	}
	if op == wire.OpResponse {
		statusErr, err := readResponseError(ch)
		if err != nil {
			return err
		}
		if statusErr != nil {
			return fberr.Wrap(fberr.Protocol, statusErr, "op_crypt rejected")
		}
	}

	nonce := key[:8]
	return ch.SetCryptKey(plugin, key, nonce)
}

func readOp(ch *wire.Channel) (wire.Op, error) {
	b, err := ch.Read(4)
	if err != nil {
		return 0, err
	}
	return wire.Op(wire.Int32At(b)), nil
}

func readInt32(ch *wire.Channel) (int32, error) {
	b, err := ch.Read(4)
	if err != nil {
		return 0, err
	}
	return wire.Int32At(b), nil
}

func readOpaque(ch *wire.Channel) ([]byte, error) {
	n, err := readInt32(ch)
	if err != nil {
		return nil, err
	}
	if n <= 0 {
		return nil, nil
	}
	b, err := ch.Read(wire.PaddedLen(int(n)))
	if err != nil {
		return nil, err
	}
	return b[:n], nil
}

// readResponseError decodes the remainder of an op_response frame: the
// object handle, a blob id, an opaque data block, and a status vector.
// Returns nil if the status vector signals success.
func readResponseError(ch *wire.Channel) (error, error) {
	if _, err := readInt32(ch); err != nil { // p_resp_object
		return nil, err
	}
	if _, err := ch.Read(8); err != nil { // p_resp_blob_id
		return nil, err
	}
	if _, err := readOpaque(ch); err != nil { // p_resp_data
		return nil, err
	}

	sqlCode, err := readInt32(ch)
	if err != nil {
		return nil, err
	}
	if sqlCode == 0 {
		return nil, nil
	}
	gdsCode, err := readInt32(ch)
	if err != nil {
		return nil, err
	}
	msg, err := readOpaque(ch)
	if err != nil {
		return nil, err
	}
	return fberr.FromStatus([]fberr.StatusItem{{SQLCode: sqlCode, GDSCode: gdsCode, Message: string(msg)}}, ""), nil
}

// appendClumplet appends a [tag byte][len byte][data] item, the format
// Firebird's DPB/UID blocks use for short (<256 byte) values.
func appendClumplet(dst []byte, tag byte, data []byte) []byte {
	dst = append(dst, tag, byte(len(data)))
	return append(dst, data...)
}
