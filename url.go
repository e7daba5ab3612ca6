package firebirdsql

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// DefaultPort is the Firebird server's standard listening port.
const DefaultPort = 3050

// ConnectOptions is the parsed form of a firebird:// connection URL.
type ConnectOptions struct {
	User     string
	Password string
	Host     string
	Port     int
	Database string

	AuthPluginName string // Srp256 (default), Srp, or Legacy_Auth
	WireCrypt      bool
	WireCryptSet   bool
	Compress       bool
	Role           string
	Charset        string
	Timezone       string
	Timeout        int // seconds
}

// ParseURL parses firebird://<user>:<pass>@<host>[:<port>]/<dbpath>[?k=v&…].
func ParseURL(raw string) (*ConnectOptions, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("firebirdsql: invalid connection URL: %w", err)
	}
	if u.Scheme != "firebird" {
		return nil, fmt.Errorf("firebirdsql: unsupported scheme %q, expected \"firebird\"", u.Scheme)
	}

	opts := &ConnectOptions{
		Host:           u.Hostname(),
		Port:           DefaultPort,
		Database:       strings.TrimPrefix(u.Path, "/"),
		AuthPluginName: "Srp256",
		Charset:        "UTF8",
	}
	if u.User != nil {
		opts.User = u.User.Username()
		opts.Password, _ = u.User.Password()
	}
	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("firebirdsql: invalid port %q: %w", p, err)
		}
		opts.Port = port
	}
	if opts.Database == "" {
		return nil, fmt.Errorf("firebirdsql: connection URL is missing a database path")
	}

	q := u.Query()
	if v := q.Get("auth_plugin_name"); v != "" {
		opts.AuthPluginName = v
	}
	if v := q.Get("wire_crypt"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("firebirdsql: invalid wire_crypt value %q: %w", v, err)
		}
		opts.WireCrypt = b
		opts.WireCryptSet = true
	}
	if v := q.Get("compress"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("firebirdsql: invalid compress value %q: %w", v, err)
		}
		opts.Compress = b
	}
	if v := q.Get("role"); v != "" {
		opts.Role = v
	}
	if v := q.Get("charset"); v != "" {
		opts.Charset = v
	}
	if v := q.Get("timezone"); v != "" {
		opts.Timezone = v
	}
	if v := q.Get("timeout"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("firebirdsql: invalid timeout value %q: %w", v, err)
		}
		opts.Timeout = n
	}

	return opts, nil
}

// Addr returns the host:port dial target.
func (o *ConnectOptions) Addr() string {
	return fmt.Sprintf("%s:%d", o.Host, o.Port)
}
