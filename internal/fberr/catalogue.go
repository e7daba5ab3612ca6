package fberr

import (
	"strconv"
	"strings"
)

// catalogue is a representative slice of Firebird's gds-code message
// catalogue (the real vendor table has thousands of entries compiled from
// msg.sql; this carries the subset a client actually surfaces to callers).
// "%s" marks where a status item's message argument goes. Each status item
// carries a single argument string, so only the first "%s" of an entry is
// filled; any later ones stay in the text as written.
var catalogue = map[int32]string{
	335544321: "arithmetic exception, numeric overflow, or string truncation",
	335544344: "database file appears corrupt (%s)",
	335544347: "I/O error for file %s",
	335544351: "unable to complete network request to host %s",
	335544352: "failed to establish a connection",
	335544358: "login name and password are required",
	335544372: "no message for code %s found",
	335544569: "dynamic SQL Error",
	335544570: "Invalid command",
	335544849: "Your user name and password are not defined. Ask your database administrator to set up a Firebird login",
	335544472: "password length exceeded",
	335544530: "violation of PRIMARY or UNIQUE KEY constraint \"%s\" on table \"%s\"",
	336330757: "unsupported on-disk structure for file %s; found %s, support %s",
	336330947: "no permission for %s access to %s %s",
	335544665: "invalid cursor reference",
	335544845: "Invalid connection string",
	335545106: "Unable to complete network request",
}

// Interpolate places args, a status item's single argument string, at the
// first "%s" of the catalogue entry for code; later "%s" slots are not
// filled. An unknown code falls back to a generic description that carries
// args.
func Interpolate(code int32, args string) string {
	format, ok := catalogue[code]
	if !ok {
		if args != "" {
			return "unknown error " + strconv.Itoa(int(code)) + ": " + args
		}
		return "unknown error " + strconv.Itoa(int(code))
	}
	if !strings.Contains(format, "%s") || args == "" {
		return format
	}
	return strings.Replace(format, "%s", args, 1)
}
