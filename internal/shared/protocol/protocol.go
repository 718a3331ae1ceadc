package protocol

import (
	"strings"
	"unicode"
)

// Frames exchanged between the TC and an EQP are plain text made of
// whitespace separated NAME=VALUE tokens, e.g. "CMD=INITIALIZE EQPID=TEST001".

const (
	CmdKey           = "CMD"
	CmdInitialize    = "INITIALIZE"
	CmdInitializeRep = "INITIALIZE_REP"
)

// InitializeReply builds the handshake answer for an EQP.
func InitializeReply(eqpID string) string {
	return CmdKey + "=" + CmdInitializeRep + " EQPID=" + eqpID
}

// ExtractCmdUpper returns the upper-cased value of the first usable CMD token.
// Tokens without '=', with an empty name or with an empty value are skipped.
func ExtractCmdUpper(frame string) (string, bool) {
	for _, token := range strings.FieldsFunc(frame, unicode.IsSpace) {
		eq := strings.IndexByte(token, '=')
		if eq <= 0 || eq == len(token)-1 {
			continue
		}
		if !strings.EqualFold(strings.TrimSpace(token[:eq]), CmdKey) {
			continue
		}
		value := strings.TrimSpace(token[eq+1:])
		if value == "" {
			continue
		}
		return strings.ToUpper(value), true
	}
	return "", false
}

// ParseToUpperKeyMap splits a frame into an upper-cased key map.
// The value is everything after the first '=', so "loop=count=5" yields LOOP -> "count=5".
// Later duplicates overwrite earlier ones.
func ParseToUpperKeyMap(frame string) map[string]string {
	out := make(map[string]string)
	for _, token := range strings.FieldsFunc(frame, unicode.IsSpace) {
		eq := strings.IndexByte(token, '=')
		if eq <= 0 {
			continue
		}
		name := strings.TrimSpace(token[:eq])
		if name == "" {
			continue
		}
		out[strings.ToUpper(name)] = strings.TrimSpace(token[eq+1:])
	}
	return out
}
