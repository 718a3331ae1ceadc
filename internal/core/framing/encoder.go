package framing

import (
	"fmt"

	"tc_eqpsim/internal/shared/types"
)

// Encode wraps a UTF-8 payload according to the socket type.
// REGEX socket types send the payload as is.
func Encode(st types.SocketType, payload string) ([]byte, error) {
	switch st.Kind {
	case types.KindLineEnd:
		delim, err := LineDelimiter(st.LineEnding)
		if err != nil {
			return nil, err
		}
		out := make([]byte, 0, len(payload)+len(delim))
		out = append(out, payload...)
		return append(out, delim...), nil
	case types.KindStartEnd:
		start, end, err := startEndMarkers(st)
		if err != nil {
			return nil, err
		}
		out := make([]byte, 0, len(start)+len(payload)+len(end))
		out = append(out, start...)
		out = append(out, payload...)
		return append(out, end...), nil
	case types.KindRegex:
		return []byte(payload), nil
	default:
		return nil, fmt.Errorf("unsupported socketType.kind: %q", st.Kind)
	}
}

// Overhead reports how many framing bytes Encode adds before and after the payload.
func Overhead(st types.SocketType) (prefix, suffix int) {
	switch st.Kind {
	case types.KindLineEnd:
		if delim, err := LineDelimiter(st.LineEnding); err == nil {
			return 0, len(delim)
		}
	case types.KindStartEnd:
		if start, end, err := startEndMarkers(st); err == nil {
			return len(start), len(end)
		}
	}
	return 0, 0
}
