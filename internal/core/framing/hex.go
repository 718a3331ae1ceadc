package framing

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// ParseHexSequence parses start/end marker strings such as "02", "0x02 0x03", "02,03" or "0203".
// A single hex digit is zero padded.
func ParseHexSequence(input string) ([]byte, error) {
	if strings.TrimSpace(input) == "" {
		return nil, fmt.Errorf("hex sequence input is blank")
	}

	var out []byte
	for _, token := range strings.Fields(strings.ReplaceAll(input, ",", " ")) {
		t := strings.ToLower(token)
		t = strings.TrimPrefix(t, "0x")

		if !isAllHex(t) || t == "" {
			return nil, fmt.Errorf("invalid hex token: %s", token)
		}
		if len(t) > 2 && len(t)%2 != 0 {
			return nil, fmt.Errorf("invalid hex token: %s", token)
		}
		if len(t) == 1 {
			t = "0" + t
		}
		b, err := hex.DecodeString(t)
		if err != nil {
			return nil, fmt.Errorf("invalid hex token %s: %w", token, err)
		}
		out = append(out, b...)
	}

	if len(out) == 0 {
		return nil, fmt.Errorf("no hex bytes parsed from input: %s", input)
	}
	return out, nil
}

func isAllHex(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')) {
			return false
		}
	}
	return true
}
