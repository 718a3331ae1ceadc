package session

import "strings"

const rawPreviewBytes = 256

// logRaw logs the first reads of a connection before framing, as text and hex.
// Only called from the reader goroutine.
func (s *Session) logRaw(chunk []byte) {
	if s.rawLogged >= s.rawLogLimit {
		return
	}
	s.rawLogged++

	preview := chunk
	if len(preview) > rawPreviewBytes {
		preview = preview[:rawPreviewBytes]
	}
	s.log.Info().Str("event", "rx_raw").
		Int("bytes", len(chunk)).
		Int("preview_bytes", len(preview)).
		Str("text", strings.ToValidUTF8(string(preview), "�")).
		Hex("hex", preview).Send()
}
