package framing

import (
	"bytes"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"tc_eqpsim/internal/shared/types"
)

// MaxRegexBufferBytes caps how much unmatched input a REGEX decoder keeps.
const MaxRegexBufferBytes = 256 * 1024

var (
	// ErrBufferOverflow means the REGEX buffer grew past MaxRegexBufferBytes without a match.
	// The buffer has been discarded and the connection should be closed.
	ErrBufferOverflow = errors.New("framing: regex buffer overflow")
	// ErrEmptyMatch means the configured pattern matched an empty string.
	ErrEmptyMatch = errors.New("framing: regex matched an empty frame")
)

// Decoder turns a TCP byte stream into frames. Implementations keep partial input between calls
// and are not safe for concurrent use.
type Decoder interface {
	// Decode appends chunk to the internal buffer and returns every complete frame, in order.
	Decode(chunk []byte) ([][]byte, error)
	// Buffered returns the number of bytes waiting for the rest of a frame.
	Buffered() int
}

// NewDecoder builds the decoder for a socket type.
func NewDecoder(st types.SocketType) (Decoder, error) {
	switch st.Kind {
	case types.KindLineEnd:
		delim, err := LineDelimiter(st.LineEnding)
		if err != nil {
			return nil, err
		}
		return &delimiterDecoder{delimiter: delim}, nil
	case types.KindStartEnd:
		start, end, err := startEndMarkers(st)
		if err != nil {
			return nil, err
		}
		return &startEndDecoder{start: start, end: end}, nil
	case types.KindRegex:
		if strings.TrimSpace(st.RegexPattern) == "" {
			return nil, fmt.Errorf("socketType.regexPattern must not be blank for REGEX")
		}
		re, err := regexp.Compile(st.RegexPattern)
		if err != nil {
			return nil, fmt.Errorf("invalid socketType.regexPattern: %w", err)
		}
		return &regexDecoder{pattern: re, max: MaxRegexBufferBytes}, nil
	default:
		return nil, fmt.Errorf("unsupported socketType.kind: %q", st.Kind)
	}
}

// LineDelimiter returns the byte sequence that terminates a LINE_END frame.
func LineDelimiter(ending types.LineEnding) ([]byte, error) {
	switch ending {
	case types.LineEndingLF:
		return []byte{0x0A}, nil
	case types.LineEndingCR:
		return []byte{0x0D}, nil
	case types.LineEndingCRLF:
		return []byte{0x0D, 0x0A}, nil
	default:
		return nil, fmt.Errorf("socketType.lineEnding must be LF, CR or CRLF for LINE_END, got %q", ending)
	}
}

func startEndMarkers(st types.SocketType) ([]byte, []byte, error) {
	if strings.TrimSpace(st.StartHex) == "" || strings.TrimSpace(st.EndHex) == "" {
		return nil, nil, fmt.Errorf("socketType.startHex/endHex must not be blank for START_END")
	}
	start, err := ParseHexSequence(st.StartHex)
	if err != nil {
		return nil, nil, fmt.Errorf("socketType.startHex: %w", err)
	}
	end, err := ParseHexSequence(st.EndHex)
	if err != nil {
		return nil, nil, fmt.Errorf("socketType.endHex: %w", err)
	}
	return start, end, nil
}

// delimiterDecoder handles LINE_END (LF / CR / CRLF).
type delimiterDecoder struct {
	delimiter []byte
	buf       []byte
}

func (d *delimiterDecoder) Decode(chunk []byte) ([][]byte, error) {
	d.buf = append(d.buf, chunk...)

	var frames [][]byte
	for {
		idx := bytes.Index(d.buf, d.delimiter)
		if idx < 0 {
			break
		}
		frames = append(frames, bytes.Clone(d.buf[:idx]))
		d.buf = d.buf[idx+len(d.delimiter):]
	}
	d.compact()
	return frames, nil
}

func (d *delimiterDecoder) Buffered() int { return len(d.buf) }

func (d *delimiterDecoder) compact() {
	if len(d.buf) == 0 {
		d.buf = nil
	}
}

// startEndDecoder extracts payloads between a start and an end marker, dropping garbage in between frames.
type startEndDecoder struct {
	start []byte
	end   []byte
	buf   []byte
}

func (d *startEndDecoder) Decode(chunk []byte) ([][]byte, error) {
	d.buf = append(d.buf, chunk...)

	var frames [][]byte
	for len(d.buf) > 0 {
		startIdx := bytes.Index(d.buf, d.start)
		if startIdx < 0 {
			// keep only the bytes a split start marker could still begin with
			keep := len(d.start) - 1
			if keep < len(d.buf) {
				d.buf = bytes.Clone(d.buf[len(d.buf)-keep:])
			}
			break
		}
		d.buf = d.buf[startIdx:]

		payloadStart := len(d.start)
		endIdx := bytes.Index(d.buf[payloadStart:], d.end)
		if endIdx < 0 {
			break
		}
		frames = append(frames, bytes.Clone(d.buf[payloadStart:payloadStart+endIdx]))
		d.buf = d.buf[payloadStart+endIdx+len(d.end):]
	}
	if len(d.buf) == 0 {
		d.buf = nil
	}
	return frames, nil
}

func (d *startEndDecoder) Buffered() int { return len(d.buf) }

// regexDecoder emits the first match of pattern in the buffered UTF-8 text, consuming the prefix too.
type regexDecoder struct {
	pattern *regexp.Regexp
	max     int
	buf     []byte
}

func (d *regexDecoder) Decode(chunk []byte) ([][]byte, error) {
	d.buf = append(d.buf, chunk...)

	var frames [][]byte
	for len(d.buf) > 0 {
		if len(d.buf) > d.max {
			d.buf = nil
			return frames, ErrBufferOverflow
		}
		loc := d.pattern.FindIndex(d.buf)
		if loc == nil {
			break
		}
		if loc[1] <= loc[0] {
			return frames, fmt.Errorf("%w: start=%d end=%d", ErrEmptyMatch, loc[0], loc[1])
		}
		frames = append(frames, bytes.Clone(d.buf[loc[0]:loc[1]]))
		d.buf = d.buf[loc[1]:]
	}
	if len(d.buf) == 0 {
		d.buf = nil
	}
	return frames, nil
}

func (d *regexDecoder) Buffered() int { return len(d.buf) }
