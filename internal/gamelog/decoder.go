package gamelog

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
	"strings"
	"unicode/utf8"
	"warlog-tracker/internal/constants"

	"golang.org/x/text/encoding/charmap"
)

// Decode turns a raw uploaded byte blob into a parsed document and the
// payload's permanent identity checksum.
//
// The checksum is computed over the newline-stripped bytes, before any text
// decoding, so that resubmitting the same file always produces the same
// identity regardless of how badly the text itself is mangled.
func Decode(raw []byte) (*RawLog, uint32, error) {
	normalized := stripLineBreaks(raw)
	crc := crc32.ChecksumIEEE(normalized)

	text, err := decodeText(normalized)
	if err != nil {
		return nil, crc, err
	}

	doc, err := parseDocument(text)
	if err != nil {
		return nil, crc, err
	}
	return doc, crc, nil
}

// Checksum exposes the identity computation on its own, for callers that need
// it without a full decode.
func Checksum(raw []byte) uint32 {
	return crc32.ChecksumIEEE(stripLineBreaks(raw))
}

// stripLineBreaks removes CR and LF bytes anywhere in the buffer. Historical
// payloads contain stray line breaks in the middle of tokens; the format is
// not newline-sensitive.
func stripLineBreaks(raw []byte) []byte {
	out := make([]byte, 0, len(raw))
	for _, b := range raw {
		if b == '\r' || b == '\n' {
			continue
		}
		out = append(out, b)
	}
	return out
}

// decodeText decodes Windows-1251 bytes, substituting a space for each byte
// the code page cannot represent. The game process mangles player names
// containing out-of-codepage characters; the corruption is cosmetic and must
// not block ingestion. The substitution budget is bounded so a garbage blob
// fails instead of producing a page of spaces.
func decodeText(raw []byte) (string, error) {
	var sb strings.Builder
	sb.Grow(len(raw))

	substitutions := 0
	for _, b := range raw {
		r := charmap.Windows1251.DecodeByte(b)
		if r == utf8.RuneError {
			substitutions++
			if substitutions > constants.DecodeAttemptLimit {
				return "", fmt.Errorf("%w: gave up after %d corrupt bytes", ErrDecodeExhausted, substitutions-1)
			}
			r = ' '
		}
		sb.WriteRune(r)
	}
	return sb.String(), nil
}

// parseDocument unmarshals the decoded text. Payloads from old schema
// versions shipped unescaped backslashes inside string values; on a syntax
// error the whole text is re-escaped and parsed exactly once more.
func parseDocument(text string) (*RawLog, error) {
	doc := new(RawLog)
	err := unmarshalStrictNumbers(text, doc)
	if err == nil {
		return doc, nil
	}
	var syntaxErr *json.SyntaxError
	if !errors.As(err, &syntaxErr) {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	doc = new(RawLog)
	if err := unmarshalStrictNumbers(escapeBackslashes(text), doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return doc, nil
}

func unmarshalStrictNumbers(text string, doc *RawLog) error {
	dec := json.NewDecoder(bytes.NewReader([]byte(text)))
	dec.UseNumber()
	return dec.Decode(doc)
}

// escapeBackslashes doubles every backslash that does not already begin a
// valid JSON escape sequence.
func escapeBackslashes(text string) string {
	var sb strings.Builder
	sb.Grow(len(text))

	for i := 0; i < len(text); i++ {
		c := text[i]
		if c != '\\' {
			sb.WriteByte(c)
			continue
		}
		if i+1 < len(text) && isEscapeChar(text[i+1]) {
			sb.WriteByte(c)
			sb.WriteByte(text[i+1])
			i++
			continue
		}
		sb.WriteString(`\\`)
	}
	return sb.String()
}

func isEscapeChar(c byte) bool {
	switch c {
	case '"', '\\', '/', 'b', 'f', 'n', 'r', 't', 'u':
		return true
	}
	return false
}
