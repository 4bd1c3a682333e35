package output

import (
	"bytes"
	"encoding/json"
	"fmt"
	"unicode/utf16"
)

// JSON renders v the way the LangSmith Python tooling does with json.dumps:
// ", " and ": " separators and non-ASCII runes escaped as \uXXXX.
func JSON(v any) (string, error) {
	raw, err := encode(v, "")
	if err != nil {
		return "", err
	}
	return string(escapeNonASCII(spaceSeparators(raw))), nil
}

// IndentedJSON is JSON with a two-space indent.
func IndentedJSON(v any) (string, error) {
	raw, err := encode(v, "  ")
	if err != nil {
		return "", err
	}
	return string(escapeNonASCII(raw)), nil
}

func encode(v any, indent string) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if indent != "" {
		enc.SetIndent("", indent)
	}
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("encode json: %w", err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

func spaceSeparators(raw []byte) []byte {
	out := make([]byte, 0, len(raw)+len(raw)/8)
	inString := false
	escaped := false
	for _, b := range raw {
		out = append(out, b)
		switch {
		case inString && escaped:
			escaped = false
		case inString && b == '\\':
			escaped = true
		case b == '"':
			inString = !inString
		case !inString && (b == ',' || b == ':'):
			out = append(out, ' ')
		}
	}
	return out
}

func escapeNonASCII(raw []byte) []byte {
	if isASCII(raw) {
		return raw
	}
	var buf bytes.Buffer
	buf.Grow(len(raw) + 16)
	for _, r := range string(raw) {
		switch {
		case r < 0x80:
			buf.WriteByte(byte(r))
		case r > 0xFFFF:
			hi, lo := utf16.EncodeRune(r)
			fmt.Fprintf(&buf, `\u%04x\u%04x`, hi, lo)
		default:
			fmt.Fprintf(&buf, `\u%04x`, r)
		}
	}
	return buf.Bytes()
}

func isASCII(raw []byte) bool {
	for _, b := range raw {
		if b >= 0x80 {
			return false
		}
	}
	return true
}
