package normalize

import (
	"bytes"
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf16"
)

// Normalize renders any Value as a single trimmed string.
//
// Sequences are joined with ", ", mappings become compact JSON, absent values become "".
// Literal backslash escapes left in the text by the model are then decoded, so calling
// Normalize on its own output returns it unchanged.
func Normalize(v Value) string {
	var s string
	switch val := v.(type) {
	case nil, Absent:
		return ""
	case Scalar:
		s = val.Text
	case Sequence:
		parts := make([]string, 0, len(val.Items))
		for _, item := range val.Items {
			parts = append(parts, stringify(item))
		}
		s = strings.Join(parts, ", ")
	case Mapping:
		s = compactJSON(val)
	}
	// Postgres text columns reject NUL.
	return strings.TrimSpace(strings.ReplaceAll(decodeEscapes(s), "\x00", ""))
}

// stringify renders a sequence element.
func stringify(v Value) string {
	switch val := v.(type) {
	case nil, Absent:
		return ""
	case Scalar:
		return val.Text
	default:
		return compactJSON(val)
	}
}

func compactJSON(v Value) string {
	var buf bytes.Buffer
	writeJSON(&buf, v)
	return buf.String()
}

func writeJSON(buf *bytes.Buffer, v Value) {
	switch val := v.(type) {
	case nil, Absent:
		buf.WriteString("null")
	case Scalar:
		if val.Literal {
			buf.WriteString(val.Text)
			return
		}
		writeJSONString(buf, val.Text)
	case Sequence:
		buf.WriteByte('[')
		for i, item := range val.Items {
			if i > 0 {
				buf.WriteByte(',')
			}
			writeJSON(buf, item)
		}
		buf.WriteByte(']')
	case Mapping:
		keys := make([]string, 0, len(val.Entries))
		for k := range val.Entries {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			writeJSONString(buf, k)
			buf.WriteByte(':')
			writeJSON(buf, val.Entries[k])
		}
		buf.WriteByte('}')
	}
}

// writeJSONString encodes s without escaping HTML or non-ASCII characters.
func writeJSONString(buf *bytes.Buffer, s string) {
	var tmp bytes.Buffer
	enc := json.NewEncoder(&tmp)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		buf.WriteString(strconv.Quote(s))
		return
	}
	buf.Write(bytes.TrimRight(tmp.Bytes(), "\n"))
}

// decodeEscapes replaces literal escape sequences with the characters they name.
// A doubled backslash and any escape that would yield a backslash or NUL stay literal.
func decodeEscapes(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' || i+1 >= len(s) {
			b.WriteByte(c)
			continue
		}
		next := s[i+1]
		switch next {
		case '\\':
			b.WriteString(`\\`)
			i++
		case 'n':
			b.WriteByte('\n')
			i++
		case 't':
			b.WriteByte('\t')
			i++
		case 'r':
			b.WriteByte('\r')
			i++
		case 'b':
			b.WriteByte('\b')
			i++
		case 'f':
			b.WriteByte('\f')
			i++
		case '"', '\'', '/':
			b.WriteByte(next)
			i++
		case 'u':
			r, width, ok := decodeUnicode(s[i:])
			if !ok {
				b.WriteByte(c)
				continue
			}
			b.WriteRune(r)
			i += width - 1
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// decodeUnicode decodes a \uXXXX escape, combining a following low surrogate when present.
func decodeUnicode(s string) (rune, int, bool) {
	r1, ok := hex4(s)
	if !ok || r1 == '\\' || r1 == 0 {
		return 0, 0, false
	}
	if !utf16.IsSurrogate(r1) {
		return r1, 6, true
	}
	r2, ok := hex4(s[min(6, len(s)):])
	if !ok {
		return 0, 0, false
	}
	combined := utf16.DecodeRune(r1, r2)
	if combined == unicode.ReplacementChar {
		return 0, 0, false
	}
	return combined, 12, true
}

func hex4(s string) (rune, bool) {
	if len(s) < 6 || s[0] != '\\' || s[1] != 'u' {
		return 0, false
	}
	n, err := strconv.ParseUint(s[2:6], 16, 32)
	if err != nil {
		return 0, false
	}
	return rune(n), true
}
