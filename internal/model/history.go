package model

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// History is an audit trail. Each entry is a snapshot of a record's non-client
// fields taken when an update overwrote it; entries are never modified after
// they are appended.
type History []*Record

// Clone returns a deep copy of h.
func (h History) Clone() History {
	if h == nil {
		return nil
	}
	c := make(History, len(h))
	for i, e := range h {
		if e != nil {
			c[i] = e.Clone()
		}
	}
	return c
}

// DecodeHistory normalizes a stored audit history to a structured list. It
// accepts a native history value, a JSON array of objects, or the textual list
// literal written by older tooling (single quotes, None, True, nan). Anything
// unreadable yields an empty list and ok=false.
func DecodeHistory(v Value) (h History, ok bool) {
	switch v.Kind() {
	case KindHistory:
		hist, _ := v.History()
		if hist == nil {
			hist = History{}
		}
		return hist, true
	case KindNull, KindMissing:
		return History{}, true
	case KindString:
		s, _ := v.Str()
		parsed, err := ParseHistory(s)
		if err != nil {
			return History{}, false
		}
		return parsed, true
	default:
		return History{}, false
	}
}

// ParseHistory parses the textual encoding of a history list.
func ParseHistory(text string) (History, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return History{}, nil
	}
	if !strings.HasPrefix(text, "[") {
		return nil, eris.New("history: not a list")
	}

	var tbl Table
	if err := json.Unmarshal([]byte(text), &tbl); err == nil {
		h := History(tbl.Records())
		if h == nil {
			h = History{}
		}
		return h, nil
	}

	h, err := parseLiteralHistory(text)
	if err != nil {
		return nil, eris.Wrap(err, "history: parse literal")
	}
	return h, nil
}

// parseLiteralHistory reads list literals such as
// [{'COB_DATE': '2025-07-29', 'metric_value': 100.0, 'flag': None}]. String
// literals are decoded first and rewritten as double-quoted JSON strings, which
// YAML flow syntax reads verbatim; plain scalars are then mapped by hand so
// None/True/nan keep their meaning.
func parseLiteralHistory(text string) (History, error) {
	quoted, err := requoteLiterals(text)
	if err != nil {
		return nil, err
	}
	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(quoted), &doc); err != nil {
		return nil, err
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) != 1 {
		return nil, eris.New("expected a single document")
	}
	seq := doc.Content[0]
	if seq.Kind != yaml.SequenceNode {
		return nil, eris.New("expected a list")
	}

	h := make(History, 0, len(seq.Content))
	for i, item := range seq.Content {
		if item.Kind != yaml.MappingNode {
			return nil, eris.Errorf("entry %d is not a mapping", i)
		}
		rec := NewRecord()
		for j := 0; j+1 < len(item.Content); j += 2 {
			k, val := item.Content[j], item.Content[j+1]
			if k.Kind != yaml.ScalarNode {
				return nil, eris.Errorf("entry %d has a non-scalar key", i)
			}
			if val.Kind != yaml.ScalarNode {
				return nil, eris.Errorf("entry %d field %q is not a scalar", i, k.Value)
			}
			rec.Set(k.Value, literalScalar(val))
		}
		h = append(h, rec)
	}
	return h, nil
}

// requoteLiterals replaces every quoted string in text with its JSON encoding.
func requoteLiterals(text string) (string, error) {
	var b strings.Builder
	b.Grow(len(text))
	for i := 0; i < len(text); {
		c := text[i]
		if c != '\'' && c != '"' {
			b.WriteByte(c)
			i++
			continue
		}
		s, n, err := unquoteLiteral(text[i:])
		if err != nil {
			return "", eris.Wrapf(err, "string at offset %d", i)
		}
		enc, err := json.Marshal(s)
		if err != nil {
			return "", eris.Wrapf(err, "string at offset %d", i)
		}
		b.Write(enc)
		i += n
	}
	return b.String(), nil
}

// unquoteLiteral decodes the single- or double-quoted string literal at the
// start of s and returns its value and encoded length.
func unquoteLiteral(s string) (string, int, error) {
	q := s[0]
	var b strings.Builder
	for i := 1; i < len(s); {
		c := s[i]
		switch {
		case c == q:
			return b.String(), i + 1, nil
		case c == '\n':
			return "", 0, eris.New("unterminated string")
		case c != '\\':
			b.WriteByte(c)
			i++
			continue
		}
		if i+1 >= len(s) {
			break
		}
		e := s[i+1]
		i += 2
		switch e {
		case '\n':
		case '\\', '\'', '"':
			b.WriteByte(e)
		case 'a':
			b.WriteByte('\a')
		case 'b':
			b.WriteByte('\b')
		case 'f':
			b.WriteByte('\f')
		case 'n':
			b.WriteByte('\n')
		case 'r':
			b.WriteByte('\r')
		case 't':
			b.WriteByte('\t')
		case 'v':
			b.WriteByte('\v')
		case 'x', 'u', 'U':
			width := 2
			switch e {
			case 'u':
				width = 4
			case 'U':
				width = 8
			}
			if i+width > len(s) {
				return "", 0, eris.Errorf("truncated \\%c escape", e)
			}
			r, err := strconv.ParseUint(s[i:i+width], 16, 32)
			if err != nil {
				return "", 0, eris.Errorf("invalid \\%c escape %q", e, s[i:i+width])
			}
			b.WriteRune(rune(r))
			i += width
		case '0', '1', '2', '3', '4', '5', '6', '7':
			j := i
			for j < len(s) && j < i+2 && s[j] >= '0' && s[j] <= '7' {
				j++
			}
			r, _ := strconv.ParseUint(s[i-1:j], 8, 32)
			b.WriteRune(rune(r))
			i = j
		default:
			b.WriteByte('\\')
			b.WriteByte(e)
		}
	}
	return "", 0, eris.New("unterminated string")
}

func literalScalar(n *yaml.Node) Value {
	if n.Style&(yaml.SingleQuotedStyle|yaml.DoubleQuotedStyle) != 0 {
		return String(n.Value)
	}
	switch n.Value {
	case "None", "null", "~", "":
		return Null()
	case "True", "true":
		return Bool(true)
	case "False", "false":
		return Bool(false)
	case "nan", "NaN":
		return Number(math.NaN())
	case "inf", "Infinity":
		return Number(math.Inf(1))
	case "-inf", "-Infinity":
		return Number(math.Inf(-1))
	}
	if f, err := strconv.ParseFloat(n.Value, 64); err == nil {
		return Number(f)
	}
	return String(n.Value)
}
