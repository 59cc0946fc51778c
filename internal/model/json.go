package model

import (
	"bytes"
	"encoding/json"
	"io"
	"math"

	"github.com/rotisserie/eris"
)

// nonFiniteKey marks a JSON object carrying a NaN or infinite number, which
// plain JSON cannot represent.
const nonFiniteKey = "$number"

// MarshalJSON encodes v. Strings, numbers, bools and null map to their JSON
// counterparts and history to an array of objects.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindString:
		return json.Marshal(v.str)
	case KindNumber:
		if math.IsNaN(v.num) || math.IsInf(v.num, 0) {
			return json.Marshal(map[string]string{nonFiniteKey: FormatNumber(v.num)})
		}
		return json.Marshal(v.num)
	case KindBool:
		return json.Marshal(v.b)
	case KindHistory:
		return v.hist.MarshalJSON()
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON decodes a scalar, null, non-finite number marker or history
// array into v.
func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	val, err := decodeValue(dec)
	if err != nil {
		return err
	}
	*v = val
	return nil
}

// MarshalJSON encodes r as a JSON object with fields in record order.
func (r *Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, n := range r.names {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(n)
		if err != nil {
			return nil, eris.Wrapf(err, "model: marshal field name %q", n)
		}
		buf.Write(k)
		buf.WriteByte(':')
		b, err := r.values[n].MarshalJSON()
		if err != nil {
			return nil, eris.Wrapf(err, "model: marshal field %q", n)
		}
		buf.Write(b)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object into r, keeping key order.
func (r *Record) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return eris.Wrap(err, "model: read record")
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return eris.Errorf("model: expected object, got %v", tok)
	}
	rec, err := decodeObject(dec)
	if err != nil {
		return err
	}
	*r = *rec
	return nil
}

// MarshalJSON encodes h as an array of objects. A nil history encodes as [].
func (h History) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, e := range h {
		if i > 0 {
			buf.WriteByte(',')
		}
		if e == nil {
			buf.WriteString("{}")
			continue
		}
		b, err := e.MarshalJSON()
		if err != nil {
			return nil, err
		}
		buf.Write(b)
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

// MarshalJSON encodes t as an array of record objects.
func (t *Table) MarshalJSON() ([]byte, error) {
	return History(t.records).MarshalJSON()
}

// UnmarshalJSON decodes an array of objects into t.
func (t *Table) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return eris.Wrap(err, "model: read table")
	}
	if d, ok := tok.(json.Delim); !ok || d != '[' {
		return eris.Errorf("model: expected array, got %v", tok)
	}
	out := NewTable()
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return eris.Wrap(err, "model: read row")
		}
		if d, ok := tok.(json.Delim); !ok || d != '{' {
			return eris.Errorf("model: row %d: expected object, got %v", out.Len(), tok)
		}
		rec, err := decodeObject(dec)
		if err != nil {
			return eris.Wrapf(err, "model: row %d", out.Len())
		}
		out.Append(rec)
	}
	if _, err := dec.Token(); err != nil && err != io.EOF {
		return eris.Wrap(err, "model: read closing bracket")
	}
	*t = *out
	return nil
}

// decodeObject reads object members after the opening brace has been consumed.
func decodeObject(dec *json.Decoder) (*Record, error) {
	rec := NewRecord()
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, eris.Wrap(err, "model: read field name")
		}
		name, ok := tok.(string)
		if !ok {
			return nil, eris.Errorf("model: expected field name, got %v", tok)
		}
		val, err := decodeValue(dec)
		if err != nil {
			return nil, eris.Wrapf(err, "model: field %q", name)
		}
		rec.Set(name, val)
	}
	if _, err := dec.Token(); err != nil {
		return nil, eris.Wrap(err, "model: read closing brace")
	}
	return rec, nil
}

func decodeValue(dec *json.Decoder) (Value, error) {
	tok, err := dec.Token()
	if err != nil {
		return Value{}, eris.Wrap(err, "model: read value")
	}
	switch t := tok.(type) {
	case nil:
		return Null(), nil
	case string:
		return String(t), nil
	case bool:
		return Bool(t), nil
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return Value{}, eris.Wrapf(err, "model: parse number %s", t)
		}
		return Number(f), nil
	case json.Delim:
		switch t {
		case '[':
			h := History{}
			for dec.More() {
				tok, err := dec.Token()
				if err != nil {
					return Value{}, eris.Wrap(err, "model: read history entry")
				}
				if d, ok := tok.(json.Delim); !ok || d != '{' {
					return Value{}, eris.Errorf("model: history entry must be an object, got %v", tok)
				}
				e, err := decodeObject(dec)
				if err != nil {
					return Value{}, err
				}
				h = append(h, e)
			}
			if _, err := dec.Token(); err != nil {
				return Value{}, eris.Wrap(err, "model: read closing bracket")
			}
			return HistoryValue(h), nil
		case '{':
			obj, err := decodeObject(dec)
			if err != nil {
				return Value{}, err
			}
			if obj.Len() == 1 {
				if s, ok := obj.Value(nonFiniteKey).Str(); ok {
					if f, ok := parseNonFinite(s); ok {
						return Number(f), nil
					}
				}
			}
			return Value{}, eris.New("model: nested objects are not supported")
		}
	}
	return Value{}, eris.Errorf("model: unexpected token %v", tok)
}

func parseNonFinite(s string) (float64, bool) {
	switch s {
	case "NaN", "nan":
		return math.NaN(), true
	case "Infinity", "inf", "+Infinity":
		return math.Inf(1), true
	case "-Infinity", "-inf":
		return math.Inf(-1), true
	}
	return 0, false
}
