// Package model defines the tabular data types shared by the reconciler, the
// table readers and the stores.
package model

import (
	"math"
	"strconv"
)

// Kind tags the payload carried by a Value.
type Kind uint8

const (
	KindMissing Kind = iota
	KindNull
	KindString
	KindNumber
	KindBool
	KindHistory
)

// String returns the lowercase name of the kind.
func (k Kind) String() string {
	switch k {
	case KindMissing:
		return "missing"
	case KindNull:
		return "null"
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindHistory:
		return "history"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Value is a single cell. The zero Value is Missing.
type Value struct {
	kind Kind
	str  string
	num  float64
	b    bool
	hist History
}

// Missing returns a Value for a field that is absent from a record.
func Missing() Value { return Value{} }

// Null returns an explicit null Value.
func Null() Value { return Value{kind: KindNull} }

// String returns a string Value.
func String(s string) Value { return Value{kind: KindString, str: s} }

// Number returns a floating point Value.
func Number(f float64) Value { return Value{kind: KindNumber, num: f} }

// Bool returns a boolean Value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// HistoryValue returns a Value holding an audit history list.
func HistoryValue(h History) Value {
	if h == nil {
		h = History{}
	}
	return Value{kind: KindHistory, hist: h}
}

// Kind returns the tag of v.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is null or missing.
func (v Value) IsNull() bool { return v.kind == KindNull || v.kind == KindMissing }

// Str returns the string payload.
func (v Value) Str() (string, bool) { return v.str, v.kind == KindString }

// Num returns the number payload.
func (v Value) Num() (float64, bool) { return v.num, v.kind == KindNumber }

// Boolean returns the bool payload.
func (v Value) Boolean() (bool, bool) { return v.b, v.kind == KindBool }

// History returns the history payload.
func (v Value) History() (History, bool) { return v.hist, v.kind == KindHistory }

// KeyString renders v for Match Key construction. Numbers and strings with the
// same text collide, so Number(1) and String("1") produce the same key part.
func (v Value) KeyString() string {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		return FormatNumber(v.num)
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindHistory:
		b, _ := v.hist.MarshalJSON()
		return string(b)
	default:
		return "null"
	}
}

// Text renders v as a flat cell for CSV style output. Null and missing render
// as the empty string.
func (v Value) Text() string {
	switch v.kind {
	case KindNull, KindMissing:
		return ""
	default:
		return v.KeyString()
	}
}

// Clone returns a deep copy of v. Only history values carry shared state.
func (v Value) Clone() Value {
	if v.kind != KindHistory {
		return v
	}
	return HistoryValue(v.hist.Clone())
}

// FormatNumber formats f with the shortest representation that round-trips.
func FormatNumber(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}
