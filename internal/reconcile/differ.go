package reconcile

import (
	"math"

	"github.com/sells-group/outlier-sync/internal/model"
)

// Tolerance bounds the difference at which two numbers still compare equal:
// |a-b| <= Abs + Rel*|b|.
type Tolerance struct {
	Rel float64
	Abs float64
}

// DefaultTolerance matches the detector's float precision.
func DefaultTolerance() Tolerance {
	return Tolerance{Rel: 1e-6, Abs: 1e-8}
}

// Equal compares two values. Null and missing are equal to each other. Numbers
// compare within tol and NaN equals NaN. Every other pair must match in kind
// and payload.
func Equal(a, b model.Value, tol Tolerance) bool {
	if a.IsNull() || b.IsNull() {
		return a.IsNull() && b.IsNull()
	}
	if a.Kind() != b.Kind() {
		return false
	}
	switch a.Kind() {
	case model.KindNumber:
		x, _ := a.Num()
		y, _ := b.Num()
		return numbersClose(x, y, tol)
	case model.KindString:
		x, _ := a.Str()
		y, _ := b.Str()
		return x == y
	case model.KindBool:
		x, _ := a.Boolean()
		y, _ := b.Boolean()
		return x == y
	case model.KindHistory:
		x, _ := a.History()
		y, _ := b.History()
		return historiesEqual(x, y, tol)
	}
	return false
}

func numbersClose(x, y float64, tol Tolerance) bool {
	if x == y {
		return true
	}
	if math.IsNaN(x) || math.IsNaN(y) {
		return math.IsNaN(x) && math.IsNaN(y)
	}
	if math.IsInf(x, 0) || math.IsInf(y, 0) {
		return false
	}
	return math.Abs(x-y) <= tol.Abs+tol.Rel*math.Abs(y)
}

func historiesEqual(x, y model.History, tol Tolerance) bool {
	if len(x) != len(y) {
		return false
	}
	for i := range x {
		if x[i] == nil || y[i] == nil {
			if x[i] != y[i] {
				return false
			}
			continue
		}
		if x[i].Len() != y[i].Len() {
			return false
		}
		for _, n := range x[i].Names() {
			if !y[i].Has(n) || !Equal(x[i].Value(n), y[i].Value(n), tol) {
				return false
			}
		}
	}
	return true
}

// Diff compares the listed fields of old and cur and returns every field that
// differs mapped to its old value.
func Diff(old, cur *model.Record, fields []string, tol Tolerance) map[string]model.Value {
	diffs := make(map[string]model.Value)
	for _, f := range fields {
		ov := old.Value(f)
		if !Equal(ov, cur.Value(f), tol) {
			diffs[f] = ov
		}
	}
	return diffs
}
