package reconcile

import (
	"strings"

	"github.com/sells-group/outlier-sync/internal/model"
)

// MatchKey joins the business key values of rec in schema order. Values are
// coerced to text first, so 1 and "1" produce the same key.
func MatchKey(rec *model.Record, schema model.Schema) string {
	sep := schema.KeySeparator
	if sep == "" {
		sep = model.DefaultKeySeparator
	}
	var b strings.Builder
	for i, f := range schema.KeyFields {
		if i > 0 {
			b.WriteString(sep)
		}
		b.WriteString(rec.Value(f).KeyString())
	}
	return b.String()
}

// Index is a key-indexed view of a table.
type Index struct {
	keys     []string
	rows     map[string]int
	shadowed map[int]bool
	table    *model.Table
}

// NewIndex builds an index over t. With DuplicateReject a repeated key fails
// with a *DuplicateKeyError; with DuplicateLastWins the last row owns the key
// and earlier rows are recorded as shadowed.
func NewIndex(t *model.Table, schema model.Schema, policy DuplicatePolicy) (*Index, error) {
	idx := &Index{
		rows:     make(map[string]int, t.Len()),
		shadowed: make(map[int]bool),
		table:    t,
	}
	for i, rec := range t.Records() {
		key := MatchKey(rec, schema)
		prev, dup := idx.rows[key]
		if !dup {
			idx.keys = append(idx.keys, key)
			idx.rows[key] = i
			continue
		}
		if policy != DuplicateLastWins {
			return nil, &DuplicateKeyError{Key: key, Rows: []int{prev, i}}
		}
		idx.shadowed[prev] = true
		idx.rows[key] = i
	}
	return idx, nil
}

// Lookup returns the record owning key.
func (idx *Index) Lookup(key string) (*model.Record, bool) {
	i, ok := idx.rows[key]
	if !ok {
		return nil, false
	}
	return idx.table.At(i), true
}

// Row returns the table position of the record owning key.
func (idx *Index) Row(key string) (int, bool) {
	i, ok := idx.rows[key]
	return i, ok
}

// Has reports whether key is indexed.
func (idx *Index) Has(key string) bool {
	_, ok := idx.rows[key]
	return ok
}

// Keys returns the distinct keys in first-seen order.
func (idx *Index) Keys() []string { return idx.keys }

// Len returns the number of distinct keys.
func (idx *Index) Len() int { return len(idx.keys) }

// Shadowed reports whether row i lost its key to a later duplicate.
func (idx *Index) Shadowed(i int) bool { return idx.shadowed[i] }
