package reconcile

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrDuplicateKey is returned when the baseline table holds two records
	// with the same Match Key and the duplicate policy rejects them.
	ErrDuplicateKey = errors.New("reconcile: duplicate match key in baseline")

	// ErrMissingKeyField is returned when a record lacks a business key value.
	ErrMissingKeyField = errors.New("reconcile: missing match key field")
)

// DuplicateKeyError reports the first duplicated Match Key and the rows that
// share it.
type DuplicateKeyError struct {
	Key  string
	Rows []int
}

func (e *DuplicateKeyError) Error() string {
	rows := make([]string, len(e.Rows))
	for i, r := range e.Rows {
		rows[i] = fmt.Sprint(r)
	}
	return fmt.Sprintf("%s: key %q at rows %s", ErrDuplicateKey, e.Key, strings.Join(rows, ","))
}

func (e *DuplicateKeyError) Unwrap() error { return ErrDuplicateKey }

// StructureError reports a table that cannot be reconciled at all.
type StructureError struct {
	Table string
	Row   int
	Field string
}

func (e *StructureError) Error() string {
	return fmt.Sprintf("%s: %s table row %d has no value for %s", ErrMissingKeyField, e.Table, e.Row, e.Field)
}

func (e *StructureError) Unwrap() error { return ErrMissingKeyField }
