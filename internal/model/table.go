package model

// Table is an ordered list of records with a column list that is the union of
// every record's fields in first-seen order.
type Table struct {
	columns []string
	seen    map[string]bool
	records []*Record
}

// NewTable returns an empty table with the given leading columns.
func NewTable(columns ...string) *Table {
	t := &Table{seen: make(map[string]bool)}
	for _, c := range columns {
		t.AddColumn(c)
	}
	return t
}

// TableOf builds a table from records.
func TableOf(records ...*Record) *Table {
	t := NewTable()
	for _, r := range records {
		t.Append(r)
	}
	return t
}

// Columns returns the column names in order. The slice must not be modified.
func (t *Table) Columns() []string { return t.columns }

// HasColumn reports whether name is a column of t.
func (t *Table) HasColumn(name string) bool { return t.seen[name] }

// AddColumn appends name to the column list if it is new.
func (t *Table) AddColumn(name string) {
	if t.seen == nil {
		t.seen = make(map[string]bool)
	}
	if t.seen[name] {
		return
	}
	t.seen[name] = true
	t.columns = append(t.columns, name)
}

// Append adds r to the end of t and extends the column list with its fields.
func (t *Table) Append(r *Record) {
	for _, n := range r.Names() {
		t.AddColumn(n)
	}
	t.records = append(t.records, r)
}

// SyncColumns extends the column list with fields set on records after they
// were appended.
func (t *Table) SyncColumns() {
	for _, r := range t.records {
		for _, n := range r.Names() {
			t.AddColumn(n)
		}
	}
}

// Records returns the records in order.
func (t *Table) Records() []*Record { return t.records }

// Len returns the number of records.
func (t *Table) Len() int { return len(t.records) }

// At returns the i-th record.
func (t *Table) At(i int) *Record { return t.records[i] }

// Clone returns a deep copy of t.
func (t *Table) Clone() *Table {
	c := NewTable(t.columns...)
	c.records = make([]*Record, len(t.records))
	for i, r := range t.records {
		c.records[i] = r.Clone()
	}
	return c
}

// DropColumn removes name from the column list and from every record.
func (t *Table) DropColumn(name string) {
	if !t.seen[name] {
		return
	}
	delete(t.seen, name)
	for i, c := range t.columns {
		if c == name {
			t.columns = append(t.columns[:i:i], t.columns[i+1:]...)
			break
		}
	}
	for _, r := range t.records {
		r.Delete(name)
	}
}
