package model

// Record is an ordered mapping from field name to Value.
type Record struct {
	names  []string
	values map[string]Value
}

// NewRecord returns an empty record.
func NewRecord() *Record {
	return &Record{values: make(map[string]Value)}
}

// RecordOf builds a record from alternating name/value pairs in order.
func RecordOf(pairs ...any) *Record {
	r := NewRecord()
	for i := 0; i+1 < len(pairs); i += 2 {
		name, _ := pairs[i].(string)
		r.Set(name, ValueOf(pairs[i+1]))
	}
	return r
}

// ValueOf converts a plain Go value to a Value. It is meant for literals in
// tests and request decoding; the reconciler never calls it.
func ValueOf(x any) Value {
	switch t := x.(type) {
	case nil:
		return Null()
	case Value:
		return t
	case string:
		return String(t)
	case float64:
		return Number(t)
	case float32:
		return Number(float64(t))
	case int:
		return Number(float64(t))
	case int64:
		return Number(float64(t))
	case bool:
		return Bool(t)
	case History:
		return HistoryValue(t)
	case []*Record:
		return HistoryValue(History(t))
	default:
		return Null()
	}
}

// Len returns the number of fields in r.
func (r *Record) Len() int { return len(r.names) }

// Names returns the field names in order. The slice must not be modified.
func (r *Record) Names() []string { return r.names }

// Has reports whether name is present in r.
func (r *Record) Has(name string) bool {
	_, ok := r.values[name]
	return ok
}

// Get returns the value for name and whether it is present.
func (r *Record) Get(name string) (Value, bool) {
	v, ok := r.values[name]
	return v, ok
}

// Value returns the value for name, or Missing if absent.
func (r *Record) Value(name string) Value {
	return r.values[name]
}

// Set assigns v to name, appending name if it is new.
func (r *Record) Set(name string, v Value) {
	if r.values == nil {
		r.values = make(map[string]Value)
	}
	if _, ok := r.values[name]; !ok {
		r.names = append(r.names, name)
	}
	r.values[name] = v
}

// Delete removes name from r.
func (r *Record) Delete(name string) {
	if _, ok := r.values[name]; !ok {
		return
	}
	delete(r.values, name)
	for i, n := range r.names {
		if n == name {
			r.names = append(r.names[:i:i], r.names[i+1:]...)
			break
		}
	}
}

// Clone returns a deep copy of r.
func (r *Record) Clone() *Record {
	c := &Record{
		names:  make([]string, len(r.names)),
		values: make(map[string]Value, len(r.values)),
	}
	copy(c.names, r.names)
	for k, v := range r.values {
		c.values[k] = v.Clone()
	}
	return c
}

// Without returns a deep copy of r minus the excluded fields.
func (r *Record) Without(exclude map[string]bool) *Record {
	c := NewRecord()
	for _, n := range r.names {
		if exclude[n] {
			continue
		}
		c.Set(n, r.values[n].Clone())
	}
	return c
}
