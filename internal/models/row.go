package models

// Field one named cell of a row
type Field struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// RawRow ordered column -> text mapping read from a list view and its detail panel
type RawRow struct {
	Index  int     `json:"index"` // position on the current page, 0-based
	Fields []Field `json:"fields"`
}

// NewRawRow builds a row from alternating name/value pairs
func NewRawRow(index int, pairs ...string) RawRow {
	row := RawRow{Index: index}
	for i := 0; i+1 < len(pairs); i += 2 {
		row.Set(pairs[i], pairs[i+1])
	}
	return row
}

// Get returns the value of the named field
func (r RawRow) Get(name string) (string, bool) {
	for _, f := range r.Fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return "", false
}

// Set replaces the named field in place or appends it
func (r *RawRow) Set(name, value string) {
	for i := range r.Fields {
		if r.Fields[i].Name == name {
			r.Fields[i].Value = value
			return
		}
	}
	r.Fields = append(r.Fields, Field{Name: name, Value: value})
}

// Merge returns a copy of r with other's fields applied on top.
// Existing columns keep their position, new ones are appended.
func (r RawRow) Merge(other RawRow) RawRow {
	merged := RawRow{Index: r.Index, Fields: make([]Field, len(r.Fields), len(r.Fields)+len(other.Fields))}
	copy(merged.Fields, r.Fields)
	for _, f := range other.Fields {
		merged.Set(f.Name, f.Value)
	}
	return merged
}

// Columns field names in order
func (r RawRow) Columns() []string {
	names := make([]string, len(r.Fields))
	for i, f := range r.Fields {
		names[i] = f.Name
	}
	return names
}

// Len number of fields
func (r RawRow) Len() int {
	return len(r.Fields)
}

// ClassifiedRecord a row whose funding source matched the royalty terms
type ClassifiedRecord struct {
	RawRow
}

// NewClassifiedRecord wraps an accepted row
func NewClassifiedRecord(row RawRow) ClassifiedRecord {
	return ClassifiedRecord{RawRow: row}
}
