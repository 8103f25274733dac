// Package record contains the change record vocabulary shared by dumpers, the merge
// engine and importers.
package record

import (
	"fmt"
	"strconv"
	"strings"
)

// Position is a resumable cursor into a source stream. Concrete types are source specific.
type Position interface {
	// String returns a persistable representation of the position.
	String() string
}

// NopPosition is used by records which do not advance any cursor.
type NopPosition struct{}

// String implements Position interface.
func (NopPosition) String() string {
	return ""
}

// Record is one of *DataRecord, *FinishedRecord or *PlaceholderRecord.
type Record interface {
	// Position returns the position after this record.
	Position() Position
}

// Type is the type of a DataRecord.
type Type int8

const (
	// Insert is a row insertion.
	Insert Type = iota + 1
	// Update is a row updating.
	Update
	// Delete is a row deletion.
	Delete
)

// String returns the name of the type.
func (t Type) String() string {
	switch t {
	case Insert:
		return "INSERT"
	case Update:
		return "UPDATE"
	case Delete:
		return "DELETE"
	default:
		return "Type(" + strconv.Itoa(int(t)) + ")"
	}
}

// Column is one field of a row.
type Column struct {
	Name string

	// Value is the current value.
	Value interface{}

	// OldValue is the value before updating, only meaningful when Updated is true.
	OldValue interface{}

	// Updated is true only when Value differs from OldValue.
	Updated bool

	// UniqueKey is true if the column participates in row identity.
	UniqueKey bool
}

// DataRecord is a row level change.
type DataRecord struct {
	position Position

	TableName  string
	Type       Type
	Columns    []*Column
	CommitTime int64
}

// FinishedRecord marks the end of a stream.
type FinishedRecord struct {
	position Position
}

// PlaceholderRecord only advances position.
type PlaceholderRecord struct {
	position Position
}

// Key identifies a logical row in a table. It is comparable.
type Key struct {
	Table  string
	Values string
}

var (
	_ Record = (*DataRecord)(nil)
	_ Record = (*FinishedRecord)(nil)
	_ Record = (*PlaceholderRecord)(nil)
)

// NewDataRecord creates a new DataRecord.
func NewDataRecord(pos Position, table string, typ Type, columnCount int) *DataRecord {
	if pos == nil {
		pos = NopPosition{}
	}
	return &DataRecord{
		position:  pos,
		TableName: table,
		Type:      typ,
		Columns:   make([]*Column, 0, columnCount),
	}
}

// NewFinishedRecord creates a new FinishedRecord.
func NewFinishedRecord(pos Position) *FinishedRecord {
	if pos == nil {
		pos = NopPosition{}
	}
	return &FinishedRecord{position: pos}
}

// NewPlaceholderRecord creates a new PlaceholderRecord.
func NewPlaceholderRecord(pos Position) *PlaceholderRecord {
	if pos == nil {
		pos = NopPosition{}
	}
	return &PlaceholderRecord{position: pos}
}

// Position implements Record interface.
func (r *DataRecord) Position() Position { return r.position }

// Position implements Record interface.
func (r *FinishedRecord) Position() Position { return r.position }

// Position implements Record interface.
func (r *PlaceholderRecord) Position() Position { return r.position }

// AddColumn appends a column.
func (r *DataRecord) AddColumn(col *Column) {
	r.Columns = append(r.Columns, col)
}

// Column returns the i-th column.
func (r *DataRecord) Column(i int) *Column {
	return r.Columns[i]
}

// ColumnByName returns the column with the given name or nil.
func (r *DataRecord) ColumnByName(name string) *Column {
	for _, col := range r.Columns {
		if col.Name == name {
			return col
		}
	}
	return nil
}

// UniqueKeyColumns returns unique key columns in column order.
func (r *DataRecord) UniqueKeyColumns() []*Column {
	ret := []*Column{}
	for _, col := range r.Columns {
		if col.UniqueKey {
			ret = append(ret, col)
		}
	}
	return ret
}

// HasUniqueKey returns true if any column is a unique key column.
func (r *DataRecord) HasUniqueKey() bool {
	for _, col := range r.Columns {
		if col.UniqueKey {
			return true
		}
	}
	return false
}

// UniqueKeyUpdated returns true if any unique key column is updated, that is, the
// row's identity changed.
func (r *DataRecord) UniqueKeyUpdated() bool {
	for _, col := range r.Columns {
		if col.UniqueKey && col.Updated {
			return true
		}
	}
	return false
}

// Key returns the identity of the row using current values.
func (r *DataRecord) Key() Key {
	var b strings.Builder
	for _, col := range r.Columns {
		if col.UniqueKey {
			writeKeyValue(&b, col.Value)
		}
	}
	return Key{Table: r.TableName, Values: b.String()}
}

// OldKey returns the identity of the row before updating: old values are used for updated
// unique key columns.
func (r *DataRecord) OldKey() Key {
	var b strings.Builder
	for _, col := range r.Columns {
		if !col.UniqueKey {
			continue
		}
		if col.Updated {
			writeKeyValue(&b, col.OldValue)
		} else {
			writeKeyValue(&b, col.Value)
		}
	}
	return Key{Table: r.TableName, Values: b.String()}
}

// String returns a short description for logging.
func (r *DataRecord) String() string {
	pos := "-"
	if r.position != nil {
		pos = r.position.String()
	}
	return fmt.Sprintf("%s %s %s@%s", r.Type, r.TableName, r.Key().Values, pos)
}

// NOTE: Values are length prefixed so that no separator can be forged by the values.
func writeKeyValue(b *strings.Builder, v interface{}) {
	var s string
	switch val := v.(type) {
	case nil:
		b.WriteString("-;")
		return
	case []byte:
		s = string(val)
	default:
		s = fmt.Sprintf("%v", val)
	}
	b.WriteString(strconv.Itoa(len(s)))
	b.WriteByte(':')
	b.WriteString(s)
	b.WriteByte(';')
}

// GroupedDataRecord contains merged records of one table grouped by type.
type GroupedDataRecord struct {
	TableName     string
	InsertRecords []*DataRecord
	UpdateRecords []*DataRecord
	DeleteRecords []*DataRecord
}

// Len returns the total number of records.
func (g *GroupedDataRecord) Len() int {
	return len(g.InsertRecords) + len(g.UpdateRecords) + len(g.DeleteRecords)
}
