package importer

import (
	"strings"

	"github.com/huangjunwen/scaling/helpers/sqlh"
	"github.com/huangjunwen/scaling/record"
)

// SQLBuilder builds dialect specific statements of data records. Placeholders are "?".
type SQLBuilder interface {
	// BuildInsertSQL builds an insert statement of rows rows, each with columns of r.
	BuildInsertSQL(r *record.DataRecord, rows int) string

	// BuildUpdateSQL builds an update statement setting columns set, conditioned on
	// unique key columns of r.
	BuildUpdateSQL(r *record.DataRecord, set []*record.Column) string

	// BuildDeleteSQL builds a delete statement conditioned on unique key columns of r.
	BuildDeleteSQL(r *record.DataRecord) string

	// ExtractUpdatedColumns returns columns to set in update.
	ExtractUpdatedColumns(r *record.DataRecord) []*record.Column
}

// MySQLBuilder is the SQLBuilder for MySQL.
type MySQLBuilder struct {
	// TargetSchema qualifies table names if not empty.
	TargetSchema string
}

var (
	_ SQLBuilder = MySQLBuilder{}
)

func (b MySQLBuilder) table(r *record.DataRecord) string {
	return sqlh.QuoteTable(b.TargetSchema, r.TableName)
}

// BuildInsertSQL implements SQLBuilder interface. Existing rows (e.g. already copied by
// inventory) are overwritten by ON DUPLICATE KEY UPDATE.
func (b MySQLBuilder) BuildInsertSQL(r *record.DataRecord, rows int) string {
	var sb strings.Builder
	sb.WriteString("INSERT INTO ")
	sb.WriteString(b.table(r))
	sb.WriteString(" (")
	for i, col := range r.Columns {
		if i != 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(sqlh.QuoteIdent(col.Name))
	}
	sb.WriteString(") VALUES ")

	row := "(" + sqlh.Placeholders(len(r.Columns)) + ")"
	for i := 0; i < rows; i++ {
		if i != 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(row)
	}

	sb.WriteString(" ON DUPLICATE KEY UPDATE ")
	n := 0
	for _, col := range r.Columns {
		if col.UniqueKey {
			continue
		}
		if n != 0 {
			sb.WriteString(", ")
		}
		name := sqlh.QuoteIdent(col.Name)
		sb.WriteString(name + " = VALUES(" + name + ")")
		n++
	}
	if n == 0 {
		// All columns are unique keys: a no-op update.
		name := sqlh.QuoteIdent(r.Columns[0].Name)
		sb.WriteString(name + " = " + name)
	}
	return sb.String()
}

// BuildUpdateSQL implements SQLBuilder interface.
func (b MySQLBuilder) BuildUpdateSQL(r *record.DataRecord, set []*record.Column) string {
	var sb strings.Builder
	sb.WriteString("UPDATE ")
	sb.WriteString(b.table(r))
	sb.WriteString(" SET ")
	for i, col := range set {
		if i != 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(sqlh.QuoteIdent(col.Name) + " = ?")
	}
	sb.WriteString(" WHERE ")
	writeConditions(&sb, r)
	return sb.String()
}

// BuildDeleteSQL implements SQLBuilder interface.
func (b MySQLBuilder) BuildDeleteSQL(r *record.DataRecord) string {
	var sb strings.Builder
	sb.WriteString("DELETE FROM ")
	sb.WriteString(b.table(r))
	sb.WriteString(" WHERE ")
	writeConditions(&sb, r)
	return sb.String()
}

// ExtractUpdatedColumns implements SQLBuilder interface.
func (b MySQLBuilder) ExtractUpdatedColumns(r *record.DataRecord) []*record.Column {
	ret := []*record.Column{}
	for _, col := range r.Columns {
		if col.Updated {
			ret = append(ret, col)
		}
	}
	return ret
}

// conditionColumns returns unique key columns, or all columns (compared null safely) if
// the table has no unique key.
func conditionColumns(r *record.DataRecord) (cols []*record.Column, nullSafe bool) {
	if cols = r.UniqueKeyColumns(); len(cols) != 0 {
		return cols, false
	}
	return r.Columns, true
}

func writeConditions(sb *strings.Builder, r *record.DataRecord) {
	cols, nullSafe := conditionColumns(r)
	op := " = ?"
	if nullSafe {
		op = " <=> ?"
	}
	for i, col := range cols {
		if i != 0 {
			sb.WriteString(" AND ")
		}
		sb.WriteString(sqlh.QuoteIdent(col.Name) + op)
	}
}

// insertArgs returns values of all columns.
func insertArgs(args []interface{}, r *record.DataRecord) []interface{} {
	for _, col := range r.Columns {
		args = append(args, col.Value)
	}
	return args
}

// updateArgs returns new values of set columns then condition values: old value for an
// updated unique key column to locate the row by its pre-update identity.
func updateArgs(r *record.DataRecord, set []*record.Column) []interface{} {
	args := make([]interface{}, 0, len(set)+len(r.Columns))
	for _, col := range set {
		args = append(args, col.Value)
	}
	cols, _ := conditionColumns(r)
	for _, col := range cols {
		if col.Updated {
			args = append(args, col.OldValue)
		} else {
			args = append(args, col.Value)
		}
	}
	return args
}

// deleteArgs returns current values of condition columns.
func deleteArgs(r *record.DataRecord) []interface{} {
	cols, _ := conditionColumns(r)
	args := make([]interface{}, 0, len(cols))
	for _, col := range cols {
		args = append(args, col.Value)
	}
	return args
}
