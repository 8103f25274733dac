// Package meta provides table metadata (ordered columns and identity columns) used by
// dumpers to name decoded values and by importers to build statements.
package meta

import (
	"context"
	"strings"

	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"

	"github.com/huangjunwen/scaling/helpers/sqlh"
)

var (
	// DefaultCacheSize is the default number of cached tables of MySQLProvider.
	DefaultCacheSize = 1024
)

// ColumnMeta describes one column.
type ColumnMeta struct {
	Name string

	// DataType is the lower case data type, e.g. "int", "varchar".
	DataType string

	// Ordinal is the 1-based position of the column.
	Ordinal int

	PrimaryKey bool
	Unsigned   bool
}

// TableMeta describes a table.
type TableMeta struct {
	Schema  string
	Name    string
	Columns []*ColumnMeta
}

// Provider returns metadata of tables.
type Provider interface {
	// TableMeta returns the metadata of a table. It returns an error if the table not found.
	TableMeta(ctx context.Context, table string) (*TableMeta, error)
}

// MySQLProvider queries information_schema of a MySQL schema and caches results.
type MySQLProvider struct {
	q      sqlh.Queryer
	schema string
	cache  *lru.Cache
}

var (
	_ Provider = (*MySQLProvider)(nil)
)

// PrimaryKeyNames returns names of primary key columns in column order.
func (tm *TableMeta) PrimaryKeyNames() []string {
	ret := []string{}
	for _, col := range tm.Columns {
		if col.PrimaryKey {
			ret = append(ret, col.Name)
		}
	}
	return ret
}

// ColumnNames returns names of all columns in order.
func (tm *TableMeta) ColumnNames() []string {
	ret := make([]string, 0, len(tm.Columns))
	for _, col := range tm.Columns {
		ret = append(ret, col.Name)
	}
	return ret
}

// UniqueKeySet returns the set of identity column names: uniqueKeys if not empty, or
// primary key columns.
func (tm *TableMeta) UniqueKeySet(uniqueKeys []string) map[string]bool {
	ret := make(map[string]bool)
	if len(uniqueKeys) == 0 {
		uniqueKeys = tm.PrimaryKeyNames()
	}
	for _, name := range uniqueKeys {
		ret[strings.ToLower(name)] = true
	}
	return ret
}

// IsUniqueKey returns true if name in set (case insensitive).
func IsUniqueKey(set map[string]bool, name string) bool {
	return set[strings.ToLower(name)]
}

// NewMySQLProvider creates a new MySQLProvider for tables in schema.
func NewMySQLProvider(q sqlh.Queryer, schema string) *MySQLProvider {
	cache, err := lru.New(DefaultCacheSize)
	if err != nil {
		panic(err)
	}
	return &MySQLProvider{
		q:      q,
		schema: schema,
		cache:  cache,
	}
}

// TableMeta implements Provider interface.
func (p *MySQLProvider) TableMeta(ctx context.Context, table string) (*TableMeta, error) {
	if v, ok := p.cache.Get(table); ok {
		return v.(*TableMeta), nil
	}

	rows, err := p.q.QueryContext(ctx, `
		SELECT
			column_name, data_type, ordinal_position, column_key, column_type
		FROM information_schema.columns
		WHERE
			table_schema = ? AND table_name = ?
		ORDER BY ordinal_position
	`, p.schema, table)
	if err != nil {
		return nil, errors.WithMessagef(err, "Query table meta of %s.%s error", p.schema, table)
	}
	defer rows.Close()

	ret := &TableMeta{
		Schema: p.schema,
		Name:   table,
	}
	for rows.Next() {
		var (
			name, dataType, columnKey, columnType string
			ordinal                               int
		)
		if err := rows.Scan(&name, &dataType, &ordinal, &columnKey, &columnType); err != nil {
			return nil, errors.WithMessagef(err, "Scan table meta of %s.%s error", p.schema, table)
		}
		ret.Columns = append(ret.Columns, &ColumnMeta{
			Name:       name,
			DataType:   strings.ToLower(dataType),
			Ordinal:    ordinal,
			PrimaryKey: columnKey == "PRI",
			Unsigned:   strings.Contains(strings.ToLower(columnType), "unsigned"),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, errors.WithMessagef(err, "Iterate table meta of %s.%s error", p.schema, table)
	}
	if len(ret.Columns) == 0 {
		return nil, errors.Errorf("Table %s.%s not found", p.schema, table)
	}

	p.cache.Add(table, ret)
	return ret, nil
}

// Invalidate removes a table from cache.
func (p *MySQLProvider) Invalidate(table string) {
	p.cache.Remove(table)
}
