// Package inventory copies existing rows of a table as INSERT records.
//
// Tables with a single column primary key are scanned page by page in primary key order,
// other tables are scanned by one query.
package inventory

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/huangjunwen/scaling/channel"
	"github.com/huangjunwen/scaling/helpers/sqlh"
	"github.com/huangjunwen/scaling/meta"
	"github.com/huangjunwen/scaling/record"
	"github.com/huangjunwen/scaling/zlog"
)

var (
	// DefaultBatchSize is the default number of rows per page.
	DefaultBatchSize = 1000
)

// Position is the position of an inventory record: the last primary key value scanned.
type Position struct {
	Table   string
	LastKey string
}

var (
	_ record.Position = Position{}
)

// String implements record.Position interface.
func (pos Position) String() string {
	return pos.Table + ":" + pos.LastKey
}

// Dumper scans one source table.
type Dumper struct {
	logger     zerolog.Logger
	batchSize  int
	uniqueKeys []string

	q            sqlh.Queryer
	schema       string
	table        string
	logicalTable string
	provider     meta.Provider
	pusher       channel.Pusher
}

// Option is option in creating Dumper.
type Option func(*Dumper) error

// NewDumper creates a Dumper scanning schema.table. Records are named logicalTable.
func NewDumper(q sqlh.Queryer, schema, table, logicalTable string, provider meta.Provider, pusher channel.Pusher, opts ...Option) (*Dumper, error) {
	if table == "" {
		return nil, errors.New("inventory.NewDumper: empty table")
	}
	if logicalTable == "" {
		logicalTable = table
	}
	d := &Dumper{
		batchSize:    DefaultBatchSize,
		q:            q,
		schema:       schema,
		table:        table,
		logicalTable: logicalTable,
		provider:     provider,
		pusher:       pusher,
	}
	OptLogger(&zlog.DefaultZLogger)(d)
	for _, opt := range opts {
		if err := opt(d); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// OptLogger sets structured logger.
func OptLogger(logger *zerolog.Logger) Option {
	return func(d *Dumper) error {
		if logger == nil {
			d.logger = zerolog.Nop()
			return nil
		}
		d.logger = logger.With().Str("component", "scaling.inventory.Dumper").Str("table", d.table).Logger()
		return nil
	}
}

// OptBatchSize sets rows per page.
func OptBatchSize(batchSize int) Option {
	return func(d *Dumper) error {
		if batchSize <= 0 {
			return fmt.Errorf("scaling.inventory.Dumper: BatchSize must >= 1")
		}
		d.batchSize = batchSize
		return nil
	}
}

// OptUniqueKeys overrides identity columns. By default primary keys are used.
func OptUniqueKeys(uniqueKeys []string) Option {
	return func(d *Dumper) error {
		d.uniqueKeys = uniqueKeys
		return nil
	}
}

// Run scans the table and pushes INSERT records followed by a FinishedRecord.
func (d *Dumper) Run(ctx context.Context) error {
	tm, err := d.provider.TableMeta(ctx, d.table)
	if err != nil {
		return err
	}

	uniqueKeys := tm.UniqueKeySet(d.uniqueKeys)
	pks := tm.PrimaryKeyNames()
	total := 0
	pos := Position{Table: d.logicalTable}

	if len(pks) != 1 {
		d.logger.Warn().Strs("pks", pks).Msg("no single column primary key, scan in one query")
		n, _, err := d.scan(ctx, tm, uniqueKeys, d.buildQuery(tm, "", false), &pos)
		if err != nil {
			return err
		}
		total += n
	} else {
		var lastKey interface{}
		for {
			var (
				n   int
				key interface{}
				err error
			)
			if lastKey == nil {
				n, key, err = d.scan(ctx, tm, uniqueKeys, d.buildQuery(tm, pks[0], false), &pos, d.batchSize)
			} else {
				n, key, err = d.scan(ctx, tm, uniqueKeys, d.buildQuery(tm, pks[0], true), &pos, lastKey, d.batchSize)
			}
			if err != nil {
				return err
			}
			total += n
			if n < d.batchSize {
				break
			}
			lastKey = key
		}
	}

	d.logger.Info().Int("rows", total).Msg("inventory finished")
	return d.pusher.Push(ctx, record.NewFinishedRecord(pos))
}

func (d *Dumper) buildQuery(tm *meta.TableMeta, pk string, after bool) string {
	var b strings.Builder
	b.WriteString("SELECT ")
	for i, name := range tm.ColumnNames() {
		if i != 0 {
			b.WriteString(", ")
		}
		b.WriteString(sqlh.QuoteIdent(name))
	}
	b.WriteString(" FROM ")
	b.WriteString(sqlh.QuoteTable(d.schema, d.table))
	if pk == "" {
		return b.String()
	}
	if after {
		b.WriteString(" WHERE " + sqlh.QuoteIdent(pk) + " > ?")
	}
	b.WriteString(" ORDER BY " + sqlh.QuoteIdent(pk) + " LIMIT ?")
	return b.String()
}

// scan runs one query and pushes its rows. It returns the number of rows and the primary
// key value of the last row.
func (d *Dumper) scan(ctx context.Context, tm *meta.TableMeta, uniqueKeys map[string]bool, query string, pos *Position, args ...interface{}) (int, interface{}, error) {
	rows, err := d.q.QueryContext(ctx, query, args...)
	if err != nil {
		return 0, nil, errors.WithMessagef(err, "Scan table %s error", d.table)
	}
	defer rows.Close()

	pkIdx := -1
	for i, col := range tm.Columns {
		if col.PrimaryKey {
			pkIdx = i
			break
		}
	}

	n := 0
	var lastKey interface{}
	for rows.Next() {
		dest := scanTargets(tm)
		if err := rows.Scan(dest...); err != nil {
			return 0, nil, errors.WithMessagef(err, "Scan table %s error", d.table)
		}
		values := scanValues(dest)

		if pkIdx >= 0 {
			lastKey = values[pkIdx]
			pos.LastKey = fmt.Sprintf("%v", lastKey)
		}
		r := record.NewDataRecord(*pos, d.logicalTable, record.Insert, len(tm.Columns))
		for i, col := range tm.Columns {
			r.AddColumn(&record.Column{
				Name:      col.Name,
				Value:     values[i],
				UniqueKey: meta.IsUniqueKey(uniqueKeys, col.Name),
			})
		}
		if err := d.pusher.Push(ctx, r); err != nil {
			return 0, nil, err
		}
		n++
	}
	if err := rows.Err(); err != nil {
		return 0, nil, errors.WithMessagef(err, "Scan table %s error", d.table)
	}
	return n, lastKey, nil
}
