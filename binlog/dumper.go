package binlog

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/siddontang/go-mysql/mysql"

	"github.com/huangjunwen/scaling/channel"
	"github.com/huangjunwen/scaling/meta"
	"github.com/huangjunwen/scaling/record"
	"github.com/huangjunwen/scaling/zlog"
)

// Dumper converts events of one source schema into records.
//
// Row images must be full (binlog_row_image=FULL) since values of absent columns are
// treated as NULL.
type Dumper struct {
	logger     zerolog.Logger
	schema     string
	provider   meta.Provider
	pusher     channel.Pusher
	tables     map[string]string
	uniqueKeys map[string][]string

	// Position of the last transaction boundary and whether inside a transaction.
	resume Position
	inTx   bool
}

// DumperOption is option in creating Dumper.
type DumperOption func(*Dumper) error

// NewDumper creates a new Dumper for tables in schema.
func NewDumper(schema string, provider meta.Provider, pusher channel.Pusher, opts ...DumperOption) (*Dumper, error) {
	if schema == "" {
		return nil, errors.New("NewDumper: empty schema")
	}
	d := &Dumper{
		logger:   zlog.Component("binlog.dumper"),
		schema:   schema,
		provider: provider,
		pusher:   pusher,
	}
	for _, opt := range opts {
		if err := opt(d); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// OptDumperLogger sets logger of Dumper.
func OptDumperLogger(logger *zerolog.Logger) DumperOption {
	return func(d *Dumper) error {
		if logger == nil {
			d.logger = zerolog.Nop()
		} else {
			d.logger = logger.With().Str("component", "binlog.dumper").Logger()
		}
		return nil
	}
}

// OptTables sets actual table name -> logical table name. Only changes of these tables are
// dumped. By default all tables of the schema are dumped with their own names.
func OptTables(tables map[string]string) DumperOption {
	return func(d *Dumper) error {
		d.tables = tables
		return nil
	}
}

// OptUniqueKeys overrides identity columns of logical tables. By default primary keys are used.
func OptUniqueKeys(uniqueKeys map[string][]string) DumperOption {
	return func(d *Dumper) error {
		d.uniqueKeys = uniqueKeys
		return nil
	}
}

// Run dials the source and dumps from start until ctx is done or an error occurs.
func (d *Dumper) Run(ctx context.Context, cfg *ConnConfig, start Position) error {
	src, err := Dial(ctx, cfg, start)
	if err != nil {
		return err
	}
	defer src.Close()

	d.logger.Info().Str("position", start.String()).Msg("binlog dump started")
	err = d.Dump(ctx, src, start)
	if err != nil && ctx.Err() != nil {
		d.logger.Info().Msg("binlog dump stopped")
		return nil
	}
	return err
}

// Dump reads events from src, which starts at start, and pushes records until an EOF
// event or an error.
func (d *Dumper) Dump(ctx context.Context, src EventSource, start Position) error {
	d.resume = start
	d.inTx = false
	for {
		ev, err := src.Next()
		if err != nil {
			return err
		}
		if err := d.handleEvent(ctx, ev); err != nil {
			return err
		}
		if ev.Kind == KindEOF {
			return nil
		}
	}
}

func (d *Dumper) handleEvent(ctx context.Context, ev *Event) error {
	switch ev.Kind {
	case KindFormatDescription, KindTableMap:
		// Session state only.
		return nil

	case KindRotate:
		if !d.inTx {
			d.resume = ev.Position
		}
		return nil

	case KindEOF:
		return d.pusher.Push(ctx, record.NewFinishedRecord(ev.Position))

	case KindWriteRows, KindUpdateRows, KindDeleteRows:
		records, err := d.convertRows(ctx, ev)
		if err != nil {
			return err
		}
		if records == nil {
			return d.pusher.Push(ctx, record.NewPlaceholderRecord(d.recordPosition(ev)))
		}
		for _, r := range records {
			if err := d.pusher.Push(ctx, r); err != nil {
				return err
			}
		}
		return nil

	case KindGTID:
		d.inTx = true
		return d.pusher.Push(ctx, record.NewPlaceholderRecord(d.recordPosition(ev)))

	case KindQuery:
		if ev.Query.Query == "BEGIN" {
			d.inTx = true
			return d.pusher.Push(ctx, record.NewPlaceholderRecord(d.recordPosition(ev)))
		}
		// DDL or COMMIT of non transactional engines.
		d.endTx(ev)
		return d.pusher.Push(ctx, record.NewPlaceholderRecord(ev.Position))

	case KindXid:
		d.endTx(ev)
		return d.pusher.Push(ctx, record.NewPlaceholderRecord(ev.Position))

	default:
		if !d.inTx {
			d.resume = ev.Position
		}
		return d.pusher.Push(ctx, record.NewPlaceholderRecord(d.recordPosition(ev)))
	}
}

// recordPosition returns the position of records converted from ev. Inside a transaction
// it is the position before the transaction: a dump can only resume at a transaction
// boundary since table maps are not repeated.
func (d *Dumper) recordPosition(ev *Event) Position {
	if d.inTx && !d.resume.IsZero() {
		return d.resume
	}
	return ev.Position
}

func (d *Dumper) endTx(ev *Event) {
	d.inTx = false
	d.resume = ev.Position
}

// convertRows returns nil if the rows event is not interested.
func (d *Dumper) convertRows(ctx context.Context, ev *Event) ([]record.Record, error) {
	table := ev.Rows.Table
	if table.Schema != d.schema {
		return nil, nil
	}
	logicalTable := table.Table
	if d.tables != nil {
		name, ok := d.tables[table.Table]
		if !ok {
			return nil, nil
		}
		logicalTable = name
	}

	tm, err := d.provider.TableMeta(ctx, table.Table)
	if err != nil {
		return nil, err
	}
	if len(tm.Columns) != table.ColumnCount {
		return nil, errors.Errorf("Table %s.%s has %d column(s) but %d in binlog, table structure may have changed",
			table.Schema, table.Table, len(tm.Columns), table.ColumnCount)
	}
	uniqueKeys := tm.UniqueKeySet(d.uniqueKeys[logicalTable])

	var typ record.Type
	switch ev.Kind {
	case KindWriteRows:
		typ = record.Insert
	case KindUpdateRows:
		typ = record.Update
	default:
		typ = record.Delete
	}

	rows := ev.Rows.Rows
	ret := []record.Record{}
	newRecord := func() *record.DataRecord {
		r := record.NewDataRecord(d.recordPosition(ev), logicalTable, typ, table.ColumnCount)
		r.CommitTime = int64(ev.Header.Timestamp) * 1000
		return r
	}

	if typ == record.Update {
		for i := 0; i+1 < len(rows); i += 2 {
			before := normalizeRow(rows[i], table, tm)
			after := normalizeRow(rows[i+1], table, tm)
			r := newRecord()
			for j, col := range tm.Columns {
				r.AddColumn(&record.Column{
					Name:      col.Name,
					Value:     after[j],
					OldValue:  before[j],
					Updated:   before[j] != after[j],
					UniqueKey: meta.IsUniqueKey(uniqueKeys, col.Name),
				})
			}
			ret = append(ret, r)
		}
		return ret, nil
	}

	for _, row := range rows {
		row = normalizeRow(row, table, tm)
		r := newRecord()
		for j, col := range tm.Columns {
			r.AddColumn(&record.Column{
				Name:      col.Name,
				Value:     row[j],
				UniqueKey: meta.IsUniqueKey(uniqueKeys, col.Name),
			})
		}
		ret = append(ret, r)
	}
	return ret, nil
}

// normalizeRow converts integers of unsigned columns in place since signedness is not
// present in binlog before MySQL 8.
func normalizeRow(row []interface{}, table *TableMapEvent, tm *meta.TableMeta) []interface{} {
	for i, val := range row {
		if val == nil || !tm.Columns[i].Unsigned {
			continue
		}
		switch v := val.(type) {
		case int8:
			row[i] = uint8(v)

		case int16:
			row[i] = uint16(v)

		case int32:
			if v < 0 && table.ColumnTypes[i] == mysql.MYSQL_TYPE_INT24 {
				// 16777215 is the maximum value of mediumint unsigned.
				row[i] = uint32(16777215 + v + 1)
			} else {
				row[i] = uint32(v)
			}

		case int64:
			if table.ColumnTypes[i] == mysql.MYSQL_TYPE_LONGLONG {
				row[i] = uint64(v)
			}
		}
	}
	return row
}
