// Package importer drains records from a channel and applies them to the target database.
//
// Each fetched batch is merged and grouped by table, then every table group is flushed
// in one transaction in the order DELETE, identity changing UPDATE, INSERT, other UPDATE,
// retried with exponential backoff.
// The batch is acknowledged only after all groups have been committed.
package importer

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/atomic"

	"github.com/huangjunwen/scaling/channel"
	"github.com/huangjunwen/scaling/helpers/sqlh"
	"github.com/huangjunwen/scaling/merge"
	"github.com/huangjunwen/scaling/record"
	"github.com/huangjunwen/scaling/zlog"
)

// State of Importer.
type State int32

const (
	Created State = iota
	Running
	Stopping
	Stopped
)

var stateNames = [...]string{
	Created:  "Created",
	Running:  "Running",
	Stopping: "Stopping",
	Stopped:  "Stopped",
}

// String returns the name of the state.
func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "Unknown"
}

var (
	// ErrAlreadyRun is returned when Run is called more than once.
	ErrAlreadyRun = errors.New("scaling.importer.Importer: Already run.")

	errStopped = errors.New("scaling.importer.Importer: Stopped.")
)

// maxPlaceholders is the max number of placeholders in one MySQL statement.
const maxPlaceholders = 65535

// Progress of an importer.
type Progress struct {
	InsertedRows int
	DeletedRows  int
}

// ProgressListener is notified after each table group is committed.
type ProgressListener interface {
	OnProgressUpdated(Progress)
}

// Importer writes records of a channel to target.
type Importer struct {
	// Options.
	logger           zerolog.Logger
	batchSize        int
	fetchTimeout     time.Duration
	retryTimes       int
	retryUnit        time.Duration
	maxRetryInterval time.Duration
	builder          SQLBuilder
	rateLimiter      RateLimiter
	listener         ProgressListener
	metrics          *Metrics

	// Immutable fields.
	ch channel.Channel
	ds DataSourceManager

	// Replaced in tests.
	sleepFn func(time.Duration) bool

	// Mutable fields.
	state    atomic.Int32
	stopC    chan struct{}
	stopOnce sync.Once
}

// NewImporter creates a new Importer.
func NewImporter(ch channel.Channel, ds DataSourceManager, opts ...Option) (*Importer, error) {
	imp := &Importer{
		batchSize:        DefaultBatchSize,
		fetchTimeout:     DefaultFetchTimeout,
		retryTimes:       DefaultRetryTimes,
		retryUnit:        DefaultRetryUnit,
		maxRetryInterval: DefaultMaxRetryInterval,
		builder:          MySQLBuilder{},
		ch:               ch,
		ds:               ds,
		stopC:            make(chan struct{}),
	}
	OptLogger(&zlog.DefaultZLogger)(imp)

	for _, opt := range opts {
		if err := opt(imp); err != nil {
			return nil, err
		}
	}
	return imp, nil
}

// State returns current state.
func (imp *Importer) State() State {
	return State(imp.state.Load())
}

func (imp *Importer) isRunning(ctx context.Context) bool {
	if imp.State() != Running || ctx.Err() != nil {
		return false
	}
	select {
	case <-imp.stopC:
		return false
	default:
		return true
	}
}

// Stop requests the importer to stop. It returns immediately, Run returns after the
// current statement finished.
func (imp *Importer) Stop() {
	imp.state.CAS(int32(Running), int32(Stopping))
	imp.stopOnce.Do(func() {
		close(imp.stopC)
	})
}

// Run fetches and writes records until a FinishedRecord is written, Stop is called or
// ctx is done. It returns an error if a batch can't be written.
func (imp *Importer) Run(ctx context.Context) (err error) {
	if !imp.state.CAS(int32(Created), int32(Running)) {
		return ErrAlreadyRun
	}
	defer func() {
		imp.state.Store(int32(Stopped))
		if err == errStopped {
			err = nil
		}
		if err != nil {
			imp.logger.Error().Err(err).Msg("importer stopped with error")
		} else {
			imp.logger.Info().Msg("importer stopped")
		}
	}()

	// Stop is cooperative: checked before each fetch and each retry.
	for imp.isRunning(ctx) {
		records := imp.ch.FetchRecords(imp.batchSize*2, imp.fetchTimeout)
		if len(records) == 0 {
			continue
		}

		if err := imp.write(ctx, records); err != nil {
			return err
		}
		imp.ch.Ack(records)

		if _, ok := records[len(records)-1].(*record.FinishedRecord); ok {
			imp.logger.Info().Msg("finished record reached")
			return nil
		}
	}
	return nil
}

func (imp *Importer) write(ctx context.Context, records []record.Record) error {
	dataRecords := make([]*record.DataRecord, 0, len(records))
	for _, r := range records {
		if dr, ok := r.(*record.DataRecord); ok {
			dataRecords = append(dataRecords, dr)
		}
	}
	if len(dataRecords) == 0 {
		return nil
	}

	groups, err := merge.Group(dataRecords)
	if err != nil {
		return err
	}

	db, err := imp.ds.DataSource(ctx)
	if err != nil {
		return err
	}

	for _, group := range groups {
		if err := imp.withRetry(ctx, group.TableName, func() error {
			return imp.flush(ctx, db, group)
		}); err != nil {
			return err
		}
	}
	return nil
}

// flush writes a table group in one transaction in the order: DELETE, identity changing
// UPDATE, INSERT then the rest UPDATE. An INSERT may reuse a key released by an identity
// change in the same batch.
func (imp *Importer) flush(ctx context.Context, db *sql.DB, group *record.GroupedDataRecord) error {
	keyUpdates, updates := splitUpdates(group.UpdateRecords)

	return sqlh.WithTx(ctx, db, func(ctx context.Context, tx *sql.Tx) error {
		txCtx := sqlh.MustCurTxContext(ctx)
		if imp.metrics != nil {
			start := time.Now()
			txCtx.OnFinalised(func() {
				imp.metrics.FlushDuration.WithLabelValues(group.TableName).Observe(time.Since(start).Seconds())
			})
		}
		txCtx.OnCommitted(func() {
			imp.reportFlushed(group)
		})

		written := 0
		n, err := imp.executeDelete(ctx, tx, group.DeleteRecords)
		if err != nil {
			return err
		}
		written += n
		if n, err = imp.executeUpdate(ctx, tx, keyUpdates); err != nil {
			return err
		}
		written += n
		if n, err = imp.executeInsert(ctx, tx, group.InsertRecords); err != nil {
			return err
		}
		written += n
		if n, err = imp.executeUpdate(ctx, tx, updates); err != nil {
			return err
		}
		written += n

		if written == 0 {
			return sqlh.Rollback
		}
		return nil
	})
}

// reportFlushed is called after a table group has been committed.
func (imp *Importer) reportFlushed(group *record.GroupedDataRecord) {
	if imp.metrics != nil {
		for typ, n := range map[record.Type]int{
			record.Insert: len(group.InsertRecords),
			record.Update: len(group.UpdateRecords),
			record.Delete: len(group.DeleteRecords),
		} {
			if n != 0 {
				imp.metrics.FlushedRows.WithLabelValues(group.TableName, typ.String()).Add(float64(n))
			}
		}
	}
	if imp.listener != nil {
		imp.listener.OnProgressUpdated(Progress{
			InsertedRows: len(group.InsertRecords),
			DeletedRows:  len(group.DeleteRecords),
		})
	}
}

// splitUpdates splits records into identity changing ones and the rest, order is kept.
func splitUpdates(records []*record.DataRecord) (keyUpdates, updates []*record.DataRecord) {
	for _, r := range records {
		if r.UniqueKeyUpdated() {
			keyUpdates = append(keyUpdates, r)
		} else {
			updates = append(updates, r)
		}
	}
	return
}

func (imp *Importer) intercept(typ record.Type) {
	if imp.rateLimiter != nil {
		imp.rateLimiter.Intercept(typ, 1)
	}
}

// executeDelete and the other execute methods return the number of statements executed.
func (imp *Importer) executeDelete(ctx context.Context, tx *sql.Tx, records []*record.DataRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	imp.intercept(record.Delete)

	stmt, err := tx.PrepareContext(ctx, imp.builder.BuildDeleteSQL(records[0]))
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	for i, r := range records {
		if _, err := stmt.ExecContext(ctx, deleteArgs(r)...); err != nil {
			return i, err
		}
	}
	return len(records), nil
}

func (imp *Importer) executeInsert(ctx context.Context, tx *sql.Tx, records []*record.DataRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	imp.intercept(record.Insert)

	cols := len(records[0].Columns)
	if cols == 0 {
		return 0, nil
	}
	stmts := 0
	// Split if too many placeholders.
	rowsPerStmt := maxPlaceholders / cols
	for len(records) > 0 {
		n := len(records)
		if n > rowsPerStmt {
			n = rowsPerStmt
		}
		args := make([]interface{}, 0, n*cols)
		for _, r := range records[:n] {
			args = insertArgs(args, r)
		}
		if _, err := tx.ExecContext(ctx, imp.builder.BuildInsertSQL(records[0], n), args...); err != nil {
			return stmts, err
		}
		stmts++
		records = records[n:]
	}
	return stmts, nil
}

func (imp *Importer) executeUpdate(ctx context.Context, tx *sql.Tx, records []*record.DataRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	imp.intercept(record.Update)

	stmts := 0
	for _, r := range records {
		set := imp.builder.ExtractUpdatedColumns(r)
		if len(set) == 0 {
			continue
		}
		result, err := tx.ExecContext(ctx, imp.builder.BuildUpdateSQL(r, set), updateArgs(r, set)...)
		if err != nil {
			return stmts, err
		}
		stmts++
		if affected, err := result.RowsAffected(); err == nil && affected != 1 {
			imp.logger.Warn().
				Str("table", r.TableName).
				Str("record", r.String()).
				Int64("affected", affected).
				Msg("update affected rows != 1")
		}
	}
	return stmts, nil
}
