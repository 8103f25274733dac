// Package task wires dumpers, channels and importers into runnable migration tasks.
package task

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/huangjunwen/scaling/binlog"
	"github.com/huangjunwen/scaling/channel"
	"github.com/huangjunwen/scaling/helpers/sqlh"
	"github.com/huangjunwen/scaling/importer"
	"github.com/huangjunwen/scaling/inventory"
	"github.com/huangjunwen/scaling/meta"
	"github.com/huangjunwen/scaling/position"
	"github.com/huangjunwen/scaling/record"
	"github.com/huangjunwen/scaling/zlog"
)

var (
	// ErrNoStartPosition is returned when an incremental task has no binlog position to
	// start from.
	ErrNoStartPosition = errors.New("scaling.task.IncrementalTask: No binlog start position.")
)

// InventoryConfig configures an InventoryTask.
type InventoryConfig struct {
	Source       sqlh.Queryer
	Schema       string
	Table        string
	LogicalTable string
	UniqueKeys   []string
	BatchSize    int
	Provider     meta.Provider
	Target       importer.DataSourceManager

	ChannelCapacity int
	ImporterOptions []importer.Option
	Logger          *zerolog.Logger
}

// InventoryTask copies all rows of a source table to target.
type InventoryTask struct {
	logger zerolog.Logger
	dumper *inventory.Dumper
	ch     *channel.MemoryChannel
	imp    *importer.Importer
}

// NewInventoryTask creates an InventoryTask.
func NewInventoryTask(cfg *InventoryConfig) (*InventoryTask, error) {
	logger := loggerOrDefault(cfg.Logger)
	t := &InventoryTask{
		logger: logger.With().Str("component", "scaling.task.InventoryTask").Str("table", cfg.Table).Logger(),
		ch:     channel.NewMemoryChannel(cfg.ChannelCapacity, nil),
	}

	dumperOpts := []inventory.Option{
		inventory.OptLogger(logger),
		inventory.OptUniqueKeys(cfg.UniqueKeys),
	}
	if cfg.BatchSize > 0 {
		dumperOpts = append(dumperOpts, inventory.OptBatchSize(cfg.BatchSize))
	}
	dumper, err := inventory.NewDumper(cfg.Source, cfg.Schema, cfg.Table, cfg.LogicalTable, cfg.Provider, t.ch, dumperOpts...)
	if err != nil {
		return nil, err
	}
	t.dumper = dumper

	imp, err := importer.NewImporter(t.ch, cfg.Target, withLogger(logger, cfg.ImporterOptions)...)
	if err != nil {
		return nil, err
	}
	t.imp = imp
	return t, nil
}

// Run runs until all rows are written or an error occurs.
func (t *InventoryTask) Run(ctx context.Context) error {
	t.logger.Info().Msg("inventory task started")
	err := runPair(ctx, t.imp, t.ch, func(ctx context.Context) error {
		return t.dumper.Run(ctx)
	})
	if err != nil {
		t.logger.Error().Err(err).Msg("inventory task failed")
		return err
	}
	t.logger.Info().Msg("inventory task finished")
	return nil
}

// IncrementalConfig configures an IncrementalTask.
type IncrementalConfig struct {
	JobID      string
	Conn       *binlog.ConnConfig
	Schema     string
	Tables     map[string]string
	UniqueKeys map[string][]string
	Provider   meta.Provider
	Target     importer.DataSourceManager

	// Tracker holds the start position and is advanced after each acknowledged batch.
	Tracker *position.Tracker

	// Store persists the tracker if not nil.
	Store position.Store

	ChannelCapacity int
	ImporterOptions []importer.Option
	Logger          *zerolog.Logger
}

// IncrementalTask replays binlog changes to target.
type IncrementalTask struct {
	logger  zerolog.Logger
	jobID   string
	tracker *position.Tracker
	store   position.Store
	dumper  *binlog.Dumper
	ch      *channel.MemoryChannel
	imp     *importer.Importer

	dial func(ctx context.Context, start binlog.Position) (binlog.EventSource, error)
}

// NewIncrementalTask creates an IncrementalTask.
func NewIncrementalTask(cfg *IncrementalConfig) (*IncrementalTask, error) {
	if cfg.Tracker == nil {
		return nil, errors.New("NewIncrementalTask: nil Tracker")
	}
	logger := loggerOrDefault(cfg.Logger)
	t := &IncrementalTask{
		logger:  logger.With().Str("component", "scaling.task.IncrementalTask").Logger(),
		jobID:   cfg.JobID,
		tracker: cfg.Tracker,
		store:   cfg.Store,
	}
	t.ch = channel.NewMemoryChannel(cfg.ChannelCapacity, t.onAck)
	t.dial = func(ctx context.Context, start binlog.Position) (binlog.EventSource, error) {
		return binlog.Dial(ctx, cfg.Conn, start)
	}

	dumper, err := binlog.NewDumper(cfg.Schema, cfg.Provider, t.ch,
		binlog.OptDumperLogger(logger),
		binlog.OptTables(cfg.Tables),
		binlog.OptUniqueKeys(cfg.UniqueKeys),
	)
	if err != nil {
		return nil, err
	}
	t.dumper = dumper

	imp, err := importer.NewImporter(t.ch, cfg.Target, withLogger(logger, cfg.ImporterOptions)...)
	if err != nil {
		return nil, err
	}
	t.imp = imp
	return t, nil
}

func (t *IncrementalTask) onAck(records []record.Record) {
	t.tracker.AckRecords(records)
	if t.store == nil {
		return
	}
	if err := t.tracker.Persist(t.store, t.jobID); err != nil {
		// The position will be saved in next ack.
		t.logger.Error().Err(err).Msg("persist position error")
	}
}

// Stop stops the task. Run returns after the current batch is written.
func (t *IncrementalTask) Stop() {
	t.imp.Stop()
}

// Run replays changes from the tracker's position until ctx is done, Stop is called, the
// source stream ends or an error occurs.
func (t *IncrementalTask) Run(ctx context.Context) error {
	start, ok := t.tracker.Get().(binlog.Position)
	if !ok {
		return ErrNoStartPosition
	}

	t.logger.Info().Str("position", start.String()).Msg("incremental task started")
	err := runPair(ctx, t.imp, t.ch, func(ctx context.Context) error {
		src, err := t.dial(ctx, start)
		if err != nil {
			return err
		}
		defer src.Close()
		return t.dumper.Dump(ctx, src, start)
	})
	if err != nil {
		t.logger.Error().Err(err).Msg("incremental task failed")
		return err
	}
	t.logger.Info().Str("position", positionString(t.tracker.Get())).Msg("incremental task stopped")
	return nil
}

// runPair runs dump and the importer concurrently. A dump error stops the importer and an
// importer exit cancels dump.
func runPair(ctx context.Context, imp *importer.Importer, ch *channel.MemoryChannel, dump func(context.Context) error) error {
	dumpCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	dumpErrC := make(chan error, 1)
	go func() {
		err := dump(dumpCtx)
		if err != nil {
			imp.Stop()
		}
		dumpErrC <- err
	}()

	err := imp.Run(ctx)
	cancel()
	ch.Close()
	dumpErr := <-dumpErrC

	if err != nil {
		return err
	}
	if dumpErr != nil && (errors.Is(dumpErr, context.Canceled) || errors.Is(dumpErr, channel.ErrClosed)) {
		// Cancelled after the importer exited.
		return ctx.Err()
	}
	return dumpErr
}

// loggerOrDefault returns logger or zlog.DefaultZLogger if nil.
func loggerOrDefault(logger *zerolog.Logger) *zerolog.Logger {
	if logger == nil {
		return &zlog.DefaultZLogger
	}
	return logger
}

func withLogger(logger *zerolog.Logger, opts []importer.Option) []importer.Option {
	return append([]importer.Option{importer.OptLogger(logger)}, opts...)
}

func positionString(pos record.Position) string {
	if pos == nil {
		return ""
	}
	return pos.String()
}
