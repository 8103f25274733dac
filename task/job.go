package task

import (
	"context"
	"database/sql"
	"sort"

	"github.com/rs/xid"
	"github.com/rs/zerolog"

	"github.com/huangjunwen/scaling/binlog"
	"github.com/huangjunwen/scaling/config"
	"github.com/huangjunwen/scaling/importer"
	"github.com/huangjunwen/scaling/meta"
	"github.com/huangjunwen/scaling/position"
	"github.com/huangjunwen/scaling/progress"
	"github.com/huangjunwen/scaling/taskrunner"
	"github.com/huangjunwen/scaling/zlog"
)

const inventoryDoneSuffix = ".inventory"

// Job migrates tables of a source schema: the binlog position is captured first, then
// tables are copied concurrently, then changes since the position are replayed.
//
// The position is persisted in store so that a restarted job skips finished phases.
type Job struct {
	// Options.
	logger      zerolog.Logger
	publisher   progress.Publisher
	metrics     *importer.Metrics
	rateLimiter importer.RateLimiter

	// Immutable fields.
	id       string
	cfg      *config.JobConfig
	source   *sql.DB
	target   importer.DataSourceManager
	store    position.Store
	provider *meta.MySQLProvider
	counter  *progress.Counter

	// Replaced in tests.
	dial func(ctx context.Context, start binlog.Position) (binlog.EventSource, error)
}

// JobOption is option in creating Job.
type JobOption func(*Job) error

// NewJob creates a Job. cfg must have been validated.
func NewJob(cfg *config.JobConfig, source, target *sql.DB, store position.Store, opts ...JobOption) (*Job, error) {
	id := cfg.JobID
	if id == "" {
		id = xid.New().String()
	}
	j := &Job{
		id:       id,
		cfg:      cfg,
		source:   source,
		target:   importer.StaticDataSource{DB: target},
		store:    store,
		provider: meta.NewMySQLProvider(source, cfg.Source.Schema),
		counter:  &progress.Counter{},
	}
	JobOptLogger(&zlog.DefaultZLogger)(j)
	if cfg.Importer.RateLimit > 0 {
		j.rateLimiter = importer.NewBucketRateLimiter(cfg.Importer.RateLimit, int64(cfg.Importer.RateLimit)+1)
	}
	for _, opt := range opts {
		if err := opt(j); err != nil {
			return nil, err
		}
	}
	return j, nil
}

// JobOptLogger sets structured logger.
func JobOptLogger(logger *zerolog.Logger) JobOption {
	return func(j *Job) error {
		if logger == nil {
			nop := zerolog.Nop()
			logger = &nop
		}
		j.logger = logger.With().Str("component", "scaling.task.Job").Str("job", j.id).Logger()
		return nil
	}
}

// JobOptPublisher publishes progress of tasks, pub is usually a *nats.Conn.
func JobOptPublisher(pub progress.Publisher) JobOption {
	return func(j *Job) error {
		j.publisher = pub
		return nil
	}
}

// JobOptMetrics sets importer metrics.
func JobOptMetrics(metrics *importer.Metrics) JobOption {
	return func(j *Job) error {
		j.metrics = metrics
		return nil
	}
}

// ID returns the job id.
func (j *Job) ID() string {
	return j.id
}

// Counter returns total progress of all tasks.
func (j *Job) Counter() *progress.Counter {
	return j.counter
}

// Run runs the job until ctx is done or an error occurs.
func (j *Job) Run(ctx context.Context) error {
	tracker := position.NewTracker(nil)
	restored, err := tracker.Restore(j.store, j.id)
	if err != nil {
		return err
	}
	if !restored {
		// Capture the position before copying so that no change is missed.
		if _, err := tracker.Init(ctx, j.source); err != nil {
			return err
		}
		if err := tracker.Persist(j.store, j.id); err != nil {
			return err
		}
	}
	j.logger.Info().Str("position", tracker.Get().String()).Bool("restored", restored).Msg("job started")

	if !j.cfg.SkipInventory {
		_, done, err := j.store.Load(j.id + inventoryDoneSuffix)
		if err != nil {
			return err
		}
		if !done {
			if err := j.runInventory(ctx); err != nil {
				return err
			}
			if err := j.store.Save(j.id+inventoryDoneSuffix, "done"); err != nil {
				return err
			}
		}
	}

	return j.runIncremental(ctx, tracker)
}

func (j *Job) runInventory(ctx context.Context) error {
	tables := make([]string, 0, len(j.cfg.Tables))
	for table := range j.cfg.Tables {
		tables = append(tables, table)
	}
	sort.Strings(tables)

	runner := taskrunner.NewLimitedRunner(ctx, j.cfg.Concurrency, -1)
	for _, table := range tables {
		logicalTable := j.cfg.Tables[table]
		importerOpts, err := j.importerOptions(table)
		if err != nil {
			runner.Stop()
			return err
		}
		t, err := NewInventoryTask(&InventoryConfig{
			Source:          j.source,
			Schema:          j.cfg.Source.Schema,
			Table:           table,
			LogicalTable:    logicalTable,
			UniqueKeys:      j.cfg.Importer.UniqueKeys[logicalTable],
			BatchSize:       j.cfg.Importer.BatchSize,
			Provider:        j.provider,
			Target:          j.target,
			ChannelCapacity: j.cfg.ChannelCapacity,
			ImporterOptions: importerOpts,
			Logger:          &j.logger,
		})
		if err != nil {
			runner.Stop()
			return err
		}
		if err := runner.Submit(t.Run); err != nil {
			runner.Stop()
			return err
		}
	}
	if err := runner.Wait(); err != nil {
		return err
	}
	j.logger.Info().Int64("rows", j.counter.InsertedRows()).Msg("inventory finished")
	return nil
}

func (j *Job) runIncremental(ctx context.Context, tracker *position.Tracker) error {
	importerOpts, err := j.importerOptions("incremental")
	if err != nil {
		return err
	}
	t, err := NewIncrementalTask(&IncrementalConfig{
		JobID:           j.id,
		Conn:            j.cfg.Source.ToConnConfig(),
		Schema:          j.cfg.Source.Schema,
		Tables:          j.cfg.Tables,
		UniqueKeys:      j.cfg.Importer.UniqueKeys,
		Provider:        j.provider,
		Target:          j.target,
		Tracker:         tracker,
		Store:           j.store,
		ChannelCapacity: j.cfg.ChannelCapacity,
		ImporterOptions: importerOpts,
		Logger:          &j.logger,
	})
	if err != nil {
		return err
	}
	if j.dial != nil {
		t.dial = j.dial
	}
	return t.Run(ctx)
}

func (j *Job) importerOptions(taskName string) ([]importer.Option, error) {
	cfg := &j.cfg.Importer
	opts := []importer.Option{}
	if cfg.BatchSize > 0 {
		opts = append(opts, importer.OptBatchSize(cfg.BatchSize))
	}
	if cfg.RetryTimes != nil {
		opts = append(opts, importer.OptRetryTimes(*cfg.RetryTimes))
	}
	if d := cfg.RetryUnit(); d > 0 {
		opts = append(opts, importer.OptRetryUnit(d))
	}
	if d := cfg.FetchTimeout(); d > 0 {
		opts = append(opts, importer.OptFetchTimeout(d))
	}
	if j.rateLimiter != nil {
		opts = append(opts, importer.OptRateLimiter(j.rateLimiter))
	}
	if j.metrics != nil {
		opts = append(opts, importer.OptMetrics(j.metrics))
	}

	listeners := progress.Listeners{j.counter}
	if j.publisher != nil {
		pub, err := progress.NewNatsPublisher(j.publisher, j.id, taskName, progress.NatsPublisherOptLogger(&j.logger))
		if err != nil {
			return nil, err
		}
		listeners = append(listeners, pub)
	}
	return append(opts, importer.OptProgressListener(listeners)), nil
}
