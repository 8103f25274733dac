// Command scaling copies tables of a MySQL schema to a target and keeps the target
// current by replaying binlog.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/go-sql-driver/mysql"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/huangjunwen/scaling/config"
	"github.com/huangjunwen/scaling/importer"
	"github.com/huangjunwen/scaling/position"
	"github.com/huangjunwen/scaling/task"
	"github.com/huangjunwen/scaling/zlog"
)

func main() {
	confName := flag.String("conf", "scaling.json", "Config file name (json format)")
	metricsAddr := flag.String("metrics", "", "Address to serve prometheus metrics, e.g. :9100")
	flag.Parse()

	logger := zlog.Component("scaling")

	cfg, err := config.Load(*confName)
	if err != nil {
		logger.Fatal().Err(err).Msg("Load config error")
	}
	if err := zlog.SetLevel(cfg.LogLevel); err != nil {
		logger.Fatal().Err(err).Msg("Invalid log level")
	}
	logger = zlog.Component("scaling")
	logger.Info().Str("conf", *confName).Msg("Config read ok")

	stopCtx, stopFunc := context.WithCancel(context.Background())
	defer stopFunc()
	{
		// Stop the context when receiving signals.
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
		go func() {
			defer signal.Stop(sigCh)
			<-sigCh
			logger.Info().Msg("Signal received, stopping")
			stopFunc()
		}()
	}

	var source *sql.DB
	{
		source, err = sql.Open("mysql", cfg.Source.DSN())
		if err != nil {
			logger.Fatal().Err(err).Msg("Open source error")
		}
		defer source.Close()
		logger.Info().Str("addr", cfg.Source.Addr()).Msg("Open source ok")
	}

	var target *sql.DB
	{
		target, err = sql.Open("mysql", cfg.Target.DSN())
		if err != nil {
			logger.Fatal().Err(err).Msg("Open target error")
		}
		defer target.Close()
		if cfg.Target.MaxOpenConns > 0 {
			target.SetMaxOpenConns(cfg.Target.MaxOpenConns)
		}
		logger.Info().Str("addr", cfg.Target.Addr()).Msg("Open target ok")
	}

	var store *position.BoltStore
	{
		store, err = position.OpenBoltStore(cfg.CheckpointFile)
		if err != nil {
			logger.Fatal().Err(err).Msg("Open checkpoint store error")
		}
		defer store.Close()
	}

	opts := []task.JobOption{}

	if cfg.NatsURL != "" {
		nopts := nats.GetDefaultOptions()
		nopts.Url = cfg.NatsURL
		nopts.MaxReconnect = -1 // Never give up reconnect.
		nc, err := nopts.Connect()
		if err != nil {
			logger.Fatal().Err(err).Msg("Connect to nats server error")
		}
		defer nc.Close()
		opts = append(opts, task.JobOptPublisher(nc))
		logger.Info().Str("url", cfg.NatsURL).Msg("Connect to nats server ok")
	}

	if *metricsAddr != "" {
		metrics := importer.NewMetrics("scaling")
		if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
			logger.Fatal().Err(err).Msg("Register metrics error")
		}
		opts = append(opts, task.JobOptMetrics(metrics))

		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
				logger.Error().Err(err).Msg("Serve metrics error")
			}
		}()
	}

	job, err := task.NewJob(cfg, source, target, store, opts...)
	if err != nil {
		logger.Fatal().Err(err).Msg("New job error")
	}
	logger.Info().Str("job", job.ID()).Msg("Job starting")

	err = job.Run(stopCtx)
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("Job failed")
	}
	logger.Info().
		Int64("insertedRows", job.Counter().InsertedRows()).
		Int64("deletedRows", job.Counter().DeletedRows()).
		Msg("Job stopped")
}
