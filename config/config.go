// Package config contains JSON configurations of a scaling job.
package config

import (
	"encoding/json"
	"fmt"
	"io/ioutil"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"

	"github.com/huangjunwen/scaling/binlog"
)

// DBConfig is the common connection config of a MySQL server.
type DBConfig struct {
	// Host of MySQL server.
	Host string `json:"host"`

	// Port of MySQL server.
	Port uint16 `json:"port"`

	// User for connection.
	User string `json:"user"`

	// Password for connection.
	Password string `json:"password"`

	// Charset for connecting, default "utf8mb4".
	Charset string `json:"charset"`

	// Schema is the database name.
	Schema string `json:"schema"`
}

// SourceConfig is the config of the source server.
type SourceConfig struct {
	DBConfig

	// ServerID is the server id for the replica connection, must be unique among replicas.
	ServerID uint32 `json:"serverId"`

	// HeartbeatSeconds asks the source to send heartbeats when idle if > 0.
	HeartbeatSeconds int `json:"heartbeatSeconds"`
}

// TargetConfig is the config of the target server.
type TargetConfig struct {
	DBConfig

	// MaxOpenConns limits the connection pool if > 0.
	MaxOpenConns int `json:"maxOpenConns"`
}

// ImporterConfig configures importers.
type ImporterConfig struct {
	BatchSize int `json:"batchSize"`

	// RetryTimes is the number of extra attempts after a failed flush, default is used if
	// not set. 0 disables retrying.
	RetryTimes *int `json:"retryTimes"`

	RetryUnitMs    int `json:"retryUnitMs"`
	FetchTimeoutMs int `json:"fetchTimeoutMs"`

	// RateLimit is the max number of statements per second if > 0.
	RateLimit float64 `json:"rateLimit"`

	// UniqueKeys overrides identity columns of logical tables.
	UniqueKeys map[string][]string `json:"uniqueKeys"`
}

// JobConfig is the config of a job.
type JobConfig struct {
	// JobID identifies the job in checkpoint store and progress subjects. A new id is
	// generated if empty.
	JobID string `json:"jobId"`

	Source   SourceConfig   `json:"source"`
	Target   TargetConfig   `json:"target"`
	Importer ImporterConfig `json:"importer"`

	// Tables maps source table names to logical (target) table names.
	Tables map[string]string `json:"tables"`

	// Concurrency is the max number of concurrent inventory tasks.
	Concurrency int `json:"concurrency"`

	// ChannelCapacity is the capacity of each channel.
	ChannelCapacity int `json:"channelCapacity"`

	// CheckpointFile is the path of the position store.
	CheckpointFile string `json:"checkpointFile"`

	// SkipInventory skips inventory and starts from the checkpoint or current position.
	SkipInventory bool `json:"skipInventory"`

	// NatsURL enables progress publishing if not empty.
	NatsURL string `json:"natsUrl"`

	// LogLevel is the zerolog level name.
	LogLevel string `json:"logLevel"`
}

// Load reads a JobConfig from a JSON file.
func Load(path string) (*JobConfig, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return Parse(data)
}

// Parse parses and validates a JobConfig.
func Parse(data []byte) (*JobConfig, error) {
	cfg := &JobConfig{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, errors.WithMessage(err, "Parse job config error")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required fields and fills defaults.
func (cfg *JobConfig) Validate() error {
	if cfg.Source.Host == "" || cfg.Source.Schema == "" {
		return errors.New("source.host and source.schema are required")
	}
	if cfg.Source.ServerID == 0 {
		return errors.New("source.serverId is required")
	}
	if cfg.Target.Host == "" || cfg.Target.Schema == "" {
		return errors.New("target.host and target.schema are required")
	}
	if len(cfg.Tables) == 0 {
		return errors.New("tables is empty")
	}
	if cfg.Importer.RetryTimes != nil && *cfg.Importer.RetryTimes < 0 {
		return errors.New("importer.retryTimes must >= 0")
	}
	for table, logical := range cfg.Tables {
		if logical == "" {
			cfg.Tables[table] = table
		}
	}
	if cfg.Source.Port == 0 {
		cfg.Source.Port = 3306
	}
	if cfg.Target.Port == 0 {
		cfg.Target.Port = 3306
	}
	if cfg.CheckpointFile == "" {
		cfg.CheckpointFile = "scaling.db"
	}
	return nil
}

// Addr returns "host:port".
func (cfg *DBConfig) Addr() string {
	return fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
}

// ToDriverCfg returns go-sql-driver config. Temporal values are not parsed to keep them
// in the same format as values decoded from binlog, and the session time zone is UTC
// since TIMESTAMP values from binlog are rendered in UTC.
func (cfg *DBConfig) ToDriverCfg() *mysql.Config {
	ret := mysql.NewConfig()
	ret.Net = "tcp"
	ret.Addr = cfg.Addr()
	ret.User = cfg.User
	ret.Passwd = cfg.Password
	ret.DBName = cfg.Schema
	ret.ParseTime = false
	ret.InterpolateParams = true
	if ret.Params == nil {
		ret.Params = map[string]string{}
	}
	ret.Params["charset"] = cfg.getCharset()
	ret.Params["time_zone"] = sessionTimeZone
	return ret
}

// DSN returns the data source name for sql.Open("mysql", ...).
func (cfg *DBConfig) DSN() string {
	return cfg.ToDriverCfg().FormatDSN()
}

// ToConnConfig returns the replication connection config.
func (cfg *SourceConfig) ToConnConfig() *binlog.ConnConfig {
	return &binlog.ConnConfig{
		Addr:            cfg.Addr(),
		User:            cfg.User,
		Password:        cfg.Password,
		Charset:         cfg.getCharset(),
		ServerID:        cfg.ServerID,
		HeartbeatPeriod: time.Duration(cfg.HeartbeatSeconds) * time.Second,
	}
}

// RetryUnit returns RetryUnitMs as duration, 0 if not set.
func (cfg *ImporterConfig) RetryUnit() time.Duration {
	return time.Duration(cfg.RetryUnitMs) * time.Millisecond
}

// FetchTimeout returns FetchTimeoutMs as duration, 0 if not set.
func (cfg *ImporterConfig) FetchTimeout() time.Duration {
	return time.Duration(cfg.FetchTimeoutMs) * time.Millisecond
}

const sessionTimeZone = "'+00:00'"

func (cfg *DBConfig) getCharset() string {
	if cfg.Charset != "" {
		return cfg.Charset
	}
	return "utf8mb4"
}
