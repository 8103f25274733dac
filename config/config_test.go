package config

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const jobJSON = `{
	"source": {
		"host": "10.0.0.1",
		"user": "repl",
		"password": "secret",
		"schema": "shop",
		"serverId": 1001,
		"heartbeatSeconds": 5
	},
	"target": {
		"host": "10.0.0.2",
		"port": 3307,
		"user": "root",
		"schema": "shop_new",
		"charset": "utf8"
	},
	"importer": {
		"batchSize": 500,
		"retryUnitMs": 200,
		"uniqueKeys": {"orders": ["order_no"]}
	},
	"tables": {"orders_0": "orders", "orders_1": "orders", "users": ""}
}`

func TestParse(t *testing.T) {
	assert := assert.New(t)

	cfg, err := Parse([]byte(jobJSON))
	require.NoError(t, err)

	assert.Equal(uint16(3306), cfg.Source.Port)
	assert.Equal("10.0.0.1:3306", cfg.Source.Addr())
	assert.Equal("users", cfg.Tables["users"])
	assert.Equal("orders", cfg.Tables["orders_1"])
	assert.Equal("scaling.db", cfg.CheckpointFile)
	assert.Equal(200*time.Millisecond, cfg.Importer.RetryUnit())
	assert.Nil(cfg.Importer.RetryTimes)
	assert.Equal(time.Duration(0), cfg.Importer.FetchTimeout())
	assert.Equal([]string{"order_no"}, cfg.Importer.UniqueKeys["orders"])

	connCfg := cfg.Source.ToConnConfig()
	assert.Equal("10.0.0.1:3306", connCfg.Addr)
	assert.Equal(uint32(1001), connCfg.ServerID)
	assert.Equal("utf8mb4", connCfg.Charset)
	assert.Equal(5*time.Second, connCfg.HeartbeatPeriod)

	driverCfg := cfg.Target.ToDriverCfg()
	assert.Equal("10.0.0.2:3307", driverCfg.Addr)
	assert.Equal("shop_new", driverCfg.DBName)
	assert.Equal("utf8", driverCfg.Params["charset"])
	assert.False(driverCfg.ParseTime)
	assert.Equal("'+00:00'", driverCfg.Params["time_zone"])
	assert.Equal("'+00:00'", cfg.Source.ToDriverCfg().Params["time_zone"])
	assert.Contains(cfg.Target.DSN(), "tcp(10.0.0.2:3307)/shop_new")
	assert.Contains(cfg.Target.DSN(), "time_zone=%27%2B00%3A00%27")
}

func TestParseRetryTimes(t *testing.T) {
	assert := assert.New(t)

	cfg, err := Parse([]byte(`{
		"source": {"host": "a", "schema": "s", "serverId": 1},
		"target": {"host": "b", "schema": "t"},
		"tables": {"t": ""},
		"importer": {"retryTimes": 0}
	}`))
	require.NoError(t, err)
	require.NotNil(t, cfg.Importer.RetryTimes)
	assert.Equal(0, *cfg.Importer.RetryTimes)
}

func TestParseInvalid(t *testing.T) {
	assert := assert.New(t)

	for _, data := range []string{
		`{`,
		`{"source": {"host": "a", "schema": "s"}}`,
		`{"source": {"host": "a", "schema": "s", "serverId": 1}}`,
		`{"source": {"host": "a", "schema": "s", "serverId": 1}, "target": {"host": "b", "schema": "t"}}`,
		`{"source": {"host": "a", "schema": "s", "serverId": 1}, "target": {"host": "b", "schema": "t"}, "tables": {"t": ""}, "importer": {"retryTimes": -1}}`,
	} {
		_, err := Parse([]byte(data))
		assert.Error(err, data)
	}
}

func TestLoad(t *testing.T) {
	assert := assert.New(t)

	dir, err := ioutil.TempDir("", "scaling-config")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "job.json")
	require.NoError(t, ioutil.WriteFile(path, []byte(jobJSON), 0600))
	cfg, err := Load(path)
	assert.NoError(err)
	assert.Equal("shop", cfg.Source.Schema)

	_, err = Load(filepath.Join(dir, "nope.json"))
	assert.Error(err)
}
