package zlog

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestComponent(t *testing.T) {
	assert := assert.New(t)

	orig := DefaultZLogger
	defer func() { DefaultZLogger = orig }()

	buf := &bytes.Buffer{}
	DefaultZLogger = New(buf, zerolog.InfoLevel)
	logger := Component("importer")
	logger.Info().Msg("hello")
	logger.Debug().Msg("hidden")

	m := map[string]interface{}{}
	assert.NoError(json.Unmarshal(buf.Bytes(), &m))
	assert.Equal("importer", m["component"])
	assert.Equal("hello", m["message"])
	assert.Equal("info", m["level"])

	buf.Reset()
	assert.NoError(SetLevel("debug"))
	DefaultZLogger.Debug().Msg("shown")
	assert.Contains(buf.String(), "shown")
	assert.NoError(SetLevel(""))
	assert.Error(SetLevel("nope"))
}
