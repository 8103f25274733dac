package binlog

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPosition(t *testing.T) {
	assert := assert.New(t)

	pos := Position{FileName: "mysql-bin.000001", Offset: 120}
	assert.Equal("mysql-bin.000001:120", pos.String())
	assert.False(pos.IsZero())
	assert.True(Position{}.IsZero())

	parsed, err := ParsePosition(pos.String())
	assert.NoError(err)
	assert.Equal(pos, parsed)

	// All fields survive a checkpoint round trip.
	full := Position{
		FileName: "mysql-bin.000001",
		Offset:   120,
		ServerID: 3,
		GTID:     "3e11fa47-71ca-11e1-9e33-c80aa9429562:1-5,b9b4712a-df64-11e3-b391-60672090eb04:1-7",
	}
	text, err := full.MarshalText()
	assert.NoError(err)
	assert.Equal("mysql-bin.000001:120;server_id=3;gtid=3e11fa47-71ca-11e1-9e33-c80aa9429562:1-5,b9b4712a-df64-11e3-b391-60672090eb04:1-7", string(text))
	assert.Equal("mysql-bin.000001:120", full.String())
	var decoded Position
	assert.NoError(decoded.UnmarshalText(text))
	assert.Equal(full, decoded)

	text, err = pos.MarshalText()
	assert.NoError(err)
	assert.Equal("mysql-bin.000001:120", string(text))

	for _, s := range []string{
		"",
		"mysql-bin.000001",
		":120",
		"mysql-bin.000001:x",
		"mysql-bin.000001:-1",
		"mysql-bin.000001:120;server_id=x",
		"mysql-bin.000001:120;foo=1",
		"mysql-bin.000001:120;gtid",
	} {
		_, err := ParsePosition(s)
		assert.Error(err, s)
	}
}

func TestPositionCompare(t *testing.T) {
	assert := assert.New(t)

	p := func(file string, offset uint32) Position {
		return Position{FileName: file, Offset: offset}
	}
	assert.Equal(-1, p("mysql-bin.000001", 500).Compare(p("mysql-bin.000002", 4)))
	assert.Equal(1, p("mysql-bin.000002", 4).Compare(p("mysql-bin.000001", 500)))
	assert.Equal(-1, p("mysql-bin.000001", 4).Compare(p("mysql-bin.000001", 5)))
	assert.Equal(0, p("mysql-bin.000001", 4).Compare(p("mysql-bin.000001", 4)))
	assert.Equal(-1, p("mysql-bin.999999", 4).Compare(p("mysql-bin.1000000", 4)))
}
