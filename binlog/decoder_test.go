package binlog

import (
	"errors"
	"testing"

	"github.com/siddontang/go-mysql/mysql"
	"github.com/siddontang/go-mysql/replication"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(t *testing.T, d *Decoder) []*Event {
	events := []*Event{}
	for {
		ev, err := d.Next()
		require.NoError(t, err)
		if ev == nil {
			return events
		}
		events = append(events, ev)
	}
}

func TestDecoderResumable(t *testing.T) {
	assert := assert.New(t)

	sb := &streamBuilder{}
	fde := sb.formatDescription("5.7.30-log", true)
	rot := sb.rotate(4, "mysql-bin.000002")

	d := NewDecoder("mysql-bin.000001")
	d.Feed(fde)
	d.Feed(rot[:2])

	ev, err := d.Next()
	assert.NoError(err)
	assert.Equal(KindFormatDescription, ev.Kind)
	assert.Equal("5.7.30-log", ev.FormatDescription.ServerVersion)
	assert.Equal(replication.BINLOG_CHECKSUM_ALG_CRC32, ev.FormatDescription.ChecksumAlgorithm)

	// Only 2 bytes of the next packet.
	ev, err = d.Next()
	assert.NoError(err)
	assert.Nil(ev)
	assert.Equal(2, d.Buffered())

	for i := 2; i < len(rot)-1; i++ {
		d.Feed(rot[i : i+1])
		ev, err = d.Next()
		assert.NoError(err)
		assert.Nil(ev)
		assert.Equal(i+1, d.Buffered())
	}
	assert.Equal("mysql-bin.000001", d.FileName())

	d.Feed(rot[len(rot)-1:])
	ev, err = d.Next()
	assert.NoError(err)
	assert.Equal(KindRotate, ev.Kind)
	assert.Equal("mysql-bin.000002", ev.Rotate.NextFileName)
	assert.Equal(uint64(4), ev.Rotate.NextPosition)
	assert.Equal(Position{FileName: "mysql-bin.000002", Offset: 4, ServerID: 1}, ev.Position)
	assert.Equal("mysql-bin.000002", d.FileName())
	assert.Equal(0, d.Buffered())
}

func TestDecoderChecksum(t *testing.T) {
	assert := assert.New(t)

	// Server without checksum support.
	{
		sb := &streamBuilder{}
		d := NewDecoder("mysql-bin.000001")
		d.Feed(concat(sb.formatDescription("5.5.62-log", true), sb.rotate(4, "mysql-bin.000002")))
		events := drain(t, d)
		assert.Len(events, 2)
		assert.Equal("mysql-bin.000002", events[1].Rotate.NextFileName)
	}

	// Checksum off.
	{
		sb := &streamBuilder{}
		d := NewDecoder("mysql-bin.000001")
		d.Feed(concat(sb.formatDescription("8.0.20", false), sb.rotate(4, "mysql-bin.000002")))
		events := drain(t, d)
		assert.Len(events, 2)
		assert.Equal("mysql-bin.000002", events[1].Rotate.NextFileName)
	}

	// Corrupted.
	{
		sb := &streamBuilder{}
		fde := sb.formatDescription("8.0.20", true)
		rot := sb.rotate(4, "mysql-bin.000002")
		d := NewDecoder("mysql-bin.000001")
		d.Feed(fde)
		rot[len(rot)-checksumSize-1] ^= 0xff
		d.Feed(rot)

		ev, err := d.Next()
		assert.NoError(err)
		assert.Equal(KindFormatDescription, ev.Kind)

		ev, err = d.Next()
		assert.Nil(ev)
		perr := &ProtocolError{}
		assert.True(errors.As(err, &perr))
		assert.True(errors.Is(err, replication.ErrChecksumMismatch))
		// File name unchanged.
		assert.Equal("mysql-bin.000001", d.FileName())
	}
}

func TestDecoderRows(t *testing.T) {
	assert := assert.New(t)

	sb := &streamBuilder{}
	created := datetime2(2020, 1, 2, 3, 4, 5)
	stream := concat(
		sb.formatDescription("8.0.20", true),
		sb.tableMap(42, "shop", "orders", ordersColumns),
		sb.rows(replication.WRITE_ROWS_EVENTv2, 42, 4,
			ordersRow(1, "apple", decimal102(1234, 56), created),
			// name is NULL.
			concat([]byte{0x02}, le64(3), decimal102(0, 5), created),
		),
		sb.rows(replication.UPDATE_ROWS_EVENTv2, 42, 4,
			ordersRow(1, "apple", decimal102(1234, 56), created),
			ordersRow(2, "pear", negate(decimal102(1234, 56)), created),
		),
		sb.rows(replication.DELETE_ROWS_EVENTv2, 42, 4,
			ordersRow(2, "pear", negate(decimal102(1234, 56)), created),
		),
		sb.xid(7),
		sb.eof(),
	)

	d := NewDecoder("mysql-bin.000001")
	d.Feed(stream)
	events := drain(t, d)

	kinds := []Kind{}
	for _, ev := range events {
		kinds = append(kinds, ev.Kind)
	}
	assert.Equal([]Kind{
		KindFormatDescription,
		KindTableMap,
		KindWriteRows,
		KindUpdateRows,
		KindDeleteRows,
		KindXid,
		KindEOF,
	}, kinds)

	tm := events[1].TableMap
	assert.Equal(uint64(42), tm.TableID)
	assert.Equal("shop", tm.Schema)
	assert.Equal("orders", tm.Table)
	assert.Equal(4, tm.ColumnCount)
	assert.Equal([]uint16{0, 64, 10<<8 | 2, 0}, tm.ColumnMetas)

	write := events[2].Rows
	assert.Same(tm, write.Table)
	assert.Equal([][]interface{}{
		{int64(1), "apple", "1234.56", "2020-01-02 03:04:05"},
		{int64(3), nil, "0.05", "2020-01-02 03:04:05"},
	}, write.Rows)

	update := events[3].Rows
	assert.Equal([][]interface{}{
		{int64(1), "apple", "1234.56", "2020-01-02 03:04:05"},
		{int64(2), "pear", "-1234.56", "2020-01-02 03:04:05"},
	}, update.Rows)

	del := events[4].Rows
	assert.Equal([][]interface{}{
		{int64(2), "pear", "-1234.56", "2020-01-02 03:04:05"},
	}, del.Rows)

	assert.Equal(uint64(7), events[5].Xid.XID)
	assert.Equal("mysql-bin.000001", events[5].Position.FileName)
	assert.Equal(events[5].Header.LogPos, events[5].Position.Offset)
	assert.Equal(0, d.Buffered())
}

func TestDecoderRowsWithoutTableMap(t *testing.T) {
	assert := assert.New(t)

	sb := &streamBuilder{}
	d := NewDecoder("mysql-bin.000001")
	d.Feed(concat(
		sb.formatDescription("8.0.20", true),
		sb.rows(replication.WRITE_ROWS_EVENTv2, 9, 4, ordersRow(1, "apple", decimal102(1, 0), datetime2(2020, 1, 1, 0, 0, 0))),
	))

	_, err := d.Next()
	assert.NoError(err)
	_, err = d.Next()
	perr := &ProtocolError{}
	assert.True(errors.As(err, &perr))
	assert.Contains(err.Error(), "no corresponding table map event")
}

func TestDecoderBadMarker(t *testing.T) {
	assert := assert.New(t)

	sb := &streamBuilder{}
	d := NewDecoder("mysql-bin.000001")
	d.Feed(sb.packet([]byte{0x05, 1, 2, 3}))
	d.Feed(sb.eof())

	ev, err := d.Next()
	assert.Nil(ev)
	perr := &ProtocolError{}
	assert.True(errors.As(err, &perr))
	assert.Contains(perr.Msg, "unexpected packet marker")

	// Sticky.
	ev, err2 := d.Next()
	assert.Nil(ev)
	assert.Equal(err, err2)
}

func TestDecoderServerError(t *testing.T) {
	assert := assert.New(t)

	sb := &streamBuilder{}
	d := NewDecoder("mysql-bin.000001")
	d.Feed(sb.serverError(1236, "HY000", "Could not find first log file name in binary log index file"))

	_, err := d.Next()
	serr := &ServerError{}
	assert.True(errors.As(err, &serr))
	assert.Equal(uint16(1236), serr.Code)
	assert.Equal("HY000", serr.State)
	assert.Equal("Could not find first log file name in binary log index file", serr.Message)
}

func TestDecoderEmptyPacket(t *testing.T) {
	assert := assert.New(t)

	sb := &streamBuilder{}
	d := NewDecoder("mysql-bin.000001")
	d.Feed(sb.packet(nil))
	_, err := d.Next()
	perr := &ProtocolError{}
	assert.True(errors.As(err, &perr))
}

func TestReadPacketMultiPart(t *testing.T) {
	assert := assert.New(t)

	first := make([]byte, maxPayloadLength)
	first[0] = 0xaa
	buf := concat(
		[]byte{0xff, 0xff, 0xff, 0}, first,
		[]byte{2, 0, 0, 1}, []byte{0xbb, 0xcc},
	)

	payload, n, ok := readPacket(buf[:len(buf)-1])
	assert.False(ok)
	assert.Nil(payload)
	assert.Equal(0, n)

	payload, n, ok = readPacket(buf)
	assert.True(ok)
	assert.Equal(len(buf), n)
	assert.Equal(maxPayloadLength+2, len(payload))
	assert.Equal(byte(0xaa), payload[0])
	assert.Equal([]byte{0xbb, 0xcc}, payload[maxPayloadLength:])
}

func TestDecoderChecksummedFakeRotate(t *testing.T) {
	assert := assert.New(t)

	// The fake rotate event is sent before the format description event, checksummed
	// since checksum awareness is declared.
	newStream := func() []byte {
		sb := &streamBuilder{checksum: true}
		return concat(
			sb.rotate(154, "mysql-bin.000001"),
			sb.formatDescription("8.0.20", true),
			sb.xid(1),
		)
	}

	{
		d := NewDecoder("mysql-bin.000001")
		d.DeclareChecksum()
		d.Feed(newStream())
		events := drain(t, d)
		assert.Len(events, 3)
		assert.Equal(KindRotate, events[0].Kind)
		assert.Equal("mysql-bin.000001", events[0].Rotate.NextFileName)
		assert.Equal(uint64(154), events[0].Rotate.NextPosition)
		assert.Equal("mysql-bin.000001", d.FileName())
		assert.Equal("mysql-bin.000001", events[2].Position.FileName)
	}

	// Corrupted.
	{
		stream := newStream()
		stream[packetHeaderSize+1+eventHeaderSize+8] ^= 0xff
		d := NewDecoder("mysql-bin.000001")
		d.DeclareChecksum()
		d.Feed(stream)
		_, err := d.Next()
		assert.True(errors.Is(err, replication.ErrChecksumMismatch))
		assert.Equal("mysql-bin.000001", d.FileName())
	}

	// Not declared: no checksum before the format description event.
	{
		sb := &streamBuilder{}
		d := NewDecoder("mysql-bin.000001")
		d.Feed(concat(
			sb.rotate(154, "mysql-bin.000001"),
			sb.formatDescription("8.0.20", false),
			sb.xid(1),
		))
		events := drain(t, d)
		assert.Len(events, 3)
		assert.Equal("mysql-bin.000001", d.FileName())
	}
}

func TestDecoderValues(t *testing.T) {
	assert := assert.New(t)

	cols := []testColumn{
		{typ: mysql.MYSQL_TYPE_TIMESTAMP2, meta: []byte{3}},
		{typ: mysql.MYSQL_TYPE_YEAR},
		{typ: mysql.MYSQL_TYPE_YEAR},
		{typ: mysql.MYSQL_TYPE_BLOB, meta: []byte{2}},
		{typ: mysql.MYSQL_TYPE_JSON, meta: []byte{4}},
		{typ: mysql.MYSQL_TYPE_INT24},
		{typ: mysql.MYSQL_TYPE_TINY},
		{typ: mysql.MYSQL_TYPE_STRING, meta: []byte{mysql.MYSQL_TYPE_STRING, 10}},
		{typ: mysql.MYSQL_TYPE_STRING, meta: []byte{mysql.MYSQL_TYPE_ENUM, 1}},
	}
	row := concat(
		[]byte{0, 0}, // null bitmap
		be(1600000000, 4), be(1230, 2),
		[]byte{0},
		[]byte{120},
		le16(3), []byte("xyz"),
		le32(2), []byte{0x04, 0x01}, // json literal true
		[]byte{0xff, 0xff, 0xff},
		[]byte{0xff},
		[]byte{3, 'a', 'b', 'c'},
		[]byte{2},
	)

	sb := &streamBuilder{}
	d := NewDecoder("mysql-bin.000001")
	d.Feed(concat(
		sb.formatDescription("8.0.20", true),
		sb.tableMap(7, "shop", "misc", cols),
		sb.rows(replication.WRITE_ROWS_EVENTv2, 7, len(cols), row),
	))
	events := drain(t, d)
	require.Len(t, events, 3)

	assert.Equal([][]interface{}{
		{
			"2020-09-13 12:26:40.123",
			0,
			2020,
			"xyz",
			"true",
			int32(-1),
			int8(-1),
			"abc",
			int64(2),
		},
	}, events[2].Rows.Rows)
}
