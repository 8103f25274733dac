package binlog

import (
	"encoding/binary"
	"hash/crc32"
	"strings"

	"github.com/siddontang/go-mysql/replication"
)

// streamBuilder builds replication byte streams for tests.
type streamBuilder struct {
	seq      byte
	checksum bool
	logPos   uint32
}

func le16(v uint16) []byte {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, v)
	return b
}

func le32(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}

func le64(v uint64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, v)
	return b
}

func be(v uint64, n int) []byte {
	b := make([]byte, n)
	for i := n - 1; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
	return b
}

func concat(parts ...[]byte) []byte {
	ret := []byte{}
	for _, part := range parts {
		ret = append(ret, part...)
	}
	return ret
}

func (sb *streamBuilder) packet(payload []byte) []byte {
	ret := []byte{byte(len(payload)), byte(len(payload) >> 8), byte(len(payload) >> 16), sb.seq}
	sb.seq++
	return append(ret, payload...)
}

// event builds an event packet. Checksum is appended if enabled.
func (sb *streamBuilder) event(typ replication.EventType, body []byte) []byte {
	size := eventHeaderSize + len(body)
	if sb.checksum {
		size += checksumSize
	}
	sb.logPos += uint32(size)

	data := concat(
		le32(1600000000),
		[]byte{byte(typ)},
		le32(1),
		le32(uint32(size)),
		le32(sb.logPos),
		le16(0),
		body,
	)
	if sb.checksum {
		data = append(data, le32(crc32.ChecksumIEEE(data))...)
	}
	return sb.packet(append([]byte{0x00}, data...))
}

// formatDescription builds a format description event and switches checksum on/off.
// Servers before 5.6.1 do not support checksum.
func (sb *streamBuilder) formatDescription(serverVersion string, checksum bool) []byte {
	version := make([]byte, 50)
	copy(version, serverVersion)

	postHeaderLengths := make([]byte, 38)
	for i := range postHeaderLengths {
		postHeaderLengths[i] = 8
	}
	body := concat(le16(4), version, le32(0), []byte{eventHeaderSize}, postHeaderLengths)

	supported := !strings.HasPrefix(serverVersion, "5.5.")
	alg := replication.BINLOG_CHECKSUM_ALG_OFF
	if checksum {
		alg = replication.BINLOG_CHECKSUM_ALG_CRC32
	}
	if supported {
		body = concat(body, []byte{alg}, le32(0))
	}

	// The trailing algorithm and checksum are already in body.
	sb.checksum = false
	ret := sb.event(replication.FORMAT_DESCRIPTION_EVENT, body)
	sb.checksum = checksum && supported
	return ret
}

func (sb *streamBuilder) rotate(pos uint64, name string) []byte {
	return sb.event(replication.ROTATE_EVENT, concat(le64(pos), []byte(name)))
}

type testColumn struct {
	typ  byte
	meta []byte
}

func (sb *streamBuilder) tableMap(tableID uint64, schema, table string, cols []testColumn) []byte {
	types := []byte{}
	metas := []byte{}
	for _, col := range cols {
		types = append(types, col.typ)
		metas = append(metas, col.meta...)
	}
	body := concat(
		le64(tableID)[:6],
		le16(1),
		[]byte{byte(len(schema))}, []byte(schema), []byte{0},
		[]byte{byte(len(table))}, []byte(table), []byte{0},
		[]byte{byte(len(cols))},
		types,
		[]byte{byte(len(metas))},
		metas,
		make([]byte, (len(cols)+7)/8),
	)
	return sb.event(replication.TABLE_MAP_EVENT, body)
}

// rows builds a v2 rows event with all columns present. Each row is a null bitmap + values.
func (sb *streamBuilder) rows(typ replication.EventType, tableID uint64, columnCount int, rows ...[]byte) []byte {
	present := make([]byte, (columnCount+7)/8)
	for i := 0; i < columnCount; i++ {
		present[i/8] |= 1 << uint(i%8)
	}
	body := concat(le64(tableID)[:6], le16(0), le16(2), []byte{byte(columnCount)}, present)
	if typ == replication.UPDATE_ROWS_EVENTv2 {
		body = append(body, present...)
	}
	for _, row := range rows {
		body = append(body, row...)
	}
	return sb.event(typ, body)
}

func (sb *streamBuilder) xid(xid uint64) []byte {
	return sb.event(replication.XID_EVENT, le64(xid))
}

func (sb *streamBuilder) eof() []byte {
	return sb.packet([]byte{0xfe, 0, 0, 2, 0})
}

func (sb *streamBuilder) serverError(code uint16, state, msg string) []byte {
	return sb.packet(concat([]byte{0xff}, le16(code), []byte("#"+state), []byte(msg)))
}

// Columns of test table "orders": id BIGINT, name VARCHAR(64), price DECIMAL(10,2), created DATETIME.
var ordersColumns = []testColumn{
	{typ: 0x08},                      // LONGLONG
	{typ: 0x0f, meta: []byte{64, 0}}, // VARCHAR(64)
	{typ: 0xf6, meta: []byte{10, 2}}, // NEWDECIMAL(10,2)
	{typ: 0x12, meta: []byte{0}},     // DATETIME2(0)
}

func datetime2(year, month, day, hour, minute, second uint64) []byte {
	ym := year*13 + month
	ymd := ym<<5 | day
	hms := hour<<12 | minute<<6 | second
	return be(0x8000000000+(ymd<<17|hms), 5)
}

// decimal102 encodes a positive DECIMAL(10,2).
func decimal102(integral uint64, fraction uint64) []byte {
	b := concat(be(integral, 4), []byte{byte(fraction)})
	b[0] |= 0x80
	return b
}

func negate(b []byte) []byte {
	ret := make([]byte, len(b))
	for i := range b {
		ret[i] = ^b[i]
	}
	return ret
}

func ordersRow(id uint64, name string, price []byte, created []byte) []byte {
	return concat([]byte{0}, le64(id), []byte{byte(len(name))}, []byte(name), price, created)
}
