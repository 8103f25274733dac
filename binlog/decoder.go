package binlog

import (
	"encoding/binary"
	"hash/crc32"
	"strings"
	"time"

	uuid "github.com/satori/go.uuid"
	"github.com/shopspring/decimal"
	"github.com/siddontang/go-mysql/mysql"
	"github.com/siddontang/go-mysql/replication"
)

const (
	packetHeaderSize = 4
	maxPayloadLength = 1<<24 - 1
	eventHeaderSize  = replication.EventHeaderSize
	checksumSize     = replication.BinlogChecksumLength
)

// Decoder decodes a replication byte stream (the response of COM_BINLOG_DUMP) into
// events. It is resumable: bytes are fed incrementally and an incomplete packet is left
// untouched until more bytes arrive.
//
// Event bodies are parsed by go-mysql's BinlogParser which keeps the format description
// and table maps. A Decoder holds per connection session state, thus must not be shared
// between connections. Decoder is not thread safe.
type Decoder struct {
	buf []byte
	off int
	err error

	parser           *replication.BinlogParser
	fileName         string
	formatSeen       bool
	checksumDeclared bool
	tables           map[uint64]*TableMapEvent
}

// NewDecoder creates a Decoder. fileName is the binlog file the dump starts from.
func NewDecoder(fileName string) *Decoder {
	parser := replication.NewBinlogParser()
	parser.SetVerifyChecksum(true)
	parser.SetUseDecimal(true)
	parser.SetParseTime(false)
	parser.SetTimestampStringLocation(time.UTC)
	return &Decoder{
		parser:   parser,
		fileName: fileName,
		tables:   make(map[uint64]*TableMapEvent),
	}
}

// DeclareChecksum tells the decoder that the session has declared checksum awareness
// (@master_binlog_checksum), in which case events sent before the first format description
// event (the fake rotate event) carry a trailing checksum as well.
func (d *Decoder) DeclareChecksum() {
	d.checksumDeclared = true
}

// FileName returns the current binlog file name.
func (d *Decoder) FileName() string {
	return d.fileName
}

// Buffered returns the number of fed but not consumed bytes.
func (d *Decoder) Buffered() int {
	return len(d.buf) - d.off
}

// Feed appends bytes to the decoder.
func (d *Decoder) Feed(p []byte) {
	if d.off == len(d.buf) {
		d.buf = d.buf[:0]
		d.off = 0
	} else if d.off > len(d.buf)/2 {
		n := copy(d.buf, d.buf[d.off:])
		d.buf = d.buf[:n]
		d.off = 0
	}
	d.buf = append(d.buf, p...)
}

// Next decodes the next event. It returns (nil, nil) if there are not enough bytes for a
// whole packet, in which case nothing is consumed. Any error is fatal and sticky.
func (d *Decoder) Next() (*Event, error) {
	if d.err != nil {
		return nil, d.err
	}

	payload, n, ok := readPacket(d.buf[d.off:])
	if !ok {
		return nil, nil
	}

	ev, err := d.decodePayload(payload)
	if err != nil {
		d.err = err
		return nil, err
	}
	d.off += n
	return ev, nil
}

// readPacket reads one logical packet (may span multiple physical packets when the payload
// is larger than 16M) and returns the payload and the number of bytes it occupied.
func readPacket(buf []byte) (payload []byte, n int, ok bool) {
	var parts [][]byte
	for {
		if len(buf)-n < packetHeaderSize {
			return nil, 0, false
		}
		length := int(uint32(buf[n]) | uint32(buf[n+1])<<8 | uint32(buf[n+2])<<16)
		if len(buf)-n-packetHeaderSize < length {
			return nil, 0, false
		}
		part := buf[n+packetHeaderSize : n+packetHeaderSize+length]
		n += packetHeaderSize + length
		if length < maxPayloadLength {
			if parts == nil {
				return part, n, true
			}
			parts = append(parts, part)
			break
		}
		parts = append(parts, part)
	}

	size := 0
	for _, part := range parts {
		size += len(part)
	}
	payload = make([]byte, 0, size)
	for _, part := range parts {
		payload = append(payload, part...)
	}
	return payload, n, true
}

func (d *Decoder) decodePayload(payload []byte) (*Event, error) {
	if len(payload) == 0 {
		return nil, protocolErrorf("empty packet")
	}

	switch payload[0] {
	case mysql.OK_HEADER:
		// Parsed values (e.g. strings) reference the event bytes, and the read buffer is
		// reused.
		return d.decodeEvent(append([]byte(nil), payload[1:]...))

	case mysql.ERR_HEADER:
		return nil, decodeServerError(payload)

	case mysql.EOF_HEADER:
		if len(payload) < 9 {
			return &Event{
				Kind:     KindEOF,
				Position: d.position(0, 0),
			}, nil
		}
	}
	return nil, protocolErrorf("unexpected packet marker 0x%02x", payload[0])
}

// decodeServerError decodes an ERR packet as *ServerError.
func decodeServerError(payload []byte) error {
	if len(payload) < 3 {
		return protocolErrorf("ERR packet too short")
	}
	e := &ServerError{
		Code: binary.LittleEndian.Uint16(payload[1:3]),
	}
	rest := payload[3:]
	if len(rest) > 0 && rest[0] == '#' {
		if len(rest) < 6 {
			return protocolErrorf("ERR packet too short for sql state")
		}
		e.State = string(rest[1:6])
		rest = rest[6:]
	}
	e.Message = string(rest)
	return e
}

func (d *Decoder) position(logPos, serverID uint32) Position {
	return Position{
		FileName: d.fileName,
		Offset:   logPos,
		ServerID: serverID,
	}
}

func (d *Decoder) decodeEvent(data []byte) (*Event, error) {
	if len(data) < eventHeaderSize {
		return nil, protocolErrorf("event too short: %d byte(s)", len(data))
	}

	if replication.EventType(data[4]) == replication.FORMAT_DESCRIPTION_EVENT {
		d.formatSeen = true
	} else if !d.formatSeen && d.checksumDeclared {
		// The parser strips checksums only after a format description event.
		var err error
		if data, err = stripChecksum(data); err != nil {
			return nil, err
		}
	}

	be, err := d.parse(data)
	if err != nil {
		return nil, err
	}

	h := be.Header
	ev := &Event{
		Kind:     KindPlaceholder,
		Header:   *h,
		Position: d.position(h.LogPos, h.ServerID),
	}

	switch e := be.Event.(type) {
	case *replication.FormatDescriptionEvent:
		ev.Kind = KindFormatDescription
		ev.FormatDescription = &FormatDescriptionEvent{
			Version:           e.Version,
			ServerVersion:     strings.TrimRight(string(e.ServerVersion), "\x00"),
			CreateTimestamp:   e.CreateTimestamp,
			HeaderLength:      e.EventHeaderLength,
			PostHeaderLengths: e.EventTypeHeaderLengths,
			ChecksumAlgorithm: e.ChecksumAlgorithm,
		}

	case *replication.RotateEvent:
		ev.Kind = KindRotate
		ev.Rotate = &RotateEvent{
			NextPosition: e.Position,
			NextFileName: string(e.NextLogName),
		}
		d.fileName = ev.Rotate.NextFileName
		ev.Position = Position{
			FileName: ev.Rotate.NextFileName,
			Offset:   uint32(ev.Rotate.NextPosition),
			ServerID: h.ServerID,
		}

	case *replication.TableMapEvent:
		ev.Kind = KindTableMap
		ev.TableMap = &TableMapEvent{
			TableID:     e.TableID,
			Flags:       e.Flags,
			Schema:      string(e.Schema),
			Table:       string(e.Table),
			ColumnCount: int(e.ColumnCount),
			ColumnTypes: e.ColumnType,
			ColumnMetas: e.ColumnMeta,
			NullBitmap:  e.NullBitmap,
		}
		d.tables[e.TableID] = ev.TableMap

	case *replication.RowsEvent:
		ev.Kind = rowsKind(h.EventType)
		table, ok := d.tables[e.TableID]
		if !ok {
			return nil, protocolErrorf("no table map for table id %d", e.TableID)
		}
		ev.Rows = &RowsEvent{
			TableID:     e.TableID,
			Table:       table,
			Flags:       e.Flags,
			ColumnCount: int(e.ColumnCount),
			Rows:        e.Rows,
		}
		for _, row := range e.Rows {
			normalizeRowValues(row, table)
		}

	case *replication.QueryEvent:
		ev.Kind = KindQuery
		ev.Query = &QueryEvent{
			ThreadID:  e.SlaveProxyID,
			ExecTime:  e.ExecutionTime,
			ErrorCode: e.ErrorCode,
			Schema:    string(e.Schema),
			Query:     string(e.Query),
		}

	case *replication.XIDEvent:
		ev.Kind = KindXid
		ev.Xid = &XidEvent{XID: e.XID}

	case *replication.GTIDEvent:
		// Anonymous gtid events are placeholders.
		if h.EventType != replication.GTID_EVENT {
			break
		}
		sid, err := uuid.FromBytes(e.SID)
		if err != nil {
			return nil, &ProtocolError{Msg: "invalid gtid sid", Err: err}
		}
		ev.Kind = KindGTID
		ev.GTID = &GTIDEvent{
			CommitFlag: e.CommitFlag,
			SID:        sid.String(),
			GNO:        e.GNO,
		}
		ev.Position.GTID = ev.GTID.GTID()
	}

	return ev, nil
}

// parse parses a whole event. Malformed events may make the parser panic on slicing.
func (d *Decoder) parse(data []byte) (be *replication.BinlogEvent, err error) {
	defer func() {
		if r := recover(); r != nil {
			be = nil
			err = protocolErrorf("malformed %s event: %v", replication.EventType(data[4]), r)
		}
	}()

	be, err = d.parser.Parse(data)
	if err != nil {
		return nil, &ProtocolError{
			Msg: "parse " + replication.EventType(data[4]).String() + " error",
			Err: err,
		}
	}
	return be, nil
}

// stripChecksum verifies and removes the trailing checksum of an event, the event size in
// header is adjusted accordingly.
func stripChecksum(data []byte) ([]byte, error) {
	if len(data) < eventHeaderSize+checksumSize {
		return nil, protocolErrorf("event too short for checksum")
	}
	end := len(data) - checksumSize
	expect := binary.LittleEndian.Uint32(data[end:])
	if actual := crc32.ChecksumIEEE(data[:end]); actual != expect {
		return nil, &ProtocolError{
			Msg: "leading event",
			Err: replication.ErrChecksumMismatch,
		}
	}
	data = data[:end]
	binary.LittleEndian.PutUint32(data[9:13], uint32(end))
	return data, nil
}

func rowsKind(typ replication.EventType) Kind {
	switch typ {
	case replication.WRITE_ROWS_EVENTv0, replication.WRITE_ROWS_EVENTv1, replication.WRITE_ROWS_EVENTv2:
		return KindWriteRows
	case replication.UPDATE_ROWS_EVENTv0, replication.UPDATE_ROWS_EVENTv1, replication.UPDATE_ROWS_EVENTv2:
		return KindUpdateRows
	default:
		return KindDeleteRows
	}
}

// normalizeRowValues converts parsed values in place to the types documented in RowsEvent.
func normalizeRowValues(row []interface{}, table *TableMapEvent) {
	for i, val := range row {
		if i >= table.ColumnCount {
			break
		}
		switch v := val.(type) {
		case []byte:
			row[i] = string(v)

		case decimal.Decimal:
			row[i] = v.StringFixed(int32(table.ColumnMetas[i] & 0xff))

		case int:
			// YEAR 0000 is parsed as 1900, which is out of YEAR's range.
			if table.ColumnTypes[i] == mysql.MYSQL_TYPE_YEAR && v == 1900 {
				row[i] = 0
			}
		}
	}
}
