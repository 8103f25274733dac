package binlog

import (
	"strconv"

	"github.com/siddontang/go-mysql/replication"
)

// Kind is the kind of a decoded Event. Exactly one payload field of Event is set for
// each kind (none for KindPlaceholder/KindEOF).
type Kind int8

const (
	// KindPlaceholder is any event irrelevant to row changes.
	KindPlaceholder Kind = iota
	KindFormatDescription
	KindRotate
	KindTableMap
	KindWriteRows
	KindUpdateRows
	KindDeleteRows
	KindQuery
	KindXid
	KindGTID
	// KindEOF is sent by server when there is no more event in non-blocking dump mode.
	KindEOF
)

var kindNames = [...]string{
	KindPlaceholder:       "Placeholder",
	KindFormatDescription: "FormatDescription",
	KindRotate:            "Rotate",
	KindTableMap:          "TableMap",
	KindWriteRows:         "WriteRows",
	KindUpdateRows:        "UpdateRows",
	KindDeleteRows:        "DeleteRows",
	KindQuery:             "Query",
	KindXid:               "Xid",
	KindGTID:              "GTID",
	KindEOF:               "EOF",
}

// String returns the name of the kind.
func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "Unknown"
}

// EventHeader is the common header of binlog events. LogPos is the position of the next
// event.
type EventHeader = replication.EventHeader

// Event is a decoded replication event.
type Event struct {
	Kind   Kind
	Header EventHeader

	// Position is the position after this event.
	Position Position

	FormatDescription *FormatDescriptionEvent
	Rotate            *RotateEvent
	TableMap          *TableMapEvent
	Rows              *RowsEvent // For KindWriteRows/KindUpdateRows/KindDeleteRows.
	Query             *QueryEvent
	Xid               *XidEvent
	GTID              *GTIDEvent
}

// FormatDescriptionEvent describes the binlog format.
type FormatDescriptionEvent struct {
	Version           uint16
	ServerVersion     string
	CreateTimestamp   uint32
	HeaderLength      uint8
	PostHeaderLengths []byte
	ChecksumAlgorithm byte
}

// RotateEvent switches to a new binlog file.
type RotateEvent struct {
	NextPosition uint64
	NextFileName string
}

// TableMapEvent maps a table id to table definition for following rows events. ColumnMetas
// are the per column metadata as the server sends them, e.g. precision<<8|scale for
// NEWDECIMAL.
type TableMapEvent struct {
	TableID     uint64
	Flags       uint16
	Schema      string
	Table       string
	ColumnCount int
	ColumnTypes []byte
	ColumnMetas []uint16
	NullBitmap  []byte
}

// RowsEvent contains row images. For updates, rows are before/after pairs. Values are
// normalized: integers are signed (intN as the column type), FLOAT/DOUBLE are float32/float64,
// DECIMAL is a string with fixed scale, temporal types are strings (TIMESTAMP in UTC),
// YEAR is int, ENUM/SET/BIT are int64, and strings, blobs, JSON and GEOMETRY are strings.
type RowsEvent struct {
	TableID     uint64
	Table       *TableMapEvent
	Flags       uint16
	ColumnCount int
	Rows        [][]interface{}
}

// QueryEvent is a statement event, e.g. "BEGIN" or DDL.
type QueryEvent struct {
	ThreadID  uint32
	ExecTime  uint32
	ErrorCode uint16
	Schema    string
	Query     string
}

// XidEvent commits a transaction.
type XidEvent struct {
	XID uint64
}

// GTIDEvent starts a transaction in gtid mode.
type GTIDEvent struct {
	CommitFlag uint8
	SID        string
	GNO        int64
}

// GTID returns "sid:gno".
func (e *GTIDEvent) GTID() string {
	return e.SID + ":" + strconv.FormatInt(e.GNO, 10)
}
