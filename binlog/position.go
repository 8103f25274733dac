package binlog

import (
	"encoding"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/huangjunwen/scaling/record"
)

// Position is a binlog file position.
type Position struct {
	// FileName is the binlog file name, e.g. "mysql-bin.000001".
	FileName string

	// Offset is the end position of the event in the file.
	Offset uint32

	// ServerID identifies the origin server of the event.
	ServerID uint32

	// GTID is the last seen gtid ("uuid:gno") if the server runs in gtid mode.
	GTID string
}

var (
	_ record.Position          = Position{}
	_ encoding.TextMarshaler   = Position{}
	_ encoding.TextUnmarshaler = (*Position)(nil)
)

// String returns "file:offset".
func (pos Position) String() string {
	return pos.FileName + ":" + strconv.FormatUint(uint64(pos.Offset), 10)
}

// MarshalText encodes all fields: "file:offset[;server_id=N][;gtid=SET]". It is the format
// of saved checkpoints.
func (pos Position) MarshalText() ([]byte, error) {
	s := pos.String()
	if pos.ServerID != 0 {
		s += ";server_id=" + strconv.FormatUint(uint64(pos.ServerID), 10)
	}
	if pos.GTID != "" {
		s += ";gtid=" + pos.GTID
	}
	return []byte(s), nil
}

// UnmarshalText implements encoding.TextUnmarshaler, see ParsePosition.
func (pos *Position) UnmarshalText(text []byte) error {
	p, err := ParsePosition(string(text))
	if err != nil {
		return err
	}
	*pos = p
	return nil
}

// IsZero returns true if the position is empty.
func (pos Position) IsZero() bool {
	return pos.FileName == "" && pos.Offset == 0
}

// Compare returns -1/0/1 if pos is less than/equal to/greater than other. File names
// share the same base name and sequence suffix so string comparison works.
func (pos Position) Compare(other Position) int {
	if c := compareFileName(pos.FileName, other.FileName); c != 0 {
		return c
	}
	switch {
	case pos.Offset < other.Offset:
		return -1
	case pos.Offset > other.Offset:
		return 1
	default:
		return 0
	}
}

func compareFileName(a, b string) int {
	if len(a) != len(b) {
		// Sequence suffix may grow beyond 6 digits.
		ia := strings.LastIndexByte(a, '.')
		ib := strings.LastIndexByte(b, '.')
		if ia >= 0 && ib >= 0 && a[:ia] == b[:ib] {
			sa, erra := strconv.ParseUint(a[ia+1:], 10, 64)
			sb, errb := strconv.ParseUint(b[ib+1:], 10, 64)
			if erra == nil && errb == nil {
				switch {
				case sa < sb:
					return -1
				case sa > sb:
					return 1
				}
				return 0
			}
		}
	}
	return strings.Compare(a, b)
}

// ParsePosition parses "file:offset" optionally followed by ";server_id=N" and ";gtid=SET"
// as MarshalText outputs.
func ParsePosition(s string) (Position, error) {
	parts := strings.Split(s, ";")
	head := parts[0]
	i := strings.LastIndexByte(head, ':')
	if i <= 0 {
		return Position{}, errors.Errorf("Invalid binlog position %+q, expect file:offset", s)
	}
	offset, err := strconv.ParseUint(head[i+1:], 10, 32)
	if err != nil {
		return Position{}, errors.WithMessagef(err, "Invalid binlog position %+q", s)
	}
	pos := Position{
		FileName: head[:i],
		Offset:   uint32(offset),
	}

	for _, part := range parts[1:] {
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			return Position{}, errors.Errorf("Invalid binlog position %+q, bad field %+q", s, part)
		}
		switch kv[0] {
		case "server_id":
			id, err := strconv.ParseUint(kv[1], 10, 32)
			if err != nil {
				return Position{}, errors.WithMessagef(err, "Invalid binlog position %+q", s)
			}
			pos.ServerID = uint32(id)
		case "gtid":
			pos.GTID = kv[1]
		default:
			return Position{}, errors.Errorf("Invalid binlog position %+q, unknown field %+q", s, kv[0])
		}
	}
	return pos, nil
}
