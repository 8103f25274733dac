package binlog

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/siddontang/go-mysql/client"
	"github.com/siddontang/go-mysql/mysql"
)

var (
	// DefaultReadBufferSize is the size of socket read buffer.
	DefaultReadBufferSize = 64 * 1024
)

// ConnConfig is the config of a replication connection.
type ConnConfig struct {
	// Addr is "host:port" of the source server.
	Addr     string
	User     string
	Password string
	Charset  string

	// ServerID must be unique among all replicas of the source.
	ServerID uint32

	// HeartbeatPeriod lets the server send heartbeats when idle if > 0.
	HeartbeatPeriod time.Duration
}

// EventSource produces decoded events.
type EventSource interface {
	// Next blocks until the next event is decoded.
	Next() (*Event, error)

	Close() error
}

// Streamer is an EventSource reading from a replication connection.
type Streamer struct {
	conn    *client.Conn
	nc      net.Conn
	ctx     context.Context
	dec     *Decoder
	buf     []byte
	readErr error

	closeOnce sync.Once
	done      chan struct{}
}

var (
	_ EventSource = (*Streamer)(nil)
)

// Dial connects to the source server and starts dumping binlog from pos. Cancelling ctx
// closes the connection, after which Next returns ctx.Err().
func Dial(ctx context.Context, cfg *ConnConfig, pos Position) (*Streamer, error) {
	if pos.FileName == "" {
		return nil, errors.New("Dial binlog: empty binlog file name")
	}
	if pos.Offset < 4 {
		// Skip the magic header.
		pos.Offset = 4
	}

	conn, err := client.Connect(cfg.Addr, cfg.User, cfg.Password, "")
	if err != nil {
		return nil, errors.WithMessagef(err, "Dial binlog: connect to %s error", cfg.Addr)
	}
	s := &Streamer{
		conn: conn,
		nc:   conn.Conn.Conn,
		ctx:  ctx,
		dec:  NewDecoder(pos.FileName),
		buf:  make([]byte, DefaultReadBufferSize),
		done: make(chan struct{}),
	}

	if err := s.prepare(cfg, pos); err != nil {
		s.Close()
		return nil, err
	}

	go func() {
		select {
		case <-ctx.Done():
			s.Close()
		case <-s.done:
		}
	}()
	return s, nil
}

func (s *Streamer) prepare(cfg *ConnConfig, pos Position) error {
	if cfg.Charset != "" {
		if err := s.conn.SetCharset(cfg.Charset); err != nil {
			return errors.WithMessage(err, "Dial binlog: set charset error")
		}
	}

	// Declare checksum awareness, otherwise a server with binlog_checksum enabled refuses
	// to dump. Which algorithm is used is told by the format description event, but the
	// fake rotate event before it is already checksummed.
	r, err := s.conn.Execute("SHOW GLOBAL VARIABLES LIKE 'BINLOG_CHECKSUM'")
	if err != nil {
		return errors.WithMessage(err, "Dial binlog: query checksum error")
	}
	if r.RowNumber() > 0 {
		alg, err := r.GetString(0, 1)
		if err != nil {
			return errors.WithMessage(err, "Dial binlog: read checksum error")
		}
		if _, err := s.conn.Execute("SET @master_binlog_checksum = @@global.binlog_checksum"); err != nil {
			return errors.WithMessage(err, "Dial binlog: set checksum error")
		}
		if !strings.EqualFold(alg, "NONE") {
			s.dec.DeclareChecksum()
		}
	}

	if cfg.HeartbeatPeriod > 0 {
		if _, err := s.conn.Execute(fmt.Sprintf("SET @master_heartbeat_period=%d", cfg.HeartbeatPeriod.Nanoseconds())); err != nil {
			return errors.WithMessage(err, "Dial binlog: set heartbeat period error")
		}
	}

	s.conn.ResetSequence()
	if err := s.conn.WritePacket(registerSlaveCommand(cfg.ServerID)); err != nil {
		return errors.WithMessage(err, "Dial binlog: write COM_REGISTER_SLAVE error")
	}
	if _, err := s.conn.ReadOKPacket(); err != nil {
		return errors.WithMessage(err, "Dial binlog: COM_REGISTER_SLAVE error")
	}

	s.conn.ResetSequence()
	if err := s.conn.WritePacket(binlogDumpCommand(cfg.ServerID, pos)); err != nil {
		return errors.WithMessage(err, "Dial binlog: write COM_BINLOG_DUMP error")
	}
	return nil
}

// registerSlaveCommand builds COM_REGISTER_SLAVE with 4 bytes reserved for packet header.
func registerSlaveCommand(serverID uint32) []byte {
	data := make([]byte, 4, 4+18)
	data = append(data, mysql.COM_REGISTER_SLAVE)
	data = appendUint32(data, serverID)
	data = append(data, 0) // hostname
	data = append(data, 0) // user
	data = append(data, 0) // password
	data = append(data, 0, 0)
	data = appendUint32(data, 0) // replication rank
	data = appendUint32(data, 0) // master id
	return data
}

// binlogDumpCommand builds COM_BINLOG_DUMP with 4 bytes reserved for packet header.
func binlogDumpCommand(serverID uint32, pos Position) []byte {
	data := make([]byte, 4, 4+11+len(pos.FileName))
	data = append(data, mysql.COM_BINLOG_DUMP)
	data = appendUint32(data, pos.Offset)
	data = append(data, 0, 0) // flags: blocking
	data = appendUint32(data, serverID)
	data = append(data, pos.FileName...)
	return data
}

func appendUint32(data []byte, v uint32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return append(data, b[:]...)
}

// Next implements EventSource interface.
func (s *Streamer) Next() (*Event, error) {
	for {
		ev, err := s.dec.Next()
		if err != nil {
			return nil, err
		}
		if ev != nil {
			return ev, nil
		}

		if s.readErr != nil {
			return nil, s.readErr
		}
		n, err := s.nc.Read(s.buf)
		if n > 0 {
			s.dec.Feed(s.buf[:n])
		}
		if err != nil {
			switch {
			case s.ctx.Err() != nil:
				s.readErr = s.ctx.Err()
			case err == io.EOF:
				s.readErr = errors.Errorf("Connection closed by server with %d byte(s) unconsumed", s.dec.Buffered())
			default:
				s.readErr = errors.WithStack(err)
			}
		}
	}
}

// Close implements EventSource interface.
func (s *Streamer) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.conn.Close()
	})
	return err
}
