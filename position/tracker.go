// Package position tracks the latest durable position of a source change stream.
package position

import (
	"context"
	"database/sql"
	"encoding"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/huangjunwen/scaling/binlog"
	"github.com/huangjunwen/scaling/helpers/sqlh"
	"github.com/huangjunwen/scaling/record"
)

// Tracker is a single mutable cell holding the position of fully committed writes.
// It is safe for concurrent use.
type Tracker struct {
	mu  sync.Mutex
	pos record.Position
}

// NewTracker creates a Tracker. pos can be nil.
func NewTracker(pos record.Position) *Tracker {
	return &Tracker{pos: pos}
}

// Get returns current position, nil if not set yet.
func (t *Tracker) Get() record.Position {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pos
}

// Set stores pos and returns true. A binlog position older than the current one is
// ignored and false is returned.
func (t *Tracker) Set(pos record.Position) bool {
	if pos == nil {
		return false
	}
	if _, ok := pos.(record.NopPosition); ok {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if cur, ok := t.pos.(binlog.Position); ok {
		if next, ok := pos.(binlog.Position); ok && next.Compare(cur) < 0 {
			return false
		}
	}
	t.pos = pos
	return true
}

// AckRecords sets position to the last record's position. It can be used as a channel
// ack callback.
func (t *Tracker) AckRecords(records []record.Record) {
	if len(records) == 0 {
		return
	}
	t.Set(records[len(records)-1].Position())
}

// Init loads the current binlog position of the source if the tracker is empty and
// returns the position.
func (t *Tracker) Init(ctx context.Context, q sqlh.Queryer) (record.Position, error) {
	if pos := t.Get(); pos != nil {
		return pos, nil
	}
	pos, err := MasterStatus(ctx, q)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.pos == nil {
		t.pos = pos
	}
	return t.pos, nil
}

// Persist saves current position to store under jobID. Empty position is not saved.
// Positions implementing encoding.TextMarshaler are saved in that form.
func (t *Tracker) Persist(store Store, jobID string) error {
	pos := t.Get()
	if pos == nil {
		return nil
	}
	s := pos.String()
	if m, ok := pos.(encoding.TextMarshaler); ok {
		text, err := m.MarshalText()
		if err != nil {
			return errors.WithMessage(err, "Marshal position error")
		}
		s = string(text)
	}
	return store.Save(jobID, s)
}

// Restore loads binlog position of jobID from store. It returns false if not found.
func (t *Tracker) Restore(store Store, jobID string) (bool, error) {
	s, ok, err := store.Load(jobID)
	if err != nil || !ok {
		return false, err
	}
	pos, err := binlog.ParsePosition(s)
	if err != nil {
		return false, err
	}
	t.Set(pos)
	return true, nil
}

// MasterStatus returns current binlog position of the source server by
// SHOW MASTER STATUS and @@server_id.
func MasterStatus(ctx context.Context, q sqlh.Queryer) (binlog.Position, error) {
	rows, err := q.QueryContext(ctx, "SHOW MASTER STATUS")
	if err != nil {
		return binlog.Position{}, errors.WithMessage(err, "SHOW MASTER STATUS error")
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return binlog.Position{}, errors.WithStack(err)
	}
	if len(cols) < 2 {
		return binlog.Position{}, errors.Errorf("SHOW MASTER STATUS returns %d column(s)", len(cols))
	}
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return binlog.Position{}, errors.WithStack(err)
		}
		return binlog.Position{}, errors.New("SHOW MASTER STATUS returns no row, pls make sure binlog is enabled")
	}

	var (
		pos   binlog.Position
		gtids sql.NullString
	)
	dest := make([]interface{}, len(cols))
	for i := range dest {
		dest[i] = new(sql.RawBytes)
	}
	dest[0] = &pos.FileName
	dest[1] = &pos.Offset
	if len(cols) >= 5 {
		// Executed_Gtid_Set.
		dest[4] = &gtids
	}
	if err := rows.Scan(dest...); err != nil {
		return binlog.Position{}, errors.WithStack(err)
	}
	if err := rows.Close(); err != nil {
		return binlog.Position{}, errors.WithStack(err)
	}
	// Executed_Gtid_Set breaks lines between server uuids.
	pos.GTID = strings.Replace(gtids.String, "\n", "", -1)

	if err := q.QueryRowContext(ctx, "SELECT @@server_id").Scan(&pos.ServerID); err != nil {
		return binlog.Position{}, errors.WithMessage(err, "SELECT @@server_id error")
	}
	return pos, nil
}
