package importer

import (
	"time"

	"github.com/huangjunwen/scaling/record"
)

func col(name string, value, oldValue interface{}, updated, uniqueKey bool) *record.Column {
	return &record.Column{
		Name:      name,
		Value:     value,
		OldValue:  oldValue,
		Updated:   updated,
		UniqueKey: uniqueKey,
	}
}

func newRecord(typ record.Type, cols ...*record.Column) *record.DataRecord {
	r := record.NewDataRecord(nil, "orders", typ, len(cols))
	for _, c := range cols {
		r.AddColumn(c)
	}
	return r
}

type fakeChannel struct {
	batches [][]record.Record
	acked   [][]record.Record
}

func (c *fakeChannel) FetchRecords(max int, timeout time.Duration) []record.Record {
	if len(c.batches) == 0 {
		time.Sleep(time.Millisecond)
		return nil
	}
	b := c.batches[0]
	c.batches = c.batches[1:]
	return b
}

func (c *fakeChannel) Ack(records []record.Record) {
	c.acked = append(c.acked, records)
}

type progressRecorder struct {
	progresses []Progress
}

func (p *progressRecorder) OnProgressUpdated(progress Progress) {
	p.progresses = append(p.progresses, progress)
}

type countingRateLimiter struct {
	types []record.Type
}

func (l *countingRateLimiter) Intercept(typ record.Type, weight int64) {
	l.types = append(l.types, typ)
}
