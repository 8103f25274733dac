// Package merge collapses a batch of row changes into the minimal equivalent set of writes.
//
// Records are keyed by their unique key columns. For one logical row, at most one record
// describing its final state survives a merge:
//
//   - INSERT after DELETE (or nothing): the INSERT
//   - INSERT after INSERT/UPDATE: ordering violation
//   - UPDATE after nothing: the UPDATE
//   - UPDATE after DELETE: ordering violation
//   - UPDATE after INSERT: an INSERT with merged columns
//   - UPDATE after UPDATE: an UPDATE with merged columns
//   - DELETE after DELETE: ordering violation
//   - DELETE after an identity changing UPDATE: a DELETE of the pre-update identity
//   - DELETE after anything else: the DELETE
//
// NOTE: A DELETE after an INSERT in the same batch is kept as a DELETE instead of
// cancelling both, since the row may have been materialized downstream already.
package merge

import (
	"fmt"

	"github.com/huangjunwen/scaling/record"
)

// UnexpectedOrderError is returned when two records of the same row can not appear in
// the given order in a consistent row history.
type UnexpectedOrderError struct {
	Before *record.DataRecord
	After  *record.DataRecord
}

// Error implements error interface.
func (err *UnexpectedOrderError) Error() string {
	return fmt.Sprintf("scaling.merge: unexpected data record order: %s followed by %s", err.Before, err.After)
}

// recordMap is a map from key to record which remembers the first appearance order of keys.
type recordMap struct {
	m     map[record.Key]*record.DataRecord
	order []record.Key
}

func newRecordMap(n int) *recordMap {
	return &recordMap{
		m:     make(map[record.Key]*record.DataRecord, n),
		order: make([]record.Key, 0, n),
	}
}

func (rm *recordMap) get(key record.Key) *record.DataRecord {
	return rm.m[key]
}

func (rm *recordMap) put(key record.Key, r *record.DataRecord) {
	if _, ok := rm.m[key]; !ok {
		rm.order = append(rm.order, key)
	}
	rm.m[key] = r
}

func (rm *recordMap) remove(key record.Key) {
	delete(rm.m, key)
}

func (rm *recordMap) values() []*record.DataRecord {
	ret := make([]*record.DataRecord, 0, len(rm.m))
	seen := make(map[record.Key]struct{}, len(rm.m))
	for _, key := range rm.order {
		if _, ok := seen[key]; ok {
			continue
		}
		r, ok := rm.m[key]
		if !ok {
			continue
		}
		seen[key] = struct{}{}
		ret = append(ret, r)
	}
	return ret
}

// Merge merges records in a batch. Input records must be in source order. Records of
// tables without unique key are kept as is.
func Merge(records []*record.DataRecord) ([]*record.DataRecord, error) {
	rm := newRecordMap(len(records))
	passthrough := []*record.DataRecord{}

	for _, r := range records {
		if !r.HasUniqueKey() {
			passthrough = append(passthrough, r)
			continue
		}

		var err error
		switch r.Type {
		case record.Insert:
			err = mergeInsert(r, rm)
		case record.Update:
			err = mergeUpdate(r, rm)
		case record.Delete:
			err = mergeDelete(r, rm)
		default:
			err = fmt.Errorf("scaling.merge: unknown data record type %s of %s", r.Type, r)
		}
		if err != nil {
			return nil, err
		}
	}

	return append(rm.values(), passthrough...), nil
}

func mergeInsert(r *record.DataRecord, rm *recordMap) error {
	key := r.Key()
	before := rm.get(key)
	if before != nil && before.Type != record.Delete {
		return &UnexpectedOrderError{Before: before, After: r}
	}
	rm.put(key, r)
	return nil
}

func mergeUpdate(r *record.DataRecord, rm *recordMap) error {
	keyUpdated := r.UniqueKeyUpdated()
	lookupKey := r.Key()
	if keyUpdated {
		lookupKey = r.OldKey()
	}

	before := rm.get(lookupKey)
	if before == nil {
		rm.put(r.Key(), r)
		return nil
	}
	if before.Type == record.Delete {
		return &UnexpectedOrderError{Before: before, After: r}
	}

	if keyUpdated {
		rm.remove(lookupKey)
	}

	merged := mergeColumns(before, r)
	merged.Type = before.Type // INSERT stays INSERT, UPDATE stays UPDATE.
	rm.put(merged.Key(), merged)
	return nil
}

func mergeDelete(r *record.DataRecord, rm *recordMap) error {
	key := r.Key()
	before := rm.get(key)
	if before != nil && before.Type == record.Delete {
		return &UnexpectedOrderError{Before: before, After: r}
	}

	if before == nil || before.Type != record.Update || !before.UniqueKeyUpdated() {
		rm.put(key, r)
		return nil
	}

	// Delete the row as it was before any identity change in this batch.
	merged := record.NewDataRecord(r.Position(), r.TableName, record.Delete, len(r.Columns))
	merged.CommitTime = r.CommitTime
	for i, col := range r.Columns {
		beforeCol := before.Column(i)
		value := beforeCol.Value
		if col.UniqueKey && beforeCol.Updated {
			value = beforeCol.OldValue
		}
		merged.AddColumn(&record.Column{
			Name:      col.Name,
			Value:     value,
			OldValue:  beforeCol.OldValue,
			Updated:   true,
			UniqueKey: col.UniqueKey,
		})
	}
	rm.remove(before.Key())
	rm.put(merged.Key(), merged)
	return nil
}

// mergeColumns merges two records of the same row: values come from the later one, updated
// flags are or-ed and unique key old values track back to the earliest known one.
func mergeColumns(before, after *record.DataRecord) *record.DataRecord {
	ret := record.NewDataRecord(after.Position(), after.TableName, after.Type, len(after.Columns))
	ret.CommitTime = after.CommitTime
	for i, col := range after.Columns {
		beforeCol := before.Column(i)
		var oldValue interface{}
		if beforeCol.UniqueKey {
			oldValue = mergeUniqueKeyOldValue(beforeCol, col)
		} else {
			oldValue = col.OldValue
		}
		ret.AddColumn(&record.Column{
			Name:      col.Name,
			Value:     col.Value,
			OldValue:  oldValue,
			Updated:   beforeCol.Updated || col.Updated,
			UniqueKey: col.UniqueKey,
		})
	}
	return ret
}

// mergeUniqueKeyOldValue returns the value of a unique key column before both records.
func mergeUniqueKeyOldValue(before, after *record.Column) interface{} {
	if before.Updated {
		return before.OldValue
	}
	if after.Updated {
		return after.OldValue
	}
	// Never changed.
	return after.Value
}
