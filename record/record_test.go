package record

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKey(t *testing.T) {
	assert := assert.New(t)

	r1 := NewDataRecord(nil, "orders", Insert, 3)
	r1.AddColumn(&Column{Name: "id", Value: int32(1), UniqueKey: true})
	r1.AddColumn(&Column{Name: "uid", Value: "a", UniqueKey: true})
	r1.AddColumn(&Column{Name: "status", Value: "A"})

	r2 := NewDataRecord(nil, "orders", Update, 3)
	r2.AddColumn(&Column{Name: "id", Value: int64(1), UniqueKey: true})
	r2.AddColumn(&Column{Name: "uid", Value: []byte("a"), UniqueKey: true})
	r2.AddColumn(&Column{Name: "status", Value: "B", OldValue: "A", Updated: true})

	// Value types do not matter, only rendered values.
	assert.Equal(r1.Key(), r2.Key())
	assert.Equal(r2.Key(), r2.OldKey())
	assert.False(r2.UniqueKeyUpdated())

	// Different table.
	r3 := NewDataRecord(nil, "users", Insert, 1)
	r3.AddColumn(&Column{Name: "id", Value: 1, UniqueKey: true})
	assert.NotEqual(r1.Key(), r3.Key())

	// Values can not forge separators.
	r4 := NewDataRecord(nil, "t", Insert, 2)
	r4.AddColumn(&Column{Name: "a", Value: "1;2", UniqueKey: true})
	r4.AddColumn(&Column{Name: "b", Value: "3", UniqueKey: true})
	r5 := NewDataRecord(nil, "t", Insert, 2)
	r5.AddColumn(&Column{Name: "a", Value: "1", UniqueKey: true})
	r5.AddColumn(&Column{Name: "b", Value: "2;3", UniqueKey: true})
	assert.NotEqual(r4.Key(), r5.Key())

	// nil differs from empty string.
	r6 := NewDataRecord(nil, "t", Insert, 1)
	r6.AddColumn(&Column{Name: "a", Value: nil, UniqueKey: true})
	r7 := NewDataRecord(nil, "t", Insert, 1)
	r7.AddColumn(&Column{Name: "a", Value: "", UniqueKey: true})
	assert.NotEqual(r6.Key(), r7.Key())
}

func TestOldKey(t *testing.T) {
	assert := assert.New(t)

	r := NewDataRecord(nil, "orders", Update, 2)
	r.AddColumn(&Column{Name: "id", Value: 2, OldValue: 1, Updated: true, UniqueKey: true})
	r.AddColumn(&Column{Name: "status", Value: "A"})
	assert.True(r.UniqueKeyUpdated())

	k1 := NewDataRecord(nil, "orders", Delete, 1)
	k1.AddColumn(&Column{Name: "id", Value: 1, UniqueKey: true})
	k2 := NewDataRecord(nil, "orders", Delete, 1)
	k2.AddColumn(&Column{Name: "id", Value: 2, UniqueKey: true})

	assert.Equal(k1.Key(), r.OldKey())
	assert.Equal(k2.Key(), r.Key())
}

func TestRecordTypes(t *testing.T) {
	assert := assert.New(t)

	var recs []Record = []Record{
		NewDataRecord(nil, "t", Insert, 0),
		NewPlaceholderRecord(nil),
		NewFinishedRecord(nil),
	}
	for _, r := range recs {
		assert.Equal("", r.Position().String())
	}
	assert.Equal("INSERT", Insert.String())
	assert.Equal("UPDATE", Update.String())
	assert.Equal("DELETE", Delete.String())
	assert.Equal("Type(9)", Type(9).String())

	g := &GroupedDataRecord{
		InsertRecords: []*DataRecord{NewDataRecord(nil, "t", Insert, 0)},
		DeleteRecords: []*DataRecord{NewDataRecord(nil, "t", Delete, 0)},
	}
	assert.Equal(2, g.Len())
}
