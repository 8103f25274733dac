package merge

import (
	"github.com/huangjunwen/scaling/record"
)

// Group merges records then partitions them by table name and type. Tables are in
// first appearance order.
func Group(records []*record.DataRecord) ([]*record.GroupedDataRecord, error) {
	merged, err := Merge(records)
	if err != nil {
		return nil, err
	}

	ret := []*record.GroupedDataRecord{}
	groups := make(map[string]*record.GroupedDataRecord)
	for _, r := range merged {
		g := groups[r.TableName]
		if g == nil {
			g = &record.GroupedDataRecord{TableName: r.TableName}
			groups[r.TableName] = g
			ret = append(ret, g)
		}
		switch r.Type {
		case record.Insert:
			g.InsertRecords = append(g.InsertRecords, r)
		case record.Update:
			g.UpdateRecords = append(g.UpdateRecords, r)
		case record.Delete:
			g.DeleteRecords = append(g.DeleteRecords, r)
		}
	}
	return ret, nil
}
