package inventory

import (
	"gopkg.in/volatiletech/null.v6"

	"github.com/huangjunwen/scaling/meta"
)

// scanTargets returns nullable scan targets by column data type. Temporal and decimal
// values are scanned as strings (the source connection does not parse time), which
// matches values decoded from binlog.
func scanTargets(tm *meta.TableMeta) []interface{} {
	ret := make([]interface{}, 0, len(tm.Columns))
	for _, col := range tm.Columns {
		switch col.DataType {
		case "tinyint", "smallint", "mediumint", "int", "integer", "bigint":
			if col.Unsigned {
				ret = append(ret, &null.Uint64{})
			} else {
				ret = append(ret, &null.Int64{})
			}

		case "float", "double", "real":
			ret = append(ret, &null.Float64{})

		default:
			ret = append(ret, &null.String{})
		}
	}
	return ret
}

// scanValues extracts values from scan targets, NULL becomes nil.
func scanValues(dest []interface{}) []interface{} {
	ret := make([]interface{}, len(dest))
	for i, d := range dest {
		switch v := d.(type) {
		case *null.Int64:
			if v.Valid {
				ret[i] = v.Int64
			}
		case *null.Uint64:
			if v.Valid {
				ret[i] = v.Uint64
			}
		case *null.Float64:
			if v.Valid {
				ret[i] = v.Float64
			}
		case *null.String:
			if v.Valid {
				ret[i] = v.String
			}
		}
	}
	return ret
}
