package meta

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var tableMetaQuery = regexp.QuoteMeta("FROM information_schema.columns")

func TestMySQLProvider(t *testing.T) {
	assert := assert.New(t)

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(tableMetaQuery).
		WithArgs("shop", "orders").
		WillReturnRows(sqlmock.NewRows([]string{"column_name", "data_type", "ordinal_position", "column_key", "column_type"}).
			AddRow("id", "BIGINT", 1, "PRI", "bigint(20) unsigned").
			AddRow("status", "varchar", 2, "", "varchar(8)"))

	p := NewMySQLProvider(db, "shop")
	tm, err := p.TableMeta(context.Background(), "orders")
	assert.NoError(err)
	assert.Equal([]string{"id", "status"}, tm.ColumnNames())
	assert.Equal([]string{"id"}, tm.PrimaryKeyNames())
	assert.Equal("bigint", tm.Columns[0].DataType)
	assert.True(tm.Columns[0].Unsigned)
	assert.False(tm.Columns[1].Unsigned)

	// Cached: no more query.
	tm2, err := p.TableMeta(context.Background(), "orders")
	assert.NoError(err)
	assert.Same(tm, tm2)
	assert.NoError(mock.ExpectationsWereMet())

	// Not found.
	mock.ExpectQuery(tableMetaQuery).
		WithArgs("shop", "nope").
		WillReturnRows(sqlmock.NewRows([]string{"column_name", "data_type", "ordinal_position", "column_key", "column_type"}))
	_, err = p.TableMeta(context.Background(), "nope")
	assert.Error(err)
	assert.NoError(mock.ExpectationsWereMet())
}

func TestUniqueKeySet(t *testing.T) {
	assert := assert.New(t)

	tm := &TableMeta{
		Name: "orders",
		Columns: []*ColumnMeta{
			{Name: "id", PrimaryKey: true},
			{Name: "order_no"},
		},
	}
	set := tm.UniqueKeySet(nil)
	assert.True(IsUniqueKey(set, "ID"))
	assert.False(IsUniqueKey(set, "order_no"))

	set = tm.UniqueKeySet([]string{"Order_No"})
	assert.False(IsUniqueKey(set, "id"))
	assert.True(IsUniqueKey(set, "order_no"))
}
