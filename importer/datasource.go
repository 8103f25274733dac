package importer

import (
	"context"
	"database/sql"
)

// DataSourceManager owns connection pools of targets.
type DataSourceManager interface {
	DataSource(ctx context.Context) (*sql.DB, error)
}

// StaticDataSource always returns DB.
type StaticDataSource struct {
	DB *sql.DB
}

var (
	_ DataSourceManager = StaticDataSource{}
)

// DataSource implements DataSourceManager interface.
func (ds StaticDataSource) DataSource(ctx context.Context) (*sql.DB, error) {
	return ds.DB, nil
}
