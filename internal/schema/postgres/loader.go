// Package postgres introspects the live catalog to build the schema
// descriptor. Only user tables in the configured schema are listed; system
// and catalog tables never enter the allow-list.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/querylens/querylens/internal/schema"
)

const columnsQuery = `
SELECT c.table_name,
       c.column_name,
       c.data_type,
       COALESCE(col_description(pc.oid, c.ordinal_position), '')
FROM information_schema.columns c
JOIN information_schema.tables t
  ON t.table_schema = c.table_schema AND t.table_name = c.table_name
JOIN pg_class pc
  ON pc.relname = c.table_name
JOIN pg_namespace pn
  ON pn.oid = pc.relnamespace AND pn.nspname = c.table_schema
WHERE c.table_schema = $1
  AND t.table_type = 'BASE TABLE'
ORDER BY c.table_name, c.ordinal_position`

type Loader struct {
	DB         *sql.DB
	SearchPath string
}

func NewLoader(db *sql.DB, searchPath string) *Loader {
	if searchPath == "" {
		searchPath = "public"
	}
	return &Loader{DB: db, SearchPath: searchPath}
}

func (l *Loader) Load(ctx context.Context) (schema.Descriptor, error) {
	if l.DB == nil {
		return schema.Descriptor{}, fmt.Errorf("database handle is required")
	}

	rows, err := l.DB.QueryContext(ctx, columnsQuery, l.SearchPath)
	if err != nil {
		return schema.Descriptor{}, fmt.Errorf("query catalog columns: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tables []schema.TableSpec
	byName := map[string]int{}
	for rows.Next() {
		var tableName, columnName, dataType, description string
		if err := rows.Scan(&tableName, &columnName, &dataType, &description); err != nil {
			return schema.Descriptor{}, fmt.Errorf("scan catalog column: %w", err)
		}
		index, ok := byName[tableName]
		if !ok {
			tables = append(tables, schema.TableSpec{Name: tableName})
			index = len(tables) - 1
			byName[tableName] = index
		}
		tables[index].Columns = append(tables[index].Columns, schema.ColumnSpec{
			Name:         columnName,
			DeclaredType: dataType,
			Description:  description,
		})
	}
	if err := rows.Err(); err != nil {
		return schema.Descriptor{}, fmt.Errorf("iterate catalog columns: %w", err)
	}

	return schema.Descriptor{Tables: tables, LoadedAt: time.Now().UTC()}, nil
}
