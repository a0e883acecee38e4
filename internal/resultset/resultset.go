// Package resultset is the response shape handed to the presentation layer:
// ordered columns with inferred types, ordered rows, and the truncation flag.
package resultset

import (
	"database/sql"
	"strings"
	"time"
)

type Column struct {
	Name string `json:"name"`
	Type string `json:"inferred_type"`
}

type Result struct {
	Columns   []Column      `json:"columns"`
	Rows      [][]any       `json:"rows"`
	RowCount  int           `json:"row_count"`
	Truncated bool          `json:"truncated"`
	Duration  time.Duration `json:"-"`
}

const (
	TypeInteger   = "integer"
	TypeFloat     = "float"
	TypeNumeric   = "numeric"
	TypeText      = "text"
	TypeBoolean   = "boolean"
	TypeTimestamp = "timestamp"
	TypeDate      = "date"
	TypeTime      = "time"
	TypeBinary    = "binary"
	TypeUnknown   = "unknown"
)

// ColumnsFromTypes infers per-column types from driver metadata alone, so
// formatting cost does not grow with the row count.
func ColumnsFromTypes(types []*sql.ColumnType) []Column {
	columns := make([]Column, 0, len(types))
	for _, columnType := range types {
		columns = append(columns, Column{
			Name: columnType.Name(),
			Type: InferType(columnType.DatabaseTypeName()),
		})
	}
	return columns
}

// InferType maps a driver-reported database type name to one of the coarse
// response type classes. Covers the postgres and duckdb spellings.
func InferType(databaseTypeName string) string {
	name := strings.ToUpper(strings.TrimSpace(databaseTypeName))
	if idx := strings.IndexByte(name, '('); idx >= 0 {
		name = name[:idx]
	}

	switch name {
	case "INT", "INT2", "INT4", "INT8", "SMALLINT", "INTEGER", "BIGINT",
		"TINYINT", "HUGEINT", "UTINYINT", "USMALLINT", "UINTEGER", "UBIGINT", "SERIAL", "BIGSERIAL":
		return TypeInteger
	case "FLOAT", "FLOAT4", "FLOAT8", "REAL", "DOUBLE", "DOUBLE PRECISION":
		return TypeFloat
	case "NUMERIC", "DECIMAL", "MONEY":
		return TypeNumeric
	case "TEXT", "VARCHAR", "CHAR", "BPCHAR", "NAME", "UUID", "JSON", "JSONB", "ENUM":
		return TypeText
	case "BOOL", "BOOLEAN":
		return TypeBoolean
	case "TIMESTAMP", "TIMESTAMPTZ", "TIMESTAMP WITH TIME ZONE", "TIMESTAMP WITHOUT TIME ZONE",
		"TIMESTAMP_S", "TIMESTAMP_MS", "TIMESTAMP_NS", "DATETIME":
		return TypeTimestamp
	case "DATE":
		return TypeDate
	case "TIME", "TIMETZ", "TIME WITH TIME ZONE", "TIME WITHOUT TIME ZONE", "INTERVAL":
		return TypeTime
	case "BYTEA", "BLOB", "VARBINARY":
		return TypeBinary
	default:
		return TypeUnknown
	}
}

// NormalizeValues converts driver byte slices to strings so JSON encoding
// does not base64 text columns.
func NormalizeValues(values []any) []any {
	normalized := make([]any, len(values))
	for i, value := range values {
		switch typed := value.(type) {
		case []byte:
			normalized[i] = string(typed)
		case time.Time:
			normalized[i] = typed.UTC()
		default:
			normalized[i] = typed
		}
	}
	return normalized
}
