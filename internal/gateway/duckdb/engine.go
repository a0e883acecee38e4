// Package duckdb executes allowed statements on an embedded engine over the
// dataset's parquet snapshot. Every request gets a fresh in-memory database
// holding only the tables materialized for the statement's allow-list, and
// external file access is shut off before the statement runs, so a statement
// can reach nothing but those tables.
package duckdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/marcboeker/go-duckdb/v2"

	"github.com/querylens/querylens/internal/gateway"
	"github.com/querylens/querylens/internal/observability"
	"github.com/querylens/querylens/internal/resultset"
	"github.com/querylens/querylens/internal/sqlguard"
	"github.com/querylens/querylens/internal/storage"
)

const timeoutGrace = time.Second

type Config struct {
	AcquireTimeout   time.Duration
	StatementTimeout time.Duration
	MaxRows          int
	MaxConcurrent    int
}

type Engine struct {
	store storage.ObjectStore
	cfg   Config
	slots chan struct{}
}

func NewEngine(store storage.ObjectStore, cfg Config) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("object store is required")
	}
	if cfg.MaxRows <= 0 {
		return nil, fmt.Errorf("max rows must be positive")
	}
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = 2 * time.Second
	}
	if cfg.StatementTimeout <= 0 {
		cfg.StatementTimeout = 10 * time.Second
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 4
	}
	return &Engine{
		store: store,
		cfg:   cfg,
		slots: make(chan struct{}, cfg.MaxConcurrent),
	}, nil
}

func (e *Engine) Execute(ctx context.Context, verdict sqlguard.Verdict) (resultset.Result, error) {
	if err := gateway.EnsureAllowed(verdict); err != nil {
		return resultset.Result{}, err
	}

	// The embedded engine has no server-side pool; a slot channel bounds
	// concurrent executions the same way the pool size does for postgres.
	select {
	case e.slots <- struct{}{}:
		defer func() { <-e.slots }()
	case <-time.After(e.cfg.AcquireTimeout):
		observability.IncrementPoolExhausted()
		return resultset.Result{}, &gateway.Error{Kind: gateway.ErrPoolExhausted, Message: "all execution slots busy"}
	case <-ctx.Done():
		return resultset.Result{}, &gateway.Error{Kind: gateway.ErrConnectionFailure, Message: "request cancelled", Err: ctx.Err()}
	}

	start := time.Now()
	execCtx, cancel := context.WithTimeout(ctx, e.cfg.StatementTimeout+timeoutGrace)
	defer cancel()

	workDir, err := os.MkdirTemp("", "querylens-exec-")
	if err != nil {
		return resultset.Result{}, &gateway.Error{Kind: gateway.ErrConnectionFailure, Message: "create scratch dir", Err: err}
	}
	defer func() { _ = os.RemoveAll(workDir) }()

	localFiles, err := e.materializeTables(execCtx, workDir, verdict.ReferencedTables)
	if err != nil {
		return resultset.Result{}, err
	}

	db, err := sql.Open("duckdb", "")
	if err != nil {
		return resultset.Result{}, &gateway.Error{Kind: gateway.ErrConnectionFailure, Message: "open embedded engine", Err: err}
	}
	defer func() { _ = db.Close() }()
	// One session holds both the materialized tables and the hardened
	// settings below.
	db.SetMaxOpenConns(1)

	for tableName, paths := range localFiles {
		tableSQL := fmt.Sprintf(`CREATE TABLE %s AS SELECT * FROM read_parquet(%s)`, quoteIdent(tableName), quoteStringArray(paths))
		if _, err := db.ExecContext(execCtx, tableSQL); err != nil {
			return resultset.Result{}, &gateway.Error{Kind: gateway.ErrConnectionFailure, Message: fmt.Sprintf("materialize table %q", tableName), Err: err}
		}
	}

	// With the snapshot loaded, cut off filesystem and network access so
	// read_* and scan functions cannot reach anything outside the tables
	// created above.
	if _, err := db.ExecContext(execCtx, "SET enable_external_access = false"); err != nil {
		return resultset.Result{}, &gateway.Error{Kind: gateway.ErrConnectionFailure, Message: "disable external access", Err: err}
	}

	rows, err := db.QueryContext(execCtx, verdict.SanitizedSQL)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(execCtx.Err(), context.DeadlineExceeded) {
			observability.IncrementExecutionTimeout()
			return resultset.Result{}, &gateway.Error{Kind: gateway.ErrTimeout, Message: "statement timed out", Err: err}
		}
		return resultset.Result{}, &gateway.Error{Kind: gateway.ErrDriver, Message: err.Error(), Err: err}
	}
	defer func() { _ = rows.Close() }()

	columnTypes, err := rows.ColumnTypes()
	if err != nil {
		return resultset.Result{}, &gateway.Error{Kind: gateway.ErrDriver, Message: err.Error(), Err: err}
	}
	columns := resultset.ColumnsFromTypes(columnTypes)

	resultRows := make([][]any, 0)
	truncated := false
	for rows.Next() {
		if len(resultRows) >= e.cfg.MaxRows {
			truncated = true
			break
		}
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return resultset.Result{}, &gateway.Error{Kind: gateway.ErrDriver, Message: err.Error(), Err: err}
		}
		resultRows = append(resultRows, resultset.NormalizeValues(values))
	}
	if err := rows.Err(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(execCtx.Err(), context.DeadlineExceeded) {
			observability.IncrementExecutionTimeout()
			return resultset.Result{}, &gateway.Error{Kind: gateway.ErrTimeout, Message: "statement timed out while streaming rows", Err: err}
		}
		return resultset.Result{}, &gateway.Error{Kind: gateway.ErrDriver, Message: err.Error(), Err: err}
	}

	result := resultset.Result{
		Columns:   columns,
		Rows:      resultRows,
		RowCount:  len(resultRows),
		Truncated: truncated,
		Duration:  time.Since(start),
	}
	observability.ObserveExecution(result.Duration, result.RowCount, result.Truncated)
	return result, nil
}

// materializeTables downloads the parquet objects for each referenced table
// into the scratch dir. Dataset layout is one directory per table:
// <table>/<file>.parquet.
func (e *Engine) materializeTables(ctx context.Context, workDir string, tables []string) (map[string][]string, error) {
	localFiles := map[string][]string{}
	for _, tableName := range tables {
		infos, err := e.store.List(ctx, tableName+"/")
		if err != nil {
			return nil, &gateway.Error{Kind: gateway.ErrConnectionFailure, Message: fmt.Sprintf("list dataset files for table %q", tableName), Err: err}
		}
		var keys []string
		for _, info := range infos {
			if strings.HasSuffix(info.Key, ".parquet") {
				keys = append(keys, info.Key)
			}
		}
		if len(keys) == 0 {
			return nil, &gateway.Error{Kind: gateway.ErrConnectionFailure, Message: fmt.Sprintf("no dataset files for table %q", tableName)}
		}

		for index, key := range keys {
			reader, err := e.store.Get(ctx, key)
			if err != nil {
				return nil, &gateway.Error{Kind: gateway.ErrConnectionFailure, Message: fmt.Sprintf("get dataset object %q", key), Err: err}
			}
			localPath := filepath.Join(workDir, fmt.Sprintf("%s_%d.parquet", sanitizeFileComponent(tableName), index))
			if err := materializeObject(localPath, reader); err != nil {
				return nil, &gateway.Error{Kind: gateway.ErrConnectionFailure, Message: fmt.Sprintf("write local dataset file %q", localPath), Err: err}
			}
			localFiles[tableName] = append(localFiles[tableName], localPath)
		}
	}
	return localFiles, nil
}

// materializeObject copies one snapshot object to disk and always closes the
// reader, surfacing whichever of copy or close fails first.
func materializeObject(path string, reader io.ReadCloser) error {
	defer func() { _ = reader.Close() }()
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(file, reader); err != nil {
		_ = file.Close()
		return err
	}
	return file.Close()
}

func quoteIdent(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}

func quoteStringArray(values []string) string {
	quoted := make([]string, 0, len(values))
	for _, value := range values {
		quoted = append(quoted, `'`+strings.ReplaceAll(value, `'`, `''`)+`'`)
	}
	return "[" + strings.Join(quoted, ",") + "]"
}

func sanitizeFileComponent(value string) string {
	value = strings.ReplaceAll(value, "/", "_")
	value = strings.ReplaceAll(value, "..", "_")
	if value == "" {
		return "table"
	}
	return value
}
