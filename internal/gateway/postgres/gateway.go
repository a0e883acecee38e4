// Package postgres executes allowed statements on a pooled postgres
// connection. Defense in depth is layered here independently of the
// validator: a read-only transaction, a server-enforced statement timeout,
// and a gateway-side row cap.
package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/querylens/querylens/internal/gateway"
	"github.com/querylens/querylens/internal/observability"
	"github.com/querylens/querylens/internal/resultset"
	"github.com/querylens/querylens/internal/sqlguard"
)

// queryCanceled is the SQLSTATE raised when statement_timeout fires.
const queryCanceled = "57014"

// timeoutGrace bounds how long after the server-side timeout the call may
// take to return before the context backstop cancels it client-side.
const timeoutGrace = time.Second

type Config struct {
	AcquireTimeout   time.Duration
	StatementTimeout time.Duration
	MaxRows          int
}

type Gateway struct {
	db  *sql.DB
	cfg Config
}

func NewGateway(db *sql.DB, cfg Config) (*Gateway, error) {
	if db == nil {
		return nil, fmt.Errorf("database handle is required")
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
	return &Gateway{db: db, cfg: cfg}, nil
}

func (g *Gateway) Execute(ctx context.Context, verdict sqlguard.Verdict) (resultset.Result, error) {
	if err := gateway.EnsureAllowed(verdict); err != nil {
		return resultset.Result{}, err
	}

	start := time.Now()

	// Pool acquisition waits at most AcquireTimeout; a saturated pool is
	// backpressure, not a hang.
	acquireCtx, cancelAcquire := context.WithTimeout(ctx, g.cfg.AcquireTimeout)
	defer cancelAcquire()
	conn, err := g.db.Conn(acquireCtx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			observability.IncrementPoolExhausted()
			return resultset.Result{}, &gateway.Error{Kind: gateway.ErrPoolExhausted, Message: "connection pool saturated", Err: err}
		}
		return resultset.Result{}, &gateway.Error{Kind: gateway.ErrConnectionFailure, Message: "acquire connection", Err: err}
	}
	discard := false
	defer func() {
		if discard {
			// A cancelled session must not be reused: mark the underlying
			// driver connection bad so Close removes it from the pool.
			_ = conn.Raw(func(any) error { return driver.ErrBadConn })
		}
		_ = conn.Close()
	}()

	execCtx, cancelExec := context.WithTimeout(ctx, g.cfg.StatementTimeout+timeoutGrace)
	defer cancelExec()

	tx, err := conn.BeginTx(execCtx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return resultset.Result{}, &gateway.Error{Kind: gateway.ErrConnectionFailure, Message: "begin read-only transaction", Err: err}
	}
	defer func() { _ = tx.Rollback() }()

	timeoutMs := g.cfg.StatementTimeout.Milliseconds()
	if _, err := tx.ExecContext(execCtx, fmt.Sprintf("SET LOCAL statement_timeout = %d", timeoutMs)); err != nil {
		return resultset.Result{}, &gateway.Error{Kind: gateway.ErrConnectionFailure, Message: "set statement timeout", Err: err}
	}

	rows, err := tx.QueryContext(execCtx, verdict.SanitizedSQL)
	if err != nil {
		if isTimeout(err) {
			discard = true
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
		// The cap holds even when the sanitized LIMIT was ineffective:
		// stop consuming and flag the cut instead of buffering further.
		if len(resultRows) >= g.cfg.MaxRows {
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
		if isTimeout(err) {
			discard = true
			observability.IncrementExecutionTimeout()
			return resultset.Result{}, &gateway.Error{Kind: gateway.ErrTimeout, Message: "statement timed out while streaming rows", Err: err}
		}
		return resultset.Result{}, &gateway.Error{Kind: gateway.ErrDriver, Message: err.Error(), Err: err}
	}
	_ = rows.Close()

	if err := tx.Commit(); err != nil && !truncated {
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

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == queryCanceled
}
