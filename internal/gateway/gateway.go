// Package gateway runs validator-approved statements against the storage
// backend under strict resource limits and maps driver outcomes into typed
// results and errors.
package gateway

import (
	"context"
	"fmt"

	"github.com/querylens/querylens/internal/resultset"
	"github.com/querylens/querylens/internal/sqlguard"
)

type ErrorKind string

const (
	ErrTimeout           ErrorKind = "timeout"
	ErrPoolExhausted     ErrorKind = "pool_exhausted"
	ErrConnectionFailure ErrorKind = "connection_failure"
	ErrDriver            ErrorKind = "driver_error"
)

type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("execution %s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("execution %s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Gateway executes one allowed statement. Implementations enforce the row
// cap themselves, independently of the sanitized LIMIT, and never return
// partial rows alongside an error.
type Gateway interface {
	Execute(ctx context.Context, verdict sqlguard.Verdict) (resultset.Result, error)
}

// EnsureAllowed guards the boundary: a rejected verdict must never reach a
// live connection, whatever the caller did upstream.
func EnsureAllowed(verdict sqlguard.Verdict) error {
	if !verdict.Allowed || verdict.SanitizedSQL == "" {
		return fmt.Errorf("refusing to execute a statement without an allowed verdict")
	}
	return nil
}
