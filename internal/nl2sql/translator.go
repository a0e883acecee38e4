// Package nl2sql turns a natural-language question into one candidate SQL
// statement by delegating to an external language model. The candidate is
// untrusted output: it is never executed without passing sqlguard first.
package nl2sql

import (
	"context"
	"fmt"

	"github.com/querylens/querylens/internal/schema"
)

type Question struct {
	Text string `json:"text"`
}

// Candidate carries the model output plus provenance. PromptHash identifies
// the exact prompt that produced the statement.
type Candidate struct {
	SQL        string `json:"sql"`
	Dialect    string `json:"dialect"`
	Model      string `json:"model"`
	PromptHash string `json:"prompt_hash"`
}

type ErrorKind string

const (
	ErrUnreachable       ErrorKind = "unreachable"
	ErrMalformedResponse ErrorKind = "malformed_response"
	ErrTimeout           ErrorKind = "timeout"
)

type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("synthesis %s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("synthesis %s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

type Translator interface {
	Synthesize(ctx context.Context, question Question, descriptor schema.Descriptor) (Candidate, error)
}
