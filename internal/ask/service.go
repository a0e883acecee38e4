// Package ask wires the full question-to-result pipeline: synthesize a
// candidate with the model, validate it against the schema allow-list, then
// execute the sanitized statement. The model call and the database
// connection are never held at the same time; the pool is only touched once
// a verdict allows execution.
package ask

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/querylens/querylens/internal/gateway"
	"github.com/querylens/querylens/internal/nl2sql"
	"github.com/querylens/querylens/internal/observability"
	"github.com/querylens/querylens/internal/resultset"
	"github.com/querylens/querylens/internal/schema"
	"github.com/querylens/querylens/internal/sqlguard"
)

// ValidationError surfaces a rejected verdict with its specific reason code
// so callers can act on it; rejections are terminal and never retried.
type ValidationError struct {
	Reason sqlguard.Reason
	Detail string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation %s: %s", e.Reason, e.Detail)
}

type Answer struct {
	SQL              string
	Model            string
	PromptHash       string
	ReferencedTables []string
	Result           resultset.Result
}

type Service struct {
	Schema     *schema.Holder
	Translator nl2sql.Translator
	Gateway    gateway.Gateway
	MaxRows    int
	Logger     *slog.Logger
}

// Ask answers a natural-language question. Each call is independent; no
// conversational state survives the request.
func (s *Service) Ask(ctx context.Context, questionText string) (Answer, error) {
	descriptor := s.Schema.Current()

	candidate, err := s.Translator.Synthesize(ctx, nl2sql.Question{Text: questionText}, descriptor)
	if err != nil {
		var synthErr *nl2sql.Error
		if errors.As(err, &synthErr) {
			observability.IncrementSynthesisFailure(string(synthErr.Kind))
		}
		return Answer{}, err
	}

	verdict, result, err := s.run(ctx, candidate.SQL, descriptor, s.MaxRows)
	if err != nil {
		if s.Logger != nil {
			s.Logger.WarnContext(ctx, "synthesized statement did not complete",
				slog.String("trace_id", observability.TraceIDFromContext(ctx)),
				slog.String("model", candidate.Model),
				slog.String("prompt_hash", candidate.PromptHash),
				slog.Any("error", err),
			)
		}
		return Answer{}, err
	}

	return Answer{
		SQL:              verdict.SanitizedSQL,
		Model:            candidate.Model,
		PromptHash:       candidate.PromptHash,
		ReferencedTables: verdict.ReferencedTables,
		Result:           result,
	}, nil
}

// Execute validates and runs caller-authored SQL. Synthesized and direct
// statements go through the identical verdict and execution path.
func (s *Service) Execute(ctx context.Context, sqlText string, rowLimit int) (sqlguard.Verdict, resultset.Result, error) {
	maxRows := s.MaxRows
	if rowLimit > 0 && rowLimit < maxRows {
		maxRows = rowLimit
	}
	verdict, result, err := s.run(ctx, sqlText, s.Schema.Current(), maxRows)
	return verdict, result, err
}

func (s *Service) run(ctx context.Context, sqlText string, descriptor schema.Descriptor, maxRows int) (sqlguard.Verdict, resultset.Result, error) {
	verdict := sqlguard.Validate(sqlText, descriptor, maxRows)
	if !verdict.Allowed {
		observability.IncrementValidatorRejection(string(verdict.Reason))
		return verdict, resultset.Result{}, &ValidationError{Reason: verdict.Reason, Detail: verdict.Detail}
	}

	result, err := s.Gateway.Execute(ctx, verdict)
	if err != nil {
		return verdict, resultset.Result{}, err
	}
	return verdict, result, nil
}
