package nl2sql

import (
	"strings"
	"testing"

	"github.com/querylens/querylens/internal/schema"
)

func promptDescriptor() schema.Descriptor {
	return schema.Descriptor{Tables: []schema.TableSpec{
		{Name: "spending", Columns: []schema.ColumnSpec{
			{Name: "ministry", DeclaredType: "text"},
			{Name: "amount", DeclaredType: "numeric"},
		}},
	}}
}

func TestBuildPromptIsDeterministic(t *testing.T) {
	question := Question{Text: "top ministries by spending"}
	first := buildPrompt(question, promptDescriptor(), "postgres")
	second := buildPrompt(question, promptDescriptor(), "postgres")
	if first != second {
		t.Fatal("prompt is not deterministic")
	}
	if promptHash(first) != promptHash(second) {
		t.Fatal("prompt hash is not deterministic")
	}
}

func TestBuildPromptContainsSchemaAndDialect(t *testing.T) {
	prompt := buildPrompt(Question{Text: "total per year"}, promptDescriptor(), "duckdb")
	for _, want := range []string{"Target dialect: duckdb", "table spending:", "ministry (text)", "total per year"} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("prompt missing %q:\n%s", want, prompt)
		}
	}
}

func TestExtractStatementStripsFences(t *testing.T) {
	raw := "```sql\nSELECT ministry FROM spending\n```"
	got, ok := extractStatement(raw)
	if !ok || got != "SELECT ministry FROM spending" {
		t.Fatalf("extract = %q ok=%v", got, ok)
	}
}

func TestExtractStatementSkipsLeadingCommentary(t *testing.T) {
	raw := "Sure! Here is the query you asked for:\nSELECT ministry FROM spending\nORDER BY ministry"
	got, ok := extractStatement(raw)
	if !ok {
		t.Fatal("extract failed")
	}
	if !strings.HasPrefix(got, "SELECT ministry") || !strings.Contains(got, "ORDER BY ministry") {
		t.Fatalf("extract = %q", got)
	}
}

func TestExtractStatementAcceptsWithQueries(t *testing.T) {
	got, ok := extractStatement("WITH t AS (SELECT 1) SELECT * FROM t")
	if !ok || !strings.HasPrefix(got, "WITH t") {
		t.Fatalf("extract = %q ok=%v", got, ok)
	}
}

func TestExtractStatementRejectsNonQueries(t *testing.T) {
	for _, raw := range []string{"", "I cannot answer that.", "DROP TABLE spending"} {
		if got, ok := extractStatement(raw); ok {
			t.Fatalf("extracted %q from %q", got, raw)
		}
	}
}
