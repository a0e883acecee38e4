package nl2sql

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/querylens/querylens/internal/schema"
)

const systemPrompt = "You convert natural language analytics questions into a single read-only SQL query. " +
	"Return ONLY SQL. No markdown, no explanation. " +
	"Never write INSERT, UPDATE, DELETE, or DDL. One statement only."

// Few-shot examples fix the expected shape: one statement, read-only,
// aggregate aliases, LIKE for fuzzy user phrasing.
var fewShotExamples = []struct {
	question string
	sql      string
}{
	{
		question: "Which ministries spent the most overall?",
		sql:      `SELECT ministry, SUM(amount) AS total_amount FROM spending GROUP BY ministry ORDER BY total_amount DESC LIMIT 10`,
	},
	{
		question: "How many programs mention childcare?",
		sql:      `SELECT COUNT(*) AS program_count FROM spending WHERE program_name LIKE '%childcare%'`,
	},
	{
		question: "Total spending per year since 2020",
		sql:      `SELECT year, SUM(amount) AS total_amount FROM spending WHERE year >= 2020 GROUP BY year ORDER BY year`,
	},
}

// buildPrompt renders the full user prompt. It is deterministic for a given
// (question, descriptor, dialect) triple; retries reuse the same prompt.
func buildPrompt(question Question, descriptor schema.Descriptor, dialect string) string {
	var b strings.Builder
	b.WriteString("Target dialect: ")
	b.WriteString(dialect)
	b.WriteString("\n\nSchema (tables, columns, descriptions):\n")
	b.WriteString(descriptor.Render())
	b.WriteString("\nRules:\n")
	b.WriteString("- Use only the listed tables and columns.\n")
	b.WriteString("- Prefer LIKE with % wildcards when matching user-supplied names.\n")
	b.WriteString("- Give aggregate expressions a readable alias with AS.\n")
	b.WriteString("- Output exactly one SELECT statement, nothing else.\n")
	b.WriteString("\nExamples:\n")
	for _, example := range fewShotExamples {
		fmt.Fprintf(&b, "Q: %s\nSQL: %s\n", example.question, example.sql)
	}
	b.WriteString("\nQuestion:\n")
	b.WriteString(strings.TrimSpace(question.Text))
	return b.String()
}

func promptHash(prompt string) string {
	sum := sha256.Sum256([]byte(prompt))
	return hex.EncodeToString(sum[:])
}

// extractStatement isolates the SQL statement from raw model output:
// markdown fencing and leading commentary are stripped. An empty result or
// text with no recognizable query start means the response is unusable.
func extractStatement(raw string) (string, bool) {
	trimmed := stripMarkdownSQL(raw)
	if isQueryStart(trimmed) {
		return trimmed, true
	}

	lines := strings.Split(trimmed, "\n")
	for i, line := range lines {
		if isQueryStart(strings.TrimSpace(line)) {
			return strings.TrimSpace(strings.Join(lines[i:], "\n")), true
		}
	}
	return "", false
}

func isQueryStart(text string) bool {
	lowered := strings.ToLower(text)
	return strings.HasPrefix(lowered, "select") || strings.HasPrefix(lowered, "with")
}

func stripMarkdownSQL(value string) string {
	trimmed := strings.TrimSpace(value)
	if start := strings.Index(trimmed, "```"); start >= 0 {
		trimmed = trimmed[start:]
		trimmed = strings.TrimPrefix(trimmed, "```sql")
		trimmed = strings.TrimPrefix(trimmed, "```")
		if end := strings.Index(trimmed, "```"); end >= 0 {
			trimmed = trimmed[:end]
		}
	}
	return strings.TrimSpace(trimmed)
}
