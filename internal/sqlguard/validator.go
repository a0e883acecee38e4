// Package sqlguard decides whether a model-produced SQL statement may run.
// Candidates are treated as adversarial input: the verdict depends only on
// the literal structure of the text, never on where it came from. Validate
// is deterministic and side-effect free.
package sqlguard

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/querylens/querylens/internal/schema"
)

type Reason string

const (
	ReasonEmptyStatement          Reason = "empty_statement"
	ReasonMultipleStatements      Reason = "multiple_statements"
	ReasonDisallowedStatementKind Reason = "disallowed_statement_kind"
	ReasonUnknownTable            Reason = "unknown_table"
	ReasonForbiddenConstruct      Reason = "forbidden_construct"
)

// Verdict is the validator outcome. Exactly one of the two shapes is
// populated: an allowed statement carries the sanitized text and the tables
// it references; a rejected one carries a specific reason, never a generic
// "invalid SQL".
type Verdict struct {
	Allowed          bool     `json:"allowed"`
	SanitizedSQL     string   `json:"sanitized_sql,omitempty"`
	ReferencedTables []string `json:"referenced_tables,omitempty"`
	Reason           Reason   `json:"reason,omitempty"`
	Detail           string   `json:"detail,omitempty"`
}

// Statement kinds and session controls that must never run, regardless of
// position. Some of these can collide with unquoted column names; the
// validator errs on the side of rejecting.
var forbiddenKeywords = map[string]struct{}{
	"insert": {}, "update": {}, "delete": {}, "merge": {}, "upsert": {},
	"create": {}, "drop": {}, "alter": {}, "truncate": {}, "rename": {},
	"grant": {}, "revoke": {}, "reindex": {}, "cluster": {}, "vacuum": {},
	"copy": {}, "call": {}, "do": {}, "execute": {}, "prepare": {}, "deallocate": {},
	"begin": {}, "commit": {}, "rollback": {}, "savepoint": {}, "abort": {},
	"set": {}, "reset": {}, "listen": {}, "notify": {}, "discard": {},
	"attach": {}, "detach": {}, "pragma": {}, "install": {}, "load": {},
	"import": {}, "export": {},
}

// Functions that reach outside the dataset: file and process access,
// sleeping, dynamic SQL, session/config manipulation. The list covers both
// supported dialects.
var forbiddenFunctions = map[string]struct{}{
	"pg_read_file": {}, "pg_read_binary_file": {}, "pg_ls_dir": {},
	"pg_stat_file": {}, "pg_sleep": {}, "pg_sleep_for": {}, "pg_sleep_until": {},
	"pg_terminate_backend": {}, "pg_cancel_backend": {}, "pg_reload_conf": {},
	"lo_import": {}, "lo_export": {},
	"dblink": {}, "dblink_exec": {}, "dblink_connect": {},
	"current_setting": {}, "set_config": {},
	"query_to_xml": {}, "database_to_xml": {}, "table_to_xml": {},
	"read_csv": {}, "read_csv_auto": {}, "read_parquet": {}, "parquet_scan": {},
	"parquet_metadata": {}, "parquet_schema": {}, "parquet_file_metadata": {},
	"parquet_kv_metadata": {},
	"read_json": {}, "read_json_auto": {}, "read_json_objects": {},
	"read_ndjson": {}, "read_ndjson_auto": {}, "read_ndjson_objects": {},
	"read_text": {}, "read_blob": {}, "read_xlsx": {},
	"glob": {}, "getenv": {}, "sniff_csv": {},
}

// Words that may precede a table reference without ending the FROM clause.
var joinModifiers = map[string]struct{}{
	"inner": {}, "left": {}, "right": {}, "full": {}, "cross": {},
	"natural": {}, "outer": {}, "lateral": {}, "only": {},
}

// Clause keywords that terminate a FROM list at the current depth. ON and
// USING are not terminators: a comma after a join condition at the same
// paren depth introduces another FROM item.
var fromTerminators = map[string]struct{}{
	"where": {}, "group": {}, "having": {}, "window": {}, "order": {},
	"limit": {}, "offset": {}, "fetch": {}, "union": {}, "intersect": {},
	"except": {}, "for": {},
}

func reject(reason Reason, detail string) Verdict {
	return Verdict{Reason: reason, Detail: detail}
}

// Validate checks one candidate statement against the descriptor and, when
// it passes, returns a sanitized statement whose only difference from the
// input is the enforced row limit.
func Validate(sqlText string, descriptor schema.Descriptor, maxRows int) Verdict {
	trimmed := strings.TrimSpace(sqlText)
	if trimmed == "" {
		return reject(ReasonEmptyStatement, "statement is empty")
	}

	tokens, err := lex(trimmed)
	if err != nil {
		return reject(ReasonForbiddenConstruct, err.Error())
	}
	if len(tokens) == 0 {
		return reject(ReasonEmptyStatement, "statement contains no tokens")
	}

	// A comment may only sit at the very end of the input. Anything after a
	// comment token is conservatively treated as a smuggling attempt.
	for i, tok := range tokens {
		if tok.kind == tokenComment && i != len(tokens)-1 {
			return reject(ReasonForbiddenConstruct, "comment followed by further input")
		}
	}
	if tokens[len(tokens)-1].kind == tokenComment {
		tokens = tokens[:len(tokens)-1]
	}
	if len(tokens) == 0 {
		return reject(ReasonEmptyStatement, "statement is only a comment")
	}

	// One optional trailing separator; any other separator means a second
	// statement. Multi-statement text is rejected, never split.
	if tokens[len(tokens)-1].kind == tokenSemicolon {
		tokens = tokens[:len(tokens)-1]
	}
	if len(tokens) == 0 {
		return reject(ReasonEmptyStatement, "statement is only a separator")
	}
	for _, tok := range tokens {
		if tok.kind == tokenSemicolon {
			return reject(ReasonMultipleStatements, "statement separator inside statement body")
		}
	}

	for _, tok := range tokens {
		if tok.kind != tokenWord {
			continue
		}
		if _, forbidden := forbiddenKeywords[tok.lower()]; forbidden {
			return reject(ReasonDisallowedStatementKind, fmt.Sprintf("keyword %q is not allowed", tok.lower()))
		}
	}

	cteNames, verdict := checkStatementShape(tokens)
	if !verdictOK(verdict) {
		return verdict
	}

	// Function names may be quoted; "pg_read_file" resolves to the same
	// function as pg_read_file, so the identifier is matched either way.
	for i, tok := range tokens {
		if (tok.kind != tokenWord && tok.kind != tokenQuotedIdent) ||
			i+1 >= len(tokens) || tokens[i+1].kind != tokenLParen {
			continue
		}
		name := tok.identName()
		if _, forbidden := forbiddenFunctions[name]; forbidden {
			return reject(ReasonForbiddenConstruct, fmt.Sprintf("function %q is not allowed", name))
		}
	}

	referenced, verdict := checkTableReferences(tokens, descriptor, cteNames)
	if !verdictOK(verdict) {
		return verdict
	}

	body := trimmed[tokens[0].start:tokens[len(tokens)-1].end]
	sanitized := enforceRowLimit(body, tokens, maxRows)

	return Verdict{
		Allowed:          true,
		SanitizedSQL:     sanitized,
		ReferencedTables: referenced,
	}
}

func verdictOK(v Verdict) bool {
	return v.Reason == ""
}

// checkStatementShape enforces the read-only statement kinds: a SELECT, or a
// WITH whose common-table-expression bodies open with SELECT (or a nested
// WITH). It returns the CTE names so table resolution can accept them.
func checkStatementShape(tokens []token) (map[string]struct{}, Verdict) {
	cteNames := map[string]struct{}{}

	first := tokens[0]
	if first.kind != tokenWord {
		return nil, reject(ReasonDisallowedStatementKind, "statement must start with SELECT or WITH")
	}
	switch first.lower() {
	case "select":
		return cteNames, Verdict{}
	case "with":
	default:
		return nil, reject(ReasonDisallowedStatementKind, fmt.Sprintf("statement kind %q is not allowed", first.lower()))
	}

	i := 1
	if i < len(tokens) && tokens[i].kind == tokenWord && tokens[i].lower() == "recursive" {
		i++
	}

	for {
		if i >= len(tokens) || (tokens[i].kind != tokenWord && tokens[i].kind != tokenQuotedIdent) {
			return nil, reject(ReasonDisallowedStatementKind, "malformed WITH clause: expected query name")
		}
		cteNames[strings.ToLower(tokens[i].identName())] = struct{}{}
		i++

		// Optional column alias list.
		if i < len(tokens) && tokens[i].kind == tokenLParen {
			i = skipParens(tokens, i)
		}

		if i >= len(tokens) || tokens[i].kind != tokenWord || tokens[i].lower() != "as" {
			return nil, reject(ReasonDisallowedStatementKind, "malformed WITH clause: expected AS")
		}
		i++

		// Optional [NOT] MATERIALIZED.
		if i < len(tokens) && tokens[i].kind == tokenWord && tokens[i].lower() == "not" {
			i++
		}
		if i < len(tokens) && tokens[i].kind == tokenWord && tokens[i].lower() == "materialized" {
			i++
		}

		if i >= len(tokens) || tokens[i].kind != tokenLParen {
			return nil, reject(ReasonDisallowedStatementKind, "malformed WITH clause: expected subquery")
		}
		if i+1 >= len(tokens) || tokens[i+1].kind != tokenWord ||
			(tokens[i+1].lower() != "select" && tokens[i+1].lower() != "with") {
			return nil, reject(ReasonDisallowedStatementKind, "WITH clause body must be a SELECT")
		}
		i = skipParens(tokens, i)

		if i < len(tokens) && tokens[i].kind == tokenComma {
			i++
			continue
		}
		break
	}

	if i >= len(tokens) || tokens[i].kind != tokenWord || tokens[i].lower() != "select" {
		return nil, reject(ReasonDisallowedStatementKind, "WITH must be followed by a SELECT")
	}
	return cteNames, Verdict{}
}

func startsSubquery(tokens []token, i int) bool {
	return i < len(tokens) && tokens[i].kind == tokenWord &&
		(tokens[i].lower() == "select" || tokens[i].lower() == "with")
}

// skipParens advances from an opening parenthesis past its matching close.
func skipParens(tokens []token, open int) int {
	depth := 0
	for i := open; i < len(tokens); i++ {
		switch tokens[i].kind {
		case tokenLParen:
			depth++
		case tokenRParen:
			depth--
			if depth == 0 {
				return i + 1
			}
		}
	}
	return len(tokens)
}

// checkTableReferences walks every position where a table name can appear
// (after FROM, after JOIN, and after commas inside a FROM list) and requires
// each name to be either a descriptor table or a CTE defined in this
// statement. Qualified names and table functions never resolve: the
// allow-list contains only bare dataset tables.
func checkTableReferences(tokens []token, descriptor schema.Descriptor, cteNames map[string]struct{}) ([]string, Verdict) {
	referenced := map[string]struct{}{}
	depth := 0
	fromDepth := map[int]bool{}
	expectRef := false

	for i := 0; i < len(tokens); i++ {
		tok := tokens[i]
		switch tok.kind {
		case tokenLParen:
			depth++
			// A parenthesized FROM item is either a subquery, which carries
			// its own FROM clause, or a parenthesized join whose first name
			// is still a table reference.
			if expectRef && !startsSubquery(tokens, i+1) {
				fromDepth[depth] = true
			} else {
				expectRef = false
			}
		case tokenRParen:
			delete(fromDepth, depth)
			depth--
		case tokenComma:
			if fromDepth[depth] {
				expectRef = true
			}
		case tokenWord, tokenQuotedIdent:
			lowered := tok.lower()
			if tok.kind == tokenWord {
				if lowered == "from" {
					fromDepth[depth] = true
					expectRef = true
					continue
				}
				if lowered == "join" {
					expectRef = true
					continue
				}
				if _, modifier := joinModifiers[lowered]; modifier && expectRef {
					continue
				}
				if lowered == "on" || lowered == "using" {
					// The join condition is not a table reference, but the FROM
					// list at this depth continues past it.
					expectRef = false
					continue
				}
				if _, terminator := fromTerminators[lowered]; terminator {
					delete(fromDepth, depth)
					expectRef = false
					continue
				}
			}
			if !expectRef {
				continue
			}
			expectRef = false

			name := tok.identName()
			if i+1 < len(tokens) && tokens[i+1].kind == tokenDot {
				return nil, reject(ReasonUnknownTable, fmt.Sprintf("qualified table reference %q is not allowed", name))
			}
			if i+1 < len(tokens) && tokens[i+1].kind == tokenLParen {
				return nil, reject(ReasonUnknownTable, fmt.Sprintf("table function %q is not allowed", name))
			}
			if _, isCTE := cteNames[strings.ToLower(name)]; isCTE {
				continue
			}
			table, ok := descriptor.Table(name)
			// Unquoted names fold; a quoted name must match the descriptor
			// exactly, the way the engines resolve it.
			if !ok || (tok.kind == tokenQuotedIdent && table.Name != name) {
				return nil, reject(ReasonUnknownTable, fmt.Sprintf("table %q is not in the schema", name))
			}
			referenced[table.Name] = struct{}{}
		default:
			expectRef = false
		}
	}

	names := make([]string, 0, len(referenced))
	for name := range referenced {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, Verdict{}
}

// enforceRowLimit is the single transformation the validator performs: a
// missing row limit is appended at the cap, an oversized numeric limit is
// lowered to it, and anything the splice cannot express safely is wrapped in
// a limiting subselect. Predicates and table references are never rewritten.
func enforceRowLimit(body string, tokens []token, maxRows int) string {
	offset := tokens[0].start
	depth := 0
	limitIndex := -1
	hasFetch := false
	for i, tok := range tokens {
		switch tok.kind {
		case tokenLParen:
			depth++
		case tokenRParen:
			depth--
		case tokenWord:
			if depth != 0 {
				continue
			}
			switch tok.lower() {
			case "limit":
				limitIndex = i
			case "fetch":
				hasFetch = true
			}
		}
	}

	if limitIndex < 0 {
		if hasFetch {
			return wrapWithLimit(body, maxRows)
		}
		return fmt.Sprintf("%s LIMIT %d", body, maxRows)
	}

	if limitIndex+1 >= len(tokens) {
		return wrapWithLimit(body, maxRows)
	}
	valueToken := tokens[limitIndex+1]
	switch {
	case valueToken.kind == tokenNumber:
		value, err := strconv.Atoi(valueToken.text)
		if err != nil || value < 0 {
			return wrapWithLimit(body, maxRows)
		}
		if value <= maxRows {
			return body
		}
		return body[:valueToken.start-offset] + strconv.Itoa(maxRows) + body[valueToken.end-offset:]
	case valueToken.kind == tokenWord && valueToken.lower() == "all":
		return body[:valueToken.start-offset] + strconv.Itoa(maxRows) + body[valueToken.end-offset:]
	default:
		return wrapWithLimit(body, maxRows)
	}
}

func wrapWithLimit(body string, maxRows int) string {
	return fmt.Sprintf("SELECT * FROM (%s) AS bounded_query LIMIT %d", body, maxRows)
}
