package sqlguard

import (
	"fmt"
	"strings"
	"unicode"
)

type tokenKind int

const (
	tokenWord tokenKind = iota
	tokenQuotedIdent
	tokenString
	tokenNumber
	tokenSemicolon
	tokenLParen
	tokenRParen
	tokenComma
	tokenDot
	tokenOperator
	tokenComment
)

// token keeps the byte span of the lexeme so the sanitizer can splice the
// original text without reprinting it.
type token struct {
	kind  tokenKind
	text  string
	start int
	end   int
}

// lower returns the folded form used for keyword comparison. Quoted
// identifiers are unwrapped but not folded: "Spending" and spending are
// different identifiers to the database.
func (t token) lower() string {
	return strings.ToLower(t.text)
}

func (t token) identName() string {
	if t.kind == tokenQuotedIdent {
		inner := t.text[1 : len(t.text)-1]
		return strings.ReplaceAll(inner, `""`, `"`)
	}
	return strings.ToLower(t.text)
}

// lex splits candidate SQL into tokens. String literals, quoted identifiers,
// dollar-quoted strings and both comment forms are consumed as single tokens
// so that separators and keywords hidden inside them are never misread.
func lex(input string) ([]token, error) {
	var tokens []token
	i := 0
	n := len(input)

	emit := func(kind tokenKind, start, end int) {
		tokens = append(tokens, token{kind: kind, text: input[start:end], start: start, end: end})
	}

	for i < n {
		c := input[i]
		switch {
		case isSpace(c):
			i++

		case c == '-' && i+1 < n && input[i+1] == '-':
			start := i
			for i < n && input[i] != '\n' {
				i++
			}
			emit(tokenComment, start, i)

		case c == '/' && i+1 < n && input[i+1] == '*':
			start := i
			depth := 0
			for i < n {
				if input[i] == '/' && i+1 < n && input[i+1] == '*' {
					depth++
					i += 2
					continue
				}
				if input[i] == '*' && i+1 < n && input[i+1] == '/' {
					depth--
					i += 2
					if depth == 0 {
						break
					}
					continue
				}
				i++
			}
			if depth != 0 {
				return nil, fmt.Errorf("unterminated block comment at offset %d", start)
			}
			emit(tokenComment, start, i)

		case c == '\'':
			start := i
			i++
			closed := false
			for i < n {
				if input[i] == '\'' {
					if i+1 < n && input[i+1] == '\'' {
						i += 2
						continue
					}
					i++
					closed = true
					break
				}
				i++
			}
			if !closed {
				return nil, fmt.Errorf("unterminated string literal at offset %d", start)
			}
			emit(tokenString, start, i)

		case c == '"':
			start := i
			i++
			closed := false
			for i < n {
				if input[i] == '"' {
					if i+1 < n && input[i+1] == '"' {
						i += 2
						continue
					}
					i++
					closed = true
					break
				}
				i++
			}
			if !closed {
				return nil, fmt.Errorf("unterminated quoted identifier at offset %d", start)
			}
			emit(tokenQuotedIdent, start, i)

		case c == '$':
			if delim, ok := dollarQuoteDelimiter(input[i:]); ok {
				start := i
				rest := input[i+len(delim):]
				closing := strings.Index(rest, delim)
				if closing < 0 {
					return nil, fmt.Errorf("unterminated dollar-quoted string at offset %d", start)
				}
				i += len(delim) + closing + len(delim)
				emit(tokenString, start, i)
				break
			}
			emit(tokenOperator, i, i+1)
			i++

		case isDigit(c) || (c == '.' && i+1 < n && isDigit(input[i+1])):
			start := i
			for i < n && (isDigit(input[i]) || input[i] == '.' || input[i] == 'e' || input[i] == 'E' ||
				((input[i] == '+' || input[i] == '-') && i > start && (input[i-1] == 'e' || input[i-1] == 'E'))) {
				i++
			}
			emit(tokenNumber, start, i)

		case isWordStart(rune(c)):
			start := i
			for i < n && isWordPart(rune(input[i])) {
				i++
			}
			emit(tokenWord, start, i)

		case c == ';':
			emit(tokenSemicolon, i, i+1)
			i++
		case c == '(':
			emit(tokenLParen, i, i+1)
			i++
		case c == ')':
			emit(tokenRParen, i, i+1)
			i++
		case c == ',':
			emit(tokenComma, i, i+1)
			i++
		case c == '.':
			emit(tokenDot, i, i+1)
			i++

		default:
			if c >= 0x80 {
				// Multi-byte runes only appear in identifiers here; treat
				// them as word characters.
				start := i
				for i < n && (input[i] >= 0x80 || isWordPart(rune(input[i]))) {
					i++
				}
				emit(tokenWord, start, i)
				break
			}
			emit(tokenOperator, i, i+1)
			i++
		}
	}

	return tokens, nil
}

// dollarQuoteDelimiter reports whether the input opens a $tag$ delimiter.
// Positional parameters like $1 are not dollar quotes.
func dollarQuoteDelimiter(input string) (string, bool) {
	if len(input) < 2 || input[0] != '$' {
		return "", false
	}
	for i := 1; i < len(input); i++ {
		c := input[i]
		if c == '$' {
			return input[:i+1], true
		}
		if !isWordPart(rune(c)) || isDigit(c) && i == 1 {
			return "", false
		}
	}
	return "", false
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\v' || c == '\f'
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func isWordStart(r rune) bool {
	return r == '_' || unicode.IsLetter(r)
}

func isWordPart(r rune) bool {
	return r == '_' || r == '$' || unicode.IsLetter(r) || unicode.IsDigit(r)
}
