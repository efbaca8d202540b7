package query

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

var (
	// ErrUnterminatedPhrase is returned when a quoted phrase has no closing quote
	ErrUnterminatedPhrase = errors.New("unterminated quoted phrase")
	// ErrUnbalancedParens is returned for a missing or unexpected parenthesis
	ErrUnbalancedParens = errors.New("unbalanced parentheses")
	// ErrDanglingOperator is returned when AND/OR lacks an operand
	ErrDanglingOperator = errors.New("operator without operand")
	// ErrEmptyPhrase is returned for "" in the input
	ErrEmptyPhrase = errors.New("empty quoted phrase")
)

type tokenKind int

const (
	tokWord tokenKind = iota
	tokPhrase
	tokAnd
	tokOr
	tokLParen
	tokRParen
)

func (k tokenKind) String() string {
	switch k {
	case tokWord:
		return "word"
	case tokPhrase:
		return "phrase"
	case tokAnd:
		return "AND"
	case tokOr:
		return "OR"
	case tokLParen:
		return "("
	case tokRParen:
		return ")"
	default:
		return fmt.Sprintf("token(%d)", int(k))
	}
}

type token struct {
	kind tokenKind
	text string
}

// lex splits a filter expression into tokens. Quoted phrases, parentheses,
// AND (also && and &) and OR (also || and |) are recognized; everything else
// separated by whitespace is a bare word.
func lex(input string) ([]token, error) {
	var tokens []token
	runes := []rune(input)

	for i := 0; i < len(runes); {
		r := runes[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '"':
			end := i + 1
			for end < len(runes) && runes[end] != '"' {
				end++
			}
			if end >= len(runes) {
				return nil, ErrUnterminatedPhrase
			}
			phrase := strings.TrimSpace(string(runes[i+1 : end]))
			if phrase == "" {
				return nil, ErrEmptyPhrase
			}
			tokens = append(tokens, token{kind: tokPhrase, text: phrase})
			i = end + 1
		case r == '(':
			tokens = append(tokens, token{kind: tokLParen, text: "("})
			i++
		case r == ')':
			tokens = append(tokens, token{kind: tokRParen, text: ")"})
			i++
		case r == '&' || r == '|':
			kind := tokAnd
			if r == '|' {
				kind = tokOr
			}
			end := i + 1
			if end < len(runes) && runes[end] == r {
				end++
			}
			tokens = append(tokens, token{kind: kind, text: string(runes[i:end])})
			i = end
		default:
			end := i
			for end < len(runes) && !isDelimiter(runes[end]) {
				end++
			}
			word := string(runes[i:end])
			switch word {
			case "AND":
				tokens = append(tokens, token{kind: tokAnd, text: word})
			case "OR":
				tokens = append(tokens, token{kind: tokOr, text: word})
			default:
				tokens = append(tokens, token{kind: tokWord, text: word})
			}
			i = end
		}
	}
	return tokens, nil
}

func isDelimiter(r rune) bool {
	return unicode.IsSpace(r) || r == '"' || r == '(' || r == ')' || r == '&' || r == '|'
}
