// Package query translates free-text user queries into SQLite FTS5 match
// expressions.
package query

import (
	"fmt"
	"strings"
	"unicode"

	lru "github.com/hashicorp/golang-lru/v2"
)

// node is a parsed filter expression
type node interface {
	emit(b *strings.Builder)
}

// orNode joins alternatives with OR
type orNode struct{ children []node }

// andNode joins terms with the engine's implicit AND
type andNode struct{ children []node }

// phraseNode is a quoted literal phrase
type phraseNode struct{ text string }

// streakNode is a run of consecutive bare words
type streakNode struct{ words []string }

// groupNode is a parenthesized sub-expression
type groupNode struct{ inner node }

func (n orNode) emit(b *strings.Builder) {
	for i, c := range n.children {
		if i > 0 {
			b.WriteString(" OR ")
		}
		c.emit(b)
	}
}

func (n andNode) emit(b *strings.Builder) {
	for i, c := range n.children {
		if i > 0 {
			b.WriteByte(' ')
		}
		c.emit(b)
	}
}

func (n phraseNode) emit(b *strings.Builder) {
	b.WriteString(quote(n.text))
}

func (n groupNode) emit(b *strings.Builder) {
	b.WriteByte('(')
	n.inner.emit(b)
	b.WriteByte(')')
}

// A single word becomes a prefix term. Several words become their prefix
// terms ANDed together, ORed with the words concatenated as one phrase.
func (n streakNode) emit(b *strings.Builder) {
	b.WriteString(streak(n.words))
}

func streak(words []string) string {
	if len(words) == 1 {
		return prefix(words[0])
	}
	terms := make([]string, len(words))
	for i, w := range words {
		terms[i] = prefix(w)
	}
	return fmt.Sprintf("((%s) OR %s)", strings.Join(terms, " "), quote(strings.Join(words, "")))
}

// quote renders s as an FTS5 string, doubling embedded quotes
func quote(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func prefix(word string) string {
	return quote(word) + "*"
}

// searchable reports whether word contains any character the tokenizer keeps
func searchable(word string) bool {
	return strings.IndexFunc(word, func(r rune) bool {
		return unicode.IsLetter(r) || unicode.IsDigit(r)
	}) >= 0
}

// parser is a recursive-descent parser over the token stream:
//
//	expr   := term { OR term }
//	term   := factor { [AND] factor }
//	factor := phrase | word { word } | "(" expr ")"
type parser struct {
	tokens []token
	pos    int
}

func (p *parser) peek() (token, bool) {
	if p.pos >= len(p.tokens) {
		return token{}, false
	}
	return p.tokens[p.pos], true
}

func (p *parser) parseExpr() (node, error) {
	first, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	children := []node{first}
	for {
		tok, ok := p.peek()
		if !ok || tok.kind != tokOr {
			break
		}
		p.pos++
		next, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		children = append(children, next)
	}
	if len(children) == 1 {
		return first, nil
	}
	return orNode{children: children}, nil
}

func (p *parser) parseTerm() (node, error) {
	var children []node
	for {
		tok, ok := p.peek()
		if !ok || tok.kind == tokOr || tok.kind == tokRParen {
			break
		}
		if tok.kind == tokAnd {
			if len(children) == 0 {
				return nil, ErrDanglingOperator
			}
			p.pos++
			if next, ok := p.peek(); !ok || next.kind == tokOr || next.kind == tokAnd || next.kind == tokRParen {
				return nil, ErrDanglingOperator
			}
			continue
		}
		n, err := p.parseFactor()
		if err != nil {
			return nil, err
		}
		if n != nil {
			children = append(children, n)
		}
	}
	if len(children) == 0 {
		if tok, ok := p.peek(); ok && tok.kind == tokRParen {
			return nil, ErrUnbalancedParens
		}
		return nil, ErrDanglingOperator
	}
	if len(children) == 1 {
		return children[0], nil
	}
	return andNode{children: children}, nil
}

// parseFactor returns nil for words or phrases the tokenizer would drop
func (p *parser) parseFactor() (node, error) {
	tok, _ := p.peek()
	switch tok.kind {
	case tokPhrase:
		p.pos++
		if !searchable(tok.text) {
			return nil, nil
		}
		return phraseNode{text: tok.text}, nil
	case tokLParen:
		p.pos++
		inner, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if closing, ok := p.peek(); !ok || closing.kind != tokRParen {
			return nil, ErrUnbalancedParens
		}
		p.pos++
		return groupNode{inner: inner}, nil
	case tokWord:
		var words []string
		for {
			w, ok := p.peek()
			if !ok || w.kind != tokWord {
				break
			}
			p.pos++
			if searchable(w.text) {
				words = append(words, w.text)
			}
		}
		if len(words) == 0 {
			return nil, nil
		}
		return streakNode{words: words}, nil
	default:
		return nil, fmt.Errorf("unexpected %s", tok.kind)
	}
}

// Parse translates q as a filter expression, returning an error when q is
// not a well-formed expression. An empty query yields an empty expression.
func Parse(q string) (string, error) {
	tokens, err := lex(q)
	if err != nil {
		return "", err
	}
	if len(tokens) == 0 {
		return "", nil
	}

	p := &parser{tokens: tokens}
	root, err := p.parseExpr()
	if err != nil {
		return "", err
	}
	if p.pos != len(p.tokens) {
		return "", ErrUnbalancedParens
	}

	var b strings.Builder
	root.emit(&b)
	return b.String(), nil
}

// Fallback translates q without interpreting any syntax: every
// whitespace-separated word becomes a prefix term, ORed against the whole
// query with whitespace removed as one literal phrase.
func Fallback(q string) string {
	var words []string
	for _, w := range strings.Fields(q) {
		if searchable(w) {
			words = append(words, w)
		}
	}
	if len(words) == 0 {
		return ""
	}
	return streak(words)
}

// Translate converts a free-text user query into an FTS5 match expression.
// Queries that are not well-formed filter expressions use Fallback. An
// empty or blank query translates to "", which matches nothing.
func Translate(q string) string {
	expr, err := Parse(q)
	if err != nil {
		return Fallback(q)
	}
	return expr
}

// Cache memoizes Translate. It is safe for concurrent use.
type Cache struct {
	lru *lru.Cache[string, string]
}

// DefaultCacheSize is the number of translations a Cache retains
const DefaultCacheSize = 256

// NewCache creates a translation cache holding up to size entries
func NewCache(size int) (*Cache, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	c, err := lru.New[string, string](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create LRU cache: %w", err)
	}
	return &Cache{lru: c}, nil
}

// Translate returns the memoized translation of q
func (c *Cache) Translate(q string) string {
	if expr, ok := c.lru.Get(q); ok {
		return expr
	}
	expr := Translate(q)
	c.lru.Add(q, expr)
	return expr
}

// Len returns the number of memoized translations
func (c *Cache) Len() int {
	return c.lru.Len()
}
