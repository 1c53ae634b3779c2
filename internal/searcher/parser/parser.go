package parser

import (
	"strconv"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/segment-search/internal/indexer/tokenizer"
)

// maxDepth bounds parenthesis nesting.
const maxDepth = 64

// Options configures Parse.
type Options struct {
	Tokenizer tokenizer.Tokenizer
	// Columns are the names accepted in "column:term" filters.
	Columns []string
	// DefaultColumn restricts unqualified phrases; AllColumns by default.
	DefaultColumn int
	// NearDefault is the distance of a bare NEAR.
	NearDefault int
}

// DefaultOptions returns options using the default tokenizer and no named
// columns.
func DefaultOptions() Options {
	return Options{
		Tokenizer:     tokenizer.Default(),
		DefaultColumn: AllColumns,
		NearDefault:   DefaultNear,
	}
}

type lexKind int

const (
	lexEOF lexKind = iota
	lexPhrase
	lexLParen
	lexRParen
	lexAnd
	lexOr
	lexNot
	lexNear
)

type lexeme struct {
	kind    lexKind
	offset  int
	text    string
	phrase  *Phrase
	negated bool
	near    int
}

type parser struct {
	query   string
	opts    Options
	lexemes []lexeme
	pos     int
	phrases int
	depth   int
}

// Parse builds the expression tree of query.
func Parse(query string, opts Options) (*Expr, error) {
	if opts.Tokenizer == nil {
		opts.Tokenizer = tokenizer.Default()
	}
	if opts.NearDefault <= 0 {
		opts.NearDefault = DefaultNear
	}
	p := &parser{query: query, opts: opts}
	if err := p.lex(); err != nil {
		return nil, err
	}
	if len(p.lexemes) == 1 {
		return nil, p.errorf(0, "", "empty query")
	}
	expr, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if l := p.peek(); l.kind == lexRParen {
		return nil, p.errorAt(l, "unbalanced parenthesis")
	} else if l.kind != lexEOF {
		return nil, p.errorAt(l, "unexpected input")
	}
	return expr, nil
}

func (p *parser) errorf(offset int, fragment, reason string) *SyntaxError {
	return &SyntaxError{Query: p.query, Offset: offset, Fragment: fragment, Reason: reason}
}

func (p *parser) errorAt(l lexeme, reason string) *SyntaxError {
	frag := l.text
	if l.kind == lexEOF {
		frag = ""
	}
	return p.errorf(l.offset, frag, reason)
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

func (p *parser) lex() error {
	q := p.query
	i := 0
	for {
		for i < len(q) && isSpace(q[i]) {
			i++
		}
		if i >= len(q) {
			p.lexemes = append(p.lexemes, lexeme{kind: lexEOF, offset: len(q)})
			return nil
		}
		start := i
		switch q[i] {
		case '(':
			p.lexemes = append(p.lexemes, lexeme{kind: lexLParen, offset: i, text: "("})
			i++
			continue
		case ')':
			p.lexemes = append(p.lexemes, lexeme{kind: lexRParen, offset: i, text: ")"})
			i++
			continue
		}

		negated := false
		if q[i] == '-' && i+1 < len(q) && !isSpace(q[i+1]) && q[i+1] != ')' {
			negated = true
			i++
		}

		column := p.opts.DefaultColumn
		qualified := false
		if c, n, ok := p.columnPrefix(q[i:]); ok {
			column, qualified = c, true
			i += n
		}

		var text string
		if i < len(q) && q[i] == '"' {
			end := strings.IndexByte(q[i+1:], '"')
			if end < 0 {
				return p.errorf(i, q[i:], "unterminated quoted phrase")
			}
			text = q[i+1 : i+1+end]
			i += end + 2
			if i < len(q) && q[i] == '*' {
				text += "*"
				i++
			}
		} else {
			j := i
			for j < len(q) && !isSpace(q[j]) && q[j] != '(' && q[j] != ')' && q[j] != '"' {
				j++
			}
			text = q[i:j]
			i = j
			if !negated && !qualified {
				if l, ok, err := p.keyword(text, start); err != nil {
					return err
				} else if ok {
					p.lexemes = append(p.lexemes, l)
					continue
				}
			}
		}

		phrase, err := p.phrase(text, column, start, q[start:i])
		if err != nil {
			return err
		}
		p.lexemes = append(p.lexemes, lexeme{
			kind:    lexPhrase,
			offset:  start,
			text:    q[start:i],
			phrase:  phrase,
			negated: negated,
		})
	}
}

// columnPrefix recognizes "name:" for a configured column name.
func (p *parser) columnPrefix(s string) (int, int, bool) {
	colon := strings.IndexByte(s, ':')
	if colon <= 0 {
		return 0, 0, false
	}
	name := s[:colon]
	for i, col := range p.opts.Columns {
		if strings.EqualFold(col, name) {
			return i, colon + 1, true
		}
	}
	return 0, 0, false
}

func (p *parser) keyword(text string, offset int) (lexeme, bool, error) {
	l := lexeme{offset: offset, text: text}
	switch {
	case text == "AND":
		l.kind = lexAnd
	case text == "OR":
		l.kind = lexOr
	case text == "NOT":
		l.kind = lexNot
	case text == "NEAR":
		l.kind = lexNear
		l.near = p.opts.NearDefault
	case strings.HasPrefix(text, "NEAR/"):
		n, err := strconv.Atoi(text[len("NEAR/"):])
		if err != nil || n < 0 {
			return l, false, p.errorf(offset, text, "NEAR distance must be a non-negative integer")
		}
		l.kind = lexNear
		l.near = n
	default:
		return l, false, nil
	}
	return l, true, nil
}

func (p *parser) phrase(text string, column, offset int, fragment string) (*Phrase, error) {
	prefix := false
	trimmed := strings.TrimRight(text, " \t")
	if strings.HasSuffix(trimmed, "*") {
		prefix = true
		trimmed = strings.TrimRight(trimmed, "*")
	}
	ph := &Phrase{Column: column}
	for tok := range p.opts.Tokenizer.Tokens(trimmed) {
		ph.Tokens = append(ph.Tokens, Token{Term: tok.Term})
	}
	if len(ph.Tokens) == 0 {
		return nil, p.errorf(offset, fragment, "no searchable terms")
	}
	ph.Tokens[len(ph.Tokens)-1].Prefix = prefix
	return ph, nil
}

func (p *parser) peek() lexeme { return p.lexemes[p.pos] }

func (p *parser) next() lexeme {
	l := p.lexemes[p.pos]
	if l.kind != lexEOF {
		p.pos++
	}
	return l
}

func (p *parser) newPhrase(l lexeme) *Expr {
	l.phrase.ID = p.phrases
	p.phrases++
	return &Expr{Op: OpPhrase, Phrase: l.phrase}
}

func (p *parser) parseOr() (*Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == lexOr {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &Expr{Op: OpOr, Left: left, Right: right}
	}
	return left, nil
}

// parseAnd collects implicitly or explicitly ANDed operands. Negated phrases
// at this level are subtracted from the conjunction of the others.
func (p *parser) parseAnd() (*Expr, error) {
	var result *Expr
	var negatives []*Expr
	for {
		l := p.peek()
		switch l.kind {
		case lexEOF, lexRParen, lexOr:
			if result == nil && negatives == nil {
				return nil, p.errorAt(l, "expected a term")
			}
			for _, neg := range negatives {
				result = &Expr{Op: OpNot, Left: result, Right: neg}
			}
			return result, nil
		case lexAnd:
			p.next()
			if result == nil && negatives == nil {
				return nil, p.errorAt(l, "AND needs a left operand")
			}
			if k := p.peek().kind; k == lexEOF || k == lexRParen || k == lexOr || k == lexAnd {
				return nil, p.errorAt(l, "AND needs a right operand")
			}
			continue
		case lexPhrase:
			if l.negated {
				p.next()
				negatives = append(negatives, p.newPhrase(l))
				continue
			}
		}
		operand, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		if result == nil {
			result = operand
		} else {
			result = &Expr{Op: OpAnd, Left: result, Right: operand}
		}
	}
}

func (p *parser) parseNot() (*Expr, error) {
	left, err := p.parseNear()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == lexNot {
		p.next()
		right, err := p.parseNear()
		if err != nil {
			return nil, err
		}
		left = &Expr{Op: OpNot, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseNear() (*Expr, error) {
	left, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == lexNear {
		op := p.next()
		if left.Op != OpPhrase && left.Op != OpNear {
			return nil, p.errorAt(op, "NEAR operands must be phrases")
		}
		right, err := p.parsePrimary()
		if err != nil {
			return nil, err
		}
		if right.Op != OpPhrase {
			return nil, p.errorAt(op, "NEAR operands must be phrases")
		}
		left = &Expr{Op: OpNear, Near: op.near, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parsePrimary() (*Expr, error) {
	l := p.next()
	switch l.kind {
	case lexPhrase:
		if l.negated {
			return nil, p.errorAt(l, "negated phrase not allowed here")
		}
		return p.newPhrase(l), nil
	case lexLParen:
		p.depth++
		if p.depth > maxDepth {
			return nil, p.errorAt(l, "parentheses nested too deeply")
		}
		expr, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if r := p.next(); r.kind != lexRParen {
			return nil, p.errorAt(l, "unbalanced parenthesis")
		}
		p.depth--
		return expr, nil
	case lexEOF:
		return nil, p.errorAt(l, "unexpected end of query")
	case lexRParen:
		return nil, p.errorAt(l, "unbalanced parenthesis")
	}
	return nil, p.errorAt(l, "operator needs a left operand")
}
