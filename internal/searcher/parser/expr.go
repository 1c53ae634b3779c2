// Package parser turns a full-text query string into an expression tree of
// phrases combined with NEAR, NOT, AND and OR.
package parser

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	apperrors "github.com/Adithya-Monish-Kumar-K/segment-search/pkg/errors"
)

// Op is the kind of an Expr node.
type Op int

const (
	OpPhrase Op = iota + 1
	OpNear
	OpNot
	OpAnd
	OpOr
)

func (o Op) String() string {
	switch o {
	case OpPhrase:
		return "PHRASE"
	case OpNear:
		return "NEAR"
	case OpNot:
		return "NOT"
	case OpAnd:
		return "AND"
	case OpOr:
		return "OR"
	}
	return "Op(" + strconv.Itoa(int(o)) + ")"
}

// AllColumns is the Phrase.Column value that matches any column.
const AllColumns = -1

// DefaultNear is the distance used by a bare NEAR.
const DefaultNear = 10

// Token is one term of a phrase. A prefix token matches every term that
// starts with Term.
type Token struct {
	Term   string
	Prefix bool
}

// Phrase is a run of tokens that must appear at consecutive positions.
type Phrase struct {
	ID     int
	Tokens []Token
	Column int
}

// Expr is a node of the query tree. Phrase is set for OpPhrase, Near for
// OpNear. A NOT node with a nil Left matches every document not matched by
// Right.
type Expr struct {
	Op     Op
	Phrase *Phrase
	Near   int
	Left   *Expr
	Right  *Expr
}

// Phrases returns the phrases of the tree ordered by ID.
func (e *Expr) Phrases() []*Phrase {
	var out []*Phrase
	stack := []*Expr{e}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if n == nil {
			continue
		}
		if n.Op == OpPhrase {
			out = append(out, n.Phrase)
			continue
		}
		stack = append(stack, n.Right, n.Left)
	}
	slices.SortFunc(out, func(a, b *Phrase) int { return a.ID - b.ID })
	return out
}

// String renders the tree with explicit parentheses.
func (e *Expr) String() string {
	var b strings.Builder
	e.write(&b)
	return b.String()
}

func (e *Expr) write(b *strings.Builder) {
	switch e.Op {
	case OpPhrase:
		if e.Phrase.Column >= 0 {
			fmt.Fprintf(b, "%d:", e.Phrase.Column)
		}
		b.WriteByte('"')
		for i, t := range e.Phrase.Tokens {
			if i > 0 {
				b.WriteByte(' ')
			}
			b.WriteString(t.Term)
			if t.Prefix {
				b.WriteByte('*')
			}
		}
		b.WriteByte('"')
	case OpNot:
		b.WriteByte('(')
		if e.Left != nil {
			e.Left.write(b)
			b.WriteByte(' ')
		}
		b.WriteString("NOT ")
		e.Right.write(b)
		b.WriteByte(')')
	default:
		b.WriteByte('(')
		e.Left.write(b)
		if e.Op == OpNear {
			fmt.Fprintf(b, " NEAR/%d ", e.Near)
		} else {
			fmt.Fprintf(b, " %s ", e.Op)
		}
		e.Right.write(b)
		b.WriteByte(')')
	}
}

// SyntaxError reports a malformed query.
type SyntaxError struct {
	Query    string
	Offset   int
	Fragment string
	Reason   string
}

func (e *SyntaxError) Error() string {
	if e.Fragment == "" {
		return fmt.Sprintf("query syntax error at offset %d: %s", e.Offset, e.Reason)
	}
	return fmt.Sprintf("query syntax error near %q at offset %d: %s", e.Fragment, e.Offset, e.Reason)
}

func (e *SyntaxError) Unwrap() error { return apperrors.ErrSyntax }
