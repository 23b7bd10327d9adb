// Package filter parses errand search predicates and compiles them to SQL.
//
// A predicate is a boolean expression over errand and child fields:
//
//	caseType:'PARKING_PERMIT' and (stakeholders.lastName~'Ander*' or priority!'LOW')
//
// Operators are ':' (equals), '!' (not equals), '>', '>:' (at least), '<', '<:' (at most)
// and '~' (like, '*' matches any run of characters). 'and' binds tighter than 'or'.
package filter

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

type Op string

const (
	OpEq   Op = ":"
	OpNe   Op = "!"
	OpGt   Op = ">"
	OpGe   Op = ">:"
	OpLt   Op = "<"
	OpLe   Op = "<:"
	OpLike Op = "~"
)

type Node interface{ node() }

type Compare struct {
	Field string
	Op    Op
	Value any // string, int64 or bool
}

type And struct{ Left, Right Node }

type Or struct{ Left, Right Node }

type Not struct{ Inner Node }

func (Compare) node() {}
func (And) node()     {}
func (Or) node()      {}
func (Not) node()     {}

// SyntaxError reports a malformed predicate.
type SyntaxError struct {
	Pos int
	Msg string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("filter: %s at offset %d", e.Msg, e.Pos)
}

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokString
	tokNumber
	tokOp
	tokLParen
	tokRParen
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

func lex(src string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(src) {
		c := rune(src[i])
		switch {
		case unicode.IsSpace(c):
			i++
		case c == '(':
			toks = append(toks, token{tokLParen, "(", i})
			i++
		case c == ')':
			toks = append(toks, token{tokRParen, ")", i})
			i++
		case c == '\'':
			start := i
			i++
			var sb strings.Builder
			closed := false
			for i < len(src) {
				if src[i] == '\\' && i+1 < len(src) {
					sb.WriteByte(src[i+1])
					i += 2
					continue
				}
				if src[i] == '\'' {
					closed = true
					i++
					break
				}
				sb.WriteByte(src[i])
				i++
			}
			if !closed {
				return nil, &SyntaxError{Pos: start, Msg: "unterminated string"}
			}
			toks = append(toks, token{tokString, sb.String(), start})
		case c == ':' || c == '!' || c == '~':
			toks = append(toks, token{tokOp, string(c), i})
			i++
		case c == '>' || c == '<':
			if i+1 < len(src) && src[i+1] == ':' {
				toks = append(toks, token{tokOp, src[i : i+2], i})
				i += 2
			} else {
				toks = append(toks, token{tokOp, string(c), i})
				i++
			}
		case c == '-' || unicode.IsDigit(c):
			start := i
			i++
			for i < len(src) && unicode.IsDigit(rune(src[i])) {
				i++
			}
			if src[start:i] == "-" {
				return nil, &SyntaxError{Pos: start, Msg: "dangling '-'"}
			}
			toks = append(toks, token{tokNumber, src[start:i], start})
		case unicode.IsLetter(c) || c == '_':
			start := i
			for i < len(src) && (unicode.IsLetter(rune(src[i])) || unicode.IsDigit(rune(src[i])) || src[i] == '_' || src[i] == '.') {
				i++
			}
			toks = append(toks, token{tokIdent, src[start:i], start})
		default:
			return nil, &SyntaxError{Pos: i, Msg: fmt.Sprintf("unexpected character %q", c)}
		}
	}
	toks = append(toks, token{tokEOF, "", len(src)})
	return toks, nil
}

type parser struct {
	toks []token
	i    int
}

// Parse parses src. An empty or blank predicate yields a nil Node, which matches everything.
func Parse(src string) (Node, error) {
	if strings.TrimSpace(src) == "" {
		return nil, nil
	}
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	n, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tokEOF {
		return nil, &SyntaxError{Pos: t.pos, Msg: fmt.Sprintf("unexpected %q", t.text)}
	}
	return n, nil
}

func (p *parser) peek() token { return p.toks[p.i] }

func (p *parser) next() token {
	t := p.toks[p.i]
	if t.kind != tokEOF {
		p.i++
	}
	return t
}

func (p *parser) keyword(word string) bool {
	t := p.peek()
	if t.kind == tokIdent && strings.EqualFold(t.text, word) {
		p.i++
		return true
	}
	return false
}

func (p *parser) parseOr() (Node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.keyword("or") {
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = Or{Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (Node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.keyword("and") {
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = And{Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseUnary() (Node, error) {
	if p.keyword("not") {
		inner, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return Not{Inner: inner}, nil
	}
	if p.peek().kind == tokLParen {
		p.next()
		n, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if t := p.next(); t.kind != tokRParen {
			return nil, &SyntaxError{Pos: t.pos, Msg: "expected ')'"}
		}
		return n, nil
	}
	return p.parseCompare()
}

func (p *parser) parseCompare() (Node, error) {
	field := p.next()
	if field.kind != tokIdent {
		return nil, &SyntaxError{Pos: field.pos, Msg: "expected field name"}
	}
	op := p.next()
	if op.kind != tokOp {
		return nil, &SyntaxError{Pos: op.pos, Msg: fmt.Sprintf("expected operator after %s", field.text)}
	}
	val := p.next()
	var value any
	switch val.kind {
	case tokString:
		value = val.text
	case tokNumber:
		n, err := strconv.ParseInt(val.text, 10, 64)
		if err != nil {
			return nil, &SyntaxError{Pos: val.pos, Msg: "invalid number"}
		}
		value = n
	case tokIdent:
		switch strings.ToLower(val.text) {
		case "true":
			value = true
		case "false":
			value = false
		default:
			return nil, &SyntaxError{Pos: val.pos, Msg: fmt.Sprintf("unquoted value %q", val.text)}
		}
	default:
		return nil, &SyntaxError{Pos: val.pos, Msg: "expected value"}
	}
	return Compare{Field: field.text, Op: Op(op.text), Value: value}, nil
}
