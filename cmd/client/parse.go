package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/tuannm99/novats/internal/predicate"
	"github.com/tuannm99/novats/server/ntswire"
)

var errSyntax = errors.New("syntax error")

type cmdKind int

const (
	cmdTables cmdKind = iota + 1
	cmdCreate
	cmdDrop
	cmdInsert
	cmdDelete
	cmdSelect
	cmdFlush
	cmdFlushAll
	cmdCompact
	cmdReset
)

// command is one parsed REPL line.
type command struct {
	kind    cmdKind
	table   string
	columns []ntswire.ColumnDef
	ts      any
	values  []any
	sel     []string
	where   predicate.Expr
}

type tokKind int

const (
	tokWord tokKind = iota + 1
	tokString
	tokOp
	tokPunct
)

type token struct {
	kind tokKind
	text string
}

func (t token) is(word string) bool {
	return t.kind == tokWord && strings.EqualFold(t.text, word)
}

func tokenize(s string) ([]token, error) {
	var toks []token
	rs := []rune(s)
	for i := 0; i < len(rs); {
		r := rs[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '\'' || r == '"':
			var b strings.Builder
			j := i + 1
			for ; j < len(rs); j++ {
				if rs[j] == '\\' && j+1 < len(rs) {
					j++
					b.WriteRune(rs[j])
					continue
				}
				if rs[j] == r {
					break
				}
				b.WriteRune(rs[j])
			}
			if j >= len(rs) {
				return nil, fmt.Errorf("%w: unterminated string", errSyntax)
			}
			toks = append(toks, token{tokString, b.String()})
			i = j + 1
		case strings.ContainsRune("=!<>", r):
			j := i + 1
			if j < len(rs) && strings.ContainsRune("=>", rs[j]) {
				j++
			}
			toks = append(toks, token{tokOp, string(rs[i:j])})
			i = j
		case strings.ContainsRune(",()*", r):
			toks = append(toks, token{tokPunct, string(r)})
			i++
		default:
			j := i
			for j < len(rs) && !unicode.IsSpace(rs[j]) && !strings.ContainsRune("'\"=!<>,()*", rs[j]) {
				j++
			}
			toks = append(toks, token{tokWord, string(rs[i:j])})
			i = j
		}
	}
	return toks, nil
}

type parser struct {
	toks []token
	pos  int
}

func (p *parser) done() bool { return p.pos >= len(p.toks) }

func (p *parser) peek() token {
	if p.done() {
		return token{}
	}
	return p.toks[p.pos]
}

func (p *parser) next() (token, error) {
	if p.done() {
		return token{}, fmt.Errorf("%w: unexpected end of input", errSyntax)
	}
	t := p.toks[p.pos]
	p.pos++
	return t, nil
}

func (p *parser) word() (string, error) {
	t, err := p.next()
	if err != nil {
		return "", err
	}
	if t.kind != tokWord {
		return "", fmt.Errorf("%w: expected a name, got %q", errSyntax, t.text)
	}
	return t.text, nil
}

func (p *parser) expectWord(w string) error {
	t, err := p.next()
	if err != nil {
		return err
	}
	if !t.is(w) {
		return fmt.Errorf("%w: expected %q, got %q", errSyntax, w, t.text)
	}
	return nil
}

func (p *parser) accept(kind tokKind, text string) bool {
	t := p.peek()
	if t.kind == kind && strings.EqualFold(t.text, text) {
		p.pos++
		return true
	}
	return false
}

func (p *parser) end() error {
	if !p.done() {
		return fmt.Errorf("%w: unexpected %q", errSyntax, p.peek().text)
	}
	return nil
}

// literal converts a value token: numbers travel as JSON numbers, null is
// NULL, true/false are bools and quoted text stays a string.
func literal(t token) (any, error) {
	switch t.kind {
	case tokString:
		return t.text, nil
	case tokWord:
		switch strings.ToLower(t.text) {
		case "null":
			return nil, nil
		case "true":
			return true, nil
		case "false":
			return false, nil
		}
		if _, err := strconv.ParseFloat(t.text, 64); err == nil {
			return json.Number(t.text), nil
		}
		// bare words are text
		return t.text, nil
	}
	return nil, fmt.Errorf("%w: expected a value, got %q", errSyntax, t.text)
}

// parseCommand parses one REPL statement. A trailing ';' is optional.
func parseCommand(line string) (*command, error) {
	line = strings.TrimSuffix(strings.TrimSpace(line), ";")
	toks, err := tokenize(line)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	head, err := p.word()
	if err != nil {
		return nil, err
	}

	var cmd *command
	switch strings.ToLower(head) {
	case "tables":
		cmd = &command{kind: cmdTables}
	case "reset":
		cmd = &command{kind: cmdReset}
	case "create":
		cmd, err = p.create()
	case "drop", "compact":
		kind := cmdDrop
		if strings.EqualFold(head, "compact") {
			kind = cmdCompact
		}
		p.accept(tokWord, "table")
		cmd = &command{kind: kind}
		cmd.table, err = p.word()
	case "flush":
		cmd = &command{kind: cmdFlushAll}
		if !p.done() && !p.accept(tokWord, "all") {
			cmd.kind = cmdFlush
			cmd.table, err = p.word()
		}
	case "insert":
		cmd, err = p.insert()
	case "delete":
		cmd, err = p.delete()
	case "select":
		cmd, err = p.selectCmd()
	default:
		return nil, fmt.Errorf("%w: unknown command %q", errSyntax, head)
	}
	if err != nil {
		return nil, err
	}
	if err := p.end(); err != nil {
		return nil, err
	}
	return cmd, nil
}

// create <table> [(] <col> <type> [not null], ... [)]
func (p *parser) create() (*command, error) {
	p.accept(tokWord, "table")
	name, err := p.word()
	if err != nil {
		return nil, err
	}
	cmd := &command{kind: cmdCreate, table: name}
	paren := p.accept(tokPunct, "(")
	for {
		col, err := p.word()
		if err != nil {
			return nil, err
		}
		// type names may span words ("int unsigned") and carry "(n)"
		var typ []string
		for !p.done() {
			t := p.peek()
			if t.is("not") || (t.kind == tokPunct && t.text != "(") {
				break
			}
			if t.kind == tokPunct {
				if len(typ) == 0 {
					return nil, fmt.Errorf("%w: length before type in column %q", errSyntax, col)
				}
				p.pos++
				n, err := p.word()
				if err != nil {
					return nil, err
				}
				if !p.accept(tokPunct, ")") {
					return nil, fmt.Errorf("%w: expected ')' after length", errSyntax)
				}
				typ[len(typ)-1] += "(" + n + ")"
				continue
			}
			if t.kind != tokWord {
				return nil, fmt.Errorf("%w: unexpected %q in column %q", errSyntax, t.text, col)
			}
			typ = append(typ, t.text)
			p.pos++
		}
		if len(typ) == 0 {
			return nil, fmt.Errorf("%w: column %q has no type", errSyntax, col)
		}
		def := ntswire.ColumnDef{Name: col, Type: strings.Join(typ, " ")}
		if p.accept(tokWord, "not") {
			if err := p.expectWord("null"); err != nil {
				return nil, err
			}
			def.NotNull = true
		}
		cmd.columns = append(cmd.columns, def)
		if !p.accept(tokPunct, ",") {
			break
		}
	}
	if paren && !p.accept(tokPunct, ")") {
		return nil, fmt.Errorf("%w: missing ')'", errSyntax)
	}
	return cmd, nil
}

// insert [into] <table> <ts> <value>...
func (p *parser) insert() (*command, error) {
	p.accept(tokWord, "into")
	name, err := p.word()
	if err != nil {
		return nil, err
	}
	cmd := &command{kind: cmdInsert, table: name}
	first := true
	for !p.done() {
		t, _ := p.next()
		if t.kind == tokPunct && (t.text == "," || t.text == "(" || t.text == ")") {
			continue
		}
		v, err := literal(t)
		if err != nil {
			return nil, err
		}
		if first {
			cmd.ts, first = v, false
			continue
		}
		cmd.values = append(cmd.values, v)
	}
	if first {
		return nil, fmt.Errorf("%w: insert needs a timestamp", errSyntax)
	}
	return cmd, nil
}

// delete [from] <table> [where <expr>]
func (p *parser) delete() (*command, error) {
	p.accept(tokWord, "from")
	name, err := p.word()
	if err != nil {
		return nil, err
	}
	cmd := &command{kind: cmdDelete, table: name}
	if p.accept(tokWord, "where") {
		if cmd.where, err = p.or(); err != nil {
			return nil, err
		}
	}
	return cmd, nil
}

// select <*|col, ...> from <table> [where <expr>]
func (p *parser) selectCmd() (*command, error) {
	cmd := &command{kind: cmdSelect}
	if !p.accept(tokPunct, "*") {
		for {
			col, err := p.word()
			if err != nil {
				return nil, err
			}
			cmd.sel = append(cmd.sel, col)
			if !p.accept(tokPunct, ",") {
				break
			}
		}
	}
	if err := p.expectWord("from"); err != nil {
		return nil, err
	}
	var err error
	if cmd.table, err = p.word(); err != nil {
		return nil, err
	}
	if p.accept(tokWord, "where") {
		if cmd.where, err = p.or(); err != nil {
			return nil, err
		}
	}
	return cmd, nil
}

func (p *parser) or() (predicate.Expr, error) {
	left, err := p.and()
	if err != nil {
		return nil, err
	}
	for p.accept(tokWord, "or") {
		right, err := p.and()
		if err != nil {
			return nil, err
		}
		left = &predicate.Or{Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) and() (predicate.Expr, error) {
	left, err := p.cmp()
	if err != nil {
		return nil, err
	}
	for p.accept(tokWord, "and") {
		right, err := p.cmp()
		if err != nil {
			return nil, err
		}
		left = &predicate.And{Left: left, Right: right}
	}
	return left, nil
}

// cmp is "(expr)", "col op value" or "col between lo and hi".
func (p *parser) cmp() (predicate.Expr, error) {
	if p.accept(tokPunct, "(") {
		e, err := p.or()
		if err != nil {
			return nil, err
		}
		if !p.accept(tokPunct, ")") {
			return nil, fmt.Errorf("%w: missing ')'", errSyntax)
		}
		return e, nil
	}
	col, err := p.word()
	if err != nil {
		return nil, err
	}
	if p.accept(tokWord, "between") {
		lo, err := p.value()
		if err != nil {
			return nil, err
		}
		if err := p.expectWord("and"); err != nil {
			return nil, err
		}
		hi, err := p.value()
		if err != nil {
			return nil, err
		}
		return &predicate.And{
			Left:  &predicate.Cmp{Column: col, Op: predicate.OpGe, Value: lo},
			Right: &predicate.Cmp{Column: col, Op: predicate.OpLe, Value: hi},
		}, nil
	}
	t, err := p.next()
	if err != nil {
		return nil, err
	}
	if t.kind != tokOp {
		return nil, fmt.Errorf("%w: expected an operator after %q, got %q", errSyntax, col, t.text)
	}
	op, err := predicate.ParseOp(t.text)
	if err != nil {
		return nil, err
	}
	v, err := p.value()
	if err != nil {
		return nil, err
	}
	return &predicate.Cmp{Column: col, Op: op, Value: v}, nil
}

func (p *parser) value() (any, error) {
	t, err := p.next()
	if err != nil {
		return nil, err
	}
	return literal(t)
}
