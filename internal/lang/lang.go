// Package lang implements a minimal recursive-descent parser for the
// surface scripting language described in spec.md §6. The language and its
// tokenizer are explicitly out of core scope; this parser exists only so
// the seed tests in spec.md §8 can be written end-to-end against source
// text instead of hand-built IR. It accepts the documented grammar and
// nothing more.
package lang

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/nanoforge/nanoforge/internal/ir"
	"github.com/nanoforge/nanoforge/internal/nferrors"
)

// tokKind enumerates lexical token classes.
type tokKind uint8

const (
	tokEOF tokKind = iota
	tokIdent
	tokNumber
	tokSymbol
	tokKeyword
)

type token struct {
	kind tokKind
	text string
}

var keywords = map[string]bool{
	"fn": true, "return": true, "label": true, "goto": true,
	"if": true, "while": true, "for": true, "free": true, "alloc": true,
}

// lexer splits source into tokens, dropping whitespace and `#…\n` comments.
type lexer struct {
	src []rune
	pos int
}

func newLexer(src string) *lexer { return &lexer{src: []rune(src)} }

func (l *lexer) peekRune() rune {
	if l.pos >= len(l.src) {
		return 0
	}
	return l.src[l.pos]
}

func (l *lexer) skipTrivia() {
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			l.pos++
		case c == '#':
			for l.pos < len(l.src) && l.src[l.pos] != '\n' {
				l.pos++
			}
		default:
			return
		}
	}
}

func isIdentStart(c rune) bool { return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') }
func isIdentPart(c rune) bool  { return isIdentStart(c) || (c >= '0' && c <= '9') }
func isDigit(c rune) bool      { return c >= '0' && c <= '9' }

var multiCharSymbols = []string{"==", "!=", "<=", ">="}

func (l *lexer) next() (token, error) {
	l.skipTrivia()
	if l.pos >= len(l.src) {
		return token{kind: tokEOF}, nil
	}
	c := l.src[l.pos]

	if isIdentStart(c) {
		start := l.pos
		for l.pos < len(l.src) && isIdentPart(l.src[l.pos]) {
			l.pos++
		}
		text := string(l.src[start:l.pos])
		if keywords[text] {
			return token{kind: tokKeyword, text: text}, nil
		}
		return token{kind: tokIdent, text: text}, nil
	}

	if isDigit(c) || (c == '-' && l.pos+1 < len(l.src) && isDigit(l.src[l.pos+1])) {
		start := l.pos
		l.pos++
		for l.pos < len(l.src) && isDigit(l.src[l.pos]) {
			l.pos++
		}
		return token{kind: tokNumber, text: string(l.src[start:l.pos])}, nil
	}

	rest := string(l.src[l.pos:])
	for _, sym := range multiCharSymbols {
		if strings.HasPrefix(rest, sym) {
			l.pos += len(sym)
			return token{kind: tokSymbol, text: sym}, nil
		}
	}

	l.pos++
	switch c {
	case '(', ')', '{', '}', '[', ']', ';', ',', '=', '+', '-', '*', '<', '>':
		return token{kind: tokSymbol, text: string(c)}, nil
	default:
		return token{}, nferrors.New(nferrors.ParseError, "unexpected character %q at offset %d", c, l.pos-1)
	}
}

// parser consumes a flat token stream and builds an ir.Program.
type parser struct {
	toks []token
	pos  int
}

func tokenize(src string) ([]token, error) {
	lx := newLexer(src)
	var toks []token
	for {
		t, err := lx.next()
		if err != nil {
			return nil, err
		}
		toks = append(toks, t)
		if t.kind == tokEOF {
			return toks, nil
		}
	}
}

// Parse compiles source text in the spec.md §6 surface language into an
// ir.Program. Every error returned is a *nferrors.Error with Kind
// ParseError.
func Parse(src string) (*ir.Program, error) {
	toks, err := tokenize(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	prog := ir.NewProgram()
	for p.cur().kind != tokEOF {
		fn, err := p.parseFunction()
		if err != nil {
			return nil, err
		}
		prog.AddFunction(fn)
	}
	if _, ok := prog.Entry(); !ok {
		return nil, nferrors.New(nferrors.ParseError, "program has no `main` function")
	}
	return prog, nil
}

func (p *parser) cur() token {
	if p.pos >= len(p.toks) {
		return token{kind: tokEOF}
	}
	return p.toks[p.pos]
}

func (p *parser) advance() token {
	t := p.cur()
	if p.pos < len(p.toks) {
		p.pos++
	}
	return t
}

func (p *parser) expectSymbol(sym string) error {
	t := p.cur()
	if t.kind != tokSymbol || t.text != sym {
		return nferrors.New(nferrors.ParseError, "expected %q, got %q", sym, t.text)
	}
	p.advance()
	return nil
}

func (p *parser) expectKeyword(kw string) error {
	t := p.cur()
	if t.kind != tokKeyword || t.text != kw {
		return nferrors.New(nferrors.ParseError, "expected keyword %q, got %q", kw, t.text)
	}
	p.advance()
	return nil
}

func (p *parser) expectIdent() (string, error) {
	t := p.cur()
	if t.kind != tokIdent {
		return "", nferrors.New(nferrors.ParseError, "expected identifier, got %q", t.text)
	}
	p.advance()
	return t.text, nil
}

// fnScope tracks the virtual-register assignment for named values within
// one function body, and the instruction list under construction.
type fnScope struct {
	fn      *ir.Function
	regs    map[string]uint8
	nextReg uint8
}

func (s *fnScope) regFor(name string) ir.Operand {
	if id, ok := s.regs[name]; ok {
		return ir.Reg(id)
	}
	id := s.nextReg
	s.nextReg++
	s.regs[name] = id
	return ir.Reg(id)
}

func (p *parser) parseFunction() (*ir.Function, error) {
	if err := p.expectKeyword("fn"); err != nil {
		return nil, err
	}
	name, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	if err := p.expectSymbol("("); err != nil {
		return nil, err
	}
	var params []string
	for p.cur().kind != tokSymbol || p.cur().text != ")" {
		pname, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		params = append(params, pname)
		if p.cur().kind == tokSymbol && p.cur().text == "," {
			p.advance()
		}
	}
	if err := p.expectSymbol(")"); err != nil {
		return nil, err
	}

	fn := ir.NewFunction(name, params)
	scope := &fnScope{fn: fn, regs: map[string]uint8{}}
	for i, pname := range params {
		fn.Push(ir.LoadArgOp(i, scope.regFor(pname)))
	}

	if err := p.expectSymbol("{"); err != nil {
		return nil, err
	}
	for p.cur().kind != tokSymbol || p.cur().text != "}" {
		if err := p.parseStatement(scope); err != nil {
			return nil, err
		}
	}
	if err := p.expectSymbol("}"); err != nil {
		return nil, err
	}
	return fn, nil
}

func relOp(sym string) (ir.Opcode, bool) {
	switch sym {
	case "==":
		return ir.OpJe, true
	case "!=":
		return ir.OpJne, true
	case "<":
		return ir.OpJl, true
	case "<=":
		return ir.OpJle, true
	case ">":
		return ir.OpJg, true
	case ">=":
		return ir.OpJge, true
	default:
		return 0, false
	}
}

func arithOp(sym string) (ir.Opcode, bool) {
	switch sym {
	case "+":
		return ir.OpAdd, true
	case "-":
		return ir.OpSub, true
	case "*":
		return ir.OpMul, true
	default:
		return 0, false
	}
}

func (p *parser) parseOperand(scope *fnScope) (ir.Operand, error) {
	t := p.cur()
	switch t.kind {
	case tokNumber:
		p.advance()
		v, err := strconv.ParseInt(t.text, 10, 32)
		if err != nil {
			return ir.Operand{}, nferrors.Wrap(nferrors.ParseError, err, "invalid integer literal %q", t.text)
		}
		return ir.Imm32(int32(v)), nil
	case tokIdent:
		p.advance()
		return scope.regFor(t.text), nil
	default:
		return ir.Operand{}, nferrors.New(nferrors.ParseError, "expected operand, got %q", t.text)
	}
}

// parseStatement handles one statement, per spec.md §6, pushing zero or
// more instructions into scope.fn.
func (p *parser) parseStatement(scope *fnScope) error {
	t := p.cur()

	if t.kind == tokKeyword {
		switch t.text {
		case "return":
			p.advance()
			if err := p.parseAssignRHS(scope, "__ret"); err != nil {
				return err
			}
			scope.fn.Push(ir.Return(scope.regFor("__ret")))
			return nil
		case "label":
			p.advance()
			name, err := p.expectIdent()
			if err != nil {
				return err
			}
			scope.fn.Push(ir.LabelDef(name))
			return nil
		case "goto":
			p.advance()
			name, err := p.expectIdent()
			if err != nil {
				return err
			}
			scope.fn.Push(ir.Jump(name))
			return nil
		case "free":
			p.advance()
			if err := p.expectSymbol("("); err != nil {
				return err
			}
			ptr, err := p.parseOperand(scope)
			if err != nil {
				return err
			}
			if err := p.expectSymbol(")"); err != nil {
				return err
			}
			scope.fn.Push(ir.FreeOp(ptr))
			return nil
		case "if":
			return p.parseIf(scope)
		case "while":
			return p.parseWhile(scope)
		case "for":
			return p.parseFor(scope)
		}
	}

	if t.kind == tokIdent {
		name := t.text
		p.advance()
		if p.cur().kind == tokSymbol && p.cur().text == "[" {
			p.advance()
			idx, err := p.parseOperand(scope)
			if err != nil {
				return err
			}
			if err := p.expectSymbol("]"); err != nil {
				return err
			}
			if err := p.expectSymbol("="); err != nil {
				return err
			}
			val, err := p.parseOperand(scope)
			if err != nil {
				return err
			}
			scope.fn.Push(ir.StoreOp(scope.regFor(name), idx, val))
			return nil
		}
		if err := p.expectSymbol("="); err != nil {
			return err
		}
		return p.parseAssignRHS(scope, name)
	}

	return nferrors.New(nferrors.ParseError, "unexpected token %q", t.text)
}

func (p *parser) parseAssignRHS(scope *fnScope, lhsName string) error {
	dest := scope.regFor(lhsName)

	if p.cur().kind == tokKeyword && p.cur().text == "alloc" {
		p.advance()
		if err := p.expectSymbol("("); err != nil {
			return err
		}
		size, err := p.parseOperand(scope)
		if err != nil {
			return err
		}
		if err := p.expectSymbol(")"); err != nil {
			return err
		}
		scope.fn.Push(ir.AllocOp(dest, size))
		return nil
	}

	if p.cur().kind == tokIdent {
		name := p.cur().text
		// Lookahead for `name(args)` (call) vs `name[idx]` (load) vs
		// `name op operand` (binop) vs bare `name` (mov).
		save := p.pos
		p.advance()
		switch {
		case p.cur().kind == tokSymbol && p.cur().text == "(":
			p.advance()
			var args []ir.Operand
			for p.cur().kind != tokSymbol || p.cur().text != ")" {
				a, err := p.parseOperand(scope)
				if err != nil {
					return err
				}
				args = append(args, a)
				if p.cur().kind == tokSymbol && p.cur().text == "," {
					p.advance()
				}
			}
			p.advance()
			for i, a := range args {
				scope.fn.Push(ir.SetArg(i, a))
			}
			scope.fn.Push(ir.CallOp(dest, name))
			return nil
		case p.cur().kind == tokSymbol && p.cur().text == "[":
			p.advance()
			idx, err := p.parseOperand(scope)
			if err != nil {
				return err
			}
			if err := p.expectSymbol("]"); err != nil {
				return err
			}
			scope.fn.Push(ir.LoadOp(dest, scope.regFor(name), idx))
			return nil
		case p.cur().kind == tokSymbol:
			if op, ok := arithOp(p.cur().text); ok {
				p.advance()
				rhs, err := p.parseOperand(scope)
				if err != nil {
					return err
				}
				scope.fn.Push(ir.MovRegReg(dest, scope.regFor(name)))
				scope.fn.Push(ir.BinOp(op, dest, rhs))
				return nil
			}
			fallthrough
		default:
			p.pos = save
			val, err := p.parseOperand(scope)
			if err != nil {
				return err
			}
			if val.IsImm() {
				scope.fn.Push(ir.MovImm(dest, val.Imm))
			} else {
				scope.fn.Push(ir.MovRegReg(dest, val))
			}
			return nil
		}
	}

	val, err := p.parseOperand(scope)
	if err != nil {
		return err
	}
	scope.fn.Push(ir.MovImm(dest, val.Imm))
	if t := p.cur(); t.kind == tokSymbol {
		if op, ok := arithOp(t.text); ok {
			p.advance()
			rhs, err := p.parseOperand(scope)
			if err != nil {
				return err
			}
			scope.fn.Push(ir.BinOp(op, dest, rhs))
		}
	}
	return nil
}

// parseCondition parses `a op b` and returns the instructions to evaluate
// Cmp plus the branch opcode that should follow it.
func (p *parser) parseCondition(scope *fnScope) (ir.Instruction, ir.Opcode, error) {
	a, err := p.parseOperand(scope)
	if err != nil {
		return ir.Instruction{}, 0, err
	}
	symTok := p.cur()
	if symTok.kind != tokSymbol {
		return ir.Instruction{}, 0, nferrors.New(nferrors.ParseError, "expected relational operator, got %q", symTok.text)
	}
	op, ok := relOp(symTok.text)
	if !ok {
		return ir.Instruction{}, 0, nferrors.New(nferrors.ParseError, "unknown relational operator %q", symTok.text)
	}
	p.advance()
	b, err := p.parseOperand(scope)
	if err != nil {
		return ir.Instruction{}, 0, err
	}
	return ir.CmpOp(a, b), op, nil
}

var genCounter int

func genLabel(prefix string) string {
	genCounter++
	return fmt.Sprintf("__%s%d", prefix, genCounter)
}

func (p *parser) parseIf(scope *fnScope) error {
	p.advance() // "if"
	cmp, branchOp, err := p.parseCondition(scope)
	if err != nil {
		return err
	}
	if p.cur().kind == tokKeyword && p.cur().text == "goto" {
		p.advance()
		target, err := p.expectIdent()
		if err != nil {
			return err
		}
		scope.fn.Push(cmp)
		scope.fn.Push(ir.CondJump(branchOp, target))
		return nil
	}
	if err := p.expectSymbol("{"); err != nil {
		return err
	}
	end := genLabel("if_end")
	scope.fn.Push(cmp)
	scope.fn.Push(ir.CondJump(invertRel(branchOp), end))
	for p.cur().kind != tokSymbol || p.cur().text != "}" {
		if err := p.parseStatement(scope); err != nil {
			return err
		}
	}
	p.advance()
	scope.fn.Push(ir.LabelDef(end))
	return nil
}

func invertRel(op ir.Opcode) ir.Opcode {
	switch op {
	case ir.OpJe:
		return ir.OpJne
	case ir.OpJne:
		return ir.OpJe
	case ir.OpJl:
		return ir.OpJge
	case ir.OpJle:
		return ir.OpJg
	case ir.OpJg:
		return ir.OpJle
	case ir.OpJge:
		return ir.OpJl
	default:
		return op
	}
}

func (p *parser) parseWhile(scope *fnScope) error {
	p.advance() // "while"
	start := genLabel("while_start")
	end := genLabel("while_end")
	scope.fn.Push(ir.LabelDef(start))
	cmp, branchOp, err := p.parseCondition(scope)
	if err != nil {
		return err
	}
	scope.fn.Push(cmp)
	scope.fn.Push(ir.CondJump(invertRel(branchOp), end))
	if err := p.expectSymbol("{"); err != nil {
		return err
	}
	for p.cur().kind != tokSymbol || p.cur().text != "}" {
		if err := p.parseStatement(scope); err != nil {
			return err
		}
	}
	p.advance()
	scope.fn.Push(ir.Jump(start))
	scope.fn.Push(ir.LabelDef(end))
	return nil
}

func (p *parser) parseFor(scope *fnScope) error {
	p.advance() // "for"
	if err := p.expectSymbol("("); err != nil {
		return err
	}
	// init: `x = expr`
	initName, err := p.expectIdent()
	if err != nil {
		return err
	}
	if err := p.expectSymbol("="); err != nil {
		return err
	}
	if err := p.parseAssignRHS(scope, initName); err != nil {
		return err
	}
	if err := p.expectSymbol(";"); err != nil {
		return err
	}

	start := genLabel("for_start")
	end := genLabel("for_end")
	scope.fn.Push(ir.LabelDef(start))
	cmp, branchOp, err := p.parseCondition(scope)
	if err != nil {
		return err
	}
	scope.fn.Push(cmp)
	scope.fn.Push(ir.CondJump(invertRel(branchOp), end))
	if err := p.expectSymbol(";"); err != nil {
		return err
	}

	// step: single-assignment, parsed now, emitted after the body.
	stepName, err := p.expectIdent()
	if err != nil {
		return err
	}
	if err := p.expectSymbol("="); err != nil {
		return err
	}
	stepStart := p.pos
	if err := p.skipAssignRHS(); err != nil {
		return err
	}
	stepEnd := p.pos
	if err := p.expectSymbol(")"); err != nil {
		return err
	}
	if err := p.expectSymbol("{"); err != nil {
		return err
	}
	for p.cur().kind != tokSymbol || p.cur().text != "}" {
		if err := p.parseStatement(scope); err != nil {
			return err
		}
	}
	p.advance()

	stepParser := &parser{toks: p.toks, pos: stepStart}
	_ = stepEnd
	if err := stepParser.parseAssignRHS(scope, stepName); err != nil {
		return err
	}

	scope.fn.Push(ir.Jump(start))
	scope.fn.Push(ir.LabelDef(end))
	return nil
}

// skipAssignRHS advances p.pos past one assignment RHS without emitting
// instructions, used by parseFor to defer the step clause past the body.
func (p *parser) skipAssignRHS() error {
	depth := 0
	for {
		t := p.cur()
		if t.kind == tokEOF {
			return nferrors.New(nferrors.ParseError, "unexpected EOF in for-step clause")
		}
		if t.kind == tokSymbol {
			switch t.text {
			case "(", "[":
				depth++
			case ")", "]":
				if depth == 0 {
					return nil
				}
				depth--
			case ";":
				if depth == 0 {
					return nil
				}
			}
		}
		p.advance()
	}
}
