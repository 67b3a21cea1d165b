package parser

import (
	"fmt"

	"github.com/xplshn/cinc/pkg/ast"
	"github.com/xplshn/cinc/pkg/config"
	"github.com/xplshn/cinc/pkg/token"
	"github.com/xplshn/cinc/pkg/util"
)

// Parser holds the state for the parsing process
type Parser struct {
	tokens   []token.Token
	src      []byte
	cfg      *config.Config
	pos      int
	current  token.Token
	previous token.Token
	tree     *ast.Tree
	scope    *ast.Scope
}

// NewParser creates a parser over tokens, which must end with an EOF token.
// src is the buffer the tokens were lexed from.
func NewParser(tokens []token.Token, src []byte, cfg *config.Config) *Parser {
	if len(tokens) == 0 || tokens[len(tokens)-1].Type != token.EOF {
		tokens = append(tokens[:len(tokens):len(tokens)], token.Token{Type: token.EOF, Offset: len(src)})
	}
	return &Parser{
		tokens:  tokens,
		src:     src,
		cfg:     cfg,
		current: tokens[0],
		tree:    ast.NewTree(),
		scope:   ast.NewScope(),
	}
}

// bailout unwinds the parser on the first syntax error
type bailout struct{ err *util.Error }

func (p *Parser) fail(tok token.Token, format string, args ...interface{}) {
	panic(bailout{util.NewError(util.ParseError, tok, format, args...)})
}

// Parser helpers
func (p *Parser) advance() {
	if p.pos < len(p.tokens)-1 {
		p.previous = p.current
		p.pos++
		p.current = p.tokens[p.pos]
	}
}

func (p *Parser) check(tokType token.Type) bool {
	return p.current.Type == tokType
}

func (p *Parser) match(tokType token.Type) bool {
	if !p.check(tokType) {
		return false
	}
	p.advance()
	return true
}

func (p *Parser) expect(tokType token.Type, what string) {
	if p.check(tokType) {
		p.advance()
		return
	}
	p.fail(p.current, "expected %s, found %s", what, p.describe(p.current))
}

func (p *Parser) describe(tok token.Token) string {
	if tok.Type == token.EOF {
		return "end of input"
	}
	return fmt.Sprintf("'%s'", tok.Text(p.src))
}

// Expression Parsing
func getBinaryOpPrecedence(op token.Type) int {
	switch op {
	case token.Star, token.Slash:
		return 4
	case token.Plus, token.Minus:
		return 3
	case token.Lt, token.Gt, token.Lte, token.Gte:
		return 2
	case token.EqEq, token.Neq:
		return 1
	default:
		return -1
	}
}

func (p *Parser) parsePrimaryExpr() ast.Ref {
	tok := p.current
	if p.match(token.Number) {
		return p.tree.NewNumber(tok, tok.Val)
	}
	if p.match(token.Ident) {
		name := tok.Text(p.src)
		if p.match(token.LParen) {
			p.expect(token.RParen, "')' after function name")
			return p.tree.NewCall(tok, name)
		}
		sym := p.scope.Resolve(name)
		return p.tree.NewLocalVar(tok, name, sym.Offset)
	}
	if p.match(token.LParen) {
		expr := p.parseExpr()
		p.expect(token.RParen, "')' after expression")
		return expr
	}
	p.fail(tok, "expected an expression, found %s", p.describe(tok))
	return ast.Nil
}

func (p *Parser) parseUnaryExpr() ast.Ref {
	tok := p.current
	if p.match(token.Plus) {
		return p.parseUnaryExpr()
	}
	if p.match(token.Minus) {
		operand := p.parseUnaryExpr()
		zero := p.tree.NewNumber(tok, 0)
		return p.tree.NewBinaryOp(tok, ast.Sub, zero, operand)
	}
	return p.parsePrimaryExpr()
}

func (p *Parser) parseBinaryExpr(minPrec int) ast.Ref {
	left := p.parseUnaryExpr()
	for {
		prec := getBinaryOpPrecedence(p.current.Type)
		if prec < minPrec {
			break
		}
		opTok := p.current
		p.advance()
		right := p.parseBinaryExpr(prec + 1)
		left = p.tree.NewBinaryOp(opTok, ast.BinOpFor[opTok.Type], left, right)
	}
	return left
}

func (p *Parser) parseAssignmentExpr() ast.Ref {
	left := p.parseBinaryExpr(0)
	if p.check(token.Eq) {
		tok := p.current
		if p.tree.Node(left).Type != ast.LocalVar {
			p.fail(tok, "invalid assignment target")
		}
		p.advance()
		right := p.parseAssignmentExpr()
		return p.tree.NewAssign(tok, left, right)
	}
	return left
}

func (p *Parser) parseExpr() ast.Ref {
	return p.parseAssignmentExpr()
}

// Statement Parsing
func (p *Parser) parseBlockStmt() ast.Ref {
	tok := p.current
	p.expect(token.LBrace, "'{'")
	var stmts []ast.Ref
	for !p.check(token.RBrace) {
		if p.check(token.EOF) {
			p.fail(p.current, "expected '}' to close block, found end of input")
		}
		stmts = append(stmts, p.parseStmt())
	}
	p.advance()
	return p.tree.NewBlock(tok, stmts)
}

func (p *Parser) parseStmt() ast.Ref {
	tok := p.current
	switch {
	case p.match(token.Return):
		expr := p.parseExpr()
		p.expect(token.Semi, "';' after return value")
		return p.tree.NewReturn(tok, expr)
	case p.match(token.If):
		p.expect(token.LParen, "'(' after 'if'")
		cond := p.parseExpr()
		p.expect(token.RParen, "')' after if condition")
		thenBody := p.parseStmt()
		elseBody := ast.Nil
		if p.match(token.Else) {
			elseBody = p.parseStmt()
		}
		return p.tree.NewIf(tok, cond, thenBody, elseBody)
	case p.match(token.While):
		p.expect(token.LParen, "'(' after 'while'")
		cond := p.parseExpr()
		p.expect(token.RParen, "')' after while condition")
		body := p.parseStmt()
		return p.tree.NewWhile(tok, cond, body)
	case p.match(token.For):
		p.expect(token.LParen, "'(' after 'for'")
		initExpr := p.parseExpr()
		p.expect(token.Semi, "';' after for initializer")
		cond := p.parseExpr()
		p.expect(token.Semi, "';' after for condition")
		step := p.parseExpr()
		p.expect(token.RParen, "')' after for clauses")
		body := p.parseStmt()
		return p.tree.NewFor(tok, initExpr, cond, step, body)
	case p.check(token.LBrace):
		return p.parseBlockStmt()
	default:
		expr := p.parseExpr()
		p.expect(token.Semi, "';' after expression")
		return expr
	}
}

// Parse consumes the whole token stream. On failure it returns the first
// syntax error as a *util.Error and no program.
func (p *Parser) Parse() (prog *ast.Program, err error) {
	defer func() {
		if r := recover(); r != nil {
			b, ok := r.(bailout)
			if !ok {
				panic(r)
			}
			prog, err = nil, b.err
		}
	}()

	var stmts []ast.Ref
	for !p.check(token.EOF) {
		stmts = append(stmts, p.parseStmt())
	}
	return &ast.Program{Tree: p.tree, Scope: p.scope, Stmts: stmts}, nil
}
