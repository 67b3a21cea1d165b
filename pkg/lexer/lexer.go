package lexer

import (
	"errors"
	"strconv"

	"github.com/xplshn/cinc/pkg/config"
	"github.com/xplshn/cinc/pkg/token"
	"github.com/xplshn/cinc/pkg/util"
)

type Lexer struct {
	source []byte
	pos    int
	line   int
	column int
	cfg    *config.Config
	rep    *util.Reporter
}

// NewLexer creates a lexer over source. rep may be nil, in which case
// warnings are dropped.
func NewLexer(source []byte, cfg *config.Config, rep *util.Reporter) *Lexer {
	return &Lexer{source: source, line: 1, column: 1, cfg: cfg, rep: rep}
}

// Tokenize lexes the whole buffer. The result always ends with exactly one
// EOF token.
func Tokenize(source []byte, cfg *config.Config, rep *util.Reporter) ([]token.Token, error) {
	l := NewLexer(source, cfg, rep)
	var toks []token.Token
	for {
		tok, err := l.Next()
		if err != nil {
			return nil, err
		}
		toks = append(toks, tok)
		if tok.Type == token.EOF {
			return toks, nil
		}
	}
}

func (l *Lexer) Next() (token.Token, error) {
	if err := l.skipWhitespaceAndComments(); err != nil {
		return token.Token{}, err
	}
	startPos, startCol, startLine := l.pos, l.column, l.line

	if l.isAtEnd() {
		return l.makeToken(token.EOF, startPos, startCol, startLine), nil
	}

	ch := l.peek()
	l.advance()
	switch ch {
	case '(':
		return l.makeToken(token.LParen, startPos, startCol, startLine), nil
	case ')':
		return l.makeToken(token.RParen, startPos, startCol, startLine), nil
	case '{':
		return l.makeToken(token.LBrace, startPos, startCol, startLine), nil
	case '}':
		return l.makeToken(token.RBrace, startPos, startCol, startLine), nil
	case ';':
		return l.makeToken(token.Semi, startPos, startCol, startLine), nil
	case '+':
		return l.makeToken(token.Plus, startPos, startCol, startLine), nil
	case '-':
		return l.makeToken(token.Minus, startPos, startCol, startLine), nil
	case '*':
		return l.makeToken(token.Star, startPos, startCol, startLine), nil
	case '/':
		return l.makeToken(token.Slash, startPos, startCol, startLine), nil
	case '=':
		return l.matchThen('=', token.EqEq, token.Eq, startPos, startCol, startLine), nil
	case '<':
		return l.matchThen('=', token.Lte, token.Lt, startPos, startCol, startLine), nil
	case '>':
		return l.matchThen('=', token.Gte, token.Gt, startPos, startCol, startLine), nil
	case '!':
		if l.match('=') {
			return l.makeToken(token.Neq, startPos, startCol, startLine), nil
		}
	default:
		if isDigit(ch) {
			return l.numberLiteral(startPos, startCol, startLine), nil
		}
		if isIdentHead(ch) {
			return l.identifierOrKeyword(startPos, startCol, startLine), nil
		}
	}

	at := token.Token{Offset: startPos, Len: 1, Line: startLine, Column: startCol}
	return token.Token{}, util.NewError(util.LexError, at, "unexpected character %s", quoteByte(ch))
}

func quoteByte(ch byte) string {
	if ch >= 0x20 && ch < 0x7f {
		return "'" + string(rune(ch)) + "'"
	}
	return "0x" + strconv.FormatUint(uint64(ch), 16)
}

func isDigit(ch byte) bool      { return ch >= '0' && ch <= '9' }
func isIdentHead(ch byte) bool  { return ch == '_' || (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') }
func isIdentBody(ch byte) bool  { return isIdentHead(ch) || isDigit(ch) }
func isWhitespace(ch byte) bool { return ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r' || ch == '\v' || ch == '\f' }

func (l *Lexer) peek() byte {
	if l.isAtEnd() {
		return 0
	}
	return l.source[l.pos]
}

func (l *Lexer) peekNext() byte {
	if l.pos+1 >= len(l.source) {
		return 0
	}
	return l.source[l.pos+1]
}

func (l *Lexer) advance() byte {
	if l.isAtEnd() {
		return 0
	}
	ch := l.source[l.pos]
	if ch == '\n' {
		l.line++
		l.column = 1
	} else {
		l.column++
	}
	l.pos++
	return ch
}

func (l *Lexer) match(expected byte) bool {
	if l.isAtEnd() || l.source[l.pos] != expected {
		return false
	}
	l.advance()
	return true
}

func (l *Lexer) isAtEnd() bool { return l.pos >= len(l.source) }

func (l *Lexer) makeToken(tokType token.Type, startPos, startCol, startLine int) token.Token {
	return token.Token{
		Type: tokType, Offset: startPos, Len: l.pos - startPos,
		Line: startLine, Column: startCol,
	}
}

func (l *Lexer) matchThen(expected byte, thenType, elseType token.Type, sPos, sCol, sLine int) token.Token {
	if l.match(expected) {
		return l.makeToken(thenType, sPos, sCol, sLine)
	}
	return l.makeToken(elseType, sPos, sCol, sLine)
}

func (l *Lexer) skipWhitespaceAndComments() error {
	comments := l.cfg != nil && l.cfg.IsFeatureEnabled(config.FeatComments)
	for !l.isAtEnd() {
		switch {
		case isWhitespace(l.peek()):
			l.advance()
		case comments && l.peek() == '/' && l.peekNext() == '/':
			for !l.isAtEnd() && l.peek() != '\n' {
				l.advance()
			}
		case comments && l.peek() == '/' && l.peekNext() == '*':
			if err := l.blockComment(); err != nil {
				return err
			}
		default:
			return nil
		}
	}
	return nil
}

func (l *Lexer) blockComment() error {
	start := token.Token{Offset: l.pos, Len: 2, Line: l.line, Column: l.column}
	l.advance()
	l.advance()
	for !l.isAtEnd() {
		if l.peek() == '*' && l.peekNext() == '/' {
			l.advance()
			l.advance()
			return nil
		}
		l.advance()
	}
	return util.NewError(util.LexError, start, "unterminated block comment")
}

func (l *Lexer) identifierOrKeyword(startPos, startCol, startLine int) token.Token {
	for isIdentBody(l.peek()) {
		l.advance()
	}
	tok := l.makeToken(token.Ident, startPos, startCol, startLine)
	if tokType, isKeyword := token.KeywordMap[string(l.source[startPos:l.pos])]; isKeyword {
		tok.Type = tokType
	}
	return tok
}

func (l *Lexer) numberLiteral(startPos, startCol, startLine int) token.Token {
	for isDigit(l.peek()) {
		l.advance()
	}
	tok := l.makeToken(token.Number, startPos, startCol, startLine)
	val, err := strconv.ParseInt(string(l.source[startPos:l.pos]), 10, 64)
	if errors.Is(err, strconv.ErrRange) {
		l.rep.Warn(config.WarnOverflow, tok, "integer constant %s overflows a 64-bit word; clamped to %d", tok.Text(l.source), val)
	}
	tok.Val = val
	return tok
}
