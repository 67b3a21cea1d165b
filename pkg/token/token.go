package token

type Type int

const (
	EOF Type = iota
	Number
	Ident
	Return
	If
	Else
	While
	For
	LParen
	RParen
	LBrace
	RBrace
	Semi
	Eq
	Plus
	Minus
	Star
	Slash
	EqEq
	Neq
	Lt
	Gt
	Lte
	Gte
)

var KeywordMap = map[string]Type{
	"return": Return,
	"if":     If,
	"else":   Else,
	"while":  While,
	"for":    For,
}

// Spelling of every fixed-text token, used by diagnostics and dumps
var TypeStrings = map[Type]string{
	LParen: "(",
	RParen: ")",
	LBrace: "{",
	RBrace: "}",
	Semi:   ";",
	Eq:     "=",
	Plus:   "+",
	Minus:  "-",
	Star:   "*",
	Slash:  "/",
	EqEq:   "==",
	Neq:    "!=",
	Lt:     "<",
	Gt:     ">",
	Lte:    "<=",
	Gte:    ">=",
}

func init() {
	for str, typ := range KeywordMap {
		TypeStrings[typ] = str
	}
}

func (t Type) String() string {
	switch t {
	case EOF:
		return "EOF"
	case Number:
		return "Number"
	case Ident:
		return "Ident"
	}
	if s, ok := TypeStrings[t]; ok {
		return s
	}
	return "Type(?)"
}

// IsPunct reports whether t is an operator or punctuation token.
func (t Type) IsPunct() bool { return t >= LParen && t <= Gte }

// IsKeyword reports whether t is a reserved word.
func (t Type) IsKeyword() bool { return t >= Return && t <= For }

// Token is a classified span of the source buffer. The text is never copied:
// Offset and Len index into the buffer the token was lexed from.
type Token struct {
	Type   Type
	Offset int
	Len    int
	Val    int64 // Number only
	Line   int
	Column int
}

// Text returns the token's spelling as a view into src.
func (t Token) Text(src []byte) string {
	if t.Offset < 0 || t.Offset+t.Len > len(src) {
		return ""
	}
	return string(src[t.Offset : t.Offset+t.Len])
}
