package ast

// Symbol is one local variable and its slot below rbp
type Symbol struct {
	Name   string
	Offset int
}

// Scope is the flat, append-only variable table of a program. Offsets start
// at 8 and grow by 8, so every variable owns a distinct word-sized slot.
type Scope struct {
	symbols []Symbol
	byName  map[string]int
}

const slotSize = 8

func NewScope() *Scope {
	return &Scope{byName: make(map[string]int)}
}

// Lookup finds name by exact text match.
func (s *Scope) Lookup(name string) (Symbol, bool) {
	i, ok := s.byName[name]
	if !ok {
		return Symbol{}, false
	}
	return s.symbols[i], true
}

// Resolve returns the entry for name, appending one at Size() on first use.
func (s *Scope) Resolve(name string) Symbol {
	if sym, ok := s.Lookup(name); ok {
		return sym
	}
	sym := Symbol{Name: name, Offset: s.Size()}
	s.byName[name] = len(s.symbols)
	s.symbols = append(s.symbols, sym)
	return sym
}

// Size is the offset the next variable will get: the base slot plus one slot
// per variable.
func (s *Scope) Size() int { return slotSize * (len(s.symbols) + 1) }

// Len is the number of variables.
func (s *Scope) Len() int { return len(s.symbols) }

// Symbols returns the variables in declaration order.
func (s *Scope) Symbols() []Symbol {
	out := make([]Symbol, len(s.symbols))
	copy(out, s.symbols)
	return out
}

// FrameSize is Size rounded up to a multiple of align.
func (s *Scope) FrameSize(align int) int {
	size := s.Size()
	if align <= 1 {
		return size
	}
	return (size + align - 1) / align * align
}
