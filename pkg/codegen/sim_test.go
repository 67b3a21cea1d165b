package codegen

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// machine interprets the instruction subset the amd64 backend emits. Memory
// is word-addressed and every access must be 8-byte aligned.
type machine struct {
	regs       map[string]int64
	mem        map[int64]int64
	cmpA, cmpB int64
	calls      map[string]func() int64
	misaligned []string
	maxSteps   int

	// rsp each time control reached a loop head, keyed by label
	loopRSP map[string][]int64
}

type instruction struct {
	op   string
	args []string
	line int
}

const (
	stackTop       = int64(1 << 20)
	returnSentinel = int64(-0x5eed)
	callerRBP      = int64(0xbbbb0)
)

func newMachine(calls map[string]func() int64) *machine {
	return &machine{
		regs:     map[string]int64{"rax": 0, "rdi": 0, "rdx": 0, "rbp": callerRBP, "rsp": stackTop},
		mem:      make(map[int64]int64),
		calls:    calls,
		maxSteps: 1_000_000,
		loopRSP:  make(map[string][]int64),
	}
}

// unbalancedLoops lists the loop heads that were reached with differing
// stack pointers.
func (m *machine) unbalancedLoops() []string {
	var out []string
	for name, seen := range m.loopRSP {
		for _, rsp := range seen[1:] {
			if rsp != seen[0] {
				out = append(out, fmt.Sprintf("%s: rsp %#x", name, seen))
				break
			}
		}
	}
	sort.Strings(out)
	return out
}

func assemble(asm string) ([]instruction, map[string]int, error) {
	var prog []instruction
	labels := make(map[string]int)
	for i, raw := range strings.Split(asm, "\n") {
		l := strings.TrimSpace(raw)
		switch {
		case l == "":
		case strings.HasSuffix(l, ":"):
			name := strings.TrimSuffix(l, ":")
			if _, dup := labels[name]; dup {
				return nil, nil, fmt.Errorf("line %d: duplicate label %s", i+1, name)
			}
			labels[name] = len(prog)
		case strings.HasPrefix(l, "."):
			// directive
		default:
			op, rest, _ := strings.Cut(l, " ")
			var args []string
			if rest != "" {
				for _, a := range strings.Split(rest, ",") {
					args = append(args, strings.TrimSpace(a))
				}
			}
			prog = append(prog, instruction{op: op, args: args, line: i + 1})
		}
	}
	return prog, labels, nil
}

func (m *machine) load(addr int64) (int64, error) {
	if addr%8 != 0 {
		return 0, fmt.Errorf("unaligned load at %#x", addr)
	}
	return m.mem[addr], nil
}

func (m *machine) store(addr, v int64) error {
	if addr%8 != 0 {
		return fmt.Errorf("unaligned store at %#x", addr)
	}
	m.mem[addr] = v
	return nil
}

func (m *machine) val(operand string) (int64, error) {
	if v, ok := m.regs[operand]; ok {
		return v, nil
	}
	if operand == "al" {
		return m.regs["rax"] & 0xff, nil
	}
	if strings.HasPrefix(operand, "[") && strings.HasSuffix(operand, "]") {
		reg := operand[1 : len(operand)-1]
		addr, ok := m.regs[reg]
		if !ok {
			return 0, fmt.Errorf("bad memory operand %s", operand)
		}
		return m.load(addr)
	}
	v, err := strconv.ParseInt(operand, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("bad operand %q", operand)
	}
	return v, nil
}

func (m *machine) set(operand string, v int64) error {
	if _, ok := m.regs[operand]; ok {
		m.regs[operand] = v
		return nil
	}
	if operand == "al" {
		m.regs["rax"] = m.regs["rax"]&^0xff | v&0xff
		return nil
	}
	if strings.HasPrefix(operand, "[") && strings.HasSuffix(operand, "]") {
		addr, ok := m.regs[operand[1:len(operand)-1]]
		if !ok {
			return fmt.Errorf("bad memory operand %s", operand)
		}
		return m.store(addr, v)
	}
	return fmt.Errorf("cannot write to %q", operand)
}

func (m *machine) push(v int64) error {
	m.regs["rsp"] -= 8
	return m.store(m.regs["rsp"], v)
}

func (m *machine) pop() (int64, error) {
	v, err := m.load(m.regs["rsp"])
	m.regs["rsp"] += 8
	return v, err
}

func (m *machine) condition(op string) bool {
	a, b := m.cmpA, m.cmpB
	switch op {
	case "sete", "je":
		return a == b
	case "setne":
		return a != b
	case "setl":
		return a < b
	case "setle":
		return a <= b
	}
	panic("unreachable condition " + op)
}

// run executes asm from main until it returns to the caller and yields rax.
func (m *machine) run(asm string) (int64, error) {
	prog, labels, err := assemble(asm)
	if err != nil {
		return 0, err
	}
	pc, ok := labels["main"]
	if !ok {
		return 0, fmt.Errorf("no main label")
	}
	if err := m.push(returnSentinel); err != nil {
		return 0, err
	}
	heads := make(map[int][]string)
	for name, at := range labels {
		if strings.HasPrefix(name, ".Lbegin") {
			heads[at] = append(heads[at], name)
		}
	}

	for steps := 0; ; steps++ {
		if steps > m.maxSteps {
			return 0, fmt.Errorf("step limit exceeded")
		}
		if pc >= len(prog) {
			return 0, fmt.Errorf("fell off the end of the program")
		}
		for _, name := range heads[pc] {
			m.loopRSP[name] = append(m.loopRSP[name], m.regs["rsp"])
		}
		in := prog[pc]
		pc++
		arg := func(i int) string {
			if i < len(in.args) {
				return in.args[i]
			}
			return ""
		}
		jump := func(label string) error {
			target, ok := labels[label]
			if !ok {
				return fmt.Errorf("line %d: unknown label %s", in.line, label)
			}
			pc = target
			return nil
		}
		binary := func(f func(a, b int64) int64) error {
			a, err := m.val(arg(0))
			if err != nil {
				return err
			}
			b, err := m.val(arg(1))
			if err != nil {
				return err
			}
			return m.set(arg(0), f(a, b))
		}

		var err error
		switch in.op {
		case "push":
			var v int64
			if v, err = m.val(arg(0)); err == nil {
				err = m.push(v)
			}
		case "pop":
			var v int64
			if v, err = m.pop(); err == nil {
				err = m.set(arg(0), v)
			}
		case "mov", "movabs", "movzb":
			var v int64
			if v, err = m.val(arg(1)); err == nil {
				err = m.set(arg(0), v)
			}
		case "add":
			err = binary(func(a, b int64) int64 { return a + b })
		case "sub":
			err = binary(func(a, b int64) int64 { return a - b })
		case "imul":
			err = binary(func(a, b int64) int64 { return a * b })
		case "cqo":
			m.regs["rdx"] = m.regs["rax"] >> 63
		case "idiv":
			var d int64
			if d, err = m.val(arg(0)); err == nil {
				if d == 0 {
					return 0, fmt.Errorf("line %d: division by zero", in.line)
				}
				rax := m.regs["rax"]
				m.regs["rax"], m.regs["rdx"] = rax/d, rax%d
			}
		case "cmp":
			if m.cmpA, err = m.val(arg(0)); err == nil {
				m.cmpB, err = m.val(arg(1))
			}
		case "sete", "setne", "setl", "setle":
			var b int64
			if m.condition(in.op) {
				b = 1
			}
			err = m.set(arg(0), b)
		case "je":
			if m.condition("je") {
				err = jump(arg(0))
			}
		case "jmp":
			err = jump(arg(0))
		case "call":
			if m.regs["rsp"]%16 != 0 {
				m.misaligned = append(m.misaligned, fmt.Sprintf("line %d: call %s with rsp%%16 = %d", in.line, arg(0), m.regs["rsp"]%16))
			}
			f, ok := m.calls[arg(0)]
			if !ok {
				return 0, fmt.Errorf("line %d: call to unknown function %s", in.line, arg(0))
			}
			m.regs["rax"] = f()
		case "ret":
			var addr int64
			if addr, err = m.pop(); err == nil {
				if addr != returnSentinel {
					return 0, fmt.Errorf("line %d: ret to %#x", in.line, addr)
				}
				return m.regs["rax"], nil
			}
		default:
			err = fmt.Errorf("unknown instruction %q", in.op)
		}
		if err != nil {
			return 0, fmt.Errorf("line %d: %s: %w", in.line, in.op, err)
		}
	}
}
