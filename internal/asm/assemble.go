package asm

import (
	"errors"
	"fmt"
	"math"
	"math/big"
	"slices"
	"strconv"
	"strings"

	"github.com/alecthomas/participle/v2/lexer"
	"github.com/charmbracelet/log"

	"pydis/internal/code"
	"pydis/internal/opcode"
)

// ErrAssemble is wrapped by every semantic error the assembler reports.
var ErrAssemble = errors.New("assembly error")

// Error is a semantic error at a source position.
type Error struct {
	Pos lexer.Position
	Msg string
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %s", e.Pos, e.Msg) }

func (e *Error) Unwrap() error { return ErrAssemble }

func errorf(pos lexer.Position, format string, args ...any) error {
	return &Error{Pos: pos, Msg: fmt.Sprintf(format, args...)}
}

// Option configures an Assembler.
type Option func(*Assembler)

func WithTable(t *opcode.Table) Option {
	return func(a *Assembler) { a.table = t }
}

func WithLogger(l *log.Logger) Option {
	return func(a *Assembler) { a.logger = l }
}

// Assembler compiles .pyasm source into code objects.
type Assembler struct {
	table  *opcode.Table
	logger *log.Logger
}

func New(opts ...Option) *Assembler {
	a := &Assembler{table: opcode.Default()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Assemble parses and compiles src.
func (a *Assembler) Assemble(filename string, src []byte) (*code.Code, error) {
	f, err := Parse(filename, src)
	if err != nil {
		return nil, err
	}
	return a.Compile(f)
}

// Compile turns a parsed file into a code object tree.
func (a *Assembler) Compile(f *File) (*code.Code, error) {
	return a.block(f.Code, "", 1)
}

// Maximum operand the three prefixes of a 32-bit argument can carry.
const maxArg = math.MaxUint32

// instr is one source instruction during layout.
type instr struct {
	pos      lexer.Position
	op       byte
	cat      opcode.Category
	arg      uint64
	label    string // jump target, resolved per layout pass
	line     int
	prefixes int
	offset   int // unit index of the first prefix
}

func (a *Assembler) block(b *Block, parentFile string, parentLine int) (*code.Code, error) {
	co := &code.Code{
		Name:        b.Name,
		Filename:    parentFile,
		FirstLineNo: parentLine,
	}
	if b.File != nil {
		co.Filename = *b.File
	}
	if b.Line != nil {
		n, err := strconv.Atoi(*b.Line)
		if err != nil {
			return nil, errorf(b.Pos, "bad line number %q", *b.Line)
		}
		co.FirstLineNo = n
	}

	var (
		instrs []*instr
		labels = make(map[string]int) // label -> index into instrs
		line   = co.FirstLineNo
		attrs  = make(map[string]int64)
	)
	// Tables come first so that string operands can be resolved against
	// them regardless of where they appear in the block.
	for _, it := range b.Items {
		switch {
		case it.Consts != nil:
			for _, c := range it.Consts.Items {
				v, err := a.constant(c, co.Filename, line)
				if err != nil {
					return nil, err
				}
				co.Consts = append(co.Consts, v)
			}
		case it.Names != nil:
			co.Names = append(co.Names, it.Names.Names...)
		case it.VarNames != nil:
			co.VarNames = append(co.VarNames, it.VarNames.Names...)
		case it.CellVars != nil:
			co.CellVars = append(co.CellVars, it.CellVars.Names...)
		case it.FreeVars != nil:
			co.FreeVars = append(co.FreeVars, it.FreeVars.Names...)
		case it.Attr != nil:
			n, err := strconv.ParseInt(it.Attr.Value, 0, 64)
			if err != nil {
				return nil, errorf(it.Pos, "%s: %v", it.Attr.Key, err)
			}
			attrs[it.Attr.Key] = n
		}
	}

	for _, it := range b.Items {
		switch {
		case it.Line != nil:
			n, err := strconv.Atoi(*it.Line)
			if err != nil {
				return nil, errorf(it.Pos, "bad line number %q", *it.Line)
			}
			line = n
		case it.Label != nil:
			if _, dup := labels[*it.Label]; dup {
				return nil, errorf(it.Pos, "label %s defined twice", *it.Label)
			}
			labels[*it.Label] = len(instrs)
		case it.Instr != nil:
			in, err := a.instruction(co, it.Instr, line)
			if err != nil {
				return nil, err
			}
			instrs = append(instrs, in)
		}
	}
	for _, in := range instrs {
		if in.label != "" {
			if _, ok := labels[in.label]; !ok {
				return nil, errorf(in.pos, "undefined label %s", in.label)
			}
		}
	}

	total, err := a.layout(instrs, labels)
	if err != nil {
		return nil, err
	}
	co.Bytecode, co.LineTable = a.emit(instrs, total, co.FirstLineNo)

	co.ArgCount = int(attrs["argcount"])
	co.PosOnlyArgCount = int(attrs["posonly"])
	co.KwOnlyArgCount = int(attrs["kwonly"])
	co.StackSize = int(attrs["stacksize"])
	if n, ok := attrs["nlocals"]; ok {
		co.NLocals = int(n)
	} else {
		co.NLocals = len(co.VarNames)
	}
	if n, ok := attrs["flags"]; ok {
		co.Flags = uint32(n)
	} else if len(co.FreeVars) == 0 && len(co.CellVars) == 0 {
		co.Flags = code.FlagNoFree
	}

	if a.logger != nil {
		a.logger.Debug("assembled", "code", co.Name, "instructions", len(instrs), "units", total, "labels", len(labels))
	}
	return co, nil
}

func (a *Assembler) instruction(co *code.Code, src *Instr, line int) (*instr, error) {
	op, ok := a.table.Lookup(src.Op)
	if !ok {
		return nil, errorf(src.Pos, "unknown mnemonic %s", src.Op)
	}
	in := &instr{pos: src.Pos, op: op, cat: a.table.Category(op), line: line}
	o := src.Operand
	switch {
	case o == nil:
	case o.Int != nil:
		n, err := strconv.ParseUint(strings.TrimPrefix(*o.Int, "+"), 0, 64)
		if err != nil || n > maxArg {
			return nil, errorf(src.Pos, "%s: operand %s out of range", src.Op, *o.Int)
		}
		in.arg = n
	case o.Label != nil:
		if !in.cat.IsJump() {
			return nil, errorf(src.Pos, "%s does not take a label", src.Op)
		}
		in.label = strings.TrimPrefix(*o.Label, "@")
	case o.Str != nil:
		idx, err := a.intern(co, in.cat, *o.Str)
		if err != nil {
			return nil, errorf(src.Pos, "%s: %v", src.Op, err)
		}
		in.arg = uint64(idx)
	}
	return in, nil
}

// intern resolves a string operand to an index in the table its category
// refers to, appending it when absent.
func (a *Assembler) intern(co *code.Code, cat opcode.Category, s string) (int, error) {
	add := func(tbl *[]string) int {
		if i := slices.Index(*tbl, s); i >= 0 {
			return i
		}
		*tbl = append(*tbl, s)
		return len(*tbl) - 1
	}
	switch cat {
	case opcode.Local:
		return add(&co.VarNames), nil
	case opcode.Name:
		return add(&co.Names), nil
	case opcode.Free:
		if i := slices.Index(co.CellVars, s); i >= 0 {
			return i, nil
		}
		return len(co.CellVars) + add(&co.FreeVars), nil
	case opcode.Const:
		for i, v := range co.Consts {
			if str, ok := v.(code.Str); ok && string(str) == s {
				return i, nil
			}
		}
		co.Consts = append(co.Consts, code.Str(s))
		return len(co.Consts) - 1, nil
	case opcode.Compare:
		if i := slices.Index(a.table.CompareOps(), s); i >= 0 {
			return i, nil
		}
		return 0, fmt.Errorf("unknown comparison %q", s)
	}
	return 0, fmt.Errorf("a %s operand cannot be a string", cat)
}

func prefixesFor(arg uint64) int {
	switch {
	case arg < 1<<8:
		return 0
	case arg < 1<<16:
		return 1
	case arg < 1<<24:
		return 2
	}
	return 3
}

// layout assigns offsets and resolves label operands. Prefix counts only
// grow between passes, so the loop reaches a fixed point.
func (a *Assembler) layout(instrs []*instr, labels map[string]int) (int, error) {
	for {
		offset := 0
		for _, in := range instrs {
			in.offset = offset
			offset += in.prefixes + 1
		}
		total := offset
		target := func(name string) int {
			if i := labels[name]; i < len(instrs) {
				return instrs[i].offset
			}
			return total
		}

		changed := false
		for _, in := range instrs {
			if in.label != "" {
				here := in.offset + in.prefixes
				to := target(in.label)
				var arg int
				switch in.cat {
				case opcode.JumpAbs:
					arg = to
				case opcode.JumpRel:
					arg = to - (here + 1)
				case opcode.JumpBack:
					arg = (here + 1) - to
				}
				if arg < 0 {
					return 0, errorf(in.pos, "label %s is out of reach of %s", in.label, a.table.Name(in.op))
				}
				in.arg = uint64(arg)
			}
			if n := prefixesFor(in.arg); n > in.prefixes {
				in.prefixes = n
				changed = true
			}
		}
		if !changed {
			return total, nil
		}
	}
}

func (a *Assembler) emit(instrs []*instr, total, firstLine int) ([]byte, []byte) {
	bc := make([]byte, 0, total*2)
	var entries []code.LineEntry
	for _, in := range instrs {
		if len(entries) == 0 || entries[len(entries)-1].Line != in.line {
			entries = append(entries, code.LineEntry{Offset: in.offset * 2, Line: in.line})
		}
		for i := in.prefixes; i > 0; i-- {
			bc = append(bc, a.table.ExtendedArg(), byte(in.arg>>(8*i)))
		}
		bc = append(bc, in.op, byte(in.arg))
	}
	return bc, code.EncodeLineTable(firstLine, len(bc), entries)
}

// constant converts a constant AST node into a value. Nested code blocks
// inherit the enclosing file name and current line.
func (a *Assembler) constant(c *Const, file string, line int) (code.Value, error) {
	switch {
	case c.None:
		return code.None, nil
	case c.True:
		return code.Bool(true), nil
	case c.False:
		return code.Bool(false), nil
	case c.Ellipsis:
		return code.Ellipsis, nil
	case c.Code != nil:
		sub, err := a.block(c.Code, file, line)
		if err != nil {
			return nil, err
		}
		return sub, nil
	case c.FrozenSet != nil:
		items, err := a.constants(c.FrozenSet, file, line)
		return code.FrozenSet(items), err
	case c.Set != nil:
		items, err := a.constants(c.Set, file, line)
		return code.Set(items), err
	case c.Tuple != nil:
		items, err := a.constants(c.Tuple, file, line)
		return code.Tuple(items), err
	case c.List != nil:
		items, err := a.constants(c.List, file, line)
		return code.List(items), err
	case c.Complex != nil:
		re, err := strconv.ParseFloat(c.Complex.Re, 64)
		if err != nil {
			return nil, errorf(c.Pos, "complex: %v", err)
		}
		im, err := strconv.ParseFloat(c.Complex.Im, 64)
		if err != nil {
			return nil, errorf(c.Pos, "complex: %v", err)
		}
		return code.Complex(complex(re, im)), nil
	case c.FloatText != nil:
		f, err := strconv.ParseFloat(*c.FloatText, 64)
		if err != nil {
			return nil, errorf(c.Pos, "float: %v", err)
		}
		return code.Float(f), nil
	case c.Imag != nil:
		f, err := strconv.ParseFloat(strings.TrimSuffix(*c.Imag, "j"), 64)
		if err != nil {
			return nil, errorf(c.Pos, "imaginary literal: %v", err)
		}
		return code.Complex(complex(0, f)), nil
	case c.Float != nil:
		f, err := strconv.ParseFloat(*c.Float, 64)
		if err != nil {
			return nil, errorf(c.Pos, "float literal: %v", err)
		}
		return code.Float(f), nil
	case c.Int != nil:
		n, ok := new(big.Int).SetString(strings.TrimPrefix(*c.Int, "+"), 0)
		if !ok {
			return nil, errorf(c.Pos, "bad integer %s", *c.Int)
		}
		return code.NewBigInt(n), nil
	case c.Bytes != nil:
		s, err := strconv.Unquote(strings.TrimPrefix(*c.Bytes, "b"))
		if err != nil {
			return nil, errorf(c.Pos, "bytes literal: %v", err)
		}
		return code.Bytes(s), nil
	case c.Str != nil:
		return code.Str(*c.Str), nil
	}
	return nil, errorf(c.Pos, "empty constant")
}

func (a *Assembler) constants(s *Seq, file string, line int) ([]code.Value, error) {
	items := make([]code.Value, 0, len(s.Items))
	for _, c := range s.Items {
		v, err := a.constant(c, file, line)
		if err != nil {
			return nil, err
		}
		items = append(items, v)
	}
	return items, nil
}
