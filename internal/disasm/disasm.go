package disasm

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"

	"pydis/internal/code"
	"pydis/internal/opcode"
)

// DefaultMaxDepth bounds recursive descent into nested code objects.
const DefaultMaxDepth = 256

// LabelMarker flags rows that are the target of a branch.
const LabelMarker = ">>"

// Row is one rendered instruction.
type Row struct {
	Offset     int    `json:"offset" jsonschema:"description=Instruction unit index"`
	Line       int    `json:"line,omitempty" jsonschema:"description=Source line started by this instruction"`
	StartsLine bool   `json:"starts_line"`
	IsTarget   bool   `json:"is_jump_target"`
	Op         byte   `json:"opcode"`
	ShortArg   byte   `json:"short_arg"`
	Arg        uint64 `json:"arg"`
	Opname     string `json:"opname"`
	Category   string `json:"category"`
	ArgRepr    string `json:"argrepr"`
}

// Listing is the structured form of one code object's disassembly.
type Listing struct {
	Name        string     `json:"name"`
	Filename    string     `json:"filename"`
	FirstLineNo int        `json:"firstlineno"`
	Rows        []Row      `json:"rows"`
	Children    []*Listing `json:"children,omitempty"`
}

// Option configures a Disassembler.
type Option func(*Disassembler)

// WithTable selects the opcode table. The default is opcode.Default().
func WithTable(t *opcode.Table) Option {
	return func(d *Disassembler) { d.table = t }
}

// WithRecursive makes Disassemble descend into nested code constants.
func WithRecursive(on bool) Option {
	return func(d *Disassembler) { d.recursive = on }
}

// WithMaxDepth bounds recursion; 0 disables the bound.
func WithMaxDepth(n int) Option {
	return func(d *Disassembler) { d.maxDepth = n }
}

// WithLogger enables debug logging.
func WithLogger(l *log.Logger) Option {
	return func(d *Disassembler) { d.logger = l }
}

// Disassembler renders code objects. It keeps no per-call state and may be
// shared between goroutines.
type Disassembler struct {
	w         io.Writer
	table     *opcode.Table
	recursive bool
	maxDepth  int
	logger    *log.Logger
}

func New(w io.Writer, opts ...Option) *Disassembler {
	d := &Disassembler{
		w:        w,
		table:    opcode.Default(),
		maxDepth: DefaultMaxDepth,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Disassemble writes the listing of co, one row at a time. In recursive
// mode each nested code object follows after one blank line. On error the
// rows already written stay written.
func (d *Disassembler) Disassemble(co *code.Code) error {
	return d.disassemble(co, 0)
}

func (d *Disassembler) disassemble(co *code.Code, depth int) error {
	if d.maxDepth > 0 && depth > d.maxDepth {
		return fmt.Errorf("code %s: %w (%d)", co.Name, ErrMaxDepth, d.maxDepth)
	}
	p, err := d.prepare(co)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintln(d.w, p.header()); err != nil {
		return err
	}
	err = p.emit(func(r Row) error {
		_, err := fmt.Fprintln(d.w, p.format(r))
		return err
	})
	if err != nil {
		return err
	}
	if !d.recursive {
		return nil
	}
	for _, sub := range co.Children() {
		if _, err := fmt.Fprintln(d.w); err != nil {
			return err
		}
		if err := d.disassemble(sub, depth+1); err != nil {
			return err
		}
	}
	return nil
}

// Listing returns the structured disassembly of co, including nested code
// objects when the Disassembler is recursive.
func (d *Disassembler) Listing(co *code.Code) (*Listing, error) {
	return d.listing(co, 0)
}

func (d *Disassembler) listing(co *code.Code, depth int) (*Listing, error) {
	if d.maxDepth > 0 && depth > d.maxDepth {
		return nil, fmt.Errorf("code %s: %w (%d)", co.Name, ErrMaxDepth, d.maxDepth)
	}
	p, err := d.prepare(co)
	if err != nil {
		return nil, err
	}
	l := &Listing{
		Name:        co.Name,
		Filename:    co.Filename,
		FirstLineNo: co.FirstLineNo,
		Rows:        make([]Row, 0, len(co.Bytecode)/UnitSize),
	}
	err = p.emit(func(r Row) error {
		l.Rows = append(l.Rows, r)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if d.recursive {
		for _, sub := range co.Children() {
			child, err := d.listing(sub, depth+1)
			if err != nil {
				return nil, err
			}
			l.Children = append(l.Children, child)
		}
	}
	return l, nil
}

// pass holds everything computed before the emission pass.
type pass struct {
	co          *code.Code
	table       *opcode.Table
	lineStarts  map[int]int
	labels      map[int]struct{}
	lineWidth   int
	offsetWidth int
}

func (d *Disassembler) prepare(co *code.Code) (*pass, error) {
	if len(co.Bytecode)%UnitSize != 0 {
		return nil, fmt.Errorf("code %s: %w: %d bytes is not a multiple of %d",
			co.Name, ErrMalformedEncoding, len(co.Bytecode), UnitSize)
	}
	p := &pass{
		co:         co,
		table:      d.table,
		lineStarts: co.LineStarts(),
		labels:     d.findLabels(co),
	}
	maxLine := 0
	for _, line := range p.lineStarts {
		maxLine = max(maxLine, line)
	}
	if len(p.lineStarts) > 0 {
		p.lineWidth = len(strconv.Itoa(maxLine))
	}
	p.offsetWidth = len(strconv.Itoa(max(len(co.Bytecode)-UnitSize, 0)))

	if d.logger != nil {
		d.logger.Debug("disassembling", "code", co.Name, "units", len(co.Bytecode)/UnitSize,
			"labels", len(p.labels), "lines", len(p.lineStarts))
	}
	return p, nil
}

// findLabels is the first walk: every offset some branch lands on.
func (d *Disassembler) findLabels(co *code.Code) map[int]struct{} {
	labels := make(map[int]struct{})
	for in := range Unpack(co.Bytecode, d.table.ExtendedArg()) {
		if target, ok := jumpTarget(in, d.table.Category(in.Op)); ok {
			labels[target] = struct{}{}
		}
	}
	return labels
}

func jumpTarget(in Instruction, cat opcode.Category) (int, bool) {
	switch cat {
	case opcode.JumpAbs:
		return int(in.Arg), true
	case opcode.JumpRel:
		return in.Offset + 1 + int(in.Arg), true
	case opcode.JumpBack:
		return in.Offset + 1 - int(in.Arg), true
	}
	return 0, false
}

// emit is the second walk.
func (p *pass) emit(fn func(Row) error) error {
	for in := range Unpack(p.co.Bytecode, p.table.ExtendedArg()) {
		cat := p.table.Category(in.Op)
		argRepr, err := p.resolve(in, cat)
		if err != nil {
			return err
		}
		line, starts := p.lineStarts[in.ByteOffset()]
		_, target := p.labels[in.Offset]
		row := Row{
			Offset:     in.Offset,
			Line:       line,
			StartsLine: starts,
			IsTarget:   target,
			Op:         in.Op,
			ShortArg:   in.ShortArg,
			Arg:        in.Arg,
			Opname:     p.table.Name(in.Op),
			Category:   cat.String(),
			ArgRepr:    argRepr,
		}
		if err := fn(row); err != nil {
			return err
		}
	}
	return nil
}

func (p *pass) resolve(in Instruction, cat opcode.Category) (string, error) {
	co := p.co
	switch cat {
	case opcode.None:
		return "", nil
	case opcode.Local:
		return lookup(p, in, cat, co.VarNames)
	case opcode.Const:
		if in.Arg >= uint64(len(co.Consts)) {
			return "", p.outOfRange(in, cat, len(co.Consts))
		}
		return co.Consts[in.Arg].Repr(), nil
	case opcode.Name:
		return lookup(p, in, cat, co.Names)
	case opcode.Free:
		ncells := uint64(len(co.CellVars))
		if in.Arg < ncells {
			return co.CellVars[in.Arg], nil
		}
		if in.Arg-ncells >= uint64(len(co.FreeVars)) {
			return "", p.outOfRange(in, cat, len(co.CellVars)+len(co.FreeVars))
		}
		return co.FreeVars[in.Arg-ncells], nil
	case opcode.Compare:
		return lookup(p, in, cat, p.table.CompareOps())
	case opcode.JumpAbs, opcode.JumpRel, opcode.JumpBack:
		target, _ := jumpTarget(in, cat)
		return fmt.Sprintf("<to %d>", target), nil
	case opcode.Raw:
		return fmt.Sprintf("<%d>", in.Arg), nil
	default:
		return fmt.Sprintf("<%d>", in.Arg), nil
	}
}

func lookup(p *pass, in Instruction, cat opcode.Category, table []string) (string, error) {
	if in.Arg >= uint64(len(table)) {
		return "", p.outOfRange(in, cat, len(table))
	}
	return table[in.Arg], nil
}

func (p *pass) outOfRange(in Instruction, cat opcode.Category, n int) error {
	return &OperandError{
		Code:     p.co.Name,
		Offset:   in.Offset,
		Opname:   p.table.Name(in.Op),
		Category: cat,
		Index:    in.Arg,
		Len:      n,
	}
}

func (p *pass) header() string {
	return fmt.Sprintf("# %s @ line %d", p.co.Name, p.co.FirstLineNo)
}

// format lays out one row:
// <line> <marker> <offset> <op><arg>    <mnemonic> <operand>
func (p *pass) format(r Row) string {
	line := ""
	if r.StartsLine {
		line = strconv.Itoa(r.Line)
	}
	marker := ""
	if r.IsTarget {
		marker = LabelMarker
	}
	s := fmt.Sprintf("%*s %2s %*d %02x%02x    %-*s %s",
		p.lineWidth, line,
		marker,
		p.offsetWidth, r.Offset,
		r.Op, r.ShortArg,
		p.table.NameWidth(), r.Opname,
		r.ArgRepr)
	return strings.TrimRight(s, " ")
}
