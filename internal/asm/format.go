package asm

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"pydis/internal/code"
	"pydis/internal/disasm"
	"pydis/internal/opcode"
)

// Format writes co as .pyasm source that Assemble turns back into the same
// instruction buffer, provided the original used minimal extension
// prefixes. Prefix units are dropped, jump operands become labels, and
// ranges without a line number take the line of the preceding range.
func Format(w io.Writer, co *code.Code, table *opcode.Table) error {
	if table == nil {
		table = opcode.Default()
	}
	bw := bufio.NewWriter(w)
	f := &formatter{w: bw, table: table}
	if err := f.block(co, 0, true); err != nil {
		return err
	}
	return bw.Flush()
}

type formatter struct {
	w     *bufio.Writer
	table *opcode.Table
}

func (f *formatter) printf(depth int, format string, args ...any) {
	f.w.WriteString(strings.Repeat("    ", depth))
	fmt.Fprintf(f.w, format, args...)
	f.w.WriteByte('\n')
}

func (f *formatter) block(co *code.Code, depth int, top bool) error {
	if len(co.Bytecode)%disasm.UnitSize != 0 {
		return fmt.Errorf("code %s: %w", co.Name, disasm.ErrMalformedEncoding)
	}
	header := "code " + strconv.Quote(co.Name)
	if top || co.Filename != "" {
		header += " file " + strconv.Quote(co.Filename)
	}
	f.printf(depth, "%s line %d {", header, co.FirstLineNo)
	in := depth + 1

	if len(co.Consts) > 0 {
		f.printf(in, "consts {")
		for _, v := range co.Consts {
			if sub, ok := v.(*code.Code); ok {
				if err := f.block(sub, in+1, false); err != nil {
					return err
				}
				f.w.WriteString(strings.Repeat("    ", in+1) + ",\n")
				continue
			}
			lit, err := literal(v)
			if err != nil {
				return fmt.Errorf("code %s: %w", co.Name, err)
			}
			f.printf(in+1, "%s,", lit)
		}
		f.printf(in, "}")
	}
	for _, t := range []struct {
		key   string
		names []string
	}{
		{"names", co.Names},
		{"varnames", co.VarNames},
		{"cellvars", co.CellVars},
		{"freevars", co.FreeVars},
	} {
		if len(t.names) == 0 {
			continue
		}
		quoted := make([]string, len(t.names))
		for i, n := range t.names {
			quoted[i] = strconv.Quote(n)
		}
		f.printf(in, "%s { %s }", t.key, strings.Join(quoted, ", "))
	}
	f.printf(in, "argcount %d  posonly %d  kwonly %d  nlocals %d  stacksize %d  flags %#x",
		co.ArgCount, co.PosOnlyArgCount, co.KwOnlyArgCount, co.NLocals, co.StackSize, co.Flags)

	if err := f.body(co, in); err != nil {
		return err
	}
	f.printf(depth, "}")
	return nil
}

func (f *formatter) body(co *code.Code, depth int) error {
	ext := f.table.ExtendedArg()
	starts := co.LineStarts()
	labels := make(map[int]bool)
	for in := range disasm.Unpack(co.Bytecode, ext) {
		if target, ok := jumpTarget(in, f.table.Category(in.Op)); ok {
			labels[target] = true
		}
	}

	line := co.FirstLineNo
	pendingLine := -1
	units := len(co.Bytecode) / disasm.UnitSize
	for in := range disasm.Unpack(co.Bytecode, ext) {
		if labels[in.Offset] {
			fmt.Fprintf(f.w, "L%d:\n", in.Offset)
		}
		if l, ok := starts[in.ByteOffset()]; ok {
			pendingLine = l
		}
		if in.Op == ext {
			continue
		}
		if pendingLine >= 0 && pendingLine != line {
			line = pendingLine
			f.printf(depth, "line %d", line)
		}
		pendingLine = -1

		if !f.table.Known(in.Op) {
			return fmt.Errorf("code %s, offset %d: opcode %d has no mnemonic", co.Name, in.Offset, in.Op)
		}
		name := f.table.Name(in.Op)
		cat := f.table.Category(in.Op)
		switch {
		case cat.IsJump():
			target, _ := jumpTarget(in, cat)
			f.printf(depth, "%s @L%d", name, target)
		case cat == opcode.Compare && in.Arg < uint64(len(f.table.CompareOps())):
			f.printf(depth, "%s %s", name, strconv.Quote(f.table.CompareOps()[in.Arg]))
		case cat == opcode.None && in.Arg == 0:
			f.printf(depth, "%s", name)
		default:
			f.printf(depth, "%s %d", name, in.Arg)
		}
	}
	if labels[units] {
		fmt.Fprintf(f.w, "L%d:\n", units)
	}
	return nil
}

func jumpTarget(in disasm.Instruction, cat opcode.Category) (int, bool) {
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

// literal renders a non-code constant in .pyasm syntax.
func literal(v code.Value) (string, error) {
	switch v := v.(type) {
	case code.NoneValue:
		return "None", nil
	case code.EllipsisValue:
		return "...", nil
	case code.Bool:
		if v {
			return "True", nil
		}
		return "False", nil
	case code.Int:
		return v.Big().String(), nil
	case code.Float:
		return floatLiteral(float64(v)), nil
	case code.Complex:
		re, im := real(v), imag(v)
		if re == 0 && !math.Signbit(re) && !math.IsInf(im, 0) && !math.IsNaN(im) {
			return strconv.FormatFloat(im, 'g', -1, 64) + "j", nil
		}
		if isFinite(re) && isFinite(im) {
			return fmt.Sprintf("complex(%s, %s)", floatText(re), floatText(im)), nil
		}
		return "", fmt.Errorf("complex constant %s has no literal form", v.Repr())
	case code.Str:
		return strconv.Quote(string(v)), nil
	case code.Bytes:
		return "b" + strconv.Quote(string(v)), nil
	case code.Tuple:
		return seqLiteral("(", ")", v)
	case code.List:
		return seqLiteral("[", "]", v)
	case code.Set:
		return seqLiteral("set(", ")", v)
	case code.FrozenSet:
		return seqLiteral("frozenset(", ")", v)
	}
	return "", fmt.Errorf("constant %T has no literal form", v)
}

func seqLiteral(begin, end string, items []code.Value) (string, error) {
	parts := make([]string, len(items))
	for i, it := range items {
		if _, ok := it.(*code.Code); ok {
			return "", fmt.Errorf("code object nested in a container")
		}
		s, err := literal(it)
		if err != nil {
			return "", err
		}
		parts[i] = s
	}
	return begin + strings.Join(parts, ", ") + end, nil
}

func isFinite(f float64) bool { return !math.IsInf(f, 0) && !math.IsNaN(f) }

// floatText always carries a '.' or exponent so the lexer reads a float.
func floatText(f float64) string {
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(s, ".e") {
		s += ".0"
	}
	return s
}

func floatLiteral(f float64) string {
	if !isFinite(f) {
		return fmt.Sprintf("float(%q)", strconv.FormatFloat(f, 'g', -1, 64))
	}
	return floatText(f)
}
