package disasm

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"pydis/internal/code"
	"pydis/internal/opcode"
)

// CPython 3.10 opcodes used below.
const (
	opNop          = 9
	opReturnValue  = 83
	opForIter      = 93
	opLoadConst    = 100
	opLoadAttr     = 106
	opCompareOp    = 107
	opJumpForward  = 110
	opJumpAbsolute = 113
	opLoadFast     = 124
	opLoadDeref    = 136
	opCallFunction = 131
)

func render(t *testing.T, co *code.Code, opts ...Option) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	err := New(&buf, opts...).Disassemble(co)
	return buf.String(), err
}

func mustRender(t *testing.T, co *code.Code, opts ...Option) string {
	t.Helper()
	out, err := render(t, co, opts...)
	if err != nil {
		t.Fatalf("Disassemble failed: %v", err)
	}
	return out
}

func rowLines(out string) []string {
	lines := strings.Split(strings.TrimSuffix(out, "\n"), "\n")
	return lines[1:]
}

func TestLoadConstReturn(t *testing.T) {
	co := &code.Code{
		Name:        "f",
		FirstLineNo: 1,
		Bytecode:    []byte{opLoadConst, 0, opReturnValue, 0},
		Consts:      []code.Value{code.Str("hello")},
		LineTable:   code.EncodeLineTable(1, 4, []code.LineEntry{{Offset: 0, Line: 1}}),
	}
	want := "# f @ line 1\n" +
		"1    0 6400    LOAD_CONST" + strings.Repeat(" ", 14) + "'hello'\n" +
		"     1 5300    RETURN_VALUE\n"
	if got := mustRender(t, co); got != want {
		t.Errorf("listing mismatch\ngot:\n%s\nwant:\n%s", got, want)
	}
}

func TestExtendedArgResolvesConstant(t *testing.T) {
	consts := make([]code.Value, 301)
	for i := range consts {
		consts[i] = code.NewInt(int64(i * 10))
	}
	co := &code.Code{
		Name:     "big",
		Bytecode: []byte{144, 0x01, opLoadConst, 0x2c, opReturnValue, 0},
		Consts:   consts,
	}
	l, err := New(nil).Listing(co)
	if err != nil {
		t.Fatalf("Listing failed: %v", err)
	}
	load := l.Rows[1]
	if load.Arg != 300 {
		t.Errorf("Arg = %d, want 300", load.Arg)
	}
	if load.ArgRepr != "3000" {
		t.Errorf("ArgRepr = %q, want 3000", load.ArgRepr)
	}
	if l.Rows[0].Opname != "EXTENDED_ARG" || l.Rows[0].ArgRepr != "<1>" {
		t.Errorf("prefix row = %+v", l.Rows[0])
	}
}

func TestLabels(t *testing.T) {
	// 0 NOP
	// 1 FOR_ITER +2      -> 4
	// 2 NOP
	// 3 JUMP_ABSOLUTE 1
	// 4 RETURN_VALUE
	co := &code.Code{
		Name: "loop",
		Bytecode: []byte{
			opNop, 0,
			opForIter, 2,
			opNop, 0,
			opJumpAbsolute, 1,
			opReturnValue, 0,
		},
	}
	l, err := New(nil).Listing(co)
	if err != nil {
		t.Fatalf("Listing failed: %v", err)
	}
	wantTargets := map[int]bool{1: true, 4: true}
	for _, r := range l.Rows {
		if r.IsTarget != wantTargets[r.Offset] {
			t.Errorf("offset %d: IsTarget = %v", r.Offset, r.IsTarget)
		}
	}
	if l.Rows[1].ArgRepr != "<to 4>" {
		t.Errorf("relative jump text = %q", l.Rows[1].ArgRepr)
	}
	if l.Rows[3].ArgRepr != "<to 1>" {
		t.Errorf("absolute jump text = %q", l.Rows[3].ArgRepr)
	}

	out := mustRender(t, co)
	for i, line := range rowLines(out) {
		marked := strings.Contains(line, LabelMarker)
		if marked != wantTargets[i] {
			t.Errorf("row %d marker = %v: %q", i, marked, line)
		}
	}
}

func TestRelativeJumpUsesExtendedOperand(t *testing.T) {
	bc := []byte{144, 1, opJumpForward, 0}
	for i := 0; i < 300; i++ {
		bc = append(bc, opNop, 0)
	}
	co := &code.Code{Name: "far", Bytecode: bc}
	l, err := New(nil).Listing(co)
	if err != nil {
		t.Fatalf("Listing failed: %v", err)
	}
	if got := l.Rows[1].ArgRepr; got != "<to 258>" {
		t.Errorf("jump text = %q, want <to 258>", got)
	}
	if !l.Rows[258].IsTarget {
		t.Error("offset 258 should be a label")
	}
}

const backwardTable = `
have_argument = 90
extended_arg = "EXTENDED_ARG"

[ops]
NOP = 9
RETURN_VALUE = 83
EXTENDED_ARG = 144
JUMP_BACKWARD = 140

[categories]
jback = ["JUMP_BACKWARD"]
`

func TestBackwardRelativeJump(t *testing.T) {
	tbl, err := opcode.Parse([]byte(backwardTable))
	if err != nil {
		t.Fatalf("Parse table: %v", err)
	}
	co := &code.Code{
		Name:     "back",
		Bytecode: []byte{opNop, 0, opNop, 0, opNop, 0, 140, 3, opReturnValue, 0},
	}
	var buf bytes.Buffer
	if err := New(&buf, WithTable(tbl)).Disassemble(co); err != nil {
		t.Fatalf("Disassemble failed: %v", err)
	}
	rows := rowLines(buf.String())
	for i, line := range rows {
		marked := strings.Contains(line, LabelMarker)
		if marked != (i == 1) {
			t.Errorf("row %d marker = %v: %q", i, marked, line)
		}
	}
	if !strings.HasSuffix(rows[3], "<to 1>") {
		t.Errorf("backward jump row = %q", rows[3])
	}
}

func TestOperandCategories(t *testing.T) {
	co := &code.Code{
		Name: "cats",
		Bytecode: []byte{
			opLoadFast, 1,
			opLoadAttr, 0,
			opLoadDeref, 0,
			opLoadDeref, 2,
			opCompareOp, 2,
			opCallFunction, 3,
			200, 7,
			0, 0,
		},
		VarNames: []string{"a", "b"},
		Names:    []string{"attr"},
		CellVars: []string{"cell0", "cell1"},
		FreeVars: []string{"free0"},
	}
	l, err := New(nil).Listing(co)
	if err != nil {
		t.Fatalf("Listing failed: %v", err)
	}
	want := []struct {
		opname, cat, repr string
	}{
		{"LOAD_FAST", "local", "b"},
		{"LOAD_ATTR", "name", "attr"},
		{"LOAD_DEREF", "free", "cell0"},
		{"LOAD_DEREF", "free", "free0"},
		{"COMPARE_OP", "compare", "=="},
		{"CALL_FUNCTION", "raw", "<3>"},
		{"<200>", "raw", "<7>"},
		{"<0>", "none", ""},
	}
	for i, w := range want {
		r := l.Rows[i]
		if r.Opname != w.opname || r.Category != w.cat || r.ArgRepr != w.repr {
			t.Errorf("row %d = %s/%s/%q, want %s/%s/%q", i, r.Opname, r.Category, r.ArgRepr, w.opname, w.cat, w.repr)
		}
	}
}

func TestMalformedEncoding(t *testing.T) {
	co := &code.Code{Name: "odd", Bytecode: []byte{opLoadConst, 0, opReturnValue}}
	out, err := render(t, co)
	if !errors.Is(err, ErrMalformedEncoding) {
		t.Fatalf("err = %v, want ErrMalformedEncoding", err)
	}
	if out != "" {
		t.Errorf("nothing should be written, got %q", out)
	}
}

func TestOperandOutOfRange(t *testing.T) {
	tests := []struct {
		name string
		co   *code.Code
		cat  opcode.Category
	}{
		{"const", &code.Code{Name: "c", Bytecode: []byte{opLoadConst, 1}, Consts: []code.Value{code.None}}, opcode.Const},
		{"local", &code.Code{Name: "l", Bytecode: []byte{opLoadFast, 0}}, opcode.Local},
		{"name", &code.Code{Name: "n", Bytecode: []byte{opLoadAttr, 3}, Names: []string{"x"}}, opcode.Name},
		{"free", &code.Code{Name: "f", Bytecode: []byte{opLoadDeref, 2}, CellVars: []string{"a"}, FreeVars: []string{"b"}}, opcode.Free},
		{"compare", &code.Code{Name: "cmp", Bytecode: []byte{opCompareOp, 6}}, opcode.Compare},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := render(t, tt.co)
			var opErr *OperandError
			if !errors.As(err, &opErr) {
				t.Fatalf("err = %v, want *OperandError", err)
			}
			if opErr.Code != tt.co.Name || opErr.Offset != 0 || opErr.Category != tt.cat {
				t.Errorf("OperandError = %+v", opErr)
			}
		})
	}
}

func nested() (*code.Code, *code.Code, *code.Code) {
	inner := &code.Code{
		Name:        "inner",
		FirstLineNo: 2,
		Bytecode:    []byte{opLoadConst, 0, opReturnValue, 0},
		Consts:      []code.Value{code.None},
	}
	sibling := &code.Code{
		Name:        "sibling",
		FirstLineNo: 5,
		Bytecode:    []byte{opReturnValue, 0},
	}
	outer := &code.Code{
		Name:        "<module>",
		FirstLineNo: 1,
		Bytecode:    []byte{opLoadConst, 0, opLoadConst, 1, opReturnValue, 0},
		Consts:      []code.Value{inner, code.Str("inner"), sibling},
	}
	return outer, inner, sibling
}

func TestRecursiveOrder(t *testing.T) {
	outer, _, _ := nested()

	flat := mustRender(t, outer)
	if strings.Contains(flat, "# inner") {
		t.Error("non-recursive render should not descend")
	}

	out := mustRender(t, outer, WithRecursive(true))
	sections := strings.Split(out, "\n\n")
	if len(sections) != 3 {
		t.Fatalf("got %d sections, want 3:\n%s", len(sections), out)
	}
	if !strings.HasPrefix(sections[0], "# <module> @ line 1") ||
		!strings.HasPrefix(sections[1], "# inner @ line 2") ||
		!strings.HasPrefix(sections[2], "# sibling @ line 5") {
		t.Errorf("unexpected order:\n%s", out)
	}
	if strings.Contains(out, "\n\n\n") {
		t.Error("sections must be separated by exactly one blank line")
	}
	if !strings.HasPrefix(out, flat) {
		t.Error("outer listing must be complete before nested listings")
	}
}

func TestRecursiveStopsAtFailure(t *testing.T) {
	outer, inner, _ := nested()
	inner.Bytecode = []byte{opLoadConst, 9}

	out, err := render(t, outer, WithRecursive(true))
	var opErr *OperandError
	if !errors.As(err, &opErr) || opErr.Code != "inner" {
		t.Fatalf("err = %v, want OperandError in inner", err)
	}
	if !strings.Contains(out, "# <module> @ line 1") {
		t.Error("outer listing should remain written")
	}
	if strings.Contains(out, "# sibling") {
		t.Error("rendering should stop at the failing object")
	}
}

func TestMaxDepth(t *testing.T) {
	leaf := &code.Code{Name: "leaf", Bytecode: []byte{opReturnValue, 0}}
	mid := &code.Code{Name: "mid", Bytecode: []byte{opReturnValue, 0}, Consts: []code.Value{leaf}}
	root := &code.Code{Name: "root", Bytecode: []byte{opReturnValue, 0}, Consts: []code.Value{mid}}

	if _, err := render(t, root, WithRecursive(true), WithMaxDepth(1)); !errors.Is(err, ErrMaxDepth) {
		t.Errorf("err = %v, want ErrMaxDepth", err)
	}
	if _, err := render(t, root, WithRecursive(true), WithMaxDepth(2)); err != nil {
		t.Errorf("depth 2 should succeed: %v", err)
	}
	if _, err := New(nil, WithRecursive(true), WithMaxDepth(0)).Listing(root); err != nil {
		t.Errorf("unbounded listing failed: %v", err)
	}
}

func TestListingChildren(t *testing.T) {
	outer, _, _ := nested()
	l, err := New(nil, WithRecursive(true)).Listing(outer)
	if err != nil {
		t.Fatalf("Listing failed: %v", err)
	}
	if len(l.Children) != 2 || l.Children[0].Name != "inner" || l.Children[1].Name != "sibling" {
		t.Fatalf("children = %+v", l.Children)
	}
	if got := l.Rows[0].ArgRepr; got != `<code object inner, file "", line 2>` {
		t.Errorf("code constant repr = %q", got)
	}
	if len(l.Children[0].Rows) != 2 {
		t.Errorf("inner rows = %d", len(l.Children[0].Rows))
	}
}

func TestColumnWidths(t *testing.T) {
	bc := make([]byte, 0, 24)
	for i := 0; i < 12; i++ {
		bc = append(bc, opNop, 0)
	}
	co := &code.Code{
		Name:        "wide",
		FirstLineNo: 100,
		Bytecode:    bc,
		LineTable:   code.EncodeLineTable(100, len(bc), []code.LineEntry{{Offset: 0, Line: 100}, {Offset: 20, Line: 1000}}),
	}
	rows := rowLines(mustRender(t, co))
	if !strings.HasPrefix(rows[0], " 100     0 0900    NOP") {
		t.Errorf("row 0 = %q", rows[0])
	}
	if !strings.HasPrefix(rows[10], "1000    10 0900    NOP") {
		t.Errorf("row 10 = %q", rows[10])
	}
	if !strings.HasPrefix(rows[1], strings.Repeat(" ", 9)+"1 0900") {
		t.Errorf("row 1 = %q", rows[1])
	}
}
