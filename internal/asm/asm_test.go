package asm

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"slices"
	"strings"
	"testing"

	"pydis/internal/code"
	"pydis/internal/disasm"
	"pydis/internal/marshal"
	"pydis/internal/opcode"
)

const example = `# comment
code "<module>" file "m.py" line 1 {
    consts { None, 1, -2.5, 3j, "s", b"\x00", (1,), frozenset(1, 2), ...,
             code "f" line 2 { RETURN_VALUE } }
    names { "print" }
    varnames { "x" }
    stacksize 2
    line 2
loop:
    LOAD_GLOBAL "print"
    LOAD_CONST 0
    COMPARE_OP "<"
    POP_JUMP_IF_FALSE @loop
    RETURN_VALUE
}
`

func TestAssembleExample(t *testing.T) {
	co, err := New().Assemble("m.pyasm", []byte(example))
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}
	wantCode := []byte{116, 0, 100, 0, 107, 0, 114, 0, 83, 0}
	if !bytes.Equal(co.Bytecode, wantCode) {
		t.Errorf("bytecode = % x, want % x", co.Bytecode, wantCode)
	}
	wantConsts := []string{
		"None", "1", "-2.5", "3j", "'s'", `b'\x00'`, "(1,)", "frozenset({1, 2})", "Ellipsis",
		`<code object f, file "m.py", line 2>`,
	}
	var got []string
	for _, c := range co.Consts {
		got = append(got, c.Repr())
	}
	if !slices.Equal(got, wantConsts) {
		t.Errorf("consts = %v\nwant %v", got, wantConsts)
	}
	if co.Filename != "m.py" || co.FirstLineNo != 1 || co.StackSize != 2 || co.NLocals != 1 {
		t.Errorf("attributes = %+v", co)
	}
	if co.Flags != code.FlagNoFree {
		t.Errorf("flags = %#x", co.Flags)
	}
	if starts := co.LineStarts(); len(starts) != 1 || starts[0] != 2 {
		t.Errorf("line starts = %v", starts)
	}
	if len(co.Children()) != 1 || !bytes.Equal(co.Children()[0].Bytecode, []byte{83, 0}) {
		t.Errorf("nested code = %+v", co.Children())
	}
}

func TestStringOperandsAppend(t *testing.T) {
	src := `code "f" {
    cellvars { "c" }
    LOAD_FAST "a"
    LOAD_FAST "b"
    LOAD_FAST "a"
    LOAD_ATTR "real"
    LOAD_DEREF "c"
    LOAD_DEREF "free"
    LOAD_CONST "doc"
    RETURN_VALUE
}`
	co, err := New().Assemble("f.pyasm", []byte(src))
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}
	args := []byte{0, 1, 0, 0, 0, 1, 0, 0}
	for i, want := range args {
		if got := co.Bytecode[i*2+1]; got != want {
			t.Errorf("instruction %d arg = %d, want %d", i, got, want)
		}
	}
	if !slices.Equal(co.VarNames, []string{"a", "b"}) || !slices.Equal(co.Names, []string{"real"}) {
		t.Errorf("tables = %v %v", co.VarNames, co.Names)
	}
	if !slices.Equal(co.FreeVars, []string{"free"}) || co.Flags&code.FlagNoFree != 0 {
		t.Errorf("free vars = %v flags %#x", co.FreeVars, co.Flags)
	}
	if len(co.Consts) != 1 || co.Consts[0].Repr() != "'doc'" {
		t.Errorf("consts = %v", co.Consts)
	}
}

func TestExtendedArgInsertion(t *testing.T) {
	var consts strings.Builder
	for i := range 301 {
		fmt.Fprintf(&consts, "%d, ", i)
	}
	src := fmt.Sprintf("code \"m\" {\n consts { %s }\n LOAD_CONST 300\n RETURN_VALUE\n}", consts.String())
	co, err := New().Assemble("m.pyasm", []byte(src))
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}
	want := []byte{144, 1, 100, 44, 83, 0}
	if !bytes.Equal(co.Bytecode, want) {
		t.Errorf("bytecode = % x, want % x", co.Bytecode, want)
	}
}

func TestJumpLayoutFixedPoint(t *testing.T) {
	var body strings.Builder
	body.WriteString("code \"m\" {\n top:\n JUMP_FORWARD @end\n")
	for range 300 {
		body.WriteString(" NOP\n")
	}
	body.WriteString(" JUMP_ABSOLUTE @top\n end:\n RETURN_VALUE\n}\n")

	co, err := New().Assemble("m.pyasm", []byte(body.String()))
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}
	// the forward jump needs one prefix: it lands past 300 NOPs and the
	// absolute jump
	if !bytes.Equal(co.Bytecode[:4], []byte{144, 1, 110, 45}) {
		t.Errorf("forward jump = % x", co.Bytecode[:4])
	}
	l, err := disasm.New(nil).Listing(co)
	if err != nil {
		t.Fatalf("Listing failed: %v", err)
	}
	if got := l.Rows[1].ArgRepr; got != "<to 303>" {
		t.Errorf("forward jump renders %q", got)
	}
	if l.Rows[303].Opname != "RETURN_VALUE" || !l.Rows[303].IsTarget {
		t.Errorf("row 303 = %+v", l.Rows[303])
	}
	if got := l.Rows[302].ArgRepr; got != "<to 0>" || !l.Rows[0].IsTarget {
		t.Errorf("backward jump renders %q", got)
	}
}

func TestBackwardLabelTable(t *testing.T) {
	tbl, err := opcode.Parse([]byte(`
have_argument = 90
extended_arg = "EXTENDED_ARG"
[ops]
NOP = 9
RETURN_VALUE = 83
EXTENDED_ARG = 144
JUMP_BACKWARD = 140
[categories]
jback = ["JUMP_BACKWARD"]
`))
	if err != nil {
		t.Fatalf("Parse table: %v", err)
	}
	co, err := New(WithTable(tbl)).Assemble("b.pyasm", []byte(`code "b" { NOP again: NOP NOP JUMP_BACKWARD @again RETURN_VALUE }`))
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}
	if !bytes.Equal(co.Bytecode[6:8], []byte{140, 3}) {
		t.Errorf("backward jump = % x", co.Bytecode[6:8])
	}
}

func TestLineDirectives(t *testing.T) {
	src := `code "m" line 10 {
    NOP
    line 12
    NOP
    NOP
    line 11
    RETURN_VALUE
}`
	co, err := New().Assemble("m.pyasm", []byte(src))
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}
	starts := co.LineStarts()
	want := map[int]int{0: 10, 2: 12, 6: 11}
	if len(starts) != len(want) {
		t.Fatalf("line starts = %v", starts)
	}
	for off, line := range want {
		if starts[off] != line {
			t.Errorf("offset %d line %d, want %d", off, starts[off], line)
		}
	}
}

func TestAssembleErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"unknown mnemonic", "    FROB 1", "unknown mnemonic FROB"},
		{"undefined label", "    JUMP_ABSOLUTE @nowhere", "undefined label nowhere"},
		{"duplicate label", "    a: a:", "label a defined twice"},
		{"label on non-jump", "    LOAD_FAST @x", "does not take a label"},
		{"bad comparison", `    COMPARE_OP "<>"`, "unknown comparison"},
		{"string raw operand", `    CALL_FUNCTION "x"`, "cannot be a string"},
		{"operand too big", "    LOAD_CONST 4294967296", "out of range"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := "code \"m\" {\n    NOP\n" + tt.body + "\n}\n"
			_, err := New().Assemble("bad.pyasm", []byte(src))
			if !errors.Is(err, ErrAssemble) {
				t.Fatalf("err = %v, want ErrAssemble", err)
			}
			if !strings.Contains(err.Error(), tt.want) || !strings.Contains(err.Error(), "bad.pyasm:3:") {
				t.Errorf("err = %v", err)
			}
		})
	}

	t.Run("syntax", func(t *testing.T) {
		_, err := New().Assemble("bad.pyasm", []byte("code \"m\" { consts { 1 2 } }"))
		if err == nil || errors.Is(err, ErrAssemble) {
			t.Errorf("err = %v, want a parse error", err)
		}
	})
}

// marshal.dumps(compile("x = 1\nprint(x)\n", "m.py", "exec")) under CPython 3.10.
const moduleHex = "e3000000000000000000000000000000000200000040000000731000000064005a0065016500830101" +
	"0064015300" + "2902e9010000004e2902da0178da057072696e74a90072040000007204000000fa046d2e7079" +
	"da083c6d6f64756c653e01000000730400000004000c01"

func TestFormatRoundTrip(t *testing.T) {
	data, err := hex.DecodeString(moduleHex)
	if err != nil {
		t.Fatal(err)
	}
	module, err := marshal.Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	inner, err := New().Assemble("f.pyasm", []byte(`code "f" file "m.py" line 3 {
    consts { None, 1.0, float("inf"), complex(1.5, -2.0), -0j, b"\xff", "é", [1], set() }
    varnames { "n" }
    argcount 1
    flags 0x43
loop:
    LOAD_FAST 0
    POP_JUMP_IF_FALSE @done
    JUMP_ABSOLUTE @loop
done:
    LOAD_CONST 0
    RETURN_VALUE
}`))
	if err != nil {
		t.Fatalf("Assemble inner failed: %v", err)
	}
	module.Consts = append(module.Consts, inner)

	for _, co := range []*code.Code{module, inner} {
		t.Run(co.Name, func(t *testing.T) {
			var buf bytes.Buffer
			if err := Format(&buf, co, nil); err != nil {
				t.Fatalf("Format failed: %v", err)
			}
			again, err := New().Assemble("round.pyasm", buf.Bytes())
			if err != nil {
				t.Fatalf("reassembly failed: %v\n%s", err, buf.String())
			}
			if !bytes.Equal(again.Bytecode, co.Bytecode) {
				t.Errorf("bytecode % x, want % x\n%s", again.Bytecode, co.Bytecode, buf.String())
			}
			if !bytes.Equal(again.LineTable, co.LineTable) {
				t.Errorf("line table % x, want % x", again.LineTable, co.LineTable)
			}
			if again.Flags != co.Flags || again.Filename != co.Filename || again.FirstLineNo != co.FirstLineNo {
				t.Errorf("attributes differ: %+v", again)
			}
			if len(again.Consts) != len(co.Consts) {
				t.Fatalf("consts %d, want %d", len(again.Consts), len(co.Consts))
			}
			for i := range co.Consts {
				if g, w := again.Consts[i].Repr(), co.Consts[i].Repr(); g != w {
					t.Errorf("const %d = %s, want %s", i, g, w)
				}
			}
		})
	}
}
