// Package code models compiled code objects: the instruction buffer, the
// name and constant tables the operands index into, and the line table.
package code

import (
	"fmt"
	"strconv"
	"strings"
)

// Code object flags (CPython Include/cpython/code.h).
const (
	FlagOptimized         = 0x0001
	FlagNewLocals         = 0x0002
	FlagVarArgs           = 0x0004
	FlagVarKeywords       = 0x0008
	FlagNested            = 0x0010
	FlagGenerator         = 0x0020
	FlagNoFree            = 0x0040
	FlagCoroutine         = 0x0080
	FlagIterableCoroutine = 0x0100
	FlagAsyncGenerator    = 0x0200
)

var flagNames = []struct {
	bit  uint32
	name string
}{
	{FlagOptimized, "OPTIMIZED"},
	{FlagNewLocals, "NEWLOCALS"},
	{FlagVarArgs, "VARARGS"},
	{FlagVarKeywords, "VARKEYWORDS"},
	{FlagNested, "NESTED"},
	{FlagGenerator, "GENERATOR"},
	{FlagNoFree, "NOFREE"},
	{FlagCoroutine, "COROUTINE"},
	{FlagIterableCoroutine, "ITERABLE_COROUTINE"},
	{FlagAsyncGenerator, "ASYNC_GENERATOR"},
}

// Code is one compiled function body. It is treated as immutable once built.
type Code struct {
	ArgCount        int
	PosOnlyArgCount int
	KwOnlyArgCount  int
	NLocals         int
	StackSize       int
	Flags           uint32

	Bytecode []byte
	Consts   []Value
	Names    []string
	VarNames []string
	FreeVars []string
	CellVars []string

	Filename    string
	Name        string
	FirstLineNo int
	LineTable   []byte
}

func (*Code) isValue() {}

// Repr mirrors Python's code object repr without the address.
func (c *Code) Repr() string {
	return "<code object " + c.Name + ", file \"" + c.Filename + "\", line " + strconv.Itoa(c.FirstLineNo) + ">"
}

// FlagNames lists the symbolic names of the set flags, unknown bits as hex.
func (c *Code) FlagNames() []string {
	var names []string
	rest := c.Flags
	for _, f := range flagNames {
		if c.Flags&f.bit != 0 {
			names = append(names, f.name)
			rest &^= f.bit
		}
	}
	if rest != 0 {
		names = append(names, fmt.Sprintf("0x%x", rest))
	}
	return names
}

// FlagString joins FlagNames with '|'.
func (c *Code) FlagString() string {
	return strings.Join(c.FlagNames(), "|")
}

// Children returns the nested code objects in constant-pool order.
func (c *Code) Children() []*Code {
	var out []*Code
	for _, v := range c.Consts {
		if sub, ok := v.(*Code); ok {
			out = append(out, sub)
		}
	}
	return out
}

// Walk visits c and every nested code object in pre-order. Returning false
// from fn skips the children of that object.
func (c *Code) Walk(fn func(co *Code, depth int) bool) {
	c.walk(fn, 0)
}

func (c *Code) walk(fn func(*Code, int) bool, depth int) {
	if !fn(c, depth) {
		return
	}
	for _, sub := range c.Children() {
		sub.walk(fn, depth+1)
	}
}
