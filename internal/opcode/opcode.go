// Package opcode holds the versioned opcode tables the disassembler decodes
// against: mnemonics, operand categories, the argument threshold and the
// operand extension prefix.
package opcode

import (
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
)

// Category classifies how an opcode's operand is turned into text.
type Category int

const (
	None     Category = iota // no operand
	Local                    // index into VarNames
	Const                    // index into Consts
	Name                     // index into Names
	Free                     // index into CellVars, then FreeVars
	Compare                  // index into the comparison operator table
	JumpAbs                  // absolute unit offset
	JumpRel                  // forward delta from the next unit
	JumpBack                 // backward delta from the next unit
	Raw                      // plain number
)

var categoryNames = [...]string{
	None:     "none",
	Local:    "local",
	Const:    "const",
	Name:     "name",
	Free:     "free",
	Compare:  "compare",
	JumpAbs:  "jabs",
	JumpRel:  "jrel",
	JumpBack: "jback",
	Raw:      "raw",
}

func (c Category) String() string {
	if c < 0 || int(c) >= len(categoryNames) {
		return fmt.Sprintf("category(%d)", int(c))
	}
	return categoryNames[c]
}

// IsJump reports whether the operand is a branch target.
func (c Category) IsJump() bool {
	return c == JumpAbs || c == JumpRel || c == JumpBack
}

// ParseCategory maps a table key such as "jrel" back to its Category.
func ParseCategory(s string) (Category, error) {
	for i, name := range categoryNames {
		if name == s {
			return Category(i), nil
		}
	}
	return None, fmt.Errorf("unknown operand category %q", s)
}

//go:embed python310.toml
var python310 []byte

var ErrInvalidTable = errors.New("invalid opcode table")

var defaultTable = sync.OnceValue(func() *Table {
	t, err := Parse(python310)
	if err != nil {
		panic(fmt.Sprintf("opcode: embedded table: %v", err))
	}
	return t
})

// Default returns the embedded CPython 3.10 table.
func Default() *Table {
	return defaultTable()
}

// LoadFile reads a table from a TOML file.
func LoadFile(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read opcode table: %w", err)
	}
	t, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// Load reads a table from r.
func Load(r io.Reader) (*Table, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read opcode table: %w", err)
	}
	return Parse(data)
}
