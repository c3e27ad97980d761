package disasm

import (
	"errors"
	"fmt"

	"pydis/internal/opcode"
)

var (
	// ErrMalformedEncoding means the instruction buffer is not a whole
	// number of units. Nothing is written for such a code object.
	ErrMalformedEncoding = errors.New("malformed instruction encoding")

	// ErrMaxDepth means recursive disassembly nested deeper than allowed.
	ErrMaxDepth = errors.New("maximum nesting depth exceeded")
)

// OperandError reports an operand index that falls outside the table its
// category refers to.
type OperandError struct {
	Code     string
	Offset   int
	Opname   string
	Category opcode.Category
	Index    uint64
	Len      int
}

func (e *OperandError) Error() string {
	return fmt.Sprintf("code %s, offset %d: %s operand %d out of range for %s table of length %d",
		e.Code, e.Offset, e.Opname, e.Index, e.Category, e.Len)
}
