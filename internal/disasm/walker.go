// Package disasm decodes word-code instruction streams and renders them as
// annotated listings.
package disasm

import (
	"encoding/binary"
	"iter"
)

// UnitSize is the width of one instruction unit: opcode byte + operand byte.
const UnitSize = 2

// Instruction is one decoded unit.
type Instruction struct {
	Offset   int    // unit index, not byte offset
	Op       byte   // low byte of the unit
	ShortArg byte   // high byte of the unit
	Arg      uint64 // ShortArg combined with preceding extension prefixes
}

// ByteOffset is the address used by line tables.
func (in Instruction) ByteOffset() int { return in.Offset * UnitSize }

// Unpack walks code one unit at a time. Units whose opcode is extendedArg
// shift their accumulated operand into the next unit's high bits; they are
// still yielded so listings show them. A trailing odd byte is ignored.
func Unpack(code []byte, extendedArg byte) iter.Seq[Instruction] {
	return func(yield func(Instruction) bool) {
		var ext uint64
		for i := 0; i+UnitSize <= len(code); i += UnitSize {
			unit := binary.LittleEndian.Uint16(code[i:])
			in := Instruction{
				Offset:   i / UnitSize,
				Op:       byte(unit & 0xff),
				ShortArg: byte(unit >> 8),
			}
			in.Arg = uint64(in.ShortArg) | ext
			if in.Op == extendedArg {
				ext = in.Arg << 8
			} else {
				ext = 0
			}
			if !yield(in) {
				return
			}
		}
	}
}
