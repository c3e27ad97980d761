package marshal

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/big"

	"pydis/internal/code"
)

// The writer never emits references; every object is written inline.
type writer struct {
	buf []byte
}

// Marshal encodes co in the marshal format used by CPython 3.10.
func Marshal(co *code.Code) ([]byte, error) {
	w := &writer{}
	if err := w.writeCode(co); err != nil {
		return nil, err
	}
	return w.buf, nil
}

func (w *writer) putByte(b byte) { w.buf = append(w.buf, b) }

func (w *writer) putInt32(n int32) { w.buf = binary.LittleEndian.AppendUint32(w.buf, uint32(n)) }

func (w *writer) putSize(n int) error {
	if n > math.MaxInt32 {
		return fmt.Errorf("marshal: object of length %d too large", n)
	}
	w.putInt32(int32(n))
	return nil
}

func (w *writer) putFloat(f float64) { w.buf = binary.LittleEndian.AppendUint64(w.buf, math.Float64bits(f)) }

func (w *writer) writeValue(v code.Value) error {
	switch v := v.(type) {
	case code.NoneValue:
		w.putByte(typeNone)
	case code.EllipsisValue:
		w.putByte(typeEllipsis)
	case code.Bool:
		if v {
			w.putByte(typeTrue)
		} else {
			w.putByte(typeFalse)
		}
	case code.Int:
		w.writeInt(v.Big())
	case code.Float:
		w.putByte(typeBinaryFloat)
		w.putFloat(float64(v))
	case code.Complex:
		w.putByte(typeBinaryComplex)
		w.putFloat(real(v))
		w.putFloat(imag(v))
	case code.Str:
		return w.writeStr(string(v))
	case code.Bytes:
		w.putByte(typeString)
		if err := w.putSize(len(v)); err != nil {
			return err
		}
		w.buf = append(w.buf, v...)
	case code.Tuple:
		return w.writeSeq(typeTuple, v)
	case code.List:
		return w.writeSeq(typeList, v)
	case code.Set:
		return w.writeSeq(typeSet, v)
	case code.FrozenSet:
		return w.writeSeq(typeFrozenSet, v)
	case *code.Code:
		return w.writeCode(v)
	default:
		return fmt.Errorf("marshal: %w: %T", ErrUnsupported, v)
	}
	return nil
}

func (w *writer) writeInt(n *big.Int) {
	if n.IsInt64() && n.Int64() >= math.MinInt32 && n.Int64() <= math.MaxInt32 {
		w.putByte(typeInt)
		w.putInt32(int32(n.Int64()))
		return
	}
	w.putByte(typeLong)
	mag := new(big.Int).Abs(n)
	var digits []uint16
	mask := big.NewInt(1<<15 - 1)
	d := new(big.Int)
	for mag.Sign() > 0 {
		digits = append(digits, uint16(d.And(mag, mask).Uint64()))
		mag.Rsh(mag, 15)
	}
	count := int32(len(digits))
	if n.Sign() < 0 {
		count = -count
	}
	w.putInt32(count)
	for _, dg := range digits {
		w.buf = binary.LittleEndian.AppendUint16(w.buf, dg)
	}
}

func (w *writer) writeStr(s string) error {
	ascii := true
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			ascii = false
			break
		}
	}
	switch {
	case ascii && len(s) < 256:
		w.putByte(typeShortASCII)
		w.putByte(byte(len(s)))
	case ascii:
		w.putByte(typeASCII)
		if err := w.putSize(len(s)); err != nil {
			return err
		}
	default:
		w.putByte(typeUnicode)
		if err := w.putSize(len(s)); err != nil {
			return err
		}
	}
	w.buf = append(w.buf, s...)
	return nil
}

func (w *writer) writeSeq(typ byte, items []code.Value) error {
	if typ == typeTuple && len(items) < 256 {
		w.putByte(typeSmallTuple)
		w.putByte(byte(len(items)))
	} else {
		w.putByte(typ)
		if err := w.putSize(len(items)); err != nil {
			return err
		}
	}
	for _, it := range items {
		if err := w.writeValue(it); err != nil {
			return err
		}
	}
	return nil
}

func (w *writer) writeNames(names []string) error {
	items := make([]code.Value, len(names))
	for i, n := range names {
		items[i] = code.Str(n)
	}
	return w.writeSeq(typeTuple, items)
}

func (w *writer) writeCode(co *code.Code) error {
	w.putByte(typeCode)
	for _, n := range []int{co.ArgCount, co.PosOnlyArgCount, co.KwOnlyArgCount, co.NLocals, co.StackSize} {
		w.putInt32(int32(n))
	}
	w.putInt32(int32(co.Flags))
	if err := w.writeValue(code.Bytes(co.Bytecode)); err != nil {
		return err
	}
	if err := w.writeSeq(typeTuple, co.Consts); err != nil {
		return fmt.Errorf("code %s: %w", co.Name, err)
	}
	for _, names := range [][]string{co.Names, co.VarNames, co.FreeVars, co.CellVars} {
		if err := w.writeNames(names); err != nil {
			return err
		}
	}
	if err := w.writeStr(co.Filename); err != nil {
		return err
	}
	if err := w.writeStr(co.Name); err != nil {
		return err
	}
	w.putInt32(int32(co.FirstLineNo))
	return w.writeValue(code.Bytes(co.LineTable))
}
