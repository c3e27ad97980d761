// Package marshal reads and writes the CPython 3.10 marshal format and the
// .pyc container around it.
package marshal

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"unicode/utf8"

	"pydis/internal/code"
)

// Type codes (Python/marshal.c).
const (
	typeNull             = '0'
	typeNone             = 'N'
	typeFalse            = 'F'
	typeTrue             = 'T'
	typeStopIter         = 'S'
	typeEllipsis         = '.'
	typeInt              = 'i'
	typeInt64            = 'I'
	typeFloat            = 'f'
	typeBinaryFloat      = 'g'
	typeComplex          = 'x'
	typeBinaryComplex    = 'y'
	typeLong             = 'l'
	typeString           = 's'
	typeInterned         = 't'
	typeRef              = 'r'
	typeTuple            = '('
	typeList             = '['
	typeDict             = '{'
	typeCode             = 'c'
	typeUnicode          = 'u'
	typeUnknown          = '?'
	typeSet              = '<'
	typeFrozenSet        = '>'
	typeASCII            = 'a'
	typeASCIIInterned    = 'A'
	typeSmallTuple       = ')'
	typeShortASCII       = 'z'
	typeShortASCIIIntern = 'Z'

	flagRef = 0x80
)

// Nesting limit of marshal.c.
const maxDepth = 2000

var (
	ErrUnexpectedEOF = errors.New("unexpected end of marshal data")
	ErrCorrupt       = errors.New("corrupt marshal data")
	ErrUnsupported   = errors.New("unsupported marshal type")
)

// Error carries the byte position where decoding failed.
type Error struct {
	Pos int
	Err error
}

func (e *Error) Error() string { return fmt.Sprintf("marshal: offset %d: %v", e.Pos, e.Err) }

func (e *Error) Unwrap() error { return e.Err }

// reader decodes one marshalled object graph from a byte slice.
type reader struct {
	data   []byte
	offset int
	refs   []any
	depth  int
}

// Unmarshal decodes a marshalled code object.
func Unmarshal(data []byte) (*code.Code, error) {
	r := &reader{data: data}
	v, err := r.readObject()
	if err != nil {
		return nil, err
	}
	co, ok := v.(*code.Code)
	if !ok {
		return nil, &Error{Pos: 0, Err: fmt.Errorf("%w: top level object is %T, not code", ErrCorrupt, v)}
	}
	return co, nil
}

// UnmarshalValue decodes any marshalled constant.
func UnmarshalValue(data []byte) (code.Value, error) {
	r := &reader{data: data}
	v, err := r.readObject()
	if err != nil {
		return nil, err
	}
	val, ok := v.(code.Value)
	if !ok {
		return nil, &Error{Pos: 0, Err: fmt.Errorf("%w: %T", ErrUnsupported, v)}
	}
	return val, nil
}

func (r *reader) fail(err error) error {
	return &Error{Pos: r.offset, Err: err}
}

func (r *reader) readByte() (byte, error) {
	if r.offset >= len(r.data) {
		return 0, r.fail(ErrUnexpectedEOF)
	}
	b := r.data[r.offset]
	r.offset++
	return b, nil
}

func (r *reader) readBytes(n int) ([]byte, error) {
	if n < 0 || r.offset+n > len(r.data) {
		return nil, r.fail(ErrUnexpectedEOF)
	}
	b := r.data[r.offset : r.offset+n]
	r.offset += n
	return b, nil
}

func (r *reader) readInt32() (int32, error) {
	b, err := r.readBytes(4)
	if err != nil {
		return 0, err
	}
	return int32(binary.LittleEndian.Uint32(b)), nil
}

func (r *reader) readSize() (int, error) {
	n, err := r.readInt32()
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, r.fail(fmt.Errorf("%w: negative size %d", ErrCorrupt, n))
	}
	return int(n), nil
}

// reserve claims a reference slot before the object's contents are read,
// matching the numbering marshal.c uses.
func (r *reader) reserve(flag bool) int {
	if !flag {
		return -1
	}
	r.refs = append(r.refs, nil)
	return len(r.refs) - 1
}

func (r *reader) store(idx int, v any) any {
	if idx >= 0 {
		r.refs[idx] = v
	}
	return v
}

func (r *reader) readObject() (any, error) {
	r.depth++
	defer func() { r.depth-- }()
	if r.depth > maxDepth {
		return nil, r.fail(fmt.Errorf("%w: nesting too deep", ErrCorrupt))
	}

	start := r.offset
	b, err := r.readByte()
	if err != nil {
		return nil, err
	}
	typ, ref := b&^flagRef, b&flagRef != 0

	switch typ {
	case typeNone:
		return code.None, nil
	case typeEllipsis:
		return code.Ellipsis, nil
	case typeFalse:
		return code.Bool(false), nil
	case typeTrue:
		return code.Bool(true), nil

	case typeInt:
		n, err := r.readInt32()
		if err != nil {
			return nil, err
		}
		return r.store(r.reserve(ref), code.NewInt(int64(n))), nil
	case typeInt64:
		b, err := r.readBytes(8)
		if err != nil {
			return nil, err
		}
		return r.store(r.reserve(ref), code.NewInt(int64(binary.LittleEndian.Uint64(b)))), nil
	case typeLong:
		idx := r.reserve(ref)
		n, err := r.readLong()
		if err != nil {
			return nil, err
		}
		return r.store(idx, n), nil

	case typeBinaryFloat:
		f, err := r.readBinaryFloat()
		if err != nil {
			return nil, err
		}
		return r.store(r.reserve(ref), code.Float(f)), nil
	case typeFloat:
		f, err := r.readTextFloat()
		if err != nil {
			return nil, err
		}
		return r.store(r.reserve(ref), code.Float(f)), nil
	case typeBinaryComplex:
		re, err := r.readBinaryFloat()
		if err != nil {
			return nil, err
		}
		im, err := r.readBinaryFloat()
		if err != nil {
			return nil, err
		}
		return r.store(r.reserve(ref), code.Complex(complex(re, im))), nil
	case typeComplex:
		re, err := r.readTextFloat()
		if err != nil {
			return nil, err
		}
		im, err := r.readTextFloat()
		if err != nil {
			return nil, err
		}
		return r.store(r.reserve(ref), code.Complex(complex(re, im))), nil

	case typeString:
		n, err := r.readSize()
		if err != nil {
			return nil, err
		}
		b, err := r.readBytes(n)
		if err != nil {
			return nil, err
		}
		return r.store(r.reserve(ref), code.Bytes(append([]byte(nil), b...))), nil
	case typeUnicode, typeInterned, typeASCII, typeASCIIInterned:
		n, err := r.readSize()
		if err != nil {
			return nil, err
		}
		return r.readStr(n, ref, typ == typeUnicode || typ == typeInterned)
	case typeShortASCII, typeShortASCIIIntern:
		n, err := r.readByte()
		if err != nil {
			return nil, err
		}
		return r.readStr(int(n), ref, false)

	case typeTuple, typeSmallTuple, typeList, typeSet, typeFrozenSet:
		var n int
		if typ == typeSmallTuple {
			b, err := r.readByte()
			if err != nil {
				return nil, err
			}
			n = int(b)
		} else if n, err = r.readSize(); err != nil {
			return nil, err
		}
		idx := r.reserve(ref)
		items, err := r.readValues(n)
		if err != nil {
			return nil, err
		}
		var v code.Value
		switch typ {
		case typeList:
			v = code.List(items)
		case typeSet:
			v = code.Set(items)
		case typeFrozenSet:
			v = code.FrozenSet(items)
		default:
			v = code.Tuple(items)
		}
		return r.store(idx, v), nil

	case typeCode:
		idx := r.reserve(ref)
		co, err := r.readCode()
		if err != nil {
			return nil, err
		}
		return r.store(idx, co), nil

	case typeRef:
		n, err := r.readInt32()
		if err != nil {
			return nil, err
		}
		if n < 0 || int(n) >= len(r.refs) || r.refs[n] == nil {
			return nil, &Error{Pos: start, Err: fmt.Errorf("%w: bad reference %d", ErrCorrupt, n)}
		}
		return r.refs[n], nil

	case typeNull, typeStopIter, typeDict, typeUnknown:
		return nil, &Error{Pos: start, Err: fmt.Errorf("%w: %q", ErrUnsupported, rune(typ))}
	default:
		return nil, &Error{Pos: start, Err: fmt.Errorf("%w: unknown type code %#x", ErrCorrupt, typ)}
	}
}

func (r *reader) readStr(n int, ref, utf bool) (any, error) {
	b, err := r.readBytes(n)
	if err != nil {
		return nil, err
	}
	if utf && !utf8.Valid(b) {
		return nil, r.fail(fmt.Errorf("%w: invalid utf-8 in string", ErrCorrupt))
	}
	return r.store(r.reserve(ref), code.Str(b)), nil
}

func (r *reader) readValues(n int) ([]code.Value, error) {
	if n > len(r.data)-r.offset {
		return nil, r.fail(ErrUnexpectedEOF)
	}
	items := make([]code.Value, 0, n)
	for range n {
		v, err := r.readObject()
		if err != nil {
			return nil, err
		}
		val, ok := v.(code.Value)
		if !ok {
			return nil, r.fail(fmt.Errorf("%w: %T in container", ErrUnsupported, v))
		}
		items = append(items, val)
	}
	return items, nil
}

// readLong decodes a PyLong: a signed digit count followed by base 2**15
// digits, least significant first.
func (r *reader) readLong() (code.Int, error) {
	n, err := r.readInt32()
	if err != nil {
		return code.Int{}, err
	}
	neg := n < 0
	if neg {
		n = -n
	}
	digits, err := r.readBytes(int(n) * 2)
	if err != nil {
		return code.Int{}, err
	}
	v := new(big.Int)
	d := new(big.Int)
	for i := int(n) - 1; i >= 0; i-- {
		digit := binary.LittleEndian.Uint16(digits[i*2:])
		if digit >= 1<<15 {
			return code.Int{}, r.fail(fmt.Errorf("%w: long digit out of range", ErrCorrupt))
		}
		v.Lsh(v, 15)
		v.Or(v, d.SetUint64(uint64(digit)))
	}
	if neg {
		v.Neg(v)
	}
	return code.NewBigInt(v), nil
}

func (r *reader) readBinaryFloat() (float64, error) {
	b, err := r.readBytes(8)
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(b)), nil
}

func (r *reader) readTextFloat() (float64, error) {
	n, err := r.readByte()
	if err != nil {
		return 0, err
	}
	b, err := r.readBytes(int(n))
	if err != nil {
		return 0, err
	}
	f, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return 0, r.fail(fmt.Errorf("%w: %v", ErrCorrupt, err))
	}
	return f, nil
}

func (r *reader) readCode() (*code.Code, error) {
	var ints [6]int32
	for i := range ints {
		v, err := r.readInt32()
		if err != nil {
			return nil, err
		}
		ints[i] = v
	}
	co := &code.Code{
		ArgCount:        int(ints[0]),
		PosOnlyArgCount: int(ints[1]),
		KwOnlyArgCount:  int(ints[2]),
		NLocals:         int(ints[3]),
		StackSize:       int(ints[4]),
		Flags:           uint32(ints[5]),
	}

	var err error
	if co.Bytecode, err = r.readBytesObject("co_code"); err != nil {
		return nil, err
	}
	consts, err := r.readTupleObject("co_consts")
	if err != nil {
		return nil, err
	}
	co.Consts = consts
	for _, f := range []struct {
		name string
		dst  *[]string
	}{
		{"co_names", &co.Names},
		{"co_varnames", &co.VarNames},
		{"co_freevars", &co.FreeVars},
		{"co_cellvars", &co.CellVars},
	} {
		if *f.dst, err = r.readNames(f.name); err != nil {
			return nil, err
		}
	}
	if co.Filename, err = r.readStrObject("co_filename"); err != nil {
		return nil, err
	}
	if co.Name, err = r.readStrObject("co_name"); err != nil {
		return nil, err
	}
	first, err := r.readInt32()
	if err != nil {
		return nil, err
	}
	co.FirstLineNo = int(first)
	if co.LineTable, err = r.readBytesObject("co_linetable"); err != nil {
		return nil, err
	}
	return co, nil
}

func (r *reader) readBytesObject(field string) ([]byte, error) {
	v, err := r.readObject()
	if err != nil {
		return nil, err
	}
	b, ok := v.(code.Bytes)
	if !ok {
		return nil, r.fail(fmt.Errorf("%w: %s is %T, not bytes", ErrCorrupt, field, v))
	}
	return []byte(b), nil
}

func (r *reader) readTupleObject(field string) ([]code.Value, error) {
	v, err := r.readObject()
	if err != nil {
		return nil, err
	}
	t, ok := v.(code.Tuple)
	if !ok {
		return nil, r.fail(fmt.Errorf("%w: %s is %T, not tuple", ErrCorrupt, field, v))
	}
	return []code.Value(t), nil
}

func (r *reader) readNames(field string) ([]string, error) {
	items, err := r.readTupleObject(field)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(items))
	for i, it := range items {
		s, ok := it.(code.Str)
		if !ok {
			return nil, r.fail(fmt.Errorf("%w: %s[%d] is %T, not str", ErrCorrupt, field, i, it))
		}
		names[i] = string(s)
	}
	return names, nil
}

func (r *reader) readStrObject(field string) (string, error) {
	v, err := r.readObject()
	if err != nil {
		return "", err
	}
	s, ok := v.(code.Str)
	if !ok {
		return "", r.fail(fmt.Errorf("%w: %s is %T, not str", ErrCorrupt, field, v))
	}
	return string(s), nil
}
