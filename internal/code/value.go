package code

import (
	"math"
	"math/big"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Value is a constant-pool entry. The set of implementations is closed.
type Value interface {
	// Repr renders the value the way Python's repr() does.
	Repr() string
	isValue()
}

type (
	NoneValue     struct{}
	EllipsisValue struct{}
	Bool          bool
	Float         float64
	Complex       complex128
	Str           string
	Bytes         []byte
	Tuple         []Value
	List          []Value
	Set           []Value
	FrozenSet     []Value
)

// Int is an arbitrary precision integer constant.
type Int struct {
	v *big.Int
}

var (
	None     Value = NoneValue{}
	Ellipsis Value = EllipsisValue{}
)

func NewInt(n int64) Int { return Int{v: big.NewInt(n)} }

// NewBigInt copies n.
func NewBigInt(n *big.Int) Int { return Int{v: new(big.Int).Set(n)} }

// Big returns a copy of the value.
func (i Int) Big() *big.Int {
	if i.v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(i.v)
}

func (NoneValue) isValue()     {}
func (EllipsisValue) isValue() {}
func (Bool) isValue()          {}
func (Int) isValue()           {}
func (Float) isValue()         {}
func (Complex) isValue()       {}
func (Str) isValue()           {}
func (Bytes) isValue()         {}
func (Tuple) isValue()         {}
func (List) isValue()          {}
func (Set) isValue()           {}
func (FrozenSet) isValue()     {}

func (NoneValue) Repr() string     { return "None" }
func (EllipsisValue) Repr() string { return "Ellipsis" }

func (b Bool) Repr() string {
	if b {
		return "True"
	}
	return "False"
}

func (i Int) Repr() string {
	if i.v == nil {
		return "0"
	}
	return i.v.String()
}

func (f Float) Repr() string { return formatFloat(float64(f), true) }

func (c Complex) Repr() string {
	re, im := real(complex128(c)), imag(complex128(c))
	imText := formatFloat(im, false)
	if re == 0 && !math.Signbit(re) {
		return imText + "j"
	}
	if !math.Signbit(im) || math.IsNaN(im) {
		imText = "+" + imText
	}
	return "(" + formatFloat(re, false) + imText + "j)"
}

func (s Str) Repr() string { return quoteStr(string(s)) }

func (b Bytes) Repr() string { return "b" + quoteBytes(b) }

func (t Tuple) Repr() string {
	if len(t) == 1 {
		return "(" + t[0].Repr() + ",)"
	}
	return "(" + joinRepr(t) + ")"
}

func (l List) Repr() string { return "[" + joinRepr(l) + "]" }

func (s Set) Repr() string {
	if len(s) == 0 {
		return "set()"
	}
	return "{" + joinRepr(s) + "}"
}

func (s FrozenSet) Repr() string {
	if len(s) == 0 {
		return "frozenset()"
	}
	return "frozenset({" + joinRepr(s) + "})"
}

func joinRepr(items []Value) string {
	parts := make([]string, len(items))
	for i, v := range items {
		parts[i] = v.Repr()
	}
	return strings.Join(parts, ", ")
}

// formatFloat follows CPython's 'r' float formatting: shortest round-trip
// digits, positional for decimal exponents in [-4, 16), scientific otherwise.
func formatFloat(f float64, addDot bool) string {
	switch {
	case math.IsNaN(f):
		return "nan"
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	}
	sci := strconv.FormatFloat(f, 'e', -1, 64)
	exp, _ := strconv.Atoi(sci[strings.IndexByte(sci, 'e')+1:])
	if exp < -4 || exp >= 16 {
		return sci
	}
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if addDot && !strings.ContainsAny(s, ".") {
		s += ".0"
	}
	return s
}

func pickQuote(hasSingle, hasDouble bool) byte {
	if hasSingle && !hasDouble {
		return '"'
	}
	return '\''
}

func quoteStr(s string) string {
	q := pickQuote(strings.ContainsRune(s, '\''), strings.ContainsRune(s, '"'))
	var sb strings.Builder
	sb.WriteByte(q)
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		i += size
		switch {
		case r == rune(q) || r == '\\':
			sb.WriteByte('\\')
			sb.WriteRune(r)
		case r == '\t':
			sb.WriteString(`\t`)
		case r == '\n':
			sb.WriteString(`\n`)
		case r == '\r':
			sb.WriteString(`\r`)
		case r < ' ' || r == 0x7f:
			sb.WriteString(`\x`)
			sb.WriteString(hex2(uint32(r)))
		case r < 0x7f:
			sb.WriteRune(r)
		case size > 1 && unicode.IsPrint(r):
			sb.WriteRune(r)
		case r <= 0xff:
			sb.WriteString(`\x`)
			sb.WriteString(hex2(uint32(r)))
		case r <= 0xffff:
			sb.WriteString(`\u`)
			sb.WriteString(padHex(uint32(r), 4))
		default:
			sb.WriteString(`\U`)
			sb.WriteString(padHex(uint32(r), 8))
		}
	}
	sb.WriteByte(q)
	return sb.String()
}

func quoteBytes(b []byte) string {
	q := pickQuote(strings.IndexByte(string(b), '\'') >= 0, strings.IndexByte(string(b), '"') >= 0)
	var sb strings.Builder
	sb.WriteByte(q)
	for _, c := range b {
		switch {
		case c == q || c == '\\':
			sb.WriteByte('\\')
			sb.WriteByte(c)
		case c == '\t':
			sb.WriteString(`\t`)
		case c == '\n':
			sb.WriteString(`\n`)
		case c == '\r':
			sb.WriteString(`\r`)
		case c < ' ' || c >= 0x7f:
			sb.WriteString(`\x`)
			sb.WriteString(hex2(uint32(c)))
		default:
			sb.WriteByte(c)
		}
	}
	sb.WriteByte(q)
	return sb.String()
}

func hex2(v uint32) string { return padHex(v, 2) }

func padHex(v uint32, width int) string {
	s := strconv.FormatUint(uint64(v), 16)
	if len(s) < width {
		s = strings.Repeat("0", width-len(s)) + s
	}
	return s
}
