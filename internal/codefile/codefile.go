// Package codefile stores code object trees as JSON or CBOR documents.
package codefile

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strconv"

	"github.com/fxamacker/cbor/v2"

	"pydis/internal/code"
)

// FormatTag identifies a code document.
const FormatTag = "pydis-code/1"

var ErrFormat = errors.New("not a code document")

// Document is the top-level JSON/CBOR object.
type Document struct {
	Format string   `json:"format" cbor:"1,keyasint"`
	Code   *CodeDoc `json:"code" cbor:"2,keyasint"`
}

type CodeDoc struct {
	Name            string     `json:"name" cbor:"1,keyasint"`
	Filename        string     `json:"filename" cbor:"2,keyasint"`
	FirstLineNo     int        `json:"firstlineno" cbor:"3,keyasint"`
	ArgCount        int        `json:"argcount" cbor:"4,keyasint"`
	PosOnlyArgCount int        `json:"posonlyargcount" cbor:"5,keyasint"`
	KwOnlyArgCount  int        `json:"kwonlyargcount" cbor:"6,keyasint"`
	NLocals         int        `json:"nlocals" cbor:"7,keyasint"`
	StackSize       int        `json:"stacksize" cbor:"8,keyasint"`
	Flags           uint32     `json:"flags" cbor:"9,keyasint"`
	Bytecode        []byte     `json:"code" cbor:"10,keyasint"`
	Consts          []ConstDoc `json:"consts" cbor:"11,keyasint"`
	Names           []string   `json:"names" cbor:"12,keyasint"`
	VarNames        []string   `json:"varnames" cbor:"13,keyasint"`
	FreeVars        []string   `json:"freevars" cbor:"14,keyasint"`
	CellVars        []string   `json:"cellvars" cbor:"15,keyasint"`
	LineTable       []byte     `json:"linetable" cbor:"16,keyasint"`
}

// ConstDoc is a tagged constant. Numbers travel as text so that big
// integers and non-finite floats survive JSON.
type ConstDoc struct {
	Kind  string     `json:"kind" cbor:"1,keyasint"`
	Text  string     `json:"text,omitempty" cbor:"2,keyasint,omitempty"`
	Imag  string     `json:"imag,omitempty" cbor:"3,keyasint,omitempty"`
	Bytes []byte     `json:"bytes,omitempty" cbor:"4,keyasint,omitempty"`
	Items []ConstDoc `json:"items,omitempty" cbor:"5,keyasint,omitempty"`
	Code  *CodeDoc   `json:"code_object,omitempty" cbor:"6,keyasint,omitempty"`
}

const (
	kindNone      = "none"
	kindEllipsis  = "ellipsis"
	kindBool      = "bool"
	kindInt       = "int"
	kindFloat     = "float"
	kindComplex   = "complex"
	kindStr       = "str"
	kindBytes     = "bytes"
	kindTuple     = "tuple"
	kindList      = "list"
	kindSet       = "set"
	kindFrozenSet = "frozenset"
	kindCode      = "code"
)

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("codefile: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// MarshalJSON encodes co as an indented JSON document.
func MarshalJSON(co *code.Code) ([]byte, error) {
	doc, err := NewDocument(co)
	if err != nil {
		return nil, err
	}
	return json.MarshalIndent(doc, "", "  ")
}

// MarshalCBOR encodes co as a canonical CBOR document.
func MarshalCBOR(co *code.Code) ([]byte, error) {
	doc, err := NewDocument(co)
	if err != nil {
		return nil, err
	}
	return cborEncMode.Marshal(doc)
}

func UnmarshalJSON(data []byte) (*code.Code, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("codefile: unmarshal json: %w", err)
	}
	return doc.Decode()
}

func UnmarshalCBOR(data []byte) (*code.Code, error) {
	var doc Document
	if err := cbor.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("codefile: unmarshal cbor: %w", err)
	}
	return doc.Decode()
}

// NewDocument converts a code tree into its document form.
func NewDocument(co *code.Code) (*Document, error) {
	c, err := encodeCode(co)
	if err != nil {
		return nil, err
	}
	return &Document{Format: FormatTag, Code: c}, nil
}

// Decode rebuilds the code tree.
func (d *Document) Decode() (*code.Code, error) {
	if d.Format != FormatTag || d.Code == nil {
		return nil, fmt.Errorf("codefile: %w (format %q)", ErrFormat, d.Format)
	}
	return decodeCode(d.Code)
}

func encodeCode(co *code.Code) (*CodeDoc, error) {
	c := &CodeDoc{
		Name:            co.Name,
		Filename:        co.Filename,
		FirstLineNo:     co.FirstLineNo,
		ArgCount:        co.ArgCount,
		PosOnlyArgCount: co.PosOnlyArgCount,
		KwOnlyArgCount:  co.KwOnlyArgCount,
		NLocals:         co.NLocals,
		StackSize:       co.StackSize,
		Flags:           co.Flags,
		Bytecode:        co.Bytecode,
		Names:           co.Names,
		VarNames:        co.VarNames,
		FreeVars:        co.FreeVars,
		CellVars:        co.CellVars,
		LineTable:       co.LineTable,
	}
	consts, err := encodeValues(co.Consts)
	if err != nil {
		return nil, fmt.Errorf("code %s: %w", co.Name, err)
	}
	c.Consts = consts
	return c, nil
}

func encodeValues(vs []code.Value) ([]ConstDoc, error) {
	out := make([]ConstDoc, 0, len(vs))
	for _, v := range vs {
		d, err := encodeValue(v)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

func formatFloat(f float64) string { return strconv.FormatFloat(f, 'g', -1, 64) }

func encodeValue(v code.Value) (ConstDoc, error) {
	switch v := v.(type) {
	case code.NoneValue:
		return ConstDoc{Kind: kindNone}, nil
	case code.EllipsisValue:
		return ConstDoc{Kind: kindEllipsis}, nil
	case code.Bool:
		return ConstDoc{Kind: kindBool, Text: strconv.FormatBool(bool(v))}, nil
	case code.Int:
		return ConstDoc{Kind: kindInt, Text: v.Big().String()}, nil
	case code.Float:
		return ConstDoc{Kind: kindFloat, Text: formatFloat(float64(v))}, nil
	case code.Complex:
		return ConstDoc{Kind: kindComplex, Text: formatFloat(real(v)), Imag: formatFloat(imag(v))}, nil
	case code.Str:
		return ConstDoc{Kind: kindStr, Text: string(v)}, nil
	case code.Bytes:
		return ConstDoc{Kind: kindBytes, Bytes: []byte(v)}, nil
	case code.Tuple:
		return encodeSeq(kindTuple, v)
	case code.List:
		return encodeSeq(kindList, v)
	case code.Set:
		return encodeSeq(kindSet, v)
	case code.FrozenSet:
		return encodeSeq(kindFrozenSet, v)
	case *code.Code:
		c, err := encodeCode(v)
		if err != nil {
			return ConstDoc{}, err
		}
		return ConstDoc{Kind: kindCode, Code: c}, nil
	}
	return ConstDoc{}, fmt.Errorf("codefile: unsupported constant %T", v)
}

func encodeSeq(kind string, items []code.Value) (ConstDoc, error) {
	docs, err := encodeValues(items)
	if err != nil {
		return ConstDoc{}, err
	}
	if docs == nil {
		docs = []ConstDoc{}
	}
	return ConstDoc{Kind: kind, Items: docs}, nil
}

func decodeCode(c *CodeDoc) (*code.Code, error) {
	co := &code.Code{
		Name:            c.Name,
		Filename:        c.Filename,
		FirstLineNo:     c.FirstLineNo,
		ArgCount:        c.ArgCount,
		PosOnlyArgCount: c.PosOnlyArgCount,
		KwOnlyArgCount:  c.KwOnlyArgCount,
		NLocals:         c.NLocals,
		StackSize:       c.StackSize,
		Flags:           c.Flags,
		Bytecode:        c.Bytecode,
		Names:           c.Names,
		VarNames:        c.VarNames,
		FreeVars:        c.FreeVars,
		CellVars:        c.CellVars,
		LineTable:       c.LineTable,
	}
	consts, err := decodeValues(c.Consts)
	if err != nil {
		return nil, fmt.Errorf("code %s: %w", c.Name, err)
	}
	co.Consts = consts
	return co, nil
}

func decodeValues(ds []ConstDoc) ([]code.Value, error) {
	out := make([]code.Value, 0, len(ds))
	for i := range ds {
		v, err := decodeValue(&ds[i])
		if err != nil {
			return nil, fmt.Errorf("const %d: %w", i, err)
		}
		out = append(out, v)
	}
	return out, nil
}

func decodeValue(d *ConstDoc) (code.Value, error) {
	switch d.Kind {
	case kindNone:
		return code.None, nil
	case kindEllipsis:
		return code.Ellipsis, nil
	case kindBool:
		b, err := strconv.ParseBool(d.Text)
		if err != nil {
			return nil, err
		}
		return code.Bool(b), nil
	case kindInt:
		n, ok := new(big.Int).SetString(d.Text, 10)
		if !ok {
			return nil, fmt.Errorf("bad integer %q", d.Text)
		}
		return code.NewBigInt(n), nil
	case kindFloat:
		f, err := strconv.ParseFloat(d.Text, 64)
		if err != nil {
			return nil, err
		}
		return code.Float(f), nil
	case kindComplex:
		re, err := strconv.ParseFloat(d.Text, 64)
		if err != nil {
			return nil, err
		}
		im, err := strconv.ParseFloat(d.Imag, 64)
		if err != nil {
			return nil, err
		}
		return code.Complex(complex(re, im)), nil
	case kindStr:
		return code.Str(d.Text), nil
	case kindBytes:
		return code.Bytes(d.Bytes), nil
	case kindTuple, kindList, kindSet, kindFrozenSet:
		items, err := decodeValues(d.Items)
		if err != nil {
			return nil, err
		}
		switch d.Kind {
		case kindTuple:
			return code.Tuple(items), nil
		case kindList:
			return code.List(items), nil
		case kindSet:
			return code.Set(items), nil
		}
		return code.FrozenSet(items), nil
	case kindCode:
		if d.Code == nil {
			return nil, errors.New("code constant without body")
		}
		co, err := decodeCode(d.Code)
		if err != nil {
			return nil, err
		}
		return co, nil
	}
	return nil, fmt.Errorf("unknown constant kind %q", d.Kind)
}
