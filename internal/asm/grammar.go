// Package asm implements the .pyasm source form: a textual assembly
// language for code objects, parsed with participle and compiled into
// code.Code trees.
package asm

import (
	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
)

// File is the top-level AST node: exactly one module code block.
type File struct {
	Code *Block `@@`
}

// Block: code "name" [file "f.py"] [line N] { item* }
type Block struct {
	Pos   lexer.Position
	Name  string  `"code" @String`
	File  *string `("file" @String)?`
	Line  *string `("line" @Int)?`
	Items []*Item `"{" @@* "}"`
}

// Item is one statement inside a block.
type Item struct {
	Pos      lexer.Position
	Consts   *Seq      `  "consts" "{" @@ "}"`
	Names    *NameList `| "names" @@`
	VarNames *NameList `| "varnames" @@`
	CellVars *NameList `| "cellvars" @@`
	FreeVars *NameList `| "freevars" @@`
	Attr     *Attr     `| @@`
	Line     *string   `| "line" @Int`
	Label    *string   `| @Ident ":"`
	Instr    *Instr    `| @@`
}

type NameList struct {
	Names []string `"{" (@String ("," @String)* ","?)? "}"`
}

// Attr sets one integer field of the code object.
type Attr struct {
	Key   string `@("argcount" | "posonly" | "kwonly" | "nlocals" | "stacksize" | "flags")`
	Value string `@(Int | Hex)`
}

// Instr: MNEMONIC [operand]
type Instr struct {
	Pos     lexer.Position
	Op      string   `@Ident`
	Operand *Operand `@@?`
}

type Operand struct {
	Int   *string `  @(Int | Hex)`
	Label *string `| @LabelRef`
	Str   *string `| @String`
}

// Seq is a comma separated constant list with an optional trailing comma.
type Seq struct {
	Items []*Const `(@@ ("," @@)* ","?)?`
}

type Const struct {
	Pos       lexer.Position
	None      bool    `  @"None"`
	True      bool    `| @"True"`
	False     bool    `| @"False"`
	Ellipsis  bool    `| @Ellipsis`
	Code      *Block  `| @@`
	FrozenSet *Seq    `| "frozenset" "(" @@ ")"`
	Set       *Seq    `| "set" "(" @@ ")"`
	Complex   *Pair   `| "complex" "(" @@ ")"`
	FloatText *string `| "float" "(" @String ")"`
	Tuple     *Seq    `| "(" @@ ")"`
	List      *Seq    `| "[" @@ "]"`
	Imag      *string `| @Imag`
	Float     *string `| @Float`
	Int       *string `| @(Int | Hex)`
	Bytes     *string `| @Bytes`
	Str       *string `| @String`
}

// Pair is the (real, imag) argument of complex().
type Pair struct {
	Re string `@(Float | Int)`
	Im string `"," @(Float | Int)`
}

var pyasmLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Whitespace", Pattern: `\s+`},
	{Name: "Comment", Pattern: `#[^\n]*`},

	{Name: "Bytes", Pattern: `b"(\\.|[^"\\])*"`},
	{Name: "String", Pattern: `"(\\.|[^"\\])*"`},

	{Name: "Ellipsis", Pattern: `\.\.\.`},
	{Name: "Imag", Pattern: `[-+]?(\d+\.?\d*|\.\d+)([eE][-+]?\d+)?j`},
	{Name: "Float", Pattern: `[-+]?(\d+\.\d*|\.\d+)([eE][-+]?\d+)?|[-+]?\d+[eE][-+]?\d+`},
	{Name: "Hex", Pattern: `0[xX][0-9a-fA-F]+`},
	{Name: "Int", Pattern: `[-+]?\d+`},

	{Name: "LabelRef", Pattern: `@[A-Za-z_][A-Za-z0-9_]*`},
	{Name: "Ident", Pattern: `[A-Za-z_][A-Za-z0-9_]*`},
	{Name: "Punct", Pattern: `[{}()\[\],:]`},
})

var parser = participle.MustBuild[File](
	participle.Lexer(pyasmLexer),
	participle.Elide("Whitespace", "Comment"),
	participle.Unquote("String"),
	participle.UseLookahead(2),
)

// Parse parses .pyasm source without compiling it.
func Parse(filename string, src []byte) (*File, error) {
	return parser.ParseBytes(filename, src)
}
