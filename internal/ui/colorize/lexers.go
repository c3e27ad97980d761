package colorize

import (
	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/lexers"
)

// ListingLexer tokenizes disassembly listings: a "# name @ line N" header
// followed by rows of line, label marker, offset, raw bytes, mnemonic and
// operand.
var ListingLexer = lexers.Register(chroma.MustNewLexer(
	&chroma.Config{
		Name:      "pydis",
		Aliases:   []string{"pydis", "pydis-listing"},
		Filenames: []string{"*.pydis"},
		EnsureNL:  true,
	},
	func() chroma.Rules {
		return chroma.Rules{
			"root": {
				{Pattern: `#[^\n]*`, Type: chroma.CommentSingle},
				{Pattern: `\n`, Type: chroma.TextWhitespace},
				{
					Pattern: `( *)(\d*)( )(>>|  )( +)(\d+)( )([0-9a-f]{4})( +)([A-Z_][A-Z0-9_]*|<\d+>)`,
					Type: chroma.ByGroups(
						chroma.TextWhitespace, chroma.LiteralNumberInteger, chroma.TextWhitespace,
						chroma.NameLabel, chroma.TextWhitespace, chroma.NameAttribute, chroma.TextWhitespace,
						chroma.LiteralNumberHex, chroma.TextWhitespace, chroma.Keyword,
					),
					Mutator: chroma.Push("operand"),
				},
				{Pattern: `[^\n]+`, Type: chroma.Text},
			},
			"operand": {
				{Pattern: `\n`, Type: chroma.TextWhitespace, Mutator: chroma.Pop(1)},
				{Pattern: `<to \d+>`, Type: chroma.NameLabel},
				{Pattern: `<code object [^>\n]*>`, Type: chroma.NameFunction},
				{Pattern: `<\d+>`, Type: chroma.LiteralNumber},
				chroma.Include("literals"),
				{Pattern: `[^\n]`, Type: chroma.Text},
			},
			"literals": {
				{Pattern: `b?'(\\\\|\\'|[^'\n])*'`, Type: chroma.LiteralString},
				{Pattern: `b?"(\\\\|\\"|[^"\n])*"`, Type: chroma.LiteralString},
				{Pattern: `0[xX][0-9a-fA-F]+`, Type: chroma.LiteralNumberHex},
				{Pattern: `-?(\d+\.\d*|\.\d+|\d+)([eE][+-]?\d+)?j`, Type: chroma.LiteralNumber},
				{Pattern: `-?(\d+\.\d*|\.\d+|\d+[eE][+-]?\d+)([eE][+-]?\d+)?`, Type: chroma.LiteralNumberFloat},
				{Pattern: `-?\d+`, Type: chroma.LiteralNumberInteger},
				{Pattern: `(None|True|False|Ellipsis|inf|nan)\b`, Type: chroma.KeywordConstant},
				{Pattern: `(frozenset|set|complex|float)\b`, Type: chroma.NameBuiltin},
				{Pattern: `[A-Za-z_][A-Za-z0-9_]*`, Type: chroma.NameVariable},
				{Pattern: `[ \t]+`, Type: chroma.TextWhitespace},
				{Pattern: `[{}()\[\],]`, Type: chroma.Punctuation},
			},
		}
	},
))

// SourceLexer tokenizes .pyasm assembly source.
var SourceLexer = lexers.Register(chroma.MustNewLexer(
	&chroma.Config{
		Name:      "pyasm",
		Aliases:   []string{"pyasm"},
		Filenames: []string{"*.pyasm"},
	},
	func() chroma.Rules {
		return chroma.Rules{
			"root": {
				{Pattern: `#[^\n]*`, Type: chroma.CommentSingle},
				{Pattern: `\s+`, Type: chroma.TextWhitespace},
				{Pattern: `(code|file|line|consts|names|varnames|cellvars|freevars|argcount|posonly|kwonly|nlocals|stacksize|flags)\b`, Type: chroma.Keyword},
				{Pattern: `[A-Za-z_][A-Za-z0-9_]*:`, Type: chroma.NameLabel},
				{Pattern: `@[A-Za-z_][A-Za-z0-9_]*`, Type: chroma.NameLabel},
				{Pattern: `\.\.\.`, Type: chroma.KeywordConstant},
				{Pattern: `[A-Z_][A-Z0-9_]+\b`, Type: chroma.NameFunction},
				chroma.Include("literals"),
				{Pattern: `.`, Type: chroma.Text},
			},
			"literals": {
				{Pattern: `b?"(\\\\|\\"|[^"\n])*"`, Type: chroma.LiteralString},
				{Pattern: `0[xX][0-9a-fA-F]+`, Type: chroma.LiteralNumberHex},
				{Pattern: `-?(\d+\.\d*|\.\d+|\d+)([eE][+-]?\d+)?j`, Type: chroma.LiteralNumber},
				{Pattern: `-?(\d+\.\d*|\.\d+|\d+[eE][+-]?\d+)([eE][+-]?\d+)?`, Type: chroma.LiteralNumberFloat},
				{Pattern: `-?\d+`, Type: chroma.LiteralNumberInteger},
				{Pattern: `(None|True|False)\b`, Type: chroma.KeywordConstant},
				{Pattern: `(frozenset|set|complex|float)\b`, Type: chroma.NameBuiltin},
				{Pattern: `[A-Za-z_][A-Za-z0-9_]*`, Type: chroma.Name},
				{Pattern: `[{}()\[\],]`, Type: chroma.Punctuation},
			},
		}
	},
))
