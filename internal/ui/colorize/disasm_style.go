package colorize

import (
	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/styles"
)

// PydisDark is the listing palette: gray bookkeeping columns, white
// mnemonics, gold labels and pink numbers.
var PydisDark = styles.Register(chroma.MustNewStyle("pydis-dark", chroma.StyleEntries{
	chroma.Text:       "#FFFFFF",
	chroma.Background: "bg:#1e1e1e",
	chroma.Comment:    "italic #6A9955",

	chroma.Keyword:         "bold #FFFFFF",
	chroma.KeywordConstant: "#569CD6",
	chroma.NameFunction:    "#DCDCAA",
	chroma.NameBuiltin:     "#7C9C9D",
	chroma.NameVariable:    "#9CDCFE",
	chroma.NameAttribute:   "#858585",
	chroma.NameLabel:       "#FFD700",

	chroma.LiteralNumber:        "#FF5F87",
	chroma.LiteralNumberInteger: "#FF5F87",
	chroma.LiteralNumberFloat:   "#FF5F87",
	chroma.LiteralNumberHex:     "#4F4F4F",

	chroma.Punctuation: "#FFFFFF",
	chroma.String:      "#EACD53",
}))
