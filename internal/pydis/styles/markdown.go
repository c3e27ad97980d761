// Package styles holds the palette shared by the info summary and the
// viewer.
package styles

import (
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/glamour/ansi"
	"github.com/charmbracelet/lipgloss/v2"
	"github.com/charmbracelet/x/exp/charmtone"
)

const (
	Foreground = "#D4D4D4"
	Heading    = "#569CD6"
	InlineCode = "#EACD53"
	Muted      = "#858585"
	Link       = "#4FC1FF"
)

func ptr[T any](v T) *T { return &v }

// fg is a primitive drawn in color.
func fg(color string) ansi.StylePrimitive {
	return ansi.StylePrimitive{Color: ptr(color)}
}

// Viewer styles.
var (
	MenuBar   = lipgloss.NewStyle().Background(lipgloss.Color("235")).Foreground(lipgloss.Color("252")).Padding(0, 1)
	ListTitle = lipgloss.NewStyle().Foreground(lipgloss.Color("99")).MarginLeft(2)
	Selected  = lipgloss.NewStyle().Foreground(lipgloss.Color("170"))
	Dim       = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

// GetMarkdownRenderer returns a glamour renderer wrapping prose at width.
func GetMarkdownRenderer(width int) (*glamour.TermRenderer, error) {
	return glamour.NewTermRenderer(
		glamour.WithStyles(GetMarkdownStyle()),
		glamour.WithWordWrap(width),
	)
}

// GetMarkdownStyle is a dark style with charmtone accents for headings.
// Summaries only use headings, bullet lists, inline code and tables.
func GetMarkdownStyle() ansi.StyleConfig {
	h1 := fg(charmtone.Zest.Hex())
	h1.BackgroundColor = ptr(charmtone.Charple.Hex())
	h1.Prefix, h1.Suffix = " ", " "
	h1.Bold = ptr(true)

	h2 := fg(charmtone.Malibu.Hex())
	h2.Prefix = "## "
	h3 := fg(charmtone.Guac.Hex())
	h3.Prefix = "### "

	heading := fg(Heading)
	heading.BlockSuffix = "\n"
	heading.Bold = ptr(true)

	rule := fg(charmtone.Charcoal.Hex())
	rule.Format = "\n" + strings.Repeat("─", 40) + "\n"

	link := fg(Link)
	link.Underline = ptr(true)

	quote := fg(Muted)
	quote.Italic = ptr(true)

	return ansi.StyleConfig{
		Document:       ansi.StyleBlock{StylePrimitive: fg(Foreground)},
		Text:           fg(Foreground),
		Heading:        ansi.StyleBlock{StylePrimitive: heading},
		H1:             ansi.StyleBlock{StylePrimitive: h1},
		H2:             ansi.StyleBlock{StylePrimitive: h2},
		H3:             ansi.StyleBlock{StylePrimitive: h3},
		Strong:         ansi.StylePrimitive{Bold: ptr(true)},
		Emph:           ansi.StylePrimitive{Italic: ptr(true)},
		HorizontalRule: rule,
		Link:           link,
		BlockQuote:     ansi.StyleBlock{StylePrimitive: quote, Indent: ptr(uint(1)), IndentToken: ptr("│ ")},
		List:           ansi.StyleList{LevelIndent: 2},
		Item:           ansi.StylePrimitive{BlockPrefix: "• "},
		Enumeration:    ansi.StylePrimitive{BlockPrefix: ". "},
		Code:           ansi.StyleBlock{StylePrimitive: fg(InlineCode)},
		CodeBlock: ansi.StyleCodeBlock{
			StyleBlock: ansi.StyleBlock{StylePrimitive: fg(Foreground), Margin: ptr(uint(1))},
		},
		Table: ansi.StyleTable{
			StyleBlock:      ansi.StyleBlock{StylePrimitive: fg(Foreground)},
			CenterSeparator: ptr("┼"),
			ColumnSeparator: ptr("│"),
			RowSeparator:    ptr("─"),
		},
	}
}
