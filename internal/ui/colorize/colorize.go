// Package colorize highlights pydis listings and .pyasm source for the
// terminal.
package colorize

import (
	"os"
	"strings"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters"
	"github.com/alecthomas/chroma/v2/styles"
)

// Enabled reports whether highlighting is on. Setting PYDIS_NO_COLOR to any
// value turns it off.
func Enabled() bool {
	return os.Getenv("PYDIS_NO_COLOR") == ""
}

// getStyle returns the listing style with fallbacks
func getStyle() *chroma.Style {
	for _, name := range []string{PydisDark.Name, "dracula", "monokai"} {
		if style := styles.Get(name); style != nil {
			return style
		}
	}
	return styles.Fallback
}

// getTerminalFormatter prefers true color and falls back to 256 colors
func getTerminalFormatter() chroma.Formatter {
	for _, name := range []string{"terminal16m", "terminal256"} {
		if formatter := formatters.Get(name); formatter != nil {
			return formatter
		}
	}
	return formatters.Fallback
}

func highlight(lexer chroma.Lexer, text string) (string, error) {
	if !Enabled() {
		return text, nil
	}
	iterator, err := lexer.Tokenise(nil, text)
	if err != nil {
		return text, err
	}
	var buf strings.Builder
	if err := getTerminalFormatter().Format(&buf, getStyle(), iterator); err != nil {
		return text, err
	}
	return buf.String(), nil
}

// Listing highlights a complete disassembly listing.
func Listing(text string) (string, error) {
	return highlight(ListingLexer, text)
}

// Source highlights .pyasm source.
func Source(text string) (string, error) {
	return highlight(SourceLexer, text)
}

// Line highlights one listing row or header, returning it unchanged when
// highlighting fails.
func Line(line string) string {
	out, err := highlight(ListingLexer, line)
	if err != nil {
		return line
	}
	// EnsureNL adds a newline the caller did not ask for
	if !strings.HasSuffix(line, "\n") {
		if i := strings.LastIndexByte(out, '\n'); i >= 0 {
			out = out[:i] + out[i+1:]
		}
	}
	return out
}

// Strip removes ANSI escape sequences.
func Strip(s string) string {
	var result strings.Builder
	inEscape := false
	for _, r := range s {
		switch {
		case r == '\x1b':
			inEscape = true
		case inEscape:
			if r == 'm' {
				inEscape = false
			}
		default:
			result.WriteRune(r)
		}
	}
	return result.String()
}
