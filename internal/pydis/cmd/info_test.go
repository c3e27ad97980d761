package cmd

import (
	"bytes"
	"strings"
	"testing"

	"pydis/internal/loader"
)

func TestSummaryMarkdown(t *testing.T) {
	in := mustLoad(t, writeModule(t, t.TempDir()), inputOptions{})

	md := summaryMarkdown(in, loader.FormatAsm, false)
	for _, want := range []string{
		"# m.pyasm\n",
		"- **Format:** pyasm\n",
		"- **Opcode table:** Python 3.10\n",
		"| `<module>` | 1 | 0 |",
		"| ↳ `f` | 2 | 1 |",
		"OPTIMIZED, NEWLOCALS",
		"2 code objects, 11 instructions.",
		"## Module names\n\n`f`\n",
	} {
		if !strings.Contains(md, want) {
			t.Errorf("summary lacks %q:\n%s", want, md)
		}
	}

	if md := summaryMarkdown(in, loader.FormatUnknown, true); !strings.Contains(md, "- **Format:** encrypted\n") {
		t.Errorf("encrypted input not flagged:\n%s", md)
	}
}

func TestRenderMarkdownRawWhenPiped(t *testing.T) {
	var buf bytes.Buffer
	md := "# title\n\nbody\n"
	if err := renderMarkdown(&buf, md, false); err != nil {
		t.Fatalf("renderMarkdown failed: %v", err)
	}
	if buf.String() != md {
		t.Errorf("piped output = %q, want the markdown source", buf.String())
	}

	out, err := renderedMarkdown(md, 40)
	if err != nil {
		t.Fatalf("renderedMarkdown failed: %v", err)
	}
	if !strings.Contains(out, "title") || !strings.Contains(out, "body") {
		t.Errorf("rendered = %q", out)
	}
}
