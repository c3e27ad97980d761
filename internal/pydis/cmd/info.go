package cmd

import (
	"fmt"
	"io"
	"os"
	pathpkg "path/filepath"
	"strings"

	"github.com/charmbracelet/x/term"
	"github.com/spf13/cobra"

	"pydis/internal/code"
	"pydis/internal/loader"
	"pydis/internal/pydis/styles"
)

var infoCmd = &cobra.Command{
	Use:   "info [file]",
	Short: "Summarize the code objects in a file",
	Long: `Info prints a markdown summary of the code-object tree: one table row per
code object with its arguments, locals, stack size, flags and sizes.`,
	Example: `
# Summarize a compiled module
pydis info __pycache__/m.cpython-310.pyc

# Plain markdown, no styling
pydis info --raw m.pyc > m.md
  `,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, _ := cmd.Flags().GetBool("raw")
		in, err := loadInput(args[0], inputOptionsFromFlags(cmd))
		if err != nil {
			return err
		}
		defer in.Close()

		format := loader.Detect(in.path, in.data)
		encrypted := inputOptionsFromFlags(cmd).key != ""
		md := summaryMarkdown(in, format, encrypted)
		return renderMarkdown(cmd.OutOrStdout(), md, raw)
	},
}

func init() {
	infoCmd.Flags().Bool("raw", false, "Print the markdown source instead of rendering it")
}

// renderMarkdown styles md with glamour when w is a terminal.
func renderMarkdown(w io.Writer, md string, raw bool) error {
	if raw || !isTerminal(w) {
		_, err := io.WriteString(w, md)
		return err
	}
	width := 80
	if tw, _, err := term.GetSize(os.Stdout.Fd()); err == nil && tw > 0 {
		width = tw
	}
	out, err := renderedMarkdown(md, width)
	if err != nil {
		return err
	}
	_, err = io.WriteString(w, out)
	return err
}

// summaryMarkdown describes the tree of in.
func summaryMarkdown(in *input, format loader.Format, encrypted bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", pathpkg.Base(in.path))

	kind := format.String()
	if encrypted {
		kind = "encrypted"
	}
	fmt.Fprintf(&b, "- **Path:** `%s`\n", in.path)
	fmt.Fprintf(&b, "- **Format:** %s\n", kind)
	fmt.Fprintf(&b, "- **SHA-256:** `%s`\n", in.digest())
	fmt.Fprintf(&b, "- **Opcode table:** Python %s\n", in.table.Version())
	if in.code.Filename != "" {
		fmt.Fprintf(&b, "- **Source file:** `%s`\n", in.code.Filename)
	}

	b.WriteString("\n## Code objects\n\n")
	b.WriteString("| Name | Line | Args | Locals | Stack | Flags | Instructions | Consts |\n")
	b.WriteString("| --- | ---: | ---: | ---: | ---: | --- | ---: | ---: |\n")
	var total, count int
	in.code.Walk(func(co *code.Code, depth int) bool {
		units := len(co.Bytecode) / 2
		total += units
		count++
		fmt.Fprintf(&b, "| %s`%s` | %d | %s | %d | %d | %s | %d | %d |\n",
			strings.Repeat("↳ ", depth), co.Name, co.FirstLineNo, argSummary(co),
			co.NLocals, co.StackSize, flagSummary(co), units, len(co.Consts))
		return true
	})
	fmt.Fprintf(&b, "\n%d code objects, %d instructions.\n", count, total)

	if len(in.code.Names) > 0 {
		fmt.Fprintf(&b, "\n## Module names\n\n%s\n", inlineList(in.code.Names))
	}
	return b.String()
}

func renderedMarkdown(md string, width int) (string, error) {
	r, err := styles.GetMarkdownRenderer(width - 2)
	if err != nil {
		return "", err
	}
	return r.Render(md)
}

func argSummary(co *code.Code) string {
	s := fmt.Sprint(co.ArgCount)
	if co.PosOnlyArgCount > 0 || co.KwOnlyArgCount > 0 {
		s += fmt.Sprintf(" (%d pos-only, %d kw-only)", co.PosOnlyArgCount, co.KwOnlyArgCount)
	}
	return s
}

func flagSummary(co *code.Code) string {
	if co.Flags == 0 {
		return "-"
	}
	return strings.Join(co.FlagNames(), ", ")
}

func inlineList(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = "`" + n + "`"
	}
	return strings.Join(quoted, ", ")
}
