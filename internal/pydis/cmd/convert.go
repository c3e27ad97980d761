package cmd

import (
	"fmt"
	"io"
	"os"
	pathpkg "path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"pydis/internal/loader"
	"pydis/internal/ui/colorize"
)

var convertCmd = &cobra.Command{
	Use:   "convert [file]",
	Short: "Re-serialize a code object tree",
	Long: `Convert reads any supported input and writes the same code-object tree as
a .pyc file, .pyasm source, or a JSON or CBOR document.`,
	Example: `
# Turn a compiled module into editable assembly
pydis convert -f pyasm m.pyc

# Compile assembly back into a .pyc
pydis convert -f pyc -o m.pyc m.pyasm
  `,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("format")
		output, _ := cmd.Flags().GetString("output")
		format, err := loader.ParseFormat(name)
		if err != nil {
			return err
		}

		in, err := loadInput(args[0], inputOptionsFromFlags(cmd))
		if err != nil {
			return err
		}
		defer in.Close()

		if output == "" {
			output = convertedPath(in.path, format)
			if output == in.path {
				return fmt.Errorf("refusing to overwrite %s; pass --output", in.path)
			}
		}
		if output == "-" {
			return runConvert(cmd.OutOrStdout(), in, format)
		}

		f, err := os.Create(output)
		if err != nil {
			return fmt.Errorf("failed to create output: %w", err)
		}
		if err := runConvert(f, in, format); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return fmt.Errorf("failed to write file: %w", err)
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "Output written to: %s\n", output)
		return nil
	},
}

func init() {
	convertCmd.Flags().StringP("format", "f", "pyasm", "Output format: pyc, pyasm, json or cbor")
	convertCmd.Flags().StringP("output", "o", "", "Output path, - for stdout (default: input name with the format's extension)")
}

// runConvert encodes in as format. Assembly written to a terminal is
// highlighted.
func runConvert(w io.Writer, in *input, format loader.Format) error {
	data, err := loader.Encode(in.code, format, in.table)
	if err != nil {
		return fmt.Errorf("convert to %s: %w", format, err)
	}
	if format == loader.FormatAsm && isTerminal(w) {
		if out, err := colorize.Source(string(data)); err == nil {
			data = []byte(out)
		}
	}
	_, err = w.Write(data)
	return err
}

// convertedPath swaps the extension of input for the format's.
func convertedPath(input string, format loader.Format) string {
	base := strings.TrimSuffix(input, pathpkg.Ext(input))
	return base + format.Ext()
}
