package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	pathpkg "path/filepath"
	"runtime/pprof"
	"strconv"
	"strings"

	"github.com/charmbracelet/fang"
	"github.com/charmbracelet/x/term"
	"github.com/spf13/cobra"

	"pydis/internal/code"
	"pydis/internal/disasm"
	"pydis/internal/pydis/log"
	"pydis/internal/ui/colorize"
)

// ListingDocument is the --json output.
type ListingDocument struct {
	File    string          `json:"file" jsonschema:"description=Input path"`
	SHA256  string          `json:"sha256" jsonschema:"description=Digest of the input as read"`
	Opcodes string          `json:"opcodes" jsonschema:"description=Version of the opcode table used"`
	Listing *disasm.Listing `json:"listing"`
}

// disasmFlags are the root command's rendering switches.
type disasmFlags struct {
	recursive bool
	maxDepth  int
	json      bool
	write     bool
	color     bool
}

func init() {
	rootCmd.PersistentFlags().StringP("cwd", "c", "", "Current working directory")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "Debug")
	rootCmd.PersistentFlags().String("log-file", "", "Write command logs to this file instead of stderr")
	rootCmd.PersistentFlags().String("opcodes", "", "Opcode table (TOML) to use instead of the built-in CPython 3.10 table")
	rootCmd.PersistentFlags().String("key", "", "XXTEA key to decrypt the input with")
	rootCmd.PersistentFlags().String("signature", "", "XXTEA signature expected on the encrypted input")

	rootCmd.Flags().BoolP("help", "h", false, "Help")
	rootCmd.Flags().BoolP("recursive", "r", false, "Also disassemble nested code objects")
	rootCmd.Flags().Int("max-depth", disasm.DefaultMaxDepth, "Nesting limit for --recursive (0 for none)")
	rootCmd.Flags().BoolP("json", "j", false, "Output the listing as JSON")
	rootCmd.Flags().BoolP("write", "w", false, "Write __pycache__/<stem>.<name>.pydis files next to the input")
	rootCmd.Flags().Bool("no-color", false, "Disable syntax highlighting")
	rootCmd.Flags().String("cpuprofile", "", "Write CPU profile to file")
	rootCmd.Flags().String("memprofile", "", "Write memory profile to file")

	rootCmd.AddCommand(infoCmd, viewCmd, convertCmd, schemaCmd)
}

var rootCmd = &cobra.Command{
	Use:   "pydis [file]",
	Short: "Disassembler for CPython 3.10 code objects",
	Long: `Pydis renders CPython 3.10 word-code as a listing of offsets, source lines,
raw bytes, mnemonics and resolved operands.

Inputs may be .pyc files, .pyasm assembly sources, or JSON/CBOR code
documents, optionally XXTEA-encrypted and gzip or zip compressed.`,
	Example: `
# Disassemble a module and every function in it
pydis -r __pycache__/m.cpython-310.pyc

# Assemble and disassemble a source-form file
pydis prog.pyasm

# Write one .pydis listing per code object
pydis -r -w m.pyc
  `,
	Args:         cobra.ExactArgs(1),
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		debug, _ := cmd.Flags().GetBool("debug")
		logFile, _ := cmd.Flags().GetString("log-file")
		log.Setup(logFile, debug)
		_, err := ResolveCwd(cmd)
		return err
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		cpuprofile, _ := cmd.Flags().GetString("cpuprofile")
		if cpuprofile != "" {
			f, err := os.Create(cpuprofile)
			if err != nil {
				return fmt.Errorf("could not create CPU profile: %w", err)
			}
			defer f.Close()
			if err := pprof.StartCPUProfile(f); err != nil {
				return fmt.Errorf("could not start CPU profile: %w", err)
			}
			defer pprof.StopCPUProfile()
		}

		memprofile, _ := cmd.Flags().GetString("memprofile")
		if memprofile != "" {
			defer func() {
				f, err := os.Create(memprofile)
				if err != nil {
					fmt.Fprintf(os.Stderr, "could not create memory profile: %v\n", err)
					return
				}
				defer f.Close()
				if err := pprof.WriteHeapProfile(f); err != nil {
					fmt.Fprintf(os.Stderr, "could not write memory profile: %v\n", err)
				}
			}()
		}

		var f disasmFlags
		f.recursive, _ = cmd.Flags().GetBool("recursive")
		f.maxDepth, _ = cmd.Flags().GetInt("max-depth")
		f.json, _ = cmd.Flags().GetBool("json")
		f.write, _ = cmd.Flags().GetBool("write")
		noColor, _ := cmd.Flags().GetBool("no-color")
		f.color = !noColor && colorize.Enabled() && isTerminal(cmd.OutOrStdout())

		in, err := loadInput(args[0], inputOptionsFromFlags(cmd))
		if err != nil {
			return err
		}
		defer in.Close()

		if f.write {
			paths, err := writeListings(in, f)
			for _, p := range paths {
				fmt.Fprintf(cmd.ErrOrStderr(), "Listing written to: %s\n", p)
			}
			return err
		}
		return runDisassemble(cmd.OutOrStdout(), in, f)
	},
}

func (f disasmFlags) disassembler(w io.Writer, in *input) *disasm.Disassembler {
	return disasm.New(w,
		disasm.WithTable(in.table),
		disasm.WithRecursive(f.recursive),
		disasm.WithMaxDepth(f.maxDepth),
		disasm.WithLogger(in.logger.Logger),
	)
}

// runDisassemble prints the listing of in as text or JSON.
func runDisassemble(w io.Writer, in *input, f disasmFlags) error {
	if f.json {
		l, err := f.disassembler(nil, in).Listing(in.code)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(ListingDocument{
			File:    in.path,
			SHA256:  in.digest(),
			Opcodes: in.table.Version(),
			Listing: l,
		})
	}

	if !f.color {
		return f.disassembler(w, in).Disassemble(in.code)
	}
	cw := &colorWriter{w: w}
	err := f.disassembler(cw, in).Disassemble(in.code)
	if ferr := cw.Flush(); ferr != nil && err == nil {
		err = ferr
	}
	return err
}

// colorWriter highlights each complete row as it is written.
type colorWriter struct {
	w       io.Writer
	pending []byte
}

func (c *colorWriter) Write(p []byte) (int, error) {
	c.pending = append(c.pending, p...)
	for {
		i := bytes.IndexByte(c.pending, '\n')
		if i < 0 {
			return len(p), nil
		}
		line := string(c.pending[:i+1])
		c.pending = c.pending[i+1:]
		if _, err := io.WriteString(c.w, colorize.Line(line)); err != nil {
			return len(p), err
		}
	}
}

// Flush writes a trailing partial row.
func (c *colorWriter) Flush() error {
	if len(c.pending) == 0 {
		return nil
	}
	_, err := io.WriteString(c.w, colorize.Line(string(c.pending)))
	c.pending = nil
	return err
}

// writeListings writes one .pydis file per code object: only the top one,
// or the whole tree in recursive mode. In a written file the row for unit
// offset n is on line n+2.
func writeListings(in *input, f disasmFlags) ([]string, error) {
	var objects []*code.Code
	if f.recursive {
		var walkErr error
		in.code.Walk(func(co *code.Code, depth int) bool {
			if f.maxDepth > 0 && depth > f.maxDepth {
				walkErr = fmt.Errorf("code %s: %w (%d)", co.Name, disasm.ErrMaxDepth, f.maxDepth)
				return false
			}
			objects = append(objects, co)
			return true
		})
		if walkErr != nil {
			return nil, walkErr
		}
	} else {
		objects = []*code.Code{in.code}
	}

	single := disasmFlags{maxDepth: f.maxDepth}
	used := make(map[string]bool)
	var written []string
	for _, co := range objects {
		path := listingPath(in.path, co, used)
		if err := os.MkdirAll(pathpkg.Dir(path), 0o755); err != nil {
			return written, fmt.Errorf("failed to create %s: %w", pathpkg.Dir(path), err)
		}
		var buf bytes.Buffer
		if err := single.disassembler(&buf, in).Disassemble(co); err != nil {
			return written, err
		}
		if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
			return written, fmt.Errorf("failed to write file: %w", err)
		}
		written = append(written, path)
	}
	return written, nil
}

// listingPath names the .pydis file of co. Files land in a __pycache__
// directory beside the input, or beside it when the input already lives
// in one. Name clashes take the first line number, then a counter.
func listingPath(input string, co *code.Code, used map[string]bool) string {
	dir := pathpkg.Dir(input)
	if pathpkg.Base(dir) != "__pycache__" {
		dir = pathpkg.Join(dir, "__pycache__")
	}
	base := pathpkg.Base(input)
	stem := strings.TrimSuffix(base, pathpkg.Ext(base))
	name := strings.Trim(co.Name, "<>")
	if name == "" {
		name = "code"
	}

	candidate := pathpkg.Join(dir, stem+"."+name+".pydis")
	for n := 0; used[candidate]; n++ {
		suffix := strconv.Itoa(co.FirstLineNo)
		if n > 0 {
			suffix += "-" + strconv.Itoa(n)
		}
		candidate = pathpkg.Join(dir, stem+"."+name+"."+suffix+".pydis")
	}
	used[candidate] = true
	return candidate
}

// SetVersion sets the string printed by --version.
func SetVersion(v string) { rootCmd.Version = v }

func Execute() {
	// fang renders help and errors as styled markdown; skip it when the
	// output is machine-read
	plain := !term.IsTerminal(os.Stdout.Fd())
	for _, arg := range os.Args[1:] {
		if arg == "--json" || arg == "-j" {
			plain = true
			break
		}
	}

	if plain {
		if err := rootCmd.Execute(); err != nil {
			os.Exit(1)
		}
		return
	}
	if err := fang.Execute(
		context.Background(),
		rootCmd,
		fang.WithNotifySignal(os.Interrupt),
	); err != nil {
		os.Exit(1)
	}
}
