package cmd

import (
	"crypto/sha256"
	"fmt"
	"io"
	"log/slog"
	"os"
	pathpkg "path/filepath"

	"github.com/charmbracelet/x/term"
	"github.com/spf13/cobra"

	"pydis/internal/code"
	"pydis/internal/loader"
	"pydis/internal/logging"
	"pydis/internal/opcode"
)

// inputOptions are the persistent flags every loading command shares.
type inputOptions struct {
	opcodes   string
	key       string
	signature string
	debug     bool
}

func inputOptionsFromFlags(cmd *cobra.Command) inputOptions {
	var o inputOptions
	o.opcodes, _ = cmd.Flags().GetString("opcodes")
	o.key, _ = cmd.Flags().GetString("key")
	o.signature, _ = cmd.Flags().GetString("signature")
	o.debug, _ = cmd.Flags().GetBool("debug")
	return o
}

// input is a loaded code object tree together with what produced it.
type input struct {
	path   string
	data   []byte
	code   *code.Code
	table  *opcode.Table
	logger *logging.LoggerCloser
}

func (in *input) Close() error { return in.logger.Close() }

// digest is the sha256 of the file as read, before decryption.
func (in *input) digest() string {
	return fmt.Sprintf("%x", sha256.Sum256(in.data))
}

// loadInput reads path ("-" for piped stdin) and decodes it.
func loadInput(path string, o inputOptions) (*input, error) {
	table := opcode.Default()
	if o.opcodes != "" {
		t, err := opcode.LoadFile(o.opcodes)
		if err != nil {
			return nil, err
		}
		table = t
	}

	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = readStdin()
		path = "stdin"
	} else {
		path, err = pathpkg.Abs(path)
		if err == nil {
			data, err = os.ReadFile(path)
		}
	}
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("file not found: %s", path)
		}
		return nil, fmt.Errorf("cannot read input: %w", err)
	}

	lc := logging.NewLogger(o.debug)
	co, err := loader.Load(path, data, loader.Options{
		Table:     table,
		Key:       o.key,
		Signature: o.signature,
		Logger:    lc.Logger,
	})
	if err != nil {
		lc.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	slog.Debug("Loaded input", "file", path, "code", co.Name, "size", len(data))
	return &input{path: path, data: data, code: co, table: table, logger: lc}, nil
}

// readStdin returns piped standard input; a terminal is an error.
func readStdin() ([]byte, error) {
	if term.IsTerminal(os.Stdin.Fd()) {
		return nil, fmt.Errorf("stdin is a terminal; pipe a file or pass a path")
	}
	return io.ReadAll(os.Stdin)
}

// isTerminal reports whether w is a terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(f.Fd())
}

func ResolveCwd(cmd *cobra.Command) (string, error) {
	cwd, _ := cmd.Flags().GetString("cwd")
	if cwd != "" {
		if err := os.Chdir(cwd); err != nil {
			return "", fmt.Errorf("failed to change directory: %w", err)
		}
		return cwd, nil
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get current working directory: %w", err)
	}
	return cwd, nil
}
