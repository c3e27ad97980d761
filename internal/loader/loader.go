// Package loader reads code objects from the input formats pydis accepts:
// .pyc files, .pyasm sources and JSON/CBOR code documents, optionally
// XXTEA-encrypted and gzip or zip compressed.
package loader

import (
	"archive/zip"
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/xxtea/xxtea-go/xxtea"

	"pydis/internal/asm"
	"pydis/internal/code"
	"pydis/internal/codefile"
	"pydis/internal/marshal"
	"pydis/internal/opcode"
)

// Format is an input or output encoding of a code object tree.
type Format int

const (
	FormatUnknown Format = iota
	FormatPyc
	FormatAsm
	FormatJSON
	FormatCBOR
)

var formatNames = map[Format]string{
	FormatUnknown: "unknown",
	FormatPyc:     "pyc",
	FormatAsm:     "pyasm",
	FormatJSON:    "json",
	FormatCBOR:    "cbor",
}

func (f Format) String() string { return formatNames[f] }

// Ext is the conventional file extension, dot included.
func (f Format) Ext() string {
	if f == FormatUnknown {
		return ""
	}
	return "." + formatNames[f]
}

// ParseFormat accepts the names printed by String.
func ParseFormat(s string) (Format, error) {
	for f, name := range formatNames {
		if f != FormatUnknown && strings.EqualFold(s, name) {
			return f, nil
		}
	}
	return FormatUnknown, fmt.Errorf("unknown format %q (want pyc, pyasm, json or cbor)", s)
}

var (
	ErrUnknownFormat = errors.New("unrecognized input format")
	ErrDecrypt       = errors.New("decryption failed")
)

// Options controls decoding. The zero value loads plain files with the
// default opcode table.
type Options struct {
	Table     *opcode.Table
	Key       string
	Signature string
	Logger    *log.Logger
}

func (o Options) table() *opcode.Table {
	if o.Table == nil {
		return opcode.Default()
	}
	return o.Table
}

func (o Options) debug(msg string, kv ...any) {
	if o.Logger != nil {
		o.Logger.Debug(msg, kv...)
	}
}

// LoadFile reads path and decodes it.
func LoadFile(path string, opts Options) (*code.Code, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	co, err := Load(path, data, opts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return co, nil
}

// Load decodes data. name is used for format detection by extension and in
// error messages; it need not exist on disk.
func Load(name string, data []byte, opts Options) (*code.Code, error) {
	if opts.Key != "" {
		dec, err := Decrypt(data, opts.Key, opts.Signature)
		if err != nil {
			return nil, err
		}
		opts.debug("decrypted input", "file", name, "size", len(dec))
		data = dec
	}
	data, err := Decompress(data, name, opts.Logger)
	if err != nil {
		return nil, fmt.Errorf("decompression failed: %w", err)
	}

	format := Detect(name, data)
	opts.debug("detected format", "file", name, "format", format)
	switch format {
	case FormatPyc:
		co, _, err := marshal.ReadPyc(data, opts.table())
		return co, err
	case FormatAsm:
		return asm.New(asm.WithTable(opts.table()), asm.WithLogger(opts.Logger)).Assemble(name, data)
	case FormatJSON:
		return codefile.UnmarshalJSON(data)
	case FormatCBOR:
		return codefile.UnmarshalCBOR(data)
	}
	return nil, ErrUnknownFormat
}

// Detect picks a format from the content first and the extension second.
func Detect(name string, data []byte) Format {
	if marshal.LooksLikePyc(data) {
		return FormatPyc
	}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".pyc":
		return FormatPyc
	case ".pyasm":
		return FormatAsm
	case ".json":
		return FormatJSON
	case ".cbor":
		return FormatCBOR
	}
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	switch {
	case len(trimmed) == 0:
		return FormatUnknown
	case trimmed[0] == '{':
		return FormatJSON
	case trimmed[0] == '#' || bytes.HasPrefix(trimmed, []byte("code")):
		return FormatAsm
	case data[0]&0xe0 == 0xa0:
		// CBOR major type 5: a map
		return FormatCBOR
	}
	return FormatUnknown
}

// Decrypt removes XXTEA encryption. A signature found at the start of the
// ciphertext is stripped before decryption; otherwise it is expected at
// the start of the plaintext and removed from there.
func Decrypt(data []byte, key, signature string) ([]byte, error) {
	if signature != "" && bytes.HasPrefix(data, []byte(signature)) {
		data = data[len(signature):]
		signature = ""
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrDecrypt)
	}
	plain := xxtea.Decrypt(data, []byte(key))
	if plain == nil {
		return nil, fmt.Errorf("%w: wrong key or corrupt data", ErrDecrypt)
	}
	if signature != "" {
		if !bytes.HasPrefix(plain, []byte(signature)) {
			return nil, fmt.Errorf("%w: signature mismatch", ErrDecrypt)
		}
		plain = plain[len(signature):]
	}
	return plain, nil
}

// Encrypt is the inverse of Decrypt; the signature, if any, is prepended
// to the ciphertext.
func Encrypt(data []byte, key, signature string) []byte {
	out := xxtea.Encrypt(data, []byte(key))
	if signature == "" {
		return out
	}
	return append([]byte(signature), out...)
}

// Decompress unwraps gzip data or the first member of a zip archive and
// returns anything else unchanged.
func Decompress(data []byte, name string, logger *log.Logger) ([]byte, error) {
	if len(data) < 2 {
		return data, nil
	}
	debug := func(msg string, kv ...any) {
		if logger != nil {
			logger.Debug(msg, kv...)
		}
	}

	if data[0] == 0x1f && data[1] == 0x8b {
		debug("detected gzip compression", "file", name)
		zr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("gzip reader creation failed: %w", err)
		}
		defer zr.Close()
		out, err := io.ReadAll(zr)
		if err != nil {
			return nil, fmt.Errorf("gzip decompression failed: %w", err)
		}
		debug("gzip decompression successful", "file", name, "original_size", len(data), "decompressed_size", len(out))
		return out, nil
	}

	if len(data) >= 4 && data[0] == 'P' && data[1] == 'K' && data[2] == 3 && data[3] == 4 {
		debug("detected zip archive", "file", name)
		zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
		if err != nil {
			return nil, fmt.Errorf("zip reader creation failed: %w", err)
		}
		if len(zr.File) == 0 {
			return nil, errors.New("zip archive is empty")
		}
		f := zr.File[0]
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("failed to open %s in zip: %w", f.Name, err)
		}
		defer rc.Close()
		out, err := io.ReadAll(rc)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s from zip: %w", f.Name, err)
		}
		debug("zip decompression successful", "file", name, "archive_file", f.Name, "decompressed_size", len(out))
		return out, nil
	}
	return data, nil
}

// Encode serializes co in the given format. Formatting as .pyasm needs
// the opcode table.
func Encode(co *code.Code, f Format, table *opcode.Table) ([]byte, error) {
	switch f {
	case FormatPyc:
		return marshal.WritePyc(co, marshal.DefaultMagic)
	case FormatAsm:
		var buf bytes.Buffer
		if err := asm.Format(&buf, co, table); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case FormatJSON:
		return codefile.MarshalJSON(co)
	case FormatCBOR:
		return codefile.MarshalCBOR(co)
	}
	return nil, fmt.Errorf("cannot encode %s", f)
}
