package opcode

import (
	"fmt"
	"sort"

	"github.com/BurntSushi/toml"
)

// tableFile is the on-disk TOML layout.
type tableFile struct {
	Version      string              `toml:"version"`
	Magic        []int               `toml:"magic"`
	HaveArgument int                 `toml:"have_argument"`
	ExtendedArg  string              `toml:"extended_arg"`
	CompareOps   []string            `toml:"compare_ops"`
	Ops          map[string]int      `toml:"ops"`
	Categories   map[string][]string `toml:"categories"`
}

// Table is an immutable opcode table. It is safe for concurrent use.
type Table struct {
	version      string
	magicLo      uint16
	magicHi      uint16
	haveArgument byte
	extendedArg  byte
	compareOps   []string

	names      [256]string
	known      [256]bool
	categories [256]Category
	byName     map[string]byte
	nameWidth  int
}

// Parse decodes a TOML table.
func Parse(data []byte) (*Table, error) {
	var f tableFile
	if _, err := toml.Decode(string(data), &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTable, err)
	}
	return build(&f)
}

func build(f *tableFile) (*Table, error) {
	if f.HaveArgument < 0 || f.HaveArgument > 255 {
		return nil, fmt.Errorf("%w: have_argument %d out of range", ErrInvalidTable, f.HaveArgument)
	}
	t := &Table{
		version:      f.Version,
		haveArgument: byte(f.HaveArgument),
		compareOps:   append([]string(nil), f.CompareOps...),
		byName:       make(map[string]byte, len(f.Ops)),
	}
	switch len(f.Magic) {
	case 0:
	case 1:
		t.magicLo, t.magicHi = uint16(f.Magic[0]), uint16(f.Magic[0])
	case 2:
		t.magicLo, t.magicHi = uint16(f.Magic[0]), uint16(f.Magic[1])
	default:
		return nil, fmt.Errorf("%w: magic must be [lo, hi]", ErrInvalidTable)
	}

	for name, code := range f.Ops {
		if code < 0 || code > 255 {
			return nil, fmt.Errorf("%w: %s = %d out of range", ErrInvalidTable, name, code)
		}
		if t.known[code] {
			return nil, fmt.Errorf("%w: %s and %s share opcode %d", ErrInvalidTable, t.names[code], name, code)
		}
		t.known[code] = true
		t.names[code] = name
		t.byName[name] = byte(code)
	}

	for i := range t.categories {
		switch {
		case i < int(t.haveArgument):
			t.categories[i] = None
		default:
			t.categories[i] = Raw
		}
	}

	// sorted so that a name listed twice fails deterministically
	keys := make([]string, 0, len(f.Categories))
	for k := range f.Categories {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	assigned := make(map[byte]string)
	for _, key := range keys {
		cat, err := ParseCategory(key)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidTable, err)
		}
		for _, name := range f.Categories[key] {
			code, ok := t.byName[name]
			if !ok {
				return nil, fmt.Errorf("%w: category %s lists unknown opcode %s", ErrInvalidTable, key, name)
			}
			if prev, dup := assigned[code]; dup {
				return nil, fmt.Errorf("%w: %s is in both %s and %s", ErrInvalidTable, name, prev, key)
			}
			if code < t.haveArgument && cat != None {
				return nil, fmt.Errorf("%w: %s takes no argument but is listed in %s", ErrInvalidTable, name, key)
			}
			assigned[code] = key
			t.categories[code] = cat
		}
	}

	if f.ExtendedArg != "" {
		code, ok := t.byName[f.ExtendedArg]
		if !ok {
			return nil, fmt.Errorf("%w: extended_arg names unknown opcode %s", ErrInvalidTable, f.ExtendedArg)
		}
		t.extendedArg = code
	} else {
		return nil, fmt.Errorf("%w: extended_arg is required", ErrInvalidTable)
	}

	for i := range t.names {
		if !t.known[i] {
			t.names[i] = fmt.Sprintf("<%d>", i)
		}
		t.nameWidth = max(t.nameWidth, len(t.names[i]))
	}
	return t, nil
}

func (t *Table) Version() string { return t.version }

// HaveArgument is the first opcode that carries an operand.
func (t *Table) HaveArgument() byte { return t.haveArgument }

// ExtendedArg is the operand extension prefix opcode.
func (t *Table) ExtendedArg() byte { return t.extendedArg }

// CompareOps returns the comparison operator symbols in operand order.
func (t *Table) CompareOps() []string { return t.compareOps }

// AcceptsMagic reports whether a .pyc magic number belongs to this table.
// Tables without a magic range accept everything.
func (t *Table) AcceptsMagic(magic uint16) bool {
	if t.magicLo == 0 && t.magicHi == 0 {
		return true
	}
	return magic >= t.magicLo && magic <= t.magicHi
}

// Name returns the mnemonic, or "<N>" for opcodes the table does not know.
func (t *Table) Name(op byte) string { return t.names[op] }

// Known reports whether op is defined by the table.
func (t *Table) Known(op byte) bool { return t.known[op] }

// Category returns the operand category of op. Unknown opcodes at or above
// HaveArgument fall back to Raw.
func (t *Table) Category(op byte) Category { return t.categories[op] }

// Lookup finds an opcode by mnemonic.
func (t *Table) Lookup(name string) (byte, bool) {
	op, ok := t.byName[name]
	return op, ok
}

// NameWidth is the length of the longest mnemonic, used for column layout.
func (t *Table) NameWidth() int { return t.nameWidth }
