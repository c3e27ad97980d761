package marshal

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"pydis/internal/code"
	"pydis/internal/opcode"
)

// HeaderSize is the length of a PEP 552 .pyc header.
const HeaderSize = 16

// DefaultMagic is the magic number CPython 3.10 final writes.
const DefaultMagic = 3439

var ErrBadMagic = errors.New("bad .pyc magic number")

// Header is the fixed prefix of a .pyc file.
type Header struct {
	Magic uint16
	Flags uint32
	MTime uint32 // valid when Flags == 0
	Size  uint32 // valid when Flags == 0
	Hash  uint64 // valid when Flags&1 != 0
}

// LooksLikePyc reports whether data starts with a .pyc magic: two bytes of
// version followed by "\r\n".
func LooksLikePyc(data []byte) bool {
	return len(data) >= 4 && data[2] == '\r' && data[3] == '\n'
}

// ParseHeader decodes the header at the start of data.
func ParseHeader(data []byte) (Header, error) {
	if len(data) < HeaderSize {
		return Header{}, fmt.Errorf("pyc: %w: %d bytes, header needs %d", ErrUnexpectedEOF, len(data), HeaderSize)
	}
	if !LooksLikePyc(data) {
		return Header{}, fmt.Errorf("pyc: %w: % x", ErrBadMagic, data[:4])
	}
	h := Header{
		Magic: binary.LittleEndian.Uint16(data[0:2]),
		Flags: binary.LittleEndian.Uint32(data[4:8]),
	}
	if h.Flags&1 != 0 {
		h.Hash = binary.LittleEndian.Uint64(data[8:16])
	} else {
		h.MTime = binary.LittleEndian.Uint32(data[8:12])
		h.Size = binary.LittleEndian.Uint32(data[12:16])
	}
	return h, nil
}

// ReadPyc parses a .pyc file. The magic must be accepted by table; a nil
// table means opcode.Default().
func ReadPyc(data []byte, table *opcode.Table) (*code.Code, Header, error) {
	if table == nil {
		table = opcode.Default()
	}
	h, err := ParseHeader(data)
	if err != nil {
		return nil, h, err
	}
	if !table.AcceptsMagic(h.Magic) {
		return nil, h, fmt.Errorf("pyc: %w: %d is not a Python %s magic", ErrBadMagic, h.Magic, table.Version())
	}
	co, err := Unmarshal(data[HeaderSize:])
	if err != nil {
		var merr *Error
		if errors.As(err, &merr) {
			merr.Pos += HeaderSize
		}
		return nil, h, err
	}
	return co, h, nil
}

// WritePyc serializes co behind an unchecked timestamp header with zero
// mtime and size.
func WritePyc(co *code.Code, magic uint16) ([]byte, error) {
	body, err := Marshal(co)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	buf.Grow(HeaderSize + len(body))
	var hdr [HeaderSize]byte
	binary.LittleEndian.PutUint16(hdr[0:2], magic)
	hdr[2], hdr[3] = '\r', '\n'
	buf.Write(hdr[:])
	buf.Write(body)
	return buf.Bytes(), nil
}
