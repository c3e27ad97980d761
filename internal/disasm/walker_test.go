package disasm

import (
	"slices"
	"testing"
)

const extArg = 144

func units(pairs ...byte) []byte {
	return append([]byte(nil), pairs...)
}

func TestUnpackWithoutPrefixes(t *testing.T) {
	code := units(100, 0, 124, 7, 83, 0, 131, 255)
	got := slices.Collect(Unpack(code, extArg))
	if len(got) != 4 {
		t.Fatalf("got %d instructions, want 4", len(got))
	}
	for i, in := range got {
		if in.Offset != i {
			t.Errorf("instruction %d has offset %d", i, in.Offset)
		}
		if in.Arg != uint64(in.ShortArg) {
			t.Errorf("offset %d: Arg %d != ShortArg %d", in.Offset, in.Arg, in.ShortArg)
		}
		if in.ByteOffset() != i*2 {
			t.Errorf("offset %d: ByteOffset %d", in.Offset, in.ByteOffset())
		}
	}
	if got[3].Op != 131 || got[3].ShortArg != 255 {
		t.Errorf("last instruction = %+v", got[3])
	}
}

func TestUnpackExtensionChains(t *testing.T) {
	tests := []struct {
		name     string
		prefixes []byte
		last     byte
		want     uint64
	}{
		{"none", nil, 0x2c, 0x2c},
		{"one", []byte{0x01}, 0x2c, 0x012c},
		{"two", []byte{0x01, 0x02}, 0x03, 0x010203},
		{"three", []byte{0xff, 0x00, 0x10}, 0x20, 0xff001020},
		{"zero prefix", []byte{0x00}, 0x05, 0x05},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var code []byte
			for _, b := range tt.prefixes {
				code = append(code, extArg, b)
			}
			code = append(code, 100, tt.last)
			got := slices.Collect(Unpack(code, extArg))
			if len(got) != len(tt.prefixes)+1 {
				t.Fatalf("got %d instructions, prefixes must still be yielded", len(got))
			}
			final := got[len(got)-1]
			if final.Arg != tt.want {
				t.Errorf("Arg = %#x, want %#x", final.Arg, tt.want)
			}
			if final.ShortArg != tt.last {
				t.Errorf("ShortArg = %#x, want %#x", final.ShortArg, tt.last)
			}
		})
	}
}

func TestUnpackResetsAfterRealInstruction(t *testing.T) {
	code := units(extArg, 1, 100, 2, 100, 3)
	got := slices.Collect(Unpack(code, extArg))
	if got[1].Arg != 0x0102 {
		t.Errorf("extended Arg = %#x", got[1].Arg)
	}
	if got[2].Arg != 3 {
		t.Errorf("accumulator not reset: Arg = %#x", got[2].Arg)
	}
}

func TestUnpackTrailingPrefixAndOddByte(t *testing.T) {
	got := slices.Collect(Unpack(units(100, 1, extArg, 9, 0x55), extArg))
	if len(got) != 2 {
		t.Fatalf("got %d instructions, want 2", len(got))
	}
	if got[1].Op != extArg || got[1].Arg != 9 {
		t.Errorf("trailing prefix = %+v", got[1])
	}
}

func TestUnpackFreshStatePerCall(t *testing.T) {
	seq := Unpack(units(extArg, 1, 100, 2), extArg)
	first := slices.Collect(seq)
	second := slices.Collect(seq)
	if !slices.Equal(first, second) {
		t.Errorf("second walk differs: %+v vs %+v", first, second)
	}
}

func TestUnpackStopsEarly(t *testing.T) {
	n := 0
	for range Unpack(units(9, 0, 9, 0, 9, 0, 9, 0), extArg) {
		n++
		if n == 2 {
			break
		}
	}
	if n != 2 {
		t.Errorf("visited %d instructions", n)
	}
}
