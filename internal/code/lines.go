package code

// LineRange maps the byte range [Start, End) of the instruction buffer to a
// source line. HasLine is false for ranges without a line number.
type LineRange struct {
	Start   int
	End     int
	Line    int
	HasLine bool
}

const noLineDelta = -128

// Lines decodes the CPython 3.10 line table: pairs of (unsigned byte delta,
// signed line delta), with -128 marking a range that has no line. Zero
// length ranges are folded into the next entry.
func (c *Code) Lines() []LineRange {
	var (
		out      []LineRange
		end      int
		computed = c.FirstLineNo
		table    = c.LineTable
	)
	for i := 0; i+1 < len(table); {
		r := LineRange{Start: end}
		for {
			r.Start = end
			end += int(table[i])
			ldelta := int(int8(table[i+1]))
			i += 2
			if ldelta == noLineDelta {
				r.HasLine = false
			} else {
				computed += ldelta
				r.Line, r.HasLine = computed, true
			}
			if r.Start != end || i+1 >= len(table) {
				break
			}
		}
		if r.Start == end {
			break
		}
		r.End = end
		out = append(out, r)
	}
	return out
}

// LineStarts maps the byte offset of each instruction that begins a new
// source line to that line. Consecutive ranges on the same line collapse
// into the first.
func (c *Code) LineStarts() map[int]int {
	starts := make(map[int]int)
	last, haveLast := 0, false
	for _, r := range c.Lines() {
		if !r.HasLine || (haveLast && r.Line == last) {
			continue
		}
		starts[r.Start] = r.Line
		last, haveLast = r.Line, true
	}
	return starts
}

// LineEntry attributes the instruction bytes starting at Offset to Line;
// the entry extends to the next entry's offset or the end of the code.
// Line < 0 means no line.
type LineEntry struct {
	Offset int
	Line   int
}

// EncodeLineTable builds a CPython 3.10 line table for a buffer of codeLen
// bytes. Entries must be sorted by offset.
func EncodeLineTable(firstLine int, codeLen int, entries []LineEntry) []byte {
	var out []byte
	prevLine := firstLine
	for i, e := range entries {
		end := codeLen
		if i+1 < len(entries) {
			end = entries[i+1].Offset
		}
		length := end - e.Offset
		if length <= 0 {
			continue
		}
		if e.Line < 0 {
			for length > 0 {
				n := min(length, 254)
				out = append(out, byte(n), byte(0x80))
				length -= n
			}
			continue
		}
		ldelta := e.Line - prevLine
		prevLine = e.Line
		for ldelta > 127 {
			out = append(out, 0, 127)
			ldelta -= 127
		}
		for ldelta < -127 {
			out = append(out, 0, byte(0x81))
			ldelta += 127
		}
		n := min(length, 254)
		out = append(out, byte(n), byte(int8(ldelta)))
		length -= n
		for length > 0 {
			n = min(length, 254)
			out = append(out, byte(n), 0)
			length -= n
		}
	}
	return out
}
