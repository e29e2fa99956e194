// Package util renders raw image bytes for inspection.
package util

import (
	"fmt"
	"strings"
)

// DumpOptions control how bytes are rendered
type DumpOptions struct {
	// BytesPerRow defaults to 16
	BytesPerRow int
	// Base is added to every printed position, so rows show image offsets
	Base int64
	// ASCII appends the printable characters of each row, like xxd
	ASCII bool
	// Highlight marks the given positions, relative to the slice. When non-nil, even
	// empty, only rows holding one of them are printed.
	Highlight []int
}

// DumpBytes renders b in hex, one row per BytesPerRow bytes, each row prefixed by its
// position in hex
func DumpBytes(b []byte, opts DumpOptions) string {
	perRow := opts.BytesPerRow
	if perRow <= 0 {
		perRow = 16
	}
	marked := make(map[int]bool, len(opts.Highlight))
	for _, v := range opts.Highlight {
		marked[v] = true
	}

	var out strings.Builder
	ascii := make([]byte, 0, perRow)
	for first := 0; first < len(b); first += perRow {
		last := first + perRow
		if opts.Highlight != nil && !anyMarked(marked, first, last) {
			continue
		}
		fmt.Fprintf(&out, "%08x : ", opts.Base+int64(first))
		ascii = ascii[:0]
		for j := first; j < last; j++ {
			// extra gap every 8 bytes
			if j%8 == 0 && j != first {
				out.WriteByte(' ')
			}
			if j >= len(b) {
				out.WriteString("   ")
				ascii = append(ascii, ' ')
				continue
			}
			hex := fmt.Sprintf(" %02x", b[j])
			if marked[j] {
				hex = "\033[1m\033[31m" + hex + "\033[0m"
			}
			out.WriteString(hex)
			if b[j] < 32 || b[j] > 126 {
				ascii = append(ascii, '.')
			} else {
				ascii = append(ascii, b[j])
			}
		}
		if opts.ASCII {
			out.WriteString("  ")
			out.Write(ascii)
		}
		out.WriteByte('\n')
	}
	return out.String()
}

func anyMarked(marked map[int]bool, first, last int) bool {
	for j := first; j < last; j++ {
		if marked[j] {
			return true
		}
	}
	return false
}

// diffOffsets returns every position where a and b differ, a missing byte counting as a difference
func diffOffsets(a, b []byte) []int {
	maxSize := len(a)
	if len(b) > maxSize {
		maxSize = len(b)
	}
	diffs := []int{}
	for i := 0; i < maxSize; i++ {
		if i >= len(a) || i >= len(b) || a[i] != b[i] {
			diffs = append(diffs, i)
		}
	}
	return diffs
}

// DumpDiff renders the rows where a and b differ, a above b, with the differing bytes
// highlighted. different is false and out empty when the slices are identical.
func DumpDiff(a, b []byte, opts DumpOptions) (different bool, out string) {
	diffs := diffOffsets(a, b)
	if len(diffs) == 0 {
		return false, ""
	}
	opts.Highlight = diffs
	return true, DumpBytes(a, opts) + "\n" + DumpBytes(b, opts)
}
