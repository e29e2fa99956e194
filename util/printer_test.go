package util

import (
	"strings"
	"testing"
)

func TestDumpBytes(t *testing.T) {
	b := []byte("_CP_\x00\x01ABCDEFGHIJKLMNOPQRST")
	out := DumpBytes(b, DumpOptions{Base: 0x1000, ASCII: true})
	rows := strings.Split(strings.TrimSuffix(out, "\n"), "\n")
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d:\n%s", len(rows), out)
	}
	expected := "00001000 :  5f 43 50 5f 00 01 41 42  43 44 45 46 47 48 49 4a  _CP_..ABCDEFGHIJ"
	if rows[0] != expected {
		t.Errorf("first row\n%q\nexpected\n%q", rows[0], expected)
	}
	if !strings.HasPrefix(rows[1], "00001010 :  4b 4c") {
		t.Errorf("second row %q", rows[1])
	}
	if !strings.HasSuffix(rows[1], "KLMNOPQRST      ") {
		t.Errorf("second row ascii padding %q", rows[1])
	}
}

func TestDumpDiff(t *testing.T) {
	a := make([]byte, 64)
	b := make([]byte, 64)
	if different, out := DumpDiff(a, b, DumpOptions{}); different || out != "" {
		t.Errorf("identical slices reported as different: %q", out)
	}
	b[40] = 0xff
	different, out := DumpDiff(a, b, DumpOptions{})
	if !different {
		t.Fatal("difference not reported")
	}
	// only the row holding offset 40 is printed for each slice
	if strings.Count(out, "00000020 :") != 2 || strings.Contains(out, "00000000 :") {
		t.Errorf("unexpected rows:\n%s", out)
	}
	if !strings.Contains(out, "\033[1m\033[31m ff\033[0m") {
		t.Errorf("differing byte not highlighted:\n%s", out)
	}

	if different, _ := DumpDiff(a, a[:60], DumpOptions{}); !different {
		t.Error("length difference not reported")
	}
}
