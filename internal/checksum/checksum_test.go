package checksum

import (
	"strings"
	"testing"
)

func TestGeneration(t *testing.T) {
	cases := map[string]int{
		"":          0,
		"garbage":   0,
		"3-abc":     3,
		"-1-abc":    0,
		"x-abc":     0,
		"12-ffffff": 12,
	}
	for rev, want := range cases {
		if got := Generation(rev); got != want {
			t.Errorf("Generation(%q) = %d, want %d", rev, got, want)
		}
	}
}

func TestNextRevision(t *testing.T) {
	first := NextRevision("", []byte("a"))
	if !strings.HasPrefix(first, "1-") {
		t.Fatalf("first revision = %q", first)
	}
	second := NextRevision(first, []byte("a"))
	if !strings.HasPrefix(second, "2-") {
		t.Fatalf("second revision = %q", second)
	}
	if first[2:] != second[2:] {
		t.Error("same body should give the same digest")
	}
	if NextRevision(first, []byte("b")) == second {
		t.Error("different body should give a different revision")
	}
}
