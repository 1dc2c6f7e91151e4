package rpmver

import "testing"

func TestCompareSegment(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"1.0", "1.0", 0},
		{"1.0", "2.0", -1},
		{"2.0", "1.0", 1},
		{"1.0", "1.0.1", -1},
		{"1.0011", "1.9", 1},
		{"1.09", "1.9", 0},
		{"1a", "1.0", -1},
		{"5.5p1", "5.5p2", -1},
		{"5.5p10", "5.5p1", 1},
		{"10xyz", "10.1xyz", -1},
		{"", "", 0},
		{"1", "", 1},
	}
	for _, c := range cases {
		got := compareSegment(c.a, c.b)
		if sign(got) != sign(c.want) {
			t.Errorf("compareSegment(%q, %q) = %d, want sign %d", c.a, c.b, got, c.want)
		}
	}
}

func sign(n int) int {
	switch {
	case n < 0:
		return -1
	case n > 0:
		return 1
	default:
		return 0
	}
}

func TestCompareEpochDominates(t *testing.T) {
	if c := Compare("1", "0.1", "1", "0", "99.0", "1"); c <= 0 {
		t.Errorf("epoch 1 should outrank epoch 0 regardless of version, got %d", c)
	}
}

func TestCompareMissingEpochIsZero(t *testing.T) {
	if c := Compare("", "1.0", "1", "0", "1.0", "1"); c != 0 {
		t.Errorf("missing epoch should compare equal to explicit 0, got %d", c)
	}
}

func TestCompareReleaseTiebreak(t *testing.T) {
	if c := Compare("0", "1.0", "1", "0", "1.0", "2"); c >= 0 {
		t.Errorf("release 1 should be less than release 2, got %d", c)
	}
}
