package util

import "testing"

func TestSlugify(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"simple", "Astralis", "astralis"},
		{"spaces", "Team Liquid", "team_liquid"},
		{"punctuation", "Ninjas in Pyjamas!", "ninjas_in_pyjamas"},
		{"leading junk", "  --G2--  ", "g2"},
		{"digits", "100 Thieves", "100_thieves"},
		{"collapse", "a   b", "a_b"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Slugify(tt.in); got != tt.want {
				t.Errorf("Slugify(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestMatchSlug(t *testing.T) {
	if got := MatchSlug("a", "b"); got != "a_vs_b" {
		t.Errorf("MatchSlug() = %q, want a_vs_b", got)
	}
}

func TestBracketSlug(t *testing.T) {
	if got := BracketSlug("wb", 2, 1); got != "wb-r2-m1" {
		t.Errorf("BracketSlug() = %q, want wb-r2-m1", got)
	}
}

func TestPowerOfTwo(t *testing.T) {
	for n, want := range map[int]bool{1: true, 2: true, 3: false, 4: true, 6: false, 8: true, 0: false} {
		if got := IsPowerOfTwo(n); got != want {
			t.Errorf("IsPowerOfTwo(%d) = %v, want %v", n, got, want)
		}
	}

	for n, want := range map[int]int{1: 1, 2: 2, 3: 4, 5: 8, 8: 8, 9: 16} {
		if got := NextPowerOfTwo(n); got != want {
			t.Errorf("NextPowerOfTwo(%d) = %d, want %d", n, got, want)
		}
	}
}
