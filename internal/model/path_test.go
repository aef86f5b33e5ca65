package model

import "testing"

func TestNewPath_HashIsDeterministic(t *testing.T) {
	p1 := NewPath([]string{"s1", "s2", "s3"})
	p2 := NewPath([]string{"s1", "s2", "s3"})
	if p1.Hash() != p2.Hash() {
		t.Errorf("expected equal hashes for equal switch sequences, got %q and %q", p1.Hash(), p2.Hash())
	}
}

func TestNewPath_HashDiffersOnOrder(t *testing.T) {
	p1 := NewPath([]string{"s1", "s2", "s3"})
	p2 := NewPath([]string{"s3", "s2", "s1"})
	if p1.Hash() == p2.Hash() {
		t.Error("expected different hashes for differently-ordered switch sequences")
	}
}

func TestNewPath_HashDiffersFromPrefixAmbiguity(t *testing.T) {
	// Without a delimiter, ["s1s2"] and ["s1", "s2"] would hash the same
	// way. The "->" written after every switch prevents that.
	p1 := NewPath([]string{"s1s2"})
	p2 := NewPath([]string{"s1", "s2"})
	if p1.Hash() == p2.Hash() {
		t.Error("expected delimiter to disambiguate concatenation boundaries")
	}
}

func TestPath_ContainsSubpath(t *testing.T) {
	p := NewPath([]string{"s1", "s2", "s3", "s4"})

	tests := []struct {
		name    string
		subpath []string
		want    bool
	}{
		{"empty subpath always matches", nil, true},
		{"contiguous middle window", []string{"s2", "s3"}, true},
		{"full path", []string{"s1", "s2", "s3", "s4"}, true},
		{"non-contiguous order rejected", []string{"s1", "s3"}, false},
		{"longer than path", []string{"s1", "s2", "s3", "s4", "s5"}, false},
		{"not present", []string{"s5", "s6"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.ContainsSubpath(tt.subpath); got != tt.want {
				t.Errorf("ContainsSubpath(%v) = %v, want %v", tt.subpath, got, tt.want)
			}
		})
	}
}

func TestPath_StartsWithEndsWith(t *testing.T) {
	p := NewPath([]string{"s1", "s2", "s3"})

	if !p.StartsWith([]string{"s1", "s2"}) {
		t.Error("expected StartsWith to match leading switches")
	}
	if p.StartsWith([]string{"s2"}) {
		t.Error("expected StartsWith to reject non-leading switches")
	}
	if !p.EndsWith([]string{"s2", "s3"}) {
		t.Error("expected EndsWith to match trailing switches")
	}
	if p.EndsWith([]string{"s1"}) {
		t.Error("expected EndsWith to reject non-trailing switches")
	}
	if p.StartsWith([]string{"s1", "s2", "s3", "s4"}) {
		t.Error("expected StartsWith to reject a prefix longer than the path")
	}
}

func TestPath_SourceDestination(t *testing.T) {
	p := NewPath([]string{"s1", "s2", "s3"})
	src, ok := p.Source()
	if !ok || src != "s1" {
		t.Errorf("Source() = (%q, %v), want (s1, true)", src, ok)
	}
	dst, ok := p.Destination()
	if !ok || dst != "s3" {
		t.Errorf("Destination() = (%q, %v), want (s3, true)", dst, ok)
	}

	empty := NewPath(nil)
	if _, ok := empty.Source(); ok {
		t.Error("expected Source() to fail on empty path")
	}
	if _, ok := empty.Destination(); ok {
		t.Error("expected Destination() to fail on empty path")
	}
}

func TestPath_String(t *testing.T) {
	p := NewPath([]string{"s1", "s2", "s3"})
	if got, want := p.String(), "s1 -> s2 -> s3"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestPath_MutationIsolation(t *testing.T) {
	switches := []string{"s1", "s2"}
	p := NewPath(switches)
	switches[0] = "mutated"
	if p.Switches()[0] != "s1" {
		t.Error("expected NewPath to copy the input slice")
	}
}
