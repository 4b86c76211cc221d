package storage

import "testing"

func TestNormalizeLabel(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"fresh_apple", "Fresh_Apple"},
		{"Fresh_APPLE", "Fresh_Apple"},
		{"Fresh_Apple", "Fresh_Apple"},
		{"ROTTEN_banana", "Rotten_Banana"},
		{"rotten_Banana", "Rotten_Banana"},
		{"  fresh_mango  ", "Fresh_Mango"},
		{"stale_bread", "stale_Bread"},
		{"fresh_red_apple", "Fresh_Red_apple"},
		{"apple", "apple"},
		{"  apple  ", "apple"},
		{"", ""},
		{"fresh_", "Fresh_"},
		{"Unknown_3", "Unknown_3"},
	}

	for _, tt := range tests {
		if got := NormalizeLabel(tt.input); got != tt.expected {
			t.Errorf("NormalizeLabel(%q) = %q, expected %q", tt.input, got, tt.expected)
		}
	}
}

func TestNormalizeLabel_Idempotent(t *testing.T) {
	inputs := []string{
		"fresh_apple", "ROTTEN_ORANGE", "stale_bread", "apple",
		"  fresh_tomato ", "fresh_red_apple", "", "_", "fresh_",
	}

	for _, in := range inputs {
		once := NormalizeLabel(in)
		twice := NormalizeLabel(once)
		if once != twice {
			t.Errorf("NormalizeLabel not idempotent for %q: %q != %q", in, once, twice)
		}
	}
}

func TestNormalizeLabel_AgreesAcrossCasings(t *testing.T) {
	if a, b := NormalizeLabel("fresh_apple"), NormalizeLabel("Fresh_APPLE"); a != b || a != "Fresh_Apple" {
		t.Errorf("casings disagree: %q vs %q", a, b)
	}
}
