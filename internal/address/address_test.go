package address

import (
	"errors"
	"testing"
)

func TestCanonicalize(t *testing.T) {
	cases := []struct {
		name   string
		raw    string
		prefix string
		want   string
		ok     bool
	}{
		{"already canonical", "+15550100", "+1", "+15550100", true},
		{"dashes stripped", "+1-555-0100", "+1", "+15550100", true},
		{"spaces and parens", "+1 (555) 010-0000", "+1", "+15550100000", true},
		{"national digits get prefix", "555-010-0000", "+1", "+15550100000", true},
		{"double zero international", "0015550100", "+44", "+15550100", true},
		{"multi digit prefix", "20 7946 0000", "+44", "+442079460000", true},
		{"empty", "", "+1", "", false},
		{"email-like", "user@example.org", "+1", "", false},
		{"letters", "CALL-ME", "+1", "", false},
		{"too short", "+123", "+1", "", false},
		{"too long", "+1234567890123456", "+1", "", false},
		{"plus not leading", "1+5550100", "+1", "", false},
		{"no default prefix for national", "5550100", "", "", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Canonicalize(tc.raw, tc.prefix)
			if tc.ok {
				if err != nil {
					t.Fatalf("Canonicalize(%q) error: %v", tc.raw, err)
				}
				if got != tc.want {
					t.Errorf("Canonicalize(%q) = %q, want %q", tc.raw, got, tc.want)
				}
				return
			}
			if !errors.Is(err, ErrInvalid) {
				t.Errorf("Canonicalize(%q) err = %v, want ErrInvalid", tc.raw, err)
			}
		})
	}
}

func TestValid(t *testing.T) {
	if !Valid("+15550100") {
		t.Error("Valid(+15550100) = false, want true")
	}
	for _, raw := range []string{"15550100", "+1-555", "+abc1234567", "", "+123"} {
		if Valid(raw) {
			t.Errorf("Valid(%q) = true, want false", raw)
		}
	}
}
