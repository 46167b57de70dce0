package routing

import "testing"

func TestValidTransition(t *testing.T) {
	cases := []struct {
		action string
		from   string
		valid  bool
	}{
		{"call", "waiting", true},
		{"call", "in_progress", false},
		{"call", "done", false},
		{"skip", "waiting", true},
		{"skip", "in_progress", true},
		{"skip", "skipped", false},
		{"recall", "skipped", true},
		{"recall", "waiting", false},
		{"route", "in_progress", true},
		{"route", "waiting", false},
		{"route", "done", false},
		{"complete", "in_progress", true},
		{"complete", "waiting", false},
		{"complete", "done", false},
		{"cancel", "waiting", true},
		{"cancel", "in_progress", true},
		{"cancel", "skipped", true},
		{"cancel", "done", false},
		{"no_show", "waiting", true},
		{"no_show", "in_progress", true},
		{"no_show", "cancelled", false},
		{"unknown", "waiting", false},
	}

	for _, tt := range cases {
		if got := ValidTransition(tt.action, tt.from); got != tt.valid {
			t.Fatalf("ValidTransition(%q, %q)=%v, want %v", tt.action, tt.from, got, tt.valid)
		}
	}
}
