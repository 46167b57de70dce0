package routing

import "testing"

func TestCanRoute(t *testing.T) {
	cases := []struct {
		from  string
		to    string
		valid bool
	}{
		{"triage", "consultation", true},
		{"triage", "pharmacy", false},
		{"triage", "lab", false},
		{"consultation", "lab", true},
		{"consultation", "pharmacy", true},
		{"consultation", "billing", true},
		{"consultation", "document", true},
		{"consultation", "triage", false},
		{"lab", "consultation", true},
		{"lab", "document", false},
		{"billing", "pharmacy", true},
		{"billing", "consultation", false},
		{"pharmacy", "document", false},
		{"document", "pharmacy", false},
	}

	for _, tt := range cases {
		if got := CanRoute(tt.from, tt.to); got != tt.valid {
			t.Fatalf("CanRoute(%q, %q)=%v, want %v", tt.from, tt.to, got, tt.valid)
		}
	}
}

func TestEndPoint(t *testing.T) {
	for _, stationType := range []string{"pharmacy", "document"} {
		if !EndPoint(stationType) {
			t.Fatalf("expected %q to be an end point", stationType)
		}
		if targets := ForwardTargets(stationType); targets != nil {
			t.Fatalf("end point %q has forward targets %v", stationType, targets)
		}
	}
	for _, stationType := range []string{"triage", "consultation", "lab", "billing"} {
		if EndPoint(stationType) {
			t.Fatalf("expected %q to be a routing station", stationType)
		}
		if len(ForwardTargets(stationType)) == 0 {
			t.Fatalf("routing station %q has no forward targets", stationType)
		}
	}
}

func TestValidStationType(t *testing.T) {
	for _, stationType := range []string{"triage", "consultation", "lab", "pharmacy", "billing", "document"} {
		if !ValidStationType(stationType) {
			t.Fatalf("expected %q to be valid", stationType)
		}
	}
	if ValidStationType("xray") {
		t.Fatal("expected unknown station type to be invalid")
	}
}
