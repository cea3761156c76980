package domain

import "testing"

func TestNormalizeRunOutcome(t *testing.T) {
	tests := []struct {
		in   string
		want RunOutcome
	}{
		{in: "running", want: RunOutcomeRunning},
		{in: " Succeeded ", want: RunOutcomeSucceeded},
		{in: "failed", want: RunOutcomeFailed},
		{in: "spawn_failed", want: RunOutcomeLaunchFailed},
		{in: "unknown", want: ""},
	}
	for _, tt := range tests {
		if got := NormalizeRunOutcome(tt.in); got != tt.want {
			t.Fatalf("NormalizeRunOutcome(%q)=%q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRunOutcomeTerminal(t *testing.T) {
	if RunOutcomeRunning.Terminal() {
		t.Fatalf("running must not be terminal")
	}
	for _, o := range []RunOutcome{RunOutcomeSucceeded, RunOutcomeFailed, RunOutcomeLaunchFailed} {
		if !o.Terminal() {
			t.Fatalf("%s must be terminal", o)
		}
	}
}
