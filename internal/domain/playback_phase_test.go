package domain

import "testing"

func TestPhaseTransitions(t *testing.T) {
	tests := []struct {
		from, to PlaybackPhase
		want     bool
	}{
		{PhaseRegistering, PhaseResolvingMetadata, true},
		{PhaseResolvingMetadata, PhaseSelectingFile, true},
		{PhaseSelectingFile, PhaseBuffering, true},
		{PhaseBuffering, PhasePlaying, true},
		{PhasePlaying, PhaseCleanup, true},
		{PhaseCleanup, PhaseDone, true},
		// Cancellation paths: every pre-Done phase can reach Cleanup.
		{PhaseRegistering, PhaseCleanup, true},
		{PhaseResolvingMetadata, PhaseCleanup, true},
		{PhaseBuffering, PhaseCleanup, true},
		// Invalid jumps.
		{PhaseRegistering, PhaseBuffering, false},
		{PhaseBuffering, PhaseRegistering, false},
		{PhaseDone, PhaseCleanup, false},
		{PhasePlaying, PhaseDone, false},
	}

	for _, tt := range tests {
		if got := CanTransitionPhase(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransitionPhase(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}
