package model

import (
	"math"
	"testing"
)

func TestConfidenceFromLogProb(t *testing.T) {
	tests := []struct {
		name string
		lp   float64
		want int
	}{
		{"zero logprob is full confidence", 0, 100},
		{"ln(0.9) maps to 90", -0.10536, 90},
		{"ln(0.5) maps to 50", math.Log(0.5), 50},
		{"very negative maps to 0", -50, 0},
		{"positive clamps at 100", 1.5, 100},
		{"NaN yields 0", math.NaN(), 0},
		{"+Inf yields 0", math.Inf(1), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ConfidenceFromLogProb(tt.lp); got != tt.want {
				t.Errorf("ConfidenceFromLogProb(%v) = %d, want %d", tt.lp, got, tt.want)
			}
		})
	}
}

func TestJobStatusTerminal(t *testing.T) {
	for status, terminal := range map[JobStatus]bool{
		JobStatusQueued:     false,
		JobStatusProcessing: false,
		JobStatusDone:       true,
		JobStatusError:      true,
	} {
		if status.Terminal() != terminal {
			t.Errorf("%s.Terminal() = %v, want %v", status, status.Terminal(), terminal)
		}
	}
}
