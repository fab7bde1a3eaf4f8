package media

import (
	"context"
	"math"
	"testing"
)

const silenceDiag = `
[silencedetect @ 0x55d] silence_start: 5.0
[silencedetect @ 0x55d] silence_end: 8.0 | silence_duration: 3.0
`

func TestParseSilencePadsAndClamps(t *testing.T) {
	got := parseSilence(silenceDiag, 60, 3.0, 0.3)
	if len(got) != 1 {
		t.Fatalf("parsed %d intervals, want 1", len(got))
	}
	if !approxEqual(got[0].Start, 4.7) || !approxEqual(got[0].End, 8.3) {
		t.Errorf("interval (%v, %v), want (4.7, 8.3)", got[0].Start, got[0].End)
	}
}

func TestParseSilencePadCappedByMinDuration(t *testing.T) {
	// pad larger than the minimum duration is capped at the minimum
	got := parseSilence(silenceDiag, 60, 0.2, 0.5)
	if !approxEqual(got[0].Start, 4.8) || !approxEqual(got[0].End, 8.2) {
		t.Errorf("interval (%v, %v), want (4.8, 8.2)", got[0].Start, got[0].End)
	}
}

func TestParseSilenceClampsToFileBounds(t *testing.T) {
	diag := "silence_start: 0.1\nsilence_end: 9.9\n"
	got := parseSilence(diag, 10, 3.0, 0.3)
	if got[0].Start != 0 {
		t.Errorf("start %v, want clamp to 0", got[0].Start)
	}
	if got[0].End != 10 {
		t.Errorf("end %v, want clamp to duration 10", got[0].End)
	}
}

func TestParseSilenceTrailingSilenceClosedAtEOF(t *testing.T) {
	diag := `
silence_start: 2.0
silence_end: 6.0
silence_start: 50.0
`
	got := parseSilence(diag, 60, 3.0, 0.3)
	if len(got) != 2 {
		t.Fatalf("parsed %d intervals, want 2", len(got))
	}
	if !approxEqual(got[1].Start, 49.7) || !approxEqual(got[1].End, 60) {
		t.Errorf("trailing interval (%v, %v), want (49.7, 60)", got[1].Start, got[1].End)
	}
}

func TestParseSilenceEmptyDiagnostics(t *testing.T) {
	if got := parseSilence("no markers here", 60, 3.0, 0.3); len(got) != 0 {
		t.Errorf("parsed %d intervals from empty diagnostics, want 0", len(got))
	}
}

func TestFindSilenceBoundary(t *testing.T) {
	p := newProcessorWithRunner(Config{}, "in.wav", &fakeRunner{})
	p.silences = []SilenceInterval{{Start: 4.7, End: 8.3}}

	ctx := context.Background()

	t.Run("forward from before the interval", func(t *testing.T) {
		got, err := p.FindSilenceBoundary(ctx, 4.0, Forward, 3.0)
		if err != nil {
			t.Fatal(err)
		}
		if !approxEqual(got, 8.3) {
			t.Errorf("got %v, want 8.3", got)
		}
	})

	t.Run("forward from inside the interval", func(t *testing.T) {
		// remaining silence after ts is 2.3s, enough for a 2s minimum
		got, err := p.FindSilenceBoundary(ctx, 6.0, Forward, 2.0)
		if err != nil {
			t.Fatal(err)
		}
		if !approxEqual(got, 8.3) {
			t.Errorf("got %v, want 8.3", got)
		}
	})

	t.Run("forward with too-strict minimum", func(t *testing.T) {
		got, err := p.FindSilenceBoundary(ctx, 6.0, Forward, 3.0)
		if err != nil {
			t.Fatal(err)
		}
		if got != 0 {
			t.Errorf("got %v, want sentinel 0", got)
		}
	})

	t.Run("backward from after the interval", func(t *testing.T) {
		got, err := p.FindSilenceBoundary(ctx, 9.0, Backward, 3.0)
		if err != nil {
			t.Fatal(err)
		}
		if !approxEqual(got, 4.7) {
			t.Errorf("got %v, want 4.7", got)
		}
	})

	t.Run("backward with nothing qualifying", func(t *testing.T) {
		got, err := p.FindSilenceBoundary(ctx, 3.0, Backward, 3.0)
		if err != nil {
			t.Fatal(err)
		}
		if got != 0 {
			t.Errorf("got %v, want sentinel 0", got)
		}
	})

	t.Run("unknown direction", func(t *testing.T) {
		if _, err := p.FindSilenceBoundary(ctx, 3.0, Direction("sideways"), 3.0); err == nil {
			t.Error("expected an error for an unknown direction")
		}
	})
}

func TestFindSilenceBoundaryPicksFirstQualifying(t *testing.T) {
	p := newProcessorWithRunner(Config{}, "in.wav", &fakeRunner{})
	p.silences = []SilenceInterval{
		{Start: 2.0, End: 3.0},
		{Start: 10.0, End: 15.0},
		{Start: 20.0, End: 26.0},
	}

	got, err := p.FindSilenceBoundary(context.Background(), 5.0, Forward, 4.0)
	if err != nil {
		t.Fatal(err)
	}
	if !approxEqual(got, 15.0) {
		t.Errorf("forward got %v, want 15.0 (first interval long enough)", got)
	}

	got, err = p.FindSilenceBoundary(context.Background(), 30.0, Backward, 4.0)
	if err != nil {
		t.Fatal(err)
	}
	if !approxEqual(got, 20.0) {
		t.Errorf("backward got %v, want 20.0 (nearest interval long enough)", got)
	}
}

func approxEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}
