package media

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"regexp"
	"strconv"
)

// SilenceInterval is a padded [Start, End) range in seconds judged to contain
// no meaningful signal. Padding never extends past [0, duration].
type SilenceInterval struct {
	Start float64
	End   float64
}

// SilenceOptions configures silence detection.
type SilenceOptions struct {
	Noise       string  // noise floor, e.g. "-30dB"
	MinDuration float64 // minimum silence length in seconds
	Pad         float64 // outward padding, capped at MinDuration
	Refresh     bool    // discard the cached interval list
}

func DefaultSilenceOptions() SilenceOptions {
	return SilenceOptions{
		Noise:       "-30dB",
		MinDuration: 3.0,
		Pad:         0.3,
	}
}

// Direction selects which way a boundary search scans from the reference
// timestamp.
type Direction string

const (
	Forward  Direction = "forward"
	Backward Direction = "backward"
)

var (
	silenceStartRe = regexp.MustCompile(`silence_start:\s*([\d.]+)`)
	silenceEndRe   = regexp.MustCompile(`silence_end:\s*([\d.]+)`)
)

// DetectSilence runs the silencedetect filter over the source and parses its
// diagnostic output into padded intervals. The list is cached per processor
// instance until a refresh is requested.
func (p *Processor) DetectSilence(ctx context.Context, opts SilenceOptions) ([]SilenceInterval, error) {
	if p.silences != nil && !opts.Refresh {
		return p.silences, nil
	}

	info, err := p.Probe(ctx, false)
	if err != nil {
		return nil, err
	}

	// silencedetect logs at info level on stderr; do not lower verbosity here.
	res, err := p.runner.run(ctx, p.cfg.FFmpegPath,
		"-hide_banner", "-nostdin",
		"-i", p.source,
		"-af", fmt.Sprintf("silencedetect=noise=%s:d=%g", opts.Noise, opts.MinDuration),
		"-f", "null", "-",
	)
	if err != nil {
		return nil, fmt.Errorf("silence detection on %s: %s", filepath.Base(p.source), lastLine(string(res.Stderr)))
	}

	p.silences = parseSilence(string(res.Stderr), info.Duration, opts.MinDuration, opts.Pad)
	return p.silences, nil
}

// parseSilence pairs each silence_start marker with the next silence_end.
// Silence running to EOF produces no end marker, so a final unmatched start
// is closed at the file's total duration. Each interval is padded outward by
// min(minDuration, pad) and clamped to [0, duration].
func parseSilence(diag string, duration, minDuration, pad float64) []SilenceInterval {
	starts := parseMarkers(silenceStartRe, diag)
	ends := parseMarkers(silenceEndRe, diag)
	if len(ends) < len(starts) {
		ends = append(ends, duration)
	}

	n := len(starts)
	if len(ends) < n {
		n = len(ends)
	}
	p := math.Min(minDuration, pad)

	intervals := make([]SilenceInterval, 0, n)
	for i := 0; i < n; i++ {
		intervals = append(intervals, SilenceInterval{
			Start: math.Max(0, starts[i]-p),
			End:   math.Min(duration, ends[i]+p),
		})
	}
	return intervals
}

func parseMarkers(re *regexp.Regexp, diag string) []float64 {
	matches := re.FindAllStringSubmatch(diag, -1)
	values := make([]float64, 0, len(matches))
	for _, m := range matches {
		v, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			continue
		}
		values = append(values, v)
	}
	return values
}

// FindSilenceBoundary scans the cached (or freshly detected) interval list
// for a silence of at least minSilence seconds, starting from ts and moving
// in the given direction. Forward search returns the end of the first
// qualifying interval at or after ts; backward search returns the start of
// the last qualifying interval at or before ts. Returns 0 when nothing
// qualifies, so callers can snap a cut point to a natural pause or fall back
// to cutting at ts.
func (p *Processor) FindSilenceBoundary(ctx context.Context, ts float64, dir Direction, minSilence float64) (float64, error) {
	intervals := p.silences
	if intervals == nil {
		opts := DefaultSilenceOptions()
		opts.MinDuration = minSilence
		var err error
		intervals, err = p.DetectSilence(ctx, opts)
		if err != nil {
			return 0, err
		}
	}

	switch dir {
	case Forward:
		for _, iv := range intervals {
			if iv.Start >= ts || (iv.Start <= ts && ts < iv.End) {
				if iv.End-math.Max(iv.Start, ts) >= minSilence {
					return iv.End, nil
				}
			}
		}
	case Backward:
		for i := len(intervals) - 1; i >= 0; i-- {
			iv := intervals[i]
			if iv.End <= ts || (iv.Start < ts && ts <= iv.End) {
				if math.Min(iv.End, ts)-iv.Start >= minSilence {
					return iv.Start, nil
				}
			}
		}
	default:
		return 0, fmt.Errorf("unknown direction %q", dir)
	}
	return 0, nil
}
