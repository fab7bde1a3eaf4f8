package model

import (
	"math"
	"time"
)

// TranscribeOptions is the typed request option set accepted at the
// submission boundary. Field defaults come from DefaultTranscribeOptions;
// validation happens in the handler before a job is created.
type TranscribeOptions struct {
	Language       string `json:"language" validate:"required,max=8"`
	VADFilter      bool   `json:"vad"`
	IsVideo        bool   `json:"isVideo"`
	WordTimestamps bool   `json:"wordTimestamps"`
	Start          int    `json:"start" validate:"min=0"`
	End            int    `json:"end" validate:"min=0"`
	RequestID      string `json:"requestId,omitempty"`
}

func DefaultTranscribeOptions() TranscribeOptions {
	return TranscribeOptions{
		Language:  "ko",
		VADFilter: true,
	}
}

// Segment is one timed span of recognized speech. Index values are assigned
// in emission order with no gaps; segments whose trimmed text is empty never
// become a Segment at all.
type Segment struct {
	Index      int     `json:"index"`
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Content    string  `json:"content"`
	AvgLogProb float64 `json:"avgLogprob"`
	Confidence int     `json:"confidence"`
}

// TranscriptResult is the immutable final transcript attached to a done job.
type TranscriptResult struct {
	Language  string    `json:"language"`
	Duration  float64   `json:"duration"`
	CreatedAt time.Time `json:"createdAt"`
	Text      string    `json:"text"`
	Segments  []Segment `json:"segments"`
}

// TranscribeAccepted is the submission response body.
type TranscribeAccepted struct {
	JobID     string `json:"jobId"`
	StatusURL string `json:"statusUrl"`
}

// ConfidenceFromLogProb maps an engine average log-probability to an integer
// confidence in [0, 100]: round(exp(lp) * 100), clamped. Any arithmetic
// failure (NaN or infinite input) yields 0.
func ConfidenceFromLogProb(lp float64) int {
	p := math.Exp(lp) * 100
	if math.IsNaN(p) || math.IsInf(p, 0) {
		return 0
	}
	r := math.Round(p)
	if r < 0 {
		return 0
	}
	if r > 100 {
		return 100
	}
	return int(r)
}
