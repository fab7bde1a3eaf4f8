package worker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/hibiken/asynq"

	"github.com/openscribe/api/internal/engine"
	"github.com/openscribe/api/internal/media"
	"github.com/openscribe/api/internal/model"
	"github.com/openscribe/api/internal/service"
	"github.com/openscribe/api/internal/store"
)

type fakeStream struct {
	info     engine.Info
	segments []engine.Segment
	idx      int
	err      error
	closed   bool
}

func (s *fakeStream) Next() (*engine.Segment, error) {
	if s.idx >= len(s.segments) {
		if s.err != nil {
			return nil, s.err
		}
		return nil, io.EOF
	}
	seg := s.segments[s.idx]
	s.idx++
	return &seg, nil
}

func (s *fakeStream) Info() engine.Info { return s.info }
func (s *fakeStream) Close() error      { s.closed = true; return nil }

type fakeEngine struct {
	stream  *fakeStream
	err     error
	gotPath string
	gotOpts engine.Options
}

func (e *fakeEngine) Transcribe(_ context.Context, audioPath string, opts engine.Options) (engine.Stream, error) {
	e.gotPath = audioPath
	e.gotOpts = opts
	if e.err != nil {
		return nil, e.err
	}
	return e.stream, nil
}

type fakeConverter struct {
	wf           *media.Waveform
	err          error
	convertCalls int
	demuxCalls   int
	gotOpts      media.ConvertOptions
}

func (c *fakeConverter) Convert(_ context.Context, opts media.ConvertOptions) (*media.Waveform, error) {
	c.convertCalls++
	c.gotOpts = opts
	return c.wf, c.err
}

func (c *fakeConverter) Demux(_ context.Context, opts media.ConvertOptions) (*media.Waveform, error) {
	c.demuxCalls++
	c.gotOpts = opts
	return c.wf, c.err
}

type progressEvent struct {
	jobID    string
	progress float64
}

// recordingHub captures broadcasts instead of pushing them over websockets.
type recordingHub struct {
	events    []progressEvent
	completes []string
	errors    []string
}

func (h *recordingHub) BroadcastProgress(jobID string, progress float64, _ model.JobStatus, _ string) {
	h.events = append(h.events, progressEvent{jobID: jobID, progress: progress})
}

func (h *recordingHub) BroadcastComplete(jobID string, _ *model.TranscriptResult) {
	h.completes = append(h.completes, jobID)
}

func (h *recordingHub) BroadcastError(jobID string, _ string) {
	h.errors = append(h.errors, jobID)
}

func (h *recordingHub) progress(jobID string) []float64 {
	var out []float64
	for _, ev := range h.events {
		if ev.jobID == jobID {
			out = append(out, ev.progress)
		}
	}
	return out
}

func newTestWorker(t *testing.T, jobs *store.Store, eng engine.Engine, conv converter) *TranscribeWorker {
	t.Helper()
	w := NewTranscribeWorker(jobs, eng, nil, media.Config{TempDir: t.TempDir()})
	w.newConverter = func(_ media.Config, _ string) converter { return conv }
	return w
}

func writeInput(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "upload.ogg")
	if err := os.WriteFile(path, []byte("not really audio"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func runTask(t *testing.T, w *TranscribeWorker, jobID, inputPath string, opts model.TranscribeOptions) {
	t.Helper()
	payload, err := json.Marshal(service.TranscribePayload{
		JobID:     jobID,
		InputPath: inputPath,
		Options:   opts,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := w.ProcessTask(context.Background(), asynq.NewTask(service.TaskTypeTranscribe, payload)); err != nil {
		t.Fatalf("ProcessTask returned error: %v", err)
	}
}

func TestProcessTaskSuccess(t *testing.T) {
	jobs := store.New()
	job := jobs.Create("req-1")

	stream := &fakeStream{
		info: engine.Info{Language: "ko", Duration: 10.0},
		segments: []engine.Segment{
			{Start: 0.0, End: 2.5, Text: "  첫 번째  ", AvgLogProb: -0.1},
			{Start: 2.5, End: 5.0, Text: "   ", AvgLogProb: -0.2}, // whitespace only, dropped
			{Start: 5.0, End: 9.9, Text: "두 번째", AvgLogProb: -0.3},
		},
	}
	eng := &fakeEngine{stream: stream}
	conv := &fakeConverter{wf: &media.Waveform{Data: []byte("RIFFwav")}}

	w := newTestWorker(t, jobs, eng, conv)
	input := writeInput(t)
	runTask(t, w, job.ID, input, model.TranscribeOptions{Language: "ko", VADFilter: true})

	got, err := jobs.Get(job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != model.JobStatusDone {
		t.Fatalf("status = %q, want done (message: %q)", got.Status, got.Message)
	}
	if got.Progress != 1.0 {
		t.Errorf("progress = %v, want 1.0", got.Progress)
	}
	if got.StartedAt == nil || got.EndedAt == nil {
		t.Error("expected startedAt and endedAt to be set")
	}
	if got.Result == nil {
		t.Fatal("expected result")
	}
	if len(got.Result.Segments) != 2 {
		t.Fatalf("segments = %d, want 2 (whitespace segment not dropped?)", len(got.Result.Segments))
	}
	for i, seg := range got.Result.Segments {
		if seg.Index != i {
			t.Errorf("segment %d has index %d", i, seg.Index)
		}
	}
	if got.Result.Segments[0].Content != "첫 번째" {
		t.Errorf("segment content not trimmed: %q", got.Result.Segments[0].Content)
	}
	if got.Result.Text != "첫 번째 두 번째" {
		t.Errorf("text = %q", got.Result.Text)
	}
	if got.Result.Language != "ko" || got.Result.Duration != 10.0 {
		t.Errorf("result info = %q/%v", got.Result.Language, got.Result.Duration)
	}
	if conv.convertCalls != 1 || conv.demuxCalls != 0 {
		t.Errorf("convert/demux calls = %d/%d", conv.convertCalls, conv.demuxCalls)
	}
	if eng.gotOpts.MinSilenceMs != minSilenceMs {
		t.Errorf("MinSilenceMs = %d", eng.gotOpts.MinSilenceMs)
	}
	if !stream.closed {
		t.Error("stream not closed")
	}
	if _, err := os.Stat(input); !os.IsNotExist(err) {
		t.Error("uploaded input not removed")
	}
	if eng.gotPath == "" {
		t.Fatal("engine never received an audio path")
	}
	if _, err := os.Stat(eng.gotPath); !os.IsNotExist(err) {
		t.Error("staged waveform not removed")
	}
}

func TestProcessTaskVideoUsesDemux(t *testing.T) {
	jobs := store.New()
	job := jobs.Create("")

	eng := &fakeEngine{stream: &fakeStream{info: engine.Info{Language: "en", Duration: 1}}}
	conv := &fakeConverter{wf: &media.Waveform{Data: []byte("RIFFwav")}}

	w := newTestWorker(t, jobs, eng, conv)
	runTask(t, w, job.ID, writeInput(t), model.TranscribeOptions{Language: "en", IsVideo: true, Start: 3, End: 9})

	if conv.demuxCalls != 1 || conv.convertCalls != 0 {
		t.Errorf("convert/demux calls = %d/%d", conv.convertCalls, conv.demuxCalls)
	}
	if conv.gotOpts.Start != 3 || conv.gotOpts.End != 9 {
		t.Errorf("clip range = %d..%d", conv.gotOpts.Start, conv.gotOpts.End)
	}
}

func TestProcessTaskTempWaveformRemoved(t *testing.T) {
	jobs := store.New()
	job := jobs.Create("")

	wavPath := filepath.Join(t.TempDir(), "conv.wav")
	if err := os.WriteFile(wavPath, []byte("RIFFwav"), 0o644); err != nil {
		t.Fatal(err)
	}

	eng := &fakeEngine{stream: &fakeStream{info: engine.Info{Language: "ko"}}}
	conv := &fakeConverter{wf: &media.Waveform{Path: wavPath, Temp: true}}

	w := newTestWorker(t, jobs, eng, conv)
	runTask(t, w, job.ID, writeInput(t), model.TranscribeOptions{Language: "ko"})

	if eng.gotPath != wavPath {
		t.Errorf("engine path = %q, want %q", eng.gotPath, wavPath)
	}
	if _, err := os.Stat(wavPath); !os.IsNotExist(err) {
		t.Error("temp waveform not removed")
	}
}

func TestProcessTaskConvertFailure(t *testing.T) {
	jobs := store.New()
	job := jobs.Create("")

	conv := &fakeConverter{err: errors.New("decode failed: stream corrupt")}
	w := newTestWorker(t, jobs, &fakeEngine{}, conv)

	input := writeInput(t)
	runTask(t, w, job.ID, input, model.TranscribeOptions{Language: "ko"})

	got, _ := jobs.Get(job.ID)
	if got.Status != model.JobStatusError {
		t.Fatalf("status = %q, want error", got.Status)
	}
	if got.Result != nil {
		t.Error("failed job must not carry a result")
	}
	if got.EndedAt == nil {
		t.Error("endedAt not set on failure")
	}
	if got.Message != "decode failed: stream corrupt" {
		t.Errorf("message = %q", got.Message)
	}
	if _, err := os.Stat(input); !os.IsNotExist(err) {
		t.Error("uploaded input not removed on failure")
	}
}

func TestProcessTaskEngineFailureMidStream(t *testing.T) {
	jobs := store.New()
	job := jobs.Create("")

	stream := &fakeStream{
		info: engine.Info{Language: "ko", Duration: 10},
		segments: []engine.Segment{
			{Start: 0, End: 2, Text: "ok", AvgLogProb: -0.1},
		},
		err: errors.New("engine exited: CUDA out of memory"),
	}
	w := newTestWorker(t, jobs, &fakeEngine{stream: stream}, &fakeConverter{wf: &media.Waveform{Data: []byte("RIFFwav")}})

	runTask(t, w, job.ID, writeInput(t), model.TranscribeOptions{Language: "ko"})

	got, _ := jobs.Get(job.ID)
	if got.Status != model.JobStatusError {
		t.Fatalf("status = %q, want error", got.Status)
	}
	if got.Result != nil {
		t.Error("failed job must not carry a result")
	}
}

func TestProcessTaskProgressCappedBeforeDone(t *testing.T) {
	jobs := store.New()
	job := jobs.Create("")

	// Final segment ends past the reported duration; interim progress still
	// must not reach 1.0.
	stream := &fakeStream{
		info: engine.Info{Language: "ko", Duration: 5},
		segments: []engine.Segment{
			{Start: 0, End: 4, Text: "a", AvgLogProb: -0.1},
			{Start: 4, End: 6, Text: "b", AvgLogProb: -0.1},
		},
	}

	hub := &recordingHub{}
	w := newTestWorker(t, jobs, &fakeEngine{stream: stream}, &fakeConverter{wf: &media.Waveform{Data: []byte("RIFFwav")}})
	w.hub = hub

	runTask(t, w, job.ID, writeInput(t), model.TranscribeOptions{Language: "ko"})

	got, _ := jobs.Get(job.ID)
	if got.Status != model.JobStatusDone {
		t.Fatalf("status = %q", got.Status)
	}
	if got.Progress != 1.0 {
		t.Errorf("final progress = %v, want 1.0", got.Progress)
	}

	interim := hub.progress(job.ID)
	if len(interim) < 3 {
		t.Fatalf("expected progress for start + each segment, got %v", interim)
	}
	for i, p := range interim {
		if p >= 1.0 {
			t.Errorf("interim progress %d = %v, want < 1.0", i, p)
		}
		if i > 0 && p < interim[i-1] {
			t.Errorf("progress regressed: %v -> %v", interim[i-1], p)
		}
	}
	if last := interim[len(interim)-1]; last != 0.99 {
		t.Errorf("overlong segment reported %v, want cap 0.99", last)
	}
}
