package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/hibiken/asynq"

	"github.com/openscribe/api/internal/engine"
	"github.com/openscribe/api/internal/media"
	"github.com/openscribe/api/internal/model"
	"github.com/openscribe/api/internal/service"
	"github.com/openscribe/api/internal/store"
)

// converter is the slice of *media.Processor the worker needs.
type converter interface {
	Convert(ctx context.Context, opts media.ConvertOptions) (*media.Waveform, error)
	Demux(ctx context.Context, opts media.ConvertOptions) (*media.Waveform, error)
}

// Notifier pushes job events to live subscribers. *websocket.Hub satisfies
// it.
type Notifier interface {
	BroadcastProgress(jobID string, progress float64, status model.JobStatus, message string)
	BroadcastComplete(jobID string, result *model.TranscriptResult)
	BroadcastError(jobID string, message string)
}

// minSilenceMs is the VAD silence gate handed to the engine.
const minSilenceMs = 300

// TranscribeWorker runs queued transcription jobs: it prepares a normalized
// waveform from the uploaded input, streams segments out of the recognition
// engine, and publishes progress along the way. The uploaded input and every
// intermediate temp file are removed before the task returns, success or not.
type TranscribeWorker struct {
	store    *store.Store
	engine   engine.Engine
	hub      Notifier
	audioCfg media.Config

	// newConverter is swapped in tests
	newConverter func(cfg media.Config, source string) converter
}

// NewTranscribeWorker creates a new transcribe worker. hub may be nil when no
// push channel is wired.
func NewTranscribeWorker(jobs *store.Store, eng engine.Engine, hub Notifier, audioCfg media.Config) *TranscribeWorker {
	return &TranscribeWorker{
		store:    jobs,
		engine:   eng,
		hub:      hub,
		audioCfg: audioCfg,
		newConverter: func(cfg media.Config, source string) converter {
			return media.NewProcessor(cfg, source)
		},
	}
}

// ProcessTask handles one transcription task.
func (w *TranscribeWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload service.TranscribePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal task payload: %w", err)
	}

	log.Printf("Starting transcribe job: %s", payload.JobID)

	if err := w.run(ctx, &payload); err != nil {
		w.failJob(payload.JobID, err.Error())
		log.Printf("Transcribe job %s failed: %v", payload.JobID, err)
		return nil // terminal; the job record carries the failure
	}

	log.Printf("Transcribe job %s completed", payload.JobID)
	return nil
}

func (w *TranscribeWorker) run(ctx context.Context, payload *service.TranscribePayload) error {
	jobID := payload.JobID
	opts := payload.Options

	// The upload is consumed by this run no matter how it ends.
	defer os.Remove(payload.InputPath)

	now := time.Now()
	w.setState(jobID, store.Update{
		Status:    statusPtr(model.JobStatusProcessing),
		StartedAt: &now,
		Message:   strPtr("received"),
	})

	w.setState(jobID, store.Update{Message: strPtr("converting")})

	audioPath, cleanup, err := w.prepareAudio(ctx, payload.InputPath, opts)
	if err != nil {
		return err
	}
	defer cleanup()

	w.setState(jobID, store.Update{
		Message:  strPtr("transcribing"),
		Progress: floatPtr(0),
	})
	w.notifyProgress(jobID, 0, "transcribing")

	stream, err := w.engine.Transcribe(ctx, audioPath, engine.Options{
		Language:       opts.Language,
		VADFilter:      opts.VADFilter,
		MinSilenceMs:   minSilenceMs,
		WordTimestamps: opts.WordTimestamps,
	})
	if err != nil {
		return err
	}
	defer stream.Close()

	info := stream.Info()

	var (
		segments []model.Segment
		text     strings.Builder
	)
	for {
		seg, err := stream.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return err
		}

		content := strings.TrimSpace(seg.Text)
		if content == "" {
			continue
		}

		segments = append(segments, model.Segment{
			Index:      len(segments),
			Start:      seg.Start,
			End:        seg.End,
			Content:    content,
			AvgLogProb: seg.AvgLogProb,
			Confidence: model.ConfidenceFromLogProb(seg.AvgLogProb),
		})
		if text.Len() > 0 {
			text.WriteByte(' ')
		}
		text.WriteString(content)

		if info.Duration > 0 {
			progress := seg.End / info.Duration
			if progress > 0.99 {
				progress = 0.99
			}
			w.setState(jobID, store.Update{Progress: &progress})
			w.notifyProgress(jobID, progress, "transcribing")
		}

		// Yield between segments so status polls stay responsive during
		// long decodes.
		runtime.Gosched()
	}

	result := &model.TranscriptResult{
		Language:  info.Language,
		Duration:  info.Duration,
		CreatedAt: time.Now(),
		Text:      text.String(),
		Segments:  segments,
	}
	if result.Language == "" {
		result.Language = opts.Language
	}

	ended := time.Now()
	w.setState(jobID, store.Update{
		Status:   statusPtr(model.JobStatusDone),
		EndedAt:  &ended,
		Progress: floatPtr(1.0),
		Message:  strPtr("done"),
		Result:   result,
	})
	if w.hub != nil {
		w.hub.BroadcastComplete(jobID, result)
	}
	return nil
}

// prepareAudio produces a normalized waveform file for the engine. The
// returned cleanup removes any file this step created; it never touches a
// caller-provided path.
func (w *TranscribeWorker) prepareAudio(ctx context.Context, inputPath string, opts model.TranscribeOptions) (string, func(), error) {
	conv := w.newConverter(w.audioCfg, inputPath)

	convOpts := media.ConvertOptions{Start: opts.Start, End: opts.End}

	var (
		wf  *media.Waveform
		err error
	)
	if opts.IsVideo {
		wf, err = conv.Demux(ctx, convOpts)
	} else {
		wf, err = conv.Convert(ctx, convOpts)
	}
	if err != nil {
		return "", nil, err
	}

	if !wf.InMemory() {
		cleanup := func() {}
		if wf.Temp {
			path := wf.Path
			cleanup = func() { os.Remove(path) }
		}
		return wf.Path, cleanup, nil
	}

	f, err := os.CreateTemp(w.audioCfg.TempDir, "stt_*.wav")
	if err != nil {
		return "", nil, fmt.Errorf("failed to stage waveform: %w", err)
	}
	if _, err := f.Write(wf.Data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", nil, fmt.Errorf("failed to stage waveform: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", nil, fmt.Errorf("failed to stage waveform: %w", err)
	}
	path := f.Name()
	return path, func() { os.Remove(path) }, nil
}

func (w *TranscribeWorker) setState(jobID string, upd store.Update) {
	w.store.Apply(jobID, upd)
}

func (w *TranscribeWorker) notifyProgress(jobID string, progress float64, message string) {
	if w.hub == nil {
		return
	}
	w.hub.BroadcastProgress(jobID, progress, model.JobStatusProcessing, message)
}

func (w *TranscribeWorker) failJob(jobID, errMsg string) {
	now := time.Now()
	w.setState(jobID, store.Update{
		Status:  statusPtr(model.JobStatusError),
		EndedAt: &now,
		Message: &errMsg,
	})
	if w.hub != nil {
		w.hub.BroadcastError(jobID, errMsg)
	}
}

func statusPtr(s model.JobStatus) *model.JobStatus { return &s }
func strPtr(s string) *string                      { return &s }
func floatPtr(f float64) *float64                  { return &f }
