package media

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
)

// ErrNoAudioStream is returned when probing finds no audio track.
var ErrNoAudioStream = errors.New("no audio stream found")

// Config holds the target waveform format and resource limits for a
// Processor.
type Config struct {
	SampleRate  int    // target sample rate in Hz
	Channels    int    // target channel count
	MaxBytes    int    // in-memory waveform ceiling; larger output degrades to disk
	FFmpegPath  string // defaults to "ffmpeg" on PATH
	FFprobePath string // defaults to "ffprobe" on PATH
	TempDir     string // scratch dir for disk-flushed waveforms
}

func (c *Config) applyDefaults() {
	if c.SampleRate == 0 {
		c.SampleRate = 16000
	}
	if c.Channels == 0 {
		c.Channels = 1
	}
	if c.MaxBytes == 0 {
		c.MaxBytes = 1 << 30
	}
	if c.FFmpegPath == "" {
		c.FFmpegPath = "ffmpeg"
	}
	if c.FFprobePath == "" {
		c.FFprobePath = "ffprobe"
	}
	if c.TempDir == "" {
		c.TempDir = os.TempDir()
	}
}

// StreamInfo is the probed metadata of a source's first audio stream.
type StreamInfo struct {
	Codec      string
	SampleRate int
	Channels   int
	Duration   float64
}

// Waveform is normalized mono PCM16 audio, either in memory as WAV bytes or
// on disk. Temp marks files created by the processor itself; whoever consumes
// the waveform owns their removal. A Path handed in from outside is never
// marked Temp.
type Waveform struct {
	Data []byte
	Path string
	Temp bool
}

func (w *Waveform) InMemory() bool {
	return w.Path == ""
}

// ConvertOptions controls clipping and output placement for Convert/Demux.
type ConvertOptions struct {
	Start        int // clip start, seconds; ignored when range is invalid
	End          int // clip end, seconds, exclusive
	ExportToDisk bool
}

// Processor converts one source file to normalized waveforms and answers
// silence queries about it. Probe metadata and detected silence intervals are
// cached per instance until an explicit refresh.
type Processor struct {
	cfg      Config
	source   string
	runner   commandRunner
	info     *StreamInfo
	silences []SilenceInterval
}

func NewProcessor(cfg Config, source string) *Processor {
	cfg.applyDefaults()
	return &Processor{cfg: cfg, source: source, runner: execRunner{}}
}

func newProcessorWithRunner(cfg Config, source string, r commandRunner) *Processor {
	cfg.applyDefaults()
	return &Processor{cfg: cfg, source: source, runner: r}
}

// ffprobe emits numeric stream fields as JSON strings.
type probeOutput struct {
	Streams []struct {
		CodecName  string `json:"codec_name"`
		SampleRate string `json:"sample_rate"`
		Channels   int    `json:"channels"`
		Duration   string `json:"duration"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// Probe queries metadata for the source's first audio stream. The result is
// cached; pass refresh to force a re-probe.
func (p *Processor) Probe(ctx context.Context, refresh bool) (*StreamInfo, error) {
	if p.info != nil && !refresh {
		return p.info, nil
	}

	res, err := p.runner.run(ctx, p.cfg.FFprobePath,
		"-v", "error",
		"-select_streams", "a:0",
		"-show_entries", "stream=codec_name,sample_rate,channels,duration",
		"-show_entries", "format=duration",
		"-of", "json",
		p.source,
	)
	if err != nil {
		return nil, fmt.Errorf("probe %s: %s", filepath.Base(p.source), lastLine(string(res.Stderr)))
	}

	var out probeOutput
	if err := json.Unmarshal(res.Stdout, &out); err != nil {
		return nil, fmt.Errorf("parse probe output: %w", err)
	}
	if len(out.Streams) == 0 {
		return nil, ErrNoAudioStream
	}

	stream := out.Streams[0]
	info := &StreamInfo{
		Codec:    stream.CodecName,
		Channels: stream.Channels,
	}
	info.SampleRate, _ = strconv.Atoi(stream.SampleRate)
	info.Duration, _ = strconv.ParseFloat(stream.Duration, 64)
	if info.Duration == 0 {
		// Some containers only report duration at the format level.
		info.Duration, _ = strconv.ParseFloat(out.Format.Duration, 64)
	}

	p.info = info
	return info, nil
}

// Convert decodes the whole source, clips the requested sample range, and
// exports it as WAV bytes or a file path.
func (p *Processor) Convert(ctx context.Context, opts ConvertOptions) (*Waveform, error) {
	pcm, err := p.capturePCM(ctx, false)
	if errors.Is(err, ErrCapacityExceeded) {
		// Keep what was decoded before the cutoff instead of forcing the
		// caller to restart.
		return p.flushToDisk(pcm)
	}
	if err != nil {
		return nil, err
	}

	pcm = clipPCM(pcm, opts.Start, opts.End, p.cfg.SampleRate, p.cfg.Channels)
	return p.exportWAV(pcm, opts.ExportToDisk)
}

// Demux extracts the audio track from a video container via a streaming
// subprocess pipe producing PCM at the target rate and channel count. A clip
// range is applied by re-slicing the full-range capture afterwards: the
// subprocess cannot be told to start mid-stream without re-invocation.
func (p *Processor) Demux(ctx context.Context, opts ConvertOptions) (*Waveform, error) {
	pcm, err := p.capturePCM(ctx, true)
	if errors.Is(err, ErrCapacityExceeded) {
		return p.flushToDisk(pcm)
	}
	if err != nil {
		return nil, err
	}

	pcm = clipPCM(pcm, opts.Start, opts.End, p.cfg.SampleRate, p.cfg.Channels)
	return p.exportWAV(pcm, opts.ExportToDisk)
}

// capturePCM streams raw s16le output from the transcode subprocess into a
// size-bounded sink, reading incrementally so memory never outruns the cap.
// When the sink refuses a write the subprocess is killed immediately and the
// partial capture is returned along with ErrCapacityExceeded.
func (p *Processor) capturePCM(ctx context.Context, dropVideo bool) ([]byte, error) {
	args := []string{"-hide_banner", "-nostdin", "-v", "error", "-i", p.source}
	if dropVideo {
		args = append(args, "-vn")
	}
	args = append(args,
		"-ac", strconv.Itoa(p.cfg.Channels),
		"-ar", strconv.Itoa(p.cfg.SampleRate),
		"-acodec", "pcm_s16le",
		"-f", "s16le",
		"pipe:1",
	)

	pipe, err := p.runner.start(ctx, p.cfg.FFmpegPath, args...)
	if err != nil {
		return nil, fmt.Errorf("start transcode: %w", err)
	}

	sink := NewSink(p.cfg.MaxBytes)
	chunk := make([]byte, 1<<20)
	for {
		n, rerr := pipe.Read(chunk)
		if n > 0 {
			if _, werr := sink.Write(chunk[:n]); werr != nil {
				_ = pipe.Kill()
				return sink.Bytes(), werr
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			_ = pipe.Kill()
			return nil, fmt.Errorf("read transcode output: %w", rerr)
		}
	}

	if err := pipe.Wait(); err != nil {
		return nil, fmt.Errorf("decode %s: %s", filepath.Base(p.source), lastLine(pipe.Stderr()))
	}
	return sink.Bytes(), nil
}

// exportWAV wraps the sample data as WAV through a fresh sink, degrading to a
// disk file when the caller asked for one or the result would not fit in
// memory.
func (p *Processor) exportWAV(pcm []byte, exportToDisk bool) (*Waveform, error) {
	if exportToDisk {
		return p.flushToDisk(pcm)
	}

	sink := NewSink(p.cfg.MaxBytes)
	if err := writeWAV(sink, pcm, p.cfg.SampleRate, p.cfg.Channels); err != nil {
		if errors.Is(err, ErrCapacityExceeded) {
			return p.flushToDisk(pcm)
		}
		return nil, err
	}
	return &Waveform{Data: sink.Bytes()}, nil
}

func (p *Processor) flushToDisk(pcm []byte) (*Waveform, error) {
	f, err := os.CreateTemp(p.cfg.TempDir, "waveform_*.wav")
	if err != nil {
		return nil, fmt.Errorf("create waveform file: %w", err)
	}

	var buf bytes.Buffer
	if err := writeWAV(&buf, pcm, p.cfg.SampleRate, p.cfg.Channels); err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, err
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, fmt.Errorf("write waveform file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return nil, err
	}
	return &Waveform{Path: f.Name(), Temp: true}, nil
}
