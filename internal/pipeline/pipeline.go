// Package pipeline runs dubbing jobs: extract audio, recognize speech,
// translate, synthesize and voice-match, then remux with the source video.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/jonatasu/dubby/internal/audio"
	"github.com/jonatasu/dubby/internal/jobs"
	"github.com/jonatasu/dubby/internal/metrics"
	"github.com/jonatasu/dubby/internal/transcribe"
	"github.com/jonatasu/dubby/internal/translate"
	"github.com/jonatasu/dubby/internal/tts"
	"github.com/jonatasu/dubby/internal/voice"
)

// Phase names, in execution order.
const (
	PhaseExtract    = "extract_audio"
	PhaseRecognize  = "recognize"
	PhaseTranslate  = "translate"
	PhaseSynthesize = "synthesize"
	PhaseRemux      = "remux"
)

const DefaultSampleRate = 16000

// Extractor writes a mono PCM WAV of input's audio track at sampleRate.
type Extractor interface {
	Extract(ctx context.Context, input, dest string, sampleRate int) error
}

// Recognizer returns ordered speech segments for a WAV file.
type Recognizer interface {
	Transcribe(ctx context.Context, wavPath, language string) ([]transcribe.Segment, error)
}

// Translator never fails; degradations are reported in the Result.
type Translator interface {
	Translate(ctx context.Context, text, src, dst string) translate.Result
}

// Synthesizer turns text into audio. Errors are fatal to the job.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, lang string, sampleRate int) ([]float64, error)
}

// Muxer pairs a video track with new audio. Errors are recovered.
type Muxer interface {
	Available() bool
	Mux(ctx context.Context, video, audio, dest string) error
}

// Archiver persists terminal job records.
type Archiver interface {
	SaveJob(ctx context.Context, job jobs.Job) error
}

// ArtifactStore backs up each finished output. key is {job_id}/{file}.
type ArtifactStore interface {
	Archive(ctx context.Context, key, localPath string) error
}

// EventPublishFunc is a callback for publishing job lifecycle events.
type EventPublishFunc func(eventType, jobID string, payload map[string]any)

// Options configures an Orchestrator. Registry, Metrics, Extractor,
// Recognizer, Translator and Synthesizer are required.
type Options struct {
	Registry     *jobs.Registry
	Metrics      *metrics.Counters
	Extractor    Extractor
	Recognizer   Recognizer
	Translator   Translator
	Synthesizer  Synthesizer
	Muxer        Muxer         // nil: always audio-only
	Cloner       voice.Cloner  // nil: passthrough
	Artifacts    ArtifactStore // nil: no archiving
	Archive      Archiver      // nil: registry only
	PublishEvent EventPublishFunc

	WorkDir    string
	OutputsDir string
	SampleRate int
	Log        zerolog.Logger
}

// Request describes one dubbing job.
type Request struct {
	InputPath string `json:"input_path"`
	SrcLang   string `json:"src_lang"`
	DstLang   string `json:"dst_lang"`
	AudioOnly bool   `json:"audio_only"`
	JobID     string `json:"job_id,omitempty"`
	Source    string `json:"-"` // intake channel: http, mqtt, amqp, inbox, cli

	// RemoveInput deletes InputPath once Run returns. Set for uploads the
	// service stored itself, never for files owned by a producer.
	RemoveInput bool `json:"-"`
}

// Orchestrator sequences the pipeline phases for each job. It is safe for
// concurrent use; jobs share only the registry and the failure counters.
type Orchestrator struct {
	opts Options
	log  zerolog.Logger
}

// New validates opts and returns an Orchestrator.
func New(opts Options) (*Orchestrator, error) {
	switch {
	case opts.Registry == nil:
		return nil, errors.New("pipeline: registry is required")
	case opts.Metrics == nil:
		return nil, errors.New("pipeline: metrics counters are required")
	case opts.Extractor == nil, opts.Recognizer == nil, opts.Translator == nil, opts.Synthesizer == nil:
		return nil, errors.New("pipeline: extractor, recognizer, translator and synthesizer are required")
	}
	if opts.Cloner == nil {
		opts.Cloner = voice.Passthrough{}
	}
	if opts.SampleRate <= 0 {
		opts.SampleRate = DefaultSampleRate
	}
	if opts.WorkDir == "" {
		opts.WorkDir = os.TempDir()
	}
	if opts.OutputsDir == "" {
		opts.OutputsDir = "outputs"
	}
	return &Orchestrator{
		opts: opts,
		log:  opts.Log.With().Str("component", "pipeline").Logger(),
	}, nil
}

// Job returns a snapshot of a job.
func (o *Orchestrator) Job(id string) (jobs.Job, bool) { return o.opts.Registry.Get(id) }

// Recent returns the n most recently started jobs.
func (o *Orchestrator) Recent(n int) []jobs.Job { return o.opts.Registry.Recent(n) }

// Metrics returns the failure counters.
func (o *Orchestrator) Metrics() metrics.Snapshot { return o.opts.Metrics.Snapshot() }

// SampleRate returns the working sample rate.
func (o *Orchestrator) SampleRate() int { return o.opts.SampleRate }

// Run executes one job to completion and returns its ID and artifact path.
// A fatal phase failure marks the job failed and is returned as *PhaseError.
// Intermediate files under WorkDir are removed before Run returns.
func (o *Orchestrator) Run(ctx context.Context, req Request) (string, string, error) {
	if req.RemoveInput {
		defer removeFile(o.log, req.InputPath)
	}
	id := req.JobID
	if id == "" {
		id = uuid.NewString()
	}
	if !ValidJobID(id) {
		return id, "", fmt.Errorf("%w: %q", ErrInvalidJobID, id)
	}
	if _, err := o.opts.Registry.Create(id, req.SrcLang, req.DstLang, req.InputPath); err != nil {
		return id, "", fmt.Errorf("create job %s: %w", id, err)
	}
	start := time.Now()
	r := &run{
		o:   o,
		id:  id,
		req: req,
		log: o.log.With().Str("job_id", id).Logger(),
	}

	r.log.Info().
		Str("input", req.InputPath).
		Str("src_lang", req.SrcLang).
		Str("dst_lang", req.DstLang).
		Bool("audio_only", req.AudioOnly).
		Str("source", req.Source).
		Msg("job started")
	o.publish("job_started", id, map[string]any{
		"job_id":   id,
		"input":    filepath.Base(req.InputPath),
		"src_lang": req.SrcLang,
		"dst_lang": req.DstLang,
		"source":   req.Source,
	})

	output, err := r.execute(ctx)
	if err != nil {
		if ferr := o.opts.Registry.Fail(id, err.Error()); ferr != nil {
			r.log.Warn().Err(ferr).Msg("failed to mark job failed")
		}
		metrics.JobsFinishedTotal.WithLabelValues(string(jobs.StateFailed)).Inc()
		r.log.Error().Err(err).Dur("elapsed", time.Since(start)).Msg("job failed")
		o.publish("job_failed", id, map[string]any{"job_id": id, "error": err.Error()})
		o.archive(ctx, id)
		return id, "", err
	}

	total := time.Since(start).Seconds()
	if cerr := o.opts.Registry.Complete(id, output, total); cerr != nil {
		r.log.Warn().Err(cerr).Msg("failed to mark job completed")
	}
	metrics.JobsFinishedTotal.WithLabelValues(string(jobs.StateCompleted)).Inc()
	r.log.Info().Str("output", output).Float64("total_seconds", total).Msg("job completed")
	o.publish("job_completed", id, map[string]any{
		"job_id":        id,
		"output":        filepath.Base(output),
		"total_seconds": total,
	})
	o.archive(ctx, id)
	return id, output, nil
}

func (o *Orchestrator) publish(eventType, jobID string, payload map[string]any) {
	if o.opts.PublishEvent != nil {
		o.opts.PublishEvent(eventType, jobID, payload)
	}
}

// archive stores the terminal record. Failures are logged; the in-memory
// registry stays authoritative.
func (o *Orchestrator) archive(ctx context.Context, id string) {
	if o.opts.Archive == nil {
		return
	}
	job, ok := o.opts.Registry.Get(id)
	if !ok {
		return
	}
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := o.opts.Archive.SaveJob(actx, job); err != nil {
		o.log.Warn().Err(err).Str("job_id", id).Msg("failed to archive job record")
	}
}

// run carries the state of one job through its phases.
type run struct {
	o   *Orchestrator
	id  string
	req Request
	log zerolog.Logger

	wavPath    string
	segments   []transcribe.Segment
	translated []transcribe.Segment
	dubbedPath string
}

func (r *run) execute(ctx context.Context) (string, error) {
	if err := r.phase(PhaseExtract, func(extra map[string]any) error { return r.extract(ctx, extra) }); err != nil {
		return "", err
	}
	// The extract is also the clone reference.
	defer removeFile(r.log, r.wavPath)
	if err := r.phase(PhaseRecognize, func(extra map[string]any) error { return r.recognize(ctx, extra) }); err != nil {
		return "", err
	}
	r.phase(PhaseTranslate, func(extra map[string]any) error { r.translate(ctx, extra); return nil })
	if err := r.phase(PhaseSynthesize, func(extra map[string]any) error { return r.synthesize(ctx, extra) }); err != nil {
		return "", err
	}
	var output string
	r.phase(PhaseRemux, func(extra map[string]any) error { output = r.remux(ctx, extra); return nil })
	return output, nil
}

// phase times fn and appends exactly one record, on success or failure.
func (r *run) phase(name string, fn func(extra map[string]any) error) error {
	start := time.Now()
	extra := map[string]any{}
	err := fn(extra)
	secs := time.Since(start).Seconds()

	outcome := "ok"
	if err != nil {
		outcome = "error"
		extra["error"] = err.Error()
		err = &PhaseError{Phase: name, Err: err}
	}
	if rerr := r.o.opts.Registry.RecordPhase(r.id, name, secs, extra); rerr != nil {
		r.log.Warn().Err(rerr).Str("phase", name).Msg("failed to record phase")
	}
	metrics.PhaseDuration.WithLabelValues(name, outcome).Observe(secs)
	r.o.publish("job_phase", r.id, map[string]any{
		"job_id":  r.id,
		"phase":   name,
		"seconds": secs,
		"outcome": outcome,
	})
	r.log.Debug().Str("phase", name).Float64("seconds", secs).Str("outcome", outcome).Msg("phase finished")
	return err
}

// 1. Extract mono PCM at the working rate.
func (r *run) extract(ctx context.Context, extra map[string]any) error {
	sr := r.o.opts.SampleRate
	r.wavPath = filepath.Join(r.o.opts.WorkDir, r.id+".16k.wav")
	if sr != DefaultSampleRate {
		r.wavPath = filepath.Join(r.o.opts.WorkDir, fmt.Sprintf("%s.%dk.wav", r.id, sr/1000))
	}
	extra["sample_rate"] = sr
	if err := r.o.opts.Extractor.Extract(ctx, r.req.InputPath, r.wavPath, sr); err != nil {
		removeFile(r.log, r.wavPath)
		return fmt.Errorf("%w: %w", ErrExtraction, err)
	}
	return nil
}

// 2. Recognize speech segments.
func (r *run) recognize(ctx context.Context, extra map[string]any) error {
	hint := transcribe.LanguageHint(r.req.SrcLang)
	extra["language_hint"] = hint
	segs, err := r.o.opts.Recognizer.Transcribe(ctx, r.wavPath, hint)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRecognition, err)
	}
	r.segments = segs
	extra["segments"] = len(segs)
	return nil
}

// 3. Translate each segment; timing is carried over unchanged.
func (r *run) translate(ctx context.Context, extra map[string]any) {
	r.translated = make([]transcribe.Segment, len(r.segments))
	fallbacks := 0
	for i, seg := range r.segments {
		res := r.o.opts.Translator.Translate(ctx, seg.Text, r.req.SrcLang, r.req.DstLang)
		if res.Failed() {
			fallbacks++
			r.o.opts.Metrics.Increment(metrics.TranslateFail)
			r.log.Warn().Err(res.Reason).Int("segment", i).Msg("translation degraded to fallback")
		}
		r.translated[i] = transcribe.Segment{Start: seg.Start, End: seg.End, Text: res.Text}
	}
	extra["segments"] = len(r.translated)
	extra["fallbacks"] = fallbacks
}

// 4. Synthesize, lay the segments on the timeline and match the speaker.
func (r *run) synthesize(ctx context.Context, extra map[string]any) error {
	sr := r.o.opts.SampleRate
	var timeline []float64
	for i, seg := range r.translated {
		samples, err := r.o.opts.Synthesizer.Synthesize(ctx, seg.Text, r.req.DstLang, sr)
		if err != nil {
			r.o.opts.Metrics.Increment(metrics.TTSFail)
			extra["failed_segment"] = i
			return fmt.Errorf("%w: segment %d: %w", ErrSynthesis, i, err)
		}
		timeline = append(timeline, tts.FitDuration(samples, tts.TargetSamples(seg.Start, seg.End, sr))...)
	}
	if len(timeline) == 0 {
		timeline = []float64{0}
	}

	cloner := r.o.opts.Cloner
	outcome := cloner.Clone(timeline, r.wavPath, sr)
	extra["clone"] = cloner.Name()
	extra["clone_applied"] = outcome.Applied
	if outcome.Profile != nil {
		extra["profile"] = *outcome.Profile
	}
	if outcome.Reason != nil && cloner.Name() != voice.ModeOff {
		extra["clone_fallback"] = outcome.Reason.Error()
	}
	dubbed := outcome.Samples
	if len(dubbed) != len(timeline) {
		r.log.Warn().Int("got", len(dubbed)).Int("want", len(timeline)).Msg("clone changed length, using unmodified audio")
		dubbed = timeline
	}

	r.dubbedPath = filepath.Join(r.o.opts.OutputsDir, r.id, r.stem()+".dubbed.wav")
	if err := audio.WriteWAV(r.dubbedPath, dubbed, sr); err != nil {
		return fmt.Errorf("%w: %w", ErrOutput, err)
	}
	extra["samples"] = len(dubbed)
	extra["segments"] = len(r.translated)
	return nil
}

// 5. Remux with the source video, falling back to the dubbed WAV.
func (r *run) remux(ctx context.Context, extra map[string]any) string {
	output := r.dubbedPath
	mux := r.o.opts.Muxer
	switch {
	case r.req.AudioOnly:
		extra["mode"] = "audio_only"
		extra["reason"] = "requested"
	case mux == nil || !mux.Available():
		extra["mode"] = "audio_only"
		extra["reason"] = "muxer_unavailable"
	default:
		dest := filepath.Join(r.o.opts.OutputsDir, r.id, r.stem()+".dubbed.mp4")
		if err := mux.Mux(ctx, r.req.InputPath, r.dubbedPath, dest); err != nil {
			r.o.opts.Metrics.Increment(metrics.MuxFail)
			removeFile(r.log, dest)
			r.log.Warn().Err(err).Msg("mux failed, delivering dubbed audio only")
			extra["mode"] = "audio_only"
			extra["reason"] = "mux_failed"
			extra["mux_error"] = err.Error()
		} else {
			extra["mode"] = "video"
			output = dest
		}
	}
	extra["output"] = output
	if key, err := r.storeArtifact(ctx, output); err != nil {
		r.log.Warn().Err(err).Msg("failed to archive artifact")
		extra["archived"] = false
	} else if key != "" {
		extra["archived"] = key
	}
	return output
}

// storeArtifact hands the output to the configured store under
// {job_id}/{basename}. It returns "" when no store is configured.
func (r *run) storeArtifact(ctx context.Context, path string) (string, error) {
	store := r.o.opts.Artifacts
	if store == nil {
		return "", nil
	}
	key := r.id + "/" + filepath.Base(path)
	if err := store.Archive(ctx, key, path); err != nil {
		return "", fmt.Errorf("archive %s: %w", key, err)
	}
	return key, nil
}

func (r *run) stem() string {
	base := filepath.Base(r.req.InputPath)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	if stem == "" || stem == "." || stem == string(filepath.Separator) {
		return r.id
	}
	return stem
}

// removeFile deletes an intermediate file. A missing file is not an error.
func removeFile(log zerolog.Logger, path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Warn().Err(err).Str("path", path).Msg("failed to remove file")
	}
}
