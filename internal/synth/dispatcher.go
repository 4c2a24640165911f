// Package synth assembles synthesis requests from a voice and user text and
// forwards them to the external engine.
package synth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/voiceclone-go/voiceclone-go/internal/audio"
	"github.com/voiceclone-go/voiceclone-go/internal/backend"
	"github.com/voiceclone-go/voiceclone-go/internal/errs"
	"github.com/voiceclone-go/voiceclone-go/internal/schema"
	"github.com/voiceclone-go/voiceclone-go/internal/voice"
)

// Stage is a coarse progress milestone. Stages are advisory.
type Stage string

const (
	StageIdle               Stage = "idle"
	StageQueued             Stage = "queued"
	StagePreparingReference Stage = "preparing-reference"
	StageSynthesizing       Stage = "synthesizing"
	StageDone               Stage = "done"
	StageFailed             Stage = "failed"
)

// Progress receives milestones as a request moves through the dispatcher.
type Progress func(Stage)

// VoiceSource resolves saved voices.
type VoiceSource interface {
	Get(id string) (voice.Record, error)
	LoadAudio(rec voice.Record) (audio.Buffer, error)
	DefaultScript() string
}

// Request describes one generate call.
type Request struct {
	Selector voice.Selector
	Text     string
	Language string
	ModelID  string

	// Held is the session's unsaved recording, used for the reserved voice.
	Held *audio.Buffer
	// Script is read with Held. Empty means the default script.
	Script string
}

// Result is the engine output, returned untouched.
type Result struct {
	Audio  []byte
	Format string
}

// Options configures a Dispatcher.
type Options struct {
	Language      string
	ModelID       string
	MaxTextLength int
	Logger        zerolog.Logger
	Metrics       Observer
}

// Observer is notified about finished engine calls.
type Observer interface {
	ObserveSynthesis(d time.Duration, err error)
}

// Dispatcher sends synthesis requests to the engine.
type Dispatcher struct {
	engine  backend.Engine
	voices  VoiceSource
	opts    Options
	logger  zerolog.Logger
	metrics Observer
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(engine backend.Engine, voices VoiceSource, opts Options) *Dispatcher {
	return &Dispatcher{
		engine:  engine,
		voices:  voices,
		opts:    opts,
		logger:  opts.Logger,
		metrics: opts.Metrics,
	}
}

// Generate resolves the reference audio for req.Selector and runs the
// engine. Engine failures come back as Synthesis errors carrying the
// engine's message.
func (d *Dispatcher) Generate(ctx context.Context, req Request, progress Progress) (Result, error) {
	const op = "synth.Generate"

	report := func(s Stage) {
		if progress != nil {
			progress(s)
		}
	}

	text := strings.TrimSpace(req.Text)
	if text == "" {
		return Result{}, errs.Validation(op, "text to synthesize must not be empty")
	}

	report(StagePreparingReference)
	ref, err := d.reference(req)
	if err != nil {
		return Result{}, err
	}

	sreq := &schema.SynthesisRequest{
		Text:       text,
		Language:   firstNonEmpty(req.Language, d.opts.Language, "English"),
		ModelID:    firstNonEmpty(req.ModelID, d.opts.ModelID),
		References: []schema.ReferenceAudio{ref},
	}
	if err := sreq.Validate(d.opts.MaxTextLength); err != nil {
		return Result{}, errs.Validation(op, err.Error())
	}

	report(StageSynthesizing)
	d.logger.Info().
		Str("voice", req.Selector.String()).
		Str("language", sreq.Language).
		Str("model", sreq.ModelID).
		Int("text_length", len(text)).
		Msg("Synthesis started")

	start := time.Now()
	data, format, err := d.engine.Synthesize(ctx, sreq)
	elapsed := time.Since(start)
	if d.metrics != nil {
		d.metrics.ObserveSynthesis(elapsed, err)
	}
	if err != nil {
		d.logger.Error().Err(err).Dur("duration", elapsed).Msg("Synthesis failed")
		return Result{}, errs.Synthesis(op, err)
	}

	d.logger.Info().
		Dur("duration", elapsed).
		Int("bytes", len(data)).
		Msg("Synthesis finished")

	report(StageDone)
	return Result{Audio: data, Format: format}, nil
}

// reference builds the engine reference from the held recording (reserved
// voice) or from the registry (saved voice).
func (d *Dispatcher) reference(req Request) (schema.ReferenceAudio, error) {
	const op = "synth.Generate"

	id, saved := req.Selector.ID()
	if !saved {
		if req.Held == nil || req.Held.Empty() {
			return schema.ReferenceAudio{}, errs.Validation(op, "record a voice sample first")
		}
		if v := audio.Analyze(*req.Held); !v.Valid {
			return schema.ReferenceAudio{}, errs.Validation(op, v.Message())
		}
		script := req.Script
		if strings.TrimSpace(script) == "" {
			script = d.voices.DefaultScript()
		}
		return schema.ReferenceAudio{
			Audio: audio.EncodeWAV(*req.Held),
			Text:  script,
		}, nil
	}

	rec, err := d.voices.Get(id)
	if err != nil {
		return schema.ReferenceAudio{}, err
	}
	if rec.AssetMissing {
		return schema.ReferenceAudio{}, errs.NotFound(op, fmt.Sprintf("voice data for %q not found; re-record it", rec.Name))
	}
	buf, err := d.voices.LoadAudio(rec)
	if err != nil {
		return schema.ReferenceAudio{}, err
	}
	return schema.ReferenceAudio{
		Audio: audio.EncodeWAV(buf),
		Text:  rec.ReferenceScript,
	}, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
