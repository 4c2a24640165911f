// Package session tracks the active voice of the single interactive
// session and mediates between the registry, the quality gate and the
// synthesis dispatcher.
package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/voiceclone-go/voiceclone-go/internal/audio"
	"github.com/voiceclone-go/voiceclone-go/internal/errs"
	"github.com/voiceclone-go/voiceclone-go/internal/queue"
	"github.com/voiceclone-go/voiceclone-go/internal/synth"
	"github.com/voiceclone-go/voiceclone-go/internal/voice"
)

// ReservedLabel is how the quick-test voice is listed.
const ReservedLabel = "Guest (record new voice)"

// Registry is the subset of *voice.Registry the controller needs.
type Registry interface {
	List() ([]voice.Record, error)
	Get(id string) (voice.Record, error)
	Create(name string, buf audio.Buffer, script string) (string, error)
	Update(sel voice.Selector, buf audio.Buffer, script string) error
	Delete(sel voice.Selector) error
	DefaultScript() string
}

// Dispatcher runs synthesis requests.
type Dispatcher interface {
	Generate(ctx context.Context, req synth.Request, progress synth.Progress) (synth.Result, error)
}

// Submitter runs a job off the caller's path and waits for it.
type Submitter interface {
	Submit(ctx context.Context, name string, fn func(context.Context) error) error
}

// View is what the presentation layer shows for the active voice.
type View struct {
	Selector        voice.Selector
	Name            string
	ReferenceScript string
	// PreviewAvailable reports whether a stored recording can be played
	// back: the saved asset for registry voices, the held recording for the
	// quick-test voice.
	PreviewAvailable bool
	// Held is the verdict of the held recording, if any.
	Held *audio.Verdict
}

// Choice is one entry of the voice picker.
type Choice struct {
	Selector voice.Selector
	Label    string
}

// Progress is the latest synthesis milestone.
type Progress struct {
	Stage     synth.Stage
	Message   string
	UpdatedAt time.Time
}

// Controller owns the active selector and the held recording.
type Controller struct {
	registry   Registry
	dispatcher Dispatcher
	jobs       Submitter
	logger     zerolog.Logger
	now        func() time.Time

	mu       sync.Mutex
	active     voice.Selector
	held       *audio.Buffer
	heldScript string
	progress   Progress
}

// Options configures a Controller.
type Options struct {
	Logger zerolog.Logger
	Now    func() time.Time
}

// New creates a controller with the quick-test voice active.
func New(registry Registry, dispatcher Dispatcher, jobs Submitter, opts Options) *Controller {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Controller{
		registry:   registry,
		dispatcher: dispatcher,
		jobs:       jobs,
		logger:     opts.Logger,
		now:        now,
		active:     voice.Reserved(),
		progress:   Progress{Stage: synth.StageIdle},
	}
}

// Active returns the active selector.
func (c *Controller) Active() voice.Selector {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// SelectVoice makes sel the active voice. Any held, unsaved recording is
// discarded, even when sel is already active. An unknown id leaves the
// selection unchanged.
func (c *Controller) SelectVoice(sel voice.Selector) (View, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if id, ok := sel.ID(); ok {
		if _, err := c.registry.Get(id); err != nil {
			return View{}, err
		}
	}

	c.active = sel
	c.clearLocked()

	c.logger.Info().Str("voice", sel.String()).Msg("Voice selected")
	return c.viewLocked()
}

// View returns the view model for the active voice.
func (c *Controller) View() (View, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewLocked()
}

// Choices lists the quick-test voice followed by the saved voices in
// registry order.
func (c *Controller) Choices() ([]Choice, error) {
	records, err := c.registry.List()
	if err != nil {
		return nil, err
	}
	choices := make([]Choice, 0, len(records)+1)
	choices = append(choices, Choice{Selector: voice.Reserved(), Label: ReservedLabel})
	for _, rec := range records {
		choices = append(choices, Choice{Selector: voice.Saved(rec.ID), Label: rec.Name})
	}
	return choices, nil
}

// HoldRecording keeps a copy of buf as the session's unsaved recording,
// together with the script read in it, and returns its verdict. The
// recording is held even when invalid so it can be shown; the registry and
// dispatcher re-check it. An empty buffer clears the slot. A blank script
// means the default script.
func (c *Controller) HoldRecording(buf audio.Buffer, script string) audio.Verdict {
	v := audio.Analyze(buf)

	c.mu.Lock()
	defer c.mu.Unlock()

	if buf.Empty() {
		c.clearLocked()
		return v
	}
	held := audio.Buffer{
		Samples:    append([]float32(nil), buf.Samples...),
		SampleRate: buf.SampleRate,
	}
	c.held = &held
	c.heldScript = strings.TrimSpace(script)
	c.logger.Debug().
		Bool("valid", v.Valid).
		Str("reason", string(v.Reason)).
		Float64("duration", v.Metrics.DurationSeconds).
		Bool("custom_script", c.heldScript != "").
		Msg("Recording held")
	return v
}

// HeldRecording returns the held recording, if any.
func (c *Controller) HeldRecording() (audio.Buffer, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.held == nil {
		return audio.Buffer{}, false
	}
	return *c.held, true
}

// ClearRecording discards the held recording.
func (c *Controller) ClearRecording() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clearLocked()
}

// CreateFromSession saves buf as a new voice and selects it.
func (c *Controller) CreateFromSession(name string, buf audio.Buffer, script string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id, err := c.registry.Create(name, buf, script)
	if err != nil {
		return "", err
	}

	c.active = voice.Saved(id)
	c.clearLocked()
	c.logger.Info().Str("voice", id).Msg("Voice selected")
	return id, nil
}

// CreateFromHeld saves the held recording as a new voice. A blank script
// falls back to the one held with the recording.
func (c *Controller) CreateFromHeld(name, script string) (string, error) {
	c.mu.Lock()
	if c.held == nil {
		c.mu.Unlock()
		return "", errs.Validation("session.CreateFromHeld", "record a voice sample first")
	}
	buf := *c.held
	if strings.TrimSpace(script) == "" {
		script = c.heldScript
	}
	c.mu.Unlock()
	return c.CreateFromSession(name, buf, script)
}

// ReRecordActive replaces the recording of the active saved voice.
func (c *Controller) ReRecordActive(buf audio.Buffer, script string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active.IsReserved() {
		return errs.Forbidden("session.ReRecordActive", "select a saved voice to re-record")
	}
	if err := c.registry.Update(c.active, buf, script); err != nil {
		return err
	}
	c.clearLocked()
	return nil
}

// DeleteActive deletes the active saved voice. confirmation must equal the
// voice's name byte for byte. Afterwards the quick-test voice is active.
func (c *Controller) DeleteActive(confirmation string) error {
	const op = "session.DeleteActive"

	c.mu.Lock()
	defer c.mu.Unlock()

	id, ok := c.active.ID()
	if !ok {
		return errs.Forbidden(op, "the quick-test voice cannot be deleted")
	}
	rec, err := c.registry.Get(id)
	if err != nil {
		return err
	}
	if confirmation != rec.Name {
		return errs.Forbidden(op, "confirmation does not match the voice name")
	}
	if err := c.registry.Delete(c.active); err != nil {
		return err
	}

	c.active = voice.Reserved()
	c.clearLocked()
	c.logger.Info().Str("voice", c.active.String()).Msg("Voice selected")
	return nil
}

// Generate synthesizes text with the active voice. The engine call runs on
// the job queue; a second call while one is running fails instead of
// waiting.
func (c *Controller) Generate(ctx context.Context, text, language, modelID string) (synth.Result, error) {
	c.mu.Lock()
	req := synth.Request{
		Selector: c.active,
		Text:     text,
		Language: language,
		ModelID:  modelID,
	}
	if c.held != nil && c.active.IsReserved() {
		held := *c.held
		req.Held = &held
		req.Script = c.heldScript
	}
	c.mu.Unlock()

	c.setProgress(synth.StageQueued, "")

	var res synth.Result
	err := c.jobs.Submit(ctx, "generate", func(ctx context.Context) error {
		var err error
		res, err = c.dispatcher.Generate(ctx, req, func(s synth.Stage) { c.setProgress(s, "") })
		return err
	})
	switch {
	case errors.Is(err, queue.ErrQueueFull):
		err = &errs.Error{Kind: errs.KindSynthesis, Op: "session.Generate", Msg: "synthesis already in progress", Err: err}
	case errors.Is(err, queue.ErrShutdown):
		err = &errs.Error{Kind: errs.KindSynthesis, Op: "session.Generate", Msg: "server is shutting down", Err: err}
	}
	if err != nil {
		c.setProgress(synth.StageFailed, errs.Reason(err))
		return synth.Result{}, err
	}
	return res, nil
}

// Progress returns the latest synthesis milestone.
func (c *Controller) Progress() Progress {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.progress
}

func (c *Controller) setProgress(stage synth.Stage, msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.progress = Progress{Stage: stage, Message: msg, UpdatedAt: c.now()}
}

func (c *Controller) clearLocked() {
	c.held = nil
	c.heldScript = ""
}

func (c *Controller) viewLocked() (View, error) {
	v := View{Selector: c.active}
	if c.held != nil {
		verdict := audio.Analyze(*c.held)
		v.Held = &verdict
	}

	id, ok := c.active.ID()
	if !ok {
		v.Name = ReservedLabel
		v.ReferenceScript = c.registry.DefaultScript()
		if c.heldScript != "" {
			v.ReferenceScript = c.heldScript
		}
		v.PreviewAvailable = c.held != nil
		return v, nil
	}

	rec, err := c.registry.Get(id)
	if err != nil {
		return View{}, err
	}
	v.Name = rec.Name
	v.ReferenceScript = rec.ReferenceScript
	v.PreviewAvailable = !rec.AssetMissing
	return v, nil
}
