package synth

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voiceclone-go/voiceclone-go/internal/audio"
	"github.com/voiceclone-go/voiceclone-go/internal/backend"
	"github.com/voiceclone-go/voiceclone-go/internal/errs"
	"github.com/voiceclone-go/voiceclone-go/internal/schema"
	"github.com/voiceclone-go/voiceclone-go/internal/voice"
)

type fakeEngine struct {
	mu       sync.Mutex
	requests []*schema.SynthesisRequest
	audio    []byte
	err      error
}

func (f *fakeEngine) Health(context.Context) error { return nil }

func (f *fakeEngine) Synthesize(_ context.Context, req *schema.SynthesisRequest) ([]byte, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, "", f.err
	}
	return f.audio, req.Format, nil
}

type recordingObserver struct {
	calls int
	errs  int
}

func (o *recordingObserver) ObserveSynthesis(_ time.Duration, err error) {
	o.calls++
	if err != nil {
		o.errs++
	}
}

func tone(seconds, amplitude float64) audio.Buffer {
	const rate = 24000
	samples := make([]float32, int(seconds*rate))
	for i := range samples {
		samples[i] = float32(amplitude * math.Sin(2*math.Pi*200*float64(i)/rate))
	}
	return audio.Buffer{Samples: samples, SampleRate: rate}
}

func setup(t *testing.T) (*Dispatcher, *fakeEngine, *voice.Registry, *recordingObserver) {
	t.Helper()
	reg, err := voice.Open(afero.NewMemMapFs(), "voices", voice.Options{Logger: zerolog.Nop()})
	require.NoError(t, err)
	engine := &fakeEngine{audio: []byte("synthesized")}
	obs := &recordingObserver{}
	d := NewDispatcher(engine, reg, Options{
		Language: "English",
		ModelID:  "test-model",
		Logger:   zerolog.Nop(),
		Metrics:  obs,
	})
	return d, engine, reg, obs
}

func TestGenerateRejectsBlankText(t *testing.T) {
	d, engine, _, _ := setup(t)
	held := tone(4, 0.4)

	for _, text := range []string{"", "   ", "\n\t"} {
		_, err := d.Generate(context.Background(), Request{Selector: voice.Reserved(), Text: text, Held: &held}, nil)
		assert.ErrorIs(t, err, errs.ErrValidation)
	}
	assert.Empty(t, engine.requests)
}

func TestGenerateReservedVoiceNeedsValidRecording(t *testing.T) {
	d, engine, _, _ := setup(t)
	short := tone(1, 0.4)
	silent := audio.Buffer{Samples: make([]float32, 24000*4), SampleRate: 24000}

	tests := []struct {
		name string
		held *audio.Buffer
		want string
	}{
		{name: "nothing held", held: nil, want: "record a voice sample first"},
		{name: "empty buffer", held: &audio.Buffer{}, want: "record a voice sample first"},
		{name: "too short", held: &short, want: "too short"},
		{name: "silent", held: &silent, want: "too quiet"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := d.Generate(context.Background(), Request{Selector: voice.Reserved(), Text: "Hello", Held: tt.held}, nil)
			require.Error(t, err)
			assert.ErrorIs(t, err, errs.ErrValidation)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
	assert.Empty(t, engine.requests)
}

func TestGenerateReservedVoiceDispatches(t *testing.T) {
	d, engine, _, obs := setup(t)
	held := tone(4, 0.4)

	var stages []Stage
	res, err := d.Generate(context.Background(), Request{
		Selector: voice.Reserved(),
		Text:     "  Hello there  ",
		Held:     &held,
	}, func(s Stage) { stages = append(stages, s) })

	require.NoError(t, err)
	assert.Equal(t, []byte("synthesized"), res.Audio)
	assert.Equal(t, schema.FormatWAV, res.Format)
	assert.Equal(t, []Stage{StagePreparingReference, StageSynthesizing, StageDone}, stages)

	require.Len(t, engine.requests, 1)
	req := engine.requests[0]
	assert.Equal(t, "Hello there", req.Text)
	assert.Equal(t, "English", req.Language)
	assert.Equal(t, "test-model", req.ModelID)
	require.Len(t, req.References, 1)
	assert.Equal(t, voice.DefaultReferenceScript, req.References[0].Text)

	ref, err := audio.DecodeWAV(req.References[0].Audio)
	require.NoError(t, err)
	assert.Equal(t, held.Samples, ref.Samples)

	assert.Equal(t, 1, obs.calls)
	assert.Zero(t, obs.errs)
}

func TestGenerateSavedVoice(t *testing.T) {
	d, engine, reg, _ := setup(t)
	buf := tone(5, 0.3)
	id, err := reg.Create("Alice", buf, "Alice reads this.")
	require.NoError(t, err)

	res, err := d.Generate(context.Background(), Request{
		Selector: voice.Saved(id),
		Text:     "Good morning",
		Language: "German",
		ModelID:  "other-model",
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte("synthesized"), res.Audio)

	req := engine.requests[0]
	assert.Equal(t, "German", req.Language)
	assert.Equal(t, "other-model", req.ModelID)
	assert.Equal(t, "Alice reads this.", req.References[0].Text)

	ref, err := audio.DecodeWAV(req.References[0].Audio)
	require.NoError(t, err)
	assert.Equal(t, buf.Samples, ref.Samples)
}

func TestGenerateSavedVoiceErrors(t *testing.T) {
	fs := afero.NewMemMapFs()
	reg, err := voice.Open(fs, "voices", voice.Options{Logger: zerolog.Nop()})
	require.NoError(t, err)
	engine := &fakeEngine{}
	d := NewDispatcher(engine, reg, Options{Logger: zerolog.Nop()})

	_, err = d.Generate(context.Background(), Request{Selector: voice.Saved("nope"), Text: "Hi"}, nil)
	assert.ErrorIs(t, err, errs.ErrNotFound)

	id, err := reg.Create("Bob", tone(4, 0.3), "")
	require.NoError(t, err)
	rec, err := reg.Get(id)
	require.NoError(t, err)
	require.NoError(t, fs.Remove(reg.AssetPath(rec)))

	_, err = d.Generate(context.Background(), Request{Selector: voice.Saved(id), Text: "Hi"}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrNotFound)
	assert.Contains(t, err.Error(), "re-record")

	assert.Empty(t, engine.requests)
}

func TestGenerateWrapsEngineFailure(t *testing.T) {
	d, engine, _, obs := setup(t)
	engine.err = &backend.BackendError{StatusCode: 500, Message: "CUDA out of memory"}
	held := tone(4, 0.4)

	var stages []Stage
	_, err := d.Generate(context.Background(), Request{Selector: voice.Reserved(), Text: "Hi", Held: &held},
		func(s Stage) { stages = append(stages, s) })

	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrSynthesis)
	assert.True(t, backend.IsBackendError(err))
	assert.Contains(t, errs.Reason(err), "CUDA out of memory")
	assert.NotContains(t, stages, StageDone)
	assert.Equal(t, 1, obs.errs)
}

func TestGenerateTextLimit(t *testing.T) {
	reg, err := voice.Open(afero.NewMemMapFs(), "voices", voice.Options{Logger: zerolog.Nop()})
	require.NoError(t, err)
	engine := &fakeEngine{}
	d := NewDispatcher(engine, reg, Options{MaxTextLength: 5, Logger: zerolog.Nop()})
	held := tone(4, 0.4)

	_, err = d.Generate(context.Background(), Request{Selector: voice.Reserved(), Text: "far too long", Held: &held}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrValidation)
	assert.Contains(t, err.Error(), "max length is 5")
	assert.False(t, errors.Is(err, errs.ErrSynthesis))
}
