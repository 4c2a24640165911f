package migrate

import (
	"encoding/json"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voiceclone-go/voiceclone-go/internal/audio"
	"github.com/voiceclone-go/voiceclone-go/internal/errs"
	"github.com/voiceclone-go/voiceclone-go/internal/voice"
)

const legacyIndex = `{
  "profiles": [
    {"id": "p1", "name": "Alice", "created_at": "2025-01-02T03:04:05.123456Z", "ref_script": "Hello."},
    {"id": "p2", "name": "Bob", "created_at": "2025-01-03T03:04:05Z", "ref_script": "Hi."}
  ],
  "default_script": "Legacy default."
}`

func seedLegacy(t *testing.T, fs afero.Fs) {
	t.Helper()
	wav := audio.EncodeWAV(audio.Buffer{Samples: make([]float32, 48000), SampleRate: 16000})
	require.NoError(t, afero.WriteFile(fs, "profiles/profiles.json", []byte(legacyIndex), 0o644))
	require.NoError(t, afero.WriteFile(fs, "profiles/p1/audio.wav", wav, 0o644))
	require.NoError(t, afero.WriteFile(fs, "profiles/p1/prompt.pt", []byte("cached"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "profiles/p2/audio.wav", wav, 0o644))
}

func newEngine(fs afero.Fs) *Engine {
	return New(fs, Options{
		LegacyRoot: "profiles",
		Root:       "voices",
		Logger:     zerolog.Nop(),
		Now:        func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) },
	})
}

// snapshot returns every file under the given roots with its content.
func snapshot(t *testing.T, fs afero.Fs, roots ...string) map[string]string {
	t.Helper()
	files := map[string]string{}
	for _, root := range roots {
		if ok, _ := afero.DirExists(fs, root); ok {
			snapshotInto(t, fs, root, files)
		}
	}
	return files
}

func snapshotInto(t *testing.T, fs afero.Fs, root string, files map[string]string) {
	t.Helper()
	err := afero.Walk(fs, root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		data, err := afero.ReadFile(fs, path)
		if err != nil {
			return err
		}
		files[filepath.ToSlash(path)] = string(data)
		return nil
	})
	require.NoError(t, err)
}

func TestRunOnceMigratesLegacyLayout(t *testing.T) {
	fs := afero.NewMemMapFs()
	seedLegacy(t, fs)
	before := snapshot(t, fs, "profiles")

	outcome, err := newEngine(fs).RunOnce()
	require.NoError(t, err)
	assert.Equal(t, OutcomeMigrated, outcome)

	assert.Equal(t, before, snapshot(t, fs, "profiles"), "legacy root must be left untouched")

	after := snapshot(t, fs, "voices")
	assert.Contains(t, after, "voices/p1/audio.wav")
	assert.Contains(t, after, "voices/p1/prompt.pt")
	assert.Contains(t, after, "voices/p2/audio.wav")
	assert.NotContains(t, after, "voices/profiles.json")

	var doc map[string]json.RawMessage
	require.NoError(t, json.Unmarshal([]byte(after["voices/voices.json"]), &doc))
	assert.NotContains(t, doc, LegacyIndexKey)
	assert.JSONEq(t, `"Legacy default."`, string(doc["default_script"]))

	var marker Marker
	require.NoError(t, json.Unmarshal([]byte(after["voices/.migrated"]), &marker))
	assert.Equal(t, 2, marker.Voices)
	assert.Equal(t, "profiles", marker.Source)

	reg, err := voice.Open(fs, "voices", voice.Options{Logger: zerolog.Nop()})
	require.NoError(t, err)
	voices, err := reg.List()
	require.NoError(t, err)
	require.Len(t, voices, 2)
	assert.Equal(t, "p1", voices[0].ID)
	assert.Equal(t, "Alice", voices[0].Name)
	assert.Equal(t, "Hello.", voices[0].ReferenceScript)
	assert.False(t, voices[0].AssetMissing)
	assert.Equal(t, "Legacy default.", reg.DefaultScript())
}

func TestRunOnceIsIdempotent(t *testing.T) {
	fs := afero.NewMemMapFs()
	seedLegacy(t, fs)
	engine := newEngine(fs)

	outcome, err := engine.RunOnce()
	require.NoError(t, err)
	require.Equal(t, OutcomeMigrated, outcome)
	first := snapshot(t, fs, "profiles", "voices")

	outcome, err = engine.RunOnce()
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyDone, outcome)
	assert.Equal(t, first, snapshot(t, fs, "profiles", "voices"))
}

func TestRunOnceWithoutLegacyRootWritesMarker(t *testing.T) {
	fs := afero.NewMemMapFs()
	engine := newEngine(fs)

	outcome, err := engine.RunOnce()
	require.NoError(t, err)
	assert.Equal(t, OutcomeNothingToMigrate, outcome)

	exists, err := afero.Exists(fs, engine.MarkerPath())
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = afero.Exists(fs, filepath.Join("voices", voice.IndexFile))
	require.NoError(t, err)
	assert.False(t, exists)

	first := snapshot(t, fs, "profiles", "voices")
	outcome, err = engine.RunOnce()
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyDone, outcome)
	assert.Equal(t, first, snapshot(t, fs, "profiles", "voices"))
}

func TestRunOnceLegacyRootWithoutIndex(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("profiles", 0o755))

	outcome, err := newEngine(fs).RunOnce()
	require.NoError(t, err)
	assert.Equal(t, OutcomeMigrated, outcome)

	reg, err := voice.Open(fs, "voices", voice.Options{Logger: zerolog.Nop()})
	require.NoError(t, err)
	voices, err := reg.List()
	require.NoError(t, err)
	assert.Empty(t, voices)
}

// failingFs fails every file open whose base name starts with prefix.
type failingFs struct {
	afero.Fs
	prefix string
}

var errInjected = errors.New("injected failure")

func (f *failingFs) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	if f.prefix != "" && strings.HasPrefix(filepath.Base(name), f.prefix) {
		return nil, errInjected
	}
	return f.Fs.OpenFile(name, flag, perm)
}

func (f *failingFs) Create(name string) (afero.File, error) {
	return f.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o666)
}

func TestRunOnceFailureLeavesNoMarkerAndRetries(t *testing.T) {
	for _, prefix := range []string{voice.IndexFile, MarkerFile, "prompt.pt"} {
		t.Run(prefix, func(t *testing.T) {
			base := afero.NewMemMapFs()
			seedLegacy(t, base)
			fs := &failingFs{Fs: base, prefix: prefix}
			engine := newEngine(fs)

			_, err := engine.RunOnce()
			require.Error(t, err)
			assert.ErrorIs(t, err, errs.ErrStorage)
			assert.ErrorIs(t, err, errInjected)

			exists, err := afero.Exists(base, engine.MarkerPath())
			require.NoError(t, err)
			assert.False(t, exists, "marker must not be written after a failure")

			fs.prefix = ""
			outcome, err := engine.RunOnce()
			require.NoError(t, err)
			assert.Equal(t, OutcomeMigrated, outcome)

			reg, err := voice.Open(base, "voices", voice.Options{Logger: zerolog.Nop()})
			require.NoError(t, err)
			voices, err := reg.List()
			require.NoError(t, err)
			assert.Len(t, voices, 2)
		})
	}
}

func TestRunOnceCorruptLegacyIndex(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "profiles/profiles.json", []byte("{broken"), 0o644))
	engine := newEngine(fs)

	_, err := engine.RunOnce()
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrStorage)

	exists, err := afero.Exists(fs, engine.MarkerPath())
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestRunOnceMergesWithExistingIndex(t *testing.T) {
	fs := afero.NewMemMapFs()
	seedLegacy(t, fs)
	current := `{
  "voices": [
    {"id": "p2", "name": "Bob (current)", "ref_script": "Current."},
    {"id": "n1", "name": "New", "ref_script": "Fresh."}
  ],
  "default_script": "Current default."
}`
	require.NoError(t, afero.WriteFile(fs, "voices/voices.json", []byte(current), 0o644))

	_, err := newEngine(fs).RunOnce()
	require.NoError(t, err)

	data, err := afero.ReadFile(fs, "voices/voices.json")
	require.NoError(t, err)

	var doc struct {
		Voices []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"voices"`
		DefaultScript string `json:"default_script"`
	}
	require.NoError(t, json.Unmarshal(data, &doc))

	ids := make([]string, 0, len(doc.Voices))
	for _, v := range doc.Voices {
		ids = append(ids, v.ID)
	}
	assert.Equal(t, []string{"p1", "p2", "n1"}, ids)
	assert.Equal(t, "Bob (current)", doc.Voices[1].Name, "the current copy of a record wins")
	assert.Equal(t, "Current default.", doc.DefaultScript)
}

func TestRunOnceRetryKeepsChangesMadeAfterFailure(t *testing.T) {
	base := afero.NewMemMapFs()
	seedLegacy(t, base)
	fs := &failingFs{Fs: base, prefix: MarkerFile}
	engine := newEngine(fs)

	_, err := engine.RunOnce()
	require.ErrorIs(t, err, errInjected)

	// The server keeps running on the merged index after a failed attempt.
	reg, err := voice.Open(base, "voices", voice.Options{Logger: zerolog.Nop()})
	require.NoError(t, err)
	retake := audio.Buffer{Samples: make([]float32, 4*16000), SampleRate: 16000}
	for i := range retake.Samples {
		retake.Samples[i] = float32(0.4 * math.Sin(2*math.Pi*200*float64(i)/16000))
	}
	require.NoError(t, reg.Update(voice.Saved("p1"), retake, "Re-recorded."))
	require.NoError(t, reg.Delete(voice.Saved("p2")))

	fs.prefix = ""
	outcome, err := engine.RunOnce()
	require.NoError(t, err)
	assert.Equal(t, OutcomeMigrated, outcome)

	reg, err = voice.Open(base, "voices", voice.Options{Logger: zerolog.Nop()})
	require.NoError(t, err)
	voices, err := reg.List()
	require.NoError(t, err)
	require.Len(t, voices, 1, "a voice deleted after the failed attempt must stay deleted")
	assert.Equal(t, "p1", voices[0].ID)
	assert.Equal(t, "Re-recorded.", voices[0].ReferenceScript)

	buf, err := reg.LoadAudio(voices[0])
	require.NoError(t, err)
	assert.Len(t, buf.Samples, 4*16000)

	exists, err := afero.DirExists(base, "voices/p2")
	require.NoError(t, err)
	assert.False(t, exists, "deleted voice files must not be copied back")

	exists, err = afero.Exists(base, filepath.Join("voices", JournalFile))
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestRunOnceRejectsRootInsideLegacyRoot(t *testing.T) {
	fs := afero.NewMemMapFs()
	seedLegacy(t, fs)
	before := snapshot(t, fs, "profiles")

	engine := New(fs, Options{LegacyRoot: "profiles", Root: "profiles/v2", Logger: zerolog.Nop()})
	_, err := engine.RunOnce()
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrValidation)

	assert.Equal(t, before, snapshot(t, fs, "profiles"), "legacy files must be left untouched")
}

func TestWithin(t *testing.T) {
	assert.True(t, within("profiles", "profiles/v2"))
	assert.True(t, within("./profiles", "profiles/a/b"))
	assert.False(t, within("profiles", "profiles"))
	assert.False(t, within("profiles", "voices"))
	assert.False(t, within("profiles", "profiles-v2"))
	assert.False(t, within("profiles/v2", "profiles"))
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "migrated", OutcomeMigrated.String())
	assert.Equal(t, "already-done", OutcomeAlreadyDone.String())
	assert.Equal(t, "nothing-to-migrate", OutcomeNothingToMigrate.String())
}
