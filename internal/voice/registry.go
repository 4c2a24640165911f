// Package voice owns the durable index of saved voices and their audio
// assets.
//
// Storage layout under the root directory:
//
//	voices.json              index document {"voices": [...], "default_script": "..."}
//	<id>/audio-<stamp>-<rand>.wav   reference recording of one voice
//
// Every mutation is a full load-modify-persist cycle under one mutex. The
// index is replaced by temp file + rename after asset writes succeed, so an
// interrupted mutation leaves either the old or the new index on disk. Asset
// names are never reused, so a write never touches a file the index still
// references. When the index write fails the fresh asset is removed; if
// that fails too it stays behind as an unreferenced orphan.
package voice

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/voiceclone-go/voiceclone-go/internal/audio"
	"github.com/voiceclone-go/voiceclone-go/internal/errs"
	"github.com/voiceclone-go/voiceclone-go/internal/storage"
)

// Options configures a Registry.
type Options struct {
	// DefaultScript is used when neither the caller nor the index document
	// supplies a reference script. Empty means DefaultReferenceScript.
	DefaultScript string
	Logger        zerolog.Logger

	Now   func() time.Time
	NewID func() string
}

// Registry manages saved voices on an afero filesystem.
type Registry struct {
	fs            afero.Fs
	root          string
	defaultScript string
	logger        zerolog.Logger
	now           func() time.Time
	newID         func() string

	mu sync.Mutex
}

// Open prepares the storage root and reads the index once to make sure it
// is usable.
func Open(fs afero.Fs, root string, opts Options) (*Registry, error) {
	r := &Registry{
		fs:            fs,
		root:          root,
		defaultScript: opts.DefaultScript,
		logger:        opts.Logger,
		now:           opts.Now,
		newID:         opts.NewID,
	}
	if strings.TrimSpace(r.defaultScript) == "" {
		r.defaultScript = DefaultReferenceScript
	}
	if r.now == nil {
		r.now = time.Now
	}
	if r.newID == nil {
		r.newID = uuid.NewString
	}

	if err := fs.MkdirAll(root, storage.DirPerm); err != nil {
		return nil, errs.Storage("voice.Open", err)
	}

	idx, err := r.load()
	if err != nil {
		return nil, err
	}

	r.logger.Info().
		Str("root", root).
		Int("voices", len(idx.Voices)).
		Msg("Voice registry loaded")

	return r, nil
}

// Root returns the storage root directory.
func (r *Registry) Root() string {
	return r.root
}

// List returns all saved voices in index order.
func (r *Registry) List() ([]Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx, err := r.load()
	if err != nil {
		return nil, err
	}
	return idx.Voices, nil
}

// Get returns the voice with the given id. A record whose audio file is
// gone is returned with AssetMissing set.
func (r *Registry) Get(id string) (Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx, err := r.load()
	if err != nil {
		return Record{}, err
	}
	i := idx.find(id)
	if i < 0 {
		return Record{}, errs.NotFound("voice.Get", fmt.Sprintf("no voice with id %q", id))
	}
	return idx.Voices[i], nil
}

// Create validates the recording, stores it as a new voice and returns the
// new id. An empty script selects the default script.
func (r *Registry) Create(name string, buf audio.Buffer, script string) (string, error) {
	const op = "voice.Create"

	if strings.TrimSpace(name) == "" {
		return "", errs.Validation(op, "voice name must not be empty")
	}
	if v := audio.Analyze(buf); !v.Valid {
		return "", errs.Validation(op, v.Message())
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	idx, err := r.load()
	if err != nil {
		return "", err
	}

	if strings.TrimSpace(script) == "" {
		script = r.scriptFrom(idx)
	}

	now := r.now().UTC()
	rec := Record{
		ID:              r.newID(),
		Name:            name,
		ReferenceScript: script,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if idx.find(rec.ID) >= 0 {
		return "", errs.Storage(op, fmt.Errorf("generated id %q already exists", rec.ID))
	}

	rec.AudioAssetPath, err = r.writeAsset(rec.ID, buf, now)
	if err != nil {
		return "", errs.Storage(op, err)
	}

	idx.Voices = append(idx.Voices, rec)
	if err := r.persist(idx); err != nil {
		r.discardAsset(rec.AudioAssetPath)
		return "", errs.Storage(op, err)
	}

	r.logger.Info().
		Str("voice_id", rec.ID).
		Str("name", rec.Name).
		Float64("duration", buf.DurationSeconds()).
		Msg("Voice created")

	return rec.ID, nil
}

// Update replaces the recording of a saved voice. An empty script keeps the
// voice's current script. The id, name and creation time never change.
func (r *Registry) Update(sel Selector, buf audio.Buffer, script string) error {
	const op = "voice.Update"

	id, ok := sel.ID()
	if !ok {
		return errs.Forbidden(op, "the quick-test voice cannot be re-recorded")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	idx, err := r.load()
	if err != nil {
		return err
	}
	i := idx.find(id)
	if i < 0 {
		return errs.NotFound(op, fmt.Sprintf("no voice with id %q", id))
	}

	if v := audio.Analyze(buf); !v.Valid {
		return errs.Validation(op, v.Message())
	}

	now := r.now().UTC()
	rec := idx.Voices[i]
	oldAsset := rec.assetRel()

	rec.AudioAssetPath, err = r.writeAsset(rec.ID, buf, now)
	if err != nil {
		return errs.Storage(op, err)
	}
	if strings.TrimSpace(script) != "" {
		rec.ReferenceScript = script
	}
	rec.UpdatedAt = now
	rec.AssetMissing = false
	idx.Voices[i] = rec

	if err := r.persist(idx); err != nil {
		r.discardAsset(rec.AudioAssetPath)
		return errs.Storage(op, err)
	}

	if oldAsset != rec.assetRel() && safeRel(oldAsset) {
		if err := r.fs.Remove(filepath.Join(r.root, oldAsset)); err != nil && !os.IsNotExist(err) {
			r.logger.Warn().Err(err).Str("voice_id", id).Msg("Failed to remove replaced recording")
		}
	}

	r.logger.Info().
		Str("voice_id", id).
		Str("name", rec.Name).
		Float64("duration", buf.DurationSeconds()).
		Msg("Voice re-recorded")

	return nil
}

// Delete removes a saved voice and its assets.
func (r *Registry) Delete(sel Selector) error {
	const op = "voice.Delete"

	id, ok := sel.ID()
	if !ok {
		return errs.Forbidden(op, "the quick-test voice cannot be deleted")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	idx, err := r.load()
	if err != nil {
		return err
	}
	i := idx.find(id)
	if i < 0 {
		return errs.NotFound(op, fmt.Sprintf("no voice with id %q", id))
	}
	rec := idx.Voices[i]

	idx.Voices = append(idx.Voices[:i], idx.Voices[i+1:]...)
	if err := r.persist(idx); err != nil {
		return errs.Storage(op, err)
	}

	// The index no longer references these files; failures only leave
	// orphans behind.
	if safeRel(id) && filepath.Base(id) == id {
		if err := r.fs.RemoveAll(filepath.Join(r.root, id)); err != nil {
			r.logger.Warn().Err(err).Str("voice_id", id).Msg("Failed to remove voice directory")
		}
	} else if rel := rec.assetRel(); safeRel(rel) {
		_ = r.fs.Remove(filepath.Join(r.root, rel))
	}

	r.logger.Info().Str("voice_id", id).Str("name", rec.Name).Msg("Voice deleted")
	return nil
}

// AssetPath returns the location of the voice's recording on the registry
// filesystem.
func (r *Registry) AssetPath(rec Record) string {
	return filepath.Join(r.root, rec.assetRel())
}

// LoadAudio reads back the recording of a saved voice.
func (r *Registry) LoadAudio(rec Record) (audio.Buffer, error) {
	const op = "voice.LoadAudio"

	rel := rec.assetRel()
	if !safeRel(rel) {
		return audio.Buffer{}, errs.Storage(op, fmt.Errorf("asset path %q escapes the storage root", rel))
	}

	data, err := afero.ReadFile(r.fs, filepath.Join(r.root, rel))
	if err != nil {
		if os.IsNotExist(err) {
			return audio.Buffer{}, errs.NotFound(op, fmt.Sprintf("recording for voice %q is missing; re-record it", rec.Name))
		}
		return audio.Buffer{}, errs.Storage(op, err)
	}

	buf, err := audio.DecodeWAV(data)
	if err != nil {
		return audio.Buffer{}, errs.Storage(op, err)
	}
	return buf, nil
}

// DefaultScript returns the global default reference script.
func (r *Registry) DefaultScript() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx, err := r.load()
	if err != nil {
		r.logger.Warn().Err(err).Msg("Falling back to configured default script")
		return r.defaultScript
	}
	return r.scriptFrom(idx)
}

// SetDefaultScript persists a new global default reference script.
func (r *Registry) SetDefaultScript(script string) error {
	const op = "voice.SetDefaultScript"

	script = strings.TrimSpace(script)
	if script == "" {
		return errs.Validation(op, "reference script must not be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	idx, err := r.load()
	if err != nil {
		return err
	}
	idx.DefaultScript = script
	if err := r.persist(idx); err != nil {
		return errs.Storage(op, err)
	}
	return nil
}

func (r *Registry) scriptFrom(idx *Index) string {
	if strings.TrimSpace(idx.DefaultScript) != "" {
		return idx.DefaultScript
	}
	return r.defaultScript
}

func (r *Registry) indexPath() string {
	return filepath.Join(r.root, IndexFile)
}

func (r *Registry) load() (*Index, error) {
	const op = "voice.load"

	data, err := afero.ReadFile(r.fs, r.indexPath())
	if errors.Is(err, os.ErrNotExist) {
		return &Index{Voices: []Record{}}, nil
	}
	if err != nil {
		return nil, errs.Storage(op, err)
	}

	var idx Index
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, errs.Storage(op, fmt.Errorf("decode %s: %w", IndexFile, err))
	}
	if idx.Voices == nil {
		idx.Voices = []Record{}
	}

	for i := range idx.Voices {
		rec := &idx.Voices[i]
		if rec.UpdatedAt.IsZero() {
			rec.UpdatedAt = rec.CreatedAt
		}
		rel := rec.assetRel()
		if !safeRel(rel) {
			rec.AssetMissing = true
			continue
		}
		if _, err := r.fs.Stat(filepath.Join(r.root, rel)); err != nil {
			rec.AssetMissing = true
		}
	}
	return &idx, nil
}

func (r *Registry) persist(idx *Index) error {
	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", IndexFile, err)
	}
	return storage.WriteFileAtomic(r.fs, r.indexPath(), data)
}

// writeAsset stores the recording under a fresh name so the previous file
// stays valid until the index points elsewhere.
func (r *Registry) writeAsset(id string, buf audio.Buffer, now time.Time) (string, error) {
	if !safeRel(id) || filepath.Base(id) != id {
		return "", fmt.Errorf("voice id %q is not a valid directory name", id)
	}
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	rel := filepath.Join(id, fmt.Sprintf("audio-%d-%s.wav", now.UnixNano(), suffix))
	if err := storage.WriteFileAtomic(r.fs, filepath.Join(r.root, rel), audio.EncodeWAV(buf)); err != nil {
		return "", err
	}
	return filepath.ToSlash(rel), nil
}

// discardAsset removes an asset the index never came to reference.
func (r *Registry) discardAsset(rel string) {
	if rel == "" || !safeRel(rel) {
		return
	}
	if err := r.fs.Remove(filepath.Join(r.root, rel)); err != nil && !os.IsNotExist(err) {
		r.logger.Warn().Err(err).Str("asset", rel).Msg("Failed to remove unreferenced recording")
	}
}
