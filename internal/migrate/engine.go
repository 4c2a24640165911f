// Package migrate upgrades the legacy profile storage layout into the
// current voice storage layout.
//
// Legacy layout:  <legacy>/profiles.json {"profiles": [...]}, <legacy>/<id>/...
// Current layout: <root>/voices.json     {"voices": [...]},   <root>/<id>/...
//
// Migration copies, never moves: the legacy root is left untouched so it can
// be used to roll back. A marker file in the current root records a
// completed attempt and is written last.
//
// Once the merged index is in place a journal lists the legacy ids it
// imported. If a later step fails the server keeps running on the merged
// index, so on retry the current copy of an imported record wins and an
// imported record that is gone from the current index stays deleted.
package migrate

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/voiceclone-go/voiceclone-go/internal/errs"
	"github.com/voiceclone-go/voiceclone-go/internal/storage"
	"github.com/voiceclone-go/voiceclone-go/internal/voice"
)

const (
	// MarkerFile lives in the current storage root.
	MarkerFile = ".migrated"
	// JournalFile lists the legacy ids already merged into the current
	// index by an unfinished attempt.
	JournalFile = ".migration-journal"

	LegacyIndexFile = "profiles.json"
	LegacyIndexKey  = "profiles"
)

// Outcome describes what RunOnce did.
type Outcome int

const (
	// OutcomeAlreadyDone means the marker was present and nothing ran.
	OutcomeAlreadyDone Outcome = iota
	// OutcomeNothingToMigrate means no legacy root existed; only the marker
	// was written.
	OutcomeNothingToMigrate
	// OutcomeMigrated means legacy data was copied and transformed.
	OutcomeMigrated
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAlreadyDone:
		return "already-done"
	case OutcomeNothingToMigrate:
		return "nothing-to-migrate"
	case OutcomeMigrated:
		return "migrated"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Marker is the content of the marker file.
type Marker struct {
	MigratedAt time.Time `json:"migrated_at"`
	Source     string    `json:"source"`
	Voices     int       `json:"voices"`
}

// Options configures an Engine.
type Options struct {
	LegacyRoot string
	Root       string
	Logger     zerolog.Logger
	Now        func() time.Time
}

// Engine runs the storage migration.
type Engine struct {
	fs         afero.Fs
	legacyRoot string
	root       string
	logger     zerolog.Logger
	now        func() time.Time
}

// New creates a migration engine over fs.
func New(fs afero.Fs, opts Options) *Engine {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{
		fs:         fs,
		legacyRoot: opts.LegacyRoot,
		root:       opts.Root,
		logger:     opts.Logger,
		now:        now,
	}
}

// MarkerPath returns the location of the marker file.
func (e *Engine) MarkerPath() string {
	return filepath.Join(e.root, MarkerFile)
}

// RunOnce migrates the legacy layout unless a previous run already
// completed. It must run before the voice registry opens the current root.
// On failure the marker is not written and the next call starts over.
func (e *Engine) RunOnce() (Outcome, error) {
	const op = "migrate.RunOnce"

	done, err := afero.Exists(e.fs, e.MarkerPath())
	if err != nil {
		return 0, errs.Storage(op, err)
	}
	if done {
		e.logger.Debug().Str("marker", e.MarkerPath()).Msg("Migration already completed, skipping")
		return OutcomeAlreadyDone, nil
	}

	legacyExists, err := afero.DirExists(e.fs, e.legacyRoot)
	if err != nil {
		return 0, errs.Storage(op, err)
	}
	same := filepath.Clean(e.legacyRoot) == filepath.Clean(e.root)
	if legacyExists && !same && within(e.legacyRoot, e.root) {
		return 0, errs.Validation(op, fmt.Sprintf("storage root %q must not be inside the legacy root %q", e.root, e.legacyRoot))
	}
	if !legacyExists || same {
		if err := e.writeMarker(0); err != nil {
			return 0, errs.Storage(op, err)
		}
		e.logger.Info().Str("legacy_root", e.legacyRoot).Msg("No legacy storage found, marked migration complete")
		return OutcomeNothingToMigrate, nil
	}

	e.logger.Info().
		Str("legacy_root", e.legacyRoot).
		Str("root", e.root).
		Msg("Migrating legacy voice storage")

	imported, err := e.readJournal()
	if err != nil {
		return 0, errs.Storage(op, err)
	}
	if len(imported) > 0 {
		e.logger.Info().Int("imported", len(imported)).Msg("Resuming unfinished migration")
	}

	skip := func(rel string) bool {
		if rel == LegacyIndexFile || rel == MarkerFile || rel == JournalFile {
			return true
		}
		top, _, _ := strings.Cut(rel, "/")
		return imported[top]
	}
	if err := storage.CopyTree(e.fs, e.legacyRoot, e.root, skip); err != nil {
		return 0, errs.Storage(op, fmt.Errorf("copy legacy files: %w", err))
	}
	e.logger.Info().Msg("Legacy files copied")

	count, ids, err := e.transformIndex(imported)
	if err != nil {
		return 0, errs.Storage(op, err)
	}
	e.logger.Info().Int("voices", count).Msg("Legacy index transformed")

	if err := e.writeJournal(imported, ids); err != nil {
		return 0, errs.Storage(op, err)
	}

	if err := e.writeMarker(count); err != nil {
		return 0, errs.Storage(op, err)
	}
	if err := e.fs.Remove(filepath.Join(e.root, JournalFile)); err != nil && !os.IsNotExist(err) {
		e.logger.Warn().Err(err).Msg("Failed to remove migration journal")
	}
	e.logger.Info().Str("marker", e.MarkerPath()).Msg("Migration complete")

	return OutcomeMigrated, nil
}

// within reports whether path lies strictly below dir.
func within(dir, path string) bool {
	rel, err := filepath.Rel(filepath.Clean(dir), filepath.Clean(path))
	if err != nil {
		return false
	}
	return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}

// transformIndex renames the legacy collection key and merges the result
// with any index already present in the current root. Records are carried
// over as raw JSON so their shape is unchanged. It returns the merged count
// and the legacy ids the merge accounted for.
func (e *Engine) transformIndex(imported map[string]bool) (int, []string, error) {
	legacy, err := readDocument(e.fs, filepath.Join(e.legacyRoot, LegacyIndexFile))
	if err != nil {
		return 0, nil, err
	}
	current, err := readDocument(e.fs, filepath.Join(e.root, voice.IndexFile))
	if err != nil {
		return 0, nil, err
	}

	legacyRecords, err := records(legacy, LegacyIndexKey)
	if err != nil {
		return 0, nil, fmt.Errorf("%s: %w", LegacyIndexFile, err)
	}
	currentRecords, err := records(current, voice.IndexKey)
	if err != nil {
		return 0, nil, fmt.Errorf("%s: %w", voice.IndexFile, err)
	}

	merged, ids, err := mergeByID(legacyRecords, currentRecords, imported)
	if err != nil {
		return 0, nil, err
	}

	out := make(map[string]json.RawMessage, len(legacy)+len(current))
	for k, v := range legacy {
		if k != LegacyIndexKey {
			out[k] = v
		}
	}
	for k, v := range current {
		if k != voice.IndexKey {
			out[k] = v
		}
	}
	list, err := json.Marshal(merged)
	if err != nil {
		return 0, nil, err
	}
	out[voice.IndexKey] = list

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return 0, nil, err
	}
	if err := storage.WriteFileAtomic(e.fs, filepath.Join(e.root, voice.IndexFile), data); err != nil {
		return 0, nil, fmt.Errorf("write %s: %w", voice.IndexFile, err)
	}
	return len(merged), ids, nil
}

type journal struct {
	Imported []string `json:"imported"`
}

func (e *Engine) readJournal() (map[string]bool, error) {
	path := filepath.Join(e.root, JournalFile)
	exists, err := afero.Exists(e.fs, path)
	if err != nil || !exists {
		return map[string]bool{}, err
	}
	data, err := afero.ReadFile(e.fs, path)
	if err != nil {
		return nil, err
	}
	var j journal
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("decode %s: %w", JournalFile, err)
	}
	set := make(map[string]bool, len(j.Imported))
	for _, id := range j.Imported {
		set[id] = true
	}
	return set, nil
}

func (e *Engine) writeJournal(previous map[string]bool, ids []string) error {
	all := make([]string, 0, len(previous)+len(ids))
	for id := range previous {
		all = append(all, id)
	}
	for _, id := range ids {
		if !previous[id] {
			all = append(all, id)
		}
	}
	data, err := json.MarshalIndent(journal{Imported: all}, "", "  ")
	if err != nil {
		return err
	}
	if err := storage.WriteFileAtomic(e.fs, filepath.Join(e.root, JournalFile), data); err != nil {
		return fmt.Errorf("write journal: %w", err)
	}
	return nil
}

func (e *Engine) writeMarker(count int) error {
	data, err := json.MarshalIndent(Marker{
		MigratedAt: e.now().UTC(),
		Source:     e.legacyRoot,
		Voices:     count,
	}, "", "  ")
	if err != nil {
		return err
	}
	if err := storage.WriteFileAtomic(e.fs, e.MarkerPath(), data); err != nil {
		return fmt.Errorf("write marker: %w", err)
	}
	return nil
}

// readDocument returns the top-level keys of a JSON object file, or an empty
// map if the file does not exist.
func readDocument(fs afero.Fs, path string) (map[string]json.RawMessage, error) {
	exists, err := afero.Exists(fs, path)
	if err != nil {
		return nil, err
	}
	if !exists {
		return map[string]json.RawMessage{}, nil
	}

	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, err
	}
	doc := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return doc, nil
}

func records(doc map[string]json.RawMessage, key string) ([]json.RawMessage, error) {
	raw, ok := doc[key]
	if !ok || string(raw) == "null" {
		return nil, nil
	}
	var list []json.RawMessage
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("key %q is not a list: %w", key, err)
	}
	return list, nil
}

// mergeByID keeps legacy order first, then current records whose id the
// legacy index does not contain. The current copy of a record wins over the
// legacy one. Legacy ids in imported that the current index no longer holds
// were deleted after an earlier attempt and are dropped. The returned ids
// are the legacy ids the merge accounted for.
func mergeByID(legacy, current []json.RawMessage, imported map[string]bool) ([]json.RawMessage, []string, error) {
	byID := make(map[string]json.RawMessage, len(current))
	currentIDs := make([]string, 0, len(current))
	for _, raw := range current {
		id, err := recordID(raw)
		if err != nil {
			return nil, nil, err
		}
		if _, dup := byID[id]; dup {
			continue
		}
		byID[id] = raw
		currentIDs = append(currentIDs, id)
	}

	merged := make([]json.RawMessage, 0, len(legacy)+len(current))
	seen := make(map[string]bool, len(legacy)+len(current))
	var ids []string

	for _, raw := range legacy {
		id, err := recordID(raw)
		if err != nil {
			return nil, nil, err
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
		if cur, ok := byID[id]; ok {
			merged = append(merged, cur)
			continue
		}
		if imported[id] {
			continue
		}
		merged = append(merged, raw)
	}
	for _, id := range currentIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		merged = append(merged, byID[id])
	}
	return merged, ids, nil
}

func recordID(raw json.RawMessage) (string, error) {
	var rec struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &rec); err != nil {
		return "", fmt.Errorf("decode record: %w", err)
	}
	if rec.ID == "" {
		return "", fmt.Errorf("record without id")
	}
	return rec.ID, nil
}
