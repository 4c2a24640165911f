package voice

import (
	"path/filepath"
	"strings"
	"time"
)

const (
	// IndexFile is the index document inside the storage root.
	IndexFile = "voices.json"
	// IndexKey is the top-level key holding the voice records.
	IndexKey = "voices"

	legacyAssetName = "audio.wav"
)

// DefaultReferenceScript is read aloud when no other script is configured.
// It covers a wide range of English phonemes.
const DefaultReferenceScript = `The quick brown fox jumps over the lazy dog.
She sells seashells by the seashore.
Peter Piper picked a peck of pickled peppers.
How much wood would a woodchuck chuck if a woodchuck could chuck wood?`

// Record is a saved voice.
type Record struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	ReferenceScript string    `json:"ref_script"`
	AudioAssetPath  string    `json:"audio_path,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`

	// AssetMissing is set when the record's audio file is not on disk.
	AssetMissing bool `json:"-"`
}

// assetRel returns the asset path relative to the storage root. Records
// written before audio_path existed keep their audio at <id>/audio.wav.
func (r Record) assetRel() string {
	if r.AudioAssetPath != "" {
		return filepath.FromSlash(r.AudioAssetPath)
	}
	return filepath.Join(r.ID, legacyAssetName)
}

// Index is the persisted document.
type Index struct {
	Voices        []Record `json:"voices"`
	DefaultScript string   `json:"default_script,omitempty"`
}

func (idx *Index) find(id string) int {
	for i, r := range idx.Voices {
		if r.ID == id {
			return i
		}
	}
	return -1
}

// safeRel reports whether rel stays inside the storage root.
func safeRel(rel string) bool {
	clean := filepath.Clean(rel)
	if clean == "." || filepath.IsAbs(clean) {
		return false
	}
	return clean != ".." && !strings.HasPrefix(clean, ".."+string(filepath.Separator))
}
