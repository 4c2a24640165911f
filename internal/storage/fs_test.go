package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteFileAtomicReplacesContent(t *testing.T) {
	for name, fs := range map[string]afero.Fs{
		"mem": afero.NewMemMapFs(),
		"os":  afero.NewBasePathFs(afero.NewOsFs(), t.TempDir()),
	} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join("root", "index.json")

			require.NoError(t, WriteFileAtomic(fs, path, []byte("one")))
			require.NoError(t, WriteFileAtomic(fs, path, []byte("two")))

			data, err := afero.ReadFile(fs, path)
			require.NoError(t, err)
			assert.Equal(t, "two", string(data))

			entries, err := afero.ReadDir(fs, "root")
			require.NoError(t, err)
			assert.Len(t, entries, 1, "temp files must not be left behind")
		})
	}
}

func TestCopyTreeLeavesSourceIntact(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "old/index.json", []byte("{}"), FilePerm))
	require.NoError(t, afero.WriteFile(fs, "old/a/audio.wav", []byte("RIFF"), FilePerm))
	require.NoError(t, afero.WriteFile(fs, "old/b/audio.wav", []byte("WAVE"), FilePerm))

	err := CopyTree(fs, "old", "new", func(rel string) bool { return rel == "index.json" })
	require.NoError(t, err)

	data, err := afero.ReadFile(fs, "new/a/audio.wav")
	require.NoError(t, err)
	assert.Equal(t, "RIFF", string(data))

	exists, err := afero.Exists(fs, "new/index.json")
	require.NoError(t, err)
	assert.False(t, exists)

	for _, p := range []string{"old/index.json", "old/a/audio.wav", "old/b/audio.wav"} {
		_, err := fs.Stat(p)
		assert.NoError(t, err, p)
	}
}

func TestCopyTreeMissingSource(t *testing.T) {
	err := CopyTree(afero.NewMemMapFs(), "nope", "dst", nil)
	require.Error(t, err)
	assert.True(t, os.IsNotExist(err))
}
