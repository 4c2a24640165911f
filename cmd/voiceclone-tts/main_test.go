package main

import (
	"bytes"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/voiceclone-go/voiceclone-go/internal/audio"
	"github.com/voiceclone-go/voiceclone-go/internal/schema"
	"github.com/voiceclone-go/voiceclone-go/internal/voice"
)

func writeTone(t *testing.T, seconds, amplitude float64) string {
	t.Helper()
	const rate = 16000
	samples := make([]float32, int(seconds*rate))
	for i := range samples {
		samples[i] = float32(amplitude * math.Sin(2*math.Pi*180*float64(i)/rate))
	}
	path := filepath.Join(t.TempDir(), "ref.wav")
	require.NoError(t, os.WriteFile(path, audio.EncodeWAV(audio.Buffer{Samples: samples, SampleRate: rate}), 0o644))
	return path
}

func fakeEngine(t *testing.T) (*httptest.Server, *schema.SynthesisRequest) {
	t.Helper()
	var got schema.SynthesisRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, msgpack.Unmarshal(body, &got))
		w.Header().Set("Content-Type", "audio/wav")
		_, _ = w.Write([]byte("engine-audio"))
	}))
	t.Cleanup(srv.Close)
	return srv, &got
}

func run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		referenceFile, referenceText, voiceID, outputFile = "", "", "", ""
		rootCmd.SetArgs(nil)
	})
	err := rootCmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestQuickTestWithReference(t *testing.T) {
	engine, got := fakeEngine(t)
	ref := writeTone(t, 4, 0.3)

	stdout, stderr, err := run(t, "--engine", engine.URL, "--reference", ref, "--language", "French", "Bonjour")
	require.NoError(t, err)
	assert.Equal(t, "engine-audio", stdout)
	assert.Contains(t, stderr, "Recording OK")

	assert.Equal(t, "Bonjour", got.Text)
	assert.Equal(t, "French", got.Language)
	require.Len(t, got.References, 1)
	assert.Equal(t, voice.DefaultReferenceScript, got.References[0].Text)
}

func TestRejectsShortReference(t *testing.T) {
	engine, got := fakeEngine(t)
	ref := writeTone(t, 1, 0.3)

	_, stderr, err := run(t, "--engine", engine.URL, "--reference", ref, "Hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too short")
	assert.Contains(t, stderr, "Recording too short")
	assert.Empty(t, got.Text, "engine must not be called")
}
