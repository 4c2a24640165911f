package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/voiceclone-go/voiceclone-go/internal/audio"
	"github.com/voiceclone-go/voiceclone-go/internal/backend"
	"github.com/voiceclone-go/voiceclone-go/internal/config"
	"github.com/voiceclone-go/voiceclone-go/internal/synth"
	"github.com/voiceclone-go/voiceclone-go/internal/voice"
)

var (
	engineURL     string
	outputFile    string
	referenceFile string
	referenceText string
	voiceID       string
	dataDir       string
	language      string
	modelID       string
	verbose       bool
)

var rootCmd = &cobra.Command{
	Use:   "voiceclone-tts [text]",
	Short: "Clone a voice from a local recording and synthesize text",
	Long: `voiceclone-tts talks to the synthesis engine directly, without a running
voiceclone-server. The reference recording goes through the same quality
checks as in the server.

Examples:
  # Quick test with a local recording
  voiceclone-tts --reference me.wav -o hello.wav "Hello, world!"

  # Say what the recording contains
  voiceclone-tts --reference me.wav --reference-text "The quick brown fox..." "Hello"

  # Use a voice saved by the server
  voiceclone-tts --data-dir ./voices --voice 6f1c... "Hello again"`,
	Args:         cobra.ExactArgs(1),
	SilenceUsage: true,
	RunE:         runTTS,
}

func init() {
	defaults, err := config.Load()
	if err != nil {
		defaults = config.Default()
	}

	rootCmd.Flags().StringVar(&engineURL, "engine", defaults.Engine.URL, "Speech-synthesis engine URL")
	rootCmd.Flags().StringVarP(&outputFile, "output", "o", "", "Output file (default: stdout)")
	rootCmd.Flags().StringVar(&referenceFile, "reference", "", "Reference WAV recording")
	rootCmd.Flags().StringVar(&referenceText, "reference-text", "", "Text spoken in the reference (default script when empty)")
	rootCmd.Flags().StringVar(&voiceID, "voice", "", "Saved voice id to use instead of --reference")
	rootCmd.Flags().StringVar(&dataDir, "data-dir", defaults.Storage.Root, "Voice storage directory for --voice")
	rootCmd.Flags().StringVar(&language, "language", defaults.Synthesis.Language, "Synthesis language")
	rootCmd.Flags().StringVar(&modelID, "model", defaults.Synthesis.ModelID, "Engine model id")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Log progress to stderr")

	rootCmd.MarkFlagsMutuallyExclusive("reference", "voice")
	rootCmd.MarkFlagsOneRequired("reference", "voice")
}

func runTTS(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	cfg.Engine.URL = engineURL

	logger := zerolog.Nop()
	if verbose {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	}

	req := synth.Request{
		Text:     args[0],
		Language: language,
		ModelID:  modelID,
		Script:   referenceText,
	}

	var voices synth.VoiceSource
	if voiceID != "" {
		reg, err := voice.Open(afero.NewOsFs(), dataDir, voice.Options{
			DefaultScript: cfg.Synthesis.DefaultScript,
			Logger:        logger,
		})
		if err != nil {
			return err
		}
		voices = reg
		req.Selector = voice.Saved(voiceID)
	} else {
		buf, err := readReference(referenceFile)
		if err != nil {
			return err
		}
		verdict := audio.Analyze(buf)
		fmt.Fprintln(cmd.ErrOrStderr(), verdict.Message())
		if !verdict.Valid {
			return fmt.Errorf("reference recording rejected: %s", verdict.Reason)
		}
		voices = scriptOnly(cfg.Synthesis.DefaultScript)
		req.Selector = voice.Reserved()
		req.Held = &buf
	}

	dispatcher := synth.NewDispatcher(backend.NewClient(&cfg.Engine), voices, synth.Options{
		MaxTextLength: cfg.Limits.MaxTextLength,
		Logger:        logger,
	})

	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Engine.Timeout+10*time.Second)
	defer cancel()

	res, err := dispatcher.Generate(ctx, req, func(s synth.Stage) {
		logger.Info().Str("stage", string(s)).Msg("progress")
	})
	if err != nil {
		return err
	}

	if outputFile != "" {
		if err := os.WriteFile(outputFile, res.Audio, 0o644); err != nil {
			return fmt.Errorf("failed to write output file: %w", err)
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "Audio saved to %s (%d bytes)\n", outputFile, len(res.Audio))
		return nil
	}

	_, err = cmd.OutOrStdout().Write(res.Audio)
	return err
}

func readReference(path string) (audio.Buffer, error) {
	f, err := os.Open(path)
	if err != nil {
		return audio.Buffer{}, fmt.Errorf("failed to read reference file: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return audio.Buffer{}, fmt.Errorf("failed to read reference file: %w", err)
	}
	buf, err := audio.DecodeWAV(data)
	if err != nil {
		return audio.Buffer{}, fmt.Errorf("reference must be a PCM WAV file: %w", err)
	}
	return buf, nil
}

// scriptOnly serves the default script for a held reference; it has no
// saved voices.
type scriptOnly string

func (s scriptOnly) Get(id string) (voice.Record, error) {
	return voice.Record{}, fmt.Errorf("voice %q: no registry configured", id)
}

func (s scriptOnly) LoadAudio(rec voice.Record) (audio.Buffer, error) {
	return audio.Buffer{}, fmt.Errorf("voice %q: no registry configured", rec.ID)
}

func (s scriptOnly) DefaultScript() string {
	if s == "" {
		return voice.DefaultReferenceScript
	}
	return string(s)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
