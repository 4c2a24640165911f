package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/voiceclone-go/voiceclone-go/internal/schema"
)

var (
	serverURL string
	apiKey    string
	output    string
	timeout   time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "voiceclone-ctl",
	Short: "voiceclone server management tool",
	Long: `voiceclone-ctl drives a running voiceclone-server.

Commands:
  health      Check server and engine health
  voices      List and inspect saved voices
  session     Show or change the active voice
  record      Hold a recording in the session
  create      Save a recording as a new voice
  rerecord    Replace the recording of the active voice
  delete      Delete the active voice
  generate    Synthesize speech with the active voice
  settings    Show or change the default reference script`,
	SilenceUsage: true,
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check server health",
	RunE:  runHealth,
}

var voicesCmd = &cobra.Command{
	Use:   "voices",
	Short: "Inspect saved voices",
}

var voicesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List selectable voices",
	RunE:  runVoicesList,
}

var voicesShowCmd = &cobra.Command{
	Use:   "show [id]",
	Short: "Show one saved voice",
	Args:  cobra.ExactArgs(1),
	RunE:  runVoicesShow,
}

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Show or change the active voice",
}

var sessionShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the active voice",
	RunE:  runSessionShow,
}

var sessionSelectCmd = &cobra.Command{
	Use:   "select [id|guest]",
	Short: "Select a voice",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionSelect,
}

var recordCmd = &cobra.Command{
	Use:   "record [wav-file]",
	Short: "Hold a recording for the quick-test voice",
	Args:  cobra.ExactArgs(1),
	RunE:  runRecord,
}

var createCmd = &cobra.Command{
	Use:   "create [name] [wav-file]",
	Short: "Save a voice from a WAV file or the held recording",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runCreate,
}

var rerecordCmd = &cobra.Command{
	Use:   "rerecord [wav-file]",
	Short: "Replace the recording of the active voice",
	Args:  cobra.ExactArgs(1),
	RunE:  runRerecord,
}

var deleteCmd = &cobra.Command{
	Use:   "delete [confirmation]",
	Short: "Delete the active voice; the confirmation must be its exact name",
	Args:  cobra.ExactArgs(1),
	RunE:  runDelete,
}

var generateCmd = &cobra.Command{
	Use:   "generate [text]",
	Short: "Synthesize text with the active voice",
	Args:  cobra.ExactArgs(1),
	RunE:  runGenerate,
}

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Manage server settings",
}

var settingsScriptCmd = &cobra.Command{
	Use:   "script [new-script]",
	Short: "Show or replace the default reference script",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runSettingsScript,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", "http://localhost:7860", "voiceclone server URL")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "API key for authentication")
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "text", "Output format: text, json")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 5*time.Minute, "Request timeout")

	rootCmd.AddCommand(healthCmd, voicesCmd, sessionCmd, recordCmd, createCmd, rerecordCmd, deleteCmd, generateCmd, settingsCmd)

	voicesCmd.AddCommand(voicesListCmd, voicesShowCmd)
	sessionCmd.AddCommand(sessionShowCmd, sessionSelectCmd)
	settingsCmd.AddCommand(settingsScriptCmd)

	healthCmd.Flags().Bool("engine", false, "Also probe the synthesis engine")
	recordCmd.Flags().String("script", "", "Text spoken in the recording (empty means the default script)")
	createCmd.Flags().String("script", "", "Text spoken in the recording")
	rerecordCmd.Flags().String("script", "", "Text spoken in the new recording (empty keeps the current one)")
	generateCmd.Flags().StringP("file", "f", "", "Write audio to this file instead of stdout")
	generateCmd.Flags().String("language", "", "Synthesis language (server default when empty)")
	generateCmd.Flags().String("model", "", "Engine model id (server default when empty)")
}

func runHealth(cmd *cobra.Command, args []string) error {
	method := http.MethodGet
	if probe, _ := cmd.Flags().GetBool("engine"); probe {
		method = http.MethodPost
	}
	resp, err := makeRequest(method, "/v1/health", "", nil)
	if err != nil {
		return err
	}
	return render(cmd, resp, func(h schema.HealthResponse) {
		fmt.Fprintf(cmd.OutOrStdout(), "Status: %s\n", h.Status)
	})
}

func runVoicesList(cmd *cobra.Command, args []string) error {
	resp, err := makeRequest(http.MethodGet, "/v1/voices", "", nil)
	if err != nil {
		return err
	}
	return render(cmd, resp, func(list schema.ListVoicesResponse) {
		fmt.Fprintln(cmd.OutOrStdout(), "Voices:")
		for _, v := range list.Voices {
			fmt.Fprintf(cmd.OutOrStdout(), "  %-38s %s\n", v.Value, v.Label)
		}
	})
}

func runVoicesShow(cmd *cobra.Command, args []string) error {
	resp, err := makeRequest(http.MethodGet, "/v1/voices/"+url.PathEscape(args[0]), "", nil)
	if err != nil {
		return err
	}
	return render(cmd, resp, func(v schema.VoiceResponse) {
		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "ID:      %s\n", v.ID)
		fmt.Fprintf(w, "Name:    %s\n", v.Name)
		fmt.Fprintf(w, "Script:  %s\n", v.ReferenceScript)
		fmt.Fprintf(w, "Created: %s\n", v.CreatedAt.Format(time.RFC3339))
		fmt.Fprintf(w, "Updated: %s\n", v.UpdatedAt.Format(time.RFC3339))
		if !v.HasAudio {
			fmt.Fprintln(w, "Audio:   missing, re-record this voice")
		}
	})
}

func runSessionShow(cmd *cobra.Command, args []string) error {
	resp, err := makeRequest(http.MethodGet, "/v1/session", "", nil)
	if err != nil {
		return err
	}
	return render(cmd, resp, func(s schema.SessionResponse) { printSession(cmd, s) })
}

func runSessionSelect(cmd *cobra.Command, args []string) error {
	resp, err := makeJSONRequest(http.MethodPost, "/v1/session/select", schema.SelectVoiceRequest{Voice: args[0]})
	if err != nil {
		return err
	}
	return render(cmd, resp, func(s schema.SessionResponse) { printSession(cmd, s) })
}

func runRecord(cmd *cobra.Command, args []string) error {
	return sendRecording(cmd, http.MethodPut, "/v1/session/recording", args[0])
}

func runCreate(cmd *cobra.Command, args []string) error {
	script, _ := cmd.Flags().GetString("script")
	req := schema.CreateVoiceRequest{Name: args[0], Script: script}
	if len(args) == 2 {
		data, err := os.ReadFile(args[1])
		if err != nil {
			return fmt.Errorf("failed to read audio file: %w", err)
		}
		req.Audio = data
	}

	resp, err := makeJSONRequest(http.MethodPost, "/v1/session/voices", req)
	if err != nil {
		return err
	}
	return render(cmd, resp, func(r schema.CreateVoiceResponse) {
		fmt.Fprintf(cmd.OutOrStdout(), "✓ %s (id %s)\n", r.Message, r.ID)
	})
}

func runRerecord(cmd *cobra.Command, args []string) error {
	return sendRecording(cmd, http.MethodPut, "/v1/session/voice", args[0])
}

func runDelete(cmd *cobra.Command, args []string) error {
	resp, err := makeJSONRequest(http.MethodDelete, "/v1/session/voice", schema.DeleteVoiceRequest{Confirmation: args[0]})
	if err != nil {
		return err
	}
	return render(cmd, resp, func(s schema.SessionResponse) {
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Voice %q deleted\n", args[0])
		printSession(cmd, s)
	})
}

func runGenerate(cmd *cobra.Command, args []string) error {
	file, _ := cmd.Flags().GetString("file")
	language, _ := cmd.Flags().GetString("language")
	model, _ := cmd.Flags().GetString("model")

	audio, err := makeJSONRequest(http.MethodPost, "/v1/session/generate", schema.GenerateRequest{
		Text:     args[0],
		Language: language,
		ModelID:  model,
	})
	if err != nil {
		return err
	}

	if file != "" {
		if err := os.WriteFile(file, audio, 0o644); err != nil {
			return fmt.Errorf("failed to write output file: %w", err)
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "Audio saved to %s (%d bytes)\n", file, len(audio))
		return nil
	}

	_, err = cmd.OutOrStdout().Write(audio)
	return err
}

func runSettingsScript(cmd *cobra.Command, args []string) error {
	var (
		resp []byte
		err  error
	)
	if len(args) == 1 {
		resp, err = makeJSONRequest(http.MethodPut, "/v1/settings/default-script", schema.ScriptRequest{Script: args[0]})
	} else {
		resp, err = makeRequest(http.MethodGet, "/v1/settings/default-script", "", nil)
	}
	if err != nil {
		return err
	}
	return render(cmd, resp, func(s schema.ScriptResponse) {
		fmt.Fprintln(cmd.OutOrStdout(), s.Script)
	})
}

// sendRecording uploads a WAV file as a raw audio body and prints the
// server's answer.
func sendRecording(cmd *cobra.Command, method, path, file string) error {
	data, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("failed to read audio file: %w", err)
	}
	if script, err := cmd.Flags().GetString("script"); err == nil && script != "" {
		path += "?ref_script=" + url.QueryEscape(script)
	}

	resp, err := makeRequest(method, path, "audio/wav", data)
	if err != nil {
		return err
	}

	if output == "json" {
		fmt.Fprintln(cmd.OutOrStdout(), string(resp))
		return nil
	}

	// Holding returns a verdict, re-recording returns the session.
	var fields map[string]json.RawMessage
	_ = json.Unmarshal(resp, &fields)
	if _, ok := fields["valid"]; ok {
		var a schema.AnalysisResponse
		_ = json.Unmarshal(resp, &a)
		mark := "✓"
		if !a.Valid {
			mark = "✗"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", mark, a.Message)
		return nil
	}
	var s schema.SessionResponse
	_ = json.Unmarshal(resp, &s)
	fmt.Fprintln(cmd.OutOrStdout(), "✓ Recording replaced")
	printSession(cmd, s)
	return nil
}

func printSession(cmd *cobra.Command, s schema.SessionResponse) {
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Voice:    %s (%s)\n", s.Name, s.Voice)
	fmt.Fprintf(w, "Script:   %s\n", s.ReferenceScript)
	if s.Recording != nil {
		fmt.Fprintf(w, "Held:     %s\n", s.Recording.Message)
	}
	fmt.Fprintf(w, "Progress: %s", s.Progress.Stage)
	if s.Progress.Message != "" {
		fmt.Fprintf(w, " (%s)", s.Progress.Message)
	}
	fmt.Fprintln(w)
}

// render writes resp raw in json mode, otherwise decodes it into T and hands
// it to text.
func render[T any](cmd *cobra.Command, resp []byte, text func(T)) error {
	if output == "json" {
		fmt.Fprintln(cmd.OutOrStdout(), string(resp))
		return nil
	}
	var v T
	if err := json.Unmarshal(resp, &v); err != nil {
		return fmt.Errorf("unexpected response: %w", err)
	}
	text(v)
	return nil
}

func makeJSONRequest(method, path string, v interface{}) ([]byte, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}
	return makeRequest(method, path, "application/json", body)
}

func makeRequest(method, path, contentType string, body []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, serverURL+path, bodyReader)
	if err != nil {
		return nil, err
	}

	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		var e schema.ErrorResponse
		if json.Unmarshal(respBody, &e) == nil && e.Detail != "" {
			return nil, fmt.Errorf("server error (status %d): %s", resp.StatusCode, e.Detail)
		}
		return nil, fmt.Errorf("server error (status %d): %s", resp.StatusCode, string(respBody))
	}

	return respBody, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
