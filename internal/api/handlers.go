package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/voiceclone-go/voiceclone-go/internal/audio"
	"github.com/voiceclone-go/voiceclone-go/internal/backend"
	"github.com/voiceclone-go/voiceclone-go/internal/errs"
	"github.com/voiceclone-go/voiceclone-go/internal/queue"
	"github.com/voiceclone-go/voiceclone-go/internal/schema"
	"github.com/voiceclone-go/voiceclone-go/internal/session"
	"github.com/voiceclone-go/voiceclone-go/internal/voice"
)

// Deps are the components the handlers serve.
type Deps struct {
	Session *session.Controller
	Voices  *voice.Registry
	Engine  backend.Engine
	Metrics *Metrics
}

// Handler holds HTTP handlers and their dependencies.
type Handler struct {
	session *session.Controller
	voices  *voice.Registry
	engine  backend.Engine
	metrics *Metrics
	logger  zerolog.Logger
}

// NewHandler constructs a Handler.
func NewHandler(deps Deps, logger zerolog.Logger) *Handler {
	return &Handler{
		session: deps.Session,
		voices:  deps.Voices,
		engine:  deps.Engine,
		metrics: deps.Metrics,
		logger:  logger,
	}
}

// HandleHealthGet reports liveness.
func (h *Handler) HandleHealthGet(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, schema.HealthResponse{Status: "ok"})
}

// HandleHealthPost additionally probes the engine.
func (h *Handler) HandleHealthPost(w http.ResponseWriter, r *http.Request) {
	if h.engine != nil {
		if err := h.engine.Health(r.Context()); err != nil {
			h.logger.Warn().Err(err).Msg("Engine health check failed")
			WriteError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
	}
	WriteJSON(w, http.StatusOK, schema.HealthResponse{Status: "ok"})
}

// HandleAnalyze runs the quality gate on an uploaded recording without
// storing it.
func (h *Handler) HandleAnalyze(w http.ResponseWriter, r *http.Request) {
	buf, _, err := h.readRecording(r)
	if err != nil {
		writeErr(w, h.logger, err)
		return
	}
	v := audio.Analyze(buf)
	h.metrics.RecordingVerdict(v)
	WriteJSON(w, http.StatusOK, analysisResponse(v))
}

// HandleListVoices lists the selectable voices, quick-test voice first.
func (h *Handler) HandleListVoices(w http.ResponseWriter, r *http.Request) {
	choices, err := h.session.Choices()
	if err != nil {
		writeErr(w, h.logger, err)
		return
	}
	resp := schema.ListVoicesResponse{Voices: make([]schema.VoiceChoice, 0, len(choices))}
	for _, c := range choices {
		resp.Voices = append(resp.Voices, schema.VoiceChoice{Value: c.Selector.String(), Label: c.Label})
	}
	WriteJSON(w, http.StatusOK, resp)
}

// HandleGetVoice describes one saved voice.
func (h *Handler) HandleGetVoice(w http.ResponseWriter, r *http.Request) {
	rec, err := h.voices.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, h.logger, err)
		return
	}
	resp := schema.VoiceResponse{
		ID:              rec.ID,
		Name:            rec.Name,
		ReferenceScript: rec.ReferenceScript,
		CreatedAt:       rec.CreatedAt,
		UpdatedAt:       rec.UpdatedAt,
		HasAudio:        !rec.AssetMissing,
	}
	if resp.HasAudio {
		resp.AudioURL = "/v1/voices/" + rec.ID + "/audio"
	}
	WriteJSON(w, http.StatusOK, resp)
}

// HandleVoiceAudio streams the stored recording of a saved voice.
func (h *Handler) HandleVoiceAudio(w http.ResponseWriter, r *http.Request) {
	rec, err := h.voices.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, h.logger, err)
		return
	}
	buf, err := h.voices.LoadAudio(rec)
	if err != nil {
		writeErr(w, h.logger, err)
		return
	}
	writePreview(w, buf)
}

// HandleGetSession returns the view model of the active voice.
func (h *Handler) HandleGetSession(w http.ResponseWriter, r *http.Request) {
	h.writeSession(w)
}

// HandleSelectVoice changes the active voice.
func (h *Handler) HandleSelectVoice(w http.ResponseWriter, r *http.Request) {
	var req schema.SelectVoiceRequest
	if err := ParseRequestBody(r, &req); err != nil {
		writeErr(w, h.logger, err)
		return
	}
	view, err := h.session.SelectVoice(voice.ParseSelector(req.Voice))
	if err != nil {
		writeErr(w, h.logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, sessionResponse(view, h.session.Progress()))
}

// HandleGetRecording plays back the held recording.
func (h *Handler) HandleGetRecording(w http.ResponseWriter, r *http.Request) {
	buf, ok := h.session.HeldRecording()
	if !ok {
		WriteError(w, http.StatusNotFound, "No recording")
		return
	}
	writePreview(w, buf)
}

// HandlePutRecording holds an unsaved recording and returns its verdict.
func (h *Handler) HandlePutRecording(w http.ResponseWriter, r *http.Request) {
	buf, body, err := h.readRecording(r)
	if err != nil {
		writeErr(w, h.logger, err)
		return
	}
	v := h.session.HoldRecording(buf, body.Script)
	h.metrics.RecordingVerdict(v)
	WriteJSON(w, http.StatusOK, analysisResponse(v))
}

// HandleDeleteRecording discards the held recording.
func (h *Handler) HandleDeleteRecording(w http.ResponseWriter, r *http.Request) {
	h.session.ClearRecording()
	WriteJSON(w, http.StatusOK, schema.MessageResponse{Message: "Recording cleared"})
}

// HandleCreateVoice saves a new voice from the uploaded recording, or from
// the held one when the body carries no audio.
func (h *Handler) HandleCreateVoice(w http.ResponseWriter, r *http.Request) {
	buf, body, err := h.readRecording(r)
	if err != nil {
		writeErr(w, h.logger, err)
		return
	}

	var id string
	if buf.Empty() {
		id, err = h.session.CreateFromHeld(body.Name, body.Script)
	} else {
		id, err = h.session.CreateFromSession(body.Name, buf, body.Script)
	}
	h.metrics.VoiceMutation("create", err)
	if err != nil {
		writeErr(w, h.logger, err)
		return
	}

	WriteJSON(w, http.StatusCreated, schema.CreateVoiceResponse{
		ID:      id,
		Message: fmt.Sprintf("Voice %q saved", body.Name),
	})
}

// HandleReRecord replaces the recording of the active saved voice.
func (h *Handler) HandleReRecord(w http.ResponseWriter, r *http.Request) {
	buf, body, err := h.readRecording(r)
	if err != nil {
		writeErr(w, h.logger, err)
		return
	}
	err = h.session.ReRecordActive(buf, body.Script)
	h.metrics.VoiceMutation("update", err)
	if err != nil {
		writeErr(w, h.logger, err)
		return
	}
	h.writeSession(w)
}

// HandleDeleteVoice deletes the active saved voice after the caller typed
// its name.
func (h *Handler) HandleDeleteVoice(w http.ResponseWriter, r *http.Request) {
	var req schema.DeleteVoiceRequest
	if err := ParseRequestBody(r, &req); err != nil {
		writeErr(w, h.logger, err)
		return
	}
	err := h.session.DeleteActive(req.Confirmation)
	h.metrics.VoiceMutation("delete", err)
	if err != nil {
		writeErr(w, h.logger, err)
		return
	}
	h.writeSession(w)
}

// HandleGenerate synthesizes text with the active voice and returns the
// engine's audio.
func (h *Handler) HandleGenerate(w http.ResponseWriter, r *http.Request) {
	var req schema.GenerateRequest
	if err := ParseRequestBody(r, &req); err != nil {
		writeErr(w, h.logger, err)
		return
	}

	res, err := h.session.Generate(r.Context(), req.Text, req.Language, req.ModelID)
	if err != nil {
		if errors.Is(err, queue.ErrQueueFull) {
			h.metrics.SynthesisRejected()
		}
		writeErr(w, h.logger, err)
		return
	}
	WriteAudio(w, res.Format, res.Audio)
}

// HandleProgress reports the latest synthesis milestone.
func (h *Handler) HandleProgress(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, progressResponse(h.session.Progress()))
}

// HandleGetDefaultScript returns the global default reference script.
func (h *Handler) HandleGetDefaultScript(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, schema.ScriptResponse{Script: h.voices.DefaultScript()})
}

// HandlePutDefaultScript replaces the global default reference script.
func (h *Handler) HandlePutDefaultScript(w http.ResponseWriter, r *http.Request) {
	var req schema.ScriptRequest
	if err := ParseRequestBody(r, &req); err != nil {
		writeErr(w, h.logger, err)
		return
	}
	if err := h.voices.SetDefaultScript(req.Script); err != nil {
		writeErr(w, h.logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, schema.ScriptResponse{Script: h.voices.DefaultScript()})
}

func (h *Handler) readRecording(r *http.Request) (audio.Buffer, recordingBody, error) {
	var body recordingBody
	if err := parseRecording(r, &body); err != nil {
		return audio.Buffer{}, body, err
	}
	buf, err := decodeAudio(body.Audio)
	if err != nil {
		return audio.Buffer{}, body, err
	}
	return buf, body, nil
}

func (h *Handler) writeSession(w http.ResponseWriter) {
	view, err := h.session.View()
	if err != nil {
		// The active voice vanished underneath the session.
		if errors.Is(err, errs.ErrNotFound) {
			view, err = h.session.SelectVoice(voice.Reserved())
		}
		if err != nil {
			writeErr(w, h.logger, err)
			return
		}
	}
	WriteJSON(w, http.StatusOK, sessionResponse(view, h.session.Progress()))
}

func writePreview(w http.ResponseWriter, buf audio.Buffer) {
	w.Header().Set("Content-Type", schema.ContentType(schema.FormatWAV))
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(audio.EncodeWAV(buf))
}
