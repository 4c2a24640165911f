package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/voiceclone-go/voiceclone-go/internal/audio"
	"github.com/voiceclone-go/voiceclone-go/internal/errs"
	"github.com/voiceclone-go/voiceclone-go/internal/queue"
	"github.com/voiceclone-go/voiceclone-go/internal/schema"
	"github.com/voiceclone-go/voiceclone-go/internal/session"
)

// WriteError writes an error response using upstream format.
func WriteError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(schema.ErrorResponse{Detail: message})
}

// WriteJSON writes the data structure as JSON.
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// WriteAudio writes binary audio data with the appropriate content type.
func WriteAudio(w http.ResponseWriter, format string, data []byte) {
	if format == "" {
		format = schema.FormatWAV
	}
	w.Header().Set("Content-Type", schema.ContentType(format))
	w.Header().Set("Content-Disposition", "attachment; filename=audio."+strings.ToLower(format))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// StatusFor maps an error to its HTTP status.
func StatusFor(err error) int {
	if httpErr, ok := IsHTTPError(err); ok {
		return httpErr.Status
	}
	if errors.Is(err, queue.ErrQueueFull) {
		return http.StatusTooManyRequests
	}
	if errors.Is(err, queue.ErrShutdown) {
		return http.StatusServiceUnavailable
	}
	switch errs.KindOf(err) {
	case errs.KindValidation:
		return http.StatusBadRequest
	case errs.KindNotFound:
		return http.StatusNotFound
	case errs.KindForbidden:
		return http.StatusForbidden
	case errs.KindSynthesis:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeErr writes err with its mapped status. Server-side failures are
// logged with the full error chain; the body carries only the reason.
func writeErr(w http.ResponseWriter, logger zerolog.Logger, err error) {
	status := StatusFor(err)
	msg := errs.Reason(err)
	if httpErr, ok := IsHTTPError(err); ok {
		msg = httpErr.Message
	}
	if status >= http.StatusInternalServerError {
		logger.Error().Err(err).Int("status", status).Msg("Request failed")
	}
	WriteError(w, status, msg)
}

func analysisResponse(v audio.Verdict) schema.AnalysisResponse {
	return schema.AnalysisResponse{
		Valid:           v.Valid,
		Reason:          string(v.Reason),
		Message:         v.Message(),
		DurationSeconds: v.Metrics.DurationSeconds,
		RMSLevel:        v.Metrics.RMSLevel,
		PeakLevel:       v.Metrics.PeakLevel,
	}
}

func progressResponse(p session.Progress) schema.ProgressResponse {
	return schema.ProgressResponse{
		Stage:     string(p.Stage),
		Message:   p.Message,
		UpdatedAt: p.UpdatedAt,
	}
}

func sessionResponse(v session.View, p session.Progress) schema.SessionResponse {
	resp := schema.SessionResponse{
		Voice:            v.Selector.String(),
		Name:             v.Name,
		ReferenceScript:  v.ReferenceScript,
		PreviewAvailable: v.PreviewAvailable,
		Progress:         progressResponse(p),
	}
	if v.Held != nil {
		a := analysisResponse(*v.Held)
		resp.Recording = &a
	}
	if v.PreviewAvailable {
		if id, ok := v.Selector.ID(); ok {
			resp.PreviewURL = "/v1/voices/" + id + "/audio"
		} else {
			resp.PreviewURL = "/v1/session/recording"
		}
	}
	return resp
}
