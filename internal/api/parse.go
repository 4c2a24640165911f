package api

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/voiceclone-go/voiceclone-go/internal/audio"
)

// HTTPError represents an error with an associated HTTP status code.
type HTTPError struct {
	Status  int
	Message string
}

func (e *HTTPError) Error() string {
	return e.Message
}

// ParseRequestBody decodes the request body into the provided value based on Content-Type.
func ParseRequestBody(r *http.Request, v interface{}) error {
	switch mediaType(r) {
	case "application/json":
		if err := json.NewDecoder(r.Body).Decode(v); err != nil {
			return bodyError(err, "Invalid request body")
		}
	case "application/msgpack", "application/x-msgpack":
		if err := msgpack.NewDecoder(r.Body).Decode(v); err != nil {
			return bodyError(err, "Invalid request body")
		}
	case "multipart/form-data":
		if err := parseMultipart(r, v); err != nil {
			return err
		}
	default:
		return &HTTPError{Status: http.StatusUnsupportedMediaType, Message: "Unsupported content type"}
	}

	return nil
}

// parseRecording reads a recording upload. Besides the structured bodies
// accepted by ParseRequestBody, a raw audio/wav body is accepted with the
// script passed as the ref_script query parameter.
func parseRecording(r *http.Request, v *recordingBody) error {
	switch mediaType(r) {
	case "audio/wav", "audio/x-wav", "audio/wave", "application/octet-stream":
		data, err := io.ReadAll(r.Body)
		if err != nil {
			return bodyError(err, "Invalid request body")
		}
		v.Audio = data
		v.Script = r.URL.Query().Get("ref_script")
		v.Name = r.URL.Query().Get("name")
		return nil
	default:
		return ParseRequestBody(r, v)
	}
}

// recordingBody is the union of the recording-carrying request bodies.
type recordingBody struct {
	Name   string `json:"name,omitempty" msgpack:"name,omitempty"`
	Script string `json:"ref_script,omitempty" msgpack:"ref_script,omitempty"`
	Audio  []byte `json:"audio,omitempty" msgpack:"audio,omitempty"`
}

// decodeAudio turns uploaded WAV bytes into a mono buffer.
func decodeAudio(data []byte) (audio.Buffer, error) {
	if len(data) == 0 {
		return audio.Buffer{}, nil
	}
	buf, err := audio.DecodeWAV(data)
	if err != nil {
		return audio.Buffer{}, &HTTPError{Status: http.StatusBadRequest, Message: "audio must be a PCM WAV file: " + err.Error()}
	}
	return buf, nil
}

// parseMultipart attempts to decode a multipart/form-data request into the provided value.
func parseMultipart(r *http.Request, v interface{}) error {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		return bodyError(err, "Invalid multipart form")
	}

	if len(r.MultipartForm.Value) == 0 && len(r.MultipartForm.File) == 0 {
		return &HTTPError{Status: http.StatusBadRequest, Message: "Empty multipart form"}
	}

	// Prefer a "payload" field if provided containing JSON.
	if payloads, ok := r.MultipartForm.Value["payload"]; ok && len(payloads) > 0 {
		if err := json.Unmarshal([]byte(payloads[0]), v); err != nil {
			return &HTTPError{Status: http.StatusBadRequest, Message: "Invalid multipart payload"}
		}
		return nil
	}

	// Plain form fields stay strings; names like "2024" must not become numbers.
	data := map[string]interface{}{}
	for key, values := range r.MultipartForm.Value {
		if len(values) == 0 {
			continue
		}
		data[key] = values[0]
	}

	// Audio arrives as a file part.
	for key, files := range r.MultipartForm.File {
		if len(files) == 0 {
			continue
		}
		file, err := files[0].Open()
		if err != nil {
			return &HTTPError{Status: http.StatusBadRequest, Message: "Invalid file upload"}
		}
		buf, err := io.ReadAll(file)
		file.Close()
		if err != nil {
			return &HTTPError{Status: http.StatusBadRequest, Message: "Invalid file upload"}
		}
		data[key] = buf
	}

	marshaled, err := json.Marshal(data)
	if err != nil {
		return &HTTPError{Status: http.StatusBadRequest, Message: "Invalid multipart data"}
	}

	if err := json.Unmarshal(marshaled, v); err != nil {
		return &HTTPError{Status: http.StatusBadRequest, Message: "Invalid multipart data"}
	}

	return nil
}

func mediaType(r *http.Request) string {
	contentType := r.Header.Get("Content-Type")
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mt = contentType
	}
	return strings.ToLower(mt)
}

// bodyError reports oversized bodies as 413 and everything else as 400.
func bodyError(err error, msg string) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return &HTTPError{Status: http.StatusRequestEntityTooLarge, Message: "Request body too large"}
	}
	return &HTTPError{Status: http.StatusBadRequest, Message: msg}
}

// IsHTTPError checks whether an error is an *HTTPError.
func IsHTTPError(err error) (*HTTPError, bool) {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr, true
	}
	return nil, false
}
