package schema

import "time"

// VoiceChoice is one entry of the voice picker. Value is the selector wire
// form: "guest" for the quick-test voice, otherwise a voice id.
type VoiceChoice struct {
	Value string `json:"value" msgpack:"value"`
	Label string `json:"label" msgpack:"label"`
}

// ListVoicesResponse lists the voices a session can select.
type ListVoicesResponse struct {
	Voices []VoiceChoice `json:"voices" msgpack:"voices"`
}

// VoiceResponse describes a saved voice.
type VoiceResponse struct {
	ID              string    `json:"id" msgpack:"id"`
	Name            string    `json:"name" msgpack:"name"`
	ReferenceScript string    `json:"ref_script" msgpack:"ref_script"`
	CreatedAt       time.Time `json:"created_at" msgpack:"created_at"`
	UpdatedAt       time.Time `json:"updated_at" msgpack:"updated_at"`
	HasAudio        bool      `json:"has_audio" msgpack:"has_audio"`
	AudioURL        string    `json:"audio_url,omitempty" msgpack:"audio_url,omitempty"`
}

// SessionResponse is the view model of the current session.
type SessionResponse struct {
	Voice            string            `json:"voice" msgpack:"voice"`
	Name             string            `json:"name" msgpack:"name"`
	ReferenceScript  string            `json:"ref_script" msgpack:"ref_script"`
	PreviewAvailable bool              `json:"preview_available" msgpack:"preview_available"`
	PreviewURL       string            `json:"preview_url,omitempty" msgpack:"preview_url,omitempty"`
	Recording        *AnalysisResponse `json:"recording,omitempty" msgpack:"recording,omitempty"`
	Progress         ProgressResponse  `json:"progress" msgpack:"progress"`
}

// SelectVoiceRequest changes the active voice.
type SelectVoiceRequest struct {
	Voice string `json:"voice" msgpack:"voice"`
}

// RecordingRequest carries a WAV recording and an optional script. It is
// used for holding a session recording and for re-recording a voice.
type RecordingRequest struct {
	Audio  []byte `json:"audio" msgpack:"audio"`
	Script string `json:"ref_script,omitempty" msgpack:"ref_script,omitempty"`
}

// CreateVoiceRequest saves a new voice. Without Audio the session's held
// recording is used.
type CreateVoiceRequest struct {
	Name   string `json:"name" msgpack:"name"`
	Script string `json:"ref_script,omitempty" msgpack:"ref_script,omitempty"`
	Audio  []byte `json:"audio,omitempty" msgpack:"audio,omitempty"`
}

// CreateVoiceResponse reports a saved voice.
type CreateVoiceResponse struct {
	ID      string `json:"id" msgpack:"id"`
	Message string `json:"message" msgpack:"message"`
}

// DeleteVoiceRequest must repeat the active voice's name exactly.
type DeleteVoiceRequest struct {
	Confirmation string `json:"confirmation" msgpack:"confirmation"`
}

// GenerateRequest synthesizes text with the active voice.
type GenerateRequest struct {
	Text     string `json:"text" msgpack:"text"`
	Language string `json:"language,omitempty" msgpack:"language,omitempty"`
	ModelID  string `json:"model_id,omitempty" msgpack:"model_id,omitempty"`
}

// ProgressResponse is the latest synthesis milestone.
type ProgressResponse struct {
	Stage     string    `json:"stage" msgpack:"stage"`
	Message   string    `json:"message,omitempty" msgpack:"message,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty" msgpack:"updated_at,omitempty"`
}

// ScriptRequest and ScriptResponse carry the default reference script.
type ScriptRequest struct {
	Script string `json:"script" msgpack:"script"`
}

type ScriptResponse struct {
	Script string `json:"script" msgpack:"script"`
}

// MessageResponse is a plain acknowledgement.
type MessageResponse struct {
	Message string `json:"message" msgpack:"message"`
}
