package schema

import (
	"errors"
	"fmt"
)

// Output formats the engine can produce.
const (
	FormatWAV = "wav"
	FormatMP3 = "mp3"
	FormatPCM = "pcm"
)

const (
	defaultFormat            = FormatWAV
	defaultMaxNewTokens      = 2048
	defaultTopP              = 0.8
	defaultRepetitionPenalty = 1.05
	defaultTemperature       = 0.9
	defaultNormalize         = true
)

// ReferenceAudio is a voice sample sent inline with a synthesis request.
type ReferenceAudio struct {
	Audio []byte `json:"audio" msgpack:"audio"`
	Text  string `json:"text" msgpack:"text"`
}

// SynthesisRequest is the payload posted to the engine's /v1/tts endpoint.
type SynthesisRequest struct {
	Text     string `json:"text" msgpack:"text"`
	Language string `json:"language" msgpack:"language"`
	ModelID  string `json:"model_id" msgpack:"model_id"`

	Format            string  `json:"format" msgpack:"format"`
	MaxNewTokens      int     `json:"max_new_tokens" msgpack:"max_new_tokens"`
	TopP              float64 `json:"top_p" msgpack:"top_p"`
	RepetitionPenalty float64 `json:"repetition_penalty" msgpack:"repetition_penalty"`
	Temperature       float64 `json:"temperature" msgpack:"temperature"`

	References []ReferenceAudio `json:"references" msgpack:"references"`

	Seed      *int `json:"seed,omitempty" msgpack:"seed,omitempty"`
	Normalize bool `json:"normalize" msgpack:"normalize"`
}

// Validate applies default values and checks the request before it is sent.
func (r *SynthesisRequest) Validate(maxTextLength int) error {
	r.applyDefaults()

	if r.Text == "" {
		return errors.New("text must not be empty")
	}

	if maxTextLength > 0 && len(r.Text) > maxTextLength {
		return fmt.Errorf("Text is too long, max length is %d", maxTextLength)
	}

	switch r.Format {
	case FormatWAV, FormatMP3, FormatPCM:
	default:
		return fmt.Errorf("format must be one of wav, mp3, pcm")
	}

	if r.TopP < 0.1 || r.TopP > 1.0 {
		return fmt.Errorf("top_p must be between 0.1 and 1.0")
	}

	if r.Temperature < 0.1 || r.Temperature > 1.5 {
		return fmt.Errorf("temperature must be between 0.1 and 1.5")
	}

	if r.RepetitionPenalty < 0.9 || r.RepetitionPenalty > 2.0 {
		return fmt.Errorf("repetition_penalty must be between 0.9 and 2.0")
	}

	if len(r.References) == 0 {
		return errors.New("a reference recording is required")
	}
	for i, ref := range r.References {
		if len(ref.Audio) == 0 {
			return fmt.Errorf("reference %d has no audio", i)
		}
	}

	return nil
}

func (r *SynthesisRequest) applyDefaults() {
	if r.Format == "" {
		r.Format = defaultFormat
	}

	if r.MaxNewTokens == 0 {
		r.MaxNewTokens = defaultMaxNewTokens
	}

	if r.TopP == 0 {
		r.TopP = defaultTopP
	}

	if r.RepetitionPenalty == 0 {
		r.RepetitionPenalty = defaultRepetitionPenalty
	}

	if r.Temperature == 0 {
		r.Temperature = defaultTemperature
	}

	if r.References == nil {
		r.References = []ReferenceAudio{}
	}

	r.Normalize = r.Normalize || defaultNormalize
}

// ContentType returns the MIME type for an output format.
func ContentType(format string) string {
	switch format {
	case FormatMP3:
		return "audio/mpeg"
	case FormatPCM:
		return "audio/pcm"
	default:
		return "audio/wav"
	}
}
