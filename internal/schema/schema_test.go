package schema

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

func validRequest() SynthesisRequest {
	return SynthesisRequest{
		Text:       "hello",
		Language:   "English",
		ModelID:    "model",
		References: []ReferenceAudio{{Audio: []byte("RIFF"), Text: "ref"}},
	}
}

func TestSynthesisRequestDefaults(t *testing.T) {
	req := validRequest()

	require.NoError(t, req.Validate(0))

	assert.Equal(t, FormatWAV, req.Format)
	assert.Equal(t, 2048, req.MaxNewTokens)
	assert.Equal(t, 0.8, req.TopP)
	assert.Equal(t, 1.05, req.RepetitionPenalty)
	assert.Equal(t, 0.9, req.Temperature)
	assert.True(t, req.Normalize)
}

func TestSynthesisRequestValidationErrors(t *testing.T) {
	tests := []struct {
		name          string
		mutate        func(*SynthesisRequest)
		maxTextLength int
		expectedError string
	}{
		{
			name:          "empty text",
			mutate:        func(r *SynthesisRequest) { r.Text = "" },
			expectedError: "text must not be empty",
		},
		{
			name:          "text too long",
			mutate:        func(r *SynthesisRequest) { r.Text = "hello world" },
			maxTextLength: 5,
			expectedError: "Text is too long, max length is 5",
		},
		{
			name:          "unknown format",
			mutate:        func(r *SynthesisRequest) { r.Format = "flac" },
			expectedError: "format must be one of wav, mp3, pcm",
		},
		{
			name:          "top_p below range",
			mutate:        func(r *SynthesisRequest) { r.TopP = 0.05 },
			expectedError: "top_p must be between 0.1 and 1.0",
		},
		{
			name:          "temperature above range",
			mutate:        func(r *SynthesisRequest) { r.Temperature = 2 },
			expectedError: "temperature must be between 0.1 and 1.5",
		},
		{
			name:          "repetition penalty below range",
			mutate:        func(r *SynthesisRequest) { r.RepetitionPenalty = 0.5 },
			expectedError: "repetition_penalty must be between 0.9 and 2.0",
		},
		{
			name:          "no reference",
			mutate:        func(r *SynthesisRequest) { r.References = nil },
			expectedError: "a reference recording is required",
		},
		{
			name:          "reference without audio",
			mutate:        func(r *SynthesisRequest) { r.References = []ReferenceAudio{{Text: "x"}} },
			expectedError: "reference 0 has no audio",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRequest()
			tt.mutate(&req)
			err := req.Validate(tt.maxTextLength)
			require.Error(t, err)
			assert.EqualError(t, err, tt.expectedError)
		})
	}
}

func TestSynthesisRequestWireKeys(t *testing.T) {
	seed := 7
	req := validRequest()
	req.Seed = &seed
	require.NoError(t, req.Validate(0))

	expectedKeys := []string{
		"text", "language", "model_id", "format", "max_new_tokens", "top_p",
		"repetition_penalty", "temperature", "references", "seed", "normalize",
	}

	data, err := json.Marshal(req)
	require.NoError(t, err)
	var fromJSON map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &fromJSON))

	data, err = msgpack.Marshal(req)
	require.NoError(t, err)
	var fromMsgpack map[string]interface{}
	require.NoError(t, msgpack.Unmarshal(data, &fromMsgpack))

	for _, key := range expectedKeys {
		assert.Contains(t, fromJSON, key)
		assert.Contains(t, fromMsgpack, key)
	}
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "audio/wav", ContentType(FormatWAV))
	assert.Equal(t, "audio/mpeg", ContentType(FormatMP3))
	assert.Equal(t, "audio/pcm", ContentType(FormatPCM))
	assert.Equal(t, "audio/wav", ContentType(""))
}
