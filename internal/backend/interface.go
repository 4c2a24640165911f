package backend

import (
	"context"

	"github.com/voiceclone-go/voiceclone-go/internal/schema"
)

// Engine is the external speech-synthesis engine.
type Engine interface {
	Health(ctx context.Context) error
	Synthesize(ctx context.Context, req *schema.SynthesisRequest) ([]byte, string, error)
}

// Ensure Client implements Engine.
var _ Engine = (*Client)(nil)
