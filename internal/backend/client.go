package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/voiceclone-go/voiceclone-go/internal/config"
	"github.com/voiceclone-go/voiceclone-go/internal/schema"
)

// maxErrorBody caps how much of an engine error response is kept.
const maxErrorBody = 4096

// Client talks to the external speech-synthesis engine over HTTP.
type Client struct {
	httpClient *http.Client
	endpoint   string
	timeout    time.Duration
}

// NewClient creates an engine client with connection pooling.
func NewClient(cfg *config.EngineConfig) *Client {
	maxConns := cfg.MaxConnections
	if maxConns <= 0 {
		maxConns = 8
	}

	transport := &http.Transport{
		MaxIdleConns:        maxConns,
		MaxIdleConnsPerHost: maxConns,
		IdleConnTimeout:     90 * time.Second,
		DisableCompression:  true,
	}

	client := &http.Client{
		Transport: transport,
		Timeout:   cfg.Timeout,
	}

	return &Client{
		httpClient: client,
		endpoint:   strings.TrimRight(cfg.URL, "/"),
		timeout:    cfg.Timeout,
	}
}

// Endpoint returns the engine base URL.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// Health checks if the engine is reachable.
func (c *Client) Health(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/v1/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("engine unhealthy: status %d", resp.StatusCode)
	}

	return nil
}

// Synthesize sends a request to the engine and returns the complete audio
// response with its format.
func (c *Client) Synthesize(ctx context.Context, req *schema.SynthesisRequest) ([]byte, string, error) {
	body, err := EncodeSynthesisRequest(req)
	if err != nil {
		return nil, "", fmt.Errorf("failed to encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/v1/tts", bytes.NewReader(body))
	if err != nil {
		return nil, "", fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/msgpack")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) || isTimeout(err) {
			return nil, "", fmt.Errorf("%w: %v", ErrBackendTimeout, err)
		}
		return nil, "", fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, "", &BackendError{StatusCode: resp.StatusCode, Message: errorMessage(resp.Header.Get("Content-Type"), bodyBytes)}
	}

	audioData, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read response: %w", err)
	}

	return audioData, req.Format, nil
}

func isTimeout(err error) bool {
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}
