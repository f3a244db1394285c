package brain

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ChatMessage is one entry in the model's input transcript.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is the normalized request sent to the language model.
type Request struct {
	Messages    []ChatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	ForceJSON   bool          `json:"-"`
}

// Response is the raw model output. Callers parse and validate it at the
// boundary; the adapter makes no schema promises.
type Response struct {
	Content string `json:"content"`
}

// Adapter bridges the conversation engine with the language model. The
// model is an opaque collaborator: it may fail or return malformed data,
// and callers own the fail-open policy.
type Adapter interface {
	Complete(ctx context.Context, req Request) (Response, error)
}

// Config controls adapter construction.
type Config struct {
	Mode    string
	HTTPURL string
	Model   string
}

func NewAdapter(cfg Config) (Adapter, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "auto":
		if strings.TrimSpace(cfg.HTTPURL) != "" {
			return NewHTTPAdapter(cfg.HTTPURL, cfg.Model), nil
		}
		return NewMockAdapter(), nil
	case "http":
		if strings.TrimSpace(cfg.HTTPURL) == "" {
			return nil, errors.New("brain HTTP url is required for http mode")
		}
		return NewHTTPAdapter(cfg.HTTPURL, cfg.Model), nil
	case "mock":
		return NewMockAdapter(), nil
	default:
		return nil, fmt.Errorf("unsupported brain adapter mode %q", cfg.Mode)
	}
}
