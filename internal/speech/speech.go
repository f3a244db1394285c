package speech

import (
	"context"

	"github.com/khoanguyen-dev/mai/internal/protocol"
)

// Synthesizer attaches spoken audio and lipsync cues to reply messages.
// Enrichment is best effort: a failed message is returned text-only and
// never aborts the turn. A non-empty prefix names the output files
// {prefix}_{i} and reuses them when already rendered; an empty prefix means
// one-shot files that are removed after encoding.
type Synthesizer interface {
	Attach(ctx context.Context, messages []protocol.Message, prefix string) []protocol.Message
}

// Disabled is the no-op synthesizer used when audio is turned off.
type Disabled struct{}

func (Disabled) Attach(_ context.Context, messages []protocol.Message, _ string) []protocol.Message {
	return messages
}

type Config struct {
	Enabled    bool
	OutputDir  string
	TTSURL     string
	LipSyncCmd string
}

// New returns a file-backed synthesizer when enabled, otherwise Disabled.
func New(cfg Config) Synthesizer {
	if !cfg.Enabled || cfg.TTSURL == "" {
		return Disabled{}
	}
	return NewFileSynthesizer(cfg)
}
