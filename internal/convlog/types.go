package convlog

import (
	"context"
	"time"
)

// Turn records one routed exchange: what the user said, how it was
// classified, and the assistant's first reply line.
type Turn struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	SessionID  string    `json:"session_id"`
	UserInput  string    `json:"user_input"`
	ReplyText  string    `json:"reply_text"`
	Intent     string    `json:"intent"`
	Route      string    `json:"route"`
	Confidence float64   `json:"confidence"`
	Mode       string    `json:"mode"`
	Pending    bool      `json:"pending"`
	Redacted   bool      `json:"pii_redacted"`
	CreatedAt  time.Time `json:"created_at"`
}

// Store persists routed exchanges for inspection and debugging.
type Store interface {
	SaveTurn(ctx context.Context, turn Turn) error
	RecentTurns(ctx context.Context, userID string, limit int) ([]Turn, error)
	Close() error
}
