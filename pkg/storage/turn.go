package storage

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNilTurn is returned when a nil turn is stored.
var ErrNilTurn = errors.New("cannot store nil turn")

// Turn is one relayed chat completion request and what came back.
type Turn struct {
	ID     uuid.UUID `json:"id"`
	Model  string    `json:"model"`
	Path   string    `json:"path"`
	Stream bool      `json:"stream"`

	// Status is the upstream HTTP status.
	Status int `json:"status"`

	// Prompt is the text of the last message sent.
	Prompt string `json:"prompt"`

	// Response is the assistant text, reassembled from the stream when the
	// request streamed.
	Response string `json:"response"`

	DurationMS int64     `json:"duration_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

// NewTurn returns a turn with a fresh ID, created now.
func NewTurn(model, path string, stream bool) *Turn {
	return &Turn{
		ID:        uuid.New(),
		Model:     model,
		Path:      path,
		Stream:    stream,
		CreatedAt: time.Now().UTC(),
	}
}

// Finish records the outcome of the turn.
func (t *Turn) Finish(status int, response string, elapsed time.Duration) {
	t.Status = status
	t.Response = response
	t.DurationMS = elapsed.Milliseconds()
}
