package eventstream

import (
	"time"

	"github.com/google/uuid"

	"github.com/papercomputeco/relay/pkg/storage"
)

const (
	// SchemaVersionV1 is the first version of the event payload schema.
	SchemaVersionV1 = 1

	// EventTypeTurnPersisted is emitted after a relayed turn is persisted.
	EventTypeTurnPersisted = "relay.turn.persisted"
)

// TurnPersistedEvent is a transport-neutral event payload for a persisted turn.
type TurnPersistedEvent struct {
	SchemaVersion int             `json:"schema_version"`
	EventType     string          `json:"event_type"`
	EventID       string          `json:"event_id"`
	EmittedAt     time.Time       `json:"emitted_at"`
	Source        EventSource     `json:"source"`
	RequestMeta   TurnRequestMeta `json:"request_meta"`
	Turn          storage.Turn    `json:"turn"`
}

// EventSource identifies where the turn originated.
type EventSource struct {
	Service  string `json:"service,omitempty"`
	Provider string `json:"provider"`
}

// TurnRequestMeta captures request lifecycle metadata for the event.
type TurnRequestMeta struct {
	Path        string    `json:"path,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
	DurationMs  int64     `json:"duration_ms"`
	Streaming   bool      `json:"streaming"`
	HTTPStatus  int       `json:"http_status"`
}

// NewTurnPersistedEvent builds the event for a stored turn.
func NewTurnPersistedEvent(turn *storage.Turn, source EventSource) *TurnPersistedEvent {
	completed := turn.CreatedAt.Add(time.Duration(turn.DurationMS) * time.Millisecond)
	return &TurnPersistedEvent{
		SchemaVersion: SchemaVersionV1,
		EventType:     EventTypeTurnPersisted,
		EventID:       uuid.NewString(),
		EmittedAt:     time.Now().UTC(),
		Source:        source,
		RequestMeta: TurnRequestMeta{
			Path:        turn.Path,
			StartedAt:   turn.CreatedAt,
			CompletedAt: completed,
			DurationMs:  turn.DurationMS,
			Streaming:   turn.Stream,
			HTTPStatus:  turn.Status,
		},
		Turn: *turn,
	}
}
