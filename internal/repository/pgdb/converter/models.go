package converter

import (
	"time"

	"github.com/google/uuid"
)

// OutboxEventModel строка таблицы outbox_events
type OutboxEventModel struct {
	ID          int64
	EventID     uuid.UUID
	EventType   string
	ImageID     uuid.UUID
	Payload     []byte
	Status      string
	CreatedAt   time.Time
	ProcessedAt *time.Time
}
