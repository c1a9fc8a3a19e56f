package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ImageEventType тип изменения изображения
type ImageEventType string

const (
	ImageIndexed ImageEventType = "image.indexed"
	ImageUpdated ImageEventType = "image.updated"
	ImageDeleted ImageEventType = "image.deleted"
)

// OutboxStatus состояние события в таблице outbox_events
type OutboxStatus string

const (
	OutboxPending    OutboxStatus = "pending"
	OutboxProcessing OutboxStatus = "processing"
	OutboxProcessed  OutboxStatus = "processed"
)

// ImageEvent событие об изменении изображения в галерее
type ImageEvent struct {
	ID          int64 // порядковый номер в outbox, присваивается базой
	EventID     uuid.UUID
	ImageID     uuid.UUID
	Type        ImageEventType
	Payload     []byte
	Status      OutboxStatus
	CreatedAt   time.Time
	ProcessedAt *time.Time
}

// ImageEventPayload снимок метаданных записи, который уходит потребителям событий
type ImageEventPayload struct {
	EventID      uuid.UUID      `json:"event_id"`
	Type         ImageEventType `json:"type"`
	ImageID      uuid.UUID      `json:"image_id"`
	URL          string         `json:"url,omitempty"`
	ThumbnailURL string         `json:"thumbnail_url,omitempty"`
	Width        int            `json:"width,omitempty"`
	Height       int            `json:"height,omitempty"`
	Format       string         `json:"format,omitempty"`
	Starred      bool           `json:"starred"`
	Categories   []string       `json:"categories"`
	OccurredAt   time.Time      `json:"occurred_at"`
}

// NewImageEvent готовит событие к записи в outbox. Payload содержит снимок записи.
func NewImageEvent(record *ImageRecord, eventType ImageEventType) (*ImageEvent, error) {
	event := &ImageEvent{
		EventID:   uuid.New(),
		ImageID:   record.ID,
		Type:      eventType,
		Status:    OutboxPending,
		CreatedAt: time.Now().UTC(),
	}

	categories := record.Categories
	if categories == nil {
		categories = []string{}
	}

	payload, err := json.Marshal(ImageEventPayload{
		EventID:      event.EventID,
		Type:         eventType,
		ImageID:      record.ID,
		URL:          record.URL,
		ThumbnailURL: record.ThumbnailURL,
		Width:        record.Width,
		Height:       record.Height,
		Format:       record.Format,
		Starred:      record.Starred,
		Categories:   categories,
		OccurredAt:   event.CreatedAt,
	})
	if err != nil {
		return nil, err
	}
	event.Payload = payload

	return event, nil
}
