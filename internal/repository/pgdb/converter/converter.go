package converter

import "github.com/DRSN-tech/image-gallery/internal/domain"

// OutboxEventConverter преобразует domain.ImageEvent в модель PostgreSQL и обратно.
type OutboxEventConverter struct{}

func NewOutboxEventConverter() OutboxEventConverter {
	return OutboxEventConverter{}
}

func (OutboxEventConverter) ToModel(entity *domain.ImageEvent) *OutboxEventModel {
	if entity == nil {
		return nil
	}

	return &OutboxEventModel{
		ID:          entity.ID,
		EventID:     entity.EventID,
		EventType:   string(entity.Type),
		ImageID:     entity.ImageID,
		Payload:     entity.Payload,
		Status:      string(entity.Status),
		CreatedAt:   entity.CreatedAt,
		ProcessedAt: entity.ProcessedAt,
	}
}

func (OutboxEventConverter) ToEntity(model *OutboxEventModel) *domain.ImageEvent {
	if model == nil {
		return nil
	}

	return &domain.ImageEvent{
		ID:          model.ID,
		EventID:     model.EventID,
		ImageID:     model.ImageID,
		Type:        domain.ImageEventType(model.EventType),
		Payload:     model.Payload,
		Status:      domain.OutboxStatus(model.Status),
		CreatedAt:   model.CreatedAt,
		ProcessedAt: model.ProcessedAt,
	}
}

func (c OutboxEventConverter) ToArrEntity(models []*OutboxEventModel) []*domain.ImageEvent {
	events := make([]*domain.ImageEvent, 0, len(models))
	for _, m := range models {
		events = append(events, c.ToEntity(m))
	}

	return events
}
