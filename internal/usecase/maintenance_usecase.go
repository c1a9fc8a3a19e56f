package usecase

import (
	"context"
	"errors"
	"fmt"

	"github.com/DRSN-tech/image-gallery/internal/domain"
	"github.com/DRSN-tech/image-gallery/pkg/e"
	"github.com/DRSN-tech/image-gallery/pkg/logger"
	"github.com/google/uuid"
)

const defaultScanBatch = 64

// MaintenanceUseCase фоновое обслуживание уже проиндексированной коллекции:
// достраивает недостающие миниатюры и векторы текста на изображении.
type MaintenanceUseCase struct {
	index        ImageIndex
	textEmbedder TextEmbedder
	thumbnails   ThumbnailGenerator
	storage      Storage
	outbox       OutboxRepository
	tx           TxManager
	batch        uint32
	logger       logger.Logger
}

func NewMaintenanceUC(
	index ImageIndex,
	textEmbedder TextEmbedder,
	thumbnails ThumbnailGenerator,
	storage Storage,
	outbox OutboxRepository,
	tx TxManager,
	batch int,
	logger logger.Logger,
) *MaintenanceUseCase {
	if batch <= 0 {
		batch = defaultScanBatch
	}

	return &MaintenanceUseCase{
		index:        index,
		textEmbedder: textEmbedder,
		thumbnails:   thumbnails,
		storage:      storage,
		outbox:       outbox,
		tx:           tx,
		batch:        uint32(batch),
		logger:       logger,
	}
}

// BackfillThumbnails создаёт миниатюры для записей, у которых их нет.
// Ошибка отдельной записи учитывается в Failed, недоступность индекса или хранилища прерывает обход.
func (m *MaintenanceUseCase) BackfillThumbnails(ctx context.Context) (*MaintenanceRes, error) {
	const op = "MaintenanceUseCase.BackfillThumbnails"

	res := &MaintenanceRes{}
	err := m.scan(ctx, false, func(ctx context.Context, page []*domain.ImageRecord) error {
		for _, record := range page {
			res.Scanned++
			if record.ThumbnailURL != "" {
				continue
			}

			src, ok := storagePath(record.URL)
			if !ok {
				res.Skipped++
				continue
			}

			if err := m.createThumbnail(ctx, record, src); err != nil {
				if fatal(ctx, err) {
					return err
				}
				m.logger.Warnf("thumbnail for image %s failed: %v", record.ID, err)
				res.Failed++
				continue
			}
			res.Updated++
		}
		return nil
	})
	if err != nil {
		return res, e.Wrap(op, err)
	}

	m.logger.Infof("thumbnail backfill done: scanned %d, updated %d, skipped %d, failed %d",
		res.Scanned, res.Updated, res.Skipped, res.Failed)
	return res, nil
}

func (m *MaintenanceUseCase) createThumbnail(ctx context.Context, record *domain.ImageRecord, src string) error {
	data, err := m.storage.Fetch(ctx, src)
	if err != nil {
		return err
	}

	thumb, err := m.thumbnails.Generate(data)
	if err != nil {
		return err
	}

	thumbPath := thumbnailPath(record.ID)
	if err := m.storage.Upload(ctx, thumb.Data, thumbPath); err != nil {
		return err
	}

	record.ThumbnailURL = thumbPath
	record.LocalThumbnail = false
	if m.storage.IsLocal() {
		if record.ThumbnailURL, err = m.storage.URL(ctx, thumbPath); err != nil {
			return err
		}
		record.LocalThumbnail = true
	}

	if err := m.index.UpdatePayload(ctx, record); err != nil {
		return err
	}

	if err := writeEvent(ctx, m.tx, m.outbox, record, domain.ImageUpdated); err != nil {
		m.logger.Errorf(err, "failed to record updated event for image %s", record.ID)
	}

	return nil
}

// BackfillTextVectors вычисляет векторы пространства OCR для записей с распознанным текстом,
// проиндексированных без них (например, пока текстовый эмбеддер был выключен).
func (m *MaintenanceUseCase) BackfillTextVectors(ctx context.Context) (*MaintenanceRes, error) {
	const op = "MaintenanceUseCase.BackfillTextVectors"

	if m.textEmbedder == nil {
		return nil, e.Wrap(op, e.ErrEmbedderDisabled)
	}

	res := &MaintenanceRes{}
	err := m.scan(ctx, true, func(ctx context.Context, page []*domain.ImageRecord) error {
		updates := make([]*domain.ImageRecord, 0, len(page))
		for _, record := range page {
			res.Scanned++
			if record.OCRText == "" || len(record.TextVector) > 0 {
				continue
			}

			vector, err := m.textEmbedder.EmbedText(ctx, record.OCRText)
			if err != nil {
				if fatal(ctx, err) {
					return err
				}
				m.logger.Warnf("ocr embedding for image %s failed: %v", record.ID, err)
				res.Failed++
				continue
			}

			// отправляется только новый вектор, визуальный не перезаписывается
			updates = append(updates, &domain.ImageRecord{ID: record.ID, TextVector: vector})
		}

		if len(updates) == 0 {
			return nil
		}
		if err := m.index.UpdateVectors(ctx, updates); err != nil {
			return err
		}
		res.Updated += len(updates)
		return nil
	})
	if err != nil {
		return res, e.Wrap(op, err)
	}

	m.logger.Infof("ocr vector backfill done: scanned %d, updated %d, failed %d", res.Scanned, res.Updated, res.Failed)
	return res, nil
}

// scan обходит всю коллекцию страницами по m.batch записей.
func (m *MaintenanceUseCase) scan(ctx context.Context, withVectors bool, fn func(ctx context.Context, page []*domain.ImageRecord) error) error {
	var from *uuid.UUID
	for {
		page, next, err := m.index.Scroll(ctx, from, m.batch, withVectors)
		if err != nil {
			return err
		}
		if len(page) > 0 {
			if err := fn(ctx, page); err != nil {
				return err
			}
		}
		if next == nil {
			return nil
		}
		from = next
	}
}

// fatal отличает отказ инфраструктуры от ошибки конкретной записи.
func fatal(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, e.ErrBackendUnavailable)
}

func thumbnailPath(id uuid.UUID) string {
	return fmt.Sprintf("thumbnails/%s.jpg", id)
}
