package usecase

import (
	"context"
	"errors"

	"github.com/DRSN-tech/image-gallery/internal/domain"
	"github.com/DRSN-tech/image-gallery/pkg/e"
	"github.com/DRSN-tech/image-gallery/pkg/logger"
	"github.com/google/uuid"
)

// AdminUseCase операции администратора над проиндексированными изображениями.
type AdminUseCase struct {
	index   ImageIndex
	storage Storage
	outbox  OutboxRepository
	tx      TxManager
	logger  logger.Logger
}

func NewAdminUC(index ImageIndex, storage Storage, outbox OutboxRepository, tx TxManager, logger logger.Logger) *AdminUseCase {
	return &AdminUseCase{
		index:   index,
		storage: storage,
		outbox:  outbox,
		tx:      tx,
		logger:  logger,
	}
}

// DeleteImage удаляет точку из индекса и переносит файлы изображения в _deleted/.
func (a *AdminUseCase) DeleteImage(ctx context.Context, id uuid.UUID) error {
	const op = "AdminUseCase.DeleteImage"

	record, err := a.index.RetrieveOne(ctx, id, false)
	if err != nil {
		return e.Wrap(op, err)
	}

	if err := a.index.Delete(ctx, []uuid.UUID{record.ID}); err != nil {
		return e.Wrap(op, err)
	}
	a.logger.Infof("image %s deleted from index", record.ID)

	if err := a.afterDelete(ctx, record); err != nil {
		return e.Wrap(op, err)
	}

	return nil
}

// DeleteImages удаляет несколько изображений. Если хотя бы одного id нет в индексе,
// ничего не удаляется и возвращается e.PointsNotFoundError со всеми отсутствующими id.
func (a *AdminUseCase) DeleteImages(ctx context.Context, ids []uuid.UUID) (*DeleteImagesRes, error) {
	const op = "AdminUseCase.DeleteImages"

	if len(ids) == 0 {
		return nil, e.Wrap(op, e.ErrStatusBadRequest)
	}

	records, err := a.index.RetrieveMany(ctx, ids, false)
	if err != nil {
		return nil, e.Wrap(op, err)
	}

	deleted := make([]uuid.UUID, 0, len(records))
	for _, record := range records {
		deleted = append(deleted, record.ID)
	}

	if err := a.index.Delete(ctx, deleted); err != nil {
		return nil, e.Wrap(op, err)
	}
	a.logger.Infof("%d images deleted from index", len(deleted))

	// файлы удаляются по возможности: точки уже нет, поэтому ошибки только логируются
	for _, record := range records {
		if err := a.afterDelete(ctx, record); err != nil {
			a.logger.Errorf(e.Wrap(op, err), "failed to remove files of image %s", record.ID)
		}
	}

	return &DeleteImagesRes{Deleted: deleted}, nil
}

// afterDelete пишет событие и переносит файлы уже удалённой из индекса записи.
func (a *AdminUseCase) afterDelete(ctx context.Context, record *domain.ImageRecord) error {
	// Точка уже удалена, поэтому ошибка outbox не отменяет операцию
	if err := a.recordEvent(ctx, record, domain.ImageDeleted); err != nil {
		a.logger.Errorf(err, "failed to record deleted event for image %s", record.ID)
	}

	if path, ok := storagePath(record.ThumbnailURL); ok {
		if err := a.storage.Delete(ctx, path); err != nil && !errors.Is(err, e.ErrRemoteFileNotFound) {
			return err
		}
	}

	if path, ok := storagePath(record.URL); ok {
		if err := a.storage.Delete(ctx, path); err != nil {
			return err
		}
	}

	return nil
}

// UpdateOpt меняет отметку "избранное" и категории изображения. Векторы не затрагиваются.
func (a *AdminUseCase) UpdateOpt(ctx context.Context, req *UpdateOptReq) error {
	const op = "AdminUseCase.UpdateOpt"

	if req.Empty() {
		return e.Wrap(op, e.ErrNothingToUpdate)
	}

	record, err := a.index.RetrieveOne(ctx, req.ID, false)
	if err != nil {
		return e.Wrap(op, err)
	}

	if req.Starred != nil {
		record.Starred = *req.Starred
	}
	if req.Categories != nil {
		record.Categories = req.Categories
	}

	if err := a.index.UpdatePayload(ctx, record); err != nil {
		return e.Wrap(op, err)
	}
	a.logger.Infof("image %s updated", record.ID)

	if err := a.recordEvent(ctx, record, domain.ImageUpdated); err != nil {
		a.logger.Errorf(e.Wrap(op, err), "failed to record updated event for image %s", record.ID)
	}

	return nil
}

// ServerInfo возвращает точное число изображений в индексе.
func (a *AdminUseCase) ServerInfo(ctx context.Context) (*ServerInfoRes, error) {
	const op = "AdminUseCase.ServerInfo"

	count, err := a.index.Count(ctx, true)
	if err != nil {
		return nil, e.Wrap(op, err)
	}

	return &ServerInfoRes{ImageCount: count}, nil
}

func (a *AdminUseCase) recordEvent(ctx context.Context, record *domain.ImageRecord, eventType domain.ImageEventType) error {
	return writeEvent(ctx, a.tx, a.outbox, record, eventType)
}

// writeEvent сохраняет событие в outbox в отдельной транзакции.
func writeEvent(ctx context.Context, tx TxManager, outbox OutboxRepository, record *domain.ImageRecord, eventType domain.ImageEventType) error {
	event, err := domain.NewImageEvent(record, eventType)
	if err != nil {
		return err
	}

	return tx.Do(ctx, func(ctx context.Context) error {
		_, err := outbox.Create(ctx, event)
		return err
	})
}
