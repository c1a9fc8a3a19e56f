package usecase

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/DRSN-tech/image-gallery/internal/cfg"
	"github.com/DRSN-tech/image-gallery/internal/domain"
	"github.com/DRSN-tech/image-gallery/internal/infrastructure"
	"github.com/DRSN-tech/image-gallery/pkg/e"
	"github.com/DRSN-tech/image-gallery/pkg/jitter"
	"github.com/DRSN-tech/image-gallery/pkg/logger"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const (
	cleanupAttempts = 3
	cleanupTimeout  = 30 * time.Second
)

// UploadUseCase индексирует новые изображения: эмбеддинги, миниатюра, файлы в хранилище, точка в индексе.
type UploadUseCase struct {
	index        ImageIndex
	clip         ImageEmbedder
	textEmbedder TextEmbedder
	thumbnails   ThumbnailGenerator
	storage      Storage
	outbox       OutboxRepository
	tx           TxManager
	cfg          *cfg.UploadCfg
	logger       logger.Logger

	shutdownCtx  context.Context
	wg           sync.WaitGroup
	cleanupDelay time.Duration
}

func NewUploadUC(
	index ImageIndex,
	clip ImageEmbedder,
	textEmbedder TextEmbedder,
	thumbnails ThumbnailGenerator,
	storage Storage,
	outbox OutboxRepository,
	tx TxManager,
	cfg *cfg.UploadCfg,
	logger logger.Logger,
	shutdownCtx context.Context,
) *UploadUseCase {
	return &UploadUseCase{
		index:        index,
		clip:         clip,
		textEmbedder: textEmbedder,
		thumbnails:   thumbnails,
		storage:      storage,
		outbox:       outbox,
		tx:           tx,
		cfg:          cfg,
		logger:       logger,
		shutdownCtx:  shutdownCtx,
		cleanupDelay: time.Second,
	}
}

// Upload индексирует одно изображение. Повторная загрузка того же содержимого: e.ErrDuplicateImage.
func (u *UploadUseCase) Upload(ctx context.Context, req *UploadReq) (*UploadRes, error) {
	const op = "UploadUseCase.Upload"

	ext, err := u.validate(req)
	if err != nil {
		return nil, e.Wrap(op, err)
	}

	id := domain.ImageIDFromContent(req.Data)
	existing, err := u.index.Validate(ctx, []uuid.UUID{id})
	if err != nil {
		return nil, e.Wrap(op, err)
	}
	if len(existing) > 0 {
		return nil, e.Wrap(op, fmt.Errorf("%w: %s", e.ErrDuplicateImage, id))
	}

	record, err := u.store(ctx, id, ext, req)
	if err != nil {
		return nil, e.Wrap(op, err)
	}

	return &UploadRes{Record: record}, nil
}

// store вычисляет всё необходимое для записи и сохраняет файлы и точку.
// При ошибке после загрузки файлов запускается их фоновая очистка.
func (u *UploadUseCase) store(ctx context.Context, id uuid.UUID, ext string, req *UploadReq) (record *domain.ImageRecord, err error) {
	var (
		imageVector []float32
		textVector  []float32
		thumb       *Thumbnail
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		v, err := u.clip.EmbedImage(gctx, req.Data)
		if err != nil {
			return fmt.Errorf("embed image: %w", err)
		}
		imageVector = v
		return nil
	})
	if req.OCRText != "" && u.textEmbedder != nil {
		g.Go(func() error {
			v, err := u.textEmbedder.EmbedText(gctx, req.OCRText)
			if err != nil {
				return fmt.Errorf("embed ocr text: %w", err)
			}
			textVector = v
			return nil
		})
	}
	g.Go(func() error {
		t, err := u.thumbnails.Generate(req.Data)
		if err != nil {
			return fmt.Errorf("thumbnail: %w", err)
		}
		thumb = t
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	imagePath := fmt.Sprintf("%s.%s", id, ext)
	thumbPath := thumbnailPath(id)

	var uploaded []string
	defer func() {
		if err != nil && len(uploaded) > 0 {
			u.logger.Warnf("cleaning up orphaned files after failed upload. image: %s, error: %v", id, err)
			u.CleanupFiles(uploaded)
		}
	}()

	if err = u.storage.Upload(ctx, req.Data, imagePath); err != nil {
		return nil, err
	}
	uploaded = append(uploaded, imagePath)

	if err = u.storage.Upload(ctx, thumb.Data, thumbPath); err != nil {
		return nil, err
	}
	uploaded = append(uploaded, thumbPath)

	record = domain.NewImageRecord(id, imagePath, thumb.Format, thumb.Width, thumb.Height)
	record.ThumbnailURL = thumbPath
	record.OCRText = req.OCRText
	record.Starred = req.Starred
	record.Categories = req.Categories
	record.ImageVector = imageVector
	record.TextVector = textVector

	if u.storage.IsLocal() {
		if record.URL, err = u.storage.URL(ctx, imagePath); err != nil {
			return nil, err
		}
		if record.ThumbnailURL, err = u.storage.URL(ctx, thumbPath); err != nil {
			return nil, err
		}
		record.Local, record.LocalThumbnail = true, true
	}

	if err = u.index.Insert(ctx, []*domain.ImageRecord{record}); err != nil {
		return nil, err
	}
	u.logger.Infof("image %s indexed (%s, %dx%d)", id, req.Name, record.Width, record.Height)

	if err := writeEvent(ctx, u.tx, u.outbox, record, domain.ImageIndexed); err != nil {
		u.logger.Errorf(err, "failed to record indexed event for image %s", id)
	}

	record.ImageVector, record.TextVector = nil, nil
	return record, nil
}

// IndexDirectory индексирует файлы из каталога хранилища пачками. Уже проиндексированное
// содержимое пропускается без вычисления эмбеддингов.
func (u *UploadUseCase) IndexDirectory(ctx context.Context, req *IndexDirectoryReq) (*IndexDirectoryRes, error) {
	const op = "UploadUseCase.IndexDirectory"

	pattern := req.Pattern
	if pattern == "" {
		pattern = "*"
	}

	res := &IndexDirectoryRes{}
	for batch, err := range u.storage.ListFiles(ctx, req.Path, pattern, u.cfg.BatchSize, infrastructure.DefaultImageExtensions) {
		if err != nil {
			return res, e.Wrap(op, err)
		}

		if err := u.indexBatch(ctx, batch, req, res); err != nil {
			return res, e.Wrap(op, err)
		}
	}

	u.logger.Infof("directory %s indexed: total=%d indexed=%d skipped=%d failed=%d",
		req.Path, res.Total, res.Indexed, res.Skipped, res.Failed)

	return res, nil
}

func (u *UploadUseCase) indexBatch(ctx context.Context, paths []string, req *IndexDirectoryReq, res *IndexDirectoryRes) error {
	res.Total += len(paths)

	contents := make(map[uuid.UUID][]byte, len(paths))
	names := make(map[uuid.UUID]string, len(paths))
	ids := make([]uuid.UUID, 0, len(paths))
	for _, path := range paths {
		data, err := u.storage.Fetch(ctx, path)
		if err != nil {
			u.logger.Errorf(err, "failed to read %s", path)
			res.Failed++
			continue
		}

		id := domain.ImageIDFromContent(data)
		if _, ok := contents[id]; ok {
			res.Skipped++
			continue
		}
		contents[id], names[id] = data, path
		ids = append(ids, id)
	}

	existing, err := u.index.Validate(ctx, ids)
	if err != nil {
		return err
	}
	present := make(map[uuid.UUID]struct{}, len(existing))
	for _, id := range existing {
		present[id] = struct{}{}
	}

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, ok := present[id]; ok {
			res.Skipped++
			continue
		}

		_, err := u.Upload(ctx, &UploadReq{
			Data:       contents[id],
			Name:       names[id],
			Starred:    req.Starred,
			Categories: req.Categories,
		})
		switch {
		case err == nil:
			res.Indexed++
		case errors.Is(err, e.ErrDuplicateImage):
			res.Skipped++
		default:
			u.logger.Errorf(err, "failed to index %s", names[id])
			res.Failed++
		}
	}

	return nil
}

func (u *UploadUseCase) validate(req *UploadReq) (string, error) {
	if len(req.Data) == 0 {
		return "", e.ErrNoImages
	}

	if u.cfg.MaxSizeBytes > 0 && int64(len(req.Data)) > u.cfg.MaxSizeBytes {
		return "", e.ErrFileTooLarge
	}

	mime := req.MimeType
	if mime == "" || mime == "application/octet-stream" {
		mime = http.DetectContentType(req.Data)
	}

	return infrastructure.GetExtensionFromMIME(mime)
}

// CleanupFiles запускает фоновую очистку файлов, оставшихся от неудачной загрузки.
func (u *UploadUseCase) CleanupFiles(paths []string) {
	if len(paths) == 0 {
		return
	}
	u.wg.Add(1)
	go u.cleanupFiles(paths)
}

// cleanupFiles удаляет файлы с экспоненциальной задержкой и jitter.
func (u *UploadUseCase) cleanupFiles(paths []string) {
	defer u.wg.Done()
	const op = "UploadUseCase.cleanupFiles"

	ctx, cancel := context.WithTimeout(u.shutdownCtx, cleanupTimeout)
	defer cancel()

	for _, path := range paths {
		err := jitter.Retry(ctx, cleanupAttempts, u.cleanupDelay, 4*u.cleanupDelay, func(ctx context.Context) error {
			err := u.storage.Delete(ctx, path)
			if errors.Is(err, e.ErrRemoteFileNotFound) {
				return nil
			}
			return err
		})
		if err != nil {
			u.logger.Errorf(e.Wrap(op, err), "cleanup failed, path=%s", path)
			if ctx.Err() != nil {
				return
			}
		}
	}
}

// WaitForCleanup ожидает завершения фоновых очисток с учётом таймаута завершения приложения.
func (u *UploadUseCase) WaitForCleanup(shutdownTimeoutCtx context.Context) error {
	done := make(chan struct{})
	go func() {
		u.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-shutdownTimeoutCtx.Done():
		return fmt.Errorf("storage cleanup timeout during shutdown: %w", shutdownTimeoutCtx.Err())
	}
}
