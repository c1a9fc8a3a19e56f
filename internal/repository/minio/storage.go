package minio

import (
	"bytes"
	"context"
	"errors"
	"io"
	"iter"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/DRSN-tech/image-gallery/internal/cfg"
	"github.com/DRSN-tech/image-gallery/internal/infrastructure"
	"github.com/DRSN-tech/image-gallery/pkg/e"
	"github.com/DRSN-tech/image-gallery/pkg/logger"
	"github.com/jimlawless/whereami"
	"github.com/minio/minio-go/v7"
)

const (
	deletedDir        = "_deleted"
	thumbnailDir      = "thumbnails"
	defaultPresignTTL = time.Hour
)

// ObjectClient часть *minio.Client, которой пользуется хранилище
type ObjectClient interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	FPutObject(ctx context.Context, bucketName, objectName, filePath string, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	GetObject(ctx context.Context, bucketName, objectName string, opts minio.GetObjectOptions) (*minio.Object, error)
	StatObject(ctx context.Context, bucketName, objectName string, opts minio.StatObjectOptions) (minio.ObjectInfo, error)
	CopyObject(ctx context.Context, dst minio.CopyDestOptions, src minio.CopySrcOptions) (minio.UploadInfo, error)
	RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error
	ListObjects(ctx context.Context, bucketName string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo
	PresignedGetObject(ctx context.Context, bucketName, objectName string, expires time.Duration, reqParams url.Values) (*url.URL, error)
}

// Storage реализует хранилище галереи поверх S3-совместимого бакета (MinIO).
// Все пути задаются относительно cfg.PathPrefix.
type Storage struct {
	mc     ObjectClient
	cfg    *cfg.MinIOCfg
	logger logger.Logger
}

func NewStorage(mc ObjectClient, cfg *cfg.MinIOCfg, logger logger.Logger) *Storage {
	return &Storage{
		mc:     mc,
		cfg:    cfg,
		logger: logger,
	}
}

// URL возвращает подписанную ссылку на чтение объекта.
func (s *Storage) URL(ctx context.Context, p string) (string, error) {
	ttl := s.cfg.PresignTTL
	if ttl <= 0 {
		ttl = defaultPresignTTL
	}

	u, err := s.mc.PresignedGetObject(ctx, s.cfg.BucketName, s.key(p), ttl, nil)
	if err != nil {
		return "", e.Wrap(whereami.WhereAmI(), err)
	}

	return u.String(), nil
}

func (s *Storage) IsLocal() bool {
	return false
}

func (s *Storage) Upload(ctx context.Context, data []byte, p string) error {
	_, err := s.mc.PutObject(ctx, s.cfg.BucketName, s.key(p), bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: http.DetectContentType(data),
	})
	if err != nil {
		return e.Wrap(whereami.WhereAmI(), err)
	}
	s.logger.Debugf("uploaded %s via s3 storage", p)

	return nil
}

func (s *Storage) UploadFile(ctx context.Context, localPath string, p string) error {
	if _, err := s.mc.FPutObject(ctx, s.cfg.BucketName, s.key(p), localPath, minio.PutObjectOptions{}); err != nil {
		return e.Wrap(whereami.WhereAmI(), err)
	}
	s.logger.Debugf("uploaded %s to %s via s3 storage", localPath, p)

	return nil
}

func (s *Storage) Fetch(ctx context.Context, p string) ([]byte, error) {
	obj, err := s.mc.GetObject(ctx, s.cfg.BucketName, s.key(p), minio.GetObjectOptions{})
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), mapError(err))
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), mapError(err))
	}

	return data, nil
}

// Rename копирует объект под новым ключом и удаляет старый.
func (s *Storage) Rename(ctx context.Context, oldPath string, newPath string) error {
	if err := s.move(ctx, s.key(oldPath), s.key(newPath)); err != nil {
		return e.Wrap(whereami.WhereAmI(), err)
	}
	s.logger.Debugf("renamed %s to %s via s3 storage", oldPath, newPath)

	return nil
}

// Delete переносит объект в _deleted/ внутри того же префикса.
func (s *Storage) Delete(ctx context.Context, p string) error {
	if _, err := s.mc.StatObject(ctx, s.cfg.BucketName, s.key(p), minio.StatObjectOptions{}); err != nil {
		return e.Wrap(whereami.WhereAmI(), mapError(err))
	}

	if err := s.move(ctx, s.key(p), s.key(path.Join(deletedDir, p))); err != nil {
		return e.Wrap(whereami.WhereAmI(), err)
	}
	s.logger.Infof("deleted %s via s3 storage", p)

	return nil
}

// ListFiles перечисляет объекты под префиксом p рекурсивно и отдаёт их пачками.
func (s *Storage) ListFiles(ctx context.Context, p string, pattern string, batchSize int, extensions []string) iter.Seq2[[]string, error] {
	return func(yield func([]string, error) bool) {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		prefix := s.key(p)
		if prefix != "" && !strings.HasSuffix(prefix, "/") {
			prefix += "/"
		}
		root := s.relative(prefix)

		var batch []string
		for obj := range s.mc.ListObjects(ctx, s.cfg.BucketName, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
			if obj.Err != nil {
				yield(nil, e.Wrap(whereami.WhereAmI(), mapError(obj.Err)))
				return
			}

			rel := s.relative(obj.Key)
			if isServiceKey(rel, root) || !infrastructure.MatchImageFile(rel, pattern, extensions) {
				continue
			}

			batch = append(batch, rel)
			if batchSize > 0 && len(batch) == batchSize {
				if !yield(batch, nil) {
					return
				}
				batch = nil
			}
		}

		if err := ctx.Err(); err != nil {
			yield(nil, e.Wrap(whereami.WhereAmI(), err))
			return
		}
		if len(batch) > 0 {
			yield(batch, nil)
		}
	}
}

// isServiceKey сообщает, лежит ли объект в служебном каталоге (_deleted, thumbnails).
// Если перечисление запрошено внутри такого каталога, его содержимое не скрывается.
func isServiceKey(rel, root string) bool {
	for _, dir := range []string{deletedDir, thumbnailDir} {
		if strings.HasPrefix(rel, dir+"/") && !strings.HasPrefix(root, dir+"/") {
			return true
		}
	}

	return false
}

func (s *Storage) move(ctx context.Context, src, dst string) error {
	_, err := s.mc.CopyObject(ctx,
		minio.CopyDestOptions{Bucket: s.cfg.BucketName, Object: dst},
		minio.CopySrcOptions{Bucket: s.cfg.BucketName, Object: src},
	)
	if err != nil {
		return mapError(err)
	}

	if err := s.mc.RemoveObject(ctx, s.cfg.BucketName, src, minio.RemoveObjectOptions{}); err != nil {
		return mapError(err)
	}

	return nil
}

func (s *Storage) key(p string) string {
	p = strings.TrimPrefix(path.Clean("/"+p), "/")
	if s.cfg.PathPrefix == "" {
		return p
	}

	return path.Join(s.cfg.PathPrefix, p)
}

func (s *Storage) relative(key string) string {
	if s.cfg.PathPrefix == "" {
		return key
	}

	return strings.TrimPrefix(strings.TrimPrefix(key, strings.Trim(s.cfg.PathPrefix, "/")), "/")
}

func mapError(err error) error {
	if err == nil {
		return nil
	}

	switch minio.ToErrorResponse(err).Code {
	case minio.NoSuchKey:
		return errors.Join(e.ErrRemoteFileNotFound, err)
	default:
		return err
	}
}
