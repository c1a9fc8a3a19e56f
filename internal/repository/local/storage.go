// Package local хранит файлы галереи в каталоге на диске; сервис отдаёт их сам по /static/.
package local

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"iter"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/DRSN-tech/image-gallery/internal/infrastructure"
	"github.com/DRSN-tech/image-gallery/pkg/e"
	"github.com/DRSN-tech/image-gallery/pkg/logger"
	"github.com/jimlawless/whereami"
)

const (
	StaticPrefix = "/static/"
	deletedDir   = "_deleted"
	thumbnailDir = "thumbnails"
)

type Storage struct {
	root   string
	logger logger.Logger
}

// NewStorage создаёт каталог хранилища вместе с thumbnails/ и _deleted/, если их нет.
func NewStorage(root string, logger logger.Logger) (*Storage, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	if _, err := os.Stat(abs); errors.Is(err, fs.ErrNotExist) {
		logger.Warnf("static dir %s not found, created", abs)
	}
	for _, dir := range []string{abs, filepath.Join(abs, thumbnailDir), filepath.Join(abs, deletedDir)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, e.Wrap(whereami.WhereAmI(), err)
		}
	}

	return &Storage{root: abs, logger: logger}, nil
}

// Root абсолютный путь каталога, который раздаётся по /static/
func (s *Storage) Root() string {
	return s.root
}

func (s *Storage) URL(_ context.Context, p string) (string, error) {
	rel, err := cleanPath(p)
	if err != nil {
		return "", e.Wrap(whereami.WhereAmI(), err)
	}

	return StaticPrefix + rel, nil
}

func (s *Storage) IsLocal() bool {
	return true
}

func (s *Storage) Upload(_ context.Context, data []byte, p string) error {
	target, err := s.resolve(p)
	if err != nil {
		return e.Wrap(whereami.WhereAmI(), err)
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return e.Wrap(whereami.WhereAmI(), err)
	}
	if err := os.WriteFile(target, data, 0o644); err != nil {
		return e.Wrap(whereami.WhereAmI(), err)
	}
	s.logger.Debugf("uploaded %s via local storage", p)

	return nil
}

// UploadFile копирует файл с диска в хранилище.
func (s *Storage) UploadFile(_ context.Context, localPath string, p string) error {
	target, err := s.resolve(p)
	if err != nil {
		return e.Wrap(whereami.WhereAmI(), err)
	}

	src, err := os.Open(localPath)
	if errors.Is(err, fs.ErrNotExist) {
		return e.Wrap(whereami.WhereAmI(), e.ErrLocalFileNotFound)
	}
	if err != nil {
		return e.Wrap(whereami.WhereAmI(), err)
	}
	defer src.Close()

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return e.Wrap(whereami.WhereAmI(), err)
	}
	dst, err := os.Create(target)
	if err != nil {
		return e.Wrap(whereami.WhereAmI(), err)
	}

	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return e.Wrap(whereami.WhereAmI(), err)
	}
	if err := dst.Close(); err != nil {
		return e.Wrap(whereami.WhereAmI(), err)
	}
	s.logger.Debugf("uploaded %s to %s via local storage", localPath, p)

	return nil
}

func (s *Storage) Fetch(_ context.Context, p string) ([]byte, error) {
	target, err := s.resolve(p)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	data, err := os.ReadFile(target)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, e.Wrap(whereami.WhereAmI(), e.ErrRemoteFileNotFound)
	}
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	return data, nil
}

func (s *Storage) Rename(_ context.Context, oldPath string, newPath string) error {
	src, err := s.resolve(oldPath)
	if err != nil {
		return e.Wrap(whereami.WhereAmI(), err)
	}
	dst, err := s.resolve(newPath)
	if err != nil {
		return e.Wrap(whereami.WhereAmI(), err)
	}

	if _, err := os.Stat(src); errors.Is(err, fs.ErrNotExist) {
		return e.Wrap(whereami.WhereAmI(), e.ErrRemoteFileNotFound)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return e.Wrap(whereami.WhereAmI(), err)
	}
	if err := os.Rename(src, dst); err != nil {
		return e.Wrap(whereami.WhereAmI(), err)
	}
	s.logger.Debugf("renamed %s to %s via local storage", oldPath, newPath)

	return nil
}

// Delete переносит файл в _deleted/ с сохранением относительного пути.
func (s *Storage) Delete(ctx context.Context, p string) error {
	rel, err := cleanPath(p)
	if err != nil {
		return e.Wrap(whereami.WhereAmI(), err)
	}

	info, err := os.Stat(filepath.Join(s.root, filepath.FromSlash(rel)))
	if errors.Is(err, fs.ErrNotExist) || (err == nil && info.IsDir()) {
		return e.Wrap(whereami.WhereAmI(), e.ErrRemoteFileNotFound)
	}
	if err != nil {
		return e.Wrap(whereami.WhereAmI(), err)
	}

	if err := s.Rename(ctx, rel, path.Join(deletedDir, rel)); err != nil {
		return err
	}
	s.logger.Infof("deleted %s via local storage", p)

	return nil
}

// ListFiles обходит каталог рекурсивно и отдаёт пути относительно корня хранилища
// пачками по batchSize (0: одной пачкой). Каталоги _deleted и thumbnails пропускаются.
func (s *Storage) ListFiles(ctx context.Context, p string, pattern string, batchSize int, extensions []string) iter.Seq2[[]string, error] {
	return func(yield func([]string, error) bool) {
		dir, err := s.resolve(p)
		if err != nil {
			yield(nil, e.Wrap(whereami.WhereAmI(), err))
			return
		}

		var (
			batch   []string
			stopped bool
		)
		walkErr := filepath.WalkDir(dir, func(current string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if err := ctx.Err(); err != nil {
				return err
			}

			rel, err := filepath.Rel(s.root, current)
			if err != nil {
				return err
			}
			rel = filepath.ToSlash(rel)

			if d.IsDir() {
				if current != dir && (rel == deletedDir || rel == thumbnailDir) {
					return filepath.SkipDir
				}
				return nil
			}
			if !infrastructure.MatchImageFile(rel, pattern, extensions) {
				return nil
			}

			batch = append(batch, rel)
			if batchSize > 0 && len(batch) == batchSize {
				if !yield(batch, nil) {
					stopped = true
					return filepath.SkipAll
				}
				batch = nil
			}
			return nil
		})

		if stopped {
			return
		}
		if walkErr != nil {
			if errors.Is(walkErr, fs.ErrNotExist) {
				walkErr = e.ErrLocalFileNotFound
			}
			yield(nil, e.Wrap(whereami.WhereAmI(), walkErr))
			return
		}
		if len(batch) > 0 {
			yield(batch, nil)
		}
	}
}

// resolve переводит путь хранилища в путь на диске, не выпуская его за пределы корня.
func (s *Storage) resolve(p string) (string, error) {
	rel, err := cleanPath(p)
	if err != nil {
		return "", err
	}

	return filepath.Join(s.root, filepath.FromSlash(rel)), nil
}

func cleanPath(p string) (string, error) {
	rel := path.Clean(strings.TrimPrefix(filepath.ToSlash(p), "/"))
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return "", e.ErrInvalidPath
	}

	return rel, nil
}
