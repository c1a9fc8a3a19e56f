package usecase

import (
	"context"
	"iter"
)

// Storage хранилище оригиналов и миниатюр. Пути задаются относительно корня хранилища.
type Storage interface {
	// URL возвращает адрес, по которому клиент может получить файл
	URL(ctx context.Context, path string) (string, error)
	// IsLocal сообщает, отдаёт ли сервис файлы сам (/static)
	IsLocal() bool
	Upload(ctx context.Context, data []byte, path string) error
	UploadFile(ctx context.Context, localPath string, path string) error
	Fetch(ctx context.Context, path string) ([]byte, error)
	Rename(ctx context.Context, oldPath string, newPath string) error
	// Delete переносит файл в _deleted/. Отсутствующий файл: e.ErrRemoteFileNotFound
	Delete(ctx context.Context, path string) error
	ListFiles(ctx context.Context, path string, pattern string, batchSize int, extensions []string) iter.Seq2[[]string, error]
}

// ImageEmbedder модель CLIP: изображения и тексты в одном визуальном пространстве
type ImageEmbedder interface {
	EmbedImage(ctx context.Context, data []byte) ([]float32, error)
	EmbedText(ctx context.Context, text string) ([]float32, error)
}

// TextEmbedder модель для пространства текста на изображении (OCR)
type TextEmbedder interface {
	EmbedText(ctx context.Context, text string) ([]float32, error)
}

type ThumbnailGenerator interface {
	Generate(data []byte) (*Thumbnail, error)
}

type MessageProducer interface {
	WriteRawMessage(ctx context.Context, req *WriteRawMessageReq) error
}
