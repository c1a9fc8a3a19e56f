package domain

import (
	"crypto/sha1"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
)

// ImageRecord описывает одно проиндексированное изображение галереи
type ImageRecord struct {
	ID             uuid.UUID
	URL            string
	ThumbnailURL   string
	OCRText        string
	IndexDate      time.Time
	Width          int
	Height         int
	AspectRatio    float64
	Starred        bool
	Categories     []string
	Format         string
	Local          bool
	LocalThumbnail bool

	// Векторы могут отсутствовать, если модальность не вычислялась или не запрашивалась
	ImageVector []float32
	TextVector  []float32
}

func NewImageRecord(id uuid.UUID, url string, format string, width int, height int) *ImageRecord {
	return &ImageRecord{
		ID:          id,
		URL:         url,
		Format:      format,
		IndexDate:   time.Now().UTC(),
		Width:       width,
		Height:      height,
		AspectRatio: AspectRatio(width, height),
	}
}

// AspectRatio возвращает отношение ширины к высоте, 0 если высота неизвестна.
func AspectRatio(width, height int) float64 {
	if height <= 0 {
		return 0
	}

	return float64(width) / float64(height)
}

// Vector возвращает вектор записи в указанном пространстве.
func (r *ImageRecord) Vector(space VectorSpace) []float32 {
	switch space {
	case ImageSpace:
		return r.ImageVector
	case TextSpace:
		return r.TextVector
	default:
		return nil
	}
}

// namespaceGallery пространство имён для идентификаторов, выводимых из содержимого файла
var namespaceGallery = uuid.NewSHA1(uuid.NameSpaceDNS, []byte("github.com/hv0905/NekoImageGallery"))

// ImageIDFromContent детерминированно выводит идентификатор изображения из его байтов.
func ImageIDFromContent(data []byte) uuid.UUID {
	sum := sha1.Sum(data)
	return uuid.NewSHA1(namespaceGallery, []byte(hex.EncodeToString(sum[:])))
}
