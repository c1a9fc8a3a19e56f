package usecase

import (
	"strings"

	"github.com/DRSN-tech/image-gallery/internal/domain"
	"github.com/DRSN-tech/image-gallery/pkg/e"
	"github.com/google/uuid"
)

// SEARCH

// SearchBasis пространство, в котором выполняется поиск: визуальное или текст на изображении
type SearchBasis string

const (
	BasisVision SearchBasis = "vision"
	BasisOCR    SearchBasis = "ocr"
)

// ParseSearchBasis разбирает параметр basis. Пустое значение: vision.
func ParseSearchBasis(s string) (SearchBasis, error) {
	switch SearchBasis(strings.ToLower(strings.TrimSpace(s))) {
	case "", BasisVision:
		return BasisVision, nil
	case BasisOCR:
		return BasisOCR, nil
	default:
		return "", e.ErrInvalidSearchBasis
	}
}

func (b SearchBasis) Space() domain.VectorSpace {
	if b == BasisOCR {
		return domain.TextSpace
	}

	return domain.ImageSpace
}

// ParseSearchMode разбирает параметр mode. Пустое значение оставляет выбор стратегии индексу.
func ParseSearchMode(s string) (domain.RecommendStrategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return domain.StrategyDefault, nil
	case "average":
		return domain.StrategyAverage, nil
	case "best":
		return domain.StrategyBestScore, nil
	default:
		return domain.StrategyDefault, e.ErrInvalidSearchMode
	}
}

const (
	DefaultCount = 10
	MaxCount     = 100
)

// Paging параметры постраничной выдачи: count (размер страницы) и skip (смещение)
type Paging struct {
	Count int
	Skip  int
}

// Normalize ограничивает count диапазоном [1, MaxCount]; 0 означает DefaultCount.
func (p Paging) Normalize() (limit uint64, offset uint64, err error) {
	if p.Skip < 0 || p.Count < 0 {
		return 0, 0, e.ErrInvalidPaging
	}

	count := p.Count
	switch {
	case count == 0:
		count = DefaultCount
	case count > MaxCount:
		count = MaxCount
	}

	return uint64(count), uint64(p.Skip), nil
}

// TextSearchReq поиск по текстовому запросу
type TextSearchReq struct {
	Prompt string
	Basis  SearchBasis
	// Exact для basis=ocr дополнительно требует вхождения запроса в распознанный текст
	Exact  bool
	Filter *domain.FilterParams
	Paging Paging
}

// ImageSearchReq поиск по загруженному изображению
type ImageSearchReq struct {
	Image  []byte
	Filter *domain.FilterParams
	Paging Paging
}

// SimilarSearchReq поиск изображений, похожих на уже проиндексированное
type SimilarSearchReq struct {
	ID     uuid.UUID
	Basis  SearchBasis
	Filter *domain.FilterParams
	Paging Paging
}

// AdvancedSearchReq поиск по набору положительных и отрицательных текстовых критериев
type AdvancedSearchReq struct {
	Criteria         []string
	NegativeCriteria []string
	Mode             domain.RecommendStrategy
	Basis            SearchBasis
	Filter           *domain.FilterParams
	Paging           Paging
}

// CombinedSearchReq расширенный поиск с переранжированием по второму пространству
type CombinedSearchReq struct {
	AdvancedSearchReq
	ExtraPrompt string
}

type RandomPickReq struct {
	Filter *domain.FilterParams
	Paging Paging
}

type SearchRes struct {
	Results []domain.SearchResult
}

func NewSearchRes(results []domain.SearchResult) *SearchRes {
	if results == nil {
		results = []domain.SearchResult{}
	}

	return &SearchRes{Results: results}
}

// ADMIN

// UpdateOptReq изменение необязательных полей изображения. nil означает "не менять".
type UpdateOptReq struct {
	ID         uuid.UUID
	Starred    *bool
	Categories []string
}

func (r *UpdateOptReq) Empty() bool {
	return r.Starred == nil && r.Categories == nil
}

type ServerInfoRes struct {
	ImageCount uint64
}

// DeleteImagesRes результат пакетного удаления
type DeleteImagesRes struct {
	Deleted []uuid.UUID
}

// MaintenanceRes итог обхода коллекции обслуживающей операцией
type MaintenanceRes struct {
	Scanned int
	Updated int
	Skipped int
	Failed  int
}

// UPLOAD

// UploadReq одно изображение, загруженное через multipart/form-data
type UploadReq struct {
	Data       []byte
	MimeType   string
	Name       string // оригинальное имя файла (для логов)
	OCRText    string
	Starred    bool
	Categories []string
}

type UploadRes struct {
	Record *domain.ImageRecord
}

// IndexDirectoryReq пакетная индексация файлов, уже лежащих в хранилище
type IndexDirectoryReq struct {
	Path       string
	Pattern    string
	Categories []string
	Starred    bool
}

type IndexDirectoryRes struct {
	Total   int
	Indexed int
	Skipped int
	Failed  int
}

// INFRASTRUCTURE

// Thumbnail миниатюра в JPEG и размеры исходного изображения
type Thumbnail struct {
	Data   []byte
	Width  int
	Height int
	Format string
}

// WriteRawMessageReq готовое JSON-событие из outbox для публикации в Kafka
type WriteRawMessageReq struct {
	ImageID   uuid.UUID
	EventType domain.ImageEventType
	Payload   []byte
}

func NewWriteRawMessageReq(event *domain.ImageEvent) *WriteRawMessageReq {
	return &WriteRawMessageReq{
		ImageID:   event.ImageID,
		EventType: event.Type,
		Payload:   event.Payload,
	}
}
