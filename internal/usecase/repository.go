package usecase

import (
	"context"
	"time"

	"github.com/DRSN-tech/image-gallery/internal/domain"
	"github.com/google/uuid"
)

// ImageIndex векторный индекс галереи: поиск, проверка существования и запись.
type ImageIndex interface {
	QuerySearch(ctx context.Context, vector []float32, opts domain.QueryOptions) ([]domain.SearchResult, error)
	RecommendByID(ctx context.Context, id uuid.UUID, opts domain.QueryOptions) ([]domain.SearchResult, error)
	RecommendByExamples(ctx context.Context, examples domain.Examples, opts domain.QueryOptions) ([]domain.SearchResult, error)
	RandomPick(ctx context.Context, opts domain.QueryOptions) ([]domain.SearchResult, error)

	RetrieveOne(ctx context.Context, id uuid.UUID, withVectors bool) (*domain.ImageRecord, error)
	RetrieveMany(ctx context.Context, ids []uuid.UUID, withVectors bool) ([]*domain.ImageRecord, error)
	Validate(ctx context.Context, ids []uuid.UUID) ([]uuid.UUID, error)
	Count(ctx context.Context, exact bool) (uint64, error)

	Insert(ctx context.Context, records []*domain.ImageRecord) error
	Delete(ctx context.Context, ids []uuid.UUID) error
	UpdatePayload(ctx context.Context, record *domain.ImageRecord) error
	UpdateVectors(ctx context.Context, records []*domain.ImageRecord) error
	// Scroll отдаёт страницу записей, начиная с from, и id начала следующей страницы (nil в конце)
	Scroll(ctx context.Context, from *uuid.UUID, count uint32, withVectors bool) ([]*domain.ImageRecord, *uuid.UUID, error)
}

type OutboxRepository interface {
	Create(ctx context.Context, event *domain.ImageEvent) (*domain.ImageEvent, error)
	GetAndMarkAsProcessing(ctx context.Context, limit int) ([]*domain.ImageEvent, error)
	MarkAsProcessed(ctx context.Context, id int64) error
	RequeueStale(ctx context.Context, olderThan time.Duration) (int64, error)
}

// EmbeddingCache кэш текстовых эмбеддингов по пространству и тексту запроса
type EmbeddingCache interface {
	Get(ctx context.Context, space domain.VectorSpace, text string) ([]float32, bool, error)
	Set(ctx context.Context, space domain.VectorSpace, text string, vector []float32) error
}

// TxManager выполняет fn в одной транзакции БД
type TxManager interface {
	Do(ctx context.Context, fn func(ctx context.Context) error) error
}
