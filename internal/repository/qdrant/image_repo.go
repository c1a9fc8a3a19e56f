package qdrant

import (
	"context"
	"fmt"
	"time"

	"github.com/DRSN-tech/image-gallery/internal/cfg"
	"github.com/DRSN-tech/image-gallery/internal/domain"
	"github.com/DRSN-tech/image-gallery/internal/metrics"
	"github.com/DRSN-tech/image-gallery/pkg/e"
	"github.com/DRSN-tech/image-gallery/pkg/logger"
	"github.com/google/uuid"
	"github.com/jimlawless/whereami"
	"github.com/qdrant/go-client/qdrant"
)

// PointsClient подмножество *qdrant.Client, с которым работает репозиторий
type PointsClient interface {
	Query(ctx context.Context, request *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error)
	Get(ctx context.Context, request *qdrant.GetPoints) ([]*qdrant.RetrievedPoint, error)
	ScrollAndOffset(ctx context.Context, request *qdrant.ScrollPoints) ([]*qdrant.RetrievedPoint, *qdrant.PointId, error)
	Count(ctx context.Context, request *qdrant.CountPoints) (uint64, error)
	Upsert(ctx context.Context, request *qdrant.UpsertPoints) (*qdrant.UpdateResult, error)
	Delete(ctx context.Context, request *qdrant.DeletePoints) (*qdrant.UpdateResult, error)
	SetPayload(ctx context.Context, request *qdrant.SetPayloadPoints) (*qdrant.UpdateResult, error)
	UpdateVectors(ctx context.Context, request *qdrant.UpdatePointVectors) (*qdrant.UpdateResult, error)
}

// ImageRepo репозиторий записей галереи в Qdrant: поиск, рекомендации, строгая выборка и запись.
// Состояния между вызовами не хранит.
type ImageRepo struct {
	client PointsClient
	cfg    *cfg.QdrantCfg
	logger logger.Logger
}

func NewImageRepo(client PointsClient, cfg *cfg.QdrantCfg, logger logger.Logger) *ImageRepo {
	return &ImageRepo{
		client: client,
		cfg:    cfg,
		logger: logger,
	}
}

// QuerySearch ищет ближайших соседей вектора в указанном пространстве.
func (r *ImageRepo) QuerySearch(ctx context.Context, vector []float32, opts domain.QueryOptions) ([]domain.SearchResult, error) {
	const op = "ImageRepo.QuerySearch"

	if len(vector) == 0 {
		return nil, e.Wrap(op, e.ErrEmptyVectors)
	}

	return r.query(ctx, op, qdrant.NewQueryDense(vector), opts)
}

// RecommendByID ищет записи, похожие на существующую запись с данным id.
// Отсутствующий исходный id возвращается как ErrNotFound.
func (r *ImageRepo) RecommendByID(ctx context.Context, id uuid.UUID, opts domain.QueryOptions) ([]domain.SearchResult, error) {
	const op = "ImageRepo.RecommendByID"

	query := qdrant.NewQueryRecommend(&qdrant.RecommendInput{
		Positive: []*qdrant.VectorInput{qdrant.NewVectorInputID(qdrant.NewIDUUID(id.String()))},
	})

	results, err := r.query(ctx, op, query, opts)
	if err != nil {
		if isNotFound(err) {
			return nil, e.Wrap(op, e.NewPointsNotFoundError(id))
		}
		return nil, err
	}

	return results, nil
}

// RecommendByExamples ищет по наборам положительных и отрицательных векторов.
func (r *ImageRepo) RecommendByExamples(ctx context.Context, examples domain.Examples, opts domain.QueryOptions) ([]domain.SearchResult, error) {
	const op = "ImageRepo.RecommendByExamples"

	if len(examples.Positive) == 0 {
		return nil, e.Wrap(op, e.ErrEmptyCriteria)
	}

	input := &qdrant.RecommendInput{
		Positive: denseInputs(examples.Positive),
		Negative: denseInputs(examples.Negative),
	}
	if strategy, ok := toQdrantStrategy(examples.Strategy); ok {
		input.Strategy = &strategy
	}

	return r.query(ctx, op, qdrant.NewQueryRecommend(input), opts)
}

// RandomPick возвращает случайную выборку записей с учётом фильтра.
func (r *ImageRepo) RandomPick(ctx context.Context, opts domain.QueryOptions) ([]domain.SearchResult, error) {
	const op = "ImageRepo.RandomPick"
	return r.query(ctx, op, qdrant.NewQuerySample(qdrant.Sample_Random), opts)
}

func (r *ImageRepo) query(ctx context.Context, op string, query *qdrant.Query, opts domain.QueryOptions) ([]domain.SearchResult, error) {
	if !opts.Space.Valid() {
		return nil, e.Wrap(op, fmt.Errorf("%w: %q", e.ErrInvalidSearchBasis, opts.Space))
	}

	filter, err := CompileFilter(opts.Filter)
	if err != nil {
		return nil, e.Wrap(op, err)
	}

	req := &qdrant.QueryPoints{
		CollectionName: r.cfg.CollectionName,
		Query:          query,
		Using:          qdrant.PtrOf(string(opts.Space)),
		Filter:         filter.Predicate(),
		Offset:         qdrant.PtrOf(opts.Offset),
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    vectorsSelector(opts),
	}
	if opts.Limit > 0 {
		req.Limit = qdrant.PtrOf(opts.Limit)
	}

	r.logger.Debugf("%s: space=%s limit=%d offset=%d with_vectors=%t filter=%s",
		op, opts.Space, opts.Limit, opts.Offset, opts.WithVectors, filter)

	start := time.Now()
	points, err := r.client.Query(ctx, req)
	metrics.ObserveIndexRequest(op, start, err)
	if err != nil {
		return nil, e.Wrap(op, classifyError(err))
	}

	results := make([]domain.SearchResult, 0, len(points))
	for _, point := range points {
		result, err := fromScoredPoint(point)
		if err != nil {
			return nil, e.Wrap(op, err)
		}
		results = append(results, result)
	}

	return results, nil
}

// RetrieveOne возвращает ровно одну запись. Ноль совпадений это ErrNotFound,
// больше одного это нарушение согласованности индекса.
func (r *ImageRepo) RetrieveOne(ctx context.Context, id uuid.UUID, withVectors bool) (*domain.ImageRecord, error) {
	const op = "ImageRepo.RetrieveOne"

	points, err := r.get(ctx, op, []uuid.UUID{id}, true, withVectors)
	if err != nil {
		return nil, err
	}

	switch len(points) {
	case 0:
		return nil, e.Wrap(op, e.NewPointsNotFoundError(id))
	case 1:
	default:
		return nil, e.Wrap(op, fmt.Errorf("%w: %d points returned for id %s", e.ErrConsistencyViolation, len(points), id))
	}

	record, err := fromRetrievedPoint(points[0])
	if err != nil {
		return nil, e.Wrap(op, err)
	}

	if record.ID != id {
		return nil, e.Wrap(op, fmt.Errorf("%w: requested %s, got %s", e.ErrConsistencyViolation, id, record.ID))
	}

	return record, nil
}

// RetrieveMany возвращает все запрошенные записи в порядке запроса либо
// ошибку со списком всех отсутствующих id. Частичный результат не возвращается.
func (r *ImageRepo) RetrieveMany(ctx context.Context, ids []uuid.UUID, withVectors bool) ([]*domain.ImageRecord, error) {
	const op = "ImageRepo.RetrieveMany"

	ids = uniqueIDs(ids)
	if len(ids) == 0 {
		return []*domain.ImageRecord{}, nil
	}

	points, err := r.get(ctx, op, ids, true, withVectors)
	if err != nil {
		return nil, err
	}

	found := make(map[uuid.UUID]*domain.ImageRecord, len(points))
	for _, point := range points {
		record, err := fromRetrievedPoint(point)
		if err != nil {
			return nil, e.Wrap(op, err)
		}
		found[record.ID] = record
	}

	var missing []uuid.UUID
	records := make([]*domain.ImageRecord, 0, len(ids))
	for _, id := range ids {
		record, ok := found[id]
		if !ok {
			missing = append(missing, id)
			continue
		}
		records = append(records, record)
	}

	if len(missing) > 0 {
		r.logger.Warnf("%s: %d of %d points not exist", op, len(missing), len(ids))
		return nil, e.Wrap(op, e.NewPointsNotFoundError(missing...))
	}

	return records, nil
}

// Validate возвращает подмножество ids, присутствующих в индексе. Отсутствие не ошибка.
func (r *ImageRepo) Validate(ctx context.Context, ids []uuid.UUID) ([]uuid.UUID, error) {
	const op = "ImageRepo.Validate"

	ids = uniqueIDs(ids)
	if len(ids) == 0 {
		return []uuid.UUID{}, nil
	}

	points, err := r.get(ctx, op, ids, false, false)
	if err != nil {
		return nil, err
	}

	present := make(map[uuid.UUID]struct{}, len(points))
	for _, point := range points {
		id, err := pointUUID(point.GetId())
		if err != nil {
			return nil, e.Wrap(op, err)
		}
		present[id] = struct{}{}
	}

	valid := make([]uuid.UUID, 0, len(present))
	for _, id := range ids {
		if _, ok := present[id]; ok {
			valid = append(valid, id)
		}
	}

	return valid, nil
}

// Count возвращает количество записей. exact=false допускает приблизительную оценку.
func (r *ImageRepo) Count(ctx context.Context, exact bool) (uint64, error) {
	const op = "ImageRepo.Count"

	start := time.Now()
	count, err := r.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: r.cfg.CollectionName,
		Exact:          qdrant.PtrOf(exact),
	})
	metrics.ObserveIndexRequest(op, start, err)
	if err != nil {
		return 0, e.Wrap(op, classifyError(err))
	}

	return count, nil
}

// Scroll обходит коллекцию страницами. Возвращённый курсор nil, когда записи закончились.
func (r *ImageRepo) Scroll(ctx context.Context, from *uuid.UUID, count uint32, withVectors bool) ([]*domain.ImageRecord, *uuid.UUID, error) {
	const op = "ImageRepo.Scroll"

	req := &qdrant.ScrollPoints{
		CollectionName: r.cfg.CollectionName,
		Limit:          qdrant.PtrOf(count),
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(withVectors),
	}
	if from != nil {
		req.Offset = qdrant.NewIDUUID(from.String())
	}

	start := time.Now()
	points, next, err := r.client.ScrollAndOffset(ctx, req)
	metrics.ObserveIndexRequest(op, start, err)
	if err != nil {
		return nil, nil, e.Wrap(op, classifyError(err))
	}

	records := make([]*domain.ImageRecord, 0, len(points))
	for _, point := range points {
		record, err := fromRetrievedPoint(point)
		if err != nil {
			return nil, nil, e.Wrap(op, err)
		}
		records = append(records, record)
	}

	if next == nil {
		return records, nil, nil
	}

	nextID, err := pointUUID(next)
	if err != nil {
		return nil, nil, e.Wrap(op, err)
	}

	return records, &nextID, nil
}

// Insert сохраняет записи вместе с присутствующими векторами и дожидается применения.
func (r *ImageRepo) Insert(ctx context.Context, records []*domain.ImageRecord) error {
	if len(records) == 0 {
		return nil
	}

	points := make([]*qdrant.PointStruct, 0, len(records))
	for _, record := range records {
		points = append(points, toPoint(record))
	}

	start := time.Now()
	_, err := r.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: r.cfg.CollectionName,
		Wait:           qdrant.PtrOf(true),
		Points:         points,
	})
	metrics.ObserveIndexRequest("ImageRepo.Insert", start, err)
	if err != nil {
		return e.Wrap(whereami.WhereAmI(), classifyError(err))
	}

	r.logger.Infof("inserted %d items into qdrant", len(records))
	return nil
}

// Delete удаляет точки по идентификаторам.
func (r *ImageRepo) Delete(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}

	start := time.Now()
	_, err := r.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: r.cfg.CollectionName,
		Wait:           qdrant.PtrOf(true),
		Points:         qdrant.NewPointsSelector(pointIDs(ids)...),
	})
	metrics.ObserveIndexRequest("ImageRepo.Delete", start, err)
	if err != nil {
		return e.Wrap(whereami.WhereAmI(), classifyError(err))
	}

	r.logger.Infof("deleted %d items from qdrant", len(ids))
	return nil
}

// UpdatePayload перезаписывает невекторные поля записи, векторы не меняются.
func (r *ImageRepo) UpdatePayload(ctx context.Context, record *domain.ImageRecord) error {
	start := time.Now()
	_, err := r.client.SetPayload(ctx, &qdrant.SetPayloadPoints{
		CollectionName: r.cfg.CollectionName,
		Wait:           qdrant.PtrOf(true),
		Payload:        toPayload(record),
		PointsSelector: qdrant.NewPointsSelector(qdrant.NewIDUUID(record.ID.String())),
	})
	metrics.ObserveIndexRequest("ImageRepo.UpdatePayload", start, err)
	if err != nil {
		return e.Wrap(whereami.WhereAmI(), classifyError(err))
	}

	return nil
}

// UpdateVectors обновляет только присутствующие векторы записей.
func (r *ImageRepo) UpdateVectors(ctx context.Context, records []*domain.ImageRecord) error {
	points := make([]*qdrant.PointVectors, 0, len(records))
	for _, record := range records {
		if len(record.ImageVector) == 0 && len(record.TextVector) == 0 {
			continue
		}
		points = append(points, toPointVectors(record))
	}

	if len(points) == 0 {
		return nil
	}

	start := time.Now()
	_, err := r.client.UpdateVectors(ctx, &qdrant.UpdatePointVectors{
		CollectionName: r.cfg.CollectionName,
		Wait:           qdrant.PtrOf(true),
		Points:         points,
	})
	metrics.ObserveIndexRequest("ImageRepo.UpdateVectors", start, err)
	if err != nil {
		return e.Wrap(whereami.WhereAmI(), classifyError(err))
	}

	return nil
}

func (r *ImageRepo) get(ctx context.Context, op string, ids []uuid.UUID, withPayload, withVectors bool) ([]*qdrant.RetrievedPoint, error) {
	start := time.Now()
	points, err := r.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: r.cfg.CollectionName,
		Ids:            pointIDs(ids),
		WithPayload:    qdrant.NewWithPayload(withPayload),
		WithVectors:    qdrant.NewWithVectors(withVectors),
	})
	metrics.ObserveIndexRequest(op, start, err)
	if err != nil {
		return nil, e.Wrap(op, classifyError(err))
	}

	return points, nil
}

// vectorsSelector запрашивает оба пространства, только если вызывающему нужны векторы.
func vectorsSelector(opts domain.QueryOptions) *qdrant.WithVectorsSelector {
	if !opts.WithVectors {
		return qdrant.NewWithVectors(false)
	}

	return qdrant.NewWithVectorsInclude(string(opts.Space), string(opts.Space.Other()))
}

func toQdrantStrategy(s domain.RecommendStrategy) (qdrant.RecommendStrategy, bool) {
	switch s {
	case domain.StrategyAverage:
		return qdrant.RecommendStrategy_AverageVector, true
	case domain.StrategyBestScore:
		return qdrant.RecommendStrategy_BestScore, true
	default:
		return 0, false
	}
}

func denseInputs(vectors [][]float32) []*qdrant.VectorInput {
	if len(vectors) == 0 {
		return nil
	}

	inputs := make([]*qdrant.VectorInput, 0, len(vectors))
	for _, v := range vectors {
		inputs = append(inputs, qdrant.NewVectorInputDense(v))
	}

	return inputs
}

func pointIDs(ids []uuid.UUID) []*qdrant.PointId {
	result := make([]*qdrant.PointId, 0, len(ids))
	for _, id := range ids {
		result = append(result, qdrant.NewIDUUID(id.String()))
	}

	return result
}

func uniqueIDs(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	result := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		result = append(result, id)
	}

	return result
}
