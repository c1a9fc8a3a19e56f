package qdrant

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/DRSN-tech/image-gallery/internal/domain"
	"github.com/DRSN-tech/image-gallery/pkg/e"
	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func testRecord(width int, categories []string, image, text []float32) *domain.ImageRecord {
	id := uuid.New()
	return &domain.ImageRecord{
		ID:          id,
		URL:         fmt.Sprintf("/static/%s.jpg", id),
		IndexDate:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Width:       width,
		Height:      100,
		AspectRatio: domain.AspectRatio(width, 100),
		Categories:  categories,
		Format:      "jpeg",
		Local:       true,
		ImageVector: image,
		TextVector:  text,
	}
}

func resultIDs(results []domain.SearchResult) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(results))
	for _, r := range results {
		ids = append(ids, r.Record.ID)
	}
	return ids
}

func TestImageRepo_QuerySearch_Pagination(t *testing.T) {
	var records []*domain.ImageRecord
	for i := 0; i < 15; i++ {
		records = append(records, testRecord(100, nil, []float32{1, float32(i) / 15}, nil))
	}
	repo, _ := newTestRepo(t, records...)
	ctx := context.Background()

	opts := domain.QueryOptions{Space: domain.ImageSpace, Limit: 10}
	first, err := repo.QuerySearch(ctx, []float32{1, 0}, opts)
	require.NoError(t, err)
	require.Len(t, first, 10)

	opts.Offset = 10
	second, err := repo.QuerySearch(ctx, []float32{1, 0}, opts)
	require.NoError(t, err)
	require.Len(t, second, 5)

	seen := make(map[uuid.UUID]bool)
	for _, id := range append(resultIDs(first), resultIDs(second)...) {
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
	for _, r := range records {
		assert.True(t, seen[r.ID], "missing id %s", r.ID)
	}

	for i := 1; i < len(first); i++ {
		assert.GreaterOrEqual(t, first[i-1].Score, first[i].Score)
	}
}

func TestImageRepo_QuerySearch_Request(t *testing.T) {
	repo, fake := newTestRepo(t)

	_, err := repo.QuerySearch(context.Background(), []float32{1, 0}, domain.QueryOptions{
		Space:  domain.TextSpace,
		Limit:  5,
		Offset: 3,
	})
	require.NoError(t, err)
	require.Len(t, fake.queries, 1)

	req := fake.queries[0]
	assert.Equal(t, "gallery", req.GetCollectionName())
	assert.Equal(t, string(domain.TextSpace), req.GetUsing())
	assert.Equal(t, uint64(5), req.GetLimit())
	assert.Equal(t, uint64(3), req.GetOffset())
	assert.Nil(t, req.GetFilter(), "absent filter must not be sent as an empty predicate")
	assert.False(t, req.GetWithVectors().GetEnable())
	assert.Nil(t, req.GetWithVectors().GetInclude())
	assert.True(t, req.GetWithPayload().GetEnable())
}

func TestImageRepo_QuerySearch_WithVectorsRequestsBothSpaces(t *testing.T) {
	record := testRecord(100, nil, []float32{1, 0}, []float32{0, 1})
	repo, fake := newTestRepo(t, record)

	results, err := repo.QuerySearch(context.Background(), []float32{1, 0}, domain.QueryOptions{
		Space:       domain.ImageSpace,
		Limit:       10,
		WithVectors: true,
	})
	require.NoError(t, err)
	require.Len(t, results, 1)

	assert.ElementsMatch(t,
		[]string{string(domain.ImageSpace), string(domain.TextSpace)},
		fake.queries[0].GetWithVectors().GetInclude().GetNames())
	assert.Equal(t, record.ImageVector, results[0].Record.ImageVector)
	assert.Equal(t, record.TextVector, results[0].Record.TextVector)
}

func TestImageRepo_QuerySearch_NegativeCategoryAndMinWidth(t *testing.T) {
	v := []float32{1, 0}
	wideMeme := testRecord(200, []string{"meme"}, v, nil)
	narrow := testRecord(50, []string{"anime"}, v, nil)
	wide := testRecord(150, []string{"anime"}, v, nil)
	wideNoCategories := testRecord(100, nil, v, nil)
	narrowMeme := testRecord(10, []string{"meme", "anime"}, v, nil)

	repo, _ := newTestRepo(t, wideMeme, narrow, wide, wideNoCategories, narrowMeme)

	results, err := repo.QuerySearch(context.Background(), v, domain.QueryOptions{
		Space: domain.ImageSpace,
		Limit: 10,
		Filter: &domain.FilterParams{
			MinWidth:           qdrant.PtrOf(100),
			CategoriesNegative: []string{"meme"},
		},
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []uuid.UUID{wide.ID, wideNoCategories.ID}, resultIDs(results))
}

func TestImageRepo_QuerySearch_InvalidFilter(t *testing.T) {
	repo, fake := newTestRepo(t)

	_, err := repo.QuerySearch(context.Background(), []float32{1, 0}, domain.QueryOptions{
		Space:  domain.ImageSpace,
		Filter: &domain.FilterParams{MinRatio: qdrant.PtrOf(2.0), MaxRatio: qdrant.PtrOf(1.0)},
	})
	require.ErrorIs(t, err, e.ErrInvalidFilter)
	assert.Empty(t, fake.queries, "invalid filter must be rejected before the backend call")
}

func TestImageRepo_QuerySearch_EmptyResultIsNotError(t *testing.T) {
	repo, _ := newTestRepo(t, testRecord(10, nil, []float32{1, 0}, nil))

	results, err := repo.QuerySearch(context.Background(), []float32{1, 0}, domain.QueryOptions{
		Space:  domain.ImageSpace,
		Filter: &domain.FilterParams{MinWidth: qdrant.PtrOf(1000)},
	})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestImageRepo_QuerySearch_InvalidSpace(t *testing.T) {
	repo, _ := newTestRepo(t)

	_, err := repo.QuerySearch(context.Background(), []float32{1}, domain.QueryOptions{Space: "clip"})
	require.ErrorIs(t, err, e.ErrInvalidSearchBasis)
}

func TestImageRepo_RecommendByExamples_Strategy(t *testing.T) {
	diagonal := testRecord(100, nil, []float32{0.7, 0.7}, nil)
	axis := testRecord(100, nil, []float32{1, 0}, nil)
	repo, fake := newTestRepo(t, axis, diagonal)

	tests := []struct {
		name     string
		strategy domain.RecommendStrategy
		first    uuid.UUID
		sent     qdrant.RecommendStrategy
	}{
		{name: "average ranks centroid neighbour first", strategy: domain.StrategyAverage, first: diagonal.ID, sent: qdrant.RecommendStrategy_AverageVector},
		{name: "best score ranks exact match first", strategy: domain.StrategyBestScore, first: axis.ID, sent: qdrant.RecommendStrategy_BestScore},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results, err := repo.RecommendByExamples(context.Background(), domain.Examples{
				Positive: [][]float32{{1, 0}, {0, 1}},
				Strategy: tt.strategy,
			}, domain.QueryOptions{Space: domain.ImageSpace, Limit: 10})
			require.NoError(t, err)
			require.Len(t, results, 2)
			assert.Equal(t, tt.first, results[0].Record.ID)

			last := fake.queries[len(fake.queries)-1]
			recommend := last.GetQuery().GetRecommend()
			require.NotNil(t, recommend.Strategy)
			assert.Equal(t, tt.sent, recommend.GetStrategy())
			assert.Empty(t, recommend.GetNegative())
		})
	}
}

func TestImageRepo_RecommendByExamples_DefaultStrategyAndNegatives(t *testing.T) {
	liked := testRecord(100, nil, []float32{1, 0}, nil)
	disliked := testRecord(100, nil, []float32{0, 1}, nil)
	repo, fake := newTestRepo(t, disliked, liked)

	results, err := repo.RecommendByExamples(context.Background(), domain.Examples{
		Positive: [][]float32{{1, 0.1}},
		Negative: [][]float32{{0, 1}},
	}, domain.QueryOptions{Space: domain.ImageSpace, Limit: 1})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, liked.ID, results[0].Record.ID)
	assert.Nil(t, results[0].Record.ImageVector, "vectors are not requested")

	recommend := fake.queries[0].GetQuery().GetRecommend()
	assert.Nil(t, recommend.Strategy)
	assert.Len(t, recommend.GetNegative(), 1)
}

func TestImageRepo_RecommendByExamples_RequiresPositive(t *testing.T) {
	repo, fake := newTestRepo(t)

	_, err := repo.RecommendByExamples(context.Background(), domain.Examples{
		Negative: [][]float32{{1, 0}},
	}, domain.QueryOptions{Space: domain.ImageSpace})
	require.ErrorIs(t, err, e.ErrEmptyCriteria)
	assert.Empty(t, fake.queries)
}

func TestImageRepo_RecommendByID(t *testing.T) {
	source := testRecord(100, nil, []float32{1, 0}, []float32{0, 1})
	near := testRecord(100, nil, []float32{0.9, 0.1}, nil)
	far := testRecord(100, nil, []float32{0, 1}, nil)
	repo, fake := newTestRepo(t, source, far, near)

	results, err := repo.RecommendByID(context.Background(), source.ID, domain.QueryOptions{Space: domain.ImageSpace, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{near.ID, far.ID}, resultIDs(results))

	positive := fake.queries[0].GetQuery().GetRecommend().GetPositive()
	require.Len(t, positive, 1)
	assert.Equal(t, source.ID.String(), positive[0].GetId().GetUuid())
}

func TestImageRepo_RecommendByID_Missing(t *testing.T) {
	repo, _ := newTestRepo(t, testRecord(100, nil, []float32{1, 0}, nil))
	missing := uuid.New()

	_, err := repo.RecommendByID(context.Background(), missing, domain.QueryOptions{Space: domain.ImageSpace})
	require.ErrorIs(t, err, e.ErrNotFound)

	var notFound *e.PointsNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, []uuid.UUID{missing}, notFound.IDs)
}

func TestImageRepo_RandomPick(t *testing.T) {
	repo, fake := newTestRepo(t,
		testRecord(100, nil, []float32{1, 0}, nil),
		testRecord(100, nil, []float32{0, 1}, nil),
	)

	results, err := repo.RandomPick(context.Background(), domain.QueryOptions{Space: domain.ImageSpace, Limit: 1})
	require.NoError(t, err)
	assert.Len(t, results, 1)
	assert.Equal(t, qdrant.Sample_Random, fake.queries[0].GetQuery().GetSample())
}

func TestImageRepo_RetrieveOne(t *testing.T) {
	record := testRecord(100, []string{"a"}, []float32{1, 0}, nil)
	repo, fake := newTestRepo(t, record)
	ctx := context.Background()

	got, err := repo.RetrieveOne(ctx, record.ID, true)
	require.NoError(t, err)
	assert.Equal(t, record, got)

	got, err = repo.RetrieveOne(ctx, record.ID, false)
	require.NoError(t, err)
	assert.Nil(t, got.ImageVector)

	_, err = repo.RetrieveOne(ctx, uuid.New(), false)
	require.ErrorIs(t, err, e.ErrNotFound)

	// индекс вернул лишнюю точку на запрос одного id
	fake.extraGet = []*qdrant.RetrievedPoint{{Id: qdrant.NewIDUUID(record.ID.String())}}
	_, err = repo.RetrieveOne(ctx, record.ID, false)
	require.ErrorIs(t, err, e.ErrConsistencyViolation)
	assert.False(t, errors.Is(err, e.ErrNotFound))
}

func TestImageRepo_RetrieveOne_WrongID(t *testing.T) {
	other := testRecord(100, nil, nil, nil)
	repo, fake := newTestRepo(t)
	fake.extraGet = []*qdrant.RetrievedPoint{asRetrieved(toPoint(other))}

	_, err := repo.RetrieveOne(context.Background(), uuid.New(), false)
	require.ErrorIs(t, err, e.ErrConsistencyViolation)
}

func TestImageRepo_RetrieveMany(t *testing.T) {
	a := testRecord(100, nil, []float32{1, 0}, nil)
	b := testRecord(200, nil, []float32{0, 1}, nil)
	repo, _ := newTestRepo(t, a, b)
	ctx := context.Background()

	got, err := repo.RetrieveMany(ctx, []uuid.UUID{b.ID, a.ID}, false)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, b.ID, got[0].ID)
	assert.Equal(t, a.ID, got[1].ID)

	missing1, missing2 := uuid.New(), uuid.New()
	got, err = repo.RetrieveMany(ctx, []uuid.UUID{missing1, a.ID, missing2}, false)
	require.ErrorIs(t, err, e.ErrNotFound)
	assert.Nil(t, got, "partial results must not be returned")

	var notFound *e.PointsNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, []uuid.UUID{missing1, missing2}, notFound.IDs)

	got, err = repo.RetrieveMany(ctx, nil, false)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestImageRepo_Validate(t *testing.T) {
	a := testRecord(100, nil, []float32{1, 0}, nil)
	b := testRecord(100, nil, []float32{0, 1}, nil)
	repo, fake := newTestRepo(t, a, b)
	ctx := context.Background()
	missing := uuid.New()

	tests := []struct {
		name string
		ids  []uuid.UUID
		want []uuid.UUID
	}{
		{name: "empty", ids: nil, want: []uuid.UUID{}},
		{name: "all present", ids: []uuid.UUID{a.ID, b.ID}, want: []uuid.UUID{a.ID, b.ID}},
		{name: "partial", ids: []uuid.UUID{missing, b.ID}, want: []uuid.UUID{b.ID}},
		{name: "all absent", ids: []uuid.UUID{missing}, want: []uuid.UUID{}},
		{name: "duplicates", ids: []uuid.UUID{a.ID, a.ID}, want: []uuid.UUID{a.ID}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := repo.Validate(ctx, tt.ids)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	for _, req := range fake.gets {
		assert.False(t, req.GetWithPayload().GetEnable())
		assert.False(t, req.GetWithVectors().GetEnable())
	}
}

func TestImageRepo_Count(t *testing.T) {
	repo, fake := newTestRepo(t, testRecord(1, nil, nil, nil), testRecord(2, nil, nil, nil))

	for _, exact := range []bool{true, false} {
		count, err := repo.Count(context.Background(), exact)
		require.NoError(t, err)
		assert.Equal(t, uint64(2), count)
		assert.Equal(t, exact, fake.counts[len(fake.counts)-1].GetExact())
	}
}

func TestImageRepo_Scroll(t *testing.T) {
	var records []*domain.ImageRecord
	for i := 0; i < 7; i++ {
		records = append(records, testRecord(100+i, nil, []float32{1, 0}, nil))
	}
	repo, _ := newTestRepo(t, records...)
	ctx := context.Background()

	seen := make(map[uuid.UUID]bool)
	var cursor *uuid.UUID
	pages := 0
	for {
		page, next, err := repo.Scroll(ctx, cursor, 3, false)
		require.NoError(t, err)
		pages++
		for _, r := range page {
			assert.False(t, seen[r.ID], "record %s returned twice", r.ID)
			seen[r.ID] = true
		}
		if next == nil {
			break
		}
		cursor = next
	}

	assert.Equal(t, 3, pages)
	assert.Len(t, seen, len(records))
}

func TestImageRepo_Writes(t *testing.T) {
	repo, fake := newTestRepo(t)
	ctx := context.Background()

	record := testRecord(100, []string{"old"}, []float32{1, 0}, nil)
	require.NoError(t, repo.Insert(ctx, []*domain.ImageRecord{record}))

	record.Starred = true
	record.Categories = []string{"new"}
	record.ImageVector = []float32{0, 1}
	require.NoError(t, repo.UpdatePayload(ctx, record))

	got, err := repo.RetrieveOne(ctx, record.ID, true)
	require.NoError(t, err)
	assert.True(t, got.Starred)
	assert.Equal(t, []string{"new"}, got.Categories)
	assert.Equal(t, []float32{1, 0}, got.ImageVector, "payload update must not touch vectors")

	record.TextVector = []float32{0.5, 0.5}
	record.ImageVector = nil
	require.NoError(t, repo.UpdateVectors(ctx, []*domain.ImageRecord{record}))

	got, err = repo.RetrieveOne(ctx, record.ID, true)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0}, got.ImageVector)
	assert.Equal(t, []float32{0.5, 0.5}, got.TextVector)

	require.NoError(t, repo.Delete(ctx, []uuid.UUID{record.ID}))
	_, err = repo.RetrieveOne(ctx, record.ID, false)
	require.ErrorIs(t, err, e.ErrNotFound)
	assert.Empty(t, fake.points)
}

func TestImageRepo_BackendErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{name: "unavailable", err: status.Error(codes.Unavailable, "connection refused"), want: e.ErrBackendUnavailable},
		{name: "deadline", err: status.Error(codes.DeadlineExceeded, "slow"), want: e.ErrBackendUnavailable},
		{name: "cancelled context", err: context.Canceled, want: context.Canceled},
		{name: "grpc cancelled", err: status.Error(codes.Canceled, "cancelled"), want: context.Canceled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, fake := newTestRepo(t)
			fake.err = tt.err
			ctx := context.Background()

			_, err := repo.QuerySearch(ctx, []float32{1}, domain.QueryOptions{Space: domain.ImageSpace})
			require.ErrorIs(t, err, tt.want)

			_, err = repo.RetrieveOne(ctx, uuid.New(), false)
			require.ErrorIs(t, err, tt.want)
			assert.False(t, errors.Is(err, e.ErrNotFound))

			_, err = repo.Count(ctx, true)
			require.ErrorIs(t, err, tt.want)

			err = repo.Insert(ctx, []*domain.ImageRecord{testRecord(1, nil, nil, nil)})
			require.ErrorIs(t, err, tt.want)
		})
	}
}
