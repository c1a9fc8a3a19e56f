package usecase

import (
	"context"
	"math"
	"slices"
	"strings"

	"github.com/DRSN-tech/image-gallery/internal/domain"
	"github.com/DRSN-tech/image-gallery/pkg/e"
	"github.com/DRSN-tech/image-gallery/pkg/logger"
)

// SearchUseCase реализует все режимы поиска по галерее.
type SearchUseCase struct {
	index        ImageIndex
	clip         ImageEmbedder
	textEmbedder TextEmbedder // nil, если модель текстового пространства не настроена
	cache        EmbeddingCache
	storage      Storage
	logger       logger.Logger
}

func NewSearchUC(
	index ImageIndex,
	clip ImageEmbedder,
	textEmbedder TextEmbedder,
	cache EmbeddingCache,
	storage Storage,
	logger logger.Logger,
) *SearchUseCase {
	return &SearchUseCase{
		index:        index,
		clip:         clip,
		textEmbedder: textEmbedder,
		cache:        cache,
		storage:      storage,
		logger:       logger,
	}
}

// TextSearch ищет изображения по текстовому запросу в выбранном пространстве.
func (s *SearchUseCase) TextSearch(ctx context.Context, req *TextSearchReq) (*SearchRes, error) {
	const op = "SearchUseCase.TextSearch"

	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return nil, e.Wrap(op, e.ErrEmptyCriteria)
	}

	opts, err := s.queryOptions(req.Basis, req.Filter, req.Paging)
	if err != nil {
		return nil, e.Wrap(op, err)
	}

	if req.Exact && req.Basis == BasisOCR {
		opts.Filter = withOCRText(opts.Filter, prompt)
	}

	vector, err := s.embedText(ctx, opts.Space, prompt)
	if err != nil {
		return nil, e.Wrap(op, err)
	}

	results, err := s.index.QuerySearch(ctx, vector, opts)
	if err != nil {
		return nil, e.Wrap(op, err)
	}

	return s.response(ctx, results)
}

// ImageSearch ищет изображения, визуально похожие на присланное.
func (s *SearchUseCase) ImageSearch(ctx context.Context, req *ImageSearchReq) (*SearchRes, error) {
	const op = "SearchUseCase.ImageSearch"

	if len(req.Image) == 0 {
		return nil, e.Wrap(op, e.ErrNoImages)
	}

	opts, err := s.queryOptions(BasisVision, req.Filter, req.Paging)
	if err != nil {
		return nil, e.Wrap(op, err)
	}

	vector, err := s.clip.EmbedImage(ctx, req.Image)
	if err != nil {
		return nil, e.Wrap(op, err)
	}

	results, err := s.index.QuerySearch(ctx, vector, opts)
	if err != nil {
		return nil, e.Wrap(op, err)
	}

	return s.response(ctx, results)
}

// SimilarSearch рекомендует изображения, похожие на проиндексированное изображение id.
func (s *SearchUseCase) SimilarSearch(ctx context.Context, req *SimilarSearchReq) (*SearchRes, error) {
	const op = "SearchUseCase.SimilarSearch"

	opts, err := s.queryOptions(req.Basis, req.Filter, req.Paging)
	if err != nil {
		return nil, e.Wrap(op, err)
	}

	results, err := s.index.RecommendByID(ctx, req.ID, opts)
	if err != nil {
		return nil, e.Wrap(op, err)
	}

	return s.response(ctx, results)
}

// AdvancedSearch рекомендует по положительным и отрицательным текстовым критериям.
func (s *SearchUseCase) AdvancedSearch(ctx context.Context, req *AdvancedSearchReq) (*SearchRes, error) {
	const op = "SearchUseCase.AdvancedSearch"

	results, err := s.advanced(ctx, req, false)
	if err != nil {
		return nil, e.Wrap(op, err)
	}

	return s.response(ctx, results)
}

// CombinedSearch выполняет расширенный поиск и переранжирует результаты по сходству
// с дополнительным запросом во втором пространстве. Итоговая оценка: среднее двух.
func (s *SearchUseCase) CombinedSearch(ctx context.Context, req *CombinedSearchReq) (*SearchRes, error) {
	const op = "SearchUseCase.CombinedSearch"

	extra := strings.TrimSpace(req.ExtraPrompt)
	if extra == "" {
		return nil, e.Wrap(op, e.ErrEmptyCriteria)
	}

	basis := req.Basis
	if basis == "" {
		basis = BasisVision
	}
	other := basis.Space().Other()

	extraVector, err := s.embedText(ctx, other, extra)
	if err != nil {
		return nil, e.Wrap(op, err)
	}

	results, err := s.advanced(ctx, &req.AdvancedSearchReq, true)
	if err != nil {
		return nil, e.Wrap(op, err)
	}

	for i := range results {
		second := cosine(extraVector, results[i].Record.Vector(other))
		results[i].Score = (results[i].Score + second) / 2
	}
	slices.SortStableFunc(results, func(a, b domain.SearchResult) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		default:
			return 0
		}
	})

	for _, r := range results {
		r.Record.ImageVector, r.Record.TextVector = nil, nil
	}

	return s.response(ctx, results)
}

// RandomPick возвращает случайные изображения, удовлетворяющие фильтру.
func (s *SearchUseCase) RandomPick(ctx context.Context, req *RandomPickReq) (*SearchRes, error) {
	const op = "SearchUseCase.RandomPick"

	opts, err := s.queryOptions(BasisVision, req.Filter, req.Paging)
	if err != nil {
		return nil, e.Wrap(op, err)
	}

	results, err := s.index.RandomPick(ctx, opts)
	if err != nil {
		return nil, e.Wrap(op, err)
	}

	return s.response(ctx, results)
}

func (s *SearchUseCase) advanced(ctx context.Context, req *AdvancedSearchReq, withVectors bool) ([]domain.SearchResult, error) {
	criteria := nonBlank(req.Criteria)
	if len(criteria) == 0 {
		return nil, e.ErrEmptyCriteria
	}

	opts, err := s.queryOptions(req.Basis, req.Filter, req.Paging)
	if err != nil {
		return nil, err
	}
	opts.WithVectors = withVectors

	examples := domain.Examples{Strategy: req.Mode}
	for _, c := range criteria {
		v, err := s.embedText(ctx, opts.Space, c)
		if err != nil {
			return nil, err
		}
		examples.Positive = append(examples.Positive, v)
	}
	for _, c := range nonBlank(req.NegativeCriteria) {
		v, err := s.embedText(ctx, opts.Space, c)
		if err != nil {
			return nil, err
		}
		examples.Negative = append(examples.Negative, v)
	}

	return s.index.RecommendByExamples(ctx, examples, opts)
}

func (s *SearchUseCase) queryOptions(basis SearchBasis, filter *domain.FilterParams, paging Paging) (domain.QueryOptions, error) {
	limit, offset, err := paging.Normalize()
	if err != nil {
		return domain.QueryOptions{}, err
	}

	if basis == "" {
		basis = BasisVision
	}

	return domain.QueryOptions{
		Space:  basis.Space(),
		Filter: filter,
		Limit:  limit,
		Offset: offset,
	}, nil
}

// embedText переводит текст в вектор нужного пространства. Ответы моделей кэшируются;
// ошибки кэша не прерывают поиск.
func (s *SearchUseCase) embedText(ctx context.Context, space domain.VectorSpace, text string) ([]float32, error) {
	if s.cache != nil {
		vector, ok, err := s.cache.Get(ctx, space, text)
		if err != nil {
			s.logger.Warnf("embedding cache get failed: %v", err)
		} else if ok {
			return vector, nil
		}
	}

	var (
		vector []float32
		err    error
	)
	switch space {
	case domain.ImageSpace:
		vector, err = s.clip.EmbedText(ctx, text)
	case domain.TextSpace:
		if s.textEmbedder == nil {
			return nil, e.ErrEmbedderDisabled
		}
		vector, err = s.textEmbedder.EmbedText(ctx, text)
	default:
		return nil, e.ErrInvalidSearchBasis
	}
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, space, text, vector); err != nil {
			s.logger.Warnf("embedding cache set failed: %v", err)
		}
	}

	return vector, nil
}

// response подставляет клиентские URL для файлов, которые лежат во внешнем хранилище.
func (s *SearchUseCase) response(ctx context.Context, results []domain.SearchResult) (*SearchRes, error) {
	for _, r := range results {
		if err := resolveURLs(ctx, s.storage, r.Record); err != nil {
			return nil, err
		}
	}

	return NewSearchRes(results), nil
}

func resolveURLs(ctx context.Context, storage Storage, record *domain.ImageRecord) error {
	if storage == nil || record == nil {
		return nil
	}

	if path, ok := storagePath(record.URL); ok && !record.Local {
		url, err := storage.URL(ctx, path)
		if err != nil {
			return err
		}
		record.URL = url
	}

	if path, ok := storagePath(record.ThumbnailURL); ok && !record.LocalThumbnail {
		url, err := storage.URL(ctx, path)
		if err != nil {
			return err
		}
		record.ThumbnailURL = url
	}

	return nil
}

// storagePath переводит ссылку из записи в путь внутри хранилища:
// "/static/a.jpg" -> "a.jpg". Абсолютные http(s)-ссылки не принадлежат хранилищу.
func storagePath(url string) (string, bool) {
	if url == "" || strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://") {
		return "", false
	}

	return strings.TrimPrefix(strings.TrimPrefix(url, staticPrefix), "/"), true
}

const staticPrefix = "/static/"

func withOCRText(filter *domain.FilterParams, text string) *domain.FilterParams {
	var out domain.FilterParams
	if filter != nil {
		out = *filter
	}
	out.OCRText = &text

	return &out
}

func nonBlank(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		if strings.TrimSpace(item) != "" {
			out = append(out, strings.TrimSpace(item))
		}
	}

	return out
}

func cosine(a, b []float32) float32 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}

	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}

	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}
