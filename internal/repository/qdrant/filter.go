package qdrant

import (
	"fmt"
	"strings"

	"github.com/DRSN-tech/image-gallery/internal/domain"
	"github.com/DRSN-tech/image-gallery/pkg/e"
	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/protobuf/encoding/protojson"
)

// Filter скомпилированный предикат индекса либо его отсутствие.
// Нулевое значение означает отсутствие фильтра, а не пустую конъюнкцию.
type Filter struct {
	predicate *qdrant.Filter
}

// NoFilter возвращает отсутствие предиката.
func NoFilter() Filter {
	return Filter{}
}

func (f Filter) IsNone() bool {
	return f.predicate == nil
}

// Predicate возвращает предикат для запроса, nil для NoFilter.
func (f Filter) Predicate() *qdrant.Filter {
	return f.predicate
}

func (f Filter) String() string {
	if f.IsNone() {
		return "<none>"
	}

	return protojson.Format(f.predicate)
}

// CompileFilter переводит FilterParams в предикат Qdrant.
// Положительные условия объединяются через must, исключаемые категории уходят в must_not.
func CompileFilter(params *domain.FilterParams) (Filter, error) {
	const op = "qdrant.CompileFilter"

	if params == nil {
		return NoFilter(), nil
	}

	if err := validateFilter(params); err != nil {
		return NoFilter(), e.Wrap(op, err)
	}

	var must, mustNot []*qdrant.Condition

	if params.MinWidth != nil && *params.MinWidth > 0 {
		must = append(must, qdrant.NewRange(fieldWidth, &qdrant.Range{
			Gte: qdrant.PtrOf(float64(*params.MinWidth)),
		}))
	}

	if params.MinHeight != nil && *params.MinHeight > 0 {
		must = append(must, qdrant.NewRange(fieldHeight, &qdrant.Range{
			Gte: qdrant.PtrOf(float64(*params.MinHeight)),
		}))
	}

	if params.MinRatio != nil {
		must = append(must, qdrant.NewRange(fieldAspectRatio, &qdrant.Range{
			Gte: qdrant.PtrOf(*params.MinRatio),
			Lte: qdrant.PtrOf(*params.MaxRatio),
		}))
	}

	if params.Starred != nil {
		must = append(must, qdrant.NewMatchBool(fieldStarred, *params.Starred))
	}

	if params.OCRText != nil && strings.TrimSpace(*params.OCRText) != "" {
		must = append(must, qdrant.NewMatchText(fieldOCRTextLower, strings.ToLower(*params.OCRText)))
	}

	// пустой список категорий не превращается в условие, которое ничему не соответствует
	if len(params.Categories) > 0 {
		must = append(must, qdrant.NewMatchKeywords(fieldCategories, params.Categories...))
	}

	if len(params.CategoriesNegative) > 0 {
		mustNot = append(mustNot, qdrant.NewMatchKeywords(fieldCategories, params.CategoriesNegative...))
	}

	if len(must) == 0 && len(mustNot) == 0 {
		return NoFilter(), nil
	}

	return Filter{predicate: &qdrant.Filter{Must: must, MustNot: mustNot}}, nil
}

func validateFilter(params *domain.FilterParams) error {
	if params.MinWidth != nil && *params.MinWidth < 0 {
		return fmt.Errorf("%w: min_width must not be negative", e.ErrInvalidFilter)
	}

	if params.MinHeight != nil && *params.MinHeight < 0 {
		return fmt.Errorf("%w: min_height must not be negative", e.ErrInvalidFilter)
	}

	if (params.MinRatio == nil) != (params.MaxRatio == nil) {
		return fmt.Errorf("%w: min_ratio and max_ratio must be set together", e.ErrInvalidFilter)
	}

	if params.MinRatio != nil {
		if *params.MinRatio < 0 || *params.MaxRatio < 0 {
			return fmt.Errorf("%w: aspect ratio bounds must not be negative", e.ErrInvalidFilter)
		}

		if *params.MinRatio > *params.MaxRatio {
			return fmt.Errorf("%w: min_ratio %.4f is greater than max_ratio %.4f",
				e.ErrInvalidFilter, *params.MinRatio, *params.MaxRatio)
		}
	}

	return nil
}
