package domain

// VectorSpace имя именованного векторного пространства записи
type VectorSpace string

const (
	ImageSpace VectorSpace = "image_vector"
	TextSpace  VectorSpace = "text_contain_vector"
)

// Other возвращает второе пространство.
func (s VectorSpace) Other() VectorSpace {
	if s == TextSpace {
		return ImageSpace
	}

	return TextSpace
}

func (s VectorSpace) Valid() bool {
	return s == ImageSpace || s == TextSpace
}

// RecommendStrategy способ объединения нескольких положительных примеров
type RecommendStrategy int

const (
	// StrategyDefault оставляет выбор стратегии индексу
	StrategyDefault RecommendStrategy = iota
	StrategyAverage
	StrategyBestScore
)

// SearchResult запись и её сходство с запросом
type SearchResult struct {
	Record *ImageRecord
	Score  float32
}

// QueryOptions общие параметры всех режимов запроса
type QueryOptions struct {
	Space       VectorSpace
	Filter      *FilterParams
	Limit       uint64
	Offset      uint64
	WithVectors bool
}

// Examples наборы положительных и отрицательных векторов для рекомендации
type Examples struct {
	Positive [][]float32
	Negative [][]float32
	Strategy RecommendStrategy
}
