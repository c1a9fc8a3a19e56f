package domain

// FilterParams необязательные ограничения на метаданные изображений.
// nil-поле означает отсутствие ограничения.
type FilterParams struct {
	MinWidth           *int
	MinHeight          *int
	MinRatio           *float64
	MaxRatio           *float64
	Starred            *bool
	OCRText            *string
	Categories         []string
	CategoriesNegative []string
}
