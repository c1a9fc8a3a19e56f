package http

import (
	"time"

	"github.com/DRSN-tech/image-gallery/internal/domain"
	"github.com/DRSN-tech/image-gallery/internal/usecase"
)

type ImageDTO struct {
	ID           string    `json:"id"`
	URL          string    `json:"url"`
	ThumbnailURL string    `json:"thumbnail_url,omitempty"`
	OCRText      string    `json:"ocr_text,omitempty"`
	IndexDate    time.Time `json:"index_date"`
	Width        int       `json:"width"`
	Height       int       `json:"height"`
	AspectRatio  float64   `json:"aspect_ratio"`
	Starred      bool      `json:"starred"`
	Categories   []string  `json:"categories"`
	Format       string    `json:"format,omitempty"`
}

type SearchResultDTO struct {
	Image ImageDTO `json:"img"`
	Score float32  `json:"score"`
}

type SearchResponse struct {
	Message string            `json:"message"`
	Results []SearchResultDTO `json:"result"`
}

type AdvancedSearchBody struct {
	Criteria         []string `json:"criteria"`
	NegativeCriteria []string `json:"negative_criteria"`
}

type CombinedSearchBody struct {
	AdvancedSearchBody
	ExtraPrompt string `json:"extra_prompt"`
}

type UpdateOptBody struct {
	Starred    *bool    `json:"starred"`
	Categories []string `json:"categories"`
}

type DeleteImagesBody struct {
	IDs []string `json:"ids"`
}

type IndexDirectoryBody struct {
	Path       string   `json:"path"`
	Pattern    string   `json:"pattern"`
	Categories []string `json:"categories"`
	Starred    bool     `json:"starred"`
}

func toImageDTO(r *domain.ImageRecord) ImageDTO {
	categories := r.Categories
	if categories == nil {
		categories = []string{}
	}

	return ImageDTO{
		ID:           r.ID.String(),
		URL:          r.URL,
		ThumbnailURL: r.ThumbnailURL,
		OCRText:      r.OCRText,
		IndexDate:    r.IndexDate,
		Width:        r.Width,
		Height:       r.Height,
		AspectRatio:  r.AspectRatio,
		Starred:      r.Starred,
		Categories:   categories,
		Format:       r.Format,
	}
}

func toSearchResponse(res *usecase.SearchRes) *SearchResponse {
	results := make([]SearchResultDTO, 0, len(res.Results))
	for _, r := range res.Results {
		results = append(results, SearchResultDTO{Image: toImageDTO(r.Record), Score: r.Score})
	}

	return &SearchResponse{Message: "Success", Results: results}
}
