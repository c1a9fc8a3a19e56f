// Package openai векторизует распознанный на изображениях текст через OpenAI-совместимый API.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/DRSN-tech/image-gallery/internal/cfg"
	"github.com/DRSN-tech/image-gallery/internal/metrics"
	"github.com/DRSN-tech/image-gallery/pkg/e"
	"github.com/DRSN-tech/image-gallery/pkg/logger"
	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

const providerName = "openai"

type Embedder struct {
	client     *openai.Client
	model      openai.EmbeddingModel
	dimensions int
	limiter    *rate.Limiter
	logger     logger.Logger
}

func NewEmbedder(cfg *cfg.OpenAICfg, logger logger.Logger) *Embedder {
	clientCfg := openai.DefaultConfig(cfg.ApiKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	limit := rate.Inf
	if cfg.RPS > 0 {
		limit = rate.Limit(cfg.RPS)
	}

	return &Embedder{
		client:     openai.NewClientWithConfig(clientCfg),
		model:      openai.EmbeddingModel(cfg.Model),
		dimensions: cfg.Dimensions,
		limiter:    rate.NewLimiter(limit, 1),
		logger:     logger,
	}
}

// EmbedText возвращает вектор текста для пространства text_contain_vector
func (em *Embedder) EmbedText(ctx context.Context, text string) (vector []float32, err error) {
	const op = "Embedder.EmbedText"

	start := time.Now()
	defer func() { metrics.ObserveEmbedding(providerName, start, err) }()

	if err := em.limiter.Wait(ctx); err != nil {
		return nil, e.Wrap(op, err)
	}

	req := openai.EmbeddingRequest{
		Input:          []string{text},
		Model:          em.model,
		EncodingFormat: openai.EmbeddingEncodingFormatFloat,
	}
	if em.dimensions > 0 {
		req.Dimensions = em.dimensions
	}

	res, err := em.client.CreateEmbeddings(ctx, req)
	if err != nil {
		em.logger.Warnf("openai embeddings request failed: %v", err)
		return nil, e.Wrap(op, classify(err))
	}

	if len(res.Data) == 0 || len(res.Data[0].Embedding) == 0 {
		return nil, e.Wrap(op, e.ErrEmptyVectors)
	}

	vector = res.Data[0].Embedding
	if em.dimensions > 0 && len(vector) != em.dimensions {
		return nil, e.Wrap(op, fmt.Errorf("%w: got %d, want %d", e.ErrVectorSizeInvalid, len(vector), em.dimensions))
	}

	return vector, nil
}

// classify: 5xx, 429 и сетевые ошибки считаются недоступностью провайдера
func classify(err error) error {
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return classifyStatus(reqErr.HTTPStatusCode, err)
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return classifyStatus(apiErr.HTTPStatusCode, err)
	}

	if errors.Is(err, context.Canceled) {
		return err
	}

	return errors.Join(e.ErrBackendUnavailable, err)
}

func classifyStatus(code int, err error) error {
	if code == http.StatusTooManyRequests || code >= http.StatusInternalServerError {
		return errors.Join(e.ErrBackendUnavailable, err)
	}

	return err
}
