package ml_service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/DRSN-tech/image-gallery/internal/cfg"
	"github.com/DRSN-tech/image-gallery/internal/metrics"
	"github.com/DRSN-tech/image-gallery/pkg/e"
	"github.com/DRSN-tech/image-gallery/pkg/jitter"
	"github.com/DRSN-tech/image-gallery/pkg/logger"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Методы CLIP-сервиса. Запросы и ответы передаются well-known типами protobuf:
// изображение как BytesValue, текст как StringValue, вектор как ListValue чисел.
const (
	ServiceName     = "gallery.ml.v1.ClipService"
	embedImagePath  = "/" + ServiceName + "/EmbedImage"
	embedTextPath   = "/" + ServiceName + "/EmbedText"
	providerName    = "clip"
	baseJitter      = 200 * time.Millisecond
	maxJitter       = 5 * time.Second
	defaultParallel = 4
)

// MLService клиент для взаимодействия с внешним ML-сервисом (CLIP)
type MLService struct {
	conn       grpc.ClientConnInterface
	health     healthpb.HealthClient
	sem        chan struct{}
	maxRetries int
	timeout    time.Duration
	logger     logger.Logger
}

func NewMLService(conn grpc.ClientConnInterface, cfg *cfg.MLServiceCfg, logger logger.Logger) *MLService {
	parallel := cfg.MaxConcurrent
	if parallel <= 0 {
		parallel = defaultParallel
	}

	retries := cfg.MaxRetries
	if retries <= 0 {
		retries = 1
	}

	return &MLService{
		conn:       conn,
		health:     healthpb.NewHealthClient(conn),
		sem:        make(chan struct{}, parallel),
		maxRetries: retries,
		timeout:    cfg.Timeout,
		logger:     logger,
	}
}

// EmbedImage возвращает вектор изображения в пространстве image_vector
func (m *MLService) EmbedImage(ctx context.Context, data []byte) ([]float32, error) {
	const op = "MLService.EmbedImage"

	if len(data) == 0 {
		return nil, e.Wrap(op, e.ErrNoImages)
	}

	vector, err := m.invoke(ctx, embedImagePath, wrapperspb.Bytes(data))
	if err != nil {
		return nil, e.Wrap(op, err)
	}

	return vector, nil
}

// EmbedText возвращает вектор текстового запроса в том же пространстве, что и изображения
func (m *MLService) EmbedText(ctx context.Context, text string) ([]float32, error) {
	const op = "MLService.EmbedText"

	vector, err := m.invoke(ctx, embedTextPath, wrapperspb.String(text))
	if err != nil {
		return nil, e.Wrap(op, err)
	}

	return vector, nil
}

// HealthCheck опрашивает стандартный grpc.health.v1 сервис
func (m *MLService) HealthCheck(ctx context.Context) error {
	const op = "MLService.HealthCheck"

	res, err := m.health.Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		return e.Wrap(op, classify(err))
	}

	if res.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return e.Wrap(op, fmt.Errorf("%w: ml service status %s", e.ErrBackendUnavailable, res.GetStatus()))
	}

	return nil
}

// invoke выполняет вызов с ограничением конкурентности и повторами на временных ошибках
func (m *MLService) invoke(ctx context.Context, method string, req any) (vector []float32, err error) {
	start := time.Now()
	defer func() { metrics.ObserveEmbedding(providerName, start, err) }()

	select {
	case m.sem <- struct{}{}:
		defer func() { <-m.sem }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	attempt := 0
	err = jitter.Retry(ctx, m.maxRetries, baseJitter, maxJitter, func(ctx context.Context) error {
		attempt++
		res, callErr := m.call(ctx, method, req)
		if callErr != nil {
			if !retryable(callErr) {
				return jitter.Permanent(callErr)
			}
			m.logger.Warnf("ml call %s failed (attempt %d/%d): %v", method, attempt, m.maxRetries, callErr)
			return callErr
		}

		vector, callErr = toVector(res)
		if callErr != nil {
			return jitter.Permanent(callErr)
		}

		return nil
	})
	if err != nil {
		return nil, classify(err)
	}

	return vector, nil
}

func (m *MLService) call(ctx context.Context, method string, req any) (*structpb.ListValue, error) {
	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	res := &structpb.ListValue{}
	if err := m.conn.Invoke(ctx, method, req, res); err != nil {
		return nil, err
	}

	return res, nil
}

func toVector(res *structpb.ListValue) ([]float32, error) {
	values := res.GetValues()
	if len(values) == 0 {
		return nil, e.ErrEmptyVectors
	}

	vector := make([]float32, len(values))
	for i, v := range values {
		n, ok := v.GetKind().(*structpb.Value_NumberValue)
		if !ok {
			return nil, fmt.Errorf("%w: element %d is not a number", e.ErrVectorSizeInvalid, i)
		}
		vector[i] = float32(n.NumberValue)
	}

	return vector, nil
}

func retryable(err error) bool {
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted:
		return true
	default:
		return false
	}
}

// classify помечает сетевые отказы ML-сервиса как недоступность бэкенда
func classify(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}

	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted:
		return errors.Join(e.ErrBackendUnavailable, err)
	default:
		return err
	}
}
