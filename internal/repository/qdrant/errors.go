package qdrant

import (
	"context"
	"errors"
	"fmt"

	"github.com/DRSN-tech/image-gallery/pkg/e"
	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// classifyError приводит ошибку клиента Qdrant к таксономии сервиса.
// Отмена контекста пробрасывается как есть.
func classifyError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var exhausted *qdrant.QdrantResourceExhaustedError
	if errors.As(err, &exhausted) {
		return fmt.Errorf("%w: %v", e.ErrBackendUnavailable, err)
	}

	st, ok := status.FromError(err)
	if !ok {
		return err
	}

	switch st.Code() {
	case codes.Unavailable, codes.DeadlineExceeded, codes.Aborted, codes.ResourceExhausted:
		return fmt.Errorf("%w: %v", e.ErrBackendUnavailable, err)
	case codes.NotFound:
		return fmt.Errorf("%w: %v", e.ErrNotFound, err)
	case codes.Canceled:
		return fmt.Errorf("%w: %v", context.Canceled, err)
	default:
		return err
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, e.ErrNotFound)
}
