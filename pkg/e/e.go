package e

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

var (
	// Ошибки ядра поиска
	ErrNotFound             = fmt.Errorf("not found")
	ErrInvalidFilter        = fmt.Errorf("invalid filter")
	ErrBackendUnavailable   = fmt.Errorf("backend unavailable")
	ErrConsistencyViolation = fmt.Errorf("consistency violation")

	// Внутренние ошибки с транзакциями
	ErrTransactionNotFound = fmt.Errorf("transaction not found")

	// Внутренние ошибки с векторами
	ErrEmptyVectors      = fmt.Errorf("empty vectors")
	ErrVectorSizeInvalid = fmt.Errorf("vector size mismatch")

	// Ошибки хранилища
	ErrRemoteFileNotFound = fmt.Errorf("remote file not found")
	ErrLocalFileNotFound  = fmt.Errorf("local file not found")
	ErrInvalidPath        = fmt.Errorf("invalid storage path")

	// Ошибки конфигурации
	ErrIncorrectEnvVariable = fmt.Errorf("incorrect env variable")
	ErrUnknownStorageMethod = fmt.Errorf("unknown storage method")

	// 400 Bad Request
	ErrStatusBadRequest     = fmt.Errorf("bad request")
	ErrExpectedMultipart    = fmt.Errorf("expected multipart/form-data")
	ErrInvalidID            = fmt.Errorf("invalid image id")
	ErrInvalidPaging        = fmt.Errorf("invalid paging parameters")
	ErrInvalidSearchBasis   = fmt.Errorf("invalid search basis")
	ErrInvalidSearchMode    = fmt.Errorf("invalid search mode")
	ErrEmptyCriteria        = fmt.Errorf("positive criteria is required")
	ErrNoImages             = fmt.Errorf("no image provided")
	ErrFileTooLarge         = fmt.Errorf("file too large")
	ErrUnsupportedMediaType = fmt.Errorf("unsupported media type")

	// 401 / 403
	ErrUnauthorized     = fmt.Errorf("unauthorized")
	ErrAdminAPIDisabled = fmt.Errorf("admin api is disabled")

	// 409 / 422
	ErrDuplicateImage   = fmt.Errorf("image already exists")
	ErrNothingToUpdate  = fmt.Errorf("nothing to update")
	ErrOCRTextRequired  = fmt.Errorf("ocr text vector is not available")
	ErrEmbedderDisabled = fmt.Errorf("embedder is disabled")

	// 500
	ErrInternalServerError = fmt.Errorf("internal server error")
)

// PointsNotFoundError перечисляет идентификаторы, отсутствующие в индексе.
// errors.Is(err, ErrNotFound) для неё истинно.
type PointsNotFoundError struct {
	IDs []uuid.UUID
}

func NewPointsNotFoundError(ids ...uuid.UUID) *PointsNotFoundError {
	return &PointsNotFoundError{IDs: ids}
}

func (p *PointsNotFoundError) Error() string {
	ids := make([]string, len(p.IDs))
	for i, id := range p.IDs {
		ids[i] = id.String()
	}

	return fmt.Sprintf("points not found: [%s]", strings.Join(ids, ", "))
}

func (p *PointsNotFoundError) Unwrap() error {
	return ErrNotFound
}

// Wrap оборачивает ошибку
func Wrap(msg string, err error) error {
	return fmt.Errorf("%s: %w", msg, err)
}
