package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/DRSN-tech/image-gallery/internal/domain"
	"github.com/DRSN-tech/image-gallery/internal/usecase"
	"github.com/DRSN-tech/image-gallery/pkg/e"
	"github.com/DRSN-tech/image-gallery/pkg/logger"
	"github.com/google/uuid"
	"github.com/jimlawless/whereami"
)

const defaultRatioTolerance = 0.1

type ErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func NewErrorResponse(code int, message string) *ErrorResponse {
	return &ErrorResponse{
		Code:    code,
		Message: message,
	}
}

// ToHTTPResponse единственное место сопоставления ошибок ядра и HTTP-статусов
func ToHTTPResponse(err error) (int, string) {
	switch {
	case errors.Is(err, e.ErrExpectedMultipart):
		return http.StatusBadRequest, e.ErrExpectedMultipart.Error()
	case errors.Is(err, e.ErrInvalidID):
		return http.StatusBadRequest, e.ErrInvalidID.Error()
	case errors.Is(err, e.ErrInvalidPaging):
		return http.StatusBadRequest, e.ErrInvalidPaging.Error()
	case errors.Is(err, e.ErrInvalidSearchBasis):
		return http.StatusBadRequest, e.ErrInvalidSearchBasis.Error()
	case errors.Is(err, e.ErrInvalidSearchMode):
		return http.StatusBadRequest, e.ErrInvalidSearchMode.Error()
	case errors.Is(err, e.ErrNoImages):
		return http.StatusBadRequest, e.ErrNoImages.Error()
	case errors.Is(err, e.ErrStatusBadRequest):
		return http.StatusBadRequest, e.ErrStatusBadRequest.Error()

	case errors.Is(err, e.ErrUnauthorized):
		return http.StatusUnauthorized, e.ErrUnauthorized.Error()
	case errors.Is(err, e.ErrAdminAPIDisabled):
		return http.StatusForbidden, e.ErrAdminAPIDisabled.Error()

	case errors.Is(err, e.ErrNotFound):
		var missing *e.PointsNotFoundError
		if errors.As(err, &missing) {
			return http.StatusNotFound, missing.Error()
		}
		return http.StatusNotFound, e.ErrNotFound.Error()
	case errors.Is(err, e.ErrRemoteFileNotFound):
		return http.StatusNotFound, e.ErrRemoteFileNotFound.Error()
	case errors.Is(err, e.ErrDuplicateImage):
		return http.StatusConflict, e.ErrDuplicateImage.Error()
	case errors.Is(err, e.ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge, e.ErrFileTooLarge.Error()
	case errors.Is(err, e.ErrUnsupportedMediaType):
		return http.StatusUnsupportedMediaType, e.ErrUnsupportedMediaType.Error()

	case errors.Is(err, e.ErrInvalidFilter):
		return http.StatusUnprocessableEntity, unwrapMessage(err, e.ErrInvalidFilter)
	case errors.Is(err, e.ErrEmptyCriteria):
		return http.StatusUnprocessableEntity, e.ErrEmptyCriteria.Error()
	case errors.Is(err, e.ErrNothingToUpdate):
		return http.StatusUnprocessableEntity, e.ErrNothingToUpdate.Error()
	case errors.Is(err, e.ErrOCRTextRequired):
		return http.StatusUnprocessableEntity, e.ErrOCRTextRequired.Error()

	case errors.Is(err, e.ErrEmbedderDisabled):
		return http.StatusNotImplemented, e.ErrEmbedderDisabled.Error()
	case errors.Is(err, e.ErrBackendUnavailable):
		return http.StatusServiceUnavailable, e.ErrBackendUnavailable.Error()
	default:
		return http.StatusInternalServerError, e.ErrInternalServerError.Error()
	}
}

// unwrapMessage оставляет пояснение валидатора ("invalid filter: min_ratio > max_ratio"),
// отбрасывая префиксы с местом возникновения ошибки.
func unwrapMessage(err error, sentinel error) string {
	msg := err.Error()
	if i := strings.Index(msg, sentinel.Error()); i >= 0 {
		return msg[i:]
	}

	return sentinel.Error()
}

func WriteError(w http.ResponseWriter, err error) {
	code, msg := ToHTTPResponse(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(NewErrorResponse(code, msg))
}

// writeFailure логирует ошибку с уровнем по статусу ответа и пишет её клиенту
func writeFailure(log logger.Logger, w http.ResponseWriter, r *http.Request, err error) {
	code, _ := ToHTTPResponse(err)
	if code >= http.StatusInternalServerError {
		log.Errorf(err, "%s %s", r.Method, r.URL.Path)
	} else {
		log.Warnf("%d %s %s: %v", code, r.Method, r.URL.Path, err)
	}

	WriteError(w, err)
}

func WriteSuccess(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func decodeJSON(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return e.Wrap(whereami.WhereAmI(), fmt.Errorf("%w: %v", e.ErrStatusBadRequest, err))
	}

	return nil
}

func parseID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, e.Wrap(raw, e.ErrInvalidID)
	}

	return id, nil
}

// parsePaging читает count и skip. Отсутствующий параметр равен 0, отрицательный отклоняется.
func parsePaging(q url.Values) (usecase.Paging, error) {
	count, err := optionalInt(q, "count")
	if err != nil || (count != nil && *count < 0) {
		return usecase.Paging{}, e.Wrap("count", e.ErrInvalidPaging)
	}

	skip, err := optionalInt(q, "skip")
	if err != nil || (skip != nil && *skip < 0) {
		return usecase.Paging{}, e.Wrap("skip", e.ErrInvalidPaging)
	}

	var p usecase.Paging
	if count != nil {
		p.Count = *count
	}
	if skip != nil {
		p.Skip = *skip
	}

	return p, nil
}

// parseFilter собирает FilterParams из query-параметров.
// preferred_ratio с ratio_tolerance раскрывается в пару min_ratio/max_ratio.
func parseFilter(q url.Values) (*domain.FilterParams, error) {
	f := &domain.FilterParams{}
	var err error

	if f.MinWidth, err = optionalInt(q, "min_width"); err != nil {
		return nil, invalidFilter("min_width", err)
	}
	if f.MinHeight, err = optionalInt(q, "min_height"); err != nil {
		return nil, invalidFilter("min_height", err)
	}
	if f.MinRatio, err = optionalFloat(q, "min_ratio"); err != nil {
		return nil, invalidFilter("min_ratio", err)
	}
	if f.MaxRatio, err = optionalFloat(q, "max_ratio"); err != nil {
		return nil, invalidFilter("max_ratio", err)
	}

	preferred, err := optionalFloat(q, "preferred_ratio")
	if err != nil {
		return nil, invalidFilter("preferred_ratio", err)
	}
	if preferred != nil {
		if f.MinRatio != nil || f.MaxRatio != nil {
			return nil, fmt.Errorf("%w: preferred_ratio conflicts with min_ratio/max_ratio", e.ErrInvalidFilter)
		}

		tolerance, err := optionalFloat(q, "ratio_tolerance")
		if err != nil {
			return nil, invalidFilter("ratio_tolerance", err)
		}
		tol := defaultRatioTolerance
		if tolerance != nil {
			tol = *tolerance
		}
		if tol < 0 || tol >= 1 {
			return nil, fmt.Errorf("%w: ratio_tolerance must be in [0, 1)", e.ErrInvalidFilter)
		}

		minRatio, maxRatio := *preferred*(1-tol), *preferred*(1+tol)
		f.MinRatio, f.MaxRatio = &minRatio, &maxRatio
	}

	if raw := q.Get("starred"); raw != "" {
		starred, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, invalidFilter("starred", err)
		}
		f.Starred = &starred
	}

	if q.Has("ocr_text") {
		text := q.Get("ocr_text")
		f.OCRText = &text
	}

	f.Categories = splitCSV(q["categories"])
	f.CategoriesNegative = splitCSV(q["categories_negative"])

	return f, nil
}

func invalidFilter(param string, err error) error {
	return fmt.Errorf("%w: %s: %v", e.ErrInvalidFilter, param, err)
}

func optionalInt(q url.Values, key string) (*int, error) {
	raw := strings.TrimSpace(q.Get(key))
	if raw == "" {
		return nil, nil
	}

	v, err := strconv.Atoi(raw)
	if err != nil {
		return nil, err
	}

	return &v, nil
}

func optionalFloat(q url.Values, key string) (*float64, error) {
	raw := strings.TrimSpace(q.Get(key))
	if raw == "" {
		return nil, nil
	}

	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, err
	}

	return &v, nil
}

// splitCSV поддерживает и повторяющиеся параметры, и значения через запятую
func splitCSV(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}

	return out
}

func ensureMultipartForm(r *http.Request, maxMemory int64) error {
	if !strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		return e.Wrap(whereami.WhereAmI(), e.ErrExpectedMultipart)
	}

	if err := r.ParseMultipartForm(maxMemory); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return e.Wrap(whereami.WhereAmI(), e.ErrFileTooLarge)
		}
		return e.Wrap(whereami.WhereAmI(), fmt.Errorf("%w: %v", e.ErrStatusBadRequest, err))
	}

	return nil
}

// formFile читает единственный файл из поля формы
func formFile(r *http.Request, field string, maxSize int64) ([]byte, *multipart.FileHeader, error) {
	files := r.MultipartForm.File[field]
	if len(files) == 0 {
		return nil, nil, e.Wrap(field, e.ErrNoImages)
	}

	data, err := readFile(files[0], maxSize)
	if err != nil {
		return nil, nil, err
	}

	return data, files[0], nil
}

func readFile(fh *multipart.FileHeader, maxSize int64) ([]byte, error) {
	if maxSize > 0 && fh.Size > maxSize {
		return nil, e.Wrap(fh.Filename, e.ErrFileTooLarge)
	}

	src, err := fh.Open()
	if err != nil {
		return nil, e.ErrInternalServerError
	}
	defer src.Close()

	data, err := io.ReadAll(src)
	if err != nil {
		return nil, e.ErrInternalServerError
	}
	if maxSize > 0 && int64(len(data)) > maxSize {
		return nil, e.Wrap(fh.Filename, e.ErrFileTooLarge)
	}

	return data, nil
}
