package qdrant

import (
	"fmt"
	"strings"
	"time"

	"github.com/DRSN-tech/image-gallery/internal/domain"
	"github.com/DRSN-tech/image-gallery/pkg/e"
	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

// Поля payload точки
const (
	fieldURL            = "url"
	fieldThumbnailURL   = "thumbnail_url"
	fieldOCRText        = "ocr_text"
	fieldOCRTextLower   = "ocr_text_lower"
	fieldIndexDate      = "index_date"
	fieldWidth          = "width"
	fieldHeight         = "height"
	fieldAspectRatio    = "aspect_ratio"
	fieldStarred        = "starred"
	fieldCategories     = "categories"
	fieldFormat         = "format"
	fieldLocal          = "local"
	fieldLocalThumbnail = "local_thumbnail"
)

// python isoformat без зоны встречается в коллекциях, наполненных старым индексатором
var indexDateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
}

// toPoint собирает точку Qdrant из записи. Отсутствующие векторы не передаются.
func toPoint(r *domain.ImageRecord) *qdrant.PointStruct {
	point := &qdrant.PointStruct{
		Id:      qdrant.NewIDUUID(r.ID.String()),
		Payload: toPayload(r),
	}

	if vectors := toNamedVectors(r); len(vectors) > 0 {
		point.Vectors = qdrant.NewVectorsMap(vectors)
	}

	return point
}

// toPointVectors возвращает только присутствующие векторы записи для UpdateVectors.
func toPointVectors(r *domain.ImageRecord) *qdrant.PointVectors {
	return &qdrant.PointVectors{
		Id:      qdrant.NewIDUUID(r.ID.String()),
		Vectors: qdrant.NewVectorsMap(toNamedVectors(r)),
	}
}

func toNamedVectors(r *domain.ImageRecord) map[string]*qdrant.Vector {
	vectors := make(map[string]*qdrant.Vector, 2)
	if len(r.ImageVector) > 0 {
		vectors[string(domain.ImageSpace)] = qdrant.NewVectorDense(r.ImageVector)
	}
	if len(r.TextVector) > 0 {
		vectors[string(domain.TextSpace)] = qdrant.NewVectorDense(r.TextVector)
	}

	return vectors
}

// toPayload кодирует все невекторные атрибуты записи.
func toPayload(r *domain.ImageRecord) map[string]*qdrant.Value {
	// nil-список хранится как null, пустой как [], чтобы запись читалась обратно без изменений
	categories := qdrant.NewValueNull()
	if r.Categories != nil {
		items := make([]*qdrant.Value, 0, len(r.Categories))
		for _, c := range r.Categories {
			items = append(items, qdrant.NewValueString(c))
		}
		categories = qdrant.NewValueFromList(items...)
	}

	payload := map[string]*qdrant.Value{
		fieldURL:            qdrant.NewValueString(r.URL),
		fieldThumbnailURL:   qdrant.NewValueString(r.ThumbnailURL),
		fieldIndexDate:      qdrant.NewValueString(r.IndexDate.UTC().Format(time.RFC3339Nano)),
		fieldWidth:          qdrant.NewValueInt(int64(r.Width)),
		fieldHeight:         qdrant.NewValueInt(int64(r.Height)),
		fieldAspectRatio:    qdrant.NewValueDouble(r.AspectRatio),
		fieldStarred:        qdrant.NewValueBool(r.Starred),
		fieldCategories:     categories,
		fieldFormat:         qdrant.NewValueString(r.Format),
		fieldLocal:          qdrant.NewValueBool(r.Local),
		fieldLocalThumbnail: qdrant.NewValueBool(r.LocalThumbnail),
	}

	if r.OCRText != "" {
		payload[fieldOCRText] = qdrant.NewValueString(r.OCRText)
		payload[fieldOCRTextLower] = qdrant.NewValueString(strings.ToLower(r.OCRText))
	} else {
		payload[fieldOCRText] = qdrant.NewValueNull()
		payload[fieldOCRTextLower] = qdrant.NewValueNull()
	}

	return payload
}

func fromRetrievedPoint(p *qdrant.RetrievedPoint) (*domain.ImageRecord, error) {
	return fromPoint(p.GetId(), p.GetPayload(), p.GetVectors())
}

func fromScoredPoint(p *qdrant.ScoredPoint) (domain.SearchResult, error) {
	record, err := fromPoint(p.GetId(), p.GetPayload(), p.GetVectors())
	if err != nil {
		return domain.SearchResult{}, err
	}

	return domain.SearchResult{Record: record, Score: p.GetScore()}, nil
}

// fromPoint восстанавливает запись из точки. Незапрошенные векторы остаются пустыми.
func fromPoint(id *qdrant.PointId, payload map[string]*qdrant.Value, vectors *qdrant.VectorsOutput) (*domain.ImageRecord, error) {
	const op = "qdrant.fromPoint"

	recordID, err := pointUUID(id)
	if err != nil {
		return nil, e.Wrap(op, err)
	}

	indexDate, err := parseIndexDate(payload[fieldIndexDate].GetStringValue())
	if err != nil {
		return nil, e.Wrap(op, err)
	}

	record := &domain.ImageRecord{
		ID:             recordID,
		URL:            payload[fieldURL].GetStringValue(),
		ThumbnailURL:   payload[fieldThumbnailURL].GetStringValue(),
		OCRText:        payload[fieldOCRText].GetStringValue(),
		IndexDate:      indexDate,
		Width:          int(numberValue(payload[fieldWidth])),
		Height:         int(numberValue(payload[fieldHeight])),
		AspectRatio:    numberValue(payload[fieldAspectRatio]),
		Starred:        payload[fieldStarred].GetBoolValue(),
		Categories:     stringList(payload[fieldCategories]),
		Format:         payload[fieldFormat].GetStringValue(),
		Local:          payload[fieldLocal].GetBoolValue(),
		LocalThumbnail: payload[fieldLocalThumbnail].GetBoolValue(),
	}

	named := vectors.GetVectors().GetVectors()
	record.ImageVector = denseVector(named[string(domain.ImageSpace)])
	record.TextVector = denseVector(named[string(domain.TextSpace)])

	return record, nil
}

func pointUUID(id *qdrant.PointId) (uuid.UUID, error) {
	raw := id.GetUuid()
	if raw == "" {
		return uuid.Nil, fmt.Errorf("%w: point %v has no uuid id", e.ErrConsistencyViolation, id)
	}

	parsed, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: malformed point id %q", e.ErrConsistencyViolation, raw)
	}

	return parsed, nil
}

func parseIndexDate(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}

	for _, layout := range indexDateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}

	return time.Time{}, fmt.Errorf("%w: unparsable index_date %q", e.ErrConsistencyViolation, raw)
}

func denseVector(v *qdrant.VectorOutput) []float32 {
	if v == nil {
		return nil
	}

	if dense := v.GetDense(); dense != nil {
		return dense.GetData()
	}

	return v.GetData()
}

// numberValue читает число, записанное как целое или как double.
func numberValue(v *qdrant.Value) float64 {
	switch kind := v.GetKind().(type) {
	case *qdrant.Value_IntegerValue:
		return float64(kind.IntegerValue)
	case *qdrant.Value_DoubleValue:
		return kind.DoubleValue
	default:
		return 0
	}
}

func stringList(v *qdrant.Value) []string {
	list := v.GetListValue()
	if list == nil {
		return nil
	}

	values := list.GetValues()
	result := make([]string, 0, len(values))
	for _, item := range values {
		result = append(result, item.GetStringValue())
	}

	return result
}
