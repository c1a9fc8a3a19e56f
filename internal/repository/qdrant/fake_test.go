package qdrant

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/DRSN-tech/image-gallery/internal/cfg"
	"github.com/DRSN-tech/image-gallery/internal/domain"
	"github.com/DRSN-tech/image-gallery/pkg/logger"
	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type fakePoint struct {
	id      string
	payload map[string]*qdrant.Value
	vectors map[string][]float32
}

// fakePoints хранит точки в памяти и повторяет семантику Qdrant, нужную репозиторию:
// фильтры, косинусное сходство, стратегии рекомендаций, offset/limit и выбор векторов.
type fakePoints struct {
	mu     sync.Mutex
	order  []string
	points map[string]*fakePoint

	err      error
	extraGet []*qdrant.RetrievedPoint

	queries []*qdrant.QueryPoints
	gets    []*qdrant.GetPoints
	counts  []*qdrant.CountPoints
}

func newFakePoints() *fakePoints {
	return &fakePoints{points: make(map[string]*fakePoint)}
}

func newTestRepo(t *testing.T, records ...*domain.ImageRecord) (*ImageRepo, *fakePoints) {
	t.Helper()

	fake := newFakePoints()
	for _, r := range records {
		fake.store(toPoint(r))
	}

	return NewImageRepo(fake, &cfg.QdrantCfg{CollectionName: "gallery"}, logger.Nop{}), fake
}

func (f *fakePoints) store(p *qdrant.PointStruct) {
	id := p.GetId().GetUuid()
	point, ok := f.points[id]
	if !ok {
		point = &fakePoint{id: id}
		f.points[id] = point
		f.order = append(f.order, id)
	}

	point.payload = p.GetPayload()
	point.vectors = make(map[string][]float32)
	for name, v := range p.GetVectors().GetVectors().GetVectors() {
		point.vectors[name] = v.GetDense().GetData()
	}
}

func (f *fakePoints) Query(_ context.Context, req *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.queries = append(f.queries, req)
	if f.err != nil {
		return nil, f.err
	}

	using := req.GetUsing()
	exclude := make(map[string]bool)

	var score func(v []float32) float32
	switch q := req.GetQuery().GetVariant().(type) {
	case *qdrant.Query_Nearest:
		target := q.Nearest.GetDense().GetData()
		score = func(v []float32) float32 { return cosine(target, v) }
	case *qdrant.Query_Recommend:
		positive, err := f.resolve(q.Recommend.GetPositive(), using, exclude)
		if err != nil {
			return nil, err
		}
		negative, err := f.resolve(q.Recommend.GetNegative(), using, exclude)
		if err != nil {
			return nil, err
		}
		score = recommendScorer(positive, negative, q.Recommend.GetStrategy())
	case *qdrant.Query_Sample:
		score = func([]float32) float32 { return 0 }
	default:
		return nil, status.Error(codes.InvalidArgument, "unsupported query")
	}

	type candidate struct {
		point *fakePoint
		score float32
	}

	var candidates []candidate
	for _, id := range f.order {
		p := f.points[id]
		vector, ok := p.vectors[using]
		if !ok || exclude[id] || !matchFilter(req.GetFilter(), p.payload) {
			continue
		}
		candidates = append(candidates, candidate{point: p, score: score(vector)})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})

	limit := req.GetLimit()
	if req.Limit == nil {
		limit = 10
	}
	offset := req.GetOffset()

	result := make([]*qdrant.ScoredPoint, 0)
	for i := offset; i < uint64(len(candidates)) && uint64(len(result)) < limit; i++ {
		c := candidates[i]
		result = append(result, &qdrant.ScoredPoint{
			Id:      qdrant.NewIDUUID(c.point.id),
			Payload: selectPayload(req.GetWithPayload(), c.point),
			Score:   c.score,
			Vectors: selectVectors(req.GetWithVectors(), c.point),
		})
	}

	return result, nil
}

func (f *fakePoints) resolve(inputs []*qdrant.VectorInput, using string, exclude map[string]bool) ([][]float32, error) {
	vectors := make([][]float32, 0, len(inputs))
	for _, in := range inputs {
		if id := in.GetId(); id != nil {
			p, ok := f.points[id.GetUuid()]
			if !ok {
				return nil, status.Errorf(codes.NotFound, "No point with id %s found", id.GetUuid())
			}
			exclude[p.id] = true
			vectors = append(vectors, p.vectors[using])
			continue
		}
		vectors = append(vectors, in.GetDense().GetData())
	}

	return vectors, nil
}

func (f *fakePoints) Get(_ context.Context, req *qdrant.GetPoints) ([]*qdrant.RetrievedPoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.gets = append(f.gets, req)
	if f.err != nil {
		return nil, f.err
	}

	var result []*qdrant.RetrievedPoint
	for _, id := range req.GetIds() {
		p, ok := f.points[id.GetUuid()]
		if !ok {
			continue
		}
		result = append(result, f.retrieved(p, req.GetWithPayload(), req.GetWithVectors()))
	}

	return append(result, f.extraGet...), nil
}

func (f *fakePoints) ScrollAndOffset(_ context.Context, req *qdrant.ScrollPoints) ([]*qdrant.RetrievedPoint, *qdrant.PointId, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.err != nil {
		return nil, nil, f.err
	}

	ids := append([]string(nil), f.order...)
	sort.Strings(ids)

	start := 0
	if req.GetOffset() != nil {
		start = sort.SearchStrings(ids, req.GetOffset().GetUuid())
	}

	limit := int(req.GetLimit())
	var result []*qdrant.RetrievedPoint
	for i := start; i < len(ids) && len(result) < limit; i++ {
		result = append(result, f.retrieved(f.points[ids[i]], req.GetWithPayload(), req.GetWithVectors()))
	}

	var next *qdrant.PointId
	if end := start + len(result); end < len(ids) {
		next = qdrant.NewIDUUID(ids[end])
	}

	return result, next, nil
}

func (f *fakePoints) Count(_ context.Context, req *qdrant.CountPoints) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.counts = append(f.counts, req)
	if f.err != nil {
		return 0, f.err
	}

	return uint64(len(f.points)), nil
}

func (f *fakePoints) Upsert(_ context.Context, req *qdrant.UpsertPoints) (*qdrant.UpdateResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.err != nil {
		return nil, f.err
	}

	for _, p := range req.GetPoints() {
		f.store(p)
	}

	return &qdrant.UpdateResult{Status: qdrant.UpdateStatus_Completed}, nil
}

func (f *fakePoints) Delete(_ context.Context, req *qdrant.DeletePoints) (*qdrant.UpdateResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.err != nil {
		return nil, f.err
	}

	for _, id := range req.GetPoints().GetPoints().GetIds() {
		delete(f.points, id.GetUuid())
		for i, existing := range f.order {
			if existing == id.GetUuid() {
				f.order = append(f.order[:i], f.order[i+1:]...)
				break
			}
		}
	}

	return &qdrant.UpdateResult{Status: qdrant.UpdateStatus_Completed}, nil
}

func (f *fakePoints) SetPayload(_ context.Context, req *qdrant.SetPayloadPoints) (*qdrant.UpdateResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.err != nil {
		return nil, f.err
	}

	for _, id := range req.GetPointsSelector().GetPoints().GetIds() {
		p, ok := f.points[id.GetUuid()]
		if !ok {
			return nil, status.Errorf(codes.NotFound, "No point with id %s found", id.GetUuid())
		}
		for k, v := range req.GetPayload() {
			p.payload[k] = v
		}
	}

	return &qdrant.UpdateResult{Status: qdrant.UpdateStatus_Completed}, nil
}

func (f *fakePoints) UpdateVectors(_ context.Context, req *qdrant.UpdatePointVectors) (*qdrant.UpdateResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.err != nil {
		return nil, f.err
	}

	for _, pv := range req.GetPoints() {
		p, ok := f.points[pv.GetId().GetUuid()]
		if !ok {
			return nil, status.Errorf(codes.NotFound, "No point with id %s found", pv.GetId().GetUuid())
		}
		for name, v := range pv.GetVectors().GetVectors().GetVectors() {
			p.vectors[name] = v.GetDense().GetData()
		}
	}

	return &qdrant.UpdateResult{Status: qdrant.UpdateStatus_Completed}, nil
}

func (f *fakePoints) retrieved(p *fakePoint, payload *qdrant.WithPayloadSelector, vectors *qdrant.WithVectorsSelector) *qdrant.RetrievedPoint {
	return &qdrant.RetrievedPoint{
		Id:      qdrant.NewIDUUID(p.id),
		Payload: selectPayload(payload, p),
		Vectors: selectVectors(vectors, p),
	}
}

func selectPayload(sel *qdrant.WithPayloadSelector, p *fakePoint) map[string]*qdrant.Value {
	if !sel.GetEnable() {
		return nil
	}

	return p.payload
}

func selectVectors(sel *qdrant.WithVectorsSelector, p *fakePoint) *qdrant.VectorsOutput {
	var names []string
	switch {
	case sel.GetEnable():
		for name := range p.vectors {
			names = append(names, name)
		}
	case sel.GetInclude() != nil:
		names = sel.GetInclude().GetNames()
	default:
		return nil
	}

	out := make(map[string]*qdrant.VectorOutput, len(names))
	for _, name := range names {
		if v, ok := p.vectors[name]; ok {
			out[name] = &qdrant.VectorOutput{Vector: &qdrant.VectorOutput_Dense{Dense: &qdrant.DenseVector{Data: v}}}
		}
	}

	return &qdrant.VectorsOutput{
		VectorsOptions: &qdrant.VectorsOutput_Vectors{Vectors: &qdrant.NamedVectorsOutput{Vectors: out}},
	}
}

func recommendScorer(positive, negative [][]float32, strategy qdrant.RecommendStrategy) func([]float32) float32 {
	if strategy == qdrant.RecommendStrategy_BestScore {
		return func(v []float32) float32 {
			bestPos := maxSimilarity(positive, v)
			if len(negative) == 0 {
				return bestPos
			}
			bestNeg := maxSimilarity(negative, v)
			if bestPos > bestNeg {
				return bestPos
			}
			return -(bestNeg * bestNeg)
		}
	}

	target := centroid(positive)
	if len(negative) > 0 {
		neg := centroid(negative)
		for i := range target {
			target[i] = target[i] + target[i] - neg[i]
		}
	}

	return func(v []float32) float32 { return cosine(target, v) }
}

func maxSimilarity(examples [][]float32, v []float32) float32 {
	best := float32(math.Inf(-1))
	for _, ex := range examples {
		if s := cosine(ex, v); s > best {
			best = s
		}
	}

	return best
}

func centroid(vectors [][]float32) []float32 {
	if len(vectors) == 0 {
		return nil
	}

	c := make([]float32, len(vectors[0]))
	for _, v := range vectors {
		for i := range c {
			c[i] += v[i] / float32(len(vectors))
		}
	}

	return c
}

func cosine(a, b []float32) float32 {
	if len(a) != len(b) {
		return 0
	}

	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}

	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

func matchFilter(f *qdrant.Filter, payload map[string]*qdrant.Value) bool {
	if f == nil {
		return true
	}

	for _, c := range f.GetMust() {
		if !matchCondition(c, payload) {
			return false
		}
	}

	for _, c := range f.GetMustNot() {
		if matchCondition(c, payload) {
			return false
		}
	}

	if len(f.GetShould()) > 0 {
		for _, c := range f.GetShould() {
			if matchCondition(c, payload) {
				return true
			}
		}
		return false
	}

	return true
}

func matchCondition(c *qdrant.Condition, payload map[string]*qdrant.Value) bool {
	if nested := c.GetFilter(); nested != nil {
		return matchFilter(nested, payload)
	}

	field := c.GetField()
	if field == nil {
		panic(fmt.Sprintf("fakePoints: unsupported condition %v", c))
	}

	value, ok := payload[field.GetKey()]
	if !ok {
		return false
	}

	if r := field.GetRange(); r != nil {
		n := numberValue(value)
		return (r.Gte == nil || n >= *r.Gte) &&
			(r.Gt == nil || n > *r.Gt) &&
			(r.Lte == nil || n <= *r.Lte) &&
			(r.Lt == nil || n < *r.Lt)
	}

	switch m := field.GetMatch().GetMatchValue().(type) {
	case *qdrant.Match_Boolean:
		_, isBool := value.GetKind().(*qdrant.Value_BoolValue)
		return isBool && value.GetBoolValue() == m.Boolean
	case *qdrant.Match_Text:
		_, isString := value.GetKind().(*qdrant.Value_StringValue)
		return isString && strings.Contains(value.GetStringValue(), m.Text)
	case *qdrant.Match_Keyword:
		return containsAny(value, []string{m.Keyword})
	case *qdrant.Match_Keywords:
		return containsAny(value, m.Keywords.GetStrings())
	default:
		panic(fmt.Sprintf("fakePoints: unsupported match %T", m))
	}
}

func containsAny(value *qdrant.Value, keywords []string) bool {
	values := []*qdrant.Value{value}
	if list := value.GetListValue(); list != nil {
		values = list.GetValues()
	}

	for _, v := range values {
		for _, k := range keywords {
			if v.GetStringValue() == k {
				return true
			}
		}
	}

	return false
}
