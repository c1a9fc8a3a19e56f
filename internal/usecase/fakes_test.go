package usecase

import (
	"context"
	"errors"
	"iter"
	"path"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/DRSN-tech/image-gallery/internal/domain"
	"github.com/DRSN-tech/image-gallery/pkg/e"
	"github.com/google/uuid"
)

// fakeIndex хранит записи в памяти и запоминает параметры запросов.
type fakeIndex struct {
	mu       sync.Mutex
	records  map[uuid.UUID]*domain.ImageRecord
	results  []domain.SearchResult
	err      error
	inserted []*domain.ImageRecord
	deleted  []uuid.UUID
	updated  []*domain.ImageRecord
	vectors  []*domain.ImageRecord
	scrolls  int

	lastVector   []float32
	lastOpts     domain.QueryOptions
	lastExamples domain.Examples
	lastID       uuid.UUID
	validated    [][]uuid.UUID
}

func newFakeIndex(records ...*domain.ImageRecord) *fakeIndex {
	f := &fakeIndex{records: make(map[uuid.UUID]*domain.ImageRecord)}
	for _, r := range records {
		f.records[r.ID] = r
	}
	return f
}

func (f *fakeIndex) cloneResults() []domain.SearchResult {
	out := make([]domain.SearchResult, len(f.results))
	for i, r := range f.results {
		rec := *r.Record
		out[i] = domain.SearchResult{Record: &rec, Score: r.Score}
	}
	return out
}

func (f *fakeIndex) QuerySearch(_ context.Context, vector []float32, opts domain.QueryOptions) ([]domain.SearchResult, error) {
	f.lastVector, f.lastOpts = vector, opts
	return f.cloneResults(), f.err
}

func (f *fakeIndex) RecommendByID(_ context.Context, id uuid.UUID, opts domain.QueryOptions) ([]domain.SearchResult, error) {
	f.lastID, f.lastOpts = id, opts
	if f.err != nil {
		return nil, f.err
	}
	return f.cloneResults(), nil
}

func (f *fakeIndex) RecommendByExamples(_ context.Context, examples domain.Examples, opts domain.QueryOptions) ([]domain.SearchResult, error) {
	f.lastExamples, f.lastOpts = examples, opts
	if f.err != nil {
		return nil, f.err
	}
	return f.cloneResults(), nil
}

func (f *fakeIndex) RandomPick(_ context.Context, opts domain.QueryOptions) ([]domain.SearchResult, error) {
	f.lastOpts = opts
	return f.cloneResults(), f.err
}

func (f *fakeIndex) RetrieveOne(_ context.Context, id uuid.UUID, _ bool) (*domain.ImageRecord, error) {
	if f.err != nil {
		return nil, f.err
	}
	r, ok := f.records[id]
	if !ok {
		return nil, e.NewPointsNotFoundError(id)
	}
	cp := *r
	return &cp, nil
}

func (f *fakeIndex) RetrieveMany(ctx context.Context, ids []uuid.UUID, withVectors bool) ([]*domain.ImageRecord, error) {
	out := make([]*domain.ImageRecord, 0, len(ids))
	for _, id := range ids {
		r, err := f.RetrieveOne(ctx, id, withVectors)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func (f *fakeIndex) Validate(_ context.Context, ids []uuid.UUID) ([]uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.validated = append(f.validated, ids)
	if f.err != nil {
		return nil, f.err
	}
	out := []uuid.UUID{}
	for _, id := range ids {
		if _, ok := f.records[id]; ok {
			out = append(out, id)
		}
	}
	return out, nil
}

func (f *fakeIndex) Count(context.Context, bool) (uint64, error) {
	return uint64(len(f.records)), f.err
}

func (f *fakeIndex) Insert(_ context.Context, records []*domain.ImageRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	for _, r := range records {
		cp := *r
		f.records[r.ID] = &cp
		f.inserted = append(f.inserted, &cp)
	}
	return nil
}

func (f *fakeIndex) Delete(_ context.Context, ids []uuid.UUID) error {
	for _, id := range ids {
		delete(f.records, id)
	}
	f.deleted = append(f.deleted, ids...)
	return nil
}

func (f *fakeIndex) UpdatePayload(_ context.Context, record *domain.ImageRecord) error {
	f.updated = append(f.updated, record)
	f.records[record.ID] = record
	return nil
}

func (f *fakeIndex) UpdateVectors(_ context.Context, records []*domain.ImageRecord) error {
	if f.err != nil {
		return f.err
	}
	for _, r := range records {
		f.vectors = append(f.vectors, r)
		if stored, ok := f.records[r.ID]; ok && len(r.TextVector) > 0 {
			stored.TextVector = r.TextVector
		}
	}
	return nil
}

// Scroll обходит записи в порядке возрастания id, как это делает Qdrant.
func (f *fakeIndex) Scroll(_ context.Context, from *uuid.UUID, count uint32, _ bool) ([]*domain.ImageRecord, *uuid.UUID, error) {
	f.scrolls++
	if f.err != nil {
		return nil, nil, f.err
	}

	ids := make([]uuid.UUID, 0, len(f.records))
	for id := range f.records {
		if from == nil || id.String() >= from.String() {
			ids = append(ids, id)
		}
	}
	slices.SortFunc(ids, func(a, b uuid.UUID) int { return strings.Compare(a.String(), b.String()) })

	var next *uuid.UUID
	if len(ids) > int(count) {
		n := ids[count]
		next = &n
		ids = ids[:count]
	}

	page := make([]*domain.ImageRecord, 0, len(ids))
	for _, id := range ids {
		cp := *f.records[id]
		page = append(page, &cp)
	}
	return page, next, nil
}

// fakeEmbedder возвращает заранее заданные векторы и считает вызовы.
type fakeEmbedder struct {
	mu      sync.Mutex
	vectors map[string][]float32
	image   []float32
	err     error
	calls   int
}

func (f *fakeEmbedder) EmbedText(_ context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if v, ok := f.vectors[text]; ok {
		return v, nil
	}
	return []float32{float32(len(text)), 1}, nil
}

func (f *fakeEmbedder) EmbedImage(context.Context, []byte) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if f.image != nil {
		return f.image, nil
	}
	return []float32{1, 0}, nil
}

type cacheKey struct {
	space domain.VectorSpace
	text  string
}

type fakeCache struct {
	data   map[cacheKey][]float32
	getErr error
}

func newFakeCache() *fakeCache {
	return &fakeCache{data: make(map[cacheKey][]float32)}
}

func (f *fakeCache) Get(_ context.Context, space domain.VectorSpace, text string) ([]float32, bool, error) {
	if f.getErr != nil {
		return nil, false, f.getErr
	}
	v, ok := f.data[cacheKey{space, text}]
	return v, ok, nil
}

func (f *fakeCache) Set(_ context.Context, space domain.VectorSpace, text string, vector []float32) error {
	f.data[cacheKey{space, text}] = vector
	return nil
}

// fakeStorage файловое хранилище в памяти с мягким удалением.
type fakeStorage struct {
	mu        sync.Mutex
	local     bool
	files     map[string][]byte
	deleted   []string
	uploadErr map[string]error
	deleteErr error
}

func newFakeStorage(local bool) *fakeStorage {
	return &fakeStorage{local: local, files: make(map[string][]byte), uploadErr: make(map[string]error)}
}

func (f *fakeStorage) URL(_ context.Context, p string) (string, error) {
	if f.local {
		return "/static/" + p, nil
	}
	return "https://s3.example/bucket/" + p + "?sig=1", nil
}

func (f *fakeStorage) IsLocal() bool { return f.local }

func (f *fakeStorage) Upload(_ context.Context, data []byte, p string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.uploadErr[p]; err != nil {
		return err
	}
	f.files[p] = data
	return nil
}

func (f *fakeStorage) UploadFile(ctx context.Context, localPath string, p string) error {
	return f.Upload(ctx, []byte(localPath), p)
}

func (f *fakeStorage) Fetch(_ context.Context, p string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.files[p]
	if !ok {
		return nil, e.ErrRemoteFileNotFound
	}
	return data, nil
}

func (f *fakeStorage) Rename(_ context.Context, oldPath string, newPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[newPath] = f.files[oldPath]
	delete(f.files, oldPath)
	return nil
}

func (f *fakeStorage) Delete(_ context.Context, p string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	if _, ok := f.files[p]; !ok {
		return e.ErrRemoteFileNotFound
	}
	f.files["_deleted/"+p] = f.files[p]
	delete(f.files, p)
	f.deleted = append(f.deleted, p)
	return nil
}

func (f *fakeStorage) ListFiles(_ context.Context, dir string, pattern string, batchSize int, extensions []string) iter.Seq2[[]string, error] {
	return func(yield func([]string, error) bool) {
		f.mu.Lock()
		var names []string
		for name := range f.files {
			if !strings.HasPrefix(name, dir+"/") {
				continue
			}
			if ok, _ := path.Match(pattern, path.Base(name)); !ok {
				continue
			}
			if slices.Contains(extensions, strings.ToLower(path.Ext(name))) {
				names = append(names, name)
			}
		}
		f.mu.Unlock()
		slices.Sort(names)

		for len(names) > 0 {
			n := min(batchSize, len(names))
			if !yield(names[:n], nil) {
				return
			}
			names = names[n:]
		}
	}
}

func (f *fakeStorage) has(p string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.files[p]
	return ok
}

type fakeThumbnails struct {
	err error
}

func (f fakeThumbnails) Generate(data []byte) (*Thumbnail, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &Thumbnail{Data: []byte("thumb"), Width: 640, Height: 480, Format: "png"}, nil
}

type fakeOutbox struct {
	mu     sync.Mutex
	events []*domain.ImageEvent
	err    error
}

func (f *fakeOutbox) Create(ctx context.Context, event *domain.ImageEvent) (*domain.ImageEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ctx.Value(inTxKey{}) == nil {
		return nil, e.ErrTransactionNotFound
	}
	if f.err != nil {
		return nil, f.err
	}
	f.events = append(f.events, event)
	return event, nil
}

func (f *fakeOutbox) GetAndMarkAsProcessing(context.Context, int) ([]*domain.ImageEvent, error) {
	return nil, nil
}

func (f *fakeOutbox) MarkAsProcessed(context.Context, int64) error { return nil }

func (f *fakeOutbox) RequeueStale(context.Context, time.Duration) (int64, error) { return 0, nil }

func (f *fakeOutbox) types() []domain.ImageEventType {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.ImageEventType, len(f.events))
	for i, ev := range f.events {
		out[i] = ev.Type
	}
	return out
}

type inTxKey struct{}

// fakeTx помечает контекст, чтобы outbox мог проверить, что запись идёт в транзакции.
type fakeTx struct {
	calls int
}

func (f *fakeTx) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	f.calls++
	return fn(context.WithValue(ctx, inTxKey{}, true))
}

var errBoom = errors.New("boom")
