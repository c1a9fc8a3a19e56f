package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DRSN-tech/image-gallery/internal/cfg"
	"github.com/DRSN-tech/image-gallery/internal/domain"
	"github.com/DRSN-tech/image-gallery/internal/usecase"
	"github.com/DRSN-tech/image-gallery/pkg/logger"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

const adminToken = "secret-token"

var fixedID = uuid.MustParse("6f0f7a5e-6c7b-5b0a-9d1e-0a1b2c3d4e5f")

type fakeSearch struct {
	res  *usecase.SearchRes
	err  error
	last any
}

func (f *fakeSearch) reply(req any) (*usecase.SearchRes, error) {
	f.last = req
	if f.err != nil {
		return nil, f.err
	}
	if f.res == nil {
		return usecase.NewSearchRes(nil), nil
	}
	return f.res, nil
}

func (f *fakeSearch) TextSearch(_ context.Context, req *usecase.TextSearchReq) (*usecase.SearchRes, error) {
	return f.reply(req)
}

func (f *fakeSearch) ImageSearch(_ context.Context, req *usecase.ImageSearchReq) (*usecase.SearchRes, error) {
	return f.reply(req)
}

func (f *fakeSearch) SimilarSearch(_ context.Context, req *usecase.SimilarSearchReq) (*usecase.SearchRes, error) {
	return f.reply(req)
}

func (f *fakeSearch) AdvancedSearch(_ context.Context, req *usecase.AdvancedSearchReq) (*usecase.SearchRes, error) {
	return f.reply(req)
}

func (f *fakeSearch) CombinedSearch(_ context.Context, req *usecase.CombinedSearchReq) (*usecase.SearchRes, error) {
	return f.reply(req)
}

func (f *fakeSearch) RandomPick(_ context.Context, req *usecase.RandomPickReq) (*usecase.SearchRes, error) {
	return f.reply(req)
}

type fakeAdmin struct {
	err     error
	deleted []uuid.UUID
	updated *usecase.UpdateOptReq
	count   uint64
}

func (f *fakeAdmin) DeleteImage(_ context.Context, id uuid.UUID) error {
	if f.err != nil {
		return f.err
	}
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeAdmin) DeleteImages(_ context.Context, ids []uuid.UUID) (*usecase.DeleteImagesRes, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.deleted = append(f.deleted, ids...)
	return &usecase.DeleteImagesRes{Deleted: ids}, nil
}

func (f *fakeAdmin) UpdateOpt(_ context.Context, req *usecase.UpdateOptReq) error {
	f.updated = req
	return f.err
}

func (f *fakeAdmin) ServerInfo(context.Context) (*usecase.ServerInfoRes, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &usecase.ServerInfoRes{ImageCount: f.count}, nil
}

type fakeUpload struct {
	err     error
	last    *usecase.UploadReq
	lastDir *usecase.IndexDirectoryReq
	dirRes  *usecase.IndexDirectoryRes
}

func (f *fakeUpload) Upload(_ context.Context, req *usecase.UploadReq) (*usecase.UploadRes, error) {
	f.last = req
	if f.err != nil {
		return nil, f.err
	}

	record := domain.NewImageRecord(fixedID, "/static/"+fixedID.String()+".png", "png", 4, 2)
	record.Categories = req.Categories
	record.Starred = req.Starred
	return &usecase.UploadRes{Record: record}, nil
}

func (f *fakeUpload) IndexDirectory(_ context.Context, req *usecase.IndexDirectoryReq) (*usecase.IndexDirectoryRes, error) {
	f.lastDir = req
	if f.err != nil {
		return nil, f.err
	}
	return f.dirRes, nil
}

type fakeMaintenance struct {
	res   *usecase.MaintenanceRes
	err   error
	calls []string
}

func (f *fakeMaintenance) run(name string) (*usecase.MaintenanceRes, error) {
	f.calls = append(f.calls, name)
	if f.err != nil {
		return nil, f.err
	}
	if f.res == nil {
		return &usecase.MaintenanceRes{}, nil
	}
	return f.res, nil
}

func (f *fakeMaintenance) BackfillThumbnails(context.Context) (*usecase.MaintenanceRes, error) {
	return f.run("thumbnails")
}

func (f *fakeMaintenance) BackfillTextVectors(context.Context) (*usecase.MaintenanceRes, error) {
	return f.run("ocr_vectors")
}

type testDeps struct {
	search      *fakeSearch
	admin       *fakeAdmin
	upload      *fakeUpload
	maintenance *fakeMaintenance
}

func newTestServer(t *testing.T, adminEnabled bool, staticRoot string) (*httptest.Server, *testDeps) {
	t.Helper()

	deps := &testDeps{
		search:      &fakeSearch{},
		admin:       &fakeAdmin{},
		upload:      &fakeUpload{},
		maintenance: &fakeMaintenance{},
	}

	r := chi.NewRouter()
	NewRouter(r, logger.Nop{}).Init(&Deps{
		Search:       deps.search,
		Admin:        deps.admin,
		Upload:       deps.upload,
		Maintenance:  deps.maintenance,
		AdminCfg:     &cfg.AdminCfg{Enabled: adminEnabled, Token: adminToken},
		MaxImageSize: 1 << 20,
		StaticRoot:   staticRoot,
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	return srv, deps
}

func sampleResult(score float32) domain.SearchResult {
	record := domain.NewImageRecord(fixedID, "/static/a.jpg", "jpeg", 1920, 1080)
	record.IndexDate = time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	record.ThumbnailURL = "/static/thumbnails/a.jpg"
	return domain.SearchResult{Record: record, Score: score}
}

func do(t *testing.T, req *http.Request) *http.Response {
	t.Helper()

	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	t.Cleanup(func() { _ = res.Body.Close() })

	return res
}
