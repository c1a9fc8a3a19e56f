package usecase

import (
	"context"
	"testing"

	"github.com/DRSN-tech/image-gallery/internal/domain"
	"github.com/DRSN-tech/image-gallery/pkg/e"
	"github.com/DRSN-tech/image-gallery/pkg/logger"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMaintenanceUC(index *fakeIndex, storage *fakeStorage, text TextEmbedder, thumbs ThumbnailGenerator, outbox *fakeOutbox) *MaintenanceUseCase {
	return NewMaintenanceUC(index, text, thumbs, storage, outbox, &fakeTx{}, 2, logger.Nop{})
}

func TestMaintenanceUseCase_BackfillThumbnails(t *testing.T) {
	storage := newFakeStorage(true)

	withThumb := storedRecord(storage)

	noThumb := storedRecord(storage)
	delete(storage.files, "thumbnails/"+noThumb.ID.String()+".jpg")
	noThumb.ThumbnailURL, noThumb.LocalThumbnail = "", false

	missingFile := &domain.ImageRecord{ID: uuid.New(), URL: "/static/gone.jpg", Local: true}
	external := &domain.ImageRecord{ID: uuid.New(), URL: "https://cdn.example/a.jpg"}

	index := newFakeIndex(withThumb, noThumb, missingFile, external)
	outbox := &fakeOutbox{}
	uc := newMaintenanceUC(index, storage, nil, fakeThumbnails{}, outbox)

	res, err := uc.BackfillThumbnails(context.Background())
	require.NoError(t, err)

	assert.Equal(t, &MaintenanceRes{Scanned: 4, Updated: 1, Skipped: 1, Failed: 1}, res)
	assert.Equal(t, 2, index.scrolls, "four records are read in pages of two")

	require.Len(t, index.updated, 1)
	updated := index.updated[0]
	assert.Equal(t, noThumb.ID, updated.ID)
	assert.Equal(t, "/static/thumbnails/"+noThumb.ID.String()+".jpg", updated.ThumbnailURL)
	assert.True(t, updated.LocalThumbnail)
	assert.True(t, storage.has("thumbnails/"+noThumb.ID.String()+".jpg"))
	assert.Equal(t, []domain.ImageEventType{domain.ImageUpdated}, outbox.types())
}

func TestMaintenanceUseCase_BackfillThumbnailsRemoteStorage(t *testing.T) {
	storage := newFakeStorage(false)
	id := uuid.New()
	storage.files[id.String()+".png"] = []byte("image")
	index := newFakeIndex(&domain.ImageRecord{ID: id, URL: id.String() + ".png"})

	res, err := newMaintenanceUC(index, storage, nil, fakeThumbnails{}, &fakeOutbox{}).BackfillThumbnails(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Updated)

	require.Len(t, index.updated, 1)
	assert.Equal(t, "thumbnails/"+id.String()+".jpg", index.updated[0].ThumbnailURL)
	assert.False(t, index.updated[0].LocalThumbnail)
}

func TestMaintenanceUseCase_BackfillThumbnailsIndexUnavailable(t *testing.T) {
	index := newFakeIndex()
	index.err = e.ErrBackendUnavailable

	_, err := newMaintenanceUC(index, newFakeStorage(true), nil, fakeThumbnails{}, &fakeOutbox{}).BackfillThumbnails(context.Background())
	require.ErrorIs(t, err, e.ErrBackendUnavailable)
}

func TestMaintenanceUseCase_BackfillTextVectors(t *testing.T) {
	pending := &domain.ImageRecord{ID: uuid.New(), OCRText: "hello", ImageVector: []float32{1, 0}}
	done := &domain.ImageRecord{ID: uuid.New(), OCRText: "world", TextVector: []float32{0, 1}}
	noText := &domain.ImageRecord{ID: uuid.New(), ImageVector: []float32{0, 1}}
	index := newFakeIndex(pending, done, noText)

	text := &fakeEmbedder{vectors: map[string][]float32{"hello": {0.5, 0.5}}}
	uc := newMaintenanceUC(index, newFakeStorage(true), text, fakeThumbnails{}, &fakeOutbox{})

	res, err := uc.BackfillTextVectors(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &MaintenanceRes{Scanned: 3, Updated: 1}, res)
	assert.Equal(t, 1, text.calls)

	require.Len(t, index.vectors, 1)
	assert.Equal(t, pending.ID, index.vectors[0].ID)
	assert.Equal(t, []float32{0.5, 0.5}, index.vectors[0].TextVector)
	assert.Nil(t, index.vectors[0].ImageVector, "image vector must not be rewritten")
}

func TestMaintenanceUseCase_BackfillTextVectorsErrors(t *testing.T) {
	index := newFakeIndex(&domain.ImageRecord{ID: uuid.New(), OCRText: "hello"})

	_, err := newMaintenanceUC(index, newFakeStorage(true), nil, fakeThumbnails{}, &fakeOutbox{}).BackfillTextVectors(context.Background())
	require.ErrorIs(t, err, e.ErrEmbedderDisabled)

	text := &fakeEmbedder{err: e.ErrBackendUnavailable}
	_, err = newMaintenanceUC(index, newFakeStorage(true), text, fakeThumbnails{}, &fakeOutbox{}).BackfillTextVectors(context.Background())
	require.ErrorIs(t, err, e.ErrBackendUnavailable)
	assert.Empty(t, index.vectors)

	text = &fakeEmbedder{err: e.ErrVectorSizeInvalid}
	res, err := newMaintenanceUC(index, newFakeStorage(true), text, fakeThumbnails{}, &fakeOutbox{}).BackfillTextVectors(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
}
