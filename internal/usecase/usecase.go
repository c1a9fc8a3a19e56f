package usecase

import (
	"context"

	"github.com/google/uuid"
)

type SearchUC interface {
	TextSearch(ctx context.Context, req *TextSearchReq) (*SearchRes, error)
	ImageSearch(ctx context.Context, req *ImageSearchReq) (*SearchRes, error)
	SimilarSearch(ctx context.Context, req *SimilarSearchReq) (*SearchRes, error)
	AdvancedSearch(ctx context.Context, req *AdvancedSearchReq) (*SearchRes, error)
	CombinedSearch(ctx context.Context, req *CombinedSearchReq) (*SearchRes, error)
	RandomPick(ctx context.Context, req *RandomPickReq) (*SearchRes, error)
}

type AdminUC interface {
	DeleteImage(ctx context.Context, id uuid.UUID) error
	DeleteImages(ctx context.Context, ids []uuid.UUID) (*DeleteImagesRes, error)
	UpdateOpt(ctx context.Context, req *UpdateOptReq) error
	ServerInfo(ctx context.Context) (*ServerInfoRes, error)
}

type UploadUC interface {
	Upload(ctx context.Context, req *UploadReq) (*UploadRes, error)
	IndexDirectory(ctx context.Context, req *IndexDirectoryReq) (*IndexDirectoryRes, error)
}

type MaintenanceUC interface {
	BackfillThumbnails(ctx context.Context) (*MaintenanceRes, error)
	BackfillTextVectors(ctx context.Context) (*MaintenanceRes, error)
}
