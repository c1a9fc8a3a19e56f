package http

import (
	"context"
	"net/http"
	"strconv"

	"github.com/DRSN-tech/image-gallery/internal/usecase"
	"github.com/DRSN-tech/image-gallery/pkg/e"
	"github.com/DRSN-tech/image-gallery/pkg/logger"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type AdminHandler struct {
	adminUsecase       usecase.AdminUC
	uploadUsecase      usecase.UploadUC
	maintenanceUsecase usecase.MaintenanceUC
	maxImageSize       int64
	logger             logger.Logger
}

func NewAdminHandler(
	adminUsecase usecase.AdminUC,
	uploadUsecase usecase.UploadUC,
	maintenanceUsecase usecase.MaintenanceUC,
	maxImageSize int64,
	logger logger.Logger,
) *AdminHandler {
	return &AdminHandler{
		adminUsecase:       adminUsecase,
		uploadUsecase:      uploadUsecase,
		maintenanceUsecase: maintenanceUsecase,
		maxImageSize:       maxImageSize,
		logger:             logger,
	}
}

// deleteImage DELETE /admin/delete/{id}
func (h *AdminHandler) deleteImage(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		writeFailure(h.logger, w, r, err)
		return
	}

	if err := h.adminUsecase.DeleteImage(r.Context(), id); err != nil {
		writeFailure(h.logger, w, r, err)
		return
	}

	h.logger.Infof("image %s deleted", id)
	WriteSuccess(w, http.StatusOK, map[string]interface{}{
		"message": "Success",
	})
}

// deleteImages POST /admin/delete_batch
//
// Удаление всё или ничего: при отсутствии хотя бы одного id ответ 404 со списком отсутствующих.
func (h *AdminHandler) deleteImages(w http.ResponseWriter, r *http.Request) {
	var body DeleteImagesBody
	if err := decodeJSON(r, &body); err != nil {
		writeFailure(h.logger, w, r, err)
		return
	}

	ids := make([]uuid.UUID, 0, len(body.IDs))
	for _, raw := range body.IDs {
		id, err := parseID(raw)
		if err != nil {
			writeFailure(h.logger, w, r, err)
			return
		}
		ids = append(ids, id)
	}

	res, err := h.adminUsecase.DeleteImages(r.Context(), ids)
	if err != nil {
		writeFailure(h.logger, w, r, err)
		return
	}

	deleted := make([]string, len(res.Deleted))
	for i, id := range res.Deleted {
		deleted[i] = id.String()
	}

	WriteSuccess(w, http.StatusOK, map[string]interface{}{
		"message": "Success",
		"deleted": deleted,
	})
}

// updateOpt PUT /admin/update_opt/{id}
func (h *AdminHandler) updateOpt(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		writeFailure(h.logger, w, r, err)
		return
	}

	var body UpdateOptBody
	if err := decodeJSON(r, &body); err != nil {
		writeFailure(h.logger, w, r, err)
		return
	}

	err = h.adminUsecase.UpdateOpt(r.Context(), &usecase.UpdateOptReq{
		ID:         id,
		Starred:    body.Starred,
		Categories: body.Categories,
	})
	if err != nil {
		writeFailure(h.logger, w, r, err)
		return
	}

	WriteSuccess(w, http.StatusOK, map[string]interface{}{
		"message": "Success",
	})
}

// serverInfo GET /admin/server_info
func (h *AdminHandler) serverInfo(w http.ResponseWriter, r *http.Request) {
	info, err := h.adminUsecase.ServerInfo(r.Context())
	if err != nil {
		writeFailure(h.logger, w, r, err)
		return
	}

	WriteSuccess(w, http.StatusOK, map[string]interface{}{
		"message":     "Success",
		"image_count": info.ImageCount,
	})
}

// upload POST /admin/upload
//
// Поля формы: image_file (обязательно), ocr_text, starred, categories.
func (h *AdminHandler) upload(w http.ResponseWriter, r *http.Request) {
	const maxMemory = 32 << 20

	if h.maxImageSize > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxImageSize+(1<<20))
	}

	if err := ensureMultipartForm(r, maxMemory); err != nil {
		writeFailure(h.logger, w, r, err)
		return
	}

	data, fh, err := formFile(r, "image_file", h.maxImageSize)
	if err != nil {
		writeFailure(h.logger, w, r, err)
		return
	}

	var starred bool
	if raw := r.FormValue("starred"); raw != "" {
		if starred, err = strconv.ParseBool(raw); err != nil {
			writeFailure(h.logger, w, r, e.Wrap("starred", e.ErrStatusBadRequest))
			return
		}
	}

	res, err := h.uploadUsecase.Upload(r.Context(), &usecase.UploadReq{
		Data:       data,
		MimeType:   fh.Header.Get("Content-Type"),
		Name:       fh.Filename,
		OCRText:    r.FormValue("ocr_text"),
		Starred:    starred,
		Categories: splitCSV(r.MultipartForm.Value["categories"]),
	})
	if err != nil {
		writeFailure(h.logger, w, r, err)
		return
	}

	h.logger.Infof("image %s uploaded as %s", fh.Filename, res.Record.ID)
	WriteSuccess(w, http.StatusCreated, map[string]interface{}{
		"message":  "Success",
		"image_id": res.Record.ID.String(),
		"img":      toImageDTO(res.Record),
	})
}

// indexDirectory POST /admin/index_directory
func (h *AdminHandler) indexDirectory(w http.ResponseWriter, r *http.Request) {
	var body IndexDirectoryBody
	if err := decodeJSON(r, &body); err != nil {
		writeFailure(h.logger, w, r, err)
		return
	}

	res, err := h.uploadUsecase.IndexDirectory(r.Context(), &usecase.IndexDirectoryReq{
		Path:       body.Path,
		Pattern:    body.Pattern,
		Categories: body.Categories,
		Starred:    body.Starred,
	})
	if err != nil {
		writeFailure(h.logger, w, r, err)
		return
	}

	WriteSuccess(w, http.StatusOK, map[string]interface{}{
		"message": "Success",
		"total":   res.Total,
		"indexed": res.Indexed,
		"skipped": res.Skipped,
		"failed":  res.Failed,
	})
}

// backfillThumbnails POST /admin/maintenance/thumbnails
func (h *AdminHandler) backfillThumbnails(w http.ResponseWriter, r *http.Request) {
	h.maintenance(w, r, h.maintenanceUsecase.BackfillThumbnails)
}

// backfillTextVectors POST /admin/maintenance/ocr_vectors
func (h *AdminHandler) backfillTextVectors(w http.ResponseWriter, r *http.Request) {
	h.maintenance(w, r, h.maintenanceUsecase.BackfillTextVectors)
}

func (h *AdminHandler) maintenance(w http.ResponseWriter, r *http.Request, run func(ctx context.Context) (*usecase.MaintenanceRes, error)) {
	res, err := run(r.Context())
	if err != nil {
		writeFailure(h.logger, w, r, err)
		return
	}

	WriteSuccess(w, http.StatusOK, map[string]interface{}{
		"message": "Success",
		"scanned": res.Scanned,
		"updated": res.Updated,
		"skipped": res.Skipped,
		"failed":  res.Failed,
	})
}
