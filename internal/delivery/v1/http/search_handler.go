package http

import (
	"net/http"
	"net/url"
	"strconv"

	"github.com/DRSN-tech/image-gallery/internal/domain"
	"github.com/DRSN-tech/image-gallery/internal/usecase"
	"github.com/DRSN-tech/image-gallery/pkg/e"
	"github.com/DRSN-tech/image-gallery/pkg/logger"
	"github.com/go-chi/chi/v5"
)

type SearchHandler struct {
	searchUsecase usecase.SearchUC
	maxImageSize  int64
	logger        logger.Logger
}

func NewSearchHandler(searchUsecase usecase.SearchUC, maxImageSize int64, logger logger.Logger) *SearchHandler {
	return &SearchHandler{searchUsecase: searchUsecase, maxImageSize: maxImageSize, logger: logger}
}

// common общие параметры всех видов поиска
type common struct {
	basis  usecase.SearchBasis
	filter *domain.FilterParams
	paging usecase.Paging
}

func parseCommon(q url.Values) (*common, error) {
	basis, err := usecase.ParseSearchBasis(q.Get("basis"))
	if err != nil {
		return nil, err
	}

	filter, err := parseFilter(q)
	if err != nil {
		return nil, err
	}

	paging, err := parsePaging(q)
	if err != nil {
		return nil, err
	}

	return &common{basis: basis, filter: filter, paging: paging}, nil
}

// textSearch GET /search/text/{prompt}?basis=&exact=
func (h *SearchHandler) textSearch(w http.ResponseWriter, r *http.Request) {
	c, err := parseCommon(r.URL.Query())
	if err != nil {
		h.fail(w, r, err)
		return
	}

	prompt := chi.URLParam(r, "prompt")
	if unescaped, err := url.PathUnescape(prompt); err == nil {
		prompt = unescaped
	}

	var exact bool
	if raw := r.URL.Query().Get("exact"); raw != "" {
		if exact, err = strconv.ParseBool(raw); err != nil {
			h.fail(w, r, e.Wrap("exact", e.ErrStatusBadRequest))
			return
		}
	}

	res, err := h.searchUsecase.TextSearch(r.Context(), &usecase.TextSearchReq{
		Prompt: prompt,
		Basis:  c.basis,
		Exact:  exact,
		Filter: c.filter,
		Paging: c.paging,
	})
	h.respond(w, r, res, err)
}

// imageSearch POST /search/image, поле формы image
func (h *SearchHandler) imageSearch(w http.ResponseWriter, r *http.Request) {
	const maxMemory = 32 << 20

	c, err := parseCommon(r.URL.Query())
	if err != nil {
		h.fail(w, r, err)
		return
	}

	if h.maxImageSize > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxImageSize+(1<<20))
	}

	if err := ensureMultipartForm(r, maxMemory); err != nil {
		h.fail(w, r, err)
		return
	}

	data, _, err := formFile(r, "image", h.maxImageSize)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	res, err := h.searchUsecase.ImageSearch(r.Context(), &usecase.ImageSearchReq{
		Image:  data,
		Filter: c.filter,
		Paging: c.paging,
	})
	h.respond(w, r, res, err)
}

// similarSearch GET /search/similar/{id}?basis=
func (h *SearchHandler) similarSearch(w http.ResponseWriter, r *http.Request) {
	c, err := parseCommon(r.URL.Query())
	if err != nil {
		h.fail(w, r, err)
		return
	}

	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	res, err := h.searchUsecase.SimilarSearch(r.Context(), &usecase.SimilarSearchReq{
		ID:     id,
		Basis:  c.basis,
		Filter: c.filter,
		Paging: c.paging,
	})
	h.respond(w, r, res, err)
}

// advancedSearch POST /search/advanced?basis=&mode=
func (h *SearchHandler) advancedSearch(w http.ResponseWriter, r *http.Request) {
	var body AdvancedSearchBody
	if err := decodeJSON(r, &body); err != nil {
		h.fail(w, r, err)
		return
	}

	req, err := advancedRequest(r.URL.Query(), &body)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	res, err := h.searchUsecase.AdvancedSearch(r.Context(), req)
	h.respond(w, r, res, err)
}

// combinedSearch POST /search/combined?basis=&mode=
func (h *SearchHandler) combinedSearch(w http.ResponseWriter, r *http.Request) {
	var body CombinedSearchBody
	if err := decodeJSON(r, &body); err != nil {
		h.fail(w, r, err)
		return
	}

	req, err := advancedRequest(r.URL.Query(), &body.AdvancedSearchBody)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	res, err := h.searchUsecase.CombinedSearch(r.Context(), &usecase.CombinedSearchReq{
		AdvancedSearchReq: *req,
		ExtraPrompt:       body.ExtraPrompt,
	})
	h.respond(w, r, res, err)
}

// randomPick GET /search/random
func (h *SearchHandler) randomPick(w http.ResponseWriter, r *http.Request) {
	c, err := parseCommon(r.URL.Query())
	if err != nil {
		h.fail(w, r, err)
		return
	}

	res, err := h.searchUsecase.RandomPick(r.Context(), &usecase.RandomPickReq{
		Filter: c.filter,
		Paging: c.paging,
	})
	h.respond(w, r, res, err)
}

func advancedRequest(q url.Values, body *AdvancedSearchBody) (*usecase.AdvancedSearchReq, error) {
	c, err := parseCommon(q)
	if err != nil {
		return nil, err
	}

	mode, err := usecase.ParseSearchMode(q.Get("mode"))
	if err != nil {
		return nil, err
	}

	return &usecase.AdvancedSearchReq{
		Criteria:         body.Criteria,
		NegativeCriteria: body.NegativeCriteria,
		Mode:             mode,
		Basis:            c.basis,
		Filter:           c.filter,
		Paging:           c.paging,
	}, nil
}

func (h *SearchHandler) respond(w http.ResponseWriter, r *http.Request, res *usecase.SearchRes, err error) {
	if err != nil {
		h.fail(w, r, err)
		return
	}

	WriteSuccess(w, http.StatusOK, toSearchResponse(res))
}

func (h *SearchHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	writeFailure(h.logger, w, r, err)
}
