package http

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/DRSN-tech/image-gallery/internal/cfg"
	"github.com/DRSN-tech/image-gallery/pkg/e"
	"github.com/DRSN-tech/image-gallery/pkg/logger"
)

// adminAuth пропускает запрос только с заголовком Authorization: Bearer <ADMIN_TOKEN>.
// Выключенный admin API отвечает 403 на любой запрос.
func adminAuth(cfg *cfg.AdminCfg, log logger.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg == nil || !cfg.Enabled {
				writeFailure(log, w, r, e.ErrAdminAPIDisabled)
				return
			}

			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(cfg.Token)) != 1 {
				writeFailure(log, w, r, e.ErrUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// staticFiles раздаёт локальное хранилище, скрывая корзину _deleted
func staticFiles(root string) http.Handler {
	files := http.FileServer(http.Dir(root))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(strings.TrimPrefix(r.URL.Path, "/"), "_deleted") {
			http.NotFound(w, r)
			return
		}

		files.ServeHTTP(w, r)
	})
}
