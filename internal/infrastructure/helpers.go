package infrastructure

import (
	"path"
	"slices"
	"strings"

	"github.com/DRSN-tech/image-gallery/pkg/e"
)

// GetExtensionFromMIME возвращает расширение файла по MIME-типу изображения.
// Поддерживает jpeg, jpg, png, webp, gif. Возвращает ошибку e.ErrUnsupportedMediaType для неподдерживаемых типов.
func GetExtensionFromMIME(mime string) (string, error) {
	switch mime {
	case "image/jpeg", "image/jpg":
		return "jpg", nil
	case "image/png":
		return "png", nil
	case "image/webp":
		return "webp", nil
	case "image/gif":
		return "gif", nil
	default:
		return "bin", e.ErrUnsupportedMediaType
	}
}

// DefaultImageExtensions расширения, которые считаются изображениями при обходе каталогов
var DefaultImageExtensions = []string{".jpg", ".png", ".jpeg", ".jfif", ".webp", ".gif"}

// MatchImageFile проверяет файл при обходе каталога: имя подходит под glob-шаблон,
// расширение входит в extensions (без учёта регистра). Пустой шаблон означает "*".
func MatchImageFile(name string, pattern string, extensions []string) bool {
	if strings.HasSuffix(name, "/") {
		return false
	}

	if pattern == "" {
		pattern = "*"
	}
	if ok, err := path.Match(pattern, path.Base(name)); err != nil || !ok {
		return false
	}

	if len(extensions) == 0 {
		extensions = DefaultImageExtensions
	}

	return slices.Contains(extensions, strings.ToLower(path.Ext(name)))
}
