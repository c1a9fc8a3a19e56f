package thumbnail

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/DRSN-tech/image-gallery/internal/usecase"
	"github.com/DRSN-tech/image-gallery/pkg/e"
	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"
)

const (
	defaultSize = 256
	jpegQuality = 80
)

// Generator строит JPEG-миниатюры, вписанные в квадрат size x size
type Generator struct {
	size int
}

func NewGenerator(size int) *Generator {
	if size <= 0 {
		size = defaultSize
	}

	return &Generator{size: size}
}

// Generate возвращает миниатюру вместе с форматом и размерами исходного изображения.
// Ориентация из EXIF применяется до масштабирования.
func (g *Generator) Generate(data []byte) (*usecase.Thumbnail, error) {
	const op = "Generator.Generate"

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, e.Wrap(op, fmt.Errorf("%w: %v", e.ErrUnsupportedMediaType, err))
	}

	src, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, e.Wrap(op, fmt.Errorf("%w: %v", e.ErrUnsupportedMediaType, err))
	}

	thumb := imaging.Fit(src, g.size, g.size, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, thumb, imaging.JPEG, imaging.JPEGQuality(jpegQuality)); err != nil {
		return nil, e.Wrap(op, err)
	}

	// после поворота по EXIF ширина и высота могут поменяться местами
	width, height := cfg.Width, cfg.Height
	if b := src.Bounds(); b.Dx() == cfg.Height && b.Dy() == cfg.Width {
		width, height = height, width
	}

	return &usecase.Thumbnail{
		Data:   buf.Bytes(),
		Width:  width,
		Height: height,
		Format: format,
	}, nil
}
