package commands

import (
	"bytes"
	"fmt"
	"image"
	"image/png"

	"github.com/jo-hoe/gallerystore/internal/backend/commandstructure"
	xdraw "golang.org/x/image/draw"
)

// FitParams bounds the output size. A nil bound leaves that axis free.
type FitParams struct {
	MaxWidth  *int
	MaxHeight *int
}

func NewFitParamsFromMap(params map[string]any) (*FitParams, error) {
	_, hasWidth := params["maxWidth"]
	_, hasHeight := params["maxHeight"]
	if !hasWidth && !hasHeight {
		return nil, fmt.Errorf("at least one of 'maxWidth' or 'maxHeight' must be specified")
	}

	result := &FitParams{}
	if hasWidth {
		w := commandstructure.GetIntParam(params, "maxWidth", 0)
		if w <= 0 {
			return nil, fmt.Errorf("maxWidth must be positive, got %d", w)
		}
		result.MaxWidth = &w
	}
	if hasHeight {
		h := commandstructure.GetIntParam(params, "maxHeight", 0)
		if h <= 0 {
			return nil, fmt.Errorf("maxHeight must be positive, got %d", h)
		}
		result.MaxHeight = &h
	}
	return result, nil
}

// FitCommand downscales a PNG so it fits the configured box while keeping
// its aspect ratio. Images that already fit are returned unchanged.
type FitCommand struct {
	params *FitParams
}

func NewFitCommand(params map[string]any) (commandstructure.Command, error) {
	typed, err := NewFitParamsFromMap(params)
	if err != nil {
		return nil, err
	}
	return &FitCommand{params: typed}, nil
}

func (c *FitCommand) Name() string {
	return "FitCommand"
}

func (c *FitCommand) GetParams() *FitParams {
	return c.params
}

func (c *FitCommand) Execute(imageData []byte) ([]byte, error) {
	img, err := png.Decode(bytes.NewReader(imageData))
	if err != nil {
		return nil, fmt.Errorf("failed to decode PNG image: %w", err)
	}
	w, h := fitSize(img.Bounds().Dx(), img.Bounds().Dy(), c.params.MaxWidth, c.params.MaxHeight)
	if w == img.Bounds().Dx() && h == img.Bounds().Dy() {
		return imageData, nil
	}
	return encodePNG(resample(img, w, h))
}

// fitSize returns the largest size not exceeding the bounds that keeps the
// aspect ratio of srcW x srcH. It never upscales and never returns 0.
func fitSize(srcW, srcH int, maxW, maxH *int) (int, int) {
	if srcW <= 0 || srcH <= 0 {
		return srcW, srcH
	}
	scale := 1.0
	if maxW != nil && srcW > *maxW {
		scale = min(scale, float64(*maxW)/float64(srcW))
	}
	if maxH != nil && srcH > *maxH {
		scale = min(scale, float64(*maxH)/float64(srcH))
	}
	if scale >= 1 {
		return srcW, srcH
	}
	w := max(1, int(float64(srcW)*scale+0.5))
	h := max(1, int(float64(srcH)*scale+0.5))
	if maxW != nil {
		w = min(w, *maxW)
	}
	if maxH != nil {
		h = min(h, *maxH)
	}
	return w, h
}

func resample(src image.Image, w, h int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), xdraw.Src, nil)
	return dst
}

func init() {
	if err := commandstructure.DefaultRegistry.Register("FitCommand", NewFitCommand); err != nil {
		panic(fmt.Sprintf("failed to register FitCommand: %v", err))
	}
}
