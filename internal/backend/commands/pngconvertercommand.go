package commands

import (
	"fmt"
	"log/slog"

	"github.com/jo-hoe/gallerystore/internal/backend/commandstructure"
)

// PngConverterCommand re-encodes any supported upload (raster or SVG) as PNG.
// PNG input passes through untouched unless reencodePng is set, which strips
// ancillary chunks such as embedded metadata.
type PngConverterCommand struct {
	svgFallbackWidth  int
	svgFallbackHeight int
	reencodePng       bool
}

func NewPngConverterCommand(params map[string]any) (commandstructure.Command, error) {
	w := commandstructure.GetIntParam(params, "svgFallbackWidth", 0)
	h := commandstructure.GetIntParam(params, "svgFallbackHeight", 0)
	if w < 0 || h < 0 {
		return nil, fmt.Errorf("svg fallback size must not be negative, got %dx%d", w, h)
	}
	return &PngConverterCommand{
		svgFallbackWidth:  w,
		svgFallbackHeight: h,
		reencodePng:       commandstructure.GetBoolParam(params, "reencodePng", false),
	}, nil
}

func (c *PngConverterCommand) Name() string {
	return "PngConverterCommand"
}

func (c *PngConverterCommand) Execute(imageData []byte) ([]byte, error) {
	if hasCorrectPngSignature(imageData) && !c.reencodePng {
		return imageData, nil
	}

	src, err := decodeSource(imageData, c.svgFallbackWidth, c.svgFallbackHeight)
	if err != nil {
		return nil, err
	}
	out, err := encodePNG(src.img)
	if err != nil {
		return nil, err
	}
	slog.Debug("converted image to PNG",
		"source_format", src.format,
		"width", src.width(),
		"height", src.height(),
		"output_size_bytes", len(out))
	return out, nil
}

func init() {
	if err := commandstructure.DefaultRegistry.Register("PngConverterCommand", NewPngConverterCommand); err != nil {
		panic(fmt.Sprintf("failed to register PngConverterCommand: %v", err))
	}
}
