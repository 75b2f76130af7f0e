package commands

import (
	"bytes"
	"context"
	"fmt"
	"image/png"
	"log/slog"
	"time"

	"github.com/jo-hoe/gallerystore/internal/backend/commandstructure"
	"golang.org/x/sync/errgroup"
)

const pngContentType = "image/png"

// Rendition is one encoded derivative and its pixel size.
type Rendition struct {
	Data        []byte
	Width       int
	Height      int
	ContentType string
}

func (r Rendition) Size() int64 { return int64(len(r.Data)) }

// Derivatives is everything produced from one upload. HighRes is only set
// when the source exceeds the high-res threshold.
type Derivatives struct {
	Primary      Rendition
	Thumbnail    Rendition
	HighRes      *Rendition
	SourceFormat string
	SourceWidth  int
	SourceHeight int
}

type PipelineConfig struct {
	ThumbnailWidth    int
	PrimaryMaxWidth   int
	PrimaryMaxHeight  int
	HighResThreshold  int
	SVGFallbackWidth  int
	SVGFallbackHeight int
	// Commands run on the primary after it has been fitted.
	Commands []commandstructure.CommandConfig
}

func (c PipelineConfig) withDefaults() PipelineConfig {
	if c.ThumbnailWidth <= 0 {
		c.ThumbnailWidth = 200
	}
	if c.PrimaryMaxWidth <= 0 {
		c.PrimaryMaxWidth = 1600
	}
	if c.PrimaryMaxHeight <= 0 {
		c.PrimaryMaxHeight = 1600
	}
	if c.HighResThreshold <= 0 {
		c.HighResThreshold = 2000
	}
	if c.SVGFallbackWidth <= 0 {
		c.SVGFallbackWidth = 1024
	}
	if c.SVGFallbackHeight <= 0 {
		c.SVGFallbackHeight = 1024
	}
	return c
}

// Pipeline derives the primary, thumbnail and optional high-res renditions of
// an upload. It has no side effects beyond CPU and memory.
type Pipeline struct {
	cfg          PipelineConfig
	primarySteps *commandstructure.CommandInvoker
}

func NewPipeline(cfg PipelineConfig) (*Pipeline, error) {
	cfg = cfg.withDefaults()
	steps, err := commandstructure.BuildCommands(cfg.Commands)
	if err != nil {
		return nil, fmt.Errorf("invalid media commands: %w", err)
	}
	return &Pipeline{cfg: cfg, primarySteps: commandstructure.NewCommandInvoker(steps)}, nil
}

func (p *Pipeline) Derive(ctx context.Context, raw []byte) (*Derivatives, error) {
	start := time.Now()
	src, err := decodeSource(raw, p.cfg.SVGFallbackWidth, p.cfg.SVGFallbackHeight)
	if err != nil {
		return nil, err
	}
	out := &Derivatives{
		SourceFormat: src.format,
		SourceWidth:  src.width(),
		SourceHeight: src.height(),
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		w, h := fitSize(src.width(), src.height(), &p.cfg.PrimaryMaxWidth, &p.cfg.PrimaryMaxHeight)
		data, err := encodePNG(resample(src.img, w, h))
		if err != nil {
			return fmt.Errorf("primary: %w", err)
		}
		if p.primarySteps.Len() > 0 {
			if data, err = p.primarySteps.Execute(data); err != nil {
				return fmt.Errorf("primary: %w", err)
			}
		}
		r, err := measure(data)
		if err != nil {
			return fmt.Errorf("primary: %w", err)
		}
		out.Primary = r
		return ctx.Err()
	})
	g.Go(func() error {
		w, h := fitSize(src.width(), src.height(), &p.cfg.ThumbnailWidth, nil)
		data, err := encodePNG(resample(src.img, w, h))
		if err != nil {
			return fmt.Errorf("thumbnail: %w", err)
		}
		out.Thumbnail = Rendition{Data: data, Width: w, Height: h, ContentType: pngContentType}
		return ctx.Err()
	})
	if max(src.width(), src.height()) > p.cfg.HighResThreshold {
		g.Go(func() error {
			data := raw
			if !hasCorrectPngSignature(raw) {
				var err error
				if data, err = encodePNG(src.img); err != nil {
					return fmt.Errorf("high-res: %w", err)
				}
			}
			out.HighRes = &Rendition{Data: data, Width: src.width(), Height: src.height(), ContentType: pngContentType}
			return ctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	slog.Debug("derived renditions",
		"source_format", out.SourceFormat,
		"source_width", out.SourceWidth,
		"source_height", out.SourceHeight,
		"high_res", out.HighRes != nil,
		"duration_ms", time.Since(start).Milliseconds())
	return out, nil
}

// measure reads the size of an encoded PNG.
func measure(data []byte) (Rendition, error) {
	cfg, err := png.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Rendition{}, fmt.Errorf("command output is not a PNG: %w", err)
	}
	return Rendition{Data: data, Width: cfg.Width, Height: cfg.Height, ContentType: pngContentType}, nil
}
