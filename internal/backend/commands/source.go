package commands

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"strings"

	_ "image/gif"
	_ "image/jpeg"

	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

var pngSignature = []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A}

func hasCorrectPngSignature(data []byte) bool {
	return len(data) >= len(pngSignature) && bytes.Equal(data[:len(pngSignature)], pngSignature)
}

// isSVGData looks for an svg root or namespace in the first 4KB.
func isSVGData(data []byte) bool {
	if len(data) == 0 {
		return false
	}
	n := min(len(data), 4096)
	header := bytes.ToLower(bytes.TrimSpace(data[:n]))
	return bytes.Contains(header, []byte("<svg")) ||
		bytes.Contains(header, []byte(`xmlns="http://www.w3.org/2000/svg"`)) ||
		bytes.Contains(header, []byte(`xmlns='http://www.w3.org/2000/svg'`))
}

// sourceImage is an upload decoded into pixels.
type sourceImage struct {
	img    image.Image
	format string
}

func (s sourceImage) width() int  { return s.img.Bounds().Dx() }
func (s sourceImage) height() int { return s.img.Bounds().Dy() }

// decodeSource turns raw upload bytes into an image. SVG input is rasterized
// at its declared size, or at the fallback size when it declares none.
func decodeSource(data []byte, svgFallbackWidth, svgFallbackHeight int) (sourceImage, error) {
	if len(data) == 0 {
		return sourceImage{}, fmt.Errorf("image data is empty")
	}
	if !hasCorrectPngSignature(data) && isSVGData(data) {
		w, h, ok := parseSvgExplicitSize(data)
		if !ok {
			w, h = svgFallbackWidth, svgFallbackHeight
		}
		if w <= 0 || h <= 0 {
			return sourceImage{}, fmt.Errorf("SVG declares no size and no fallback size is configured")
		}
		img, err := rasterizeSVG(data, w, h)
		if err != nil {
			return sourceImage{}, err
		}
		return sourceImage{img: img, format: "svg"}, nil
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return sourceImage{}, fmt.Errorf("failed to decode image: %w", err)
	}
	if img.Bounds().Empty() {
		return sourceImage{}, fmt.Errorf("decoded image has no pixels")
	}
	return sourceImage{img: img, format: format}, nil
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode PNG: %w", err)
	}
	return buf.Bytes(), nil
}

// parseSvgExplicitSize reads width and height from the svg start tag.
// A viewBox alone is not treated as a pixel size.
func parseSvgExplicitSize(data []byte) (int, int, bool) {
	n := min(len(data), 8192)
	s := strings.ToLower(string(data[:n]))
	i := strings.Index(s, "<svg")
	if i < 0 {
		return 0, 0, false
	}
	tag := s[i:]
	if j := strings.Index(tag, ">"); j >= 0 {
		tag = tag[:j]
	}

	w, wOk := parseNumericAttr(tag, "width")
	h, hOk := parseNumericAttr(tag, "height")
	if wOk && hOk {
		return w, h, true
	}
	return 0, 0, false
}

// parseNumericAttr extracts the leading integer of a quoted attribute value,
// e.g. 123 from width="123px".
func parseNumericAttr(tag, attr string) (int, bool) {
	pos := -1
	for from := 0; from < len(tag); {
		k := strings.Index(tag[from:], attr)
		if k < 0 {
			break
		}
		k += from
		// skip matches inside longer names such as stroke-width
		if k == 0 || tag[k-1] == ' ' || tag[k-1] == '\t' || tag[k-1] == '\n' {
			pos = k + len(attr)
			break
		}
		from = k + len(attr)
	}
	if pos < 0 {
		return 0, false
	}

	rest := strings.TrimLeft(tag[pos:], " \t\n")
	if !strings.HasPrefix(rest, "=") {
		return 0, false
	}
	rest = strings.TrimLeft(rest[1:], " \t\n")
	if rest == "" || (rest[0] != '"' && rest[0] != '\'') {
		return 0, false
	}
	quote := rest[0]
	val := rest[1:]
	if end := strings.IndexByte(val, quote); end >= 0 {
		val = val[:end]
	}

	num, digits := 0, 0
	for _, ch := range strings.TrimSpace(val) {
		if ch < '0' || ch > '9' {
			break
		}
		num = num*10 + int(ch-'0')
		digits++
	}
	if digits == 0 || num <= 0 {
		return 0, false
	}
	return num, true
}

func rasterizeSVG(svgData []byte, targetW, targetH int) (*image.RGBA, error) {
	icon, err := oksvg.ReadIconStream(bytes.NewReader(svgData))
	if err != nil {
		return nil, fmt.Errorf("failed to parse SVG: %w", err)
	}
	icon.SetTarget(0, 0, float64(targetW), float64(targetH))

	dst := image.NewRGBA(image.Rect(0, 0, targetW, targetH))
	draw.Draw(dst, dst.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)

	scanner := rasterx.NewScannerGV(targetW, targetH, dst, dst.Bounds())
	icon.Draw(rasterx.NewDasher(targetW, targetH, scanner), 1.0)
	return dst, nil
}
