package frontend

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"sync"

	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
)

const (
	placeholderWidth  = 640
	placeholderHeight = 480
)

var (
	placeholderOnce sync.Once
	placeholderPNG  []byte
	placeholderErr  error
)

// renderPlaceholderPNG rasterizes the embedded placeholder SVG once and
// serves the cached bytes afterwards. It is shown while a shelf image
// is loading or when its presigned URL cannot be produced.
func renderPlaceholderPNG() ([]byte, error) {
	placeholderOnce.Do(func() {
		svgData, err := assetsFS.ReadFile("views/placeholder.svg")
		if err != nil {
			placeholderErr = fmt.Errorf("failed to read placeholder SVG: %w", err)
			return
		}
		placeholderPNG, placeholderErr = renderSVGToPNG(svgData, placeholderWidth, placeholderHeight)
	})
	return placeholderPNG, placeholderErr
}

// renderSVGToPNG renders an SVG byte slice into a PNG with the given target dimensions.
func renderSVGToPNG(svgData []byte, targetW, targetH int) ([]byte, error) {
	if targetW <= 0 || targetH <= 0 {
		return nil, fmt.Errorf("invalid target dimensions for SVG rendering: %dx%d", targetW, targetH)
	}
	icon, err := oksvg.ReadIconStream(bytes.NewReader(svgData))
	if err != nil {
		return nil, fmt.Errorf("failed to parse SVG: %w", err)
	}

	icon.SetTarget(0, 0, float64(targetW), float64(targetH))

	dst := createTargetCanvas(targetW, targetH, color.RGBA{255, 255, 255, 255})

	scanner := rasterx.NewScannerGV(targetW, targetH, dst, dst.Bounds())
	dasher := rasterx.NewDasher(targetW, targetH, scanner)
	icon.Draw(dasher, 1.0)

	var buf bytes.Buffer
	buf.Grow(targetW * targetH)
	if err := png.Encode(&buf, dst); err != nil {
		return nil, fmt.Errorf("failed to encode rendered SVG as PNG: %w", err)
	}
	return buf.Bytes(), nil
}

func createTargetCanvas(width, height int, background color.RGBA) *image.RGBA {
	canvas := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(canvas, canvas.Bounds(), image.NewUniform(background), image.Point{}, draw.Src)
	return canvas
}
