// Package render draws detection overlays onto frames.
package render

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"sync"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"media-annotator/internal/domain"
)

const (
	unknownClass    = "Unknown"
	strokeThickness = 2
)

// Renderer composes annotation overlays. It keeps no per-frame state, so
// the same frame and inputs always produce the same output.
type Renderer struct {
	palette *Palette
	face    font.Face

	mu    sync.RWMutex
	names map[int]string
}

// NewRenderer creates a renderer drawing with palette and class names.
func NewRenderer(palette *Palette, names map[int]string) *Renderer {
	if palette == nil {
		palette = NewPalette()
	}
	return &Renderer{
		palette: palette,
		face:    basicfont.Face7x13,
		names:   copyNames(names),
	}
}

// SetModel swaps class names and resets class colors for a newly loaded model.
func (r *Renderer) SetModel(names map[int]string) {
	r.mu.Lock()
	r.names = copyNames(names)
	r.mu.Unlock()
	r.palette.Reset()
}

// Palette exposes the class color cache.
func (r *Renderer) Palette() *Palette {
	return r.palette
}

// ClassName returns the display name for classID.
func (r *Renderer) ClassName(classID int) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if name, ok := r.names[classID]; ok && name != "" {
		return name
	}
	return unknownClass
}

// Render returns a copy of frame with detections drawn according to flags.
func (r *Renderer) Render(frame image.Image, detections []domain.Detection, flags Flags) *image.RGBA {
	b := frame.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), frame, b.Min, draw.Src)

	if !flags.Box {
		return dst
	}

	w, h := b.Dx(), b.Dy()
	metrics := r.face.Metrics()
	textHeight := metrics.Ascent.Ceil()
	descent := metrics.Descent.Ceil()

	for _, d := range detections {
		box := BoxRect(d, w, h)
		c := r.palette.Color(d.ClassID)
		strokeRect(dst, box, c, strokeThickness)

		if !flags.Class {
			continue
		}

		text := LabelText(r.ClassName(d.ClassID), d.Confidence, flags.Confidence)
		textWidth := font.MeasureString(r.face, text).Ceil()
		p := PlaceLabel(box.Min.Y, box.Max.Y, textHeight, descent, h)

		bg := image.Rect(box.Min.X, p.RectTop, box.Min.X+textWidth, p.Baseline+descent)
		draw.Draw(dst, bg, image.NewUniform(c), image.Point{}, draw.Src)

		drawer := &font.Drawer{
			Dst:  dst,
			Src:  image.NewUniform(color.Black),
			Face: r.face,
			Dot:  fixed.P(box.Min.X, p.Baseline),
		}
		drawer.DrawString(text)
	}

	return dst
}

// BoxRect converts a normalized detection into pixel corners.
func BoxRect(d domain.Detection, width, height int) image.Rectangle {
	fw, fh := float64(width), float64(height)
	x1 := int((d.XCenter - d.Width/2) * fw)
	y1 := int((d.YCenter - d.Height/2) * fh)
	x2 := int((d.XCenter + d.Width/2) * fw)
	y2 := int((d.YCenter + d.Height/2) * fh)
	return image.Rect(x1, y1, x2, y2)
}

// LabelText formats a class label with an optional confidence score.
func LabelText(name string, confidence float64, withConfidence bool) string {
	if name == "" {
		name = unknownClass
	}
	if !withConfidence {
		return name
	}
	return fmt.Sprintf("%s %.2f", name, confidence)
}

// strokeRect draws a rectangle outline of the given thickness inside r.
func strokeRect(dst *image.RGBA, r image.Rectangle, c color.Color, thickness int) {
	src := image.NewUniform(c)
	edges := []image.Rectangle{
		image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+thickness),
		image.Rect(r.Min.X, r.Max.Y-thickness, r.Max.X, r.Max.Y),
		image.Rect(r.Min.X, r.Min.Y, r.Min.X+thickness, r.Max.Y),
		image.Rect(r.Max.X-thickness, r.Min.Y, r.Max.X, r.Max.Y),
	}
	for _, e := range edges {
		draw.Draw(dst, e, src, image.Point{}, draw.Src)
	}
}

func copyNames(names map[int]string) map[int]string {
	out := make(map[int]string, len(names))
	for k, v := range names {
		out[k] = v
	}
	return out
}
