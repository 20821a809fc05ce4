package render

import (
	"image"
	"image/draw"
)

const glyphAlpha = 180

// PlayGlyph returns a copy of img with a translucent white play triangle
// centered on it, used for video thumbnails.
func PlayGlyph(img image.Image) *image.RGBA {
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)

	w, h := b.Dx(), b.Dy()
	size := min(w, h) / 4
	if size == 0 {
		return dst
	}

	cx, cy := w/2, h/2
	a := image.Pt(cx-size/2+5, cy-size/2)
	bb := image.Pt(cx-size/2+5, cy+size/2)
	c := image.Pt(cx+size/2+5, cy)

	bounds := image.Rect(a.X, a.Y, c.X+1, bb.Y+1).Intersect(dst.Bounds())
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			if !inTriangle(image.Pt(x, y), a, bb, c) {
				continue
			}
			px := dst.RGBAAt(x, y)
			px.R = blendWhite(px.R)
			px.G = blendWhite(px.G)
			px.B = blendWhite(px.B)
			px.A = 0xff
			dst.SetRGBA(x, y, px)
		}
	}
	return dst
}

func blendWhite(v uint8) uint8 {
	return uint8((uint32(v)*(255-glyphAlpha) + 255*glyphAlpha) / 255)
}

func inTriangle(p, a, b, c image.Point) bool {
	d1 := cross(p, a, b)
	d2 := cross(p, b, c)
	d3 := cross(p, c, a)
	hasNeg := d1 < 0 || d2 < 0 || d3 < 0
	hasPos := d1 > 0 || d2 > 0 || d3 > 0
	return !(hasNeg && hasPos)
}

func cross(p, a, b image.Point) int {
	return (p.X-b.X)*(a.Y-b.Y) - (a.X-b.X)*(p.Y-b.Y)
}
