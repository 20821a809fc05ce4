package render

import (
	"image"
	"image/color"
	"image/draw"
	"testing"

	"github.com/stretchr/testify/require"

	"media-annotator/internal/domain"
)

func grayFrame(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.RGBA{40, 40, 40, 255}), image.Point{}, draw.Src)
	return img
}

func TestFlagsClosureHoldsForEveryToggleSequence(t *testing.T) {
	toggles := []func(Flags) Flags{Flags.ToggleBox, Flags.ToggleClass, Flags.ToggleConfidence}

	var walk func(f Flags, depth int)
	walk = func(f Flags, depth int) {
		require.True(t, f.Valid(), "invalid flags %+v", f)
		if depth == 0 {
			return
		}
		for _, toggle := range toggles {
			walk(toggle(f), depth-1)
		}
	}

	walk(DefaultFlags(), 6)
	walk(Flags{}, 6)
}

func TestToggleBoxOffClearsLabels(t *testing.T) {
	f := DefaultFlags().ToggleBox()
	require.Equal(t, Flags{}, f)
}

func TestToggleConfidenceOnEnablesEverything(t *testing.T) {
	f := Flags{}.ToggleConfidence()
	require.Equal(t, DefaultFlags(), f)
}

func TestToggleClassOffClearsConfidence(t *testing.T) {
	f := DefaultFlags().ToggleClass()
	require.Equal(t, Flags{Box: true}, f)
}

func TestRenderWithBoxOffLeavesFrameUntouched(t *testing.T) {
	frame := grayFrame(100, 100)
	dets := []domain.Detection{{ClassID: 2, XCenter: 0.5, YCenter: 0.5, Width: 0.4, Height: 0.4, Confidence: 0.9}}

	r := NewRenderer(NewPalette(), map[int]string{2: "car"})
	out := r.Render(frame, dets, DefaultFlags().ToggleBox())

	require.Equal(t, frame.Pix, out.Pix)
}

func TestRenderDrawsBoxInClassColor(t *testing.T) {
	frame := grayFrame(100, 100)
	dets := []domain.Detection{{ClassID: 2, XCenter: 0.5, YCenter: 0.5, Width: 0.4, Height: 0.4, Confidence: 0.9}}

	palette := NewPalette()
	r := NewRenderer(palette, map[int]string{2: "car"})
	out := r.Render(frame, dets, Flags{Box: true})

	box := BoxRect(dets[0], 100, 100)
	require.Equal(t, palette.Color(2), out.RGBAAt(box.Min.X, 50))
	require.Equal(t, palette.Color(2), out.RGBAAt(box.Min.X+1, 50))
	require.Equal(t, color.RGBA{40, 40, 40, 255}, out.RGBAAt(50, 50))
	require.Equal(t, color.RGBA{40, 40, 40, 255}, frame.RGBAAt(box.Min.X, 50), "input frame must not be modified")
}

func TestRenderIsDeterministic(t *testing.T) {
	frame := grayFrame(120, 80)
	dets := []domain.Detection{
		{ClassID: 1, XCenter: 0.3, YCenter: 0.5, Width: 0.2, Height: 0.4, Confidence: 0.5},
		{ClassID: 7, XCenter: 0.7, YCenter: 0.1, Width: 0.2, Height: 0.1, Confidence: 0.75},
	}
	r := NewRenderer(NewPalette(), nil)

	a := r.Render(frame, dets, DefaultFlags())
	b := r.Render(frame, dets, DefaultFlags())
	require.Equal(t, a.Pix, b.Pix)
}

func TestLabelText(t *testing.T) {
	require.Equal(t, "car 0.91", LabelText("car", 0.912, true))
	require.Equal(t, "car", LabelText("car", 0.912, false))
	require.Equal(t, "Unknown 0.50", LabelText("", 0.5, true))
}

func TestClassNameFallsBackToUnknown(t *testing.T) {
	r := NewRenderer(nil, map[int]string{0: "person"})
	require.Equal(t, "person", r.ClassName(0))
	require.Equal(t, "Unknown", r.ClassName(9))
}

func TestPlaceLabel(t *testing.T) {
	tests := []struct {
		name   string
		y1, y2 int
		height int
		want   LabelPosition
	}{
		{name: "room above", y1: 100, y2: 200, height: 400, want: LabelAbove},
		{name: "top edge pushes below", y1: 5, y2: 200, height: 400, want: LabelBelow},
		{name: "both edges push inside", y1: 5, y2: 390, height: 400, want: LabelInside},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := PlaceLabel(tt.y1, tt.y2, 11, 2, tt.height)
			require.Equal(t, tt.want, p.Position)
		})
	}
}

func TestPlaceLabelCoordinates(t *testing.T) {
	above := PlaceLabel(100, 200, 11, 2, 400)
	require.Equal(t, 100-11-5, above.RectTop)
	require.Equal(t, 100-1-3, above.Baseline)

	below := PlaceLabel(5, 200, 11, 2, 400)
	require.Equal(t, 203, below.RectTop)
	require.Equal(t, 214, below.Baseline)

	inside := PlaceLabel(5, 390, 11, 2, 400)
	require.Equal(t, 8, inside.RectTop)
	require.Equal(t, 19, inside.Baseline)
}

func TestPaletteIsStableAndResettable(t *testing.T) {
	p := NewPalette()
	first := p.Color(3)
	require.Equal(t, first, p.Color(3))
	require.GreaterOrEqual(t, first.R, uint8(100))
	require.GreaterOrEqual(t, first.G, uint8(100))
	require.GreaterOrEqual(t, first.B, uint8(100))

	p.Reset()
	require.Equal(t, first, p.Color(3))
}

func TestPlayGlyphBrightensCenter(t *testing.T) {
	frame := grayFrame(200, 100)
	out := PlayGlyph(frame)

	center := out.RGBAAt(100, 50)
	require.Greater(t, center.R, uint8(40))
	require.Equal(t, color.RGBA{40, 40, 40, 255}, out.RGBAAt(2, 2))
}
