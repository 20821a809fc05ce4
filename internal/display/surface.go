// Package display models the picture area of the main window: the current
// image, its zoom and pan, and the video scrub bar.
package display

import "image"

const (
	minZoom = 0.1
	maxZoom = 20.0
)

// ViewState is the zoom and pan of the picture. It is reset whenever new
// media is loaded and kept while video frames replace each other.
type ViewState struct {
	Zoom       float64 `json:"zoom"`
	PanX       float64 `json:"panX"`
	PanY       float64 `json:"panY"`
	UserZoomed bool    `json:"userZoomed"`
}

// FitView is the view of freshly loaded media.
func FitView() ViewState {
	return ViewState{Zoom: 1}
}

// Snapshot is everything the front end needs to draw the picture area.
type Snapshot struct {
	Image    image.Image `json:"-"`
	View     ViewState   `json:"view"`
	ScrubMax int         `json:"scrubMax"`
	ScrubPos int         `json:"scrubPos"`
	Label    string      `json:"label"`
	Version  int64       `json:"version"`
}

// Surface holds display state. Changes are batched and published through
// the listener on Flush. It is owned by the interactive loop.
type Surface struct {
	listener func(Snapshot)

	img      image.Image
	view     ViewState
	scrubMax int
	scrubPos int
	label    string
	version  int64
	dirty    bool
}

// NewSurface creates an empty surface. listener may be nil.
func NewSurface(listener func(Snapshot)) *Surface {
	return &Surface{listener: listener, view: FitView()}
}

// Load shows new media and resets zoom, pan and the scrub bar.
func (s *Surface) Load(img image.Image) {
	s.img = img
	s.view = FitView()
	s.scrubMax = 0
	s.scrubPos = 0
	s.label = ""
	s.touch()
}

// ShowFrame replaces the picture, keeping the current view.
func (s *Surface) ShowFrame(img image.Image) {
	s.img = img
	s.touch()
}

// SetScrubRange sets the scrub bar range.
func (s *Surface) SetScrubRange(_, max int) {
	s.scrubMax = max
	s.touch()
}

// SetScrubPosition moves the scrub bar handle.
func (s *Surface) SetScrubPosition(pos int) {
	s.scrubPos = pos
	s.touch()
}

// SetFrameLabel sets the text next to the scrub bar.
func (s *Surface) SetFrameLabel(text string) {
	s.label = text
	s.touch()
}

// Clear removes the picture.
func (s *Surface) Clear() {
	s.Load(nil)
}

// ZoomBy multiplies the zoom level.
func (s *Surface) ZoomBy(factor float64) {
	if factor <= 0 {
		return
	}
	s.view.Zoom = min(maxZoom, max(minZoom, s.view.Zoom*factor))
	s.view.UserZoomed = true
	s.touch()
}

// PanBy moves the view.
func (s *Surface) PanBy(dx, dy float64) {
	s.view.PanX += dx
	s.view.PanY += dy
	s.touch()
}

// Fit resets zoom and pan.
func (s *Surface) Fit() {
	s.view = FitView()
	s.touch()
}

// Image returns the picture currently shown.
func (s *Surface) Image() image.Image {
	return s.img
}

// Snapshot returns the current state.
func (s *Surface) Snapshot() Snapshot {
	return Snapshot{
		Image:    s.img,
		View:     s.view,
		ScrubMax: s.scrubMax,
		ScrubPos: s.scrubPos,
		Label:    s.label,
		Version:  s.version,
	}
}

// Flush publishes the state if anything changed since the last flush.
func (s *Surface) Flush() {
	if !s.dirty {
		return
	}
	s.dirty = false
	if s.listener != nil {
		s.listener(s.Snapshot())
	}
}

func (s *Surface) touch() {
	s.version++
	s.dirty = true
}
