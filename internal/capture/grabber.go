package capture

import (
	"errors"
	"image"

	"github.com/kbinani/screenshot"
)

// Grabber reads pixels from the desktop. Region coordinates are relative to
// the image returned by Screen.
type Grabber interface {
	Screen() (*image.RGBA, error)
	Region(r image.Rectangle) (*image.RGBA, error)
}

// ScreenGrabber captures the union of all active displays.
type ScreenGrabber struct{}

// Screen captures every display as one image.
func (ScreenGrabber) Screen() (*image.RGBA, error) {
	bounds, err := desktopBounds()
	if err != nil {
		return nil, err
	}
	return screenshot.CaptureRect(bounds)
}

// Region captures r of the desktop.
func (ScreenGrabber) Region(r image.Rectangle) (*image.RGBA, error) {
	bounds, err := desktopBounds()
	if err != nil {
		return nil, err
	}
	return screenshot.CaptureRect(r.Add(bounds.Min))
}

func desktopBounds() (image.Rectangle, error) {
	n := screenshot.NumActiveDisplays()
	if n == 0 {
		return image.Rectangle{}, errors.New("no active displays")
	}
	var all image.Rectangle
	for i := 0; i < n; i++ {
		all = all.Union(screenshot.GetDisplayBounds(i))
	}
	return all, nil
}
