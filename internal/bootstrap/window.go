package bootstrap

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/jpeg"
	"log/slog"
	"time"

	"media-annotator/internal/display"

	wailsruntime "github.com/wailsapp/wails/v2/pkg/runtime"
)

// concealDelay lets the window manager finish hiding the window before the
// screen is grabbed.
const concealDelay = 200 * time.Millisecond

// DesktopWindow is the main window as seen by the capture flow.
type DesktopWindow interface {
	Conceal()
	Restore()
	// ShowOverlay presents the reference screenshot full screen for
	// region selection.
	ShowOverlay(reference image.Image)
}

// wailsWindow drives the Wails main window.
type wailsWindow struct {
	app *App
}

func (w *wailsWindow) Conceal() {
	ctx, err := w.app.runtimeContext()
	if err != nil {
		return
	}
	wailsruntime.WindowHide(ctx)
	time.Sleep(concealDelay)
}

func (w *wailsWindow) Restore() {
	ctx, err := w.app.runtimeContext()
	if err != nil {
		return
	}
	wailsruntime.WindowUnfullscreen(ctx)
	wailsruntime.WindowShow(ctx)
	w.app.emit("capture:done")
}

func (w *wailsWindow) ShowOverlay(reference image.Image) {
	ctx, err := w.app.runtimeContext()
	if err != nil {
		return
	}
	url, err := dataURL(reference, 80)
	if err != nil {
		slog.Warn("encode selection reference", "err", err)
		return
	}
	w.app.emit("capture:reference", url)
	wailsruntime.WindowShow(ctx)
	wailsruntime.WindowFullscreen(ctx)
}

// frameMessage is the display:frame payload.
type frameMessage struct {
	Image    string            `json:"image,omitempty"`
	View     display.ViewState `json:"view"`
	ScrubMax int               `json:"scrubMax"`
	ScrubPos int               `json:"scrubPos"`
	Label    string            `json:"label"`
	Version  int64             `json:"version"`
}

// emitFrame pushes the display surface to the front end. It runs on the
// loop, from Surface.Flush.
func (a *App) emitFrame(s display.Snapshot) {
	if _, err := a.runtimeContext(); err != nil {
		return
	}
	msg := frameMessage{
		View:     s.View,
		ScrubMax: s.ScrubMax,
		ScrubPos: s.ScrubPos,
		Label:    s.Label,
		Version:  s.Version,
	}
	if s.Image != nil {
		url, err := dataURL(s.Image, 90)
		if err != nil {
			slog.Warn("encode frame", "err", err)
			return
		}
		msg.Image = url
	}
	a.emit("display:frame", msg)
}

func dataURL(img image.Image, quality int) (string, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return "", err
	}
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
