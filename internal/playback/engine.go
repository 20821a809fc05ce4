// Package playback plays annotated videos frame by frame on the interactive
// loop.
package playback

import (
	"fmt"
	"image"
	"log/slog"
	"time"

	"media-annotator/internal/domain"
	"media-annotator/internal/media"
)

const fallbackFPS = 30

// Display receives decoded frames and scrub bar updates.
type Display interface {
	// ShowFrame replaces the picture without resetting zoom or pan.
	ShowFrame(img image.Image)
	SetScrubRange(min, max int)
	SetScrubPosition(pos int)
	SetFrameLabel(text string)
}

// Scheduler runs fn repeatedly on the interactive loop until stop is called.
type Scheduler interface {
	Every(interval time.Duration, fn func()) (stop func())
}

// Opener opens video decoders.
type Opener interface {
	OpenDecoder(path string) (media.Decoder, error)
}

// Session is the state of the active playback.
type Session struct {
	SourcePath  string  `json:"sourcePath"`
	Position    int     `json:"position"`
	TotalFrames int     `json:"totalFrames"`
	FPS         float64 `json:"fps"`
	Playing     bool    `json:"playing"`
}

// Engine owns at most one playback session. All methods must be called from
// the interactive loop.
type Engine struct {
	opener    Opener
	display   Display
	scheduler Scheduler

	dec       media.Decoder
	session   *Session
	next      int
	scrubbing bool
	stopTimer func()
	gen       int
}

// NewEngine creates an idle engine.
func NewEngine(opener Opener, display Display, scheduler Scheduler) *Engine {
	return &Engine{opener: opener, display: display, scheduler: scheduler}
}

// Start stops any current session and starts playing path from frame 0.
func (e *Engine) Start(path string) error {
	e.Stop()

	dec, err := e.opener.OpenDecoder(path)
	if err != nil {
		return domain.NewError(domain.KindSourceUnreadable, path, "cannot open video", err)
	}

	fps := dec.FPS()
	if fps <= 0 {
		fps = fallbackFPS
	}
	total := dec.FrameCount()

	e.dec = dec
	e.next = 0
	e.session = &Session{SourcePath: path, TotalFrames: total, FPS: fps, Playing: true}
	e.display.SetScrubRange(0, total)
	e.startTimer()

	slog.Debug("playback started", "path", path, "fps", fps, "frames", total)
	return nil
}

// Interval is the timer period for fps.
func Interval(fps float64) time.Duration {
	if fps <= 0 {
		fps = fallbackFPS
	}
	return time.Duration(int(1000/fps)) * time.Millisecond
}

// Tick decodes and shows the next frame. At end of stream it rewinds to the
// first frame and shows nothing.
func (e *Engine) Tick() {
	if e.session == nil || !e.session.Playing {
		return
	}
	e.advance()
}

// TogglePlay pauses or resumes and reports whether playback is running.
func (e *Engine) TogglePlay() bool {
	if e.session == nil {
		return false
	}
	e.session.Playing = !e.session.Playing
	if e.session.Playing {
		e.startTimer()
	} else {
		e.cancelTimer()
	}
	return e.session.Playing
}

// Seek moves to frame index. While paused the frame is shown immediately.
func (e *Engine) Seek(index int) {
	if e.session == nil {
		return
	}
	index = max(0, index)
	if e.session.TotalFrames > 0 {
		index = min(index, e.session.TotalFrames-1)
	}

	if err := e.dec.Seek(index); err != nil {
		slog.Warn("seek failed", "path", e.session.SourcePath, "frame", index, "err", err)
		return
	}
	e.next = index
	e.session.Position = index
	if !e.session.Playing {
		e.advance()
	}
}

// SetScrubbing suspends scrub position updates while the user drags.
func (e *Engine) SetScrubbing(active bool) {
	e.scrubbing = active
}

// Stop releases the decoder and the timer. Calling it twice is harmless.
func (e *Engine) Stop() {
	e.cancelTimer()
	if e.dec != nil {
		_ = e.dec.Close()
		e.dec = nil
	}
	e.session = nil
	e.next = 0
	e.scrubbing = false
}

// Session returns the active session.
func (e *Engine) Session() (Session, bool) {
	if e.session == nil {
		return Session{}, false
	}
	return *e.session, true
}

func (e *Engine) advance() {
	img, err := e.dec.Read()
	if err != nil {
		// end of stream or a broken tail: loop back to the start
		if serr := e.dec.Seek(0); serr != nil {
			slog.Warn("rewind failed", "path", e.session.SourcePath, "err", serr)
		}
		e.next = 0
		return
	}

	pos := e.next
	if e.session.TotalFrames > 0 {
		pos = min(pos, e.session.TotalFrames-1)
	}
	e.next++
	e.session.Position = pos

	e.display.ShowFrame(img)
	if !e.scrubbing {
		e.display.SetScrubPosition(pos)
	}
	e.display.SetFrameLabel(fmt.Sprintf("Frame %d/%d", pos+1, e.session.TotalFrames))
}

func (e *Engine) startTimer() {
	e.cancelTimer()
	e.gen++
	gen := e.gen
	e.stopTimer = e.scheduler.Every(Interval(e.session.FPS), func() {
		// ticks queued before a stop must not drive a newer session
		if gen == e.gen {
			e.Tick()
		}
	})
}

func (e *Engine) cancelTimer() {
	if e.stopTimer != nil {
		e.stopTimer()
		e.stopTimer = nil
	}
	e.gen++
}
