package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"path/filepath"
	"time"

	"media-annotator/internal/capture"
	"media-annotator/internal/domain"
	"media-annotator/internal/jobs"
	"media-annotator/internal/stopkey"
)

// SelectionResult reports what finishing a region selection did.
type SelectionResult struct {
	Mode     capture.Mode    `json:"mode"`
	Rejected bool            `json:"rejected"`
	Region   image.Rectangle `json:"region"`
	JobID    string          `json:"jobId,omitempty"`
	Path     string          `json:"path,omitempty"`
}

// StopKeyListener reports presses of the global stop key.
type StopKeyListener interface {
	Listen(ctx context.Context, onPress func()) error
}

// StopKeyFactory builds a listener for a key name from the settings.
type StopKeyFactory func(key string) (StopKeyListener, error)

func newStopKeyListener(key string) (StopKeyListener, error) {
	l, err := stopkey.New(key)
	if err != nil {
		return nil, err
	}
	return l, nil
}

// BeginScreenshot hides the window, grabs the screen and starts a region
// selection for a screenshot.
func (a *App) BeginScreenshot() error {
	return a.beginCapture(capture.ModeScreenshot)
}

// BeginRecording starts a region selection for a screen recording. A second
// request while recording is refused.
func (a *App) BeginRecording() error {
	return a.beginCapture(capture.ModeRecording)
}

func (a *App) beginCapture(mode capture.Mode) error {
	return a.call(func() error {
		if _, err := a.state.Detector(); err != nil {
			return err
		}
		if err := a.machine.Begin(mode); err != nil {
			if errors.Is(err, capture.ErrRecordingActive) {
				a.notify("A recording is already in progress.")
			}
			return err
		}
		a.window.ShowOverlay(a.machine.Reference())
		return nil
	})
}

// FinishSelection completes the drag from (x1, y1) to (x2, y2) in reference
// image coordinates.
func (a *App) FinishSelection(x1, y1, x2, y2 int) (SelectionResult, error) {
	var res SelectionResult
	err := a.call(func() error {
		out, err := a.machine.Finish(image.Pt(x1, y1), image.Pt(x2, y2))
		if err != nil {
			return err
		}
		res = SelectionResult{Mode: out.Mode, Rejected: out.Rejected, Region: out.Region}

		switch {
		case out.Rejected:
			a.notify(fmt.Sprintf("Selection too small (%dx%d), at least %d px per side.",
				out.Region.Dx(), out.Region.Dy(), capture.MinSelection))
		case out.Mode == capture.ModeScreenshot:
			id, err := a.submitImages(domain.JobKindImageSingle, nil, out.Frame, true)
			if err != nil {
				return err
			}
			res.JobID = id
		default:
			res.Path = out.Path
			a.window.Conceal()
			a.startHotkey()
			a.notify(fmt.Sprintf("Recording %dx%d. Press %s to stop.",
				out.Region.Dx(), out.Region.Dy(), a.settings().StopKey))
		}
		return nil
	})
	return res, err
}

// CancelSelection aborts an active selection.
func (a *App) CancelSelection() (bool, error) {
	var cancelled bool
	err := a.call(func() error {
		cancelled = a.machine.Cancel()
		return nil
	})
	return cancelled, err
}

// StopRecording asks the active recording to stop after its current frame.
func (a *App) StopRecording() error {
	return a.call(a.requestStop)
}

// CaptureSession returns the capture machine state.
func (a *App) CaptureSession() (capture.Session, error) {
	var s capture.Session
	err := a.call(func() error {
		s = a.machine.Session()
		return nil
	})
	return s, err
}

// requestStop runs on the loop.
func (a *App) requestStop() error {
	if err := a.machine.RequestStop(); err != nil {
		return err
	}
	a.notify("Stopping recording...")
	return nil
}

// startHotkey listens for the stop key while recording. It runs on the loop.
func (a *App) startHotkey() {
	a.stopHotkey()
	listener, err := a.stopKeys(a.settings().StopKey)
	if err != nil {
		slog.Warn("stop hotkey disabled", "err", err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	a.hotkey = cancel
	go func() {
		err := listener.Listen(ctx, func() {
			a.post(func() {
				if err := a.requestStop(); err != nil && !errors.Is(err, capture.ErrNotRecording) {
					slog.Warn("stop recording", "err", err)
				}
			})
		})
		if err != nil {
			slog.Warn("stop hotkey unavailable", "err", err)
		}
	}()
}

// stopHotkey releases the hotkey listener. It runs on the loop.
func (a *App) stopHotkey() {
	if a.hotkey != nil {
		a.hotkey()
		a.hotkey = nil
	}
}

// recordingDone is called from the recorder goroutine.
func (a *App) recordingDone(rec capture.Recording, err error) {
	ev := jobs.Event{
		Kind:       domain.JobKindRecording,
		Type:       jobs.EventTypeRecording,
		Path:       rec.Path,
		ResultPath: rec.Path,
		Status:     domain.JobStatusDone,
		Message:    fmt.Sprintf("Recorded %d frames in %s", rec.Frames, rec.Duration.Round(10*time.Millisecond)),
	}
	if err != nil {
		ev.Status = domain.JobStatusFailed
		ev.Message = err.Error()
		ev.ErrorKind = domain.KindOf(err)
	}
	a.mailbox.Publish(ev)
}

// finishRecording finalizes the capture machine and hands the recording to
// a video job. It runs on the loop.
func (a *App) finishRecording(ev jobs.Event) {
	a.stopHotkey()
	if err := a.machine.Finalize(); err != nil {
		slog.Warn("finalize recording", "err", err)
	}

	if ev.Status == domain.JobStatusFailed {
		a.notify(fmt.Sprintf("Recording %s failed: %s", filepath.Base(ev.Path), ev.Message))
		return
	}
	a.notify(ev.Message)
	if _, err := a.submitVideo(ev.ResultPath, true); err != nil {
		a.notify(fmt.Sprintf("Cannot process %s: %v", filepath.Base(ev.ResultPath), err))
	}
}
