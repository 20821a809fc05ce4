// Package capture implements region selection, screenshots and screen
// recording.
package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"log/slog"
	"path/filepath"
	"time"

	"media-annotator/internal/domain"
)

// MinSelection is the smallest accepted selection side in pixels.
const MinSelection = 10

var (
	// ErrRecordingActive refuses a second recording while one is running.
	ErrRecordingActive = errors.New("a recording is already in progress")
	// ErrCaptureBusy refuses a capture while another one is active.
	ErrCaptureBusy = errors.New("a capture is already in progress")
	// ErrNotSelecting is returned when no selection is in progress.
	ErrNotSelecting = errors.New("no region selection in progress")
	// ErrNotRecording is returned when no recording is in progress.
	ErrNotRecording = errors.New("no recording in progress")
)

// Mode is what happens once a region has been selected.
type Mode string

const (
	ModeScreenshot Mode = "screenshot"
	ModeRecording  Mode = "recording"
)

// Window is the application window as seen by the capture flow.
type Window interface {
	// Conceal gets the window out of the way of the screen contents.
	Conceal()
	// Restore brings the window back to normal.
	Restore()
}

// Outcome is the result of finishing a selection.
type Outcome struct {
	Mode     Mode
	Rejected bool
	Region   image.Rectangle
	// Frame is the cropped screenshot in screenshot mode.
	Frame *image.RGBA
	// Path is the recording output in recording mode.
	Path string
}

// Session is a snapshot of the capture machine.
type Session struct {
	State         domain.CaptureState `json:"state"`
	Mode          Mode                `json:"mode,omitempty"`
	Region        image.Rectangle     `json:"region"`
	StartedAt     time.Time           `json:"startedAt,omitempty"`
	FrameInterval time.Duration       `json:"frameInterval,omitempty"`
}

// Machine is the capture state machine:
//
//	idle -> selecting -> (recording | idle)
//	recording -> finalizing -> idle
//
// It is owned by the interactive loop. Only the recorder runs on its own
// goroutine and it reports back through the done callback.
type Machine struct {
	grabber   Grabber
	window    Window
	recorder  *Recorder
	outputDir string
	done      func(Recording, error)
	now       func() time.Time

	state     domain.CaptureState
	mode      Mode
	reference *image.RGBA
	region    image.Rectangle
	startedAt time.Time
	cancel    context.CancelFunc
}

// NewMachine creates an idle machine. done is called from the recorder
// goroutine when a recording ends.
func NewMachine(grabber Grabber, window Window, recorder *Recorder, outputDir string, done func(Recording, error)) *Machine {
	return &Machine{
		grabber:   grabber,
		window:    window,
		recorder:  recorder,
		outputDir: outputDir,
		done:      done,
		now:       time.Now,
		state:     domain.CaptureStateIdle,
	}
}

// State returns the current state.
func (m *Machine) State() domain.CaptureState {
	return m.state
}

// Session returns a snapshot of the active capture session.
func (m *Machine) Session() Session {
	s := Session{State: m.state, Mode: m.mode, Region: m.region, StartedAt: m.startedAt}
	if m.state == domain.CaptureStateRecording && m.recorder != nil {
		s.FrameInterval = m.recorder.Interval()
	}
	return s
}

// Reference returns the full-screen image the user is selecting on.
func (m *Machine) Reference() *image.RGBA {
	return m.reference
}

// Begin conceals the window and grabs the screen as the selection reference.
func (m *Machine) Begin(mode Mode) error {
	switch m.state {
	case domain.CaptureStateIdle:
	case domain.CaptureStateRecording, domain.CaptureStateFinalizing:
		if mode == ModeRecording {
			return ErrRecordingActive
		}
		return ErrCaptureBusy
	default:
		return ErrCaptureBusy
	}

	m.window.Conceal()
	ref, err := m.grabber.Screen()
	if err != nil {
		m.window.Restore()
		return domain.NewError(domain.KindCaptureFailed, "", "cannot grab the screen", err)
	}

	m.state = domain.CaptureStateSelecting
	m.mode = mode
	m.reference = ref
	return nil
}

// Cancel aborts a selection. It reports whether a selection was active.
func (m *Machine) Cancel() bool {
	if m.state != domain.CaptureStateSelecting {
		return false
	}
	m.reset()
	m.window.Restore()
	return true
}

// Finish completes the selection dragged from start to end. Selections
// smaller than MinSelection on either side are rejected.
func (m *Machine) Finish(start, end image.Point) (Outcome, error) {
	if m.state != domain.CaptureStateSelecting {
		return Outcome{}, ErrNotSelecting
	}

	mode := m.mode
	rect := image.Rectangle{Min: start, Max: end}.Canon().Intersect(m.reference.Bounds())
	if rect.Dx() < MinSelection || rect.Dy() < MinSelection {
		m.reset()
		m.window.Restore()
		return Outcome{Mode: mode, Rejected: true, Region: rect}, nil
	}

	if mode == ModeScreenshot {
		crop := image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
		draw.Draw(crop, crop.Bounds(), m.reference, rect.Min, draw.Src)
		m.reset()
		m.window.Restore()
		return Outcome{Mode: mode, Region: rect, Frame: crop}, nil
	}

	region := EvenRegion(rect)
	path := filepath.Join(m.outputDir, fmt.Sprintf("recording_%d.mp4", m.now().Unix()))
	ctx, cancel := context.WithCancel(context.Background())

	m.state = domain.CaptureStateRecording
	m.region = region
	m.startedAt = m.now()
	m.cancel = cancel
	m.reference = nil

	go func() {
		rec, err := m.recorder.Record(ctx, region, path)
		if m.done != nil {
			m.done(rec, err)
		}
	}()

	slog.Info("recording started", "region", region.String(), "path", path)
	return Outcome{Mode: mode, Region: region, Path: path}, nil
}

// RequestStop asks the recorder to stop after its current frame. The
// machine moves to finalizing until Finalize is called.
func (m *Machine) RequestStop() error {
	if m.state != domain.CaptureStateRecording {
		return ErrNotRecording
	}
	m.cancel()
	m.state = domain.CaptureStateFinalizing
	return nil
}

// Finalize returns the machine to idle once the recorder has closed its
// output, restoring the window.
func (m *Machine) Finalize() error {
	if m.state != domain.CaptureStateRecording && m.state != domain.CaptureStateFinalizing {
		return ErrNotRecording
	}
	if m.cancel != nil {
		m.cancel()
	}
	m.reset()
	m.window.Restore()
	return nil
}

func (m *Machine) reset() {
	m.state = domain.CaptureStateIdle
	m.mode = ""
	m.reference = nil
	m.region = image.Rectangle{}
	m.startedAt = time.Time{}
	m.cancel = nil
}
