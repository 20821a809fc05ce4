package capture

import (
	"context"
	"image"
	"log/slog"
	"time"

	"media-annotator/internal/domain"
	"media-annotator/internal/media"
)

// DefaultFPS is the recording frame rate.
const DefaultFPS = 20

// EncoderFactory creates video encoders.
type EncoderFactory interface {
	CreateEncoder(path string, fps float64, width, height int) (media.Encoder, error)
}

// Recording describes a finished recording.
type Recording struct {
	Path     string
	Region   image.Rectangle
	Frames   int
	Duration time.Duration
}

// Recorder grabs a screen region at a fixed rate into a video file.
type Recorder struct {
	grabber  Grabber
	encoders EncoderFactory
	fps      int
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration)
}

// NewRecorder creates a recorder running at fps frames per second.
func NewRecorder(grabber Grabber, encoders EncoderFactory, fps int) *Recorder {
	if fps <= 0 {
		fps = DefaultFPS
	}
	return &Recorder{
		grabber:  grabber,
		encoders: encoders,
		fps:      fps,
		now:      time.Now,
		sleep:    sleepContext,
	}
}

// Interval is the target time between frames.
func (r *Recorder) Interval() time.Duration {
	return time.Second / time.Duration(r.fps)
}

// Record captures region into path until ctx is cancelled. Cancellation is
// checked once per frame, so the frame being grabbed when it arrives is
// still written before the file is closed.
func (r *Recorder) Record(ctx context.Context, region image.Rectangle, path string) (Recording, error) {
	region = EvenRegion(region)
	rec := Recording{Path: path, Region: region}

	enc, err := r.encoders.CreateEncoder(path, float64(r.fps), region.Dx(), region.Dy())
	if err != nil {
		return rec, domain.NewError(domain.KindCaptureFailed, path, "cannot open video writer", err)
	}

	started := r.now()
	interval := r.Interval()
	for ctx.Err() == nil {
		frameStart := r.now()
		frame, err := r.grabber.Region(region)
		if err != nil {
			_ = enc.Close()
			return rec, domain.NewError(domain.KindCaptureFailed, path, "cannot grab screen region", err)
		}
		if err := enc.WriteFrame(frame); err != nil {
			_ = enc.Close()
			return rec, domain.NewError(domain.KindCaptureFailed, path, "cannot write frame", err)
		}
		rec.Frames++
		r.sleep(ctx, FrameDelay(interval, r.now().Sub(frameStart)))
	}

	rec.Duration = r.now().Sub(started)
	if err := enc.Close(); err != nil {
		return rec, domain.NewError(domain.KindCaptureFailed, path, "cannot finalize recording", err)
	}
	slog.Info("recording finished", "path", path, "frames", rec.Frames, "duration", rec.Duration)
	return rec, nil
}

// FrameDelay is how long to wait after a frame that took elapsed.
func FrameDelay(interval, elapsed time.Duration) time.Duration {
	return max(0, interval-elapsed)
}

// EvenRegion shrinks r so both sides are even, as video encoders require.
func EvenRegion(r image.Rectangle) image.Rectangle {
	w, h := r.Dx(), r.Dy()
	return image.Rect(r.Min.X, r.Min.Y, r.Min.X+w-w%2, r.Min.Y+h-h%2)
}

func sleepContext(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
