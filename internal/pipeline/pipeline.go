// Package pipeline holds the bodies of background jobs: per-image and
// per-video processing from source file to labelled working copy.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"media-annotator/internal/domain"
	"media-annotator/internal/jobs"
	"media-annotator/internal/labels"
	"media-annotator/internal/media"
	"media-annotator/internal/render"
)

// ImageResult is the outcome of processing one image.
type ImageResult struct {
	Path        string
	WorkingPath string
	LabelPath   string
	Detections  []domain.Detection
	Width       int
	Height      int
}

// VideoResult is the outcome of processing one video.
type VideoResult struct {
	Path          string
	ResultPath    string
	ThumbnailPath string
	Width         int
	Height        int
}

// Pipeline runs detection over sources inside a workspace.
type Pipeline struct {
	workspace *Workspace
	codec     media.Codec
	now       func() time.Time
	stat      func(name string) (os.FileInfo, error)
}

// New creates a pipeline writing into ws and decoding videos with codec.
func New(ws *Workspace, codec media.Codec) *Pipeline {
	return &Pipeline{
		workspace: ws,
		codec:     codec,
		now:       time.Now,
		stat:      os.Stat,
	}
}

// Workspace returns the pipeline workspace.
func (p *Pipeline) Workspace() *Workspace {
	return p.workspace
}

// ImageJob returns the body of an image_single or image_batch job.
// Single jobs emit one result event or fail; batch jobs emit one file_ready
// or error event per input and keep going past failures.
func (p *Pipeline) ImageJob(det domain.Detector, job domain.Job) jobs.RunFunc {
	return func(ctx context.Context, emit jobs.Emit) error {
		if job.Kind == domain.JobKindImageSingle {
			path := firstInput(job)
			if job.Frame != nil {
				saved, err := p.SaveFrame(job.Frame)
				if err != nil {
					return err
				}
				path = saved
			}
			res, err := p.ProcessImage(ctx, det, path)
			if err != nil {
				emitCommandLog(emit, err)
				return err
			}
			emit(imageEvent(jobs.EventTypeResult, res))
			return nil
		}

		processed := 0
		for _, path := range job.Inputs {
			if err := ctx.Err(); err != nil {
				return err
			}
			res, err := p.ProcessImage(ctx, det, path)
			if err != nil {
				emitCommandLog(emit, err)
				emit(jobs.ErrorEvent(err, path))
				continue
			}
			processed++
			emit(imageEvent(jobs.EventTypeFileReady, res))
		}
		emit(jobs.Event{
			Type:    jobs.EventTypeStatus,
			Message: fmt.Sprintf("Finished processing %d of %d images", processed, len(job.Inputs)),
		})
		return nil
	}
}

// VideoJob returns the body of a video job.
func (p *Pipeline) VideoJob(det domain.Detector, job domain.Job) jobs.RunFunc {
	return func(ctx context.Context, emit jobs.Emit) error {
		res, err := p.ProcessVideo(ctx, det, firstInput(job))
		if err != nil {
			emitCommandLog(emit, err)
			return err
		}
		emit(jobs.Event{
			Type:          jobs.EventTypeVideo,
			Path:          res.Path,
			ResultPath:    res.ResultPath,
			ThumbnailPath: res.ThumbnailPath,
			Width:         res.Width,
			Height:        res.Height,
		})
		return nil
	}
}

// ProcessImage copies path into the workspace, runs detection on the copy
// and persists the labels.
func (p *Pipeline) ProcessImage(ctx context.Context, det domain.Detector, path string) (ImageResult, error) {
	if _, err := p.stat(path); err != nil {
		return ImageResult{}, domain.NewError(domain.KindSourceUnreadable, path, "cannot access source", err)
	}

	working := filepath.Join(p.workspace.Originals(), filepath.Base(path))
	if err := copyFile(path, working); err != nil {
		return ImageResult{}, domain.NewError(domain.KindSourceUnreadable, path, "cannot copy source", err)
	}

	w, h, err := imageSize(working)
	if err != nil {
		return ImageResult{}, domain.NewError(domain.KindSourceUnreadable, path, "cannot decode image", err)
	}

	dets, err := det.DetectImage(ctx, working)
	if err != nil {
		return ImageResult{}, fmt.Errorf("detect %s: %w", filepath.Base(path), err)
	}

	labelPath := labels.Path(p.workspace.Labels(), path)
	if err := labels.Write(labelPath, dets); err != nil {
		return ImageResult{}, err
	}

	slog.Debug("image processed", "path", path, "detections", len(dets))
	return ImageResult{
		Path:        path,
		WorkingPath: working,
		LabelPath:   labelPath,
		Detections:  dets,
		Width:       w,
		Height:      h,
	}, nil
}

// ProcessVideo builds a thumbnail and an annotated copy of path.
func (p *Pipeline) ProcessVideo(ctx context.Context, det domain.Detector, path string) (VideoResult, error) {
	if _, err := p.stat(path); err != nil {
		return VideoResult{}, domain.NewError(domain.KindSourceUnreadable, path, "cannot access source", err)
	}

	res := VideoResult{Path: path}
	thumb, w, h, err := p.Thumbnail(path)
	if err != nil {
		slog.Warn("thumbnail failed", "path", path, "err", err)
	} else {
		res.ThumbnailPath, res.Width, res.Height = thumb, w, h
	}

	outDir := filepath.Join(p.workspace.Videos(), labels.Stem(path))
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return VideoResult{}, err
	}
	result, err := det.DetectVideo(ctx, path, outDir)
	if err != nil {
		return VideoResult{}, err
	}
	if _, err := p.stat(result); err != nil {
		return VideoResult{}, domain.NewError(domain.KindResultMissing, path, "annotated video is missing", err)
	}

	res.ResultPath = result
	return res, nil
}

// Thumbnail grabs the frame a third of the way into path, overlays a play
// glyph and stores it as a JPEG next to the image working copies.
func (p *Pipeline) Thumbnail(path string) (string, int, int, error) {
	dec, err := p.codec.OpenDecoder(path)
	if err != nil {
		return "", 0, 0, err
	}
	defer dec.Close()

	w, h := dec.Size()
	if err := dec.Seek(max(1, dec.FrameCount()/3)); err != nil {
		return "", 0, 0, err
	}
	frame, err := dec.Read()
	if err != nil {
		return "", 0, 0, err
	}

	thumbPath := filepath.Join(p.workspace.Originals(), labels.Stem(path)+"_thumb.jpg")
	err = writeImageFile(thumbPath, func(out io.Writer) error {
		return jpeg.Encode(out, render.PlayGlyph(frame), &jpeg.Options{Quality: 90})
	})
	if err != nil {
		return "", 0, 0, err
	}
	return thumbPath, w, h, nil
}

// SaveFrame writes a captured frame as screenshot_<unix>.png in the
// workspace root and returns its path.
func (p *Pipeline) SaveFrame(frame image.Image) (string, error) {
	stamp := strconv.FormatInt(p.now().Unix(), 10)
	path := filepath.Join(p.workspace.Root, "screenshot_"+stamp+".png")
	for i := 1; fileExists(path); i++ {
		path = filepath.Join(p.workspace.Root, fmt.Sprintf("screenshot_%s_%d.png", stamp, i))
	}

	err := writeImageFile(path, func(out io.Writer) error { return png.Encode(out, frame) })
	if err != nil {
		return "", domain.NewError(domain.KindCaptureFailed, path, "cannot store screenshot", err)
	}
	return path, nil
}

// writeImageFile encodes into a temp file beside path and renames it into
// place, so a failed encode never leaves a truncated image behind.
func writeImageFile(path string, encode func(io.Writer) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if err := encode(tmp); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return nil
}

func imageEvent(typ jobs.EventType, res ImageResult) jobs.Event {
	return jobs.Event{
		Type:        typ,
		Path:        res.Path,
		WorkingPath: res.WorkingPath,
		LabelPath:   res.LabelPath,
		Detections:  res.Detections,
		Width:       res.Width,
		Height:      res.Height,
	}
}

// emitCommandLog forwards the failed command of err, if any.
func emitCommandLog(emit jobs.Emit, err error) {
	var cmdErr *media.CommandError
	if !errors.As(err, &cmdErr) || cmdErr.Log.Command == "" {
		return
	}
	emit(jobs.Event{
		Type:     jobs.EventTypeLog,
		Message:  "Failed command",
		Command:  cmdErr.Log.Command,
		Args:     cmdErr.Log.Args,
		ExitCode: cmdErr.Log.ExitCode,
		Stderr:   cmdErr.Log.Stderr,
	})
}

func imageSize(path string) (int, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return 0, 0, err
	}
	return cfg.Width, cfg.Height, nil
}

func copyFile(src, dst string) error {
	if sameFile(src, dst) {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func sameFile(a, b string) bool {
	ai, err := os.Stat(a)
	if err != nil {
		return false
	}
	bi, err := os.Stat(b)
	if err != nil {
		return false
	}
	return os.SameFile(ai, bi)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func firstInput(job domain.Job) string {
	if len(job.Inputs) == 0 {
		return ""
	}
	return job.Inputs[0]
}
