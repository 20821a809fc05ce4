// Package export writes annotated results out of the session workspace.
package export

import (
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"media-annotator/internal/domain"
	"media-annotator/internal/jobs"
	"media-annotator/internal/render"
)

// ProcessedName returns "<stem>_processed<ext>" for the base name of identity.
func ProcessedName(identity string) string {
	base := filepath.Base(identity)
	ext := filepath.Ext(base)
	return strings.TrimSuffix(base, ext) + "_processed" + ext
}

// SaveImage encodes img to path as JPEG for .jpg/.jpeg and PNG otherwise.
func SaveImage(path string, img image.Image) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		err = jpeg.Encode(f, img, &jpeg.Options{Quality: 95})
	default:
		err = png.Encode(f, img)
	}
	if err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// CopyFile copies src to dst byte for byte.
func CopyFile(src, dst string) error {
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

// ImageJob returns the body of an export job saving a rendered raster.
func ImageJob(identity string, rendered image.Image, dest string) jobs.RunFunc {
	return func(ctx context.Context, emit jobs.Emit) error {
		if err := SaveImage(dest, rendered); err != nil {
			return domain.NewError(domain.KindSaveFailed, dest, "cannot save image", err)
		}
		emit(savedEvent(identity, dest))
		return nil
	}
}

// RenderJob returns the body of an export job that decodes the working copy,
// draws detections and saves the result. It serves entries that are not on
// screen, so no rendered raster exists yet.
func RenderJob(r *render.Renderer, flags render.Flags, entry domain.MediaEntry, dest string) jobs.RunFunc {
	return func(ctx context.Context, emit jobs.Emit) error {
		frame, err := decodeFile(entry.WorkingCopyPath)
		if err != nil {
			return domain.NewError(domain.KindSourceUnreadable, entry.Identity, "cannot decode working copy", err)
		}
		if err := SaveImage(dest, r.Render(frame, entry.Detections, flags)); err != nil {
			return domain.NewError(domain.KindSaveFailed, dest, "cannot save image", err)
		}
		emit(savedEvent(entry.Identity, dest))
		return nil
	}
}

// VideoJob returns the body of an export job copying an annotated video.
func VideoJob(identity, result, dest string) jobs.RunFunc {
	return func(ctx context.Context, emit jobs.Emit) error {
		if _, err := os.Stat(result); err != nil {
			return domain.NewError(domain.KindResultMissing, identity, "annotated video is missing", err)
		}
		if err := CopyFile(result, dest); err != nil {
			return domain.NewError(domain.KindSaveFailed, dest, "cannot save video", err)
		}
		emit(savedEvent(identity, dest))
		return nil
	}
}

func decodeFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	return img, err
}

func savedEvent(identity, dest string) jobs.Event {
	return jobs.Event{
		Type:       jobs.EventTypeSaved,
		Path:       identity,
		ResultPath: dest,
		Message:    fmt.Sprintf("Saved %s", filepath.Base(dest)),
	}
}
