// Package media decodes and encodes video frames.
//
// The default build drives the ffmpeg and ffprobe executables over pipes.
// Building with the gocv tag switches to OpenCV's VideoCapture/VideoWriter.
package media

import (
	"image"
	"image/draw"
	"path/filepath"
	"strings"
)

// Decoder reads frames of one video sequentially. Read returns io.EOF at end
// of stream.
type Decoder interface {
	FPS() float64
	FrameCount() int
	Size() (width, height int)
	Read() (image.Image, error)
	// Seek positions the decoder so the next Read returns frame index.
	Seek(index int) error
	Close() error
}

// Encoder appends frames to a video file.
type Encoder interface {
	WriteFrame(img image.Image) error
	// Close flushes buffered frames and finalizes the container.
	Close() error
}

// Codec opens decoders and creates encoders.
type Codec interface {
	OpenDecoder(path string) (Decoder, error)
	CreateEncoder(path string, fps float64, width, height int) (Encoder, error)
}

var (
	imageExtensions = map[string]bool{".jpg": true, ".jpeg": true, ".png": true}
	videoExtensions = map[string]bool{".mp4": true, ".avi": true, ".mov": true}
)

// IsImage reports whether path has a supported image extension.
func IsImage(path string) bool {
	return imageExtensions[strings.ToLower(filepath.Ext(path))]
}

// IsVideo reports whether path has a supported video extension.
func IsVideo(path string) bool {
	return videoExtensions[strings.ToLower(filepath.Ext(path))]
}

// ToRGBA returns img as an *image.RGBA anchored at the origin, copying only
// when needed.
func ToRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok && rgba.Bounds().Min == (image.Point{}) {
		return rgba
	}
	b := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Src)
	return out
}
