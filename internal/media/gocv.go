//go:build gocv

package media

import (
	"errors"
	"fmt"
	"image"
	"io"

	"gocv.io/x/gocv"
)

// NewCodec returns the OpenCV-backed codec.
func NewCodec(_, _ string) Codec {
	return GoCV{}
}

// GoCV implements Codec with OpenCV.
type GoCV struct{}

// OpenDecoder opens path with cv::VideoCapture.
func (GoCV) OpenDecoder(path string) (Decoder, error) {
	vc, err := gocv.VideoCaptureFile(path)
	if err != nil {
		return nil, fmt.Errorf("open video %s: %w", path, err)
	}
	if !vc.IsOpened() {
		_ = vc.Close()
		return nil, fmt.Errorf("open video %s: capture not opened", path)
	}
	return &gocvDecoder{vc: vc, mat: gocv.NewMat()}, nil
}

// CreateEncoder opens an mp4v cv::VideoWriter.
func (GoCV) CreateEncoder(path string, fps float64, width, height int) (Encoder, error) {
	vw, err := gocv.VideoWriterFile(path, "mp4v", fps, width, height, true)
	if err != nil {
		return nil, fmt.Errorf("open video writer %s: %w", path, err)
	}
	if !vw.IsOpened() {
		_ = vw.Close()
		return nil, errors.New("video writer not opened")
	}
	return &gocvEncoder{vw: vw, width: width, height: height}, nil
}

type gocvDecoder struct {
	vc  *gocv.VideoCapture
	mat gocv.Mat
}

func (d *gocvDecoder) FPS() float64 { return d.vc.Get(gocv.VideoCaptureFPS) }

func (d *gocvDecoder) FrameCount() int { return int(d.vc.Get(gocv.VideoCaptureFrameCount)) }

func (d *gocvDecoder) Size() (int, int) {
	return int(d.vc.Get(gocv.VideoCaptureFrameWidth)), int(d.vc.Get(gocv.VideoCaptureFrameHeight))
}

func (d *gocvDecoder) Read() (image.Image, error) {
	if ok := d.vc.Read(&d.mat); !ok || d.mat.Empty() {
		return nil, io.EOF
	}
	return d.mat.ToImage()
}

func (d *gocvDecoder) Seek(index int) error {
	d.vc.Set(gocv.VideoCapturePosFrames, float64(index))
	return nil
}

func (d *gocvDecoder) Close() error {
	_ = d.mat.Close()
	return d.vc.Close()
}

type gocvEncoder struct {
	vw     *gocv.VideoWriter
	width  int
	height int
}

func (e *gocvEncoder) WriteFrame(img image.Image) error {
	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return err
	}
	defer mat.Close()

	if mat.Cols() != e.width || mat.Rows() != e.height {
		resized := gocv.NewMat()
		defer resized.Close()
		gocv.Resize(mat, &resized, image.Pt(e.width, e.height), 0, 0, gocv.InterpolationLinear)
		return e.vw.Write(resized)
	}
	return e.vw.Write(mat)
}

func (e *gocvEncoder) Close() error {
	return e.vw.Close()
}
