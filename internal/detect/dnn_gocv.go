//go:build gocv

package detect

import (
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sync"

	"gocv.io/x/gocv"

	"media-annotator/internal/domain"
	"media-annotator/internal/labels"
	"media-annotator/internal/render"
)

const (
	dnnInputSize     = 640
	dnnConfThreshold = 0.25
	dnnIoUThreshold  = 0.7
)

// DNN runs a YOLOv8 ONNX export through OpenCV's dnn module.
type DNN struct {
	mu    sync.Mutex
	net   gocv.Net
	names map[int]string
}

func newDNN(modelPath string, names map[int]string) (domain.Detector, error) {
	net := gocv.ReadNetFromONNX(modelPath)
	if net.Empty() {
		return nil, fmt.Errorf("read onnx model %s", modelPath)
	}
	if err := net.SetPreferableBackend(gocv.NetBackendDefault); err != nil {
		_ = net.Close()
		return nil, err
	}
	return &DNN{net: net, names: names}, nil
}

// DetectImage runs the network on one image file.
func (d *DNN) DetectImage(ctx context.Context, path string) ([]domain.Detection, error) {
	mat := gocv.IMRead(path, gocv.IMReadColor)
	defer mat.Close()
	if mat.Empty() {
		return nil, domain.NewError(domain.KindSourceUnreadable, path, "cannot decode image", nil)
	}
	return d.detectMat(mat)
}

// DetectVideo annotates every frame of inputPath and writes an mp4v video.
func (d *DNN) DetectVideo(ctx context.Context, inputPath, outputDir string) (string, error) {
	vc, err := gocv.VideoCaptureFile(inputPath)
	if err != nil {
		return "", domain.NewError(domain.KindSourceUnreadable, inputPath, "cannot open video", err)
	}
	defer vc.Close()

	dir := filepath.Join(outputDir, videoResultsDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	outPath := filepath.Join(dir, labels.Stem(inputPath)+".mp4")

	fps := vc.Get(gocv.VideoCaptureFPS)
	if fps <= 0 {
		fps = 30
	}
	w := int(vc.Get(gocv.VideoCaptureFrameWidth))
	h := int(vc.Get(gocv.VideoCaptureFrameHeight))
	vw, err := gocv.VideoWriterFile(outPath, "mp4v", fps, w, h, true)
	if err != nil {
		return "", domain.NewError(domain.KindResultMissing, inputPath, "cannot open video writer", err)
	}
	defer vw.Close()

	renderer := render.NewRenderer(render.NewPalette(), d.names)
	frame := gocv.NewMat()
	defer frame.Close()

	for vc.Read(&frame) && !frame.Empty() {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		dets, err := d.detectMat(frame)
		if err != nil {
			return "", err
		}
		img, err := frame.ToImage()
		if err != nil {
			return "", err
		}
		annotated, err := gocv.ImageToMatRGB(renderer.Render(img, dets, render.DefaultFlags()))
		if err != nil {
			return "", err
		}
		err = vw.Write(annotated)
		annotated.Close()
		if err != nil {
			return "", err
		}
	}
	return outPath, nil
}

// ClassNames returns the id to name mapping of the model.
func (d *DNN) ClassNames() map[int]string {
	return d.names
}

// Close releases the network.
func (d *DNN) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.net.Close()
}

func (d *DNN) detectMat(mat gocv.Mat) ([]domain.Detection, error) {
	blob := gocv.BlobFromImage(mat, 1.0/255.0, image.Pt(dnnInputSize, dnnInputSize), gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	// cv::dnn::Net is not safe for concurrent use.
	d.mu.Lock()
	d.net.SetInput(blob, "")
	out := d.net.Forward("")
	d.mu.Unlock()
	defer out.Close()

	dims := out.Size()
	if len(dims) != 3 {
		return nil, fmt.Errorf("unexpected output shape %v", dims)
	}
	data, err := out.DataPtrFloat32()
	if err != nil {
		return nil, err
	}
	return decodeYOLOv8(data, dims[1], dims[2], dnnInputSize, dnnConfThreshold, dnnIoUThreshold), nil
}
