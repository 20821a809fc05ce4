//go:build !gocv

package detect

import (
	"errors"

	"media-annotator/internal/domain"
)

func newDNN(string, map[int]string) (domain.Detector, error) {
	return nil, errors.New("onnx models need a build with the gocv tag")
}
