package detect

import (
	"sort"

	"media-annotator/internal/domain"
)

// decodeYOLOv8 converts a raw [4+classes, anchors] output tensor of a
// YOLOv8 export into normalized detections after non-maximum suppression.
func decodeYOLOv8(data []float32, rows, anchors int, inputSize, confThreshold, iouThreshold float64) []domain.Detection {
	if rows <= 4 || anchors <= 0 || len(data) < rows*anchors {
		return []domain.Detection{}
	}

	at := func(row, i int) float64 { return float64(data[row*anchors+i]) }

	candidates := make([]domain.Detection, 0)
	for i := 0; i < anchors; i++ {
		best, score := -1, 0.0
		for c := 4; c < rows; c++ {
			if s := at(c, i); s > score {
				best, score = c-4, s
			}
		}
		if best < 0 || score < confThreshold {
			continue
		}
		candidates = append(candidates, domain.Detection{
			ClassID:    best,
			XCenter:    at(0, i) / inputSize,
			YCenter:    at(1, i) / inputSize,
			Width:      at(2, i) / inputSize,
			Height:     at(3, i) / inputSize,
			Confidence: score,
		})
	}
	return suppress(candidates, iouThreshold)
}

// suppress runs class-aware greedy non-maximum suppression.
func suppress(dets []domain.Detection, iouThreshold float64) []domain.Detection {
	sort.SliceStable(dets, func(i, j int) bool { return dets[i].Confidence > dets[j].Confidence })

	kept := make([]domain.Detection, 0, len(dets))
	for _, d := range dets {
		overlap := false
		for _, k := range kept {
			if k.ClassID == d.ClassID && iou(k, d) > iouThreshold {
				overlap = true
				break
			}
		}
		if !overlap {
			kept = append(kept, d)
		}
	}
	return kept
}

func iou(a, b domain.Detection) float64 {
	ax1, ay1, ax2, ay2 := corners(a)
	bx1, by1, bx2, by2 := corners(b)

	iw := min(ax2, bx2) - max(ax1, bx1)
	ih := min(ay2, by2) - max(ay1, by1)
	if iw <= 0 || ih <= 0 {
		return 0
	}
	inter := iw * ih
	union := a.Width*a.Height + b.Width*b.Height - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

func corners(d domain.Detection) (x1, y1, x2, y2 float64) {
	return d.XCenter - d.Width/2, d.YCenter - d.Height/2, d.XCenter + d.Width/2, d.YCenter + d.Height/2
}
