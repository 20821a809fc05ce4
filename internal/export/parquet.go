package export

import (
	"github.com/parquet-go/parquet-go"

	"media-annotator/internal/domain"
)

// DetectionRow is one detection of one entry in the dataset export.
type DetectionRow struct {
	Identity    string  `parquet:"identity"`
	Kind        string  `parquet:"kind"`
	ClassID     int32   `parquet:"class_id"`
	ClassName   string  `parquet:"class_name"`
	XCenter     float64 `parquet:"x_center"`
	YCenter     float64 `parquet:"y_center"`
	Width       float64 `parquet:"width"`
	Height      float64 `parquet:"height"`
	Confidence  float64 `parquet:"confidence"`
	ImageWidth  int32   `parquet:"image_width"`
	ImageHeight int32   `parquet:"image_height"`
}

// Rows flattens image entries into dataset rows. Videos carry no
// per-detection metadata and are skipped.
func Rows(entries []domain.MediaEntry, names map[int]string) []DetectionRow {
	rows := make([]DetectionRow, 0)
	for _, e := range entries {
		if e.Kind != domain.MediaKindImage {
			continue
		}
		for _, d := range e.Detections {
			rows = append(rows, DetectionRow{
				Identity:    e.Identity,
				Kind:        string(e.Kind),
				ClassID:     int32(d.ClassID),
				ClassName:   names[d.ClassID],
				XCenter:     d.XCenter,
				YCenter:     d.YCenter,
				Width:       d.Width,
				Height:      d.Height,
				Confidence:  d.Confidence,
				ImageWidth:  int32(e.Width),
				ImageHeight: int32(e.Height),
			})
		}
	}
	return rows
}

// WriteParquet writes rows to a parquet file at path.
func WriteParquet(path string, rows []DetectionRow) error {
	return parquet.WriteFile(path, rows)
}

// ReadParquet reads a dataset written by WriteParquet.
func ReadParquet(path string) ([]DetectionRow, error) {
	return parquet.ReadFile[DetectionRow](path)
}
