// Package labels persists detections as normalized text label files, one
// detection per line: "class_id x_center y_center width height confidence".
package labels

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"media-annotator/internal/domain"
)

const fieldCount = 6

// Path returns the label file location for source inside the labels root.
func Path(root, source string) string {
	base := Stem(source)
	return filepath.Join(root, base+"_labels", "labels", base+".txt")
}

// Stem returns the file name without directory and extension.
func Stem(path string) string {
	name := filepath.Base(path)
	return strings.TrimSuffix(name, filepath.Ext(name))
}

// Format renders detections in label-file form.
func Format(detections []domain.Detection) string {
	var buf bytes.Buffer
	for _, d := range detections {
		fmt.Fprintf(&buf, "%d %s %s %s %s %s\n",
			d.ClassID,
			formatFloat(d.XCenter),
			formatFloat(d.YCenter),
			formatFloat(d.Width),
			formatFloat(d.Height),
			formatFloat(d.Confidence),
		)
	}
	return buf.String()
}

// Parse reads label lines, skipping lines that are short or not numeric.
func Parse(r io.Reader) ([]domain.Detection, error) {
	out := make([]domain.Detection, 0)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		d, ok := parseLine(scanner.Text())
		if ok {
			out = append(out, d)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Write persists detections to path, creating parent directories. Zero
// detections still produce an empty file.
func Write(path string, detections []domain.Detection) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create label directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(Format(detections)), 0o644); err != nil {
		return fmt.Errorf("write labels %s: %w", path, err)
	}
	return nil
}

// Read loads detections from a label file.
func Read(path string) ([]domain.Detection, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Parse(f)
}

func parseLine(line string) (domain.Detection, bool) {
	fields := strings.Fields(line)
	if len(fields) < fieldCount {
		return domain.Detection{}, false
	}

	classID, err := strconv.Atoi(fields[0])
	if err != nil {
		// some exporters write the class as a float
		f, ferr := strconv.ParseFloat(fields[0], 64)
		if ferr != nil {
			return domain.Detection{}, false
		}
		classID = int(f)
	}

	values := make([]float64, fieldCount-1)
	for i := range values {
		v, err := strconv.ParseFloat(fields[i+1], 64)
		if err != nil {
			return domain.Detection{}, false
		}
		values[i] = v
	}

	return domain.Detection{
		ClassID:    classID,
		XCenter:    values[0],
		YCenter:    values[1],
		Width:      values[2],
		Height:     values[3],
		Confidence: values[4],
	}, true
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
