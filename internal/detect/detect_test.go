package detect

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"media-annotator/internal/domain"
	"media-annotator/internal/media"
	"media-annotator/internal/render"
)

type fakeRunner struct {
	calls  [][]string
	onRun  func(args []string) error
	result media.CommandLog
}

func (r *fakeRunner) Run(ctx context.Context, name string, args ...string) (media.CommandLog, error) {
	r.calls = append(r.calls, append([]string{name}, args...))
	log := r.result
	log.Command = name
	log.Args = args
	if r.onRun != nil {
		return log, r.onRun(args)
	}
	return log, nil
}

func argValue(args []string, key string) string {
	for _, a := range args {
		if v, ok := strings.CutPrefix(a, key+"="); ok {
			return v
		}
	}
	return ""
}

func TestYOLODetectImageReadsLabelFile(t *testing.T) {
	runner := &fakeRunner{onRun: func(args []string) error {
		dir := filepath.Join(argValue(args, "project"), argValue(args, "name"), "labels")
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
		return os.WriteFile(filepath.Join(dir, "car.txt"), []byte("2 0.5 0.5 0.2 0.2 0.91\n"), 0o644)
	}}

	y := NewYOLO("yolo", "yolov8n.pt", nil, runner)
	dets, err := y.DetectImage(context.Background(), "/pics/car.jpg")
	require.NoError(t, err)
	require.Equal(t, []domain.Detection{{ClassID: 2, XCenter: 0.5, YCenter: 0.5, Width: 0.2, Height: 0.2, Confidence: 0.91}}, dets)

	args := runner.calls[0]
	require.Equal(t, "yolo", args[0])
	require.Equal(t, "predict", args[1])
	require.Equal(t, "car_labels", argValue(args, "name"))
	require.Contains(t, args, "save_txt=True")
	require.Contains(t, args, "save_conf=True")
}

func TestYOLODetectImageWithoutLabelsReturnsEmpty(t *testing.T) {
	y := NewYOLO("yolo", "m.pt", nil, &fakeRunner{})
	dets, err := y.DetectImage(context.Background(), "/pics/empty.jpg")
	require.NoError(t, err)
	require.Empty(t, dets)
}

func TestYOLODetectImageWrapsCommandFailure(t *testing.T) {
	runner := &fakeRunner{
		result: media.CommandLog{ExitCode: 1, Stderr: "boom"},
		onRun:  func([]string) error { return errors.New("exit status 1") },
	}
	y := NewYOLO("yolo", "m.pt", nil, runner)
	_, err := y.DetectImage(context.Background(), "/pics/car.jpg")

	var cmdErr *media.CommandError
	require.ErrorAs(t, err, &cmdErr)
	require.Equal(t, "boom", cmdErr.Log.Stderr)
}

func TestYOLODetectVideoFindsResult(t *testing.T) {
	out := t.TempDir()
	runner := &fakeRunner{onRun: func(args []string) error {
		dir := filepath.Join(argValue(args, "project"), argValue(args, "name"))
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
		return os.WriteFile(filepath.Join(dir, "clip.avi"), []byte("video"), 0o644)
	}}

	y := NewYOLO("yolo", "m.pt", nil, runner)
	path, err := y.DetectVideo(context.Background(), "/videos/clip.mp4", out)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(out, videoResultsDir, "clip.avi"), path)
	require.Contains(t, runner.calls[0], "save=True")
}

func TestYOLODetectVideoMissingResult(t *testing.T) {
	y := NewYOLO("yolo", "m.pt", nil, &fakeRunner{})
	_, err := y.DetectVideo(context.Background(), "/videos/clip.mp4", t.TempDir())
	require.Equal(t, domain.KindResultMissing, domain.KindOf(err))
}

func TestFindResultVideoFallsBackToNewest(t *testing.T) {
	dir := t.TempDir()
	older := filepath.Join(dir, "a.mp4")
	newer := filepath.Join(dir, "b.mp4")
	require.NoError(t, os.WriteFile(older, nil, 0o644))
	require.NoError(t, os.WriteFile(newer, nil, 0o644))
	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(older, past, past))

	got, ok := findResultVideo(dir, "/x/other.mov")
	require.True(t, ok)
	require.Equal(t, newer, got)
}

func TestParseNamesListAndMap(t *testing.T) {
	list, err := parseNames([]byte("names: [person, bicycle, car]\n"))
	require.NoError(t, err)
	require.Equal(t, "car", list[2])

	mapped, err := parseNames([]byte("path: data\nnames:\n  0: cat\n  5: dog\n"))
	require.NoError(t, err)
	require.Equal(t, map[int]string{0: "cat", 5: "dog"}, mapped)

	_, err = parseNames([]byte("nc: 3\n"))
	require.Error(t, err)
}

func TestLoadNamesWithoutSourceIsEmpty(t *testing.T) {
	names, err := LoadNames("")
	require.NoError(t, err)
	require.Empty(t, names)
}

func TestCustomModelWithoutNamesRendersUnknown(t *testing.T) {
	dir := t.TempDir()
	model := filepath.Join(dir, "military_vehicles.pt")
	require.NoError(t, os.WriteFile(model, []byte("weights"), 0o644))

	runner := &fakeRunner{onRun: func([]string) error { return errors.New("no module named ultralytics") }}
	det, err := Load(Options{ModelPath: model, Runner: runner})
	require.NoError(t, err)
	require.Empty(t, det.ClassNames())
	require.Equal(t, "Unknown", render.NewRenderer(render.NewPalette(), det.ClassNames()).ClassName(0))
}

func TestCheckpointNamesComeFromTheModel(t *testing.T) {
	dir := t.TempDir()
	model := filepath.Join(dir, "military_vehicles.pt")
	require.NoError(t, os.WriteFile(model, []byte("weights"), 0o644))

	runner := &fakeRunner{result: media.CommandLog{Stdout: "Ultralytics 8.2.0\n{\"0\": \"tank\", \"1\": \"apc\"}\n"}}
	det, err := Load(Options{ModelPath: model, Runner: runner})
	require.NoError(t, err)
	require.Equal(t, map[int]string{0: "tank", 1: "apc"}, det.ClassNames())
	require.Equal(t, "-c", runner.calls[0][1])
	require.Equal(t, model, runner.calls[0][3])
}

func TestPretrainedCheckpointFallsBackToCOCO(t *testing.T) {
	dir := t.TempDir()
	model := filepath.Join(dir, "yolov8n.pt")
	require.NoError(t, os.WriteFile(model, []byte("weights"), 0o644))

	runner := &fakeRunner{onRun: func([]string) error { return errors.New("python missing") }}
	det, err := Load(Options{ModelPath: model, Runner: runner})
	require.NoError(t, err)
	require.Len(t, det.ClassNames(), 80)
	require.Equal(t, "car", det.ClassNames()[2])

	require.True(t, IsPretrainedCOCO("/models/YOLO11s.onnx"))
	require.False(t, IsPretrainedCOCO("/models/military_vehicles.pt"))
	require.False(t, IsPretrainedCOCO("/models/yolov8n_custom.pt"))
}

func TestReadONNXNamesFromMetadata(t *testing.T) {
	value := "{0: 'tank', 1: \"armored car\", 2: 'uav'}"
	var blob []byte
	blob = append(blob, []byte("graph bytes")...)
	blob = append(blob, 0x0a, 0x05)
	blob = append(blob, "names"...)
	blob = append(blob, 0x12, byte(len(value)))
	blob = append(blob, value...)
	path := filepath.Join(t.TempDir(), "custom.onnx")
	require.NoError(t, os.WriteFile(path, blob, 0o644))

	names, err := readONNXNames(path)
	require.NoError(t, err)
	require.Equal(t, map[int]string{0: "tank", 1: "armored car", 2: "uav"}, names)

	plain := filepath.Join(t.TempDir(), "plain.onnx")
	require.NoError(t, os.WriteFile(plain, []byte("graph bytes"), 0o644))
	_, err = readONNXNames(plain)
	require.Error(t, err)
}

func TestLoadPicksBackendByExtension(t *testing.T) {
	dir := t.TempDir()
	model := filepath.Join(dir, "yolov8n.pt")
	require.NoError(t, os.WriteFile(model, []byte("weights"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "yolov8n.yaml"), []byte("names: [a, b]\n"), 0o644))

	det, err := Load(Options{ModelPath: dir, Runner: &fakeRunner{}})
	require.NoError(t, err)
	require.IsType(t, &YOLO{}, det)
	require.Equal(t, "b", det.ClassNames()[1])

	_, err = Load(Options{ModelPath: ""})
	require.Equal(t, domain.KindModelUnavailable, domain.KindOf(err))

	bad := filepath.Join(dir, "weights.bin")
	require.NoError(t, os.WriteFile(bad, nil, 0o644))
	_, err = Load(Options{ModelPath: bad})
	require.Equal(t, domain.KindModelUnavailable, domain.KindOf(err))
}

func TestDecodeYOLOv8AppliesThresholdAndNMS(t *testing.T) {
	const anchors = 3
	// rows: cx, cy, w, h, class0, class1
	data := []float32{
		320, 322, 100, // cx
		320, 320, 320, // cy
		64, 64, 64, // w
		64, 64, 64, // h
		0.9, 0.8, 0.1, // class 0
		0.1, 0.1, 0.05, // class 1
	}

	dets := decodeYOLOv8(data, 6, anchors, 640, 0.25, 0.7)
	require.Len(t, dets, 1)
	require.Equal(t, 0, dets[0].ClassID)
	require.InDelta(t, 0.5, dets[0].XCenter, 1e-9)
	require.InDelta(t, 0.1, dets[0].Width, 1e-9)
	require.InDelta(t, 0.9, dets[0].Confidence, 1e-6)
}

func TestSuppressKeepsDifferentClasses(t *testing.T) {
	a := domain.Detection{ClassID: 0, XCenter: 0.5, YCenter: 0.5, Width: 0.2, Height: 0.2, Confidence: 0.9}
	b := a
	b.ClassID = 1
	b.Confidence = 0.8

	require.Len(t, suppress([]domain.Detection{a, b}, 0.5), 2)
}
