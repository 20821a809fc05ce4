package export

import (
	"context"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"media-annotator/internal/domain"
	"media-annotator/internal/jobs"
	"media-annotator/internal/render"
)

func TestProcessedName(t *testing.T) {
	require.Equal(t, "car_processed.jpg", ProcessedName("/a/b/car.jpg"))
	require.Equal(t, "clip.v2_processed.mp4", ProcessedName("clip.v2.mp4"))
	require.Equal(t, "noext_processed", ProcessedName("noext"))
}

func TestSaveImagePicksEncoderByExtension(t *testing.T) {
	dir := t.TempDir()
	img := image.NewRGBA(image.Rect(0, 0, 3, 2))

	pngPath := filepath.Join(dir, "out", "a.png")
	require.NoError(t, SaveImage(pngPath, img))
	f, err := os.Open(pngPath)
	require.NoError(t, err)
	defer f.Close()
	cfg, err := png.DecodeConfig(f)
	require.NoError(t, err)
	require.Equal(t, 3, cfg.Width)

	jpgPath := filepath.Join(dir, "a.jpg")
	require.NoError(t, SaveImage(jpgPath, img))
	data, err := os.ReadFile(jpgPath)
	require.NoError(t, err)
	require.Equal(t, []byte{0xff, 0xd8}, data[:2])
}

func TestVideoJobCopiesVerbatim(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "result.mp4")
	require.NoError(t, os.WriteFile(src, []byte("annotated-bytes"), 0o644))
	dest := filepath.Join(dir, "export", "clip_processed.mp4")

	var events []jobs.Event
	err := VideoJob("/videos/clip.mp4", src, dest)(context.Background(), func(ev jobs.Event) { events = append(events, ev) })
	require.NoError(t, err)

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	require.Equal(t, "annotated-bytes", string(data))
	require.Len(t, events, 1)
	require.Equal(t, jobs.EventTypeSaved, events[0].Type)
	require.Equal(t, "/videos/clip.mp4", events[0].Path)
}

func TestVideoJobMissingResult(t *testing.T) {
	err := VideoJob("clip.mp4", filepath.Join(t.TempDir(), "gone.mp4"), "x.mp4")(context.Background(), func(jobs.Event) {})
	require.Equal(t, domain.KindResultMissing, domain.KindOf(err))
}

func TestImageJobSaveFailure(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))

	err := ImageJob("car.jpg", image.NewRGBA(image.Rect(0, 0, 1, 1)), filepath.Join(blocker, "car_processed.png"))(context.Background(), func(jobs.Event) {})
	require.Equal(t, domain.KindSaveFailed, domain.KindOf(err))
}

func TestRenderJobDrawsDetections(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "car.png")
	require.NoError(t, SaveImage(src, image.NewRGBA(image.Rect(0, 0, 100, 80))))

	entry := domain.MediaEntry{
		Identity:        "/pics/car.png",
		Kind:            domain.MediaKindImage,
		WorkingCopyPath: src,
		Detections:      []domain.Detection{{ClassID: 0, XCenter: 0.5, YCenter: 0.5, Width: 0.5, Height: 0.5, Confidence: 0.9}},
	}
	dest := filepath.Join(dir, "out", "car_processed.png")
	r := render.NewRenderer(nil, map[int]string{0: "person"})

	var events []jobs.Event
	err := RenderJob(r, render.DefaultFlags(), entry, dest)(context.Background(), func(ev jobs.Event) { events = append(events, ev) })
	require.NoError(t, err)
	require.Len(t, events, 1)

	f, err := os.Open(dest)
	require.NoError(t, err)
	defer f.Close()
	out, err := png.Decode(f)
	require.NoError(t, err)
	box := render.BoxRect(entry.Detections[0], 100, 80)
	_, _, _, a := out.At(box.Min.X, box.Max.Y-1).RGBA()
	require.NotZero(t, a)
}

func TestRenderJobMissingSource(t *testing.T) {
	entry := domain.MediaEntry{Identity: "gone.png", WorkingCopyPath: filepath.Join(t.TempDir(), "gone.png")}
	err := RenderJob(render.NewRenderer(nil, nil), render.DefaultFlags(), entry, "x.png")(context.Background(), func(jobs.Event) {})
	require.Equal(t, domain.KindSourceUnreadable, domain.KindOf(err))
}

func TestParquetRoundTrip(t *testing.T) {
	entries := []domain.MediaEntry{
		{
			Identity: "/a/car.jpg", Kind: domain.MediaKindImage, Width: 640, Height: 480,
			Detections: []domain.Detection{
				{ClassID: 2, XCenter: 0.5, YCenter: 0.5, Width: 0.2, Height: 0.2, Confidence: 0.91},
				{ClassID: 0, XCenter: 0.1, YCenter: 0.1, Width: 0.05, Height: 0.1, Confidence: 0.4},
			},
		},
		{Identity: "/a/clip.mp4", Kind: domain.MediaKindVideo},
	}

	rows := Rows(entries, map[int]string{2: "car"})
	require.Len(t, rows, 2)
	require.Equal(t, "car", rows[0].ClassName)
	require.Equal(t, "", rows[1].ClassName)

	path := filepath.Join(t.TempDir(), "detections.parquet")
	require.NoError(t, WriteParquet(path, rows))
	got, err := ReadParquet(path)
	require.NoError(t, err)
	require.Equal(t, rows, got)
}
