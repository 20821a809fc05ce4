package pipeline

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"media-annotator/internal/domain"
	"media-annotator/internal/jobs"
	"media-annotator/internal/labels"
	"media-annotator/internal/media"
)

// fakeDetector returns canned detections and writes fake result videos.
type fakeDetector struct {
	detections map[string][]domain.Detection
	failOn     string
	videoOut   bool
}

func (f *fakeDetector) DetectImage(ctx context.Context, path string) ([]domain.Detection, error) {
	if filepath.Base(path) == f.failOn {
		return nil, errors.New("inference failed")
	}
	return f.detections[filepath.Base(path)], nil
}

func (f *fakeDetector) DetectVideo(ctx context.Context, inputPath, outputDir string) (string, error) {
	out := filepath.Join(outputDir, "result.mp4")
	if f.videoOut {
		if err := os.WriteFile(out, []byte("annotated"), 0o644); err != nil {
			return "", err
		}
	}
	return out, nil
}

func (f *fakeDetector) ClassNames() map[int]string { return map[int]string{2: "car"} }
func (f *fakeDetector) Close() error               { return nil }

// fakeCodec serves solid-color frames.
type fakeCodec struct {
	frames int
	seeked int
}

func (c *fakeCodec) OpenDecoder(path string) (media.Decoder, error) {
	return &fakeDecoder{codec: c}, nil
}

func (c *fakeCodec) CreateEncoder(path string, fps float64, width, height int) (media.Encoder, error) {
	return nil, errors.New("not supported")
}

type fakeDecoder struct {
	codec *fakeCodec
	pos   int
}

func (d *fakeDecoder) FPS() float64     { return 30 }
func (d *fakeDecoder) FrameCount() int  { return d.codec.frames }
func (d *fakeDecoder) Size() (int, int) { return 64, 48 }
func (d *fakeDecoder) Close() error     { return nil }

func (d *fakeDecoder) Seek(i int) error {
	d.pos = i
	d.codec.seeked = i
	return nil
}

func (d *fakeDecoder) Read() (image.Image, error) {
	if d.pos >= d.codec.frames {
		return nil, io.EOF
	}
	d.pos++
	return solid(64, 48), nil
}

func solid(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 0x80
	}
	return img
}

func mustWritePNG(t *testing.T, path string, w, h int) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer f.Close()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	img.Set(0, 0, color.White)
	if err := png.Encode(f, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
}

func mustWriteFile(t *testing.T, path string, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func newTestPipeline(t *testing.T, codec media.Codec) *Pipeline {
	t.Helper()
	ws, err := NewWorkspace(filepath.Join(t.TempDir(), "ws"))
	if err != nil {
		t.Fatalf("workspace: %v", err)
	}
	return New(ws, codec)
}

// runJob executes a job body and returns every emitted event.
func runJob(t *testing.T, run jobs.RunFunc) ([]jobs.Event, error) {
	t.Helper()
	var events []jobs.Event
	err := run(context.Background(), func(ev jobs.Event) { events = append(events, ev) })
	return events, err
}

// TestImageSingleProducesResultAndLabels covers the single car.jpg flow.
func TestImageSingleProducesResultAndLabels(t *testing.T) {
	src := filepath.Join(t.TempDir(), "car.png")
	mustWritePNG(t, src, 640, 480)

	det := &fakeDetector{detections: map[string][]domain.Detection{
		"car.png": {{ClassID: 2, XCenter: 0.5, YCenter: 0.5, Width: 0.2, Height: 0.2, Confidence: 0.91}},
	}}
	p := newTestPipeline(t, &fakeCodec{})

	events, err := runJob(t, p.ImageJob(det, domain.Job{Kind: domain.JobKindImageSingle, Inputs: []string{src}}))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(events) != 1 || events[0].Type != jobs.EventTypeResult {
		t.Fatalf("events = %+v, want one result", events)
	}

	ev := events[0]
	if ev.Width != 640 || ev.Height != 480 {
		t.Fatalf("size = %dx%d, want 640x480", ev.Width, ev.Height)
	}
	if ev.WorkingPath != filepath.Join(p.Workspace().Originals(), "car.png") {
		t.Fatalf("working path = %s", ev.WorkingPath)
	}
	got, err := labels.Read(ev.LabelPath)
	if err != nil {
		t.Fatalf("read labels: %v", err)
	}
	if len(got) != 1 || got[0].ClassID != 2 {
		t.Fatalf("labels = %+v", got)
	}
}

// TestImageWithoutDetectionsWritesEmptyLabelFile verifies the empty artifact.
func TestImageWithoutDetectionsWritesEmptyLabelFile(t *testing.T) {
	src := filepath.Join(t.TempDir(), "empty.png")
	mustWritePNG(t, src, 10, 10)
	p := newTestPipeline(t, &fakeCodec{})

	res, err := p.ProcessImage(context.Background(), &fakeDetector{}, src)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	info, err := os.Stat(res.LabelPath)
	if err != nil {
		t.Fatalf("label file missing: %v", err)
	}
	if info.Size() != 0 {
		t.Fatalf("label size = %d, want 0", info.Size())
	}
}

// TestImageSingleUnreadableSource verifies the source_unreadable kind and path.
func TestImageSingleUnreadableSource(t *testing.T) {
	root := t.TempDir()
	notImage := filepath.Join(root, "notes.png")
	mustWriteFile(t, notImage, "not an image")
	p := newTestPipeline(t, &fakeCodec{})

	for _, path := range []string{filepath.Join(root, "missing.jpg"), notImage} {
		_, err := runJob(t, p.ImageJob(&fakeDetector{}, domain.Job{Kind: domain.JobKindImageSingle, Inputs: []string{path}}))
		if domain.KindOf(err) != domain.KindSourceUnreadable {
			t.Fatalf("kind = %q, want source_unreadable (err=%v)", domain.KindOf(err), err)
		}
		if domain.PathOf(err) != path {
			t.Fatalf("path = %q, want %q", domain.PathOf(err), path)
		}
	}
}

// TestImageBatchContinuesPastFailures verifies per-file events in a batch.
func TestImageBatchContinuesPastFailures(t *testing.T) {
	root := t.TempDir()
	a := filepath.Join(root, "a.png")
	b := filepath.Join(root, "b.png")
	c := filepath.Join(root, "c.png")
	mustWritePNG(t, a, 4, 4)
	mustWritePNG(t, b, 4, 4)
	mustWritePNG(t, c, 4, 4)
	p := newTestPipeline(t, &fakeCodec{})

	events, err := runJob(t, p.ImageJob(&fakeDetector{failOn: "b.png"}, domain.Job{
		Kind:   domain.JobKindImageBatch,
		Inputs: []string{a, b, c},
	}))
	if err != nil {
		t.Fatalf("batch returned error: %v", err)
	}

	ready, failed := 0, 0
	for _, ev := range events {
		switch ev.Type {
		case jobs.EventTypeFileReady:
			ready++
		case jobs.EventTypeError:
			failed++
			if ev.Path != b {
				t.Fatalf("error path = %s, want %s", ev.Path, b)
			}
		}
	}
	if ready != 2 || failed != 1 {
		t.Fatalf("ready=%d failed=%d, want 2 and 1", ready, failed)
	}
}

// TestScreenshotFrameIsSavedBeforeProcessing verifies captured frames become files.
func TestScreenshotFrameIsSavedBeforeProcessing(t *testing.T) {
	p := newTestPipeline(t, &fakeCodec{})
	p.now = func() time.Time { return time.Unix(1700000000, 0) }

	events, err := runJob(t, p.ImageJob(&fakeDetector{}, domain.Job{Kind: domain.JobKindImageSingle, Frame: solid(20, 10)}))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	want := filepath.Join(p.Workspace().Root, "screenshot_1700000000.png")
	if events[0].Path != want {
		t.Fatalf("path = %s, want %s", events[0].Path, want)
	}
	if events[0].Width != 20 || events[0].Height != 10 {
		t.Fatalf("size = %dx%d", events[0].Width, events[0].Height)
	}

	second, err := p.SaveFrame(solid(2, 2))
	if err != nil {
		t.Fatalf("save frame: %v", err)
	}
	if second == want {
		t.Fatal("expected a distinct path for a second screenshot in the same second")
	}
}

// TestVideoJobEmitsThumbnailAndResult covers the video flow.
func TestVideoJobEmitsThumbnailAndResult(t *testing.T) {
	src := filepath.Join(t.TempDir(), "clip.mp4")
	mustWriteFile(t, src, "video")
	codec := &fakeCodec{frames: 90}
	p := newTestPipeline(t, codec)

	events, err := runJob(t, p.VideoJob(&fakeDetector{videoOut: true}, domain.Job{Kind: domain.JobKindVideo, Inputs: []string{src}}))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(events) != 1 || events[0].Type != jobs.EventTypeVideo {
		t.Fatalf("events = %+v", events)
	}
	if codec.seeked != 30 {
		t.Fatalf("thumbnail frame = %d, want 30", codec.seeked)
	}
	if _, err := os.Stat(events[0].ThumbnailPath); err != nil {
		t.Fatalf("thumbnail missing: %v", err)
	}
	if events[0].Width != 64 || events[0].Height != 48 {
		t.Fatalf("size = %dx%d", events[0].Width, events[0].Height)
	}
}

// TestVideoJobMissingResult verifies result_missing when no output appears.
func TestVideoJobMissingResult(t *testing.T) {
	src := filepath.Join(t.TempDir(), "clip.mp4")
	mustWriteFile(t, src, "video")
	p := newTestPipeline(t, &fakeCodec{frames: 2})

	_, err := runJob(t, p.VideoJob(&fakeDetector{}, domain.Job{Kind: domain.JobKindVideo, Inputs: []string{src}}))
	if domain.KindOf(err) != domain.KindResultMissing {
		t.Fatalf("kind = %q, want result_missing", domain.KindOf(err))
	}
}

// TestThumbnailUsesFirstFrameForShortVideos verifies the max(1, n/3) rule.
func TestThumbnailUsesFirstFrameForShortVideos(t *testing.T) {
	src := filepath.Join(t.TempDir(), "short.mp4")
	mustWriteFile(t, src, "video")
	codec := &fakeCodec{frames: 2}
	p := newTestPipeline(t, codec)

	if _, _, _, err := p.Thumbnail(src); err != nil {
		t.Fatalf("thumbnail: %v", err)
	}
	if codec.seeked != 1 {
		t.Fatalf("seeked = %d, want 1", codec.seeked)
	}
}

// TestWriteImageFileLeavesNothingOnEncodeFailure checks that a failed encode
// removes the partial output, so a later run does not mistake it for a
// cached thumbnail.
func TestWriteImageFileLeavesNothingOnEncodeFailure(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "clip_thumb.jpg")

	err := writeImageFile(path, func(out io.Writer) error {
		if _, err := out.Write([]byte{0xff, 0xd8, 0xff}); err != nil {
			return err
		}
		return errors.New("encoder gave up")
	})
	if err == nil {
		t.Fatal("expected encode error")
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("left %d file(s) behind, first %s", len(entries), entries[0].Name())
	}

	if err := writeImageFile(path, func(out io.Writer) error {
		_, err := out.Write([]byte("ok"))
		return err
	}); err != nil {
		t.Fatalf("write: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil || string(data) != "ok" {
		t.Fatalf("content = %q, err = %v", data, err)
	}
}
