package playback

import (
	"errors"
	"image"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"media-annotator/internal/domain"
	"media-annotator/internal/media"
)

// numbered frames carry their index in the first pixel.
func frameIndex(img image.Image) int {
	return int(img.(*image.RGBA).Pix[0])
}

type fakeDecoder struct {
	frames int
	fps    float64
	pos    int
	closed int
}

func (d *fakeDecoder) FPS() float64     { return d.fps }
func (d *fakeDecoder) FrameCount() int  { return d.frames }
func (d *fakeDecoder) Size() (int, int) { return 4, 4 }
func (d *fakeDecoder) Close() error     { d.closed++; return nil }

func (d *fakeDecoder) Seek(i int) error {
	d.pos = i
	return nil
}

func (d *fakeDecoder) Read() (image.Image, error) {
	if d.pos >= d.frames {
		return nil, io.EOF
	}
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Pix[0] = uint8(d.pos)
	d.pos++
	return img, nil
}

type fakeOpener struct {
	dec *fakeDecoder
	err error
}

func (o *fakeOpener) OpenDecoder(string) (media.Decoder, error) {
	if o.err != nil {
		return nil, o.err
	}
	return o.dec, nil
}

type fakeDisplay struct {
	shown    []int
	scrubMax int
	scrubPos []int
	label    string
}

func (d *fakeDisplay) ShowFrame(img image.Image)  { d.shown = append(d.shown, frameIndex(img)) }
func (d *fakeDisplay) SetScrubRange(min, max int) { d.scrubMax = max }
func (d *fakeDisplay) SetScrubPosition(pos int)   { d.scrubPos = append(d.scrubPos, pos) }
func (d *fakeDisplay) SetFrameLabel(text string)  { d.label = text }

type manualScheduler struct {
	interval time.Duration
	fn       func()
	stopped  int
}

func (s *manualScheduler) Every(interval time.Duration, fn func()) func() {
	s.interval = interval
	s.fn = fn
	return func() { s.stopped++ }
}

func newEngine(frames int, fps float64) (*Engine, *fakeDecoder, *fakeDisplay, *manualScheduler) {
	dec := &fakeDecoder{frames: frames, fps: fps}
	disp := &fakeDisplay{}
	sched := &manualScheduler{}
	return NewEngine(&fakeOpener{dec: dec}, disp, sched), dec, disp, sched
}

func TestPlaybackLoopsWithoutReportingOutOfRange(t *testing.T) {
	const n = 5
	e, _, disp, sched := newEngine(n, 25)
	require.NoError(t, e.Start("clip.mp4"))
	require.Equal(t, 40*time.Millisecond, sched.interval)
	require.Equal(t, n, disp.scrubMax)

	for i := 0; i < 3*(n+1); i++ {
		sched.fn()
	}

	for _, pos := range disp.scrubPos {
		require.GreaterOrEqual(t, pos, 0)
		require.Less(t, pos, n)
	}
	// one tick per loop is spent rewinding
	require.Equal(t, []int{0, 1, 2, 3, 4, 0, 1, 2, 3, 4, 0, 1, 2, 3, 4}, disp.shown)
	require.Equal(t, "Frame 5/5", disp.label)
}

func TestPlaybackFallsBackTo30FPS(t *testing.T) {
	e, _, _, sched := newEngine(3, 0)
	require.NoError(t, e.Start("clip.mp4"))
	require.Equal(t, 33*time.Millisecond, sched.interval)

	s, ok := e.Session()
	require.True(t, ok)
	require.Equal(t, 30.0, s.FPS)
}

func TestSeekWhilePausedShowsRequestedFrame(t *testing.T) {
	e, _, disp, _ := newEngine(10, 30)
	require.NoError(t, e.Start("clip.mp4"))
	require.False(t, e.TogglePlay())

	e.Seek(7)
	require.Equal(t, []int{7}, disp.shown)
	s, _ := e.Session()
	require.Equal(t, 7, s.Position)

	e.Seek(99)
	require.Equal(t, []int{7, 9}, disp.shown)
}

func TestScrubbingSuppressesPositionUpdates(t *testing.T) {
	e, _, disp, sched := newEngine(10, 30)
	require.NoError(t, e.Start("clip.mp4"))

	e.SetScrubbing(true)
	sched.fn()
	sched.fn()
	require.Empty(t, disp.scrubPos)
	require.Len(t, disp.shown, 2)

	e.SetScrubbing(false)
	sched.fn()
	require.Equal(t, []int{2}, disp.scrubPos)
}

func TestPauseIgnoresTicksAndStopsTimer(t *testing.T) {
	e, _, disp, sched := newEngine(10, 30)
	require.NoError(t, e.Start("clip.mp4"))
	fn := sched.fn

	require.False(t, e.TogglePlay())
	require.Equal(t, 1, sched.stopped)
	fn()
	require.Empty(t, disp.shown)

	require.True(t, e.TogglePlay())
	sched.fn()
	require.Len(t, disp.shown, 1)
}

func TestStartFailureLeavesNoSession(t *testing.T) {
	disp := &fakeDisplay{}
	e := NewEngine(&fakeOpener{err: errors.New("corrupt")}, disp, &manualScheduler{})

	err := e.Start("broken.mp4")
	require.Equal(t, domain.KindSourceUnreadable, domain.KindOf(err))
	_, ok := e.Session()
	require.False(t, ok)
}

func TestStopIsIdempotentAndReleasesDecoder(t *testing.T) {
	e, dec, _, sched := newEngine(3, 30)
	require.NoError(t, e.Start("clip.mp4"))
	stale := sched.fn

	e.Stop()
	e.Stop()
	require.Equal(t, 1, dec.closed)
	require.Equal(t, 1, sched.stopped)
	_, ok := e.Session()
	require.False(t, ok)

	stale()
}

func TestStaleTickDoesNotDriveNewSession(t *testing.T) {
	e, _, disp, sched := newEngine(3, 30)
	require.NoError(t, e.Start("a.mp4"))
	stale := sched.fn

	require.NoError(t, e.Start("b.mp4"))
	stale()
	require.Empty(t, disp.shown)
}
