package media

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"os/exec"
	"strconv"
	"strings"
)

// ProbeInfo describes the first video stream of a file.
type ProbeInfo struct {
	Width  int
	Height int
	FPS    float64
	Frames int
}

// FFmpeg implements Codec with the ffmpeg and ffprobe executables.
type FFmpeg struct {
	FFmpegPath  string
	FFprobePath string
	runner      Runner
	command     func(name string, args ...string) *exec.Cmd
}

// NewFFmpeg creates an ffmpeg-backed codec.
func NewFFmpeg(ffmpegPath, ffprobePath string) *FFmpeg {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &FFmpeg{
		FFmpegPath:  ffmpegPath,
		FFprobePath: ffprobePath,
		runner:      ExecRunner{},
		command:     exec.Command,
	}
}

// Probe reads stream dimensions, frame rate and frame count.
func (f *FFmpeg) Probe(ctx context.Context, path string) (ProbeInfo, error) {
	args := buildProbeArgs(path)
	log, err := f.runner.Run(ctx, f.FFprobePath, args...)
	if err != nil {
		return ProbeInfo{}, &CommandError{Message: "ffprobe failed", Log: log, Err: err}
	}
	return parseProbe([]byte(log.Stdout))
}

// OpenDecoder starts decoding path from its first frame.
func (f *FFmpeg) OpenDecoder(path string) (Decoder, error) {
	info, err := f.Probe(context.Background(), path)
	if err != nil {
		return nil, err
	}
	if info.Width <= 0 || info.Height <= 0 {
		return nil, fmt.Errorf("no video stream in %s", path)
	}

	d := &ffmpegDecoder{codec: f, path: path, info: info}
	if err := d.start(0); err != nil {
		return nil, err
	}
	return d, nil
}

// CreateEncoder starts an mpeg4 encoder writing to path.
func (f *FFmpeg) CreateEncoder(path string, fps float64, width, height int) (Encoder, error) {
	cmd := f.command(f.FFmpegPath, buildEncodeArgs(path, fps, width, height)...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ffmpeg encoder: %w", err)
	}

	return &ffmpegEncoder{
		cmd:    cmd,
		stdin:  stdin,
		stderr: &stderr,
		width:  width,
		height: height,
	}, nil
}

type ffmpegDecoder struct {
	codec  *FFmpeg
	path   string
	info   ProbeInfo
	cmd    *exec.Cmd
	stdout io.ReadCloser
	frame  []byte
}

func (d *ffmpegDecoder) FPS() float64    { return d.info.FPS }
func (d *ffmpegDecoder) FrameCount() int { return d.info.Frames }

func (d *ffmpegDecoder) Size() (int, int) { return d.info.Width, d.info.Height }

func (d *ffmpegDecoder) Read() (image.Image, error) {
	if d.stdout == nil {
		return nil, io.EOF
	}
	if _, err := io.ReadFull(d.stdout, d.frame); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, io.EOF
		}
		return nil, err
	}

	img := image.NewRGBA(image.Rect(0, 0, d.info.Width, d.info.Height))
	copy(img.Pix, d.frame)
	return img, nil
}

func (d *ffmpegDecoder) Seek(index int) error {
	d.stop()
	return d.start(index)
}

func (d *ffmpegDecoder) Close() error {
	d.stop()
	return nil
}

func (d *ffmpegDecoder) start(index int) error {
	cmd := d.codec.command(d.codec.FFmpegPath, buildDecodeArgs(d.path, index, d.info.FPS)...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start ffmpeg decoder: %w", err)
	}

	d.cmd = cmd
	d.stdout = stdout
	if d.frame == nil {
		d.frame = make([]byte, d.info.Width*d.info.Height*4)
	}
	return nil
}

func (d *ffmpegDecoder) stop() {
	if d.cmd == nil {
		return
	}
	_ = d.stdout.Close()
	if d.cmd.Process != nil {
		_ = d.cmd.Process.Kill()
	}
	_ = d.cmd.Wait()
	d.cmd = nil
	d.stdout = nil
}

type ffmpegEncoder struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stderr *bytes.Buffer
	width  int
	height int
	closed bool
}

func (e *ffmpegEncoder) WriteFrame(img image.Image) error {
	if e.closed {
		return errors.New("encoder is closed")
	}
	_, err := e.stdin.Write(packRGBA(img, e.width, e.height))
	return err
}

func (e *ffmpegEncoder) Close() error {
	if e.closed {
		return nil
	}
	e.closed = true
	_ = e.stdin.Close()
	if err := e.cmd.Wait(); err != nil {
		return &CommandError{
			Message: "ffmpeg encoder failed",
			Log: CommandLog{
				Command: e.cmd.Path,
				Args:    e.cmd.Args,
				Stderr:  e.stderr.String(),
			},
			Err: err,
		}
	}
	return nil
}

// packRGBA returns width*height*4 bytes of img, cropping or padding with
// black when the frame size differs.
func packRGBA(img image.Image, width, height int) []byte {
	rgba := ToRGBA(img)
	if rgba.Bounds().Dx() == width && rgba.Bounds().Dy() == height && rgba.Stride == width*4 {
		return rgba.Pix[:width*height*4]
	}

	out := make([]byte, width*height*4)
	rows := min(height, rgba.Bounds().Dy())
	cols := min(width, rgba.Bounds().Dx())
	for y := 0; y < rows; y++ {
		src := rgba.Pix[y*rgba.Stride : y*rgba.Stride+cols*4]
		copy(out[y*width*4:], src)
	}
	return out
}

func buildProbeArgs(path string) []string {
	return []string{
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height,r_frame_rate,avg_frame_rate,nb_frames:format=duration",
		"-of", "json",
		path,
	}
}

func buildDecodeArgs(path string, index int, fps float64) []string {
	args := []string{"-v", "error", "-nostdin"}
	if index > 0 && fps > 0 {
		args = append(args, "-ss", strconv.FormatFloat(float64(index)/fps, 'f', 6, 64))
	}
	return append(args,
		"-i", path,
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"-",
	)
}

func buildEncodeArgs(path string, fps float64, width, height int) []string {
	return []string{
		"-v", "error",
		"-y",
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"-s", fmt.Sprintf("%dx%d", width, height),
		"-r", strconv.FormatFloat(fps, 'f', -1, 64),
		"-i", "-",
		"-c:v", "mpeg4",
		"-vtag", "mp4v",
		"-q:v", "5",
		"-pix_fmt", "yuv420p",
		path,
	}
}

type probeOutput struct {
	Streams []struct {
		Width        int    `json:"width"`
		Height       int    `json:"height"`
		RFrameRate   string `json:"r_frame_rate"`
		AvgFrameRate string `json:"avg_frame_rate"`
		NbFrames     string `json:"nb_frames"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

func parseProbe(data []byte) (ProbeInfo, error) {
	var out probeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return ProbeInfo{}, fmt.Errorf("parse ffprobe output: %w", err)
	}
	if len(out.Streams) == 0 {
		return ProbeInfo{}, errors.New("no video stream found")
	}

	s := out.Streams[0]
	info := ProbeInfo{Width: s.Width, Height: s.Height}
	info.FPS = parseRate(s.AvgFrameRate)
	if info.FPS <= 0 {
		info.FPS = parseRate(s.RFrameRate)
	}

	if n, err := strconv.Atoi(s.NbFrames); err == nil {
		info.Frames = n
	} else if d, err := strconv.ParseFloat(out.Format.Duration, 64); err == nil && info.FPS > 0 {
		info.Frames = int(d * info.FPS)
	}
	return info, nil
}

// parseRate parses ffprobe rationals like "30000/1001".
func parseRate(raw string) float64 {
	num, den, found := strings.Cut(strings.TrimSpace(raw), "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0
	}
	if !found {
		return n
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d == 0 {
		return 0
	}
	return n / d
}
