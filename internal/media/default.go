//go:build !gocv

package media

// NewCodec returns the ffmpeg-backed codec.
func NewCodec(ffmpegPath, ffprobePath string) Codec {
	return NewFFmpeg(ffmpegPath, ffprobePath)
}
