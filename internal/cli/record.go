package cli

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"media-annotator/internal/capture"
	"media-annotator/internal/media"
	"media-annotator/internal/stopkey"
)

type recordOptions struct {
	region   string
	duration time.Duration
	out      string
	fps      int
}

func newRecordCmd(root *rootOptions) *cobra.Command {
	opts := &recordOptions{}

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record a screen region to a video file",
		Long: `Records a screen region until the stop key is pressed, the process is
interrupted or the duration runs out. The stop key only works in desktop
builds; elsewhere use the duration or Ctrl+C. Odd region sizes are trimmed by one
pixel because video encoders need even dimensions.`,
		Example: `  # Record the top-left 640x480 pixels for ten seconds
  media-annotator record --region 0,0,640,480 --duration 10s --out demo.mp4`,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := root.settings()
			if err != nil {
				return err
			}
			fps := settings.RecordingFPS
			if opts.fps > 0 {
				fps = opts.fps
			}

			grabber := capture.ScreenGrabber{}
			region, err := resolveRegion(opts.region, grabber)
			if err != nil {
				return err
			}
			if region.Dx() < capture.MinSelection || region.Dy() < capture.MinSelection {
				return fmt.Errorf("region %v is smaller than %d px per side", region, capture.MinSelection)
			}

			out := opts.out
			if out == "" {
				out = filepath.Join(settings.ExportDir, fmt.Sprintf("recording_%d.mp4", time.Now().Unix()))
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			if opts.duration > 0 {
				ctx, cancel = context.WithTimeout(ctx, opts.duration)
				defer cancel()
			}

			if listener, err := stopkey.New(settings.StopKey); err != nil {
				slog.Warn("stop hotkey disabled", "err", err)
			} else {
				go func() {
					if err := listener.Listen(ctx, cancel); err != nil {
						slog.Warn("stop hotkey unavailable", "err", err)
					}
				}()
			}

			slog.Info("recording", "region", region.String(), "path", out, "stop", settings.StopKey)
			recorder := capture.NewRecorder(grabber, media.NewCodec(settings.FFmpegPath, settings.FFprobePath), fps)
			rec, err := recorder.Record(ctx, region, out)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d frames in %s\n",
				rec.Path, rec.Frames, rec.Duration.Round(10*time.Millisecond))
			return nil
		},
	}

	cmd.Flags().StringVarP(&opts.region, "region", "r", "", "Region as x,y,width,height; the whole desktop when empty")
	cmd.Flags().DurationVarP(&opts.duration, "duration", "d", 0, "Stop after this long")
	cmd.Flags().StringVarP(&opts.out, "out", "o", "", "Output video file")
	cmd.Flags().IntVar(&opts.fps, "fps", 0, "Frames per second")

	return cmd
}

// resolveRegion parses "x,y,w,h" or falls back to the whole desktop.
func resolveRegion(raw string, grabber capture.Grabber) (image.Rectangle, error) {
	if strings.TrimSpace(raw) == "" {
		screen, err := grabber.Screen()
		if err != nil {
			return image.Rectangle{}, err
		}
		return screen.Bounds(), nil
	}
	return parseRegion(raw)
}

func parseRegion(raw string) (image.Rectangle, error) {
	parts := strings.Split(raw, ",")
	if len(parts) != 4 {
		return image.Rectangle{}, fmt.Errorf("region %q: want x,y,width,height", raw)
	}
	var v [4]int
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return image.Rectangle{}, fmt.Errorf("region %q: %w", raw, err)
		}
		v[i] = n
	}
	if v[2] <= 0 || v[3] <= 0 {
		return image.Rectangle{}, fmt.Errorf("region %q: width and height must be positive", raw)
	}
	return image.Rect(v[0], v[1], v[0]+v[2], v[1]+v[3]), nil
}
