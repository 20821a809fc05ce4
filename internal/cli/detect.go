package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"media-annotator/internal/detect"
	"media-annotator/internal/domain"
	"media-annotator/internal/export"
	"media-annotator/internal/jobs"
	"media-annotator/internal/media"
	"media-annotator/internal/pipeline"
	"media-annotator/internal/render"
	"media-annotator/internal/session"
)

type detectOptions struct {
	model         string
	names         string
	out           string
	parquet       string
	workers       int
	noClass       bool
	noConfidence  bool
	keepWorkspace bool
}

func newDetectCmd(root *rootOptions) *cobra.Command {
	opts := &detectOptions{}

	cmd := &cobra.Command{
		Use:   "detect [files or folders...]",
		Short: "Run detection over images and videos without the window",
		Long: `Runs the detection model over every image and video given, writing
annotated copies as <name>_processed.<ext> into the output folder.

Folders are searched recursively. Files sharing a base name with one
already processed are skipped.`,
		Example: `  # Annotate a folder of photos
  media-annotator detect ./photos --out ./annotated

  # Also write every detection to a parquet dataset
  media-annotator detect clip.mp4 street.jpg --out ./annotated --parquet detections.parquet`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := root.settings()
			if err != nil {
				return err
			}
			if opts.model != "" {
				settings.ModelPath = opts.model
			}
			if opts.names != "" {
				settings.NamesPath = opts.names
			}
			if opts.workers > 0 {
				settings.Workers = opts.workers
			}
			out := opts.out
			if out == "" {
				out = settings.ExportDir
			}
			if out == "" && opts.parquet == "" {
				return errors.New("nothing to write: pass --out or --parquet")
			}

			det, err := detect.Load(detect.Options{
				ModelPath: settings.ModelPath,
				NamesPath: settings.NamesPath,
				YoloPath:  settings.YoloPath,
			})
			if err != nil {
				return err
			}
			defer det.Close()

			ws, err := pipeline.NewTempWorkspace()
			if err != nil {
				return fmt.Errorf("prepare workspace: %w", err)
			}
			if opts.keepWorkspace {
				slog.Info("keeping workspace", "path", ws.Root)
			} else {
				defer ws.Cleanup()
			}

			flags := render.DefaultFlags()
			if opts.noClass {
				flags = flags.ToggleClass()
			} else if opts.noConfidence {
				flags = flags.ToggleConfidence()
			}

			runner := newBatchRunner(det, pipeline.New(ws, media.NewCodec(settings.FFmpegPath, settings.FFprobePath)), batchConfig{
				OutDir:    out,
				Flags:     flags,
				Workers:   settings.Workers,
				QueueSize: settings.QueueSize,
			})
			summary, err := runner.Run(cmd.Context(), expandPaths(args))
			if err != nil {
				return err
			}

			if opts.parquet != "" {
				rows := export.Rows(runner.Entries(), det.ClassNames())
				if err := export.WriteParquet(opts.parquet, rows); err != nil {
					return fmt.Errorf("write parquet: %w", err)
				}
				slog.Info("dataset written", "path", opts.parquet, "rows", len(rows))
			}

			fmt.Fprintf(cmd.OutOrStdout(), "processed %d, saved %d, skipped %d, failed %d\n",
				summary.Processed, summary.Saved, summary.Skipped, summary.Failed)
			if summary.Failed > 0 {
				return fmt.Errorf("%d file(s) failed", summary.Failed)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&opts.model, "model", "m", "", "Model file (.pt or .onnx), defaults to the configured model")
	cmd.Flags().StringVar(&opts.names, "names", "", "Dataset YAML with class names")
	cmd.Flags().StringVarP(&opts.out, "out", "o", "", "Folder for annotated copies, defaults to the configured export folder")
	cmd.Flags().StringVar(&opts.parquet, "parquet", "", "Write all image detections to this parquet file")
	cmd.Flags().IntVarP(&opts.workers, "workers", "w", 0, "Concurrent jobs")
	cmd.Flags().BoolVar(&opts.noClass, "no-class", false, "Draw boxes without class labels")
	cmd.Flags().BoolVar(&opts.noConfidence, "no-confidence", false, "Draw class labels without confidence")
	cmd.Flags().BoolVar(&opts.keepWorkspace, "keep-workspace", false, "Keep working copies and label files")

	return cmd
}

type batchConfig struct {
	OutDir    string
	Flags     render.Flags
	Workers   int
	QueueSize int
}

// BatchSummary counts what a headless run did.
type BatchSummary struct {
	Processed int
	Saved     int
	Skipped   int
	Failed    int
}

// batchRunner drives the job pool without a window. Its event loop plays
// the role of the interactive loop: it owns the entry store and submits an
// export for every finished entry.
type batchRunner struct {
	detector domain.Detector
	pipeline *pipeline.Pipeline
	renderer *render.Renderer
	cfg      batchConfig

	mailbox *jobs.Mailbox
	pool    *jobs.Pool
	store   *session.Store
	pending int
	summary BatchSummary
}

func newBatchRunner(det domain.Detector, p *pipeline.Pipeline, cfg batchConfig) *batchRunner {
	if cfg.Workers <= 0 {
		cfg.Workers = jobs.DefaultWorkers()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	mailbox := jobs.NewMailbox()
	return &batchRunner{
		detector: det,
		pipeline: p,
		renderer: render.NewRenderer(render.NewPalette(), det.ClassNames()),
		cfg:      cfg,
		mailbox:  mailbox,
		pool:     jobs.NewPool(cfg.Workers, cfg.QueueSize, mailbox, jobs.NewTracker(0)),
		store:    session.NewStore(),
	}
}

// Run processes paths and waits for every job, exports included.
func (r *batchRunner) Run(ctx context.Context, paths []string) (BatchSummary, error) {
	r.pool.Start(ctx)
	defer r.pool.Close()

	var images []string
	seen := make(map[string]bool)
	for _, p := range paths {
		name := filepath.Base(p)
		switch {
		case seen[name]:
			slog.Info("skipping duplicate name", "path", p)
			r.summary.Skipped++
		case media.IsImage(p):
			seen[name] = true
			images = append(images, p)
		case media.IsVideo(p):
			seen[name] = true
			job := domain.Job{Kind: domain.JobKindVideo, Inputs: []string{p}}
			r.submit(job, r.pipeline.VideoJob(r.detector, job))
		default:
			slog.Info("skipping unsupported file", "path", p)
			r.summary.Skipped++
		}
	}
	if len(images) > 0 {
		job := domain.Job{Kind: domain.JobKindImageBatch, Inputs: images}
		r.submit(job, r.pipeline.ImageJob(r.detector, job))
	}

	for r.pending > 0 {
		select {
		case <-ctx.Done():
			return r.summary, ctx.Err()
		case <-r.mailbox.Ready():
			for _, ev := range r.mailbox.Drain() {
				r.handle(ev)
			}
		}
	}
	return r.summary, nil
}

// Entries returns the processed entries in completion order.
func (r *batchRunner) Entries() []domain.MediaEntry {
	return r.store.List()
}

func (r *batchRunner) submit(job domain.Job, run jobs.RunFunc) {
	if _, err := r.pool.Submit(job, run); err != nil {
		slog.Error("job rejected", "kind", job.Kind, "inputs", strings.Join(job.Inputs, ","), "err", err)
		r.summary.Failed += max(1, len(job.Inputs))
		return
	}
	r.pending++
}

func (r *batchRunner) handle(ev jobs.Event) {
	switch ev.Type {
	case jobs.EventTypeResult, jobs.EventTypeFileReady:
		entry, ok := r.store.Insert(domain.MediaEntry{
			Identity:        ev.Path,
			Kind:            domain.MediaKindImage,
			Detections:      ev.Detections,
			WorkingCopyPath: ev.WorkingPath,
			LabelPath:       ev.LabelPath,
			Width:           ev.Width,
			Height:          ev.Height,
		}, false)
		if !ok {
			return
		}
		r.summary.Processed++
		slog.Info("image processed", "path", ev.Path, "detections", len(ev.Detections))
		if r.cfg.OutDir != "" {
			r.export(entry, export.RenderJob(r.renderer, r.cfg.Flags, entry, r.destination(entry)))
		}
	case jobs.EventTypeVideo:
		entry, ok := r.store.Insert(domain.MediaEntry{
			Identity:        ev.Path,
			Kind:            domain.MediaKindVideo,
			WorkingCopyPath: ev.ResultPath,
			ThumbnailPath:   ev.ThumbnailPath,
			Width:           ev.Width,
			Height:          ev.Height,
		}, false)
		if !ok {
			return
		}
		r.summary.Processed++
		slog.Info("video processed", "path", ev.Path)
		if r.cfg.OutDir != "" {
			r.export(entry, export.VideoJob(entry.Identity, entry.WorkingCopyPath, r.destination(entry)))
		}
	case jobs.EventTypeSaved:
		r.store.MarkSaved(ev.Path)
		r.summary.Saved++
		slog.Info("saved", "path", ev.ResultPath)
	case jobs.EventTypeLog:
		slog.Debug("failed command", "command", ev.Command, "args", ev.Args, "exit", ev.ExitCode, "stderr", ev.Stderr)
	case jobs.EventTypeError:
		r.summary.Failed++
		slog.Error("job failed", "path", ev.Path, "kind", ev.ErrorKind, "err", ev.Message)
	case jobs.EventTypeFinished:
		r.pending--
	}
}

func (r *batchRunner) export(entry domain.MediaEntry, run jobs.RunFunc) {
	job := domain.Job{Kind: domain.JobKindExport, Inputs: []string{entry.Identity}, Destination: r.destination(entry)}
	r.submit(job, run)
}

func (r *batchRunner) destination(entry domain.MediaEntry) string {
	return filepath.Join(r.cfg.OutDir, export.ProcessedName(entry.Identity))
}

// expandPaths replaces folders with the images and videos below them.
func expandPaths(args []string) []string {
	var out []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil || !info.IsDir() {
			out = append(out, arg)
			continue
		}
		err = filepath.WalkDir(arg, func(p string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && (media.IsImage(p) || media.IsVideo(p)) {
				out = append(out, p)
			}
			return nil
		})
		if err != nil {
			slog.Warn("cannot walk folder", "path", arg, "err", err)
		}
	}
	return out
}
