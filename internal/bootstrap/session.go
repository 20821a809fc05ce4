package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"media-annotator/internal/capture"
	"media-annotator/internal/display"
	"media-annotator/internal/domain"
	"media-annotator/internal/export"
	"media-annotator/internal/jobs"
	"media-annotator/internal/labels"
	"media-annotator/internal/media"
	"media-annotator/internal/playback"
	"media-annotator/internal/render"
)

// ErrNoSelection is returned when an action needs a selected entry.
var ErrNoSelection = errors.New("no file selected")

// ErrNoExportDir is returned when saving without a destination.
var ErrNoExportDir = errors.New("no export directory configured")

// View is the state of the main window apart from the picture itself.
type View struct {
	Selected *domain.MediaEntry `json:"selected,omitempty"`
	Index    int                `json:"index"`
	Count    int                `json:"count"`
	Flags    render.Flags       `json:"flags"`
	Model    string             `json:"model"`
	Playback *playback.Session  `json:"playback,omitempty"`
	Capture  capture.Session    `json:"capture"`
	Display  display.ViewState  `json:"display"`
}

// ImportResult summarizes what an import submitted.
type ImportResult struct {
	Jobs    []string `json:"jobs"`
	Images  int      `json:"images"`
	Videos  int      `json:"videos"`
	Skipped []string `json:"skipped,omitempty"`
}

// LoadModel loads the model at path, makes it the session detector and
// remembers the path in settings. Loading happens on the caller goroutine.
func (a *App) LoadModel(path string) (string, error) {
	settings := a.settings()
	settings.ModelPath = strings.TrimSpace(path)

	det, err := a.loader(settings)
	if err != nil {
		return "", err
	}

	err = a.call(func() error {
		prev := a.state.Initialize(det, settings.ModelPath)
		if prev != nil {
			a.retired = append(a.retired, prev)
			a.releaseRetired()
		}
		a.renderer.SetModel(det.ClassNames())
		a.redraw()
		return nil
	})
	if err != nil {
		_ = det.Close()
		return "", err
	}

	if _, err := a.updateSettings(func(s *domain.Settings) { s.ModelPath = settings.ModelPath }); err != nil {
		slog.Warn("model path not persisted", "err", err)
	}
	a.notify(fmt.Sprintf("Loaded model %s", filepath.Base(settings.ModelPath)))
	return settings.ModelPath, nil
}

// ImportImage processes one image and selects it when done.
func (a *App) ImportImage(path string) (string, error) {
	var id string
	err := a.call(func() error {
		if !media.IsImage(path) {
			return domain.NewError(domain.KindSourceUnreadable, path, "not a supported image", nil)
		}
		if a.nameTaken(path) {
			a.notify(fmt.Sprintf("%s is already loaded", filepath.Base(path)))
			return nil
		}
		var err error
		id, err = a.submitImages(domain.JobKindImageSingle, []string{path}, nil, true)
		return err
	})
	return id, err
}

// ImportImages processes images as one batch; results arrive one by one.
func (a *App) ImportImages(paths []string) (ImportResult, error) {
	var res ImportResult
	err := a.call(func() error {
		var err error
		res, err = a.importPaths(paths)
		return err
	})
	return res, err
}

// ImportVideo runs detection over a video and selects it when done.
func (a *App) ImportVideo(path string) (string, error) {
	var id string
	err := a.call(func() error {
		if !media.IsVideo(path) {
			return domain.NewError(domain.KindSourceUnreadable, path, "not a supported video", nil)
		}
		if a.nameTaken(path) {
			a.notify(fmt.Sprintf("%s is already loaded", filepath.Base(path)))
			return nil
		}
		var err error
		id, err = a.submitVideo(path, true)
		return err
	})
	return id, err
}

// LoadFolder imports the images and videos directly inside dir.
func (a *App) LoadFolder(dir string) (ImportResult, error) {
	paths, err := listMedia(dir, false)
	if err != nil {
		return ImportResult{}, err
	}
	if len(paths) == 0 {
		return ImportResult{}, fmt.Errorf("no images or videos in %s", dir)
	}
	return a.ImportImages(paths)
}

// ImportPaths imports dropped files and folders. Folders are walked
// recursively.
func (a *App) ImportPaths(paths []string) (ImportResult, error) {
	var all []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			continue
		}
		if !info.IsDir() {
			all = append(all, p)
			continue
		}
		found, err := listMedia(p, true)
		if err != nil {
			return ImportResult{}, err
		}
		all = append(all, found...)
	}
	return a.ImportImages(all)
}

// importPaths splits paths into one image batch and one job per video.
func (a *App) importPaths(paths []string) (ImportResult, error) {
	res := ImportResult{}
	if _, err := a.state.Detector(); err != nil {
		return res, err
	}

	var images []string
	seen := make(map[string]bool)
	for _, p := range paths {
		name := filepath.Base(p)
		if seen[name] || a.nameTaken(p) {
			res.Skipped = append(res.Skipped, p)
			continue
		}
		switch {
		case media.IsImage(p):
			seen[name] = true
			images = append(images, p)
		case media.IsVideo(p):
			seen[name] = true
			id, err := a.submitVideo(p, false)
			if err != nil {
				return res, err
			}
			res.Jobs = append(res.Jobs, id)
			res.Videos++
		default:
			res.Skipped = append(res.Skipped, p)
		}
	}

	if len(images) > 0 {
		kind := domain.JobKindImageBatch
		if len(images) == 1 && res.Videos == 0 {
			kind = domain.JobKindImageSingle
		}
		id, err := a.submitImages(kind, images, nil, kind == domain.JobKindImageSingle)
		if err != nil {
			return res, err
		}
		res.Jobs = append(res.Jobs, id)
		res.Images = len(images)
	}
	return res, nil
}

// submitImages dispatches an image job. It runs on the loop.
func (a *App) submitImages(kind domain.JobKind, paths []string, frame image.Image, selectResult bool) (string, error) {
	det, err := a.state.Detector()
	if err != nil {
		return "", err
	}
	job := domain.Job{Kind: kind, Inputs: paths, Frame: frame, Destination: a.pipeline.Workspace().Root}
	label := fmt.Sprintf("%d images", len(paths))
	if len(paths) == 1 {
		label = filepath.Base(paths[0])
	} else if frame != nil {
		label = "screenshot"
	}
	return a.submit(job, a.pipeline.ImageJob(det, job), label, selectResult)
}

// submitVideo dispatches a video job. It runs on the loop.
func (a *App) submitVideo(path string, selectResult bool) (string, error) {
	det, err := a.state.Detector()
	if err != nil {
		return "", err
	}
	job := domain.Job{Kind: domain.JobKindVideo, Inputs: []string{path}, Destination: a.pipeline.Workspace().Root}
	return a.submit(job, a.pipeline.VideoJob(det, job), filepath.Base(path), selectResult)
}

// submit hands a job to the pool and records its placeholder.
func (a *App) submit(job domain.Job, run jobs.RunFunc, label string, selectResult bool) (string, error) {
	submitted, err := a.pool.Submit(job, run)
	if err != nil {
		return "", err
	}
	pj := pendingJob{Kind: job.Kind, Label: label, Select: selectResult}
	if job.Kind != domain.JobKindExport {
		for _, in := range job.Inputs {
			name := filepath.Base(in)
			a.inflight[name] = submitted.ID
			pj.Names = append(pj.Names, name)
		}
	}
	a.pending[submitted.ID] = pj
	a.emit("jobs:pending", a.pendingList())
	a.publishEvent(jobs.Event{
		JobID:   submitted.ID,
		Kind:    job.Kind,
		Type:    jobs.EventTypeStatus,
		Status:  domain.JobStatusQueued,
		Message: fmt.Sprintf("Processing %s...", label),
	})
	return submitted.ID, nil
}

// nameTaken reports whether an entry or a running job already owns the base
// name of path. Working copies and label files are keyed by base name.
func (a *App) nameTaken(path string) bool {
	if a.state.Entries.HasName(path) {
		return true
	}
	_, ok := a.inflight[filepath.Base(path)]
	return ok
}

// releaseNames frees the base names reserved by a finished job.
func (a *App) releaseNames(jobID string) {
	for _, name := range a.pending[jobID].Names {
		if a.inflight[name] == jobID {
			delete(a.inflight, name)
		}
	}
}

// Select shows the entry with identity.
func (a *App) Select(identity string) (View, error) {
	var v View
	err := a.call(func() error {
		if err := a.selectEntry(identity); err != nil {
			return err
		}
		v = a.view()
		return nil
	})
	return v, err
}

// Next selects the entry after the current one.
func (a *App) Next() (View, error) {
	return a.step(1)
}

// Previous selects the entry before the current one.
func (a *App) Previous() (View, error) {
	return a.step(-1)
}

func (a *App) step(delta int) (View, error) {
	var v View
	err := a.call(func() error {
		n := a.state.Entries.Len()
		if n == 0 {
			return ErrNoSelection
		}
		i := a.state.Entries.Index(a.selected)
		switch {
		case i < 0:
			i = 0
		case i+delta >= n:
			a.notify("Reached the end of the list.")
		case i+delta < 0:
			a.notify("Already at the start of the list.")
		default:
			i += delta
		}
		entry, _ := a.state.Entries.At(i)
		if entry.Identity != a.selected {
			if err := a.selectEntry(entry.Identity); err != nil {
				return err
			}
		}
		v = a.view()
		return nil
	})
	return v, err
}

// selectEntry stops any playback and shows identity. It runs on the loop.
func (a *App) selectEntry(identity string) error {
	entry, ok := a.state.Entries.Get(identity)
	if !ok {
		return fmt.Errorf("unknown entry: %s", identity)
	}

	a.player.Stop()
	a.selected = identity
	a.rendered = nil

	if entry.Kind == domain.MediaKindVideo {
		if thumb, err := decodeImage(entry.ThumbnailPath); err == nil {
			a.surface.Load(thumb)
		} else {
			a.surface.Clear()
		}
		if err := a.player.Start(entry.WorkingCopyPath); err != nil {
			a.notify(err.Error())
		}
	} else {
		if len(entry.Detections) == 0 && entry.LabelPath != "" {
			if dets, err := labels.Read(entry.LabelPath); err == nil && len(dets) > 0 {
				a.state.Entries.SetDetections(identity, dets)
				entry.Detections = dets
			}
		}
		frame, err := decodeImage(entry.WorkingCopyPath)
		if err != nil {
			a.surface.Clear()
			return domain.NewError(domain.KindSourceUnreadable, identity, "cannot open working copy", err)
		}
		a.rendered = a.renderer.Render(frame, entry.Detections, a.flags)
		a.surface.Load(a.rendered)
	}

	a.autoSave(entry)
	return nil
}

// redraw renders the selected image again after a flag or model change.
func (a *App) redraw() {
	entry, ok := a.state.Entries.Get(a.selected)
	if !ok || entry.Kind != domain.MediaKindImage {
		return
	}
	frame, err := decodeImage(entry.WorkingCopyPath)
	if err != nil {
		a.notify(fmt.Sprintf("Cannot redraw %s: %v", entry.Name(), err))
		return
	}
	a.rendered = a.renderer.Render(frame, entry.Detections, a.flags)
	a.surface.ShowFrame(a.rendered)
}

// ToggleBox flips box visibility.
func (a *App) ToggleBox() (render.Flags, error) {
	return a.setFlags(render.Flags.ToggleBox)
}

// ToggleClass flips class label visibility.
func (a *App) ToggleClass() (render.Flags, error) {
	return a.setFlags(render.Flags.ToggleClass)
}

// ToggleConfidence flips confidence visibility.
func (a *App) ToggleConfidence() (render.Flags, error) {
	return a.setFlags(render.Flags.ToggleConfidence)
}

func (a *App) setFlags(toggle func(render.Flags) render.Flags) (render.Flags, error) {
	var out render.Flags
	err := a.call(func() error {
		a.flags = toggle(a.flags)
		a.redraw()
		out = a.flags
		return nil
	})
	return out, err
}

// TogglePlay pauses or resumes the current video.
func (a *App) TogglePlay() (bool, error) {
	var playing bool
	err := a.call(func() error {
		playing = a.player.TogglePlay()
		return nil
	})
	return playing, err
}

// Seek moves the current video to frame index.
func (a *App) Seek(index int) error {
	return a.call(func() error {
		a.player.Seek(index)
		return nil
	})
}

// SetScrubbing tells playback whether the user is dragging the scrub bar.
func (a *App) SetScrubbing(active bool) error {
	return a.call(func() error {
		a.player.SetScrubbing(active)
		return nil
	})
}

// ZoomIn enlarges the picture.
func (a *App) ZoomIn() error {
	return a.zoom(1.25)
}

// ZoomOut shrinks the picture.
func (a *App) ZoomOut() error {
	return a.zoom(0.8)
}

func (a *App) zoom(factor float64) error {
	return a.call(func() error {
		a.surface.ZoomBy(factor)
		return nil
	})
}

// Pan moves the picture by a screen offset.
func (a *App) Pan(dx, dy float64) error {
	return a.call(func() error {
		a.surface.PanBy(dx, dy)
		return nil
	})
}

// FitToView resets zoom and pan.
func (a *App) FitToView() error {
	return a.call(func() error {
		a.surface.Fit()
		return nil
	})
}

// Save exports the selected entry to dest, or to the export directory
// under its processed name when dest is empty.
func (a *App) Save(dest string) (string, error) {
	var out string
	err := a.call(func() error {
		entry, ok := a.state.Entries.Get(a.selected)
		if !ok {
			return ErrNoSelection
		}
		dest = strings.TrimSpace(dest)
		if dest == "" {
			dir := a.settings().ExportDir
			if dir == "" {
				return ErrNoExportDir
			}
			dest = filepath.Join(dir, export.ProcessedName(entry.Identity))
		}
		out = dest
		return a.submitExport(entry, dest)
	})
	return out, err
}

// SetExportDir changes the export directory and auto-saves the selection
// when auto-save is on.
func (a *App) SetExportDir(dir string) (domain.Settings, error) {
	settings, err := a.updateSettings(func(s *domain.Settings) { s.ExportDir = strings.TrimSpace(dir) })
	if err != nil {
		return settings, err
	}
	return settings, a.call(func() error {
		a.autoSaveSelected()
		return nil
	})
}

// SetAutoSave turns auto-save on or off. Turning it on needs an export
// directory.
func (a *App) SetAutoSave(enabled bool) (domain.Settings, error) {
	if enabled && a.settings().ExportDir == "" {
		return a.settings(), ErrNoExportDir
	}
	settings, err := a.updateSettings(func(s *domain.Settings) { s.AutoSave = enabled })
	if err != nil {
		return settings, err
	}
	if enabled {
		a.notify("Auto-save is on.")
	} else {
		a.notify("Auto-save is off.")
	}
	return settings, a.call(func() error {
		a.autoSaveSelected()
		return nil
	})
}

// autoSaveSelected runs auto-save for the current selection. It runs on the loop.
func (a *App) autoSaveSelected() {
	if entry, ok := a.state.Entries.Get(a.selected); ok {
		a.autoSave(entry)
	}
}

// autoSave saves entry when auto-save is enabled, an export directory is
// set and the entry is neither saved nor being saved. It runs on the loop.
func (a *App) autoSave(entry domain.MediaEntry) {
	settings := a.settings()
	if !settings.AutoSave || settings.ExportDir == "" {
		return
	}
	if entry.SaveStatus == domain.SaveStatusSaved || a.saving[entry.Identity] {
		return
	}
	dest := filepath.Join(settings.ExportDir, export.ProcessedName(entry.Identity))
	if err := a.submitExport(entry, dest); err != nil {
		a.notify(fmt.Sprintf("Auto-save of %s failed: %v", entry.Name(), err))
	}
}

// submitExport dispatches an export job for entry. It runs on the loop.
func (a *App) submitExport(entry domain.MediaEntry, dest string) error {
	job := domain.Job{Kind: domain.JobKindExport, Inputs: []string{entry.Identity}, Destination: dest}

	var run jobs.RunFunc
	switch {
	case entry.Kind == domain.MediaKindVideo:
		run = export.VideoJob(entry.Identity, entry.WorkingCopyPath, dest)
	case entry.Identity == a.selected && a.rendered != nil:
		run = export.ImageJob(entry.Identity, a.rendered, dest)
	default:
		run = export.RenderJob(a.renderer, a.flags, entry, dest)
	}

	if _, err := a.submit(job, run, filepath.Base(dest), false); err != nil {
		return err
	}
	a.saving[entry.Identity] = true
	return nil
}

// ExportDataset writes every image detection of the session to a parquet
// file at path.
func (a *App) ExportDataset(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		dir := a.settings().ExportDir
		if dir == "" {
			return "", ErrNoExportDir
		}
		path = filepath.Join(dir, fmt.Sprintf("detections_%d.parquet", time.Now().Unix()))
	}

	err := a.call(func() error {
		rows := export.Rows(a.state.Entries.List(), a.classNames())
		job := domain.Job{Kind: domain.JobKindExport, Destination: path}
		run := func(ctx context.Context, emit jobs.Emit) error {
			if err := export.WriteParquet(path, rows); err != nil {
				return domain.NewError(domain.KindSaveFailed, path, "cannot write dataset", err)
			}
			emit(jobs.Event{
				Type:       jobs.EventTypeStatus,
				ResultPath: path,
				Message:    fmt.Sprintf("Exported %d detections to %s", len(rows), filepath.Base(path)),
			})
			return nil
		}
		_, err := a.submit(job, run, filepath.Base(path), false)
		return err
	})
	return path, err
}

// ClearAll stops playback and discards every entry.
func (a *App) ClearAll() error {
	return a.call(func() error {
		a.player.Stop()
		a.state.Reset()
		a.selected = ""
		a.rendered = nil
		a.saving = make(map[string]bool)
		a.surface.Clear()
		a.emitEntries()
		a.notify("Cleared all files.")
		return nil
	})
}

// Entries lists entries whose name contains filter, in display order.
func (a *App) Entries(filter string) ([]domain.MediaEntry, error) {
	var out []domain.MediaEntry
	err := a.call(func() error {
		out = a.state.Entries.Filter(filter)
		return nil
	})
	return out, err
}

// CurrentView returns the selection, flags, playback and capture state.
func (a *App) CurrentView() (View, error) {
	var v View
	err := a.call(func() error {
		v = a.view()
		return nil
	})
	return v, err
}

// SimilarMedia lists archived entries whose class mix resembles identity.
func (a *App) SimilarMedia(identity string, limit int) ([]string, error) {
	if a.archive == nil {
		return nil, errors.New("archive is not configured")
	}
	var entry domain.MediaEntry
	err := a.call(func() error {
		var ok bool
		entry, ok = a.state.Entries.Get(identity)
		if !ok {
			return fmt.Errorf("unknown entry: %s", identity)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 10
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return a.archive.Similar(ctx, entry, limit)
}

// view builds the View. It runs on the loop.
func (a *App) view() View {
	v := View{
		Index:   a.state.Entries.Index(a.selected),
		Count:   a.state.Entries.Len(),
		Flags:   a.flags,
		Model:   a.state.ModelPath(),
		Capture: a.machine.Session(),
		Display: a.surface.Snapshot().View,
	}
	if entry, ok := a.state.Entries.Get(a.selected); ok {
		v.Selected = &entry
	}
	if s, ok := a.player.Session(); ok {
		v.Playback = &s
	}
	return v
}

// classNames returns the class names of the loaded model.
func (a *App) classNames() map[int]string {
	det, err := a.state.Detector()
	if err != nil {
		return nil
	}
	return det.ClassNames()
}

// releaseRetired closes replaced detectors once no job can still use them.
func (a *App) releaseRetired() {
	if len(a.retired) == 0 || len(a.pool.Tracker().Active()) > 0 {
		return
	}
	for _, det := range a.retired {
		if err := det.Close(); err != nil {
			slog.Warn("close detector", "err", err)
		}
	}
	a.retired = nil
}

func (a *App) pendingList() []pendingJob {
	out := make([]pendingJob, 0, len(a.pending))
	for _, p := range a.pending {
		out = append(out, p)
	}
	return out
}

func (a *App) emitEntries() {
	a.emit("session:entries", a.state.Entries.List())
}

// listMedia returns the images and videos in dir in name order.
func listMedia(dir string, recursive bool) ([]string, error) {
	var out []string
	if !recursive {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			p := filepath.Join(dir, e.Name())
			if !e.IsDir() && (media.IsImage(p) || media.IsVideo(p)) {
				out = append(out, p)
			}
		}
		return out, nil
	}

	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && (media.IsImage(p) || media.IsVideo(p)) {
			out = append(out, p)
		}
		return nil
	})
	return out, err
}

func decodeImage(path string) (image.Image, error) {
	if path == "" {
		return nil, errors.New("no image path")
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	return img, err
}
