package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"media-annotator/internal/domain"
	"media-annotator/internal/jobs"
)

// handleEvent applies one job event to the session. It runs on the loop.
func (a *App) handleEvent(ev jobs.Event) {
	a.publishEvent(ev)

	switch ev.Type {
	case jobs.EventTypeResult, jobs.EventTypeFileReady:
		a.addImage(ev)
	case jobs.EventTypeVideo:
		a.addVideo(ev)
	case jobs.EventTypeSaved:
		a.markSaved(ev)
	case jobs.EventTypeRecording:
		a.finishRecording(ev)
	case jobs.EventTypeError:
		a.notify(errorMessage(ev))
		if ev.Kind == domain.JobKindExport {
			for identity := range a.exportInputs(ev.JobID) {
				delete(a.saving, identity)
			}
		}
	case jobs.EventTypeFinished:
		a.releaseNames(ev.JobID)
		delete(a.pending, ev.JobID)
		a.emit("jobs:pending", a.pendingList())
		a.releaseRetired()
	}
}

// addImage inserts a processed image. Single results go to the front of the
// list and are selected; batch results are appended.
func (a *App) addImage(ev jobs.Event) {
	single := ev.Type == jobs.EventTypeResult
	entry, ok := a.state.Entries.Insert(domain.MediaEntry{
		Identity:        ev.Path,
		Kind:            domain.MediaKindImage,
		Detections:      ev.Detections,
		WorkingCopyPath: ev.WorkingPath,
		LabelPath:       ev.LabelPath,
		Width:           ev.Width,
		Height:          ev.Height,
	}, single)
	if !ok {
		slog.Debug("duplicate entry ignored", "path", ev.Path)
		return
	}
	a.archiveEntry(entry)
	a.emitEntries()

	if single && a.pending[ev.JobID].Select {
		if err := a.selectEntry(entry.Identity); err != nil {
			a.notify(err.Error())
		}
		return
	}
	if a.selected == "" {
		if err := a.selectEntry(entry.Identity); err != nil {
			a.notify(err.Error())
		}
		return
	}
	a.autoSave(entry)
}

// addVideo inserts a processed video.
func (a *App) addVideo(ev jobs.Event) {
	entry, ok := a.state.Entries.Insert(domain.MediaEntry{
		Identity:        ev.Path,
		Kind:            domain.MediaKindVideo,
		WorkingCopyPath: ev.ResultPath,
		ThumbnailPath:   ev.ThumbnailPath,
		Width:           ev.Width,
		Height:          ev.Height,
	}, true)
	if !ok {
		slog.Debug("duplicate entry ignored", "path", ev.Path)
		return
	}
	a.archiveEntry(entry)
	a.emitEntries()

	if a.pending[ev.JobID].Select || a.selected == "" {
		if err := a.selectEntry(entry.Identity); err != nil {
			a.notify(err.Error())
		}
		return
	}
	a.autoSave(entry)
}

// markSaved records a finished export.
func (a *App) markSaved(ev jobs.Event) {
	delete(a.saving, ev.Path)
	if a.state.Entries.MarkSaved(ev.Path) {
		a.emitEntries()
	}
	a.notify(fmt.Sprintf("Saved %s to %s", filepath.Base(ev.Path), ev.ResultPath))

	if a.archive != nil {
		identity, dest := ev.Path, ev.ResultPath
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := a.archive.MarkSaved(ctx, identity, dest); err != nil {
				slog.Warn("archive mark saved", "path", identity, "err", err)
			}
		}()
	}
}

// archiveEntry records entry in the archive off the loop.
func (a *App) archiveEntry(entry domain.MediaEntry) {
	if a.archive == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := a.archive.Record(ctx, entry); err != nil {
			slog.Warn("archive record", "path", entry.Identity, "err", err)
		}
	}()
}

// exportInputs returns the identities an export job was saving.
func (a *App) exportInputs(jobID string) map[string]struct{} {
	out := make(map[string]struct{})
	if rec, ok := a.pool.Tracker().Get(jobID); ok {
		for _, in := range rec.Inputs {
			out[in] = struct{}{}
		}
	}
	return out
}

// errorMessage renders an error event as a status line naming the file.
func errorMessage(ev jobs.Event) string {
	if ev.Path == "" {
		return ev.Message
	}
	name := filepath.Base(ev.Path)
	if ev.ErrorKind == "" {
		return fmt.Sprintf("Error processing %s: %s", name, ev.Message)
	}
	return fmt.Sprintf("Error processing %s (%s): %s", name, ev.ErrorKind, ev.Message)
}
