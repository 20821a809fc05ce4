package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
)

// Workspace is the private scratch area of one session. Originals hold the
// working copies of imported images, labels hold label artifacts and videos
// hold annotated video outputs.
type Workspace struct {
	Root string
}

// NewWorkspace prepares the workspace layout under root.
func NewWorkspace(root string) (*Workspace, error) {
	ws := &Workspace{Root: root}
	for _, dir := range []string{ws.Originals(), ws.Labels(), ws.Videos()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create workspace directory %s: %w", dir, err)
		}
	}
	return ws, nil
}

// NewTempWorkspace creates a workspace in a fresh temporary directory.
func NewTempWorkspace() (*Workspace, error) {
	root, err := os.MkdirTemp("", "media-annotator-*")
	if err != nil {
		return nil, fmt.Errorf("create temporary workspace: %w", err)
	}
	return NewWorkspace(root)
}

// Originals is the directory of image working copies and thumbnails.
func (w *Workspace) Originals() string { return filepath.Join(w.Root, "originals") }

// Labels is the label artifact root.
func (w *Workspace) Labels() string { return filepath.Join(w.Root, "labels") }

// Videos is the root of annotated video outputs.
func (w *Workspace) Videos() string { return filepath.Join(w.Root, "videos") }

// Cleanup removes the workspace.
func (w *Workspace) Cleanup() error {
	return os.RemoveAll(w.Root)
}
