package domain

import (
	"context"
	"image"
	"path/filepath"
)

// JobStatus tracks the lifecycle of one background job.
type JobStatus string

const (
	JobStatusQueued  JobStatus = "queued"
	JobStatusRunning JobStatus = "running"
	JobStatusDone    JobStatus = "done"
	JobStatusFailed  JobStatus = "failed"
)

// JobKind selects the pipeline body a worker runs.
type JobKind string

const (
	JobKindImageSingle JobKind = "image_single"
	JobKindImageBatch  JobKind = "image_batch"
	JobKindVideo       JobKind = "video"
	JobKindRecording   JobKind = "recording"
	JobKindExport      JobKind = "export"
)

// MediaKind distinguishes still images from videos.
type MediaKind string

const (
	MediaKindImage MediaKind = "image"
	MediaKindVideo MediaKind = "video"
)

// SaveStatus records whether an entry has been exported.
type SaveStatus string

const (
	SaveStatusUnsaved SaveStatus = "unsaved"
	SaveStatusSaved   SaveStatus = "saved"
)

// CaptureState is the state of the screen capture machine.
type CaptureState string

const (
	CaptureStateIdle       CaptureState = "idle"
	CaptureStateSelecting  CaptureState = "selecting"
	CaptureStateRecording  CaptureState = "recording"
	CaptureStateFinalizing CaptureState = "finalizing"
)

// Detection is one model output in normalized coordinates.
type Detection struct {
	ClassID    int     `json:"classId"`
	XCenter    float64 `json:"xCenter"`
	YCenter    float64 `json:"yCenter"`
	Width      float64 `json:"width"`
	Height     float64 `json:"height"`
	Confidence float64 `json:"confidence"`
}

// MediaEntry is the session record for one imported or captured source.
type MediaEntry struct {
	Identity        string      `json:"identity"`
	Kind            MediaKind   `json:"kind"`
	Detections      []Detection `json:"detections,omitempty"`
	WorkingCopyPath string      `json:"workingCopyPath"`
	ThumbnailPath   string      `json:"thumbnailPath,omitempty"`
	LabelPath       string      `json:"labelPath,omitempty"`
	Width           int         `json:"width"`
	Height          int         `json:"height"`
	SaveStatus      SaveStatus  `json:"saveStatus"`
	SequenceID      int64       `json:"sequenceId"`
}

// Name returns the base filename of the entry identity.
func (e MediaEntry) Name() string {
	return filepath.Base(e.Identity)
}

// Job is one unit of background work. It is consumed once and never retried.
type Job struct {
	ID          string      `json:"id"`
	Kind        JobKind     `json:"kind"`
	Inputs      []string    `json:"inputs"`
	Frame       image.Image `json:"-"`
	Destination string      `json:"destination,omitempty"`
}

// Detector is the opaque object-detection capability.
type Detector interface {
	DetectImage(ctx context.Context, path string) ([]Detection, error)
	DetectVideo(ctx context.Context, inputPath, outputDir string) (string, error)
	ClassNames() map[int]string
	Close() error
}

// Settings contains user-selectable runtime configuration.
type Settings struct {
	ModelPath    string `json:"modelPath" yaml:"modelPath"`
	NamesPath    string `json:"namesPath,omitempty" yaml:"namesPath,omitempty"`
	ExportDir    string `json:"exportDir" yaml:"exportDir"`
	AutoSave     bool   `json:"autoSave" yaml:"autoSave"`
	RecordingFPS int    `json:"recordingFps" yaml:"recordingFps"`
	Workers      int    `json:"workers" yaml:"workers"`
	QueueSize    int    `json:"queueSize" yaml:"queueSize"`
	WorkspaceDir string `json:"workspaceDir,omitempty" yaml:"workspaceDir,omitempty"`
	YoloPath     string `json:"yoloPath" yaml:"yoloPath"`
	FFmpegPath   string `json:"ffmpegPath" yaml:"ffmpegPath"`
	FFprobePath  string `json:"ffprobePath" yaml:"ffprobePath"`
	ArchiveDSN   string `json:"archiveDsn,omitempty" yaml:"archiveDsn,omitempty"`
	LogLevel     string `json:"logLevel" yaml:"logLevel"`
	StopKey      string `json:"stopKey" yaml:"stopKey"`
}

// ModelOption describes a downloadable detection model preset.
type ModelOption struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	FileName    string `json:"fileName"`
	URL         string `json:"url"`
	SizeLabel   string `json:"sizeLabel"`
	Description string `json:"description"`
	Downloaded  bool   `json:"downloaded"`
	LocalPath   string `json:"localPath,omitempty"`
}
