package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	goruntime "runtime"
	"strings"
	"sync"
	"time"

	"github.com/wailsapp/wails/v2"
	"github.com/wailsapp/wails/v2/pkg/options"
	"github.com/wailsapp/wails/v2/pkg/options/assetserver"

	"media-annotator/internal/archive"
	"media-annotator/internal/capture"
	"media-annotator/internal/config"
	"media-annotator/internal/detect"
	"media-annotator/internal/diagnostics"
	"media-annotator/internal/display"
	"media-annotator/internal/domain"
	"media-annotator/internal/jobs"
	"media-annotator/internal/media"
	"media-annotator/internal/pipeline"
	"media-annotator/internal/playback"
	"media-annotator/internal/render"
	"media-annotator/internal/session"

	wailsruntime "github.com/wailsapp/wails/v2/pkg/runtime"
)

// ErrClosed is returned by bindings after the app has shut down.
var ErrClosed = errors.New("application is shutting down")

var mediaDialogFilter = []wailsruntime.FileFilter{
	{
		DisplayName: "Images and videos",
		Pattern:     "*.jpg;*.jpeg;*.png;*.mp4;*.avi;*.mov",
	},
	{
		DisplayName: "All files",
		Pattern:     "*",
	},
}

var modelDialogFilter = []wailsruntime.FileFilter{
	{
		DisplayName: "Detection models",
		Pattern:     "*.pt;*.onnx",
	},
	{
		DisplayName: "All files",
		Pattern:     "*",
	},
}

// ModelLoader opens a detector for the model configured in settings.
type ModelLoader func(settings domain.Settings) (domain.Detector, error)

// Options carries the collaborators of an App. Zero fields get production
// defaults.
type Options struct {
	Settings  domain.Settings
	Store     config.Store
	Checker   *diagnostics.Checker
	Codec     media.Codec
	Grabber   capture.Grabber
	Window    DesktopWindow
	Loader    ModelLoader
	StopKeys  StopKeyFactory
	Workspace *pipeline.Workspace
	Archive   *archive.Archive
	Assets    fs.FS
}

// App wires configuration, jobs, capture, playback and the UI runtime.
//
// Everything that makes up the interactive session is owned by one loop
// goroutine. Bound methods hand closures to it through call and wait.
type App struct {
	Settings    domain.Settings
	Store       config.Store
	Diagnostics domain.DiagnosticReport
	assets      fs.FS
	checker     *diagnostics.Checker
	installer   *toolInstaller

	mu         sync.Mutex
	runtimeCtx context.Context

	events   *jobs.EventBus
	mailbox  *jobs.Mailbox
	pool     *jobs.Pool
	pipeline *pipeline.Pipeline
	codec    media.Codec
	loader   ModelLoader
	stopKeys StopKeyFactory
	archive  *archive.Archive
	window   DesktopWindow

	calls     chan func()
	ticks     chan func()
	quit      chan struct{}
	loopDone  chan struct{}
	closeOnce sync.Once

	// owned by the loop
	state    *session.State
	renderer *render.Renderer
	flags    render.Flags
	selected string
	rendered image.Image
	surface  *display.Surface
	player   *playback.Engine
	machine  *capture.Machine
	pending  map[string]pendingJob
	inflight map[string]string
	saving   map[string]bool
	retired  []domain.Detector
	hotkey   context.CancelFunc
}

// pendingJob remembers what the loop should do with a job's result.
type pendingJob struct {
	Kind   domain.JobKind
	Label  string
	Select bool
	Names  []string `json:"-"`
}

// New builds the application with persisted settings and startup diagnostics.
func New() (*App, error) {
	return NewWithAssets(nil)
}

// NewWithAssets builds the application and optionally configures embedded frontend assets.
func NewWithAssets(assets fs.FS) (*App, error) {
	return Open(config.DefaultPath(), assets)
}

// Open builds the application from the settings file at configPath.
func Open(configPath string, assets fs.FS) (*App, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve user home: %w", err)
	}
	if err := ensureLocalBinOnPATH(homeDir); err != nil {
		return nil, fmt.Errorf("prepare local tool path: %w", err)
	}

	store := config.NewYAMLStore(configPath)
	settings, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	settings = config.Normalize(config.ApplyEnv(settings, os.LookupEnv))

	var arc *archive.Archive
	if settings.ArchiveDSN != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		arc, err = archive.Open(ctx, settings.ArchiveDSN)
		if err == nil {
			err = arc.EnsureSchema(ctx)
		}
		cancel()
		if err != nil {
			slog.Warn("archive disabled", "err", err)
			arc.Close()
			arc = nil
		}
	}

	app, err := NewWithOptions(Options{
		Settings: settings,
		Store:    store,
		Assets:   assets,
		Archive:  arc,
	})
	if err != nil {
		return nil, err
	}

	if strings.TrimSpace(settings.ModelPath) != "" {
		if _, err := app.LoadModel(settings.ModelPath); err != nil {
			slog.Warn("no model loaded at startup", "path", settings.ModelPath, "err", err)
		}
	}
	return app, nil
}

// NewWithOptions builds the application from explicit collaborators and
// starts the interactive loop and the job pool.
func NewWithOptions(opts Options) (*App, error) {
	settings := config.Normalize(opts.Settings)

	ws := opts.Workspace
	if ws == nil {
		var err error
		if settings.WorkspaceDir != "" {
			ws, err = pipeline.NewWorkspace(settings.WorkspaceDir)
		} else {
			ws, err = pipeline.NewTempWorkspace()
		}
		if err != nil {
			return nil, fmt.Errorf("prepare workspace: %w", err)
		}
	}

	codec := opts.Codec
	if codec == nil {
		codec = media.NewCodec(settings.FFmpegPath, settings.FFprobePath)
	}
	checker := opts.Checker
	if checker == nil {
		checker = diagnostics.NewChecker()
	}
	loader := opts.Loader
	if loader == nil {
		loader = loadDetector
	}
	stopKeys := opts.StopKeys
	if stopKeys == nil {
		stopKeys = newStopKeyListener
	}
	grabber := opts.Grabber
	if grabber == nil {
		grabber = capture.ScreenGrabber{}
	}

	a := &App{
		Settings:    settings,
		Store:       opts.Store,
		Diagnostics: checker.Run(settings),
		assets:      opts.Assets,
		checker:     checker,
		installer:   newToolInstaller(),
		events:      jobs.NewEventBus(1000),
		mailbox:     jobs.NewMailbox(),
		pipeline:    pipeline.New(ws, codec),
		codec:       codec,
		loader:      loader,
		stopKeys:    stopKeys,
		archive:     opts.Archive,
		calls:       make(chan func()),
		ticks:       make(chan func(), 1),
		quit:        make(chan struct{}),
		loopDone:    make(chan struct{}),
		state:       session.NewState(),
		renderer:    render.NewRenderer(render.NewPalette(), nil),
		flags:       render.DefaultFlags(),
		pending:     make(map[string]pendingJob),
		inflight:    make(map[string]string),
		saving:      make(map[string]bool),
	}

	a.window = opts.Window
	if a.window == nil {
		a.window = &wailsWindow{app: a}
	}
	a.surface = display.NewSurface(a.emitFrame)
	a.player = playback.NewEngine(codec, a.surface, playback.NewTickerScheduler(a.postTick))
	recorder := capture.NewRecorder(grabber, codec, settings.RecordingFPS)
	a.machine = capture.NewMachine(grabber, a.window, recorder, ws.Root, a.recordingDone)

	a.pool = jobs.NewPool(settings.Workers, settings.QueueSize, a.mailbox, jobs.NewTracker(0))
	a.pool.Start(context.Background())
	go a.loop()

	return a, nil
}

// Run starts the Wails desktop application and binds backend methods.
func (a *App) Run() error {
	assetOptions := &assetserver.Options{}
	if a.assets != nil {
		assetOptions.Assets = a.assets
	} else {
		assetOptions.Handler = http.FileServer(http.Dir("./frontend"))
	}

	return wails.Run(&options.App{
		Title:       "Media Annotator",
		Width:       1280,
		Height:      820,
		AssetServer: assetOptions,
		OnStartup:   a.Startup,
		OnShutdown: func(ctx context.Context) {
			a.mu.Lock()
			a.runtimeCtx = nil
			a.mu.Unlock()
			a.Close()
		},
		DragAndDrop: &options.DragAndDrop{
			EnableFileDrop: true,
		},
		Bind: []interface{}{a},
	})
}

// Startup stores Wails runtime context for push events.
func (a *App) Startup(ctx context.Context) {
	a.mu.Lock()
	a.runtimeCtx = ctx
	a.mu.Unlock()

	wailsruntime.OnFileDrop(ctx, func(_, _ int, paths []string) {
		if _, err := a.ImportPaths(paths); err != nil {
			a.notify(err.Error())
		}
	})
}

// Close stops the loop, lets queued jobs finish and removes a temporary
// workspace. It is safe to call more than once.
func (a *App) Close() {
	a.closeOnce.Do(func() {
		_ = a.call(func() error {
			a.stopHotkey()
			a.player.Stop()
			if a.machine.State() == domain.CaptureStateRecording {
				_ = a.machine.RequestStop()
			}
			return nil
		})
		a.pool.Close()
		close(a.quit)
		<-a.loopDone

		for _, det := range a.retired {
			_ = det.Close()
		}
		if det, err := a.state.Detector(); err == nil {
			_ = det.Close()
		}
		a.archive.Close()
		if a.settings().WorkspaceDir == "" {
			_ = a.pipeline.Workspace().Cleanup()
		}
	})
}

// loop is the interactive loop. It is the only goroutine touching session
// state, the capture machine, the playback engine and the display surface.
func (a *App) loop() {
	defer close(a.loopDone)
	for {
		select {
		case <-a.quit:
			return
		case fn := <-a.calls:
			fn()
		case fn := <-a.ticks:
			fn()
		case <-a.mailbox.Ready():
			for _, ev := range a.mailbox.Drain() {
				a.handleEvent(ev)
			}
		}
		a.surface.Flush()
	}
}

// call runs fn on the loop and waits for its result.
func (a *App) call(fn func() error) error {
	done := make(chan error, 1)
	select {
	case a.calls <- func() { done <- fn() }:
	case <-a.quit:
		return ErrClosed
	}
	return <-done
}

// post runs fn on the loop without waiting for it to finish.
func (a *App) post(fn func()) {
	select {
	case a.calls <- fn:
	case <-a.quit:
	}
}

// postTick delivers a playback tick, dropping it when one is already
// waiting.
func (a *App) postTick(fn func()) {
	select {
	case a.ticks <- fn:
	default:
	}
}

// GetDiagnostics returns the latest cached diagnostics report.
func (a *App) GetDiagnostics() domain.DiagnosticReport {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.Diagnostics
}

// GetSettings loads and returns the latest persisted settings.
func (a *App) GetSettings() (domain.Settings, error) {
	settings, err := a.Store.Load()
	if err != nil {
		return domain.Settings{}, fmt.Errorf("load settings: %w", err)
	}
	settings = config.Normalize(settings)

	a.mu.Lock()
	a.Settings = settings
	a.mu.Unlock()

	return settings, nil
}

// SaveSettings normalizes and persists settings, then refreshes diagnostics.
func (a *App) SaveSettings(settings domain.Settings) (domain.Settings, error) {
	normalized := config.Normalize(settings)
	if a.Store != nil {
		if err := a.Store.Save(normalized); err != nil {
			return domain.Settings{}, fmt.Errorf("save settings: %w", err)
		}
	}

	a.mu.Lock()
	a.Settings = normalized
	if a.checker != nil {
		a.Diagnostics = a.checker.Run(normalized)
	}
	a.mu.Unlock()

	return normalized, nil
}

// RefreshDiagnostics reloads settings and reruns dependency checks.
func (a *App) RefreshDiagnostics() (domain.DiagnosticReport, error) {
	settings, err := a.GetSettings()
	if err != nil {
		return domain.DiagnosticReport{}, err
	}

	report := a.checker.Run(settings)
	a.mu.Lock()
	a.Diagnostics = report
	a.mu.Unlock()
	return report, nil
}

// PickInputFiles opens a native file dialog for image and video selection.
func (a *App) PickInputFiles() ([]string, error) {
	ctx, err := a.runtimeContext()
	if err != nil {
		return nil, err
	}

	return wailsruntime.OpenMultipleFilesDialog(ctx, wailsruntime.OpenDialogOptions{
		Title:   "Select images or videos",
		Filters: mediaDialogFilter,
	})
}

// PickModelFile opens a native file dialog for model selection.
func (a *App) PickModelFile() (string, error) {
	ctx, err := a.runtimeContext()
	if err != nil {
		return "", err
	}

	path, err := wailsruntime.OpenFileDialog(ctx, wailsruntime.OpenDialogOptions{
		Title:   "Select detection model",
		Filters: modelDialogFilter,
	})
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(path), nil
}

// PickDirectory opens a native directory picker.
func (a *App) PickDirectory(title string) (string, error) {
	ctx, err := a.runtimeContext()
	if err != nil {
		return "", err
	}

	path, err := wailsruntime.OpenDirectoryDialog(ctx, wailsruntime.OpenDialogOptions{
		Title: title,
	})
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(path), nil
}

// PickSavePath opens a native save dialog prefilled with name.
func (a *App) PickSavePath(name string) (string, error) {
	ctx, err := a.runtimeContext()
	if err != nil {
		return "", err
	}

	path, err := wailsruntime.SaveFileDialog(ctx, wailsruntime.SaveDialogOptions{
		Title:           "Save result",
		DefaultFilename: name,
	})
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(path), nil
}

// OpenExportFolder opens the given path (or configured export dir) in file manager.
func (a *App) OpenExportFolder(path string) error {
	target := strings.TrimSpace(path)
	if target == "" {
		target = a.settings().ExportDir
	}
	if target == "" {
		return fmt.Errorf("export path is empty")
	}

	info, err := os.Stat(target)
	if err != nil {
		return fmt.Errorf("resolve export path: %w", err)
	}

	openPath := target
	if !info.IsDir() {
		openPath = filepath.Dir(target)
	}

	return openInFileManager(openPath)
}

// JobEvents returns all events with sequence greater than sinceSeq.
func (a *App) JobEvents(sinceSeq int64) []jobs.Event {
	return a.events.Since(sinceSeq)
}

// ActiveJobs returns queued and running jobs.
func (a *App) ActiveJobs() []jobs.Record {
	return a.pool.Tracker().Active()
}

// settings returns a copy of the current settings.
func (a *App) settings() domain.Settings {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.Settings
}

// updateSettings applies fn to the settings and persists the result.
func (a *App) updateSettings(fn func(*domain.Settings)) (domain.Settings, error) {
	a.mu.Lock()
	next := a.Settings
	a.mu.Unlock()

	fn(&next)
	return a.SaveSettings(next)
}

// notify publishes a transient status message.
func (a *App) notify(message string) {
	slog.Info(message)
	a.publishEvent(jobs.Event{Type: jobs.EventTypeStatus, Message: message})
}

// publishEvent stores event history and emits runtime push notifications.
func (a *App) publishEvent(event jobs.Event) {
	published := a.events.Publish(event)
	a.emit("job:event", published)
}

// emit pushes a runtime event when the desktop shell is running.
func (a *App) emit(name string, data ...interface{}) {
	a.mu.Lock()
	ctx := a.runtimeCtx
	a.mu.Unlock()
	if ctx != nil {
		wailsruntime.EventsEmit(ctx, name, data...)
	}
}

// runtimeContext returns current Wails runtime context for dialog APIs.
func (a *App) runtimeContext() (context.Context, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.runtimeCtx == nil {
		return nil, fmt.Errorf("runtime context is not initialized")
	}
	return a.runtimeCtx, nil
}

// loadDetector is the production ModelLoader.
func loadDetector(settings domain.Settings) (domain.Detector, error) {
	return detect.Load(detect.Options{
		ModelPath: settings.ModelPath,
		NamesPath: settings.NamesPath,
		YoloPath:  settings.YoloPath,
	})
}

// openInFileManager launches the platform file explorer for the provided path.
func openInFileManager(path string) error {
	var cmd *exec.Cmd
	switch goruntime.GOOS {
	case "darwin":
		cmd = exec.Command("open", path)
	case "windows":
		cmd = exec.Command("explorer", filepath.Clean(path))
	default:
		cmd = exec.Command("xdg-open", path)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("launch file manager: %w", err)
	}
	return nil
}
