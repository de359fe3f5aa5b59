// Package deploy keeps a container in step with a directory of module
// descriptors.
//
// Each descriptor file is one module whose location is the file path.
// Creating a file installs the module and, when the descriptor asks for
// autostart, starts it. Writing a file updates the module and removing or
// renaming it uninstalls the module. After every batch of changes the
// watcher resolves whatever is unresolved.
package deploy

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/GoCodeAlone/modwire"
	"github.com/GoCodeAlone/modwire/descriptor"
)

const defaultDebounce = 200 * time.Millisecond

// ErrAlreadyRunning is returned when Run is called more than once.
var ErrAlreadyRunning = errors.New("deploy: watcher already running")

// Config holds the parameters for a Watcher.
type Config struct {
	// Dir is the directory holding descriptor files.
	Dir string

	// Debounce is the quiet period after the last event before the batch is
	// applied. Zero or negative values use the default.
	Debounce time.Duration

	// Logger receives progress and errors. Defaults to the container's.
	Logger modwire.Logger
}

// Watcher applies descriptor file changes to a container.
type Watcher struct {
	container *modwire.Container
	dir       string
	debounce  time.Duration
	logger    modwire.Logger
	fsw       *fsnotify.Watcher
	started   atomic.Bool

	// applyMu serializes batches.
	applyMu sync.Mutex
}

// New creates a watcher for cfg.Dir. The directory is watched from this
// point on; call Scan to pick up files already present.
func New(c *modwire.Container, cfg Config) (*Watcher, error) {
	dir, err := filepath.Abs(cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("deploy: resolve directory: %w", err)
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("deploy: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("deploy: %s is not a directory", dir)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("deploy: create fsnotify watcher: %w", err)
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close() //nolint:errcheck // best-effort cleanup
		return nil, fmt.Errorf("deploy: watch %s: %w", dir, err)
	}

	debounce := cfg.Debounce
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	logger := cfg.Logger
	if logger == nil {
		logger = c.Logger()
	}
	return &Watcher{
		container: c,
		dir:       dir,
		debounce:  debounce,
		logger:    modwire.WithLogFields(logger, "component", "deploy"),
		fsw:       fsw,
	}, nil
}

// Dir returns the watched directory.
func (w *Watcher) Dir() string { return w.dir }

// Scan installs every descriptor already in the directory.
func (w *Watcher) Scan(ctx context.Context) error {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return fmt.Errorf("deploy: scan %s: %w", w.dir, err)
	}
	var paths []string
	for _, e := range entries {
		if !e.IsDir() && descriptor.IsDescriptorFile(e.Name()) {
			paths = append(paths, filepath.Join(w.dir, e.Name()))
		}
	}
	return w.Apply(ctx, paths)
}

// Run processes filesystem events until ctx is cancelled. It returns nil on
// cancellation.
func (w *Watcher) Run(ctx context.Context) error {
	if !w.started.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	var (
		mu      sync.Mutex
		pending = make(map[string]struct{})
		timer   *time.Timer
	)
	fire := func() {
		if ctx.Err() != nil {
			return
		}
		mu.Lock()
		paths := make([]string, 0, len(pending))
		for p := range pending {
			paths = append(paths, p)
		}
		clear(pending)
		mu.Unlock()
		if len(paths) == 0 {
			return
		}
		if err := w.Apply(ctx, paths); err != nil {
			w.logger.Error("Failed to apply descriptor changes", "dir", w.dir, "error", err)
		}
	}

	defer func() {
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
		if err := w.fsw.Close(); err != nil {
			w.logger.Warn("Failed to close fsnotify watcher", "error", err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case evt, ok := <-w.fsw.Events:
			if !ok {
				return errors.New("deploy: fsnotify event channel closed unexpectedly")
			}
			if !descriptor.IsDescriptorFile(evt.Name) || evt.Op == fsnotify.Chmod {
				continue
			}
			mu.Lock()
			pending[evt.Name] = struct{}{}
			if timer == nil {
				timer = time.AfterFunc(w.debounce, fire)
			} else {
				timer.Reset(w.debounce)
			}
			mu.Unlock()

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return errors.New("deploy: fsnotify error channel closed unexpectedly")
			}
			w.logger.Warn("fsnotify error", "dir", w.dir, "error", err)
		}
	}
}

// Apply reconciles the modules at paths with the files: present files are
// installed or updated, missing files uninstalled. Unresolved modules are
// resolved afterwards.
func (w *Watcher) Apply(ctx context.Context, paths []string) error {
	w.applyMu.Lock()
	defer w.applyMu.Unlock()

	sort.Strings(paths)
	var errs []error
	var autostart []*modwire.Module
	for _, path := range paths {
		m, start, err := w.applyFile(ctx, path)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if start {
			autostart = append(autostart, m)
		}
	}

	if err := w.container.Resolve(nil, false); err != nil {
		errs = append(errs, fmt.Errorf("deploy: resolve: %w", err))
	}
	for _, m := range autostart {
		if err := w.container.Start(ctx, m); err != nil {
			errs = append(errs, fmt.Errorf("deploy: start %s: %w", m.Location(), err))
		}
	}
	return errors.Join(errs...)
}

// applyFile reports the module affected by path and whether it asked to be
// started on install.
func (w *Watcher) applyFile(ctx context.Context, path string) (*modwire.Module, bool, error) {
	existing, installed := w.container.ModuleByLocation(path)

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if !installed {
			return nil, false, nil
		}
		w.logger.Info("Descriptor removed, uninstalling module", "location", path)
		if err := w.container.Uninstall(ctx, existing); err != nil {
			return nil, false, fmt.Errorf("deploy: uninstall %s: %w", path, err)
		}
		return existing, false, nil
	}

	d, err := descriptor.LoadModule(path)
	if err != nil {
		return nil, false, fmt.Errorf("deploy: %w", err)
	}
	d.Location = path

	if installed {
		w.logger.Info("Descriptor changed, updating module", "location", path)
		if err := w.container.Update(ctx, existing, d.Builder()); err != nil {
			return nil, false, fmt.Errorf("deploy: update %s: %w", path, err)
		}
		return existing, false, nil
	}

	m, err := w.container.Install(nil, path, d.Builder())
	if err != nil {
		return nil, false, fmt.Errorf("deploy: install %s: %w", path, err)
	}
	w.logger.Info("Installed module from descriptor", "location", path, "module", m.String())
	return m, d.Autostart, nil
}
