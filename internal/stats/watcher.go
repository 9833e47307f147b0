package stats

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/openpst/pstbench/internal/monitoring"
)

// FileCreatedEvent records one statistics file appearing on disk.
type FileCreatedEvent struct {
	Path      string
	CreatedAt time.Time
}

// FileEventDifference is the spacing between two consecutive statistics
// files. The monitoring chain is expected to produce files at a steady
// cadence while a scan runs.
type FileEventDifference struct {
	FirstPath  string
	SecondPath string
	Difference time.Duration
}

// Watcher records the creation of monitoring statistics files under a scan
// directory. Files are HDF5 artefacts written to a monitoring_stats
// subdirectory; anything else is ignored.
type Watcher struct {
	scanPath string
	watcher  *fsnotify.Watcher

	mu      sync.Mutex
	events  []FileCreatedEvent
	started bool

	done chan struct{}
}

// NewWatcher creates a watcher for a scan directory. Call Watch to start it.
func NewWatcher(scanPath string) *Watcher {
	return &Watcher{scanPath: scanPath}
}

// Watch starts watching the scan directory tree. Directories created after
// the watch starts are picked up as they appear.
func (w *Watcher) Watch() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return fmt.Errorf("watcher is already watching")
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create file watcher: %w", err)
	}
	if err := addRecursive(fw, w.scanPath); err != nil {
		fw.Close()
		return err
	}

	w.watcher = fw
	w.done = make(chan struct{})
	w.started = true
	go w.run()
	return nil
}

// Stop stops watching. Events recorded so far remain available.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		monitoring.Logf("stats watcher is not currently watching")
		return nil
	}
	w.started = false
	fw := w.watcher
	done := w.done
	w.mu.Unlock()

	err := fw.Close()
	<-done
	return err
}

func (w *Watcher) run() {
	defer close(w.done)
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Create) {
				continue
			}
			w.handleCreate(event.Name)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			monitoring.Logf("stats watcher error: %v", err)
		}
	}
}

func (w *Watcher) handleCreate(path string) {
	info, err := os.Stat(path)
	if err != nil {
		return
	}
	if info.IsDir() {
		// The watch is recursive: new directories are watched as they
		// appear so files in them are seen too.
		if err := addRecursive(w.watcher, path); err != nil {
			monitoring.Logf("stats watcher: watch %s: %v", path, err)
		}
		return
	}
	if !isStatFile(path) {
		return
	}

	event := FileCreatedEvent{Path: path, CreatedAt: time.Now()}
	monitoring.Logf("stats watcher: recorded %s", path)

	w.mu.Lock()
	w.events = append(w.events, event)
	w.mu.Unlock()
}

// isStatFile reports whether path is an HDF5 file in a monitoring_stats
// directory.
func isStatFile(path string) bool {
	return strings.HasSuffix(path, ".h5") &&
		filepath.Base(filepath.Dir(path)) == "monitoring_stats"
}

func addRecursive(fw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if err := fw.Add(path); err != nil {
				return fmt.Errorf("watch %s: %w", path, err)
			}
		}
		return nil
	})
}

// Events returns the file creation events recorded so far.
func (w *Watcher) Events() []FileCreatedEvent {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]FileCreatedEvent, len(w.events))
	copy(out, w.events)
	return out
}

// EventTimeDiffs returns the spacing between consecutive file creation
// events.
func (w *Watcher) EventTimeDiffs() []FileEventDifference {
	events := w.Events()
	if len(events) <= 1 {
		return nil
	}
	diffs := make([]FileEventDifference, 0, len(events)-1)
	for i := 1; i < len(events); i++ {
		diffs = append(diffs, FileEventDifference{
			FirstPath:  events[i-1].Path,
			SecondPath: events[i].Path,
			Difference: events[i].CreatedAt.Sub(events[i-1].CreatedAt),
		})
	}
	return diffs
}
