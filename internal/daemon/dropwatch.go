// Package daemon runs the background agent: it watches the record-drop
// directory for export files from field devices, ingests them into the
// local store, and keeps the device synchronized on a timer.
package daemon

import (
	"fmt"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// DropWatcher watches the record-drop directory and reports the paths of
// drop files as they appear or change. Only .json files are reported;
// removals are ignored since a vanished drop file needs no ingest.
type DropWatcher struct {
	watcher *fsnotify.Watcher
	events  chan string
	errors  chan error
	done    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
	dir     string
}

// NewDropWatcher creates a watcher. It must be started with Start()
// before it emits events.
func NewDropWatcher() (*DropWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &DropWatcher{
		watcher: watcher,
		events:  make(chan string, 100),
		errors:  make(chan error, 10),
		done:    make(chan struct{}),
	}, nil
}

// Start begins watching dir for drop files.
func (dw *DropWatcher) Start(dir string) error {
	dw.mu.Lock()
	defer dw.mu.Unlock()

	if dw.running {
		return fmt.Errorf("watcher already running")
	}

	dw.dir = dir
	if err := dw.watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch drop directory %s: %w", dir, err)
	}

	dw.running = true
	dw.wg.Add(1)
	go dw.processEvents()

	return nil
}

// Stop stops watching and cleans up. It blocks until the event loop has
// exited; afterwards the Events and Errors channels are closed.
func (dw *DropWatcher) Stop() error {
	dw.mu.Lock()
	if !dw.running {
		dw.mu.Unlock()
		return nil
	}
	dw.running = false
	dw.mu.Unlock()

	close(dw.done)

	if err := dw.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}

	dw.wg.Wait()

	close(dw.events)
	close(dw.errors)

	return nil
}

// Events returns the channel of drop file paths. Closed by Stop.
func (dw *DropWatcher) Events() <-chan string {
	return dw.events
}

// Errors returns the channel of watcher errors. Closed by Stop.
func (dw *DropWatcher) Errors() <-chan error {
	return dw.errors
}

// IsRunning reports whether the watcher is active.
func (dw *DropWatcher) IsRunning() bool {
	dw.mu.Lock()
	defer dw.mu.Unlock()
	return dw.running
}

func (dw *DropWatcher) processEvents() {
	defer dw.wg.Done()

	for {
		select {
		case <-dw.done:
			return

		case event, ok := <-dw.watcher.Events:
			if !ok {
				return
			}

			if !dw.wantEvent(event) {
				continue
			}

			select {
			case dw.events <- event.Name:
			case <-dw.done:
				return
			}

		case err, ok := <-dw.watcher.Errors:
			if !ok {
				return
			}

			select {
			case dw.errors <- err:
			case <-dw.done:
				return
			}
		}
	}
}

// wantEvent filters to created or written .json files. An atomic drop
// write lands as a Create on the final name; the Rename fired for the
// old path is ignored, as is the Rename when an ingested file is moved
// to the archive.
func (dw *DropWatcher) wantEvent(event fsnotify.Event) bool {
	if !strings.HasSuffix(event.Name, ".json") {
		return false
	}
	return event.Has(fsnotify.Create) || event.Has(fsnotify.Write)
}
