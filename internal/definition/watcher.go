package definition

import (
	"context"
	"log"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long the watcher waits after the last write
// before re-loading.
const DefaultDebounce = 250 * time.Millisecond

// Watcher reloads a definition file when it changes on disk.
type Watcher struct {
	path     string
	debounce time.Duration
	watcher  *fsnotify.Watcher
	onChange func(*Definition, error)
}

// NewWatcher watches path. onChange receives either the re-loaded
// definition or the load error, never both.
func NewWatcher(path string, debounce time.Duration, onChange func(*Definition, error)) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// Editors often replace the file instead of writing it, so watch the
	// directory and filter by name.
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		fw.Close()
		return nil, err
	}
	return &Watcher{
		path:     abs,
		debounce: debounce,
		watcher:  fw,
		onChange: onChange,
	}, nil
}

// Run delivers changes until ctx ends, then closes the underlying watcher.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if !w.relevant(event) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			def, err := Load(w.path)
			if err != nil {
				w.onChange(nil, err)
				continue
			}
			w.onChange(def, nil)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			log.Printf("definition watcher error: %v", err)

		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return ctx.Err()
		}
	}
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	if filepath.Clean(event.Name) != w.path {
		return false
	}
	return event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0
}
