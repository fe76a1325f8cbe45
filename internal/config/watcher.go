package config

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// ReloadHandler is called with the freshly loaded config after the
// watched file changes and passes validation.
type ReloadHandler func(cfg *Config)

// Watcher watches a config file and reloads it on change. Reload events
// are debounced so editors that write multiple times produce one reload.
type Watcher struct {
	watcher  *fsnotify.Watcher
	path     string
	opts     LoadOptions
	handler  ReloadHandler
	debounce time.Duration

	pendingMu sync.Mutex
	pending   *time.Timer
	done      chan struct{}
	wg        sync.WaitGroup
}

// NewWatcher creates a watcher for the given config file. The handler
// runs on the watcher goroutine; it must not block for long.
func NewWatcher(path string, opts LoadOptions, handler ReloadHandler) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		watcher:  fsWatcher,
		path:     path,
		opts:     opts,
		handler:  handler,
		debounce: 300 * time.Millisecond,
		done:     make(chan struct{}),
	}

	// Watch the directory rather than the file itself so atomic
	// rename-into-place saves are still observed.
	if err := fsWatcher.Add(filepath.Dir(path)); err != nil {
		fsWatcher.Close()
		return nil, err
	}

	w.wg.Add(1)
	go w.loop()

	return w, nil
}

// Stop shuts down the watcher.
func (w *Watcher) Stop() {
	close(w.done)
	w.watcher.Close()
	w.wg.Wait()
}

func (w *Watcher) loop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.scheduleReload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Error().Err(err).Msg("Config watcher error")
		}
	}
}

func (w *Watcher) scheduleReload() {
	w.pendingMu.Lock()
	defer w.pendingMu.Unlock()

	if w.pending != nil {
		w.pending.Stop()
	}
	w.pending = time.AfterFunc(w.debounce, w.reload)
}

func (w *Watcher) reload() {
	opts := w.opts
	opts.ConfigFile = w.path

	cfg, err := Load(opts)
	if err != nil {
		log.Error().Err(err).Str("file", w.path).Msg("Config reload failed, keeping previous configuration")
		return
	}

	log.Info().Str("file", w.path).Msg("Config reloaded")
	w.handler(cfg)
}
