// FILE: lixenwraith/conftree/watch.go
package conftree

import (
	"context"
	"errors"
	"fmt"
	"os"
	"reflect"
	"sync"
	"sync/atomic"
	"time"
)

// Change notifications that are not node paths.
const (
	EventFileDeleted        = "file_deleted"
	EventPermissionsChanged = "permissions_changed"
	EventReloadTimeout      = "reload_timeout"
	EventReloadErrorPrefix  = "reload_error:"
)

// ErrNotWatchable is returned when the loader has no file to poll.
var ErrNotWatchable = errors.New("loader has no file to watch")

// FileSource is implemented by loaders backed by a single file.
type FileSource interface {
	Path() string
}

// WatchOptions configures file watching behavior
type WatchOptions struct {
	// PollInterval for file stat checks (minimum 100ms)
	PollInterval time.Duration

	// Debounce duration to avoid rapid reloads
	Debounce time.Duration

	// MaxWatchers limits concurrent change channels
	MaxWatchers int

	// ReloadTimeout for file reload operations
	ReloadTimeout time.Duration

	// VerifyPermissions skips reloads when group/world permission bits change
	VerifyPermissions bool
}

// DefaultWatchOptions returns sensible defaults for file watching
func DefaultWatchOptions() WatchOptions {
	return WatchOptions{
		PollInterval:      DefaultPollInterval,
		Debounce:          DefaultDebounce,
		MaxWatchers:       DefaultMaxWatchers,
		ReloadTimeout:     DefaultReloadTimeout,
		VerifyPermissions: true,
	}
}

// watcher polls a file and reloads a Reference when it changes
type watcher struct {
	mu               sync.RWMutex
	ctx              context.Context
	cancel           context.CancelFunc
	opts             WatchOptions
	filePath         string
	lastModTime      time.Time
	lastSize         int64
	lastMode         os.FileMode
	watching         atomic.Bool
	reloadInProgress atomic.Bool
	subscribers      map[int64]chan string
	subscriberID     atomic.Int64
	debounceTimer    *time.Timer
}

// Watch starts polling the loader's file and reloading on change. Calling
// Watch again with the same file keeps the running watcher.
func (r *Reference) Watch(opts WatchOptions) error {
	if r.State() == StateClosed {
		return ErrClosed
	}
	src, ok := r.loader.(FileSource)
	if !ok || src.Path() == "" {
		return ErrNotWatchable
	}
	filePath := src.Path()

	// Validate options
	if opts.PollInterval < MinPollInterval {
		opts.PollInterval = MinPollInterval
	}
	if opts.MaxWatchers <= 0 {
		opts.MaxWatchers = DefaultMaxWatchers
	}
	if opts.ReloadTimeout <= 0 {
		opts.ReloadTimeout = DefaultReloadTimeout
	}

	r.listenersMu.Lock()
	defer r.listenersMu.Unlock()

	// Stop existing watcher if path changed
	if r.watcher != nil && r.watcher.filePath != filePath {
		r.watcher.stop()
		r.watcher = nil
	}
	if r.watcher != nil {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &watcher{
		ctx:         ctx,
		cancel:      cancel,
		opts:        opts,
		filePath:    filePath,
		subscribers: make(map[int64]chan string),
	}

	// Get initial file state
	if info, err := os.Stat(filePath); err == nil {
		w.lastModTime = info.ModTime()
		w.lastSize = info.Size()
		w.lastMode = info.Mode()
	}
	r.watcher = w
	r.logger.Debug("Watching configuration file.", "path", filePath, "interval", opts.PollInterval)

	// Set before the goroutine starts so IsWatching holds once Watch returns.
	w.watching.Store(true)
	go w.watchLoop(r)
	return nil
}

// StopWatching stops the file watcher, closing all change channels.
func (r *Reference) StopWatching() {
	r.listenersMu.Lock()
	w := r.watcher
	r.watcher = nil
	r.listenersMu.Unlock()

	if w != nil {
		w.stop()
		r.logger.Debug("Stopped watching configuration file.", "path", w.filePath)
	}
}

// IsWatching returns true if the file watcher is running
func (r *Reference) IsWatching() bool {
	r.listenersMu.RLock()
	defer r.listenersMu.RUnlock()
	return r.watcher != nil && r.watcher.watching.Load()
}

// Changes returns a channel receiving the paths of values changed by
// watcher reloads, plus the Event* notifications. The channel is closed
// when watching stops. Without a running watcher it is closed immediately.
func (r *Reference) Changes() <-chan string {
	r.listenersMu.RLock()
	w := r.watcher
	r.listenersMu.RUnlock()

	if w == nil {
		ch := make(chan string)
		close(ch)
		return ch
	}
	return w.subscribe()
}

// WatcherCount returns the number of active change channels
func (r *Reference) WatcherCount() int {
	r.listenersMu.RLock()
	w := r.watcher
	r.listenersMu.RUnlock()
	if w == nil {
		return 0
	}

	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.subscribers)
}

// watchLoop is the main file watching loop
func (w *watcher) watchLoop(r *Reference) {
	defer w.watching.Store(false)

	ticker := time.NewTicker(w.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.checkAndReload(r)
		}
	}
}

// checkAndReload checks if file changed and triggers reload
func (w *watcher) checkAndReload(r *Reference) {
	info, err := os.Stat(w.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			w.notify(EventFileDeleted)
		}
		return
	}

	changed := !info.ModTime().Equal(w.lastModTime) || info.Size() != w.lastSize

	// Verify permissions haven't changed suspiciously
	if w.opts.VerifyPermissions && w.lastMode != 0 && info.Mode() != w.lastMode {
		if (info.Mode() & 0077) != (w.lastMode & 0077) {
			w.notify(EventPermissionsChanged)
			r.reportError(PhaseWatching, fmt.Errorf("permissions of %s changed to %s, reload skipped", w.filePath, info.Mode()))
			return
		}
	}

	if changed {
		w.lastModTime = info.ModTime()
		w.lastSize = info.Size()
		w.lastMode = info.Mode()

		// Debounce rapid changes
		w.mu.Lock()
		if w.debounceTimer != nil {
			w.debounceTimer.Stop()
		}
		w.debounceTimer = time.AfterFunc(w.opts.Debounce, func() {
			w.performReload(r)
		})
		w.mu.Unlock()
	}
}

// performReload reloads the reference and notifies changed paths
func (w *watcher) performReload(r *Reference) {
	// Prevent concurrent reloads
	if !w.reloadInProgress.CompareAndSwap(false, true) {
		return
	}
	defer w.reloadInProgress.Store(false)

	ctx, cancel := context.WithTimeout(w.ctx, w.opts.ReloadTimeout)
	defer cancel()

	oldValues := flattenLeaves(r.Node())

	done := make(chan error, 1)
	go func() {
		done <- r.Load()
	}()

	select {
	case err := <-done:
		if err != nil {
			w.notify(EventReloadErrorPrefix + err.Error())
			return
		}

		newValues := flattenLeaves(r.Node())
		for path, newVal := range newValues {
			if oldVal, existed := oldValues[path]; !existed || !reflect.DeepEqual(oldVal, newVal) {
				w.notify(path)
			}
		}
		for path := range oldValues {
			if _, exists := newValues[path]; !exists {
				w.notify(path)
			}
		}

	case <-ctx.Done():
		if w.ctx.Err() == nil {
			w.notify(EventReloadTimeout)
			r.reportError(PhaseWatching, fmt.Errorf("reload of %s timed out after %s", w.filePath, w.opts.ReloadTimeout))
		}
	}
}

// subscribe creates a new change channel
func (w *watcher) subscribe() <-chan string {
	w.mu.Lock()
	defer w.mu.Unlock()

	// Closed channel when the limit is reached or the watcher is stopping
	if len(w.subscribers) >= w.opts.MaxWatchers || w.ctx.Err() != nil {
		ch := make(chan string)
		close(ch)
		return ch
	}

	// Buffered to keep the poll loop from blocking
	ch := make(chan string, 10)
	id := w.subscriberID.Add(1)
	w.subscribers[id] = ch

	go func() {
		<-w.ctx.Done()
		w.mu.Lock()
		delete(w.subscribers, id)
		close(ch)
		w.mu.Unlock()
	}()

	return ch
}

// notify sends an event to all subscribers without blocking
func (w *watcher) notify(event string) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	for _, ch := range w.subscribers {
		select {
		case ch <- event:
		default:
			// Full channel, drop
		}
	}
}

// stop terminates the watcher
func (w *watcher) stop() {
	if w.cancel != nil {
		w.cancel()
	}

	w.mu.Lock()
	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
		w.debounceTimer = nil
	}
	w.mu.Unlock()

	// Wait for watch loop to exit with timeout
	for i := 0; i < stopWaitCycles && w.watching.Load(); i++ {
		time.Sleep(stopWaitQuantum)
	}
}
