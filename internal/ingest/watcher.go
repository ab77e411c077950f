package ingest

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/jonatasu/dubby/internal/api"
	"github.com/jonatasu/dubby/internal/pipeline"
)

const (
	acceptedDir = "accepted"
	rejectedDir = "rejected"
)

// WatcherOptions configures the inbox directory watcher.
type WatcherOptions struct {
	Dir        string
	Extensions map[string]bool // lower case, with leading dot
	Queue      Enqueuer
	Defaults   Defaults
	Debounce   time.Duration // default 500ms
	Log        zerolog.Logger
}

// InboxWatcher monitors a directory for dropped media files. Each file is
// moved into accepted/ and queued as a job with the default languages;
// files the queue refuses are moved into rejected/.
type InboxWatcher struct {
	opts WatcherOptions
	log  zerolog.Logger

	watcher *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup

	// Debounce: coalesce rapid Create+Write events on the same file.
	debounceMu     sync.Mutex
	debounceTimers map[string]*time.Timer

	filesQueued   atomic.Int64
	filesRejected atomic.Int64
	status        atomic.Value // string: "starting", "watching", "stopped"
}

// NewInboxWatcher creates a watcher. Call Start to begin watching.
func NewInboxWatcher(opts WatcherOptions) *InboxWatcher {
	if opts.Debounce <= 0 {
		opts.Debounce = 500 * time.Millisecond
	}
	iw := &InboxWatcher{
		opts:           opts,
		log:            opts.Log.With().Str("component", "inbox-watcher").Logger(),
		done:           make(chan struct{}),
		debounceTimers: make(map[string]*time.Timer),
	}
	iw.status.Store("starting")
	return iw
}

// Start creates the inbox layout, begins watching, and queues any media
// files already waiting in the inbox.
func (iw *InboxWatcher) Start() error {
	for _, d := range []string{iw.opts.Dir, filepath.Join(iw.opts.Dir, acceptedDir), filepath.Join(iw.opts.Dir, rejectedDir)} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return err
		}
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(iw.opts.Dir); err != nil {
		w.Close()
		return err
	}
	iw.watcher = w

	iw.wg.Add(1)
	go iw.watchLoop()

	entries, err := os.ReadDir(iw.opts.Dir)
	if err != nil {
		iw.log.Warn().Err(err).Msg("failed to scan inbox for waiting files")
	}
	waiting := 0
	for _, e := range entries {
		if !e.IsDir() && iw.wanted(e.Name()) {
			iw.scheduleProcess(filepath.Join(iw.opts.Dir, e.Name()))
			waiting++
		}
	}

	iw.status.Store("watching")
	iw.log.Info().
		Str("watch_dir", iw.opts.Dir).
		Int("waiting", waiting).
		Msg("inbox watcher started")
	return nil
}

// Stop closes the fsnotify watcher and cancels pending debounced files.
func (iw *InboxWatcher) Stop() {
	if iw.status.Swap("stopped") == "stopped" {
		return
	}
	close(iw.done)
	if iw.watcher != nil {
		iw.watcher.Close()
	}
	iw.wg.Wait()

	iw.debounceMu.Lock()
	for path, t := range iw.debounceTimers {
		t.Stop()
		delete(iw.debounceTimers, path)
	}
	iw.debounceMu.Unlock()

	iw.log.Info().
		Int64("files_queued", iw.filesQueued.Load()).
		Int64("files_rejected", iw.filesRejected.Load()).
		Msg("inbox watcher stopped")
}

// Status returns the current watcher status for the health endpoint.
func (iw *InboxWatcher) Status() *api.WatcherStatusData {
	s, _ := iw.status.Load().(string)
	return &api.WatcherStatusData{
		Status:        s,
		WatchDir:      iw.opts.Dir,
		FilesQueued:   iw.filesQueued.Load(),
		FilesRejected: iw.filesRejected.Load(),
	}
}

func (iw *InboxWatcher) watchLoop() {
	defer iw.wg.Done()
	for {
		select {
		case <-iw.done:
			return

		case event, ok := <-iw.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			// Only files directly in the inbox; accepted/ and rejected/ are ours.
			if filepath.Dir(event.Name) != filepath.Clean(iw.opts.Dir) || !iw.wanted(filepath.Base(event.Name)) {
				continue
			}
			iw.scheduleProcess(event.Name)

		case err, ok := <-iw.watcher.Errors:
			if !ok {
				return
			}
			iw.log.Error().Err(err).Msg("fsnotify error")
		}
	}
}

// wanted reports whether name looks like a finished media upload.
func (iw *InboxWatcher) wanted(name string) bool {
	if strings.HasPrefix(name, ".") {
		return false
	}
	return iw.opts.Extensions[strings.ToLower(filepath.Ext(name))]
}

// scheduleProcess debounces file processing so a file still being copied in
// is only picked up once writes stop.
func (iw *InboxWatcher) scheduleProcess(path string) {
	iw.debounceMu.Lock()
	defer iw.debounceMu.Unlock()

	if t, ok := iw.debounceTimers[path]; ok {
		t.Reset(iw.opts.Debounce)
		return
	}

	iw.debounceTimers[path] = time.AfterFunc(iw.opts.Debounce, func() {
		iw.debounceMu.Lock()
		delete(iw.debounceTimers, path)
		iw.debounceMu.Unlock()

		select {
		case <-iw.done:
			return
		default:
		}
		iw.processFile(path)
	})
}

// processFile moves a settled inbox file aside and queues it.
func (iw *InboxWatcher) processFile(path string) {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return // already moved or removed
	}
	if info.Size() == 0 {
		iw.log.Debug().Str("path", path).Msg("skipping empty inbox file")
		return
	}

	name := uuid.NewString()[:8] + "_" + filepath.Base(path)
	accepted := filepath.Join(iw.opts.Dir, acceptedDir, name)
	if err := os.Rename(path, accepted); err != nil {
		iw.log.Warn().Err(err).Str("path", path).Msg("failed to claim inbox file")
		return
	}

	req := pipeline.Request{
		InputPath: accepted,
		SrcLang:   iw.opts.Defaults.SrcLang,
		DstLang:   iw.opts.Defaults.DstLang,
	}
	id, ok := submit(iw.opts.Queue, req, "inbox")
	if !ok {
		iw.filesRejected.Add(1)
		rejected := filepath.Join(iw.opts.Dir, rejectedDir, name)
		if err := os.Rename(accepted, rejected); err != nil {
			iw.log.Warn().Err(err).Str("path", accepted).Msg("failed to move rejected file")
		}
		iw.log.Warn().Str("file", filepath.Base(path)).Msg("job queue full, inbox file rejected")
		return
	}
	iw.filesQueued.Add(1)
	iw.log.Info().Str("file", filepath.Base(path)).Str("job_id", id).Msg("inbox file queued")
}
