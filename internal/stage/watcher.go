package stage

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/alexjbarnes/media-stage/gallery"
	"github.com/fsnotify/fsnotify"
	"golang.org/x/crypto/blake2b"
)

// debounceInterval is how often the watcher drains pending filesystem
// events, batching rapid writes (editors, slow copies) into a single
// add per file.
const debounceInterval = 500 * time.Millisecond

// imageExts are the file extensions the watcher stages. Everything
// else in the directory is ignored.
var imageExts = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".webp": true,
}

// Watcher monitors the stage directory and stages new image files into
// the collection. It is a subscriber-side component: it only ever
// calls the engine's Add, so there is no write feedback to suppress.
type Watcher struct {
	dir    string
	col    *gallery.Collection
	logger *slog.Logger

	// pending collects event paths between debounce ticks. Later
	// events for the same file overwrite earlier ones.
	pending map[string]struct{}

	// seen maps content hashes of staged files, so the same image
	// dropped twice under different names is staged once.
	seen map[string]string
}

// NewWatcher creates a watcher that stages files from dir into col.
func NewWatcher(dir string, col *gallery.Collection, logger *slog.Logger) *Watcher {
	return &Watcher{
		dir:     dir,
		col:     col,
		logger:  logger,
		pending: make(map[string]struct{}),
		seen:    make(map[string]string),
	}
}

// Run stages the images already present in the directory, then blocks
// watching for new ones until the context is cancelled. The stage
// directory is flat; subdirectories are not watched.
func (w *Watcher) Run(ctx context.Context) error {
	if err := w.scanExisting(); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(w.dir); err != nil {
		return fmt.Errorf("watching stage dir: %w", err)
	}

	ticker := time.NewTicker(debounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("fsnotify events channel closed")
			}

			if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) {
				if !w.shouldIgnore(event.Name) {
					w.pending[event.Name] = struct{}{}
				}
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("fsnotify errors channel closed")
			}

			w.logger.Warn("stage watcher", slog.String("error", err.Error()))

		case <-ticker.C:
			w.drainPending()
		}
	}
}

// scanExisting stages image files already in the directory, in name
// order. The engine's duplicate guard makes this safe to run over a
// restored draft.
func (w *Watcher) scanExisting() error {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return fmt.Errorf("reading stage dir: %w", err)
	}

	for _, de := range entries {
		if de.IsDir() {
			continue
		}

		path := filepath.Join(w.dir, de.Name())
		if !w.shouldIgnore(path) {
			w.stageFile(path)
		}
	}

	return nil
}

func (w *Watcher) drainPending() {
	for path := range w.pending {
		delete(w.pending, path)
		w.stageFile(path)
	}
}

// stageFile adds one file to the collection unless its content is
// already staged under another name.
func (w *Watcher) stageFile(path string) {
	sum, err := hashFile(path)
	if err != nil {
		w.logger.Warn("hashing staged file",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)

		return
	}

	if prev, dup := w.seen[sum]; dup {
		w.logger.Debug("skipping duplicate content",
			slog.String("path", path),
			slog.String("same_as", prev),
		)

		return
	}

	if _, added := w.col.Add(gallery.NewFileSource(path)); added {
		w.seen[sum] = path

		w.logger.Info("staged image",
			slog.String("file", filepath.Base(path)),
			slog.Int("visible", len(w.col.Display())),
		)
	}
}

// shouldIgnore filters non-image files, hidden files, the manifest,
// and editor/copy temp files.
func (w *Watcher) shouldIgnore(path string) bool {
	name := filepath.Base(path)

	if strings.HasPrefix(name, ".") || name == ManifestName {
		return true
	}

	if strings.HasSuffix(name, "~") ||
		strings.HasSuffix(name, ".swp") ||
		strings.HasSuffix(name, ".part") ||
		strings.HasSuffix(name, ".crdownload") {
		return true
	}

	return !imageExts[strings.ToLower(filepath.Ext(name))]
}

// hashFile returns the hex BLAKE2b-256 digest of the file's content.
func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h, err := blake2b.New256(nil)
	if err != nil {
		return "", err
	}

	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}
