// Package demos watches the demo directory for finished recordings and
// attaches them to their matches, keyed by the match slug encoded in the
// file name ("<slug>.dem" or "<slug>_map<N>.dem").
package demos

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/pocketbase/pocketbase/core"

	"github.com/sivert-io/matchzy-auto-tournament/internal/store"
)

var mapSuffix = regexp.MustCompile(`^(.*)_map(\d+)$`)

// ParseName splits a demo file name into match slug and map number. A name
// without the _map<N> suffix belongs to map 0.
func ParseName(name string) (slug string, mapNumber int, ok bool) {
	base := filepath.Base(name)
	if !strings.HasSuffix(base, ".dem") {
		return "", 0, false
	}
	base = strings.TrimSuffix(base, ".dem")
	if m := mapSuffix.FindStringSubmatch(base); m != nil {
		n, err := strconv.Atoi(m[2])
		if err != nil {
			return "", 0, false
		}
		return m[1], n, true
	}
	return base, 0, base != ""
}

// Watcher attaches demo files appearing in the demo directory to their
// matches.
type Watcher struct {
	app    core.App
	dir    string
	logger *slog.Logger

	watcher *fsnotify.Watcher
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewWatcher(app core.App, dir string, logger *slog.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating demo watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Watcher{
		app:     app,
		dir:     dir,
		logger:  logger,
		watcher: fw,
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Start begins watching. The directory is created if missing, and demos
// already present are attached on startup so restarts never miss files.
func (w *Watcher) Start() error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("creating demo dir %s: %w", w.dir, err)
	}
	if err := w.watcher.Add(w.dir); err != nil {
		return fmt.Errorf("watching demo dir %s: %w", w.dir, err)
	}

	w.wg.Add(1)
	go w.loop()

	w.scanExisting()
	w.logger.Info("demo watcher started", "dir", w.dir)
	return nil
}

// Stop halts the watcher and waits for the event loop.
func (w *Watcher) Stop() {
	w.cancel()
	w.watcher.Close()
	w.wg.Wait()
}

func (w *Watcher) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			// Renames cover recorders that write to a temp name first.
			if event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				w.attach(event.Name)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("demo watcher error", "error", err)
		}
	}
}

func (w *Watcher) scanExisting() {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		w.logger.Warn("demo dir scan failed", "dir", w.dir, "error", err)
		return
	}
	for _, e := range entries {
		if !e.IsDir() {
			w.attach(filepath.Join(w.dir, e.Name()))
		}
	}
}

// attach records a demo file on its match.
func (w *Watcher) attach(path string) {
	slug, mapNumber, ok := ParseName(path)
	if !ok {
		return
	}

	name := filepath.Base(path)
	_, err := store.MutateMatch(w.app, slug, func(m *store.Match) error {
		for _, existing := range m.DemoFilePaths {
			if existing == name {
				return nil
			}
		}
		m.DemoFilePaths = append(m.DemoFilePaths, name)
		for i := range m.MapResults {
			if m.MapResults[i].MapNumber == mapNumber {
				m.MapResults[i].DemoFilePath = name
			}
		}
		return nil
	})
	if err != nil {
		w.logger.Debug("demo without a match left in place", "file", name, "error", err)
		return
	}
	w.logger.Info("demo attached", "match", slug, "map", mapNumber, "file", name)
}

// Resolve returns the on-disk path for a match demo. mapNumber < 0 means
// "the first recorded demo".
func Resolve(app core.App, dir, slug string, mapNumber int) (string, error) {
	m, err := store.FindMatch(app, slug)
	if err != nil {
		return "", err
	}

	if mapNumber >= 0 {
		for _, r := range m.MapResults {
			if r.MapNumber == mapNumber && r.DemoFilePath != "" {
				return secureJoin(dir, r.DemoFilePath)
			}
		}
		// Fall back to the naming convention.
		name := fmt.Sprintf("%s_map%d.dem", slug, mapNumber)
		if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
			return secureJoin(dir, name)
		}
		return "", fmt.Errorf("%w: no demo for map %d of %s", store.ErrNotFound, mapNumber, slug)
	}

	if len(m.DemoFilePaths) > 0 {
		return secureJoin(dir, m.DemoFilePaths[0])
	}
	if _, err := os.Stat(filepath.Join(dir, slug+".dem")); err == nil {
		return secureJoin(dir, slug+".dem")
	}
	return "", fmt.Errorf("%w: no demo recorded for %s", store.ErrNotFound, slug)
}

// secureJoin keeps resolved paths inside the demo directory.
func secureJoin(dir, name string) (string, error) {
	path := filepath.Join(dir, filepath.Base(name))
	if !strings.HasPrefix(path, filepath.Clean(dir)+string(os.PathSeparator)) {
		return "", fmt.Errorf("%w: demo path escapes the demo dir", store.ErrValidation)
	}
	return path, nil
}
