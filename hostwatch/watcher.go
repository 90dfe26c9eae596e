// Package hostwatch is a concrete, fsnotify-backed realization of the
// watcher contract: it emits one callback per changed URL, leaving
// coalescing to internal/debounce rather than folding it in here — a real
// bundler-grade watcher would batch at this layer too, but keeping the two
// concerns separate is what let this package stay small.
package hostwatch

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
)

var defaultIgnores = []string{
	"**/.git/**",
	"**/node_modules/**",
	"**/*.swp",
	"**/*~",
}

// URLForPath maps a changed filesystem path (relative to BaseDir, forward
// slashes) to the URL the controller graph knows it by. The caller
// supplies it; hostloader provides no such mapping.
type URLForPath func(relPath string) (url string, ok bool)

// Config holds the parameters for a Watcher, mirroring the shape of the
// pack's own file watcher but narrowed to the one thing hmrcore needs:
// "this path changed, which controller URL does that correspond to".
type Config struct {
	// BaseDir is the root directory to watch. Empty defaults to the
	// current working directory.
	BaseDir string

	// Patterns are doublestar globs selecting which paths trigger
	// OnChange. Empty watches everything not covered by Ignore.
	Patterns []string

	// Ignore are additional doublestar globs merged with defaultIgnores.
	Ignore []string

	// ToURL resolves a changed path to a controller URL. A path that
	// resolves ok=false is silently dropped — it isn't part of the
	// module graph hostloader knows about.
	ToURL URLForPath

	// OnChange fires once per matched, resolved path change — exactly
	// the watcher contract's `(url) => void` shape. Callers that want
	// debounced coalescing wrap this themselves with internal/debounce.
	OnChange func(url string)

	Stderr io.Writer
}

// Watcher wraps an fsnotify.Watcher rooted at Config.BaseDir. Run must be
// called exactly once.
type Watcher struct {
	cfg     Config
	fsw     *fsnotify.Watcher
	ignores []string
	baseDir string
	stderr  io.Writer

	mu      sync.Mutex
	started bool
}

// New creates a Watcher, walking BaseDir and registering every
// non-ignored directory with fsnotify up front.
func New(cfg Config) (*Watcher, error) {
	baseDir := cfg.BaseDir
	if baseDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("hostwatch: getwd: %w", err)
		}
		baseDir = wd
	}
	absBase, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("hostwatch: resolve base dir: %w", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("hostwatch: create fsnotify watcher: %w", err)
	}

	stderr := cfg.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}

	ignores := make([]string, 0, len(defaultIgnores)+len(cfg.Ignore))
	ignores = append(ignores, defaultIgnores...)
	ignores = append(ignores, cfg.Ignore...)

	w := &Watcher{cfg: cfg, fsw: fsw, ignores: ignores, baseDir: absBase, stderr: stderr}
	if err := w.addDirectories(); err != nil {
		fsw.Close()
		return nil, err
	}
	return w, nil
}

// Run blocks until ctx is cancelled, dispatching OnChange for every
// matched, resolved path change. It returns nil on clean cancellation and
// a fatal error if the fsnotify channels close unexpectedly.
func (w *Watcher) Run(ctx context.Context) error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return fmt.Errorf("hostwatch: Run called more than once")
	}
	w.started = true
	w.mu.Unlock()

	defer w.fsw.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case evt, ok := <-w.fsw.Events:
			if !ok {
				return fmt.Errorf("hostwatch: fsnotify event channel closed")
			}
			w.handle(evt)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return fmt.Errorf("hostwatch: fsnotify error channel closed")
			}
			fmt.Fprintf(w.stderr, "hostwatch: fsnotify error: %v\n", err)
		}
	}
}

func (w *Watcher) handle(evt fsnotify.Event) {
	rel, err := filepath.Rel(w.baseDir, evt.Name)
	if err != nil {
		rel = evt.Name
	}
	rel = filepath.ToSlash(rel)

	if w.isIgnored(rel) {
		return
	}
	if evt.Has(fsnotify.Create) {
		w.maybeAddDir(evt.Name)
	}
	if !w.matches(rel) {
		return
	}
	if w.cfg.ToURL == nil || w.cfg.OnChange == nil {
		return
	}
	url, ok := w.cfg.ToURL(rel)
	if !ok {
		return
	}
	w.cfg.OnChange(url)
}

func (w *Watcher) addDirectories() error {
	return filepath.WalkDir(w.baseDir, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			fmt.Fprintf(w.stderr, "hostwatch: skipping %q: %v\n", path, walkErr)
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(w.baseDir, path)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if w.isIgnored(rel) || w.isIgnored(rel+"/") {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			return fmt.Errorf("hostwatch: add directory %q: %w", path, err)
		}
		return nil
	})
}

func (w *Watcher) maybeAddDir(path string) {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return
	}
	rel, err := filepath.Rel(w.baseDir, path)
	if err != nil {
		return
	}
	rel = filepath.ToSlash(rel)
	if w.isIgnored(rel) {
		return
	}
	if err := w.fsw.Add(path); err != nil {
		fmt.Fprintf(w.stderr, "hostwatch: add new directory %q: %v\n", path, err)
	}
}

func (w *Watcher) isIgnored(rel string) bool {
	for _, pat := range w.ignores {
		if matched, err := doublestar.Match(pat, rel); err == nil && matched {
			return true
		}
	}
	return false
}

func (w *Watcher) matches(rel string) bool {
	if len(w.cfg.Patterns) == 0 {
		return true
	}
	for _, pat := range w.cfg.Patterns {
		if matched, err := doublestar.Match(pat, rel); err == nil && matched {
			return true
		}
	}
	return false
}
