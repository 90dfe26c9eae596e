package hostwatch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestOnChangeFiresForMatchedPath(t *testing.T) {
	dir := t.TempDir()

	var mu sync.Mutex
	var seen []string
	fired := make(chan struct{}, 8)

	w, err := New(Config{
		BaseDir:  dir,
		Patterns: []string{"**/*.js"},
		ToURL: func(rel string) (string, bool) {
			return "hot:module?url=" + rel, true
		},
		OnChange: func(url string) {
			mu.Lock()
			seen = append(seen, url)
			mu.Unlock()
			fired <- struct{}{}
		},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.js"), []byte("x"), 0o644))

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("OnChange never fired for a matched path")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 1)
	require.Equal(t, "hot:module?url=main.js", seen[0])
}

func TestIgnoredPathNeverFiresOnChange(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".git"), 0o755))

	fired := make(chan struct{}, 8)
	w, err := New(Config{
		BaseDir: dir,
		ToURL:   func(rel string) (string, bool) { return rel, true },
		OnChange: func(string) {
			fired <- struct{}{}
		},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	require.NoError(t, os.WriteFile(filepath.Join(dir, ".git", "index"), []byte("x"), 0o644))

	select {
	case <-fired:
		t.Fatal("OnChange fired for a path under a default-ignored directory")
	case <-time.After(200 * time.Millisecond):
	}
}
