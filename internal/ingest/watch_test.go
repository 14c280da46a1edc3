package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startWatcher(t *testing.T, root string, opts ...WatchOption) <-chan []string {
	t.Helper()
	batches := make(chan []string, 8)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	w := NewWatcher(root, func(_ context.Context, paths []string) error {
		batches <- paths
		return nil
	}, append([]WatchOption{WithDebounce(50 * time.Millisecond)}, opts...)...)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})
	// Run adds watches before blocking; give it a moment.
	time.Sleep(100 * time.Millisecond)
	return batches
}

func awaitBatch(t *testing.T, batches <-chan []string) []string {
	t.Helper()
	select {
	case b := <-batches:
		return b
	case <-time.After(5 * time.Second):
		t.Fatal("no change batch delivered")
		return nil
	}
}

func TestWatcher_DebouncesSourceChanges(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{"pkg/a.go": "package pkg\n"})
	batches := startWatcher(t, root)

	require.NoError(t, os.WriteFile(filepath.Join(root, "pkg", "a.go"), []byte("package pkg\n\nfunc A() {}\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "pkg", "b.go"), []byte("package pkg\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.txt"), []byte("ignored"), 0o644))

	assert.Equal(t, []string{"pkg/a.go", "pkg/b.go"}, awaitBatch(t, batches))
}

func TestWatcher_FollowsNewDirectories(t *testing.T) {
	root := t.TempDir()
	batches := startWatcher(t, root)

	dir := filepath.Join(root, "lib")
	require.NoError(t, os.Mkdir(dir, 0o755))
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "util.py"), []byte("def f():\n    pass\n"), 0o644))

	assert.Equal(t, []string{"lib/util.py"}, awaitBatch(t, batches))
}

func TestWatcher_IgnoredDirectories(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		"vendor/x.go": "package x\n",
		"src/main.rs": "fn main() {}\n",
	})
	batches := startWatcher(t, root, WithIgnoreDirs("vendor"))

	require.NoError(t, os.WriteFile(filepath.Join(root, "vendor", "x.go"), []byte("package x\n\nfunc X() {}\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "src", "main.rs"), []byte("fn main() { }\n"), 0o644))

	assert.Equal(t, []string{"src/main.rs"}, awaitBatch(t, batches))
}

func TestWatcher_Relevant(t *testing.T) {
	w := NewWatcher("/repo", nil, WithIgnoreDirs("node_modules"))
	tests := []struct {
		path string
		want string
		ok   bool
	}{
		{"/repo/src/a.ts", "src/a.ts", true},
		{"/repo/node_modules/x/index.ts", "", false},
		{"/repo/.git/HEAD", "", false},
		{"/repo/.cache/a.go", "", false},
		{"/repo/README.md", "", false},
		{"/elsewhere/a.go", "", false},
	}
	for _, tt := range tests {
		got, ok := w.relevant(tt.path)
		assert.Equal(t, tt.ok, ok, tt.path)
		assert.Equal(t, tt.want, got, tt.path)
	}
}
