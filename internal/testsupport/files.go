package testsupport

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"comfybatch/internal/config"
)

// WriteFile fills the target path with size bytes of a repeating pattern. A
// size <= 0 writes a single byte.
func WriteFile(t testing.TB, path string, size int64) {
	t.Helper()

	if size <= 0 {
		size = 1
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	buf := make([]byte, size)
	for i := range buf {
		buf[i] = 0x42
	}
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// WriteAssets creates dir and an asset file for each name. It returns the
// created paths in argument order.
func WriteAssets(t testing.TB, dir string, names ...string) []string {
	t.Helper()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", dir, err)
	}
	paths := make([]string, 0, len(names))
	for _, name := range names {
		path := filepath.Join(dir, name)
		WriteFile(t, path, 16)
		paths = append(paths, path)
	}
	return paths
}

// SeedAnimateAssets populates the animate workflow's catalogs: the given
// number of videos and backgrounds, and per-influencer portrait counts.
func SeedAnimateAssets(t testing.TB, cfg *config.Config, videos, backgrounds int, portraits map[string]int) {
	t.Helper()

	wf, ok := cfg.Workflow("animate")
	if !ok {
		t.Fatal("animate workflow not configured")
	}
	WriteAssets(t, wf.SrcVideoDir, numbered("clip", ".mp4", videos)...)
	WriteAssets(t, wf.BackgroundDir, numbered("bg", ".png", backgrounds)...)
	for name, count := range portraits {
		WriteAssets(t, filepath.Join(cfg.Paths.InputBaseDir, name), numbered(name, ".png", count)...)
	}
}

func numbered(prefix, ext string, n int) []string {
	names := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		names = append(names, prefix+"_"+itoa(i)+ext)
	}
	return names
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
