package catalog_test

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"comfybatch/internal/catalog"
	"comfybatch/internal/services"
)

func touch(t *testing.T, path string) {
	t.Helper()
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestListFiltersAndSorts(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.PNG", "a.jpg", "clip.mp4", "notes.txt", "c.webp"} {
		touch(t, filepath.Join(dir, name))
	}
	if err := os.Mkdir(filepath.Join(dir, "d.png"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	images, err := catalog.List(dir, catalog.Image)
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	want := []string{filepath.Join(dir, "a.jpg"), filepath.Join(dir, "b.PNG"), filepath.Join(dir, "c.webp")}
	if !reflect.DeepEqual(images, want) {
		t.Fatalf("unexpected images: %v", images)
	}

	videos, err := catalog.List(dir, catalog.Video)
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(videos) != 1 || filepath.Base(videos[0]) != "clip.mp4" {
		t.Fatalf("unexpected videos: %v", videos)
	}
}

func TestListEmptyFolder(t *testing.T) {
	got, err := catalog.List(t.TempDir(), catalog.Video)
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", got)
	}
}

func TestListMissingFolder(t *testing.T) {
	_, err := catalog.List(filepath.Join(t.TempDir(), "missing"), catalog.Image)
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found error, got %v", err)
	}
}

func TestClassify(t *testing.T) {
	tests := map[string]catalog.Kind{
		"a.MOV":     catalog.Video,
		"a.mkv":     catalog.Video,
		"a.avi":     catalog.Video,
		"a.JPEG":    catalog.Image,
		"a.gif":     catalog.Unknown,
		"no-suffix": catalog.Unknown,
	}
	for path, want := range tests {
		if got := catalog.Classify(path); got != want {
			t.Fatalf("Classify(%q) = %v want %v", path, got, want)
		}
	}
}
