// Package catalog lists media assets in a folder, filtered by kind.
package catalog

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"comfybatch/internal/services"
)

// Kind classifies an asset by file suffix.
type Kind int

const (
	Unknown Kind = iota
	Image
	Video
)

func (k Kind) String() string {
	switch k {
	case Image:
		return "image"
	case Video:
		return "video"
	default:
		return "unknown"
	}
}

var suffixes = map[string]Kind{
	".png":  Image,
	".jpg":  Image,
	".jpeg": Image,
	".webp": Image,
	".mp4":  Video,
	".mov":  Video,
	".avi":  Video,
	".mkv":  Video,
}

// Classify reports the asset kind of path. Matching is case-insensitive.
func Classify(path string) Kind {
	return suffixes[strings.ToLower(filepath.Ext(path))]
}

// List returns the sorted paths of folder entries matching kind. Directories
// are skipped. A missing folder wraps services.ErrNotFound; a folder without
// matches yields an empty slice.
func List(folder string, kind Kind) ([]string, error) {
	entries, err := os.ReadDir(folder)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, services.Wrap(services.ErrNotFound, "catalog", "list", fmt.Sprintf("folder %s does not exist", folder), err)
		}
		return nil, services.Wrap(services.ErrNotFound, "catalog", "list", fmt.Sprintf("read folder %s", folder), err)
	}

	paths := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if Classify(entry.Name()) != kind {
			continue
		}
		paths = append(paths, filepath.Join(folder, entry.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}
