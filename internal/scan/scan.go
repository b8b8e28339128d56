// Package scan enumerates the image files of a folder.
package scan

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/photosift/photosift/internal/common"
)

var extensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".bmp":  true,
}

// IsImage reports whether path has one of the supported image extensions,
// ignoring case.
func IsImage(path string) bool {
	return extensions[strings.ToLower(filepath.Ext(path))]
}

// Scan returns the image files directly inside folder, deduplicated and
// sorted lexically. Subdirectories are not descended into. A folder with no
// images yields an empty slice and no error.
func Scan(folder string) ([]string, error) {
	info, err := os.Stat(folder)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, common.Validationf("folder does not exist: %s", folder)
		}
		return nil, fmt.Errorf("stat %s: %w", folder, err)
	}
	if !info.IsDir() {
		return nil, common.Validationf("not a folder: %s", folder)
	}

	entries, err := os.ReadDir(folder)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", folder, err)
	}

	paths := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !IsImage(e.Name()) {
			continue
		}
		paths = append(paths, filepath.Join(folder, e.Name()))
	}
	slices.Sort(paths)
	return slices.Compact(paths), nil
}
