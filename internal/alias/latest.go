package alias

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// ErrNoDataset is returned when an updates directory holds no loadable dataset
var ErrNoDataset = errors.New("no loadable alias dataset found")

// IsDatasetFile reports whether a file name looks like an alias dataset
func IsDatasetFile(name string) bool {
	name = strings.ToLower(name)
	return strings.HasSuffix(name, ".json") ||
		strings.HasSuffix(name, ".json.gz") ||
		strings.HasSuffix(name, ".json.zst")
}

type candidate struct {
	path    string
	modTime time.Time
}

// LoadLatest loads the newest dataset file in dir, falling back to older
// files when newer ones fail to load. It returns the dataset and the path
// it came from.
func LoadLatest(dir string, logger *slog.Logger) (*Dataset, string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read updates directory: %w", err)
	}

	var candidates []candidate
	for _, entry := range entries {
		if entry.IsDir() || !IsDatasetFile(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		candidates = append(candidates, candidate{
			path:    filepath.Join(dir, entry.Name()),
			modTime: info.ModTime(),
		})
	}

	// Newest first; name breaks ties so the order is stable
	sort.Slice(candidates, func(i, j int) bool {
		if !candidates[i].modTime.Equal(candidates[j].modTime) {
			return candidates[i].modTime.After(candidates[j].modTime)
		}
		return candidates[i].path > candidates[j].path
	})

	for _, c := range candidates {
		ds, err := LoadDataset(c.path)
		if err != nil {
			logger.Warn("Skipping unloadable alias dataset", "path", c.path, "error", err)
			continue
		}
		return ds, c.path, nil
	}

	return nil, "", fmt.Errorf("%w in %s", ErrNoDataset, dir)
}
