package bulkload

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ErrUnsupportedBackend is returned for raw-file backends that are recognized
// but not implemented. Callers get an explicit "not supported" result instead
// of a stub that fails on first use.
var ErrUnsupportedBackend = errors.New("raw-file backend not supported")

// Source lists and opens the raw CSV files a bulk load reads from.
type Source interface {
	// ListCSVKeys returns the sorted filenames of CSV files to load.
	ListCSVKeys() ([]string, error)

	// Open returns the content for one key. Callers close the reader.
	Open(key string) (io.ReadCloser, error)
}

// NewSource selects the Source for the configured backend.
// "local" is the only implemented backend; "s3" and "gcs" report
// ErrUnsupportedBackend, anything else is a configuration error.
func NewSource(backend, dir string) (Source, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", "local":
		return newLocalSource(dir)
	case "s3", "gcs":
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedBackend, backend)
	default:
		return nil, fmt.Errorf("unknown raw-file backend %q (use local, s3, or gcs)", backend)
	}
}

// localSource reads from a local directory.
type localSource struct {
	root string
}

func newLocalSource(root string) (*localSource, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("raw-file root not accessible: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("raw-file root %q is not a directory", root)
	}
	return &localSource{root: root}, nil
}

func (s *localSource) ListCSVKeys() ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(s.root, "*.csv"))
	if err != nil {
		return nil, fmt.Errorf("failed to list csv files: %w", err)
	}

	keys := make([]string, 0, len(matches))
	for _, m := range matches {
		keys = append(keys, filepath.Base(m))
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *localSource) Open(key string) (io.ReadCloser, error) {
	f, err := os.Open(filepath.Join(s.root, key))
	if err != nil {
		return nil, fmt.Errorf("failed to open key %q: %w", key, err)
	}
	return f, nil
}
