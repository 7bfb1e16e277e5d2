// Package datasets routes reads to per-dataset SQLite files.
//
// A dataset is a point-in-time snapshot of market data under a single
// directory, one .db file per dataset, sharing the market schema. The router
// validates dataset names, resolves them to files under the base directory,
// and caches read-only handles so repeated queries against the same dataset
// reuse one connection pool.
//
// Names are deliberately restrictive: letters, digits, underscore, hyphen.
// Everything else is rejected before any filesystem access, and resolved
// paths are verified to stay inside the base directory so a planted symlink
// cannot leak files from elsewhere on disk.
package datasets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/quantlab-io/quantlab/internal/storage"
)

const datasetSuffix = ".db"

var (
	// ErrInvalidName is returned for dataset names outside [A-Za-z0-9_-]+.
	ErrInvalidName = errors.New("invalid dataset name")

	// ErrNotFound is returned when no dataset file exists under the name.
	ErrNotFound = errors.New("dataset not found")

	// ErrExists is returned by Build when the name is taken and the spec
	// does not permit overwriting.
	ErrExists = errors.New("dataset already exists")

	// ErrPathTraversal is returned when a resolved dataset path escapes the
	// base directory.
	ErrPathTraversal = errors.New("path traversal")
)

// nameRegex is the full allowed alphabet for dataset names. Path separators
// and dots are excluded, so a validated name cannot traverse directories.
var nameRegex = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

type (
	// Dataset describes one dataset file found under the base directory.
	// The fields after ModifiedAt come from the file's self-description and
	// are empty for files that predate it.
	Dataset struct {
		Name       string `json:"name"`
		SizeBytes  int64  `json:"sizeBytes"`
		ModifiedAt string `json:"modifiedAt"`
		From       string `json:"from,omitempty"`
		To         string `json:"to,omitempty"`
		Stocks     int    `json:"stocks,omitempty"`
		QuoteRows  int    `json:"quoteRows,omitempty"`
		BuiltAt    string `json:"builtAt,omitempty"`
	}

	// Router resolves dataset names to files and hands out cached read-only
	// stores. Thread-safe.
	Router struct {
		basePath string
		logger   *slog.Logger

		mu      sync.Mutex
		handles map[string]*handle
	}

	// handle pairs an open read-only connection with the store bound to it.
	handle struct {
		conn  *storage.Connection
		store *storage.MarketStore
	}
)

// NewRouter creates a router over the dataset base directory. The directory
// does not have to exist yet; a missing directory just means no datasets.
func NewRouter(basePath string, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}

	return &Router{
		basePath: basePath,
		logger:   logger,
		handles:  make(map[string]*handle),
	}
}

// Normalize validates a dataset name and returns its canonical short form.
// A trailing .db suffix is accepted and stripped, so "prices" and
// "prices.db" address the same dataset.
func Normalize(name string) (string, error) {
	trimmed := strings.TrimSpace(name)
	trimmed = strings.TrimSuffix(trimmed, datasetSuffix)

	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidName)
	}

	if !nameRegex.MatchString(trimmed) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	return trimmed, nil
}

// PathFor returns the file path a dataset name maps to, without requiring
// the file to exist. Dataset builders use it to decide where to write.
func (r *Router) PathFor(name string) (string, error) {
	normalized, err := Normalize(name)
	if err != nil {
		return "", err
	}

	return filepath.Join(r.basePath, normalized+datasetSuffix), nil
}

// Resolve maps a dataset name to an existing file under the base directory.
// Returns ErrInvalidName for malformed names, ErrNotFound when no file
// exists, and ErrPathTraversal when the resolved file escapes the base.
func (r *Router) Resolve(name string) (string, error) {
	path, err := r.PathFor(name)
	if err != nil {
		return "", err
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, name)
		}

		return "", fmt.Errorf("failed to stat dataset %s: %w", name, err)
	}

	// The name alphabet already forbids separators; the symlink check is
	// what stops a planted link inside the base from pointing elsewhere.
	resolvedBase, err := filepath.EvalSymlinks(r.basePath)
	if err != nil {
		return "", fmt.Errorf("failed to resolve dataset base: %w", err)
	}

	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve dataset path: %w", err)
	}

	if resolved != resolvedBase && !strings.HasPrefix(resolved, resolvedBase+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrPathTraversal, name)
	}

	return path, nil
}

// Store returns a read-only market store over the named dataset, opening and
// caching the connection on first use.
func (r *Router) Store(name string) (*storage.MarketStore, error) {
	normalized, err := Normalize(name)
	if err != nil {
		return nil, err
	}

	path, err := r.Resolve(normalized)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if h, ok := r.handles[normalized]; ok {
		return h.store, nil
	}

	conn, err := storage.OpenReadOnly(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open dataset %s: %w", normalized, err)
	}

	h := &handle{
		conn:  conn,
		store: storage.NewMarketStore(conn, r.logger),
	}
	r.handles[normalized] = h

	r.logger.Debug("Opened dataset handle", slog.String("dataset", normalized))

	return h.store, nil
}

// Evict closes and drops the cached handle for a dataset. Builders call it
// after rewriting a dataset file so readers pick up the new contents.
func (r *Router) Evict(name string) error {
	normalized, err := Normalize(name)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.handles[normalized]
	if !ok {
		return nil
	}

	delete(r.handles, normalized)

	if err := h.conn.Close(); err != nil {
		return fmt.Errorf("failed to close dataset %s: %w", normalized, err)
	}

	return nil
}

// CloseAll closes every cached handle. The router stays usable; subsequent
// Store calls reopen.
func (r *Router) CloseAll() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error

	for name, h := range r.handles {
		if err := h.conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("dataset %s: %w", name, err))
		}
	}

	r.handles = make(map[string]*handle)

	return errors.Join(errs...)
}

// Close implements io.Closer for shutdown sweeps.
func (r *Router) Close() error {
	return r.CloseAll()
}

// List enumerates dataset files under the base directory, sorted by name. A
// missing base directory yields an empty list.
func (r *Router) List(ctx context.Context) ([]Dataset, error) {
	entries, err := os.ReadDir(r.basePath)
	if err != nil {
		if os.IsNotExist(err) {
			return []Dataset{}, nil
		}

		return nil, fmt.Errorf("failed to read dataset directory: %w", err)
	}

	out := make([]Dataset, 0, len(entries))

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), datasetSuffix) {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			r.logger.Warn("Skipping unreadable dataset file",
				slog.String("file", entry.Name()),
				slog.String("error", err.Error()))

			continue
		}

		ds := Dataset{
			Name:       strings.TrimSuffix(entry.Name(), datasetSuffix),
			SizeBytes:  info.Size(),
			ModifiedAt: info.ModTime().UTC().Format(time.RFC3339),
		}

		r.annotate(ctx, &ds)

		out = append(out, ds)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })

	return out, nil
}

// annotate fills a listing entry from the dataset's self-description. Files
// without one, or files that cannot be opened, keep the bare file facts.
func (r *Router) annotate(ctx context.Context, ds *Dataset) {
	store, err := r.Store(ds.Name)
	if err != nil {
		r.logger.Warn("Listing dataset without meta",
			slog.String("dataset", ds.Name),
			slog.String("error", err.Error()))

		return
	}

	meta, err := store.DatasetMeta(ctx)
	if err != nil {
		r.logger.Warn("Failed to read dataset meta",
			slog.String("dataset", ds.Name),
			slog.String("error", err.Error()))

		return
	}

	if meta == nil {
		return
	}

	ds.From = meta.From
	ds.To = meta.To
	ds.Stocks = meta.Stocks
	ds.QuoteRows = meta.QuoteRows
	ds.BuiltAt = meta.BuiltAt
}
