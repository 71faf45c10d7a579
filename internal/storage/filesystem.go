package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// FilesystemGateway stores objects as files under a root directory. Read is
// served from a small in-process cache that an fsnotify watcher invalidates
// when the underlying file changes; ReadFresh always goes to disk.
type FilesystemGateway struct {
	root    string
	logger  Logger
	watcher *fsnotify.Watcher

	mu      sync.Mutex
	cache   map[string][]byte
	watched map[string]struct{}
	closed  bool
}

// Logger matches the minimal printf surface long-lived components log through.
type Logger interface {
	Printf(format string, args ...any)
}

func NewFilesystemGateway(root string, logger Logger) (*FilesystemGateway, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, fmt.Errorf("root directory is required")
	}
	root = filepath.Clean(root)
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	g := &FilesystemGateway{
		root:    root,
		logger:  logger,
		cache:   map[string][]byte{},
		watched: map[string]struct{}{},
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	g.watcher = watcher
	go g.watchLoop()
	return g, nil
}

func (g *FilesystemGateway) watchLoop() {
	for {
		select {
		case event, ok := <-g.watcher.Events:
			if !ok {
				return
			}
			g.invalidate(event.Name)
		case err, ok := <-g.watcher.Errors:
			if !ok {
				return
			}
			g.logf("filesystem watch error: %v", err)
		}
	}
}

func (g *FilesystemGateway) invalidate(localPath string) {
	rel, err := filepath.Rel(g.root, localPath)
	if err != nil {
		return
	}
	key := filepath.ToSlash(rel)
	g.mu.Lock()
	delete(g.cache, key)
	g.mu.Unlock()
}

func (g *FilesystemGateway) Read(_ context.Context, path string) ([]byte, error) {
	path, err := CleanPath(path)
	if err != nil {
		return nil, err
	}
	g.mu.Lock()
	if data, ok := g.cache[path]; ok {
		out := append([]byte(nil), data...)
		g.mu.Unlock()
		return out, nil
	}
	g.mu.Unlock()

	data, err := g.readDisk(path)
	if err != nil {
		return nil, err
	}
	g.fillCache(path, data)
	return data, nil
}

func (g *FilesystemGateway) ReadFresh(_ context.Context, path string) ([]byte, error) {
	path, err := CleanPath(path)
	if err != nil {
		return nil, err
	}
	return g.readDisk(path)
}

func (g *FilesystemGateway) readDisk(path string) ([]byte, error) {
	data, err := os.ReadFile(g.localPath(path))
	if err != nil {
		return nil, classifyFileError(err, path)
	}
	return data, nil
}

func (g *FilesystemGateway) fillCache(path string, data []byte) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return
	}
	g.cache[path] = append([]byte(nil), data...)
	dir := filepath.Dir(g.localPath(path))
	if _, ok := g.watched[dir]; ok {
		return
	}
	if err := g.watcher.Add(dir); err != nil {
		// Without a watch the cache entry could go stale, so drop it.
		delete(g.cache, path)
		g.logf("watch %s: %v", dir, err)
		return
	}
	g.watched[dir] = struct{}{}
}

func (g *FilesystemGateway) CreateIfAbsent(_ context.Context, path string, data []byte) error {
	path, err := CleanPath(path)
	if err != nil {
		return err
	}
	localPath := g.localPath(path)
	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return err
	}
	file, err := os.OpenFile(localPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("%w: %s", ErrExists, path)
		}
		return classifyFileError(err, path)
	}
	if _, err := file.Write(data); err != nil {
		_ = file.Close()
		_ = os.Remove(localPath)
		return err
	}
	if err := file.Close(); err != nil {
		return err
	}
	g.dropCache(path)
	return nil
}

func (g *FilesystemGateway) Replace(_ context.Context, path string, data []byte) error {
	path, err := CleanPath(path)
	if err != nil {
		return err
	}
	localPath := g.localPath(path)
	info, err := os.Stat(localPath)
	if err != nil {
		return classifyFileError(err, path)
	}
	if info.IsDir() {
		return fmt.Errorf("%w: %s is a directory", ErrInvalidPath, path)
	}
	if err := writeFileAtomic(localPath, data, 0o644); err != nil {
		return err
	}
	g.dropCache(path)
	return nil
}

func (g *FilesystemGateway) Delete(_ context.Context, path string) error {
	path, err := CleanPath(path)
	if err != nil {
		return err
	}
	if err := os.Remove(g.localPath(path)); err != nil {
		return classifyFileError(err, path)
	}
	g.dropCache(path)
	return nil
}

func (g *FilesystemGateway) List(_ context.Context, prefix string, opts ListOptions) ([]Entry, error) {
	prefix = strings.TrimPrefix(strings.TrimSpace(prefix), "/")
	var entries []Entry
	err := filepath.WalkDir(g.root, func(localPath string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if errors.Is(walkErr, os.ErrNotExist) {
				return nil
			}
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(g.root, localPath)
		if err != nil {
			return nil
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		entries = append(entries, Entry{Name: key, LastModified: info.ModTime()})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortEntries(entries, opts)
	return capEntries(entries, opts), nil
}

func (g *FilesystemGateway) SignedReadURL(_ context.Context, path string, _ time.Duration) (string, error) {
	path, err := CleanPath(path)
	if err != nil {
		return "", err
	}
	abs, err := filepath.Abs(g.localPath(path))
	if err != nil {
		return "", err
	}
	return "file://" + filepath.ToSlash(abs), nil
}

func (g *FilesystemGateway) Close() error {
	g.mu.Lock()
	g.closed = true
	g.cache = map[string][]byte{}
	g.mu.Unlock()
	return g.watcher.Close()
}

func (g *FilesystemGateway) localPath(path string) string {
	return filepath.Join(g.root, filepath.FromSlash(path))
}

func (g *FilesystemGateway) dropCache(path string) {
	g.mu.Lock()
	delete(g.cache, path)
	g.mu.Unlock()
}

func (g *FilesystemGateway) logf(format string, args ...any) {
	if g.logger == nil {
		return
	}
	g.logger.Printf(format, args...)
}

func classifyFileError(err error, path string) error {
	switch {
	case errors.Is(err, os.ErrNotExist):
		return fmt.Errorf("%w: %s", ErrNotFound, path)
	case errors.Is(err, os.ErrPermission):
		return fmt.Errorf("%w: %s", ErrForbidden, path)
	default:
		return err
	}
}

func writeFileAtomic(path string, data []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	tmpFile, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmpFile.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()
	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Chmod(mode); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	committed = true
	return nil
}
