package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

type memoryObject struct {
	data         []byte
	lastModified time.Time
}

// MemoryGateway is an in-process gateway used by tests and the memory://
// DSN. Reads are always authoritative, so ReadFresh equals Read.
type MemoryGateway struct {
	mu      sync.Mutex
	objects map[string]memoryObject
	now     func() time.Time
}

func NewMemoryGateway() *MemoryGateway {
	return &MemoryGateway{
		objects: map[string]memoryObject{},
		now:     time.Now,
	}
}

func (g *MemoryGateway) Read(ctx context.Context, path string) ([]byte, error) {
	return g.ReadFresh(ctx, path)
}

func (g *MemoryGateway) ReadFresh(_ context.Context, path string) ([]byte, error) {
	path, err := CleanPath(path)
	if err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	obj, ok := g.objects[path]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	return append([]byte(nil), obj.data...), nil
}

func (g *MemoryGateway) CreateIfAbsent(_ context.Context, path string, data []byte) error {
	path, err := CleanPath(path)
	if err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.objects[path]; ok {
		return fmt.Errorf("%w: %s", ErrExists, path)
	}
	g.objects[path] = memoryObject{data: append([]byte(nil), data...), lastModified: g.now()}
	return nil
}

func (g *MemoryGateway) Replace(_ context.Context, path string, data []byte) error {
	path, err := CleanPath(path)
	if err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.objects[path]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	g.objects[path] = memoryObject{data: append([]byte(nil), data...), lastModified: g.now()}
	return nil
}

func (g *MemoryGateway) Delete(_ context.Context, path string) error {
	path, err := CleanPath(path)
	if err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.objects[path]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	delete(g.objects, path)
	return nil
}

func (g *MemoryGateway) List(_ context.Context, prefix string, opts ListOptions) ([]Entry, error) {
	prefix = strings.TrimPrefix(strings.TrimSpace(prefix), "/")
	g.mu.Lock()
	entries := make([]Entry, 0, len(g.objects))
	for path, obj := range g.objects {
		if !strings.HasPrefix(path, prefix) {
			continue
		}
		entries = append(entries, Entry{Name: path, LastModified: obj.lastModified})
	}
	g.mu.Unlock()
	sortEntries(entries, opts)
	return capEntries(entries, opts), nil
}

func (g *MemoryGateway) SignedReadURL(context.Context, string, time.Duration) (string, error) {
	return "", ErrNotSupported
}

func (g *MemoryGateway) Close() error {
	return nil
}

func sortEntries(entries []Entry, opts ListOptions) {
	if opts.NewestFirst {
		sort.Slice(entries, func(i, j int) bool {
			if !entries[i].LastModified.Equal(entries[j].LastModified) {
				return entries[i].LastModified.After(entries[j].LastModified)
			}
			return entries[i].Name < entries[j].Name
		})
		return
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
}

func capEntries(entries []Entry, opts ListOptions) []Entry {
	if opts.Limit > 0 && len(entries) > opts.Limit {
		return entries[:opts.Limit]
	}
	return entries
}
