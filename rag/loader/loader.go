package loader

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Document 切分前的源文档。ID 由 Loader 给出文件内的局部标识，Ingest 再加上相对路径前缀。
type Document struct {
	ID        string
	DatasetID string
	Title     string
	Text      string
}

// Loader 读取一种格式的文件
type Loader interface {
	Load(ctx context.Context, path string) ([]Document, error)

	// Extensions 返回处理的扩展名（小写，含点号）
	Extensions() []string
}

// Registry 按扩展名分派 Loader
type Registry struct {
	mu      sync.RWMutex
	loaders map[string]Loader
}

// NewRegistry creates a registry with the built-in loaders.
func NewRegistry() *Registry {
	r := &Registry{loaders: make(map[string]Loader)}
	for _, l := range []Loader{NewTextLoader(), NewMarkdownLoader(), NewCSVLoader(CSVConfig{}), NewJSONLoader(JSONConfig{}), NewHTMLLoader()} {
		for _, ext := range l.Extensions() {
			r.loaders[ext] = l
		}
	}
	return r
}

// Register adds or replaces the loader for ext.
func (r *Registry) Register(ext string, l Loader) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loaders[strings.ToLower(ext)] = l
}

// Supports reports whether path has a registered extension.
func (r *Registry) Supports(path string) bool {
	_, ok := r.lookup(path)
	return ok
}

func (r *Registry) lookup(path string) (Loader, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.loaders[strings.ToLower(filepath.Ext(path))]
	return l, ok
}

// Load routes path to the loader for its extension.
func (r *Registry) Load(ctx context.Context, path string) ([]Document, error) {
	if filepath.Ext(path) == "" {
		return nil, fmt.Errorf("loader: %q has no extension", path)
	}
	l, ok := r.lookup(path)
	if !ok {
		return nil, fmt.Errorf("loader: no loader registered for %q", filepath.Ext(path))
	}
	return l.Load(ctx, path)
}

// Extensions returns every registered extension, sorted.
func (r *Registry) Extensions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.loaders))
	for ext := range r.loaders {
		out = append(out, ext)
	}
	sort.Strings(out)
	return out
}
