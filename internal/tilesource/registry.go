package tilesource

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

var globalRegistry = newRegistry()

type registry struct {
	mu      sync.RWMutex
	sources map[string]Metadata
}

func newRegistry() *registry {
	return &registry{sources: make(map[string]Metadata)}
}

// Register 将适配器元数据加入全局注册表，重复键会返回错误。
func Register(meta Metadata) error {
	return globalRegistry.register(meta)
}

// MustRegister 在注册失败时 panic，适合适配器 init() 中调用。
func MustRegister(meta Metadata) {
	if err := Register(meta); err != nil {
		panic(err)
	}
}

// Resolve 返回指定类型的元数据。
func Resolve(key string) (Metadata, bool) {
	return globalRegistry.resolve(key)
}

// List 返回按键排序的元数据列表。
func List() []Metadata {
	return globalRegistry.list()
}

// Keys 返回所有已注册类型，供配置校验提示使用。
func Keys() []string {
	items := List()
	result := make([]string, len(items))
	for i, meta := range items {
		result[i] = meta.Key
	}
	return result
}

// New 按类型构造适配器，扩展名为空时使用类型默认值。
func New(key string, cfg Config) (Source, Metadata, error) {
	meta, ok := Resolve(key)
	if !ok {
		return nil, Metadata{}, fmt.Errorf("unknown tile source type: %s", key)
	}
	if cfg.Extension == "" {
		cfg.Extension = meta.DefaultExtension
	}
	src, err := meta.New(cfg)
	if err != nil {
		return nil, meta, fmt.Errorf("build %s source: %w", meta.Key, err)
	}
	return src, meta, nil
}

func (r *registry) normalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

func (r *registry) register(meta Metadata) error {
	key := r.normalizeKey(meta.Key)
	if key == "" {
		return fmt.Errorf("tile source key is required")
	}
	if meta.New == nil {
		return fmt.Errorf("tile source %s has no constructor", key)
	}
	meta.Key = key

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sources[key]; exists {
		return fmt.Errorf("tile source %s already registered", key)
	}
	r.sources[key] = meta
	return nil
}

func (r *registry) resolve(key string) (Metadata, bool) {
	normalized := r.normalizeKey(key)
	if normalized == "" {
		return Metadata{}, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	meta, ok := r.sources[normalized]
	return meta, ok
}

func (r *registry) list() []Metadata {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.sources) == 0 {
		return nil
	}

	keys := make([]string, 0, len(r.sources))
	for key := range r.sources {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	result := make([]Metadata, 0, len(keys))
	for _, key := range keys {
		result = append(result, r.sources[key])
	}
	return result
}
