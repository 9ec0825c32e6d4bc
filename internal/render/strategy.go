package render

import (
	"fmt"
	"strings"
	"sync"

	"github.com/any-hub/any-globe/internal/loader"
	"github.com/any-hub/any-globe/internal/quadtree"
)

const (
	StrategyAuto   = "auto"
	StrategyModern = "modern"
	StrategyLegacy = "legacy"
)

// Capabilities 描述渲染端在启动时探测到的能力。
type Capabilities struct {
	Multitexture   bool
	MaxTextureSize int
}

// Texture 是一次上传后驻留的资源描述。
type Texture struct {
	ID     uint32
	Bytes  int
	Masked bool
}

// Strategy 在消费方 goroutine 上上传与释放节点负载。Release 会在持有树锁时被调用，
// 实现不能调用 Node 的加锁方法。
type Strategy interface {
	Name() string
	Upload(node *quadtree.Node, payload any) (Texture, error)
	Release(node *quadtree.Node)
	Resident() int
	ResidentBytes() int
}

// Probe 根据能力与配置选择上传策略，force 为空或 auto 时自动选择。
func Probe(caps Capabilities, force string, res *Resources) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(force)) {
	case "", StrategyAuto:
		if caps.Multitexture {
			return newStrategy(StrategyModern, res), nil
		}
		return newStrategy(StrategyLegacy, res), nil
	case StrategyModern:
		if !caps.Multitexture {
			return nil, fmt.Errorf("modern strategy requires multitexture support")
		}
		return newStrategy(StrategyModern, res), nil
	case StrategyLegacy:
		return newStrategy(StrategyLegacy, res), nil
	default:
		return nil, fmt.Errorf("unknown draw strategy: %s", force)
	}
}

// memoryStrategy 以内存 map 记录驻留纹理；modern 与 legacy 的区别在于遮罩是否合成进纹理。
type memoryStrategy struct {
	name      string
	composite bool
	res       *Resources

	mu       sync.Mutex
	nextID   uint32
	resident map[*quadtree.Node]Texture
	bytes    int
}

func newStrategy(name string, res *Resources) *memoryStrategy {
	if res == nil {
		res = NewResources()
	}
	return &memoryStrategy{
		name:      name,
		composite: name == StrategyLegacy,
		res:       res,
		resident:  make(map[*quadtree.Node]Texture),
	}
}

func (s *memoryStrategy) Name() string {
	return s.name
}

// Upload 替换节点已有的纹理。
func (s *memoryStrategy) Upload(node *quadtree.Node, payload any) (Texture, error) {
	size, err := payloadSize(payload)
	if err != nil {
		return Texture{}, err
	}
	mask := s.res.Mask()
	if mask == nil {
		return Texture{}, fmt.Errorf("render resources already released")
	}
	if s.composite {
		size += len(mask)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.resident[node]; ok {
		s.bytes -= old.Bytes
	}
	s.nextID++
	tex := Texture{ID: s.nextID, Bytes: size, Masked: s.composite}
	s.resident[node] = tex
	s.bytes += size
	return tex, nil
}

func (s *memoryStrategy) Release(node *quadtree.Node) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.resident[node]; ok {
		s.bytes -= old.Bytes
		delete(s.resident, node)
	}
}

func (s *memoryStrategy) Resident() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.resident)
}

func (s *memoryStrategy) ResidentBytes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bytes
}

func payloadSize(payload any) (int, error) {
	switch p := payload.(type) {
	case *loader.Image:
		return len(p.Data), nil
	case *loader.Elevation:
		return len(p.Samples) * 2, nil
	default:
		return 0, fmt.Errorf("unsupported payload %T", payload)
	}
}
