package quadtree

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/any-hub/any-globe/internal/geo"
)

// Projection 决定节点拆分时南北边界的映射方式。
type Projection string

const (
	ProjectionLatLon   Projection = "latlon"
	ProjectionMercator Projection = "mercator"
)

// ParseProjection 解析配置中的投影名称，空值返回 latlon。
func ParseProjection(raw string) (Projection, error) {
	switch Projection(strings.ToLower(strings.TrimSpace(raw))) {
	case "", ProjectionLatLon:
		return ProjectionLatLon, nil
	case ProjectionMercator:
		return ProjectionMercator, nil
	default:
		return "", fmt.Errorf("unknown projection: %s", raw)
	}
}

func (p Projection) project(lat float64) float64 {
	if p == ProjectionMercator {
		return geo.Isometric(lat)
	}
	return lat
}

func (p Projection) unproject(y float64) float64 {
	if p == ProjectionMercator {
		return geo.InverseIsometric(y)
	}
	return y
}

// LoadTrigger 在节点需要数据时被调用，实现方必须立即返回，不得阻塞调用方。
type LoadTrigger interface {
	Trigger(node *Node)
}

// LoadTriggerFunc 将普通函数适配为 LoadTrigger。
type LoadTriggerFunc func(node *Node)

// Trigger makes LoadTriggerFunc satisfy LoadTrigger.
func (f LoadTriggerFunc) Trigger(node *Node) {
	f(node)
}

// FreeFunc 在节点被回收或整树销毁时释放外部持有的负载资源。
// 调用时树锁处于持有状态，实现方不能再调用 Node 的加锁方法。
type FreeFunc func(node *Node, payload any)

// Tree 持有根节点以及保护整棵树的唯一一把锁：结构变更（split/collect）
// 与负载状态迁移（empty→loading→ready）都经由它串行化。
type Tree struct {
	mu   sync.Mutex
	root *Node
	proj Projection
	now  func() time.Time
}

// New 以给定范围创建一棵只有根节点的树。
func New(bounds geo.Bounds, proj Projection) (*Tree, error) {
	if !bounds.Valid() {
		return nil, fmt.Errorf("invalid root bounds: %+v", bounds)
	}
	if proj == "" {
		proj = ProjectionLatLon
	}
	if proj == ProjectionMercator && (bounds.N > geo.MercatorLimit || bounds.S < -geo.MercatorLimit) {
		return nil, fmt.Errorf("mercator bounds must stay within ±%.4f", geo.MercatorLimit)
	}
	t := &Tree{proj: proj, now: time.Now}
	t.root = newNode(t, nil, 0, 0, t.now())
	t.root.bounds = bounds
	return t, nil
}

// Root 返回根节点。
func (t *Tree) Root() *Node {
	return t.root
}

// Projection 返回树的拆分投影。
func (t *Tree) Projection() Projection {
	return t.proj
}

// SetClock 替换时间源，测试用。
func (t *Tree) SetClock(now func() time.Time) {
	t.mu.Lock()
	t.now = now
	t.mu.Unlock()
}

// Complete 由 worker 调用，完成 loading→ready 迁移。节点不再处于 loading
// （例如已被销毁）时返回 false，调用方需自行释放 payload。
func (t *Tree) Complete(n *Node, payload any) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n.removed || n.state != StateLoading {
		return false
	}
	n.payload = payload
	n.state = StateReady
	return true
}

// Fail 将 loading 节点退回 empty，下一轮更新仍需要它时会重新触发加载。
func (t *Tree) Fail(n *Node) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n.state == StateLoading {
		n.state = StateEmpty
	}
}

// Free 销毁整棵树，对每个 ready 节点调用 free。调用前必须先停止所有 worker。
func (t *Tree) Free(free FreeFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.freeLocked(t.root, free)
	t.root.children = nil
}

func (t *Tree) freeLocked(n *Node, free FreeFunc) {
	for _, child := range n.childList() {
		t.freeLocked(child, free)
		child.children = nil
	}
	release(n, free)
	if n.parent != nil {
		n.removed = true
	}
}

func release(n *Node, free FreeFunc) {
	if n.state == StateReady && free != nil {
		free(n, n.payload)
	}
	n.payload = nil
	if n.state == StateReady {
		n.state = StateEmpty
	}
}

// Stats 汇总树的节点数量，供诊断接口输出。
type Stats struct {
	Nodes    int `json:"nodes"`
	Visible  int `json:"visible"`
	Ready    int `json:"ready"`
	Loading  int `json:"loading"`
	MaxDepth int `json:"max_depth"`
}

// Stats 在树锁下统计节点状态。
func (t *Tree) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	var s Stats
	t.walkLocked(t.root, func(n *Node) {
		s.Nodes++
		if !n.hidden {
			s.Visible++
		}
		switch n.state {
		case StateReady:
			s.Ready++
		case StateLoading:
			s.Loading++
		}
		if n.depth > s.MaxDepth {
			s.MaxDepth = n.depth
		}
	})
	return s
}

// NodeInfo 是 Walk 传出的节点快照。
type NodeInfo struct {
	Node        *Node
	Bounds      geo.Bounds
	Depth       int
	State       State
	Visible     bool
	HasChildren bool
}

// Walk 以深度优先顺序访问所有节点。fn 在树锁内执行，只能读取快照。
func (t *Tree) Walk(fn func(info NodeInfo)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.walkLocked(t.root, func(n *Node) {
		fn(NodeInfo{
			Node:        n,
			Bounds:      n.bounds,
			Depth:       n.depth,
			State:       n.state,
			Visible:     !n.hidden,
			HasChildren: n.children != nil,
		})
	})
}

func (t *Tree) walkLocked(n *Node, fn func(n *Node)) {
	fn(n)
	for _, child := range n.childList() {
		t.walkLocked(child, fn)
	}
}
