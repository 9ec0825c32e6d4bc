package quadtree

import (
	"github.com/any-hub/any-globe/internal/geo"
)

// RefineOptions 控制一次视点驱动的细化遍历。
type RefineOptions struct {
	// MaxResolution 是需要细化到的最高分辨率（米/像素）。
	MaxResolution float64
	// Width/Height 是单个瓦片图像的像素尺寸。
	Width  int
	Height int
	// MaxDepth 限制细化深度，达到该深度的节点视为足够精确。0 表示 DefaultMaxDepth。
	MaxDepth int
	// Load 在节点首次需要数据时触发，必须立即返回。
	Load LoadTrigger
}

// DefaultMaxDepth 与常见 slippy 瓦片服务的最大 zoom 对齐。
const DefaultMaxDepth = 24

// MinDistance 返回视点到范围内最近点（海拔 0）的直线距离。
func MinDistance(eye geo.Point, b geo.Bounds) float64 {
	lat, lon := b.Clamp(eye.Lat, eye.Lon)
	return geo.Distance(
		geo.LLEToXYZ(eye.Lat, eye.Lon, eye.Elev),
		geo.LLEToXYZ(lat, lon, 0),
	)
}

// ViewResolution 估算距离 minDist 处屏幕的米/像素，并按视线掠射角修正。
func ViewResolution(eye geo.Point, minDist float64) float64 {
	if minDist <= 0 {
		return 0
	}
	viewRes := geo.MPPX(minDist)
	scale := eye.Elev / minDist
	viewRes /= scale
	return viewRes * 1.8
}

// TileResolution 返回范围内图像的米/像素，取最靠近赤道的纬度作为参考。
func TileResolution(b geo.Bounds, width int) float64 {
	latPoint := 0.0
	switch {
	case b.N < 0:
		latPoint = b.N
	case b.S > 0:
		latPoint = b.S
	}
	return geo.LonToMeters(b.Width(), latPoint) / float64(width)
}

// Precise 判断节点当前的数据精度是否已满足视图需要，满足时无需继续细化。
// width/height 为子节点尺度下的像素数（即瓦片尺寸除以网格维度）。
func Precise(eye geo.Point, b geo.Bounds, maxRes float64, width, height int) bool {
	if width <= 0 {
		return true
	}
	minDist := MinDistance(eye, b)
	viewRes := ViewResolution(eye, minDist)
	tileRes := TileResolution(b, width)
	return tileRes < maxRes || tileRes < viewRes
}

// Update 从根节点深度优先遍历：足够精确的非根节点被隐藏并停止下降；
// 其余节点标记可见、刷新访问时间、按需触发一次加载、拆分并递归。
func (t *Tree) Update(eye geo.Point, opts RefineOptions) {
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = DefaultMaxDepth
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.updateLocked(t.root, eye, &opts)
}

func (t *Tree) updateLocked(n *Node, eye geo.Point, opts *RefineOptions) {
	// 视点贴地且 MaxResolution 为 0 时包含视点的节点永远不精确，靠深度上限终止。
	precise := n.depth >= opts.MaxDepth ||
		Precise(eye, n.bounds, opts.MaxResolution, opts.Width/cols, opts.Height/rows)
	if n.parent != nil && precise {
		hideLocked(n)
		return
	}

	n.hidden = false
	n.atime = t.now()
	requestLocked(n, opts.Load)

	if precise {
		// 只有根节点会走到这里：根节点本身已足够精确，旧子节点交给回收器处理。
		for _, child := range n.childList() {
			hideLocked(child)
		}
		return
	}

	if n.children == nil {
		t.splitLocked(n)
	}
	for _, child := range n.childList() {
		t.updateLocked(child, eye, opts)
	}
}

func hideLocked(n *Node) {
	n.hidden = true
	for _, child := range n.childList() {
		hideLocked(child)
	}
}

// Request 在 Refiner 之外为单个 empty 节点触发加载，返回是否真正触发。
func (t *Tree) Request(n *Node, load LoadTrigger) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n.removed {
		return false
	}
	return requestLocked(n, load)
}

func requestLocked(n *Node, load LoadTrigger) bool {
	if n.state != StateEmpty || load == nil {
		return false
	}
	n.state = StateLoading
	load.Trigger(n)
	return true
}
