package quadtree

import "github.com/any-hub/any-globe/internal/geo"

// Split 将节点拆分为 2x2 子节点。已有子节点时只刷新子节点边界，反复调用不会漂移。
func (t *Tree) Split(n *Node) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.splitLocked(n)
}

func (t *Tree) splitLocked(n *Node) {
	if n.children == nil {
		n.children = new([rows][cols]*Node)
		now := t.now()
		for r := 0; r < rows; r++ {
			for c := 0; c < cols; c++ {
				n.children[r][c] = newNode(t, n, r, c, now)
			}
		}
	}
	switch t.proj {
	case ProjectionMercator:
		splitMercator(n)
	default:
		splitLatLon(n, n.bounds)
	}
}

// splitLatLon 在 edge 空间内等分；mercator 拆分会传入已投影的南北边界。
func splitLatLon(n *Node, edge geo.Bounds) {
	latStep := (edge.N - edge.S) / rows
	lonStep := edge.Width() / cols
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			child := n.children[r][c]
			child.bounds.N = edge.N - latStep*float64(r)
			child.bounds.S = edge.N - latStep*float64(r+1)
			child.bounds.W = geo.NormalizeLon(edge.W + lonStep*float64(c))
			child.bounds.E = geo.NormalizeLon(edge.W + lonStep*float64(c+1))
		}
	}
	// 最后一个子节点的东边界必须与父节点完全一致，避免浮点误差或 ±180 折返。
	for r := 0; r < rows; r++ {
		n.children[r][cols-1].bounds.E = edge.E
		n.children[r][0].bounds.W = edge.W
	}
	for c := 0; c < cols; c++ {
		n.children[0][c].bounds.N = edge.N
		n.children[rows-1][c].bounds.S = edge.S
	}
}

func splitMercator(n *Node) {
	projected := n.bounds
	projected.N = geo.Isometric(n.bounds.N)
	projected.S = geo.Isometric(n.bounds.S)

	splitLatLon(n, projected)

	for _, child := range n.childList() {
		child.bounds.N = geo.InverseIsometric(child.bounds.N)
		child.bounds.S = geo.InverseIsometric(child.bounds.S)
	}
	for c := 0; c < cols; c++ {
		n.children[0][c].bounds.N = n.bounds.N
		n.children[rows-1][c].bounds.S = n.bounds.S
	}
}
