package quadtree

import (
	"strings"
	"time"

	"github.com/any-hub/any-globe/internal/geo"
)

// State 表示节点负载槽的状态，任一时刻只处于其中一种。
type State int

const (
	StateEmpty State = iota
	StateLoading
	StateReady
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	default:
		return "empty"
	}
}

const (
	rows = 2
	cols = 2
)

// Node 是四叉树中的一个经纬度格子。子节点由父节点持有，parent 仅用于查询，
// 不参与回收判定。所有字段都受所属 Tree 的锁保护。
type Node struct {
	tree     *Tree
	parent   *Node
	children *[rows][cols]*Node
	row, col int
	depth    int

	bounds  geo.Bounds
	atime   time.Time
	state   State
	payload any
	hidden  bool
	removed bool
}

func newNode(tree *Tree, parent *Node, row, col int, now time.Time) *Node {
	n := &Node{
		tree:   tree,
		parent: parent,
		row:    row,
		col:    col,
		atime:  now,
		hidden: true,
	}
	if parent != nil {
		n.depth = parent.depth + 1
	}
	return n
}

// Tile 是节点在某一时刻的只读快照，供 TileSource 计算请求地址。
type Tile struct {
	Depth      int
	Row, Col   int
	Path       string
	Bounds     geo.Bounds
	Projection Projection
}

// Tile 在树锁下沿 parent 链推导深度、网格行列与路径。
func (n *Node) Tile() Tile {
	n.tree.mu.Lock()
	defer n.tree.mu.Unlock()
	return n.tileLocked()
}

func (n *Node) tileLocked() Tile {
	tile := Tile{
		Depth:      n.depth,
		Path:       n.pathLocked(),
		Bounds:     n.bounds,
		Projection: n.tree.proj,
	}
	scale := 1
	for cur := n; cur.parent != nil; cur = cur.parent {
		tile.Row += cur.row * scale
		tile.Col += cur.col * scale
		scale *= 2
	}
	return tile
}

// Path 返回节点在树中的位置字符串，例如 "00.11."，根节点为 "root."。
func (n *Node) Path() string {
	n.tree.mu.Lock()
	defer n.tree.mu.Unlock()
	return n.pathLocked()
}

func (n *Node) pathLocked() string {
	if n.parent == nil {
		return "root."
	}
	parts := make([]string, n.depth)
	for cur := n; cur.parent != nil; cur = cur.parent {
		parts[cur.depth-1] = pathTable[cur.row][cur.col]
	}
	return strings.Join(parts, "")
}

var pathTable = [rows][cols]string{
	{"00.", "01."},
	{"10.", "11."},
}

// Bounds 返回节点当前的经纬度范围。
func (n *Node) Bounds() geo.Bounds {
	n.tree.mu.Lock()
	defer n.tree.mu.Unlock()
	return n.bounds
}

// Depth 即绘制优先级（z-index），根节点为 0。
func (n *Node) Depth() int {
	return n.depth
}

// Parent 返回父节点，根节点返回 nil。
func (n *Node) Parent() *Node {
	return n.parent
}

// State 返回负载状态。
func (n *Node) State() State {
	n.tree.mu.Lock()
	defer n.tree.mu.Unlock()
	return n.state
}

// Payload 返回 ready 状态下的负载，其它状态返回 nil。
func (n *Node) Payload() any {
	n.tree.mu.Lock()
	defer n.tree.mu.Unlock()
	if n.state != StateReady {
		return nil
	}
	return n.payload
}

// Visible 表示最近一次 Refiner 遍历后节点是否可见。
func (n *Node) Visible() bool {
	n.tree.mu.Lock()
	defer n.tree.mu.Unlock()
	return !n.hidden
}

// AccessTime 返回最近一次被 Refiner 访问的时间。
func (n *Node) AccessTime() time.Time {
	n.tree.mu.Lock()
	defer n.tree.mu.Unlock()
	return n.atime
}

// Touch 刷新访问时间，渲染端绘制节点时调用。
func (n *Node) Touch(now time.Time) {
	n.tree.mu.Lock()
	n.atime = now
	n.tree.mu.Unlock()
}

// HasChildren 返回节点是否已被拆分。
func (n *Node) HasChildren() bool {
	n.tree.mu.Lock()
	defer n.tree.mu.Unlock()
	return n.children != nil
}

// Children 返回 2x2 子节点的副本，未拆分时返回 nil。
func (n *Node) Children() []*Node {
	n.tree.mu.Lock()
	defer n.tree.mu.Unlock()
	return n.childList()
}

func (n *Node) childList() []*Node {
	if n.children == nil {
		return nil
	}
	out := make([]*Node, 0, rows*cols)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			out = append(out, n.children[r][c])
		}
	}
	return out
}

// TextureRect 返回节点相对最近一个持有 ready 负载的祖先（含自身）的纹理子矩形，
// 以 N/S/E/W 表示，取值范围 [0,1]，N=0 为顶边。找不到祖先时 owner 为 nil。
func (n *Node) TextureRect() (owner *Node, rect geo.Bounds) {
	n.tree.mu.Lock()
	defer n.tree.mu.Unlock()

	owner = n
	for owner != nil && owner.state != StateReady {
		owner = owner.parent
	}
	if owner == nil {
		return nil, geo.Bounds{}
	}
	if owner == n {
		return n, geo.Bounds{N: 0, S: 1, E: 1, W: 0}
	}

	ob := owner.bounds
	latDist := n.tree.proj.project(ob.N) - n.tree.proj.project(ob.S)
	lonDist := ob.Width()
	rect = geo.Bounds{
		N: (n.tree.proj.project(ob.N) - n.tree.proj.project(n.bounds.N)) / latDist,
		S: (n.tree.proj.project(ob.N) - n.tree.proj.project(n.bounds.S)) / latDist,
		W: ob.LonOffset(n.bounds.W) / lonDist,
	}
	rect.E = rect.W + n.bounds.Width()/lonDist
	return owner, rect
}
