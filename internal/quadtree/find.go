package quadtree

// Find 从 root 向下查找包含 (lat, lon) 且拥有数据的最深节点。
// 只有当对应子节点的负载已 ready 时才继续下降，点不在 root 范围内时返回 nil。
func (t *Tree) Find(lat, lon float64) *Node {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.root.bounds.Contains(lat, lon) {
		return nil
	}
	n := t.root
	for {
		row, col, ok := t.cell(n, lat, lon)
		if !ok || n.children == nil {
			return n
		}
		child := n.children[row][col]
		if child == nil || child.state != StateReady {
			return n
		}
		n = child
	}
}

// cell 计算点在节点内所属的行列；恰好落在南边界或东边界（极点、日期变更线）时夹回最后一格。
func (t *Tree) cell(n *Node, lat, lon float64) (int, int, bool) {
	b := n.bounds
	top := t.proj.project(b.N)
	bottom := t.proj.project(b.S)
	latStep := (top - bottom) / rows
	lonStep := b.Width() / cols

	row := int((top - t.proj.project(lat)) / latStep)
	col := int(b.LonOffset(lon) / lonStep)

	if row == rows && lat == b.S {
		row--
	}
	if col == cols && lon == b.E {
		col--
	}
	if row < 0 || row >= rows || col < 0 || col >= cols {
		return 0, 0, false
	}
	return row, col, true
}
