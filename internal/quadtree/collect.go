package quadtree

import "time"

// Collect 后序遍历整棵树，回收 cutoff 之前未被访问、没有子节点且不在加载中的节点，
// 返回回收的节点数。四个兄弟节点作为一组回收：只要有一个仍被需要，整组保留，
// 以维持“子节点要么全有要么全无”的约束。
//
// 整个过程持有树锁，与 worker 的 loading→ready 迁移互斥，
// 因此不会回收一个正在完成加载的节点。
func (t *Tree) Collect(cutoff time.Time, free FreeFunc) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.collectLocked(t.root, cutoff, free)
}

func (t *Tree) collectLocked(n *Node, cutoff time.Time, free FreeFunc) int {
	if n.children == nil {
		return 0
	}

	removed := 0
	eligible := true
	for _, child := range n.childList() {
		removed += t.collectLocked(child, cutoff, free)
		if !collectable(child, cutoff) {
			eligible = false
		}
	}
	if !eligible {
		return removed
	}

	for _, child := range n.childList() {
		release(child, free)
		child.removed = true
		removed++
	}
	n.children = nil
	return removed
}

func collectable(n *Node, cutoff time.Time) bool {
	return n.parent != nil &&
		n.children == nil &&
		n.atime.Before(cutoff) &&
		n.state != StateLoading
}
