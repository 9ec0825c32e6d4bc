package quadtree

import (
	"math"
	"math/rand"
	"testing"

	"github.com/any-hub/any-globe/internal/geo"
)

const eps = 1e-9

func newTestTree(t *testing.T, b geo.Bounds, proj Projection) *Tree {
	t.Helper()
	tree, err := New(b, proj)
	if err != nil {
		t.Fatalf("new tree: %v", err)
	}
	return tree
}

func TestSplitLatLonPartitionsBounds(t *testing.T) {
	cases := []geo.Bounds{
		geo.World(),
		{N: 10, S: -30, E: 45, W: -5},
		{N: 89.5, S: 60.25, E: -100.125, W: -179.75},
		{N: 20, S: 10, E: -170, W: 160},
	}
	for _, b := range cases {
		tree := newTestTree(t, b, ProjectionLatLon)
		root := tree.Root()
		tree.Split(root)
		assertPartition(t, b, root)
	}
}

func TestSplitLatLonRandomBounds(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 200; i++ {
		s := rng.Float64()*178 - 89
		n := s + 0.001 + rng.Float64()*(90-s-0.001)
		w := rng.Float64()*360 - 180
		width := 0.001 + rng.Float64()*359
		e := geo.NormalizeLon(w + width)
		b := geo.Bounds{N: n, S: s, E: e, W: w}
		if !b.Valid() {
			continue
		}
		tree := newTestTree(t, b, ProjectionLatLon)
		tree.Split(tree.Root())
		assertPartition(t, b, tree.Root())
	}
}

func assertPartition(t *testing.T, b geo.Bounds, n *Node) {
	t.Helper()
	ch := n.children
	if ch == nil {
		t.Fatalf("expected children for %+v", b)
	}
	for c := 0; c < cols; c++ {
		if ch[0][c].bounds.N != b.N || ch[1][c].bounds.S != b.S {
			t.Fatalf("outer latitude edges drifted: %+v", b)
		}
		if math.Abs(ch[0][c].bounds.S-ch[1][c].bounds.N) > eps {
			t.Fatalf("latitude gap between rows: %+v", b)
		}
	}
	for r := 0; r < rows; r++ {
		if ch[r][0].bounds.W != b.W || ch[r][1].bounds.E != b.E {
			t.Fatalf("outer longitude edges drifted: %+v", b)
		}
		if math.Abs(ch[r][0].bounds.E-ch[r][1].bounds.W) > eps {
			t.Fatalf("longitude gap between columns: %+v", b)
		}
		sum := ch[r][0].bounds.Width() + ch[r][1].bounds.Width()
		if math.Abs(sum-b.Width()) > 1e-6 {
			t.Fatalf("column widths %f do not add up to %f", sum, b.Width())
		}
	}
	height := ch[0][0].bounds.Height() + ch[1][0].bounds.Height()
	if math.Abs(height-b.Height()) > 1e-6 {
		t.Fatalf("row heights %f do not add up to %f", height, b.Height())
	}
}

func TestSplitMercatorKeepsNorthAboveSouth(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 200; i++ {
		s := rng.Float64()*2*geo.MercatorLimit - geo.MercatorLimit
		n := s + 1e-6 + rng.Float64()*(geo.MercatorLimit-s-1e-6)
		b := geo.Bounds{N: n, S: s, E: 180, W: -180}
		tree := newTestTree(t, b, ProjectionMercator)
		tree.Split(tree.Root())
		for _, child := range tree.Root().childList() {
			if !(child.bounds.N > child.bounds.S) {
				t.Fatalf("child north %f not above south %f (parent %+v)", child.bounds.N, child.bounds.S, b)
			}
		}
	}
}

func TestSplitMercatorIsSquareInProjectedSpace(t *testing.T) {
	tree := newTestTree(t, geo.Bounds{N: geo.MercatorLimit, S: -geo.MercatorLimit, E: 180, W: -180}, ProjectionMercator)
	root := tree.Root()
	tree.Split(root)
	mid := root.children[0][0].bounds.S
	if math.Abs(mid) > 1e-9 {
		t.Fatalf("world mercator split should cut at the equator, got %f", mid)
	}
	child := root.children[0][0]
	tree.Split(child)
	top := geo.Isometric(child.children[0][0].bounds.N) - geo.Isometric(child.children[0][0].bounds.S)
	bottom := geo.Isometric(child.children[1][0].bounds.N) - geo.Isometric(child.children[1][0].bounds.S)
	if math.Abs(top-bottom) > 1e-9 {
		t.Fatalf("rows should be equal in projected space: %f vs %f", top, bottom)
	}
}

func TestSplitIsIdempotent(t *testing.T) {
	for _, proj := range []Projection{ProjectionLatLon, ProjectionMercator} {
		tree := newTestTree(t, geo.Bounds{N: 80, S: -80, E: 180, W: -180}, proj)
		root := tree.Root()
		tree.Split(root)
		first := root.childList()
		before := make([]geo.Bounds, len(first))
		for i, c := range first {
			before[i] = c.bounds
		}
		for i := 0; i < 10; i++ {
			tree.Split(root)
		}
		after := root.childList()
		for i := range after {
			if after[i] != first[i] {
				t.Fatalf("re-split replaced child %d", i)
			}
			if after[i].bounds != before[i] {
				t.Fatalf("re-split drifted child %d: %+v -> %+v", i, before[i], after[i].bounds)
			}
		}
	}
}

func TestPathAndTile(t *testing.T) {
	tree := newTestTree(t, geo.World(), ProjectionLatLon)
	root := tree.Root()
	tree.Split(root)
	child := root.children[1][0]
	tree.Split(child)
	grand := child.children[0][1]

	if got := root.Path(); got != "root." {
		t.Fatalf("unexpected root path %q", got)
	}
	if got := grand.Path(); got != "10.01." {
		t.Fatalf("unexpected path %q", got)
	}
	tile := grand.Tile()
	if tile.Depth != 2 || tile.Row != 2 || tile.Col != 1 {
		t.Fatalf("unexpected tile position %+v", tile)
	}
	if grand.Depth() != 2 {
		t.Fatalf("z-index should follow depth")
	}
}

func TestTextureRectRelativeToReadyAncestor(t *testing.T) {
	tree := newTestTree(t, geo.World(), ProjectionLatLon)
	root := tree.Root()
	root.state = StateReady
	tree.Split(root)
	child := root.children[0][1]

	owner, rect := child.TextureRect()
	if owner != root {
		t.Fatalf("expected root to own texture")
	}
	want := geo.Bounds{N: 0, S: 0.5, E: 1, W: 0.5}
	if math.Abs(rect.N-want.N) > eps || math.Abs(rect.S-want.S) > eps ||
		math.Abs(rect.E-want.E) > eps || math.Abs(rect.W-want.W) > eps {
		t.Fatalf("unexpected rect %+v", rect)
	}

	child.state = StateReady
	if owner, rect := child.TextureRect(); owner != child || rect.S != 1 || rect.E != 1 {
		t.Fatalf("ready node should own its full texture, got %+v", rect)
	}
}
