package tms

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"

	"github.com/paulmach/orb/maptile"

	"github.com/any-hub/any-globe/internal/cache"
	"github.com/any-hub/any-globe/internal/geo"
	"github.com/any-hub/any-globe/internal/quadtree"
	"github.com/any-hub/any-globe/internal/tilesource"
)

func mercatorTree(t *testing.T, depth int) *quadtree.Tree {
	t.Helper()
	tree, err := quadtree.New(geo.Bounds{N: geo.MercatorLimit, S: -geo.MercatorLimit, E: 180, W: -180}, quadtree.ProjectionMercator)
	if err != nil {
		t.Fatalf("tree: %v", err)
	}
	var grow func(n *quadtree.Node, d int)
	grow = func(n *quadtree.Node, d int) {
		if d == depth {
			return
		}
		tree.Split(n)
		for _, child := range n.Children() {
			grow(child, d+1)
		}
	}
	grow(tree.Root(), 0)
	return tree
}

func TestRegistered(t *testing.T) {
	meta, ok := tilesource.Resolve("tms")
	if !ok {
		t.Fatalf("tms should be registered")
	}
	if meta.DefaultProjection != quadtree.ProjectionMercator {
		t.Fatalf("tms should default to mercator")
	}
	if !meta.WholeWorld {
		t.Fatalf("tms addresses the full slippy grid and must require whole-world bounds")
	}
}

func TestURIMatchesTileGrid(t *testing.T) {
	src, err := New(tilesource.Config{URIPrefix: "http://tile.example.org/", Extension: "png"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	tree := mercatorTree(t, 3)

	var nodes []*quadtree.Node
	tree.Walk(func(info quadtree.NodeInfo) { nodes = append(nodes, info.Node) })
	for _, node := range nodes {
		tile := node.Tile()
		located := Locate(tile)
		if int(located.X) != tile.Col || int(located.Y) != tile.Row || int(located.Z) != tile.Depth {
			t.Fatalf("node %s located at %v, want %d/%d/%d", tile.Path, located, tile.Depth, tile.Col, tile.Row)
		}
		want := geo.FromOrb(maptile.New(located.X, located.Y, located.Z).Bound())
		if diff := tile.Bounds.N - want.N; diff > 1e-6 || diff < -1e-6 {
			t.Fatalf("node %s north %f differs from tile %f", tile.Path, tile.Bounds.N, want.N)
		}
	}

	root := tree.Root().Tile()
	if got := src.URI(root); got != "http://tile.example.org/0/0/0.png" {
		t.Fatalf("unexpected root uri %s", got)
	}
	se := tree.Root().Children()[3].Tile()
	if got := src.URI(se); got != "http://tile.example.org/1/1/1.png" {
		t.Fatalf("unexpected uri %s", got)
	}
}

func TestNewRequiresPrefix(t *testing.T) {
	if _, err := New(tilesource.Config{}); err == nil {
		t.Fatalf("missing prefix should fail")
	}
}

func TestFetchThroughClient(t *testing.T) {
	var mu sync.Mutex
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.URL.Path)
		mu.Unlock()
		w.Write([]byte("png"))
	}))
	defer srv.Close()

	client, err := cache.NewClient(cache.Options{StoragePath: t.TempDir(), Prefix: "osm"})
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	src, _, err := tilesource.New("tms", tilesource.Config{URIPrefix: srv.URL})
	if err != nil {
		t.Fatalf("source: %v", err)
	}
	tree := mercatorTree(t, 1)
	node := tree.Root().Children()[1]

	path, err := tilesource.Fetch(context.Background(), src, client, node, cache.FetchOnceIfAbsent, nil)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("cached file missing: %v", err)
	}
	if len(paths) != 1 || paths[0] != "/1/1/0.png" {
		t.Fatalf("unexpected upstream paths %v", paths)
	}
	if want, _ := client.Path("01.png"); path != want {
		t.Fatalf("unexpected cache path %s", path)
	}
}
