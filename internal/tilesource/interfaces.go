package tilesource

import (
	"context"

	"github.com/any-hub/any-globe/internal/cache"
	"github.com/any-hub/any-globe/internal/quadtree"
)

// Source 将节点快照翻译为上游地址。实现只持有模板配置，不保存任何节点状态。
type Source interface {
	// URI 返回节点对应的上游请求地址。
	URI(tile quadtree.Tile) string
	// Extension 返回缓存文件扩展名（不含点），与节点路径拼接为缓存名称。
	Extension() string
}

// Fetcher 是 cache.Client 中适配器需要的子集。
type Fetcher interface {
	Fetch(ctx context.Context, uri, name string, mode cache.Mode, progress cache.ProgressFunc) (string, error)
}

// Config 是构造适配器所需的模板参数，来自图层配置。
type Config struct {
	URIPrefix  string
	URILayer   string
	URIFormat  string
	Extension  string
	TileWidth  int
	TileHeight int
}

// Factory 根据模板参数构造适配器。
type Factory func(cfg Config) (Source, error)

// Metadata 记录一种适配器类型的静态信息，供配置校验和诊断端使用。
type Metadata struct {
	Key               string
	Description       string
	DefaultProjection quadtree.Projection
	DefaultExtension  string
	// RequiresLayer 表示 URILayer/URIFormat 是否为必填项。
	RequiresLayer bool
	// WholeWorld 表示瓦片地址按完整网格推导，图层根节点必须是 DefaultProjection 下的整个世界。
	WholeWorld bool
	New        Factory
}

// CacheName 返回节点在缓存命名空间中的文件名，例如 "00.11.png"。
func CacheName(src Source, tile quadtree.Tile) string {
	return tile.Path + src.Extension()
}

// Fetch 在树锁下取得节点快照，拼接地址后交给 fetcher 下载，返回本地文件路径。
func Fetch(ctx context.Context, src Source, fetcher Fetcher, node *quadtree.Node, mode cache.Mode, progress cache.ProgressFunc) (string, error) {
	tile := node.Tile()
	return fetcher.Fetch(ctx, src.URI(tile), CacheName(src, tile), mode, progress)
}
