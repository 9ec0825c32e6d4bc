package layer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/any-globe/internal/cache"
	"github.com/any-hub/any-globe/internal/config"
	"github.com/any-hub/any-globe/internal/geo"
	"github.com/any-hub/any-globe/internal/loader"
	"github.com/any-hub/any-globe/internal/logging"
	"github.com/any-hub/any-globe/internal/metrics"
	"github.com/any-hub/any-globe/internal/quadtree"
	"github.com/any-hub/any-globe/internal/render"
)

// Options 描述构造单个图层所需的依赖。
type Options struct {
	Runtime    config.LayerRuntime
	Global     config.GlobalConfig
	Strategy   render.Strategy
	Mailbox    *loader.Mailbox
	HTTPClient *http.Client
	Logger     *logrus.Logger
	// Now 替换树的时间源，测试用。
	Now func() time.Time
}

// Layer 是一个数据源及其四叉树、下载客户端与加载调度器。
type Layer struct {
	cfg        config.LayerConfig
	runtime    config.LayerRuntime
	tree       *quadtree.Tree
	client     *cache.Client
	dispatcher *loader.Dispatcher
	strategy   render.Strategy
	logger     *logrus.Logger
	refine     quadtree.RefineOptions

	closeOnce sync.Once
}

// Stats 是图层的诊断快照。
type Stats struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	Projection string `json:"projection"`
	quadtree.Stats
	Queue    int    `json:"queue"`
	Strategy string `json:"strategy"`
}

// New 按已校验的运行时配置组装图层并启动 worker，调用方负责 Close。
func New(opts Options) (*Layer, error) {
	if opts.Runtime.Source == nil {
		return nil, errors.New("layer source is required")
	}
	if opts.Strategy == nil {
		return nil, errors.New("render strategy is required")
	}
	if opts.Mailbox == nil {
		opts.Mailbox = loader.NewMailbox()
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	cfg := opts.Runtime.Config

	tree, err := quadtree.New(cfg.Bounds(), opts.Runtime.Projection)
	if err != nil {
		return nil, fmt.Errorf("layer %s: %w", cfg.Name, err)
	}
	if opts.Now != nil {
		tree.SetClock(opts.Now)
	}

	client, err := cache.NewClient(cache.Options{
		StoragePath: opts.Global.StoragePath,
		Prefix:      cfg.CachePrefix,
		HTTPClient:  opts.HTTPClient,
		UserAgent:   opts.Global.UserAgent,
		Scheduler:   opts.Mailbox,
		Logger:      logger,
	})
	if err != nil {
		return nil, fmt.Errorf("layer %s: %w", cfg.Name, err)
	}

	decoder, err := loader.NewDecoder(cfg.Payload, cfg.TileWidth, cfg.TileHeight)
	if err != nil {
		client.Abort()
		return nil, fmt.Errorf("layer %s: %w", cfg.Name, err)
	}

	l := &Layer{
		cfg:      cfg,
		runtime:  opts.Runtime,
		tree:     tree,
		client:   client,
		strategy: opts.Strategy,
		logger:   logger,
	}

	dispatcher, err := loader.NewDispatcher(loader.Options{
		Layer:   cfg.Name,
		Tree:    tree,
		Source:  opts.Runtime.Source,
		Store:   client,
		Decoder: decoder,
		Mailbox: opts.Mailbox,
		OnReady: l.upload,
		Workers: cfg.Workers,
		Logger:  logger,
	})
	if err != nil {
		client.Abort()
		return nil, fmt.Errorf("layer %s: %w", cfg.Name, err)
	}
	l.dispatcher = dispatcher
	l.refine = quadtree.RefineOptions{
		MaxResolution: cfg.MaxResolution,
		Width:         cfg.TileWidth,
		Height:        cfg.TileHeight,
		Load:          dispatcher,
	}
	return l, nil
}

// Name 返回图层名称。
func (l *Layer) Name() string {
	return l.cfg.Name
}

// Config 返回图层配置副本。
func (l *Layer) Config() config.LayerConfig {
	return l.cfg
}

// Tree 返回图层的四叉树。
func (l *Layer) Tree() *quadtree.Tree {
	return l.tree
}

// Update 以新的视点细化整棵树，需要数据的节点进入加载队列。
func (l *Layer) Update(eye geo.Point) {
	l.tree.Update(eye, l.refine)
}

// Collect 回收 cutoff 之前未被访问的叶子，返回删除的节点数。
func (l *Layer) Collect(cutoff time.Time) int {
	removed := l.tree.Collect(cutoff, l.free)
	if removed > 0 {
		metrics.CollectedNodes.WithLabelValues(l.cfg.Name).Add(float64(removed))
	}
	return removed
}

// Lookup 返回包含该点且负载已 ready 的最深节点。
func (l *Layer) Lookup(lat, lon float64) (quadtree.Tile, bool) {
	node := l.tree.Find(lat, lon)
	if node == nil || node.State() != quadtree.StateReady {
		return quadtree.Tile{}, false
	}
	return node.Tile(), true
}

// HeightAt 在最深的 ready 高程节点上双线性插值，没有数据时返回 0。
func (l *Layer) HeightAt(lat, lon float64) float64 {
	node := l.tree.Find(lat, lon)
	if node == nil {
		return 0
	}
	elev, ok := node.Payload().(*loader.Elevation)
	if !ok {
		return 0
	}
	fx, fy := gridFraction(l.tree.Projection(), node.Bounds(), lat, lon)
	return elev.Sample(fx, fy)
}

// Available 列出缓存目录与索引页中匹配的条目。
func (l *Layer) Available(ctx context.Context, opts cache.AvailableOptions) ([]string, error) {
	return l.client.Available(ctx, opts)
}

// Stats 汇总树与队列状态。
func (l *Layer) Stats() Stats {
	return Stats{
		Name:       l.cfg.Name,
		Type:       l.cfg.Type,
		Projection: string(l.tree.Projection()),
		Stats:      l.tree.Stats(),
		Queue:      l.dispatcher.Len(),
		Strategy:   l.strategy.Name(),
	}
}

// Close 中止下载、停止 worker 并销毁整棵树，可重复调用。
// 必须在控制循环退出后调用。
func (l *Layer) Close() error {
	var err error
	l.closeOnce.Do(func() {
		l.client.Abort()
		err = l.dispatcher.Close()
		l.tree.Free(l.free)
		l.logger.WithFields(logging.LayerFields(l.cfg.Name, l.cfg.Type, string(l.tree.Projection()))).Debug("layer_closed")
	})
	return err
}

// upload 在 Mailbox.Drain 中执行。节点可能在消息排队期间被回收，此时跳过。
func (l *Layer) upload(node *quadtree.Node, payload any) {
	if node.State() != quadtree.StateReady || node.Payload() != payload {
		return
	}
	tile := node.Tile()
	log := l.logger.WithFields(logging.NodeFields(l.cfg.Name, tile.Path, tile.Depth))
	tex, err := l.strategy.Upload(node, payload)
	if err != nil {
		log.WithError(err).Warn("tile_upload_failed")
		return
	}
	log.WithField("texture", tex.ID).Debug("tile_uploaded")
}

// free 在树锁内执行，只能调用不依赖树锁的释放逻辑。
func (l *Layer) free(node *quadtree.Node, _ any) {
	l.strategy.Release(node)
}

// gridFraction 返回点在节点网格内的相对位置，0,0 为西北角。
func gridFraction(proj quadtree.Projection, b geo.Bounds, lat, lon float64) (float64, float64) {
	fx := b.LonOffset(lon) / b.Width()
	top, bottom, y := b.N, b.S, lat
	if proj == quadtree.ProjectionMercator {
		top, bottom, y = geo.Isometric(b.N), geo.Isometric(b.S), geo.Isometric(lat)
	}
	fy := (top - y) / (top - bottom)
	return fx, fy
}
