package loader

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/any-hub/any-globe/internal/cache"
	"github.com/any-hub/any-globe/internal/logging"
	"github.com/any-hub/any-globe/internal/metrics"
	"github.com/any-hub/any-globe/internal/quadtree"
	"github.com/any-hub/any-globe/internal/tilesource"
)

// Store 是 cache.Client 中 worker 需要的子集：下载与删除损坏的最终文件。
type Store interface {
	tilesource.Fetcher
	Remove(name string) error
}

// ReadyFunc 在消费方 goroutine（Mailbox.Drain）上接收已 ready 的负载。
type ReadyFunc func(node *quadtree.Node, payload any)

// Options 配置一个图层的 Dispatcher。
type Options struct {
	Layer   string
	Tree    *quadtree.Tree
	Source  tilesource.Source
	Store   Store
	Decoder Decoder
	Mailbox *Mailbox
	OnReady ReadyFunc
	// Workers 为 worker 数量，<=0 时为 1。
	Workers int
	Logger  *logrus.Logger
}

// Dispatcher 维护一个无界 FIFO 与固定数量的 worker，满足 quadtree.LoadTrigger。
type Dispatcher struct {
	opts   Options
	logger *logrus.Logger

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []*quadtree.Node
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group
	once   sync.Once
}

// NewDispatcher 启动 worker 并返回 Dispatcher，调用方负责 Close。
func NewDispatcher(opts Options) (*Dispatcher, error) {
	if opts.Tree == nil || opts.Source == nil || opts.Store == nil || opts.Decoder == nil {
		return nil, errors.New("dispatcher requires tree, source, store and decoder")
	}
	if opts.Mailbox == nil {
		opts.Mailbox = NewMailbox()
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	ctx, cancel := context.WithCancel(context.Background())
	group, ctx := errgroup.WithContext(ctx)
	d := &Dispatcher{
		opts:   opts,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
		group:  group,
	}
	d.cond = sync.NewCond(&d.mu)

	for i := 0; i < opts.Workers; i++ {
		group.Go(d.work)
	}
	return d, nil
}

// Trigger 将节点追加到队尾后立即返回。Refiner 在持有树锁时调用它，
// 因此这里只能使用 Dispatcher 自己的锁。
func (d *Dispatcher) Trigger(node *quadtree.Node) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.queue = append(d.queue, node)
	depth := len(d.queue)
	d.mu.Unlock()

	metrics.QueueDepth.WithLabelValues(d.opts.Layer).Set(float64(depth))
	d.cond.Signal()
}

// Len 返回排队中的节点数。
func (d *Dispatcher) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

// Mailbox 返回用于投递 ready 消息的 Mailbox。
func (d *Dispatcher) Mailbox() *Mailbox {
	return d.opts.Mailbox
}

// Close 取消进行中的下载并等待 worker 退出；未处理的节点退回 empty。可重复调用。
func (d *Dispatcher) Close() error {
	var err error
	d.once.Do(func() {
		d.mu.Lock()
		d.closed = true
		pending := d.queue
		d.queue = nil
		d.mu.Unlock()

		d.cancel()
		d.cond.Broadcast()
		err = d.group.Wait()

		for _, node := range pending {
			d.opts.Tree.Fail(node)
		}
		metrics.QueueDepth.WithLabelValues(d.opts.Layer).Set(0)
	})
	return err
}

func (d *Dispatcher) next() (*quadtree.Node, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for len(d.queue) == 0 && !d.closed {
		d.cond.Wait()
	}
	if d.closed {
		return nil, false
	}
	node := d.queue[0]
	d.queue[0] = nil
	d.queue = d.queue[1:]
	metrics.QueueDepth.WithLabelValues(d.opts.Layer).Set(float64(len(d.queue)))
	return node, true
}

func (d *Dispatcher) work() error {
	for {
		node, ok := d.next()
		if !ok {
			return nil
		}
		d.load(node)
	}
}

// load 不持有树锁地完成下载与解码，再通过 Complete/Fail 做状态迁移。
func (d *Dispatcher) load(node *quadtree.Node) {
	tile := node.Tile()
	name := tilesource.CacheName(d.opts.Source, tile)
	log := d.logger.WithFields(logging.NodeFields(d.opts.Layer, tile.Path, tile.Depth))

	path, err := tilesource.Fetch(d.ctx, d.opts.Source, d.opts.Store, node, cache.FetchOnceIfAbsent, nil)
	if err != nil {
		d.fail(node, log, err)
		return
	}

	payload, err := d.opts.Decoder.Decode(path)
	if err != nil {
		if errors.Is(err, cache.ErrMalformedPayload) {
			if rmErr := d.opts.Store.Remove(name); rmErr != nil {
				log.WithError(rmErr).Warn("tile_remove_failed")
			}
		}
		d.fail(node, log, err)
		return
	}

	if !d.opts.Tree.Complete(node, payload) {
		metrics.TileLoads.WithLabelValues(d.opts.Layer, metrics.ResultCancelled).Inc()
		log.Debug("tile_load_discarded")
		return
	}
	metrics.TileLoads.WithLabelValues(d.opts.Layer, metrics.ResultOK).Inc()
	log.Debug("tile_load_complete")

	if d.opts.OnReady != nil {
		onReady := d.opts.OnReady
		d.opts.Mailbox.Post(func() {
			onReady(node, payload)
		})
	}
}

func (d *Dispatcher) fail(node *quadtree.Node, log *logrus.Entry, err error) {
	d.opts.Tree.Fail(node)
	if errors.Is(err, cache.ErrCancelled) {
		metrics.TileLoads.WithLabelValues(d.opts.Layer, metrics.ResultCancelled).Inc()
		log.Debug("tile_load_cancelled")
		return
	}
	metrics.TileLoads.WithLabelValues(d.opts.Layer, metrics.ResultError).Inc()
	log.WithError(err).Warn("tile_load_failed")
}
