package layer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/any-globe/internal/config"
	"github.com/any-hub/any-globe/internal/geo"
	"github.com/any-hub/any-globe/internal/loader"
	"github.com/any-hub/any-globe/internal/logging"
	"github.com/any-hub/any-globe/internal/render"
)

// EngineOptions 配置控制循环。
type EngineOptions struct {
	Capabilities render.Capabilities
	HTTPClient   *http.Client
	Logger       *logrus.Logger
	// Now 替换回收与访问时间使用的时钟，测试用。
	Now func() time.Time
}

// Engine 拥有全部图层以及唯一的消费方 goroutine：细化、上传与回收都在 Run 中串行执行。
type Engine struct {
	global    config.GlobalConfig
	layers    []*Layer
	byName    map[string]*Layer
	mailbox   *loader.Mailbox
	resources *render.Resources
	strategy  render.Strategy
	eyes      chan geo.Point
	logger    *logrus.Logger
	now       func() time.Time

	mu      sync.Mutex
	lastEye *geo.Point
	updates int

	closeOnce sync.Once
}

// EngineStatus 是引擎级诊断快照。
type EngineStatus struct {
	Strategy      string     `json:"strategy"`
	Resident      int        `json:"resident"`
	ResidentBytes int        `json:"resident_bytes"`
	Pending       int        `json:"pending_messages"`
	Updates       int        `json:"updates"`
	Eye           *geo.Point `json:"eye,omitempty"`
}

// NewEngine 探测一次渲染能力并按配置顺序构造所有图层。
func NewEngine(cfg *config.Config, opts EngineOptions) (*Engine, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	resources := render.NewResources()
	strategy, err := render.Probe(opts.Capabilities, cfg.Global.DrawStrategy, resources)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		global:    cfg.Global,
		byName:    make(map[string]*Layer, len(cfg.Layers)),
		mailbox:   loader.NewMailbox(),
		resources: resources,
		strategy:  strategy,
		eyes:      make(chan geo.Point, 1),
		logger:    logger,
		now:       now,
	}

	for _, layerCfg := range cfg.Layers {
		rt, err := config.BuildLayerRuntime(layerCfg)
		if err != nil {
			e.Close()
			return nil, err
		}
		l, err := New(Options{
			Runtime:    rt,
			Global:     cfg.Global,
			Strategy:   strategy,
			Mailbox:    e.mailbox,
			HTTPClient: opts.HTTPClient,
			Logger:     logger,
			Now:        opts.Now,
		})
		if err != nil {
			e.Close()
			return nil, err
		}
		e.layers = append(e.layers, l)
		e.byName[l.Name()] = l
		logger.WithFields(logging.LayerFields(rt.Config.Name, rt.Metadata.Key, string(rt.Projection))).Info("layer_ready")
	}

	logger.WithFields(logrus.Fields{
		"action":   "engine_start",
		"layers":   len(e.layers),
		"strategy": strategy.Name(),
	}).Info("engine_ready")
	return e, nil
}

// Layers 按配置顺序返回图层。
func (e *Engine) Layers() []*Layer {
	return append([]*Layer(nil), e.layers...)
}

// Layer 按名称查找图层。
func (e *Engine) Layer(name string) (*Layer, bool) {
	l, ok := e.byName[name]
	return l, ok
}

// Strategy 返回启动时选定的上传策略。
func (e *Engine) Strategy() render.Strategy {
	return e.strategy
}

// Mailbox 返回 worker 投递消息的队列。
func (e *Engine) Mailbox() *loader.Mailbox {
	return e.mailbox
}

// PostEye 把视点交给控制循环。未处理的旧视点会被新的替换，永不阻塞。
func (e *Engine) PostEye(eye geo.Point) {
	for {
		select {
		case e.eyes <- eye:
			return
		default:
		}
		select {
		case <-e.eyes:
		default:
		}
	}
}

// Status 返回引擎级诊断信息。
func (e *Engine) Status() EngineStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return EngineStatus{
		Strategy:      e.strategy.Name(),
		Resident:      e.strategy.Resident(),
		ResidentBytes: e.strategy.ResidentBytes(),
		Pending:       e.mailbox.Len(),
		Updates:       e.updates,
		Eye:           e.lastEye,
	}
}

// Run 是控制循环：处理视点更新、排空 Mailbox 并周期性回收，直到 ctx 结束。
func (e *Engine) Run(ctx context.Context) error {
	interval := e.global.GCInterval.DurationValue()
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case eye := <-e.eyes:
			e.step(eye)
		case <-e.mailbox.C():
			e.mailbox.Drain()
		case <-ticker.C:
			e.collect()
		}
	}
}

// step 依次细化每个图层，然后按 RetainFor 回收。
func (e *Engine) step(eye geo.Point) {
	for _, l := range e.layers {
		l.Update(eye)
	}
	e.mailbox.Drain()
	e.collect()

	e.mu.Lock()
	p := eye
	e.lastEye = &p
	e.updates++
	e.mu.Unlock()
}

func (e *Engine) collect() int {
	cutoff := e.now().Add(-e.global.RetainFor.DurationValue())
	total := 0
	for _, l := range e.layers {
		total += l.Collect(cutoff)
	}
	if total > 0 {
		e.logger.WithFields(logrus.Fields{
			"action":    "gc",
			"collected": total,
		}).Debug("gc_complete")
	}
	return total
}

// Close 关闭所有图层并释放共享渲染资源，可重复调用。必须在 Run 返回后调用。
func (e *Engine) Close() error {
	var errs []error
	e.closeOnce.Do(func() {
		for _, l := range e.layers {
			if err := l.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close layer %s: %w", l.Name(), err))
			}
		}
		e.resources.Close()
		e.logger.WithField("action", "engine_stop").Info("engine_closed")
	})
	return errors.Join(errs...)
}
