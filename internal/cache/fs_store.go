package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// Options 配置一个绑定到单个缓存命名空间的 Client。
type Options struct {
	// StoragePath 为缓存根目录，最终路径为 <StoragePath>/<Prefix>/<name>。
	StoragePath string
	// Prefix 为命名空间目录，通常是图层的 CachePrefix。
	Prefix string
	// HTTPClient 为空时使用 http.DefaultClient。
	HTTPClient *http.Client
	UserAgent  string
	// Scheduler 接收进度回调；为空时进度回调被丢弃。
	Scheduler Scheduler
	Logger    *logrus.Logger
}

// Client 负责单个命名空间内的下载、续传与缓存查询。
type Client struct {
	root      string
	prefix    string
	http      *http.Client
	userAgent string
	scheduler Scheduler
	logger    *logrus.Logger

	// abortCtx 在 Abort 时被取消，所有进行中的传输都派生自它。
	abortCtx  context.Context
	abortFn   context.CancelFunc
	abortFlag atomic.Bool

	mu    sync.Mutex
	locks map[string]*entryLock
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

// NewClient 创建命名空间目录并返回 Client。
func NewClient(opts Options) (*Client, error) {
	if opts.StoragePath == "" {
		return nil, errors.New("storage path required")
	}
	if opts.Prefix == "" {
		return nil, errors.New("cache prefix required")
	}

	base, err := filepath.Abs(opts.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("resolve storage path: %w", err)
	}
	root := filepath.Join(base, filepath.FromSlash(path.Clean("/"+opts.Prefix)))
	if root == base || !strings.HasPrefix(root, base+string(filepath.Separator)) {
		return nil, fmt.Errorf("invalid cache prefix: %s", opts.Prefix)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		root:      root,
		prefix:    opts.Prefix,
		http:      httpClient,
		userAgent: opts.UserAgent,
		scheduler: opts.Scheduler,
		logger:    logger,
		abortCtx:  ctx,
		abortFn:   cancel,
		locks:     make(map[string]*entryLock),
	}, nil
}

// Prefix 返回命名空间名称。
func (c *Client) Prefix() string {
	return c.prefix
}

// Root 返回命名空间的绝对目录。
func (c *Client) Root() string {
	return c.root
}

// Path 返回 name 对应的最终缓存路径，拒绝逃逸出命名空间的名称。
func (c *Client) Path(name string) (string, error) {
	rel := path.Clean("/" + name)
	rel = strings.TrimPrefix(rel, "/")
	if rel == "" || rel == "." {
		return "", fmt.Errorf("invalid cache name: %q", name)
	}
	filePath := filepath.Join(c.root, filepath.FromSlash(rel))
	if !strings.HasPrefix(filePath, c.root+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid cache name: %q", name)
	}
	return filePath, nil
}

// Remove 删除最终文件，partial 保留。用于解码失败时强制下次重新下载。
func (c *Client) Remove(name string) error {
	filePath, err := c.Path(name)
	if err != nil {
		return err
	}
	unlock := c.lockEntry(name)
	defer unlock()
	if err := os.Remove(filePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// Abort 永久中止客户端：取消进行中的传输，之后的 Fetch 直接返回 ErrCancelled。
func (c *Client) Abort() {
	if c.abortFlag.CompareAndSwap(false, true) {
		c.abortFn()
		c.logger.WithField("prefix", c.prefix).Debug("fetch_client_aborted")
	}
}

// Aborted 返回客户端是否已被中止。
func (c *Client) Aborted() bool {
	return c.abortFlag.Load()
}

// bind 派生一个同时受调用方 ctx 与 Abort 控制的上下文。
func (c *Client) bind(ctx context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(c.abortCtx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

func (c *Client) lockEntry(name string) func() {
	c.mu.Lock()
	lock := c.locks[name]
	if lock == nil {
		lock = &entryLock{}
		c.locks[name] = lock
	}
	lock.refs++
	c.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		c.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(c.locks, name)
		}
		c.mu.Unlock()
	}
}

// post 将进度回调交给 Scheduler，永远不在当前 goroutine 上执行。
func (c *Client) post(progress ProgressFunc, filePath string, downloaded, total int64) {
	if progress == nil || c.scheduler == nil {
		return
	}
	c.scheduler.Post(func() {
		progress(filePath, downloaded, total)
	})
}

// copyWithContext 以 32KiB 为单位搬运数据，每个分块前检查取消状态，
// 每写完一个分块调用 onChunk。
func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader, onChunk func(n int)) (int64, error) {
	var copied int64
	buf := make([]byte, 32*1024)
	for {
		if err := ctx.Err(); err != nil {
			return copied, err
		}
		n, err := src.Read(buf)
		if n > 0 {
			w, wErr := dst.Write(buf[:n])
			copied += int64(w)
			if w > 0 && onChunk != nil {
				onChunk(w)
			}
			if wErr != nil {
				return copied, wErr
			}
			if w < n {
				return copied, io.ErrShortWrite
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return copied, nil
			}
			return copied, err
		}
	}
}

func fileExists(filePath string) bool {
	info, err := os.Stat(filePath)
	return err == nil && !info.IsDir()
}

// fetchFields 提供命名空间/条目/上游地址日志字段。
func fetchFields(prefix, name, uri string) logrus.Fields {
	return logrus.Fields{
		"prefix": prefix,
		"name":   name,
		"uri":    uri,
	}
}
