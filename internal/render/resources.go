package render

import "sync"

// MaskSize 为遮罩纹理的边长（像素）。
const MaskSize = 256

// Resources 持有进程级共享资源。遮罩在首次使用时创建一次，Close 后不再重建。
type Resources struct {
	once   sync.Once
	mu     sync.Mutex
	mask   []byte
	closed bool
}

func NewResources() *Resources {
	return &Resources{}
}

// Mask 返回 MaskSize×MaskSize 的不透明 alpha 遮罩；Close 之后返回 nil。
func (r *Resources) Mask() []byte {
	r.once.Do(func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.closed {
			return
		}
		mask := make([]byte, MaskSize*MaskSize)
		for i := range mask {
			mask[i] = 0xff
		}
		r.mask = mask
	})
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mask
}

// Close 释放遮罩，可重复调用。
func (r *Resources) Close() {
	r.mu.Lock()
	r.mask = nil
	r.closed = true
	r.mu.Unlock()
}
