package loader

import "sync"

// Mailbox 是消费方的消息队列：任意 goroutine 可以 Post，只有控制循环调用 Drain。
// 它满足 cache.Scheduler。
type Mailbox struct {
	mu     sync.Mutex
	queue  []func()
	notify chan struct{}
}

func NewMailbox() *Mailbox {
	return &Mailbox{notify: make(chan struct{}, 1)}
}

// Post 追加一条消息并唤醒消费方，永不阻塞。
func (m *Mailbox) Post(fn func()) {
	if fn == nil {
		return
	}
	m.mu.Lock()
	m.queue = append(m.queue, fn)
	m.mu.Unlock()

	select {
	case m.notify <- struct{}{}:
	default:
	}
}

// C 在有新消息时可读，供控制循环 select。
func (m *Mailbox) C() <-chan struct{} {
	return m.notify
}

// Drain 在调用方 goroutine 上按投递顺序执行所有已排队消息，返回执行条数。
func (m *Mailbox) Drain() int {
	m.mu.Lock()
	queue := m.queue
	m.queue = nil
	m.mu.Unlock()

	for _, fn := range queue {
		fn()
	}
	return len(queue)
}

// Len 返回待处理消息数。
func (m *Mailbox) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}
