package ratelimit

import (
	"sync"
	"time"
)

// SlidingWindow 滑动窗口速率限制器
type SlidingWindow struct {
	limit      int           // 窗口内允许的请求数
	windowSize time.Duration // 窗口大小
	requests   []time.Time   // 窗口内的请求时间戳
	now        func() time.Time
	mu         sync.Mutex
}

// NewSlidingWindow 创建新的滑动窗口速率限制器
func NewSlidingWindow(limit int, windowSize time.Duration) *SlidingWindow {
	return &SlidingWindow{
		limit:      limit,
		windowSize: windowSize,
		now:        time.Now,
	}
}

// Allow 检查是否允许请求，允许时记录本次请求
func (sw *SlidingWindow) Allow() bool {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	now := sw.now()
	sw.evict(now)
	if len(sw.requests) >= sw.limit {
		return false
	}
	sw.requests = append(sw.requests, now)
	return true
}

// Remaining 返回当前窗口内剩余的请求数
func (sw *SlidingWindow) Remaining() int {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	sw.evict(sw.now())
	return sw.limit - len(sw.requests)
}

// ResetAt 返回最早一条请求滑出窗口的时间
func (sw *SlidingWindow) ResetAt() time.Time {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	now := sw.now()
	sw.evict(now)
	if len(sw.requests) == 0 {
		return now
	}
	return sw.requests[0].Add(sw.windowSize)
}

func (sw *SlidingWindow) evict(now time.Time) {
	cutoff := now.Add(-sw.windowSize)
	i := 0
	for i < len(sw.requests) && !sw.requests[i].After(cutoff) {
		i++
	}
	sw.requests = sw.requests[i:]
}

// Keyed 为每个 key（例如 bot label）维护一个独立的滑动窗口
type Keyed struct {
	limit      int
	windowSize time.Duration
	now        func() time.Time

	mu      sync.Mutex
	windows map[string]*SlidingWindow
}

// NewKeyed returns nil when limit <= 0; a nil *Keyed allows everything.
func NewKeyed(limit int, windowSize time.Duration) *Keyed {
	if limit <= 0 || windowSize <= 0 {
		return nil
	}
	return &Keyed{
		limit:      limit,
		windowSize: windowSize,
		now:        time.Now,
		windows:    make(map[string]*SlidingWindow),
	}
}

func (k *Keyed) window(key string) *SlidingWindow {
	k.mu.Lock()
	defer k.mu.Unlock()
	w, ok := k.windows[key]
	if !ok {
		w = NewSlidingWindow(k.limit, k.windowSize)
		w.now = k.now
		k.windows[key] = w
	}
	return w
}

func (k *Keyed) Allow(key string) bool {
	if k == nil {
		return true
	}
	return k.window(key).Allow()
}

// ResetAt 返回 key 下一次可用的时刻
func (k *Keyed) ResetAt(key string) time.Time {
	if k == nil {
		return time.Now()
	}
	return k.window(key).ResetAt()
}
