// Package shutdown runs registered cleanup in ordered stages.
package shutdown

import (
	"context"
	"sort"
	"sync"

	"github.com/betbot/botvisor/pkg/logger"
)

// Handler 关闭处理函数；ctx 带有整体关闭超时
type Handler func(ctx context.Context)

type task struct {
	name string
	fn   Handler
}

// Manager 按阶段执行关闭回调：阶段号小的先执行，同一阶段内并发执行
type Manager struct {
	mu     sync.Mutex
	stages map[int][]task
}

func NewManager() *Manager {
	return &Manager{stages: make(map[int][]task)}
}

// OnShutdown 在 stage 阶段注册一个回调，name 用于超时日志
func (m *Manager) OnShutdown(stage int, name string, h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stages[stage] = append(m.stages[stage], task{name: name, fn: h})
}

// Shutdown runs every stage in order and returns the names of handlers that
// had not returned when ctx expired. Stages after a timed-out one are skipped
// and their handlers are reported as well.
func (m *Manager) Shutdown(ctx context.Context) []string {
	m.mu.Lock()
	order := make([]int, 0, len(m.stages))
	for st := range m.stages {
		order = append(order, st)
	}
	stages := make(map[int][]task, len(m.stages))
	for st, ts := range m.stages {
		stages[st] = append([]task(nil), ts...)
	}
	m.mu.Unlock()
	sort.Ints(order)

	var pending []string
	for i, st := range order {
		left := runStage(ctx, stages[st])
		if len(left) == 0 {
			continue
		}
		logger.Warnf("关闭阶段 %d 超时，未完成: %v", st, left)
		pending = append(pending, left...)
		for _, rest := range order[i+1:] {
			for _, t := range stages[rest] {
				pending = append(pending, t.name)
			}
		}
		break
	}
	if len(pending) == 0 {
		logger.Infof("优雅关闭完成（%d 个阶段）", len(order))
	}
	return pending
}

func runStage(ctx context.Context, tasks []task) []string {
	var (
		mu   sync.Mutex
		left = make(map[string]int, len(tasks))
		wg   sync.WaitGroup
	)
	for _, t := range tasks {
		left[t.name]++
	}
	wg.Add(len(tasks))
	for _, t := range tasks {
		go func(t task) {
			defer wg.Done()
			t.fn(ctx)
			mu.Lock()
			if left[t.name]--; left[t.name] == 0 {
				delete(left, t.name)
			}
			mu.Unlock()
		}(t)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
	}

	mu.Lock()
	defer mu.Unlock()
	names := make([]string, 0, len(left))
	for n := range left {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
