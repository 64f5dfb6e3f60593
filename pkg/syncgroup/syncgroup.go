package syncgroup

import (
	"sync"
)

type syncGroupFunc func()

// SyncGroup 是 sync.WaitGroup 的包装器，简化 goroutine 生命周期管理
// 自动管理 Add() 和 Done()
type SyncGroup struct {
	wg sync.WaitGroup

	sgFuncsMu sync.Mutex
	sgFuncs   []syncGroupFunc
}

// NewSyncGroup 创建新的 SyncGroup
func NewSyncGroup() *SyncGroup {
	return &SyncGroup{}
}

// Add 添加一个 goroutine 函数，在下一次 Run() 时启动
func (w *SyncGroup) Add(fn syncGroupFunc) {
	if fn == nil {
		return
	}
	w.sgFuncsMu.Lock()
	defer w.sgFuncsMu.Unlock()
	w.sgFuncs = append(w.sgFuncs, fn)
}

// Run 启动所有已添加的 goroutine 并清空函数列表，避免重复启动
func (w *SyncGroup) Run() {
	w.sgFuncsMu.Lock()
	fns := w.sgFuncs
	w.sgFuncs = nil
	w.wg.Add(len(fns))
	w.sgFuncsMu.Unlock()

	for _, fn := range fns {
		go func(doFunc syncGroupFunc) {
			defer w.wg.Done()
			doFunc()
		}(fn)
	}
}

// Wait 等待所有 goroutine 完成
func (w *SyncGroup) Wait() {
	w.wg.Wait()
}
