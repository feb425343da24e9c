// Package tasks 提供按 key 串行执行的异步任务队列。
//
// 同一个 key（例如用户 PSID）的任务严格按提交顺序在同一个 goroutine 上执行；
// 不同 key 的任务并行执行。某个 key 的任务全部完成后，它的 goroutine 退出。
package tasks

import (
	"context"
	"errors"
	"sync"
	"time"

	"kb-messenger-bot/pkg/log"
)

var (
	ErrQueueClosed = errors.New("task queue closed")
	ErrQueueFull   = errors.New("task queue full")
)

// Task 是一个在有界 context 下执行的任务。
type Task func(ctx context.Context)

type worker struct {
	pending []Task
}

// KeyedQueue 是按 key 串行的任务队列。
type KeyedQueue struct {
	mu      sync.Mutex
	workers map[string]*worker
	closed  bool
	wg      sync.WaitGroup

	backlog int
	timeout time.Duration
	baseCtx context.Context
	cancel  context.CancelFunc
}

// NewKeyedQueue 创建队列。backlog 是单个 key 允许排队的任务数（不含正在执行的），<= 0 表示不限；
// timeout 是单个任务的执行时限，<= 0 表示不限。
func NewKeyedQueue(backlog int, timeout time.Duration) *KeyedQueue {
	ctx, cancel := context.WithCancel(context.Background())
	return &KeyedQueue{
		workers: make(map[string]*worker),
		backlog: backlog,
		timeout: timeout,
		baseCtx: ctx,
		cancel:  cancel,
	}
}

// Submit 提交任务，不会阻塞。
func (q *KeyedQueue) Submit(key string, task Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}
	w, running := q.workers[key]
	if !running {
		w = &worker{}
		q.workers[key] = w
	}
	if q.backlog > 0 && len(w.pending) >= q.backlog {
		return ErrQueueFull
	}
	w.pending = append(w.pending, task)
	if !running {
		q.wg.Add(1)
		go q.run(key, w)
	}
	return nil
}

func (q *KeyedQueue) run(key string, w *worker) {
	defer q.wg.Done()
	for {
		q.mu.Lock()
		if len(w.pending) == 0 {
			delete(q.workers, key)
			q.mu.Unlock()
			return
		}
		task := w.pending[0]
		w.pending[0] = nil
		w.pending = w.pending[1:]
		q.mu.Unlock()

		q.exec(key, task)
	}
}

func (q *KeyedQueue) exec(key string, task Task) {
	ctx := q.baseCtx
	if q.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("[KeyedQueue] 任务 panic, key: %s, panic: %v", key, r)
		}
	}()
	task(ctx)
}

// Pending 返回当前有任务在执行或排队的 key 数量。
func (q *KeyedQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.workers)
}

// Close 停止接收新任务并等待已提交的任务完成。
// ctx 结束时会取消仍在执行的任务并返回 ctx.Err()。
func (q *KeyedQueue) Close(ctx context.Context) error {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.cancel()
		return nil
	case <-ctx.Done():
		q.cancel()
		<-done
		return ctx.Err()
	}
}
