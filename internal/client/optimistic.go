package client

import (
	"context"
	"sync"
)

// Optimistic 持有一份本地状态。Apply 先在本地生效，远端调用失败后回到调用前的快照。
//
// 回滚只在这期间没有更新的 Apply/Set 时发生；否则保留较新的本地状态，
// 由调用方随后从服务端重新同步。
type Optimistic[T any] struct {
	mu      sync.Mutex
	value   T
	version uint64
	clone   func(T) T
}

// NewOptimistic 的 clone 必须返回与原值不共享可变内存的副本。
func NewOptimistic[T any](initial T, clone func(T) T) *Optimistic[T] {
	return &Optimistic[T]{value: initial, clone: clone}
}

// Get 返回当前状态的副本。
func (o *Optimistic[T]) Get() T {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.clone(o.value)
}

// Set 用服务端结果整体替换本地状态。
func (o *Optimistic[T]) Set(v T) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.value = v
	o.version++
}

// Update 在锁内修改状态，不涉及远端调用。
func (o *Optimistic[T]) Update(mutate func(*T)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	mutate(&o.value)
	o.version++
}

// Apply 立即执行 mutate，然后调用 commit；commit 出错时回滚并原样返回错误。
func (o *Optimistic[T]) Apply(ctx context.Context, mutate func(*T), commit func(context.Context) error) error {
	o.mu.Lock()
	snapshot := o.clone(o.value)
	mutate(&o.value)
	o.version++
	applied := o.version
	o.mu.Unlock()

	err := commit(ctx)
	if err == nil {
		return nil
	}

	o.mu.Lock()
	if o.version == applied {
		o.value = snapshot
		o.version++
	}
	o.mu.Unlock()
	return err
}
