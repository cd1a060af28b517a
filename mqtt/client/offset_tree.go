package client

import (
	"sync"

	"github.com/google/btree"
)

type offsetItem struct {
	offset int64
	msg    *MessageExt
}

func (a offsetItem) Less(than btree.Item) bool {
	return a.offset < than.(offsetItem).offset
}

// OffsetTree 一个 topic@clientId 下未确认的 offset，有序
type OffsetTree struct {
	mu   sync.Mutex
	tree *btree.BTree
}

func NewOffsetTree() *OffsetTree {
	return &OffsetTree{tree: btree.New(8)}
}

// Put 返回被替换掉的消息
func (t *OffsetTree) Put(offset int64, msg *MessageExt) *MessageExt {
	t.mu.Lock()
	defer t.mu.Unlock()
	if old := t.tree.ReplaceOrInsert(offsetItem{offset: offset, msg: msg}); old != nil {
		return old.(offsetItem).msg
	}
	return nil
}

// CompareAndRemove 只有 offset 上记录的仍是 msg 时才删除，prev 不为空时放回 prev
func (t *OffsetTree) CompareAndRemove(offset int64, msg, prev *MessageExt) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	item := t.tree.Get(offsetItem{offset: offset})
	if item == nil || item.(offsetItem).msg != msg {
		return false
	}
	if prev != nil {
		t.tree.ReplaceOrInsert(offsetItem{offset: offset, msg: prev})
		return true
	}
	t.tree.Delete(item)
	return true
}

// First 最小的未确认 offset
func (t *OffsetTree) First() (int64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	min := t.tree.Min()
	if min == nil {
		return 0, false
	}
	return min.(offsetItem).offset, true
}

func (t *OffsetTree) Get(offset int64) (*MessageExt, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	item := t.tree.Get(offsetItem{offset: offset})
	if item == nil {
		return nil, false
	}
	return item.(offsetItem).msg, true
}

func (t *OffsetTree) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tree.Len()
}
