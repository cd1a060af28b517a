package remoting

import (
	"time"

	"github.com/lybxkl/snode/remoting/protocol"
	"github.com/lybxkl/snode/util/collection"
)

// ResponseTable opaque -> *ResponseFuture
// 响应和超时扫描都通过 Take 取出表项，谁先取到谁完成，另一方什么也拿不到
type ResponseTable struct {
	table *collection.SafeMap
}

func NewResponseTable() *ResponseTable {
	return &ResponseTable{table: collection.NewSafeMap()}
}

func (t *ResponseTable) Put(f *ResponseFuture) {
	t.table.Set(f.opaque, f)
}

func (t *ResponseTable) Take(opaque int32) (*ResponseFuture, bool) {
	v, ok := t.table.GetDel(opaque)
	if !ok {
		return nil, false
	}
	return v.(*ResponseFuture), true
}

func (t *ResponseTable) Size() int {
	return t.table.Size()
}

func (t *ResponseTable) take(match func(f *ResponseFuture) bool) []*ResponseFuture {
	var keys []int32
	_ = t.table.Range(func(k, v interface{}) error {
		if match(v.(*ResponseFuture)) {
			keys = append(keys, k.(int32))
		}
		return nil
	})
	out := make([]*ResponseFuture, 0, len(keys))
	for _, opaque := range keys {
		if f, ok := t.Take(opaque); ok {
			out = append(out, f)
		}
	}
	return out
}

// TakeExpired 取出所有已超时的请求
func (t *ResponseTable) TakeExpired(now time.Time) []*ResponseFuture {
	return t.take(func(f *ResponseFuture) bool { return f.IsTimeout(now) })
}

// TakeByChannel 连接断开时取出该连接上的全部请求
func (t *ResponseTable) TakeByChannel(ch RemotingChannel) []*ResponseFuture {
	return t.take(func(f *ResponseFuture) bool { return f.channel == ch })
}

func (t *ResponseTable) TakeAll() []*ResponseFuture {
	return t.take(func(*ResponseFuture) bool { return true })
}

// ScanResponseTable 超时的请求以 ErrRemotingTimeout 结束
func (t *ResponseTable) ScanResponseTable(now time.Time) int {
	expired := t.TakeExpired(now)
	for _, f := range expired {
		f.complete(nil, ErrRemotingTimeout)
	}
	return len(expired)
}

// ProcessResponse 收到响应，表里没有对应请求（已超时）时返回 false
func (t *ResponseTable) ProcessResponse(resp *protocol.RemotingCommand) bool {
	f, ok := t.Take(resp.Opaque)
	if !ok {
		return false
	}
	return f.complete(resp, nil)
}

// FailRequest 发送失败时移除并以 err 结束
func (t *ResponseTable) FailRequest(opaque int32, err error) bool {
	f, ok := t.Take(opaque)
	if !ok {
		return false
	}
	return f.complete(nil, err)
}
