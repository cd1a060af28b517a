package bufpool

import (
	"bytes"
	"sync"
)

// maxRetain 容量超过该值的 buffer 归还时直接丢弃
const maxRetain = 1 << 20

var bufPool = sync.Pool{
	New: func() interface{} {
		return bytes.NewBuffer(make([]byte, 0, 512))
	},
}

// BufferPoolGet 取出的 buffer 一定是空的
func BufferPoolGet() *bytes.Buffer {
	return bufPool.Get().(*bytes.Buffer)
}

func BufferPoolPut(b *bytes.Buffer) {
	if b == nil || b.Cap() > maxRetain {
		return
	}
	b.Reset()
	bufPool.Put(b)
}
