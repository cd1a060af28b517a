package gopool

import (
	"errors"
	"io"
	"sync"

	"github.com/panjf2000/ants/v2"

	. "github.com/lybxkl/snode/common/log"
	"github.com/lybxkl/snode/util"
)

var (
	mu            sync.RWMutex
	taskGPool     *ants.Pool
	taskGPoolSize int
)

// InitServiceTaskPool rpc 回调、连接处理都跑在这个池子里
func InitServiceTaskPool(poolSize int) (close io.Closer) {
	pool, err := ants.NewPool(poolSize, ants.WithPanicHandler(func(i interface{}) {
		Log.Errorf("协程池处理错误：%v", i)
	}), ants.WithNonblocking(true))
	util.MustPanic(err)

	mu.Lock()
	taskGPool = pool
	taskGPoolSize = poolSize
	mu.Unlock()
	return &closer{}
}

type closer struct {
}

func (closer closer) Close() error {
	mu.Lock()
	defer mu.Unlock()
	if taskGPool != nil {
		taskGPool.Release()
		taskGPool = nil
	}
	return nil
}

// Submit 提交任务，池子未初始化或者提交失败时退化为直接起协程，任务不会丢
func Submit(f func()) {
	mu.RLock()
	pool := taskGPool
	mu.RUnlock()
	if pool == nil {
		GoSafe(f)
		return
	}
	if err := pool.Submit(f); err != nil {
		dealAntsErr(pool, err)
		GoSafe(f)
	}
}

func dealAntsErr(pool *ants.Pool, err error) {
	if errors.Is(err, ants.ErrPoolClosed) {
		Log.Errorf("协程池错误：%v", err.Error())
		return
	}
	if errors.Is(err, ants.ErrPoolOverload) {
		Log.Warnf("协程池超载：%v", err.Error())
		pool.Tune(int(float64(taskGPoolSize) * 1.25))
		return
	}
	Log.Errorf("线程池处理异常：%v", err)
}
