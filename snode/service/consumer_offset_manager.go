package service

import (
	"strconv"
	"strings"

	"github.com/lybxkl/snode/util/collection"
)

type LocalConsumerOffsetManager struct {
	offsets *collection.SafeMap // enode@group@topic@queueId -> int64
}

func NewLocalConsumerOffsetManager() *LocalConsumerOffsetManager {
	return &LocalConsumerOffsetManager{offsets: collection.NewSafeMap()}
}

func offsetKey(enodeName, group, topic string, queueId int32) string {
	return strings.Join([]string{enodeName, group, topic, strconv.Itoa(int(queueId))}, "@")
}

func (m *LocalConsumerOffsetManager) QueryCacheOffset(enodeName, group, topic string, queueId int32) int64 {
	v, ok := m.offsets.Get(offsetKey(enodeName, group, topic, queueId))
	if !ok {
		return -1
	}
	return v.(int64)
}

func (m *LocalConsumerOffsetManager) CacheOffset(enodeName, group, topic string, queueId int32, offset int64) {
	m.offsets.Set(offsetKey(enodeName, group, topic, queueId), offset)
}
