package util

import (
	"strings"

	"github.com/lybxkl/snode/common/constant"
)

// Qos 计算服务支持最大qos
func Qos(qos, max byte) byte {
	if max > constant.MaxQosAllowed {
		max = constant.MaxQosAllowed
	}
	if qos > max {
		qos = max
	}
	return qos
}

// TopicClient topic@clientId
func TopicClient(topic, clientId string) string {
	var b strings.Builder
	b.Grow(len(topic) + len(clientId) + 1)
	b.WriteString(topic)
	b.WriteString(constant.TopicClientSeparator)
	b.WriteString(clientId)
	return b.String()
}

// SplitTopicClient 按最后一个分隔符拆分，topic 中允许出现 @
func SplitTopicClient(key string) (topic, clientId string, ok bool) {
	i := strings.LastIndex(key, constant.TopicClientSeparator)
	if i < 0 {
		return "", "", false
	}
	return key[:i], key[i+1:], true
}
