package service

import (
	"fmt"
	"sync"

	"github.com/lybxkl/snode/snode/gcfg"
)

// StaticNnodeService 按配置的 enode 表解析地址
type StaticNnodeService struct {
	mu     sync.RWMutex
	enodes map[string][]gcfg.Enode
}

func NewStaticNnodeService(enodes []gcfg.Enode) *StaticNnodeService {
	s := &StaticNnodeService{}
	s.Update(enodes)
	return s
}

// Update 整体替换路由表
func (s *StaticNnodeService) Update(enodes []gcfg.Enode) {
	table := make(map[string][]gcfg.Enode, len(enodes))
	for _, e := range enodes {
		table[e.Name] = append(table[e.Name], e)
	}
	s.mu.Lock()
	s.enodes = table
	s.mu.Unlock()
}

func (s *StaticNnodeService) GetAddressByEnodeName(enodeName string, preferLocal bool) (string, error) {
	s.mu.RLock()
	entries := s.enodes[enodeName]
	s.mu.RUnlock()
	if len(entries) == 0 {
		return "", fmt.Errorf("%w: %s", ErrEnodeUnresolvable, enodeName)
	}
	if preferLocal {
		for _, e := range entries {
			if e.Local {
				return e.Addr, nil
			}
		}
	}
	return entries[0].Addr, nil
}
