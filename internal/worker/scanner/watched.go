package scanner

import (
	"sync"
	"treasury-worker/pkg/utils"
)

// WatchedSet 监控地址集合，仅通过显式watch/unwatch变更
type WatchedSet struct {
	mu    sync.RWMutex
	addrs map[string]struct{}
}

func NewWatchedSet() *WatchedSet {
	return &WatchedSet{
		addrs: make(map[string]struct{}),
	}
}

// Watch 归一化并去重加入，重复地址作为skipped返回（幂等）
func (s *WatchedSet) Watch(addresses []string) (added, skipped []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, addr := range addresses {
		norm := utils.NormalizeAddress(addr)
		if norm == "" {
			continue
		}
		if _, exists := s.addrs[norm]; exists {
			skipped = append(skipped, norm)
			continue
		}
		s.addrs[norm] = struct{}{}
		added = append(added, norm)
	}
	return added, skipped
}

// Unwatch 移除地址，不存在时静默
func (s *WatchedSet) Unwatch(address string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.addrs, utils.NormalizeAddress(address))
}

func (s *WatchedSet) Contains(address string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.addrs[utils.NormalizeAddress(address)]
	return ok
}

func (s *WatchedSet) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.addrs)
}

func (s *WatchedSet) List() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.addrs))
	for addr := range s.addrs {
		out = append(out, addr)
	}
	return out
}
