// Package presence derives online/offline status from live connection counts.
package presence

import (
	"sync"

	"github.com/SandipWaghchaure7/geocluster-connect/internal/metrics"
)

const shardCount = 32

// Listener 在用户跨越 0->1（online）或 1->0（offline）时被调用。
// 调用发生在该用户所在分片的锁内，同一用户的事件因此严格有序；Listener 不能回调 Tracker。
type Listener func(userID uint, online bool)

// Tracker 按 userID 分片计数，不同用户的更新互不阻塞。
type Tracker struct {
	shards   [shardCount]shard
	listener Listener
}

type shard struct {
	mu     sync.Mutex
	counts map[uint]int
}

func NewTracker(listener Listener) *Tracker {
	t := &Tracker{listener: listener}
	for i := range t.shards {
		t.shards[i].counts = make(map[uint]int)
	}
	return t
}

func (t *Tracker) shardFor(userID uint) *shard {
	return &t.shards[userID%shardCount]
}

// Connected 记录一条新的已识别连接。
func (t *Tracker) Connected(userID uint) {
	s := t.shardFor(userID)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts[userID]++
	if s.counts[userID] == 1 {
		metrics.OnlineUsers.Inc()
		t.emit(userID, true)
	}
}

// Disconnected 记录一条连接的断开；计数不会低于 0。
func (t *Tracker) Disconnected(userID uint) {
	s := t.shardFor(userID)
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.counts[userID]
	if !ok {
		return
	}
	if n > 1 {
		s.counts[userID] = n - 1
		return
	}
	delete(s.counts, userID)
	metrics.OnlineUsers.Dec()
	t.emit(userID, false)
}

func (t *Tracker) emit(userID uint, online bool) {
	if t.listener != nil {
		t.listener(userID, online)
	}
}

func (t *Tracker) IsOnline(userID uint) bool {
	s := t.shardFor(userID)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[userID] > 0
}

// Connections 返回用户当前的在线连接数。
func (t *Tracker) Connections(userID uint) int {
	s := t.shardFor(userID)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[userID]
}

// Online 过滤出 userIDs 中在线的用户，保持输入顺序。
func (t *Tracker) Online(userIDs []uint) []uint {
	out := make([]uint, 0, len(userIDs))
	for _, id := range userIDs {
		if t.IsOnline(id) {
			out = append(out, id)
		}
	}
	return out
}
