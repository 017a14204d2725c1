package service

import (
	"sort"
	"sync"
	"time"
)

// maxHold 限制在并发写入持续不断时消息被扣留的最长时间。
const maxHold = 250 * time.Millisecond

// sendSequencer 保证同一群组的消息按持久化顺序（id 递增）交给 hub，
// 同时不串行化数据库写入：写入前 begin，写入后 commit/abort。
// 只有当该群组没有在途写入时才释放缓冲的消息，此时之后开始的写入必然拿到更大的 id。
type sendSequencer struct {
	mu     sync.Mutex
	groups map[uint]*groupSeq
}

// groupSeq 的 timer 保证即使某次写入迟迟不结束，缓冲的消息也会在 maxHold 后送出。
// gen 在每次释放后递增，过期的 timer 据此放弃。
type groupSeq struct {
	mu       sync.Mutex
	inflight int
	ready    []MessageDTO
	oldest   time.Time
	emit     func(MessageDTO)
	timer    *time.Timer
	gen      uint64
}

func newSendSequencer() *sendSequencer {
	return &sendSequencer{groups: make(map[uint]*groupSeq)}
}

func (s *sendSequencer) get(groupID uint) *groupSeq {
	s.mu.Lock()
	defer s.mu.Unlock()
	g := s.groups[groupID]
	if g == nil {
		g = &groupSeq{}
		s.groups[groupID] = g
	}
	return g
}

func (s *sendSequencer) begin(groupID uint) {
	g := s.get(groupID)
	g.mu.Lock()
	g.inflight++
	g.mu.Unlock()
}

// commit 登记一条已落库的消息；emit 在持有群组锁时按 id 升序调用，保证与其它批次不交错。
func (s *sendSequencer) commit(groupID uint, msg MessageDTO, emit func(MessageDTO)) {
	g := s.get(groupID)
	g.mu.Lock()
	defer g.mu.Unlock()
	g.inflight--
	g.emit = emit
	first := len(g.ready) == 0
	if first {
		g.oldest = time.Now()
	}
	g.ready = append(g.ready, msg)
	g.flushLocked(emit)
	if first && len(g.ready) > 0 {
		g.armLocked()
	}
}

// abort 用于写入失败的情况：失败的消息不会被广播，但可能需要释放其它已缓冲的消息。
func (s *sendSequencer) abort(groupID uint, emit func(MessageDTO)) {
	g := s.get(groupID)
	g.mu.Lock()
	defer g.mu.Unlock()
	g.inflight--
	g.emit = emit
	g.flushLocked(emit)
}

func (g *groupSeq) flushLocked(emit func(MessageDTO)) {
	if len(g.ready) == 0 {
		return
	}
	if g.inflight > 0 && time.Since(g.oldest) < maxHold {
		return
	}
	g.releaseLocked(emit)
}

// armLocked 为当前这批缓冲启动 maxHold 计时。
func (g *groupSeq) armLocked() {
	gen := g.gen
	g.timer = time.AfterFunc(maxHold, func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		if g.gen != gen || len(g.ready) == 0 {
			return
		}
		g.releaseLocked(g.emit)
	})
}

func (g *groupSeq) releaseLocked(emit func(MessageDTO)) {
	g.gen++
	if g.timer != nil {
		g.timer.Stop()
		g.timer = nil
	}
	sort.Slice(g.ready, func(i, j int) bool { return g.ready[i].ID < g.ready[j].ID })
	for _, m := range g.ready {
		emit(m)
	}
	g.ready = g.ready[:0]
}
