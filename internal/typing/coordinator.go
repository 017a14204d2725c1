// Package typing keeps the ephemeral "is typing" state per group and user.
package typing

import (
	"sync"
	"time"
)

// Notifier 接收 idle<->typing 的状态切换。
type Notifier interface {
	BroadcastTyping(groupID, userID uint, username string)
	BroadcastStopTyping(groupID, userID uint)
}

type key struct {
	groupID uint
	userID  uint
}

// entry 的 gen 充当取消令牌：刷新时递增，过期回调只有在 gen 未变时才生效。
type entry struct {
	gen   uint64
	timer *time.Timer
}

// Coordinator 不持久化任何状态，进程重启后全部为 idle。
type Coordinator struct {
	mu       sync.Mutex
	timeout  time.Duration
	notifier Notifier
	entries  map[key]*entry
}

func NewCoordinator(timeout time.Duration, notifier Notifier) *Coordinator {
	return &Coordinator{timeout: timeout, notifier: notifier, entries: make(map[key]*entry)}
}

// Typing 进入或刷新 typing 状态；只有 idle->typing 会触发广播。
func (c *Coordinator) Typing(groupID, userID uint, username string) {
	k := key{groupID, userID}
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[k]
	if ok {
		e.timer.Stop()
		e.gen++
	} else {
		e = &entry{}
		c.entries[k] = e
		c.notifier.BroadcastTyping(groupID, userID, username)
	}
	gen := e.gen
	e.timer = time.AfterFunc(c.timeout, func() { c.expire(k, gen) })
}

// Stop 显式结束 typing；本就 idle 时什么也不做。
func (c *Coordinator) Stop(groupID, userID uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked(key{groupID, userID})
}

// ClearUser 结束该用户在所有群组中的 typing 状态，用于用户下线。
func (c *Coordinator) ClearUser(userID uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.entries {
		if k.userID == userID {
			c.stopLocked(k)
		}
	}
}

func (c *Coordinator) IsTyping(groupID, userID uint) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[key{groupID, userID}]
	return ok
}

func (c *Coordinator) expire(k key, gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[k]
	if !ok || e.gen != gen {
		return
	}
	delete(c.entries, k)
	c.notifier.BroadcastStopTyping(k.groupID, k.userID)
}

func (c *Coordinator) stopLocked(k key) {
	e, ok := c.entries[k]
	if !ok {
		return
	}
	e.timer.Stop()
	delete(c.entries, k)
	c.notifier.BroadcastStopTyping(k.groupID, k.userID)
}
