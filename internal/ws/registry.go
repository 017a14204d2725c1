package ws

import (
	"errors"
	"sync"
)

var ErrUnknownConnection = errors.New("unknown connection")

// Observer 接收连接的身份变化，presence.Tracker 实现该接口。
type Observer interface {
	Connected(userID uint)
	Disconnected(userID uint)
}

// Registry 独占所有在线连接及其房间关系。
// 顶层索引由 mu 保护，每个房间有自己的锁，不同房间的 join/leave/广播互不阻塞。
type Registry struct {
	mu       sync.RWMutex
	conns    map[string]*Client
	users    map[uint]map[*Client]struct{}
	rooms    map[uint]*room
	observer Observer
}

type room struct {
	mu      sync.RWMutex
	members map[*Client]struct{}
}

func NewRegistry(observer Observer) *Registry {
	return &Registry{
		conns:    make(map[string]*Client),
		users:    make(map[uint]map[*Client]struct{}),
		rooms:    make(map[uint]*room),
		observer: observer,
	}
}

// Add 登记一条尚未识别身份的连接。
func (r *Registry) Add(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[c.id] = c
}

func (r *Registry) Lookup(id string) *Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.conns[id]
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Identify 把连接绑定到用户；重复绑定会改绑（视为客户端 bug，但允许）。
func (r *Registry) Identify(c *Client, userID uint, username string) error {
	c.life.Lock()
	defer c.life.Unlock()

	r.mu.Lock()
	if r.conns[c.id] != c {
		r.mu.Unlock()
		return ErrUnknownConnection
	}
	old := c.UserID()
	c.setIdentity(userID, username)
	if old == userID {
		r.mu.Unlock()
		return nil
	}
	if old != 0 {
		r.removeUserLocked(old, c)
	}
	set := r.users[userID]
	if set == nil {
		set = make(map[*Client]struct{})
		r.users[userID] = set
	}
	set[c] = struct{}{}
	r.mu.Unlock()

	if old != 0 {
		r.observer.Disconnected(old)
	}
	r.observer.Connected(userID)
	return nil
}

// JoinRoom 是传输层订阅，不做鉴权；重复加入是空操作。
func (r *Registry) JoinRoom(c *Client, groupID uint) error {
	rm := r.room(groupID)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dropped {
		return ErrUnknownConnection
	}
	if _, ok := c.rooms[groupID]; ok {
		return nil
	}
	c.rooms[groupID] = struct{}{}
	rm.mu.Lock()
	rm.members[c] = struct{}{}
	rm.mu.Unlock()
	return nil
}

// LeaveRoom 离开从未加入的房间是空操作。
func (r *Registry) LeaveRoom(c *Client, groupID uint) error {
	rm := r.room(groupID)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dropped {
		return ErrUnknownConnection
	}
	if _, ok := c.rooms[groupID]; !ok {
		return nil
	}
	delete(c.rooms, groupID)
	rm.mu.Lock()
	delete(rm.members, c)
	rm.mu.Unlock()
	return nil
}

// Drop 移除连接及其全部房间关系；若是该用户最后一条连接，Observer 会收到下线。
// 对未知或已移除的连接返回 false。
func (r *Registry) Drop(c *Client) bool {
	c.life.Lock()
	defer c.life.Unlock()

	r.mu.Lock()
	if r.conns[c.id] != c {
		r.mu.Unlock()
		return false
	}
	delete(r.conns, c.id)
	userID := c.UserID()
	if userID != 0 {
		r.removeUserLocked(userID, c)
	}
	r.mu.Unlock()

	c.mu.Lock()
	c.dropped = true
	joined := c.rooms
	c.rooms = make(map[uint]struct{})
	c.mu.Unlock()
	for groupID := range joined {
		rm := r.room(groupID)
		rm.mu.Lock()
		delete(rm.members, c)
		rm.mu.Unlock()
	}

	if userID != 0 {
		r.observer.Disconnected(userID)
	}
	return true
}

// ConnectionsInRoom 返回房间内连接的快照。
func (r *Registry) ConnectionsInRoom(groupID uint) []*Client {
	var out []*Client
	r.forEachInRoom(groupID, func(c *Client) { out = append(out, c) })
	return out
}

// UserInRoom 报告该用户是否仍有连接订阅着群组。
func (r *Registry) UserInRoom(userID, groupID uint) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for c := range r.users[userID] {
		if c.InRoom(groupID) {
			return true
		}
	}
	return false
}

// forEachInRoom 在房间读锁内逐个调用 fn，fn 不能修改房间成员。
func (r *Registry) forEachInRoom(groupID uint, fn func(*Client)) {
	r.mu.RLock()
	rm := r.rooms[groupID]
	r.mu.RUnlock()
	if rm == nil {
		return
	}
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	for c := range rm.members {
		fn(c)
	}
}

// forEachIdentified 遍历所有已识别身份的连接。
func (r *Registry) forEachIdentified(fn func(*Client)) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, set := range r.users {
		for c := range set {
			fn(c)
		}
	}
}

// room 懒加载房间；房间创建后不会被回收，数量受群组数量约束。
func (r *Registry) room(groupID uint) *room {
	r.mu.RLock()
	rm := r.rooms[groupID]
	r.mu.RUnlock()
	if rm != nil {
		return rm
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	rm = r.rooms[groupID]
	if rm != nil {
		return rm
	}
	rm = &room{members: make(map[*Client]struct{})}
	r.rooms[groupID] = rm
	return rm
}

func (r *Registry) removeUserLocked(userID uint, c *Client) {
	set := r.users[userID]
	delete(set, c)
	if len(set) == 0 {
		delete(r.users, userID)
	}
}
