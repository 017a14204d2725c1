package ws

import (
	"encoding/json"
	"time"

	"github.com/SandipWaghchaure7/geocluster-connect/internal/metrics"
	"github.com/SandipWaghchaure7/geocluster-connect/internal/presence"
	"github.com/SandipWaghchaure7/geocluster-connect/internal/service"
	"github.com/SandipWaghchaure7/geocluster-connect/internal/typing"

	"github.com/rs/zerolog/log"
)

// Hub 把连接注册表、在线状态与 typing 状态组合成实时层。
// 广播在调用方 goroutine 中完成：编码一次，向每个目标连接非阻塞入队。
type Hub struct {
	reg      *Registry
	presence *presence.Tracker
	typing   *typing.Coordinator
	relay    Relay
}

func NewHub(typingTimeout time.Duration) *Hub {
	h := &Hub{}
	h.presence = presence.NewTracker(h.onPresence)
	h.typing = typing.NewCoordinator(typingTimeout, h)
	h.reg = NewRegistry(h.presence)
	return h
}

// SetRelay 必须在开始接受连接之前调用。
func (h *Hub) SetRelay(r Relay) { h.relay = r }

func (h *Hub) Register(c *Client) {
	h.reg.Add(c)
	metrics.WsConnections.Inc()
}

func (h *Hub) Identify(c *Client, userID uint, username string) error {
	return h.reg.Identify(c, userID, username)
}

func (h *Hub) JoinRoom(c *Client, groupID uint) error {
	return h.reg.JoinRoom(c, groupID)
}

// LeaveRoom 在该用户最后一条连接离开群组时结束其 typing 状态。
func (h *Hub) LeaveRoom(c *Client, groupID uint) error {
	if err := h.reg.LeaveRoom(c, groupID); err != nil {
		return err
	}
	if userID := c.UserID(); userID != 0 && !h.reg.UserInRoom(userID, groupID) {
		h.typing.Stop(groupID, userID)
	}
	return nil
}

// Disconnect 可重复调用；只有第一次会更新计数。
func (h *Hub) Disconnect(c *Client) {
	if h.reg.Drop(c) {
		metrics.WsConnections.Dec()
	}
	c.close()
}

func (h *Hub) dropSlow(c *Client) {
	metrics.SlowConsumerDropsTotal.Inc()
	log.Warn().Str("conn_id", c.id).Uint("user_id", c.UserID()).Msg("dropping slow consumer")
	go h.Disconnect(c)
}

func (h *Hub) IsOnline(userID uint) bool { return h.presence.IsOnline(userID) }

// OnlineAmong 返回 userIDs 中当前在线的用户。
func (h *Hub) OnlineAmong(userIDs []uint) []uint { return h.presence.Online(userIDs) }

// RoomSize 返回本实例中订阅该群组的连接数。
func (h *Hub) RoomSize(groupID uint) int {
	return len(h.reg.ConnectionsInRoom(groupID))
}

func (h *Hub) BroadcastMessage(msg service.MessageDTO) {
	h.deliver(target{groupID: msg.GroupID}, OutboundEvent{
		Type:    EventMessageReceived,
		GroupID: msg.GroupID,
		Message: &msg,
	}, true)
}

func (h *Hub) BroadcastDeleted(groupID, messageID uint) {
	h.deliver(target{groupID: groupID}, OutboundEvent{
		Type:      EventMessageDeleted,
		GroupID:   groupID,
		MessageID: messageID,
	}, true)
}

func (h *Hub) BroadcastTyping(groupID, userID uint, username string) {
	h.deliver(target{groupID: groupID, excludeUser: userID}, OutboundEvent{
		Type:     EventUserTyping,
		GroupID:  groupID,
		UserID:   userID,
		Username: username,
	}, true)
}

func (h *Hub) BroadcastStopTyping(groupID, userID uint) {
	h.deliver(target{groupID: groupID, excludeUser: userID}, OutboundEvent{
		Type:    EventUserStoppedTyping,
		GroupID: groupID,
		UserID:  userID,
	}, true)
}

// BroadcastPresence 推送给本实例所有已识别连接。在线计数是实例本地的，因此不经 relay 转发。
func (h *Hub) BroadcastPresence(userID uint, online bool) {
	h.deliver(target{}, OutboundEvent{
		Type:     EventPresenceChanged,
		UserID:   userID,
		IsOnline: &online,
	}, false)
}

// onPresence 在 presence 分片锁内被调用；下线时先清理 typing，再广播状态。
func (h *Hub) onPresence(userID uint, online bool) {
	if !online {
		h.typing.ClearUser(userID)
	}
	h.BroadcastPresence(userID, online)
}

// DeliverRemote 投递来自其他实例的事件，不再回发到 relay。
func (h *Hub) DeliverRemote(env Envelope) {
	h.fanout(target{groupID: env.GroupID, excludeUser: env.ExcludeUser}, env.Payload)
}

func (h *Hub) deliver(t target, evt OutboundEvent, relayed bool) {
	b, err := json.Marshal(evt)
	if err != nil {
		log.Error().Err(err).Str("type", evt.Type).Msg("encode event")
		return
	}
	metrics.BroadcastEventsTotal.WithLabelValues(evt.Type).Inc()
	h.fanout(t, b)
	if relayed && h.relay != nil {
		h.relay.Publish(Envelope{GroupID: t.groupID, ExcludeUser: t.excludeUser, Payload: b})
	}
}

func (h *Hub) fanout(t target, b []byte) {
	var slow []*Client
	visit := func(c *Client) {
		if !t.accepts(c) {
			return
		}
		if !c.enqueue(b) {
			slow = append(slow, c)
		}
	}
	if t.groupID == 0 {
		h.reg.forEachIdentified(visit)
	} else {
		h.reg.forEachInRoom(t.groupID, visit)
	}
	for _, c := range slow {
		h.dropSlow(c)
	}
}
