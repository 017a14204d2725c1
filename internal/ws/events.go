package ws

import (
	"encoding/json"

	"github.com/SandipWaghchaure7/geocluster-connect/internal/service"
)

// 客户端发往服务端的命令。
const (
	CmdIdentify    = "identify"
	CmdJoinRoom    = "join-room"
	CmdLeaveRoom   = "leave-room"
	CmdSendMessage = "send-message"
	CmdTyping      = "typing"
	CmdStopTyping  = "stop-typing"
)

// 服务端推送给客户端的事件。
const (
	EventMessageReceived   = "message-received"
	EventMessageDeleted    = "message-deleted"
	EventUserTyping        = "user-typing"
	EventUserStoppedTyping = "user-stopped-typing"
	EventPresenceChanged   = "presence-changed"
	EventError             = "error"
)

type InboundMessage struct {
	Type          string `json:"type"`
	GroupID       uint   `json:"group_id"`
	UserID        uint   `json:"user_id"`
	Content       string `json:"content"`
	Kind          string `json:"kind"`
	AttachmentURL string `json:"attachment_url"`
}

type OutboundEvent struct {
	Type      string              `json:"type"`
	GroupID   uint                `json:"group_id,omitempty"`
	Message   *service.MessageDTO `json:"message,omitempty"`
	MessageID uint                `json:"message_id,omitempty"`
	UserID    uint                `json:"user_id,omitempty"`
	Username  string              `json:"username,omitempty"`
	IsOnline  *bool               `json:"is_online,omitempty"`
	Command   string              `json:"command,omitempty"`
	Error     string              `json:"error,omitempty"`
}

// target 是投递谓词：GroupID 为 0 表示所有已识别连接；ExcludeUser 的连接不会收到事件。
type target struct {
	groupID     uint
	excludeUser uint
}

func (t target) accepts(c *Client) bool {
	return t.excludeUser == 0 || c.UserID() != t.excludeUser
}

// Envelope 是跨实例转发的事件，Payload 为已编码的 OutboundEvent。
type Envelope struct {
	Origin      string          `json:"origin"`
	GroupID     uint            `json:"group_id"`
	ExcludeUser uint            `json:"exclude_user,omitempty"`
	Payload     json.RawMessage `json:"payload"`
}
