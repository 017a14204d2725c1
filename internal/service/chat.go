package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/SandipWaghchaure7/geocluster-connect/internal/metrics"
	"github.com/SandipWaghchaure7/geocluster-connect/internal/models"

	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
)

// Broadcaster 由实时 hub 实现；ChatService 只在消息成功落库之后调用它。
type Broadcaster interface {
	BroadcastMessage(msg MessageDTO)
	BroadcastDeleted(groupID, messageID uint)
}

// ChatService 是消息子系统的控制层：先鉴权，再持久化，最后交给 hub 扇出。
type ChatService struct {
	members  *MembershipService
	messages *MessageService
	hub      Broadcaster
	seq      *sendSequencer
}

func NewChatService(members *MembershipService, messages *MessageService, hub Broadcaster) *ChatService {
	return &ChatService{members: members, messages: messages, hub: hub, seq: newSendSequencer()}
}

type SendInput struct {
	GroupID       uint
	SenderID      uint
	Content       string
	Kind          string
	AttachmentURL string
}

// Authorize 用于 join-room 等需要成员身份的操作。
func (s *ChatService) Authorize(ctx context.Context, groupID, userID uint) error {
	return s.members.Authorize(ctx, groupID, userID)
}

// History 返回群组最近的消息，调用者必须是成员。
func (s *ChatService) History(ctx context.Context, groupID, userID uint, limit int, beforeID uint) ([]MessageDTO, error) {
	if err := s.members.Authorize(ctx, groupID, userID); err != nil {
		return nil, err
	}
	return s.messages.ListRecent(ctx, groupID, limit, beforeID)
}

// Send 鉴权并持久化消息，成功后按持久化顺序广播；写入失败的消息不会到达 hub。
func (s *ChatService) Send(ctx context.Context, in SendInput) (*MessageDTO, error) {
	if err := s.members.Authorize(ctx, in.GroupID, in.SenderID); err != nil {
		return nil, err
	}
	kind, err := models.ParseKind(in.Kind)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}

	s.seq.begin(in.GroupID)
	msg, err := s.messages.Append(ctx, AppendInput{
		GroupID:       in.GroupID,
		SenderID:      in.SenderID,
		Content:       in.Content,
		Kind:          kind,
		AttachmentURL: in.AttachmentURL,
	})
	if err != nil {
		s.seq.abort(in.GroupID, s.hub.BroadcastMessage)
		return nil, err
	}
	metrics.WsMessagesTotal.Inc()
	s.seq.commit(in.GroupID, *msg, s.hub.BroadcastMessage)
	return msg, nil
}

// MarkRead 只对调用者所在群组的消息生效，其余 id 与不存在的 id 一样被跳过。
func (s *ChatService) MarkRead(ctx context.Context, userID uint, messageIDs []uint) error {
	groups, err := s.messages.GroupsOf(ctx, messageIDs)
	if err != nil {
		return err
	}
	allowed := make(map[uint]bool)
	for _, gid := range lo.Uniq(lo.Values(groups)) {
		ok, err := s.members.IsMember(ctx, gid, userID)
		if err != nil && !errors.Is(err, ErrGroupNotFound) {
			return err
		}
		allowed[gid] = ok
	}
	ids := lo.Filter(lo.Keys(groups), func(id uint, _ int) bool { return allowed[groups[id]] })
	if len(ids) == 0 {
		return nil
	}
	// ids 已经过存在性与成员过滤；写入时仍会跳过期间被删除的消息。
	return s.messages.MarkRead(ctx, ids, userID)
}

// Delete 删除自己发送的消息，并通知房间内的在线连接。
func (s *ChatService) Delete(ctx context.Context, userID, messageID uint) error {
	msg, err := s.messages.Delete(ctx, messageID, userID)
	if err != nil {
		return err
	}
	log.Debug().Uint("message_id", messageID).Uint("group_id", msg.GroupID).Msg("message deleted")
	s.hub.BroadcastDeleted(msg.GroupID, msg.ID)
	return nil
}

// Members 返回成员快照，调用者必须是成员。
func (s *ChatService) Members(ctx context.Context, groupID, userID uint) (*Snapshot, error) {
	if err := s.members.Authorize(ctx, groupID, userID); err != nil {
		return nil, err
	}
	return s.members.Snapshot(ctx, groupID)
}
