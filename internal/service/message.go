package service

import (
	"context"
	"fmt"
	"time"

	"github.com/SandipWaghchaure7/geocluster-connect/internal/models"

	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 200
)

// MessageService 是消息存储：只负责持久化与读回执，不做成员校验（由 ChatService 负责）。
type MessageService struct {
	db           *gorm.DB
	defaultLimit int
	maxLimit     int
}

// NewMessageService 的 limit 参数为 0 时使用包内默认值。
func NewMessageService(db *gorm.DB, defaultLimit, maxLimit int) *MessageService {
	if maxLimit <= 0 {
		maxLimit = MaxHistoryLimit
	}
	if defaultLimit <= 0 || defaultLimit > maxLimit {
		defaultLimit = min(DefaultHistoryLimit, maxLimit)
	}
	return &MessageService{db: db, defaultLimit: defaultLimit, maxLimit: maxLimit}
}

// ReadReceipt 记录某个用户首次标记已读的时间。
type ReadReceipt struct {
	UserID uint      `json:"user_id"`
	ReadAt time.Time `json:"read_at"`
}

// MessageDTO 是对外输出的消息数据，REST 响应与 WS 推送共用。
type MessageDTO struct {
	ID                uint               `json:"id"`
	GroupID           uint               `json:"group_id"`
	SenderID          uint               `json:"sender_id"`
	SenderDisplayName string             `json:"sender_display_name"`
	Content           string             `json:"content"`
	Kind              models.MessageKind `json:"kind"`
	AttachmentURL     string             `json:"attachment_url,omitempty"`
	CreatedAt         time.Time          `json:"created_at"`
	ReadBy            []ReadReceipt      `json:"read_by"`
}

type AppendInput struct {
	GroupID       uint
	SenderID      uint
	Content       string
	Kind          models.MessageKind
	AttachmentURL string
}

// Limit 把调用方给出的 limit 规范到 [1, maxLimit]，非正数取默认值。
func (s *MessageService) Limit(limit int) int {
	if limit <= 0 {
		return s.defaultLimit
	}
	return min(limit, s.maxLimit)
}

// ListRecent 返回最近 limit 条消息（可选 beforeID 游标），按 id 升序。
func (s *MessageService) ListRecent(ctx context.Context, groupID uint, limit int, beforeID uint) ([]MessageDTO, error) {
	limit = s.Limit(limit)

	q := s.db.WithContext(ctx).Where("group_id = ?", groupID)
	if beforeID > 0 {
		q = q.Where("id < ?", beforeID)
	}

	var msgs []models.Message
	err := q.Preload("Reads", func(tx *gorm.DB) *gorm.DB {
		return tx.Order("read_at asc, user_id asc")
	}).Order("id desc").Limit(limit).Find(&msgs).Error
	if err != nil {
		return nil, storeErr("list messages", err)
	}

	// 反转为升序
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}

	usernames, err := s.resolveUsernames(ctx, msgs)
	if err != nil {
		return nil, storeErr("list message users", err)
	}

	out := make([]MessageDTO, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, toDTO(m, usernames[m.SenderID]))
	}
	return out, nil
}

// Append 校验并持久化一条消息，CreatedAt 在写入成功时确定。
func (s *MessageService) Append(ctx context.Context, in AppendInput) (*MessageDTO, error) {
	if err := in.Kind.Validate(in.Content, in.AttachmentURL); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	msg := models.Message{
		GroupID:       in.GroupID,
		SenderID:      in.SenderID,
		Content:       in.Content,
		Kind:          in.Kind,
		AttachmentURL: in.AttachmentURL,
	}
	if err := s.db.WithContext(ctx).Create(&msg).Error; err != nil {
		return nil, storeErr("append message", err)
	}

	// 消息已落库，展示名查询失败不影响结果。
	usernames, err := s.resolveUsernames(ctx, []models.Message{msg})
	if err != nil {
		log.Warn().Err(err).Uint("message_id", msg.ID).Msg("resolve sender name")
	}
	dto := toDTO(msg, usernames[msg.SenderID])
	return &dto, nil
}

// GroupsOf 返回存在的消息 id 到所属群组的映射，不存在的 id 被忽略。
func (s *MessageService) GroupsOf(ctx context.Context, messageIDs []uint) (map[uint]uint, error) {
	ids := lo.Uniq(messageIDs)
	out := make(map[uint]uint, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var rows []models.Message
	if err := s.db.WithContext(ctx).Select("id", "group_id").Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, storeErr("load message groups", err)
	}
	for _, r := range rows {
		out[r.ID] = r.GroupID
	}
	return out, nil
}

// MarkRead 把 (userID, now) 并入每条消息的已读集合；重复标记与不存在的 id 都是空操作。
func (s *MessageService) MarkRead(ctx context.Context, messageIDs []uint, userID uint) error {
	ids := lo.Uniq(messageIDs)
	if len(ids) == 0 {
		return nil
	}
	// 只为仍然存在的消息写入回执；postgres 下持有行共享锁，与 Delete 的行锁互斥。
	// sqlite 的写入本身是串行的。
	lock := ""
	if s.db.Dialector.Name() == "postgres" {
		lock = " FOR SHARE"
	}
	err := s.db.WithContext(ctx).Exec(fmt.Sprintf(markReadSQL, lock), userID, time.Now(), ids).Error
	if err != nil {
		return storeErr("mark read", err)
	}
	return nil
}

const markReadSQL = `INSERT INTO message_reads (message_id, user_id, read_at)
SELECT id, ?, ? FROM messages WHERE id IN ?%s
ON CONFLICT DO NOTHING`

// Delete 只允许原发送者删除，返回被删除的消息。
func (s *MessageService) Delete(ctx context.Context, messageID, requesterID uint) (*models.Message, error) {
	var msg models.Message
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&msg, messageID).Error; err != nil {
			if isNotFound(err) {
				return ErrMessageNotFound
			}
			return storeErr("load message", err)
		}
		if msg.SenderID != requesterID {
			return ErrForbidden
		}
		if err := tx.Where("message_id = ?", messageID).Delete(&models.MessageRead{}).Error; err != nil {
			return storeErr("delete receipts", err)
		}
		if err := tx.Delete(&models.Message{}, messageID).Error; err != nil {
			return storeErr("delete message", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// resolveUsernames 批量获取消息涉及的用户名。
func (s *MessageService) resolveUsernames(ctx context.Context, msgs []models.Message) (map[uint]string, error) {
	userIDs := lo.Uniq(lo.Map(msgs, func(m models.Message, _ int) uint { return m.SenderID }))

	usernames := make(map[uint]string, len(userIDs))
	if len(userIDs) > 0 {
		var users []models.User
		if err := s.db.WithContext(ctx).Select("id", "username").Where("id IN ?", userIDs).Find(&users).Error; err != nil {
			return nil, err
		}
		for _, u := range users {
			usernames[u.ID] = u.Username
		}
	}
	return usernames, nil
}

func toDTO(m models.Message, senderName string) MessageDTO {
	readBy := make([]ReadReceipt, 0, len(m.Reads))
	for _, r := range m.Reads {
		readBy = append(readBy, ReadReceipt{UserID: r.UserID, ReadAt: r.ReadAt})
	}
	return MessageDTO{
		ID:                m.ID,
		GroupID:           m.GroupID,
		SenderID:          m.SenderID,
		SenderDisplayName: senderName,
		Content:           m.Content,
		Kind:              m.Kind,
		AttachmentURL:     m.AttachmentURL,
		CreatedAt:         m.CreatedAt,
		ReadBy:            readBy,
	}
}
