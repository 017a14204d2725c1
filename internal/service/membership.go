package service

import (
	"context"

	"github.com/SandipWaghchaure7/geocluster-connect/internal/models"

	"gorm.io/gorm"
)

// MembershipService 每次都读取最新的群组状态，不缓存成员关系。
type MembershipService struct {
	db *gorm.DB
}

func NewMembershipService(db *gorm.DB) *MembershipService {
	return &MembershipService{db: db}
}

// Snapshot 是某一时刻的成员快照，Members 按加入时间排序。
type Snapshot struct {
	GroupID uint
	AdminID uint
	Members []uint
}

func (s *MembershipService) group(ctx context.Context, groupID uint) (*models.Group, error) {
	var g models.Group
	if err := s.db.WithContext(ctx).First(&g, groupID).Error; err != nil {
		if isNotFound(err) {
			return nil, ErrGroupNotFound
		}
		return nil, storeErr("load group", err)
	}
	return &g, nil
}

// IsMember 查询失败时返回 false，群组不存在时返回 ErrGroupNotFound。管理员视为成员。
func (s *MembershipService) IsMember(ctx context.Context, groupID, userID uint) (bool, error) {
	g, err := s.group(ctx, groupID)
	if err != nil {
		return false, err
	}
	if g.AdminID == userID {
		return true, nil
	}
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.GroupMember{}).
		Where("group_id = ? AND user_id = ?", groupID, userID).Count(&count).Error; err != nil {
		return false, storeErr("count member", err)
	}
	return count > 0, nil
}

func (s *MembershipService) IsAdmin(ctx context.Context, groupID, userID uint) (bool, error) {
	g, err := s.group(ctx, groupID)
	if err != nil {
		return false, err
	}
	return g.AdminID == userID, nil
}

// Authorize 非成员返回 ErrForbidden。
func (s *MembershipService) Authorize(ctx context.Context, groupID, userID uint) error {
	ok, err := s.IsMember(ctx, groupID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrForbidden
	}
	return nil
}

func (s *MembershipService) Snapshot(ctx context.Context, groupID uint) (*Snapshot, error) {
	g, err := s.group(ctx, groupID)
	if err != nil {
		return nil, err
	}
	var members []uint
	if err := s.db.WithContext(ctx).Model(&models.GroupMember{}).
		Where("group_id = ?", groupID).Order("joined_at asc, user_id asc").
		Pluck("user_id", &members).Error; err != nil {
		return nil, storeErr("list members", err)
	}
	return &Snapshot{GroupID: g.ID, AdminID: g.AdminID, Members: members}, nil
}
