package models

import "time"

// User 由外部账号服务维护，这里只读取展示名。
type User struct {
	ID        uint   `gorm:"primaryKey"`
	Username  string `gorm:"uniqueIndex;size:64;not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Group 与 GroupMember 构成成员快照，由外部群组服务写入。
type Group struct {
	ID        uint   `gorm:"primaryKey"`
	Name      string `gorm:"size:128;not null"`
	AdminID   uint   `gorm:"index;not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

type GroupMember struct {
	GroupID  uint `gorm:"primaryKey;autoIncrement:false"`
	UserID   uint `gorm:"primaryKey;autoIncrement:false;index"`
	JoinedAt time.Time
}

type Message struct {
	ID            uint        `gorm:"primaryKey"`
	GroupID       uint        `gorm:"index:idx_msg_group_id;not null"`
	SenderID      uint        `gorm:"index;not null"`
	Content       string      `gorm:"type:text;not null"`
	Kind          MessageKind `gorm:"size:16;not null;default:text"`
	AttachmentURL string      `gorm:"size:2048"`
	CreatedAt     time.Time
	Reads         []MessageRead `gorm:"foreignKey:MessageID"`
}

// MessageRead 以 (message_id, user_id) 为主键，重复标记天然幂等。
type MessageRead struct {
	MessageID uint      `gorm:"primaryKey;autoIncrement:false"`
	UserID    uint      `gorm:"primaryKey;autoIncrement:false"`
	ReadAt    time.Time `gorm:"not null"`
}
