package models

import (
	"errors"
	"strings"
)

// MessageKind 是封闭的消息类型集合。
type MessageKind string

const (
	KindText     MessageKind = "text"
	KindImage    MessageKind = "image"
	KindVideo    MessageKind = "video"
	KindDocument MessageKind = "document"
)

var (
	ErrUnknownKind       = errors.New("unknown message kind")
	ErrEmptyContent      = errors.New("text message content is empty")
	ErrMissingAttachment = errors.New("attachment url is required for media messages")
)

// ParseKind 空字符串视为 text。
func ParseKind(s string) (MessageKind, error) {
	switch k := MessageKind(strings.ToLower(strings.TrimSpace(s))); k {
	case "":
		return KindText, nil
	case KindText, KindImage, KindVideo, KindDocument:
		return k, nil
	default:
		return "", ErrUnknownKind
	}
}

// Validate 按类型校验载荷：text 需要非空内容，其余类型需要附件地址。
func (k MessageKind) Validate(content, attachmentURL string) error {
	switch k {
	case KindText:
		if strings.TrimSpace(content) == "" {
			return ErrEmptyContent
		}
		return nil
	case KindImage, KindVideo, KindDocument:
		if strings.TrimSpace(attachmentURL) == "" {
			return ErrMissingAttachment
		}
		return nil
	default:
		return ErrUnknownKind
	}
}
