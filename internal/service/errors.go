package service

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// 业务层通用错误，handler 可根据错误类型映射到合适的 HTTP 状态码。
var (
	ErrValidation       = errors.New("validation failed")
	ErrForbidden        = errors.New("not authorized")
	ErrGroupNotFound    = errors.New("group not found")
	ErrMessageNotFound  = errors.New("message not found")
	ErrStoreUnavailable = errors.New("message store unavailable")
)

// storeErr 把底层存储错误归类为可重试的 ErrStoreUnavailable。
func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}

func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
