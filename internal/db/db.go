package db

import (
	"context"
	"fmt"
	"time"

	"github.com/SandipWaghchaure7/geocluster-connect/internal/models"

	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Config 返回统一的 gorm 配置；读回执表不建外键，避免与删除消息竞争。
func Config() *gorm.Config {
	return &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	}
}

const connectAttempts = 10

// Connect 建立到 Postgres 的连接，重试等待数据库就绪；ctx 取消时立即放弃。
func Connect(ctx context.Context, dsn string) (*gorm.DB, error) {
	var lastErr error
	for i := 0; i < connectAttempts; i++ {
		gdb, err := open(dsn)
		if err == nil {
			return gdb, nil
		}
		lastErr = err
		log.Warn().Err(err).Int("attempt", i+1).Msg("db connect retry")
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(500+i*200) * time.Millisecond):
		}
	}
	return nil, fmt.Errorf("connect after %d attempts: %w", connectAttempts, lastErr)
}

func open(dsn string) (*gorm.DB, error) {
	gdb, err := gorm.Open(postgres.Open(dsn), Config())
	if err != nil {
		return nil, err
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, err
	}
	if err := sqlDB.Ping(); err != nil {
		return nil, err
	}
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(20)
	sqlDB.SetConnMaxLifetime(time.Hour)
	return gdb, nil
}

// Migrate 迁移消息子系统读写的全部表结构。用户与群组表归外部服务所有，
// 这里只保证其存在，便于本地开发与测试。
func Migrate(gdb *gorm.DB) error {
	return gdb.AutoMigrate(&models.User{}, &models.Group{}, &models.GroupMember{}, &models.Message{}, &models.MessageRead{})
}
