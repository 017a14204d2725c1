package service

import (
	"sync"
	"testing"
	"time"

	"github.com/SandipWaghchaure7/geocluster-connect/internal/db"
	"github.com/SandipWaghchaure7/geocluster-connect/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// newTestDB 打开独立的内存 sqlite 库，单连接以避免共享缓存的表锁。
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open("file:"+uuid.NewString()+"?mode=memory&cache=shared"), db.Config())
	require.NoError(t, err)
	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.Migrate(gdb))
	return gdb
}

type fixture struct {
	db    *gorm.DB
	alice models.User
	bob   models.User
	carol models.User
	group models.Group
	other models.Group
}

// seed 创建 alice(管理员)+bob 所在的 group，以及只有 carol 的 other。
func seed(t *testing.T, gdb *gorm.DB) fixture {
	t.Helper()
	f := fixture{db: gdb}
	f.alice = models.User{Username: "alice"}
	f.bob = models.User{Username: "bob"}
	f.carol = models.User{Username: "carol"}
	for _, u := range []*models.User{&f.alice, &f.bob, &f.carol} {
		require.NoError(t, gdb.Create(u).Error)
	}
	f.group = models.Group{Name: "hikers", AdminID: f.alice.ID}
	f.other = models.Group{Name: "cyclists", AdminID: f.carol.ID}
	require.NoError(t, gdb.Create(&f.group).Error)
	require.NoError(t, gdb.Create(&f.other).Error)

	now := time.Now()
	members := []models.GroupMember{
		{GroupID: f.group.ID, UserID: f.alice.ID, JoinedAt: now},
		{GroupID: f.group.ID, UserID: f.bob.ID, JoinedAt: now.Add(time.Second)},
		{GroupID: f.other.ID, UserID: f.carol.ID, JoinedAt: now},
	}
	require.NoError(t, gdb.Create(&members).Error)
	return f
}

type recordingHub struct {
	mu       sync.Mutex
	messages []MessageDTO
	deleted  []uint
}

func (h *recordingHub) BroadcastMessage(msg MessageDTO) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = append(h.messages, msg)
}

func (h *recordingHub) BroadcastDeleted(_ uint, messageID uint) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.deleted = append(h.deleted, messageID)
}

func (h *recordingHub) sent() []MessageDTO {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]MessageDTO(nil), h.messages...)
}
