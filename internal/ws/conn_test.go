package ws

import (
	"context"
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/SandipWaghchaure7/geocluster-connect/internal/auth"
	"github.com/SandipWaghchaure7/geocluster-connect/internal/config"
	"github.com/SandipWaghchaure7/geocluster-connect/internal/db"
	"github.com/SandipWaghchaure7/geocluster-connect/internal/models"
	"github.com/SandipWaghchaure7/geocluster-connect/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type fakeChat struct {
	authErr error
	sent    []service.SendInput
}

func (f *fakeChat) Authorize(context.Context, uint, uint) error { return f.authErr }

func (f *fakeChat) Send(_ context.Context, in service.SendInput) (*service.MessageDTO, error) {
	f.sent = append(f.sent, in)
	return &service.MessageDTO{ID: uint(len(f.sent)), GroupID: in.GroupID}, nil
}

func verifiedClient(t *testing.T, h *Hub, userID uint, name string) *Client {
	t.Helper()
	c := newTestClient(t, h, 64)
	c.verifiedID = userID
	c.verifiedName = name
	return c
}

func TestClient_CommandsRequireIdentify(t *testing.T) {
	h := NewHub(time.Hour)
	c := verifiedClient(t, h, 1, "alice")
	chat := &fakeChat{}
	ctx := context.Background()

	for _, cmd := range []string{CmdJoinRoom, CmdLeaveRoom, CmdSendMessage, CmdTyping, CmdStopTyping} {
		err := c.handle(ctx, chat, InboundMessage{Type: cmd, GroupID: 10})
		assert.ErrorIs(t, err, errNotIdentified, cmd)
	}
	assert.Empty(t, chat.sent)
}

func TestClient_IdentifyMustMatchToken(t *testing.T) {
	h := NewHub(time.Hour)
	c := verifiedClient(t, h, 1, "alice")
	ctx := context.Background()

	assert.ErrorIs(t, c.handle(ctx, &fakeChat{}, InboundMessage{Type: CmdIdentify, UserID: 2}), errIdentityMismatch)
	assert.Equal(t, uint(0), c.UserID())

	require.NoError(t, c.handle(ctx, &fakeChat{}, InboundMessage{Type: CmdIdentify, UserID: 1}))
	assert.Equal(t, uint(1), c.UserID())
	assert.Equal(t, "alice", c.Username())
	assert.True(t, h.IsOnline(1))
}

func TestClient_JoinRequiresMembership(t *testing.T) {
	h := NewHub(time.Hour)
	c := verifiedClient(t, h, 1, "alice")
	ctx := context.Background()
	require.NoError(t, c.handle(ctx, &fakeChat{}, InboundMessage{Type: CmdIdentify}))

	denied := &fakeChat{authErr: fmt.Errorf("authorize: %w", service.ErrForbidden)}
	err := c.handle(ctx, denied, InboundMessage{Type: CmdJoinRoom, GroupID: 10})
	assert.ErrorIs(t, err, service.ErrForbidden)
	assert.False(t, c.InRoom(10))

	require.NoError(t, c.handle(ctx, &fakeChat{}, InboundMessage{Type: CmdJoinRoom, GroupID: 10}))
	assert.True(t, c.InRoom(10))
}

func TestClient_SendUsesIdentifiedSender(t *testing.T) {
	h := NewHub(time.Hour)
	c := verifiedClient(t, h, 1, "alice")
	chat := &fakeChat{}
	ctx := context.Background()
	require.NoError(t, c.handle(ctx, chat, InboundMessage{Type: CmdIdentify}))

	require.NoError(t, c.handle(ctx, chat, InboundMessage{
		Type: CmdSendMessage, GroupID: 10, UserID: 99, Content: "hi", Kind: "text",
	}))
	require.Len(t, chat.sent, 1)
	assert.Equal(t, uint(1), chat.sent[0].SenderID, "sender comes from the connection, not the payload")
	assert.Equal(t, "hi", chat.sent[0].Content)
}

func TestClient_TypingRequiresRoom(t *testing.T) {
	h := NewHub(time.Hour)
	c := verifiedClient(t, h, 1, "alice")
	chat := &fakeChat{}
	ctx := context.Background()
	require.NoError(t, c.handle(ctx, chat, InboundMessage{Type: CmdIdentify}))

	assert.ErrorIs(t, c.handle(ctx, chat, InboundMessage{Type: CmdTyping, GroupID: 10}), errNotInRoom)
	require.NoError(t, c.handle(ctx, chat, InboundMessage{Type: CmdJoinRoom, GroupID: 10}))
	require.NoError(t, c.handle(ctx, chat, InboundMessage{Type: CmdTyping, GroupID: 10}))
	assert.True(t, h.typing.IsTyping(10, 1))

	require.NoError(t, c.handle(ctx, chat, InboundMessage{Type: CmdStopTyping, GroupID: 10}))
	assert.False(t, h.typing.IsTyping(10, 1))
}

func TestClient_UnknownCommand(t *testing.T) {
	h := NewHub(time.Hour)
	c := verifiedClient(t, h, 1, "alice")
	ctx := context.Background()
	require.NoError(t, c.handle(ctx, &fakeChat{}, InboundMessage{Type: CmdIdentify}))
	assert.ErrorIs(t, c.handle(ctx, &fakeChat{}, InboundMessage{Type: "shout"}), errUnknownCommand)
}

func TestErrorText(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{fmt.Errorf("x: %w", service.ErrValidation), "invalid payload"},
		{fmt.Errorf("x: %w", service.ErrForbidden), "not authorized"},
		{fmt.Errorf("x: %w", service.ErrGroupNotFound), "group not found"},
		{fmt.Errorf("x: %w", service.ErrStoreUnavailable), "message store unavailable"},
		{errNotInRoom, errNotInRoom.Error()},
		{fmt.Errorf("boom"), "internal error"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, errorText(tt.err))
	}
}

func TestServe_EndToEnd(t *testing.T) {
	gin.SetMode(gin.TestMode)
	gdb, err := gorm.Open(sqlite.Open("file:"+uuid.NewString()+"?mode=memory&cache=shared"), db.Config())
	require.NoError(t, err)
	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.Migrate(gdb))

	alice := models.User{Username: "alice"}
	require.NoError(t, gdb.Create(&alice).Error)
	group := models.Group{Name: "hikers", AdminID: alice.ID}
	require.NoError(t, gdb.Create(&group).Error)
	require.NoError(t, gdb.Create(&models.GroupMember{GroupID: group.ID, UserID: alice.ID, JoinedAt: time.Now()}).Error)

	cfg := config.Config{JWTSecret: "test-secret", SendBuffer: 64}
	h := NewHub(time.Second)
	chat := service.NewChatService(service.NewMembershipService(gdb), service.NewMessageService(gdb, 50, 200), h)

	r := gin.New()
	r.GET("/ws", Serve(h, chat, gdb, cfg))
	srv := httptest.NewServer(r)
	defer srv.Close()

	token, err := auth.GenerateAccessToken(alice.ID, cfg.JWTSecret, time.Minute)
	require.NoError(t, err)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=" + token

	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.Error(t, err, "missing token must be rejected before upgrade")
	if resp != nil {
		assert.Equal(t, 401, resp.StatusCode)
	}

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(InboundMessage{Type: CmdIdentify, UserID: alice.ID}))
	require.NoError(t, conn.WriteJSON(InboundMessage{Type: CmdJoinRoom, GroupID: group.ID}))
	require.NoError(t, conn.WriteJSON(InboundMessage{Type: CmdSendMessage, GroupID: group.ID, Content: "hello"}))

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var evt OutboundEvent
		require.NoError(t, conn.ReadJSON(&evt))
		require.NotEqual(t, EventError, evt.Type, evt.Error)
		if evt.Type != EventMessageReceived {
			continue
		}
		require.NotNil(t, evt.Message)
		assert.Equal(t, "hello", evt.Message.Content)
		assert.Equal(t, "alice", evt.Message.SenderDisplayName)
		assert.Equal(t, alice.ID, evt.Message.SenderID)
		break
	}
}
