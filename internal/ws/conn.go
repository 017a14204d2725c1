package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/SandipWaghchaure7/geocluster-connect/internal/auth"
	"github.com/SandipWaghchaure7/geocluster-connect/internal/config"
	"github.com/SandipWaghchaure7/geocluster-connect/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20 // 1MB
	commandTimeout = 10 * time.Second
)

var (
	errNotIdentified    = errors.New("connection is not identified")
	errIdentityMismatch = errors.New("user id does not match token")
	errNotInRoom        = errors.New("connection has not joined this group")
	errUnknownCommand   = errors.New("unknown command")
)

// Chat 是 WS 命令依赖的控制层，service.ChatService 实现该接口。
type Chat interface {
	Authorize(ctx context.Context, groupID, userID uint) error
	Send(ctx context.Context, in service.SendInput) (*service.MessageDTO, error)
}

// Client 是一条 WS 连接。userID 在 identify 之前为 0。
type Client struct {
	id   string
	hub  *Hub
	conn *websocket.Conn

	send      chan []byte
	closed    chan struct{}
	closeOnce sync.Once

	// verifiedID 来自握手时校验过的 token，identify 只能绑定到该用户。
	verifiedID   uint
	verifiedName string

	user atomic.Uint64
	name atomic.Value

	// life 串行化 identify 与 drop，保证 presence 计数与连接生命周期一致。
	life    sync.Mutex
	mu      sync.Mutex
	rooms   map[uint]struct{}
	dropped bool
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func NewClient(h *Hub, conn *websocket.Conn, sendBuffer int) *Client {
	if sendBuffer <= 0 {
		sendBuffer = 256
	}
	c := &Client{
		id:     uuid.NewString(),
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		closed: make(chan struct{}),
		rooms:  make(map[uint]struct{}),
	}
	c.name.Store("")
	return c
}

func (c *Client) ID() string { return c.id }

func (c *Client) UserID() uint { return uint(c.user.Load()) }

func (c *Client) Username() string { return c.name.Load().(string) }

func (c *Client) setIdentity(userID uint, username string) {
	c.name.Store(username)
	c.user.Store(uint64(userID))
}

func (c *Client) InRoom(groupID uint) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.rooms[groupID]
	return ok
}

// enqueue 不阻塞；返回 false 表示发送缓冲已满（慢消费者）。
func (c *Client) enqueue(b []byte) bool {
	select {
	case <-c.closed:
		return true
	default:
	}
	select {
	case c.send <- b:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.closeOnce.Do(func() { close(c.closed) })
}

// Serve 校验 token 后升级为 WS 连接。连接初始为匿名，需发送 identify 命令绑定身份。
func Serve(h *Hub, chat Chat, db *gorm.DB, cfg config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, status, msg := auth.Authenticate(c, cfg.JWTSecret, db)
		if status != 0 {
			c.JSON(status, gin.H{"error": msg})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Warn().Err(err).Uint("user_id", user.ID).Msg("ws upgrade")
			return
		}
		client := NewClient(h, conn, cfg.SendBuffer)
		client.verifiedID = user.ID
		client.verifiedName = user.Username
		h.Register(client)

		go client.writePump()
		client.readPump(c.Request.Context(), chat)
	}
}

func (c *Client) readPump(ctx context.Context, chat Chat) {
	defer func() {
		c.hub.Disconnect(c)
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Str("conn_id", c.id).Msg("ws read")
			}
			return
		}
		var in InboundMessage
		if err := json.Unmarshal(data, &in); err != nil {
			c.sendError("", errUnknownCommand)
			continue
		}
		cmdCtx, cancel := context.WithTimeout(ctx, commandTimeout)
		err = c.handle(cmdCtx, chat, in)
		cancel()
		if err != nil {
			c.sendError(in.Type, err)
		}
	}
}

// handle 按接收顺序逐条处理同一连接的命令。
func (c *Client) handle(ctx context.Context, chat Chat, in InboundMessage) error {
	if in.Type == CmdIdentify {
		if in.UserID != 0 && in.UserID != c.verifiedID {
			return errIdentityMismatch
		}
		return c.hub.Identify(c, c.verifiedID, c.verifiedName)
	}

	userID := c.UserID()
	if userID == 0 {
		return errNotIdentified
	}
	switch in.Type {
	case CmdJoinRoom:
		if err := chat.Authorize(ctx, in.GroupID, userID); err != nil {
			return err
		}
		return c.hub.JoinRoom(c, in.GroupID)
	case CmdLeaveRoom:
		return c.hub.LeaveRoom(c, in.GroupID)
	case CmdSendMessage:
		_, err := chat.Send(ctx, service.SendInput{
			GroupID:       in.GroupID,
			SenderID:      userID,
			Content:       in.Content,
			Kind:          in.Kind,
			AttachmentURL: in.AttachmentURL,
		})
		return err
	case CmdTyping:
		if !c.InRoom(in.GroupID) {
			return errNotInRoom
		}
		c.hub.typing.Typing(in.GroupID, userID, c.Username())
		return nil
	case CmdStopTyping:
		c.hub.typing.Stop(in.GroupID, userID)
		return nil
	default:
		return errUnknownCommand
	}
}

// sendError 只通知发起命令的连接。
func (c *Client) sendError(cmd string, err error) {
	evt := OutboundEvent{Type: EventError, Command: cmd, Error: errorText(err)}
	b, mErr := json.Marshal(evt)
	if mErr != nil {
		return
	}
	if !c.enqueue(b) {
		c.hub.dropSlow(c)
	}
}

func errorText(err error) string {
	switch {
	case errors.Is(err, service.ErrValidation):
		return "invalid payload"
	case errors.Is(err, service.ErrForbidden):
		return "not authorized"
	case errors.Is(err, service.ErrGroupNotFound):
		return "group not found"
	case errors.Is(err, service.ErrStoreUnavailable):
		return "message store unavailable"
	case errors.Is(err, errNotIdentified), errors.Is(err, errIdentityMismatch),
		errors.Is(err, errNotInRoom), errors.Is(err, errUnknownCommand):
		return err.Error()
	default:
		return "internal error"
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case message := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-c.closed:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
