package ws

import (
	"context"
	"encoding/json"

	"github.com/SandipWaghchaure7/geocluster-connect/internal/metrics"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Relay 把本实例产生的事件转发给其他实例。Publish 不能阻塞。
type Relay interface {
	Publish(env Envelope)
}

// RedisRelay 基于 Redis Pub/Sub 在多个实例之间转发房间事件。
type RedisRelay struct {
	rdb     *redis.Client
	channel string
	origin  string
	out     chan Envelope
}

func NewRedisRelay(rdb *redis.Client, channel string) *RedisRelay {
	return &RedisRelay{
		rdb:     rdb,
		channel: channel,
		origin:  uuid.NewString(),
		out:     make(chan Envelope, 1024),
	}
}

func (r *RedisRelay) Origin() string { return r.origin }

func (r *RedisRelay) Publish(env Envelope) {
	env.Origin = r.origin
	select {
	case r.out <- env:
	default:
		metrics.RelayErrorsTotal.Inc()
		log.Warn().Uint("group_id", env.GroupID).Msg("relay queue full, event not forwarded")
	}
}

// Run 发布本地事件并把远端事件交给 hub，直到 ctx 结束。
func (r *RedisRelay) Run(ctx context.Context, h *Hub) {
	sub := r.rdb.Subscribe(ctx, r.channel)
	defer sub.Close()

	go r.publishLoop(ctx)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			r.handle(h, []byte(msg.Payload))
		}
	}
}

func (r *RedisRelay) publishLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case env := <-r.out:
			b, err := json.Marshal(env)
			if err != nil {
				metrics.RelayErrorsTotal.Inc()
				continue
			}
			if err := r.rdb.Publish(ctx, r.channel, b).Err(); err != nil {
				metrics.RelayErrorsTotal.Inc()
				log.Warn().Err(err).Msg("relay publish")
			}
		}
	}
}

// handle 忽略本实例发出的事件，它们已在本地投递过。
func (r *RedisRelay) handle(h *Hub, payload []byte) {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		metrics.RelayErrorsTotal.Inc()
		log.Warn().Err(err).Msg("relay decode")
		return
	}
	if env.Origin == r.origin {
		return
	}
	h.DeliverRemote(env)
}
