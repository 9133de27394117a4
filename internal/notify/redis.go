package notify

import (
	"context"
	"encoding/json"
	"fmt"

	redis "github.com/redis/go-redis/v9"

	"fieldledger/backend/internal/domain"
)

const defaultChannelPrefix = "ledger:notifications"

// RedisPublisher publishes each notification on a per-user pub/sub channel.
type RedisPublisher struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisPublisher(client redis.UniversalClient, prefix string) *RedisPublisher {
	if prefix == "" {
		prefix = defaultChannelPrefix
	}
	return &RedisPublisher{client: client, prefix: prefix}
}

// Channel is the pub/sub channel carrying userID's notifications.
func (p *RedisPublisher) Channel(userID int64) string {
	return fmt.Sprintf("%s:%d", p.prefix, userID)
}

func (p *RedisPublisher) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

func (p *RedisPublisher) Publish(ctx context.Context, n domain.Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return err
	}
	return p.client.Publish(ctx, p.Channel(n.UserID), payload).Err()
}

// Subscribe streams userID's notifications until ctx is done. Messages that do
// not decode are skipped.
func (p *RedisPublisher) Subscribe(ctx context.Context, userID int64) (<-chan domain.Notification, error) {
	sub := p.client.Subscribe(ctx, p.Channel(userID))
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, err
	}

	out := make(chan domain.Notification)
	go func() {
		defer close(out)
		defer sub.Close()
		messages := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				var n domain.Notification
				if err := json.Unmarshal([]byte(msg.Payload), &n); err != nil {
					continue
				}
				select {
				case out <- n:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
