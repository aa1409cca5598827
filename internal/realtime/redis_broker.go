package realtime

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

const channelPrefix = "chg:"

// RedisBroker publishes changes over Redis pub/sub so every replica sees
// them regardless of which one committed the mutation.
type RedisBroker struct {
	rdb *redis.Client
}

func NewRedisBroker(rdb *redis.Client) *RedisBroker {
	return &RedisBroker{rdb: rdb}
}

var _ Broker = (*RedisBroker)(nil)

func (b *RedisBroker) Publish(ctx context.Context, c Change) error {
	payload, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, channelPrefix+c.AccountID, payload).Err()
}

func (b *RedisBroker) Subscribe(ctx context.Context, accountID string) (<-chan Change, func(), error) {
	sub := b.rdb.Subscribe(ctx, channelPrefix+accountID)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, err
	}

	ch := make(chan Change, subscriberBuffer)
	go func() {
		defer close(ch)
		for msg := range sub.Channel() {
			var c Change
			if err := json.Unmarshal([]byte(msg.Payload), &c); err != nil {
				slog.Warn("dropping malformed change payload", "channel", msg.Channel, "error", err)
				continue
			}
			select {
			case ch <- c:
			default:
			}
		}
	}()

	cancel := func() { _ = sub.Close() }
	return ch, cancel, nil
}
