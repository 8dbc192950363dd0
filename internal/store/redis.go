package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"ghostchat/internal/domain"
)

// Redis implements domain.Store on a Redis instance: one list of JSON
// documents per chat plus a pub/sub channel that signals "something changed".
// Every signal triggers a full LRANGE read, so subscribers always see the
// complete visible set, matching the full-replacement delivery model.
type Redis struct {
	client *redis.Client
	logger *slog.Logger
}

// RedisConfig mirrors the go-redis client options we expose.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Logger   *slog.Logger
}

func NewRedis(ctx context.Context, cfg RedisConfig) (*Redis, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Redis{client: client, logger: cfg.Logger}, nil
}

func messagesKey(chatID string) string { return "ghostchat:chat:" + chatID + ":messages" }
func signalKey(chatID string) string   { return "ghostchat:chat:" + chatID + ":signal" }

const chatSetKey = "ghostchat:chats"

func (r *Redis) Append(ctx context.Context, chatID string, msg domain.Message) (string, error) {
	msg.ID = uuid.NewString()
	data, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("marshal message: %w", err)
	}
	pipe := r.client.TxPipeline()
	pipe.RPush(ctx, messagesKey(chatID), data)
	pipe.Publish(ctx, signalKey(chatID), msg.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("append message: %w", err)
	}
	return msg.ID, nil
}

func (r *Redis) load(ctx context.Context, chatID string) ([]domain.Message, error) {
	raw, err := r.client.LRange(ctx, messagesKey(chatID), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	msgs := make([]domain.Message, 0, len(raw))
	for _, item := range raw {
		var m domain.Message
		if err := json.Unmarshal([]byte(item), &m); err != nil {
			// One corrupt entry must not poison the snapshot.
			r.logger.Warn("skipping unparsable message", "chat", chatID, "err", err)
			continue
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

// Subscribe delivers an initial full snapshot, then re-reads the whole list
// on every published change signal.
func (r *Redis) Subscribe(ctx context.Context, chatID string) (<-chan domain.Snapshot, error) {
	ps := r.client.Subscribe(ctx, signalKey(chatID))
	// Force the subscription onto the wire before the initial read so no
	// change between read and subscribe is missed.
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("redis subscribe: %w", err)
	}

	out := make(chan domain.Snapshot, 4)
	go func() {
		defer close(out)
		defer ps.Close()

		deliver := func() bool {
			msgs, err := r.load(ctx, chatID)
			if err != nil {
				if ctx.Err() != nil {
					return false
				}
				select {
				case out <- domain.Snapshot{Err: err}:
				case <-ctx.Done():
				}
				return false
			}
			select {
			case out <- domain.Snapshot{Messages: msgs}:
				return true
			case <-ctx.Done():
				return false
			}
		}

		if !deliver() {
			return
		}
		ch := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-ch:
				if !ok {
					if ctx.Err() == nil {
						r.logger.Error("redis signal channel closed", "chat", chatID)
						select {
						case out <- domain.Snapshot{Err: domain.ErrSubscription}:
						default:
						}
					}
					return
				}
				if !deliver() {
					return
				}
			}
		}
	}()
	return out, nil
}

func (r *Redis) Exists(ctx context.Context, chatID string) (bool, error) {
	return r.client.SIsMember(ctx, chatSetKey, chatID).Result()
}

func (r *Redis) CreateChat(ctx context.Context, chatID string) error {
	return r.client.SAdd(ctx, chatSetKey, chatID).Err()
}

func (r *Redis) Close() error {
	return r.client.Close()
}
