package notifier

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"strconv"

	"math/rand/v2"

	"github.com/redis/go-redis/v9"

	apperr "dwatson385/ticketwatcher/pkg/errors"
)

const redisComponent = "redis"

// RedisNotifier delivers alerts into Redis streams, for downstream
// consumers (dashboards, further bots) instead of a human chat
type RedisNotifier struct {
	client          *redis.Client
	streamPrefix    string
	streamCount     int
	streamMaxLength int
}

var _ Notifier = (*RedisNotifier)(nil)

// NewRedisNotifier creates a Redis stream notifier
func NewRedisNotifier(addr string, db int, streamPrefix string, streamCount int, streamMaxLength int) *RedisNotifier {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})

	if streamCount <= 0 {
		streamCount = 1
	}

	return &RedisNotifier{
		client:          client,
		streamPrefix:    streamPrefix,
		streamCount:     streamCount,
		streamMaxLength: streamMaxLength,
	}
}

// Notify publishes the alert JSON to one of the sharded streams
func (r *RedisNotifier) Notify(ctx context.Context, alert Alert) error {
	data, err := json.Marshal(alert)
	if err != nil {
		return apperr.NewDelivery(redisComponent, "failed to encode alert", err)
	}
	return r.publish(ctx, "listing", data)
}

// Announce publishes an informational message to the streams
func (r *RedisNotifier) Announce(ctx context.Context, text string) error {
	data, err := json.Marshal(map[string]string{"message": text})
	if err != nil {
		return apperr.NewDelivery(redisComponent, "failed to encode announcement", err)
	}
	return r.publish(ctx, "announcement", data)
}

// publish XAdds the base64 encoded payload to a random shard and trims
// the shard to the configured maximum length
func (r *RedisNotifier) publish(ctx context.Context, key string, payload []byte) error {
	encoded := base64.StdEncoding.EncodeToString(payload)

	// random stream name by streamCount
	// if streamCount is 10, stream name will be stream:0 ~ stream:9
	stream := r.streamPrefix + ":" + strconv.Itoa(rand.IntN(r.streamCount))

	if err := r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]interface{}{
			key: encoded,
		},
	}).Err(); err != nil {
		return apperr.NewDelivery(redisComponent, "failed to publish to "+stream, err)
	}

	if r.streamMaxLength > 0 {
		if err := r.client.XTrimMaxLen(ctx, stream, int64(r.streamMaxLength)).Err(); err != nil {
			return apperr.NewDelivery(redisComponent, "failed to trim "+stream, err)
		}
	}
	return nil
}

// Close closes the Redis connection
func (r *RedisNotifier) Close() error {
	return r.client.Close()
}
