package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/PabloGalante/personai/internal/domain"
	"github.com/PabloGalante/personai/internal/observability"
)

const (
	jobField     = "job"
	defaultGroup = "repair-workers"
)

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Stream   string
	Group    string
	Consumer string
}

// RedisQueue stores repair jobs in a Redis stream read through a consumer group.
type RedisQueue struct {
	rdb *redis.Client
	cfg RedisConfig
}

var _ domain.RepairQueue = (*RedisQueue)(nil)

// NewRedisQueue connects and checks the server is reachable.
func NewRedisQueue(cfg RedisConfig) (*RedisQueue, error) {
	if cfg.Stream == "" {
		return nil, errors.New("redis queue: stream is required")
	}
	if cfg.Group == "" {
		cfg.Group = defaultGroup
	}
	if cfg.Consumer == "" {
		cfg.Consumer = "worker-1"
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &RedisQueue{rdb: rdb, cfg: cfg}, nil
}

func (q *RedisQueue) Enqueue(ctx context.Context, job domain.RepairJob) error {
	payload, err := encodeJob(job)
	if err != nil {
		return err
	}
	if err := q.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: q.cfg.Stream,
		Values: map[string]any{jobField: payload},
	}).Err(); err != nil {
		return fmt.Errorf("xadd failed: %w", err)
	}
	return nil
}

// Jobs creates the consumer group if needed and streams entries. Entries
// left pending by an earlier run of this consumer are replayed first. An
// entry is acknowledged only when the consumer acks its delivery.
func (q *RedisQueue) Jobs(ctx context.Context) (<-chan domain.RepairDelivery, error) {
	err := q.rdb.XGroupCreateMkStream(ctx, q.cfg.Stream, q.cfg.Group, "0").Err()
	if err != nil && !isBusyGroup(err) {
		return nil, fmt.Errorf("create consumer group: %w", err)
	}

	out := make(chan domain.RepairDelivery, 16)
	go q.readLoop(ctx, out)
	return out, nil
}

func (q *RedisQueue) readLoop(ctx context.Context, out chan<- domain.RepairDelivery) {
	defer close(out)
	logger := observability.WithFields("stream", q.cfg.Stream, "group", q.cfg.Group)

	cursor := "0"
	for {
		if ctx.Err() != nil {
			return
		}

		results, err := q.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.cfg.Group,
			Consumer: q.cfg.Consumer,
			Streams:  []string{q.cfg.Stream, cursor},
			Count:    10,
			Block:    time.Second,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			logger.Warn("redis read failed", "error", err)
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		var batch []redis.XMessage
		for _, stream := range results {
			batch = append(batch, stream.Messages...)
		}
		if cursor != ">" && len(batch) > 0 {
			logger.Info("replaying pending repair jobs", "count", len(batch))
		}
		cursor = nextCursor(cursor, batch)

		for _, msg := range batch {
			job, err := decodeJob(msg.Values)
			if err != nil {
				logger.Error("dropping malformed repair job", "id", msg.ID, "error", err)
				q.rdb.XAck(ctx, q.cfg.Stream, q.cfg.Group, msg.ID)
				continue
			}

			select {
			case out <- domain.RepairDelivery{Job: job, Ack: q.ack(msg.ID)}:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (q *RedisQueue) ack(id string) func(context.Context) error {
	return func(ctx context.Context) error {
		if err := q.rdb.XAck(ctx, q.cfg.Stream, q.cfg.Group, id).Err(); err != nil {
			return fmt.Errorf("xack %s: %w", id, err)
		}
		return nil
	}
}

// nextCursor walks this consumer's pending list from "0" until it is
// drained, then switches to ">" for new entries. Once on ">" it stays there.
func nextCursor(cursor string, batch []redis.XMessage) string {
	if cursor == ">" || len(batch) == 0 {
		return ">"
	}
	return batch[len(batch)-1].ID
}

func (q *RedisQueue) Close() error {
	return q.rdb.Close()
}

func encodeJob(job domain.RepairJob) (string, error) {
	if job.MissionID == "" {
		return "", errors.New("repair job without mission id")
	}
	b, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("encode repair job: %w", err)
	}
	return string(b), nil
}

func decodeJob(values map[string]any) (domain.RepairJob, error) {
	var job domain.RepairJob

	raw, ok := values[jobField].(string)
	if !ok {
		return job, fmt.Errorf("missing %q field", jobField)
	}
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		return job, fmt.Errorf("decode repair job: %w", err)
	}
	if job.MissionID == "" {
		return job, errors.New("repair job without mission id")
	}
	return job, nil
}

func isBusyGroup(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "BUSYGROUP")
}
