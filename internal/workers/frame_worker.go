package workers

import (
	"context"
	"errors"
	"hash/fnv"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/dawos/agent/internal/utils"
)

const (
	DefaultFrameStream = "emotion:frames"
	DefaultFrameGroup  = "frame-workers"
)

// FrameQueue enqueues frames for the stream consumers.
type FrameQueue struct {
	Redis  *redis.Client
	Stream string
	MaxLen int64
}

func (q *FrameQueue) Enqueue(ctx context.Context, userID, payload string) (string, error) {
	stream := q.Stream
	if stream == "" {
		stream = DefaultFrameStream
	}
	args := &redis.XAddArgs{
		Stream: stream,
		Values: map[string]any{
			"user_id":     userID,
			"payload":     payload,
			"received_at": strconv.FormatInt(time.Now().UnixMilli(), 10),
		},
	}
	if q.MaxLen > 0 {
		args.MaxLen = q.MaxLen
		args.Approx = true
	}
	id, err := q.Redis.XAdd(ctx, args).Result()
	if err != nil {
		return "", utils.E(utils.CodeUnavailable, "FrameQueue.Enqueue", "failed to enqueue frame", err)
	}
	return id, nil
}

// StreamClient is the consumer-group side of *redis.Client.
type StreamClient interface {
	XGroupCreateMkStream(ctx context.Context, stream, group, start string) *redis.StatusCmd
	XReadGroup(ctx context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd
	XAck(ctx context.Context, stream, group string, ids ...string) *redis.IntCmd
}

// FrameWorkerPool consumes the frame stream with a consumer group. One
// reader per process hands entries to NumWorkers shards keyed by user, so
// a user's frames are applied one at a time in stream order.
type FrameWorkerPool struct {
	Redis      StreamClient
	Processor  *FrameProcessor
	NumWorkers int

	Logger *logrus.Logger

	Stream         string
	Group          string
	ConsumerPrefix string

	done chan struct{}
}

const shardBuffer = 64

// shardFor maps a user to one of n shards.
func shardFor(userID string, n int) int {
	if n <= 1 {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return int(h.Sum32() % uint32(n))
}

func (p *FrameWorkerPool) Start(ctx context.Context) error {
	if p.Redis == nil || p.Processor == nil {
		return errors.New("FrameWorkerPool missing dependency: Redis/Processor must be set")
	}
	if p.Stream == "" {
		p.Stream = DefaultFrameStream
	}
	if p.Group == "" {
		p.Group = DefaultFrameGroup
	}
	if p.ConsumerPrefix == "" {
		p.ConsumerPrefix = "c"
	}
	if p.NumWorkers <= 0 {
		p.NumWorkers = 2
	}
	if p.Logger == nil {
		p.Logger = logrus.New()
	}

	_ = p.Redis.XGroupCreateMkStream(ctx, p.Stream, p.Group, "0").Err() // ignore BUSYGROUP

	shards := make([]chan redis.XMessage, p.NumWorkers)
	for i := range shards {
		shards[i] = make(chan redis.XMessage, shardBuffer)
	}

	p.done = make(chan struct{})
	var wg sync.WaitGroup
	for i := range shards {
		wg.Add(1)
		go func(in <-chan redis.XMessage) {
			defer wg.Done()
			p.runShard(ctx, in)
		}(shards[i])
	}
	go func() {
		defer func() {
			for _, ch := range shards {
				close(ch)
			}
		}()
		p.runReader(ctx, p.ConsumerPrefix+"-reader", shards)
	}()
	go func() {
		wg.Wait()
		close(p.done)
	}()
	return nil
}

// Wait blocks until every shard has drained after ctx cancellation.
func (p *FrameWorkerPool) Wait(ctx context.Context) error {
	if p.done == nil {
		return nil
	}
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *FrameWorkerPool) runReader(ctx context.Context, consumer string, shards []chan redis.XMessage) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		res, err := p.Redis.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    p.Group,
			Consumer: consumer,
			Streams:  []string{p.Stream, ">"},
			Count:    10,
			Block:    5 * time.Second,
		}).Result()

		if err != nil {
			if errors.Is(err, redis.Nil) || ctx.Err() != nil {
				continue
			}
			p.Logger.WithError(err).WithField("consumer", consumer).Warn("frame stream read failed")
			time.Sleep(500 * time.Millisecond)
			continue
		}

		for _, stream := range res {
			for _, msg := range stream.Messages {
				p.dispatch(msg, shards)
			}
		}
	}
}

// dispatch blocks when the user's shard is full, which throttles reads.
func (p *FrameWorkerPool) dispatch(msg redis.XMessage, shards []chan redis.XMessage) {
	userID, _ := msg.Values["user_id"].(string)
	shards[shardFor(strings.TrimSpace(userID), len(shards))] <- msg
}

// runShard applies entries in order. Entries already read when ctx ends
// are still applied and acked.
func (p *FrameWorkerPool) runShard(ctx context.Context, in <-chan redis.XMessage) {
	work := context.WithoutCancel(ctx)
	for msg := range in {
		p.handleMsg(work, msg)
		_ = p.Redis.XAck(work, p.Stream, p.Group, msg.ID).Err()
	}
}

// handleMsg processes one stream entry. Bad entries are logged and acked.
func (p *FrameWorkerPool) handleMsg(ctx context.Context, msg redis.XMessage) bool {
	getStr := func(k string) string {
		v, ok := msg.Values[k]
		if !ok || v == nil {
			return ""
		}
		s, _ := v.(string)
		return strings.TrimSpace(s)
	}

	userID := getStr("user_id")
	payload := getStr("payload")
	if userID == "" || payload == "" {
		p.Logger.WithField("redis_id", msg.ID).Warn("frame entry without user_id or payload")
		return false
	}

	var receivedAt time.Time
	if ms, err := strconv.ParseInt(getStr("received_at"), 10, 64); err == nil && ms > 0 {
		receivedAt = time.UnixMilli(ms).UTC()
	}

	log := p.Logger.WithFields(logrus.Fields{"redis_id": msg.ID, "user_id": userID})
	if err := p.Processor.Process(ctx, userID, payload, receivedAt); err != nil {
		log.WithError(err).Info("frame not applied")
		return false
	}
	return true
}
