package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vocero-ai/vocero/pkg/types"
)

// Handler processes records read from the ingest streams. Implementations
// must be safe for concurrent use when the consumer runs with more than one
// reader goroutine.
type Handler interface {
	// HandleFrame processes one PCM frame. Returning an error leaves the
	// record pending so another worker can reclaim it.
	HandleFrame(ctx context.Context, chunk types.PCMChunk) error

	// HandleSessionEnd is called when a session's end-of-stream marker is
	// read. The handler should flush any buffered partial utterance.
	HandleSessionEnd(ctx context.Context, sessionID string) error
}

// Consumer defaults.
const (
	DefaultBatchSize         = 32
	DefaultBlock             = 2 * time.Second
	DefaultVisibilityTimeout = 30 * time.Second
	defaultClaimInterval     = 10 * time.Second
	discoveryIdleWait        = 500 * time.Millisecond
)

// ConsumerConfig tunes a Consumer. Zero values select the defaults.
type ConsumerConfig struct {
	// Name identifies this consumer within the group, e.g. the hostname.
	Name string

	// BatchSize is the number of records read per blocking call.
	BatchSize int

	// Block bounds how long a read blocks waiting for new records.
	Block time.Duration

	// VisibilityTimeout is the idle time after which another consumer's
	// pending records are reclaimed.
	VisibilityTimeout time.Duration

	// Logger logs read and handler failures. Nil uses slog.Default.
	Logger *slog.Logger
}

// Consumer reads PCM frames from all active session streams as part of the
// shared worker group, dispatches them to a Handler, and acknowledges each
// record only after the handler succeeds. Records held by a crashed worker
// are reclaimed after VisibilityTimeout.
type Consumer struct {
	rdb     redis.Cmdable
	cfg     ConsumerConfig
	handler Handler
	log     *slog.Logger

	// groups tracks streams whose consumer group has been created.
	groups map[string]bool

	lastClaim time.Time
}

// NewConsumer creates a Consumer over an existing Redis client.
func NewConsumer(rdb redis.Cmdable, handler Handler, cfg ConsumerConfig) *Consumer {
	if cfg.Name == "" {
		cfg.Name = "worker"
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Block <= 0 {
		cfg.Block = DefaultBlock
	}
	if cfg.VisibilityTimeout <= 0 {
		cfg.VisibilityTimeout = DefaultVisibilityTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Consumer{
		rdb:     rdb,
		cfg:     cfg,
		handler: handler,
		log:     cfg.Logger,
		groups:  make(map[string]bool),
	}
}

// Run reads and dispatches records until ctx is cancelled. It returns nil on
// cancellation and an error only for failures that make further progress
// impossible.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		streams, err := c.discover(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.log.Error("stream discovery failed", "error", err)
			sleep(ctx, discoveryIdleWait)
			continue
		}
		if len(streams) == 0 {
			sleep(ctx, discoveryIdleWait)
			continue
		}

		if time.Since(c.lastClaim) >= defaultClaimInterval {
			c.claimAbandoned(ctx, streams)
			c.lastClaim = time.Now()
		}

		if err := c.readBatch(ctx, streams); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.log.Error("stream read failed", "error", err)
			sleep(ctx, discoveryIdleWait)
		}
	}
}

// discover lists active session streams and ensures the consumer group
// exists on each.
func (c *Consumer) discover(ctx context.Context) ([]string, error) {
	sessions, err := c.rdb.SMembers(ctx, registryKey).Result()
	if err != nil {
		return nil, fmt.Errorf("ingest: list active sessions: %w", err)
	}

	streams := make([]string, 0, len(sessions))
	for _, sessionID := range sessions {
		stream := StreamKey(sessionID)
		if !c.groups[stream] {
			err := c.rdb.XGroupCreateMkStream(ctx, stream, Group, "0").Err()
			if err != nil && !isBusyGroup(err) {
				return nil, fmt.Errorf("ingest: create group on %s: %w", stream, err)
			}
			c.groups[stream] = true
		}
		streams = append(streams, stream)
	}
	return streams, nil
}

// readBatch performs one blocking group read across the given streams and
// dispatches everything returned.
func (c *Consumer) readBatch(ctx context.Context, streams []string) error {
	// XREADGROUP wants all keys followed by one ">" cursor per key.
	args := make([]string, 0, len(streams)*2)
	args = append(args, streams...)
	for range streams {
		args = append(args, ">")
	}

	res, err := c.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    Group,
		Consumer: c.cfg.Name,
		Streams:  args,
		Count:    int64(c.cfg.BatchSize),
		Block:    c.cfg.Block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil // block timeout, nothing new
	}
	if err != nil {
		return fmt.Errorf("ingest: read group: %w", err)
	}

	for _, stream := range res {
		sessionID := strings.TrimPrefix(stream.Stream, streamPrefix)
		for _, msg := range stream.Messages {
			c.dispatch(ctx, stream.Stream, sessionID, msg)
		}
	}
	return nil
}

// dispatch handles one record and acknowledges it on success. Undecodable
// records are acknowledged too: redelivering a poison record forever helps
// nobody.
func (c *Consumer) dispatch(ctx context.Context, stream, sessionID string, msg redis.XMessage) {
	if isEnd(msg.Values) {
		if err := c.handler.HandleSessionEnd(ctx, sessionID); err != nil {
			c.log.Error("session end handler failed", "session_id", sessionID, "error", err)
			return
		}
		c.ack(ctx, stream, msg.ID)
		delete(c.groups, stream)
		return
	}

	chunk, err := decodeFrame(sessionID, msg.Values)
	if err != nil {
		c.log.Warn("dropping undecodable frame", "stream", stream, "id", msg.ID, "error", err)
		c.ack(ctx, stream, msg.ID)
		return
	}

	if err := c.handler.HandleFrame(ctx, chunk); err != nil {
		c.log.Error("frame handler failed, leaving record pending",
			"stream", stream, "id", msg.ID, "error", err)
		return
	}
	c.ack(ctx, stream, msg.ID)
}

// claimAbandoned reclaims records that another consumer read but never
// acknowledged within the visibility timeout, then dispatches them here.
func (c *Consumer) claimAbandoned(ctx context.Context, streams []string) {
	for _, stream := range streams {
		sessionID := strings.TrimPrefix(stream, streamPrefix)
		start := "0-0"
		for {
			msgs, next, err := c.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
				Stream:   stream,
				Group:    Group,
				Consumer: c.cfg.Name,
				MinIdle:  c.cfg.VisibilityTimeout,
				Start:    start,
				Count:    int64(c.cfg.BatchSize),
			}).Result()
			if err != nil {
				c.log.Error("autoclaim failed", "stream", stream, "error", err)
				break
			}
			for _, msg := range msgs {
				c.dispatch(ctx, stream, sessionID, msg)
			}
			if next == "0-0" || len(msgs) == 0 {
				break
			}
			start = next
		}
	}
}

func (c *Consumer) ack(ctx context.Context, stream, id string) {
	if err := c.rdb.XAck(ctx, stream, Group, id).Err(); err != nil {
		c.log.Error("ack failed", "stream", stream, "id", id, "error", err)
	}
}

func isBusyGroup(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "BUSYGROUP")
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
