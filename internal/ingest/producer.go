package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vocero-ai/vocero/internal/observe"
	"github.com/vocero-ai/vocero/pkg/types"
)

// DefaultBackpressureMax is the per-session stream depth beyond which the
// oldest unread frames are dropped. At 100 ms per frame this is roughly 25
// seconds of backlog; audio older than that is useless for a live call.
const DefaultBackpressureMax = 256

// endedStreamTTL is how long a finished session's stream lingers for
// consumers that have not yet read the end marker.
const endedStreamTTL = time.Minute

// ProducerConfig tunes a Producer. Zero values select the defaults.
type ProducerConfig struct {
	// BackpressureMax bounds the per-session stream depth.
	BackpressureMax int

	// Metrics records dropped-frame counts. Nil uses the package default.
	Metrics *observe.Metrics

	// Logger logs backpressure drops. Nil uses slog.Default.
	Logger *slog.Logger
}

// Producer writes PCM frames to per-session Redis streams. Safe for
// concurrent use across sessions and within a session as long as callers
// serialise per-session frame order (the gateway's inbound pump does).
type Producer struct {
	rdb     redis.Cmdable
	cfg     ProducerConfig
	metrics *observe.Metrics
	log     *slog.Logger

	// announced tracks sessions already added to the registry set, keyed by
	// session ID, to avoid one SADD round trip per frame.
	announced sync.Map
}

// NewProducer creates a Producer over an existing Redis client.
func NewProducer(rdb redis.Cmdable, cfg ProducerConfig) *Producer {
	if cfg.BackpressureMax <= 0 {
		cfg.BackpressureMax = DefaultBackpressureMax
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Producer{rdb: rdb, cfg: cfg, metrics: cfg.Metrics, log: cfg.Logger}
}

// Publish appends one PCM frame to the session's stream. When the stream is
// at capacity the oldest frames are trimmed first so a stalled consumer
// delays rather than blocks live audio; dropped frames are counted, never
// waited on.
func (p *Producer) Publish(ctx context.Context, chunk types.PCMChunk) error {
	stream := StreamKey(chunk.SessionID)

	if _, ok := p.announced.Load(chunk.SessionID); !ok {
		if err := p.rdb.SAdd(ctx, registryKey, chunk.SessionID).Err(); err != nil {
			return fmt.Errorf("ingest: announce session %s: %w", chunk.SessionID, err)
		}
		p.announced.Store(chunk.SessionID, struct{}{})
	}

	depth, err := p.rdb.XLen(ctx, stream).Result()
	if err != nil {
		return fmt.Errorf("ingest: stream depth %s: %w", stream, err)
	}
	if depth >= int64(p.cfg.BackpressureMax) {
		keep := int64(p.cfg.BackpressureMax) - 1
		trimmed, err := p.rdb.XTrimMaxLen(ctx, stream, keep).Result()
		if err != nil {
			return fmt.Errorf("ingest: trim %s: %w", stream, err)
		}
		if trimmed > 0 {
			p.metrics.RecordDroppedFrames(ctx, trimmed, "backpressure", chunk.SessionID)
			p.log.Warn("dropped oldest frames under backpressure",
				"session_id", chunk.SessionID, "dropped", trimmed, "depth", depth)
		}
	}

	err = p.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: encodeFrame(chunk),
	}).Err()
	if err != nil {
		return fmt.Errorf("ingest: publish frame %s: %w", stream, err)
	}
	return nil
}

// EndSession appends an end-of-session marker so workers flush any partial
// utterance, removes the session from the discovery registry, and lets the
// stream expire.
func (p *Producer) EndSession(ctx context.Context, sessionID, callID, speakerID string) error {
	stream := StreamKey(sessionID)

	if err := p.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: encodeEnd(callID, speakerID),
	}).Err(); err != nil {
		return fmt.Errorf("ingest: end session %s: %w", sessionID, err)
	}

	if err := p.rdb.SRem(ctx, registryKey, sessionID).Err(); err != nil {
		return fmt.Errorf("ingest: unregister session %s: %w", sessionID, err)
	}
	p.announced.Delete(sessionID)

	if err := p.rdb.Expire(ctx, stream, endedStreamTTL).Err(); err != nil {
		return fmt.Errorf("ingest: expire stream %s: %w", stream, err)
	}
	return nil
}
