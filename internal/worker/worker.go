// Package worker is the translation-side consumer of the ingest streams. It
// owns one segmentation chunker per session and hands every finished segment
// to the pipeline processor. Frames of one session are always processed by a
// single goroutine, so a speaker's captions keep their spoken order; distinct
// sessions run in parallel.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vocero-ai/vocero/internal/ingest"
	"github.com/vocero-ai/vocero/internal/observe"
	"github.com/vocero-ai/vocero/internal/pipeline"
	"github.com/vocero-ai/vocero/internal/segment"
	"github.com/vocero-ai/vocero/pkg/types"
)

// sessionQueueDepth bounds how many frames a session may have in flight
// between acknowledgment and segmentation. At 100 ms per frame this is under
// a second of audio; a full queue pushes backpressure onto the stream.
const sessionQueueDepth = 8

// Compile-time interface check.
var _ ingest.Handler = (*Worker)(nil)

// Config wires a Worker.
type Config struct {
	// Processor receives every finished utterance.
	Processor *pipeline.Processor

	// Segmentation parameters shared by every per-session chunker.
	Segmentation segment.Config

	// Metrics records telemetry. Nil uses the package default.
	Metrics *observe.Metrics

	// Logger logs per-session lifecycle and failures. Nil uses slog.Default.
	Logger *slog.Logger
}

// Worker implements [ingest.Handler]. Safe for concurrent use by one or more
// stream consumers.
type Worker struct {
	cfg     Config
	metrics *observe.Metrics
	log     *slog.Logger

	mu       sync.Mutex
	sessions map[string]*sessionWorker
	wg       sync.WaitGroup
	closed   bool
}

// New creates a Worker.
func New(cfg Config) *Worker {
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Worker{
		cfg:      cfg,
		metrics:  cfg.Metrics,
		log:      cfg.Logger,
		sessions: make(map[string]*sessionWorker),
	}
}

// HandleFrame implements [ingest.Handler]. It enqueues the frame to the
// session's goroutine, blocking when the session queue is full so stream
// backpressure engages instead of unbounded buffering.
func (w *Worker) HandleFrame(ctx context.Context, chunk types.PCMChunk) error {
	sw, err := w.session(ctx, chunk)
	if err != nil {
		return err
	}
	select {
	case sw.frames <- chunk:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// HandleSessionEnd implements [ingest.Handler]. It flushes the session's
// partial utterance and releases its state.
func (w *Worker) HandleSessionEnd(_ context.Context, sessionID string) error {
	w.mu.Lock()
	sw, ok := w.sessions[sessionID]
	if ok {
		delete(w.sessions, sessionID)
	}
	w.mu.Unlock()

	if ok {
		close(sw.frames)
	}
	return nil
}

// Close flushes and stops every session goroutine. The worker must not be
// handed further frames afterwards.
func (w *Worker) Close() {
	w.mu.Lock()
	w.closed = true
	for id, sw := range w.sessions {
		close(sw.frames)
		delete(w.sessions, id)
	}
	w.mu.Unlock()
	w.wg.Wait()
}

func (w *Worker) session(ctx context.Context, chunk types.PCMChunk) (*sessionWorker, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil, fmt.Errorf("worker: closed, refusing frame for session %s", chunk.SessionID)
	}
	if sw, ok := w.sessions[chunk.SessionID]; ok {
		return sw, nil
	}

	sw := &sessionWorker{
		worker:    w,
		sessionID: chunk.SessionID,
		callID:    chunk.CallID,
		speakerID: chunk.SpeakerID,
		lang:      chunk.SourceLang,
		chunker:   segment.NewChunker(w.cfg.Segmentation),
		frames:    make(chan types.PCMChunk, sessionQueueDepth),
	}
	w.sessions[chunk.SessionID] = sw
	w.wg.Add(1)
	go sw.run(context.WithoutCancel(ctx))
	w.log.Info("session worker started",
		"session_id", chunk.SessionID, "call_id", chunk.CallID, "speaker_id", chunk.SpeakerID)
	return sw, nil
}

// sessionWorker owns one session's chunker. Frames arrive in stream order on
// the frames channel; utterances are processed inline so a session's captions
// are published in spoken order.
type sessionWorker struct {
	worker    *Worker
	sessionID string
	callID    string
	speakerID string
	lang      string
	chunker   *segment.Chunker

	frames       chan types.PCMChunk
	lastSeq      uint64
	lastEnqueued time.Time
}

func (sw *sessionWorker) run(ctx context.Context) {
	defer sw.worker.wg.Done()

	for chunk := range sw.frames {
		if sw.lastSeq != 0 && chunk.Seq > sw.lastSeq+1 {
			sw.worker.log.Warn("sequence gap in session audio",
				"session_id", sw.sessionID, "from", sw.lastSeq, "to", chunk.Seq)
		}
		if chunk.Seq != 0 {
			sw.lastSeq = chunk.Seq
		}

		// The chunker clock is the frame's enqueue time, so pause boundaries
		// stay intact when a reclaimed backlog replays faster than real time.
		now := chunk.EnqueuedAt
		if now.IsZero() {
			now = time.Now()
		}
		sw.lastEnqueued = now

		dropped := sw.chunker.MalformedFrames
		seg := sw.chunker.Feed(chunk.Data, now)
		if sw.chunker.MalformedFrames > dropped {
			sw.worker.metrics.RecordDroppedFrames(ctx,
				int64(sw.chunker.MalformedFrames-dropped), "malformed", sw.sessionID)
		}
		if seg != nil {
			sw.process(ctx, seg)
		}
	}

	// Channel closed: the session ended, flush the partial utterance.
	flushAt := sw.lastEnqueued
	if flushAt.IsZero() {
		flushAt = time.Now()
	}
	if seg := sw.chunker.Flush(flushAt); seg != nil {
		sw.process(ctx, seg)
	}
	sw.worker.log.Info("session worker stopped", "session_id", sw.sessionID)
}

func (sw *sessionWorker) process(ctx context.Context, seg *segment.Segment) {
	utt := types.Utterance{
		ID:         uuid.NewString(),
		CallID:     sw.callID,
		SessionID:  sw.sessionID,
		SpeakerID:  sw.speakerID,
		SourceLang: sw.lang,
		PCM:        seg.PCM,
		Start:      seg.Start,
		End:        seg.End,
	}
	if err := sw.worker.cfg.Processor.Process(ctx, utt); err != nil {
		sw.worker.log.Error("utterance processing failed",
			"utterance_id", utt.ID, "session_id", sw.sessionID, "error", err)
	}
}
