// Package ingest moves raw PCM frames from gateway nodes to pipeline workers
// over Redis Streams. Each session writes to its own stream so per-speaker
// ordering is preserved end to end; workers share a consumer group so each
// frame is processed exactly once across the fleet.
package ingest

import (
	"fmt"
	"strconv"
	"time"

	"github.com/vocero-ai/vocero/pkg/types"
)

const (
	// Group is the consumer group shared by all pipeline workers.
	Group = "audio_processors"

	// registryKey is the Redis set of session IDs with an active stream.
	// Consumers poll it to discover new streams.
	registryKey = "streams:active"

	streamPrefix = "stream:audio:"
)

// StreamKey returns the Redis stream key carrying sessionID's audio.
func StreamKey(sessionID string) string {
	return streamPrefix + sessionID
}

// Stream record field names.
const (
	fieldCallID     = "call_id"
	fieldSpeakerID  = "speaker_id"
	fieldSourceLang = "source_lang"
	fieldSeq        = "seq"
	fieldPCM        = "pcm"
	fieldEnqueued   = "enqueued_at"
	fieldEnd        = "end"
)

// encodeFrame flattens a PCM chunk into stream record fields.
func encodeFrame(chunk types.PCMChunk) map[string]any {
	return map[string]any{
		fieldCallID:     chunk.CallID,
		fieldSpeakerID:  chunk.SpeakerID,
		fieldSourceLang: chunk.SourceLang,
		fieldSeq:        strconv.FormatUint(chunk.Seq, 10),
		fieldPCM:        chunk.Data,
		fieldEnqueued:   strconv.FormatInt(chunk.EnqueuedAt.UnixMicro(), 10),
	}
}

// encodeEnd builds the end-of-session marker record.
func encodeEnd(callID, speakerID string) map[string]any {
	return map[string]any{
		fieldCallID:    callID,
		fieldSpeakerID: speakerID,
		fieldEnd:       "1",
	}
}

// isEnd reports whether a decoded record is an end-of-session marker.
func isEnd(values map[string]any) bool {
	v, ok := values[fieldEnd]
	if !ok {
		return false
	}
	s, _ := v.(string)
	return s == "1"
}

// decodeFrame rebuilds a PCM chunk from stream record fields. Redis returns
// every field value as a string.
func decodeFrame(sessionID string, values map[string]any) (types.PCMChunk, error) {
	chunk := types.PCMChunk{SessionID: sessionID}

	str := func(field string) string {
		s, _ := values[field].(string)
		return s
	}

	chunk.CallID = str(fieldCallID)
	chunk.SpeakerID = str(fieldSpeakerID)
	chunk.SourceLang = str(fieldSourceLang)
	if chunk.CallID == "" || chunk.SpeakerID == "" {
		return types.PCMChunk{}, fmt.Errorf("ingest: decode frame: missing call or speaker id")
	}

	seq, err := strconv.ParseUint(str(fieldSeq), 10, 64)
	if err != nil {
		return types.PCMChunk{}, fmt.Errorf("ingest: decode frame: seq: %w", err)
	}
	chunk.Seq = seq

	micros, err := strconv.ParseInt(str(fieldEnqueued), 10, 64)
	if err != nil {
		return types.PCMChunk{}, fmt.Errorf("ingest: decode frame: enqueued_at: %w", err)
	}
	chunk.EnqueuedAt = time.UnixMicro(micros)

	pcm := str(fieldPCM)
	if pcm == "" {
		return types.PCMChunk{}, fmt.Errorf("ingest: decode frame: empty pcm payload")
	}
	chunk.Data = []byte(pcm)

	return chunk, nil
}
