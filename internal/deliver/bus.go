// Package deliver fans translation results and call control events out to
// every gateway node holding a session on the call, over Redis Pub/Sub. The
// bus is fire-and-forget: results are persisted to transcripts independently,
// so a gateway that misses a message only misses live delivery, not history.
package deliver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/vocero-ai/vocero/pkg/types"
)

// channelPrefix namespaces per-call result channels.
const channelPrefix = "call:results:"

// ChannelKey returns the Pub/Sub channel carrying callID's results.
func ChannelKey(callID string) string {
	return channelPrefix + callID
}

// Kind discriminates envelope payloads.
type Kind string

const (
	// KindTranslation carries a finished TranslationResult.
	KindTranslation Kind = "translation"

	// KindControl carries a call membership or lifecycle event.
	KindControl Kind = "control"

	// KindInterim carries a source-language transcript published before the
	// translation fan-out completes.
	KindInterim Kind = "interim"
)

// Control event names.
const (
	EventParticipantJoined = "participant_joined"
	EventParticipantLeft   = "participant_left"
	EventParticipantMuted  = "participant_muted"
	EventParticipantUnmute = "participant_unmuted"
	EventCallEnded         = "call_ended"
)

// ControlEvent is a call membership or lifecycle change broadcast to every
// session on the call.
type ControlEvent struct {
	Event  string `json:"event"`
	CallID string `json:"call_id"`
	UserID string `json:"user_id,omitempty"`
	Lang   string `json:"lang,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// InterimEvent is a speaker's recognized text in the source language, sent
// ahead of the translated result. Interims are best-effort and never
// persisted.
type InterimEvent struct {
	CallID      string  `json:"call_id"`
	UtteranceID string  `json:"utterance_id"`
	SpeakerID   string  `json:"speaker_id"`
	SourceLang  string  `json:"source_lang"`
	Text        string  `json:"text"`
	Confidence  float64 `json:"confidence"`
	TimestampMS int64   `json:"timestamp_ms"`
}

// Envelope is the wire format on the delivery bus. Exactly one payload field
// is set, selected by Kind.
type Envelope struct {
	Kind        Kind                     `json:"kind"`
	Translation *types.TranslationResult `json:"translation,omitempty"`
	Control     *ControlEvent            `json:"control,omitempty"`
	Interim     *InterimEvent            `json:"interim,omitempty"`
}

// Bus publishes and subscribes call-scoped envelopes. Safe for concurrent
// use.
type Bus struct {
	rdb redis.UniversalClient
	log *slog.Logger
}

// NewBus creates a Bus over an existing Redis client. A nil logger selects
// slog.Default.
func NewBus(rdb redis.UniversalClient, log *slog.Logger) *Bus {
	if log == nil {
		log = slog.Default()
	}
	return &Bus{rdb: rdb, log: log}
}

// PublishTranslation broadcasts a finished translation result to the call's
// channel.
func (b *Bus) PublishTranslation(ctx context.Context, result types.TranslationResult) error {
	return b.publish(ctx, result.CallID, Envelope{Kind: KindTranslation, Translation: &result})
}

// PublishInterim broadcasts a pre-translation transcript to the call's
// channel.
func (b *Bus) PublishInterim(ctx context.Context, event InterimEvent) error {
	return b.publish(ctx, event.CallID, Envelope{Kind: KindInterim, Interim: &event})
}

// PublishControl broadcasts a control event to the call's channel.
func (b *Bus) PublishControl(ctx context.Context, event ControlEvent) error {
	return b.publish(ctx, event.CallID, Envelope{Kind: KindControl, Control: &event})
}

func (b *Bus) publish(ctx context.Context, callID string, env Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("deliver: marshal envelope: %w", err)
	}
	if err := b.rdb.Publish(ctx, ChannelKey(callID), payload).Err(); err != nil {
		return fmt.Errorf("deliver: publish to call %s: %w", callID, err)
	}
	return nil
}

// Subscribe opens a subscription to callID's channel. Envelopes arrive on
// [Subscription.C] until Close is called or ctx is cancelled.
func (b *Bus) Subscribe(ctx context.Context, callID string) *Subscription {
	ps := b.rdb.Subscribe(ctx, ChannelKey(callID))
	sub := &Subscription{
		ps:  ps,
		ch:  make(chan Envelope, 16),
		log: b.log,
	}
	go sub.pump(ctx)
	return sub
}

// Subscription is one gateway session's view of a call channel.
type Subscription struct {
	ps  *redis.PubSub
	ch  chan Envelope
	log *slog.Logger
}

// C returns the envelope channel. It is closed when the subscription ends.
func (s *Subscription) C() <-chan Envelope { return s.ch }

// Close tears the subscription down and closes C.
func (s *Subscription) Close() error {
	return s.ps.Close()
}

func (s *Subscription) pump(ctx context.Context) {
	defer close(s.ch)
	msgs := s.ps.Channel()
	for {
		select {
		case <-ctx.Done():
			_ = s.ps.Close()
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			var env Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				s.log.Warn("dropping undecodable bus message",
					"channel", msg.Channel, "error", err)
				continue
			}
			select {
			case s.ch <- env:
			case <-ctx.Done():
				_ = s.ps.Close()
				return
			}
		}
	}
}
