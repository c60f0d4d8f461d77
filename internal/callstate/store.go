// Package callstate tracks calls and their participants: who is on a call,
// what language each person speaks, and whether they currently receive dubbed
// audio. It backs both the gateway (join/leave/mute) and the pipeline's
// recipient-map resolution.
package callstate

import (
	"context"
	"errors"
	"time"

	"github.com/vocero-ai/vocero/pkg/types"
)

// Sentinel errors returned by Store implementations.
var (
	// ErrCallNotFound is returned when the referenced call does not exist.
	ErrCallNotFound = errors.New("callstate: call not found")

	// ErrParticipantNotFound is returned when the referenced participant is
	// not on the call.
	ErrParticipantNotFound = errors.New("callstate: participant not found")

	// ErrCallEnded is returned when an operation targets a call in a terminal
	// status.
	ErrCallEnded = errors.New("callstate: call already ended")
)

// Call is one call's lifecycle record.
type Call struct {
	ID     string
	Status types.CallStatus

	// Language is the caller's language, set at creation and immutable for
	// the lifetime of the call. Clients receive it in the connected frame.
	Language string

	CreatedAt time.Time
	StartedAt time.Time
	EndedAt   time.Time
}

// Store persists call and participant state. All methods are safe for
// concurrent use.
type Store interface {
	// CreateCall records a new call in the initiating status. callLanguage
	// is the caller's canonical language tag.
	CreateCall(ctx context.Context, callID, callLanguage string) (Call, error)

	// GetCall returns the call record, or ErrCallNotFound.
	GetCall(ctx context.Context, callID string) (Call, error)

	// SetStatus transitions the call to status. Transitions out of a terminal
	// status return ErrCallEnded. Moving to ongoing stamps StartedAt; moving
	// to a terminal status stamps EndedAt.
	SetStatus(ctx context.Context, callID string, status types.CallStatus) error

	// Join adds (or re-adds, after a leave) a participant to the call.
	Join(ctx context.Context, p types.Participant) error

	// Leave marks the participant as having left the call.
	Leave(ctx context.Context, callID, userID string) error

	// SetMuted flips the participant's mute flag.
	SetMuted(ctx context.Context, callID, userID string, muted bool) error

	// SetConnected flips the participant's live-connection flag, used by the
	// gateway across disconnects and reconnects.
	SetConnected(ctx context.Context, callID, userID string, connected bool) error

	// Participants returns every participant record for the call, including
	// ones that have left.
	Participants(ctx context.Context, callID string) ([]types.Participant, error)
}
