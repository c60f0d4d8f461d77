package callstate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vocero-ai/vocero/pkg/lang"
	"github.com/vocero-ai/vocero/pkg/types"
)

// Compile-time interface check.
var _ Store = (*PGStore)(nil)

// PGStore is the PostgreSQL-backed Store. All methods are safe for concurrent
// use.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore creates a PGStore on an existing pool and runs [Migrate].
func NewPGStore(ctx context.Context, pool *pgxpool.Pool) (*PGStore, error) {
	if err := Migrate(ctx, pool); err != nil {
		return nil, err
	}
	return &PGStore{pool: pool}, nil
}

// CreateCall implements [Store].
func (s *PGStore) CreateCall(ctx context.Context, callID, callLanguage string) (Call, error) {
	const q = `
		INSERT INTO calls (id, status, call_language)
		VALUES ($1, $2, $3)
		RETURNING created_at`

	c := Call{ID: callID, Status: types.CallInitiating, Language: lang.Canonical(callLanguage)}
	if err := s.pool.QueryRow(ctx, q, callID, string(types.CallInitiating), c.Language).Scan(&c.CreatedAt); err != nil {
		return Call{}, fmt.Errorf("callstate: create call: %w", err)
	}
	return c, nil
}

// GetCall implements [Store].
func (s *PGStore) GetCall(ctx context.Context, callID string) (Call, error) {
	const q = `
		SELECT id, status, call_language, created_at, started_at, ended_at
		FROM   calls
		WHERE  id = $1`

	var (
		c                  Call
		status             string
		startedAt, endedAt *time.Time
	)
	err := s.pool.QueryRow(ctx, q, callID).Scan(&c.ID, &status, &c.Language, &c.CreatedAt, &startedAt, &endedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Call{}, ErrCallNotFound
	}
	if err != nil {
		return Call{}, fmt.Errorf("callstate: get call: %w", err)
	}
	c.Status = types.CallStatus(status)
	if startedAt != nil {
		c.StartedAt = *startedAt
	}
	if endedAt != nil {
		c.EndedAt = *endedAt
	}
	return c, nil
}

// SetStatus implements [Store]. The terminal-status guard runs in the same
// statement as the update so concurrent transitions cannot race.
func (s *PGStore) SetStatus(ctx context.Context, callID string, status types.CallStatus) error {
	if !status.IsValid() {
		return fmt.Errorf("callstate: set status: invalid status %q", status)
	}

	const q = `
		UPDATE calls
		SET    status     = $2,
		       started_at = CASE WHEN $2 = 'ongoing' AND started_at IS NULL THEN now() ELSE started_at END,
		       ended_at   = CASE WHEN $2 IN ('ended', 'missed') THEN now() ELSE ended_at END
		WHERE  id = $1
		  AND  status NOT IN ('ended', 'missed')`

	tag, err := s.pool.Exec(ctx, q, callID, string(status))
	if err != nil {
		return fmt.Errorf("callstate: set status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Either missing or already terminal; distinguish for the caller.
		if _, err := s.GetCall(ctx, callID); errors.Is(err, ErrCallNotFound) {
			return ErrCallNotFound
		}
		return ErrCallEnded
	}
	return nil
}

// Join implements [Store]. Rejoining after a leave resets left_at and the
// connection flags while keeping the original joined_at.
func (s *PGStore) Join(ctx context.Context, p types.Participant) error {
	call, err := s.GetCall(ctx, p.CallID)
	if err != nil {
		return err
	}
	if call.Status.Terminal() {
		return ErrCallEnded
	}

	const q = `
		INSERT INTO participants
		    (call_id, user_id, spoken_lang, dubbing_required, voice_profile, voice_score, muted, connected)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (call_id, user_id) DO UPDATE SET
		    spoken_lang      = EXCLUDED.spoken_lang,
		    dubbing_required = EXCLUDED.dubbing_required,
		    voice_profile    = EXCLUDED.voice_profile,
		    voice_score      = EXCLUDED.voice_score,
		    muted            = EXCLUDED.muted,
		    connected        = EXCLUDED.connected,
		    left_at          = NULL`

	voice := p.VoiceProfile
	if voice == "" {
		voice = types.DefaultVoiceProfile
	}
	_, err = s.pool.Exec(ctx, q,
		p.CallID,
		p.UserID,
		lang.Canonical(p.SpokenLang),
		p.DubbingRequired,
		voice,
		p.VoiceScore,
		p.Muted,
		p.Connected,
	)
	if err != nil {
		return fmt.Errorf("callstate: join: %w", err)
	}
	return nil
}

// Leave implements [Store].
func (s *PGStore) Leave(ctx context.Context, callID, userID string) error {
	const q = `
		UPDATE participants
		SET    left_at = now(), connected = false
		WHERE  call_id = $1 AND user_id = $2 AND left_at IS NULL`
	return s.execParticipant(ctx, "leave", q, callID, userID)
}

// SetMuted implements [Store].
func (s *PGStore) SetMuted(ctx context.Context, callID, userID string, muted bool) error {
	const q = `
		UPDATE participants
		SET    muted = $3
		WHERE  call_id = $1 AND user_id = $2 AND left_at IS NULL`
	return s.execParticipant(ctx, "set muted", q, callID, userID, muted)
}

// SetConnected implements [Store].
func (s *PGStore) SetConnected(ctx context.Context, callID, userID string, connected bool) error {
	const q = `
		UPDATE participants
		SET    connected = $3
		WHERE  call_id = $1 AND user_id = $2 AND left_at IS NULL`
	return s.execParticipant(ctx, "set connected", q, callID, userID, connected)
}

// Participants implements [Store].
func (s *PGStore) Participants(ctx context.Context, callID string) ([]types.Participant, error) {
	const q = `
		SELECT call_id, user_id, spoken_lang, dubbing_required, voice_profile,
		       voice_score, muted, connected, joined_at, left_at
		FROM   participants
		WHERE  call_id = $1
		ORDER  BY joined_at`

	rows, err := s.pool.Query(ctx, q, callID)
	if err != nil {
		return nil, fmt.Errorf("callstate: participants: %w", err)
	}

	parts, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (types.Participant, error) {
		var (
			p      types.Participant
			leftAt *time.Time
		)
		if err := row.Scan(
			&p.CallID,
			&p.UserID,
			&p.SpokenLang,
			&p.DubbingRequired,
			&p.VoiceProfile,
			&p.VoiceScore,
			&p.Muted,
			&p.Connected,
			&p.JoinedAt,
			&leftAt,
		); err != nil {
			return types.Participant{}, err
		}
		if leftAt != nil {
			p.LeftAt = *leftAt
		}
		return p, nil
	})
	if err != nil {
		return nil, fmt.Errorf("callstate: scan participants: %w", err)
	}
	return parts, nil
}

func (s *PGStore) execParticipant(ctx context.Context, op, q string, args ...any) error {
	tag, err := s.pool.Exec(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("callstate: %s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrParticipantNotFound
	}
	return nil
}
