package callstate

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlCalls = `
CREATE TABLE IF NOT EXISTS calls (
    id             TEXT         PRIMARY KEY,
    status         TEXT         NOT NULL,
    call_language  TEXT         NOT NULL DEFAULT '',
    created_at     TIMESTAMPTZ  NOT NULL DEFAULT now(),
    started_at     TIMESTAMPTZ,
    ended_at       TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_calls_status
    ON calls (status);
`

const ddlParticipants = `
CREATE TABLE IF NOT EXISTS participants (
    call_id          TEXT         NOT NULL REFERENCES calls (id) ON DELETE CASCADE,
    user_id          TEXT         NOT NULL,
    spoken_lang      TEXT         NOT NULL,
    dubbing_required BOOLEAN      NOT NULL DEFAULT true,
    voice_profile    TEXT         NOT NULL DEFAULT 'default',
    voice_score      DOUBLE PRECISION NOT NULL DEFAULT 0,
    muted            BOOLEAN      NOT NULL DEFAULT false,
    connected        BOOLEAN      NOT NULL DEFAULT false,
    joined_at        TIMESTAMPTZ  NOT NULL DEFAULT now(),
    left_at          TIMESTAMPTZ,
    PRIMARY KEY (call_id, user_id)
);

CREATE INDEX IF NOT EXISTS idx_participants_call_id
    ON participants (call_id);
`

// Migrate creates or ensures the call-state tables exist. It is idempotent
// and safe to call on every application start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range []string{ddlCalls, ddlParticipants} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("callstate migrate: %w", err)
		}
	}
	return nil
}
