// Package transcripts persists the append-only caption history of every call:
// one row per (utterance, target language) rendition. Transcript writes are
// best-effort relative to live delivery — a failed insert is logged and
// retried out of band, never blocking publication.
package transcripts

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vocero-ai/vocero/pkg/types"
)

const ddlTranscripts = `
CREATE TABLE IF NOT EXISTS transcript_entries (
    id              BIGSERIAL    PRIMARY KEY,
    call_id         TEXT         NOT NULL,
    speaker_id      TEXT         NOT NULL,
    source_lang     TEXT         NOT NULL,
    original_text   TEXT         NOT NULL,
    target_lang     TEXT         NOT NULL,
    translated_text TEXT         NOT NULL,
    timestamp_ms    BIGINT       NOT NULL,
    tts_method      TEXT         NOT NULL DEFAULT 'none',
    created_at      TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_transcript_entries_call_id
    ON transcript_entries (call_id);

CREATE INDEX IF NOT EXISTS idx_transcript_entries_call_timestamp
    ON transcript_entries (call_id, timestamp_ms);
`

// Store is the PostgreSQL-backed transcript log. All methods are safe for
// concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a Store on an existing pool and runs [Migrate].
func NewStore(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if err := Migrate(ctx, pool); err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

// Migrate creates or ensures the transcript table exists. Idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlTranscripts); err != nil {
		return fmt.Errorf("transcripts migrate: %w", err)
	}
	return nil
}

// AppendResult writes one transcript entry per rendition of a finished
// translation result, in a single batch. A result without renditions writes a
// single row with an empty target: the history keeps a trace of utterances
// that produced no usable speech.
func (s *Store) AppendResult(ctx context.Context, result types.TranslationResult) error {
	const q = `
		INSERT INTO transcript_entries
		    (call_id, speaker_id, source_lang, original_text,
		     target_lang, translated_text, timestamp_ms, tts_method)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	batch := &pgx.Batch{}
	for _, r := range result.Renditions {
		batch.Queue(q,
			result.CallID,
			result.SpeakerID,
			result.SourceLang,
			result.OriginalText,
			r.TargetLang,
			r.Text,
			result.TimestampMS,
			string(r.TTSMethod),
		)
	}
	if len(result.Renditions) == 0 {
		batch.Queue(q,
			result.CallID,
			result.SpeakerID,
			result.SourceLang,
			result.OriginalText,
			"",
			"",
			result.TimestampMS,
			string(types.TTSMethodNone),
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range batch.Len() {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("transcripts: append result %s: %w", result.UtteranceID, err)
		}
	}
	return nil
}

// History returns the call's transcript in caption order (timestamp, then
// insertion order), optionally filtered to one target language. limit <= 0
// returns everything.
func (s *Store) History(ctx context.Context, callID, targetLang string, limit int) ([]types.TranscriptEntry, error) {
	q := `
		SELECT call_id, speaker_id, source_lang, original_text,
		       target_lang, translated_text, timestamp_ms, tts_method
		FROM   transcript_entries
		WHERE  call_id = $1`
	args := []any{callID}

	if targetLang != "" {
		args = append(args, targetLang)
		q += fmt.Sprintf("\n  AND  target_lang = $%d", len(args))
	}
	q += "\nORDER  BY timestamp_ms, id"
	if limit > 0 {
		args = append(args, limit)
		q += fmt.Sprintf("\nLIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("transcripts: history %s: %w", callID, err)
	}

	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (types.TranscriptEntry, error) {
		var (
			e      types.TranscriptEntry
			method string
		)
		if err := row.Scan(
			&e.CallID,
			&e.SpeakerID,
			&e.SourceLang,
			&e.OriginalText,
			&e.TargetLang,
			&e.TranslatedText,
			&e.TimestampMS,
			&method,
		); err != nil {
			return types.TranscriptEntry{}, err
		}
		e.TTSMethod = types.TTSMethod(method)
		return e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("transcripts: scan history: %w", err)
	}
	if entries == nil {
		entries = []types.TranscriptEntry{}
	}
	return entries, nil
}

// Purge deletes entries for calls that ended before the retention cutoff.
// Returns the number of rows removed.
func (s *Store) Purge(ctx context.Context, before time.Time) (int64, error) {
	const q = `DELETE FROM transcript_entries WHERE created_at < $1`

	tag, err := s.pool.Exec(ctx, q, before)
	if err != nil {
		return 0, fmt.Errorf("transcripts: purge: %w", err)
	}
	return tag.RowsAffected(), nil
}
