package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dharsanguruparan/LyricSync/internal/model"
)

// ProjectRepository wraps all SQL used by the API, the worker and the CLI.
type ProjectRepository struct {
	pool *pgxpool.Pool
}

// NewProjectRepository constructs a repository.
func NewProjectRepository(pool *pgxpool.Pool) *ProjectRepository {
	return &ProjectRepository{pool: pool}
}

// Create inserts an idle project before any audio is uploaded.
func (r *ProjectRepository) Create(ctx context.Context, p *model.Project) error {
	now := time.Now().UTC()
	if p.Status == "" {
		p.Status = model.StatusIdle
	}
	p.CreatedAt = now
	p.UpdatedAt = now
	_, err := r.pool.Exec(ctx, `
		INSERT INTO projects (id, owner_id, audio_url, status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, p.ID, p.OwnerID, p.AudioURL, p.Status, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert project: %w", err)
	}
	return nil
}

// Get returns a project joined with its transcript. A row owned by someone
// else is reported exactly like a missing one.
func (r *ProjectRepository) Get(ctx context.Context, id, ownerID string) (*model.Project, error) {
	var (
		p         model.Project
		status    string
		audioURL  sql.NullString
		vocalsURL sql.NullString
		errorMsg  sql.NullString
		notes     sql.NullString
		videoURL  sql.NullString
		rawText   sql.NullString
		timedJSON []byte
	)
	row := r.pool.QueryRow(ctx, `
		SELECT p.id, p.owner_id, p.audio_url, p.isolated_vocals_url, p.status, p.error_message,
			p.processing_notes, p.video_url, p.created_at, p.updated_at, l.raw_text, l.timed_json
		FROM projects p
		LEFT JOIN lyrics_source l ON l.project_id = p.id
		WHERE p.id=$1 AND p.owner_id=$2
	`, id, ownerID)
	if err := row.Scan(&p.ID, &p.OwnerID, &audioURL, &vocalsURL, &status, &errorMsg,
		&notes, &videoURL, &p.CreatedAt, &p.UpdatedAt, &rawText, &timedJSON); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrNotFound
		}
		return nil, fmt.Errorf("select project: %w", err)
	}
	parsed, ok := model.ParseProjectStatus(status)
	if !ok {
		return nil, fmt.Errorf("select project: unknown status %q", status)
	}
	p.Status = parsed
	p.AudioURL = nullable(audioURL)
	p.IsolatedVocalsURL = nullable(vocalsURL)
	p.ErrorMessage = nullable(errorMsg)
	p.ProcessingNotes = nullable(notes)
	p.VideoURL = nullable(videoURL)
	p.RawText = nullable(rawText)
	if len(timedJSON) > 0 {
		var timed model.Transcription
		if err := json.Unmarshal(timedJSON, &timed); err != nil {
			return nil, fmt.Errorf("decode timed_json: %w", err)
		}
		p.TimedJSON = &timed
	}
	return &p, nil
}

// Update applies a partial merge. Nil fields keep their column value. A
// ResetArtifacts update also deletes the transcript row in the same
// transaction.
func (r *ProjectRepository) Update(ctx context.Context, id, ownerID string, u model.ProjectUpdate) error {
	if u.Empty() {
		return nil
	}
	var status *string
	if u.Status != nil {
		s := string(*u.Status)
		status = &s
	}
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE projects
			SET status = COALESCE($1, status),
				audio_url = COALESCE($2, audio_url),
				isolated_vocals_url = CASE WHEN $11 THEN NULL ELSE COALESCE($3, isolated_vocals_url) END,
				error_message = CASE WHEN $4 THEN NULL ELSE COALESCE($5, error_message) END,
				processing_notes = CASE WHEN $6 THEN NULL ELSE COALESCE($7, processing_notes) END,
				video_url = CASE WHEN $11 THEN NULL ELSE video_url END,
				updated_at = $8
			WHERE id=$9 AND owner_id=$10
		`, status, u.AudioURL, u.IsolatedVocalsURL, u.ClearError, u.ErrorMessage,
			u.ClearNotes, u.ProcessingNotes, time.Now().UTC(), id, ownerID, u.ResetArtifacts)
		if err != nil {
			return fmt.Errorf("update project: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return model.ErrNotFound
		}
		if u.ResetArtifacts {
			if _, err := tx.Exec(ctx, `DELETE FROM lyrics_source WHERE project_id=$1`, id); err != nil {
				return fmt.Errorf("drop transcript: %w", err)
			}
		}
		return nil
	})
}

// UpsertTranscript writes raw_text and timed_json, replacing any earlier row
// for the same project.
func (r *ProjectRepository) UpsertTranscript(ctx context.Context, projectID, rawText string, timed *model.Transcription) error {
	payload, err := json.Marshal(timed)
	if err != nil {
		return fmt.Errorf("encode timed_json: %w", err)
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO lyrics_source (project_id, raw_text, timed_json, updated_at)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (project_id) DO UPDATE
		SET raw_text = EXCLUDED.raw_text,
			timed_json = EXCLUDED.timed_json,
			updated_at = EXCLUDED.updated_at
	`, projectID, rawText, payload, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("upsert transcript: %w", err)
	}
	return nil
}

// AcquireLease takes a session-level advisory lock for the project on a
// dedicated connection. The returned func unlocks and returns the connection
// to the pool; it is safe to call more than once.
func (r *ProjectRepository) AcquireLease(ctx context.Context, projectID string) (func(), error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire lease connection: %w", err)
	}
	var locked bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock(hashtextextended($1, 0))`, lockKey(projectID)).Scan(&locked); err != nil {
		conn.Release()
		return nil, fmt.Errorf("acquire lease: %w", err)
	}
	if !locked {
		conn.Release()
		return nil, model.ErrLeaseHeld
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if _, err := conn.Exec(unlockCtx, `SELECT pg_advisory_unlock(hashtextextended($1, 0))`, lockKey(projectID)); err != nil {
				// A failed unlock leaves the lock on the session; drop the
				// connection so the server releases it.
				conn.Conn().Close(unlockCtx)
			}
			conn.Release()
		})
	}, nil
}

func lockKey(projectID string) string {
	return "lyricsync:project:" + projectID
}

func nullable(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}
