package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"

	"linkhoard/internal/models"
)

// SaveBookmark upserts a captured page keyed by URL, so re-fetching a
// bookmark refreshes its content instead of duplicating it.
func (s *Store) SaveBookmark(ctx context.Context, b models.Bookmark) (models.Bookmark, error) {
	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	if b.FetchedAt.IsZero() {
		b.FetchedAt = time.Now().UTC()
	}

	qaJSON, err := json.Marshal(b.QA)
	if err != nil {
		return models.Bookmark{}, fmt.Errorf("marshal qa: %w", err)
	}
	embJSON, err := json.Marshal(b.Embedding)
	if err != nil {
		return models.Bookmark{}, fmt.Errorf("marshal embedding: %w", err)
	}

	err = s.pool.QueryRow(ctx, `
		INSERT INTO bookmarks (id, url, title, excerpt, qa, embedding, thumbnail_path, fetched_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (url) DO UPDATE SET
			title = EXCLUDED.title,
			excerpt = EXCLUDED.excerpt,
			qa = EXCLUDED.qa,
			embedding = EXCLUDED.embedding,
			thumbnail_path = EXCLUDED.thumbnail_path,
			fetched_at = EXCLUDED.fetched_at
		RETURNING id
	`, b.ID, b.URL, b.Title, b.Excerpt, qaJSON, embJSON, b.ThumbnailPath, b.FetchedAt).Scan(&b.ID)
	if err != nil {
		return models.Bookmark{}, fmt.Errorf("upsert bookmark: %w", err)
	}
	return b, nil
}

// ListBookmarks returns every bookmark ordered by URL, the stable
// order the sync exporter digests over.
func (s *Store) ListBookmarks(ctx context.Context) ([]models.Bookmark, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, url, title, excerpt, qa, embedding, thumbnail_path, fetched_at
		FROM bookmarks
		ORDER BY url
	`)
	if err != nil {
		return nil, fmt.Errorf("query bookmarks: %w", err)
	}
	defer rows.Close()

	var out []models.Bookmark
	for rows.Next() {
		var b models.Bookmark
		var qaJSON, embJSON []byte
		if err := rows.Scan(&b.ID, &b.URL, &b.Title, &b.Excerpt, &qaJSON, &embJSON, &b.ThumbnailPath, &b.FetchedAt); err != nil {
			return nil, fmt.Errorf("scan bookmark: %w", err)
		}
		if len(qaJSON) > 0 {
			if err := json.Unmarshal(qaJSON, &b.QA); err != nil {
				return nil, fmt.Errorf("unmarshal qa: %w", err)
			}
		}
		if len(embJSON) > 0 {
			if err := json.Unmarshal(embJSON, &b.Embedding); err != nil {
				return nil, fmt.Errorf("unmarshal embedding: %w", err)
			}
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// Export assembles the versioned snapshot handed to the remote store.
func (s *Store) Export(ctx context.Context) (models.Snapshot, error) {
	items, err := s.ListBookmarks(ctx)
	if err != nil {
		return models.Snapshot{}, err
	}
	return models.Snapshot{
		Version:    models.SnapshotVersion,
		ExportedAt: time.Now().UTC(),
		ItemCount:  len(items),
		Items:      items,
	}, nil
}

// SyncState reads the single bookkeeping row.
func (s *Store) SyncState(ctx context.Context) (models.SyncState, error) {
	var st models.SyncState
	var lastSync, lastAttempt pgtype.Timestamptz
	var lastErr pgtype.Text
	err := s.pool.QueryRow(ctx, `
		SELECT last_sync_time, last_sync_error, last_attempt_time FROM sync_state WHERE id = 1
	`).Scan(&lastSync, &lastErr, &lastAttempt)
	if err != nil {
		return models.SyncState{}, fmt.Errorf("query sync state: %w", err)
	}
	st.LastSyncTime = timePtr(lastSync)
	st.LastSyncError = textPtr(lastErr)
	st.LastAttemptTime = timePtr(lastAttempt)
	return st, nil
}

// SetSyncAttempt moves the debounce anchor.
func (s *Store) SetSyncAttempt(ctx context.Context, t time.Time) error {
	_, err := s.pool.Exec(ctx, `UPDATE sync_state SET last_attempt_time = $1 WHERE id = 1`, t)
	return err
}

// SetSyncSuccess records a completed sync and clears any prior error.
func (s *Store) SetSyncSuccess(ctx context.Context, t time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE sync_state SET last_sync_time = $1, last_sync_error = NULL WHERE id = 1
	`, t)
	return err
}

// SetSyncError records the failure message shown in sync status.
func (s *Store) SetSyncError(ctx context.Context, msg string) error {
	_, err := s.pool.Exec(ctx, `UPDATE sync_state SET last_sync_error = $1 WHERE id = 1`, msg)
	return err
}
