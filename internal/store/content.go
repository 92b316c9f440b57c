// ABOUTME: Content item rows — the entities pipeline jobs operate on. Holds
// ABOUTME: the idea→selected→processing→completed state machine and checkpoints.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ContentStatus is the lifecycle state of a content item. processing is
// re-entrant: a retried pipeline job re-enters it and resumes from the
// stored checkpoint rather than restarting.
type ContentStatus string

const (
	ContentIdea       ContentStatus = "idea"
	ContentSelected   ContentStatus = "selected"
	ContentProcessing ContentStatus = "processing"
	ContentCompleted  ContentStatus = "completed"
)

var (
	// ErrContentNotFound is returned when no content item matches the id.
	ErrContentNotFound = errors.New("content item not found")
	// ErrContentState is returned when a conditional transition finds the
	// item in a different state than expected — a racing writer won.
	ErrContentState = errors.New("content item is not in the expected state")
)

// ContentItem is one piece of campaign content moving through the
// generation pipeline. Checkpoint carries in-flight pipeline state; it lives
// here rather than on the job row because it must outlive job attempts.
type ContentItem struct {
	ID         uuid.UUID
	CampaignID uuid.UUID
	Title      string
	Summary    string
	SourceURL  *string
	Score      *float32
	Status     ContentStatus
	Body       *string
	Checkpoint json.RawMessage
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

const contentColumns = `id, campaign_id, title, summary, source_url, score,
	status, body, checkpoint, created_at, updated_at`

func scanContentItem(row pgx.Row) (*ContentItem, error) {
	var c ContentItem
	err := row.Scan(
		&c.ID, &c.CampaignID, &c.Title, &c.Summary, &c.SourceURL, &c.Score,
		&c.Status, &c.Body, &c.Checkpoint, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// InsertContentIdea records a scanned idea for a campaign. Ideas found at
// the same source URL twice are deduplicated; the second insert returns
// (nil, nil).
func (s *Store) InsertContentIdea(ctx context.Context, campaignID uuid.UUID, title, summary, sourceURL string) (*ContentItem, error) {
	var src *string
	if sourceURL != "" {
		src = &sourceURL
	}
	c, err := scanContentItem(s.pool.QueryRow(ctx,
		`INSERT INTO content_items (campaign_id, title, summary, source_url)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (campaign_id, source_url) WHERE source_url IS NOT NULL DO NOTHING
		 RETURNING `+contentColumns,
		campaignID, title, summary, src))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("insert content idea: %w", err)
	}
	return c, nil
}

// GetContentItem returns one content item by id, or ErrContentNotFound.
func (s *Store) GetContentItem(ctx context.Context, id uuid.UUID) (*ContentItem, error) {
	c, err := scanContentItem(s.pool.QueryRow(ctx,
		`SELECT `+contentColumns+` FROM content_items WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("get content item %s: %w", id, ErrContentNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get content item %s: %w", id, err)
	}
	return c, nil
}

// UnscoredIdeas lists ideas for a campaign that have not been scored yet.
func (s *Store) UnscoredIdeas(ctx context.Context, campaignID uuid.UUID, limit int) ([]*ContentItem, error) {
	return s.listContent(ctx,
		`SELECT `+contentColumns+` FROM content_items
		 WHERE campaign_id = $1 AND status = 'idea' AND score IS NULL
		 ORDER BY created_at ASC LIMIT $2`, campaignID, limit)
}

// TopScoredIdeas lists scored ideas for a campaign, best first.
func (s *Store) TopScoredIdeas(ctx context.Context, campaignID uuid.UUID, limit int) ([]*ContentItem, error) {
	return s.listContent(ctx,
		`SELECT `+contentColumns+` FROM content_items
		 WHERE campaign_id = $1 AND status = 'idea' AND score IS NOT NULL
		 ORDER BY score DESC, created_at ASC LIMIT $2`, campaignID, limit)
}

func (s *Store) listContent(ctx context.Context, query string, args ...any) ([]*ContentItem, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list content items: %w", err)
	}
	defer rows.Close()

	var items []*ContentItem
	for rows.Next() {
		c, err := scanContentItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan content item: %w", err)
		}
		items = append(items, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list content items: %w", err)
	}
	return items, nil
}

// SetContentScore writes a relevance score onto an idea. Guarded by
// status='idea' so a scoring pass cannot touch items already promoted.
func (s *Store) SetContentScore(ctx context.Context, id uuid.UUID, score float32) error {
	return s.conditionalContentUpdate(ctx, "score content item",
		`UPDATE content_items SET score = $2, updated_at = now()
		 WHERE id = $1 AND status = 'idea'`, id, score)
}

// MarkContentSelected promotes an idea into the pipeline queue.
func (s *Store) MarkContentSelected(ctx context.Context, id uuid.UUID) error {
	return s.conditionalContentUpdate(ctx, "select content item",
		`UPDATE content_items SET status = 'selected', updated_at = now()
		 WHERE id = $1 AND status = 'idea'`, id)
}

// MarkContentProcessing transitions selected→processing when a pipeline job
// picks the item up. A re-entrant attempt (item already processing) affects
// zero rows and returns ErrContentState; the pipeline re-reads and resumes.
func (s *Store) MarkContentProcessing(ctx context.Context, id uuid.UUID) error {
	return s.conditionalContentUpdate(ctx, "mark content processing",
		`UPDATE content_items SET status = 'processing', updated_at = now()
		 WHERE id = $1 AND status = 'selected'`, id)
}

// SaveCheckpoint persists pipeline progress for an item. Only legal while
// the item is processing; zero rows is a hard error because continuing past
// a lost checkpoint write would re-run completed stages on the next attempt.
func (s *Store) SaveCheckpoint(ctx context.Context, id uuid.UUID, checkpoint json.RawMessage) error {
	return s.conditionalContentUpdate(ctx, "save checkpoint",
		`UPDATE content_items SET checkpoint = $2, updated_at = now()
		 WHERE id = $1 AND status = 'processing'`, id, checkpoint)
}

// FinalizeContent completes an item: body written, checkpoint cleared,
// processing→completed.
func (s *Store) FinalizeContent(ctx context.Context, id uuid.UUID, body string) error {
	return s.conditionalContentUpdate(ctx, "finalize content item",
		`UPDATE content_items SET status = 'completed', body = $2, checkpoint = NULL, updated_at = now()
		 WHERE id = $1 AND status = 'processing'`, id, body)
}

// ReleaseContent is the reaper path: a stuck item returns processing→selected
// with its checkpoint intact, so the next attempt resumes instead of
// restarting. No-ops when the item already moved on.
func (s *Store) ReleaseContent(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE content_items SET status = 'selected', updated_at = now()
		 WHERE id = $1 AND status = 'processing'`, id)
	if err != nil {
		return fmt.Errorf("release content item %s: %w", id, err)
	}
	return nil
}

func (s *Store) conditionalContentUpdate(ctx context.Context, op, query string, id uuid.UUID, args ...any) error {
	ct, err := s.pool.Exec(ctx, query, append([]any{id}, args...)...)
	if err != nil {
		return fmt.Errorf("%s %s: %w", op, id, err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("%s %s: %w", op, id, ErrContentState)
	}
	return nil
}
