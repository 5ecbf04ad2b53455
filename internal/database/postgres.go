package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/letieu/advice-scorer/internal/models"
)

// Postgres stores records in a PostgreSQL database through a pgx pool.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *Postgres) Migrate(ctx context.Context) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, stmt := range splitStatements(postgresSchema) {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("SQL failed:\n%s\nERROR: %w", stmt, err)
		}
	}
	return tx.Commit(ctx)
}

func (p *Postgres) Exists(ctx context.Context, postID string) (bool, error) {
	var exists bool
	err := p.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM processed_records WHERE post_id = $1)`, postID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check record %s: %w", postID, err)
	}
	return exists, nil
}

func (p *Postgres) Put(ctx context.Context, rec *models.ProcessedRecord) error {
	if err := validateRecord(rec); err != nil {
		return err
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("insert record %s: %w", rec.PostID, err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		INSERT INTO processed_records (
			post_id, post_title, post_text, post_url, post_created_at,
			top_comment_id, top_comment_text, top_comment_score, top_comment_is_advice,
			advice, advice_prompt, advice_model, similarity,
			status, failure_reason, attempts, run_id, processed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		ON CONFLICT (post_id) DO NOTHING`,
		rec.PostID,
		rec.PostTitle,
		rec.PostText,
		rec.PostURL,
		rec.PostCreatedAt,
		rec.TopCommentID,
		rec.TopCommentText,
		rec.TopCommentScore,
		rec.TopCommentIsAdvice,
		rec.Advice,
		rec.AdvicePrompt,
		rec.AdviceModel,
		rec.Similarity,
		string(rec.Status),
		rec.FailureReason,
		rec.Attempts,
		rec.RunID,
		rec.ProcessedAt,
	)
	if err != nil {
		return fmt.Errorf("insert record %s: %w", rec.PostID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("insert record %s: %w", rec.PostID, ErrDuplicateKey)
	}

	for _, c := range rec.Comments {
		if _, err := tx.Exec(ctx, `
			INSERT INTO record_comments (
				post_id, comment_id, rank, body, author, score, is_advice, similarity
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			rec.PostID, c.CommentID, c.Rank, c.Body, c.Author, c.Score, c.IsAdvice, c.Similarity,
		); err != nil {
			return fmt.Errorf("insert comment %s for %s: %w", c.CommentID, rec.PostID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("insert record %s: %w", rec.PostID, err)
	}
	return nil
}

func (p *Postgres) Get(ctx context.Context, postID string) (*models.ProcessedRecord, error) {
	var rec models.ProcessedRecord
	var status string
	err := p.pool.QueryRow(ctx, `
		SELECT post_id, post_title, post_text, post_url, post_created_at,
			top_comment_id, top_comment_text, top_comment_score, top_comment_is_advice,
			advice, advice_prompt, advice_model, similarity,
			status, failure_reason, attempts, run_id, processed_at
		FROM processed_records
		WHERE post_id = $1`, postID).Scan(
		&rec.PostID,
		&rec.PostTitle,
		&rec.PostText,
		&rec.PostURL,
		&rec.PostCreatedAt,
		&rec.TopCommentID,
		&rec.TopCommentText,
		&rec.TopCommentScore,
		&rec.TopCommentIsAdvice,
		&rec.Advice,
		&rec.AdvicePrompt,
		&rec.AdviceModel,
		&rec.Similarity,
		&status,
		&rec.FailureReason,
		&rec.Attempts,
		&rec.RunID,
		&rec.ProcessedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("get record %s: %w", postID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get record %s: %w", postID, err)
	}
	rec.Status = models.Status(status)

	rows, err := p.pool.Query(ctx, `
		SELECT comment_id, rank, body, author, score, is_advice, similarity
		FROM record_comments
		WHERE post_id = $1
		ORDER BY rank`, postID)
	if err != nil {
		return nil, fmt.Errorf("get comments for %s: %w", postID, err)
	}
	rec.Comments, err = pgx.CollectRows(rows, pgx.RowToStructByPos[models.RankedComment])
	if err != nil {
		return nil, fmt.Errorf("get comments for %s: %w", postID, err)
	}
	return &rec, nil
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
