package database

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/tursodatabase/libsql-client-go/libsql"
	_ "modernc.org/sqlite"

	"github.com/letieu/advice-scorer/config"
	"github.com/letieu/advice-scorer/internal/models"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrDuplicateKey = errors.New("record already exists")
)

//go:embed schema.sql
var sqliteSchema string

//go:embed schema_postgres.sql
var postgresSchema string

// Store is the persistence surface shared by every backend.
type Store interface {
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Exists(ctx context.Context, postID string) (bool, error)
	Put(ctx context.Context, rec *models.ProcessedRecord) error
	Get(ctx context.Context, postID string) (*models.ProcessedRecord, error)
	Close() error
}

// Open connects to the backend named by cfg.Database.Type.
func Open(ctx context.Context, cfg *config.Config) (Store, error) {
	switch cfg.Database.Type {
	case "sqlite", "libsql":
		db, err := NewDB(cfg)
		if err != nil {
			return nil, err
		}
		return db, nil
	case "postgres":
		pg, err := NewPostgres(ctx, cfg.Database.Url)
		if err != nil {
			return nil, err
		}
		return pg, nil
	default:
		return nil, fmt.Errorf("unsupported database type %q", cfg.Database.Type)
	}
}

// DB is the database/sql store used for local sqlite files and remote libsql.
type DB struct {
	conn *sql.DB
}

func NewDB(cfg *config.Config) (*DB, error) {
	var conn *sql.DB
	var err error

	switch cfg.Database.Type {
	case "libsql":
		connStr := cfg.Database.Url
		if cfg.Database.Token != "" {
			connStr = fmt.Sprintf("%s?authToken=%s", cfg.Database.Url, url.QueryEscape(cfg.Database.Token))
		}
		conn, err = sql.Open("libsql", connStr)
	default:
		conn, err = openSQLite(cfg.Database.DBName)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", cfg.Database.Type, err)
	}

	return &DB{conn: conn}, nil
}

func openSQLite(path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	conn, err := sql.Open("sqlite", "file:"+path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, err
	}
	// sqlite allows a single writer.
	conn.SetMaxOpenConns(1)
	return conn, nil
}

func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

func (db *DB) Migrate(ctx context.Context) error {
	return execScript(ctx, db.conn, sqliteSchema)
}

func execScript(ctx context.Context, conn *sql.DB, script string) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stmt := range splitStatements(script) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("SQL failed:\n%s\nERROR: %w", stmt, err)
		}
	}
	return tx.Commit()
}

func splitStatements(script string) []string {
	var stmts []string
	for _, stmt := range strings.Split(script, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		stmts = append(stmts, stmt)
	}
	return stmts
}

func (db *DB) Exists(ctx context.Context, postID string) (bool, error) {
	var one int
	err := db.conn.QueryRowContext(ctx,
		`SELECT 1 FROM processed_records WHERE post_id = ?`, postID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check record %s: %w", postID, err)
	}
	return true, nil
}

const insertRecord = `
	INSERT INTO processed_records (
		post_id, post_title, post_text, post_url, post_created_at,
		top_comment_id, top_comment_text, top_comment_score, top_comment_is_advice,
		advice, advice_prompt, advice_model, similarity,
		status, failure_reason, attempts, run_id, processed_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (post_id) DO NOTHING`

const insertComment = `
	INSERT INTO record_comments (
		post_id, comment_id, rank, body, author, score, is_advice, similarity
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

// Put inserts rec and its ranked comments in one transaction. A record for
// the same post id written earlier, by this or any other process, makes Put
// fail with ErrDuplicateKey and leaves nothing behind.
func (db *DB) Put(ctx context.Context, rec *models.ProcessedRecord) error {
	if err := validateRecord(rec); err != nil {
		return err
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("insert record %s: %w", rec.PostID, err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, insertRecord,
		rec.PostID,
		rec.PostTitle,
		rec.PostText,
		rec.PostURL,
		formatTime(rec.PostCreatedAt),
		nullString(rec.TopCommentID),
		nullString(rec.TopCommentText),
		nullInt(rec.TopCommentScore),
		nullBool(rec.TopCommentIsAdvice),
		nullString(rec.Advice),
		nullString(rec.AdvicePrompt),
		nullString(rec.AdviceModel),
		nullFloat(rec.Similarity),
		string(rec.Status),
		nullString(rec.FailureReason),
		rec.Attempts,
		rec.RunID,
		formatTime(rec.ProcessedAt),
	)
	if err != nil {
		return fmt.Errorf("insert record %s: %w", rec.PostID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert record %s: %w", rec.PostID, err)
	}
	if n == 0 {
		return fmt.Errorf("insert record %s: %w", rec.PostID, ErrDuplicateKey)
	}

	for _, c := range rec.Comments {
		if _, err := tx.ExecContext(ctx, insertComment,
			rec.PostID,
			c.CommentID,
			c.Rank,
			c.Body,
			c.Author,
			c.Score,
			nullBool(c.IsAdvice),
			nullFloat(c.Similarity),
		); err != nil {
			return fmt.Errorf("insert comment %s for %s: %w", c.CommentID, rec.PostID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("insert record %s: %w", rec.PostID, err)
	}
	return nil
}

func (db *DB) Get(ctx context.Context, postID string) (*models.ProcessedRecord, error) {
	row := db.conn.QueryRowContext(ctx, `
		SELECT post_id, post_title, post_text, post_url, post_created_at,
			top_comment_id, top_comment_text, top_comment_score, top_comment_is_advice,
			advice, advice_prompt, advice_model, similarity,
			status, failure_reason, attempts, run_id, processed_at
		FROM processed_records
		WHERE post_id = ?`, postID)

	var (
		rec                        models.ProcessedRecord
		postCreatedAt, processedAt string
		commentID, commentText     sql.NullString
		commentScore               sql.NullInt64
		isAdvice                   sql.NullBool
		adviceText, prompt, model  sql.NullString
		similarity                 sql.NullFloat64
		status                     string
		failureReason              sql.NullString
	)
	err := row.Scan(
		&rec.PostID,
		&rec.PostTitle,
		&rec.PostText,
		&rec.PostURL,
		&postCreatedAt,
		&commentID,
		&commentText,
		&commentScore,
		&isAdvice,
		&adviceText,
		&prompt,
		&model,
		&similarity,
		&status,
		&failureReason,
		&rec.Attempts,
		&rec.RunID,
		&processedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get record %s: %w", postID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get record %s: %w", postID, err)
	}

	rec.Status = models.Status(status)
	if rec.PostCreatedAt, err = parseTime(postCreatedAt); err != nil {
		return nil, fmt.Errorf("get record %s: post_created_at: %w", postID, err)
	}
	if rec.ProcessedAt, err = parseTime(processedAt); err != nil {
		return nil, fmt.Errorf("get record %s: processed_at: %w", postID, err)
	}
	rec.TopCommentID = fromNullString(commentID)
	rec.TopCommentText = fromNullString(commentText)
	if commentScore.Valid {
		v := int(commentScore.Int64)
		rec.TopCommentScore = &v
	}
	if isAdvice.Valid {
		rec.TopCommentIsAdvice = &isAdvice.Bool
	}
	rec.Advice = fromNullString(adviceText)
	rec.AdvicePrompt = fromNullString(prompt)
	rec.AdviceModel = fromNullString(model)
	if similarity.Valid {
		rec.Similarity = &similarity.Float64
	}
	rec.FailureReason = fromNullString(failureReason)

	if rec.Comments, err = db.getComments(ctx, postID); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (db *DB) getComments(ctx context.Context, postID string) ([]models.RankedComment, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT comment_id, rank, body, author, score, is_advice, similarity
		FROM record_comments
		WHERE post_id = ?
		ORDER BY rank`, postID)
	if err != nil {
		return nil, fmt.Errorf("get comments for %s: %w", postID, err)
	}
	defer rows.Close()

	var comments []models.RankedComment
	for rows.Next() {
		var (
			c          models.RankedComment
			isAdvice   sql.NullBool
			similarity sql.NullFloat64
		)
		if err := rows.Scan(&c.CommentID, &c.Rank, &c.Body, &c.Author, &c.Score, &isAdvice, &similarity); err != nil {
			return nil, fmt.Errorf("get comments for %s: %w", postID, err)
		}
		if isAdvice.Valid {
			c.IsAdvice = &isAdvice.Bool
		}
		if similarity.Valid {
			c.Similarity = &similarity.Float64
		}
		comments = append(comments, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get comments for %s: %w", postID, err)
	}
	return comments, nil
}

func (db *DB) Close() error {
	return db.conn.Close()
}

func validateRecord(rec *models.ProcessedRecord) error {
	if rec == nil || rec.PostID == "" {
		return errors.New("record has no post id")
	}
	if !rec.Status.Valid() {
		return fmt.Errorf("record %s has invalid status %q", rec.PostID, rec.Status)
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func nullBool(v *bool) sql.NullBool {
	if v == nil {
		return sql.NullBool{}
	}
	return sql.NullBool{Bool: *v, Valid: true}
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func fromNullString(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	return &s.String
}
