package database

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/letieu/advice-scorer/config"
	"github.com/letieu/advice-scorer/internal/models"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	cfg := &config.Config{}
	cfg.Database.Type = "sqlite"
	cfg.Database.DBName = filepath.Join(t.TempDir(), "nested", "advice.db")

	db, err := NewDB(cfg)
	if err != nil {
		t.Fatalf("NewDB: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	if err := db.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return db
}

func record(id string, status models.Status) *models.ProcessedRecord {
	return &models.ProcessedRecord{
		PostID:        id,
		PostTitle:     "título",
		PostText:      "título\n\ncorpo",
		PostURL:       "https://www.reddit.com/r/desabafos/comments/" + id,
		PostCreatedAt: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		Status:        status,
		Attempts:      1,
		RunID:         "run-1",
		ProcessedAt:   time.Date(2024, 3, 2, 8, 30, 0, 123000000, time.UTC),
	}
}

func TestPutGetRoundTrip(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	rec := record("p1", models.StatusComplete)
	commentID, commentText, score := "c1", "força", 42
	advice, prompt, model := "respire", "Título: ...", "mistral-small-latest"
	similarity, isAdvice := 0.83, true
	rec.TopCommentID = &commentID
	rec.TopCommentText = &commentText
	rec.TopCommentScore = &score
	rec.TopCommentIsAdvice = &isAdvice
	rec.Advice = &advice
	rec.AdvicePrompt = &prompt
	rec.AdviceModel = &model
	rec.Similarity = &similarity
	rec.Attempts = 2

	if err := db.Put(ctx, rec); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := db.Get(ctx, "p1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != models.StatusComplete || got.Attempts != 2 || got.RunID != "run-1" {
		t.Errorf("unexpected record: %+v", got)
	}
	if got.Similarity == nil || *got.Similarity != 0.83 {
		t.Errorf("expected similarity 0.83, got %v", got.Similarity)
	}
	if got.TopCommentScore == nil || *got.TopCommentScore != 42 {
		t.Errorf("expected top comment score 42, got %v", got.TopCommentScore)
	}
	if got.TopCommentIsAdvice == nil || !*got.TopCommentIsAdvice {
		t.Errorf("expected top comment is advice, got %v", got.TopCommentIsAdvice)
	}
	if got.Advice == nil || *got.Advice != "respire" || got.FailureReason != nil {
		t.Errorf("unexpected advice fields: %v %v", got.Advice, got.FailureReason)
	}
	if !got.ProcessedAt.Equal(rec.ProcessedAt) || !got.PostCreatedAt.Equal(rec.PostCreatedAt) {
		t.Errorf("times did not round trip: %v %v", got.ProcessedAt, got.PostCreatedAt)
	}
}

func TestNullFieldsStayNull(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if err := db.Put(ctx, record("p2", models.StatusSkippedNoComments)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := db.Get(ctx, "p2")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Advice != nil || got.Similarity != nil || got.TopCommentID != nil || got.TopCommentIsAdvice != nil {
		t.Errorf("expected null optional fields, got %+v", got)
	}
}

func TestExistsAndNotFound(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	ok, err := db.Exists(ctx, "p3")
	if err != nil || ok {
		t.Fatalf("Exists before Put = %v, %v", ok, err)
	}
	if _, err := db.Get(ctx, "p3"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := db.Put(ctx, record("p3", models.StatusFailedGeneration)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	ok, err = db.Exists(ctx, "p3")
	if err != nil || !ok {
		t.Fatalf("Exists after Put = %v, %v", ok, err)
	}
}

func TestPutRejectsSecondRecord(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if err := db.Put(ctx, record("p4", models.StatusFailedScoring)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	err := db.Put(ctx, record("p4", models.StatusComplete))
	if !errors.Is(err, ErrDuplicateKey) {
		t.Fatalf("expected ErrDuplicateKey, got %v", err)
	}

	got, err := db.Get(ctx, "p4")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != models.StatusFailedScoring {
		t.Errorf("first record must not be replaced, got status %s", got.Status)
	}
}

func TestPutStoresRankedComments(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	yes, no, similarity := true, false, 0.71
	rec := record("p7", models.StatusComplete)
	rec.Comments = []models.RankedComment{
		{CommentID: "c1", Rank: 1, Body: "força", Author: "ana", Score: 40, IsAdvice: &yes, Similarity: &similarity},
		{CommentID: "c2", Rank: 2, Body: "kkk", Author: "bia", Score: 12, IsAdvice: &no},
	}
	if err := db.Put(ctx, rec); err != nil {
		t.Fatalf("Put: %v", err)
	}

	dup := record("p7", models.StatusComplete)
	dup.Comments = []models.RankedComment{{CommentID: "c9", Rank: 1, Body: "x", Author: "y", Score: 1}}
	if err := db.Put(ctx, dup); !errors.Is(err, ErrDuplicateKey) {
		t.Fatalf("expected ErrDuplicateKey, got %v", err)
	}

	got, err := db.Get(ctx, "p7")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got.Comments) != 2 {
		t.Fatalf("expected 2 comments, got %+v", got.Comments)
	}
	first, second := got.Comments[0], got.Comments[1]
	if first.CommentID != "c1" || first.Rank != 1 || first.Score != 40 || first.Author != "ana" {
		t.Errorf("unexpected rank 1 comment: %+v", first)
	}
	if first.IsAdvice == nil || !*first.IsAdvice || first.Similarity == nil || *first.Similarity != 0.71 {
		t.Errorf("unexpected rank 1 verdicts: %v %v", first.IsAdvice, first.Similarity)
	}
	if second.CommentID != "c2" || second.Rank != 2 || second.IsAdvice == nil || *second.IsAdvice {
		t.Errorf("unexpected rank 2 comment: %+v", second)
	}
	if second.Similarity != nil {
		t.Errorf("similarity is only kept for rank 1, got %v", *second.Similarity)
	}
}

func TestRecordWithoutCommentsHasNone(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if err := db.Put(ctx, record("p8", models.StatusSkippedNoComments)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := db.Get(ctx, "p8")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got.Comments) != 0 {
		t.Errorf("expected no comments, got %+v", got.Comments)
	}
}

func TestConcurrentPutKeepsOneRecord(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	const writers = 8
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec := record("p5", models.StatusComplete)
			rec.Attempts = i
			errs <- db.Put(ctx, rec)
		}()
	}
	wg.Wait()
	close(errs)

	var ok, dup int
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrDuplicateKey):
			dup++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if ok != 1 || dup != writers-1 {
		t.Errorf("expected 1 winner and %d duplicates, got %d and %d", writers-1, ok, dup)
	}
}

func TestPutValidatesRecord(t *testing.T) {
	db := newTestDB(t)
	if err := db.Put(context.Background(), record("", models.StatusComplete)); err == nil {
		t.Error("expected error for empty post id")
	}
	if err := db.Put(context.Background(), record("p6", models.Status("done"))); err == nil {
		t.Error("expected error for invalid status")
	}
}

func TestMigrateIsRepeatable(t *testing.T) {
	db := newTestDB(t)
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}
}

func TestSplitStatements(t *testing.T) {
	got := splitStatements("CREATE TABLE a (x INT);\n\n  ;CREATE INDEX i ON a (x);\n")
	if len(got) != 2 || got[1] != "CREATE INDEX i ON a (x)" {
		t.Errorf("unexpected statements: %q", got)
	}
}
