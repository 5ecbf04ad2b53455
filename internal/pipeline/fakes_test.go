package pipeline

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"
	"time"

	"github.com/letieu/advice-scorer/internal/advice"
	"github.com/letieu/advice-scorer/internal/database"
	"github.com/letieu/advice-scorer/internal/models"
)

type fakeFetcher struct {
	posts    []models.Post
	comments map[string][]models.Comment
	// listingFailsAt makes the listing fail when it reaches that index.
	listingFailsAt int
	commentErr     map[string]error

	mu            sync.Mutex
	commentCalls  map[string]int
	yieldedPostID []string
}

func newFakeFetcher(posts ...models.Post) *fakeFetcher {
	return &fakeFetcher{
		posts:          posts,
		comments:       map[string][]models.Comment{},
		listingFailsAt: -1,
		commentErr:     map[string]error{},
		commentCalls:   map[string]int{},
	}
}

func (f *fakeFetcher) FetchPosts(ctx context.Context, collection string, limit int) iter.Seq2[models.Post, error] {
	return func(yield func(models.Post, error) bool) {
		for i, p := range f.posts {
			if i >= limit {
				return
			}
			if i == f.listingFailsAt {
				yield(models.Post{}, errors.New("listing unavailable"))
				return
			}
			if err := ctx.Err(); err != nil {
				yield(models.Post{}, err)
				return
			}
			f.mu.Lock()
			f.yieldedPostID = append(f.yieldedPostID, p.ID)
			f.mu.Unlock()
			if !yield(p, nil) {
				return
			}
		}
	}
}

func (f *fakeFetcher) FetchComments(ctx context.Context, post models.Post) ([]models.Comment, error) {
	f.mu.Lock()
	f.commentCalls[post.ID]++
	err := f.commentErr[post.ID]
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return f.comments[post.ID], nil
}

type fakeGenerator struct {
	// respond decides the outcome of call n (1-based) for a post.
	respond func(post models.Post, n int) (string, error)
	delay   time.Duration

	mu    sync.Mutex
	calls map[string]int
}

func newFakeGenerator(respond func(post models.Post, n int) (string, error)) *fakeGenerator {
	if respond == nil {
		respond = func(post models.Post, n int) (string, error) {
			return "conselho para " + post.ID, nil
		}
	}
	return &fakeGenerator{respond: respond, calls: map[string]int{}}
}

func (g *fakeGenerator) GenerateAdvice(ctx context.Context, post models.Post, prompt advice.PromptConfig) (advice.Result, error) {
	g.mu.Lock()
	g.calls[post.ID]++
	n := g.calls[post.ID]
	g.mu.Unlock()

	if g.delay > 0 {
		time.Sleep(g.delay)
	}
	res := advice.Result{Prompt: "prompt " + post.ID, Model: "fake-model"}
	text, err := g.respond(post, n)
	if err != nil {
		return res, err
	}
	res.Text = text
	return res, nil
}

func (g *fakeGenerator) total() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, c := range g.calls {
		n += c
	}
	return n
}

func (g *fakeGenerator) callsFor(id string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[id]
}

type fakeScorer struct {
	score func(a, b string) (float64, error)

	mu    sync.Mutex
	calls int
}

func (s *fakeScorer) Score(ctx context.Context, a, b string) (float64, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.score == nil {
		return 0.5, nil
	}
	return s.score(a, b)
}

type fakeVerifier struct {
	answer *bool
	err    error
}

func (v *fakeVerifier) VerifyComment(ctx context.Context, post models.Post, comment string, cfg advice.VerifyConfig) (*bool, error) {
	return v.answer, v.err
}

// memStore is an in-memory store with the same uniqueness rule as the
// database: the first Put for an id wins.
type memStore struct {
	mu      sync.Mutex
	records map[string]*models.ProcessedRecord
	puts    map[string]int

	pingErr   error
	existsErr error
	putErr    error
	putErrs   map[string]error
	// beforePut runs ahead of the insert, used to simulate a racing writer.
	beforePut func(rec *models.ProcessedRecord)
}

func newMemStore() *memStore {
	return &memStore{
		records: map[string]*models.ProcessedRecord{},
		puts:    map[string]int{},
		putErrs: map[string]error{},
	}
}

func (m *memStore) Ping(ctx context.Context) error {
	return m.pingErr
}

func (m *memStore) Exists(ctx context.Context, postID string) (bool, error) {
	if m.existsErr != nil {
		return false, m.existsErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.records[postID]
	return ok, nil
}

func (m *memStore) Put(ctx context.Context, rec *models.ProcessedRecord) error {
	if m.putErr != nil {
		return m.putErr
	}
	m.mu.Lock()
	err := m.putErrs[rec.PostID]
	m.mu.Unlock()
	if err != nil {
		return err
	}
	if m.beforePut != nil {
		m.beforePut(rec)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.puts[rec.PostID]++
	if _, ok := m.records[rec.PostID]; ok {
		return fmt.Errorf("insert record %s: %w", rec.PostID, database.ErrDuplicateKey)
	}
	cp := *rec
	m.records[rec.PostID] = &cp
	return nil
}

func (m *memStore) Get(ctx context.Context, postID string) (*models.ProcessedRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[postID]
	if !ok {
		return nil, database.ErrNotFound
	}
	return rec, nil
}

func (m *memStore) putsFor(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.puts[id]
}

func (m *memStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

func testPost(id string) models.Post {
	return models.Post{
		ID:         id,
		Collection: "desabafos",
		Title:      "título " + id,
		Body:       "corpo " + id,
		URL:        "https://www.reddit.com/r/desabafos/comments/" + id,
		CreatedAt:  time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func testComment(postID, id string, score int, minute int) models.Comment {
	return models.Comment{
		ID:        id,
		PostID:    postID,
		Body:      "comentário " + id,
		Author:    "user_" + id,
		Score:     score,
		CreatedAt: time.Date(2024, 1, 1, 0, minute, 0, 0, time.UTC),
	}
}
