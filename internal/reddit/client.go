package reddit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"net/url"
	"strings"
	"sync"
	"time"

	http "github.com/bogdanfinn/fhttp"
	tls_client "github.com/bogdanfinn/tls-client"
	"github.com/bogdanfinn/tls-client/profiles"
	"github.com/rs/zerolog"

	"github.com/letieu/advice-scorer/internal/models"
	"github.com/letieu/advice-scorer/internal/retry"
)

const maxPageSize = 100

// Doer is the slice of tls_client.HttpClient the fetcher uses.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

type Options struct {
	UserAgent    string
	BaseURL      string
	OAuthURL     string
	ClientID     string
	ClientSecret string
	RateLimit    time.Duration
	Timeout      time.Duration
}

type RedditClient struct {
	httpClient Doer
	opts       Options
	logger     *zerolog.Logger

	mu          sync.Mutex
	lastRequest time.Time

	tokenMu     sync.Mutex
	token       string
	tokenExpiry time.Time
}

type redditListingResponse struct {
	Data struct {
		After    string `json:"after"`
		Children []struct {
			Kind string     `json:"kind"`
			Data redditPost `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

type redditPost struct {
	ID         string  `json:"id"`
	Title      string  `json:"title"`
	Selftext   string  `json:"selftext"`
	Body       string  `json:"body"`
	Author     string  `json:"author"`
	Subreddit  string  `json:"subreddit"`
	Permalink  string  `json:"permalink"`
	Score      int     `json:"score"`
	Stickied   bool    `json:"stickied"`
	CreatedUTC float64 `json:"created_utc"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

// NewClient builds a fetcher on a browser-fingerprinted TLS client. With
// ClientID and ClientSecret set it uses app-only OAuth, otherwise the public
// JSON endpoints.
func NewClient(opts Options, logger *zerolog.Logger) (*RedditClient, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}

	httpClient, err := tls_client.NewHttpClient(tls_client.NewNoopLogger(),
		tls_client.WithTimeoutSeconds(int(timeout.Seconds())),
		tls_client.WithClientProfile(profiles.Chrome_120),
		tls_client.WithNotFollowRedirects(),
	)
	if err != nil {
		return nil, fmt.Errorf("create tls client: %w", err)
	}

	return newWithDoer(httpClient, opts, logger), nil
}

func newWithDoer(doer Doer, opts Options, logger *zerolog.Logger) *RedditClient {
	if opts.BaseURL == "" {
		opts.BaseURL = "https://www.reddit.com"
	}
	if opts.OAuthURL == "" {
		opts.OAuthURL = "https://oauth.reddit.com"
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "linux:advice-scorer:v0.1.0"
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &RedditClient{httpClient: doer, opts: opts, logger: logger}
}

// FetchPosts lazily pages through the newest posts of a subreddit, yielding at
// most limit posts. The sequence stops at the first error it yields.
func (r *RedditClient) FetchPosts(ctx context.Context, subreddit string, limit int) iter.Seq2[models.Post, error] {
	return func(yield func(models.Post, error) bool) {
		after := ""
		remaining := limit
		for remaining > 0 {
			size := min(remaining, maxPageSize)

			q := url.Values{}
			q.Set("limit", fmt.Sprint(size))
			q.Set("raw_json", "1")
			if after != "" {
				q.Set("after", after)
			}

			var listing redditListingResponse
			if err := r.getJSON(ctx, fmt.Sprintf("/r/%s/new.json?%s", subreddit, q.Encode()), &listing); err != nil {
				yield(models.Post{}, fmt.Errorf("fetch r/%s listing: %w", subreddit, err))
				return
			}

			if len(listing.Data.Children) == 0 {
				return
			}

			for _, c := range listing.Data.Children {
				if c.Kind != "" && c.Kind != "t3" {
					continue
				}
				if remaining == 0 {
					return
				}
				remaining--
				if !yield(toPost(c.Data, subreddit), nil) {
					return
				}
			}

			after = listing.Data.After
			if after == "" {
				return
			}
		}
	}
}

// FetchComments returns the eligible top-level comments of a post.
func (r *RedditClient) FetchComments(ctx context.Context, post models.Post) ([]models.Comment, error) {
	q := url.Values{}
	q.Set("depth", "1")
	q.Set("sort", "top")
	q.Set("raw_json", "1")

	var data []redditListingResponse
	path := fmt.Sprintf("/r/%s/comments/%s.json?%s", post.Collection, post.ID, q.Encode())
	if err := r.getJSON(ctx, path, &data); err != nil {
		return nil, fmt.Errorf("fetch comments for %s: %w", post.ID, err)
	}

	if len(data) < 2 {
		return []models.Comment{}, nil
	}

	comments := []models.Comment{}
	for _, c := range data[1].Data.Children {
		if c.Kind != "t1" {
			continue
		}
		p := c.Data
		if !eligible(p) {
			continue
		}
		comments = append(comments, models.Comment{
			ID:        p.ID,
			PostID:    post.ID,
			Body:      p.Body,
			Author:    p.Author,
			Score:     p.Score,
			Stickied:  p.Stickied,
			CreatedAt: time.Unix(int64(p.CreatedUTC), 0).UTC(),
		})
	}

	return comments, nil
}

// eligible drops moderator stickies and deleted or removed comments.
func eligible(p redditPost) bool {
	if p.Stickied || p.Author == "" || p.Author == "[deleted]" {
		return false
	}
	switch strings.TrimSpace(p.Body) {
	case "", "[deleted]", "[removed]":
		return false
	}
	return true
}

func toPost(p redditPost, subreddit string) models.Post {
	collection := p.Subreddit
	if collection == "" {
		collection = subreddit
	}
	return models.Post{
		ID:         p.ID,
		Collection: collection,
		Title:      p.Title,
		Body:       p.Selftext,
		URL:        "https://reddit.com" + p.Permalink,
		Author:     p.Author,
		Score:      p.Score,
		CreatedAt:  time.Unix(int64(p.CreatedUTC), 0).UTC(),
	}
}

func (r *RedditClient) getJSON(ctx context.Context, path string, out any) error {
	base := r.opts.BaseURL
	token, err := r.accessToken(ctx)
	if err != nil {
		return err
	}
	if token != "" {
		base = r.opts.OAuthURL
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+path, nil)
	if err != nil {
		return retry.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("User-Agent", r.opts.UserAgent)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := r.do(ctx, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return retry.Permanent(fmt.Errorf("decode response: %w", err))
	}
	return nil
}

func (r *RedditClient) accessToken(ctx context.Context) (string, error) {
	if r.opts.ClientID == "" || r.opts.ClientSecret == "" {
		return "", nil
	}

	r.tokenMu.Lock()
	defer r.tokenMu.Unlock()

	if r.token != "" && time.Now().Before(r.tokenExpiry) {
		return r.token, nil
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.opts.BaseURL+"/api/v1/access_token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", retry.Permanent(fmt.Errorf("create token request: %w", err))
	}
	req.SetBasicAuth(r.opts.ClientID, r.opts.ClientSecret)
	req.Header.Set("User-Agent", r.opts.UserAgent)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := r.do(ctx, req)
	if err != nil {
		return "", fmt.Errorf("reddit token: %w", err)
	}
	defer resp.Body.Close()

	var tok tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return "", retry.Permanent(fmt.Errorf("decode token: %w", err))
	}
	if tok.AccessToken == "" {
		return "", retry.Permanent(fmt.Errorf("reddit token: empty access token"))
	}

	r.token = tok.AccessToken
	// refresh a minute early
	r.tokenExpiry = time.Now().Add(time.Duration(tok.ExpiresIn)*time.Second - time.Minute)
	r.logger.Debug().Time("expires", r.tokenExpiry).Msg("reddit token refreshed")
	return r.token, nil
}

// do paces requests and maps HTTP failures onto retry classes. On success the
// caller owns resp.Body.
func (r *RedditClient) do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if err := r.wait(ctx); err != nil {
		return nil, err
	}

	r.logger.Debug().Str("url", req.URL.String()).Msg("reddit request")
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, retry.Transient(fmt.Errorf("reddit request: %w", err))
	}

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		err := fmt.Errorf("reddit error %d: %s", resp.StatusCode, body)
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return nil, retry.Transient(err)
		}
		return nil, retry.Permanent(err)
	}

	return resp, nil
}

func (r *RedditClient) wait(ctx context.Context) error {
	if r.opts.RateLimit <= 0 {
		return ctx.Err()
	}

	r.mu.Lock()
	next := r.lastRequest.Add(r.opts.RateLimit)
	now := time.Now()
	if next.Before(now) {
		next = now
	}
	r.lastRequest = next
	r.mu.Unlock()

	d := time.Until(next)
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
