// Package pipeline turns fetched posts into processed records: it skips posts
// already stored, picks the top community comment, asks the model for advice,
// scores the advice against the comment and writes one record per post.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/letieu/advice-scorer/config"
	"github.com/letieu/advice-scorer/internal/advice"
	"github.com/letieu/advice-scorer/internal/models"
	"github.com/letieu/advice-scorer/internal/retry"
)

// ErrFatal marks failures that abort a run: the store is unreachable or the
// post listing itself failed.
var ErrFatal = errors.New("pipeline aborted")

const maxBackoff = time.Minute

type Fetcher interface {
	FetchPosts(ctx context.Context, collection string, limit int) iter.Seq2[models.Post, error]
	FetchComments(ctx context.Context, post models.Post) ([]models.Comment, error)
}

type AdviceGenerator interface {
	GenerateAdvice(ctx context.Context, post models.Post, prompt advice.PromptConfig) (advice.Result, error)
}

// Verifier classifies whether the top comment is advice for the author.
type Verifier interface {
	VerifyComment(ctx context.Context, post models.Post, comment string, cfg advice.VerifyConfig) (*bool, error)
}

type Scorer interface {
	Score(ctx context.Context, a, b string) (float64, error)
}

type Store interface {
	Exists(ctx context.Context, postID string) (bool, error)
	Put(ctx context.Context, rec *models.ProcessedRecord) error
	Get(ctx context.Context, postID string) (*models.ProcessedRecord, error)
}

type pinger interface {
	Ping(ctx context.Context) error
}

type Deps struct {
	Fetcher   Fetcher
	Generator AdviceGenerator
	Scorer    Scorer
	Store     Store
	// Verifier is optional; it is only used with Options.VerifyTopComment.
	Verifier Verifier
}

type Options struct {
	Collection       string
	BatchSize        int
	MaxRetries       int
	RetryBackoffBase time.Duration
	PerCallTimeout   time.Duration
	RunDeadline      time.Duration
	PostDelay        time.Duration
	Workers          int
	TopComments      int
	VerifyTopComment bool
	Prompt           advice.PromptConfig
	Verify           advice.VerifyConfig
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Collection:       cfg.Reddit.Subreddit,
		BatchSize:        cfg.Pipeline.BatchSize,
		MaxRetries:       cfg.Pipeline.MaxRetries,
		RetryBackoffBase: cfg.Pipeline.RetryBackoffBase,
		PerCallTimeout:   cfg.Pipeline.PerCallTimeout,
		RunDeadline:      cfg.Pipeline.RunDeadline,
		PostDelay:        cfg.Pipeline.PostDelay,
		Workers:          cfg.Pipeline.Workers,
		TopComments:      cfg.Pipeline.TopComments,
		VerifyTopComment: cfg.Pipeline.VerifyTopComment,
		Prompt: advice.PromptConfig{
			System:      cfg.Prompt.System,
			Template:    cfg.Prompt.Template,
			Temperature: cfg.Prompt.Temperature,
			MaxTokens:   cfg.Prompt.MaxTokens,
		},
		Verify: advice.VerifyConfig{
			System:        cfg.Prompt.VerifySystem,
			Template:      cfg.Prompt.VerifyTemplate,
			MaxPostLen:    cfg.Prompt.MaxVerifyPostLen,
			MaxCommentLen: cfg.Prompt.MaxVerifyCommentLen,
		},
	}
}

// Summary counts what a run did with each fetched post.
type Summary struct {
	RunID             string
	Fetched           int
	Complete          int
	SkippedNoComments int
	FailedGeneration  int
	FailedScoring     int
	AlreadyProcessed  int
	// LostRace counts records another writer stored first.
	LostRace int
	// Deferred counts posts left without a record, either because a
	// transient error kept their comments from being fetched or because a
	// fatal error aborted the run. The next run picks them up again.
	Deferred int
}

// Written is the number of records this run stored.
func (s Summary) Written() int {
	return s.Complete + s.SkippedNoComments + s.FailedGeneration + s.FailedScoring
}

func (s *Summary) addStatus(status models.Status) {
	switch status {
	case models.StatusComplete:
		s.Complete++
	case models.StatusSkippedNoComments:
		s.SkippedNoComments++
	case models.StatusFailedGeneration:
		s.FailedGeneration++
	case models.StatusFailedScoring:
		s.FailedScoring++
	}
}

type Pipeline struct {
	deps   Deps
	opts   Options
	logger *zerolog.Logger
	now    func() time.Time

	mu      sync.Mutex
	summary Summary
}

func New(deps Deps, opts Options, logger *zerolog.Logger) (*Pipeline, error) {
	if deps.Fetcher == nil || deps.Generator == nil || deps.Scorer == nil || deps.Store == nil {
		return nil, errors.New("pipeline needs a fetcher, generator, scorer and store")
	}
	if opts.BatchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", opts.BatchSize)
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.TopComments < 1 {
		opts.TopComments = 1
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Pipeline{
		deps:   deps,
		opts:   opts,
		logger: logger,
		now:    time.Now,
	}, nil
}

func (p *Pipeline) policy() retry.Policy {
	return retry.Policy{
		MaxRetries: p.opts.MaxRetries,
		BaseDelay:  p.opts.RetryBackoffBase,
		MaxDelay:   maxBackoff,
		Timeout:    p.opts.PerCallTimeout,
	}
}

// Run processes up to BatchSize posts. Per-post failures end up in records
// and never in the returned error; a non-nil error wraps ErrFatal and comes
// with the summary of the work done before the abort.
func (p *Pipeline) Run(ctx context.Context) (Summary, error) {
	p.mu.Lock()
	p.summary = Summary{RunID: uuid.NewString()}
	runID := p.summary.RunID
	p.mu.Unlock()

	logger := p.logger.With().Str("run_id", runID).Logger()
	logger.Info().
		Str("collection", p.opts.Collection).
		Int("batch_size", p.opts.BatchSize).
		Int("workers", p.opts.Workers).
		Msg("run started")

	if pg, ok := p.deps.Store.(pinger); ok {
		pingCtx, cancel := p.callContext(ctx)
		err := pg.Ping(pingCtx)
		cancel()
		if err != nil {
			return p.snapshot(), fatal(fmt.Errorf("ping store: %w", err))
		}
	}

	runCtx := ctx
	if p.opts.RunDeadline > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, p.opts.RunDeadline)
		defer cancel()
	}

	g, gctx := errgroup.WithContext(runCtx)
	// Posts already dispatched finish and record even after the deadline or a
	// signal; only the pulling of new posts stops. A fatal error in one worker
	// aborts the others before their next store write.
	workCtx, abort := context.WithCancelCause(context.WithoutCancel(ctx))
	defer abort(nil)
	sem := make(chan struct{}, p.opts.Workers)

	var listErr error
	dispatched := 0
pull:
	for post, err := range p.deps.Fetcher.FetchPosts(gctx, p.opts.Collection, p.opts.BatchSize) {
		if gctx.Err() != nil {
			break
		}
		if err != nil {
			listErr = fmt.Errorf("list posts in %s: %w", p.opts.Collection, err)
			break
		}
		if dispatched >= p.opts.BatchSize {
			break
		}
		if dispatched > 0 && p.opts.PostDelay > 0 {
			if err := sleep(gctx, p.opts.PostDelay); err != nil {
				break
			}
		}

		select {
		case sem <- struct{}{}:
		case <-gctx.Done():
			break pull
		}
		if gctx.Err() != nil {
			<-sem
			break
		}

		dispatched++
		p.update(func(s *Summary) { s.Fetched++ })
		g.Go(func() error {
			defer func() { <-sem }()
			if err := p.processPost(workCtx, logger, post); err != nil {
				abort(err)
				return err
			}
			return nil
		})
	}

	err := g.Wait()
	if err == nil && listErr != nil {
		err = fatal(listErr)
	}
	if err == nil && runCtx.Err() != nil && ctx.Err() == nil {
		logger.Warn().Dur("run_deadline", p.opts.RunDeadline).Msg("run deadline reached, stopped pulling posts")
	}

	sum := p.snapshot()
	logger.Info().
		Int("fetched", sum.Fetched).
		Int("complete", sum.Complete).
		Int("skipped_no_comments", sum.SkippedNoComments).
		Int("failed_generation", sum.FailedGeneration).
		Int("failed_scoring", sum.FailedScoring).
		Int("already_processed", sum.AlreadyProcessed).
		Int("lost_race", sum.LostRace).
		Int("deferred", sum.Deferred).
		Msg("run finished")

	return sum, err
}

func (p *Pipeline) update(fn func(s *Summary)) {
	p.mu.Lock()
	fn(&p.summary)
	p.mu.Unlock()
}

func (p *Pipeline) snapshot() Summary {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.summary
}

func (p *Pipeline) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.opts.PerCallTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, p.opts.PerCallTimeout)
}

func fatal(err error) error {
	return fmt.Errorf("%w: %w", ErrFatal, err)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
