package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/letieu/advice-scorer/internal/advice"
	"github.com/letieu/advice-scorer/internal/database"
	"github.com/letieu/advice-scorer/internal/models"
	"github.com/letieu/advice-scorer/internal/retry"
)

// processPost drives one post to a terminal state. Only store failures are
// returned; everything else is recorded on the post. Once ctx is cancelled
// after a fatal error in another worker, the post is left for the next run
// and nothing more is written.
func (p *Pipeline) processPost(ctx context.Context, runLogger zerolog.Logger, post models.Post) error {
	logger := runLogger.With().Str("post_id", post.ID).Logger()
	run := newPostRun(post)

	if ctx.Err() != nil {
		p.abandon(logger, run)
		return nil
	}

	existsCtx, cancel := p.callContext(ctx)
	done, err := IsAlreadyProcessed(existsCtx, p.deps.Store, post.ID)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			p.abandon(logger, run)
			return nil
		}
		return fatal(fmt.Errorf("check post %s: %w", post.ID, err))
	}
	if done {
		run.advance(stateDiscarded)
		p.update(func(s *Summary) { s.AlreadyProcessed++ })
		logger.Debug().Msg("post already processed, skipping")
		return nil
	}

	comments, _, err := retry.Do(ctx, p.policy(), func(ctx context.Context) ([]models.Comment, error) {
		return p.deps.Fetcher.FetchComments(ctx, post)
	})
	if err != nil {
		if ctx.Err() != nil || retry.IsTransient(err) {
			run.advance(stateDiscarded)
			p.update(func(s *Summary) { s.Deferred++ })
			logger.Warn().Err(err).Msg("could not fetch comments, deferring post to next run")
			return nil
		}
		// Deleted, private or quarantined threads never yield comments.
		run.advance(stateCommentChecked)
		run.status = models.StatusSkippedNoComments
		run.failure = err
		logger.Warn().Err(err).Msg("comments unavailable, recording post as skipped")
		return p.write(ctx, logger, run)
	}
	run.comments = comments
	run.advance(stateCommentChecked)

	if len(comments) == 0 {
		run.status = models.StatusSkippedNoComments
		return p.write(ctx, logger, run)
	}
	run.ranked = SelectTopComments(comments, p.opts.TopComments)
	run.top = &run.ranked[0]

	var last advice.Result
	res, calls, err := retry.Do(ctx, p.policy(), func(ctx context.Context) (advice.Result, error) {
		r, err := p.deps.Generator.GenerateAdvice(ctx, post, p.opts.Prompt)
		last = r
		return r, err
	})
	run.attempts += calls
	if err != nil {
		run.advice = last
		run.advice.Text = ""
		run.status = models.StatusFailedGeneration
		run.failure = err
		logger.Warn().Err(err).Int("attempts", calls).Bool("transient", retry.IsTransient(err)).Msg("advice generation failed")
		return p.write(ctx, logger, run)
	}
	run.advice = res
	run.advance(stateGenerated)

	if p.opts.VerifyTopComment && p.deps.Verifier != nil {
		run.verified = make([]*bool, len(run.ranked))
		for i := range run.ranked {
			run.verified[i] = p.verify(ctx, logger, post, run.ranked[i])
		}
		run.isAdvice = run.verified[0]
	}

	score, calls, err := retry.Do(ctx, p.policy(), func(ctx context.Context) (float64, error) {
		return p.deps.Scorer.Score(ctx, res.Text, run.top.Body)
	})
	run.attempts += calls
	if err != nil {
		run.status = models.StatusFailedScoring
		run.failure = err
		logger.Warn().Err(err).Int("attempts", calls).Bool("transient", retry.IsTransient(err)).Msg("similarity scoring failed")
		return p.write(ctx, logger, run)
	}
	run.similarity = &score
	run.advance(stateScored)

	run.status = models.StatusComplete
	return p.write(ctx, logger, run)
}

func (p *Pipeline) verify(ctx context.Context, logger zerolog.Logger, post models.Post, c models.Comment) *bool {
	answer, _, err := retry.Do(ctx, p.policy(), func(ctx context.Context) (*bool, error) {
		return p.deps.Verifier.VerifyComment(ctx, post, c.Body, p.opts.Verify)
	})
	if err != nil {
		logger.Warn().Err(err).Str("comment_id", c.ID).Msg("comment verification failed")
		return nil
	}
	return answer
}

func (p *Pipeline) abandon(logger zerolog.Logger, run *postRun) {
	run.advance(stateDiscarded)
	p.update(func(s *Summary) { s.Deferred++ })
	logger.Warn().Msg("run aborted, leaving post for the next run")
}

// write stores the post's only record. Losing the insert to another writer
// is not an error.
func (p *Pipeline) write(ctx context.Context, logger zerolog.Logger, run *postRun) error {
	if ctx.Err() != nil {
		p.abandon(logger, run)
		return nil
	}
	rec := run.record(p.snapshot().RunID, p.now().UTC())

	putCtx, cancel := p.callContext(ctx)
	err := p.deps.Store.Put(putCtx, rec)
	cancel()
	if errors.Is(err, database.ErrDuplicateKey) {
		run.advance(stateDiscarded)
		p.update(func(s *Summary) { s.LostRace++ })
		logger.Info().Msg("record written by another run, discarding")
		return nil
	}
	if err != nil {
		return fatal(fmt.Errorf("store record for %s: %w", run.post.ID, err))
	}

	run.advance(stateRecorded)
	p.update(func(s *Summary) { s.addStatus(rec.Status) })

	event := logger.Info().Str("status", string(rec.Status)).Int("attempts", rec.Attempts)
	if rec.Similarity != nil {
		event = event.Float64("similarity", *rec.Similarity)
	}
	event.Msg("post processed")
	return nil
}
