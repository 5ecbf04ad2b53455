package pipeline

import (
	"fmt"
	"time"

	"github.com/letieu/advice-scorer/internal/advice"
	"github.com/letieu/advice-scorer/internal/models"
)

// state is how far a single post has progressed through the pipeline.
type state int

const (
	stateFetched state = iota
	stateCommentChecked
	stateGenerated
	stateScored
	stateRecorded
	// stateDiscarded ends a post without a write by this run: already
	// processed, deferred, or beaten to the write by another writer.
	stateDiscarded
)

var stateNames = map[state]string{
	stateFetched:        "fetched",
	stateCommentChecked: "comment-checked",
	stateGenerated:      "generated",
	stateScored:         "scored",
	stateRecorded:       "recorded",
	stateDiscarded:      "discarded",
}

func (s state) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

var transitions = map[state][]state{
	stateFetched:        {stateCommentChecked, stateDiscarded},
	stateCommentChecked: {stateGenerated, stateRecorded, stateDiscarded},
	stateGenerated:      {stateScored, stateRecorded, stateDiscarded},
	stateScored:         {stateRecorded, stateDiscarded},
}

func (s state) canTransition(to state) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// postRun carries one post through the state machine and accumulates the
// fields of its eventual record.
type postRun struct {
	post  models.Post
	state state

	comments   []models.Comment
	ranked     []models.Comment
	top        *models.Comment
	verified   []*bool
	isAdvice   *bool
	advice     advice.Result
	similarity *float64
	attempts   int
	status     models.Status
	failure    error
}

func newPostRun(post models.Post) *postRun {
	return &postRun{post: post, state: stateFetched}
}

func (r *postRun) advance(to state) {
	if !r.state.canTransition(to) {
		panic(fmt.Sprintf("post %s: invalid transition %s -> %s", r.post.ID, r.state, to))
	}
	r.state = to
}

func (r *postRun) record(runID string, now time.Time) *models.ProcessedRecord {
	rec := &models.ProcessedRecord{
		PostID:             r.post.ID,
		PostTitle:          r.post.Title,
		PostText:           r.post.Text(),
		PostURL:            r.post.URL,
		PostCreatedAt:      r.post.CreatedAt,
		TopCommentIsAdvice: r.isAdvice,
		Similarity:         r.similarity,
		Status:             r.status,
		Attempts:           r.attempts,
		RunID:              runID,
		ProcessedAt:        now,
	}
	if r.top != nil {
		rec.TopCommentID = &r.top.ID
		rec.TopCommentText = &r.top.Body
		rec.TopCommentScore = &r.top.Score
	}
	rec.Advice = optional(r.advice.Text)
	rec.AdvicePrompt = optional(r.advice.Prompt)
	rec.AdviceModel = optional(r.advice.Model)
	if r.failure != nil {
		rec.FailureReason = optional(r.failure.Error())
	}
	for i, c := range r.ranked {
		rc := models.RankedComment{
			CommentID: c.ID,
			Rank:      i + 1,
			Body:      c.Body,
			Author:    c.Author,
			Score:     c.Score,
		}
		if i < len(r.verified) {
			rc.IsAdvice = r.verified[i]
		}
		if i == 0 {
			rc.Similarity = r.similarity
		}
		rec.Comments = append(rec.Comments, rc)
	}
	return rec
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
