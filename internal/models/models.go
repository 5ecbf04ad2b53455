package models

import "time"

// Post is a top-level submission fetched from a community.
type Post struct {
	ID         string    `json:"id"`
	Collection string    `json:"collection"`
	Title      string    `json:"title"`
	Body       string    `json:"body"`
	URL        string    `json:"url"`
	Author     string    `json:"author"`
	Score      int       `json:"score"`
	CreatedAt  time.Time `json:"created_at"`
}

// Text is what gets sent to the advice generator.
func (p Post) Text() string {
	if p.Body == "" {
		return p.Title
	}
	if p.Title == "" {
		return p.Body
	}
	return p.Title + "\n\n" + p.Body
}

// Comment is a reply to a post.
type Comment struct {
	ID        string    `json:"id"`
	PostID    string    `json:"post_id"`
	Body      string    `json:"body"`
	Author    string    `json:"author"`
	Score     int       `json:"score"`
	Stickied  bool      `json:"stickied"`
	CreatedAt time.Time `json:"created_at"`
}

type Status string

const (
	StatusComplete          Status = "complete"
	StatusSkippedNoComments Status = "skipped_no_comments"
	StatusFailedGeneration  Status = "failed_generation"
	StatusFailedScoring     Status = "failed_scoring"
)

func (s Status) Valid() bool {
	switch s {
	case StatusComplete, StatusSkippedNoComments, StatusFailedGeneration, StatusFailedScoring:
		return true
	}
	return false
}

// ProcessedRecord is the once-written outcome for a single post.
// Nil pointers are stored as NULL.
type ProcessedRecord struct {
	PostID             string    `json:"post_id"`
	PostTitle          string    `json:"post_title"`
	PostText           string    `json:"post_text"`
	PostURL            string    `json:"post_url"`
	PostCreatedAt      time.Time `json:"post_created_at"`
	TopCommentID       *string   `json:"top_comment_id"`
	TopCommentText     *string   `json:"top_comment_text"`
	TopCommentScore    *int      `json:"top_comment_score"`
	TopCommentIsAdvice *bool     `json:"top_comment_is_advice"`
	Advice             *string   `json:"advice"`
	AdvicePrompt       *string   `json:"advice_prompt"`
	AdviceModel        *string   `json:"advice_model"`
	Similarity         *float64  `json:"similarity"`
	Status             Status    `json:"status"`
	FailureReason      *string   `json:"failure_reason"`
	Attempts           int       `json:"attempts"`
	RunID              string    `json:"run_id"`
	ProcessedAt        time.Time `json:"processed_at"`
	// Comments holds the highest ranked community comments, rank 1 first.
	Comments []RankedComment `json:"comments,omitempty"`
}

// RankedComment is one of a post's top comments as stored with its record.
// Similarity is only set for rank 1.
type RankedComment struct {
	CommentID  string   `json:"comment_id"`
	Rank       int      `json:"rank"`
	Body       string   `json:"body"`
	Author     string   `json:"author"`
	Score      int      `json:"score"`
	IsAdvice   *bool    `json:"is_advice"`
	Similarity *float64 `json:"similarity"`
}
