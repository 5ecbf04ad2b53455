package pipeline

import (
	"context"
	"slices"

	"github.com/letieu/advice-scorer/internal/models"
)

// IsAlreadyProcessed reports whether the store holds a record for postID,
// whatever its status. Every call is a store round trip.
func IsAlreadyProcessed(ctx context.Context, store Store, postID string) (bool, error) {
	return store.Exists(ctx, postID)
}

// SelectTopComment returns the highest scored comment. Ties go to the
// earliest comment, then to the smallest id, so the choice does not depend on
// input order. It returns nil for no comments.
func SelectTopComment(comments []models.Comment) *models.Comment {
	var top *models.Comment
	for i := range comments {
		c := &comments[i]
		if top == nil || ranksAbove(c, top) {
			top = c
		}
	}
	return top
}

// SelectTopComments returns up to n comments in rank order, using the same
// ordering as SelectTopComment. The input is not modified.
func SelectTopComments(comments []models.Comment, n int) []models.Comment {
	if n <= 0 || len(comments) == 0 {
		return nil
	}
	ranked := slices.Clone(comments)
	slices.SortFunc(ranked, func(a, b models.Comment) int {
		switch {
		case ranksAbove(&a, &b):
			return -1
		case ranksAbove(&b, &a):
			return 1
		}
		return 0
	})
	return ranked[:min(n, len(ranked))]
}

func ranksAbove(a, b *models.Comment) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}
