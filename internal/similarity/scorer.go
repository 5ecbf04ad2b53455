// Package similarity scores how close two texts are in meaning.
package similarity

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/letieu/advice-scorer/internal/retry"
)

var (
	ErrEmptyInput        = errors.New("similarity input is empty")
	ErrDimensionMismatch = errors.New("embedding dimensions differ")
)

// Embedder turns text into a dense vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type Scorer struct {
	embedder Embedder
}

func NewScorer(embedder Embedder) *Scorer {
	return &Scorer{embedder: embedder}
}

// Score returns the cosine similarity of the embeddings of a and b, clamped
// to [0,1]. Empty input fails permanently with ErrEmptyInput.
func (s *Scorer) Score(ctx context.Context, a, b string) (float64, error) {
	if strings.TrimSpace(a) == "" || strings.TrimSpace(b) == "" {
		return 0, retry.Permanent(ErrEmptyInput)
	}

	va, err := s.embedder.Embed(ctx, a)
	if err != nil {
		return 0, fmt.Errorf("embed advice: %w", err)
	}
	vb, err := s.embedder.Embed(ctx, b)
	if err != nil {
		return 0, fmt.Errorf("embed comment: %w", err)
	}

	sim, err := Cosine(va, vb)
	if err != nil {
		return 0, retry.Permanent(err)
	}
	return Clamp(sim), nil
}

// Cosine returns the cosine similarity of two vectors. A zero vector scores 0.
func Cosine(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d vs %d", ErrDimensionMismatch, len(a), len(b))
	}
	if len(a) == 0 {
		return 0, ErrEmptyInput
	}

	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb)), nil
}

func Clamp(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
