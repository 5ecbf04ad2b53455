package advice

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/letieu/advice-scorer/internal/models"
	"github.com/letieu/advice-scorer/internal/retry"
)

var (
	ErrEmptyPost   = errors.New("post has no text")
	ErrEmptyAdvice = errors.New("model returned no text")
)

// CompletionRequest is a single system+user chat turn.
type CompletionRequest struct {
	System      string
	User        string
	Temperature float64
	MaxTokens   int
}

// Completer is a chat model backend. Implementations classify their errors
// with retry.Transient / retry.Permanent.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
	Model() string
}

type PromptConfig struct {
	System      string
	Template    string // {{title}} and {{body}} are substituted
	Temperature float64
	MaxTokens   int
}

type VerifyConfig struct {
	System        string
	Template      string // {{title}}, {{body}} and {{comment}} are substituted
	MaxPostLen    int
	MaxCommentLen int
}

type Result struct {
	Text   string
	Prompt string
	Model  string
}

type Generator struct {
	backend Completer
}

func New(backend Completer) *Generator {
	return &Generator{backend: backend}
}

func (g *Generator) Model() string {
	return g.backend.Model()
}

// GenerateAdvice asks the model for advice to the author of post. The
// returned Result carries the rendered prompt even when err is non-nil.
func (g *Generator) GenerateAdvice(ctx context.Context, post models.Post, prompt PromptConfig) (Result, error) {
	res := Result{Model: g.backend.Model()}
	if strings.TrimSpace(post.Text()) == "" {
		return res, retry.Permanent(ErrEmptyPost)
	}

	res.Prompt = render(prompt.Template, map[string]string{
		"title": post.Title,
		"body":  post.Body,
	})

	text, err := g.backend.Complete(ctx, CompletionRequest{
		System:      prompt.System,
		User:        res.Prompt,
		Temperature: prompt.Temperature,
		MaxTokens:   prompt.MaxTokens,
	})
	if err != nil {
		return res, fmt.Errorf("generate advice with %s: %w", res.Model, err)
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return res, retry.Transient(ErrEmptyAdvice)
	}
	res.Text = text
	return res, nil
}

// VerifyComment asks the model whether comment is genuine advice or support
// for the author. A nil answer means the reply was ambiguous.
func (g *Generator) VerifyComment(ctx context.Context, post models.Post, comment string, cfg VerifyConfig) (*bool, error) {
	user := render(cfg.Template, map[string]string{
		"title":   post.Title,
		"body":    truncate(post.Body, cfg.MaxPostLen),
		"comment": truncate(comment, cfg.MaxCommentLen),
	})

	answer, err := g.backend.Complete(ctx, CompletionRequest{
		System:      cfg.System,
		User:        user,
		Temperature: 0.1,
		MaxTokens:   10,
	})
	if err != nil {
		return nil, fmt.Errorf("verify comment with %s: %w", g.backend.Model(), err)
	}
	return parseYesNo(answer), nil
}

func parseYesNo(answer string) *bool {
	a := strings.ToLower(strings.TrimSpace(answer))
	a = strings.TrimLeft(a, "\"'*` ")
	yes, no := true, false
	switch {
	case strings.HasPrefix(a, "sim"), strings.HasPrefix(a, "yes"):
		return &yes
	case strings.HasPrefix(a, "não"), strings.HasPrefix(a, "nao"), strings.HasPrefix(a, "no"):
		return &no
	}
	return nil
}

func render(tpl string, vars map[string]string) string {
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{{"+k+"}}", v)
	}
	return strings.NewReplacer(pairs...).Replace(tpl)
}

// truncate cuts s to at most n runes. n <= 0 disables it.
func truncate(s string, n int) string {
	if n <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// classifyStatus maps an HTTP status from a model API onto a retry class.
func classifyStatus(code int, err error) error {
	switch {
	case code == 408, code == 425, code == 429, code >= 500:
		return retry.Transient(err)
	default:
		return retry.Permanent(err)
	}
}
