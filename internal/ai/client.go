package ai

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/sirupsen/logrus"
	"github.com/steveyegge/repodoc/internal/workspace"
	"golang.org/x/sync/semaphore"
)

// DefaultModel is used when Config.Model is empty.
const DefaultModel = "claude-sonnet-4-5-20250929"

// ErrNoAPIKey is returned by NewClient when neither the config nor the
// environment provides an API key.
var ErrNoAPIKey = errors.New("ANTHROPIC_API_KEY not set")

// Config configures the AI client.
type Config struct {
	APIKey    string // falls back to ANTHROPIC_API_KEY
	Model     string
	MaxTokens int64
	Retry     RetryConfig
	Log       logrus.FieldLogger
}

// sendFunc performs one completion request and returns the response text.
type sendFunc func(ctx context.Context, prompt string) (string, error)

// Client answers workspace questions with the Anthropic Messages API.
type Client struct {
	client    *anthropic.Client
	model     string
	maxTokens int64
	retry     RetryConfig
	breaker   *CircuitBreaker
	sem       *semaphore.Weighted
	log       logrus.FieldLogger
	send      sendFunc
}

// NewClient creates a client from cfg.
func NewClient(cfg Config) (*Client, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if apiKey == "" {
		return nil, ErrNoAPIKey
	}

	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	c := newClient(cfg)
	c.client = &client
	c.send = c.sendMessage
	return c, nil
}

// newClient fills defaults; the caller sets send.
func newClient(cfg Config) *Client {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1024
	}
	if cfg.Retry == (RetryConfig{}) {
		cfg.Retry = DefaultRetryConfig()
	}
	if cfg.Log == nil {
		cfg.Log = logrus.StandardLogger()
	}

	c := &Client{
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		retry:     cfg.Retry,
		log:       cfg.Log.WithField("component", "ai"),
	}
	if cfg.Retry.CircuitBreakerEnabled {
		c.breaker = NewCircuitBreaker(cfg.Retry.FailureThreshold, cfg.Retry.SuccessThreshold, cfg.Retry.OpenTimeout, c.log)
	}
	if cfg.Retry.MaxConcurrentCalls > 0 {
		c.sem = semaphore.NewWeighted(int64(cfg.Retry.MaxConcurrentCalls))
	}
	return c
}

// Model returns the model the client sends requests to.
func (c *Client) Model() string {
	return c.model
}

// Complete sends prompt and returns the trimmed text of the response.
func (c *Client) Complete(ctx context.Context, operation, prompt string) (string, error) {
	var text string
	err := c.retryWithBackoff(ctx, operation, func(attemptCtx context.Context) error {
		out, err := c.send(attemptCtx, prompt)
		if err != nil {
			return err
		}
		text = out
		return nil
	})
	if err != nil {
		return "", err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("%s: empty response", operation)
	}
	return text, nil
}

// Answer implements passes.Answerer.
func (c *Client) Answer(ctx context.Context, q workspace.Question, summary string) (string, error) {
	return c.Complete(ctx, "answer "+q.Topic, buildAnswerPrompt(q, summary))
}

func (c *Client) sendMessage(ctx context.Context, prompt string) (string, error) {
	resp, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: c.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", err
	}

	var b strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	return b.String(), nil
}

func buildAnswerPrompt(q workspace.Question, summary string) string {
	var b strings.Builder
	b.WriteString("You are documenting a software system made of one or more repositories.\n")
	b.WriteString("Below is what static analysis found, followed by an open question about it.\n\n")
	b.WriteString("## Workspace\n\n")
	b.WriteString(summary)
	b.WriteString("\n## Question\n\n")
	fmt.Fprintf(&b, "Topic: %s\n", q.Topic)
	if len(q.Repos) > 0 {
		fmt.Fprintf(&b, "Repositories: %s\n", strings.Join(q.Repos, ", "))
	}
	b.WriteString(q.Text)
	b.WriteString("\n\nAnswer in at most three sentences using only the information above. ")
	b.WriteString("If the information is not enough to decide, say what is missing.\n")
	return b.String()
}
