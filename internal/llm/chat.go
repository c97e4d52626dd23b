package llm

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/hyperifyio/helmet/internal/cache"
)

// ErrEmptyResponse is returned when the model answers with no choices or only
// whitespace.
var ErrEmptyResponse = errors.New("empty model response")

// Chat runs single-turn prompts against a model with optional response
// caching and request pacing.
type Chat struct {
	Client      Client
	Model       string
	Temperature float32
	Cache       *cache.LLMCache
	// Delay spaces consecutive uncached calls. Zero disables pacing.
	Delay time.Duration

	limiter     *rate.Limiter
	limiterOnce sync.Once
}

// Complete sends system and user messages and returns the trimmed content of
// the first choice. Cached answers are returned without contacting the model.
func (c *Chat) Complete(ctx context.Context, system, user string, maxTokens int) (string, error) {
	return c.CompleteChecked(ctx, system, user, maxTokens, nil)
}

// CompleteChecked is Complete with a validation step: an answer that check
// rejects is neither served from nor written to the cache, and check's error
// is returned so a retry asks the model again.
func (c *Chat) CompleteChecked(ctx context.Context, system, user string, maxTokens int, check func(string) error) (string, error) {
	if c == nil || c.Client == nil {
		return "", errors.New("llm: client not configured")
	}
	key := cache.KeyFrom(c.Model, system+"\n\n"+user)
	if c.Cache != nil {
		if b, ok, err := c.Cache.Get(ctx, key); err == nil && ok && len(b) > 0 {
			if check == nil || check(string(b)) == nil {
				return string(b), nil
			}
		}
	}
	if err := c.wait(ctx); err != nil {
		return "", err
	}
	var msgs []openai.ChatCompletionMessage
	if system != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}
	msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: user})
	req := openai.ChatCompletionRequest{
		Model:       c.Model,
		Messages:    msgs,
		Temperature: c.Temperature,
		MaxTokens:   maxTokens,
	}
	resp, err := c.Client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	out := strings.TrimSpace(resp.Choices[0].Message.Content)
	if out == "" {
		return "", ErrEmptyResponse
	}
	if check != nil {
		if err := check(out); err != nil {
			return out, err
		}
	}
	if c.Cache != nil {
		_ = c.Cache.Save(ctx, key, []byte(out))
	}
	return out, nil
}

func (c *Chat) wait(ctx context.Context) error {
	if c.Delay <= 0 {
		return nil
	}
	c.limiterOnce.Do(func() {
		c.limiter = rate.NewLimiter(rate.Every(c.Delay), 1)
	})
	return c.limiter.Wait(ctx)
}
