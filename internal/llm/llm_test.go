package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperifyio/helmet/internal/cache"
)

type fakeClient struct {
	replies []string
	errs    []error
	calls   int
	last    openai.ChatCompletionRequest
}

func (f *fakeClient) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	i := f.calls
	f.calls++
	f.last = req
	if i < len(f.errs) && f.errs[i] != nil {
		return openai.ChatCompletionResponse{}, f.errs[i]
	}
	reply := ""
	if i < len(f.replies) {
		reply = f.replies[i]
	}
	return openai.ChatCompletionResponse{Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Content: reply}}}}, nil
}

func TestChat_CompleteSendsMessages(t *testing.T) {
	fc := &fakeClient{replies: []string{"  yes \n"}}
	c := &Chat{Client: fc, Model: "m"}
	out, err := c.Complete(context.Background(), "sys", "user", 16)
	require.NoError(t, err)
	assert.Equal(t, "yes", out)
	require.Len(t, fc.last.Messages, 2)
	assert.Equal(t, openai.ChatMessageRoleSystem, fc.last.Messages[0].Role)
	assert.Equal(t, "user", fc.last.Messages[1].Content)
	assert.Equal(t, 16, fc.last.MaxTokens)
}

func TestChat_EmptyAnswer(t *testing.T) {
	c := &Chat{Client: &fakeClient{replies: []string{"   "}}, Model: "m"}
	_, err := c.Complete(context.Background(), "", "u", 0)
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestChat_CacheHitSkipsModel(t *testing.T) {
	fc := &fakeClient{replies: []string{"first", "second"}}
	c := &Chat{Client: fc, Model: "m", Cache: &cache.LLMCache{Dir: t.TempDir()}}
	a, err := c.Complete(context.Background(), "s", "u", 0)
	require.NoError(t, err)
	b, err := c.Complete(context.Background(), "s", "u", 0)
	require.NoError(t, err)
	assert.Equal(t, "first", a)
	assert.Equal(t, "first", b)
	assert.Equal(t, 1, fc.calls)
}

func TestChat_RejectedAnswerNotCached(t *testing.T) {
	fc := &fakeClient{replies: []string{"garbage", `{"keep":true}`}}
	c := &Chat{Client: fc, Model: "m", Cache: &cache.LLMCache{Dir: t.TempDir()}}
	check := func(s string) error {
		var v map[string]any
		return DecodeJSON(s, &v)
	}
	_, err := c.CompleteChecked(context.Background(), "s", "u", 0, check)
	require.ErrorIs(t, err, ErrMalformed)
	out, err := c.CompleteChecked(context.Background(), "s", "u", 0, check)
	require.NoError(t, err)
	assert.Equal(t, `{"keep":true}`, out)
	assert.Equal(t, 2, fc.calls)
}

func TestStripFences(t *testing.T) {
	cases := map[string]string{
		"```json\n{\"a\":1}\n```": `{"a":1}`,
		"```\n[1,2]\n```":         `[1,2]`,
		"```json {\"a\":1}```":    `{"a":1}`,
		`  {"a":1}  `:             `{"a":1}`,
		"yes":                     "yes",
	}
	for in, want := range cases {
		assert.Equal(t, want, StripFences(in), "input %q", in)
	}
}

func TestDecodeJSON_Malformed(t *testing.T) {
	var v map[string]any
	err := DecodeJSON(`{"keep": tru`, &v)
	require.ErrorIs(t, err, ErrMalformed)
	assert.Equal(t, ErrorMalformed, ClassifyError(err))
}

func TestRecoverAnswer_Truncated(t *testing.T) {
	raw := `{"question": "Who are the authors?", "answer": [{"Author": "Smith 2020"}, {"Author": "Jones 2019"}, {"Auth`
	items, ok := RecoverAnswer(raw)
	require.True(t, ok)
	require.Len(t, items, 2)
	assert.Equal(t, "Jones 2019", items[1]["Author"])

	_, ok = RecoverAnswer(`{"question": "q", "result": [`)
	assert.False(t, ok)
}

func TestClassifyError(t *testing.T) {
	assert.Equal(t, ErrorType(""), ClassifyError(nil))
	assert.Equal(t, ErrorAuth, ClassifyError(&openai.APIError{HTTPStatusCode: http.StatusUnauthorized, Message: "bad key"}))
	assert.Equal(t, ErrorRate, ClassifyError(fmt.Errorf("call: %w", &openai.APIError{HTTPStatusCode: http.StatusTooManyRequests})))
	assert.Equal(t, ErrorTransient, ClassifyError(&openai.RequestError{HTTPStatusCode: 503, Err: errors.New("unavailable")}))
	assert.Equal(t, ErrorPermanent, ClassifyError(&openai.APIError{HTTPStatusCode: 400}))
	assert.Equal(t, ErrorTransient, ClassifyError(context.DeadlineExceeded))
	assert.Equal(t, ErrorRate, ClassifyError(errors.New("Rate limit reached")))
	assert.Equal(t, ErrorPermanent, ClassifyError(errors.New("something odd")))
	assert.True(t, IsAuth(errors.New("Incorrect API key provided")))
}
