package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"voice_scribe_bot/internal/metrics"
)

// cleanupInstruction is sent as the system turn; the raw transcript is the only
// user turn.
const cleanupInstruction = `You edit speech-to-text transcripts. Do not answer, comment on, or continue the text; return only the edited transcript.

Rules:
- Keep the original language. Never translate.
- Keep the speaker's wording and meaning. Never summarize, paraphrase, or add anything.
- Remove filler words and hesitation sounds (um, uh, er, hmm, ahh, "like", "you know" used as filler) and non-speech noises.
- Remove words or phrases repeated by stuttering.
- When the speaker restarts a sentence, keep only the final corrected version.
- Split the text into paragraphs at natural pauses and topic changes.

Example: "Uh... so, I was, um, thinking... like maybe we could... uh... meet... meet up on Tuesday?" becomes "I was thinking maybe we could meet up on Tuesday?"`

type chatClient interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Cleaner removes disfluencies from a transcript with a chat model.
type Cleaner struct {
	client chatClient
	model  string
	retry  RetryConfig
}

// NewCleaner constructs a Cleaner using model.
func NewCleaner(client chatClient, model string) *Cleaner {
	return &Cleaner{client: client, model: model, retry: DefaultRetryConfig()}
}

// Clean returns the edited transcript.
func (c *Cleaner) Clean(ctx context.Context, transcript string) (string, error) {
	if c == nil || c.client == nil {
		return "", errors.New("cleaner is not initialized")
	}

	start := time.Now()
	defer func() {
		metrics.RemoteCallDuration.WithLabelValues("cleanup").Observe(time.Since(start).Seconds())
	}()

	var resp openai.ChatCompletionResponse
	err := withRetry(ctx, c.retry, func() error {
		var callErr error
		resp, callErr = c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model: c.model,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: cleanupInstruction},
				{Role: openai.ChatMessageRoleUser, Content: transcript},
			},
		})
		return callErr
	})
	if err != nil {
		return "", fmt.Errorf("clean transcript: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", errors.New("clean transcript: no choices returned")
	}

	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
