package ai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"voice_scribe_bot/internal/domain"
	"voice_scribe_bot/internal/metrics"
)

const defaultAudioName = "voice.ogg"

type audioClient interface {
	CreateTranscription(ctx context.Context, request openai.AudioRequest) (openai.AudioResponse, error)
}

// Transcriber turns audio into text with a Whisper model.
type Transcriber struct {
	client audioClient
	model  string
	retry  RetryConfig
}

// NewTranscriber constructs a Transcriber; an empty model means whisper-1.
func NewTranscriber(client audioClient, model string) *Transcriber {
	if model == "" {
		model = openai.Whisper1
	}
	return &Transcriber{client: client, model: model, retry: DefaultRetryConfig()}
}

// Transcribe uploads audio under filename and returns the recognized text.
// Every failure wraps domain.ErrTranscriptionFailed.
func (t *Transcriber) Transcribe(ctx context.Context, audio []byte, filename string) (string, error) {
	if t == nil || t.client == nil {
		return "", fmt.Errorf("%w: transcriber is not initialized", domain.ErrTranscriptionFailed)
	}
	if len(audio) == 0 {
		return "", fmt.Errorf("%w: empty audio", domain.ErrTranscriptionFailed)
	}
	if filename == "" {
		filename = defaultAudioName
	}

	start := time.Now()
	defer func() {
		metrics.RemoteCallDuration.WithLabelValues("transcription").Observe(time.Since(start).Seconds())
	}()

	var resp openai.AudioResponse
	err := withRetry(ctx, t.retry, func() error {
		var callErr error
		resp, callErr = t.client.CreateTranscription(ctx, openai.AudioRequest{
			Model:    t.model,
			FilePath: filename,
			Reader:   bytes.NewReader(audio),
		})
		return callErr
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrTranscriptionFailed, err)
	}

	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return "", fmt.Errorf("%w: %w", domain.ErrTranscriptionFailed, errors.New("empty transcript"))
	}
	return text, nil
}
