// Package ai adapts the OpenAI-compatible speech-to-text and chat completion
// endpoints to the transcriber and cleaner used by the voice pipeline.
package ai

import (
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// NewClient builds an OpenAI client. baseURL overrides the default endpoint
// when set; httpClient may be nil.
func NewClient(apiKey, baseURL string, httpClient *http.Client) *openai.Client {
	cfg := openai.DefaultConfig(apiKey)
	if base := strings.TrimRight(strings.TrimSpace(baseURL), "/"); base != "" {
		cfg.BaseURL = base
	}
	if httpClient != nil {
		cfg.HTTPClient = httpClient
	}
	return openai.NewClientWithConfig(cfg)
}
