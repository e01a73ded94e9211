package telegram

import (
	"fmt"

	"voice_scribe_bot/internal/domain"
)

const previewLimit = 200

// MessageContent renders a short log preview of msg: text is cut to 200
// characters with a trailing "...", voice shows its duration, anything else
// shows its content type.
func MessageContent(msg domain.Message) string {
	switch msg.ContentType {
	case domain.ContentText:
		runes := []rune(msg.Text)
		if len(runes) > previewLimit {
			return string(runes[:previewLimit]) + "..."
		}
		return msg.Text
	case domain.ContentVoice:
		duration := 0
		if msg.Voice != nil {
			duration = msg.Voice.Duration
		}
		return fmt.Sprintf("Voice message (duration: %ds)", duration)
	default:
		return msg.ContentType + " content"
	}
}
