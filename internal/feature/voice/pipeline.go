// Package voice transcribes voice messages and posts the cleaned text back to
// the chat they came from.
package voice

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"voice_scribe_bot/internal/domain"
	"voice_scribe_bot/internal/logging"
	"voice_scribe_bot/internal/metrics"
)

const (
	transcribeFailureText = "Failed to transcribe voice message."
	audioFileName         = "voice.ogg"
	headerPrefix          = "Voice message transcription from "
)

// Transcriber converts audio into raw text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, filename string) (string, error)
}

// Cleaner removes disfluencies from a raw transcript.
type Cleaner interface {
	Clean(ctx context.Context, transcript string) (string, error)
}

// Platform fetches voice files and delivers replies.
type Platform interface {
	DownloadFile(ctx context.Context, fileID string) ([]byte, error)
	SendText(ctx context.Context, msg domain.OutboundMessage) error
}

// Settings tune the pipeline.
type Settings struct {
	AllowedBusinessConnections []string
	Credit                     string
	RemoteTimeout              time.Duration
}

// Pipeline runs download, transcription, cleanup and reply for one message.
type Pipeline struct {
	platform    Platform
	transcriber Transcriber
	cleaner     Cleaner
	allowed     map[string]struct{}
	credit      string
	timeout     time.Duration
	logger      *logrus.Entry
}

// NewPipeline constructs a Pipeline.
func NewPipeline(platform Platform, transcriber Transcriber, cleaner Cleaner, settings Settings, logger *logrus.Entry) *Pipeline {
	if logger == nil {
		logger = logging.Logger()
	}

	allowed := make(map[string]struct{}, len(settings.AllowedBusinessConnections))
	for _, id := range settings.AllowedBusinessConnections {
		allowed[id] = struct{}{}
	}

	return &Pipeline{
		platform:    platform,
		transcriber: transcriber,
		cleaner:     cleaner,
		allowed:     allowed,
		credit:      strings.TrimSpace(settings.Credit),
		timeout:     settings.RemoteTimeout,
		logger:      logger,
	}
}

// AllowsBusinessConnection reports whether id is on the allow-list.
func (p *Pipeline) AllowsBusinessConnection(id string) bool {
	_, ok := p.allowed[id]
	return ok
}

// HandleVoice transcribes msg and replies in its chat. Messages from business
// connections outside the allow-list are skipped without a reply or error. A
// failed transcription returns a *domain.ReplyError and the cleanup step is
// not attempted.
func (p *Pipeline) HandleVoice(ctx context.Context, msg domain.Message, isGroupChat bool) error {
	if p == nil || p.platform == nil || p.transcriber == nil || p.cleaner == nil {
		return errors.New("voice pipeline is not initialized")
	}
	if msg.Voice == nil || msg.Voice.FileID == "" {
		return errors.New("message has no voice payload")
	}

	log := p.logger.WithFields(logging.Fields{
		"chat_id":  msg.Chat.ID,
		"duration": msg.Voice.Duration,
		"group":    isGroupChat,
	})

	if msg.BusinessConnectionID != "" {
		log = log.WithField("business_connection_id", msg.BusinessConnectionID)
		if !p.AllowsBusinessConnection(msg.BusinessConnectionID) {
			metrics.TranscriptionsTotal.WithLabelValues(metrics.OutcomeSkipped).Inc()
			log.WithField("event", "voice_skipped").Debug("business connection not allowed")
			return nil
		}
	}

	audio, err := p.download(ctx, msg.Voice.FileID)
	if err != nil {
		metrics.TranscriptionsTotal.WithLabelValues(metrics.OutcomeFailed).Inc()
		return err
	}

	transcript, err := p.transcribe(ctx, audio)
	if err != nil {
		metrics.TranscriptionsTotal.WithLabelValues(metrics.OutcomeFailed).Inc()
		log.WithField("event", "voice_transcription_failed").WithError(err).Warn("transcription failed")
		return domain.NewReplyError(transcribeFailureText, err)
	}

	cleaned, err := p.clean(ctx, transcript)
	if err != nil {
		metrics.TranscriptionsTotal.WithLabelValues(metrics.OutcomeFailed).Inc()
		return err
	}

	log.WithFields(logging.Fields{
		"event":      "voice_transcribed",
		"raw_len":    len(transcript),
		"output_len": len(cleaned),
	}).Info("voice message transcribed")
	log.WithFields(logging.Fields{
		"event":      "voice_transcript",
		"transcript": transcript,
		"cleaned":    cleaned,
	}).Debug("transcript detail")

	reply := domain.OutboundMessage{
		ChatID:               msg.Chat.ID,
		Text:                 p.FormatReply(msg, isGroupChat, cleaned),
		BusinessConnectionID: msg.BusinessConnectionID,
		HTML:                 true,
	}
	if err := p.platform.SendText(ctx, reply); err != nil {
		metrics.TranscriptionsTotal.WithLabelValues(metrics.OutcomeFailed).Inc()
		return fmt.Errorf("send transcription: %w", err)
	}

	metrics.TranscriptionsTotal.WithLabelValues(metrics.OutcomeSent).Inc()
	return nil
}

// Header returns the attribution line for msg.
func (p *Pipeline) Header(msg domain.Message, isGroupChat bool) string {
	name := ""
	if msg.From != nil {
		name = msg.From.DisplayName()
	}
	if name == "" {
		name = msg.Chat.DisplayName()
	}

	header := headerPrefix + name
	if isGroupChat {
		header += " in this group"
	}
	if p.credit != "" {
		header += " (thanks to bot created by " + p.credit + ")"
	}
	return header
}

// FormatReply renders the bold header and the cleaned text as escaped HTML.
func (p *Pipeline) FormatReply(msg domain.Message, isGroupChat bool, cleaned string) string {
	return "<b>" + html.EscapeString(p.Header(msg, isGroupChat)) + "</b>\n" + html.EscapeString(cleaned)
}

func (p *Pipeline) download(ctx context.Context, fileID string) ([]byte, error) {
	callCtx, cancel := p.withTimeout(ctx)
	defer cancel()

	audio, err := p.platform.DownloadFile(callCtx, fileID)
	if err != nil {
		return nil, fmt.Errorf("download voice file: %w", err)
	}
	return audio, nil
}

func (p *Pipeline) transcribe(ctx context.Context, audio []byte) (string, error) {
	callCtx, cancel := p.withTimeout(ctx)
	defer cancel()

	return p.transcriber.Transcribe(callCtx, audio, audioFileName)
}

func (p *Pipeline) clean(ctx context.Context, transcript string) (string, error) {
	callCtx, cancel := p.withTimeout(ctx)
	defer cancel()

	cleaned, err := p.cleaner.Clean(callCtx, transcript)
	if err != nil {
		return "", fmt.Errorf("voice cleanup: %w", err)
	}
	return cleaned, nil
}

func (p *Pipeline) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, p.timeout)
}
