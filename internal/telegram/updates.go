package telegram

import (
	"strings"

	"github.com/go-telegram/bot/models"

	"voice_scribe_bot/internal/domain"
)

// Classify decodes one update into an Envelope. The first matching rule wins:
// pre-checkout query, successful payment, business message, group voice,
// private voice, command, any other message.
func Classify(update models.Update) domain.Envelope {
	env := domain.Envelope{UpdateID: update.ID}

	switch {
	case update.PreCheckoutQuery != nil:
		q := decodePreCheckout(update.PreCheckoutQuery)
		env.Kind = domain.KindPreCheckout
		env.PreCheckout = &q

	case update.Message != nil && update.Message.SuccessfulPayment != nil:
		env.Kind = domain.KindSuccessfulPayment
		env.Message = decodeMessage(update.Message)

	case update.BusinessMessage != nil:
		env.Kind = domain.KindBusinessMessage
		env.Message = decodeMessage(update.BusinessMessage)

	case update.Message != nil && update.Message.Voice != nil:
		env.Message = decodeMessage(update.Message)
		if env.Message.Chat.IsGroup() {
			env.Kind = domain.KindGroupVoice
		} else {
			env.Kind = domain.KindPrivateVoice
		}

	case update.Message != nil:
		env.Message = decodeMessage(update.Message)
		if cmd := parseCommand(update.Message.Text); cmd != "" {
			env.Kind = domain.KindCommand
			env.Command = cmd
		} else {
			env.Kind = domain.KindOther
		}

	case update.EditedMessage != nil:
		env.Kind = domain.KindOther
		env.Message = decodeMessage(update.EditedMessage)

	case update.EditedBusinessMessage != nil:
		env.Kind = domain.KindOther
		env.Message = decodeMessage(update.EditedBusinessMessage)

	default:
		env.Kind = domain.KindUnsupported
	}

	return env
}

// parseCommand returns the command at the start of text when it is one the
// bot handles, with any @botname suffix removed.
func parseCommand(text string) string {
	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return ""
	}

	cmd, _, _ := strings.Cut(fields[0], "@")
	cmd = strings.ToLower(cmd)
	switch cmd {
	case domain.CommandPay, domain.CommandBalance:
		return cmd
	default:
		return ""
	}
}

func decodeMessage(m *models.Message) *domain.Message {
	msg := &domain.Message{
		ID:                   m.ID,
		BusinessConnectionID: m.BusinessConnectionID,
		Text:                 m.Text,
		ContentType:          contentType(m),
		Chat: domain.Chat{
			ID:        m.Chat.ID,
			Type:      string(m.Chat.Type),
			Title:     m.Chat.Title,
			Username:  m.Chat.Username,
			FirstName: m.Chat.FirstName,
			LastName:  m.Chat.LastName,
		},
	}

	if m.From != nil {
		sender := decodeUser(m.From)
		msg.From = &sender
	}
	if m.Voice != nil {
		msg.Voice = &domain.Voice{FileID: m.Voice.FileID, Duration: m.Voice.Duration}
	}
	if p := m.SuccessfulPayment; p != nil {
		msg.Payment = &domain.SuccessfulPayment{
			ChargeID:       p.TelegramPaymentChargeID,
			Amount:         int64(p.TotalAmount),
			Currency:       p.Currency,
			InvoicePayload: p.InvoicePayload,
		}
	}

	return msg
}

func decodePreCheckout(q *models.PreCheckoutQuery) domain.PreCheckoutQuery {
	out := domain.PreCheckoutQuery{
		ID:             q.ID,
		Currency:       q.Currency,
		TotalAmount:    int64(q.TotalAmount),
		InvoicePayload: q.InvoicePayload,
	}
	if q.From != nil {
		out.From = decodeUser(q.From)
	}
	return out
}

func decodeUser(u *models.User) domain.Sender {
	return domain.Sender{
		ID:        u.ID,
		Username:  u.Username,
		FirstName: u.FirstName,
		LastName:  u.LastName,
	}
}

func contentType(m *models.Message) string {
	switch {
	case m.SuccessfulPayment != nil:
		return domain.ContentSuccessfulPayment
	case m.Voice != nil:
		return domain.ContentVoice
	case m.Text != "":
		return domain.ContentText
	case len(m.Photo) > 0:
		return "photo"
	case m.Video != nil:
		return "video"
	case m.VideoNote != nil:
		return "video_note"
	case m.Audio != nil:
		return "audio"
	case m.Document != nil:
		return "document"
	case m.Sticker != nil:
		return "sticker"
	case m.Location != nil:
		return "location"
	case m.Contact != nil:
		return "contact"
	default:
		return "unknown"
	}
}
