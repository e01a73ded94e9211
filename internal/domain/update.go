package domain

import "strings"

// Kind tags an Envelope with the single handler family it belongs to.
type Kind int

const (
	KindUnsupported Kind = iota
	KindPreCheckout
	KindSuccessfulPayment
	KindBusinessMessage
	KindGroupVoice
	KindPrivateVoice
	KindCommand
	KindOther
)

func (k Kind) String() string {
	switch k {
	case KindPreCheckout:
		return "pre_checkout_query"
	case KindSuccessfulPayment:
		return "successful_payment"
	case KindBusinessMessage:
		return "business_message"
	case KindGroupVoice:
		return "group_voice"
	case KindPrivateVoice:
		return "private_voice"
	case KindCommand:
		return "command"
	case KindOther:
		return "message"
	default:
		return "unsupported"
	}
}

// Content types carried by a Message.
const (
	ContentText              = "text"
	ContentVoice             = "voice"
	ContentSuccessfulPayment = "successful_payment"
)

// Chat types reported by the platform.
const (
	ChatTypePrivate    = "private"
	ChatTypeGroup      = "group"
	ChatTypeSupergroup = "supergroup"
	ChatTypeChannel    = "channel"
)

// Commands understood by the bot.
const (
	CommandPay     = "/pay"
	CommandBalance = "/balance"
)

// Envelope is one decoded inbound update. Exactly one of Message or
// PreCheckout is set for every kind except KindUnsupported.
type Envelope struct {
	UpdateID    int64
	Kind        Kind
	Message     *Message
	PreCheckout *PreCheckoutQuery
	Command     string
}

// Sender identifies the user behind a message or query.
type Sender struct {
	ID        int64
	Username  string
	FirstName string
	LastName  string
}

// DisplayName prefers the public handle and falls back to the full name.
func (s Sender) DisplayName() string {
	if s.Username != "" {
		return s.Username
	}
	return strings.TrimSpace(s.FirstName + " " + s.LastName)
}

// Chat is the conversation a message arrived in.
type Chat struct {
	ID        int64
	Type      string
	Title     string
	Username  string
	FirstName string
	LastName  string
}

// IsGroup reports whether the chat is a group or supergroup.
func (c Chat) IsGroup() bool {
	return c.Type == ChatTypeGroup || c.Type == ChatTypeSupergroup
}

// DisplayName mirrors Sender.DisplayName for chats, using the title last.
func (c Chat) DisplayName() string {
	if c.Username != "" {
		return c.Username
	}
	if name := strings.TrimSpace(c.FirstName + " " + c.LastName); name != "" {
		return name
	}
	return c.Title
}

// Voice references an audio file stored by the platform.
type Voice struct {
	FileID   string
	Duration int
}

// SuccessfulPayment is the confirmation payload attached to a message.
type SuccessfulPayment struct {
	ChargeID       string
	Amount         int64
	Currency       string
	InvoicePayload string
}

// Message is a decoded chat message from a personal, group or business chat.
type Message struct {
	ID                   int
	Chat                 Chat
	From                 *Sender
	BusinessConnectionID string
	ContentType          string
	Text                 string
	Voice                *Voice
	Payment              *SuccessfulPayment
}

// PreCheckoutQuery asks the bot to approve a payment before it is finalized.
type PreCheckoutQuery struct {
	ID             string
	From           Sender
	Currency       string
	TotalAmount    int64
	InvoicePayload string
}

// OutboundMessage is a text reply sent to a chat.
type OutboundMessage struct {
	ChatID               int64
	Text                 string
	BusinessConnectionID string
	HTML                 bool
}
