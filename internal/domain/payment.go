// Package domain defines the records and update shapes shared across the bot.
package domain

import (
	"errors"
	"time"
)

// CurrencyStars is the Telegram Stars currency code used for digital goods.
const CurrencyStars = "XTR"

var (
	// ErrPaymentNotFound is returned when no payment exists for a charge id.
	ErrPaymentNotFound = errors.New("payment not found")
	// ErrDuplicateCharge is returned when a charge id has already been recorded.
	ErrDuplicateCharge = errors.New("charge already recorded")
	// ErrTranscriptionFailed marks a speech-to-text call that did not succeed.
	ErrTranscriptionFailed = errors.New("transcription failed")
)

// Payment is one completed transaction. Records are written once and never
// mutated.
type Payment struct {
	ID        int64     `bson:"seq" json:"id"`
	UserID    int64     `bson:"user_id" json:"user_id"`
	ChargeID  string    `bson:"charge_id" json:"charge_id"`
	Amount    int64     `bson:"amount" json:"amount"`
	Currency  string    `bson:"currency" json:"currency"`
	Timestamp time.Time `bson:"timestamp" json:"timestamp"`
}

// Invoice describes a single outbound invoice message.
type Invoice struct {
	ChatID         int64
	Title          string
	Description    string
	Payload        string
	Currency       string
	Prices         []LabeledPrice
	StartParameter string
	PayButtonText  string
}

// LabeledPrice is one line of an invoice, in the smallest currency unit.
type LabeledPrice struct {
	Label  string
	Amount int64
}

// ReplyError wraps a failure that should be reported to the originating chat
// with a specific message instead of the generic one.
type ReplyError struct {
	Reply string
	Err   error
}

// NewReplyError builds a ReplyError.
func NewReplyError(reply string, err error) error {
	return &ReplyError{Reply: reply, Err: err}
}

func (e *ReplyError) Error() string {
	if e.Err == nil {
		return e.Reply
	}
	return e.Reply + ": " + e.Err.Error()
}

func (e *ReplyError) Unwrap() error {
	return e.Err
}
