// Package billing runs the Telegram Stars purchase flow: invoice, pre-checkout
// approval and recording of completed payments in the ledger.
package billing

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"voice_scribe_bot/internal/domain"
	"voice_scribe_bot/internal/logging"
	"voice_scribe_bot/internal/metrics"
)

const (
	invoiceTitle       = "Bot Feature Access"
	invoiceDescription = "Access to premium bot features"
	invoicePriceLabel  = "Bot Access"
	invoiceStartParam  = "access"
	payButtonText      = "Pay"
	payloadPrefix      = "access_"

	confirmationText   = "Payment successful! You now have access to premium features."
	recordFailureText  = "We received your payment but could not record it. Please contact support."
	rejectPayloadText  = "This invoice is not valid for this bot."
	rejectCurrencyText = "Only Telegram Stars are accepted."
	rejectAmountText   = "The invoice amount does not match the current price."
)

// Ledger is the subset of the payment store used by the controller.
type Ledger interface {
	RecordPayment(ctx context.Context, userID int64, chargeID string, amount int64, currency string) error
	GetPayment(ctx context.Context, chargeID string) (domain.Payment, error)
	GetUserBalance(ctx context.Context, userID int64) (int64, error)
}

// Platform is the outbound side of the messaging API used by the controller.
type Platform interface {
	SendInvoice(ctx context.Context, invoice domain.Invoice) error
	AnswerPreCheckout(ctx context.Context, queryID string, ok bool, errorMessage string) error
	SendText(ctx context.Context, msg domain.OutboundMessage) error
}

// Controller issues invoices and records completed payments.
type Controller struct {
	ledger   Ledger
	platform Platform
	price    int64
	logger   *logrus.Entry
	inflight singleflight.Group
}

// NewController constructs a Controller selling access at price Stars.
func NewController(ledger Ledger, platform Platform, price int64, logger *logrus.Entry) *Controller {
	if logger == nil {
		logger = logging.Logger()
	}

	return &Controller{
		ledger:   ledger,
		platform: platform,
		price:    price,
		logger:   logger,
	}
}

// BuildInvoice returns the single-line Stars invoice for chatID.
func (c *Controller) BuildInvoice(chatID int64) domain.Invoice {
	return domain.Invoice{
		ChatID:         chatID,
		Title:          invoiceTitle,
		Description:    invoiceDescription,
		Payload:        payloadPrefix + strconv.FormatInt(chatID, 10),
		Currency:       domain.CurrencyStars,
		Prices:         []domain.LabeledPrice{{Label: invoicePriceLabel, Amount: c.price}},
		StartParameter: invoiceStartParam,
		PayButtonText:  payButtonText,
	}
}

// SendInvoice sends the access invoice to chatID.
func (c *Controller) SendInvoice(ctx context.Context, chatID int64) error {
	if err := c.ready(ctx); err != nil {
		return err
	}

	if err := c.platform.SendInvoice(ctx, c.BuildInvoice(chatID)); err != nil {
		return fmt.Errorf("send invoice: %w", err)
	}

	c.logger.WithFields(logging.Fields{
		"event":   "invoice_sent",
		"chat_id": chatID,
		"amount":  c.price,
	}).Info("invoice sent")

	return nil
}

// AnswerPreCheckout approves the query when payload, currency and amount
// match the invoice this controller issues, and declines it otherwise.
func (c *Controller) AnswerPreCheckout(ctx context.Context, query domain.PreCheckoutQuery) error {
	if err := c.ready(ctx); err != nil {
		return err
	}

	reason := c.validate(query)
	ok := reason == ""

	if err := c.platform.AnswerPreCheckout(ctx, query.ID, ok, reason); err != nil {
		return fmt.Errorf("answer pre-checkout: %w", err)
	}

	fields := logging.Fields{
		"event":    "pre_checkout_answered",
		"user_id":  query.From.ID,
		"query_id": query.ID,
		"amount":   query.TotalAmount,
		"currency": query.Currency,
		"ok":       ok,
	}
	if ok {
		metrics.PreCheckoutTotal.WithLabelValues(metrics.DecisionApproved).Inc()
		c.logger.WithFields(fields).Info("pre-checkout approved")
	} else {
		metrics.PreCheckoutTotal.WithLabelValues(metrics.DecisionRejected).Inc()
		fields["reason"] = reason
		c.logger.WithFields(fields).Warn("pre-checkout rejected")
	}

	return nil
}

func (c *Controller) validate(query domain.PreCheckoutQuery) string {
	id, found := strings.CutPrefix(query.InvoicePayload, payloadPrefix)
	if !found {
		return rejectPayloadText
	}
	if _, err := strconv.ParseInt(id, 10, 64); err != nil {
		return rejectPayloadText
	}
	if query.Currency != domain.CurrencyStars {
		return rejectCurrencyText
	}
	if query.TotalAmount != c.price {
		return rejectAmountText
	}
	return ""
}

// RecordSuccessfulPayment writes the completed payment to the ledger and
// confirms it to the payer. A charge already in the ledger is acknowledged
// silently. Ledger failures come back as a *domain.ReplyError so the payer is
// never told the payment succeeded.
func (c *Controller) RecordSuccessfulPayment(ctx context.Context, msg domain.Message) error {
	if err := c.ready(ctx); err != nil {
		return err
	}
	if msg.Payment == nil {
		return errors.New("message has no successful payment")
	}

	payment := msg.Payment
	userID := msg.Chat.ID
	log := c.logger.WithFields(logging.Fields{
		"user_id":   userID,
		"charge_id": payment.ChargeID,
		"amount":    payment.Amount,
		"currency":  payment.Currency,
	})

	_, err, shared := c.inflight.Do(payment.ChargeID, func() (interface{}, error) {
		return nil, c.recordOnce(ctx, msg, log)
	})
	if shared {
		log.WithField("event", "payment_coalesced").Debug("concurrent delivery of the same charge shared one write")
	}
	return err
}

// recordOnce runs at most once at a time per charge id.
func (c *Controller) recordOnce(ctx context.Context, msg domain.Message, log *logrus.Entry) error {
	payment := msg.Payment
	userID := msg.Chat.ID

	if _, err := c.ledger.GetPayment(ctx, payment.ChargeID); err == nil {
		metrics.PaymentsTotal.WithLabelValues(metrics.OutcomeDuplicate).Inc()
		log.WithField("event", "payment_duplicate").Warn("charge already recorded")
		return nil
	} else if !errors.Is(err, domain.ErrPaymentNotFound) {
		metrics.PaymentsTotal.WithLabelValues(metrics.OutcomeFailed).Inc()
		return domain.NewReplyError(recordFailureText, fmt.Errorf("lookup payment: %w", err))
	}

	err := c.ledger.RecordPayment(ctx, userID, payment.ChargeID, payment.Amount, payment.Currency)
	switch {
	case errors.Is(err, domain.ErrDuplicateCharge):
		metrics.PaymentsTotal.WithLabelValues(metrics.OutcomeDuplicate).Inc()
		log.WithField("event", "payment_duplicate").Warn("charge already recorded")
		return nil
	case err != nil:
		metrics.PaymentsTotal.WithLabelValues(metrics.OutcomeFailed).Inc()
		return domain.NewReplyError(recordFailureText, fmt.Errorf("record payment: %w", err))
	}

	metrics.PaymentsTotal.WithLabelValues(metrics.OutcomeRecorded).Inc()
	log.WithField("event", "payment_recorded").Info("successful payment recorded")

	reply := domain.OutboundMessage{
		ChatID:               userID,
		Text:                 confirmationText,
		BusinessConnectionID: msg.BusinessConnectionID,
	}
	if err := c.platform.SendText(ctx, reply); err != nil {
		return fmt.Errorf("send payment confirmation: %w", err)
	}

	return nil
}

// UserBalance returns the total recorded for userID.
func (c *Controller) UserBalance(ctx context.Context, userID int64) (int64, error) {
	if err := c.ready(ctx); err != nil {
		return 0, err
	}

	balance, err := c.ledger.GetUserBalance(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("get balance: %w", err)
	}
	return balance, nil
}

// ReplyBalance sends the balance of userID to chatID.
func (c *Controller) ReplyBalance(ctx context.Context, chatID, userID int64, businessConnectionID string) error {
	balance, err := c.UserBalance(ctx, userID)
	if err != nil {
		return err
	}

	reply := domain.OutboundMessage{
		ChatID:               chatID,
		Text:                 fmt.Sprintf("Your balance: %d %s", balance, domain.CurrencyStars),
		BusinessConnectionID: businessConnectionID,
	}
	if err := c.platform.SendText(ctx, reply); err != nil {
		return fmt.Errorf("send balance: %w", err)
	}
	return nil
}

func (c *Controller) ready(ctx context.Context) error {
	if c == nil || c.ledger == nil || c.platform == nil {
		return errors.New("billing controller is not initialized")
	}
	if ctx == nil {
		return errors.New("context is required")
	}
	return nil
}
