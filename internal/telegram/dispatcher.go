package telegram

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"voice_scribe_bot/internal/domain"
	"voice_scribe_bot/internal/logging"
	"voice_scribe_bot/internal/metrics"
)

const (
	genericFailureText = "Sorry, something went wrong while processing your message."
	failureReplyWindow = 10 * time.Second
)

// PaymentHandler runs the purchase flow.
type PaymentHandler interface {
	AnswerPreCheckout(ctx context.Context, query domain.PreCheckoutQuery) error
	RecordSuccessfulPayment(ctx context.Context, msg domain.Message) error
	SendInvoice(ctx context.Context, chatID int64) error
	ReplyBalance(ctx context.Context, chatID, userID int64, businessConnectionID string) error
}

// VoiceHandler transcribes a voice message.
type VoiceHandler interface {
	HandleVoice(ctx context.Context, msg domain.Message, isGroupChat bool) error
}

// Replier sends failure notices back to a chat.
type Replier interface {
	SendText(ctx context.Context, msg domain.OutboundMessage) error
}

// Dispatcher routes classified updates to their handler. A failing or
// panicking handler is logged and, when the update has a chat to answer in,
// reported to the user; it never affects other updates.
//
// Handlers run on a worker pool shared by all batches, so a slow handler only
// holds its own worker while polling continues. Each update is cancelled once
// its deadline passes.
type Dispatcher struct {
	payments PaymentHandler
	voice    VoiceHandler
	replier  Replier
	deadline time.Duration
	logger   *logrus.Entry
	newID    func() string

	pool errgroup.Group
}

// NewDispatcher constructs a Dispatcher running at most workers updates at
// once, each bounded by deadline (no bound when deadline is zero).
func NewDispatcher(payments PaymentHandler, voice VoiceHandler, replier Replier, workers int, deadline time.Duration, logger *logrus.Entry) *Dispatcher {
	if logger == nil {
		logger = logging.Logger()
	}
	if workers <= 0 {
		workers = 1
	}

	d := &Dispatcher{
		payments: payments,
		voice:    voice,
		replier:  replier,
		deadline: deadline,
		logger:   logger,
		newID:    uuid.NewString,
	}
	d.pool.SetLimit(workers)
	return d
}

// DispatchBatch hands every envelope of a batch to the worker pool. It blocks
// only while all workers are busy and returns once the whole batch is
// scheduled, without waiting for the handlers.
func (d *Dispatcher) DispatchBatch(ctx context.Context, envelopes []domain.Envelope) {
	for _, env := range envelopes {
		env := env
		d.pool.Go(func() error {
			_ = d.Dispatch(ctx, env)
			return nil
		})
	}
}

// Wait blocks until every scheduled update has been handled.
func (d *Dispatcher) Wait() {
	_ = d.pool.Wait()
}

// Dispatch handles one envelope. The returned error has already been logged
// and answered; callers only use it for bookkeeping.
func (d *Dispatcher) Dispatch(ctx context.Context, env domain.Envelope) error {
	logCtx := logging.Context{
		UpdateID:   env.UpdateID,
		DispatchID: d.newID(),
		Kind:       env.Kind.String(),
	}
	if env.Message != nil {
		logCtx.ChatID = env.Message.Chat.ID
	}
	if env.PreCheckout != nil {
		logCtx.UserID = env.PreCheckout.From.ID
	}
	log := d.logger.WithFields(logCtx.Fields())

	metrics.UpdatesTotal.WithLabelValues(env.Kind.String()).Inc()

	handlerCtx, cancel := d.withDeadline(ctx)
	err := d.safeRoute(handlerCtx, env, log)
	deadlineHit := errors.Is(handlerCtx.Err(), context.DeadlineExceeded)
	cancel()
	if err == nil {
		return nil
	}

	metrics.DispatchFailuresTotal.WithLabelValues(env.Kind.String()).Inc()
	failure := log.WithField("event", "dispatch_failed")
	if deadlineHit {
		failure = log.WithFields(logging.Fields{
			"event":    "dispatch_deadline",
			"deadline": d.deadline.String(),
		})
	}
	failure.WithError(err).Error("update handling failed")

	d.reportFailure(ctx, env, err, log)
	return err
}

func (d *Dispatcher) withDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	if d.deadline <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d.deadline)
}

func (d *Dispatcher) safeRoute(ctx context.Context, env domain.Envelope, log *logrus.Entry) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.WithFields(logging.Fields{
				"event": "dispatch_panic",
				"stack": string(debug.Stack()),
			}).Error("handler panicked")
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()

	return d.route(ctx, env, log)
}

func (d *Dispatcher) route(ctx context.Context, env domain.Envelope, log *logrus.Entry) error {
	switch env.Kind {
	case domain.KindPreCheckout:
		return d.payments.AnswerPreCheckout(ctx, *env.PreCheckout)

	case domain.KindSuccessfulPayment:
		return d.payments.RecordSuccessfulPayment(ctx, *env.Message)

	case domain.KindBusinessMessage:
		return d.handleBusiness(ctx, *env.Message, log)

	case domain.KindGroupVoice:
		log.WithField("event", "group_voice").Info("handling voice in group chat")
		return d.voice.HandleVoice(ctx, *env.Message, true)

	case domain.KindPrivateVoice:
		return d.voice.HandleVoice(ctx, *env.Message, false)

	case domain.KindCommand:
		return d.handleCommand(ctx, env, log)

	case domain.KindOther:
		d.logMessage(*env.Message, log)
		return nil

	case domain.KindUnsupported:
		log.WithField("event", "update_unsupported").Debug("ignoring update without a consumable payload")
		return nil

	default:
		return fmt.Errorf("unknown update kind %d", env.Kind)
	}
}

func (d *Dispatcher) handleBusiness(ctx context.Context, msg domain.Message, log *logrus.Entry) error {
	direction := "incoming"
	userID := msg.Chat.ID
	name := msg.Chat.DisplayName()
	if msg.From != nil {
		userID = msg.From.ID
		name = msg.From.DisplayName()
	} else {
		direction = "outgoing"
	}

	log.WithFields(logging.Fields{
		"event":                  "business_message",
		"direction":              direction,
		"user_id":                userID,
		"username":               name,
		"business_connection_id": msg.BusinessConnectionID,
		"content_type":           msg.ContentType,
		"content":                MessageContent(msg),
	}).Info("business message received")

	if msg.ContentType != domain.ContentVoice {
		return nil
	}
	return d.voice.HandleVoice(ctx, msg, false)
}

func (d *Dispatcher) handleCommand(ctx context.Context, env domain.Envelope, log *logrus.Entry) error {
	msg := env.Message
	log.WithFields(logging.Fields{
		"event":   "command",
		"command": env.Command,
	}).Info("command received")

	switch env.Command {
	case domain.CommandPay:
		return d.payments.SendInvoice(ctx, msg.Chat.ID)
	case domain.CommandBalance:
		return d.payments.ReplyBalance(ctx, msg.Chat.ID, msg.Chat.ID, msg.BusinessConnectionID)
	default:
		return fmt.Errorf("unknown command %q", env.Command)
	}
}

func (d *Dispatcher) logMessage(msg domain.Message, log *logrus.Entry) {
	fields := logging.Fields{
		"event":        "message_received",
		"chat_type":    msg.Chat.Type,
		"content_type": msg.ContentType,
		"content":      MessageContent(msg),
	}
	if msg.From != nil {
		fields["user_id"] = msg.From.ID
		fields["username"] = msg.From.DisplayName()
	}

	log.WithFields(fields).Info("message received")
}

func (d *Dispatcher) reportFailure(ctx context.Context, env domain.Envelope, err error, log *logrus.Entry) {
	if env.Message == nil || d.replier == nil {
		return
	}

	text := genericFailureText
	var replyErr *domain.ReplyError
	if errors.As(err, &replyErr) && replyErr.Reply != "" {
		text = replyErr.Reply
	}

	reply := domain.OutboundMessage{
		ChatID:               env.Message.Chat.ID,
		Text:                 text,
		BusinessConnectionID: env.Message.BusinessConnectionID,
	}

	// The handler's deadline may be spent; the notice gets its own window.
	replyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failureReplyWindow)
	defer cancel()
	if sendErr := d.replier.SendText(replyCtx, reply); sendErr != nil {
		log.WithField("event", "failure_reply_error").WithError(sendErr).Warn("could not send failure reply")
	}
}
