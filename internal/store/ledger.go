package store

import (
	"context"
	"fmt"

	"voice_scribe_bot/internal/config"
	"voice_scribe_bot/internal/domain"
)

// Ledger is the append-only payment record store. Implementations reject a
// second record for the same charge id with domain.ErrDuplicateCharge.
type Ledger interface {
	RecordPayment(ctx context.Context, userID int64, chargeID string, amount int64, currency string) error
	GetPayment(ctx context.Context, chargeID string) (domain.Payment, error)
	GetUserBalance(ctx context.Context, userID int64) (int64, error)
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// Open returns the ledger backend selected by LEDGER_DRIVER.
func Open(ctx context.Context, cfg config.Config) (Ledger, error) {
	switch cfg.LedgerDriver {
	case config.LedgerMongo:
		return OpenMongoLedger(ctx, cfg)
	case config.LedgerSQLite, "":
		return OpenSQLite(ctx, cfg.LedgerPath)
	default:
		return nil, fmt.Errorf("unknown ledger driver %q", cfg.LedgerDriver)
	}
}

// MongoLedger stores payments through domain.PaymentRepository.
type MongoLedger struct {
	manager *Manager
	repo    *domain.PaymentRepository
}

// OpenMongoLedger connects, ensures indexes and wires the repository.
func OpenMongoLedger(ctx context.Context, cfg config.Config) (*MongoLedger, error) {
	manager, err := NewManager(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if err := manager.EnsureBaseIndexes(ctx); err != nil {
		_ = manager.Close(ctx)
		return nil, err
	}

	return &MongoLedger{
		manager: manager,
		repo:    domain.NewPaymentRepository(manager.Payments(), manager.Counters()),
	}, nil
}

func (l *MongoLedger) RecordPayment(ctx context.Context, userID int64, chargeID string, amount int64, currency string) error {
	_, err := l.repo.Create(ctx, domain.Payment{
		UserID:   userID,
		ChargeID: chargeID,
		Amount:   amount,
		Currency: currency,
	})
	return err
}

func (l *MongoLedger) GetPayment(ctx context.Context, chargeID string) (domain.Payment, error) {
	return l.repo.GetByChargeID(ctx, chargeID)
}

func (l *MongoLedger) GetUserBalance(ctx context.Context, userID int64) (int64, error) {
	return l.repo.SumByUserID(ctx, userID)
}

func (l *MongoLedger) Ping(ctx context.Context) error {
	return l.manager.Ping(ctx)
}

func (l *MongoLedger) Close(ctx context.Context) error {
	return l.manager.Close(ctx)
}
