package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const paymentsSequence = "payments"

type paymentCollection interface {
	InsertOne(ctx context.Context, document interface{}, opts ...*options.InsertOneOptions) (*mongo.InsertOneResult, error)
	FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) *mongo.SingleResult
	Aggregate(ctx context.Context, pipeline interface{}, opts ...*options.AggregateOptions) (*mongo.Cursor, error)
}

type counterCollection interface {
	FindOneAndUpdate(ctx context.Context, filter interface{}, update interface{}, opts ...*options.FindOneAndUpdateOptions) *mongo.SingleResult
}

// PaymentRepository persists payments in MongoDB. Uniqueness of charge_id is
// enforced by the collection index created in store.Manager.
type PaymentRepository struct {
	payments paymentCollection
	counters counterCollection
	now      func() time.Time
}

// NewPaymentRepository constructs a PaymentRepository.
func NewPaymentRepository(payments paymentCollection, counters counterCollection) *PaymentRepository {
	return &PaymentRepository{
		payments: payments,
		counters: counters,
		now:      time.Now,
	}
}

// Create assigns the next sequence id and insert timestamp, then inserts the
// payment. A second insert for the same charge id yields ErrDuplicateCharge.
func (r *PaymentRepository) Create(ctx context.Context, payment Payment) (Payment, error) {
	if r == nil || r.payments == nil || r.counters == nil {
		return Payment{}, errors.New("payment repository is not initialized")
	}
	if ctx == nil {
		return Payment{}, errors.New("context is required")
	}
	if payment.ChargeID == "" {
		return Payment{}, errors.New("charge_id is required")
	}

	seq, err := r.nextSequence(ctx)
	if err != nil {
		return Payment{}, err
	}

	payment.ID = seq
	payment.Timestamp = r.now().UTC().Truncate(time.Millisecond)

	if _, err := r.payments.InsertOne(ctx, payment); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return Payment{}, ErrDuplicateCharge
		}
		return Payment{}, fmt.Errorf("insert payment: %w", err)
	}

	return payment, nil
}

// GetByChargeID fetches a payment by its platform charge id.
func (r *PaymentRepository) GetByChargeID(ctx context.Context, chargeID string) (Payment, error) {
	if r == nil || r.payments == nil {
		return Payment{}, errors.New("payment repository is not initialized")
	}
	if ctx == nil {
		return Payment{}, errors.New("context is required")
	}

	result := r.payments.FindOne(ctx, bson.M{"charge_id": chargeID})
	if result == nil {
		return Payment{}, errors.New("find payment returned no result")
	}
	if err := result.Err(); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return Payment{}, ErrPaymentNotFound
		}
		return Payment{}, fmt.Errorf("find payment: %w", err)
	}

	var payment Payment
	if err := result.Decode(&payment); err != nil {
		return Payment{}, fmt.Errorf("decode payment: %w", err)
	}

	return payment, nil
}

// SumByUserID returns the total amount paid by a user, 0 when nothing is recorded.
func (r *PaymentRepository) SumByUserID(ctx context.Context, userID int64) (int64, error) {
	if r == nil || r.payments == nil {
		return 0, errors.New("payment repository is not initialized")
	}
	if ctx == nil {
		return 0, errors.New("context is required")
	}

	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.D{{Key: "user_id", Value: userID}}}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: nil},
			{Key: "total", Value: bson.D{{Key: "$sum", Value: "$amount"}}},
		}}},
	}

	cursor, err := r.payments.Aggregate(ctx, pipeline)
	if err != nil {
		return 0, fmt.Errorf("aggregate balance: %w", err)
	}
	defer cursor.Close(ctx)

	if !cursor.Next(ctx) {
		if err := cursor.Err(); err != nil {
			return 0, fmt.Errorf("read balance: %w", err)
		}
		return 0, nil
	}

	var row struct {
		Total int64 `bson:"total"`
	}
	if err := cursor.Decode(&row); err != nil {
		return 0, fmt.Errorf("decode balance: %w", err)
	}

	return row.Total, nil
}

func (r *PaymentRepository) nextSequence(ctx context.Context) (int64, error) {
	result := r.counters.FindOneAndUpdate(ctx,
		bson.M{"_id": paymentsSequence},
		bson.M{"$inc": bson.M{"seq": int64(1)}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	)
	if result == nil {
		return 0, errors.New("sequence update returned no result")
	}

	var counter struct {
		Seq int64 `bson:"seq"`
	}
	if err := result.Decode(&counter); err != nil {
		return 0, fmt.Errorf("next payment sequence: %w", err)
	}

	return counter.Seq, nil
}
