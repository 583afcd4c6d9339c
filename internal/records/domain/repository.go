package domain

import (
	"context"

	"gorm.io/gorm"
)

// Records is the store the event handlers mutate. Implementations must make
// every Upsert idempotent.
type Records interface {
	UpsertPayment(ctx context.Context, db *gorm.DB, p Payment) error
	UpsertOrder(ctx context.Context, db *gorm.DB, o Order) error
	UpsertRefund(ctx context.Context, db *gorm.DB, r Refund) error
	UpsertDispute(ctx context.Context, db *gorm.DB, d Dispute) error
	UpsertInvoice(ctx context.Context, db *gorm.DB, i Invoice) error
	UpsertPaymentLink(ctx context.Context, db *gorm.DB, l PaymentLink) error
	UpsertAccount(ctx context.Context, db *gorm.DB, a Account) error
	SetAccountFundsHeld(ctx context.Context, db *gorm.DB, accountID string, held bool) error
	UpsertFundAccountValidation(ctx context.Context, db *gorm.DB, v FundAccountValidation) error
	UpsertDowntime(ctx context.Context, db *gorm.DB, d Downtime) error

	FindPayment(ctx context.Context, db *gorm.DB, id string) (*Payment, error)
	FindDispute(ctx context.Context, db *gorm.DB, id string) (*Dispute, error)
}
