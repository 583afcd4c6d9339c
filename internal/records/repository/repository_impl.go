package repository

import (
	"context"

	"github.com/smallbiznis/hookrelay/internal/records/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Records {
	return &repo{}
}

func (r *repo) UpsertPayment(ctx context.Context, db *gorm.DB, p domain.Payment) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO payments (id, order_id, status, amount, currency, method, raw, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
			order_id = excluded.order_id,
			status = excluded.status,
			amount = excluded.amount,
			currency = excluded.currency,
			method = excluded.method,
			raw = excluded.raw,
			updated_at = excluded.updated_at`,
		p.ID, p.OrderID, p.Status, p.Amount, p.Currency, p.Method, p.Raw, p.UpdatedAt,
	).Error
}

func (r *repo) UpsertOrder(ctx context.Context, db *gorm.DB, o domain.Order) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO orders (id, status, amount, currency, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
			status = excluded.status,
			amount = excluded.amount,
			currency = excluded.currency,
			updated_at = excluded.updated_at`,
		o.ID, o.Status, o.Amount, o.Currency, o.UpdatedAt,
	).Error
}

func (r *repo) UpsertRefund(ctx context.Context, db *gorm.DB, refund domain.Refund) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO refunds (id, payment_id, status, amount, speed, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
			payment_id = excluded.payment_id,
			status = excluded.status,
			amount = excluded.amount,
			speed = excluded.speed,
			updated_at = excluded.updated_at`,
		refund.ID, refund.PaymentID, refund.Status, refund.Amount, refund.Speed, refund.UpdatedAt,
	).Error
}

func (r *repo) UpsertDispute(ctx context.Context, db *gorm.DB, d domain.Dispute) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO disputes (id, payment_id, status, phase, amount, raw, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
			payment_id = excluded.payment_id,
			status = excluded.status,
			phase = excluded.phase,
			amount = excluded.amount,
			raw = excluded.raw,
			updated_at = excluded.updated_at`,
		d.ID, d.PaymentID, d.Status, d.Phase, d.Amount, d.Raw, d.UpdatedAt,
	).Error
}

func (r *repo) UpsertInvoice(ctx context.Context, db *gorm.DB, i domain.Invoice) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO invoices (id, status, amount_paid, payment_id, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
			status = excluded.status,
			amount_paid = excluded.amount_paid,
			payment_id = excluded.payment_id,
			updated_at = excluded.updated_at`,
		i.ID, i.Status, i.AmountPaid, i.PaymentID, i.UpdatedAt,
	).Error
}

func (r *repo) UpsertPaymentLink(ctx context.Context, db *gorm.DB, l domain.PaymentLink) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO payment_links (id, status, amount_paid, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
			status = excluded.status,
			amount_paid = excluded.amount_paid,
			updated_at = excluded.updated_at`,
		l.ID, l.Status, l.AmountPaid, l.UpdatedAt,
	).Error
}

func (r *repo) UpsertAccount(ctx context.Context, db *gorm.DB, a domain.Account) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO accounts (id, status, funds_held, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
			status = excluded.status,
			updated_at = excluded.updated_at`,
		a.ID, a.Status, a.FundsHeld, a.UpdatedAt,
	).Error
}

func (r *repo) SetAccountFundsHeld(ctx context.Context, db *gorm.DB, accountID string, held bool) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO accounts (id, status, funds_held, updated_at)
		 VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT (id) DO UPDATE SET
			funds_held = excluded.funds_held,
			updated_at = excluded.updated_at`,
		accountID, "active", held,
	).Error
}

func (r *repo) UpsertFundAccountValidation(ctx context.Context, db *gorm.DB, v domain.FundAccountValidation) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO fund_account_validations (id, fund_account_id, status, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
			fund_account_id = excluded.fund_account_id,
			status = excluded.status,
			updated_at = excluded.updated_at`,
		v.ID, v.FundAccountID, v.Status, v.UpdatedAt,
	).Error
}

func (r *repo) UpsertDowntime(ctx context.Context, db *gorm.DB, d domain.Downtime) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO downtimes (id, method, status, severity, began_at, resolved_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
			method = excluded.method,
			status = excluded.status,
			severity = excluded.severity,
			began_at = COALESCE(excluded.began_at, downtimes.began_at),
			resolved_at = COALESCE(excluded.resolved_at, downtimes.resolved_at),
			updated_at = excluded.updated_at`,
		d.ID, d.Method, d.Status, d.Severity, d.BeganAt, d.ResolvedAt, d.UpdatedAt,
	).Error
}

func (r *repo) FindPayment(ctx context.Context, db *gorm.DB, id string) (*domain.Payment, error) {
	var item domain.Payment
	err := db.WithContext(ctx).Raw(
		`SELECT id, order_id, status, amount, currency, method, raw, updated_at
		 FROM payments WHERE id = ? LIMIT 1`, id,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == "" {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) FindDispute(ctx context.Context, db *gorm.DB, id string) (*domain.Dispute, error) {
	var item domain.Dispute
	err := db.WithContext(ctx).Raw(
		`SELECT id, payment_id, status, phase, amount, raw, updated_at
		 FROM disputes WHERE id = ? LIMIT 1`, id,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == "" {
		return nil, nil
	}
	return &item, nil
}
