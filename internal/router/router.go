package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/smallbiznis/hookrelay/internal/breaker"
	"github.com/smallbiznis/hookrelay/internal/clock"
	evdomain "github.com/smallbiznis/hookrelay/internal/event/domain"
	"github.com/smallbiznis/hookrelay/internal/gateway"
	"github.com/smallbiznis/hookrelay/internal/observability/metrics"
	recdomain "github.com/smallbiznis/hookrelay/internal/records/domain"
)

// ErrMissingEntity means the payload lacked the entity object its event type
// promises. The job retries in case the gateway resends a complete payload,
// then lands in the failed list for inspection.
var ErrMissingEntity = errors.New("payload missing entity")

// SessionInvalidator revokes every session belonging to one account.
type SessionInvalidator interface {
	InvalidateAllSessions(ctx context.Context, accountID string) error
}

// Router dispatches a parsed webhook event to its typed handler. Handlers
// write idempotent upserts so redelivery and replay converge on the same row
// state.
type Router struct {
	db       *gorm.DB
	records  recdomain.Records
	gateway  gateway.Client
	sessions SessionInvalidator
	breaker  *breaker.Breaker
	clock    clock.Clock
	log      *zap.Logger
	metrics  *metrics.PipelineMetrics
}

func New(
	db *gorm.DB,
	records recdomain.Records,
	gw gateway.Client,
	sessions SessionInvalidator,
	dbBreaker *breaker.Breaker,
	clk clock.Clock,
	log *zap.Logger,
) *Router {
	return &Router{
		db:       db,
		records:  records,
		gateway:  gw,
		sessions: sessions,
		breaker:  dbBreaker,
		clock:    clk,
		log:      log.Named("router"),
		metrics:  metrics.Pipeline(),
	}
}

// Route handles one event. Unknown event types are logged and absorbed so a
// gateway rollout of a new type never wedges the queue.
func (r *Router) Route(ctx context.Context, eventType string, payload json.RawMessage) error {
	class := evdomain.ParseEventType(eventType)
	if class == evdomain.ClassUnknown {
		r.metrics.IncEventUnknown()
		r.log.Warn("unhandled event type", zap.String("event_type", eventType))
		return nil
	}

	var body map[string]interface{}
	if err := json.Unmarshal(payload, &body); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	entity, err := entityFromPayload(body, class.EntityKey())
	if err != nil {
		return fmt.Errorf("%s: %w", eventType, err)
	}

	if err := r.dispatch(ctx, class, entity); err != nil {
		return err
	}
	r.metrics.IncEventProcessed(eventType)
	return nil
}

func (r *Router) dispatch(ctx context.Context, class evdomain.EventClass, entity map[string]interface{}) error {
	switch class {
	case evdomain.ClassPaymentAuthorized:
		return r.paymentStatus(ctx, entity, "authorized")
	case evdomain.ClassPaymentCaptured:
		return r.paymentCaptured(ctx, entity)
	case evdomain.ClassPaymentFailed:
		return r.paymentStatus(ctx, entity, "failed")

	case evdomain.ClassOrderPaid:
		return r.orderPaid(ctx, entity)

	case evdomain.ClassRefundCreated:
		return r.refundStatus(ctx, entity, "created")
	case evdomain.ClassRefundProcessed:
		return r.refundStatus(ctx, entity, "processed")
	case evdomain.ClassRefundFailed:
		return r.refundStatus(ctx, entity, "failed")
	case evdomain.ClassRefundSpeedChanged:
		return r.refundSpeedChanged(ctx, entity)

	case evdomain.ClassDisputeCreated:
		return r.disputeStatus(ctx, entity, "open")
	case evdomain.ClassDisputeWon:
		return r.disputeStatus(ctx, entity, "won")
	case evdomain.ClassDisputeLost:
		return r.disputeStatus(ctx, entity, "lost")
	case evdomain.ClassDisputeClosed:
		return r.disputeStatus(ctx, entity, "closed")
	case evdomain.ClassDisputeUnderReview:
		return r.disputeStatus(ctx, entity, "under_review")

	case evdomain.ClassDowntimeStarted:
		return r.downtimeStarted(ctx, entity)
	case evdomain.ClassDowntimeUpdated:
		return r.downtimeUpdated(ctx, entity)
	case evdomain.ClassDowntimeResolved:
		return r.downtimeResolved(ctx, entity)

	case evdomain.ClassInvoicePaid:
		return r.invoiceStatus(ctx, entity, "paid")
	case evdomain.ClassInvoicePartiallyPaid:
		return r.invoiceStatus(ctx, entity, "partially_paid")
	case evdomain.ClassInvoiceExpired:
		return r.invoiceStatus(ctx, entity, "expired")

	case evdomain.ClassPaymentLinkPaid:
		return r.paymentLinkStatus(ctx, entity, "paid")
	case evdomain.ClassPaymentLinkPartiallyPaid:
		return r.paymentLinkStatus(ctx, entity, "partially_paid")
	case evdomain.ClassPaymentLinkExpired:
		return r.paymentLinkStatus(ctx, entity, "expired")
	case evdomain.ClassPaymentLinkCancelled:
		return r.paymentLinkStatus(ctx, entity, "cancelled")

	case evdomain.ClassAccountActivated:
		return r.accountStatus(ctx, entity, "activated")
	case evdomain.ClassAccountSuspended:
		return r.accountSuspended(ctx, entity)
	case evdomain.ClassAccountFundsHold:
		return r.accountFunds(ctx, entity, true)
	case evdomain.ClassAccountFundsUnhold:
		return r.accountFunds(ctx, entity, false)

	case evdomain.ClassFundAccountValidationCompleted:
		return r.fundAccountValidation(ctx, entity, "completed")
	case evdomain.ClassFundAccountValidationFailed:
		return r.fundAccountValidation(ctx, entity, "failed")
	}
	return nil
}

// write funnels every handler mutation through the database breaker.
func (r *Router) write(ctx context.Context, op func(ctx context.Context) error) error {
	return r.breaker.Execute(ctx, op)
}

func (r *Router) paymentStatus(ctx context.Context, entity map[string]interface{}, status string) error {
	p, err := paymentFromEntity(entity, status, r.clock)
	if err != nil {
		return err
	}
	return r.write(ctx, func(ctx context.Context) error {
		return r.records.UpsertPayment(ctx, r.db, p)
	})
}

// paymentCaptured settles the payment and marks its order paid in the same
// pass, so a dropped order.paid webhook cannot leave the order unpaid.
func (r *Router) paymentCaptured(ctx context.Context, entity map[string]interface{}) error {
	p, err := paymentFromEntity(entity, "captured", r.clock)
	if err != nil {
		return err
	}
	if p.OrderID == "" {
		// Sparse payloads happen; the gateway API has the full record.
		r.reconcilePayment(ctx, &p)
	}
	return r.write(ctx, func(ctx context.Context) error {
		if err := r.records.UpsertPayment(ctx, r.db, p); err != nil {
			return err
		}
		if p.OrderID == "" {
			return nil
		}
		return r.records.UpsertOrder(ctx, r.db, recdomain.Order{
			ID:        p.OrderID,
			Status:    "paid",
			Amount:    p.Amount,
			Currency:  p.Currency,
			UpdatedAt: r.clock.Now(),
		})
	})
}

// reconcilePayment backfills missing payment fields, first from a previously
// stored row, then from the gateway API.
// Best effort: an open breaker or upstream miss leaves the payload as-is.
func (r *Router) reconcilePayment(ctx context.Context, p *recdomain.Payment) {
	if prior, err := r.records.FindPayment(ctx, r.db, p.ID); err == nil && prior != nil {
		if p.OrderID == "" {
			p.OrderID = prior.OrderID
		}
		if p.Amount == 0 {
			p.Amount = prior.Amount
		}
		if p.Currency == "" {
			p.Currency = prior.Currency
		}
		if p.OrderID != "" {
			return
		}
	}
	remote, err := r.gateway.FetchEntity(ctx, "payment", p.ID)
	if err != nil {
		r.log.Warn("payment reconcile skipped",
			zap.String("payment_id", p.ID),
			zap.Error(err),
		)
		return
	}
	if p.OrderID == "" {
		p.OrderID = str(remote, "order_id")
	}
	if p.Amount == 0 {
		p.Amount = num(remote, "amount")
	}
	if p.Currency == "" {
		p.Currency = str(remote, "currency")
	}
}

func (r *Router) orderPaid(ctx context.Context, entity map[string]interface{}) error {
	id := str(entity, "id")
	if id == "" {
		return ErrMissingEntity
	}
	return r.write(ctx, func(ctx context.Context) error {
		return r.records.UpsertOrder(ctx, r.db, recdomain.Order{
			ID:        id,
			Status:    "paid",
			Amount:    num(entity, "amount_paid"),
			Currency:  str(entity, "currency"),
			UpdatedAt: r.clock.Now(),
		})
	})
}

func (r *Router) refundStatus(ctx context.Context, entity map[string]interface{}, status string) error {
	id := str(entity, "id")
	if id == "" {
		return ErrMissingEntity
	}
	return r.write(ctx, func(ctx context.Context) error {
		return r.records.UpsertRefund(ctx, r.db, recdomain.Refund{
			ID:        id,
			PaymentID: str(entity, "payment_id"),
			Status:    status,
			Amount:    num(entity, "amount"),
			Speed:     str(entity, "speed_processed"),
			UpdatedAt: r.clock.Now(),
		})
	})
}

func (r *Router) refundSpeedChanged(ctx context.Context, entity map[string]interface{}) error {
	id := str(entity, "id")
	if id == "" {
		return ErrMissingEntity
	}
	status := str(entity, "status")
	if status == "" {
		status = "created"
	}
	return r.write(ctx, func(ctx context.Context) error {
		return r.records.UpsertRefund(ctx, r.db, recdomain.Refund{
			ID:        id,
			PaymentID: str(entity, "payment_id"),
			Status:    status,
			Amount:    num(entity, "amount"),
			Speed:     str(entity, "speed_processed"),
			UpdatedAt: r.clock.Now(),
		})
	})
}

func (r *Router) disputeStatus(ctx context.Context, entity map[string]interface{}, status string) error {
	id := str(entity, "id")
	if id == "" {
		return ErrMissingEntity
	}
	raw, _ := json.Marshal(entity)
	d := recdomain.Dispute{
		ID:        id,
		PaymentID: str(entity, "payment_id"),
		Status:    status,
		Phase:     str(entity, "phase"),
		Amount:    num(entity, "amount"),
		Raw:       raw,
		UpdatedAt: r.clock.Now(),
	}
	if d.PaymentID == "" || d.Amount == 0 {
		// Lifecycle payloads can be sparse; the row written at creation has
		// the full dispute.
		if prior, err := r.records.FindDispute(ctx, r.db, id); err == nil && prior != nil {
			if d.PaymentID == "" {
				d.PaymentID = prior.PaymentID
			}
			if d.Amount == 0 {
				d.Amount = prior.Amount
			}
			if d.Phase == "" {
				d.Phase = prior.Phase
			}
		}
	}
	return r.write(ctx, func(ctx context.Context) error {
		return r.records.UpsertDispute(ctx, r.db, d)
	})
}

func (r *Router) downtimeStarted(ctx context.Context, entity map[string]interface{}) error {
	id := str(entity, "id")
	if id == "" {
		return ErrMissingEntity
	}
	now := r.clock.Now()
	return r.write(ctx, func(ctx context.Context) error {
		return r.records.UpsertDowntime(ctx, r.db, recdomain.Downtime{
			ID:        id,
			Method:    str(entity, "method"),
			Status:    "started",
			Severity:  str(entity, "severity"),
			BeganAt:   &now,
			UpdatedAt: now,
		})
	})
}

func (r *Router) downtimeUpdated(ctx context.Context, entity map[string]interface{}) error {
	id := str(entity, "id")
	if id == "" {
		return ErrMissingEntity
	}
	return r.write(ctx, func(ctx context.Context) error {
		return r.records.UpsertDowntime(ctx, r.db, recdomain.Downtime{
			ID:        id,
			Method:    str(entity, "method"),
			Status:    "started",
			Severity:  str(entity, "severity"),
			UpdatedAt: r.clock.Now(),
		})
	})
}

func (r *Router) downtimeResolved(ctx context.Context, entity map[string]interface{}) error {
	id := str(entity, "id")
	if id == "" {
		return ErrMissingEntity
	}
	now := r.clock.Now()
	return r.write(ctx, func(ctx context.Context) error {
		return r.records.UpsertDowntime(ctx, r.db, recdomain.Downtime{
			ID:         id,
			Method:     str(entity, "method"),
			Status:     "resolved",
			Severity:   str(entity, "severity"),
			ResolvedAt: &now,
			UpdatedAt:  now,
		})
	})
}

func (r *Router) invoiceStatus(ctx context.Context, entity map[string]interface{}, status string) error {
	id := str(entity, "id")
	if id == "" {
		return ErrMissingEntity
	}
	return r.write(ctx, func(ctx context.Context) error {
		return r.records.UpsertInvoice(ctx, r.db, recdomain.Invoice{
			ID:         id,
			Status:     status,
			AmountPaid: num(entity, "amount_paid"),
			PaymentID:  str(entity, "payment_id"),
			UpdatedAt:  r.clock.Now(),
		})
	})
}

func (r *Router) paymentLinkStatus(ctx context.Context, entity map[string]interface{}, status string) error {
	id := str(entity, "id")
	if id == "" {
		return ErrMissingEntity
	}
	return r.write(ctx, func(ctx context.Context) error {
		return r.records.UpsertPaymentLink(ctx, r.db, recdomain.PaymentLink{
			ID:         id,
			Status:     status,
			AmountPaid: num(entity, "amount_paid"),
			UpdatedAt:  r.clock.Now(),
		})
	})
}

func (r *Router) accountStatus(ctx context.Context, entity map[string]interface{}, status string) error {
	id := str(entity, "id")
	if id == "" {
		return ErrMissingEntity
	}
	return r.write(ctx, func(ctx context.Context) error {
		return r.records.UpsertAccount(ctx, r.db, recdomain.Account{
			ID:        id,
			Status:    status,
			UpdatedAt: r.clock.Now(),
		})
	})
}

// accountSuspended also revokes the account's sessions. The revocation write
// is fail-closed: if it cannot be recorded the job retries.
func (r *Router) accountSuspended(ctx context.Context, entity map[string]interface{}) error {
	id := str(entity, "id")
	if id == "" {
		return ErrMissingEntity
	}
	if err := r.accountStatus(ctx, entity, "suspended"); err != nil {
		return err
	}
	if err := r.sessions.InvalidateAllSessions(ctx, id); err != nil {
		return fmt.Errorf("invalidate sessions for %s: %w", id, err)
	}
	return nil
}

func (r *Router) accountFunds(ctx context.Context, entity map[string]interface{}, held bool) error {
	id := str(entity, "id")
	if id == "" {
		return ErrMissingEntity
	}
	return r.write(ctx, func(ctx context.Context) error {
		return r.records.SetAccountFundsHeld(ctx, r.db, id, held)
	})
}

func (r *Router) fundAccountValidation(ctx context.Context, entity map[string]interface{}, status string) error {
	id := str(entity, "id")
	if id == "" {
		return ErrMissingEntity
	}
	return r.write(ctx, func(ctx context.Context) error {
		return r.records.UpsertFundAccountValidation(ctx, r.db, recdomain.FundAccountValidation{
			ID:            id,
			FundAccountID: str(entity, "fund_account_id"),
			Status:        status,
			UpdatedAt:     r.clock.Now(),
		})
	})
}

func paymentFromEntity(entity map[string]interface{}, status string, clk clock.Clock) (recdomain.Payment, error) {
	id := str(entity, "id")
	if id == "" {
		return recdomain.Payment{}, ErrMissingEntity
	}
	raw, _ := json.Marshal(entity)
	return recdomain.Payment{
		ID:        id,
		OrderID:   str(entity, "order_id"),
		Status:    status,
		Amount:    num(entity, "amount"),
		Currency:  str(entity, "currency"),
		Method:    str(entity, "method"),
		Raw:       raw,
		UpdatedAt: clk.Now(),
	}, nil
}

// entityFromPayload digs payload[key].entity out of the gateway envelope.
func entityFromPayload(payload map[string]interface{}, key string) (map[string]interface{}, error) {
	wrapper, ok := payload[key].(map[string]interface{})
	if !ok {
		return nil, ErrMissingEntity
	}
	entity, ok := wrapper["entity"].(map[string]interface{})
	if !ok {
		return nil, ErrMissingEntity
	}
	return entity, nil
}

func str(m map[string]interface{}, key string) string {
	s, _ := m[key].(string)
	return s
}

func num(m map[string]interface{}, key string) int64 {
	switch v := m[key].(type) {
	case float64:
		return int64(v)
	case json.Number:
		n, _ := v.Int64()
		return n
	case int64:
		return v
	default:
		return 0
	}
}
