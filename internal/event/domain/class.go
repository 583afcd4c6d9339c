package domain

// EventClass enumerates every gateway webhook event type the pipeline
// understands. Unmapped type strings parse to ClassUnknown, which the router
// deliberately treats as processed so a new gateway event type can never
// poison the queue.
type EventClass int

const (
	ClassUnknown EventClass = iota

	ClassPaymentAuthorized
	ClassPaymentCaptured
	ClassPaymentFailed

	ClassOrderPaid

	ClassRefundCreated
	ClassRefundProcessed
	ClassRefundFailed
	ClassRefundSpeedChanged

	ClassDisputeCreated
	ClassDisputeWon
	ClassDisputeLost
	ClassDisputeClosed
	ClassDisputeUnderReview

	ClassDowntimeStarted
	ClassDowntimeUpdated
	ClassDowntimeResolved

	ClassInvoicePaid
	ClassInvoicePartiallyPaid
	ClassInvoiceExpired

	ClassPaymentLinkPaid
	ClassPaymentLinkPartiallyPaid
	ClassPaymentLinkExpired
	ClassPaymentLinkCancelled

	ClassAccountActivated
	ClassAccountSuspended
	ClassAccountFundsHold
	ClassAccountFundsUnhold

	ClassFundAccountValidationCompleted
	ClassFundAccountValidationFailed
)

// Job priorities, lower is more urgent. Disputes and gateway downtime carry
// deadlines measured in hours; core payment traffic is high-volume and
// tolerant of small queueing delay.
const (
	PriorityUrgent   = 1
	PriorityElevated = 3
	PriorityNormal   = 5
	PriorityDefault  = 10
)

var classByType = map[string]EventClass{
	"payment.authorized": ClassPaymentAuthorized,
	"payment.captured":   ClassPaymentCaptured,
	"payment.failed":     ClassPaymentFailed,

	"order.paid": ClassOrderPaid,

	"refund.created":       ClassRefundCreated,
	"refund.processed":     ClassRefundProcessed,
	"refund.failed":        ClassRefundFailed,
	"refund.speed_changed": ClassRefundSpeedChanged,

	"payment.dispute.created":      ClassDisputeCreated,
	"payment.dispute.won":          ClassDisputeWon,
	"payment.dispute.lost":         ClassDisputeLost,
	"payment.dispute.closed":       ClassDisputeClosed,
	"payment.dispute.under_review": ClassDisputeUnderReview,

	"payment.downtime.started":  ClassDowntimeStarted,
	"payment.downtime.updated":  ClassDowntimeUpdated,
	"payment.downtime.resolved": ClassDowntimeResolved,

	"invoice.paid":           ClassInvoicePaid,
	"invoice.partially_paid": ClassInvoicePartiallyPaid,
	"invoice.expired":        ClassInvoiceExpired,

	"payment_link.paid":           ClassPaymentLinkPaid,
	"payment_link.partially_paid": ClassPaymentLinkPartiallyPaid,
	"payment_link.expired":        ClassPaymentLinkExpired,
	"payment_link.cancelled":      ClassPaymentLinkCancelled,

	"account.activated":    ClassAccountActivated,
	"account.suspended":    ClassAccountSuspended,
	"account.funds_hold":   ClassAccountFundsHold,
	"account.funds_unhold": ClassAccountFundsUnhold,

	"fund_account.validation.completed": ClassFundAccountValidationCompleted,
	"fund_account.validation.failed":    ClassFundAccountValidationFailed,
}

var typeByClass = func() map[EventClass]string {
	out := make(map[EventClass]string, len(classByType))
	for t, c := range classByType {
		out[c] = t
	}
	return out
}()

// ParseEventType maps the gateway's dotted type string to its class.
func ParseEventType(eventType string) EventClass {
	if c, ok := classByType[eventType]; ok {
		return c
	}
	return ClassUnknown
}

func (c EventClass) String() string {
	if t, ok := typeByClass[c]; ok {
		return t
	}
	return "unknown"
}

// Priority returns the job priority for the event's class family.
func (c EventClass) Priority() int {
	switch c {
	case ClassDisputeCreated, ClassDisputeWon, ClassDisputeLost, ClassDisputeClosed, ClassDisputeUnderReview,
		ClassDowntimeStarted, ClassDowntimeUpdated, ClassDowntimeResolved:
		return PriorityUrgent
	case ClassAccountActivated, ClassAccountSuspended, ClassAccountFundsHold, ClassAccountFundsUnhold,
		ClassFundAccountValidationCompleted, ClassFundAccountValidationFailed:
		return PriorityElevated
	case ClassInvoicePaid, ClassInvoicePartiallyPaid, ClassInvoiceExpired,
		ClassPaymentLinkPaid, ClassPaymentLinkPartiallyPaid, ClassPaymentLinkExpired, ClassPaymentLinkCancelled:
		return PriorityNormal
	default:
		return PriorityDefault
	}
}

// EntityKey names the payload sub-object carrying the event's entity.
func (c EventClass) EntityKey() string {
	switch c {
	case ClassPaymentAuthorized, ClassPaymentCaptured, ClassPaymentFailed:
		return "payment"
	case ClassOrderPaid:
		return "order"
	case ClassRefundCreated, ClassRefundProcessed, ClassRefundFailed, ClassRefundSpeedChanged:
		return "refund"
	case ClassDisputeCreated, ClassDisputeWon, ClassDisputeLost, ClassDisputeClosed, ClassDisputeUnderReview:
		return "dispute"
	case ClassDowntimeStarted, ClassDowntimeUpdated, ClassDowntimeResolved:
		return "downtime"
	case ClassInvoicePaid, ClassInvoicePartiallyPaid, ClassInvoiceExpired:
		return "invoice"
	case ClassPaymentLinkPaid, ClassPaymentLinkPartiallyPaid, ClassPaymentLinkExpired, ClassPaymentLinkCancelled:
		return "payment_link"
	case ClassAccountActivated, ClassAccountSuspended, ClassAccountFundsHold, ClassAccountFundsUnhold:
		return "account"
	case ClassFundAccountValidationCompleted, ClassFundAccountValidationFailed:
		return "fund_account"
	default:
		return ""
	}
}
