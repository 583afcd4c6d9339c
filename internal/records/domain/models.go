package domain

import (
	"time"

	"gorm.io/datatypes"
)

// Entity rows keyed by gateway-issued ids. Every write is an idempotent
// upsert: replaying a webhook converges on the same row state.

type Payment struct {
	ID        string         `json:"id" gorm:"primaryKey;type:text"`
	OrderID   string         `json:"order_id" gorm:"type:text;index"`
	Status    string         `json:"status" gorm:"type:text;not null"`
	Amount    int64          `json:"amount"`
	Currency  string         `json:"currency" gorm:"type:text"`
	Method    string         `json:"method" gorm:"type:text"`
	Raw       datatypes.JSON `json:"raw"`
	UpdatedAt time.Time      `json:"updated_at" gorm:"not null"`
}

func (Payment) TableName() string { return "payments" }

type Order struct {
	ID        string    `json:"id" gorm:"primaryKey;type:text"`
	Status    string    `json:"status" gorm:"type:text;not null"`
	Amount    int64     `json:"amount"`
	Currency  string    `json:"currency" gorm:"type:text"`
	UpdatedAt time.Time `json:"updated_at" gorm:"not null"`
}

func (Order) TableName() string { return "orders" }

type Refund struct {
	ID        string    `json:"id" gorm:"primaryKey;type:text"`
	PaymentID string    `json:"payment_id" gorm:"type:text;index"`
	Status    string    `json:"status" gorm:"type:text;not null"`
	Amount    int64     `json:"amount"`
	Speed     string    `json:"speed" gorm:"type:text"`
	UpdatedAt time.Time `json:"updated_at" gorm:"not null"`
}

func (Refund) TableName() string { return "refunds" }

type Dispute struct {
	ID        string         `json:"id" gorm:"primaryKey;type:text"`
	PaymentID string         `json:"payment_id" gorm:"type:text;index"`
	Status    string         `json:"status" gorm:"type:text;not null"`
	Phase     string         `json:"phase" gorm:"type:text"`
	Amount    int64          `json:"amount"`
	Raw       datatypes.JSON `json:"raw"`
	UpdatedAt time.Time      `json:"updated_at" gorm:"not null"`
}

func (Dispute) TableName() string { return "disputes" }

type Invoice struct {
	ID         string    `json:"id" gorm:"primaryKey;type:text"`
	Status     string    `json:"status" gorm:"type:text;not null"`
	AmountPaid int64     `json:"amount_paid"`
	PaymentID  string    `json:"payment_id" gorm:"type:text"`
	UpdatedAt  time.Time `json:"updated_at" gorm:"not null"`
}

func (Invoice) TableName() string { return "invoices" }

type PaymentLink struct {
	ID         string    `json:"id" gorm:"primaryKey;type:text"`
	Status     string    `json:"status" gorm:"type:text;not null"`
	AmountPaid int64     `json:"amount_paid"`
	UpdatedAt  time.Time `json:"updated_at" gorm:"not null"`
}

func (PaymentLink) TableName() string { return "payment_links" }

type Account struct {
	ID        string    `json:"id" gorm:"primaryKey;type:text"`
	Status    string    `json:"status" gorm:"type:text;not null"`
	FundsHeld bool      `json:"funds_held" gorm:"not null;default:false"`
	UpdatedAt time.Time `json:"updated_at" gorm:"not null"`
}

func (Account) TableName() string { return "accounts" }

type FundAccountValidation struct {
	ID            string    `json:"id" gorm:"primaryKey;type:text"`
	FundAccountID string    `json:"fund_account_id" gorm:"type:text;index"`
	Status        string    `json:"status" gorm:"type:text;not null"`
	UpdatedAt     time.Time `json:"updated_at" gorm:"not null"`
}

func (FundAccountValidation) TableName() string { return "fund_account_validations" }

type Downtime struct {
	ID         string     `json:"id" gorm:"primaryKey;type:text"`
	Method     string     `json:"method" gorm:"type:text"`
	Status     string     `json:"status" gorm:"type:text;not null"`
	Severity   string     `json:"severity" gorm:"type:text"`
	BeganAt    *time.Time `json:"began_at"`
	ResolvedAt *time.Time `json:"resolved_at"`
	UpdatedAt  time.Time  `json:"updated_at" gorm:"not null"`
}

func (Downtime) TableName() string { return "downtimes" }
