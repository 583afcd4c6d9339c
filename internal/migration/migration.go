package migration

import (
	eventdomain "github.com/smallbiznis/hookrelay/internal/event/domain"
	recordsdomain "github.com/smallbiznis/hookrelay/internal/records/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

// Run creates the webhook event table and every downstream entity table.
// Schema is additive only; replays depend on rows never being dropped.
func Run(db *gorm.DB) error {
	return db.AutoMigrate(
		&eventdomain.WebhookEvent{},
		&recordsdomain.Payment{},
		&recordsdomain.Order{},
		&recordsdomain.Refund{},
		&recordsdomain.Dispute{},
		&recordsdomain.Invoice{},
		&recordsdomain.PaymentLink{},
		&recordsdomain.Account{},
		&recordsdomain.FundAccountValidation{},
		&recordsdomain.Downtime{},
	)
}

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB) error {
		return Run(conn)
	}),
)
