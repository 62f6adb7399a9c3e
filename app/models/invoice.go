package models

import "time"

const (
	InvoiceStatusDraft         = "draft"
	InvoiceStatusOpen          = "open"
	InvoiceStatusPaid          = "paid"
	InvoiceStatusVoid          = "void"
	InvoiceStatusUncollectible = "uncollectible"
)

// Invoice mirrors a provider invoice for an owner. One row exists per
// provider invoice id; rows are upserted as lifecycle events arrive.
type Invoice struct {
	ID                     uint       `gorm:"primaryKey" json:"id"`
	UserID                 uint       `gorm:"not null;index" json:"user_id"`
	ProviderInvoiceID      string     `gorm:"type:varchar(191);not null;uniqueIndex" json:"provider_invoice_id"`
	ProviderCustomerID     string     `gorm:"type:varchar(191);not null;default:'';index" json:"provider_customer_id"`
	ProviderSubscriptionID string     `gorm:"type:varchar(191);not null;default:''" json:"provider_subscription_id"`
	AmountDue              int64      `gorm:"not null;default:0" json:"amount_due"`
	AmountPaid             int64      `gorm:"not null;default:0" json:"amount_paid"`
	Currency               string     `gorm:"type:varchar(8);not null;default:'usd'" json:"currency"`
	Status                 string     `gorm:"type:varchar(20);not null;default:'draft';index" json:"status"`
	HostedInvoiceURL       string     `gorm:"type:varchar(500);default:''" json:"hosted_invoice_url"`
	InvoicePDFURL          string     `gorm:"type:varchar(500);default:''" json:"invoice_pdf_url"`
	PeriodStart            *time.Time `gorm:"type:timestamp;default:null" json:"period_start,omitempty"`
	PeriodEnd              *time.Time `gorm:"type:timestamp;default:null" json:"period_end,omitempty"`
	DueDate                *time.Time `gorm:"type:timestamp;default:null" json:"due_date,omitempty"`
	PaidAt                 *time.Time `gorm:"type:timestamp;default:null" json:"paid_at,omitempty"`
	VoidedAt               *time.Time `gorm:"type:timestamp;default:null" json:"voided_at,omitempty"`
	Description            string     `gorm:"type:text" json:"description"`
	CreatedAt              time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt              time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsCollectible reports whether the invoice can still be paid.
func (i *Invoice) IsCollectible() bool {
	return i.Status == InvoiceStatusOpen || i.Status == InvoiceStatusDraft
}
