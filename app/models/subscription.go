package models

import "time"

// Billing provider constants used across billing-related models.
const (
	BillingProviderStripe = "stripe"
)

const (
	SubscriptionStatusActive   = "active"
	SubscriptionStatusPastDue  = "past_due"
	SubscriptionStatusCanceled = "canceled"
	SubscriptionStatusTrialing = "trialing"
	SubscriptionStatusInactive = "inactive"
)

// Subscription mirrors the provider-side subscription state for one owner
// and carries the storage entitlement derived from the mapped plan.
// Exactly one row exists per owner; it is upserted, never hard-deleted.
type Subscription struct {
	ID                     uint       `gorm:"primaryKey" json:"id"`
	UserID                 uint       `gorm:"not null;uniqueIndex" json:"user_id"`
	Provider               string     `gorm:"type:varchar(20);not null;default:'stripe'" json:"provider"`
	ProviderCustomerID     string     `gorm:"type:varchar(191);not null;default:'';index" json:"provider_customer_id"`
	ProviderSubscriptionID string     `gorm:"type:varchar(191);not null;default:'';index" json:"provider_subscription_id"`
	PriceID                string     `gorm:"type:varchar(191);not null;default:''" json:"price_id"`
	PlanTier               string     `gorm:"type:varchar(50);not null;default:'free';index" json:"plan_tier"`
	Status                 string     `gorm:"type:varchar(32);not null;default:'inactive';index" json:"status"`
	StorageLimitBytes      int64      `gorm:"not null;default:0" json:"storage_limit_bytes"`
	StorageUsedBytes       int64      `gorm:"not null;default:0" json:"storage_used_bytes"`
	CurrentPeriodEnd       *time.Time `gorm:"type:timestamp;default:null" json:"current_period_end,omitempty"`
	CancelAtPeriodEnd      bool       `gorm:"default:false" json:"cancel_at_period_end"`
	RawPayloadJSON         string     `gorm:"type:longtext" json:"raw_payload_json"`
	CreatedAt              time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt              time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsEntitled reports whether the subscription grants paid-plan access.
func (s *Subscription) IsEntitled() bool {
	switch s.Status {
	case SubscriptionStatusActive, SubscriptionStatusTrialing, SubscriptionStatusPastDue:
		return true
	default:
		return false
	}
}

// StorageRemaining returns how many bytes the owner may still store.
func (s *Subscription) StorageRemaining() int64 {
	if s.StorageLimitBytes <= s.StorageUsedBytes {
		return 0
	}
	return s.StorageLimitBytes - s.StorageUsedBytes
}
