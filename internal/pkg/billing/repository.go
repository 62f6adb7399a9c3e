package billing

import (
	"time"

	"github.com/cratebox/cratebox/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository provides DB operations used by the billing service.
type Repository interface {
	UpsertSubscription(sub *models.Subscription) error
	GetSubscriptionByUser(userID uint) (*models.Subscription, error)
	UpdateSubscriptionStatus(userID uint, status string) error
	FindUserIDByCustomer(providerCustomerID string) (uint, error)
	AddStorageUsage(userID uint, delta int64) (*models.Subscription, error)

	UpsertInvoice(inv *models.Invoice) error
	GetInvoiceByProviderID(providerInvoiceID string) (*models.Invoice, error)
	UpdateInvoice(providerInvoiceID string, updates map[string]interface{}) error
	ListInvoicesByUser(userID uint) ([]models.Invoice, error)

	CreateWebhookEventIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error)
	MarkWebhookProcessed(id uint, processingError string) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a billing repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

// UpsertSubscription writes the one subscription row per owner. On conflict
// everything except storage_used_bytes is replaced: usage accumulates across
// plan changes and only resets when the row is first created.
func (r *gormRepository) UpsertSubscription(sub *models.Subscription) error {
	if err := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "user_id"},
		},
		DoUpdates: clause.AssignmentColumns([]string{
			"provider",
			"provider_customer_id",
			"provider_subscription_id",
			"price_id",
			"plan_tier",
			"status",
			"storage_limit_bytes",
			"current_period_end",
			"cancel_at_period_end",
			"raw_payload_json",
			"updated_at",
		}),
	}).Create(sub).Error; err != nil {
		return err
	}

	// Ensure ID and storage_used_bytes reflect the stored row after upsert.
	return r.db.Where("user_id = ?", sub.UserID).First(sub).Error
}

func (r *gormRepository) GetSubscriptionByUser(userID uint) (*models.Subscription, error) {
	var sub models.Subscription
	if err := r.db.Where("user_id = ?", userID).First(&sub).Error; err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *gormRepository) UpdateSubscriptionStatus(userID uint, status string) error {
	return r.db.Model(&models.Subscription{}).
		Where("user_id = ?", userID).
		Update("status", status).Error
}

func (r *gormRepository) FindUserIDByCustomer(providerCustomerID string) (uint, error) {
	var sub models.Subscription
	err := r.db.Select("user_id").
		Where("provider_customer_id = ?", providerCustomerID).
		First(&sub).Error
	if err != nil {
		return 0, err
	}
	return sub.UserID, nil
}

// AddStorageUsage adjusts the owner's storage usage, refusing increments
// that would exceed the plan limit. The check is read-then-write, not
// transactional: concurrent writers can briefly overshoot, which the
// application tolerates.
func (r *gormRepository) AddStorageUsage(userID uint, delta int64) (*models.Subscription, error) {
	sub, err := r.GetSubscriptionByUser(userID)
	if err != nil {
		return nil, err
	}

	next := sub.StorageUsedBytes + delta
	if next < 0 {
		next = 0
	}
	if delta > 0 && next > sub.StorageLimitBytes {
		return sub, ErrStorageLimitExceeded
	}

	if err := r.db.Model(&models.Subscription{}).
		Where("user_id = ?", userID).
		Update("storage_used_bytes", next).Error; err != nil {
		return nil, err
	}
	sub.StorageUsedBytes = next
	return sub, nil
}

func (r *gormRepository) UpsertInvoice(inv *models.Invoice) error {
	if err := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider_invoice_id"},
		},
		DoUpdates: clause.AssignmentColumns([]string{
			"user_id",
			"provider_customer_id",
			"provider_subscription_id",
			"amount_due",
			"amount_paid",
			"currency",
			"status",
			"hosted_invoice_url",
			"invoice_pdf_url",
			"period_start",
			"period_end",
			"due_date",
			"description",
			"updated_at",
		}),
	}).Create(inv).Error; err != nil {
		return err
	}

	return r.db.Where("provider_invoice_id = ?", inv.ProviderInvoiceID).First(inv).Error
}

func (r *gormRepository) GetInvoiceByProviderID(providerInvoiceID string) (*models.Invoice, error) {
	var inv models.Invoice
	if err := r.db.Where("provider_invoice_id = ?", providerInvoiceID).First(&inv).Error; err != nil {
		return nil, err
	}
	return &inv, nil
}

func (r *gormRepository) UpdateInvoice(providerInvoiceID string, updates map[string]interface{}) error {
	return r.db.Model(&models.Invoice{}).
		Where("provider_invoice_id = ?", providerInvoiceID).
		Updates(updates).Error
}

func (r *gormRepository) ListInvoicesByUser(userID uint) ([]models.Invoice, error) {
	var invoices []models.Invoice
	err := r.db.Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&invoices).Error
	return invoices, err
}

func (r *gormRepository) CreateWebhookEventIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_event_id"},
		},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.WebhookEvent
	if err := r.db.Where("provider = ? AND provider_event_id = ?", event.Provider, event.ProviderEventID).
		First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *gormRepository) MarkWebhookProcessed(id uint, processingError string) error {
	now := time.Now()
	updates := map[string]interface{}{
		"processed_at":     &now,
		"processing_error": processingError,
	}
	return r.db.Model(&models.WebhookEvent{}).Where("id = ?", id).Updates(updates).Error
}
