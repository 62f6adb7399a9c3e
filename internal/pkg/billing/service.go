package billing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/cratebox/cratebox/app/models"
	"github.com/cratebox/cratebox/internal/pkg/plans"
	"gorm.io/gorm"
)

var (
	// ErrInvalidSignature rejects a webhook whose signature does not verify.
	// Signature checks fail closed; nothing but the audit row is written.
	ErrInvalidSignature = errors.New("invalid webhook signature")

	// ErrOwnerNotResolved marks an event referencing no known local owner.
	// Such events are recorded and acknowledged, not retried.
	ErrOwnerNotResolved = errors.New("event references no known local owner")

	// ErrStorageLimitExceeded refuses a usage increment past the plan limit.
	ErrStorageLimitExceeded = errors.New("storage limit exceeded")
)

// ProcessResult reports how a webhook delivery was handled.
type ProcessResult struct {
	Duplicate bool
	Ignored   bool
}

// Service reconciles provider webhook events into local subscription and
// invoice state. Construct one per process and inject it into handlers.
type Service struct {
	repo          Repository
	provider      ProviderClient
	webhookSecret string
	recent        *RecentEventSet
}

type ServiceOption func(*Service)

func WithRecentEventCapacity(capacity int) ServiceOption {
	return func(s *Service) { s.recent = NewRecentEventSet(capacity) }
}

func NewService(repo Repository, provider ProviderClient, webhookSecret string, opts ...ServiceOption) *Service {
	s := &Service{
		repo:          repo,
		provider:      provider,
		webhookSecret: webhookSecret,
		recent:        NewRecentEventSet(defaultRecentEventCapacity),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewServiceFromDB creates a billing service from a GORM DB handle.
func NewServiceFromDB(db *gorm.DB, provider ProviderClient, webhookSecret string, opts ...ServiceOption) *Service {
	return NewService(NewRepository(db), provider, webhookSecret, opts...)
}

// ProcessWebhook verifies, deduplicates and applies one webhook delivery.
// A returned error of ErrInvalidSignature maps to a 400-class response;
// any other error maps to a 500-class response so the provider redelivers
// the same event id. Successful and dropped events are acknowledged.
func (s *Service) ProcessWebhook(ctx context.Context, rawBody []byte, signatureHeader string) (*ProcessResult, error) {
	signatureValid := VerifyWebhookSignature(rawBody, signatureHeader, s.webhookSecret)

	ev, parseErr := ParseEvent(rawBody)
	eventID := ""
	eventType := ""
	if ev != nil {
		eventID = ev.ID
		eventType = ev.Type
	}
	if eventID == "" {
		eventID = "hash:" + bodyDigest(rawBody)
	}

	if !signatureValid {
		// Keep an audit row for rejected deliveries, keyed by body hash.
		// The claimed event id is unverified, so it must not occupy the
		// dedup slot the legitimate delivery of that id will need later.
		_, stored, err := s.recordEvent("rejected:"+bodyDigest(rawBody), eventType, rawBody, false)
		if err == nil && stored != nil {
			s.markProcessed(stored.ID, ErrInvalidSignature)
		}
		return nil, ErrInvalidSignature
	}
	if parseErr != nil {
		return nil, parseErr
	}

	if s.recent.Seen(eventID) {
		return &ProcessResult{Duplicate: true}, nil
	}

	created, stored, err := s.recordEvent(eventID, eventType, rawBody, true)
	if err != nil {
		return nil, fmt.Errorf("webhook event persist failed: %w", err)
	}
	if !created {
		// Only a cleanly applied delivery counts as a duplicate. A row
		// left by a failed attempt means the provider is redelivering
		// after a 500; the dispatch must run again.
		if appliedCleanly(stored) {
			s.recent.Add(eventID)
			return &ProcessResult{Duplicate: true}, nil
		}
	}

	applyErr := s.dispatch(ctx, ev, rawBody)
	if applyErr != nil {
		if errors.Is(applyErr, ErrOwnerNotResolved) {
			// Drop, do not retry: recorded for manual reconciliation.
			log.Printf("billing event %s (%s) dropped: %v", eventID, eventType, applyErr)
			s.markProcessed(stored.ID, applyErr)
			s.recent.Add(eventID)
			return &ProcessResult{Ignored: true}, nil
		}
		s.markProcessed(stored.ID, applyErr)
		return nil, applyErr
	}

	s.markProcessed(stored.ID, nil)
	s.recent.Add(eventID)
	if ev.Kind == EventKindUnknown {
		return &ProcessResult{Ignored: true}, nil
	}
	return &ProcessResult{}, nil
}

func (s *Service) dispatch(ctx context.Context, ev *Event, rawBody []byte) error {
	switch ev.Kind {
	case EventKindCheckoutCompleted:
		return s.applyCheckoutCompleted(ctx, ev.Checkout, rawBody)
	case EventKindSubscriptionCreated, EventKindSubscriptionUpdated:
		return s.applySubscriptionSync(ctx, ev.Subscription, rawBody)
	case EventKindSubscriptionDeleted:
		return s.applySubscriptionDeleted(ctx, ev.Subscription, rawBody)
	case EventKindInvoiceFinalized:
		return s.applyInvoiceFinalized(ctx, ev.Invoice)
	case EventKindInvoicePaymentSucceeded:
		return s.applyInvoicePaymentSucceeded(ctx, ev, rawBody)
	case EventKindInvoicePaymentFailed:
		return s.applyInvoicePaymentFailed(ctx, ev.Invoice)
	case EventKindInvoiceVoided:
		return s.applyInvoiceVoided(ctx, ev)
	case EventKindCreditNoteCreated:
		return s.applyCreditNoteCreated(ctx, ev.CreditNote)
	default:
		log.Printf("ignoring unrecognized billing event type %q", ev.Type)
		return nil
	}
}

// applyCheckoutCompleted provisions the owner's subscription after the
// first successful checkout. Usage resets only when the row is created.
func (s *Service) applyCheckoutCompleted(_ context.Context, cs *CheckoutSessionObject, rawBody []byte) error {
	userID := ownerFromMetadata(cs.Metadata)
	if userID == 0 {
		return fmt.Errorf("checkout session %s: %w", cs.ID, ErrOwnerNotResolved)
	}

	tier := plans.Normalize(cs.Metadata["plan"])
	sub := &models.Subscription{
		UserID:                 userID,
		Provider:               models.BillingProviderStripe,
		ProviderCustomerID:     strings.TrimSpace(cs.Customer),
		ProviderSubscriptionID: strings.TrimSpace(cs.Subscription),
		PlanTier:               string(tier),
		Status:                 models.SubscriptionStatusActive,
		StorageLimitBytes:      plans.StorageLimit(tier),
		StorageUsedBytes:       0,
		RawPayloadJSON:         string(rawBody),
	}
	return s.repo.UpsertSubscription(sub)
}

// applySubscriptionSync maps provider subscription state onto the local
// row. Plan tier and storage limit only change when the event names a plan
// we recognize, either in metadata or through the price mapping.
func (s *Service) applySubscriptionSync(_ context.Context, obj *SubscriptionObject, rawBody []byte) error {
	userID, err := s.resolveOwner(obj.Metadata, obj.Customer)
	if err != nil {
		return fmt.Errorf("subscription %s: %w", obj.ID, err)
	}

	tier := plans.TierFree
	tierKnown := false
	if t, ok := plans.Parse(obj.Metadata["plan"]); ok {
		tier, tierKnown = t, true
	} else if t, ok := plans.TierForPrice(obj.PriceID()); ok {
		tier, tierKnown = t, true
	}

	sub := &models.Subscription{
		UserID:                 userID,
		Provider:               models.BillingProviderStripe,
		ProviderCustomerID:     strings.TrimSpace(obj.Customer),
		ProviderSubscriptionID: strings.TrimSpace(obj.ID),
		PriceID:                obj.PriceID(),
		Status:                 mapProviderStatus(obj.Status),
		CurrentPeriodEnd:       obj.PeriodEnd(),
		CancelAtPeriodEnd:      obj.CancelAtPeriodEnd,
		RawPayloadJSON:         string(rawBody),
	}

	if tierKnown {
		sub.PlanTier = string(tier)
		sub.StorageLimitBytes = plans.StorageLimit(tier)
	} else if existing, err := s.repo.GetSubscriptionByUser(userID); err == nil {
		sub.PlanTier = existing.PlanTier
		sub.StorageLimitBytes = existing.StorageLimitBytes
	} else if errors.Is(err, gorm.ErrRecordNotFound) {
		sub.PlanTier = string(plans.TierFree)
		sub.StorageLimitBytes = plans.StorageLimit(plans.TierFree)
	} else {
		return err
	}

	return s.repo.UpsertSubscription(sub)
}

// applySubscriptionDeleted downgrades the owner to the free tier. The write
// is an upsert so a delete arriving before any other event still leaves a
// canceled free-tier row behind.
func (s *Service) applySubscriptionDeleted(_ context.Context, obj *SubscriptionObject, rawBody []byte) error {
	userID, err := s.resolveOwner(obj.Metadata, obj.Customer)
	if err != nil {
		return fmt.Errorf("subscription %s: %w", obj.ID, err)
	}

	sub := &models.Subscription{
		UserID:                 userID,
		Provider:               models.BillingProviderStripe,
		ProviderCustomerID:     strings.TrimSpace(obj.Customer),
		ProviderSubscriptionID: "",
		PriceID:                "",
		PlanTier:               string(plans.TierFree),
		Status:                 models.SubscriptionStatusCanceled,
		StorageLimitBytes:      plans.StorageLimit(plans.TierFree),
		RawPayloadJSON:         string(rawBody),
	}
	return s.repo.UpsertSubscription(sub)
}

func (s *Service) applyInvoiceFinalized(_ context.Context, obj *InvoiceObject) error {
	userID, err := s.resolveOwner(nil, obj.Customer)
	if err != nil {
		return fmt.Errorf("invoice %s: %w", obj.ID, err)
	}
	return s.repo.UpsertInvoice(invoiceFromObject(userID, obj, models.InvoiceStatusOpen))
}

// applyInvoicePaymentSucceeded marks the invoice paid and then re-fetches
// the subscription from the provider, syncing from provider truth instead
// of trusting the event payload alone. A failed provider fetch surfaces as
// an error so the delivery is retried.
func (s *Service) applyInvoicePaymentSucceeded(ctx context.Context, ev *Event, rawBody []byte) error {
	obj := ev.Invoice
	userID, err := s.resolveOwner(nil, obj.Customer)
	if err != nil {
		return fmt.Errorf("invoice %s: %w", obj.ID, err)
	}

	inv := invoiceFromObject(userID, obj, models.InvoiceStatusPaid)
	paidAt := ev.CreatedAt
	if paidAt.IsZero() {
		paidAt = time.Now()
	}
	inv.PaidAt = &paidAt
	if err := s.repo.UpsertInvoice(inv); err != nil {
		return err
	}
	if inv.PaidAt == nil {
		// Upsert excludes paid_at from conflict updates; set it explicitly.
		if err := s.repo.UpdateInvoice(obj.ID, map[string]interface{}{"paid_at": &paidAt}); err != nil {
			return err
		}
	}

	subID := strings.TrimSpace(obj.Subscription)
	if subID == "" {
		return nil
	}
	current, err := s.provider.GetSubscription(ctx, subID)
	if err != nil {
		return fmt.Errorf("provider re-fetch for subscription %s failed: %w", subID, err)
	}
	return s.applySubscriptionSync(ctx, current, rawBody)
}

// applyInvoicePaymentFailed moves the owner past-due while keeping the
// invoice open and collectible.
func (s *Service) applyInvoicePaymentFailed(_ context.Context, obj *InvoiceObject) error {
	userID, err := s.resolveOwner(nil, obj.Customer)
	if err != nil {
		return fmt.Errorf("invoice %s: %w", obj.ID, err)
	}

	if err := s.repo.UpdateSubscriptionStatus(userID, models.SubscriptionStatusPastDue); err != nil {
		return err
	}

	if _, err := s.repo.GetInvoiceByProviderID(obj.ID); err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		return s.repo.UpsertInvoice(invoiceFromObject(userID, obj, models.InvoiceStatusOpen))
	}
	return s.repo.UpdateInvoice(obj.ID, map[string]interface{}{"status": models.InvoiceStatusOpen})
}

func (s *Service) applyInvoiceVoided(_ context.Context, ev *Event) error {
	voidedAt := ev.CreatedAt
	if voidedAt.IsZero() {
		voidedAt = time.Now()
	}
	return s.repo.UpdateInvoice(ev.Invoice.ID, map[string]interface{}{
		"status":    models.InvoiceStatusVoid,
		"voided_at": &voidedAt,
	})
}

// applyCreditNoteCreated voids the associated invoice. Partial credit
// amounts are not tracked as a separate ledger entry. An invoice the local
// copy still shows as collectible is voided at the provider as well, so
// both sides converge; a failed provider call surfaces as an error and the
// event is redelivered.
func (s *Service) applyCreditNoteCreated(ctx context.Context, cn *CreditNoteObject) error {
	inv, err := s.repo.GetInvoiceByProviderID(cn.Invoice)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	if inv != nil && inv.IsCollectible() {
		if err := s.provider.VoidInvoice(ctx, cn.Invoice); err != nil {
			return fmt.Errorf("voiding invoice %s at provider: %w", cn.Invoice, err)
		}
	}

	now := time.Now()
	return s.repo.UpdateInvoice(cn.Invoice, map[string]interface{}{
		"status":    models.InvoiceStatusVoid,
		"voided_at": &now,
	})
}

// GetSubscriptionForUser returns the owner's subscription row.
func (s *Service) GetSubscriptionForUser(_ context.Context, userID uint) (*models.Subscription, error) {
	return s.repo.GetSubscriptionByUser(userID)
}

// ListInvoicesForUser returns the owner's invoices, newest first.
func (s *Service) ListInvoicesForUser(_ context.Context, userID uint) ([]models.Invoice, error) {
	return s.repo.ListInvoicesByUser(userID)
}

// AddStorageUsage adjusts the owner's storage usage against the plan limit.
func (s *Service) AddStorageUsage(_ context.Context, userID uint, delta int64) (*models.Subscription, error) {
	return s.repo.AddStorageUsage(userID, delta)
}

func (s *Service) recordEvent(eventID, eventType string, rawBody []byte, signatureValid bool) (bool, *models.WebhookEvent, error) {
	return s.repo.CreateWebhookEventIfNotExists(&models.WebhookEvent{
		Provider:        models.BillingProviderStripe,
		ProviderEventID: eventID,
		EventType:       eventType,
		PayloadJSON:     string(rawBody),
		SignatureValid:  signatureValid,
	})
}

// appliedCleanly reports whether a stored delivery finished dispatch
// without error. Rows from failed or rejected attempts do not shadow a
// redelivery.
func appliedCleanly(ev *models.WebhookEvent) bool {
	return ev != nil && ev.SignatureValid && ev.ProcessedAt != nil && ev.ProcessingError == ""
}

func bodyDigest(rawBody []byte) string {
	sum := sha256.Sum256(rawBody)
	return hex.EncodeToString(sum[:])
}

func (s *Service) markProcessed(webhookEventID uint, processingErr error) {
	errMsg := ""
	if processingErr != nil {
		errMsg = processingErr.Error()
	}
	if err := s.repo.MarkWebhookProcessed(webhookEventID, errMsg); err != nil {
		log.Printf("failed to mark webhook event %d processed: %v", webhookEventID, err)
	}
}

// resolveOwner finds the local owner for an event, preferring explicit
// metadata over the provider-customer linkage on the subscription row.
func (s *Service) resolveOwner(metadata map[string]string, providerCustomerID string) (uint, error) {
	if userID := ownerFromMetadata(metadata); userID != 0 {
		return userID, nil
	}

	customer := strings.TrimSpace(providerCustomerID)
	if customer == "" {
		return 0, ErrOwnerNotResolved
	}
	userID, err := s.repo.FindUserIDByCustomer(customer)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, ErrOwnerNotResolved
		}
		return 0, err
	}
	return userID, nil
}

func ownerFromMetadata(metadata map[string]string) uint {
	raw := strings.TrimSpace(metadata["user_id"])
	if raw == "" {
		return 0
	}
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0
	}
	return uint(id)
}

// mapProviderStatus translates provider subscription statuses into the
// local enum; anything unrecognized lands on inactive.
func mapProviderStatus(status string) string {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "active":
		return models.SubscriptionStatusActive
	case "past_due":
		return models.SubscriptionStatusPastDue
	case "canceled":
		return models.SubscriptionStatusCanceled
	case "trialing":
		return models.SubscriptionStatusTrialing
	default:
		return models.SubscriptionStatusInactive
	}
}

func invoiceFromObject(userID uint, obj *InvoiceObject, status string) *models.Invoice {
	currency := strings.ToLower(strings.TrimSpace(obj.Currency))
	if currency == "" {
		currency = "usd"
	}
	return &models.Invoice{
		UserID:                 userID,
		ProviderInvoiceID:      strings.TrimSpace(obj.ID),
		ProviderCustomerID:     strings.TrimSpace(obj.Customer),
		ProviderSubscriptionID: strings.TrimSpace(obj.Subscription),
		AmountDue:              obj.AmountDue,
		AmountPaid:             obj.AmountPaid,
		Currency:               currency,
		Status:                 status,
		HostedInvoiceURL:       strings.TrimSpace(obj.HostedInvoiceURL),
		InvoicePDFURL:          strings.TrimSpace(obj.InvoicePDF),
		PeriodStart:            unixTime(obj.PeriodStart),
		PeriodEnd:              unixTime(obj.PeriodEnd),
		DueDate:                unixTime(obj.DueDate),
		Description:            strings.TrimSpace(obj.Description),
	}
}

func unixTime(ts int64) *time.Time {
	if ts <= 0 {
		return nil
	}
	t := time.Unix(ts, 0)
	return &t
}
