package billing

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// EventKind is the closed set of provider event types the reconciler
// understands. Anything else decodes to EventKindUnknown and is ignored.
type EventKind string

const (
	EventKindCheckoutCompleted       EventKind = "checkout.session.completed"
	EventKindSubscriptionCreated     EventKind = "customer.subscription.created"
	EventKindSubscriptionUpdated     EventKind = "customer.subscription.updated"
	EventKindSubscriptionDeleted     EventKind = "customer.subscription.deleted"
	EventKindInvoiceFinalized        EventKind = "invoice.finalized"
	EventKindInvoicePaymentSucceeded EventKind = "invoice.payment_succeeded"
	EventKindInvoicePaymentFailed    EventKind = "invoice.payment_failed"
	EventKindInvoiceVoided           EventKind = "invoice.voided"
	EventKindCreditNoteCreated       EventKind = "credit_note.created"
	EventKindUnknown                 EventKind = "unknown"
)

// Event is the decoded webhook envelope. Exactly one payload pointer is
// non-nil, selected by Kind; EventKindUnknown carries none.
type Event struct {
	ID        string
	Type      string
	Kind      EventKind
	CreatedAt time.Time

	Checkout     *CheckoutSessionObject
	Subscription *SubscriptionObject
	Invoice      *InvoiceObject
	CreditNote   *CreditNoteObject
}

// CheckoutSessionObject is the provider checkout session payload.
type CheckoutSessionObject struct {
	ID           string            `json:"id"`
	Customer     string            `json:"customer"`
	Subscription string            `json:"subscription"`
	Metadata     map[string]string `json:"metadata"`
}

// SubscriptionObject is the provider subscription payload, also returned by
// the provider client when re-fetching current state.
type SubscriptionObject struct {
	ID                string            `json:"id"`
	Customer          string            `json:"customer"`
	Status            string            `json:"status"`
	CancelAtPeriodEnd bool              `json:"cancel_at_period_end"`
	CurrentPeriodEnd  int64             `json:"current_period_end"`
	Metadata          map[string]string `json:"metadata"`
	Items             struct {
		Data []struct {
			Price struct {
				ID string `json:"id"`
			} `json:"price"`
		} `json:"data"`
	} `json:"items"`
}

// PriceID returns the first price reference attached to the subscription.
func (s *SubscriptionObject) PriceID() string {
	if len(s.Items.Data) == 0 {
		return ""
	}
	return strings.TrimSpace(s.Items.Data[0].Price.ID)
}

// PeriodEnd converts the unix period end into a timestamp, nil when absent.
func (s *SubscriptionObject) PeriodEnd() *time.Time {
	if s.CurrentPeriodEnd <= 0 {
		return nil
	}
	t := time.Unix(s.CurrentPeriodEnd, 0)
	return &t
}

// InvoiceObject is the provider invoice payload.
type InvoiceObject struct {
	ID               string `json:"id"`
	Customer         string `json:"customer"`
	Subscription     string `json:"subscription"`
	AmountDue        int64  `json:"amount_due"`
	AmountPaid       int64  `json:"amount_paid"`
	Currency         string `json:"currency"`
	Status           string `json:"status"`
	HostedInvoiceURL string `json:"hosted_invoice_url"`
	InvoicePDF       string `json:"invoice_pdf"`
	PeriodStart      int64  `json:"period_start"`
	PeriodEnd        int64  `json:"period_end"`
	DueDate          int64  `json:"due_date"`
	Description      string `json:"description"`
}

// CreditNoteObject is the provider credit note payload. Only the invoice
// linkage is consumed; credit notes are modeled as an invoice voidance.
type CreditNoteObject struct {
	ID      string `json:"id"`
	Invoice string `json:"invoice"`
	Total   int64  `json:"total"`
}

type rawEnvelope struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

// ParseEvent decodes a raw webhook body into the event union.
func ParseEvent(payload []byte) (*Event, error) {
	var raw rawEnvelope
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("invalid webhook envelope: %w", err)
	}
	if strings.TrimSpace(raw.Type) == "" {
		return nil, errors.New("webhook envelope missing event type")
	}

	ev := &Event{
		ID:   strings.TrimSpace(raw.ID),
		Type: strings.TrimSpace(raw.Type),
		Kind: EventKindUnknown,
	}
	if raw.Created > 0 {
		ev.CreatedAt = time.Unix(raw.Created, 0)
	}

	kind := EventKind(ev.Type)
	switch kind {
	case EventKindCheckoutCompleted:
		ev.Checkout = &CheckoutSessionObject{}
		if err := json.Unmarshal(raw.Data.Object, ev.Checkout); err != nil {
			return nil, fmt.Errorf("invalid checkout session payload: %w", err)
		}
	case EventKindSubscriptionCreated, EventKindSubscriptionUpdated, EventKindSubscriptionDeleted:
		ev.Subscription = &SubscriptionObject{}
		if err := json.Unmarshal(raw.Data.Object, ev.Subscription); err != nil {
			return nil, fmt.Errorf("invalid subscription payload: %w", err)
		}
	case EventKindInvoiceFinalized, EventKindInvoicePaymentSucceeded, EventKindInvoicePaymentFailed, EventKindInvoiceVoided:
		ev.Invoice = &InvoiceObject{}
		if err := json.Unmarshal(raw.Data.Object, ev.Invoice); err != nil {
			return nil, fmt.Errorf("invalid invoice payload: %w", err)
		}
	case EventKindCreditNoteCreated:
		ev.CreditNote = &CreditNoteObject{}
		if err := json.Unmarshal(raw.Data.Object, ev.CreditNote); err != nil {
			return nil, fmt.Errorf("invalid credit note payload: %w", err)
		}
	default:
		return ev, nil
	}

	ev.Kind = kind
	return ev, nil
}
