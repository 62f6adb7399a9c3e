package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cratebox/cratebox/internal/pkg/env"
	"github.com/google/uuid"
)

const defaultProviderAPIBaseURL = "https://api.stripe.com"

// ProviderClient is the payment-provider surface the reconciler depends on:
// current-state retrieval and invoice mutations. The webhook handler uses
// GetSubscription to re-sync from provider truth instead of trusting event
// payloads alone.
type ProviderClient interface {
	GetSubscription(ctx context.Context, subscriptionID string) (*SubscriptionObject, error)
	VoidInvoice(ctx context.Context, invoiceID string) error
}

// HTTPProviderClient talks to the provider REST API.
type HTTPProviderClient struct {
	SecretKey  string
	APIBaseURL string

	HTTPClient *http.Client
}

// NewProviderClientFromEnv builds a client from BILLING_* environment keys.
func NewProviderClientFromEnv() *HTTPProviderClient {
	return &HTTPProviderClient{
		SecretKey:  strings.TrimSpace(env.GetEnv("BILLING_SECRET_KEY", "")),
		APIBaseURL: strings.TrimRight(env.GetEnv("BILLING_API_BASE_URL", defaultProviderAPIBaseURL), "/"),
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// GetSubscription fetches the current subscription state from the provider.
func (c *HTTPProviderClient) GetSubscription(ctx context.Context, subscriptionID string) (*SubscriptionObject, error) {
	id := strings.TrimSpace(subscriptionID)
	if id == "" {
		return nil, errors.New("subscription id is required")
	}
	if strings.TrimSpace(c.SecretKey) == "" {
		return nil, errors.New("BILLING_SECRET_KEY is not configured")
	}

	reqURL := c.APIBaseURL + "/v1/subscriptions/" + url.PathEscape(id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.SecretKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("provider subscription fetch failed: status=%d body=%s", resp.StatusCode, string(body))
	}

	var out SubscriptionObject
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, err
	}
	if strings.TrimSpace(out.ID) == "" {
		return nil, errors.New("provider subscription response missing id")
	}
	return &out, nil
}

// VoidInvoice marks an invoice void on the provider side. The request is
// made idempotent with a generated Idempotency-Key so provider-side retries
// cannot void twice with conflicting outcomes.
func (c *HTTPProviderClient) VoidInvoice(ctx context.Context, invoiceID string) error {
	id := strings.TrimSpace(invoiceID)
	if id == "" {
		return errors.New("invoice id is required")
	}
	if strings.TrimSpace(c.SecretKey) == "" {
		return errors.New("BILLING_SECRET_KEY is not configured")
	}

	reqURL := c.APIBaseURL + "/v1/invoices/" + url.PathEscape(id) + "/void"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.SecretKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Idempotency-Key", uuid.NewString())

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("provider invoice void failed: status=%d body=%s", resp.StatusCode, string(body))
	}
	return nil
}
