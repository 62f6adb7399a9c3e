package controllers

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/cratebox/cratebox/app/models"
	"github.com/cratebox/cratebox/app/repository"
	"github.com/cratebox/cratebox/internal/pkg/billing"
	"github.com/cratebox/cratebox/internal/pkg/middleware"
	"github.com/cratebox/cratebox/internal/pkg/plans"
)

// stubUserRepo keeps users in memory so the API key middleware and the
// account handlers can run without a database.
type stubUserRepo struct {
	users  map[uint]*models.User
	nextID uint
}

func newStubUserRepo() *stubUserRepo {
	return &stubUserRepo{users: make(map[uint]*models.User)}
}

func (r *stubUserRepo) Create(user *models.User) error {
	r.nextID++
	user.ID = r.nextID
	cp := *user
	r.users[user.ID] = &cp
	return nil
}

func (r *stubUserRepo) GetByID(id uint) (*models.User, error) {
	user, ok := r.users[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *user
	return &cp, nil
}

func (r *stubUserRepo) GetByEmail(email string) (*models.User, error) {
	for _, user := range r.users {
		if user.Email == email {
			cp := *user
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *stubUserRepo) GetByAPIKeyHash(hash string) (*models.User, error) {
	if hash == "" {
		return nil, gorm.ErrRecordNotFound
	}
	for _, user := range r.users {
		if user.APIKeyHash == hash && user.APIKeyRevokedAt == nil {
			cp := *user
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *stubUserRepo) TouchAPIKeyUsage(userID uint) error { return nil }

func (r *stubUserRepo) Update(user *models.User) error {
	if _, ok := r.users[user.ID]; !ok {
		return gorm.ErrRecordNotFound
	}
	cp := *user
	r.users[user.ID] = &cp
	return nil
}

func (r *stubUserRepo) Delete(id uint) error {
	delete(r.users, id)
	return nil
}

func (r *stubUserRepo) Count() (int64, error) {
	return int64(len(r.users)), nil
}

// newAccountTestApp mirrors the /api/v1 wiring of the real router.
func newAccountTestApp(users repository.UserRepository, billingRepo billing.Repository) *fiber.App {
	svc := billing.NewService(billingRepo, nil, testWebhookSecret)
	app := fiber.New()

	auth := app.Group("/api/v1/auth")
	auth.Post("/register", HandleRegister(users))
	auth.Post("/apikey", HandleIssueAPIKey(users))

	account := app.Group("/api/v1/account", middleware.APIKeyAuthMiddleware(users, svc))
	account.Get("/", HandleGetAccount(svc, users))
	account.Get("/subscription", HandleGetAccountSubscription(svc))
	account.Get("/invoices", HandleListAccountInvoices(svc))
	account.Post("/storage", HandleRecordStorageUsage(svc))
	account.Delete("/apikey", HandleRevokeAPIKey(users))
	return app
}

func seedActiveUser(t *testing.T, users *stubUserRepo, email string) (*models.User, string) {
	t.Helper()

	user, err := models.CreateUser("tester", email, "secret123")
	require.NoError(t, err)
	rawKey, err := user.IssueAPIKey()
	require.NoError(t, err)
	require.NoError(t, users.Create(user))
	return user, rawKey
}

func doJSONRequest(t *testing.T, app *fiber.App, method, path, apiKey string, body []byte) (int, map[string]interface{}) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var parsed map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &parsed))
	return resp.StatusCode, parsed
}

func TestAccountEndpointsRequireAPIKey(t *testing.T) {
	app := newAccountTestApp(newStubUserRepo(), newStubRepo())

	status, parsed := doJSONRequest(t, app, fiber.MethodGet, "/api/v1/account/subscription", "", nil)
	assert.Equal(t, fiber.StatusUnauthorized, status)
	assert.Equal(t, "unauthorized", parsed["error"])
}

func TestAccountRejectsUnknownAPIKey(t *testing.T) {
	users := newStubUserRepo()
	seedActiveUser(t, users, "owner@example.com")
	app := newAccountTestApp(users, newStubRepo())

	status, parsed := doJSONRequest(t, app, fiber.MethodGet, "/api/v1/account/subscription", "cbx_nosuchkey", nil)
	assert.Equal(t, fiber.StatusUnauthorized, status)
	assert.Equal(t, "unauthorized", parsed["error"])
}

func TestAccountRejectsInactiveUser(t *testing.T) {
	users := newStubUserRepo()
	user, rawKey := seedActiveUser(t, users, "owner@example.com")
	user.Status = models.STATUS_DISABLED
	require.NoError(t, users.Update(user))
	app := newAccountTestApp(users, newStubRepo())

	status, parsed := doJSONRequest(t, app, fiber.MethodGet, "/api/v1/account/subscription", rawKey, nil)
	assert.Equal(t, fiber.StatusForbidden, status)
	assert.Equal(t, "forbidden", parsed["error"])
}

func TestGetAccountSubscriptionWithoutBillingHistory(t *testing.T) {
	users := newStubUserRepo()
	_, rawKey := seedActiveUser(t, users, "owner@example.com")
	app := newAccountTestApp(users, newStubRepo())

	status, parsed := doJSONRequest(t, app, fiber.MethodGet, "/api/v1/account/subscription", rawKey, nil)
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "free", parsed["plan_tier"])
	assert.Equal(t, false, parsed["entitled"])
	assert.Equal(t, true, parsed["can_upgrade"])
}

func TestGetAccountSubscriptionActivePro(t *testing.T) {
	users := newStubUserRepo()
	user, rawKey := seedActiveUser(t, users, "owner@example.com")

	billingRepo := newStubRepo()
	require.NoError(t, billingRepo.UpsertSubscription(&models.Subscription{
		UserID:            user.ID,
		Provider:          models.BillingProviderStripe,
		PlanTier:          string(plans.TierPro),
		Status:            models.SubscriptionStatusActive,
		StorageLimitBytes: plans.StorageLimit(plans.TierPro),
	}))
	app := newAccountTestApp(users, billingRepo)

	status, parsed := doJSONRequest(t, app, fiber.MethodGet, "/api/v1/account/subscription", rawKey, nil)
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "pro", parsed["plan_tier"])
	assert.Equal(t, true, parsed["entitled"])
	assert.Equal(t, false, parsed["can_upgrade"])
}

func TestGetAccountProfile(t *testing.T) {
	users := newStubUserRepo()
	user, rawKey := seedActiveUser(t, users, "owner@example.com")

	billingRepo := newStubRepo()
	require.NoError(t, billingRepo.UpsertSubscription(&models.Subscription{
		UserID:   user.ID,
		PlanTier: string(plans.TierPro),
		Status:   models.SubscriptionStatusActive,
	}))
	app := newAccountTestApp(users, billingRepo)

	status, parsed := doJSONRequest(t, app, fiber.MethodGet, "/api/v1/account/", rawKey, nil)
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "tester", parsed["username"])
	assert.Equal(t, "owner@example.com", parsed["email"])
	assert.Equal(t, "pro", parsed["plan"])

	sub, ok := parsed["subscription"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "pro", sub["plan_tier"])
}

func TestListAccountInvoices(t *testing.T) {
	users := newStubUserRepo()
	user, rawKey := seedActiveUser(t, users, "owner@example.com")

	billingRepo := newStubRepo()
	require.NoError(t, billingRepo.UpsertInvoice(&models.Invoice{
		UserID: user.ID, ProviderInvoiceID: "in_1", Status: models.InvoiceStatusPaid, AmountDue: 999, AmountPaid: 999, Currency: "usd",
	}))
	require.NoError(t, billingRepo.UpsertInvoice(&models.Invoice{
		UserID: user.ID, ProviderInvoiceID: "in_2", Status: models.InvoiceStatusOpen, AmountDue: 999, Currency: "usd",
	}))
	require.NoError(t, billingRepo.UpsertInvoice(&models.Invoice{
		UserID: user.ID + 1, ProviderInvoiceID: "in_other", Status: models.InvoiceStatusOpen,
	}))
	app := newAccountTestApp(users, billingRepo)

	status, parsed := doJSONRequest(t, app, fiber.MethodGet, "/api/v1/account/invoices", rawKey, nil)
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, float64(2), parsed["count"])

	items, ok := parsed["invoices"].([]interface{})
	require.True(t, ok)
	require.Len(t, items, 2)
	for _, item := range items {
		inv := item.(map[string]interface{})
		assert.NotEqual(t, "in_other", inv["provider_invoice_id"])
	}
}

func TestRecordStorageUsage(t *testing.T) {
	users := newStubUserRepo()
	user, rawKey := seedActiveUser(t, users, "owner@example.com")

	billingRepo := newStubRepo()
	require.NoError(t, billingRepo.UpsertSubscription(&models.Subscription{
		UserID:            user.ID,
		PlanTier:          string(plans.TierPro),
		Status:            models.SubscriptionStatusActive,
		StorageLimitBytes: 1000,
	}))
	app := newAccountTestApp(users, billingRepo)

	body := []byte(`{"delta_bytes": 400}`)
	status, parsed := doJSONRequest(t, app, fiber.MethodPost, "/api/v1/account/storage", rawKey, body)
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, float64(400), parsed["storage_used_bytes"])
	assert.Equal(t, float64(600), parsed["storage_remaining_bytes"])

	status, parsed = doJSONRequest(t, app, fiber.MethodPost, "/api/v1/account/storage", rawKey, []byte(`{"delta_bytes": 700}`))
	assert.Equal(t, fiber.StatusForbidden, status)
	assert.Equal(t, "storage_limit_exceeded", parsed["error"])

	sub, err := billingRepo.GetSubscriptionByUser(user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(400), sub.StorageUsedBytes)

	status, parsed = doJSONRequest(t, app, fiber.MethodPost, "/api/v1/account/storage", rawKey, []byte(`{"delta_bytes": 0}`))
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, "bad_request", parsed["error"])
}

func TestRegisterAndIssueAPIKey(t *testing.T) {
	users := newStubUserRepo()
	app := newAccountTestApp(users, newStubRepo())

	status, parsed := doJSONRequest(t, app, fiber.MethodPost, "/api/v1/auth/register",
		"", []byte(`{"username": "newuser", "email": "new@example.com", "password": "secret123"}`))
	assert.Equal(t, fiber.StatusCreated, status)
	assert.Equal(t, "newuser", parsed["username"])

	// Same email again conflicts.
	status, parsed = doJSONRequest(t, app, fiber.MethodPost, "/api/v1/auth/register",
		"", []byte(`{"username": "newuser", "email": "new@example.com", "password": "secret123"}`))
	assert.Equal(t, fiber.StatusConflict, status)
	assert.Equal(t, "conflict", parsed["error"])

	status, parsed = doJSONRequest(t, app, fiber.MethodPost, "/api/v1/auth/apikey",
		"", []byte(`{"email": "new@example.com", "password": "wrong"}`))
	assert.Equal(t, fiber.StatusUnauthorized, status)
	assert.Equal(t, "unauthorized", parsed["error"])

	status, parsed = doJSONRequest(t, app, fiber.MethodPost, "/api/v1/auth/apikey",
		"", []byte(`{"email": "new@example.com", "password": "secret123"}`))
	require.Equal(t, fiber.StatusOK, status)
	rawKey, ok := parsed["api_key"].(string)
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(rawKey, "cbx_"))
	assert.Equal(t, false, parsed["replaced"])

	status, _ = doJSONRequest(t, app, fiber.MethodGet, "/api/v1/account/subscription", rawKey, nil)
	assert.Equal(t, fiber.StatusOK, status)

	// Issuing again replaces the key and invalidates the old one.
	status, parsed = doJSONRequest(t, app, fiber.MethodPost, "/api/v1/auth/apikey",
		"", []byte(`{"email": "new@example.com", "password": "secret123"}`))
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, true, parsed["replaced"])

	status, _ = doJSONRequest(t, app, fiber.MethodGet, "/api/v1/account/subscription", rawKey, nil)
	assert.Equal(t, fiber.StatusUnauthorized, status)
}

func TestRegisterRejectsInvalidInput(t *testing.T) {
	app := newAccountTestApp(newStubUserRepo(), newStubRepo())

	status, parsed := doJSONRequest(t, app, fiber.MethodPost, "/api/v1/auth/register",
		"", []byte(`{"username": "x", "email": "not-an-email", "password": "short"}`))
	assert.Equal(t, fiber.StatusUnprocessableEntity, status)
	assert.Equal(t, "validation_failed", parsed["error"])
}

func TestRevokeAPIKey(t *testing.T) {
	users := newStubUserRepo()
	_, rawKey := seedActiveUser(t, users, "owner@example.com")
	app := newAccountTestApp(users, newStubRepo())

	status, parsed := doJSONRequest(t, app, fiber.MethodDelete, "/api/v1/account/apikey", rawKey, nil)
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, true, parsed["revoked"])

	status, _ = doJSONRequest(t, app, fiber.MethodGet, "/api/v1/account/subscription", rawKey, nil)
	assert.Equal(t, fiber.StatusUnauthorized, status)
}
