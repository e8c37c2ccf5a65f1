package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestLoadWithDefaults(t *testing.T) {
	env := map[string]string{
		"PRINTDESK_FIREBASE_PROJECT_ID":      "printdesk-dev",
		"PRINTDESK_STORAGE_DOCUMENTS_BUCKET": "printdesk-docs-dev",
	}

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Server.WriteTimeout != 0 {
		t.Errorf("expected streaming friendly write timeout, got %s", cfg.Server.WriteTimeout)
	}
	if cfg.Firestore.ProjectID != "printdesk-dev" {
		t.Errorf("expected firestore project to default to firebase project, got %s", cfg.Firestore.ProjectID)
	}
	if cfg.PubSub.ProjectID != "printdesk-dev" {
		t.Errorf("expected pubsub project to follow firestore project, got %s", cfg.PubSub.ProjectID)
	}
	if cfg.Firestore.OrdersCollection != "orders" {
		t.Errorf("unexpected orders collection %q", cfg.Firestore.OrdersCollection)
	}
	if cfg.Payments.Currency != "INR" {
		t.Errorf("unexpected default currency %q", cfg.Payments.Currency)
	}
	if cfg.Shop.SettingsDocumentID != "default" {
		t.Errorf("unexpected shop settings doc %q", cfg.Shop.SettingsDocumentID)
	}
	if cfg.Shop.OpenByDefault {
		t.Errorf("shop should not be open before settings are observed")
	}
	if cfg.Sessions.MaxDocuments != defaultSessionMaxDocs {
		t.Errorf("unexpected max documents %d", cfg.Sessions.MaxDocuments)
	}
	if cfg.Firestore.OrdersWatchLimit != defaultOrdersWatchLimit {
		t.Errorf("unexpected orders watch limit %d", cfg.Firestore.OrdersWatchLimit)
	}
	if cfg.Sessions.MaxPageCount != defaultSessionMaxPages {
		t.Errorf("unexpected max page count %d", cfg.Sessions.MaxPageCount)
	}
	if len(cfg.Security.OIDC.Issuers) != 1 || cfg.Security.OIDC.Issuers[0] != defaultOIDCIssuer {
		t.Errorf("expected default issuer, got %v", cfg.Security.OIDC.Issuers)
	}
	if cfg.Idempotency.TTL != defaultIdempotencyTTL {
		t.Errorf("unexpected idempotency ttl %s", cfg.Idempotency.TTL)
	}
}

func TestLoadWithOverridesAndSecrets(t *testing.T) {
	env := map[string]string{
		"PRINTDESK_SERVER_PORT":                    "9090",
		"PRINTDESK_SERVER_READ_TIMEOUT":            "20s",
		"PRINTDESK_FIREBASE_PROJECT_ID":            "printdesk-prod",
		"PRINTDESK_FIRESTORE_PROJECT_ID":           "printdesk-db",
		"PRINTDESK_STORAGE_DOCUMENTS_BUCKET":       "docs-prod",
		"PRINTDESK_STORAGE_MAX_UPLOAD_BYTES":       "1048576",
		"PRINTDESK_PUBSUB_ORDER_EVENTS_TOPIC":      "order-events",
		"PRINTDESK_PAYMENTS_STRIPE_API_KEY":        "secret://stripe/api",
		"PRINTDESK_PAYMENTS_STRIPE_WEBHOOK_SECRET": "sm://stripe/webhook",
		"PRINTDESK_PAYMENTS_CURRENCY":              "usd",
		"PRINTDESK_SHOP_FALLBACK_BW_PRICE":         "1.50",
		"PRINTDESK_SHOP_FALLBACK_COLOR_PRICE":      "6",
		"PRINTDESK_SHOP_OPEN_BY_DEFAULT":           "yes",
		"PRINTDESK_SESSION_IDLE_TTL":               "30m",
		"PRINTDESK_SESSION_MAX_PAGE_COUNT":         "500",
		"PRINTDESK_OIDC_AUDIENCE":                  "https://printdesk.example.com",
		"PRINTDESK_OIDC_ISSUERS":                   "https://accounts.google.com, https://cloud.google.com/iap",
		"PRINTDESK_IDEMPOTENCY_HEADER":             "X-Idem-Key",
	}
	secrets := map[string]string{
		"secret://stripe/api":     "sk_test_key",
		"secret://stripe/webhook": "whsec_test",
	}
	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		if v, ok := secrets[ref]; ok {
			return v, nil
		}
		return "", errors.New("not found")
	})

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""), WithSecretResolver(resolver))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "9090" || cfg.Server.ReadTimeout != 20*time.Second {
		t.Errorf("unexpected server config %+v", cfg.Server)
	}
	if cfg.Firestore.ProjectID != "printdesk-db" {
		t.Errorf("unexpected firestore project %s", cfg.Firestore.ProjectID)
	}
	if cfg.Storage.MaxUploadBytes != 1<<20 {
		t.Errorf("unexpected upload limit %d", cfg.Storage.MaxUploadBytes)
	}
	if cfg.Payments.StripeAPIKey != "sk_test_key" || cfg.Payments.StripeWebhookSecret != "whsec_test" {
		t.Errorf("secrets not resolved: %+v", cfg.Payments)
	}
	if cfg.Payments.Currency != "USD" {
		t.Errorf("expected upper-cased currency, got %s", cfg.Payments.Currency)
	}
	if !cfg.Shop.FallbackBWPrice.Equal(decimal.RequireFromString("1.5")) {
		t.Errorf("unexpected bw price %s", cfg.Shop.FallbackBWPrice)
	}
	if !cfg.Shop.FallbackColorPrice.Equal(decimal.NewFromInt(6)) {
		t.Errorf("unexpected color price %s", cfg.Shop.FallbackColorPrice)
	}
	if !cfg.Shop.OpenByDefault {
		t.Errorf("expected shop open by default")
	}
	if cfg.Sessions.IdleTTL != 30*time.Minute {
		t.Errorf("unexpected session ttl %s", cfg.Sessions.IdleTTL)
	}
	if cfg.Sessions.MaxPageCount != 500 {
		t.Errorf("unexpected max page count %d", cfg.Sessions.MaxPageCount)
	}
	if len(cfg.Security.OIDC.Issuers) != 2 {
		t.Errorf("unexpected issuers %v", cfg.Security.OIDC.Issuers)
	}
	if cfg.Idempotency.Header != "X-Idem-Key" {
		t.Errorf("unexpected idempotency header %s", cfg.Idempotency.Header)
	}
}

func TestLoadMissingRequiredFields(t *testing.T) {
	_, err := Load(context.Background(), WithEnvMap(map[string]string{
		"PRINTDESK_PAYMENTS_CURRENCY":      "NOPE",
		"PRINTDESK_SHOP_FALLBACK_BW_PRICE": "-1",
	}), WithoutSystemEnv(), WithEnvFile(""))
	if err == nil {
		t.Fatal("expected validation error")
	}

	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError, got %T", err)
	}
	fields := map[string]bool{}
	for _, f := range vErr.Fields() {
		fields[f] = true
	}
	for _, want := range []string{"Firebase.ProjectID", "Firestore.ProjectID", "Storage.DocumentsBucket", "Payments.Currency", "PRINTDESK_SHOP_FALLBACK_BW_PRICE"} {
		if !fields[want] {
			t.Errorf("expected %s in validation fields %v", want, vErr.Fields())
		}
	}
}

func TestLoadSecretResolutionFailure(t *testing.T) {
	env := map[string]string{
		"PRINTDESK_FIREBASE_PROJECT_ID":      "printdesk-dev",
		"PRINTDESK_STORAGE_DOCUMENTS_BUCKET": "docs",
		"PRINTDESK_PAYMENTS_STRIPE_API_KEY":  "secret://stripe/api",
	}

	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	var secretErr *SecretError
	if !errors.As(err, &secretErr) {
		t.Fatalf("expected SecretError, got %v", err)
	}
	if secretErr.Ref != "secret://stripe/api" {
		t.Fatalf("unexpected ref %s", secretErr.Ref)
	}
}

func TestLoadReadsDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	content := "# local overrides\nexport PRINTDESK_FIREBASE_PROJECT_ID=\"from-file\"\nPRINTDESK_STORAGE_DOCUMENTS_BUCKET=file-bucket\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}

	cfg, err := Load(context.Background(), WithEnvFile(path), WithoutSystemEnv(), WithEnvMap(map[string]string{
		"PRINTDESK_STORAGE_DOCUMENTS_BUCKET": "map-bucket",
	}))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Firebase.ProjectID != "from-file" {
		t.Errorf("expected project from .env, got %s", cfg.Firebase.ProjectID)
	}
	if cfg.Storage.DocumentsBucket != "map-bucket" {
		t.Errorf("explicit map should win over .env, got %s", cfg.Storage.DocumentsBucket)
	}
}
