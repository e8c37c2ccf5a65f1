package config

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
)

const (
	defaultEnvFile            = ".env"
	defaultPort               = "8080"
	defaultReadTimeout        = 15 * time.Second
	defaultWriteTimeout       = 0
	defaultIdleTimeout        = 120 * time.Second
	defaultOrdersCollection   = "orders"
	defaultShopCollection     = "shop_settings"
	defaultShopDocument       = "default"
	defaultIdemCollection     = "idempotency_keys"
	defaultOrdersWatchLimit   = 200
	defaultMaxUploadBytes     = 50 << 20
	defaultEventSource        = "//printdesk/api"
	defaultCurrency           = "INR"
	defaultSessionIdleTTL     = 2 * time.Hour
	defaultSessionMaxDocs     = 20
	defaultSessionSweep       = time.Minute
	defaultUploadsPerMinute   = 30
	defaultSessionMaxPages    = 10000
	defaultEnvironment        = "local"
	defaultOIDCJWKSURL        = "https://www.googleapis.com/oauth2/v3/certs"
	defaultOIDCIssuer         = "https://accounts.google.com"
	defaultIdempotencyHeader  = "Idempotency-Key"
	defaultIdempotencyTTL     = 24 * time.Hour
	defaultPaymentHandlerWait = 30 * time.Second
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server      ServerConfig
	Firebase    FirebaseConfig
	Firestore   FirestoreConfig
	Storage     StorageConfig
	PubSub      PubSubConfig
	Payments    PaymentsConfig
	Shop        ShopConfig
	Sessions    SessionConfig
	Security    SecurityConfig
	Idempotency IdempotencyConfig
}

// ServerConfig configures HTTP server parameters. A zero write timeout keeps order streams open.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// FirebaseConfig stores Firebase project settings.
type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
}

// FirestoreConfig stores database parameters and collection names.
type FirestoreConfig struct {
	ProjectID              string
	EmulatorHost           string
	OrdersCollection       string
	ShopSettingsCollection string
	IdempotencyCollection  string
	// OrdersWatchLimit caps how many of a customer's newest orders are listed and observed.
	OrdersWatchLimit int
}

// StorageConfig configures the bucket receiving uploaded documents.
type StorageConfig struct {
	DocumentsBucket string
	PublicBaseURL   string
	MaxUploadBytes  int64
}

// PubSubConfig configures order event publication.
type PubSubConfig struct {
	ProjectID        string
	OrderEventsTopic string
	EventSource      string
}

// PaymentsConfig collects payment gateway credentials.
type PaymentsConfig struct {
	StripeAPIKey        string
	StripeWebhookSecret string
	StripeAccountID     string
	Currency            string
	HandlerTimeout      time.Duration
}

// ShopConfig identifies the shop settings document and the pricing used before it is observed.
type ShopConfig struct {
	SettingsDocumentID string
	FallbackBWPrice    decimal.Decimal
	FallbackColorPrice decimal.Decimal
	OpenByDefault      bool
}

// SessionConfig bounds upload sessions. UploadsPerMinute caps uploads per customer; zero disables
// the limit. MaxPageCount caps counted and customer supplied page counts per document.
type SessionConfig struct {
	IdleTTL          time.Duration
	MaxDocuments     int
	MaxPageCount     int
	SweepInterval    time.Duration
	UploadsPerMinute int
}

// SecurityConfig groups server-to-server authentication settings.
type SecurityConfig struct {
	Environment string
	OIDC        OIDCConfig
}

// OIDCConfig controls Google-signed token verification for internal routes.
type OIDCConfig struct {
	JWKSURL  string
	Audience string
	Issuers  []string
}

// IdempotencyConfig controls the idempotency middleware on order submission.
type IdempotencyConfig struct {
	Header string
	TTL    time.Duration
}

// SecretResolver resolves references to external secrets (e.g. Secret Manager URIs).
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts ordinary functions to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret resolves the secret using the wrapped function.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// SecretError describes failures while resolving a secret reference.
type SecretError struct {
	Ref string
	Err error
}

func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

func (e *SecretError) Unwrap() error { return e.Err }

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile      string
	envMap       map[string]string
	useSystemEnv bool
	secret       SecretResolver
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects explicit values that take precedence over the system environment.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading from the process environment.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// WithSecretResolver sets the resolver used for secret:// and sm:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) {
		o.secret = resolver
	}
}

// Load assembles the configuration from defaults, .env overrides, environment variables and secret lookups.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
	}
	for _, opt := range opts {
		opt(&options)
	}

	dotEnv, err := loadDotEnv(options.envFile)
	if err != nil {
		return Config{}, err
	}

	lookup := func(key string) (string, bool) {
		if value, ok := options.envMap[key]; ok {
			return value, true
		}
		if options.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		value, ok := dotEnv[key]
		return value, ok
	}

	var invalid []string
	price := func(key, fallback string) decimal.Decimal {
		raw := stringWithDefault(lookup, key, fallback)
		value, err := decimal.NewFromString(raw)
		if err != nil || value.IsNegative() {
			invalid = append(invalid, key)
			return decimal.Zero
		}
		return value
	}

	cfg := Config{
		Server: ServerConfig{
			Port:         stringWithDefault(lookup, "PRINTDESK_SERVER_PORT", defaultPort),
			ReadTimeout:  durationWithDefault(lookup, "PRINTDESK_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: durationWithDefault(lookup, "PRINTDESK_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  durationWithDefault(lookup, "PRINTDESK_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
		},
		Firebase: FirebaseConfig{
			ProjectID:       stringWithDefault(lookup, "PRINTDESK_FIREBASE_PROJECT_ID", ""),
			CredentialsFile: stringWithDefault(lookup, "PRINTDESK_FIREBASE_CREDENTIALS_FILE", ""),
		},
		Firestore: FirestoreConfig{
			ProjectID:              stringWithDefault(lookup, "PRINTDESK_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost:           stringWithDefault(lookup, "PRINTDESK_FIRESTORE_EMULATOR_HOST", ""),
			OrdersCollection:       stringWithDefault(lookup, "PRINTDESK_FIRESTORE_ORDERS_COLLECTION", defaultOrdersCollection),
			ShopSettingsCollection: stringWithDefault(lookup, "PRINTDESK_FIRESTORE_SHOP_COLLECTION", defaultShopCollection),
			IdempotencyCollection:  stringWithDefault(lookup, "PRINTDESK_FIRESTORE_IDEMPOTENCY_COLLECTION", defaultIdemCollection),
			OrdersWatchLimit:       intWithDefault(lookup, "PRINTDESK_FIRESTORE_ORDERS_WATCH_LIMIT", defaultOrdersWatchLimit),
		},
		Storage: StorageConfig{
			DocumentsBucket: stringWithDefault(lookup, "PRINTDESK_STORAGE_DOCUMENTS_BUCKET", ""),
			PublicBaseURL:   stringWithDefault(lookup, "PRINTDESK_STORAGE_PUBLIC_BASE_URL", ""),
			MaxUploadBytes:  int64(intWithDefault(lookup, "PRINTDESK_STORAGE_MAX_UPLOAD_BYTES", defaultMaxUploadBytes)),
		},
		PubSub: PubSubConfig{
			ProjectID:        stringWithDefault(lookup, "PRINTDESK_PUBSUB_PROJECT_ID", ""),
			OrderEventsTopic: stringWithDefault(lookup, "PRINTDESK_PUBSUB_ORDER_EVENTS_TOPIC", ""),
			EventSource:      stringWithDefault(lookup, "PRINTDESK_PUBSUB_EVENT_SOURCE", defaultEventSource),
		},
		Payments: PaymentsConfig{
			StripeAPIKey:        stringWithDefault(lookup, "PRINTDESK_PAYMENTS_STRIPE_API_KEY", ""),
			StripeWebhookSecret: stringWithDefault(lookup, "PRINTDESK_PAYMENTS_STRIPE_WEBHOOK_SECRET", ""),
			StripeAccountID:     stringWithDefault(lookup, "PRINTDESK_PAYMENTS_STRIPE_ACCOUNT_ID", ""),
			Currency:            strings.ToUpper(stringWithDefault(lookup, "PRINTDESK_PAYMENTS_CURRENCY", defaultCurrency)),
			HandlerTimeout:      durationWithDefault(lookup, "PRINTDESK_PAYMENTS_HANDLER_TIMEOUT", defaultPaymentHandlerWait),
		},
		Shop: ShopConfig{
			SettingsDocumentID: stringWithDefault(lookup, "PRINTDESK_SHOP_SETTINGS_DOCUMENT", defaultShopDocument),
			FallbackBWPrice:    price("PRINTDESK_SHOP_FALLBACK_BW_PRICE", "0"),
			FallbackColorPrice: price("PRINTDESK_SHOP_FALLBACK_COLOR_PRICE", "0"),
			OpenByDefault:      boolWithDefault(lookup, "PRINTDESK_SHOP_OPEN_BY_DEFAULT", false),
		},
		Sessions: SessionConfig{
			IdleTTL:          durationWithDefault(lookup, "PRINTDESK_SESSION_IDLE_TTL", defaultSessionIdleTTL),
			MaxDocuments:     intWithDefault(lookup, "PRINTDESK_SESSION_MAX_DOCUMENTS", defaultSessionMaxDocs),
			MaxPageCount:     intWithDefault(lookup, "PRINTDESK_SESSION_MAX_PAGE_COUNT", defaultSessionMaxPages),
			SweepInterval:    durationWithDefault(lookup, "PRINTDESK_SESSION_SWEEP_INTERVAL", defaultSessionSweep),
			UploadsPerMinute: intWithDefault(lookup, "PRINTDESK_SESSION_UPLOADS_PER_MINUTE", defaultUploadsPerMinute),
		},
		Security: SecurityConfig{
			Environment: strings.ToLower(stringWithDefault(lookup, "PRINTDESK_ENVIRONMENT", defaultEnvironment)),
			OIDC: OIDCConfig{
				JWKSURL:  stringWithDefault(lookup, "PRINTDESK_OIDC_JWKS_URL", defaultOIDCJWKSURL),
				Audience: stringWithDefault(lookup, "PRINTDESK_OIDC_AUDIENCE", ""),
				Issuers:  csvWithDefault(lookup, "PRINTDESK_OIDC_ISSUERS"),
			},
		},
		Idempotency: IdempotencyConfig{
			Header: stringWithDefault(lookup, "PRINTDESK_IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:    durationWithDefault(lookup, "PRINTDESK_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
		},
	}

	if cfg.Firestore.ProjectID == "" {
		cfg.Firestore.ProjectID = cfg.Firebase.ProjectID
	}
	if cfg.PubSub.ProjectID == "" {
		cfg.PubSub.ProjectID = cfg.Firestore.ProjectID
	}
	if len(cfg.Security.OIDC.Issuers) == 0 {
		cfg.Security.OIDC.Issuers = []string{defaultOIDCIssuer}
	}

	secretFields := []*string{
		&cfg.Payments.StripeAPIKey,
		&cfg.Payments.StripeWebhookSecret,
	}
	for _, field := range secretFields {
		resolved, err := resolveSecret(ctx, *field, options.secret)
		if err != nil {
			return Config{}, err
		}
		*field = resolved
	}

	if err := validateConfig(cfg, invalid); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	if !isSecretReference(value) {
		return value, nil
	}
	normalized := normalizeSecretReference(value)
	if resolver == nil {
		return "", &SecretError{Ref: normalized, Err: errSecretResolverNotConfigured}
	}
	secret, err := resolver.ResolveSecret(ctx, normalized)
	if err != nil {
		return "", &SecretError{Ref: normalized, Err: err}
	}
	return secret, nil
}

func validateConfig(cfg Config, invalid []string) error {
	missing := append([]string(nil), invalid...)

	if cfg.Server.Port == "" {
		missing = append(missing, "Server.Port")
	}
	if cfg.Firebase.ProjectID == "" {
		missing = append(missing, "Firebase.ProjectID")
	}
	if cfg.Firestore.ProjectID == "" {
		missing = append(missing, "Firestore.ProjectID")
	}
	if cfg.Storage.DocumentsBucket == "" {
		missing = append(missing, "Storage.DocumentsBucket")
	}
	if cfg.Storage.MaxUploadBytes <= 0 {
		missing = append(missing, "Storage.MaxUploadBytes")
	}
	if _, err := currency.ParseISO(cfg.Payments.Currency); err != nil {
		missing = append(missing, "Payments.Currency")
	}
	if strings.TrimSpace(cfg.Shop.SettingsDocumentID) == "" {
		missing = append(missing, "Shop.SettingsDocumentID")
	}
	if cfg.Sessions.MaxDocuments <= 0 {
		missing = append(missing, "Sessions.MaxDocuments")
	}
	if cfg.Firestore.OrdersWatchLimit <= 0 {
		missing = append(missing, "Firestore.OrdersWatchLimit")
	}
	if cfg.Sessions.MaxPageCount <= 0 {
		missing = append(missing, "Sessions.MaxPageCount")
	}
	if cfg.Sessions.SweepInterval <= 0 {
		missing = append(missing, "Sessions.SweepInterval")
	}
	if cfg.Sessions.UploadsPerMinute < 0 {
		missing = append(missing, "Sessions.UploadsPerMinute")
	}
	if strings.TrimSpace(cfg.Idempotency.Header) == "" {
		missing = append(missing, "Idempotency.Header")
	}
	if cfg.Idempotency.TTL <= 0 {
		missing = append(missing, "Idempotency.TTL")
	}

	if len(missing) > 0 {
		return &ValidationError{fields: missing}
	}
	return nil
}

func isSecretReference(value string) bool {
	trimmed := strings.TrimSpace(value)
	return strings.HasPrefix(trimmed, "secret://") || strings.HasPrefix(trimmed, "sm://")
}

func normalizeSecretReference(value string) string {
	trimmed := strings.TrimSpace(value)
	if rest, ok := strings.CutPrefix(trimmed, "sm://"); ok {
		return "secret://" + rest
	}
	return trimmed
}

func loadDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}

	file, err := os.Open(absPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", absPath, err)
	}
	defer file.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		values[key] = strings.Trim(strings.TrimSpace(value), "\"'")
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: failed parsing %s: %w", absPath, err)
	}
	return values, nil
}

func stringWithDefault(lookup func(string) (string, bool), key, fallback string) string {
	if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func durationWithDefault(lookup func(string) (string, bool), key string, fallback time.Duration) time.Duration {
	if value, ok := lookup(key); ok && value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

func intWithDefault(lookup func(string) (string, bool), key string, fallback int) int {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return parsed
		}
	}
	return fallback
}

func boolWithDefault(lookup func(string) (string, bool), key string, fallback bool) bool {
	if value, ok := lookup(key); ok && value != "" {
		switch strings.ToLower(strings.TrimSpace(value)) {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off":
			return false
		}
	}
	return fallback
}

func csvWithDefault(lookup func(string) (string, bool), key string) []string {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
