package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	jwt "github.com/golang-jwt/jwt/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	// ErrJWKSKeyNotFound is returned when the requested key ID is absent from the JWKS document.
	ErrJWKSKeyNotFound = errors.New("auth: jwks key not found")
	// ErrJWKSFetchFailed wraps transport or decoding errors while refreshing JWKS.
	ErrJWKSFetchFailed = errors.New("auth: jwks fetch failed")
)

const (
	defaultJWKSRefreshInterval = 15 * time.Minute
	defaultJWKSFetchTimeout    = 5 * time.Second
	authMetricNamespace        = "github.com/printdesk/api/internal/platform/auth"
)

// JWKSCache fetches and caches the signing keys of the internal caller's identity provider.
type JWKSCache struct {
	url             string
	client          *http.Client
	now             func() time.Time
	refreshInterval time.Duration

	mu     sync.RWMutex
	keys   map[string]jose.JSONWebKey
	expiry time.Time

	refreshMu sync.Mutex
}

// NewJWKSCache constructs a cache for the JWKS document at url. A nil client uses a client with a
// short timeout.
func NewJWKSCache(url string, client *http.Client, now func() time.Time) *JWKSCache {
	if client == nil {
		client = &http.Client{Timeout: defaultJWKSFetchTimeout}
	}
	if now == nil {
		now = time.Now
	}
	return &JWKSCache{url: url, client: client, now: now, refreshInterval: defaultJWKSRefreshInterval}
}

// Keyfunc returns a jwt.Keyfunc resolving RS256 keys by kid.
func (c *JWKSCache) Keyfunc(ctx context.Context) jwt.Keyfunc {
	return func(token *jwt.Token) (any, error) {
		kid, _ := token.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("auth: token missing kid header")
		}
		return c.Key(ctx, kid)
	}
}

// Key resolves the public key for kid, refreshing the key set when it is stale or the key is
// unknown (rotation).
func (c *JWKSCache) Key(ctx context.Context, kid string) (any, error) {
	if key, ok := c.cachedKey(kid); ok {
		return key, nil
	}
	if err := c.refresh(ctx); err != nil {
		return nil, err
	}
	if key, ok := c.cachedKey(kid); ok {
		return key, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrJWKSKeyNotFound, kid)
}

func (c *JWKSCache) cachedKey(kid string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.now().After(c.expiry) {
		return nil, false
	}
	jwk, ok := c.keys[kid]
	if !ok {
		return nil, false
	}
	return jwk.Key, true
}

func (c *JWKSCache) refresh(ctx context.Context) error {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrJWKSFetchFailed, err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrJWKSFetchFailed, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: unexpected status %d", ErrJWKSFetchFailed, resp.StatusCode)
	}

	var set jose.JSONWebKeySet
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return fmt.Errorf("%w: decode jwks: %v", ErrJWKSFetchFailed, err)
	}
	keys := make(map[string]jose.JSONWebKey, len(set.Keys))
	for _, jwk := range set.Keys {
		if jwk.KeyID == "" || !jwk.Valid() || !jwk.IsPublic() {
			continue
		}
		keys[jwk.KeyID] = jwk
	}
	if len(keys) == 0 {
		return fmt.Errorf("%w: empty key set", ErrJWKSFetchFailed)
	}

	validity := c.refreshInterval
	if maxAge := parseMaxAge(resp.Header.Get("Cache-Control")); maxAge > 0 {
		validity = maxAge
	}

	c.mu.Lock()
	c.keys = keys
	c.expiry = c.now().Add(validity)
	c.mu.Unlock()
	return nil
}

func parseMaxAge(header string) time.Duration {
	for _, part := range strings.Split(header, ",") {
		name, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok || !strings.EqualFold(name, "max-age") {
			continue
		}
		seconds, err := strconv.Atoi(strings.TrimSpace(value))
		if err == nil && seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
	}
	return 0
}

// ServiceIdentity describes the verified internal caller (payment relay, scheduler).
type ServiceIdentity struct {
	Subject string
	Email   string
	Issuer  string
}

type serviceIdentityContextKey struct{}

// WithServiceIdentity attaches the verified service identity to the request context.
func WithServiceIdentity(ctx context.Context, identity *ServiceIdentity) context.Context {
	return context.WithValue(ctx, serviceIdentityContextKey{}, identity)
}

// ServiceIdentityFromContext retrieves the identity stored by the middleware.
func ServiceIdentityFromContext(ctx context.Context) (*ServiceIdentity, bool) {
	identity, ok := ctx.Value(serviceIdentityContextKey{}).(*ServiceIdentity)
	if !ok || identity == nil {
		return nil, false
	}
	return identity, true
}

// InternalAuthenticator validates Google-signed OIDC tokens presented on /internal routes.
type InternalAuthenticator struct {
	cache         *JWKSCache
	audience      string
	issuers       []string
	logger        func(ctx context.Context, event string, fields map[string]any)
	verifications metric.Int64Counter
}

// NewInternalAuthenticator constructs the validator. Requests are rejected while audience is empty.
func NewInternalAuthenticator(cache *JWKSCache, audience string, issuers []string, logger func(context.Context, string, map[string]any)) *InternalAuthenticator {
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	allowed := make([]string, 0, len(issuers))
	for _, issuer := range issuers {
		if issuer = strings.TrimSpace(issuer); issuer != "" {
			allowed = append(allowed, issuer)
		}
	}
	counter, err := otel.GetMeterProvider().Meter(authMetricNamespace).Int64Counter(
		"auth.internal.verifications",
		metric.WithDescription("Internal caller token verifications by outcome"),
	)
	if err != nil {
		logger(context.Background(), "auth.metrics.unavailable", map[string]any{"error": err.Error()})
	}
	return &InternalAuthenticator{
		cache:         cache,
		audience:      strings.TrimSpace(audience),
		issuers:       allowed,
		logger:        logger,
		verifications: counter,
	}
}

// RequireInternalCaller enforces a valid OIDC bearer token bound to the configured audience.
func (v *InternalAuthenticator) RequireInternalCaller() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			identity, status, reason := v.verify(ctx, r.Header.Get("Authorization"))
			v.record(ctx, reason)
			if identity == nil {
				v.logger(ctx, "auth.internal.rejected", map[string]any{"reason": reason})
				respondAuthError(ctx, w, status, "invalid_token", "internal caller verification failed")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithServiceIdentity(ctx, identity)))
		})
	}
}

func (v *InternalAuthenticator) verify(ctx context.Context, header string) (*ServiceIdentity, int, string) {
	if v == nil || v.cache == nil || v.audience == "" {
		return nil, http.StatusServiceUnavailable, "not_configured"
	}
	tokenStr, ok := extractBearerToken(header)
	if !ok {
		return nil, http.StatusUnauthorized, "token_missing"
	}

	claims := jwt.MapClaims{}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}))
	if _, err := parser.ParseWithClaims(tokenStr, claims, v.cache.Keyfunc(ctx)); err != nil {
		if errors.Is(err, ErrJWKSFetchFailed) {
			return nil, http.StatusServiceUnavailable, "jwks_unavailable"
		}
		return nil, http.StatusUnauthorized, "token_invalid"
	}
	issuer, _ := claims["iss"].(string)
	if len(v.issuers) > 0 && !slices.Contains(v.issuers, issuer) {
		return nil, http.StatusUnauthorized, "issuer_mismatch"
	}
	if !claims.VerifyAudience(v.audience, true) {
		return nil, http.StatusUnauthorized, "audience_mismatch"
	}

	subject, _ := claims["sub"].(string)
	email, _ := claims["email"].(string)
	return &ServiceIdentity{Subject: subject, Email: email, Issuer: issuer}, http.StatusOK, "ok"
}

func (v *InternalAuthenticator) record(ctx context.Context, reason string) {
	if v == nil || v.verifications == nil {
		return
	}
	v.verifications.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}
