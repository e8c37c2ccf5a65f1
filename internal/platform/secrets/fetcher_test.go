package secrets

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type fakeSecretClient struct {
	mu     sync.Mutex
	values map[string]string
	err    error
	calls  map[string]int
}

func newFakeSecretClient() *fakeSecretClient {
	return &fakeSecretClient{values: map[string]string{}, calls: map[string]int{}}
}

func (c *fakeSecretClient) AccessSecretVersion(_ context.Context, req *secretmanagerpb.AccessSecretVersionRequest, _ ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls[req.GetName()]++
	if c.err != nil {
		return nil, c.err
	}
	value, ok := c.values[req.GetName()]
	if !ok {
		return nil, status.Error(codes.NotFound, "missing")
	}
	return &secretmanagerpb.AccessSecretVersionResponse{Payload: &secretmanagerpb.SecretPayload{Data: []byte(value)}}, nil
}

func (c *fakeSecretClient) Close() error { return nil }

func (c *fakeSecretClient) callCount(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[name]
}

func TestResolveCachesUntilTTL(t *testing.T) {
	ctx := context.Background()
	client := newFakeSecretClient()
	resource := "projects/shop/secrets/stripe_api_key/versions/latest"
	client.values[resource] = "sk_test_1"

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	fetcher, err := NewFetcher(ctx, withClient(client), WithProject("shop"), WithCacheTTL(time.Minute),
		WithFallbackFile(""), withClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("new fetcher: %v", err)
	}

	for i := 0; i < 2; i++ {
		got, err := fetcher.ResolveSecret(ctx, "secret://stripe_api_key")
		if err != nil || got != "sk_test_1" {
			t.Fatalf("resolve: %q %v", got, err)
		}
	}
	if calls := client.callCount(resource); calls != 1 {
		t.Fatalf("expected one remote call, got %d", calls)
	}

	client.values[resource] = "sk_test_2"
	now = now.Add(2 * time.Minute)
	got, err := fetcher.ResolveSecret(ctx, "secret://stripe_api_key")
	if err != nil || got != "sk_test_2" {
		t.Fatalf("expected rotated key after ttl, got %q %v", got, err)
	}
}

func TestResolveHonoursVersionAndProject(t *testing.T) {
	ctx := context.Background()
	client := newFakeSecretClient()
	client.values["projects/other/secrets/webhook/versions/3"] = "whsec_3"

	fetcher, _ := NewFetcher(ctx, withClient(client), WithProject("shop"), WithFallbackFile(""))
	got, err := fetcher.ResolveSecret(ctx, "sm://webhook?version=3&project=other")
	if err != nil || got != "whsec_3" {
		t.Fatalf("resolve: %q %v", got, err)
	}
}

func TestResolveFallsBackWhenUnavailable(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, ".secrets.local")
	content := "# local\nsecret://stripe_api_key=sk_local\nsm://webhook=whsec_local\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write fallback: %v", err)
	}

	client := newFakeSecretClient()
	client.err = status.Error(codes.PermissionDenied, "denied")
	fetcher, _ := NewFetcher(ctx, withClient(client), WithProject("shop"), WithFallbackFile(path))

	got, err := fetcher.ResolveSecret(ctx, "secret://stripe_api_key")
	if err != nil || got != "sk_local" {
		t.Fatalf("expected fallback value, got %q %v", got, err)
	}
	if _, err := fetcher.ResolveSecret(ctx, "secret://missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestResolveSurfacesHardFailures(t *testing.T) {
	ctx := context.Background()
	client := newFakeSecretClient()
	client.err = status.Error(codes.InvalidArgument, "bad name")
	fetcher, _ := NewFetcher(ctx, withClient(client), WithProject("shop"), WithFallbackFile(""))

	if _, err := fetcher.ResolveSecret(ctx, "secret://stripe_api_key"); err == nil || errors.Is(err, ErrNotFound) {
		t.Fatalf("expected access error, got %v", err)
	}
}

func TestResolveWithoutProjectUsesFallbackOnly(t *testing.T) {
	ctx := context.Background()
	client := newFakeSecretClient()
	fetcher, _ := NewFetcher(ctx, withClient(client), WithFallbackFile(""))

	if _, err := fetcher.ResolveSecret(ctx, "secret://stripe_api_key"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if calls := len(client.calls); calls != 0 {
		t.Fatalf("expected no remote calls, got %d", calls)
	}
}

func TestInvalidateForcesRefetch(t *testing.T) {
	ctx := context.Background()
	client := newFakeSecretClient()
	resource := "projects/shop/secrets/k/versions/latest"
	client.values[resource] = "v1"
	fetcher, _ := NewFetcher(ctx, withClient(client), WithProject("shop"), WithFallbackFile(""))

	_, _ = fetcher.ResolveSecret(ctx, "secret://k")
	fetcher.Invalidate("secret://k")
	_, _ = fetcher.ResolveSecret(ctx, "secret://k")
	if calls := client.callCount(resource); calls != 2 {
		t.Fatalf("expected refetch after invalidate, got %d calls", calls)
	}
}

func TestParseReferenceRejectsOtherSchemes(t *testing.T) {
	for _, ref := range []string{"", "https://x", "secret://"} {
		if _, err := parseReference(ref); err == nil {
			t.Fatalf("expected error for %q", ref)
		}
	}
}
