package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/printdesk/api/internal/domain"
)

type stubShopSettingsRepo struct {
	getFn   func(context.Context) (domain.ShopSettings, error)
	watchFn func(context.Context, func(domain.ShopSettings, bool) error) error
}

func (s *stubShopSettingsRepo) Get(ctx context.Context) (domain.ShopSettings, error) {
	if s.getFn != nil {
		return s.getFn(ctx)
	}
	return domain.ShopSettings{}, errors.New("not implemented")
}

func (s *stubShopSettingsRepo) Watch(ctx context.Context, emit func(domain.ShopSettings, bool) error) error {
	if s.watchFn != nil {
		return s.watchFn(ctx, emit)
	}
	<-ctx.Done()
	return ctx.Err()
}

func TestShopSettingsFeedServesFallbackThenLiveSettings(t *testing.T) {
	fallback := domain.ShopSettings{IsOpen: false, Pricing: domain.ShopPricing{BW: decimal.NewFromInt(1), Color: decimal.NewFromInt(3)}}
	live := domain.ShopSettings{IsOpen: true, Currency: "INR", Pricing: domain.ShopPricing{BW: decimal.NewFromInt(2), Color: decimal.NewFromInt(5)}}

	release := make(chan struct{})
	calls := 0
	repo := &stubShopSettingsRepo{watchFn: func(ctx context.Context, emit func(domain.ShopSettings, bool) error) error {
		calls++
		if calls == 1 {
			return errors.New("listen failed")
		}
		<-release
		_ = emit(live, true)
		<-ctx.Done()
		return ctx.Err()
	}}
	feed, err := NewShopSettingsFeed(ShopSettingsFeedDeps{Repository: repo, Fallback: fallback, Backoff: fastBackoff})
	if err != nil {
		t.Fatalf("NewShopSettingsFeed: %v", err)
	}
	if feed.Live() || feed.Current().IsOpen {
		t.Fatalf("expected fallback before first snapshot")
	}

	ctx, cancel := context.WithCancel(context.Background())
	updates := feed.Subscribe(ctx)
	if first := <-updates; !first.Pricing.BW.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("expected fallback as first emission, got %+v", first)
	}

	done := make(chan error, 1)
	go func() { done <- feed.Run(ctx) }()
	close(release)

	select {
	case next := <-updates:
		if !next.IsOpen || !next.Pricing.Color.Equal(decimal.NewFromInt(5)) {
			t.Fatalf("unexpected live settings %+v", next)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for live settings")
	}
	if !feed.Live() {
		t.Fatalf("expected feed to report live settings")
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestShopSettingsFeedRevertsToFallbackWhenDocumentMissing(t *testing.T) {
	fallback := domain.ShopSettings{IsOpen: true, Pricing: domain.ShopPricing{BW: decimal.NewFromInt(1)}}
	feed, err := NewShopSettingsFeed(ShopSettingsFeedDeps{Repository: &stubShopSettingsRepo{}, Fallback: fallback})
	if err != nil {
		t.Fatalf("NewShopSettingsFeed: %v", err)
	}
	feed.apply(domain.ShopSettings{IsOpen: false}, true)
	if feed.Current().IsOpen {
		t.Fatalf("expected live settings to apply")
	}
	feed.apply(domain.ShopSettings{}, false)
	if !feed.Current().IsOpen || feed.Live() {
		t.Fatalf("expected fallback after document removal, got %+v", feed.Current())
	}
}
