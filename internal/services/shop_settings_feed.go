package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/googleapis/gax-go/v2"

	"github.com/printdesk/api/internal/repositories"
)

// ShopSettingsFeedDeps bundles collaborators for the shop settings feed.
type ShopSettingsFeedDeps struct {
	Repository repositories.ShopSettingsRepository
	// Fallback is served until the first snapshot arrives and while the settings document is missing.
	Fallback ShopSettings
	Backoff  gax.Backoff
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

// ShopSettingsFeed keeps the latest shop settings observed in the document store.
type ShopSettingsFeed struct {
	repo     repositories.ShopSettingsRepository
	fallback ShopSettings
	backoff  gax.Backoff
	logger   func(context.Context, string, map[string]any)

	mu      sync.RWMutex
	current ShopSettings
	live    bool
	subs    map[int]chan ShopSettings
	nextSub int
}

var _ ShopSettingsSource = (*ShopSettingsFeed)(nil)

// NewShopSettingsFeed constructs a feed serving the fallback until Run delivers a snapshot.
func NewShopSettingsFeed(deps ShopSettingsFeedDeps) (*ShopSettingsFeed, error) {
	if deps.Repository == nil {
		return nil, errors.New("shop settings feed: repository is required")
	}
	backoff := deps.Backoff
	if backoff.Initial <= 0 {
		backoff = defaultFeedBackoff()
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &ShopSettingsFeed{
		repo:     deps.Repository,
		fallback: deps.Fallback,
		backoff:  backoff,
		logger:   logger,
		current:  deps.Fallback,
		subs:     make(map[int]chan ShopSettings),
	}, nil
}

// Run observes the settings document until ctx is cancelled, restarting the listener on failure.
func (f *ShopSettingsFeed) Run(ctx context.Context) error {
	superviseFeed(ctx, f.backoff, func(ctx context.Context) error {
		return f.repo.Watch(ctx, func(settings ShopSettings, ok bool) error {
			f.apply(settings, ok)
			return nil
		})
	}, func(err error, pause time.Duration) {
		f.logger(ctx, "shop_settings.feed.restart", map[string]any{
			"error": errString(err),
			"pause": pause.String(),
		})
	})
	f.closeSubscribers()
	return nil
}

// Current returns the latest settings, or the fallback before the first snapshot.
func (f *ShopSettingsFeed) Current() ShopSettings {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.current
}

// Live reports whether Current reflects a stored settings document.
func (f *ShopSettingsFeed) Live() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.live
}

// Subscribe emits the current settings immediately and then every change until ctx ends.
func (f *ShopSettingsFeed) Subscribe(ctx context.Context) <-chan ShopSettings {
	ch := make(chan ShopSettings, 1)
	f.mu.Lock()
	id := f.nextSub
	f.nextSub++
	f.subs[id] = ch
	ch <- f.current
	f.mu.Unlock()

	go func() {
		<-ctx.Done()
		f.mu.Lock()
		if sub, ok := f.subs[id]; ok {
			delete(f.subs, id)
			close(sub)
		}
		f.mu.Unlock()
	}()
	return ch
}

func (f *ShopSettingsFeed) apply(settings ShopSettings, ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ok {
		f.current = settings
	} else {
		f.current = f.fallback
	}
	f.live = ok
	for _, ch := range f.subs {
		offerLatest(ch, f.current)
	}
}

func (f *ShopSettingsFeed) closeSubscribers() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, ch := range f.subs {
		delete(f.subs, id)
		close(ch)
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
