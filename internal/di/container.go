package di

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
	gcs "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/printdesk/api/internal/domain"
	"github.com/printdesk/api/internal/handlers"
	"github.com/printdesk/api/internal/payments"
	"github.com/printdesk/api/internal/platform/auth"
	"github.com/printdesk/api/internal/platform/config"
	pfirestore "github.com/printdesk/api/internal/platform/firestore"
	"github.com/printdesk/api/internal/platform/idempotency"
	"github.com/printdesk/api/internal/platform/jobs"
	"github.com/printdesk/api/internal/platform/observability"
	"github.com/printdesk/api/internal/platform/storage"
	"github.com/printdesk/api/internal/repositories"
	firestorerepo "github.com/printdesk/api/internal/repositories/firestore"
	"github.com/printdesk/api/internal/services"
)

const (
	stripeProviderKey = "stripe"
	jwksFetchTimeout  = 5 * time.Second
	probeTimeout      = 1500 * time.Millisecond
)

// Runner is a background loop that lives as long as the process.
type Runner struct {
	Name string
	Run  func(ctx context.Context) error
}

// Services bundles the service-layer implementations the handlers depend on.
type Services struct {
	Sessions  *services.SessionStore
	Shop      *services.ShopSettingsFeed
	Quotes    services.QuoteService
	Assembler services.OrderAssembler
	Orders    services.OrderSync
	// Payments is nil when no gateway is configured.
	Payments services.PaymentService
	System   services.SystemService
}

// Container holds the wired runtime: the HTTP handler, background runners and the clients that
// must be closed on shutdown.
type Container struct {
	Config   config.Config
	Services Services
	Router   http.Handler
	Runners  []Runner

	logger  *zap.Logger
	closers []func(context.Context) error
}

// NewContainer connects to Firestore, Cloud Storage and Pub/Sub and assembles services and routes.
// A partially built container is closed before an error is returned.
func NewContainer(ctx context.Context, cfg config.Config, logger *zap.Logger, build services.BuildInfo) (_ *Container, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Container{Config: cfg, logger: logger}
	defer func() {
		if err != nil {
			_ = c.Close(context.Background())
		}
	}()
	events := observability.EventLogger(logger)

	provider := pfirestore.NewProvider(cfg.Firestore)
	if _, err := provider.Client(ctx); err != nil {
		return nil, fmt.Errorf("firestore client: %w", err)
	}
	c.closers = append(c.closers, provider.Close)

	storageClient, err := gcs.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("storage client: %w", err)
	}
	c.closers = append(c.closers, func(context.Context) error { return storageClient.Close() })
	uploader, err := storage.NewUploader(storageClient, cfg.Storage)
	if err != nil {
		return nil, err
	}

	var publisher services.OrderEventPublisher
	if topicID := strings.TrimSpace(cfg.PubSub.OrderEventsTopic); topicID != "" {
		psClient, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("pubsub client: %w", err)
		}
		topic := psClient.Topic(topicID)
		c.closers = append(c.closers, func(context.Context) error {
			topic.Stop()
			return psClient.Close()
		})
		pub, err := jobs.NewPubSubOrderEventPublisher(topic, cfg.PubSub.EventSource)
		if err != nil {
			return nil, err
		}
		publisher = pub
	} else {
		logger.Warn("order events disabled: no pubsub topic configured")
	}

	orderRepo, err := firestorerepo.NewOrderRepository(provider, cfg.Firestore.OrdersCollection,
		firestorerepo.WithOrderWatchLimit(cfg.Firestore.OrdersWatchLimit))
	if err != nil {
		return nil, err
	}
	shopRepo, err := firestorerepo.NewShopSettingsRepository(provider, cfg.Firestore.ShopSettingsCollection, cfg.Shop.SettingsDocumentID)
	if err != nil {
		return nil, err
	}

	svc, err := buildServices(cfg, events, orderRepo, shopRepo, uploader, publisher)
	if err != nil {
		return nil, err
	}

	var gateway *payments.Manager
	if strings.TrimSpace(cfg.Payments.StripeAPIKey) != "" {
		gateway, svc.Payments, err = buildPayments(cfg, events, orderRepo, svc.Orders)
		if err != nil {
			return nil, err
		}
	} else {
		logger.Warn("payments disabled: no stripe api key configured")
	}

	health, err := repositories.NewProbeHealthRepository([]repositories.Probe{
		{Name: "firestore", Timeout: probeTimeout, Check: func(ctx context.Context) error {
			_, err := shopRepo.Get(ctx)
			var repoErr repositories.RepositoryError
			if errors.As(err, &repoErr) && repoErr.IsNotFound() {
				return nil
			}
			return err
		}},
		{Name: "storage", Timeout: probeTimeout, Check: uploader.Ping},
	})
	if err != nil {
		return nil, err
	}
	svc.System, err = services.NewSystemService(services.SystemServiceDeps{
		HealthRepository: health,
		ShopFeed:         svc.Shop,
		Build:            build,
	})
	if err != nil {
		return nil, err
	}
	c.Services = svc

	router, err := c.buildRouter(ctx, provider, gateway, events, build)
	if err != nil {
		return nil, err
	}
	c.Router = router

	c.Runners = []Runner{
		{Name: "shop-settings-feed", Run: svc.Shop.Run},
		{Name: "session-sweeper", Run: func(ctx context.Context) error {
			return svc.Sessions.Run(ctx, cfg.Sessions.SweepInterval)
		}},
	}
	return c, nil
}

func buildServices(
	cfg config.Config,
	events func(context.Context, string, map[string]any),
	orders repositories.OrderRepository,
	shopRepo repositories.ShopSettingsRepository,
	uploader services.DocumentStore,
	publisher services.OrderEventPublisher,
) (Services, error) {
	var svc Services
	var err error

	svc.Shop, err = services.NewShopSettingsFeed(services.ShopSettingsFeedDeps{
		Repository: shopRepo,
		Fallback: domain.ShopSettings{
			ShopID:   cfg.Shop.SettingsDocumentID,
			IsOpen:   cfg.Shop.OpenByDefault,
			Pricing:  domain.ShopPricing{BW: cfg.Shop.FallbackBWPrice, Color: cfg.Shop.FallbackColorPrice},
			Currency: cfg.Payments.Currency,
		},
		Logger: events,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build shop settings feed: %w", err)
	}

	svc.Sessions = services.NewSessionStore(services.SessionStoreDeps{
		IdleTTL:          cfg.Sessions.IdleTTL,
		MaxDocuments:     cfg.Sessions.MaxDocuments,
		MaxPageCount:     cfg.Sessions.MaxPageCount,
		MaxDocumentBytes: cfg.Storage.MaxUploadBytes,
		Logger:           events,
	})

	svc.Quotes, err = services.NewQuoteService(services.QuoteServiceDeps{
		Sessions: svc.Sessions,
		Shop:     svc.Shop,
		Currency: cfg.Payments.Currency,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build quote service: %w", err)
	}

	svc.Orders, err = services.NewOrderSync(services.OrderSyncDeps{
		Orders: orders,
		Events: publisher,
		Logger: events,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order sync: %w", err)
	}

	svc.Assembler, err = services.NewOrderAssembler(services.OrderAssemblerDeps{
		Orders:    orders,
		Documents: uploader,
		Shop:      svc.Shop,
		Events:    publisher,
		Logger:    events,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order assembler: %w", err)
	}
	return svc, nil
}

func buildPayments(
	cfg config.Config,
	events func(context.Context, string, map[string]any),
	orders repositories.OrderRepository,
	sync services.OrderSync,
) (*payments.Manager, services.PaymentService, error) {
	stripeProvider, err := payments.NewStripeProvider(payments.StripeProviderConfig{
		APIKey:        cfg.Payments.StripeAPIKey,
		WebhookSecret: cfg.Payments.StripeWebhookSecret,
		AccountID:     cfg.Payments.StripeAccountID,
		Logger:        payments.StripeLogger(events),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("build stripe provider: %w", err)
	}
	manager, err := payments.NewManager(
		map[string]payments.Provider{stripeProviderKey: stripeProvider},
		payments.WithDefaultProvider(stripeProviderKey),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("build payment manager: %w", err)
	}
	paymentSvc, err := services.NewPaymentService(services.PaymentServiceDeps{
		Orders:   orders,
		Sync:     sync,
		Gateway:  manager,
		Currency: cfg.Payments.Currency,
		Logger:   events,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("build payment service: %w", err)
	}

	timeout := cfg.Payments.HandlerTimeout
	manager.OnResult(func(ctx context.Context, result payments.ChargeResult) error {
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		return paymentSvc.HandleChargeResult(ctx, result)
	})
	return manager, paymentSvc, nil
}

func (c *Container) buildRouter(
	ctx context.Context,
	provider *pfirestore.Provider,
	gateway *payments.Manager,
	events func(context.Context, string, map[string]any),
	build services.BuildInfo,
) (http.Handler, error) {
	cfg := c.Config
	svc := c.Services

	firebaseClient, err := auth.NewFirebaseClient(ctx, cfg.Firebase, 0)
	if err != nil {
		return nil, fmt.Errorf("firebase auth: %w", err)
	}
	authn := auth.NewAuthenticator(firebaseClient, auth.WithUserGetter(firebaseClient))

	submitIdempotency := idempotency.Middleware(
		idempotency.NewFirestoreStore(provider, cfg.Firestore.IdempotencyCollection),
		idempotency.Options{
			Header: cfg.Idempotency.Header,
			TTL:    cfg.Idempotency.TTL,
			Logger: events,
		},
	)

	sessionHandlers := handlers.NewSessionHandlers(authn, svc.Sessions, svc.Quotes, svc.Assembler,
		handlers.WithSubmitIdempotency(submitIdempotency),
		handlers.WithMaxUploadBytes(cfg.Storage.MaxUploadBytes),
		handlers.WithUploadRateLimit(cfg.Sessions.UploadsPerMinute, time.Minute, nil),
		handlers.WithSessionLogger(events),
	)
	orderHandlers := handlers.NewOrderHandlers(authn, svc.Orders, svc.Payments)

	opts := []handlers.Option{
		handlers.WithMiddlewares(
			observability.TraceMiddleware(traceProjectID(cfg)),
			observability.InjectLoggerMiddleware(c.logger.Named("http")),
			observability.RequestLoggerMiddleware(),
			observability.RecoveryMiddleware(c.logger),
		),
		handlers.WithHealthHandlers(handlers.NewHealthHandlers(
			handlers.WithHealthSystemService(svc.System),
			handlers.WithHealthBuildInfo(build),
		)),
		handlers.WithSessionRoutes(sessionHandlers.Routes),
		handlers.WithOrderRoutes(orderHandlers.Routes),
	}

	if gateway != nil {
		paymentHandlers := handlers.NewPaymentHandlers(gateway, svc.Payments, events)
		opts = append(opts, handlers.WithWebhookRoutes(paymentHandlers.WebhookRoutes))

		if audience := strings.TrimSpace(cfg.Security.OIDC.Audience); audience != "" {
			jwks := auth.NewJWKSCache(cfg.Security.OIDC.JWKSURL, &http.Client{Timeout: jwksFetchTimeout}, time.Now)
			internalAuth := auth.NewInternalAuthenticator(jwks, audience, cfg.Security.OIDC.Issuers, events)
			opts = append(opts,
				handlers.WithInternalRoutes(paymentHandlers.InternalRoutes),
				handlers.WithInternalMiddlewares(internalAuth.RequireInternalCaller()),
			)
		} else {
			c.logger.Warn("internal routes disabled: no oidc audience configured")
		}
	}

	return handlers.NewRouter(opts...), nil
}

// Close releases clients in reverse order of creation.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firebase.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}
