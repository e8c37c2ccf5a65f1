// Command paymentrelay is a Cloud Function that applies payment confirmations from Pub/Sub to
// stored orders.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"cloud.google.com/go/pubsub"
	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	cloudevents "github.com/cloudevents/sdk-go/v2"
	"go.uber.org/zap"

	"github.com/printdesk/api/internal/paymentrelay"
	"github.com/printdesk/api/internal/platform/config"
	pfirestore "github.com/printdesk/api/internal/platform/firestore"
	"github.com/printdesk/api/internal/platform/jobs"
	"github.com/printdesk/api/internal/platform/observability"
	firestorerepo "github.com/printdesk/api/internal/repositories/firestore"
	"github.com/printdesk/api/internal/services"
)

var (
	relay   *paymentrelay.Relay
	logger  *zap.Logger
	once    sync.Once
	initErr error
)

func init() {
	functions.CloudEvent("RelayPayment", relayPayment)
}

// main is required by the Functions Framework; the function is registered in init.
func main() {}

func relayPayment(ctx context.Context, e cloudevents.Event) error {
	once.Do(func() {
		relay, initErr = newRelay(context.Background())
	})
	if initErr != nil {
		return initErr
	}
	return relay.HandleEvent(observability.WithLogger(ctx, logger.With(zap.String("event_id", e.ID()))), e)
}

// newRelay builds the order store once per instance. Clients stay open for the lifetime of the
// instance.
func newRelay(ctx context.Context) (*paymentrelay.Relay, error) {
	base, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		base = zap.NewNop()
	}
	logger = base.Named("paymentrelay")

	cfg, err := config.Load(ctx, config.WithEnvFile(""))
	if err != nil {
		logger.Error("failed to load configuration", zap.Error(err))
		return nil, err
	}

	provider := pfirestore.NewProvider(cfg.Firestore)
	if _, err := provider.Client(ctx); err != nil {
		return nil, fmt.Errorf("firestore client: %w", err)
	}
	orders, err := firestorerepo.NewOrderRepository(provider, cfg.Firestore.OrdersCollection,
		firestorerepo.WithOrderWatchLimit(cfg.Firestore.OrdersWatchLimit))
	if err != nil {
		return nil, err
	}

	events := observability.EventLogger(logger)
	deps := services.OrderSyncDeps{Orders: orders, Logger: events}
	if topicID := strings.TrimSpace(cfg.PubSub.OrderEventsTopic); topicID != "" {
		client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("pubsub client: %w", err)
		}
		publisher, err := jobs.NewPubSubOrderEventPublisher(client.Topic(topicID), cfg.PubSub.EventSource)
		if err != nil {
			return nil, err
		}
		deps.Events = publisher
	}
	orderSync, err := services.NewOrderSync(deps)
	if err != nil {
		return nil, err
	}
	return paymentrelay.New(orderSync, events)
}
