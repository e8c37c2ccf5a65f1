package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	domain "github.com/printdesk/api/internal/domain"
	"github.com/printdesk/api/internal/platform/storage"
	"github.com/printdesk/api/internal/pricing"
	"github.com/printdesk/api/internal/repositories"
)

const (
	orderIDPrefix = "ord_"

	instrumentationName = "github.com/printdesk/api/internal/services"

	// Direct submissions skip payment and are printed ahead of orders waiting for payment.
	directQueuePriority  = 1
	paymentQueuePriority = 0
)

// SubmitStage enumerates the states reported while a submission runs.
type SubmitStage string

const (
	SubmitStageIdle       SubmitStage = "idle"
	SubmitStageValidating SubmitStage = "validating"
	SubmitStageUploading  SubmitStage = "uploading"
	SubmitStagePersisting SubmitStage = "persisting"
	SubmitStageCompleted  SubmitStage = "completed"
	SubmitStageFailed     SubmitStage = "failed"
)

// SubmitProgress is reported on every stage change and after each uploaded document.
type SubmitProgress struct {
	Stage     SubmitStage
	Completed int
	Total     int
	OrderID   string
	Err       error
}

// ProgressFunc receives submission progress. It runs on the submitting goroutine.
type ProgressFunc func(SubmitProgress)

// SubmitCommand carries the session documents to turn into an order.
type SubmitCommand struct {
	// SessionID scopes the single-flight guard. Submissions without one are guarded per customer.
	SessionID     string
	CustomerID    string
	CustomerPhone string
	// OrderID is optional; a ULID based ID is generated when empty.
	OrderID   string
	Documents []Document
	Progress  ProgressFunc
}

// SubmitResult is returned once the order has been persisted.
type SubmitResult struct {
	OrderID string
	Order   Order
}

// DocumentStore writes document blobs and returns where they can be fetched.
type DocumentStore interface {
	Put(ctx context.Context, obj storage.Object) (storage.StoredObject, error)
}

// OrderAssemblerDeps bundles collaborators required to construct the order assembler.
type OrderAssemblerDeps struct {
	Orders           repositories.OrderRepository
	Documents        DocumentStore
	Shop             ShopSettingsSource
	Events           OrderEventPublisher
	Clock            func() time.Time
	IDGenerator      func() string
	BatchIDGenerator func() string
	Logger           func(ctx context.Context, event string, fields map[string]any)
	Tracer           trace.Tracer
	Meter            metric.Meter
}

type orderAssembler struct {
	orders     repositories.OrderRepository
	documents  DocumentStore
	shop       ShopSettingsSource
	events     OrderEventPublisher
	clock      func() time.Time
	newID      func() string
	newBatchID func() string
	logger     func(context.Context, string, map[string]any)
	tracer     trace.Tracer
	metrics    assemblerMetrics
	guard      *submissionGuard
}

var _ OrderAssembler = (*orderAssembler)(nil)

// NewOrderAssembler wires dependencies into an OrderAssembler.
func NewOrderAssembler(deps OrderAssemblerDeps) (OrderAssembler, error) {
	if deps.Orders == nil {
		return nil, errors.New("order assembler: order repository is required")
	}
	if deps.Documents == nil {
		return nil, errors.New("order assembler: document store is required")
	}
	if deps.Shop == nil {
		return nil, errors.New("order assembler: shop settings source is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return orderIDPrefix + ulid.Make().String()
		}
	}
	batchGen := deps.BatchIDGenerator
	if batchGen == nil {
		batchGen = uuid.NewString
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	tracer := deps.Tracer
	if tracer == nil {
		tracer = otel.Tracer(instrumentationName)
	}
	meter := deps.Meter
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(instrumentationName)
	}

	return &orderAssembler{
		orders:    deps.Orders,
		documents: deps.Documents,
		shop:      deps.Shop,
		events:    deps.Events,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:      idGen,
		newBatchID: batchGen,
		logger:     logger,
		tracer:     tracer,
		metrics:    newAssemblerMetrics(meter, logger),
		guard:      newSubmissionGuard(),
	}, nil
}

func (a *orderAssembler) SubmitWithPayment(ctx context.Context, cmd SubmitCommand) (SubmitResult, error) {
	return a.submit(ctx, cmd, false)
}

func (a *orderAssembler) SubmitDirect(ctx context.Context, cmd SubmitCommand) (SubmitResult, error) {
	return a.submit(ctx, cmd, true)
}

func (a *orderAssembler) submit(ctx context.Context, cmd SubmitCommand, direct bool) (SubmitResult, error) {
	mode := "payment"
	if direct {
		mode = "direct"
	}
	report := progressReporter(cmd.Progress)

	release, ok := a.guard.acquire(guardKey(cmd))
	if !ok {
		return SubmitResult{}, ErrSubmissionInFlight
	}
	defer release()

	ctx, span := a.tracer.Start(ctx, "orders.submit", trace.WithAttributes(
		attribute.String("order.mode", mode),
		attribute.Int("order.documents", len(cmd.Documents)),
	))
	defer span.End()

	result, err := a.run(ctx, cmd, direct, report)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		report(SubmitProgress{Stage: SubmitStageFailed, Err: err})
		a.logger(ctx, "order.submit.failed", map[string]any{
			"mode":       mode,
			"customerId": cmd.CustomerID,
			"sessionId":  cmd.SessionID,
			"error":      err.Error(),
		})
	} else {
		span.SetAttributes(attribute.String("order.id", result.OrderID))
	}
	a.metrics.recordSubmission(ctx, mode, submissionOutcome(err))
	return result, err
}

func (a *orderAssembler) run(ctx context.Context, cmd SubmitCommand, direct bool, report ProgressFunc) (SubmitResult, error) {
	report(SubmitProgress{Stage: SubmitStageValidating, Total: len(cmd.Documents)})

	customerID := strings.TrimSpace(cmd.CustomerID)
	if customerID == "" {
		return SubmitResult{}, ErrOrderUnauthenticated
	}
	shop := a.shop.Current()
	if !shop.IsOpen {
		return SubmitResult{}, ErrShopClosed
	}
	if problems := submissionProblems(cmd.Documents); len(problems) > 0 {
		return SubmitResult{}, &ValidationError{Problems: problems}
	}

	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		orderID = a.newID()
	}

	stored, err := a.upload(ctx, orderID, customerID, cmd.Documents, report)
	if err != nil {
		return SubmitResult{}, err
	}

	report(SubmitProgress{Stage: SubmitStagePersisting, Completed: len(stored), Total: len(stored), OrderID: orderID})
	order := a.buildOrder(orderID, cmd, stored, shop.Pricing, direct)
	if err := a.persist(ctx, order); err != nil {
		return SubmitResult{}, err
	}

	a.logger(ctx, "order.submitted", map[string]any{
		"orderId":       order.ID,
		"customerId":    order.CustomerID,
		"documentCount": order.DocumentCount(),
		"pageCount":     order.PageCount,
		"amount":        order.PaymentAmount.String(),
		"paid":          order.IsPaid,
	})
	publishOrderEvent(ctx, a.events, a.logger, orderEventFrom(orderEventCreated, order, order.CreatedAt))

	report(SubmitProgress{Stage: SubmitStageCompleted, Completed: len(stored), Total: len(stored), OrderID: orderID})
	return SubmitResult{OrderID: order.ID, Order: order}, nil
}

type uploadedDocument struct {
	doc    Document
	object storage.StoredObject
}

// upload stores documents one at a time in insertion order. Blobs written before a failure are
// left in place.
func (a *orderAssembler) upload(ctx context.Context, orderID, customerID string, docs []Document, report ProgressFunc) ([]uploadedDocument, error) {
	ctx, span := a.tracer.Start(ctx, "orders.submit.upload")
	defer span.End()

	batchID := a.newBatchID()
	total := len(docs)
	report(SubmitProgress{Stage: SubmitStageUploading, Completed: 0, Total: total, OrderID: orderID})

	out := make([]uploadedDocument, 0, total)
	for i, doc := range docs {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrOrderUploadFailed, err)
		}
		if strings.TrimSpace(doc.ID) == "" {
			doc.ID = a.newBatchID()
		}
		path, err := storage.DocumentPath{
			CustomerID: customerID,
			BatchID:    batchID,
			DocumentID: doc.ID,
			FileName:   doc.Name,
		}.Build()
		if err != nil {
			return nil, fmt.Errorf("%w: document %d (%s): %w", ErrOrderUploadFailed, i+1, documentLabel(doc), err)
		}

		started := time.Now()
		object, err := a.documents.Put(ctx, storage.Object{
			Path:        path,
			ContentType: doc.ContentType,
			Content:     doc.Content,
			Metadata: map[string]string{
				"orderId":    orderID,
				"documentId": doc.ID,
			},
		})
		a.metrics.recordUpload(ctx, time.Since(started), int64(len(doc.Content)), err)
		if err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("%w: document %d (%s): %w", ErrOrderUploadFailed, i+1, documentLabel(doc), err)
		}
		if object.Size == 0 {
			object.Size = int64(len(doc.Content))
		}
		out = append(out, uploadedDocument{doc: doc, object: object})
		report(SubmitProgress{Stage: SubmitStageUploading, Completed: i + 1, Total: total, OrderID: orderID})
	}
	return out, nil
}

func (a *orderAssembler) persist(ctx context.Context, order Order) error {
	ctx, span := a.tracer.Start(ctx, "orders.submit.persist")
	defer span.End()

	if err := a.orders.Insert(ctx, order); err != nil {
		span.RecordError(err)
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsConflict() {
			return fmt.Errorf("%w: order %s already exists", ErrOrderPersistFailed, order.ID)
		}
		return fmt.Errorf("%w: %w", ErrOrderPersistFailed, err)
	}
	return nil
}

func (a *orderAssembler) buildOrder(orderID string, cmd SubmitCommand, stored []uploadedDocument, shopPricing domain.ShopPricing, direct bool) Order {
	now := a.clock()
	order := Order{
		ID:            orderID,
		CustomerID:    strings.TrimSpace(cmd.CustomerID),
		CustomerPhone: strings.TrimSpace(cmd.CustomerPhone),
		Documents:     make([]OrderDocument, 0, len(stored)),
		PaymentStatus: domain.PaymentStatusUnpaid,
		PaymentAmount: decimal.Zero,
		Status:        domain.OrderStatusSubmitted,
		HasSettings:   true,
		QueuePriority: paymentQueuePriority,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if direct {
		order.PaymentStatus = domain.PaymentStatusPaid
		order.IsPaid = true
		order.CanAutoPrint = true
		order.QueuePriority = directQueuePriority
	}

	for _, item := range stored {
		doc := item.doc
		effective := pricing.EffectivePageCount(doc.Settings, doc.PageCount, doc.FileType)
		price := pricing.Price(doc.Settings, doc.PageCount, shopPricing, doc.FileType)
		size := item.object.Size
		if doc.Size > 0 {
			size = doc.Size
		}
		order.Documents = append(order.Documents, OrderDocument{
			ID:                 doc.ID,
			Name:               doc.Name,
			URL:                item.object.URL,
			Size:               size,
			FileType:           doc.FileType,
			PageCount:          doc.PageCount,
			EffectivePageCount: effective,
			Settings:           doc.Settings,
			Price:              price,
		})
		order.DocumentSize += size
		order.PageCount += effective
		order.PaymentAmount = order.PaymentAmount.Add(price)
	}
	order.FileType = summarizeFileType(order.Documents)
	return order
}

func submissionProblems(docs []Document) []string {
	if len(docs) == 0 {
		return []string{"at least one document is required"}
	}
	return validateDocuments(docs)
}

func summarizeFileType(docs []OrderDocument) string {
	if len(docs) == 0 {
		return ""
	}
	first := docs[0].FileType
	for _, doc := range docs[1:] {
		if doc.FileType != first {
			return domain.MixedFileType
		}
	}
	return string(first)
}

func progressReporter(fn ProgressFunc) ProgressFunc {
	if fn == nil {
		return func(SubmitProgress) {}
	}
	return fn
}

func guardKey(cmd SubmitCommand) string {
	if id := strings.TrimSpace(cmd.SessionID); id != "" {
		return "session:" + id
	}
	return "customer:" + strings.TrimSpace(cmd.CustomerID)
}

func submissionOutcome(err error) string {
	var validation *ValidationError
	switch {
	case err == nil:
		return "completed"
	case errors.As(err, &validation):
		return "invalid"
	case errors.Is(err, ErrOrderUnauthenticated):
		return "unauthenticated"
	case errors.Is(err, ErrShopClosed):
		return "shop_closed"
	case errors.Is(err, ErrOrderUploadFailed):
		return "upload_failed"
	case errors.Is(err, ErrOrderPersistFailed):
		return "persist_failed"
	default:
		return "error"
	}
}

// submissionGuard admits one submission per key at a time.
type submissionGuard struct {
	mu       sync.Mutex
	inFlight map[string]*semaphore.Weighted
}

func newSubmissionGuard() *submissionGuard {
	return &submissionGuard{inFlight: make(map[string]*semaphore.Weighted)}
}

func (g *submissionGuard) acquire(key string) (release func(), ok bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	sem, exists := g.inFlight[key]
	if !exists {
		sem = semaphore.NewWeighted(1)
		g.inFlight[key] = sem
	}
	if !sem.TryAcquire(1) {
		return nil, false
	}
	return func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		sem.Release(1)
		delete(g.inFlight, key)
	}, true
}

type assemblerMetrics struct {
	submissions   metric.Int64Counter
	uploadBytes   metric.Int64Counter
	uploadLatency metric.Float64Histogram
}

func newAssemblerMetrics(meter metric.Meter, logger func(context.Context, string, map[string]any)) assemblerMetrics {
	var m assemblerMetrics
	var err error
	if m.submissions, err = meter.Int64Counter(
		"orders.submissions",
		metric.WithDescription("Count of order submissions by mode and outcome"),
	); err != nil {
		logger(context.Background(), "order.metrics.register_failed", map[string]any{"metric": "orders.submissions", "error": err.Error()})
	}
	if m.uploadBytes, err = meter.Int64Counter(
		"orders.upload.bytes",
		metric.WithUnit("By"),
		metric.WithDescription("Bytes of document content uploaded for orders"),
	); err != nil {
		logger(context.Background(), "order.metrics.register_failed", map[string]any{"metric": "orders.upload.bytes", "error": err.Error()})
	}
	if m.uploadLatency, err = meter.Float64Histogram(
		"orders.upload.latency",
		metric.WithUnit("ms"),
		metric.WithDescription("Latency in milliseconds of single document uploads"),
	); err != nil {
		logger(context.Background(), "order.metrics.register_failed", map[string]any{"metric": "orders.upload.latency", "error": err.Error()})
	}
	return m
}

func (m assemblerMetrics) recordSubmission(ctx context.Context, mode, outcome string) {
	if m.submissions == nil {
		return
	}
	m.submissions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("mode", mode),
		attribute.String("outcome", outcome),
	))
}

func (m assemblerMetrics) recordUpload(ctx context.Context, elapsed time.Duration, size int64, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	attrs := metric.WithAttributes(attribute.String("status", status))
	if m.uploadLatency != nil {
		m.uploadLatency.Record(ctx, float64(elapsed.Microseconds())/1000, attrs)
	}
	if m.uploadBytes != nil && err == nil {
		m.uploadBytes.Add(ctx, size)
	}
}
