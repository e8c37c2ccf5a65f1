package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/printdesk/api/internal/domain"
	"github.com/printdesk/api/internal/platform/storage"
)

func newTestAssembler(t *testing.T, repo *stubOrderRepo, store *stubDocumentStore, shop ShopSettingsSource, events OrderEventPublisher) OrderAssembler {
	t.Helper()
	now := time.Date(2025, 3, 4, 10, 0, 0, 0, time.UTC)
	assembler, err := NewOrderAssembler(OrderAssemblerDeps{
		Orders:           repo,
		Documents:        store,
		Shop:             shop,
		Events:           events,
		Clock:            func() time.Time { return now },
		BatchIDGenerator: func() string { return "batch-1" },
	})
	if err != nil {
		t.Fatalf("NewOrderAssembler: %v", err)
	}
	return assembler
}

func TestSubmitWithPaymentPersistsUnpaidOrder(t *testing.T) {
	var inserted domain.Order
	repo := &stubOrderRepo{insertFn: func(_ context.Context, order domain.Order) error {
		inserted = order
		return nil
	}}
	store := &stubDocumentStore{}
	events := &captureOrderEvents{}
	assembler := newTestAssembler(t, repo, store, openShop("2.0", "5.0"), events)

	color := docxDocument("d2")
	color.Settings.ColorMode = domain.ColorModeColor

	var progress []SubmitProgress
	result, err := assembler.SubmitWithPayment(context.Background(), SubmitCommand{
		SessionID:     "sess-1",
		CustomerID:    "cust-1",
		CustomerPhone: "+910000000000",
		Documents:     []Document{pdfDocument("d1", 10, 2), color},
		Progress:      func(p SubmitProgress) { progress = append(progress, p) },
	})
	if err != nil {
		t.Fatalf("SubmitWithPayment: %v", err)
	}

	if !strings.HasPrefix(result.OrderID, "ord_") || result.OrderID != inserted.ID {
		t.Fatalf("unexpected order id %q (inserted %q)", result.OrderID, inserted.ID)
	}
	if inserted.IsPaid || inserted.CanAutoPrint || inserted.PaymentStatus != domain.PaymentStatusUnpaid {
		t.Fatalf("expected unpaid order, got %+v", inserted)
	}
	if !inserted.PaymentAmount.Equal(decimal.NewFromInt(45)) {
		t.Fatalf("expected total 45, got %s", inserted.PaymentAmount)
	}
	if inserted.PageCount != 11 {
		t.Fatalf("expected 11 effective pages, got %d", inserted.PageCount)
	}
	if inserted.DocumentSize != pdfDocument("d1", 10, 2).Size+color.Size {
		t.Fatalf("unexpected document size %d", inserted.DocumentSize)
	}
	if inserted.FileType != domain.MixedFileType {
		t.Fatalf("expected MIXED file type, got %s", inserted.FileType)
	}
	if names := inserted.DocumentNames(); len(names) != 2 || names[0] != "d1.pdf" || names[1] != "d2.docx" {
		t.Fatalf("unexpected document order %v", names)
	}
	if inserted.Documents[0].URL == "" || !inserted.HasSettings || inserted.QueuePriority != paymentQueuePriority {
		t.Fatalf("unexpected order document %+v", inserted.Documents[0])
	}

	paths := store.uploaded()
	if len(paths) != 2 || paths[0] != "documents/cust-1/batch-1/d1/d1.pdf" || paths[1] != "documents/cust-1/batch-1/d2/d2.docx" {
		t.Fatalf("unexpected upload order %v", paths)
	}

	var stages []string
	for _, p := range progress {
		stages = append(stages, string(p.Stage))
	}
	want := []string{"validating", "uploading", "uploading", "uploading", "persisting", "completed"}
	if strings.Join(stages, ",") != strings.Join(want, ",") {
		t.Fatalf("unexpected stages %v", stages)
	}
	if progress[2].Completed != 1 || progress[3].Completed != 2 || progress[3].Total != 2 {
		t.Fatalf("unexpected upload progress %+v", progress[1:4])
	}
	if got := events.types(); len(got) != 1 || got[0] != orderEventCreated {
		t.Fatalf("expected order.created event, got %v", got)
	}
}

func TestSubmitDirectMarksOrderPaid(t *testing.T) {
	var inserted domain.Order
	repo := &stubOrderRepo{insertFn: func(_ context.Context, order domain.Order) error {
		inserted = order
		return nil
	}}
	assembler := newTestAssembler(t, repo, &stubDocumentStore{}, openShop("2", "5"), nil)

	_, err := assembler.SubmitDirect(context.Background(), SubmitCommand{
		SessionID:  "sess-1",
		CustomerID: "cust-1",
		OrderID:    "ord_fixed",
		Documents:  []Document{pdfDocument("d1", 3, 1)},
	})
	if err != nil {
		t.Fatalf("SubmitDirect: %v", err)
	}
	if inserted.ID != "ord_fixed" {
		t.Fatalf("expected caller supplied id, got %s", inserted.ID)
	}
	if !inserted.IsPaid || !inserted.CanAutoPrint || inserted.PaymentStatus != domain.PaymentStatusPaid {
		t.Fatalf("expected paid order, got %+v", inserted)
	}
	if inserted.QueuePriority != directQueuePriority || inserted.FileType != "PDF" {
		t.Fatalf("unexpected priority or file type %+v", inserted)
	}
}

func TestSubmitRejectsEmptyDocumentsBeforeUpload(t *testing.T) {
	repo := &stubOrderRepo{}
	store := &stubDocumentStore{}
	assembler := newTestAssembler(t, repo, store, openShop("2", "5"), nil)

	_, err := assembler.SubmitWithPayment(context.Background(), SubmitCommand{CustomerID: "cust-1"})
	if !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected ErrOrderInvalidInput, got %v", err)
	}
	if len(store.uploaded()) != 0 || repo.insertedCount != 0 {
		t.Fatalf("expected no side effects")
	}
}

func TestSubmitAggregatesValidationProblems(t *testing.T) {
	store := &stubDocumentStore{}
	assembler := newTestAssembler(t, &stubOrderRepo{}, store, openShop("2", "5"), nil)

	overlapping := pdfDocument("d1", 5, 1)
	overlapping.Settings.PageSelection = domain.PageSelectionCustom
	overlapping.Settings.BWPages = "1-3"
	overlapping.Settings.ColorPages = "3-4"

	noCopies := pdfDocument("d2", 5, 0)

	unknownPages := pdfDocument("d3", 0, 1)
	unknownPages.NeedsPageCount = true

	_, err := assembler.SubmitWithPayment(context.Background(), SubmitCommand{
		CustomerID: "cust-1",
		Documents:  []Document{overlapping, noCopies, unknownPages},
	})
	var validation *ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if len(validation.Problems) < 3 {
		t.Fatalf("expected every problem to be reported, got %v", validation.Problems)
	}
	joined := strings.Join(validation.Problems, "\n")
	for _, want := range []string{"pages 3 are selected for both", "copies must be at least 1", "page count must be provided"} {
		if !strings.Contains(joined, want) {
			t.Fatalf("expected problem %q in %v", want, validation.Problems)
		}
	}
	if len(store.uploaded()) != 0 {
		t.Fatalf("expected no uploads after validation failure")
	}
}

func TestSubmitStateErrors(t *testing.T) {
	closed := openShop("2", "5")
	closed.settings.IsOpen = false

	cases := []struct {
		name string
		shop *stubShopSource
		cmd  SubmitCommand
		want error
	}{
		{name: "no user", shop: openShop("2", "5"), cmd: SubmitCommand{Documents: []Document{pdfDocument("d1", 1, 1)}}, want: ErrOrderUnauthenticated},
		{name: "shop closed", shop: closed, cmd: SubmitCommand{CustomerID: "c", Documents: []Document{pdfDocument("d1", 1, 1)}}, want: ErrShopClosed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := &stubDocumentStore{}
			assembler := newTestAssembler(t, &stubOrderRepo{}, store, tc.shop, nil)
			_, err := assembler.SubmitWithPayment(context.Background(), tc.cmd)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if len(store.uploaded()) != 0 {
				t.Fatalf("expected no uploads")
			}
		})
	}
}

func TestSubmitUploadFailureAbortsBeforePersist(t *testing.T) {
	repo := &stubOrderRepo{}
	uploadErr := errors.New("bucket unavailable")
	store := &stubDocumentStore{}
	store.putFn = func(_ context.Context, obj storage.Object) (storage.StoredObject, error) {
		if strings.Contains(obj.Path, "/d2/") {
			return storage.StoredObject{}, uploadErr
		}
		return storage.StoredObject{Path: obj.Path, URL: "u"}, nil
	}
	assembler := newTestAssembler(t, repo, store, openShop("2", "5"), nil)

	var last SubmitProgress
	_, err := assembler.SubmitWithPayment(context.Background(), SubmitCommand{
		CustomerID: "cust-1",
		Documents:  []Document{pdfDocument("d1", 1, 1), pdfDocument("d2", 1, 1), pdfDocument("d3", 1, 1)},
		Progress:   func(p SubmitProgress) { last = p },
	})
	if !errors.Is(err, ErrOrderUploadFailed) || !errors.Is(err, uploadErr) {
		t.Fatalf("expected upload failure wrapping cause, got %v", err)
	}
	if repo.insertedCount != 0 {
		t.Fatalf("order must not be persisted after an upload failure")
	}
	if len(store.uploaded()) != 2 {
		t.Fatalf("expected uploads to stop at the failing document, got %v", store.uploaded())
	}
	if last.Stage != SubmitStageFailed || last.Err == nil {
		t.Fatalf("expected failed progress, got %+v", last)
	}
}

func TestSubmitPersistConflict(t *testing.T) {
	repo := &stubOrderRepo{insertFn: func(context.Context, domain.Order) error {
		return stubRepoError{conflict: true}
	}}
	assembler := newTestAssembler(t, repo, &stubDocumentStore{}, openShop("2", "5"), nil)

	_, err := assembler.SubmitWithPayment(context.Background(), SubmitCommand{
		CustomerID: "cust-1",
		OrderID:    "ord_taken",
		Documents:  []Document{pdfDocument("d1", 1, 1)},
	})
	if !errors.Is(err, ErrOrderPersistFailed) {
		t.Fatalf("expected ErrOrderPersistFailed, got %v", err)
	}
}

func TestSubmitIsSingleFlightPerSession(t *testing.T) {
	entered := make(chan struct{})
	proceed := make(chan struct{})
	store := &stubDocumentStore{}
	store.putFn = func(_ context.Context, obj storage.Object) (storage.StoredObject, error) {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-proceed
		return storage.StoredObject{Path: obj.Path, URL: "u"}, nil
	}
	assembler := newTestAssembler(t, &stubOrderRepo{}, store, openShop("2", "5"), nil)
	cmd := SubmitCommand{SessionID: "sess-1", CustomerID: "cust-1", Documents: []Document{pdfDocument("d1", 1, 1)}}

	done := make(chan error, 1)
	go func() {
		_, err := assembler.SubmitWithPayment(context.Background(), cmd)
		done <- err
	}()
	<-entered

	if _, err := assembler.SubmitDirect(context.Background(), cmd); !errors.Is(err, ErrSubmissionInFlight) {
		t.Fatalf("expected ErrSubmissionInFlight, got %v", err)
	}
	other := cmd
	other.SessionID = "sess-2"
	otherDone := make(chan error, 1)
	go func() {
		_, err := assembler.SubmitWithPayment(context.Background(), other)
		otherDone <- err
	}()

	close(proceed)
	if err := <-done; err != nil {
		t.Fatalf("first submission: %v", err)
	}
	if err := <-otherDone; err != nil {
		t.Fatalf("other session submission: %v", err)
	}
	if _, err := assembler.SubmitWithPayment(context.Background(), cmd); err != nil {
		t.Fatalf("expected resubmission after completion to succeed, got %v", err)
	}
}

func TestSubmitCancelledContextNeverPersists(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	repo := &stubOrderRepo{}
	store := &stubDocumentStore{}
	store.putFn = func(_ context.Context, obj storage.Object) (storage.StoredObject, error) {
		cancel()
		return storage.StoredObject{Path: obj.Path, URL: "u"}, nil
	}
	assembler := newTestAssembler(t, repo, store, openShop("2", "5"), nil)

	_, err := assembler.SubmitWithPayment(ctx, SubmitCommand{
		CustomerID: "cust-1",
		Documents:  []Document{pdfDocument("d1", 1, 1), pdfDocument("d2", 1, 1)},
	})
	if !errors.Is(err, ErrOrderUploadFailed) || !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancelled upload, got %v", err)
	}
	if repo.insertedCount != 0 {
		t.Fatalf("order must not be written after cancellation")
	}
}
