package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/printdesk/api/internal/platform/requestctx"
)

func TestParseCloudTraceContext(t *testing.T) {
	spanCtx, ok := parseCloudTraceContext("105445aa7843bc8bf206b12000100000/1;o=1")
	if !ok {
		t.Fatalf("expected header to parse")
	}
	if spanCtx.TraceID().String() != "105445aa7843bc8bf206b12000100000" {
		t.Fatalf("unexpected trace id %s", spanCtx.TraceID())
	}
	if spanCtx.SpanID().String() != "0000000000000001" || !spanCtx.IsSampled() {
		t.Fatalf("unexpected span %s sampled=%v", spanCtx.SpanID(), spanCtx.IsSampled())
	}

	for _, bad := range []string{"", "nope", "zz/1", "105445aa7843bc8bf206b12000100000/abc"} {
		if _, ok := parseCloudTraceContext(bad); ok {
			t.Fatalf("expected %q to be rejected", bad)
		}
	}
}

func TestFormatCloudTraceHeaderRoundTrips(t *testing.T) {
	header := formatCloudTraceHeader(requestctx.TraceInfo{TraceID: "105445aa7843bc8bf206b12000100000", SpanID: "00000000000004d2", Sampled: true})
	if header != "105445aa7843bc8bf206b12000100000/1234;o=1" {
		t.Fatalf("unexpected header %q", header)
	}
}

func TestEventLoggerPrefersRequestLogger(t *testing.T) {
	baseCore, baseLogs := observer.New(zap.InfoLevel)
	reqCore, reqLogs := observer.New(zap.InfoLevel)
	log := EventLogger(zap.New(baseCore))

	log(context.Background(), "session.created", map[string]any{"sessionId": "s1"})
	ctx := WithLogger(context.Background(), zap.New(reqCore))
	log(ctx, "payment.charge.failed", map[string]any{"orderId": "ord_1"})

	if baseLogs.Len() != 1 || reqLogs.Len() != 1 {
		t.Fatalf("expected one entry per logger, got base=%d request=%d", baseLogs.Len(), reqLogs.Len())
	}
	entry := reqLogs.All()[0]
	if entry.Level != zap.WarnLevel {
		t.Fatalf("expected failures at warn level, got %s", entry.Level)
	}
	if entry.ContextMap()["orderId"] != "ord_1" || entry.ContextMap()["event"] != "payment.charge.failed" {
		t.Fatalf("unexpected fields %v", entry.ContextMap())
	}
}

func TestRecoveryMiddlewareWritesJSONError(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	handler := RecoveryMiddleware(zap.New(core))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
	if logs.FilterMessage("panic recovered").Len() != 1 {
		t.Fatalf("expected panic to be logged")
	}
}
