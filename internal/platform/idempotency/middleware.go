package idempotency

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/printdesk/api/internal/platform/auth"
	"github.com/printdesk/api/internal/platform/httpx"
)

const (
	defaultHeaderName = "Idempotency-Key"
	// ReplayHeader is set on responses served from the store.
	ReplayHeader = "X-Idempotent-Replay"
)

// Options configures the middleware.
type Options struct {
	Header string
	TTL    time.Duration
	Clock  func() time.Time
	Logger func(ctx context.Context, event string, fields map[string]any)
}

// Middleware replays the stored response for requests repeating an Idempotency-Key. Requests
// without the header pass through untouched. Server errors release the key so the client can
// retry with the same value.
func Middleware(store Store, opts Options) func(http.Handler) http.Handler {
	if store == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	header := strings.TrimSpace(opts.Header)
	if header == "" {
		header = defaultHeaderName
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := strings.TrimSpace(r.Header.Get(header))
			if raw == "" {
				next.ServeHTTP(w, r)
				return
			}
			ctx := r.Context()

			body, err := bufferBody(r)
			if err != nil {
				httpx.WriteError(ctx, w, httpx.NewError("invalid_body", "unable to read request body", http.StatusBadRequest))
				return
			}

			caller := requester(ctx)
			key := raw + "|" + caller
			fingerprint := requestFingerprint(r, body, caller)

			outcome, stored, err := store.Reserve(ctx, key, fingerprint, clock().UTC(), ttl)
			switch {
			case errors.Is(err, ErrFingerprintMismatch):
				httpx.WriteError(ctx, w, httpx.NewError("idempotency_key_conflict", "idempotency key already used for a different request", http.StatusConflict))
				return
			case err != nil:
				logger(ctx, "idempotency.reserve.failed", map[string]any{"error": err})
				httpx.WriteError(ctx, w, httpx.NewError("idempotency_unavailable", "unable to process idempotency key", http.StatusServiceUnavailable))
				return
			}

			switch outcome {
			case OutcomeReplay:
				logger(ctx, "idempotency.replayed", map[string]any{"status": stored.Status})
				writeStored(w, stored)
				return
			case OutcomeInFlight:
				httpx.WriteError(ctx, w, httpx.NewError("idempotency_in_progress", "another request is processing this idempotency key", http.StatusConflict))
				return
			}

			rec := &recorder{ResponseWriter: w}
			next.ServeHTTP(rec, r)

			// Outlive request cancellation so the key is never left reserved.
			storeCtx := context.WithoutCancel(ctx)
			if rec.status() >= http.StatusInternalServerError {
				if err := store.Release(storeCtx, key); err != nil {
					logger(ctx, "idempotency.release.failed", map[string]any{"error": err})
				}
				return
			}
			resp := StoredResponse{Status: rec.status(), Headers: replayableHeaders(w.Header()), Body: rec.body.Bytes()}
			if err := store.Complete(storeCtx, key, fingerprint, resp, clock().UTC(), ttl); err != nil {
				logger(ctx, "idempotency.complete.failed", map[string]any{"error": err})
				_ = store.Release(storeCtx, key)
			}
		})
	}
}

func bufferBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	data, err := io.ReadAll(r.Body)
	_ = r.Body.Close()
	if err != nil {
		return nil, err
	}
	r.Body = io.NopCloser(bytes.NewReader(data))
	return data, nil
}

func requester(ctx context.Context) string {
	if uid := auth.CurrentUserID(ctx); uid != "" {
		return uid
	}
	if svc, ok := auth.ServiceIdentityFromContext(ctx); ok && svc != nil && svc.Subject != "" {
		return svc.Subject
	}
	return "anonymous"
}

func requestFingerprint(r *http.Request, body []byte, caller string) string {
	bodySum := sha256.Sum256(body)
	h := sha256.New()
	for _, part := range []string{strings.ToUpper(r.Method), r.URL.Path, caller, hex.EncodeToString(bodySum[:])} {
		h.Write([]byte(part))
		h.Write([]byte{'|'})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func writeStored(w http.ResponseWriter, stored StoredResponse) {
	for name, values := range stored.Headers {
		w.Header()[name] = append([]string(nil), values...)
	}
	w.Header().Set(ReplayHeader, "true")
	status := stored.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write(stored.Body)
}

// recorder tees the response so it can be stored after the handler returns.
type recorder struct {
	http.ResponseWriter
	code int
	body bytes.Buffer
}

func (r *recorder) WriteHeader(status int) {
	if r.code == 0 {
		r.code = status
	}
	r.ResponseWriter.WriteHeader(status)
}

func (r *recorder) Write(p []byte) (int, error) {
	if r.code == 0 {
		r.code = http.StatusOK
	}
	r.body.Write(p)
	return r.ResponseWriter.Write(p)
}

func (r *recorder) status() int {
	if r.code == 0 {
		return http.StatusOK
	}
	return r.code
}
