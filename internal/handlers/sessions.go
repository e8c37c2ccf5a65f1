package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	domain "github.com/printdesk/api/internal/domain"
	"github.com/printdesk/api/internal/platform/auth"
	"github.com/printdesk/api/internal/platform/httpx"
	"github.com/printdesk/api/internal/platform/observability"
	"github.com/printdesk/api/internal/platform/requestctx"
	"github.com/printdesk/api/internal/services"
)

const (
	defaultMaxUploadBytes = 25 << 20
	multipartMemory       = 8 << 20
	uploadFormField       = "file"

	submitModePayment = "payment"
	submitModeDirect  = "direct"
)

var settingsValidator = validator.New()

// SessionHandlers serves the upload session endpoints and order submission.
type SessionHandlers struct {
	authn          *auth.Authenticator
	sessions       services.UploadSessionService
	quotes         services.QuoteService
	assembler      services.OrderAssembler
	idempotency    func(http.Handler) http.Handler
	uploadLimiter  *windowLimiter
	maxUploadBytes int64
	heartbeat      time.Duration
	logger         func(ctx context.Context, event string, fields map[string]any)
}

// SessionHandlerOption customises SessionHandlers.
type SessionHandlerOption func(*SessionHandlers)

// WithSubmitIdempotency wraps the submit route with the supplied middleware.
func WithSubmitIdempotency(mw func(http.Handler) http.Handler) SessionHandlerOption {
	return func(h *SessionHandlers) {
		h.idempotency = mw
	}
}

// WithMaxUploadBytes caps the size of one uploaded document.
func WithMaxUploadBytes(limit int64) SessionHandlerOption {
	return func(h *SessionHandlers) {
		if limit > 0 {
			h.maxUploadBytes = limit
		}
	}
}

// WithUploadRateLimit allows at most limit document uploads per customer in each window.
func WithUploadRateLimit(limit int, window time.Duration, clock func() time.Time) SessionHandlerOption {
	return func(h *SessionHandlers) {
		h.uploadLimiter = newWindowLimiter(limit, window, clock)
	}
}

// WithSessionLogger sets the logger used for post-submit housekeeping failures.
func WithSessionLogger(logger func(ctx context.Context, event string, fields map[string]any)) SessionHandlerOption {
	return func(h *SessionHandlers) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// NewSessionHandlers constructs the session handlers.
func NewSessionHandlers(authn *auth.Authenticator, sessions services.UploadSessionService, quotes services.QuoteService, assembler services.OrderAssembler, opts ...SessionHandlerOption) *SessionHandlers {
	h := &SessionHandlers{
		authn:          authn,
		sessions:       sessions,
		quotes:         quotes,
		assembler:      assembler,
		maxUploadBytes: defaultMaxUploadBytes,
		heartbeat:      defaultStreamHeartbeat,
		logger:         func(context.Context, string, map[string]any) {},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /sessions endpoints.
func (h *SessionHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireCustomer(), observability.CaptureIdentity)
	}
	r.Post("/", h.createSession)
	r.Get("/{sessionID}", h.getSession)
	r.With(perCustomerLimit(h.uploadLimiter)).Post("/{sessionID}/documents", h.addDocument)
	r.Delete("/{sessionID}/documents/{documentID}", h.removeDocument)
	r.Patch("/{sessionID}/documents/{documentID}/settings", h.updateSettings)
	r.Put("/{sessionID}/documents/{documentID}/page-count", h.setPageCount)
	r.Get("/{sessionID}/quote", h.getQuote)
	r.Get("/{sessionID}/quote:stream", h.streamQuote)

	submit := http.Handler(http.HandlerFunc(h.submit))
	if h.idempotency != nil {
		submit = h.idempotency(submit)
	}
	r.Method(http.MethodPost, "/{sessionID}:submit", submit)
}

func (h *SessionHandlers) createSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireCustomer(ctx, w)
	if !ok {
		return
	}
	session, err := h.sessions.Create(ctx, identity.UID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, buildSessionPayload(session))
}

func (h *SessionHandlers) getSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireCustomer(ctx, w)
	if !ok {
		return
	}
	session, err := h.sessions.Get(ctx, identity.UID, chi.URLParam(r, "sessionID"))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildSessionPayload(session))
}

func (h *SessionHandlers) addDocument(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireCustomer(ctx, w)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes+multipartMemory)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httpx.WriteError(ctx, w, httpx.NewError("document_too_large", "document exceeds the upload limit", http.StatusRequestEntityTooLarge))
			return
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "expected a multipart upload", http.StatusBadRequest))
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	file, header, err := r.FormFile(uploadFormField)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "multipart field \"file\" is required", http.StatusBadRequest))
		return
	}
	defer file.Close()
	if header.Size > h.maxUploadBytes {
		httpx.WriteError(ctx, w, httpx.NewError("document_too_large", "document exceeds the upload limit", http.StatusRequestEntityTooLarge))
		return
	}
	content, err := io.ReadAll(file)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unable to read uploaded file", http.StatusBadRequest))
		return
	}

	doc, err := h.sessions.AddDocument(ctx, services.AddDocumentCommand{
		CustomerID:  identity.UID,
		SessionID:   chi.URLParam(r, "sessionID"),
		Name:        header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Content:     content,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, buildDocumentPayload(doc))
}

func (h *SessionHandlers) removeDocument(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireCustomer(ctx, w)
	if !ok {
		return
	}
	if err := h.sessions.RemoveDocument(ctx, identity.UID, chi.URLParam(r, "sessionID"), chi.URLParam(r, "documentID")); err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type settingsPatchRequest struct {
	ColorMode     *string `json:"colorMode"`
	PageSelection *string `json:"pageSelection"`
	BWPages       *string `json:"bwPages"`
	ColorPages    *string `json:"colorPages"`
	PaperSize     *string `json:"paperSize"`
	Orientation   *string `json:"orientation"`
	Quality       *string `json:"quality"`
	Copies        *int    `json:"copies"`
}

func (p settingsPatchRequest) apply(s *domain.PrintSettings) {
	if p.ColorMode != nil {
		s.ColorMode = domain.ColorMode(normaliseEnum(*p.ColorMode))
	}
	if p.PageSelection != nil {
		s.PageSelection = domain.PageSelection(normaliseEnum(*p.PageSelection))
	}
	if p.BWPages != nil {
		s.BWPages = strings.TrimSpace(*p.BWPages)
	}
	if p.ColorPages != nil {
		s.ColorPages = strings.TrimSpace(*p.ColorPages)
	}
	if p.PaperSize != nil {
		s.PaperSize = domain.PaperSize(normaliseEnum(*p.PaperSize))
	}
	if p.Orientation != nil {
		s.Orientation = domain.Orientation(normaliseEnum(*p.Orientation))
	}
	if p.Quality != nil {
		s.Quality = domain.PrintQuality(normaliseEnum(*p.Quality))
	}
	if p.Copies != nil {
		s.Copies = *p.Copies
	}
}

func normaliseEnum(value string) string {
	value = strings.ToUpper(strings.TrimSpace(value))
	if value == "BW" || value == "BLACK_AND_WHITE" {
		return string(domain.ColorModeBlackWhite)
	}
	return value
}

func (h *SessionHandlers) updateSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireCustomer(ctx, w)
	if !ok {
		return
	}
	var patch settingsPatchRequest
	if err := decodeJSONBody(w, r, &patch); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be a settings object", http.StatusBadRequest))
		return
	}

	sessionID := chi.URLParam(r, "sessionID")
	documentID := chi.URLParam(r, "documentID")
	session, err := h.sessions.Get(ctx, identity.UID, sessionID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	current, found := session.DocumentByID(documentID)
	if !found {
		writeServiceError(ctx, w, services.ErrDocumentNotFound)
		return
	}
	preview := current.Settings
	patch.apply(&preview)
	if err := settingsValidator.Struct(preview); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_settings", "print settings contain unsupported values", http.StatusBadRequest))
		return
	}

	doc, err := h.sessions.UpdateSettings(ctx, services.UpdateSettingsCommand{
		CustomerID: identity.UID,
		SessionID:  sessionID,
		DocumentID: documentID,
		Apply:      patch.apply,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildDocumentPayload(doc))
}

type pageCountRequest struct {
	PageCount int `json:"pageCount"`
}

func (h *SessionHandlers) setPageCount(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireCustomer(ctx, w)
	if !ok {
		return
	}
	var req pageCountRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "pageCount must be an integer", http.StatusBadRequest))
		return
	}
	doc, err := h.sessions.SetPageCount(ctx, identity.UID, chi.URLParam(r, "sessionID"), chi.URLParam(r, "documentID"), req.PageCount)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildDocumentPayload(doc))
}

func (h *SessionHandlers) getQuote(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireCustomer(ctx, w)
	if !ok {
		return
	}
	quote, err := h.quotes.Quote(ctx, identity.UID, chi.URLParam(r, "sessionID"))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildQuotePayload(quote))
}

func (h *SessionHandlers) streamQuote(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireCustomer(ctx, w)
	if !ok {
		return
	}
	updates, err := h.quotes.WatchQuote(ctx, identity.UID, chi.URLParam(r, "sessionID"))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	stream, ok := openEventStream(w, r)
	if !ok {
		return
	}
	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if stream.heartbeat() != nil {
				return
			}
		case quote, ok := <-updates:
			if !ok {
				return
			}
			if stream.send("quote", buildQuotePayload(quote)) != nil {
				return
			}
		}
	}
}

type submitRequest struct {
	Mode string `json:"mode"`
}

type submitResponse struct {
	OrderID string       `json:"orderId"`
	Order   orderPayload `json:"order"`
}

func (h *SessionHandlers) submit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireCustomer(ctx, w)
	if !ok {
		return
	}

	var req submitRequest
	if err := decodeJSONBody(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be a JSON object", http.StatusBadRequest))
		return
	}
	mode := strings.ToLower(strings.TrimSpace(req.Mode))
	if mode == "" {
		mode = strings.ToLower(strings.TrimSpace(r.URL.Query().Get("mode")))
	}
	if mode == "" {
		mode = submitModePayment
	}
	if mode != submitModePayment && mode != submitModeDirect {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "mode must be payment or direct", http.StatusBadRequest))
		return
	}
	// Direct orders skip payment, so only counter staff may place them.
	if mode == submitModeDirect && !identity.HasRole(auth.RoleOperator) {
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", "direct submission requires the operator role", http.StatusForbidden))
		return
	}

	sessionID := chi.URLParam(r, "sessionID")
	ctx = requestctx.WithFields(ctx, zap.String("session_id", sessionID), zap.String("submit_mode", mode))
	session, err := h.sessions.Get(ctx, identity.UID, sessionID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	cmd := services.SubmitCommand{
		SessionID:     session.ID,
		CustomerID:    identity.UID,
		CustomerPhone: identity.PhoneNumber(ctx),
		Documents:     session.Documents,
	}

	var result services.SubmitResult
	if mode == submitModeDirect {
		result, err = h.assembler.SubmitDirect(ctx, cmd)
	} else {
		result, err = h.assembler.SubmitWithPayment(ctx, cmd)
	}
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	submitted := make([]string, 0, len(cmd.Documents))
	for _, doc := range cmd.Documents {
		submitted = append(submitted, doc.ID)
	}
	if err := h.sessions.ClearDocuments(ctx, identity.UID, sessionID, submitted); err != nil {
		h.logger(ctx, "session.clear.failed", map[string]any{"sessionId": sessionID, "orderId": result.OrderID, "error": err})
	}
	writeJSONResponse(w, http.StatusCreated, submitResponse{OrderID: result.OrderID, Order: buildOrderPayload(result.Order)})
}
