package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	domain "github.com/printdesk/api/internal/domain"
	"github.com/printdesk/api/internal/platform/documents"
)

const (
	defaultSessionIdleTTL      = 2 * time.Hour
	defaultSessionMaxDocuments = 20
	defaultSessionMaxPageCount = 10000
)

// SessionStoreDeps bundles collaborators for the in-memory upload session store.
type SessionStoreDeps struct {
	Clock            func() time.Time
	IDGenerator      func() string
	Inspect          func(name, contentType string, content []byte) (documents.Inspection, error)
	IdleTTL          time.Duration
	MaxDocuments     int
	MaxPageCount     int
	MaxDocumentBytes int64
	Logger           func(ctx context.Context, event string, fields map[string]any)
}

// SessionStore keeps upload sessions in process memory. Sessions expire after IdleTTL without
// access.
type SessionStore struct {
	clock        func() time.Time
	newID        func() string
	inspect      func(string, string, []byte) (documents.Inspection, error)
	idleTTL      time.Duration
	maxDocuments int
	maxPages     int
	maxBytes     int64
	logger       func(context.Context, string, map[string]any)

	mu       sync.Mutex
	sessions map[string]*sessionEntry
}

type sessionEntry struct {
	session  UploadSession
	lastSeen time.Time
	subs     map[int]chan UploadSession
	nextSub  int
}

var _ UploadSessionService = (*SessionStore)(nil)

// NewSessionStore constructs an empty session store.
func NewSessionStore(deps SessionStoreDeps) *SessionStore {
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return uuid.NewString() }
	}
	inspect := deps.Inspect
	if inspect == nil {
		inspect = documents.Inspect
	}
	ttl := deps.IdleTTL
	if ttl <= 0 {
		ttl = defaultSessionIdleTTL
	}
	maxDocs := deps.MaxDocuments
	if maxDocs <= 0 {
		maxDocs = defaultSessionMaxDocuments
	}
	maxPages := deps.MaxPageCount
	if maxPages <= 0 {
		maxPages = defaultSessionMaxPageCount
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &SessionStore{
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:        idGen,
		inspect:      inspect,
		idleTTL:      ttl,
		maxDocuments: maxDocs,
		maxPages:     maxPages,
		maxBytes:     deps.MaxDocumentBytes,
		logger:       logger,
		sessions:     make(map[string]*sessionEntry),
	}
}

// Create opens an empty session for the customer.
func (s *SessionStore) Create(ctx context.Context, customerID string) (UploadSession, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return UploadSession{}, ErrOrderUnauthenticated
	}
	now := s.clock()
	session := UploadSession{
		ID:         s.newID(),
		CustomerID: customerID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	s.mu.Lock()
	s.sessions[session.ID] = &sessionEntry{session: session, lastSeen: now, subs: make(map[int]chan UploadSession)}
	s.mu.Unlock()

	s.logger(ctx, "session.created", map[string]any{"sessionId": session.ID, "customerId": customerID})
	return cloneSession(session), nil
}

// Get returns a snapshot of the session.
func (s *SessionStore) Get(_ context.Context, customerID, sessionID string) (UploadSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, err := s.lookup(customerID, sessionID)
	if err != nil {
		return UploadSession{}, err
	}
	return cloneSession(entry.session), nil
}

// AddDocument inspects the upload and appends it to the session with default or supplied settings.
func (s *SessionStore) AddDocument(ctx context.Context, cmd AddDocumentCommand) (Document, error) {
	if len(cmd.Content) == 0 {
		return Document{}, fmt.Errorf("%w: document is empty", ErrSessionInvalidInput)
	}
	if s.maxBytes > 0 && int64(len(cmd.Content)) > s.maxBytes {
		return Document{}, fmt.Errorf("%w: document exceeds %d bytes", ErrSessionInvalidInput, s.maxBytes)
	}
	inspection, err := s.inspect(cmd.Name, cmd.ContentType, cmd.Content)
	if err != nil {
		if errors.Is(err, documents.ErrUnsupportedFileType) {
			return Document{}, fmt.Errorf("%w: %v", ErrSessionInvalidInput, err)
		}
		return Document{}, err
	}
	if inspection.PageCount > s.maxPages {
		return Document{}, fmt.Errorf("%w: document has more than %d pages", ErrSessionInvalidInput, s.maxPages)
	}
	settings := domain.DefaultPrintSettings()
	if cmd.Settings != nil {
		settings = *cmd.Settings
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	entry, err := s.lookup(cmd.CustomerID, cmd.SessionID)
	if err != nil {
		return Document{}, err
	}
	if len(entry.session.Documents) >= s.maxDocuments {
		return Document{}, fmt.Errorf("%w: a session holds at most %d documents", ErrSessionInvalidInput, s.maxDocuments)
	}

	now := s.clock()
	doc := Document{
		ID:             s.newID(),
		Name:           inspection.Name,
		ContentType:    inspection.ContentType,
		Content:        cmd.Content,
		Size:           int64(len(cmd.Content)),
		FileType:       inspection.FileType,
		PageCount:      inspection.PageCount,
		NeedsPageCount: inspection.NeedsPageCount,
		Settings:       settings,
		AddedAt:        now,
	}
	entry.session.Documents = append(entry.session.Documents, doc)
	s.touch(entry, now)

	s.logger(ctx, "session.document.added", map[string]any{
		"sessionId":      cmd.SessionID,
		"documentId":     doc.ID,
		"fileType":       string(doc.FileType),
		"pageCount":      doc.PageCount,
		"needsPageCount": doc.NeedsPageCount,
	})
	return doc, nil
}

// RemoveDocument deletes a document from the session.
func (s *SessionStore) RemoveDocument(_ context.Context, customerID, sessionID, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, err := s.lookup(customerID, sessionID)
	if err != nil {
		return err
	}
	idx := indexOfDocument(entry.session.Documents, documentID)
	if idx < 0 {
		return ErrDocumentNotFound
	}
	entry.session.Documents = slices.Delete(entry.session.Documents, idx, idx+1)
	s.touch(entry, s.clock())
	return nil
}

// UpdateSettings applies cmd.Apply to the settings of the document identified by cmd.DocumentID.
func (s *SessionStore) UpdateSettings(_ context.Context, cmd UpdateSettingsCommand) (Document, error) {
	if cmd.Apply == nil {
		return Document{}, fmt.Errorf("%w: settings update is required", ErrSessionInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, err := s.lookup(cmd.CustomerID, cmd.SessionID)
	if err != nil {
		return Document{}, err
	}
	idx := indexOfDocument(entry.session.Documents, cmd.DocumentID)
	if idx < 0 {
		return Document{}, ErrDocumentNotFound
	}
	settings := entry.session.Documents[idx].Settings
	cmd.Apply(&settings)
	entry.session.Documents[idx].Settings = settings
	s.touch(entry, s.clock())
	return entry.session.Documents[idx], nil
}

// SetPageCount records an operator supplied page count for a document whose pages were not counted.
func (s *SessionStore) SetPageCount(_ context.Context, customerID, sessionID, documentID string, pages int) (Document, error) {
	if pages <= 0 {
		return Document{}, fmt.Errorf("%w: page count must be positive", ErrSessionInvalidInput)
	}
	if pages > s.maxPages {
		return Document{}, fmt.Errorf("%w: page count cannot exceed %d", ErrSessionInvalidInput, s.maxPages)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, err := s.lookup(customerID, sessionID)
	if err != nil {
		return Document{}, err
	}
	idx := indexOfDocument(entry.session.Documents, documentID)
	if idx < 0 {
		return Document{}, ErrDocumentNotFound
	}
	doc := &entry.session.Documents[idx]
	if !doc.FileType.Paginated() {
		return Document{}, fmt.Errorf("%w: %s documents always count as one page", ErrSessionInvalidInput, doc.FileType)
	}
	doc.PageCount = pages
	doc.NeedsPageCount = false
	s.touch(entry, s.clock())
	return *doc, nil
}

// ClearDocuments drops the submitted documents from the session. Unknown IDs are ignored.
func (s *SessionStore) ClearDocuments(_ context.Context, customerID, sessionID string, documentIDs []string) error {
	submitted := make(map[string]struct{}, len(documentIDs))
	for _, id := range documentIDs {
		submitted[id] = struct{}{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, err := s.lookup(customerID, sessionID)
	if err != nil {
		return err
	}
	entry.session.Documents = slices.DeleteFunc(entry.session.Documents, func(doc Document) bool {
		_, ok := submitted[doc.ID]
		return ok
	})
	s.touch(entry, s.clock())
	return nil
}

// Subscribe emits the current session and every later change until ctx ends or the session expires.
func (s *SessionStore) Subscribe(ctx context.Context, customerID, sessionID string) (<-chan UploadSession, error) {
	s.mu.Lock()
	entry, err := s.lookup(customerID, sessionID)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	ch := make(chan UploadSession, 1)
	id := entry.nextSub
	entry.nextSub++
	entry.subs[id] = ch
	ch <- cloneSession(entry.session)
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		defer s.mu.Unlock()
		if sub, ok := entry.subs[id]; ok {
			delete(entry.subs, id)
			close(sub)
		}
	}()
	return ch, nil
}

// Sweep drops sessions idle for longer than the TTL and returns how many were removed.
func (s *SessionStore) Sweep(ctx context.Context) int {
	now := s.clock()
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, entry := range s.sessions {
		if now.Sub(entry.lastSeen) <= s.idleTTL {
			continue
		}
		s.drop(id, entry)
		removed++
	}
	if removed > 0 {
		s.logger(ctx, "session.sweep", map[string]any{"removed": removed})
	}
	return removed
}

// Run sweeps expired sessions every interval until ctx is cancelled.
func (s *SessionStore) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// lookup must be called with mu held. Expired sessions are dropped on access.
func (s *SessionStore) lookup(customerID, sessionID string) (*sessionEntry, error) {
	entry, ok := s.sessions[strings.TrimSpace(sessionID)]
	if !ok || entry.session.CustomerID != strings.TrimSpace(customerID) {
		return nil, ErrSessionNotFound
	}
	now := s.clock()
	if now.Sub(entry.lastSeen) > s.idleTTL {
		s.drop(entry.session.ID, entry)
		return nil, ErrSessionNotFound
	}
	entry.lastSeen = now
	return entry, nil
}

func (s *SessionStore) touch(entry *sessionEntry, now time.Time) {
	entry.session.Version++
	entry.session.UpdatedAt = now
	entry.lastSeen = now
	snapshot := cloneSession(entry.session)
	for _, ch := range entry.subs {
		offerLatest(ch, snapshot)
	}
}

func (s *SessionStore) drop(id string, entry *sessionEntry) {
	delete(s.sessions, id)
	for subID, ch := range entry.subs {
		delete(entry.subs, subID)
		close(ch)
	}
}

func indexOfDocument(docs []Document, documentID string) int {
	documentID = strings.TrimSpace(documentID)
	return slices.IndexFunc(docs, func(doc Document) bool {
		return doc.ID == documentID
	})
}

func cloneSession(session UploadSession) UploadSession {
	session.Documents = slices.Clone(session.Documents)
	return session
}
