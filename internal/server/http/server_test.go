package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/litforge/bibliography-service/internal/auth"
	"github.com/litforge/bibliography-service/internal/domain"
	"github.com/litforge/bibliography-service/internal/papersources"
	"github.com/litforge/bibliography-service/internal/repository"
	"github.com/litforge/bibliography-service/internal/search"
	"github.com/litforge/bibliography-service/internal/workflow"
)

// memUsers is an in-memory user repository for handler tests.
type memUsers struct {
	mu     sync.Mutex
	byID   map[uuid.UUID]*domain.User
	ledger *memLedger
}

func newMemUsers(ledger *memLedger) *memUsers {
	return &memUsers{byID: make(map[uuid.UUID]*domain.User), ledger: ledger}
}

func (m *memUsers) Create(ctx context.Context, user *domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.byID {
		if u.Email == user.Email {
			return domain.ErrAlreadyExists
		}
	}
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now()
	}
	clone := *user
	m.byID[user.ID] = &clone
	return nil
}

func (m *memUsers) GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	clone := *u
	return &clone, nil
}

func (m *memUsers) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.byID {
		if u.Email == email {
			clone := *u
			return &clone, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memUsers) SetAdmin(ctx context.Context, id uuid.UUID, isAdmin bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[id]
	if !ok {
		return domain.ErrNotFound
	}
	u.IsAdmin = isAdmin
	return nil
}

func (m *memUsers) ListWithAccounts(ctx context.Context) ([]*domain.UserWithAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*domain.UserWithAccount, 0, len(m.byID))
	for _, u := range m.byID {
		entry := &domain.UserWithAccount{User: *u}
		if acct, err := m.ledger.GetAccount(ctx, u.ID); err == nil {
			entry.CreditsBalance = acct.CreditsBalance
			entry.CreditsUnlimited = acct.CreditsUnlimited
		}
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// memLedger is an in-memory ledger repository for handler tests.
type memLedger struct {
	mu        sync.Mutex
	balances  map[uuid.UUID]int
	unlimited map[uuid.UUID]bool
	entries   []*domain.LedgerEntry
	keys      map[string]bool
}

func newMemLedger() *memLedger {
	return &memLedger{
		balances:  make(map[uuid.UUID]int),
		unlimited: make(map[uuid.UUID]bool),
		keys:      make(map[string]bool),
	}
}

func (m *memLedger) CreateAccount(ctx context.Context, userID uuid.UUID, initialCredits int, unlimited bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.balances[userID]; ok {
		return nil
	}
	m.balances[userID] = initialCredits
	m.unlimited[userID] = unlimited
	if initialCredits > 0 {
		m.entries = append(m.entries, &domain.LedgerEntry{
			ID:        uuid.New(),
			UserID:    userID,
			EntryType: domain.EntryTypeCredit,
			Units:     initialCredits,
			Reason:    domain.ReasonInitialGrant,
			CreatedAt: time.Now(),
		})
	}
	return nil
}

func (m *memLedger) GetAccount(ctx context.Context, userID uuid.UUID) (*domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	balance, ok := m.balances[userID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &domain.Account{
		UserID:           userID,
		CreditsBalance:   balance,
		CreditsUnlimited: m.unlimited[userID],
	}, nil
}

func (m *memLedger) DebitOnce(ctx context.Context, userID, runID uuid.UUID, idempotencyKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.keys[idempotencyKey] {
		return nil
	}
	if !m.unlimited[userID] && m.balances[userID] < 1 {
		return domain.ErrInsufficientBalance
	}
	m.keys[idempotencyKey] = true
	if !m.unlimited[userID] {
		m.balances[userID]--
	}
	return nil
}

func (m *memLedger) AdjustCredits(ctx context.Context, params repository.AdjustParams) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if params.IdempotencyKey != "" && m.keys[params.IdempotencyKey] {
		return m.balances[params.UserID], nil
	}
	next := m.balances[params.UserID] + params.Delta
	if next < 0 {
		return 0, domain.ErrInvalidInput
	}
	if params.IdempotencyKey != "" {
		m.keys[params.IdempotencyKey] = true
	}
	m.balances[params.UserID] = next
	m.entries = append(m.entries, &domain.LedgerEntry{
		ID:        uuid.New(),
		UserID:    params.UserID,
		EntryType: domain.EntryTypeCredit,
		Units:     params.Delta,
		Reason:    params.Reason,
		CreatedAt: time.Now(),
	})
	return next, nil
}

func (m *memLedger) SetUnlimited(ctx context.Context, userID uuid.UUID, unlimited bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.balances[userID]; !ok {
		m.balances[userID] = 0
	}
	m.unlimited[userID] = unlimited
	return nil
}

func (m *memLedger) ListEntries(ctx context.Context, userID uuid.UUID, limit int) ([]*domain.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 {
		limit = 20
	}
	out := make([]*domain.LedgerEntry, 0, limit)
	for i := len(m.entries) - 1; i >= 0 && len(out) < limit; i-- {
		if m.entries[i].UserID == userID {
			out = append(out, m.entries[i])
		}
	}
	return out, nil
}

// memRuns is an in-memory run repository for handler tests.
type memRuns struct {
	mu   sync.Mutex
	runs map[uuid.UUID]*domain.Run
}

func newMemRuns() *memRuns {
	return &memRuns{runs: make(map[uuid.UUID]*domain.Run)}
}

func (m *memRuns) Create(ctx context.Context, run *domain.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[run.ID]; ok {
		return domain.ErrAlreadyExists
	}
	clone := *run
	m.runs[run.ID] = &clone
	return nil
}

func (m *memRuns) Get(ctx context.Context, id uuid.UUID) (*domain.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	clone := *run
	return &clone, nil
}

func (m *memRuns) Finish(ctx context.Context, id uuid.UUID, status domain.RunStatus, errorMessage string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return domain.ErrNotFound
	}
	if run.Status != domain.RunStatusRunning {
		return nil
	}
	now := time.Now()
	run.Status = status
	run.ErrorMessage = errorMessage
	run.FinishedAt = &now
	return nil
}

func (m *memRuns) ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]*domain.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*domain.Run{}
	for _, run := range m.runs {
		if run.UserID == userID {
			clone := *run
			out = append(out, &clone)
		}
	}
	return out, nil
}

// stubRunner scripts the workflow runner.
type stubRunner struct {
	mu     sync.Mutex
	result *workflow.Result
	err    error
	events []workflow.Event
	gotReq workflow.Request
}

func (s *stubRunner) Execute(ctx context.Context, req workflow.Request, emitter workflow.Emitter) (*workflow.Result, error) {
	s.mu.Lock()
	s.gotReq = req
	events := s.events
	result, err := s.result, s.err
	s.mu.Unlock()
	for _, ev := range events {
		if emitter != nil {
			emitter.Emit(ev)
		}
	}
	return result, err
}

func (s *stubRunner) request() workflow.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gotReq
}

// stubSearcher scripts the single-search service.
type stubSearcher struct {
	outcome search.Outcome
	gotReq  search.Request
}

func (s *stubSearcher) Run(ctx context.Context, req search.Request, emit func(domain.StatusEntry)) search.Outcome {
	s.gotReq = req
	emit(domain.Status("searching", domain.StatusRunning, "querying "+req.Source))
	return s.outcome
}

// stubQueries scripts query generation.
type stubQueries struct {
	query   string
	message string
	err     error
}

func (s *stubQueries) Generate(ctx context.Context, intent, source string) (string, string, error) {
	if s.err != nil {
		return "", "", s.err
	}
	return s.query, s.message, nil
}

// stubSource is a registry entry that never searches.
type stubSource struct {
	name    string
	display string
}

func (s *stubSource) Name() string        { return s.name }
func (s *stubSource) DisplayName() string { return s.display }
func (s *stubSource) Search(ctx context.Context, params papersources.SearchParams) ([]domain.Article, error) {
	return nil, nil
}

type env struct {
	server   *Server
	auth     *auth.Service
	users    *memUsers
	ledger   *memLedger
	runs     *memRuns
	runner   *stubRunner
	searcher *stubSearcher
	queries  *stubQueries
}

func newTestEnv(t *testing.T) *env {
	t.Helper()

	ledger := newMemLedger()
	users := newMemUsers(ledger)
	runs := newMemRuns()

	tokens := auth.NewJWTManager("test-secret", "", time.Hour)
	authSvc := auth.NewService(users, ledger, tokens, auth.Config{
		BCryptCost:        4, // keep the tests fast
		InitialCredits:    10,
		AllowRegistration: true,
	}, zerolog.Nop())

	registry := papersources.NewRegistry()
	registry.Register(&stubSource{name: "pubmed", display: "PubMed"})
	registry.Register(&stubSource{name: "embase", display: "Embase"})

	runner := &stubRunner{}
	searcher := &stubSearcher{}
	queries := &stubQueries{query: "generated query", message: "rule-based"}

	server := NewServer(Config{Address: ":0"}, Deps{
		Auth:          authSvc,
		Workflows:     runner,
		Search:        searcher,
		Queries:       queries,
		Runs:          runs,
		Ledger:        ledger,
		Users:         users,
		Registry:      registry,
		DefaultSource: "pubmed",
	}, zerolog.Nop())

	return &env{
		server:   server,
		auth:     authSvc,
		users:    users,
		ledger:   ledger,
		runs:     runs,
		runner:   runner,
		searcher: searcher,
		queries:  queries,
	}
}

// registerUser creates a user through the auth service and returns it with a
// valid token.
func (e *env) registerUser(t *testing.T, email string) (*domain.User, string) {
	t.Helper()
	user, token, err := e.auth.Register(context.Background(), email, "password123")
	require.NoError(t, err)
	return user, token
}

// registerAdmin creates an admin user with a valid token.
func (e *env) registerAdmin(t *testing.T, email string) (*domain.User, string) {
	t.Helper()
	user, token := e.registerUser(t, email)
	require.NoError(t, e.users.SetAdmin(context.Background(), user.ID, true))
	user.IsAdmin = true
	return user, token
}

// doJSON performs one request against the router and returns the recorder.
func (e *env) doJSON(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(rec.Body).Decode(v))
}

func TestHealthz(t *testing.T) {
	e := newTestEnv(t)

	rec := e.doJSON(t, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestReadyzWithoutDatabase(t *testing.T) {
	e := newTestEnv(t)

	rec := e.doJSON(t, http.MethodGet, "/readyz", "", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
