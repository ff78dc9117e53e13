package api

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"

	"github.com/Checker-Finance/bastion/internal/credstore"
	"github.com/Checker-Finance/bastion/internal/dispatch"
	"github.com/Checker-Finance/bastion/internal/errs"
	"github.com/Checker-Finance/bastion/internal/resolver"
	"github.com/Checker-Finance/bastion/internal/rules"
	"github.com/Checker-Finance/bastion/internal/sealed"
	"github.com/Checker-Finance/bastion/internal/sysuser"
	"github.com/Checker-Finance/bastion/internal/tenancy"
	"github.com/Checker-Finance/bastion/pkg/model"
)

var testSecret = []byte("test-signing-secret")

// memDB backs every repository interface the API stack consumes.
type memDB struct {
	mu      sync.Mutex
	orgs    map[string]bool
	users   map[string]model.SystemUser
	assets  map[string]model.Asset
	rules   map[string][]model.CommandFilterRule
	entries map[model.EntryKey]model.SealedEntry
}

func newMemDB() *memDB {
	return &memDB{
		orgs:    map[string]bool{"org-a": true, "org-b": true, model.DefaultOrgID: true},
		users:   map[string]model.SystemUser{},
		assets:  map[string]model.Asset{},
		rules:   map[string][]model.CommandFilterRule{},
		entries: map[model.EntryKey]model.SealedEntry{},
	}
}

func (m *memDB) OrgExists(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.orgs[id], nil
}

func (m *memDB) ListSystemUsers(_ context.Context, orgID string, f model.SystemUserFilter) ([]model.SystemUser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.SystemUser{}
	for _, su := range m.users {
		if !model.IsRoot(orgID) && su.OrgID != orgID {
			continue
		}
		if f.Name != "" && su.Name != f.Name {
			continue
		}
		if f.Username != "" && su.Username != f.Username {
			continue
		}
		if f.Search != "" && !strings.Contains(strings.ToLower(su.Name+" "+su.Username), strings.ToLower(f.Search)) {
			continue
		}
		out = append(out, su)
	}
	return out, nil
}

func (m *memDB) GetSystemUser(_ context.Context, orgID, id string) (model.SystemUser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	su, ok := m.users[id]
	if !ok || (!model.IsRoot(orgID) && su.OrgID != orgID) {
		return model.SystemUser{}, errs.ErrNotFound
	}
	return su, nil
}

func (m *memDB) CreateSystemUser(_ context.Context, su model.SystemUser) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[su.ID] = su
	return nil
}

func (m *memDB) UpdateSystemUser(_ context.Context, su model.SystemUser) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[su.ID] = su
	return nil
}

func (m *memDB) DeleteSystemUser(_ context.Context, _, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.users, id)
	for k := range m.entries {
		if k.SystemUserID == id {
			delete(m.entries, k)
		}
	}
	return nil
}

func (m *memDB) GetAsset(_ context.Context, orgID, id string) (model.Asset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.assets[id]
	if !ok || (!model.IsRoot(orgID) && a.OrgID != orgID) {
		return model.Asset{}, errs.ErrNotFound
	}
	return a, nil
}

func (m *memDB) SystemUserExists(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.users[id]
	return ok, nil
}

func (m *memDB) RulesForSystemUser(_ context.Context, id string) ([]model.CommandFilterRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rules[id], nil
}

func (m *memDB) GetEntry(_ context.Context, k model.EntryKey) (model.SealedEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[k]
	if !ok {
		return model.SealedEntry{}, errs.ErrNotFound
	}
	return e, nil
}

func (m *memDB) PutEntry(_ context.Context, e model.SealedEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[e.Key] = e
	return nil
}

func (m *memDB) DeleteEntry(_ context.Context, k model.EntryKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, k)
	return nil
}

func (m *memDB) DeleteAssetEntries(_ context.Context, suID, assetID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range m.entries {
		if k.SystemUserID == suID && k.AssetID == assetID {
			delete(m.entries, k)
		}
	}
	return nil
}

type mockQueue struct {
	mu   sync.Mutex
	jobs []model.Job
	err  error
}

func (q *mockQueue) Enqueue(_ context.Context, job model.Job) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return "", q.err
	}
	q.jobs = append(q.jobs, job)
	return job.ID, nil
}

type testEnv struct {
	app   *fiber.App
	db    *memDB
	queue *mockQueue
	creds *credstore.Store
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	id, err := sealed.GenerateIdentity()
	require.NoError(t, err)

	db := newMemDB()
	q := &mockQueue{}
	tm := tenancy.NewManager(db, nil)
	creds := credstore.New(db, sealed.NewSealer(sealed.NewStaticKeyring(id)), nil)
	dispatcher := dispatch.New(q, nil)
	users := sysuser.NewService(db, creds, tm, dispatcher, nil)

	h := NewHandler(nil, users, resolver.New(db, creds, tm, nil), dispatcher, rules.New(db))
	app := fiber.New()
	RegisterRoutes(app, NewAuth(testSecret, db, nil), h, map[string]HealthCheck{
		"store": func(context.Context) error { return nil },
	})
	return &testEnv{app: app, db: db, queue: q, creds: creds}
}

func token(t *testing.T, org, role string) string {
	t.Helper()
	tok, err := SignToken(testSecret, "tester", org, role, time.Hour)
	require.NoError(t, err)
	return tok
}

// do performs a request as role in org and returns status and body.
func (e *testEnv) do(t *testing.T, method, path, body, org, role string, headers ...string) (int, string) {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, path, rdr)
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if role != "" {
		req.Header.Set("Authorization", "Bearer "+token(t, org, role))
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	resp, err := e.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(data)
}
