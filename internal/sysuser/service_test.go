package sysuser

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Checker-Finance/bastion/internal/errs"
	"github.com/Checker-Finance/bastion/internal/tenancy"
	"github.com/Checker-Finance/bastion/pkg/model"
)

type mockRepo struct {
	users     map[string]model.SystemUser
	assets    map[string]model.Asset
	createErr error
	deleted   []string
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		users: map[string]model.SystemUser{},
		assets: map[string]model.Asset{
			"A42": {ID: "A42", OrgID: "org-b"},
		},
	}
}

func (m *mockRepo) ListSystemUsers(_ context.Context, orgID string, f model.SystemUserFilter) ([]model.SystemUser, error) {
	out := []model.SystemUser{}
	for _, su := range m.users {
		if !model.IsRoot(orgID) && su.OrgID != orgID {
			continue
		}
		if f.Name != "" && su.Name != f.Name {
			continue
		}
		if f.Search != "" && !strings.Contains(strings.ToLower(su.Name+su.Username), strings.ToLower(f.Search)) {
			continue
		}
		out = append(out, su)
	}
	return out, nil
}

func (m *mockRepo) GetSystemUser(_ context.Context, orgID, id string) (model.SystemUser, error) {
	su, ok := m.users[id]
	if !ok || (!model.IsRoot(orgID) && su.OrgID != orgID) {
		return model.SystemUser{}, errs.ErrNotFound
	}
	return su, nil
}

func (m *mockRepo) CreateSystemUser(_ context.Context, su model.SystemUser) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.users[su.ID] = su
	return nil
}

func (m *mockRepo) UpdateSystemUser(_ context.Context, su model.SystemUser) error {
	if _, ok := m.users[su.ID]; !ok {
		return errs.ErrNotFound
	}
	m.users[su.ID] = su
	return nil
}

func (m *mockRepo) DeleteSystemUser(_ context.Context, _, id string) error {
	delete(m.users, id)
	m.deleted = append(m.deleted, id)
	return nil
}

func (m *mockRepo) GetAsset(_ context.Context, orgID, id string) (model.Asset, error) {
	a, ok := m.assets[id]
	if !ok || (!model.IsRoot(orgID) && a.OrgID != orgID) {
		return model.Asset{}, errs.ErrNotFound
	}
	return a, nil
}

type credCall struct {
	op, su, asset, username, org string
}

type mockCreds struct {
	calls []credCall
}

func (m *mockCreds) SetDefault(ctx context.Context, su string, _ model.Credential) error {
	m.calls = append(m.calls, credCall{op: "set_default", su: su, org: tenancy.Current(ctx)})
	return nil
}

func (m *mockCreds) ClearDefault(ctx context.Context, su string) error {
	m.calls = append(m.calls, credCall{op: "clear_default", su: su, org: tenancy.Current(ctx)})
	return nil
}

func (m *mockCreds) Set(ctx context.Context, su, asset, username string, _ model.Credential) error {
	m.calls = append(m.calls, credCall{op: "set", su: su, asset: asset, username: username, org: tenancy.Current(ctx)})
	return nil
}

func (m *mockCreds) ClearOverride(ctx context.Context, su, asset, username string) error {
	m.calls = append(m.calls, credCall{op: "clear_override", su: su, asset: asset, username: username, org: tenancy.Current(ctx)})
	return nil
}

type mockPusher struct {
	pushed []string
	err    error
}

func (m *mockPusher) SubmitPushAll(_ context.Context, su model.SystemUser) (model.Job, error) {
	m.pushed = append(m.pushed, su.ID)
	return model.Job{ID: "job-1", Kind: model.JobPushAll}, m.err
}

type orgs struct{}

func (orgs) OrgExists(_ context.Context, id string) (bool, error) {
	return id == "org-a" || id == "org-b" || id == model.DefaultOrgID, nil
}

func newTestService() (*Service, *mockRepo, *mockCreds, *mockPusher) {
	repo := newMockRepo()
	creds := &mockCreds{}
	pusher := &mockPusher{}
	return NewService(repo, creds, tenancy.NewManager(orgs{}, nil), pusher, nil), repo, creds, pusher
}

func TestCreate_Defaults(t *testing.T) {
	svc, repo, _, _ := newTestService()
	ctx := tenancy.WithNewScope(context.Background(), "org-a")

	su, err := svc.Create(ctx, model.SystemUser{Name: " svc-db ", Username: "root"})
	require.NoError(t, err)

	assert.NotEmpty(t, su.ID)
	assert.Equal(t, "org-a", su.OrgID)
	assert.Equal(t, "svc-db", su.Name)
	assert.Equal(t, model.ProtocolSSH, su.Protocol)
	assert.Equal(t, DefaultPriority, su.Priority)
	assert.Equal(t, model.LoginModeAuto, su.LoginMode)
	assert.Equal(t, "/bin/bash", su.Shell)
	assert.False(t, su.CreatedAt.IsZero())
	assert.Equal(t, su, repo.users[su.ID])
}

func TestCreate_FromRootLandsInDefaultOrg(t *testing.T) {
	svc, _, _, _ := newTestService()
	su, err := svc.Create(context.Background(), model.SystemUser{Name: "svc", Username: "root"})
	require.NoError(t, err)
	assert.Equal(t, model.DefaultOrgID, su.OrgID)
}

func TestCreate_Validation(t *testing.T) {
	svc, _, _, _ := newTestService()
	ctx := context.Background()

	cases := []model.SystemUser{
		{Username: "root"},
		{Name: "a", Username: "ro ot"},
		{Name: "a", Username: "root", Priority: 101},
		{Name: "a", Username: "root", Protocol: "ftp"},
		{Name: "a", Username: "root", LoginMode: "sometimes"},
		{Name: "a"},
	}
	for _, c := range cases {
		_, err := svc.Create(ctx, c)
		assert.ErrorIs(t, err, errs.ErrValidation, "%+v", c)
	}

	// manual login does not need a username
	_, err := svc.Create(ctx, model.SystemUser{Name: "a", LoginMode: model.LoginModeManual})
	assert.NoError(t, err)
}

func TestCreate_RepoFailure(t *testing.T) {
	svc, repo, _, _ := newTestService()
	repo.createErr = errors.New("conn reset")
	_, err := svc.Create(context.Background(), model.SystemUser{Name: "a", Username: "root"})
	assert.ErrorIs(t, err, errs.ErrStoreWrite)

	repo.createErr = errs.ErrValidation
	_, err = svc.Create(context.Background(), model.SystemUser{Name: "a", Username: "root"})
	assert.ErrorIs(t, err, errs.ErrValidation)
	assert.NotErrorIs(t, err, errs.ErrStoreWrite)
}

func TestListAndGet_ScopedToOrg(t *testing.T) {
	svc, repo, _, _ := newTestService()
	repo.users["1"] = model.SystemUser{ID: "1", OrgID: "org-a", Name: "db"}
	repo.users["2"] = model.SystemUser{ID: "2", OrgID: "org-b", Name: "web"}

	ctxA := tenancy.WithNewScope(context.Background(), "org-a")
	list, err := svc.List(ctxA, model.SystemUserFilter{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "1", list[0].ID)

	_, err = svc.Get(ctxA, "2")
	assert.ErrorIs(t, err, errs.ErrNotFound)

	all, err := svc.List(context.Background(), model.SystemUserFilter{Search: " WE "})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "2", all[0].ID)

	_, err = svc.Get(ctxA, "")
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestUpdate_Patch(t *testing.T) {
	svc, repo, _, _ := newTestService()
	ctx := context.Background()
	su, err := svc.Create(ctx, model.SystemUser{Name: "db", Username: "root", Comment: "keep"})
	require.NoError(t, err)

	name, prio := "db-primary", 5
	got, err := svc.Update(ctx, su.ID, Patch{Name: &name, Priority: &prio})
	require.NoError(t, err)
	assert.Equal(t, "db-primary", got.Name)
	assert.Equal(t, 5, got.Priority)
	assert.Equal(t, "keep", got.Comment)
	assert.Equal(t, got, repo.users[su.ID])

	bad := 0
	neg := -1
	_, err = svc.Update(ctx, su.ID, Patch{Priority: &neg})
	assert.ErrorIs(t, err, errs.ErrValidation)
	// zero priority falls back to the default
	got, err = svc.Update(ctx, su.ID, Patch{Priority: &bad})
	require.NoError(t, err)
	assert.Equal(t, DefaultPriority, got.Priority)

	_, err = svc.Update(ctx, "ghost", Patch{Name: &name})
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestDelete(t *testing.T) {
	svc, repo, _, _ := newTestService()
	ctx := context.Background()
	su, err := svc.Create(ctx, model.SystemUser{Name: "db", Username: "root"})
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, su.ID))
	assert.Equal(t, []string{su.ID}, repo.deleted)
	assert.ErrorIs(t, svc.Delete(ctx, su.ID), errs.ErrNotFound)
}

func TestSetAuthInfo_AutoPush(t *testing.T) {
	svc, _, creds, pusher := newTestService()
	ctx := context.Background()
	su := model.SystemUser{ID: "svc-db", OrgID: "org-a", Username: "root", AutoPush: true}

	require.NoError(t, svc.SetAuthInfo(ctx, su, model.Credential{Password: "S1"}))
	require.Len(t, creds.calls, 1)
	assert.Equal(t, credCall{op: "set_default", su: "svc-db", org: "org-a"}, creds.calls[0])
	assert.Equal(t, []string{"svc-db"}, pusher.pushed)

	su.AutoPush = false
	require.NoError(t, svc.SetAuthInfo(ctx, su, model.Credential{Password: "S1"}))
	assert.Len(t, pusher.pushed, 1)
}

func TestSetAuthInfo_PushFailureIsLogged(t *testing.T) {
	svc, _, _, pusher := newTestService()
	pusher.err = errors.New("queue down")
	su := model.SystemUser{ID: "svc-db", OrgID: "org-a", AutoPush: true}
	assert.NoError(t, svc.SetAuthInfo(context.Background(), su, model.Credential{Password: "S1"}))
}

func TestAssetAuthInfo_RunsInAssetOrg(t *testing.T) {
	svc, _, creds, _ := newTestService()
	ctx := tenancy.WithNewScope(context.Background(), model.RootOrgID)
	su := model.SystemUser{ID: "svc-db", OrgID: "org-a", Username: "root"}

	require.NoError(t, svc.SetAssetAuthInfo(ctx, su, "A42", "", model.Credential{Password: "S2"}))
	require.NoError(t, svc.ClearAssetAuthInfo(ctx, su, "A42", " admin "))

	assert.Equal(t, []credCall{
		{op: "set", su: "svc-db", asset: "A42", username: "root", org: "org-b"},
		{op: "clear_override", su: "svc-db", asset: "A42", username: "admin", org: "org-b"},
	}, creds.calls)
	assert.Equal(t, model.RootOrgID, tenancy.Current(ctx))

	err := svc.SetAssetAuthInfo(ctx, su, "nope", "", model.Credential{Password: "x"})
	assert.ErrorIs(t, err, errs.ErrNotFound)
	assert.ErrorIs(t, svc.ClearAssetAuthInfo(ctx, su, "nope", ""), errs.ErrNotFound)
}

func TestAssetAuthInfo_OtherOrgAssetIsNotFound(t *testing.T) {
	svc, _, creds, _ := newTestService()
	ctx := tenancy.WithNewScope(context.Background(), "org-a")
	su := model.SystemUser{ID: "svc-db", OrgID: "org-a", Username: "root"}

	err := svc.SetAssetAuthInfo(ctx, su, "A42", "", model.Credential{Password: "S2"})
	assert.ErrorIs(t, err, errs.ErrNotFound)
	assert.ErrorIs(t, svc.ClearAssetAuthInfo(ctx, su, "A42", ""), errs.ErrNotFound)
	_, err = svc.Asset(ctx, "A42")
	assert.ErrorIs(t, err, errs.ErrNotFound)
	assert.Empty(t, creds.calls)
}
