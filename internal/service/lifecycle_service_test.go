package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buttermb/menulink/internal/crypto"
	"github.com/buttermb/menulink/internal/domain"
	"github.com/buttermb/menulink/internal/dto"
)

type lifecycleFixture struct {
	repo  *fakeMenuRepo
	vault *crypto.Vault
	bus   *fakeNotifier
	svc   LifecycleService
}

func newLifecycleFixture(t *testing.T) *lifecycleFixture {
	t.Helper()
	f := &lifecycleFixture{
		repo:  newFakeMenuRepo(),
		vault: newTestVault(t),
		bus:   &fakeNotifier{},
	}
	f.svc = NewLifecycleService(nil, f.repo, f.vault, f.bus)
	return f
}

func createReq() *dto.CreateMenuRequest {
	deactivate := time.Now().Add(72 * time.Hour)
	return &dto.CreateMenuRequest{
		Name:       "Friday Drop",
		MenuType:   domain.MenuTypeStandard,
		AccessCode: "hunter2x",
		Products: []domain.Product{
			{ID: "p1", Name: "House Blend", PriceCents: 1500, Available: true},
		},
		ScheduledDeactivationAt: &deactivate,
		ActivateImmediately:     true,
	}
}

func TestLifecycleCreate(t *testing.T) {
	f := newLifecycleFixture(t)

	resp, err := f.svc.Create(context.Background(), "tenant-1", createReq())
	require.NoError(t, err)
	require.NotNil(t, resp)

	assert.Equal(t, domain.StateActive, resp.State)
	assert.True(t, resp.HasAccessCode)

	stored := f.repo.menus[resp.ID]
	require.NotNil(t, stored)
	// the raw code is hashed and discarded
	assert.NotEmpty(t, stored.AccessCodeHash)
	assert.NotContains(t, stored.AccessCodeHash, "hunter2x")
	assert.True(t, crypto.VerifyAccessCode("hunter2x", stored.AccessCodeHash, stored.AccessCodeSalt))

	// the payload round-trips through the vault
	var payload domain.MenuPayload
	require.NoError(t, f.vault.Open("tenant-1", stored.PayloadCiphertext, stored.PayloadNonce, &payload))
	require.Len(t, payload.Products, 1)
	assert.Equal(t, "House Blend", payload.Products[0].Name)

	// a live token was minted
	token, err := f.repo.CurrentToken(context.Background(), resp.ID)
	require.NoError(t, err)
	require.NotNil(t, token)
	assert.NotEmpty(t, token.Token)
}

func TestLifecycleCreate_Draft(t *testing.T) {
	f := newLifecycleFixture(t)
	req := createReq()
	req.ActivateImmediately = false

	resp, err := f.svc.Create(context.Background(), "tenant-1", req)
	require.NoError(t, err)
	assert.Equal(t, domain.StateDraft, resp.State)
}

func TestLifecycleGetShareLink(t *testing.T) {
	f := newLifecycleFixture(t)
	resp, err := f.svc.Create(context.Background(), "tenant-1", createReq())
	require.NoError(t, err)

	link, err := f.svc.GetShareLink(context.Background(), "tenant-1", resp.ID)
	require.NoError(t, err)
	assert.Equal(t, resp.ID, link.MenuID)
	assert.NotEmpty(t, link.URLToken)
	assert.True(t, link.HasAccessCode)
	assert.NotEmpty(t, link.ExpiresAt)

	// foreign tenant sees nothing
	_, err = f.svc.GetShareLink(context.Background(), "tenant-2", resp.ID)
	assert.ErrorIs(t, err, domain.ErrMenuNotFound)
}

func seedActive(t *testing.T, f *lifecycleFixture) *domain.Menu {
	t.Helper()
	resp, err := f.svc.Create(context.Background(), "tenant-1", createReq())
	require.NoError(t, err)
	menu := f.repo.menus[resp.ID]
	menu.ViewCount = 40
	menu.OrderCount = 10
	menu.TotalRevenueCents = 25000
	return menu
}

func TestLifecycleArchive(t *testing.T) {
	f := newLifecycleFixture(t)
	menu := seedActive(t, f)
	f.repo.top = []domain.TopProduct{{ProductID: "p1", Name: "House Blend", Orders: 10}}
	f.bus.events = nil

	now := time.Now()
	err := f.svc.Archive(context.Background(), menu.ID, domain.ArchiveReasonScheduled, now)
	require.NoError(t, err)

	assert.Equal(t, domain.StateArchived, menu.State)
	require.NotNil(t, menu.ArchivedReason)
	assert.Equal(t, domain.ArchiveReasonScheduled, *menu.ArchivedReason)

	// the live token was revoked with the archival
	token, err := f.repo.CurrentToken(context.Background(), menu.ID)
	require.NoError(t, err)
	assert.Nil(t, token)

	snaps := f.repo.snapshots[menu.ID]
	require.Len(t, snaps, 1)
	assert.Equal(t, int64(40), snaps[0].TotalViews)
	assert.Equal(t, int64(10), snaps[0].TotalOrders)
	assert.Equal(t, int64(25000), snaps[0].TotalRevenueCents)
	assert.InDelta(t, 0.25, snaps[0].ConversionRate, 1e-9)
	require.Len(t, snaps[0].TopProducts, 1)
	assert.Equal(t, "House Blend", snaps[0].TopProducts[0].Name)

	events := f.bus.published()
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventMenuArchived, events[0].Type)
}

func TestLifecycleArchive_AlreadyArchived(t *testing.T) {
	f := newLifecycleFixture(t)
	menu := seedActive(t, f)

	require.NoError(t, f.svc.Archive(context.Background(), menu.ID, domain.ArchiveReasonScheduled, time.Now()))

	// a second sweep finding the menu already archived is a conflict,
	// not a duplicate snapshot
	err := f.svc.Archive(context.Background(), menu.ID, domain.ArchiveReasonScheduled, time.Now())
	assert.ErrorIs(t, err, domain.ErrSchedulerConflict)
	assert.Len(t, f.repo.snapshots[menu.ID], 1)
}

// lateViewRepo lands one more successful view between the lifecycle
// read and the transition applying, the way a concurrent request can
// commit its increment right up to the archive instant.
type lateViewRepo struct {
	*fakeMenuRepo
	landed bool
}

func (r *lateViewRepo) Archive(ctx context.Context, menuID string, reason domain.ArchiveReason, snapshot *domain.AnalyticsSnapshot, at time.Time) (bool, error) {
	if !r.landed {
		_, applied, err := r.fakeMenuRepo.IncrementViewCount(ctx, menuID)
		r.landed = err == nil && applied
	}
	return r.fakeMenuRepo.Archive(ctx, menuID, reason, snapshot, at)
}

func TestLifecycleArchive_CountsViewAtTransitionInstant(t *testing.T) {
	f := newLifecycleFixture(t)
	menu := seedActive(t, f)
	late := &lateViewRepo{fakeMenuRepo: f.repo}
	svc := NewLifecycleService(nil, late, f.vault, f.bus)

	require.NoError(t, svc.Archive(context.Background(), menu.ID, domain.ArchiveReasonScheduled, time.Now()))
	require.True(t, late.landed, "the interleaved view should land while the menu is still active")

	snaps := f.repo.snapshots[menu.ID]
	require.Len(t, snaps, 1)
	// 40 seeded views plus the one that squeezed in before the flip
	assert.Equal(t, int64(41), snaps[0].TotalViews)
	assert.Equal(t, menu.ViewCount, snaps[0].TotalViews)
}

func TestLifecycleReactivate(t *testing.T) {
	f := newLifecycleFixture(t)
	menu := seedActive(t, f)
	oldLink, err := f.svc.GetShareLink(context.Background(), "tenant-1", menu.ID)
	require.NoError(t, err)

	require.NoError(t, f.svc.Archive(context.Background(), menu.ID, domain.ArchiveReasonManual, time.Now()))
	f.bus.events = nil

	resp, err := f.svc.Reactivate(context.Background(), "tenant-1", menu.ID, &dto.ReactivateRequest{
		ScheduledDeactivationAt: time.Now().Add(48 * time.Hour),
	})
	require.NoError(t, err)

	assert.Equal(t, domain.StateActive, menu.State)
	assert.NotEmpty(t, resp.URLToken)
	// the link is a fresh mint; the retired one stays dead
	assert.NotEqual(t, oldLink.URLToken, resp.URLToken)
	assert.True(t, f.repo.tokens[oldLink.URLToken].IsRevoked())

	// counters restart from zero for the new active period
	assert.Equal(t, int64(0), menu.ViewCount)
	assert.Equal(t, int64(0), menu.OrderCount)

	events := f.bus.published()
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventMenuReactivated, events[0].Type)
}

func TestLifecycleReactivate_FromActive(t *testing.T) {
	f := newLifecycleFixture(t)
	menu := seedActive(t, f)

	_, err := f.svc.Reactivate(context.Background(), "tenant-1", menu.ID, &dto.ReactivateRequest{
		ScheduledDeactivationAt: time.Now().Add(48 * time.Hour),
	})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestLifecycleBurn(t *testing.T) {
	f := newLifecycleFixture(t)
	menu := seedActive(t, f)
	f.bus.events = nil

	require.NoError(t, f.svc.Burn(context.Background(), "tenant-1", menu.ID))
	assert.Equal(t, domain.StateBurned, menu.State)

	events := f.bus.published()
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventMenuBurned, events[0].Type)

	// burned is terminal
	_, err := f.svc.Reactivate(context.Background(), "tenant-1", menu.ID, &dto.ReactivateRequest{
		ScheduledDeactivationAt: time.Now().Add(time.Hour),
	})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestLifecycleBurn_Archived(t *testing.T) {
	f := newLifecycleFixture(t)
	menu := seedActive(t, f)
	require.NoError(t, f.svc.Archive(context.Background(), menu.ID, domain.ArchiveReasonManual, time.Now()))

	err := f.svc.Burn(context.Background(), "tenant-1", menu.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestLifecycleExpiringSoon(t *testing.T) {
	f := newLifecycleFixture(t)
	now := time.Now()

	soon := now.Add(12 * time.Hour)
	far := now.Add(200 * time.Hour)
	f.repo.add(&domain.Menu{ID: "m-soon", TenantID: "tenant-1", State: domain.StateActive, ScheduledDeactivationAt: &soon}, nil)
	f.repo.add(&domain.Menu{ID: "m-far", TenantID: "tenant-1", State: domain.StateActive, ScheduledDeactivationAt: &far}, nil)
	f.repo.add(&domain.Menu{ID: "m-other", TenantID: "tenant-2", State: domain.StateActive, ScheduledDeactivationAt: &soon}, nil)

	out, err := f.svc.ExpiringSoon(context.Background(), "tenant-1", now)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "m-soon", out[0].ID)
	assert.True(t, out[0].ExpiringSoon)
}

func TestLifecycleSnapshots_AccumulateAcrossPeriods(t *testing.T) {
	f := newLifecycleFixture(t)
	menu := seedActive(t, f)

	require.NoError(t, f.svc.Archive(context.Background(), menu.ID, domain.ArchiveReasonScheduled, time.Now()))
	_, err := f.svc.Reactivate(context.Background(), "tenant-1", menu.ID, &dto.ReactivateRequest{
		ScheduledDeactivationAt: time.Now().Add(24 * time.Hour),
	})
	require.NoError(t, err)

	menu.ViewCount = 7
	require.NoError(t, f.svc.Archive(context.Background(), menu.ID, domain.ArchiveReasonManual, time.Now()))

	snaps, err := f.svc.Snapshots(context.Background(), "tenant-1", menu.ID)
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	// newest first; the first period's numbers stayed frozen
	assert.Equal(t, int64(7), snaps[0].TotalViews)
	assert.Equal(t, int64(40), snaps[1].TotalViews)
}
