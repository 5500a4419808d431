package service

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buttermb/menulink/internal/crypto"
	"github.com/buttermb/menulink/internal/domain"
	"github.com/buttermb/menulink/internal/dto"
	"github.com/buttermb/menulink/internal/security"
)

func newTestVault(t *testing.T) *crypto.Vault {
	t.Helper()
	master := base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{0x42}, 32))
	keyring, err := crypto.NewDerivedKeyring(master)
	require.NoError(t, err)
	return crypto.NewVault(keyring)
}

type accessFixture struct {
	repo    *fakeMenuRepo
	monitor *fakeMonitor
	vault   *crypto.Vault
	bus     *fakeNotifier
	svc     AccessService
}

func newAccessFixture(t *testing.T) *accessFixture {
	t.Helper()
	f := &accessFixture{
		repo:    newFakeMenuRepo(),
		monitor: &fakeMonitor{},
		vault:   newTestVault(t),
		bus:     &fakeNotifier{},
	}
	f.svc = NewAccessService(&AccessServiceConfig{DefaultRateLimitPerMinute: 100}, f.repo, f.monitor, f.vault, f.bus)
	return f
}

// seedMenu seals the payload, stores the menu with a live token and
// returns both.
func (f *accessFixture) seedMenu(t *testing.T, mutate func(*domain.Menu), payload domain.MenuPayload) (*domain.Menu, *domain.AccessToken) {
	t.Helper()
	expires := time.Now().Add(24 * time.Hour)
	menu := &domain.Menu{
		ID:       "menu-1",
		TenantID: "tenant-1",
		Name:     "Weekend Drop",
		State:    domain.StateActive,
		Security: domain.SecuritySettings{
			MenuType:           domain.MenuTypeStandard,
			RateLimitPerMinute: 100,
		},
		ScheduledDeactivationAt: &expires,
		CreatedAt:               time.Now(),
	}
	if mutate != nil {
		mutate(menu)
	}

	ciphertext, nonce, err := f.vault.Seal(menu.TenantID, payload)
	require.NoError(t, err)
	menu.PayloadCiphertext = ciphertext
	menu.PayloadNonce = nonce

	token := &domain.AccessToken{
		Token:     "tok_" + menu.ID,
		MenuID:    menu.ID,
		TenantID:  menu.TenantID,
		CreatedAt: time.Now(),
	}
	f.repo.add(menu, token)
	return menu, token
}

func standardPayload() domain.MenuPayload {
	return domain.MenuPayload{Products: []domain.Product{
		{ID: "p1", Name: "House Blend", PriceCents: 1500, Available: true},
		{ID: "p2", Name: "Single Origin", PriceCents: 2200, Available: true},
	}}
}

func TestAccessValidate_Success(t *testing.T) {
	f := newAccessFixture(t)
	menu, token := f.seedMenu(t, nil, standardPayload())

	resp, err := f.svc.Validate(context.Background(), &dto.AccessRequest{URLToken: token.Token}, "203.0.113.4")
	require.NoError(t, err)
	require.NotNil(t, resp)

	assert.Equal(t, menu.ID, resp.Menu.ID)
	assert.Len(t, resp.Products, 2)
	assert.Empty(t, resp.RedirectURL)
	assert.Equal(t, int64(1), f.repo.menus[menu.ID].ViewCount)

	events := f.bus.published()
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventMenuViewed, events[0].Type)
	assert.Equal(t, menu.ID, events[0].MenuID)
}

func TestAccessValidate_UnknownToken(t *testing.T) {
	f := newAccessFixture(t)

	resp, err := f.svc.Validate(context.Background(), &dto.AccessRequest{URLToken: "tok_missing"}, "203.0.113.4")
	assert.Nil(t, resp)
	assert.ErrorIs(t, err, domain.ErrMenuNotFound)
}

func TestAccessValidate_RevokedToken(t *testing.T) {
	f := newAccessFixture(t)
	_, token := f.seedMenu(t, nil, standardPayload())
	revoked := time.Now()
	token.RevokedAt = &revoked

	_, err := f.svc.Validate(context.Background(), &dto.AccessRequest{URLToken: token.Token}, "203.0.113.4")
	assert.ErrorIs(t, err, domain.ErrMenuGone)
}

func TestAccessValidate_ExpiredBeforeSweep(t *testing.T) {
	f := newAccessFixture(t)
	_, token := f.seedMenu(t, func(m *domain.Menu) {
		past := time.Now().Add(-time.Hour)
		m.ScheduledDeactivationAt = &past
	}, standardPayload())

	// the menu is still marked active; the lazy time check answers gone anyway
	_, err := f.svc.Validate(context.Background(), &dto.AccessRequest{URLToken: token.Token}, "203.0.113.4")
	assert.ErrorIs(t, err, domain.ErrMenuGone)
	assert.Equal(t, int64(0), f.repo.menus["menu-1"].ViewCount)
}

func TestAccessValidate_AccessCode(t *testing.T) {
	f := newAccessFixture(t)
	hash, salt, err := crypto.HashAccessCode("sesame42")
	require.NoError(t, err)
	_, token := f.seedMenu(t, func(m *domain.Menu) {
		m.AccessCodeHash = hash
		m.AccessCodeSalt = salt
	}, standardPayload())

	tests := []struct {
		name    string
		code    string
		wantErr error
	}{
		{"missing code", "", domain.ErrAccessCodeRequired},
		{"wrong code", "sesame43", domain.ErrAccessCodeRequired},
		{"correct code", "sesame42", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Validate(context.Background(), &dto.AccessRequest{
				URLToken:   token.Token,
				AccessCode: tt.code,
			}, "203.0.113.4")
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}

	// both failed attempts were recorded for brute-force tracking
	assert.Equal(t, 2, f.monitor.badCodes)
}

func TestAccessValidate_Whitelist(t *testing.T) {
	f := newAccessFixture(t)
	wlID := "wl-1"
	_, token := f.seedMenu(t, func(m *domain.Menu) {
		m.Security.WhitelistID = &wlID
	}, standardPayload())
	f.repo.whitelist[wlID] = map[string]bool{"vip-7": true}

	_, err := f.svc.Validate(context.Background(), &dto.AccessRequest{
		URLToken:    token.Token,
		CustomerRef: "stranger",
	}, "203.0.113.4")
	assert.ErrorIs(t, err, domain.ErrNotWhitelisted)

	resp, err := f.svc.Validate(context.Background(), &dto.AccessRequest{
		URLToken:    token.Token,
		CustomerRef: "vip-7",
	}, "203.0.113.4")
	require.NoError(t, err)
	assert.NotNil(t, resp)
}

func TestAccessValidate_LockedOut(t *testing.T) {
	f := newAccessFixture(t)
	_, token := f.seedMenu(t, nil, standardPayload())
	f.monitor.lockedOut = true
	f.monitor.lockoutLeft = 11 * time.Minute

	_, err := f.svc.Validate(context.Background(), &dto.AccessRequest{URLToken: token.Token}, "203.0.113.4")
	assert.ErrorIs(t, err, domain.ErrRateLimited)

	// Retry-After reflects what is actually left of the lockout
	var rle *RateLimitedError
	require.ErrorAs(t, err, &rle)
	assert.Equal(t, 11*time.Minute, rle.RetryAfter)
}

func TestAccessValidate_VelocityBreach(t *testing.T) {
	f := newAccessFixture(t)
	_, token := f.seedMenu(t, func(m *domain.Menu) {
		m.Security.RateLimitPerMinute = 5
	}, standardPayload())
	f.monitor.window = &security.WindowState{Count: 6, RetryAfter: 30 * time.Second}

	_, err := f.svc.Validate(context.Background(), &dto.AccessRequest{URLToken: token.Token}, "203.0.113.4")
	assert.ErrorIs(t, err, domain.ErrRateLimited)

	var rle *RateLimitedError
	require.ErrorAs(t, err, &rle)
	assert.Equal(t, 30*time.Second, rle.RetryAfter)

	types := f.monitor.ingestedTypes()
	require.Len(t, types, 1)
	assert.Equal(t, domain.SecurityVelocityBreach, types[0])
	// nothing was counted and nothing was published
	assert.Equal(t, int64(0), f.repo.menus["menu-1"].ViewCount)
	assert.Empty(t, f.bus.published())
}

func TestAccessValidate_WindowErrorFailsOpen(t *testing.T) {
	f := newAccessFixture(t)
	_, token := f.seedMenu(t, nil, standardPayload())
	f.monitor.hitErr = errors.New("redis down")

	resp, err := f.svc.Validate(context.Background(), &dto.AccessRequest{URLToken: token.Token}, "203.0.113.4")
	require.NoError(t, err)
	assert.NotNil(t, resp)
}

func TestAccessValidate_DecryptionFailure(t *testing.T) {
	f := newAccessFixture(t)
	_, token := f.seedMenu(t, nil, standardPayload())
	// corrupt the stored ciphertext
	f.repo.menus["menu-1"].PayloadCiphertext[0] ^= 0xFF

	_, err := f.svc.Validate(context.Background(), &dto.AccessRequest{URLToken: token.Token}, "203.0.113.4")
	assert.ErrorIs(t, err, domain.ErrUnavailable)

	events := f.monitor.ingested
	require.Len(t, events, 1)
	assert.Equal(t, domain.SecurityDecryptionFailure, events[0].Type)
	assert.Equal(t, domain.SeverityCritical, events[0].Severity)
}

func TestAccessValidate_ForumRedirect(t *testing.T) {
	f := newAccessFixture(t)
	_, token := f.seedMenu(t, func(m *domain.Menu) {
		m.Security.MenuType = domain.MenuTypeForum
	}, domain.MenuPayload{RedirectURL: "https://forum.example.com/t/drop"})

	resp, err := f.svc.Validate(context.Background(), &dto.AccessRequest{URLToken: token.Token}, "203.0.113.4")
	require.NoError(t, err)
	assert.Equal(t, "https://forum.example.com/t/drop", resp.RedirectURL)
	assert.Empty(t, resp.Products)
}

func TestRecordOrder(t *testing.T) {
	f := newAccessFixture(t)
	menu, _ := f.seedMenu(t, nil, standardPayload())

	err := f.svc.RecordOrder(context.Background(), menu.TenantID, menu.ID, &dto.RecordOrderRequest{
		AmountCents: 3700,
		ProductID:   "p2",
	})
	require.NoError(t, err)

	assert.Equal(t, int64(1), f.repo.menus[menu.ID].OrderCount)
	assert.Equal(t, int64(3700), f.repo.menus[menu.ID].TotalRevenueCents)

	events := f.bus.published()
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventOrderRecorded, events[0].Type)
	assert.Equal(t, domain.TopicOrders, events[0].Topic)
}

func TestRecordOrder_NotFound(t *testing.T) {
	f := newAccessFixture(t)

	err := f.svc.RecordOrder(context.Background(), "tenant-1", "missing", &dto.RecordOrderRequest{AmountCents: 100})
	assert.ErrorIs(t, err, domain.ErrMenuNotFound)
}

func TestReportScreenshot(t *testing.T) {
	f := newAccessFixture(t)
	menu, token := f.seedMenu(t, nil, standardPayload())

	f.svc.ReportScreenshot(context.Background(), &dto.ScreenshotReportRequest{
		URLToken: token.Token,
		Detail:   "visibilitychange",
	}, "203.0.113.4")

	events := f.monitor.ingested
	require.Len(t, events, 1)
	assert.Equal(t, domain.SecurityScreenshotDetected, events[0].Type)
	assert.Equal(t, menu.ID, events[0].MenuID)

	// unknown tokens are dropped without a trace
	f.svc.ReportScreenshot(context.Background(), &dto.ScreenshotReportRequest{
		URLToken: "tok_missing",
	}, "203.0.113.4")
	assert.Len(t, f.monitor.ingested, 1)
}

func TestRecordOrder_ArchivedMenu(t *testing.T) {
	f := newAccessFixture(t)
	menu, _ := f.seedMenu(t, func(m *domain.Menu) {
		m.State = domain.StateArchived
	}, standardPayload())

	err := f.svc.RecordOrder(context.Background(), menu.TenantID, menu.ID, &dto.RecordOrderRequest{AmountCents: 100})
	assert.ErrorIs(t, err, domain.ErrMenuGone)
	assert.Equal(t, int64(0), f.repo.menus[menu.ID].OrderCount)
}
