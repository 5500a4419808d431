package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/buttermb/menulink/internal/crypto"
	"github.com/buttermb/menulink/internal/domain"
	"github.com/buttermb/menulink/internal/dto"
	"github.com/buttermb/menulink/internal/repository"
	"github.com/buttermb/menulink/pkg/logger"
)

// LifecycleServiceConfig holds lifecycle settings
type LifecycleServiceConfig struct {
	// ExpiringLookahead is the window for the "expiring soon" view
	ExpiringLookahead time.Duration
	// TopProductsLimit caps the best-seller list in a snapshot
	TopProductsLimit int
}

// DefaultLifecycleServiceConfig returns default lifecycle settings
func DefaultLifecycleServiceConfig() *LifecycleServiceConfig {
	return &LifecycleServiceConfig{
		ExpiringLookahead: 48 * time.Hour,
		TopProductsLimit:  5,
	}
}

// LifecycleService drives menus through their lifecycle and owns the
// archival record
type LifecycleService interface {
	// Create writes a new menu at the creation-wizard boundary and
	// mints its first token
	Create(ctx context.Context, tenantID string, req *dto.CreateMenuRequest) (*dto.MenuResponse, error)
	// Get reads one menu on the admin surface
	Get(ctx context.Context, tenantID, menuID string) (*dto.MenuResponse, error)
	// GetShareLink reads the current token for the sharing flow
	GetShareLink(ctx context.Context, tenantID, menuID string) (*dto.ShareLinkResponse, error)
	// Archive performs active->archived with the given reason and
	// freezes the analytics snapshot
	Archive(ctx context.Context, menuID string, reason domain.ArchiveReason, now time.Time) error
	// Reactivate performs archived->active with a fresh token
	Reactivate(ctx context.Context, tenantID, menuID string, req *dto.ReactivateRequest) (*dto.ReactivateResponse, error)
	// Burn terminates an active menu immediately, outside the schedule
	Burn(ctx context.Context, tenantID, menuID string) error
	// ExpiringSoon computes the derived expiring view for a tenant
	ExpiringSoon(ctx context.Context, tenantID string, now time.Time) ([]*dto.MenuResponse, error)
	// Snapshots returns a menu's archival history, newest first
	Snapshots(ctx context.Context, tenantID, menuID string) ([]*dto.SnapshotResponse, error)
}

type lifecycleService struct {
	config   *LifecycleServiceConfig
	menus    repository.MenuRepository
	vault    *crypto.Vault
	notifier Publisher
	nowFunc  func() time.Time
}

// NewLifecycleService creates a new LifecycleService
func NewLifecycleService(cfg *LifecycleServiceConfig, menus repository.MenuRepository, vault *crypto.Vault, notifier Publisher) LifecycleService {
	if cfg == nil {
		cfg = DefaultLifecycleServiceConfig()
	}
	return &lifecycleService{
		config:   cfg,
		menus:    menus,
		vault:    vault,
		notifier: notifier,
		nowFunc:  time.Now,
	}
}

// Create writes a new menu and its first token. The supplied access
// code is hashed and discarded; no response ever carries it back.
func (s *lifecycleService) Create(ctx context.Context, tenantID string, req *dto.CreateMenuRequest) (*dto.MenuResponse, error) {
	now := s.nowFunc().UTC()

	menuType := req.MenuType
	if menuType == "" {
		menuType = domain.MenuTypeStandard
	}

	payload := domain.MenuPayload{Products: req.Products}
	if menuType == domain.MenuTypeForum {
		payload = domain.MenuPayload{RedirectURL: req.RedirectURL}
	}
	ciphertext, nonce, err := s.vault.Seal(tenantID, payload)
	if err != nil {
		return nil, err
	}

	menu := &domain.Menu{
		ID:       uuid.New().String(),
		TenantID: tenantID,
		Name:     req.Name,
		State:    domain.StateDraft,
		Security: domain.SecuritySettings{
			MenuType:             menuType,
			RateLimitPerMinute:   req.RateLimitPerMinute,
			ScreenshotProtection: req.ScreenshotProtection,
			WhitelistID:          req.WhitelistID,
		},
		PayloadCiphertext:       ciphertext,
		PayloadNonce:            nonce,
		ScheduledActivationAt:   req.ScheduledActivationAt,
		ScheduledDeactivationAt: req.ScheduledDeactivationAt,
		CreatedAt:               now,
		UpdatedAt:               now,
	}
	if req.ActivateImmediately {
		menu.State = domain.StateActive
	}

	if req.AccessCode != "" {
		hash, salt, err := crypto.HashAccessCode(req.AccessCode)
		if err != nil {
			return nil, err
		}
		menu.AccessCodeHash = hash
		menu.AccessCodeSalt = salt
	}

	urlToken, err := crypto.NewURLToken()
	if err != nil {
		return nil, err
	}
	token := &domain.AccessToken{
		Token:     urlToken,
		MenuID:    menu.ID,
		TenantID:  tenantID,
		CreatedAt: now,
	}

	if err := s.menus.Create(ctx, menu, token); err != nil {
		return nil, err
	}

	return toMenuResponse(menu, false), nil
}

// Get reads one menu on the admin surface
func (s *lifecycleService) Get(ctx context.Context, tenantID, menuID string) (*dto.MenuResponse, error) {
	menu, err := s.menus.GetByID(ctx, tenantID, menuID)
	if err != nil {
		return nil, err
	}
	if menu == nil {
		return nil, domain.ErrMenuNotFound
	}
	return toMenuResponse(menu, false), nil
}

// GetShareLink reads the current token for the sharing flow
func (s *lifecycleService) GetShareLink(ctx context.Context, tenantID, menuID string) (*dto.ShareLinkResponse, error) {
	menu, err := s.menus.GetByID(ctx, tenantID, menuID)
	if err != nil {
		return nil, err
	}
	if menu == nil {
		return nil, domain.ErrMenuNotFound
	}

	token, err := s.menus.CurrentToken(ctx, menuID)
	if err != nil {
		return nil, err
	}
	if token == nil {
		return nil, domain.ErrMenuGone
	}

	resp := &dto.ShareLinkResponse{
		MenuID:        menu.ID,
		URLToken:      token.Token,
		HasAccessCode: menu.HasAccessCode(),
	}
	if menu.ScheduledDeactivationAt != nil {
		resp.ExpiresAt = menu.ScheduledDeactivationAt.UTC().Format(time.RFC3339)
	}
	return resp, nil
}

// Archive freezes the snapshot and flips active->archived. Safe to
// re-run: a menu already swept reads as a conflict, not a failure.
func (s *lifecycleService) Archive(ctx context.Context, menuID string, reason domain.ArchiveReason, now time.Time) error {
	menu, err := s.menus.GetByID(ctx, "", menuID)
	if err != nil {
		return err
	}
	if menu == nil {
		return domain.ErrMenuNotFound
	}

	snapshot := s.buildSnapshot(ctx, menuID, menu, now)

	applied, err := s.menus.Archive(ctx, menuID, reason, snapshot, now)
	if err != nil {
		return err
	}
	if !applied {
		return domain.ErrSchedulerConflict
	}

	eventType := domain.EventMenuArchived
	if reason == domain.ArchiveReasonBurned {
		eventType = domain.EventMenuBurned
	}
	s.notifier.Publish(&domain.Event{
		Type:     eventType,
		Topic:    domain.TopicAccess,
		MenuID:   menuID,
		TenantID: snapshot.TenantID,
		Payload:  map[string]any{"reason": string(reason)},
	})
	return nil
}

// buildSnapshot prepares the snapshot shell. The counters and
// conversion rate are deliberately left zero here: the repository
// fills them from the same statement that flips the state, so views
// that land between this read and the transition still count.
func (s *lifecycleService) buildSnapshot(ctx context.Context, menuID string, menu *domain.Menu, now time.Time) *domain.AnalyticsSnapshot {
	snapshot := &domain.AnalyticsSnapshot{
		ID:         uuid.New().String(),
		MenuID:     menuID,
		TenantID:   menu.TenantID,
		CapturedAt: now.UTC(),
	}

	top, err := s.menus.TopProducts(ctx, menuID, s.config.TopProductsLimit)
	if err != nil {
		// best sellers are decoration on the snapshot; log and continue
		logger.WarnCtx(ctx, "top products query failed", zap.String("menu_id", menuID), zap.Error(err))
	}
	snapshot.TopProducts = top
	return snapshot
}

// Reactivate opens a new active window with a fresh token. The retired
// token stays revoked and prior snapshots stay frozen.
func (s *lifecycleService) Reactivate(ctx context.Context, tenantID, menuID string, req *dto.ReactivateRequest) (*dto.ReactivateResponse, error) {
	menu, err := s.menus.GetByID(ctx, tenantID, menuID)
	if err != nil {
		return nil, err
	}
	if menu == nil {
		return nil, domain.ErrMenuNotFound
	}
	if !menu.State.CanTransitionTo(domain.StateActive) {
		return nil, domain.ErrInvalidTransition
	}

	urlToken, err := crypto.NewURLToken()
	if err != nil {
		return nil, err
	}
	token := &domain.AccessToken{
		Token:     urlToken,
		MenuID:    menuID,
		TenantID:  tenantID,
		CreatedAt: s.nowFunc().UTC(),
	}

	applied, err := s.menus.Reactivate(ctx, menuID, token, req.ScheduledDeactivationAt)
	if err != nil {
		return nil, err
	}
	if !applied {
		return nil, domain.ErrSchedulerConflict
	}

	s.notifier.Publish(&domain.Event{
		Type:     domain.EventMenuReactivated,
		Topic:    domain.TopicAccess,
		MenuID:   menuID,
		TenantID: tenantID,
	})

	return &dto.ReactivateResponse{
		MenuID:                  menuID,
		URLToken:                token.Token,
		ScheduledDeactivationAt: req.ScheduledDeactivationAt,
	}, nil
}

// Burn terminates an active menu immediately, bypassing the schedule.
// Used for compromised links and forum-type menus.
func (s *lifecycleService) Burn(ctx context.Context, tenantID, menuID string) error {
	menu, err := s.menus.GetByID(ctx, tenantID, menuID)
	if err != nil {
		return err
	}
	if menu == nil {
		return domain.ErrMenuNotFound
	}
	if !menu.State.CanTransitionTo(domain.StateBurned) {
		return domain.ErrInvalidTransition
	}
	return s.Archive(ctx, menuID, domain.ArchiveReasonBurned, s.nowFunc())
}

// ExpiringSoon computes the derived expiring view. Menus on the list
// are still fully active for access purposes.
func (s *lifecycleService) ExpiringSoon(ctx context.Context, tenantID string, now time.Time) ([]*dto.MenuResponse, error) {
	menus, err := s.menus.ListExpiringSoon(ctx, tenantID, now, s.config.ExpiringLookahead)
	if err != nil {
		return nil, err
	}
	out := make([]*dto.MenuResponse, 0, len(menus))
	for _, m := range menus {
		out = append(out, toMenuResponse(m, true))
	}
	return out, nil
}

// Snapshots returns a menu's archival history, newest first
func (s *lifecycleService) Snapshots(ctx context.Context, tenantID, menuID string) ([]*dto.SnapshotResponse, error) {
	menu, err := s.menus.GetByID(ctx, tenantID, menuID)
	if err != nil {
		return nil, err
	}
	if menu == nil {
		return nil, domain.ErrMenuNotFound
	}

	snapshots, err := s.menus.ListSnapshots(ctx, tenantID, menuID)
	if err != nil {
		return nil, err
	}

	out := make([]*dto.SnapshotResponse, 0, len(snapshots))
	for _, snap := range snapshots {
		out = append(out, &dto.SnapshotResponse{
			ID:                snap.ID,
			MenuID:            snap.MenuID,
			TotalViews:        snap.TotalViews,
			TotalOrders:       snap.TotalOrders,
			TotalRevenueCents: snap.TotalRevenueCents,
			ConversionRate:    snap.ConversionRate,
			TopProducts:       snap.TopProducts,
			CapturedAt:        snap.CapturedAt.UTC().Format(time.RFC3339),
		})
	}
	return out, nil
}

func toMenuResponse(menu *domain.Menu, expiringSoon bool) *dto.MenuResponse {
	resp := &dto.MenuResponse{
		ID:                      menu.ID,
		TenantID:                menu.TenantID,
		Name:                    menu.Name,
		State:                   menu.State,
		MenuType:                menu.Security.MenuType,
		HasAccessCode:           menu.HasAccessCode(),
		RateLimitPerMinute:      menu.Security.RateLimitPerMinute,
		ScreenshotProtection:    menu.Security.ScreenshotProtection,
		ViewCount:               menu.ViewCount,
		OrderCount:              menu.OrderCount,
		TotalRevenueCents:       menu.TotalRevenueCents,
		ScheduledActivationAt:   menu.ScheduledActivationAt,
		ScheduledDeactivationAt: menu.ScheduledDeactivationAt,
		ArchivedAt:              menu.ArchivedAt,
		ExpiringSoon:            expiringSoon,
		CreatedAt:               menu.CreatedAt.UTC().Format(time.RFC3339),
	}
	if menu.ArchivedReason != nil {
		resp.ArchivedReason = string(*menu.ArchivedReason)
	}
	return resp
}
