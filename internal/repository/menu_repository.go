package repository

import (
	"context"
	"time"

	"github.com/buttermb/menulink/internal/domain"
)

// MenuRepository defines the interface for menu and token data access
type MenuRepository interface {
	// Create creates a new menu together with its initial access token
	Create(ctx context.Context, menu *domain.Menu, token *domain.AccessToken) error
	// GetByID retrieves a menu by ID scoped to a tenant
	GetByID(ctx context.Context, tenantID, id string) (*domain.Menu, error)
	// GetByToken resolves a url token to its menu. The token row is
	// returned alongside so callers can distinguish a revoked token
	// (gone) from an unknown one (not found).
	GetByToken(ctx context.Context, token string) (*domain.Menu, *domain.AccessToken, error)
	// CurrentToken returns the menu's unrevoked token, nil when none exists
	CurrentToken(ctx context.Context, menuID string) (*domain.AccessToken, error)
	// IncrementViewCount atomically bumps view_count while the menu is
	// active. Returns the new count, or false when the menu was no
	// longer active.
	IncrementViewCount(ctx context.Context, menuID string) (int64, bool, error)
	// RecordOrder atomically bumps order_count and total_revenue_cents
	// while the menu is active, and appends the order line that feeds
	// the best-seller computation.
	RecordOrder(ctx context.Context, menuID string, amountCents int64, productID, productName string) (bool, error)
	// ListDueForArchival returns active menus whose deactivation time
	// has elapsed, oldest first, capped at limit.
	ListDueForArchival(ctx context.Context, now time.Time, limit int) ([]*domain.Menu, error)
	// ListExpiringSoon returns active menus whose deactivation time
	// falls inside the lookahead window. Read-only derived view.
	ListExpiringSoon(ctx context.Context, tenantID string, now time.Time, lookahead time.Duration) ([]*domain.Menu, error)
	// Archive performs the active->archived transition, revokes the
	// current token and persists the snapshot in one transaction. The
	// snapshot's counters are overwritten with the values the menu
	// held at the transition instant.
	// Returns false without error when the menu was no longer active.
	Archive(ctx context.Context, menuID string, reason domain.ArchiveReason, snapshot *domain.AnalyticsSnapshot, at time.Time) (bool, error)
	// Reactivate performs archived->active, mints the supplied token
	// and sets a new deactivation window. Prior snapshots are untouched.
	// Returns false without error when the menu was not archived.
	Reactivate(ctx context.Context, menuID string, token *domain.AccessToken, deactivateAt time.Time) (bool, error)
	// ListSnapshots returns a menu's archival history, newest first
	ListSnapshots(ctx context.Context, tenantID, menuID string) ([]*domain.AnalyticsSnapshot, error)
	// TopProducts computes the current best-seller list for a menu
	TopProducts(ctx context.Context, menuID string, limit int) ([]domain.TopProduct, error)
	// IsWhitelisted checks membership of a customer ref on a whitelist
	IsWhitelisted(ctx context.Context, whitelistID, customerRef string) (bool, error)
}

// SecurityEventRepository defines the interface for the append-only security log
type SecurityEventRepository interface {
	// Append appends one event. The log is never mutated.
	Append(ctx context.Context, event *domain.SecurityEvent) error
	// List returns events for a tenant, newest first, with optional
	// menu and severity filters.
	List(ctx context.Context, tenantID, menuID, severity string, page, limit int) ([]*domain.SecurityEvent, int, error)
}
