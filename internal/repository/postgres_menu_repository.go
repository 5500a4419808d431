package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/buttermb/menulink/internal/domain"
)

// menuColumns defines the columns to select for menus
const menuColumns = `id, tenant_id, name, menu_type, state,
	COALESCE(access_code_hash, '') as access_code_hash, access_code_salt,
	rate_limit_per_minute, lockout_threshold, screenshot_protection, whitelist_id,
	payload_ciphertext, payload_nonce,
	scheduled_activation_at, scheduled_deactivation_at,
	COALESCE(view_count, 0) as view_count,
	COALESCE(order_count, 0) as order_count,
	COALESCE(total_revenue_cents, 0) as total_revenue_cents,
	archived_at, archived_reason, created_at, updated_at`

// PostgresMenuRepository implements MenuRepository using PostgreSQL
type PostgresMenuRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresMenuRepository creates a new PostgresMenuRepository
func NewPostgresMenuRepository(pool *pgxpool.Pool) *PostgresMenuRepository {
	return &PostgresMenuRepository{pool: pool}
}

// scanMenu scans a row into a Menu struct
func (r *PostgresMenuRepository) scanMenu(row pgx.Row) (*domain.Menu, error) {
	menu := &domain.Menu{}
	var archivedReason *string
	err := row.Scan(
		&menu.ID,
		&menu.TenantID,
		&menu.Name,
		&menu.Security.MenuType,
		&menu.State,
		&menu.AccessCodeHash,
		&menu.AccessCodeSalt,
		&menu.Security.RateLimitPerMinute,
		&menu.Security.LockoutThreshold,
		&menu.Security.ScreenshotProtection,
		&menu.Security.WhitelistID,
		&menu.PayloadCiphertext,
		&menu.PayloadNonce,
		&menu.ScheduledActivationAt,
		&menu.ScheduledDeactivationAt,
		&menu.ViewCount,
		&menu.OrderCount,
		&menu.TotalRevenueCents,
		&menu.ArchivedAt,
		&archivedReason,
		&menu.CreatedAt,
		&menu.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if archivedReason != nil {
		reason := domain.ArchiveReason(*archivedReason)
		menu.ArchivedReason = &reason
	}
	return menu, nil
}

// Create creates a new menu together with its initial access token
func (r *PostgresMenuRepository) Create(ctx context.Context, menu *domain.Menu, token *domain.AccessToken) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO menus (id, tenant_id, name, menu_type, state,
			access_code_hash, access_code_salt,
			rate_limit_per_minute, lockout_threshold, screenshot_protection, whitelist_id,
			payload_ciphertext, payload_nonce,
			scheduled_activation_at, scheduled_deactivation_at,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`
	_, err = tx.Exec(ctx, query,
		menu.ID,
		menu.TenantID,
		menu.Name,
		menu.Security.MenuType,
		menu.State,
		menu.AccessCodeHash,
		menu.AccessCodeSalt,
		menu.Security.RateLimitPerMinute,
		menu.Security.LockoutThreshold,
		menu.Security.ScreenshotProtection,
		menu.Security.WhitelistID,
		menu.PayloadCiphertext,
		menu.PayloadNonce,
		menu.ScheduledActivationAt,
		menu.ScheduledDeactivationAt,
		menu.CreatedAt,
		menu.UpdatedAt,
	)
	if err != nil {
		return err
	}

	if err := insertToken(ctx, tx, token); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func insertToken(ctx context.Context, tx pgx.Tx, token *domain.AccessToken) error {
	query := `
		INSERT INTO menu_access_tokens (token, menu_id, tenant_id, created_at)
		VALUES ($1, $2, $3, $4)
	`
	_, err := tx.Exec(ctx, query, token.Token, token.MenuID, token.TenantID, token.CreatedAt)
	return err
}

// GetByID retrieves a menu by ID scoped to a tenant. An empty tenantID
// skips the tenant filter; only the lifecycle sweeper uses that path.
func (r *PostgresMenuRepository) GetByID(ctx context.Context, tenantID, id string) (*domain.Menu, error) {
	if tenantID == "" {
		query := `SELECT ` + menuColumns + ` FROM menus WHERE id = $1`
		return r.scanMenu(r.pool.QueryRow(ctx, query, id))
	}
	query := `SELECT ` + menuColumns + ` FROM menus WHERE id = $1 AND tenant_id = $2`
	return r.scanMenu(r.pool.QueryRow(ctx, query, id, tenantID))
}

// GetByToken resolves a url token to its menu and token row
func (r *PostgresMenuRepository) GetByToken(ctx context.Context, token string) (*domain.Menu, *domain.AccessToken, error) {
	tokQuery := `SELECT token, menu_id, tenant_id, created_at, revoked_at
		FROM menu_access_tokens WHERE token = $1`
	tok := &domain.AccessToken{}
	err := r.pool.QueryRow(ctx, tokQuery, token).Scan(
		&tok.Token, &tok.MenuID, &tok.TenantID, &tok.CreatedAt, &tok.RevokedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, nil
		}
		return nil, nil, err
	}

	query := `SELECT ` + menuColumns + ` FROM menus WHERE id = $1`
	menu, err := r.scanMenu(r.pool.QueryRow(ctx, query, tok.MenuID))
	if err != nil {
		return nil, nil, err
	}
	if menu == nil {
		// token row without a menu means a partially deleted tenant;
		// treat as unknown token
		return nil, nil, nil
	}
	return menu, tok, nil
}

// CurrentToken returns the menu's unrevoked token, nil when none exists
func (r *PostgresMenuRepository) CurrentToken(ctx context.Context, menuID string) (*domain.AccessToken, error) {
	query := `SELECT token, menu_id, tenant_id, created_at, revoked_at
		FROM menu_access_tokens WHERE menu_id = $1 AND revoked_at IS NULL`
	tok := &domain.AccessToken{}
	err := r.pool.QueryRow(ctx, query, menuID).Scan(
		&tok.Token, &tok.MenuID, &tok.TenantID, &tok.CreatedAt, &tok.RevokedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return tok, nil
}

// IncrementViewCount atomically bumps view_count while the menu is active.
// A single UPDATE statement so that concurrent first accesses never lose
// an increment and a cancelled request never leaves a half-applied one.
func (r *PostgresMenuRepository) IncrementViewCount(ctx context.Context, menuID string) (int64, bool, error) {
	query := `
		UPDATE menus
		SET view_count = view_count + 1, updated_at = NOW()
		WHERE id = $1 AND state = 'active'
		RETURNING view_count
	`
	var count int64
	err := r.pool.QueryRow(ctx, query, menuID).Scan(&count)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return count, true, nil
}

// RecordOrder atomically bumps order_count and total_revenue_cents
// while the menu is active. The counter update is a single statement;
// the order line insert only happens when the counter update applied.
func (r *PostgresMenuRepository) RecordOrder(ctx context.Context, menuID string, amountCents int64, productID, productName string) (bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	query := `
		UPDATE menus
		SET order_count = order_count + 1,
			total_revenue_cents = total_revenue_cents + $2,
			updated_at = NOW()
		WHERE id = $1 AND state = 'active'
	`
	result, err := tx.Exec(ctx, query, menuID, amountCents)
	if err != nil {
		return false, err
	}
	if result.RowsAffected() == 0 {
		return false, nil
	}

	line := `INSERT INTO menu_orders (menu_id, product_id, product_name, amount_cents, created_at)
		VALUES ($1, NULLIF($2, ''), $3, $4, NOW())`
	if _, err := tx.Exec(ctx, line, menuID, productID, productName, amountCents); err != nil {
		return false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// ListDueForArchival returns active menus whose deactivation time has elapsed
func (r *PostgresMenuRepository) ListDueForArchival(ctx context.Context, now time.Time, limit int) ([]*domain.Menu, error) {
	query := `SELECT ` + menuColumns + ` FROM menus
		WHERE state = 'active' AND scheduled_deactivation_at IS NOT NULL
			AND scheduled_deactivation_at <= $1
		ORDER BY scheduled_deactivation_at ASC
		LIMIT $2`
	return r.queryMenus(ctx, query, now, limit)
}

// ListExpiringSoon returns active menus whose deactivation time falls
// inside the lookahead window
func (r *PostgresMenuRepository) ListExpiringSoon(ctx context.Context, tenantID string, now time.Time, lookahead time.Duration) ([]*domain.Menu, error) {
	query := `SELECT ` + menuColumns + ` FROM menus
		WHERE tenant_id = $1 AND state = 'active' AND scheduled_deactivation_at IS NOT NULL
			AND scheduled_deactivation_at > $2
			AND scheduled_deactivation_at <= $3
		ORDER BY scheduled_deactivation_at ASC`
	return r.queryMenus(ctx, query, tenantID, now, now.Add(lookahead))
}

func (r *PostgresMenuRepository) queryMenus(ctx context.Context, query string, args ...any) ([]*domain.Menu, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var menus []*domain.Menu
	for rows.Next() {
		menu, err := r.scanMenu(rows)
		if err != nil {
			return nil, err
		}
		menus = append(menus, menu)
	}
	return menus, rows.Err()
}

// Archive performs the active->archived transition in one transaction:
// conditional state flip, token revocation and snapshot insert. The
// state check in the WHERE clause is what makes duplicate sweeps
// no-ops. The snapshot's counters come from the RETURNING clause of
// the flip itself, so views and orders that commit right up to the
// transition instant are in the frozen numbers.
func (r *PostgresMenuRepository) Archive(ctx context.Context, menuID string, reason domain.ArchiveReason, snapshot *domain.AnalyticsSnapshot, at time.Time) (bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	newState := domain.StateArchived
	if reason == domain.ArchiveReasonBurned {
		newState = domain.StateBurned
	}

	query := `
		UPDATE menus
		SET state = $2, archived_at = $3, archived_reason = $4, updated_at = $3
		WHERE id = $1 AND state = 'active'
		RETURNING view_count, order_count, total_revenue_cents
	`
	err = tx.QueryRow(ctx, query, menuID, newState, at, reason).
		Scan(&snapshot.TotalViews, &snapshot.TotalOrders, &snapshot.TotalRevenueCents)
	if errors.Is(err, pgx.ErrNoRows) {
		// Already swept by another run; nothing to do.
		return false, nil
	}
	if err != nil {
		return false, err
	}
	snapshot.ConversionRate = 0
	if snapshot.TotalViews > 0 {
		snapshot.ConversionRate = float64(snapshot.TotalOrders) / float64(snapshot.TotalViews)
	}

	revoke := `UPDATE menu_access_tokens SET revoked_at = $2 WHERE menu_id = $1 AND revoked_at IS NULL`
	if _, err := tx.Exec(ctx, revoke, menuID, at); err != nil {
		return false, err
	}

	if err := insertSnapshot(ctx, tx, snapshot); err != nil {
		return false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return true, nil
}

func insertSnapshot(ctx context.Context, tx pgx.Tx, s *domain.AnalyticsSnapshot) error {
	top, err := json.Marshal(s.TopProducts)
	if err != nil {
		return fmt.Errorf("marshal top products: %w", err)
	}
	query := `
		INSERT INTO analytics_snapshots (id, menu_id, tenant_id,
			total_views, total_orders, total_revenue_cents, conversion_rate,
			top_products, captured_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err = tx.Exec(ctx, query,
		s.ID, s.MenuID, s.TenantID,
		s.TotalViews, s.TotalOrders, s.TotalRevenueCents, s.ConversionRate,
		top, s.CapturedAt,
	)
	return err
}

// Reactivate performs archived->active with a fresh token and a new
// deactivation window. Counters reset so the next snapshot covers only
// the new period; archived history is untouched.
func (r *PostgresMenuRepository) Reactivate(ctx context.Context, menuID string, token *domain.AccessToken, deactivateAt time.Time) (bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	query := `
		UPDATE menus
		SET state = 'active', archived_at = NULL, archived_reason = NULL,
			scheduled_deactivation_at = $2,
			view_count = 0, order_count = 0, total_revenue_cents = 0,
			updated_at = NOW()
		WHERE id = $1 AND state = 'archived'
	`
	result, err := tx.Exec(ctx, query, menuID, deactivateAt)
	if err != nil {
		return false, err
	}
	if result.RowsAffected() == 0 {
		return false, nil
	}

	if err := insertToken(ctx, tx, token); err != nil {
		return false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// ListSnapshots returns a menu's archival history, newest first
func (r *PostgresMenuRepository) ListSnapshots(ctx context.Context, tenantID, menuID string) ([]*domain.AnalyticsSnapshot, error) {
	query := `SELECT id, menu_id, tenant_id, total_views, total_orders,
			total_revenue_cents, conversion_rate, top_products, captured_at
		FROM analytics_snapshots
		WHERE menu_id = $1 AND tenant_id = $2
		ORDER BY captured_at DESC`
	rows, err := r.pool.Query(ctx, query, menuID, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snapshots []*domain.AnalyticsSnapshot
	for rows.Next() {
		s := &domain.AnalyticsSnapshot{}
		var top []byte
		err := rows.Scan(
			&s.ID, &s.MenuID, &s.TenantID,
			&s.TotalViews, &s.TotalOrders, &s.TotalRevenueCents, &s.ConversionRate,
			&top, &s.CapturedAt,
		)
		if err != nil {
			return nil, err
		}
		if len(top) > 0 {
			if err := json.Unmarshal(top, &s.TopProducts); err != nil {
				return nil, fmt.Errorf("unmarshal top products: %w", err)
			}
		}
		snapshots = append(snapshots, s)
	}
	return snapshots, rows.Err()
}

// TopProducts computes the current best-seller list for a menu
func (r *PostgresMenuRepository) TopProducts(ctx context.Context, menuID string, limit int) ([]domain.TopProduct, error) {
	query := `SELECT COALESCE(product_id::text, '') as product_id, product_name, COUNT(*) as orders
		FROM menu_orders
		WHERE menu_id = $1
		GROUP BY product_id, product_name
		ORDER BY orders DESC
		LIMIT $2`
	rows, err := r.pool.Query(ctx, query, menuID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var products []domain.TopProduct
	for rows.Next() {
		var p domain.TopProduct
		if err := rows.Scan(&p.ProductID, &p.Name, &p.Orders); err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

// IsWhitelisted checks membership of a customer ref on a whitelist
func (r *PostgresMenuRepository) IsWhitelisted(ctx context.Context, whitelistID, customerRef string) (bool, error) {
	query := `SELECT EXISTS (
		SELECT 1 FROM whitelist_entries WHERE whitelist_id = $1 AND customer_ref = $2
	)`
	var exists bool
	err := r.pool.QueryRow(ctx, query, whitelistID, customerRef).Scan(&exists)
	return exists, err
}
