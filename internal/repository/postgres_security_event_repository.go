package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/buttermb/menulink/internal/domain"
)

// PostgresSecurityEventRepository implements SecurityEventRepository
// using PostgreSQL. The table is append-only; there is no update or
// delete path.
type PostgresSecurityEventRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresSecurityEventRepository creates a new PostgresSecurityEventRepository
func NewPostgresSecurityEventRepository(pool *pgxpool.Pool) *PostgresSecurityEventRepository {
	return &PostgresSecurityEventRepository{pool: pool}
}

// Append appends one event to the security log
func (r *PostgresSecurityEventRepository) Append(ctx context.Context, event *domain.SecurityEvent) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	query := `
		INSERT INTO security_events (id, menu_id, tenant_id, event_type, severity, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err = r.pool.Exec(ctx, query,
		event.ID,
		event.MenuID,
		event.TenantID,
		event.Type,
		event.Severity,
		payload,
		event.CreatedAt,
	)
	return err
}

// List returns events for a tenant, newest first, with optional menu
// and severity filters
func (r *PostgresSecurityEventRepository) List(ctx context.Context, tenantID, menuID, severity string, page, limit int) ([]*domain.SecurityEvent, int, error) {
	where := `WHERE tenant_id = $1
		AND ($2 = '' OR menu_id::text = $2)
		AND ($3 = '' OR severity = $3)`

	countQuery := `SELECT COUNT(*) FROM security_events ` + where
	var total int
	if err := r.pool.QueryRow(ctx, countQuery, tenantID, menuID, severity).Scan(&total); err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * limit
	query := `SELECT id, menu_id, tenant_id, event_type, severity, payload, created_at
		FROM security_events ` + where + `
		ORDER BY created_at DESC
		LIMIT $4 OFFSET $5`
	rows, err := r.pool.Query(ctx, query, tenantID, menuID, severity, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var events []*domain.SecurityEvent
	for rows.Next() {
		e := &domain.SecurityEvent{}
		var payload []byte
		if err := rows.Scan(&e.ID, &e.MenuID, &e.TenantID, &e.Type, &e.Severity, &payload, &e.CreatedAt); err != nil {
			return nil, 0, err
		}
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &e.Payload); err != nil {
				return nil, 0, fmt.Errorf("unmarshal payload: %w", err)
			}
		}
		events = append(events, e)
	}
	return events, total, rows.Err()
}
