package dto

import (
	"time"

	"github.com/buttermb/menulink/internal/domain"
)

// CreateMenuRequest represents the creation-wizard write at the
// collaborator boundary. The access code, when supplied, is hashed
// immediately and never echoed back in any response.
type CreateMenuRequest struct {
	Name                    string           `json:"name" binding:"required,min=2,max=255"`
	MenuType                domain.MenuType  `json:"menu_type" binding:"omitempty,oneof=standard forum"`
	AccessCode              string           `json:"access_code" binding:"omitempty,min=4,max=64"`
	RateLimitPerMinute      int              `json:"rate_limit_per_minute" binding:"omitempty,min=1,max=10000"`
	ScreenshotProtection    bool             `json:"screenshot_protection"`
	WhitelistID             *string          `json:"whitelist_id" binding:"omitempty,uuid"`
	Products                []domain.Product `json:"products" binding:"omitempty"`
	RedirectURL             string           `json:"redirect_url" binding:"omitempty,url"`
	ScheduledActivationAt   *time.Time       `json:"scheduled_activation_at" binding:"omitempty"`
	ScheduledDeactivationAt *time.Time       `json:"scheduled_deactivation_at" binding:"required"`
	ActivateImmediately     bool             `json:"activate_immediately"`
}

// Validate checks payload consistency against the menu type
func (r *CreateMenuRequest) Validate() (bool, string) {
	if r.MenuType == domain.MenuTypeForum {
		if r.RedirectURL == "" {
			return false, "Forum-type menus require a redirect_url"
		}
		if len(r.Products) > 0 {
			return false, "Forum-type menus cannot carry products"
		}
		return true, ""
	}
	if len(r.Products) == 0 {
		return false, "Standard menus require at least one product"
	}
	return true, ""
}

// MenuResponse represents menu data on the admin surface. Token and
// access code are deliberately absent; the sharing flow fetches the
// token through GetShareLink.
type MenuResponse struct {
	ID                      string           `json:"id"`
	TenantID                string           `json:"tenant_id"`
	Name                    string           `json:"name"`
	State                   domain.MenuState `json:"state"`
	MenuType                domain.MenuType  `json:"menu_type"`
	HasAccessCode           bool             `json:"has_access_code"`
	RateLimitPerMinute      int              `json:"rate_limit_per_minute"`
	ScreenshotProtection    bool             `json:"screenshot_protection"`
	ViewCount               int64            `json:"view_count"`
	OrderCount              int64            `json:"order_count"`
	TotalRevenueCents       int64            `json:"total_revenue_cents"`
	ScheduledActivationAt   *time.Time       `json:"scheduled_activation_at,omitempty"`
	ScheduledDeactivationAt *time.Time       `json:"scheduled_deactivation_at,omitempty"`
	ArchivedAt              *time.Time       `json:"archived_at,omitempty"`
	ArchivedReason          string           `json:"archived_reason,omitempty"`
	ExpiringSoon            bool             `json:"expiring_soon,omitempty"`
	CreatedAt               string           `json:"created_at"`
}

// ShareLinkResponse is consumed by the menu-sharing flow. It carries
// the current token but never the access code itself.
type ShareLinkResponse struct {
	MenuID        string `json:"menu_id"`
	URLToken      string `json:"url_token"`
	HasAccessCode bool   `json:"has_access_code"`
	ExpiresAt     string `json:"expires_at,omitempty"`
}

// ReactivateRequest opens a new active window for an archived menu
type ReactivateRequest struct {
	ScheduledDeactivationAt time.Time `json:"scheduled_deactivation_at" binding:"required"`
}

// ReactivateResponse carries the freshly minted token back to the
// owning admin session only.
type ReactivateResponse struct {
	MenuID                  string    `json:"menu_id"`
	URLToken                string    `json:"url_token"`
	ScheduledDeactivationAt time.Time `json:"scheduled_deactivation_at"`
}

// RecordOrderRequest records one order against an active menu
type RecordOrderRequest struct {
	AmountCents int64  `json:"amount_cents" binding:"required,min=1"`
	ProductID   string `json:"product_id" binding:"omitempty,uuid"`
}

// ScreenshotReportRequest is posted by the viewer page when its
// screenshot-protection hooks fire
type ScreenshotReportRequest struct {
	URLToken string `json:"url_token" binding:"required"`
	Detail   string `json:"detail" binding:"omitempty,max=1024"`
}

// SnapshotResponse represents one frozen analytics period
type SnapshotResponse struct {
	ID                string              `json:"id"`
	MenuID            string              `json:"menu_id"`
	TotalViews        int64               `json:"total_views"`
	TotalOrders       int64               `json:"total_orders"`
	TotalRevenueCents int64               `json:"total_revenue_cents"`
	ConversionRate    float64             `json:"conversion_rate"`
	TopProducts       []domain.TopProduct `json:"top_products"`
	CapturedAt        string              `json:"captured_at"`
}

// ListSecurityEventsQuery represents query parameters for the security log
type ListSecurityEventsQuery struct {
	MenuID   string `form:"menu_id" binding:"omitempty,uuid"`
	Severity string `form:"severity" binding:"omitempty,oneof=low medium high critical"`
	Page     int    `form:"page" binding:"omitempty,min=1"`
	Limit    int    `form:"limit" binding:"omitempty,min=1,max=100"`
}

// SetDefaults sets default values for query parameters
func (q *ListSecurityEventsQuery) SetDefaults() {
	if q.Page == 0 {
		q.Page = 1
	}
	if q.Limit == 0 {
		q.Limit = 50
	}
}
