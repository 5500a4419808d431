package dto

import (
	"github.com/buttermb/menulink/internal/domain"
)

// AccessRequest represents a customer access attempt against a shared link
type AccessRequest struct {
	URLToken    string `json:"url_token" binding:"required,min=16,max=128"`
	AccessCode  string `json:"access_code" binding:"omitempty,max=64"`
	CustomerRef string `json:"customer_ref" binding:"omitempty,max=255"`
	BypassCache bool   `json:"bypass_cache" binding:"omitempty"`
}

// MenuInfo is the non-sensitive menu metadata returned on successful access
type MenuInfo struct {
	ID                   string          `json:"id"`
	Name                 string          `json:"name"`
	MenuType             domain.MenuType `json:"menu_type"`
	ScreenshotProtection bool            `json:"screenshot_protection"`
	ExpiresAt            string          `json:"expires_at,omitempty"`
}

// AccessResponse represents a successful access result. Exactly one of
// Products or RedirectURL is set depending on the menu type.
type AccessResponse struct {
	Menu        MenuInfo         `json:"menu"`
	Products    []domain.Product `json:"products,omitempty"`
	RedirectURL string           `json:"redirect_url,omitempty"`
}

// ErrorResponse represents an access error
type ErrorResponse struct {
	Error      string `json:"error"`
	Code       string `json:"code"`
	Message    string `json:"message,omitempty"`
	RetryAfter int    `json:"retry_after,omitempty"`
}
